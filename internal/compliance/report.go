package compliance

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"calmonitor/internal/auth"
	appLog "calmonitor/internal/log"
	"calmonitor/internal/model"
)

// Cell is one (date, member) verdict in a compliance matrix. The zero
// value means no verdict was recorded and renders like a provider error.
type Cell int

const (
	CellCompliant Cell = iota + 1
	CellNeedsAttention
	CellProviderError
)

// String renders the CSV status: Yes for needs attention, No for
// compliant, Error otherwise.
func (c Cell) String() string {
	switch c {
	case CellNeedsAttention:
		return "Yes"
	case CellCompliant:
		return "No"
	default:
		return "Error"
	}
}

// Matrix maps date to member identity to Cell. Members keep roster
// order; dates render in calendar order.
type Matrix struct {
	members []model.TeamMember
	rows    map[model.Date]map[string]Cell
}

// NewMatrix creates an empty matrix with one row per date.
func NewMatrix(members []model.TeamMember, dates []model.Date) *Matrix {
	m := &Matrix{
		members: slices.Clone(members),
		rows:    make(map[model.Date]map[string]Cell, len(dates)),
	}
	for _, d := range dates {
		m.rows[d] = make(map[string]Cell, len(members))
	}
	return m
}

// Set records the cell for (date, calendarID), adding the row if needed.
func (m *Matrix) Set(date model.Date, calendarID string, c Cell) {
	row, ok := m.rows[date]
	if !ok {
		row = make(map[string]Cell, len(m.members))
		m.rows[date] = row
	}
	row[calendarID] = c
}

// Cell returns the recorded cell, if any.
func (m *Matrix) Cell(date model.Date, calendarID string) (Cell, bool) {
	c, ok := m.rows[date][calendarID]
	return c, ok
}

func (m *Matrix) Members() []model.TeamMember { return slices.Clone(m.members) }

// Dates returns the row dates in ascending calendar order.
func (m *Matrix) Dates() []model.Date {
	dates := make([]model.Date, 0, len(m.rows))
	for d := range m.rows {
		dates = append(dates, d)
	}
	slices.SortFunc(dates, func(a, b model.Date) int { return a.Compare(b) })
	return dates
}

// WriteCSV renders the matrix:
//
//	"Date","Name One","Name Two"
//	"10/13/2025",Yes,No
//
// Names and dates are always quoted with embedded quotes doubled; statuses
// are bare.
func (m *Matrix) WriteCSV(w io.Writer) error {
	var b strings.Builder

	b.WriteString(quote("Date"))
	for _, mem := range m.members {
		b.WriteByte(',')
		b.WriteString(quote(mem.Name))
	}
	b.WriteByte('\n')

	for _, d := range m.Dates() {
		b.WriteString(quote(d.String()))
		row := m.rows[d]
		for _, mem := range m.members {
			b.WriteByte(',')
			b.WriteString(row[mem.CalendarID].String())
		}
		b.WriteByte('\n')
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// CSV returns WriteCSV's output as a string.
func (m *Matrix) CSV() string {
	var b strings.Builder
	_ = m.WriteCSV(&b)
	return b.String()
}

// ReportFilename is the download name for a days-long report.
func ReportFilename(days int) string {
	return fmt.Sprintf("calendar_compliance_report_%d_days.csv", days)
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// BuildReport classifies every member on each of the last days working
// days, member by member and date by date, one fetch at a time. A cell is
// NeedsAttention when the day's empty share exceeds the primary threshold.
// If ctx ends mid-run the partially filled matrix is returned with ctx's
// error.
func (c *Checker) BuildReport(ctx context.Context, sess auth.Session, days int) (*Matrix, error) {
	if days < 0 || days > MaxReportDays {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDays, days)
	}
	provider, err := c.connector.Connect(ctx, sess)
	if err != nil {
		return nil, err
	}
	members, err := c.roster.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}

	dates := ReportDates(c.Now(), days)
	matrix := NewMatrix(members, dates)
	threshold := float64(c.settings.Thresholds.Primary)

	appLog.Info("generating report", "working_days", len(dates), "members", len(members))

	var failures int
	for _, mem := range members {
		for _, d := range dates {
			if err := ctx.Err(); err != nil {
				return matrix, err
			}
			o := c.fetchDay(ctx, provider, mem, d)
			switch {
			case o.err != nil:
				if err := ctx.Err(); err != nil {
					return matrix, err
				}
				failures++
				matrix.Set(d, mem.CalendarID, CellProviderError)
			case o.result.EmptyPercent() > threshold:
				c.metrics.recordFlagged(ctx, "report")
				matrix.Set(d, mem.CalendarID, CellNeedsAttention)
			default:
				matrix.Set(d, mem.CalendarID, CellCompliant)
			}
		}
	}

	appLog.Info("report complete", "working_days", len(dates), "members", len(members), "errors", failures)
	return matrix, nil
}
