// Package compliance judges roster members' calendar occupancy. It holds
// the compliance policies, the report date generator, the single-day
// batch check and the multi-day compliance matrix.
//
// Provider access is strictly sequential: every fetch of every run goes
// through the Checker's FetchPolicy, one (member, date) at a time.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"calmonitor/internal/auth"
	appLog "calmonitor/internal/log"
	"calmonitor/internal/model"
	"calmonitor/internal/occupancy"
)

// Settings are the evaluation parameters shared by every run.
type Settings struct {
	Policy     Policy
	Thresholds Thresholds
	Window     occupancy.DayWindow
	// Location is where day bounds and working hours are read. Nil means
	// time.Local.
	Location *time.Location
}

func (s Settings) Validate() error {
	if _, err := ParsePolicy(string(s.Policy)); err != nil {
		return err
	}
	if err := s.Thresholds.Validate(); err != nil {
		return err
	}
	if err := s.Window.Validate(); err != nil {
		return fmt.Errorf("day window: %w", err)
	}
	return nil
}

// Checker runs single-day checks and multi-day reports for a roster.
type Checker struct {
	connector Connector
	roster    Roster
	settings  Settings
	fetch     *FetchPolicy
	metrics   *instruments
	now       func() time.Time

	meterProvider metric.MeterProvider
}

type Option func(*Checker)

// WithFetchPolicy shares p between checkers, or sets a spaced policy.
func WithFetchPolicy(p *FetchPolicy) Option {
	return func(c *Checker) { c.fetch = p }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// WithMeterProvider records fetch metrics on mp instead of the global
// provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Checker) { c.meterProvider = mp }
}

// NewChecker validates s and wires the collaborators.
func NewChecker(conn Connector, roster Roster, s Settings, opts ...Option) (*Checker, error) {
	if conn == nil {
		return nil, errors.New("compliance: connector is nil")
	}
	if roster == nil {
		return nil, ErrNoRoster
	}
	if s.Policy == "" {
		s.Policy = PolicySingleDay
	}
	s.Window.Normalize()
	if s.Location == nil {
		s.Location = time.Local
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	c := &Checker{
		connector: conn,
		roster:    roster,
		settings:  s,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetch == nil {
		c.fetch = NewFetchPolicy(0)
	}
	c.metrics = newInstruments(c.meterProvider)
	return c, nil
}

func (c *Checker) Settings() Settings { return c.settings }

// Now returns the current time in the configured location.
func (c *Checker) Now() time.Time { return c.now().In(c.settings.Location) }

// Today returns the current calendar date in the configured location.
func (c *Checker) Today() model.Date { return model.DateOf(c.Now()) }

// EventSummary is the normalized view of a raw event in a snapshot.
type EventSummary struct {
	Summary string `json:"summary"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// NextDayResult is the lookahead day evaluated by the two-day policy.
type NextDayResult struct {
	Date               string  `json:"date"`
	UtilizationPercent float64 `json:"utilization"`
	EmptyPercent       float64 `json:"emptyPercentage"`
	Error              string  `json:"error,omitempty"`
}

// MemberDayResult is one member's verdict for the target date.
type MemberDayResult struct {
	model.TeamMember

	UtilizationPercent float64                    `json:"utilization"`
	EmptyPercent       float64                    `json:"emptyPercentage"`
	EventCount         int                        `json:"eventCount"`
	Events             []EventSummary             `json:"events"`
	OversizedBlocks    []occupancy.OversizedBlock `json:"oversizedBlocks"`
	HasOversizedBlocks bool                       `json:"hasOversizedBlocks"`
	NeedsAttention     bool                       `json:"needsAttention"`
	Error              string                     `json:"error,omitempty"`
	NextWorkingDay     *NextDayResult             `json:"nextWorkingDay,omitempty"`
}

// AggregateCheckResult is the roster-wide snapshot for one date.
type AggregateCheckResult struct {
	RunID          string            `json:"runId"`
	TargetDate     string            `json:"targetDate"`
	TargetDateISO  string            `json:"targetDateISO"`
	Policy         Policy            `json:"policy"`
	Threshold      int               `json:"threshold"`
	Checked        []MemberDayResult `json:"checked"`
	NeedsAttention []MemberDayResult `json:"needsAttention"`
	TotalMembers   int               `json:"totalMembers"`
	ErrorCount     int               `json:"errors"`
	// TotalUtilization is the plain sum of member utilizations.
	TotalUtilization          float64   `json:"totalUtilization"`
	AverageUtilizationPercent float64   `json:"averageUtilization"`
	Timestamp                 time.Time `json:"timestamp"`
	// Partial is set when the run was cancelled before every member was
	// checked.
	Partial bool `json:"partial,omitempty"`
}

func (r *AggregateCheckResult) add(m MemberDayResult) {
	r.Checked = append(r.Checked, m)
	r.TotalUtilization += m.UtilizationPercent
	if m.Error != "" {
		r.ErrorCount++
	}
	if m.NeedsAttention {
		r.NeedsAttention = append(r.NeedsAttention, m)
	}
}

func (r *AggregateCheckResult) finish() {
	n := len(r.Checked)
	r.Partial = n < r.TotalMembers
	if n == 0 {
		r.AverageUtilizationPercent = 0
		return
	}
	r.AverageUtilizationPercent = occupancy.Round1(r.TotalUtilization / float64(n))
}

// CheckDay evaluates every roster member for date. Members are fetched
// one after another; a provider failure is recorded on that member and
// the run continues. If ctx ends mid-run the partial snapshot is returned
// with ctx's error.
func (c *Checker) CheckDay(ctx context.Context, sess auth.Session, date model.Date) (*AggregateCheckResult, error) {
	provider, err := c.connector.Connect(ctx, sess)
	if err != nil {
		return nil, err
	}
	members, err := c.roster.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}

	loc := c.settings.Location
	res := &AggregateCheckResult{
		RunID:          uuid.NewString(),
		TargetDate:     date.StartIn(loc).Format("Mon, 1/2/2006"),
		TargetDateISO:  date.StartIn(loc).Format(time.RFC3339),
		Policy:         c.settings.Policy,
		Threshold:      c.settings.Thresholds.Primary,
		Checked:        make([]MemberDayResult, 0, len(members)),
		NeedsAttention: make([]MemberDayResult, 0),
		TotalMembers:   len(members),
		Timestamp:      c.now().UTC(),
	}

	appLog.Info("check started", "run_id", res.RunID, "date", date.ISO(), "members", len(members), "policy", c.settings.Policy)

	for _, m := range members {
		if err := ctx.Err(); err != nil {
			res.finish()
			return res, err
		}
		r, err := c.checkMember(ctx, provider, m, date)
		if err != nil {
			res.finish()
			appLog.Error("check cancelled", err, "run_id", res.RunID, "checked", len(res.Checked))
			return res, err
		}
		if r.NeedsAttention {
			c.metrics.recordFlagged(ctx, "snapshot")
		}
		res.add(r)
	}
	res.finish()

	appLog.Info("check complete",
		"run_id", res.RunID,
		"date", date.ISO(),
		"needs_attention", len(res.NeedsAttention),
		"errors", res.ErrorCount,
		"average_utilization", res.AverageUtilizationPercent,
	)
	return res, nil
}

// checkMember only returns an error when ctx ended.
func (c *Checker) checkMember(ctx context.Context, p Provider, m model.TeamMember, date model.Date) (MemberDayResult, error) {
	today := c.fetchDay(ctx, p, m, date)
	if today.err != nil && ctx.Err() != nil {
		return MemberDayResult{}, ctx.Err()
	}

	var (
		nextDate model.Date
		next     *dayOutcome
	)
	if c.settings.Policy == PolicyTwoDayLookahead {
		nextDate = NextWorkingDay(date)
		o := c.fetchDay(ctx, p, m, nextDate)
		if o.err != nil && ctx.Err() != nil {
			return MemberDayResult{}, ctx.Err()
		}
		next = &o
	}

	var nextResult *occupancy.Result
	if next != nil {
		nextResult = &next.result
	}
	verdict := Evaluate(c.settings.Policy, c.settings.Thresholds, today.result, nextResult)

	r := MemberDayResult{
		TeamMember:         m,
		UtilizationPercent: today.result.UtilizationPercent,
		EmptyPercent:       verdict.EmptyPercent,
		EventCount:         len(today.events),
		Events:             summarize(today.events),
		OversizedBlocks:    today.result.OversizedBlocks,
		HasOversizedBlocks: today.result.HasOversizedBlocks,
		NeedsAttention:     verdict.NeedsAttention,
	}
	if today.err != nil {
		r.Error = today.err.Err.Error()
	}
	if next != nil {
		r.NextWorkingDay = &NextDayResult{
			Date:               nextDate.String(),
			UtilizationPercent: next.result.UtilizationPercent,
			EmptyPercent:       verdict.NextEmptyPercent,
		}
		if next.err != nil {
			r.NextWorkingDay.Error = next.err.Err.Error()
			if r.Error == "" {
				r.Error = next.err.Error()
			}
		}
	}
	return r, nil
}

type dayOutcome struct {
	events []model.RawEvent
	result occupancy.Result
	err    *ProviderError
}

// fetchDay fetches [00:00:00.000, 23:59:59.999] of d and computes its
// occupancy. A failed fetch yields zero events and a zero result.
func (c *Checker) fetchDay(ctx context.Context, p Provider, m model.TeamMember, d model.Date) dayOutcome {
	loc := c.settings.Location
	var events []model.RawEvent

	began := time.Now()
	err := c.fetch.Do(ctx, func(ctx context.Context) error {
		var ferr error
		events, ferr = p.ListEvents(ctx, m.CalendarID, d.StartIn(loc), d.EndIn(loc))
		return ferr
	})
	c.metrics.recordFetch(ctx, began, err)

	if err != nil {
		pe := &ProviderError{CalendarID: m.CalendarID, Date: d, Err: err}
		if ctx.Err() == nil {
			appLog.Error("calendar fetch failed", err, "member", m.CalendarID, "date", d.String())
		}
		return dayOutcome{
			events: []model.RawEvent{},
			result: occupancy.Result{OversizedBlocks: []occupancy.OversizedBlock{}},
			err:    pe,
		}
	}

	working := occupancy.FilterWorkingEvents(events, c.settings.Window, loc)
	appLog.Debug("calendar fetched", "member", m.CalendarID, "date", d.String(), "events", len(events), "working", len(working))
	return dayOutcome{
		events: events,
		result: occupancy.Calculate(working, c.settings.Window, loc),
	}
}

func summarize(events []model.RawEvent) []EventSummary {
	out := make([]EventSummary, 0, len(events))
	for _, ev := range events {
		out = append(out, EventSummary{
			Summary: ev.Title,
			Start:   ev.Start.String(),
			End:     ev.End.String(),
		})
	}
	return out
}
