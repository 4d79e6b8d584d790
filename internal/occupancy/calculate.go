package occupancy

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	untitledBlock = "Untitled Event"
	clockLayout   = "03:04 PM"
)

var hundred = decimal.NewFromInt(100)

// OversizedBlock describes a working event longer than the configured
// maximum. It is informational and never changes the slot count.
type OversizedBlock struct {
	Title           string `json:"summary"`
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int    `json:"duration"`
}

// Result is the occupancy of one member's day.
type Result struct {
	UtilizationPercent float64          `json:"utilization"`
	FilledSlots        int              `json:"filledSlots"`
	OversizedBlocks    []OversizedBlock `json:"oversizedBlocks"`
	HasOversizedBlocks bool             `json:"hasOversizedBlocks"`
}

// EmptyPercent is 100 minus the utilization, computed in decimal so the
// two always sum to exactly 100.
func (r Result) EmptyPercent() float64 {
	return EmptyPercent(r.UtilizationPercent)
}

type slotKey struct {
	hour   int
	minute int
}

// Calculate fills slots for the working events. For each event a cursor
// walks from start in SlotMinutes steps while it is strictly before end;
// every cursor position inside working hours and outside lunch marks its
// slot. Overlapping events mark a slot once. The filled count is capped at
// TotalSlots.
func Calculate(events []WorkingEvent, w DayWindow, loc *time.Location) Result {
	if loc == nil {
		loc = time.Local
	}
	w.Normalize()
	step := time.Duration(w.SlotMinutes) * time.Minute
	maxBlock := time.Duration(w.MaxBlockMinutes) * time.Minute

	filled := make(map[slotKey]struct{})
	oversized := make([]OversizedBlock, 0)

	for _, ev := range events {
		start := ev.Start.In(loc)
		end := ev.End.In(loc)

		if d := end.Sub(start); d > maxBlock {
			title := ev.Title
			if title == "" {
				title = untitledBlock
			}
			oversized = append(oversized, OversizedBlock{
				Title:           title,
				Start:           start.Format(clockLayout),
				End:             end.Format(clockLayout),
				DurationMinutes: int(math.Round(d.Minutes())),
			})
		}

		for cursor := start; cursor.Before(end); cursor = cursor.Add(step) {
			hour := cursor.Hour()
			if !w.countable(hour) {
				continue
			}
			filled[slotKey{hour: hour, minute: cursor.Minute() / w.SlotMinutes * w.SlotMinutes}] = struct{}{}
		}
	}

	count := min(len(filled), w.TotalSlots)
	return Result{
		UtilizationPercent: Utilization(count, w.TotalSlots),
		FilledSlots:        count,
		OversizedBlocks:    oversized,
		HasOversizedBlocks: len(oversized) > 0,
	}
}

// Utilization returns filled/total as a percentage rounded to one decimal.
func Utilization(filled, total int) float64 {
	if total <= 0 || filled <= 0 {
		return 0
	}
	pct := decimal.NewFromInt(int64(filled)).Mul(hundred).Div(decimal.NewFromInt(int64(total)))
	return pct.Round(1).InexactFloat64()
}

// EmptyPercent returns 100 - utilization.
func EmptyPercent(utilization float64) float64 {
	return hundred.Sub(decimal.NewFromFloat(utilization)).InexactFloat64()
}

// Round1 rounds v to one decimal place.
func Round1(v float64) float64 {
	return decimal.NewFromFloat(v).Round(1).InexactFloat64()
}
