package compliance

import (
	"fmt"

	"calmonitor/internal/model"
	"calmonitor/internal/occupancy"
)

// Policy selects how a member's day is judged.
type Policy string

const (
	// PolicySingleDay flags a member when today's empty share exceeds the
	// primary threshold.
	PolicySingleDay Policy = "single_day"
	// PolicyTwoDayLookahead additionally flags a member when the next
	// working day's empty share exceeds the secondary threshold.
	PolicyTwoDayLookahead Policy = "two_day_lookahead"
)

// ParsePolicy maps a config value to a Policy. Empty means single day.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicySingleDay:
		return PolicySingleDay, nil
	case PolicyTwoDayLookahead:
		return PolicyTwoDayLookahead, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
}

// Thresholds are empty-percentage limits, in whole percent.
type Thresholds struct {
	Primary   int `json:"primary"`
	Secondary int `json:"secondary"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Primary: 30, Secondary: 70}
}

func (t Thresholds) Validate() error {
	if t.Primary < 0 || t.Primary > 100 {
		return fmt.Errorf("%w: primary %d", ErrInvalidThreshold, t.Primary)
	}
	if t.Secondary < 0 || t.Secondary > 100 {
		return fmt.Errorf("%w: secondary %d", ErrInvalidThreshold, t.Secondary)
	}
	return nil
}

// Verdict is the outcome of evaluating one member's day.
type Verdict struct {
	EmptyPercent     float64
	NextEmptyPercent float64
	NeedsAttention   bool
}

// Evaluate applies policy p. A failed fetch is passed in as a zero Result
// (0% utilization). Under the two-day policy a nil next day is treated the
// same way.
func Evaluate(p Policy, th Thresholds, today occupancy.Result, next *occupancy.Result) Verdict {
	v := Verdict{EmptyPercent: today.EmptyPercent()}
	v.NeedsAttention = v.EmptyPercent > float64(th.Primary)

	if p != PolicyTwoDayLookahead {
		return v
	}
	var nextResult occupancy.Result
	if next != nil {
		nextResult = *next
	}
	v.NextEmptyPercent = nextResult.EmptyPercent()
	if v.NextEmptyPercent > float64(th.Secondary) {
		v.NeedsAttention = true
	}
	return v
}

// NextWorkingDay returns the first date after d that is not a Saturday or
// Sunday.
func NextWorkingDay(d model.Date) model.Date {
	next := d.AddDays(1)
	for next.IsWeekend() {
		next = next.AddDays(1)
	}
	return next
}
