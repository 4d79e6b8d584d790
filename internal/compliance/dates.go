package compliance

import (
	"slices"
	"time"

	"calmonitor/internal/model"
)

// MaxReportDays bounds a report to about a year of working days.
const MaxReportDays = 366

// ReportDates returns the last n working days before now's calendar date
// (in now's location), oldest first. Saturdays and Sundays are skipped.
func ReportDates(now time.Time, n int) []model.Date {
	if n <= 0 {
		return []model.Date{}
	}
	dates := make([]model.Date, 0, n)
	for d := model.DateOf(now).AddDays(-1); len(dates) < n; d = d.AddDays(-1) {
		if d.IsWeekend() {
			continue
		}
		dates = append(dates, d)
	}
	slices.Reverse(dates)
	return dates
}
