package occupancy

import (
	"strings"
	"time"

	"calmonitor/internal/model"
)

// excludedTitleWords drop an event when any appears anywhere in its
// lower-cased title.
var excludedTitleWords = []string{"meeting", "lunch"}

// WorkingEvent is a timed event that counts toward occupancy.
type WorkingEvent struct {
	Title string
	Start time.Time
	End   time.Time
}

// FilterWorkingEvents keeps the events that count toward occupancy, in
// their original order. An event is dropped when it has no timed start or
// end, starts during lunch (wall-clock hour in loc), or its title mentions
// a meeting or lunch.
func FilterWorkingEvents(events []model.RawEvent, w DayWindow, loc *time.Location) []WorkingEvent {
	if loc == nil {
		loc = time.Local
	}
	out := make([]WorkingEvent, 0, len(events))
	for _, ev := range events {
		if !ev.Start.IsTimed() || !ev.End.IsTimed() {
			continue
		}
		start := ev.Start.DateTime.In(loc)
		if w.inLunch(start.Hour()) {
			continue
		}
		if excludedTitle(ev.Title) {
			continue
		}
		out = append(out, WorkingEvent{
			Title: ev.Title,
			Start: start,
			End:   ev.End.DateTime.In(loc),
		})
	}
	return out
}

func excludedTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, word := range excludedTitleWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
