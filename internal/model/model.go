package model

import "time"

// TeamMember is one roster entry. CalendarID is the member's identity:
// it keys compliance cells and is what providers are queried with.
type TeamMember struct {
	Name       string `yaml:"name" json:"name"`
	CalendarID string `yaml:"email" json:"email"`
	Role       string `yaml:"role" json:"role"`
}

// EventTime is either a timed instant (DateTime set) or an all-day marker
// (Date set, DateTime zero). This mirrors how calendar APIs report
// start/end: an all-day event carries only a date.
type EventTime struct {
	DateTime time.Time
	Date     Date
}

// Timed returns an EventTime for a concrete instant.
func Timed(t time.Time) EventTime {
	return EventTime{DateTime: t}
}

// AllDay returns an EventTime for an all-day date.
func AllDay(d Date) EventTime {
	return EventTime{Date: d}
}

// IsTimed reports whether the value carries a concrete instant.
func (t EventTime) IsTimed() bool {
	return !t.DateTime.IsZero()
}

// String renders the instant as RFC3339 or the all-day date as YYYY-MM-DD.
func (t EventTime) String() string {
	if t.IsTimed() {
		return t.DateTime.Format(time.RFC3339)
	}
	if t.Date.IsZero() {
		return ""
	}
	return t.Date.ISO()
}

// RawEvent is an event as returned by a calendar provider, before any
// filtering. Events are read-only input to the engine.
type RawEvent struct {
	Title string
	Start EventTime
	End   EventTime
}

// Occurrence is a single concrete instance of a feed event after
// recurrence expansion, normalized into the display location.
type Occurrence struct {
	SourceID string
	UID      string

	// InstanceKey identifies one occurrence of a recurring event.
	InstanceKey string

	Summary string
	AllDay  bool

	Start time.Time
	End   time.Time
}

// RawEvent converts the occurrence into provider output. All-day
// occurrences carry dates only.
func (o Occurrence) RawEvent() RawEvent {
	if o.AllDay {
		return RawEvent{
			Title: o.Summary,
			Start: AllDay(DateOf(o.Start)),
			End:   AllDay(DateOf(o.End)),
		}
	}
	return RawEvent{
		Title: o.Summary,
		Start: Timed(o.Start),
		End:   Timed(o.End),
	}
}
