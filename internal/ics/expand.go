package ics

import (
	"errors"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calmonitor/internal/log"
	"calmonitor/internal/model"
)

const defaultMaxOccurrences = 5000

// ExpandConfig bounds recurrence expansion.
type ExpandConfig struct {
	// Location is where occurrences are normalized. Nil means time.Local.
	Location *time.Location

	// RangeStart and RangeEnd bound the window, both inclusive.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrences caps the instances produced per event. Zero means
	// defaultMaxOccurrences.
	MaxOccurrences int
}

// ExpandOccurrences turns parsed events into the concrete occurrences that
// overlap the configured range, sorted by start. RRULE, EXDATE and
// RECURRENCE-ID overrides are honored; cancelled instances are dropped.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: range end is before range start")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	bases := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	var uids []string
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := bases[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		bases[ev.UID] = append(bases[ev.UID], ev)
	}

	out := make([]model.Occurrence, 0)
	for _, uid := range uids {
		for _, ev := range bases[uid] {
			if ev.RawRRule == "" {
				out = append(out, expandSingle(ev, overrides[uid], cfg)...)
				continue
			}
			occ, truncated := expandRecurring(ev, overrides[uid], cfg)
			if truncated {
				appLog.Warn("ics expansion truncated", "uid", uid, "cap", cfg.MaxOccurrences)
			}
			out = append(out, occ...)
		}
	}

	slices.SortStableFunc(out, func(a, b model.Occurrence) int { return a.Start.Compare(b.Start) })
	return out, nil
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Occurrence {
	if o, ok := findOverride(overrides, ev.Start); ok {
		ev = withBase(o, ev)
	}
	if ev.Cancelled || !overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Occurrence{makeOccurrence(ev, ev.Start, ev.End, cfg.Location)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("ics rrule unparseable", "uid", ev.UID, "rrule", ev.RawRRule, "err", err)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Instances starting up to one duration before the range can still
	// overlap it.
	from := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	to := cfg.RangeEnd.In(ev.Start.Location())
	starts := set.Between(from, to, true)

	truncated := false
	if len(starts) > cfg.MaxOccurrences {
		starts = starts[:cfg.MaxOccurrences]
		truncated = true
	}

	out := make([]model.Occurrence, 0, len(starts))
	for _, s := range starts {
		e := s.Add(dur)
		if ev.AllDay {
			s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			e = s.AddDate(0, 0, max(1, int(dur.Round(24*time.Hour)/(24*time.Hour))))
		}
		inst := ev
		if o, ok := findOverride(overrides, s); ok {
			inst = withBase(o, ev)
			s, e = inst.Start, inst.End
		}
		if inst.Cancelled || !overlaps(s, e, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeOccurrence(inst, s, e, cfg.Location))
	}
	return out, truncated
}

// withBase fills fields an override left out from its base event.
func withBase(o, base ParsedEvent) ParsedEvent {
	if o.Summary == "" {
		o.Summary = base.Summary
	}
	if o.End.IsZero() || o.End.Equal(o.Start) {
		o.End = o.Start.Add(base.End.Sub(base.Start))
	}
	return o
}

func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, o := range overrides {
		if o.RecurrenceID != nil && o.RecurrenceID.Equal(start) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}

func makeOccurrence(ev ParsedEvent, start, end time.Time, loc *time.Location) model.Occurrence {
	occ := model.Occurrence{
		SourceID: ev.FeedID,
		UID:      ev.UID,
		Summary:  ev.Summary,
		AllDay:   ev.AllDay,
		Start:    start.In(loc),
		End:      end.In(loc),
	}
	if ev.AllDay {
		// All-day dates are calendar dates, not instants.
		occ.Start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		occ.End = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
	}
	occ.InstanceKey = occ.Start.Format(time.RFC3339Nano)
	return occ
}

// overlaps treats [aStart, aEnd) as half-open; a zero-length event
// overlaps when its start lies inside [bStart, bEnd].
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aStart.After(bEnd) {
		return false
	}
	if !aEnd.After(aStart) {
		return !aStart.Before(bStart)
	}
	return aEnd.After(bStart)
}
