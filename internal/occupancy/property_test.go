package occupancy

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"calmonitor/internal/model"
)

func span(title string, startMinute, durationMinutes int) model.RawEvent {
	start := day.Add(time.Duration(startMinute) * time.Minute)
	return model.RawEvent{
		Title: title,
		Start: model.Timed(start),
		End:   model.Timed(start.Add(time.Duration(durationMinutes) * time.Minute)),
	}
}

func windows() gopter.Gen {
	return gen.OneConstOf(StandardWindow(), ExtendedWindow(), DayWindow{
		WorkStartHour:   8,
		WorkEndHour:     17,
		LunchStartHour:  13,
		LunchEndHour:    14,
		SlotMinutes:     30,
		TotalSlots:      16,
		MaxBlockMinutes: 90,
	})
}

func TestProperty_MeetingsNeverFillSlots(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("titles containing meeting contribute zero slots", prop.ForAll(
		func(w DayWindow, word, prefix string, startMinute, duration int) bool {
			ev := span(prefix+word+" sync", startMinute, duration)
			return run([]model.RawEvent{ev}, w).FilledSlots == 0
		},
		windows(),
		gen.OneConstOf("meeting", "Meeting", "MEETING", "mEeTiNg"),
		gen.AlphaString(),
		gen.IntRange(0, 24*60-1),
		gen.IntRange(0, 12*60),
	))

	properties.TestingRun(t)
}

func TestProperty_FilledSlotsNeverExceedTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("filled slots are capped", prop.ForAll(
		func(w DayWindow, starts, durations []int) bool {
			events := make([]model.RawEvent, 0, len(starts))
			for i := 0; i < len(starts) && i < len(durations); i++ {
				events = append(events, span("work", starts[i], durations[i]))
			}
			r := run(events, w)
			return r.FilledSlots <= w.TotalSlots && r.UtilizationPercent <= 100
		},
		windows(),
		gen.SliceOf(gen.IntRange(0, 24*60-1)),
		gen.SliceOf(gen.IntRange(0, 24*60)),
	))

	properties.TestingRun(t)
}

func TestProperty_UtilizationMonotonicInDuration(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("longer event never lowers utilization", prop.ForAll(
		func(w DayWindow, startMinute, duration, extra, otherStart, otherDuration int) bool {
			other := span("other", otherStart, otherDuration)
			shorter := run([]model.RawEvent{other, span("grow", startMinute, duration)}, w)
			longer := run([]model.RawEvent{other, span("grow", startMinute, duration+extra)}, w)
			return shorter.UtilizationPercent <= longer.UtilizationPercent
		},
		windows(),
		gen.IntRange(0, 24*60-1),
		gen.IntRange(0, 8*60),
		gen.IntRange(0, 8*60),
		gen.IntRange(0, 24*60-1),
		gen.IntRange(0, 8*60),
	))

	properties.TestingRun(t)
}

func TestProperty_EmptyPlusUtilizationIsHundred(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("empty + utilization == 100", prop.ForAll(
		func(total, filled int) bool {
			u := Utilization(min(filled, total), total)
			sum := decimal.NewFromFloat(EmptyPercent(u)).Add(decimal.NewFromFloat(u))
			return sum.Equal(decimal.NewFromInt(100))
		},
		gen.IntRange(1, 48),
		gen.IntRange(0, 48),
	))

	properties.TestingRun(t)
}
