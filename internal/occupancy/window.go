// Package occupancy turns one member's raw calendar events for one day
// into a filled-slot count, a utilization percentage and oversized-block
// annotations.
//
// Everything in this package is pure: results depend only on the events,
// the DayWindow and the location used to read wall-clock hours.
package occupancy

import (
	"errors"
	"fmt"
)

// DayWindow describes the occupancy rules for a single day. Hours are
// wall-clock hours in the location passed to Calculate.
//
// TotalSlots is configured independently of the window bounds; see
// CountableSlots and Consistent.
type DayWindow struct {
	WorkStartHour   int `yaml:"work_start_hour" json:"work_start_hour"`
	WorkEndHour     int `yaml:"work_end_hour" json:"work_end_hour"`
	LunchStartHour  int `yaml:"lunch_start_hour" json:"lunch_start_hour"`
	LunchEndHour    int `yaml:"lunch_end_hour" json:"lunch_end_hour"`
	SlotMinutes     int `yaml:"slot_minutes" json:"slot_minutes"`
	TotalSlots      int `yaml:"total_slots" json:"total_slots"`
	MaxBlockMinutes int `yaml:"max_block_minutes" json:"max_block_minutes"`
}

// StandardWindow is 9:00–18:00 with a 12:00–14:00 lunch and 14 countable
// half-hour slots. Window and slot count agree.
func StandardWindow() DayWindow {
	return DayWindow{
		WorkStartHour:   9,
		WorkEndHour:     18,
		LunchStartHour:  12,
		LunchEndHour:    14,
		SlotMinutes:     30,
		TotalSlots:      14,
		MaxBlockMinutes: 60,
	}
}

// ExtendedWindow is 7:00–18:00 with a 12:00–14:00 lunch, still paired
// with 14 countable slots although the window holds 18. Kept as a preset
// because deployments run with it.
func ExtendedWindow() DayWindow {
	w := StandardWindow()
	w.WorkStartHour = 7
	return w
}

// Normalize fills zero slot/threshold fields with defaults.
func (w *DayWindow) Normalize() {
	if w.SlotMinutes <= 0 {
		w.SlotMinutes = 30
	}
	if w.TotalSlots <= 0 {
		w.TotalSlots = 14
	}
	if w.MaxBlockMinutes <= 0 {
		w.MaxBlockMinutes = 60
	}
}

// Validate rejects windows the calculator cannot work with.
func (w DayWindow) Validate() error {
	var errs []error
	if w.WorkStartHour < 0 || w.WorkEndHour > 24 || w.WorkStartHour >= w.WorkEndHour {
		errs = append(errs, fmt.Errorf("work hours [%d, %d) are not a valid range", w.WorkStartHour, w.WorkEndHour))
	}
	if w.LunchStartHour < 0 || w.LunchEndHour > 24 || w.LunchStartHour > w.LunchEndHour {
		errs = append(errs, fmt.Errorf("lunch hours [%d, %d) are not a valid range", w.LunchStartHour, w.LunchEndHour))
	}
	if w.SlotMinutes <= 0 || 60%w.SlotMinutes != 0 {
		errs = append(errs, fmt.Errorf("slot_minutes %d must divide an hour", w.SlotMinutes))
	}
	if w.TotalSlots <= 0 {
		errs = append(errs, errors.New("total_slots must be positive"))
	}
	if w.MaxBlockMinutes <= 0 {
		errs = append(errs, errors.New("max_block_minutes must be positive"))
	}
	return errors.Join(errs...)
}

// CountableSlots is the number of slots the window itself offers:
// working hours minus the part of lunch that overlaps them.
func (w DayWindow) CountableSlots() int {
	if w.SlotMinutes <= 0 || w.WorkEndHour <= w.WorkStartHour {
		return 0
	}
	hours := w.WorkEndHour - w.WorkStartHour
	overlapStart := max(w.WorkStartHour, w.LunchStartHour)
	overlapEnd := min(w.WorkEndHour, w.LunchEndHour)
	if overlapEnd > overlapStart {
		hours -= overlapEnd - overlapStart
	}
	return hours * 60 / w.SlotMinutes
}

// Consistent reports whether TotalSlots matches the window's capacity.
func (w DayWindow) Consistent() bool {
	return w.CountableSlots() == w.TotalSlots
}

func (w DayWindow) inLunch(hour int) bool {
	return hour >= w.LunchStartHour && hour < w.LunchEndHour
}

func (w DayWindow) countable(hour int) bool {
	return hour >= w.WorkStartHour && hour < w.WorkEndHour && !w.inLunch(hour)
}
