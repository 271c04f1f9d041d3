// Package calendar derives bookable slot availability from a weekly template,
// holidays, and live booking counts. It performs no I/O; callers supply the
// inputs and persist nothing here.
package calendar

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the civil date format shared by appointments and holidays.
const DateLayout = "2006-01-02"

const clockLayout = "15:04"

var (
	// ErrInvalidDate is returned when a date is not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("calendar: invalid date")
	// ErrInvalidSlot is returned when a slot label cannot be parsed.
	ErrInvalidSlot = errors.New("calendar: invalid slot")
)

// TemplateSlot is one bookable interval of a weekday template.
type TemplateSlot struct {
	Start    string
	End      string
	Capacity int
}

// Label returns the canonical "HH:MM-HH:MM" identifier used by bookings.
func (s TemplateSlot) Label() string {
	return s.Start + "-" + s.End
}

// Availability describes the occupancy of one template slot on a date.
type Availability struct {
	Slot      string
	Start     string
	End       string
	Capacity  int
	Booked    int
	Available int
}

// SlotError pinpoints the template entry that failed validation.
type SlotError struct {
	Index  int
	Reason string
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("calendar: slot %d: %s", e.Index, e.Reason)
}

// DayIndex numbers a weekday from Monday (0) to Sunday (6), the numbering
// templates are addressed by.
func DayIndex(day time.Weekday) int {
	return (int(day) + 6) % 7
}

// WeekdayAt is the inverse of DayIndex. It reports false outside 0..6.
func WeekdayAt(index int) (time.Weekday, bool) {
	if index < 0 || index > 6 {
		return 0, false
	}
	return time.Weekday((index + 1) % 7), true
}

// ParseDate parses a civil date and returns midnight UTC of that day.
func ParseDate(value string) (time.Time, error) {
	parsed, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return parsed, nil
}

// Today returns the civil date of now as observed in loc.
func Today(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format(DateLayout)
}

// ParseSlot splits a "HH:MM-HH:MM" label into its start and end.
func ParseSlot(label string) (start, end string, err error) {
	parts := strings.Split(strings.TrimSpace(label), "-")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSlot, label)
	}
	from, ok := minutes(parts[0])
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSlot, label)
	}
	to, ok := minutes(parts[1])
	if !ok || to <= from {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSlot, label)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// ValidateTemplate checks that every slot is well formed, has capacity of at
// least one, and does not overlap any other slot of the same day.
func ValidateTemplate(slots []TemplateSlot) error {
	type bounds struct {
		index    int
		from, to int
	}
	spans := make([]bounds, 0, len(slots))
	for i, slot := range slots {
		from, okFrom := minutes(slot.Start)
		to, okTo := minutes(slot.End)
		switch {
		case !okFrom:
			return &SlotError{Index: i, Reason: "start must be HH:MM"}
		case !okTo:
			return &SlotError{Index: i, Reason: "end must be HH:MM"}
		case to <= from:
			return &SlotError{Index: i, Reason: "end must be after start"}
		case slot.Capacity < 1:
			return &SlotError{Index: i, Reason: "capacity must be at least 1"}
		}
		spans = append(spans, bounds{index: i, from: from, to: to})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].from < spans[j].from })
	for i := 1; i < len(spans); i++ {
		if spans[i].from < spans[i-1].to {
			return &SlotError{Index: spans[i].index, Reason: "overlaps another slot"}
		}
	}
	return nil
}

// Normalize returns a copy of the slots ordered by start time.
func Normalize(slots []TemplateSlot) []TemplateSlot {
	out := make([]TemplateSlot, len(slots))
	for i, slot := range slots {
		out[i] = TemplateSlot{
			Start:    strings.TrimSpace(slot.Start),
			End:      strings.TrimSpace(slot.End),
			Capacity: slot.Capacity,
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := minutes(out[i].Start)
		b, _ := minutes(out[j].Start)
		return a < b
	})
	return out
}

// Find returns the template slot whose label matches.
func Find(slots []TemplateSlot, label string) (TemplateSlot, bool) {
	label = strings.TrimSpace(label)
	for _, slot := range slots {
		if slot.Label() == label {
			return slot, true
		}
	}
	return TemplateSlot{}, false
}

// Derive computes availability for each template slot given live booking
// counts keyed by slot label. Slots that are full are still reported, with
// Available clamped at zero.
func Derive(slots []TemplateSlot, booked map[string]int) []Availability {
	ordered := Normalize(slots)
	out := make([]Availability, 0, len(ordered))
	for _, slot := range ordered {
		label := slot.Label()
		count := booked[label]
		available := slot.Capacity - count
		if available < 0 {
			available = 0
		}
		out = append(out, Availability{
			Slot:      label,
			Start:     slot.Start,
			End:       slot.End,
			Capacity:  slot.Capacity,
			Booked:    count,
			Available: available,
		})
	}
	return out
}

func minutes(clock string) (int, bool) {
	parsed, err := time.Parse(clockLayout, strings.TrimSpace(clock))
	if err != nil {
		return 0, false
	}
	return parsed.Hour()*60 + parsed.Minute(), true
}
