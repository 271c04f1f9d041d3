package calendar

import (
	"errors"
	"testing"
	"time"
)

func TestValidateTemplate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		slots     []TemplateSlot
		wantIndex int
		wantOK    bool
	}{
		{
			name: "accepts ordered non-overlapping slots",
			slots: []TemplateSlot{
				{Start: "09:00", End: "10:00", Capacity: 2},
				{Start: "10:00", End: "11:00", Capacity: 1},
			},
			wantOK: true,
		},
		{
			name: "rejects zero capacity",
			slots: []TemplateSlot{
				{Start: "09:00", End: "10:00", Capacity: 0},
			},
			wantIndex: 0,
		},
		{
			name: "rejects end before start",
			slots: []TemplateSlot{
				{Start: "09:00", End: "10:00", Capacity: 1},
				{Start: "12:00", End: "11:00", Capacity: 1},
			},
			wantIndex: 1,
		},
		{
			name: "rejects overlap regardless of input order",
			slots: []TemplateSlot{
				{Start: "10:30", End: "11:30", Capacity: 1},
				{Start: "09:00", End: "11:00", Capacity: 1},
			},
			wantIndex: 0,
		},
		{
			name: "rejects malformed clock",
			slots: []TemplateSlot{
				{Start: "9am", End: "10:00", Capacity: 1},
			},
			wantIndex: 0,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateTemplate(tc.slots)
			if tc.wantOK {
				if err != nil {
					t.Fatalf("expected valid template, got %v", err)
				}
				return
			}
			var slotErr *SlotError
			if !errors.As(err, &slotErr) {
				t.Fatalf("expected SlotError, got %v", err)
			}
			if slotErr.Index != tc.wantIndex {
				t.Fatalf("expected index %d, got %d (%s)", tc.wantIndex, slotErr.Index, slotErr.Reason)
			}
		})
	}
}

func TestDerive(t *testing.T) {
	t.Parallel()

	slots := []TemplateSlot{
		{Start: "13:00", End: "14:00", Capacity: 3},
		{Start: "09:00", End: "10:00", Capacity: 2},
	}
	booked := map[string]int{
		"09:00-10:00": 2,
		"13:00-14:00": 1,
		"15:00-16:00": 4,
	}

	got := Derive(slots, booked)
	if len(got) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(got))
	}
	if got[0].Slot != "09:00-10:00" || got[0].Available != 0 || got[0].Booked != 2 {
		t.Fatalf("unexpected first slot: %+v", got[0])
	}
	if got[1].Slot != "13:00-14:00" || got[1].Available != 2 {
		t.Fatalf("unexpected second slot: %+v", got[1])
	}
}

func TestDeriveClampsOverbookedSlot(t *testing.T) {
	t.Parallel()

	got := Derive([]TemplateSlot{{Start: "09:00", End: "10:00", Capacity: 1}}, map[string]int{"09:00-10:00": 3})
	if got[0].Available != 0 {
		t.Fatalf("expected available clamped to 0, got %d", got[0].Available)
	}
}

func TestParseSlot(t *testing.T) {
	t.Parallel()

	start, end, err := ParseSlot(" 09:00-10:30 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != "09:00" || end != "10:30" {
		t.Fatalf("unexpected bounds %s %s", start, end)
	}

	for _, bad := range []string{"", "09:00", "10:00-09:00", "xx:00-10:00"} {
		if _, _, err := ParseSlot(bad); !errors.Is(err, ErrInvalidSlot) {
			t.Fatalf("expected ErrInvalidSlot for %q, got %v", bad, err)
		}
	}
}

func TestTodayUsesLocation(t *testing.T) {
	t.Parallel()

	instant := time.Date(2024, 6, 2, 23, 30, 0, 0, time.UTC)
	loc := time.FixedZone("UTC+2", 2*60*60)

	if got := Today(instant, time.UTC); got != "2024-06-02" {
		t.Fatalf("expected 2024-06-02, got %s", got)
	}
	if got := Today(instant, loc); got != "2024-06-03" {
		t.Fatalf("expected 2024-06-03, got %s", got)
	}
}

func TestDayIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		day   time.Weekday
		index int
	}{
		{time.Monday, 0},
		{time.Tuesday, 1},
		{time.Saturday, 5},
		{time.Sunday, 6},
	}
	for _, tt := range tests {
		if got := DayIndex(tt.day); got != tt.index {
			t.Fatalf("DayIndex(%s) = %d, want %d", tt.day, got, tt.index)
		}
		day, ok := WeekdayAt(tt.index)
		if !ok || day != tt.day {
			t.Fatalf("WeekdayAt(%d) = %s, %v; want %s", tt.index, day, ok, tt.day)
		}
	}
	for _, index := range []int{-1, 7} {
		if _, ok := WeekdayAt(index); ok {
			t.Fatalf("WeekdayAt(%d) should be rejected", index)
		}
	}
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	day, err := ParseDate("2024-06-03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if day.Weekday() != time.Monday {
		t.Fatalf("expected Monday, got %s", day.Weekday())
	}
	if _, err := ParseDate("03/06/2024"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}
