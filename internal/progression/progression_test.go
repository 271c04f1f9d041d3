package progression

import (
	"errors"
	"reflect"
	"testing"
)

func TestAdvance(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		from   Status
		stage  Stage
		passed bool
		want   Status
	}{
		{"written pass", StatusActive, StageWritten, true, StatusWrittenPassed},
		{"written fail", StatusActive, StageWritten, false, StatusFailed},
		{"yard pass", StatusWrittenPassed, StageYard, true, StatusYardPassed},
		{"yard fail", StatusWrittenPassed, StageYard, false, StatusFailed},
		{"road pass", StatusYardPassed, StageRoad, true, StatusCompleted},
		{"road fail", StatusYardPassed, StageRoad, false, StatusFailed},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Advance(tc.from, tc.stage, tc.passed)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestAdvanceRejectsOutOfSequence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from  Status
		stage Stage
	}{
		{StatusActive, StageRoad},
		{StatusActive, StageYard},
		{StatusWrittenPassed, StageWritten},
		{StatusYardPassed, StageYard},
		{StatusCompleted, StageRoad},
		{StatusFailed, StageWritten},
	}

	for _, tc := range cases {
		_, err := Advance(tc.from, tc.stage, true)
		var notReady *NotReadyError
		if !errors.As(err, &notReady) {
			t.Fatalf("%s/%s: expected NotReadyError, got %v", tc.from, tc.stage, err)
		}
		if notReady.Status != tc.from || notReady.Stage != tc.stage {
			t.Fatalf("unexpected error context: %+v", notReady)
		}
	}
}

func TestAdvanceRejectsUnknownStage(t *testing.T) {
	t.Parallel()

	if _, err := Advance(StatusActive, Stage("parking"), true); !errors.Is(err, ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage, got %v", err)
	}
}

func TestPrerequisite(t *testing.T) {
	t.Parallel()

	want := map[Stage]Status{
		StageWritten: StatusActive,
		StageYard:    StatusWrittenPassed,
		StageRoad:    StatusYardPassed,
	}
	for stage, status := range want {
		got, err := Prerequisite(stage)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", stage, err)
		}
		if got != status {
			t.Fatalf("expected %s for %s, got %s", status, stage, got)
		}
	}
	if _, err := Prerequisite(Stage("bogus")); !errors.Is(err, ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage, got %v", err)
	}
}

func TestParseStage(t *testing.T) {
	t.Parallel()

	got, err := ParseStage(" Yard ")
	if err != nil || got != StageYard {
		t.Fatalf("expected yard, got %q (%v)", got, err)
	}
	if _, err := ParseStage("parking"); !errors.Is(err, ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage, got %v", err)
	}
}

func TestPassedStages(t *testing.T) {
	t.Parallel()

	cases := map[Status][]Stage{
		StatusActive:        {},
		StatusWrittenPassed: {StageWritten},
		StatusYardPassed:    {StageWritten, StageYard},
		StatusCompleted:     {StageWritten, StageYard, StageRoad},
		StatusFailed:        nil,
	}
	for status, want := range cases {
		got := PassedStages(status)
		if len(got) == 0 && len(want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%s: expected %v, got %v", status, want, got)
		}
	}
}

func TestNextStage(t *testing.T) {
	t.Parallel()

	if stage, ok := NextStage(StatusWrittenPassed); !ok || stage != StageYard {
		t.Fatalf("expected yard, got %s %v", stage, ok)
	}
	if _, ok := NextStage(StatusFailed); ok {
		t.Fatal("expected no next stage for failed session")
	}
}
