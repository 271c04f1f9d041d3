// Package progression owns the multi-stage test state machine. Every status
// change a session may undergo is listed in a single transition table and any
// change not present there is rejected.
package progression

import (
	"errors"
	"fmt"
	"strings"
)

// Stage is one ordered phase of the multi-stage test.
type Stage string

const (
	StageWritten Stage = "written"
	StageYard    Stage = "yard"
	StageRoad    Stage = "road"
)

// Status is the progression state of a test session.
type Status string

const (
	StatusActive        Status = "active"
	StatusWrittenPassed Status = "written_passed"
	StatusYardPassed    Status = "yard_passed"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// Outcome is the result of scoring a stage.
type Outcome string

const (
	OutcomePassed Outcome = "passed"
	OutcomeFailed Outcome = "failed"
)

// ErrInvalidStage is returned for names outside written, yard and road.
var ErrInvalidStage = errors.New("progression: invalid stage")

// NotReadyError reports a stage that cannot be scored from the current status.
type NotReadyError struct {
	Status Status
	Stage  Stage
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("progression: stage %s cannot be scored while session is %s", e.Stage, e.Status)
}

// Transition is a single allowed edge of the session state machine.
type Transition struct {
	From    Status
	Stage   Stage
	Outcome Outcome
	To      Status
}

var transitionsTable = []Transition{
	{From: StatusActive, Stage: StageWritten, Outcome: OutcomePassed, To: StatusWrittenPassed},
	{From: StatusActive, Stage: StageWritten, Outcome: OutcomeFailed, To: StatusFailed},

	{From: StatusWrittenPassed, Stage: StageYard, Outcome: OutcomePassed, To: StatusYardPassed},
	{From: StatusWrittenPassed, Stage: StageYard, Outcome: OutcomeFailed, To: StatusFailed},

	{From: StatusYardPassed, Stage: StageRoad, Outcome: OutcomePassed, To: StatusCompleted},
	{From: StatusYardPassed, Stage: StageRoad, Outcome: OutcomeFailed, To: StatusFailed},
}

var orderedStages = []Stage{StageWritten, StageYard, StageRoad}

// Stages returns the stages in the order they must be taken.
func Stages() []Stage {
	out := make([]Stage, len(orderedStages))
	copy(out, orderedStages)
	return out
}

// ParseStage normalises and validates a stage name.
func ParseStage(value string) (Stage, error) {
	stage := Stage(strings.ToLower(strings.TrimSpace(value)))
	if !stage.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStage, value)
	}
	return stage, nil
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageWritten, StageYard, StageRoad:
		return true
	}
	return false
}

// Practical reports whether the stage is scored by an officer checklist.
func (s Stage) Practical() bool {
	return s == StageYard || s == StageRoad
}

// Index returns the position of the stage in the progression, or -1.
func (s Stage) Index() int {
	for i, stage := range orderedStages {
		if stage == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s names a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusWrittenPassed, StatusYardPassed, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further stage can be scored.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TransitionFor returns the allowed transition for scoring stage from the
// given status with the given outcome.
func TransitionFor(from Status, stage Stage, passed bool) (Transition, bool) {
	outcome := OutcomeFailed
	if passed {
		outcome = OutcomePassed
	}
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Stage == stage && tr.Outcome == outcome {
			return tr, true
		}
	}
	return Transition{}, false
}

// Prerequisite returns the status a session must hold before stage may be
// scored.
func Prerequisite(stage Stage) (Status, error) {
	for _, tr := range transitionsTable {
		if tr.Stage == stage {
			return tr.From, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStage, stage)
}

// CanScore returns a *NotReadyError unless stage is next for a session in
// status from.
func CanScore(from Status, stage Stage) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStage, stage)
	}
	if _, ok := TransitionFor(from, stage, true); !ok {
		return &NotReadyError{Status: from, Stage: stage}
	}
	return nil
}

// Advance applies the outcome of scoring stage to a session in status from.
func Advance(from Status, stage Stage, passed bool) (Status, error) {
	if err := CanScore(from, stage); err != nil {
		return "", err
	}
	tr, _ := TransitionFor(from, stage, passed)
	return tr.To, nil
}

// NextStage returns the stage awaiting scoring for a session in status, or
// false when the session is terminal.
func NextStage(status Status) (Stage, bool) {
	for _, stage := range orderedStages {
		if _, ok := TransitionFor(status, stage, true); ok {
			return stage, true
		}
	}
	return "", false
}

// PassedStages returns the stages a session in the given status has already
// passed. A failed session reports none because the failing stage is not
// derivable from the status alone.
func PassedStages(status Status) []Stage {
	if status == StatusCompleted {
		return Stages()
	}
	next, ok := NextStage(status)
	if !ok {
		return nil
	}
	return Stages()[:next.Index()]
}
