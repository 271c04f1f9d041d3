package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/testcentre/internal/persistence"
	"github.com/example/testcentre/internal/progression"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a record with the same identity already exists.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrStoreUnavailable is returned for transient storage failures. It is the
	// only failure callers may retry.
	ErrStoreUnavailable = errors.New("application: store unavailable")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func fieldError(field, message string) *ValidationError {
	vErr := &ValidationError{}
	vErr.add(field, message)
	return vErr
}

// CapacityExceededError reports a booking against a full slot.
type CapacityExceededError struct {
	Date     string
	Slot     string
	Capacity int
	Booked   int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("slot %s on %s is full (%d of %d booked)", e.Slot, e.Date, e.Booked, e.Capacity)
}

// Remaining returns the seats still open in the slot, never negative.
func (e *CapacityExceededError) Remaining() int {
	if e.Booked >= e.Capacity {
		return 0
	}
	return e.Capacity - e.Booked
}

// HolidayBlockedError reports a booking on a holiday.
type HolidayBlockedError struct {
	Date string
	Name string
}

func (e *HolidayBlockedError) Error() string {
	return fmt.Sprintf("%s is a holiday (%s)", e.Date, e.Name)
}

// VerificationRequiredError reports stage access before the identity gate
// cleared for today.
type VerificationRequiredError struct {
	AppointmentID   string
	Status          persistence.VerificationStatus
	AppointmentDate string
	Today           string
	Reason          string
}

func (e *VerificationRequiredError) Error() string {
	return fmt.Sprintf("verification required for appointment %s: %s", e.AppointmentID, e.Reason)
}

// SessionNotReadyError reports a stage attempted out of sequence.
type SessionNotReadyError struct {
	SessionID string
	Status    progression.Status
	Stage     progression.Stage
	Required  progression.Status
}

func (e *SessionNotReadyError) Error() string {
	if e.Required == "" {
		return fmt.Sprintf("session %s is %s; stage %s cannot be taken", e.SessionID, e.Status, e.Stage)
	}
	return fmt.Sprintf("session %s is %s; stage %s requires %s", e.SessionID, e.Status, e.Stage, e.Required)
}

// InvalidStageError reports an unknown stage or a stage not valid for the operation.
type InvalidStageError struct {
	Stage  string
	Reason string
}

func (e *InvalidStageError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid stage %q", e.Stage)
	}
	return fmt.Sprintf("invalid stage %q: %s", e.Stage, e.Reason)
}

// UnknownOfficerError reports an officer that cannot evaluate stages.
type UnknownOfficerError struct {
	OfficerID string
	Reason    string
}

func (e *UnknownOfficerError) Error() string {
	return fmt.Sprintf("officer %s cannot be assigned: %s", e.OfficerID, e.Reason)
}

// DuplicateAssignmentError reports an assignment identical to the active one.
type DuplicateAssignmentError struct {
	SessionID string
	Stage     progression.Stage
	OfficerID string
}

func (e *DuplicateAssignmentError) Error() string {
	return fmt.Sprintf("officer %s is already assigned to %s of session %s", e.OfficerID, e.Stage, e.SessionID)
}

// AssignmentRequiredError reports a checklist submitted for a stage that has
// no assigned officer.
type AssignmentRequiredError struct {
	SessionID string
	Stage     progression.Stage
}

func (e *AssignmentRequiredError) Error() string {
	return fmt.Sprintf("stage %s of session %s has no assigned officer", e.Stage, e.SessionID)
}

// ResitNotEligibleError reports a resit that cannot be requested or approved.
type ResitNotEligibleError struct {
	SessionID string
	Reason    string
}

func (e *ResitNotEligibleError) Error() string {
	return fmt.Sprintf("resit not eligible for session %s: %s", e.SessionID, e.Reason)
}

// AppointmentStatusError reports an operation not allowed in the appointment's
// current status.
type AppointmentStatusError struct {
	AppointmentID string
	Status        persistence.AppointmentStatus
	Operation     string
}

func (e *AppointmentStatusError) Error() string {
	return fmt.Sprintf("appointment %s is %s and cannot be %s", e.AppointmentID, e.Status, e.Operation)
}

func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyExists
	case errors.Is(err, persistence.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	case errors.Is(err, persistence.ErrConstraintViolation):
		return fieldError("reference", "referenced record does not exist")
	}
	return err
}
