package persistence

import (
	"context"
	"time"

	"github.com/example/testcentre/internal/progression"
)

// CalendarRepository stores weekday templates and holidays.
type CalendarRepository interface {
	UpsertTemplate(ctx context.Context, template ScheduleTemplate) error
	GetTemplate(ctx context.Context, weekday time.Weekday) (ScheduleTemplate, error)
	ListTemplates(ctx context.Context) ([]ScheduleTemplate, error)
	CreateHoliday(ctx context.Context, holiday Holiday) error
	GetHoliday(ctx context.Context, date string) (Holiday, error)
	ListHolidays(ctx context.Context) ([]Holiday, error)
	DeleteHoliday(ctx context.Context, date string) error
}

// AppointmentRepository stores appointments. Occupancy is always counted from
// live rows; InsertWithinCapacity and MoveWithinCapacity perform the capacity
// check and the write as one atomic unit and return ErrCapacityReached when
// the slot is full. MoveWithinCapacity also appends the move to the
// appointment's reschedule history and resets identity verification to
// pending when the date changes.
type AppointmentRepository interface {
	CountBookings(ctx context.Context, date string) (map[string]int, error)
	InsertWithinCapacity(ctx context.Context, appointment Appointment, capacity int) error
	MoveWithinCapacity(ctx context.Context, move AppointmentMove, capacity int) error
	GetAppointment(ctx context.Context, id string) (Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id string, from []AppointmentStatus, to AppointmentStatus, at time.Time) error
	SetVerificationStatus(ctx context.Context, id string, status VerificationStatus, at time.Time) error
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)
	ListRescheduleHistory(ctx context.Context, appointmentID string) ([]RescheduleRecord, error)
}

// VerificationRepository stores the active verification record per appointment.
type VerificationRepository interface {
	SaveVerification(ctx context.Context, verification IdentityVerification) error
	GetVerification(ctx context.Context, appointmentID string) (IdentityVerification, error)
}

// SessionRepository stores test sessions. UpdateSession only applies when the
// stored status still equals expected and returns ErrStaleState otherwise.
type SessionRepository interface {
	CreateSession(ctx context.Context, session TestSession) error
	GetSession(ctx context.Context, id string) (TestSession, error)
	FindOpenSession(ctx context.Context, candidateID, configID string) (TestSession, error)
	UpdateSession(ctx context.Context, session TestSession, expected progression.Status) error
}

// ConfigRepository stores test configurations and evaluation criteria.
type ConfigRepository interface {
	UpsertTestConfig(ctx context.Context, config TestConfig) error
	GetTestConfig(ctx context.Context, id string) (TestConfig, error)
	ListTestConfigs(ctx context.Context) ([]TestConfig, error)
	UpsertCriterion(ctx context.Context, criterion EvaluationCriterion) error
	GetCriterion(ctx context.Context, id string) (EvaluationCriterion, error)
	ListCriteria(ctx context.Context, stage progression.Stage, activeOnly bool) ([]EvaluationCriterion, error)
}

// OfficerRepository stores the staff directory.
type OfficerRepository interface {
	UpsertOfficer(ctx context.Context, officer Officer) error
	GetOfficer(ctx context.Context, id string) (Officer, error)
	ListOfficers(ctx context.Context) ([]Officer, error)
}

// AssignmentRepository stores one assignment per session stage.
type AssignmentRepository interface {
	UpsertAssignment(ctx context.Context, assignment OfficerAssignment) error
	GetAssignment(ctx context.Context, sessionID string, stage progression.Stage) (OfficerAssignment, error)
	ListAssignmentsForOfficer(ctx context.Context, officerID string) ([]OfficerAssignment, error)
}

// EvaluationRepository stores checklist submissions. RecordEvaluation writes
// the submission and the session transition atomically; it returns
// ErrDuplicate when the session stage already has a submission and
// ErrStaleState when the session status is no longer expected.
type EvaluationRepository interface {
	RecordEvaluation(ctx context.Context, evaluation StageEvaluation, session TestSession, expected progression.Status) error
	ListEvaluations(ctx context.Context, sessionID string) ([]StageEvaluation, error)
}

// ResitRepository stores resit requests. A session has at most one resit
// request. UpdateResit only applies when the stored status still equals
// expected and returns ErrStaleState otherwise.
type ResitRepository interface {
	CreateResit(ctx context.Context, resit ResitRequest) error
	GetResit(ctx context.Context, id string) (ResitRequest, error)
	UpdateResit(ctx context.Context, resit ResitRequest, expected ResitStatus) error
	FindResitForSession(ctx context.Context, originalSessionID string) (ResitRequest, error)
	FindResitByContinuation(ctx context.Context, sessionID string) (ResitRequest, error)
	ListResits(ctx context.Context, candidateID string) ([]ResitRequest, error)
}
