package persistence

import (
	"time"

	"github.com/example/testcentre/internal/calendar"
	"github.com/example/testcentre/internal/progression"
)

// ScheduleTemplate is the ordered slot list offered on one weekday.
type ScheduleTemplate struct {
	Weekday   time.Weekday
	Slots     []calendar.TemplateSlot
	UpdatedAt time.Time
}

// Holiday blocks every slot on its date.
type Holiday struct {
	Date      string
	Name      string
	CreatedAt time.Time
}

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentCompleted AppointmentStatus = "completed"
)

// VerificationStatus is the identity gate state of an appointment.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

// Appointment books one candidate into a dated slot.
type Appointment struct {
	ID                 string
	CandidateID        string
	ConfigID           string
	Date               string
	Slot               string
	Status             AppointmentStatus
	VerificationStatus VerificationStatus
	Notes              string
	CreatedBy          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Live reports whether the appointment occupies capacity.
func (a Appointment) Live() bool {
	return a.Status != AppointmentCancelled
}

// AppointmentMove describes a reschedule of an existing appointment. History
// is stored alongside the move; its original date and slot are filled from
// the row being moved.
type AppointmentMove struct {
	ID        string
	Date      string
	Slot      string
	Notes     string
	UpdatedAt time.Time
	History   RescheduleRecord
}

// RescheduleRecord is one entry of an appointment's reschedule history.
type RescheduleRecord struct {
	ID            string
	AppointmentID string
	OriginalDate  string
	OriginalSlot  string
	NewDate       string
	NewSlot       string
	Reason        string
	Notes         string
	RescheduledBy string
	RescheduledAt time.Time
}

// AppointmentFilter narrows appointment listings. Empty fields match all.
type AppointmentFilter struct {
	CandidateID string
	Date        string
	Status      AppointmentStatus
}

// PhotoEvidence records an identity photo by digest; image bytes are not kept.
type PhotoEvidence struct {
	Kind   string
	Digest string
	Notes  string
}

// IdentityVerification is the single active verification record of an
// appointment.
type IdentityVerification struct {
	AppointmentID          string
	CandidateID            string
	DocumentType           string
	DocumentNumber         string
	Photos                 []PhotoEvidence
	DocumentMatchConfirmed *bool
	PhotoMatchConfirmed    *bool
	Outcome                VerificationStatus
	Notes                  string
	VerifiedBy             string
	VerifiedAt             time.Time
}

// StageResult is the recorded outcome of one stage of a session.
type StageResult struct {
	Score       float64
	Passed      bool
	EvaluatedBy string
	EvaluatedAt time.Time
	// CarriedFrom names the session the result was copied from when a
	// continuation session inherits a passed stage.
	CarriedFrom string
}

// TestSession tracks one candidate's progression through the stages.
type TestSession struct {
	ID            string
	CandidateID   string
	ConfigID      string
	AppointmentID string
	Status        progression.Status
	Written       *StageResult
	Yard          *StageResult
	Road          *StageResult
	FailedStage   progression.Stage
	ResitOf       string
	Attempt       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// Result returns the recorded result of stage, or nil.
func (s TestSession) Result(stage progression.Stage) *StageResult {
	switch stage {
	case progression.StageWritten:
		return s.Written
	case progression.StageYard:
		return s.Yard
	case progression.StageRoad:
		return s.Road
	}
	return nil
}

// SetResult stores the result of stage on the session.
func (s *TestSession) SetResult(stage progression.Stage, result *StageResult) {
	switch stage {
	case progression.StageWritten:
		s.Written = result
	case progression.StageYard:
		s.Yard = result
	case progression.StageRoad:
		s.Road = result
	}
}

// TestConfig holds the pass marks and answer key of a multi-stage test.
type TestConfig struct {
	ID              string
	Name            string
	WrittenPassMark float64
	YardPassMark    float64
	RoadPassMark    float64
	AnswerKey       map[string]string
	MaxResits       int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PassMark returns the configured pass mark for stage.
func (c TestConfig) PassMark(stage progression.Stage) float64 {
	switch stage {
	case progression.StageWritten:
		return c.WrittenPassMark
	case progression.StageYard:
		return c.YardPassMark
	case progression.StageRoad:
		return c.RoadPassMark
	}
	return 0
}

// EvaluationCriterion is one checklist item of a practical stage.
type EvaluationCriterion struct {
	ID          string
	Stage       progression.Stage
	Name        string
	Description string
	MaxPoints   float64
	IsCritical  bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OfficerRole distinguishes staff capabilities.
type OfficerRole string

const (
	RoleOfficer       OfficerRole = "officer"
	RoleManager       OfficerRole = "manager"
	RoleAdministrator OfficerRole = "administrator"
)

// Officer is a staff member who may be assigned to evaluate stages.
type Officer struct {
	ID        string
	Name      string
	Role      OfficerRole
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OfficerAssignment is the single active evaluator of a session stage.
type OfficerAssignment struct {
	SessionID  string
	Stage      progression.Stage
	OfficerID  string
	AssignedBy string
	AssignedAt time.Time
}

// CriterionScore is one line of a submitted checklist.
type CriterionScore struct {
	CriterionID    string
	PointsAwarded  float64
	MaxPoints      float64
	IsCritical     bool
	CriticalFailed bool
	Notes          string
}

// StageEvaluation is the immutable checklist submission for a session stage.
type StageEvaluation struct {
	ID             string
	SessionID      string
	Stage          progression.Stage
	OfficerID      string
	Scores         []CriterionScore
	Awarded        float64
	Possible       float64
	ComputedScore  float64
	CriticalPassed bool
	Passed         bool
	Notes          string
	CreatedAt      time.Time
}

// ResitStatus is the lifecycle state of a resit request.
type ResitStatus string

const (
	ResitPending   ResitStatus = "pending"
	ResitScheduled ResitStatus = "scheduled"
	ResitCompleted ResitStatus = "completed"
)

// ResitRequest asks to retake the failed stages of a session.
type ResitRequest struct {
	ID                    string
	CandidateID           string
	OriginalSessionID     string
	ResitAttemptNumber    int
	FailedStages          []progression.Stage
	RequestedDate         string
	RequestedSlot         string
	Reason                string
	Status                ResitStatus
	AppointmentID         string
	ContinuationSessionID string
	ApprovedBy            string
	ApprovedAt            *time.Time
	CompletedAt           *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
