package application

import (
	"time"

	"github.com/example/testcentre/internal/calendar"
	"github.com/example/testcentre/internal/persistence"
	"github.com/example/testcentre/internal/progression"
)

// Role is the capability class of an authenticated principal.
type Role string

const (
	RoleCandidate     Role = "candidate"
	RoleOfficer       Role = "officer"
	RoleManager       Role = "manager"
	RoleAdministrator Role = "administrator"
)

// Principal represents the authenticated caller invoking a service method.
type Principal struct {
	ID   string
	Role Role
	// CandidateID links a candidate principal to its candidate record. It
	// defaults to ID when empty.
	CandidateID string
}

// Candidate returns the candidate identity of a candidate principal.
func (p Principal) Candidate() string {
	if p.Role != RoleCandidate {
		return ""
	}
	if p.CandidateID != "" {
		return p.CandidateID
	}
	return p.ID
}

// Policy carries the tunables shared by the test-day services.
type Policy struct {
	// Location defines the civil "today" used by the verification gate.
	Location *time.Location
	// CriticalMinRatio is the share of a critical criterion's maximum that
	// must be awarded for the stage to pass.
	CriticalMinRatio float64
	// MaxResits applies to test configurations that do not set their own limit.
	MaxResits int
}

func (p Policy) normalized() Policy {
	if p.Location == nil {
		p.Location = time.UTC
	}
	if p.CriticalMinRatio <= 0 || p.CriticalMinRatio > 1 {
		p.CriticalMinRatio = progression.DefaultCriticalMinRatio
	}
	if p.MaxResits <= 0 {
		p.MaxResits = 3
	}
	return p
}

// DayAvailability is the slot calendar for one date.
type DayAvailability struct {
	Date    string
	Weekday time.Weekday
	Holiday string
	Slots   []calendar.Availability
}

// ReplaceTemplateParams replaces the slot list of a weekday.
type ReplaceTemplateParams struct {
	Principal Principal
	Weekday   int // 0 is Monday, 6 is Sunday
	Slots     []calendar.TemplateSlot
}

// CreateHolidayParams declares a holiday.
type CreateHolidayParams struct {
	Principal Principal
	Date      string
	Name      string
}

// BookAppointmentParams wraps the data required to book an appointment.
// CandidateID defaults to the caller for candidate principals.
type BookAppointmentParams struct {
	Principal   Principal
	CandidateID string
	ConfigID    string
	Date        string
	Slot        string
	Notes       string
}

// RescheduleParams moves an appointment to another slot.
type RescheduleParams struct {
	Principal     Principal
	AppointmentID string
	NewDate       string
	NewSlot       string
	Reason        string
	Notes         string
}

// ListAppointmentsParams filters appointment listings.
type ListAppointmentsParams struct {
	Principal   Principal
	CandidateID string
	Date        string
	Status      string
}

// PhotoInput is one identity photo supplied at verification time. Only its
// digest is stored.
type PhotoInput struct {
	Kind  string
	Data  []byte
	Notes string
}

// VerifyIdentityParams records an officer's identity check.
type VerifyIdentityParams struct {
	Principal              Principal
	AppointmentID          string
	DocumentType           string
	DocumentNumber         string
	Photos                 []PhotoInput
	DocumentMatchConfirmed *bool
	PhotoMatchConfirmed    *bool
	Notes                  string
}

// StartSessionParams opens the test session for an appointment. When
// AppointmentID is empty the candidate's appointment for today is used.
type StartSessionParams struct {
	Principal     Principal
	CandidateID   string
	ConfigID      string
	AppointmentID string
}

// SubmitWrittenParams carries the written-test responses keyed by question.
type SubmitWrittenParams struct {
	Principal Principal
	SessionID string
	Responses map[string]string
}

// StageOutcome is the result of scoring one stage.
type StageOutcome struct {
	Session    persistence.TestSession
	Stage      progression.Stage
	Score      float64
	Passed     bool
	Evaluation *persistence.StageEvaluation
}

// AssignOfficerParams assigns an evaluator to a practical stage.
type AssignOfficerParams struct {
	Principal Principal
	SessionID string
	Stage     string
	OfficerID string
}

// AssignmentView pairs an assignment with the session awaiting it.
type AssignmentView struct {
	Assignment persistence.OfficerAssignment
	Session    persistence.TestSession
}

// CriterionScoreInput is one awarded checklist line.
type CriterionScoreInput struct {
	CriterionID string
	Points      float64
	Notes       string
}

// EvaluateStageParams submits a checklist for a practical stage. OfficerID
// defaults to the caller for officers and to the assigned officer otherwise.
type EvaluateStageParams struct {
	Principal Principal
	SessionID string
	Stage     string
	OfficerID string
	Scores    []CriterionScoreInput
	Notes     string
}

// RequestResitParams asks to retake the failed stages of a session.
type RequestResitParams struct {
	Principal         Principal
	OriginalSessionID string
	FailedStages      []string
	RequestedDate     string
	RequestedSlot     string
	Reason            string
}

// ApprovedResit is the outcome of approving a resit.
type ApprovedResit struct {
	Resit       persistence.ResitRequest
	Appointment persistence.Appointment
	Session     persistence.TestSession
}

// TestConfigParams creates or updates a test configuration. Nil pass marks
// default to 75.
type TestConfigParams struct {
	Principal       Principal
	ID              string
	Name            string
	WrittenPassMark *float64
	YardPassMark    *float64
	RoadPassMark    *float64
	AnswerKey       map[string]string
	MaxResits       *int
	IsActive        *bool
}

// CriterionParams creates or updates an evaluation criterion.
type CriterionParams struct {
	Principal   Principal
	ID          string
	Stage       string
	Name        string
	Description string
	MaxPoints   float64
	IsCritical  bool
	IsActive    *bool
}

// OfficerParams creates or updates a staff directory entry.
type OfficerParams struct {
	Principal Principal
	ID        string
	Name      string
	Role      string
	IsActive  *bool
}
