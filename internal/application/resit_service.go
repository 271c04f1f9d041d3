package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/testcentre/internal/calendar"
	"github.com/example/testcentre/internal/persistence"
	"github.com/example/testcentre/internal/progression"
)

// ResitService runs the resit workflow: request, approval into a new
// appointment and continuation session, listing.
type ResitService struct {
	appointments *AppointmentService
	sessions     persistence.SessionRepository
	configs      persistence.ConfigRepository
	resits       persistence.ResitRepository
	idGenerator  func() string
	now          func() time.Time
	policy       Policy
	logger       *slog.Logger
}

// NewResitService constructs a resit service with the provided dependencies.
func NewResitService(appointments *AppointmentService, sessions persistence.SessionRepository, configs persistence.ConfigRepository, resits persistence.ResitRepository, idGenerator func() string, now func() time.Time, policy Policy) *ResitService {
	return NewResitServiceWithLogger(appointments, sessions, configs, resits, idGenerator, now, policy, nil)
}

// NewResitServiceWithLogger constructs a resit service with a specified logger.
func NewResitServiceWithLogger(appointments *AppointmentService, sessions persistence.SessionRepository, configs persistence.ConfigRepository, resits persistence.ResitRepository, idGenerator func() string, now func() time.Time, policy Policy, logger *slog.Logger) *ResitService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ResitService{
		appointments: appointments,
		sessions:     sessions,
		configs:      configs,
		resits:       resits,
		idGenerator:  idGenerator,
		now:          now,
		policy:       policy.normalized(),
		logger:       defaultLogger(logger),
	}
}

func (s *ResitService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ResitService", operation, attrs...)
}

// Request records a pending resit for the failed stages of a failed session.
func (s *ResitService) Request(ctx context.Context, params RequestResitParams) (resit persistence.ResitRequest, err error) {
	if s == nil {
		err = fmt.Errorf("ResitService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Request",
		"principal_id", params.Principal.ID,
		"session_id", params.OriginalSessionID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to request resit", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("resit_id", resit.ID, "attempt", resit.ResitAttemptNumber).InfoContext(ctx, "resit requested")
	}()

	var original persistence.TestSession
	original, err = s.sessions.GetSession(ctx, params.OriginalSessionID)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if err = authorizeCandidate(params.Principal, original.CandidateID, candidateOrManager...); err != nil {
		return
	}
	if original.Status != progression.StatusFailed {
		err = &ResitNotEligibleError{SessionID: original.ID, Reason: fmt.Sprintf("session is %s, not failed", original.Status)}
		return
	}

	var stages []progression.Stage
	stages, err = parseResitStages(original, params.FailedStages)
	if err != nil {
		return
	}

	vErr := &ValidationError{}
	parsed, parseErr := calendar.ParseDate(params.RequestedDate)
	if parseErr != nil {
		vErr.add("requested_date", "requested date must be YYYY-MM-DD")
	} else if parsed.Format(calendar.DateLayout) < calendar.Today(s.now(), s.policy.Location) {
		vErr.add("requested_date", "requested date is in the past")
	}
	start, end, slotErr := calendar.ParseSlot(params.RequestedSlot)
	if slotErr != nil {
		vErr.add("requested_time_slot", "time slot must be HH:MM-HH:MM")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	_, findErr := s.resits.FindResitForSession(ctx, original.ID)
	switch {
	case findErr == nil:
		err = &ResitNotEligibleError{SessionID: original.ID, Reason: "a resit was already requested for this session"}
		return
	case !errors.Is(findErr, persistence.ErrNotFound):
		err = mapRepoError(findErr)
		return
	}

	attempt := original.Attempt + 1
	if limit := s.resitLimit(ctx, original.ConfigID); attempt > limit {
		err = &ResitNotEligibleError{SessionID: original.ID, Reason: fmt.Sprintf("resit limit of %d reached", limit)}
		return
	}

	now := s.now()
	resit = persistence.ResitRequest{
		ID:                 s.idGenerator(),
		CandidateID:        original.CandidateID,
		OriginalSessionID:  original.ID,
		ResitAttemptNumber: attempt,
		FailedStages:       stages,
		RequestedDate:      parsed.Format(calendar.DateLayout),
		RequestedSlot:      start + "-" + end,
		Reason:             strings.TrimSpace(params.Reason),
		Status:             persistence.ResitPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err = s.resits.CreateResit(ctx, resit); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			err = &ResitNotEligibleError{SessionID: original.ID, Reason: "a resit was already requested for this session"}
			return
		}
		err = mapRepoError(err)
		return
	}
	return
}

func (s *ResitService) resitLimit(ctx context.Context, configID string) int {
	config, err := s.configs.GetTestConfig(ctx, configID)
	if err != nil || config.MaxResits <= 0 {
		return s.policy.MaxResits
	}
	return config.MaxResits
}

// parseResitStages checks that stages is a non-empty set of stages the
// session did not pass, including the first one it did not pass.
func parseResitStages(original persistence.TestSession, values []string) ([]progression.Stage, error) {
	if len(values) == 0 {
		return nil, fieldError("failed_stages", "at least one stage is required")
	}

	seen := make(map[progression.Stage]bool, len(values))
	stages := make([]progression.Stage, 0, len(values))
	for _, value := range values {
		stage, err := progression.ParseStage(value)
		if err != nil {
			return nil, &InvalidStageError{Stage: value}
		}
		if seen[stage] {
			continue
		}
		seen[stage] = true
		if result := original.Result(stage); result != nil && result.Passed {
			return nil, &ResitNotEligibleError{SessionID: original.ID, Reason: fmt.Sprintf("stage %s was already passed", stage)}
		}
		stages = append(stages, stage)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Index() < stages[j].Index() })

	entry := firstUnpassed(original)
	if stages[0] != entry {
		return nil, &ResitNotEligibleError{SessionID: original.ID, Reason: fmt.Sprintf("stage %s must be retaken first", entry)}
	}
	return stages, nil
}

func firstUnpassed(session persistence.TestSession) progression.Stage {
	for _, stage := range progression.Stages() {
		if result := session.Result(stage); result == nil || !result.Passed {
			return stage
		}
	}
	return progression.StageRoad
}

// Approve books the requested slot and opens a continuation session that
// carries the original's passed stages, entering at the first failed stage.
func (s *ResitService) Approve(ctx context.Context, principal Principal, resitID string) (approved ApprovedResit, err error) {
	if s == nil {
		err = fmt.Errorf("ResitService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Approve",
		"principal_id", principal.ID,
		"resit_id", resitID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to approve resit", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("appointment_id", approved.Appointment.ID, "session_id", approved.Session.ID).InfoContext(ctx, "resit approved")
	}()

	if err = authorize(principal, managerRoles...); err != nil {
		return
	}

	var pending persistence.ResitRequest
	pending, err = s.resits.GetResit(ctx, resitID)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if pending.Status != persistence.ResitPending {
		err = &ResitNotEligibleError{SessionID: pending.OriginalSessionID, Reason: fmt.Sprintf("resit is already %s", pending.Status)}
		return
	}

	var original persistence.TestSession
	original, err = s.sessions.GetSession(ctx, pending.OriginalSessionID)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	entry := pending.FailedStages[0]
	var status progression.Status
	status, err = progression.Prerequisite(entry)
	if err != nil {
		err = &InvalidStageError{Stage: string(entry)}
		return
	}

	now := s.now()
	approvedAt := now
	claimed := pending
	claimed.Status = persistence.ResitScheduled
	claimed.AppointmentID = s.idGenerator()
	claimed.ContinuationSessionID = s.idGenerator()
	claimed.ApprovedBy = principal.ID
	claimed.ApprovedAt = &approvedAt
	claimed.UpdatedAt = now

	// Claim the request first so that concurrent approvals cannot both book.
	err = s.resits.UpdateResit(ctx, claimed, persistence.ResitPending)
	if errors.Is(err, persistence.ErrStaleState) {
		err = &ResitNotEligibleError{SessionID: pending.OriginalSessionID, Reason: "resit was approved concurrently"}
		return
	}
	if err != nil {
		err = mapRepoError(err)
		return
	}

	var appointment persistence.Appointment
	appointment, err = s.appointments.book(ctx, bookingRequest{
		ID:          claimed.AppointmentID,
		CandidateID: pending.CandidateID,
		ConfigID:    original.ConfigID,
		Date:        pending.RequestedDate,
		Slot:        pending.RequestedSlot,
		Notes:       fmt.Sprintf("Resit attempt %d of session %s", pending.ResitAttemptNumber, original.ID),
		CreatedBy:   principal.ID,
	})
	if err != nil {
		s.release(ctx, logger, pending, claimed)
		return
	}

	session := persistence.TestSession{
		ID:            claimed.ContinuationSessionID,
		CandidateID:   original.CandidateID,
		ConfigID:      original.ConfigID,
		AppointmentID: appointment.ID,
		Status:        status,
		ResitOf:       original.ID,
		Attempt:       pending.ResitAttemptNumber,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, stage := range progression.Stages() {
		if stage.Index() >= entry.Index() {
			break
		}
		carried := original.Result(stage)
		if carried == nil {
			continue
		}
		copied := *carried
		if copied.CarriedFrom == "" {
			copied.CarriedFrom = original.ID
		}
		session.SetResult(stage, &copied)
	}

	if err = s.sessions.CreateSession(ctx, session); err != nil {
		err = mapRepoError(err)
		if _, cancelErr := s.appointments.transition(ctx, appointment, persistence.AppointmentCancelled, "cancelled"); cancelErr != nil {
			logger.WarnContext(ctx, "failed to cancel resit appointment", "appointment_id", appointment.ID, "error", cancelErr)
		}
		s.appointments.calendar.forget(appointment.Date)
		s.release(ctx, logger, pending, claimed)
		return
	}

	approved = ApprovedResit{Resit: claimed, Appointment: appointment, Session: session}
	return
}

// release returns a claimed resit to pending after a failed approval.
func (s *ResitService) release(ctx context.Context, logger *slog.Logger, pending, claimed persistence.ResitRequest) {
	pending.UpdatedAt = s.now()
	if err := s.resits.UpdateResit(ctx, pending, claimed.Status); err != nil {
		logger.WarnContext(ctx, "failed to release resit claim", "resit_id", pending.ID, "error", err)
	}
}

// Get returns a resit request visible to the principal.
func (s *ResitService) Get(ctx context.Context, principal Principal, resitID string) (persistence.ResitRequest, error) {
	if s == nil {
		return persistence.ResitRequest{}, fmt.Errorf("ResitService is nil")
	}
	resit, err := s.resits.GetResit(ctx, resitID)
	if err != nil {
		return persistence.ResitRequest{}, mapRepoError(err)
	}
	if err := authorizeCandidate(principal, resit.CandidateID, anyRole...); err != nil {
		return persistence.ResitRequest{}, err
	}
	return resit, nil
}

// List returns the caller's resits, or every resit for staff. Staff may
// narrow the listing to one candidate.
func (s *ResitService) List(ctx context.Context, principal Principal, candidateID string) (resits []persistence.ResitRequest, err error) {
	if s == nil {
		err = fmt.Errorf("ResitService is nil")
		return
	}

	logger := s.loggerWith(ctx, "List",
		"principal_id", principal.ID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list resits", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(resits)).DebugContext(ctx, "resits listed")
	}()

	if err = authorize(principal, anyRole...); err != nil {
		return
	}
	candidateID = strings.TrimSpace(candidateID)
	if principal.Role == RoleCandidate {
		if candidateID != "" && candidateID != principal.Candidate() {
			err = ErrUnauthorized
			return
		}
		candidateID = principal.Candidate()
	}

	resits, err = s.resits.ListResits(ctx, candidateID)
	err = mapRepoError(err)
	return
}
