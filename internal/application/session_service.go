package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/testcentre/internal/calendar"
	"github.com/example/testcentre/internal/persistence"
	"github.com/example/testcentre/internal/progression"
)

// WrittenScorer scores written-test responses against a configuration.
type WrittenScorer interface {
	ScoreWritten(ctx context.Context, config persistence.TestConfig, responses map[string]string) (progression.WrittenResult, error)
}

// AnswerKeyScorer compares responses with the configuration's answer key.
type AnswerKeyScorer struct{}

// ScoreWritten implements WrittenScorer.
func (AnswerKeyScorer) ScoreWritten(_ context.Context, config persistence.TestConfig, responses map[string]string) (progression.WrittenResult, error) {
	return progression.ScoreWritten(config.AnswerKey, responses, config.WrittenPassMark)
}

// SessionService opens test sessions and scores the written stage.
type SessionService struct {
	appointments *AppointmentService
	sessions     persistence.SessionRepository
	configs      persistence.ConfigRepository
	closer       sessionCloser
	scorer       WrittenScorer
	idGenerator  func() string
	now          func() time.Time
	location     *time.Location
	logger       *slog.Logger
}

// NewSessionService constructs a session service with the provided dependencies.
func NewSessionService(appointments *AppointmentService, sessions persistence.SessionRepository, configs persistence.ConfigRepository, resits persistence.ResitRepository, scorer WrittenScorer, idGenerator func() string, now func() time.Time, policy Policy) *SessionService {
	return NewSessionServiceWithLogger(appointments, sessions, configs, resits, scorer, idGenerator, now, policy, nil)
}

// NewSessionServiceWithLogger constructs a session service with a specified logger.
func NewSessionServiceWithLogger(appointments *AppointmentService, sessions persistence.SessionRepository, configs persistence.ConfigRepository, resits persistence.ResitRepository, scorer WrittenScorer, idGenerator func() string, now func() time.Time, policy Policy, logger *slog.Logger) *SessionService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if scorer == nil {
		scorer = AnswerKeyScorer{}
	}
	return &SessionService{
		appointments: appointments,
		sessions:     sessions,
		configs:      configs,
		closer:       sessionCloser{appointments: appointments, resits: resits, now: now},
		scorer:       scorer,
		idGenerator:  idGenerator,
		now:          now,
		location:     policy.normalized().Location,
		logger:       defaultLogger(logger),
	}
}

func (s *SessionService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "SessionService", operation, attrs...)
}

func (s *SessionService) today() string {
	return calendar.Today(s.now(), s.location)
}

// Start opens the session for a verified appointment on its date. An open
// session for the same candidate and configuration is returned instead of
// creating a second one.
func (s *SessionService) Start(ctx context.Context, params StartSessionParams) (session persistence.TestSession, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}

	candidateID := strings.TrimSpace(params.CandidateID)
	if candidateID == "" {
		candidateID = params.Principal.Candidate()
	}

	logger := s.loggerWith(ctx, "Start",
		"principal_id", params.Principal.ID,
		"candidate_id", candidateID,
		"appointment_id", params.AppointmentID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to start session", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("session_id", session.ID, "status", session.Status).InfoContext(ctx, "session started")
	}()

	if err = authorizeCandidate(params.Principal, candidateID, candidateOrManager...); err != nil {
		return
	}

	today := s.today()
	var appointment persistence.Appointment
	appointment, err = s.locateAppointment(ctx, candidateID, strings.TrimSpace(params.ConfigID), strings.TrimSpace(params.AppointmentID), today)
	if err != nil {
		return
	}
	if err = authorizeCandidate(params.Principal, appointment.CandidateID, candidateOrManager...); err != nil {
		return
	}
	if params.ConfigID != "" && strings.TrimSpace(params.ConfigID) != appointment.ConfigID {
		err = fieldError("test_config_id", "appointment was booked for a different test configuration")
		return
	}
	if err = checkGate(appointment, today); err != nil {
		return
	}

	session, err = s.sessions.FindOpenSession(ctx, appointment.CandidateID, appointment.ConfigID)
	if err == nil {
		return
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		err = mapRepoError(err)
		return
	}

	now := s.now()
	session = persistence.TestSession{
		ID:            s.idGenerator(),
		CandidateID:   appointment.CandidateID,
		ConfigID:      appointment.ConfigID,
		AppointmentID: appointment.ID,
		Status:        progression.StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err = s.sessions.CreateSession(ctx, session); err != nil {
		err = mapRepoError(err)
		return
	}
	return
}

func (s *SessionService) locateAppointment(ctx context.Context, candidateID, configID, appointmentID, today string) (persistence.Appointment, error) {
	if appointmentID != "" {
		appointment, err := s.appointments.appointments.GetAppointment(ctx, appointmentID)
		if err != nil {
			return persistence.Appointment{}, mapRepoError(err)
		}
		return appointment, nil
	}
	if candidateID == "" {
		return persistence.Appointment{}, fieldError("appointment_id", "appointment_id or candidate_id is required")
	}

	candidates, err := s.appointments.appointments.ListAppointments(ctx, persistence.AppointmentFilter{CandidateID: candidateID, Date: today})
	if err != nil {
		return persistence.Appointment{}, mapRepoError(err)
	}
	for _, appointment := range candidates {
		if !movable(appointment.Status) {
			continue
		}
		if configID != "" && appointment.ConfigID != configID {
			continue
		}
		return appointment, nil
	}
	return persistence.Appointment{}, &VerificationRequiredError{Today: today, Reason: "no appointment is scheduled for today"}
}

// Get returns a session visible to the principal.
func (s *SessionService) Get(ctx context.Context, principal Principal, sessionID string) (persistence.TestSession, error) {
	if s == nil {
		return persistence.TestSession{}, fmt.Errorf("SessionService is nil")
	}
	if err := authorize(principal, anyRole...); err != nil {
		return persistence.TestSession{}, err
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return persistence.TestSession{}, mapRepoError(err)
	}
	if err := authorizeCandidate(principal, session.CandidateID, anyRole...); err != nil {
		return persistence.TestSession{}, err
	}
	return session, nil
}

// SubmitWritten scores the written stage and advances the session.
func (s *SessionService) SubmitWritten(ctx context.Context, params SubmitWrittenParams) (outcome StageOutcome, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}

	logger := s.loggerWith(ctx, "SubmitWritten",
		"principal_id", params.Principal.ID,
		"session_id", params.SessionID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to score written stage", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("score", outcome.Score, "passed", outcome.Passed, "status", outcome.Session.Status).InfoContext(ctx, "written stage scored")
	}()

	var session persistence.TestSession
	session, err = s.sessions.GetSession(ctx, params.SessionID)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if err = authorizeCandidate(params.Principal, session.CandidateID, candidateOrManager...); err != nil {
		return
	}
	if err = notReady(session, progression.StageWritten); err != nil {
		return
	}
	if err = gateFor(ctx, s.appointments.appointments, session.AppointmentID, s.today()); err != nil {
		return
	}

	var config persistence.TestConfig
	config, err = s.configs.GetTestConfig(ctx, session.ConfigID)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	var result progression.WrittenResult
	result, err = s.scorer.ScoreWritten(ctx, config, params.Responses)
	if errors.Is(err, progression.ErrEmptyAnswerKey) {
		err = fieldError("answer_key", "test configuration has no written questions")
		return
	}
	if err != nil {
		return
	}

	session, err = advanceSession(ctx, s.sessions, session, progression.StageWritten, persistence.StageResult{
		Score:       result.Score,
		Passed:      result.Passed,
		EvaluatedBy: params.Principal.ID,
		EvaluatedAt: s.now(),
	}, s.now())
	if err != nil {
		return
	}
	s.closer.close(ctx, logger, session)

	outcome = StageOutcome{Session: session, Stage: progression.StageWritten, Score: result.Score, Passed: result.Passed}
	return
}

// notReady returns SessionNotReadyError unless stage is next for the session.
func notReady(session persistence.TestSession, stage progression.Stage) error {
	if err := progression.CanScore(session.Status, stage); err != nil {
		if errors.Is(err, progression.ErrInvalidStage) {
			return &InvalidStageError{Stage: string(stage)}
		}
		required, _ := progression.Prerequisite(stage)
		return &SessionNotReadyError{SessionID: session.ID, Status: session.Status, Stage: stage, Required: required}
	}
	return nil
}

// advanceSession applies a stage result through the transition table and
// writes it with compare-and-set on the prior status.
func advanceSession(ctx context.Context, sessions persistence.SessionRepository, session persistence.TestSession, stage progression.Stage, result persistence.StageResult, now time.Time) (persistence.TestSession, error) {
	updated, err := stageTransition(session, stage, result, now)
	if err != nil {
		return session, err
	}

	err = sessions.UpdateSession(ctx, updated, session.Status)
	if errors.Is(err, persistence.ErrStaleState) {
		return staleSession(ctx, sessions, session, stage)
	}
	if err != nil {
		return session, mapRepoError(err)
	}
	return updated, nil
}

// stageTransition returns the session as it reads after stage is scored.
func stageTransition(session persistence.TestSession, stage progression.Stage, result persistence.StageResult, now time.Time) (persistence.TestSession, error) {
	next, err := progression.Advance(session.Status, stage, result.Passed)
	if err != nil {
		return session, notReady(session, stage)
	}

	updated := session
	updated.Status = next
	updated.SetResult(stage, &result)
	updated.UpdatedAt = now
	if !result.Passed {
		updated.FailedStage = stage
	}
	if next.Terminal() {
		completedAt := now
		updated.CompletedAt = &completedAt
	}
	return updated, nil
}

// staleSession reloads a session that lost a compare-and-set and reports why
// stage can no longer be taken.
func staleSession(ctx context.Context, sessions persistence.SessionRepository, session persistence.TestSession, stage progression.Stage) (persistence.TestSession, error) {
	current, err := sessions.GetSession(ctx, session.ID)
	if err != nil {
		return session, mapRepoError(err)
	}
	if err := notReady(current, stage); err != nil {
		return current, err
	}
	return current, &SessionNotReadyError{SessionID: current.ID, Status: current.Status, Stage: stage}
}

// sessionCloser settles the records that depend on a session once it
// reaches a terminal status.
type sessionCloser struct {
	appointments *AppointmentService
	resits       persistence.ResitRepository
	now          func() time.Time
}

func (c sessionCloser) close(ctx context.Context, logger *slog.Logger, session persistence.TestSession) {
	if !session.Status.Terminal() {
		return
	}
	if c.appointments != nil && session.AppointmentID != "" {
		if err := c.appointments.complete(ctx, session.AppointmentID); err != nil {
			logger.WarnContext(ctx, "failed to complete appointment", "appointment_id", session.AppointmentID, "error", err)
		}
	}
	if c.resits == nil || session.ResitOf == "" {
		return
	}

	resit, err := c.resits.FindResitByContinuation(ctx, session.ID)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			logger.WarnContext(ctx, "failed to load resit for continuation", "error", err)
		}
		return
	}
	if resit.Status != persistence.ResitScheduled {
		return
	}
	now := c.now()
	resit.Status = persistence.ResitCompleted
	resit.CompletedAt = &now
	resit.UpdatedAt = now
	if err := c.resits.UpdateResit(ctx, resit, persistence.ResitScheduled); err != nil && !errors.Is(err, persistence.ErrStaleState) {
		logger.WarnContext(ctx, "failed to complete resit", "resit_id", resit.ID, "error", err)
	}
}
