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

// EvaluationService applies officer checklists to practical stages.
type EvaluationService struct {
	appointments *AppointmentService
	sessions     persistence.SessionRepository
	configs      persistence.ConfigRepository
	assignments  persistence.AssignmentRepository
	evaluations  persistence.EvaluationRepository
	closer       sessionCloser
	idGenerator  func() string
	now          func() time.Time
	policy       Policy
	logger       *slog.Logger
}

// NewEvaluationService constructs an evaluation service with the provided dependencies.
func NewEvaluationService(appointments *AppointmentService, sessions persistence.SessionRepository, configs persistence.ConfigRepository, assignments persistence.AssignmentRepository, evaluations persistence.EvaluationRepository, resits persistence.ResitRepository, idGenerator func() string, now func() time.Time, policy Policy) *EvaluationService {
	return NewEvaluationServiceWithLogger(appointments, sessions, configs, assignments, evaluations, resits, idGenerator, now, policy, nil)
}

// NewEvaluationServiceWithLogger constructs an evaluation service with a specified logger.
func NewEvaluationServiceWithLogger(appointments *AppointmentService, sessions persistence.SessionRepository, configs persistence.ConfigRepository, assignments persistence.AssignmentRepository, evaluations persistence.EvaluationRepository, resits persistence.ResitRepository, idGenerator func() string, now func() time.Time, policy Policy, logger *slog.Logger) *EvaluationService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &EvaluationService{
		appointments: appointments,
		sessions:     sessions,
		configs:      configs,
		assignments:  assignments,
		evaluations:  evaluations,
		closer:       sessionCloser{appointments: appointments, resits: resits, now: now},
		idGenerator:  idGenerator,
		now:          now,
		policy:       policy.normalized(),
		logger:       defaultLogger(logger),
	}
}

func (s *EvaluationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "EvaluationService", operation, attrs...)
}

// Evaluate scores a practical stage from the assigned officer's checklist and
// advances the session. The evaluation is stored once per session stage.
func (s *EvaluationService) Evaluate(ctx context.Context, params EvaluateStageParams) (outcome StageOutcome, err error) {
	if s == nil {
		err = fmt.Errorf("EvaluationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Evaluate",
		"principal_id", params.Principal.ID,
		"session_id", params.SessionID,
		"stage", params.Stage,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to evaluate stage", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("score", outcome.Score, "passed", outcome.Passed, "status", outcome.Session.Status).InfoContext(ctx, "stage evaluated")
	}()

	if err = authorize(params.Principal, staffRoles...); err != nil {
		return
	}

	var stage progression.Stage
	stage, err = practicalStage(params.Stage)
	if err != nil {
		return
	}

	var session persistence.TestSession
	session, err = s.sessions.GetSession(ctx, params.SessionID)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if err = notReady(session, stage); err != nil {
		return
	}

	var assignment persistence.OfficerAssignment
	assignment, err = s.assignments.GetAssignment(ctx, session.ID, stage)
	if errors.Is(err, persistence.ErrNotFound) {
		err = &AssignmentRequiredError{SessionID: session.ID, Stage: stage}
		return
	}
	if err != nil {
		err = mapRepoError(err)
		return
	}
	officerID := strings.TrimSpace(params.OfficerID)
	if params.Principal.Role == RoleOfficer {
		if officerID != "" && officerID != params.Principal.ID {
			err = ErrUnauthorized
			return
		}
		officerID = params.Principal.ID
	}
	if officerID == "" {
		officerID = assignment.OfficerID
	}
	if officerID != assignment.OfficerID {
		err = ErrUnauthorized
		return
	}

	if err = gateFor(ctx, s.appointments.appointments, session.AppointmentID, calendar.Today(s.now(), s.policy.Location)); err != nil {
		return
	}

	var config persistence.TestConfig
	config, err = s.configs.GetTestConfig(ctx, session.ConfigID)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	var criteria []persistence.EvaluationCriterion
	criteria, err = s.configs.ListCriteria(ctx, stage, true)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	var result progression.ChecklistResult
	result, err = progression.ScoreChecklist(toCriteria(criteria), toAwards(params.Scores), config.PassMark(stage), s.policy.CriticalMinRatio)
	if err != nil {
		err = checklistError(err)
		return
	}

	now := s.now()
	evaluation := persistence.StageEvaluation{
		ID:             s.idGenerator(),
		SessionID:      session.ID,
		Stage:          stage,
		OfficerID:      officerID,
		Scores:         toCriterionScores(result.Lines),
		Awarded:        result.Awarded,
		Possible:       result.Possible,
		ComputedScore:  result.Score,
		CriticalPassed: result.CriticalPassed,
		Passed:         result.Passed,
		Notes:          strings.TrimSpace(params.Notes),
		CreatedAt:      now,
	}
	var updated persistence.TestSession
	updated, err = stageTransition(session, stage, persistence.StageResult{
		Score:       result.Score,
		Passed:      result.Passed,
		EvaluatedBy: officerID,
		EvaluatedAt: now,
	}, now)
	if err != nil {
		return
	}
	err = s.evaluations.RecordEvaluation(ctx, evaluation, updated, session.Status)
	if errors.Is(err, persistence.ErrDuplicate) || errors.Is(err, persistence.ErrStaleState) {
		session, err = staleSession(ctx, s.sessions, session, stage)
		return
	}
	if err != nil {
		err = mapRepoError(err)
		return
	}
	session = updated
	s.closer.close(ctx, logger, session)

	outcome = StageOutcome{Session: session, Stage: stage, Score: result.Score, Passed: result.Passed, Evaluation: &evaluation}
	return
}

// List returns the evaluations recorded for a session.
func (s *EvaluationService) List(ctx context.Context, principal Principal, sessionID string) ([]persistence.StageEvaluation, error) {
	if s == nil {
		return nil, fmt.Errorf("EvaluationService is nil")
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if err := authorizeCandidate(principal, session.CandidateID, anyRole...); err != nil {
		return nil, err
	}
	evaluations, err := s.evaluations.ListEvaluations(ctx, session.ID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return evaluations, nil
}

func toCriteria(criteria []persistence.EvaluationCriterion) []progression.Criterion {
	out := make([]progression.Criterion, 0, len(criteria))
	for _, c := range criteria {
		out = append(out, progression.Criterion{ID: c.ID, Name: c.Name, MaxPoints: c.MaxPoints, Critical: c.IsCritical})
	}
	return out
}

func toAwards(scores []CriterionScoreInput) []progression.Award {
	out := make([]progression.Award, 0, len(scores))
	for _, score := range scores {
		out = append(out, progression.Award{
			CriterionID: strings.TrimSpace(score.CriterionID),
			Points:      score.Points,
			Notes:       strings.TrimSpace(score.Notes),
		})
	}
	return out
}

func toCriterionScores(lines []progression.Line) []persistence.CriterionScore {
	out := make([]persistence.CriterionScore, 0, len(lines))
	for _, line := range lines {
		out = append(out, persistence.CriterionScore{
			CriterionID:    line.CriterionID,
			PointsAwarded:  line.Awarded,
			MaxPoints:      line.MaxPoints,
			IsCritical:     line.Critical,
			CriticalFailed: line.CriticalFailed,
			Notes:          line.Notes,
		})
	}
	return out
}

func checklistError(err error) error {
	if errors.Is(err, progression.ErrNoCriteria) {
		return fieldError("criteria_results", "no active criteria are defined for this stage")
	}
	var awardErr *progression.AwardError
	if errors.As(err, &awardErr) {
		return fieldError(fmt.Sprintf("criteria_results[%s]", awardErr.CriterionID), awardErr.Reason)
	}
	return err
}
