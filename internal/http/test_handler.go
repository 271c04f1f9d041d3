package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/testcentre/internal/application"
	"github.com/example/testcentre/internal/persistence"
)

type sessionService interface {
	Start(ctx context.Context, params application.StartSessionParams) (persistence.TestSession, error)
	Get(ctx context.Context, principal application.Principal, sessionID string) (persistence.TestSession, error)
	SubmitWritten(ctx context.Context, params application.SubmitWrittenParams) (application.StageOutcome, error)
}

type assignmentService interface {
	Assign(ctx context.Context, params application.AssignOfficerParams) (persistence.OfficerAssignment, error)
	MyAssignments(ctx context.Context, principal application.Principal) ([]application.AssignmentView, error)
}

type evaluationService interface {
	Evaluate(ctx context.Context, params application.EvaluateStageParams) (application.StageOutcome, error)
	List(ctx context.Context, principal application.Principal, sessionID string) ([]persistence.StageEvaluation, error)
}

// TestHandler serves the multi-stage test flow: sessions, the written stage,
// officer assignment and checklist evaluation.
type TestHandler struct {
	sessions    sessionService
	assignments assignmentService
	evaluations evaluationService
	responder   responder
	logger      *slog.Logger
}

func NewTestHandler(sessions sessionService, assignments assignmentService, evaluations evaluationService, logger *slog.Logger) *TestHandler {
	base := defaultLogger(logger)
	return &TestHandler{
		sessions:    sessions,
		assignments: assignments,
		evaluations: evaluations,
		responder:   newResponder(base),
		logger:      base,
	}
}

func (h *TestHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "TestHandler", operation, attrs...)
}

func (h *TestHandler) decode(w http.ResponseWriter, r *http.Request, operation string, dst any) bool {
	if err := decodeRequest(w, r, dst); err != nil {
		principal, _ := PrincipalFromContext(r.Context())
		h.log(r.Context(), operation, "principal_id", principal.ID).DebugContext(r.Context(), "invalid request body", "error", err)
		writeDecodeError(r.Context(), h.responder, w, err)
		return false
	}
	return true
}

// Start handles POST /multi-stage-tests/start.
func (h *TestHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, "Start", &req) {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	session, err := h.sessions.Start(r.Context(), application.StartSessionParams{
		Principal:     principal,
		CandidateID:   req.CandidateID,
		ConfigID:      req.TestConfigID,
		AppointmentID: req.AppointmentID,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, sessionResponse{Session: toSessionDTO(session)})
}

// GetSession handles GET /multi-stage-tests/session/{id}.
func (h *TestHandler) GetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	principal, _ := PrincipalFromContext(r.Context())
	session, err := h.sessions.Get(r.Context(), principal, sessionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, sessionResponse{Session: toSessionDTO(session)})
}

// ListEvaluations handles GET /multi-stage-tests/session/{id}/evaluations.
func (h *TestHandler) ListEvaluations(w http.ResponseWriter, r *http.Request, sessionID string) {
	principal, _ := PrincipalFromContext(r.Context())
	evaluations, err := h.evaluations.List(r.Context(), principal, sessionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]evaluationDTO, 0, len(evaluations))
	for _, evaluation := range evaluations {
		out = append(out, toEvaluationDTO(evaluation))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, evaluationsResponse{Evaluations: out})
}

// SubmitWritten handles POST /multi-stage-tests/submit-written.
func (h *TestHandler) SubmitWritten(w http.ResponseWriter, r *http.Request) {
	var req submitWrittenRequest
	if !h.decode(w, r, "SubmitWritten", &req) {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	outcome, err := h.sessions.SubmitWritten(r.Context(), application.SubmitWrittenParams{
		Principal: principal,
		SessionID: req.SessionID,
		Responses: req.Responses,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toStageOutcomeDTO(outcome))
}

// AssignOfficer handles POST /multi-stage-tests/assign-officer.
func (h *TestHandler) AssignOfficer(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !h.decode(w, r, "AssignOfficer", &req) {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	assignment, err := h.assignments.Assign(r.Context(), application.AssignOfficerParams{
		Principal: principal,
		SessionID: req.SessionID,
		Stage:     req.Stage,
		OfficerID: req.OfficerID,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAssignmentDTO(assignment))
}

// MyAssignments handles GET /multi-stage-tests/my-assignments.
func (h *TestHandler) MyAssignments(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	views, err := h.assignments.MyAssignments(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]myAssignmentDTO, 0, len(views))
	for _, view := range views {
		out = append(out, myAssignmentDTO{Assignment: toAssignmentDTO(view.Assignment), Session: toSessionDTO(view.Session)})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, myAssignmentsResponse{Assignments: out})
}

// EvaluateStage handles POST /multi-stage-tests/evaluate-stage.
func (h *TestHandler) EvaluateStage(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !h.decode(w, r, "EvaluateStage", &req) {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	scores := make([]application.CriterionScoreInput, 0, len(req.CriteriaResults))
	for _, result := range req.CriteriaResults {
		scores = append(scores, application.CriterionScoreInput{
			CriterionID: result.CriterionID,
			Points:      result.PointsAwarded,
			Notes:       result.Notes,
		})
	}
	outcome, err := h.evaluations.Evaluate(r.Context(), application.EvaluateStageParams{
		Principal: principal,
		SessionID: req.SessionID,
		Stage:     req.Stage,
		OfficerID: req.OfficerID,
		Scores:    scores,
		Notes:     req.Notes,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toStageOutcomeDTO(outcome))
}

type startRequest struct {
	TestConfigID  string `json:"test_config_id"`
	AppointmentID string `json:"appointment_id"`
	CandidateID   string `json:"candidate_id"`
}

type submitWrittenRequest struct {
	SessionID string            `json:"session_id" validate:"required"`
	Responses map[string]string `json:"responses" validate:"required"`
}

type assignRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Stage     string `json:"stage" validate:"required"`
	OfficerID string `json:"officer_id" validate:"required"`
}

type criterionResultRequest struct {
	CriterionID   string  `json:"criterion_id" validate:"required"`
	PointsAwarded float64 `json:"points_awarded" validate:"gte=0"`
	Notes         string  `json:"notes"`
}

type evaluateRequest struct {
	SessionID       string                   `json:"session_id" validate:"required"`
	Stage           string                   `json:"stage" validate:"required"`
	OfficerID       string                   `json:"officer_id"`
	CriteriaResults []criterionResultRequest `json:"criteria_results" validate:"dive"`
	Notes           string                   `json:"notes"`
}

type stageResultDTO struct {
	Score       float64   `json:"score"`
	Passed      bool      `json:"passed"`
	EvaluatedBy string    `json:"evaluated_by,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	CarriedFrom string    `json:"carried_from,omitempty"`
}

type sessionDTO struct {
	ID            string          `json:"id"`
	CandidateID   string          `json:"candidate_id"`
	TestConfigID  string          `json:"test_config_id"`
	AppointmentID string          `json:"appointment_id"`
	Status        string          `json:"status"`
	WrittenResult *stageResultDTO `json:"written_result"`
	YardResult    *stageResultDTO `json:"yard_result"`
	RoadResult    *stageResultDTO `json:"road_result"`
	FailedStage   string          `json:"failed_stage,omitempty"`
	ResitOf       string          `json:"resit_of,omitempty"`
	Attempt       int             `json:"attempt"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

type sessionResponse struct {
	Session sessionDTO `json:"session"`
}

func toStageResultDTO(result *persistence.StageResult) *stageResultDTO {
	if result == nil {
		return nil
	}
	return &stageResultDTO{
		Score:       result.Score,
		Passed:      result.Passed,
		EvaluatedBy: result.EvaluatedBy,
		EvaluatedAt: result.EvaluatedAt,
		CarriedFrom: result.CarriedFrom,
	}
}

func toSessionDTO(session persistence.TestSession) sessionDTO {
	return sessionDTO{
		ID:            session.ID,
		CandidateID:   session.CandidateID,
		TestConfigID:  session.ConfigID,
		AppointmentID: session.AppointmentID,
		Status:        string(session.Status),
		WrittenResult: toStageResultDTO(session.Written),
		YardResult:    toStageResultDTO(session.Yard),
		RoadResult:    toStageResultDTO(session.Road),
		FailedStage:   string(session.FailedStage),
		ResitOf:       session.ResitOf,
		Attempt:       session.Attempt,
		CreatedAt:     session.CreatedAt,
		UpdatedAt:     session.UpdatedAt,
		CompletedAt:   session.CompletedAt,
	}
}

type criterionScoreDTO struct {
	CriterionID    string  `json:"criterion_id"`
	PointsAwarded  float64 `json:"points_awarded"`
	MaxPoints      float64 `json:"max_points"`
	IsCritical     bool    `json:"is_critical"`
	CriticalFailed bool    `json:"critical_failed"`
	Notes          string  `json:"notes,omitempty"`
}

type evaluationDTO struct {
	ID             string              `json:"id"`
	SessionID      string              `json:"session_id"`
	Stage          string              `json:"stage"`
	OfficerID      string              `json:"officer_id"`
	CriteriaScores []criterionScoreDTO `json:"criteria_scores"`
	Awarded        float64             `json:"awarded"`
	Possible       float64             `json:"possible"`
	ComputedScore  float64             `json:"computed_score"`
	CriticalPassed bool                `json:"critical_passed"`
	Passed         bool                `json:"passed"`
	Notes          string              `json:"notes,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

type evaluationsResponse struct {
	Evaluations []evaluationDTO `json:"evaluations"`
}

func toEvaluationDTO(evaluation persistence.StageEvaluation) evaluationDTO {
	scores := make([]criterionScoreDTO, 0, len(evaluation.Scores))
	for _, score := range evaluation.Scores {
		scores = append(scores, criterionScoreDTO{
			CriterionID:    score.CriterionID,
			PointsAwarded:  score.PointsAwarded,
			MaxPoints:      score.MaxPoints,
			IsCritical:     score.IsCritical,
			CriticalFailed: score.CriticalFailed,
			Notes:          score.Notes,
		})
	}
	return evaluationDTO{
		ID:             evaluation.ID,
		SessionID:      evaluation.SessionID,
		Stage:          string(evaluation.Stage),
		OfficerID:      evaluation.OfficerID,
		CriteriaScores: scores,
		Awarded:        evaluation.Awarded,
		Possible:       evaluation.Possible,
		ComputedScore:  evaluation.ComputedScore,
		CriticalPassed: evaluation.CriticalPassed,
		Passed:         evaluation.Passed,
		Notes:          evaluation.Notes,
		CreatedAt:      evaluation.CreatedAt,
	}
}

type stageOutcomeDTO struct {
	Session    sessionDTO     `json:"session"`
	Stage      string         `json:"stage"`
	Score      float64        `json:"score"`
	Passed     bool           `json:"passed"`
	Evaluation *evaluationDTO `json:"evaluation,omitempty"`
}

func toStageOutcomeDTO(outcome application.StageOutcome) stageOutcomeDTO {
	dto := stageOutcomeDTO{
		Session: toSessionDTO(outcome.Session),
		Stage:   string(outcome.Stage),
		Score:   outcome.Score,
		Passed:  outcome.Passed,
	}
	if outcome.Evaluation != nil {
		evaluation := toEvaluationDTO(*outcome.Evaluation)
		dto.Evaluation = &evaluation
	}
	return dto
}

type assignmentDTO struct {
	SessionID  string    `json:"session_id"`
	Stage      string    `json:"stage"`
	OfficerID  string    `json:"officer_id"`
	AssignedBy string    `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`
}

func toAssignmentDTO(assignment persistence.OfficerAssignment) assignmentDTO {
	return assignmentDTO{
		SessionID:  assignment.SessionID,
		Stage:      string(assignment.Stage),
		OfficerID:  assignment.OfficerID,
		AssignedBy: assignment.AssignedBy,
		AssignedAt: assignment.AssignedAt,
	}
}

type myAssignmentDTO struct {
	Assignment assignmentDTO `json:"assignment"`
	Session    sessionDTO    `json:"session"`
}

type myAssignmentsResponse struct {
	Assignments []myAssignmentDTO `json:"assignments"`
}
