package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/testcentre/internal/application"
	"github.com/example/testcentre/internal/persistence"
)

type resitService interface {
	Request(ctx context.Context, params application.RequestResitParams) (persistence.ResitRequest, error)
	Approve(ctx context.Context, principal application.Principal, resitID string) (application.ApprovedResit, error)
	Get(ctx context.Context, principal application.Principal, resitID string) (persistence.ResitRequest, error)
	List(ctx context.Context, principal application.Principal, candidateID string) ([]persistence.ResitRequest, error)
}

// ResitHandler serves resit requests and their approval.
type ResitHandler struct {
	service   resitService
	responder responder
	logger    *slog.Logger
}

func NewResitHandler(service resitService, logger *slog.Logger) *ResitHandler {
	base := defaultLogger(logger)
	return &ResitHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ResitHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "ResitHandler", operation, attrs...)
}

// Request handles POST /resits/request.
func (h *ResitHandler) Request(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req resitRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.log(r.Context(), "Request", "principal_id", principal.ID).DebugContext(r.Context(), "invalid resit request", "error", err)
		writeDecodeError(r.Context(), h.responder, w, err)
		return
	}

	resit, err := h.service.Request(r.Context(), application.RequestResitParams{
		Principal:         principal,
		OriginalSessionID: req.OriginalSessionID,
		FailedStages:      req.FailedStages,
		RequestedDate:     req.RequestedDate,
		RequestedSlot:     req.RequestedTimeSlot,
		Reason:            req.Reason,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toResitDTO(resit))
}

// List handles GET /resits?candidate_id=.
func (h *ResitHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	candidateID := strings.TrimSpace(r.URL.Query().Get("candidate_id"))

	resits, err := h.service.List(r.Context(), principal, candidateID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]resitDTO, 0, len(resits))
	for _, resit := range resits {
		out = append(out, toResitDTO(resit))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resitsResponse{Resits: out})
}

// Get handles GET /resits/{id}.
func (h *ResitHandler) Get(w http.ResponseWriter, r *http.Request, resitID string) {
	principal, _ := PrincipalFromContext(r.Context())
	resit, err := h.service.Get(r.Context(), principal, resitID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toResitDTO(resit))
}

// Approve handles PUT /resits/{id}/approve.
func (h *ResitHandler) Approve(w http.ResponseWriter, r *http.Request, resitID string) {
	principal, _ := PrincipalFromContext(r.Context())
	approved, err := h.service.Approve(r.Context(), principal, resitID)
	if err != nil {
		h.log(r.Context(), "Approve", "resit_id", resitID).DebugContext(r.Context(), "resit approval failed", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, approvedResitDTO{
		Resit:       toResitDTO(approved.Resit),
		Appointment: toAppointmentDTO(approved.Appointment),
		Session:     toSessionDTO(approved.Session),
	})
}

type resitRequest struct {
	OriginalSessionID string   `json:"original_session_id" validate:"required"`
	FailedStages      []string `json:"failed_stages" validate:"required,min=1"`
	RequestedDate     string   `json:"requested_date" validate:"required,datetime=2006-01-02"`
	RequestedTimeSlot string   `json:"requested_time_slot" validate:"required"`
	Reason            string   `json:"reason" validate:"max=1000"`
}

type resitDTO struct {
	ID                    string     `json:"id"`
	CandidateID           string     `json:"candidate_id"`
	OriginalSessionID     string     `json:"original_session_id"`
	ResitAttemptNumber    int        `json:"resit_attempt_number"`
	FailedStages          []string   `json:"failed_stages"`
	RequestedDate         string     `json:"requested_date"`
	RequestedTimeSlot     string     `json:"requested_time_slot"`
	Reason                string     `json:"reason,omitempty"`
	Status                string     `json:"status"`
	AppointmentID         string     `json:"appointment_id,omitempty"`
	ContinuationSessionID string     `json:"continuation_session_id,omitempty"`
	ApprovedBy            string     `json:"approved_by,omitempty"`
	ApprovedAt            *time.Time `json:"approved_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

type resitsResponse struct {
	Resits []resitDTO `json:"resits"`
}

type approvedResitDTO struct {
	Resit       resitDTO       `json:"resit"`
	Appointment appointmentDTO `json:"appointment"`
	Session     sessionDTO     `json:"session"`
}

func toResitDTO(resit persistence.ResitRequest) resitDTO {
	stages := make([]string, 0, len(resit.FailedStages))
	for _, stage := range resit.FailedStages {
		stages = append(stages, string(stage))
	}
	return resitDTO{
		ID:                    resit.ID,
		CandidateID:           resit.CandidateID,
		OriginalSessionID:     resit.OriginalSessionID,
		ResitAttemptNumber:    resit.ResitAttemptNumber,
		FailedStages:          stages,
		RequestedDate:         resit.RequestedDate,
		RequestedTimeSlot:     resit.RequestedSlot,
		Reason:                resit.Reason,
		Status:                string(resit.Status),
		AppointmentID:         resit.AppointmentID,
		ContinuationSessionID: resit.ContinuationSessionID,
		ApprovedBy:            resit.ApprovedBy,
		ApprovedAt:            resit.ApprovedAt,
		CompletedAt:           resit.CompletedAt,
		CreatedAt:             resit.CreatedAt,
		UpdatedAt:             resit.UpdatedAt,
	}
}
