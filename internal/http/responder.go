package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/testcentre/internal/application"
	"github.com/example/testcentre/internal/logging"
)

var (
	errBadRequestBody = errors.New("request body is not valid JSON")
	errUnknownRoute   = errors.New("no route matches the request path")
	errMissingToken   = errors.New("bearer token is required")
	errInvalidToken   = errors.New("bearer token is invalid or expired")
)

// retryAfterSeconds is advertised when the store stays busy after retries.
const retryAfterSeconds = "1"

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request rejected", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: statusCode(status), Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	status, body := describeError(ctx, err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	if status >= http.StatusInternalServerError {
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}
	r.writeJSON(ctx, w, status, body)
}

// describeError maps the application error taxonomy onto a status code and a
// body carrying enough context for the caller to correct the request.
func describeError(ctx context.Context, err error) (int, errorResponse) {
	body := errorResponse{ErrorCode: strings.ToUpper(application.ErrorKind(err)), Message: err.Error()}

	switch {
	case errors.Is(err, application.ErrUnauthorized):
		if _, ok := PrincipalFromContext(ctx); !ok {
			body.ErrorCode = "UNAUTHENTICATED"
			body.Message = "authentication is required"
			return http.StatusUnauthorized, body
		}
		body.Message = "the caller is not allowed to perform this operation"
		return http.StatusForbidden, body
	case errors.Is(err, application.ErrNotFound):
		body.Message = "the requested resource does not exist"
		return http.StatusNotFound, body
	case errors.Is(err, application.ErrAlreadyExists):
		return http.StatusConflict, body
	case errors.Is(err, application.ErrStoreUnavailable):
		body.Message = "the store is busy; retry the request"
		return http.StatusServiceUnavailable, body
	}

	var (
		capacityErr     *application.CapacityExceededError
		holidayErr      *application.HolidayBlockedError
		verificationErr *application.VerificationRequiredError
		notReadyErr     *application.SessionNotReadyError
		stageErr        *application.InvalidStageError
		officerErr      *application.UnknownOfficerError
		duplicateErr    *application.DuplicateAssignmentError
		assignmentErr   *application.AssignmentRequiredError
		resitErr        *application.ResitNotEligibleError
		statusErr       *application.AppointmentStatusError
		vErr            *application.ValidationError
	)
	switch {
	case errors.As(err, &capacityErr):
		body.Details = map[string]any{
			"date":      capacityErr.Date,
			"time_slot": capacityErr.Slot,
			"capacity":  capacityErr.Capacity,
			"booked":    capacityErr.Booked,
			"remaining": capacityErr.Remaining(),
		}
		return http.StatusConflict, body
	case errors.As(err, &holidayErr):
		body.Details = map[string]any{"date": holidayErr.Date, "holiday": holidayErr.Name}
		return http.StatusConflict, body
	case errors.As(err, &verificationErr):
		body.Details = map[string]any{
			"appointment_id":      verificationErr.AppointmentID,
			"verification_status": verificationErr.Status,
			"appointment_date":    verificationErr.AppointmentDate,
			"today":               verificationErr.Today,
			"reason":              verificationErr.Reason,
		}
		return http.StatusForbidden, body
	case errors.As(err, &notReadyErr):
		body.Details = map[string]any{
			"session_id":      notReadyErr.SessionID,
			"status":          notReadyErr.Status,
			"stage":           notReadyErr.Stage,
			"required_status": notReadyErr.Required,
		}
		return http.StatusConflict, body
	case errors.As(err, &stageErr):
		body.Details = map[string]any{"stage": stageErr.Stage}
		return http.StatusBadRequest, body
	case errors.As(err, &officerErr):
		body.Details = map[string]any{"officer_id": officerErr.OfficerID, "reason": officerErr.Reason}
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &duplicateErr):
		body.Details = map[string]any{"session_id": duplicateErr.SessionID, "stage": duplicateErr.Stage, "officer_id": duplicateErr.OfficerID}
		return http.StatusConflict, body
	case errors.As(err, &assignmentErr):
		body.Details = map[string]any{"session_id": assignmentErr.SessionID, "stage": assignmentErr.Stage}
		return http.StatusConflict, body
	case errors.As(err, &resitErr):
		body.Details = map[string]any{"session_id": resitErr.SessionID, "reason": resitErr.Reason}
		return http.StatusConflict, body
	case errors.As(err, &statusErr):
		body.Details = map[string]any{"appointment_id": statusErr.AppointmentID, "status": statusErr.Status}
		return http.StatusConflict, body
	case errors.As(err, &vErr):
		body.Message = "the request is invalid"
		body.Errors = vErr.FieldErrors
		return http.StatusBadRequest, body
	}

	return http.StatusInternalServerError, errorResponse{ErrorCode: "INTERNAL", Message: "an internal error occurred"}
}

func statusCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	default:
		return "INTERNAL"
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	return logging.FromContextOr(ctx, r.logger)
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
	Details   map[string]any    `json:"details,omitempty"`
}
