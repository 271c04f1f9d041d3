package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/testcentre/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContextOr(ctx, base)

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel, taxonomy and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	}

	var (
		capacityErr     *CapacityExceededError
		holidayErr      *HolidayBlockedError
		verificationErr *VerificationRequiredError
		notReadyErr     *SessionNotReadyError
		stageErr        *InvalidStageError
		officerErr      *UnknownOfficerError
		duplicateErr    *DuplicateAssignmentError
		assignmentErr   *AssignmentRequiredError
		resitErr        *ResitNotEligibleError
		statusErr       *AppointmentStatusError
		vErr            *ValidationError
	)
	switch {
	case errors.As(err, &capacityErr):
		return "capacity_exceeded"
	case errors.As(err, &holidayErr):
		return "holiday_blocked"
	case errors.As(err, &verificationErr):
		return "verification_required"
	case errors.As(err, &notReadyErr):
		return "session_not_ready"
	case errors.As(err, &stageErr):
		return "invalid_stage"
	case errors.As(err, &officerErr):
		return "unknown_officer"
	case errors.As(err, &duplicateErr):
		return "duplicate_assignment"
	case errors.As(err, &assignmentErr):
		return "assignment_required"
	case errors.As(err, &resitErr):
		return "resit_not_eligible"
	case errors.As(err, &statusErr):
		return "appointment_status"
	case errors.As(err, &vErr):
		return "validation"
	}

	return "unexpected"
}
