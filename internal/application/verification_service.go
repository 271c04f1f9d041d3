package application

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/example/testcentre/internal/calendar"
	"github.com/example/testcentre/internal/persistence"
)

// VerificationService records identity checks and answers the stage gate.
type VerificationService struct {
	appointments  persistence.AppointmentRepository
	verifications persistence.VerificationRepository
	now           func() time.Time
	location      *time.Location
	logger        *slog.Logger
}

// NewVerificationService constructs a verification service with the provided dependencies.
func NewVerificationService(appointments persistence.AppointmentRepository, verifications persistence.VerificationRepository, now func() time.Time, policy Policy) *VerificationService {
	return NewVerificationServiceWithLogger(appointments, verifications, now, policy, nil)
}

// NewVerificationServiceWithLogger constructs a verification service with a specified logger.
func NewVerificationServiceWithLogger(appointments persistence.AppointmentRepository, verifications persistence.VerificationRepository, now func() time.Time, policy Policy, logger *slog.Logger) *VerificationService {
	if now == nil {
		now = time.Now
	}
	return &VerificationService{
		appointments:  appointments,
		verifications: verifications,
		now:           now,
		location:      policy.normalized().Location,
		logger:        defaultLogger(logger),
	}
}

func (s *VerificationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "VerificationService", operation, attrs...)
}

// Verify stores the officer's identity check as the appointment's single
// active record and updates its verification status. Both confirmations
// true verify, any false fails, anything else stays pending.
func (s *VerificationService) Verify(ctx context.Context, params VerifyIdentityParams) (verification persistence.IdentityVerification, err error) {
	if s == nil {
		err = fmt.Errorf("VerificationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Verify",
		"principal_id", params.Principal.ID,
		"appointment_id", params.AppointmentID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to verify identity", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("outcome", verification.Outcome).InfoContext(ctx, "identity verification recorded")
	}()

	if err = authorize(params.Principal, staffRoles...); err != nil {
		return
	}

	var appointment persistence.Appointment
	appointment, err = s.appointments.GetAppointment(ctx, params.AppointmentID)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if !movable(appointment.Status) {
		err = &AppointmentStatusError{AppointmentID: appointment.ID, Status: appointment.Status, Operation: "verified"}
		return
	}
	if calendar.Today(s.now(), s.location) > appointment.Date {
		err = fieldError("appointment_date", "appointment date has passed")
		return
	}

	photos, vErr := digestPhotos(params.Photos)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	verification = persistence.IdentityVerification{
		AppointmentID:          appointment.ID,
		CandidateID:            appointment.CandidateID,
		DocumentType:           strings.TrimSpace(params.DocumentType),
		DocumentNumber:         strings.TrimSpace(params.DocumentNumber),
		Photos:                 photos,
		DocumentMatchConfirmed: params.DocumentMatchConfirmed,
		PhotoMatchConfirmed:    params.PhotoMatchConfirmed,
		Outcome:                verificationOutcome(params.DocumentMatchConfirmed, params.PhotoMatchConfirmed),
		Notes:                  strings.TrimSpace(params.Notes),
		VerifiedBy:             params.Principal.ID,
		VerifiedAt:             s.now(),
	}

	if err = s.verifications.SaveVerification(ctx, verification); err != nil {
		err = mapRepoError(err)
		return
	}
	if err = s.appointments.SetVerificationStatus(ctx, appointment.ID, verification.Outcome, verification.VerifiedAt); err != nil {
		err = mapRepoError(err)
		return
	}
	return
}

// Get returns the active verification record of an appointment.
func (s *VerificationService) Get(ctx context.Context, principal Principal, appointmentID string) (persistence.IdentityVerification, error) {
	if s == nil {
		return persistence.IdentityVerification{}, fmt.Errorf("VerificationService is nil")
	}
	appointment, err := s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return persistence.IdentityVerification{}, mapRepoError(err)
	}
	if err := authorizeCandidate(principal, appointment.CandidateID, candidateOrStaff...); err != nil {
		return persistence.IdentityVerification{}, err
	}
	verification, err := s.verifications.GetVerification(ctx, appointmentID)
	if err != nil {
		return persistence.IdentityVerification{}, mapRepoError(err)
	}
	return verification, nil
}

func verificationOutcome(documentMatch, photoMatch *bool) persistence.VerificationStatus {
	if (documentMatch != nil && !*documentMatch) || (photoMatch != nil && !*photoMatch) {
		return persistence.VerificationFailed
	}
	if documentMatch != nil && photoMatch != nil {
		return persistence.VerificationVerified
	}
	return persistence.VerificationPending
}

func digestPhotos(inputs []PhotoInput) ([]persistence.PhotoEvidence, *ValidationError) {
	vErr := &ValidationError{}
	photos := make([]persistence.PhotoEvidence, 0, len(inputs))
	for i, input := range inputs {
		kind := strings.TrimSpace(input.Kind)
		if kind == "" {
			vErr.add(fmt.Sprintf("photos[%d].kind", i), "photo kind is required")
		}
		if len(input.Data) == 0 {
			vErr.add(fmt.Sprintf("photos[%d].data", i), "photo data is required")
			continue
		}
		sum := blake2b.Sum256(input.Data)
		photos = append(photos, persistence.PhotoEvidence{
			Kind:   kind,
			Digest: hex.EncodeToString(sum[:]),
			Notes:  strings.TrimSpace(input.Notes),
		})
	}
	return photos, vErr
}

// checkGate allows stage access only for a live, verified appointment dated today.
func checkGate(appointment persistence.Appointment, today string) error {
	gateErr := &VerificationRequiredError{
		AppointmentID:   appointment.ID,
		Status:          appointment.VerificationStatus,
		AppointmentDate: appointment.Date,
		Today:           today,
	}
	switch {
	case !movable(appointment.Status):
		gateErr.Reason = fmt.Sprintf("appointment is %s", appointment.Status)
	case appointment.VerificationStatus != persistence.VerificationVerified:
		gateErr.Reason = fmt.Sprintf("identity verification is %s", appointment.VerificationStatus)
	case today < appointment.Date:
		gateErr.Reason = "appointment is on a later date"
	case today > appointment.Date:
		gateErr.Reason = "appointment date has passed"
	default:
		return nil
	}
	return gateErr
}

// gateFor loads the appointment of a session and applies the gate.
func gateFor(ctx context.Context, appointments persistence.AppointmentRepository, appointmentID, today string) error {
	appointment, err := appointments.GetAppointment(ctx, appointmentID)
	if errors.Is(err, persistence.ErrNotFound) {
		return &VerificationRequiredError{AppointmentID: appointmentID, Today: today, Reason: "appointment does not exist"}
	}
	if err != nil {
		return mapRepoError(err)
	}
	return checkGate(appointment, today)
}
