package http

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/testcentre/internal/application"
	"github.com/example/testcentre/internal/persistence"
)

type appointmentService interface {
	Book(ctx context.Context, params application.BookAppointmentParams) (persistence.Appointment, error)
	Reschedule(ctx context.Context, params application.RescheduleParams) (persistence.Appointment, error)
	Cancel(ctx context.Context, principal application.Principal, appointmentID string) (persistence.Appointment, error)
	Confirm(ctx context.Context, principal application.Principal, appointmentID string) (persistence.Appointment, error)
	Get(ctx context.Context, principal application.Principal, appointmentID string) (persistence.Appointment, error)
	List(ctx context.Context, params application.ListAppointmentsParams) ([]persistence.Appointment, error)
	RescheduleHistory(ctx context.Context, principal application.Principal, appointmentID string) ([]persistence.RescheduleRecord, error)
}

type verificationService interface {
	Verify(ctx context.Context, params application.VerifyIdentityParams) (persistence.IdentityVerification, error)
	Get(ctx context.Context, principal application.Principal, appointmentID string) (persistence.IdentityVerification, error)
}

// AppointmentHandler serves booking, the appointment lifecycle and identity
// verification.
type AppointmentHandler struct {
	appointments  appointmentService
	verifications verificationService
	responder     responder
	logger        *slog.Logger
}

func NewAppointmentHandler(appointments appointmentService, verifications verificationService, logger *slog.Logger) *AppointmentHandler {
	base := defaultLogger(logger)
	return &AppointmentHandler{appointments: appointments, verifications: verifications, responder: newResponder(base), logger: base}
}

func (h *AppointmentHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "AppointmentHandler", operation, attrs...)
}

// Book handles POST /appointments.
func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req bookRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.log(r.Context(), "Book", "principal_id", principal.ID).DebugContext(r.Context(), "invalid booking request", "error", err)
		writeDecodeError(r.Context(), h.responder, w, err)
		return
	}

	appointment, err := h.appointments.Book(r.Context(), application.BookAppointmentParams{
		Principal:   principal,
		CandidateID: req.CandidateID,
		ConfigID:    req.TestConfigID,
		Date:        req.AppointmentDate,
		Slot:        req.TimeSlot,
		Notes:       req.Notes,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toAppointmentDTO(appointment))
}

// List handles GET /appointments?candidate_id=&date=&status=.
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()

	appointments, err := h.appointments.List(r.Context(), application.ListAppointmentsParams{
		Principal:   principal,
		CandidateID: query.Get("candidate_id"),
		Date:        query.Get("date"),
		Status:      query.Get("status"),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]appointmentDTO, 0, len(appointments))
	for _, appointment := range appointments {
		out = append(out, toAppointmentDTO(appointment))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, appointmentsResponse{Appointments: out})
}

// Get handles GET /appointments/{id}.
func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request, appointmentID string) {
	principal, _ := PrincipalFromContext(r.Context())
	appointment, err := h.appointments.Get(r.Context(), principal, appointmentID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAppointmentDTO(appointment))
}

// Reschedule handles POST /appointments/{id}/reschedule.
func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request, appointmentID string) {
	principal, _ := PrincipalFromContext(r.Context())

	var req rescheduleRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.log(r.Context(), "Reschedule", "principal_id", principal.ID, "appointment_id", appointmentID).DebugContext(r.Context(), "invalid reschedule request", "error", err)
		writeDecodeError(r.Context(), h.responder, w, err)
		return
	}

	appointment, err := h.appointments.Reschedule(r.Context(), application.RescheduleParams{
		Principal:     principal,
		AppointmentID: appointmentID,
		NewDate:       req.NewDate,
		NewSlot:       req.NewTimeSlot,
		Reason:        req.Reason,
		Notes:         req.Notes,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAppointmentDTO(appointment))
}

// RescheduleHistory handles GET /appointments/{id}/reschedule-history.
func (h *AppointmentHandler) RescheduleHistory(w http.ResponseWriter, r *http.Request, appointmentID string) {
	principal, _ := PrincipalFromContext(r.Context())
	records, err := h.appointments.RescheduleHistory(r.Context(), principal, appointmentID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]rescheduleRecordDTO, 0, len(records))
	for _, record := range records {
		out = append(out, toRescheduleRecordDTO(record))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, rescheduleHistoryResponse{History: out})
}

// Cancel handles POST /appointments/{id}/cancel.
func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request, appointmentID string) {
	principal, _ := PrincipalFromContext(r.Context())
	appointment, err := h.appointments.Cancel(r.Context(), principal, appointmentID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAppointmentDTO(appointment))
}

// Confirm handles POST /appointments/{id}/confirm.
func (h *AppointmentHandler) Confirm(w http.ResponseWriter, r *http.Request, appointmentID string) {
	principal, _ := PrincipalFromContext(r.Context())
	appointment, err := h.appointments.Confirm(r.Context(), principal, appointmentID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAppointmentDTO(appointment))
}

// VerifyIdentity handles POST /appointments/{id}/verify-identity. Photo data
// arrives base64 encoded and only its digest is kept.
func (h *AppointmentHandler) VerifyIdentity(w http.ResponseWriter, r *http.Request, appointmentID string) {
	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "VerifyIdentity", "principal_id", principal.ID, "appointment_id", appointmentID)

	var req verifyRequest
	if err := decodeRequest(w, r, &req); err != nil {
		logger.DebugContext(r.Context(), "invalid verification request", "error", err)
		writeDecodeError(r.Context(), h.responder, w, err)
		return
	}

	photos := make([]application.PhotoInput, 0, len(req.PhotoEvidence))
	invalid := &application.ValidationError{}
	for i, photo := range req.PhotoEvidence {
		data, err := base64.StdEncoding.DecodeString(photo.Data)
		if err != nil {
			if invalid.FieldErrors == nil {
				invalid.FieldErrors = map[string]string{}
			}
			invalid.FieldErrors[photoField(i)] = "must be base64 encoded"
			continue
		}
		photos = append(photos, application.PhotoInput{Kind: photo.Type, Data: data, Notes: photo.Notes})
	}
	if invalid.HasErrors() {
		h.responder.handleServiceError(r.Context(), w, invalid)
		return
	}

	verification, err := h.verifications.Verify(r.Context(), application.VerifyIdentityParams{
		Principal:              principal,
		AppointmentID:          appointmentID,
		DocumentType:           req.DocumentType,
		DocumentNumber:         req.DocumentNumber,
		Photos:                 photos,
		DocumentMatchConfirmed: req.DocumentMatchConfirmed,
		PhotoMatchConfirmed:    req.PhotoMatchConfirmed,
		Notes:                  req.Notes,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toVerificationDTO(verification))
}

// GetVerification handles GET /appointments/{id}/verification.
func (h *AppointmentHandler) GetVerification(w http.ResponseWriter, r *http.Request, appointmentID string) {
	principal, _ := PrincipalFromContext(r.Context())
	verification, err := h.verifications.Get(r.Context(), principal, appointmentID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toVerificationDTO(verification))
}

func photoField(index int) string {
	return fmt.Sprintf("photo_evidence[%d].data", index)
}

type bookRequest struct {
	CandidateID     string `json:"candidate_id"`
	TestConfigID    string `json:"test_config_id" validate:"required"`
	AppointmentDate string `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	TimeSlot        string `json:"time_slot" validate:"required"`
	Notes           string `json:"notes" validate:"max=1000"`
}

type rescheduleRequest struct {
	NewDate     string `json:"new_date" validate:"required,datetime=2006-01-02"`
	NewTimeSlot string `json:"new_time_slot" validate:"required"`
	Reason      string `json:"reason" validate:"max=500"`
	Notes       string `json:"notes" validate:"max=1000"`
}

type photoRequest struct {
	Type  string `json:"type" validate:"required"`
	Data  string `json:"data" validate:"required"`
	Notes string `json:"notes"`
}

type verifyRequest struct {
	DocumentType           string         `json:"document_type"`
	DocumentNumber         string         `json:"document_number"`
	PhotoEvidence          []photoRequest `json:"photo_evidence" validate:"dive"`
	DocumentMatchConfirmed *bool          `json:"document_match_confirmed"`
	PhotoMatchConfirmed    *bool          `json:"photo_match_confirmed"`
	Notes                  string         `json:"notes"`
}

type appointmentDTO struct {
	ID                 string    `json:"id"`
	CandidateID        string    `json:"candidate_id"`
	TestConfigID       string    `json:"test_config_id"`
	AppointmentDate    string    `json:"appointment_date"`
	TimeSlot           string    `json:"time_slot"`
	Status             string    `json:"status"`
	VerificationStatus string    `json:"verification_status"`
	Notes              string    `json:"notes,omitempty"`
	CreatedBy          string    `json:"created_by"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type appointmentsResponse struct {
	Appointments []appointmentDTO `json:"appointments"`
}

func toAppointmentDTO(appointment persistence.Appointment) appointmentDTO {
	return appointmentDTO{
		ID:                 appointment.ID,
		CandidateID:        appointment.CandidateID,
		TestConfigID:       appointment.ConfigID,
		AppointmentDate:    appointment.Date,
		TimeSlot:           appointment.Slot,
		Status:             string(appointment.Status),
		VerificationStatus: string(appointment.VerificationStatus),
		Notes:              appointment.Notes,
		CreatedBy:          appointment.CreatedBy,
		CreatedAt:          appointment.CreatedAt,
		UpdatedAt:          appointment.UpdatedAt,
	}
}

type rescheduleRecordDTO struct {
	ID               string    `json:"id"`
	AppointmentID    string    `json:"appointment_id"`
	OriginalDate     string    `json:"original_date"`
	OriginalTimeSlot string    `json:"original_time_slot"`
	NewDate          string    `json:"new_date"`
	NewTimeSlot      string    `json:"new_time_slot"`
	Reason           string    `json:"reason,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	RescheduledBy    string    `json:"rescheduled_by"`
	RescheduledAt    time.Time `json:"rescheduled_at"`
}

type rescheduleHistoryResponse struct {
	History []rescheduleRecordDTO `json:"history"`
}

func toRescheduleRecordDTO(record persistence.RescheduleRecord) rescheduleRecordDTO {
	return rescheduleRecordDTO{
		ID:               record.ID,
		AppointmentID:    record.AppointmentID,
		OriginalDate:     record.OriginalDate,
		OriginalTimeSlot: record.OriginalSlot,
		NewDate:          record.NewDate,
		NewTimeSlot:      record.NewSlot,
		Reason:           record.Reason,
		Notes:            record.Notes,
		RescheduledBy:    record.RescheduledBy,
		RescheduledAt:    record.RescheduledAt,
	}
}

type photoDTO struct {
	Type   string `json:"type"`
	Digest string `json:"digest"`
	Notes  string `json:"notes,omitempty"`
}

type verificationDTO struct {
	AppointmentID          string     `json:"appointment_id"`
	CandidateID            string     `json:"candidate_id"`
	DocumentType           string     `json:"document_type,omitempty"`
	DocumentNumber         string     `json:"document_number,omitempty"`
	PhotoEvidence          []photoDTO `json:"photo_evidence"`
	DocumentMatchConfirmed *bool      `json:"document_match_confirmed"`
	PhotoMatchConfirmed    *bool      `json:"photo_match_confirmed"`
	Outcome                string     `json:"outcome"`
	Notes                  string     `json:"notes,omitempty"`
	VerifiedBy             string     `json:"verified_by"`
	VerifiedAt             time.Time  `json:"verified_at"`
}

func toVerificationDTO(verification persistence.IdentityVerification) verificationDTO {
	photos := make([]photoDTO, 0, len(verification.Photos))
	for _, photo := range verification.Photos {
		photos = append(photos, photoDTO{Type: photo.Kind, Digest: photo.Digest, Notes: photo.Notes})
	}
	return verificationDTO{
		AppointmentID:          verification.AppointmentID,
		CandidateID:            verification.CandidateID,
		DocumentType:           verification.DocumentType,
		DocumentNumber:         verification.DocumentNumber,
		PhotoEvidence:          photos,
		DocumentMatchConfirmed: verification.DocumentMatchConfirmed,
		PhotoMatchConfirmed:    verification.PhotoMatchConfirmed,
		Outcome:                string(verification.Outcome),
		Notes:                  verification.Notes,
		VerifiedBy:             verification.VerifiedBy,
		VerifiedAt:             verification.VerifiedAt,
	}
}
