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
)

// AppointmentService books, reschedules, confirms and cancels appointments.
// Capacity is enforced by the store's conditional writes; the service never
// trusts a previously read availability snapshot.
type AppointmentService struct {
	calendar     *CalendarService
	appointments persistence.AppointmentRepository
	configs      persistence.ConfigRepository
	idGenerator  func() string
	now          func() time.Time
	location     *time.Location
	logger       *slog.Logger
}

// NewAppointmentService constructs an appointment service with the provided dependencies.
func NewAppointmentService(cal *CalendarService, appointments persistence.AppointmentRepository, configs persistence.ConfigRepository, idGenerator func() string, now func() time.Time, policy Policy) *AppointmentService {
	return NewAppointmentServiceWithLogger(cal, appointments, configs, idGenerator, now, policy, nil)
}

// NewAppointmentServiceWithLogger constructs an appointment service with a specified logger.
func NewAppointmentServiceWithLogger(cal *CalendarService, appointments persistence.AppointmentRepository, configs persistence.ConfigRepository, idGenerator func() string, now func() time.Time, policy Policy, logger *slog.Logger) *AppointmentService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &AppointmentService{
		calendar:     cal,
		appointments: appointments,
		configs:      configs,
		idGenerator:  idGenerator,
		now:          now,
		location:     policy.normalized().Location,
		logger:       defaultLogger(logger),
	}
}

func (s *AppointmentService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AppointmentService", operation, attrs...)
}

func (s *AppointmentService) today() string {
	return calendar.Today(s.now(), s.location)
}

type bookingRequest struct {
	ID          string
	CandidateID string
	ConfigID    string
	Date        string
	Slot        string
	Notes       string
	CreatedBy   string
}

// Book creates a scheduled appointment when the slot still has a free seat.
func (s *AppointmentService) Book(ctx context.Context, params BookAppointmentParams) (appointment persistence.Appointment, err error) {
	if s == nil {
		err = fmt.Errorf("AppointmentService is nil")
		return
	}

	candidateID := strings.TrimSpace(params.CandidateID)
	if candidateID == "" {
		candidateID = params.Principal.Candidate()
	}

	logger := s.loggerWith(ctx, "Book",
		"principal_id", params.Principal.ID,
		"candidate_id", candidateID,
		"date", params.Date,
		"slot", params.Slot,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to book appointment", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("appointment_id", appointment.ID).InfoContext(ctx, "appointment booked")
	}()

	if err = authorizeCandidate(params.Principal, candidateID, candidateOrStaff...); err != nil {
		return
	}
	if candidateID == "" {
		err = fieldError("candidate_id", "candidate_id is required")
		return
	}

	appointment, err = s.book(ctx, bookingRequest{
		ID:          s.idGenerator(),
		CandidateID: candidateID,
		ConfigID:    strings.TrimSpace(params.ConfigID),
		Date:        params.Date,
		Slot:        params.Slot,
		Notes:       strings.TrimSpace(params.Notes),
		CreatedBy:   params.Principal.ID,
	})
	return
}

func (s *AppointmentService) book(ctx context.Context, req bookingRequest) (persistence.Appointment, error) {
	if req.ConfigID == "" {
		return persistence.Appointment{}, fieldError("test_config_id", "test_config_id is required")
	}
	config, err := s.configs.GetTestConfig(ctx, req.ConfigID)
	if errors.Is(err, persistence.ErrNotFound) {
		return persistence.Appointment{}, fieldError("test_config_id", "test configuration does not exist")
	}
	if err != nil {
		return persistence.Appointment{}, mapRepoError(err)
	}
	if !config.IsActive {
		return persistence.Appointment{}, fieldError("test_config_id", "test configuration is inactive")
	}

	date, slot, err := resolveSlot(ctx, s.calendar.calendar, req.Date, req.Slot)
	if err != nil {
		return persistence.Appointment{}, err
	}
	if date < s.today() {
		return persistence.Appointment{}, fieldError("appointment_date", "appointment date is in the past")
	}

	now := s.now()
	appointment := persistence.Appointment{
		ID:                 req.ID,
		CandidateID:        req.CandidateID,
		ConfigID:           config.ID,
		Date:               date,
		Slot:               slot.Label(),
		Status:             persistence.AppointmentScheduled,
		VerificationStatus: persistence.VerificationPending,
		Notes:              req.Notes,
		CreatedBy:          req.CreatedBy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.appointments.InsertWithinCapacity(ctx, appointment, slot.Capacity)
	if errors.Is(err, persistence.ErrCapacityReached) {
		return persistence.Appointment{}, s.capacityError(ctx, date, slot)
	}
	if err != nil {
		return persistence.Appointment{}, mapRepoError(err)
	}
	s.calendar.forget(date)
	return appointment, nil
}

func (s *AppointmentService) capacityError(ctx context.Context, date string, slot calendar.TemplateSlot) error {
	capErr := &CapacityExceededError{Date: date, Slot: slot.Label(), Capacity: slot.Capacity, Booked: slot.Capacity}
	if counts, err := s.appointments.CountBookings(ctx, date); err == nil {
		capErr.Booked = counts[slot.Label()]
	}
	return capErr
}

// Reschedule moves a live appointment to another slot, keeping its identity,
// and records the move in the appointment's reschedule history. The old seat
// is freed implicitly because occupancy is counted from live rows. A move to
// another date sends the candidate back through identity verification.
func (s *AppointmentService) Reschedule(ctx context.Context, params RescheduleParams) (appointment persistence.Appointment, err error) {
	if s == nil {
		err = fmt.Errorf("AppointmentService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Reschedule",
		"principal_id", params.Principal.ID,
		"appointment_id", params.AppointmentID,
		"date", params.NewDate,
		"slot", params.NewSlot,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to reschedule appointment", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "appointment rescheduled")
	}()

	var existing persistence.Appointment
	existing, err = s.appointments.GetAppointment(ctx, params.AppointmentID)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if err = authorizeCandidate(params.Principal, existing.CandidateID, candidateOrStaff...); err != nil {
		return
	}
	if !movable(existing.Status) {
		err = &AppointmentStatusError{AppointmentID: existing.ID, Status: existing.Status, Operation: "rescheduled"}
		return
	}

	date, slot, resolveErr := resolveSlot(ctx, s.calendar.calendar, params.NewDate, params.NewSlot)
	if resolveErr != nil {
		err = resolveErr
		return
	}
	if date < s.today() {
		err = fieldError("new_date", "appointment date is in the past")
		return
	}

	now := s.now()
	move := persistence.AppointmentMove{
		ID:        existing.ID,
		Date:      date,
		Slot:      slot.Label(),
		Notes:     appendNote(existing.Notes, rescheduleNote(existing, params.Reason)),
		UpdatedAt: now,
		History: persistence.RescheduleRecord{
			ID:            s.idGenerator(),
			Reason:        strings.TrimSpace(params.Reason),
			Notes:         strings.TrimSpace(params.Notes),
			RescheduledBy: params.Principal.ID,
			RescheduledAt: now,
		},
	}
	err = s.appointments.MoveWithinCapacity(ctx, move, slot.Capacity)
	switch {
	case errors.Is(err, persistence.ErrCapacityReached):
		err = s.capacityError(ctx, date, slot)
		return
	case errors.Is(err, persistence.ErrStaleState):
		err = s.statusError(ctx, existing.ID, "rescheduled")
		return
	case err != nil:
		err = mapRepoError(err)
		return
	}
	s.calendar.forget(existing.Date, date)

	appointment, err = s.appointments.GetAppointment(ctx, existing.ID)
	err = mapRepoError(err)
	return
}

// Cancel marks an appointment cancelled. Cancelling twice is not an error.
func (s *AppointmentService) Cancel(ctx context.Context, principal Principal, appointmentID string) (appointment persistence.Appointment, err error) {
	if s == nil {
		err = fmt.Errorf("AppointmentService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Cancel",
		"principal_id", principal.ID,
		"appointment_id", appointmentID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel appointment", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "appointment cancelled")
	}()

	appointment, err = s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if err = authorizeCandidate(principal, appointment.CandidateID, candidateOrStaff...); err != nil {
		return
	}
	appointment, err = s.transition(ctx, appointment, persistence.AppointmentCancelled, "cancelled")
	if err == nil {
		s.calendar.forget(appointment.Date)
	}
	return
}

// Confirm marks a scheduled appointment confirmed. Confirming twice is not an error.
func (s *AppointmentService) Confirm(ctx context.Context, principal Principal, appointmentID string) (appointment persistence.Appointment, err error) {
	if s == nil {
		err = fmt.Errorf("AppointmentService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Confirm",
		"principal_id", principal.ID,
		"appointment_id", appointmentID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to confirm appointment", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "appointment confirmed")
	}()

	appointment, err = s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if err = authorizeCandidate(principal, appointment.CandidateID, candidateOrStaff...); err != nil {
		return
	}
	appointment, err = s.transition(ctx, appointment, persistence.AppointmentConfirmed, "confirmed")
	return
}

// transition moves an appointment to target, treating an appointment already
// in target as success.
func (s *AppointmentService) transition(ctx context.Context, appointment persistence.Appointment, target persistence.AppointmentStatus, operation string) (persistence.Appointment, error) {
	if appointment.Status == target {
		return appointment, nil
	}
	from := allowedSources(target)
	if !containsStatus(from, appointment.Status) {
		return appointment, &AppointmentStatusError{AppointmentID: appointment.ID, Status: appointment.Status, Operation: operation}
	}

	now := s.now()
	err := s.appointments.UpdateAppointmentStatus(ctx, appointment.ID, from, target, now)
	if errors.Is(err, persistence.ErrStaleState) {
		current, getErr := s.appointments.GetAppointment(ctx, appointment.ID)
		if getErr != nil {
			return appointment, mapRepoError(getErr)
		}
		if current.Status == target {
			return current, nil
		}
		return current, &AppointmentStatusError{AppointmentID: current.ID, Status: current.Status, Operation: operation}
	}
	if err != nil {
		return appointment, mapRepoError(err)
	}
	appointment.Status = target
	appointment.UpdatedAt = now
	return appointment, nil
}

// complete closes the appointment governing a session that reached a
// terminal state.
func (s *AppointmentService) complete(ctx context.Context, appointmentID string) error {
	appointment, err := s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return mapRepoError(err)
	}
	_, err = s.transition(ctx, appointment, persistence.AppointmentCompleted, "completed")
	return err
}

// RescheduleHistory returns the moves of an appointment visible to the
// principal, newest first.
func (s *AppointmentService) RescheduleHistory(ctx context.Context, principal Principal, appointmentID string) ([]persistence.RescheduleRecord, error) {
	if _, err := s.Get(ctx, principal, appointmentID); err != nil {
		return nil, err
	}
	history, err := s.appointments.ListRescheduleHistory(ctx, appointmentID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return history, nil
}

// Get returns an appointment visible to the principal.
func (s *AppointmentService) Get(ctx context.Context, principal Principal, appointmentID string) (persistence.Appointment, error) {
	if s == nil {
		return persistence.Appointment{}, fmt.Errorf("AppointmentService is nil")
	}
	appointment, err := s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return persistence.Appointment{}, mapRepoError(err)
	}
	if err := authorizeCandidate(principal, appointment.CandidateID, candidateOrStaff...); err != nil {
		return persistence.Appointment{}, err
	}
	return appointment, nil
}

// List returns appointments matching the filter. Candidates only see their own.
func (s *AppointmentService) List(ctx context.Context, params ListAppointmentsParams) (appointments []persistence.Appointment, err error) {
	if s == nil {
		err = fmt.Errorf("AppointmentService is nil")
		return
	}

	logger := s.loggerWith(ctx, "List",
		"principal_id", params.Principal.ID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list appointments", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(appointments)).DebugContext(ctx, "appointments listed")
	}()

	if err = authorize(params.Principal, candidateOrStaff...); err != nil {
		return
	}

	filter := persistence.AppointmentFilter{
		CandidateID: strings.TrimSpace(params.CandidateID),
		Date:        strings.TrimSpace(params.Date),
		Status:      persistence.AppointmentStatus(strings.TrimSpace(params.Status)),
	}
	if params.Principal.Role == RoleCandidate {
		if filter.CandidateID != "" && filter.CandidateID != params.Principal.Candidate() {
			err = ErrUnauthorized
			return
		}
		filter.CandidateID = params.Principal.Candidate()
	}
	if filter.Date != "" {
		if _, parseErr := calendar.ParseDate(filter.Date); parseErr != nil {
			err = fieldError("date", "date must be YYYY-MM-DD")
			return
		}
	}
	switch filter.Status {
	case "", persistence.AppointmentScheduled, persistence.AppointmentConfirmed, persistence.AppointmentCancelled, persistence.AppointmentCompleted:
	default:
		err = fieldError("status", "unknown appointment status")
		return
	}

	appointments, err = s.appointments.ListAppointments(ctx, filter)
	err = mapRepoError(err)
	return
}

func (s *AppointmentService) statusError(ctx context.Context, appointmentID, operation string) error {
	current, err := s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return mapRepoError(err)
	}
	return &AppointmentStatusError{AppointmentID: current.ID, Status: current.Status, Operation: operation}
}

func movable(status persistence.AppointmentStatus) bool {
	return status == persistence.AppointmentScheduled || status == persistence.AppointmentConfirmed
}

func allowedSources(target persistence.AppointmentStatus) []persistence.AppointmentStatus {
	switch target {
	case persistence.AppointmentConfirmed:
		return []persistence.AppointmentStatus{persistence.AppointmentScheduled}
	case persistence.AppointmentCancelled, persistence.AppointmentCompleted:
		return []persistence.AppointmentStatus{persistence.AppointmentScheduled, persistence.AppointmentConfirmed}
	}
	return nil
}

func containsStatus(statuses []persistence.AppointmentStatus, status persistence.AppointmentStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func rescheduleNote(existing persistence.Appointment, reason string) string {
	note := fmt.Sprintf("Rescheduled from %s %s", existing.Date, existing.Slot)
	if reason = strings.TrimSpace(reason); reason != "" {
		note += ": " + reason
	}
	return note
}

func appendNote(notes, note string) string {
	if strings.TrimSpace(notes) == "" {
		return note
	}
	return notes + "\n" + note
}
