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

// CalendarService derives slot availability and administers templates and holidays.
type CalendarService struct {
	calendar     persistence.CalendarRepository
	appointments persistence.AppointmentRepository
	cache        *availabilityCache
	now          func() time.Time
	logger       *slog.Logger
}

// NewCalendarService constructs a calendar service with the provided dependencies.
func NewCalendarService(cal persistence.CalendarRepository, appointments persistence.AppointmentRepository, now func() time.Time) *CalendarService {
	return NewCalendarServiceWithLogger(cal, appointments, now, nil)
}

// NewCalendarServiceWithLogger constructs a calendar service with a specified logger.
func NewCalendarServiceWithLogger(cal persistence.CalendarRepository, appointments persistence.AppointmentRepository, now func() time.Time, logger *slog.Logger) *CalendarService {
	if now == nil {
		now = time.Now
	}
	return &CalendarService{
		calendar:     cal,
		appointments: appointments,
		cache:        newAvailabilityCache(0, 0, now),
		now:          now,
		logger:       defaultLogger(logger),
	}
}

func (s *CalendarService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "CalendarService", operation, attrs...)
}

// forget drops cached availability after a booking write.
func (s *CalendarService) forget(dates ...string) {
	if s == nil {
		return
	}
	s.cache.Forget(dates...)
}

// Availability returns every template slot of the date with its live booking
// count. Holidays yield no slots. Full slots are still listed.
func (s *CalendarService) Availability(ctx context.Context, principal Principal, date string) (day DayAvailability, err error) {
	if s == nil {
		err = fmt.Errorf("CalendarService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Availability",
		"principal_id", principal.ID,
		"date", date,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to derive availability", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("slot_count", len(day.Slots)).DebugContext(ctx, "availability derived")
	}()

	if err = authorize(principal, anyRole...); err != nil {
		return
	}

	parsed, parseErr := calendar.ParseDate(date)
	if parseErr != nil {
		err = fieldError("date", "date must be YYYY-MM-DD")
		return
	}
	date = parsed.Format(calendar.DateLayout)

	if cached, ok := s.cache.Get(date); ok {
		day = cached
		return
	}

	day = DayAvailability{Date: date, Weekday: parsed.Weekday(), Slots: []calendar.Availability{}}

	var holiday persistence.Holiday
	holiday, err = s.calendar.GetHoliday(ctx, date)
	switch {
	case err == nil:
		day.Holiday = holiday.Name
		s.cache.Store(day)
		return
	case !errors.Is(err, persistence.ErrNotFound):
		err = mapRepoError(err)
		return
	}
	err = nil

	var template persistence.ScheduleTemplate
	template, err = s.calendar.GetTemplate(ctx, parsed.Weekday())
	if errors.Is(err, persistence.ErrNotFound) {
		err = nil
		s.cache.Store(day)
		return
	}
	if err != nil {
		err = mapRepoError(err)
		return
	}

	var booked map[string]int
	booked, err = s.appointments.CountBookings(ctx, date)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	day.Slots = calendar.Derive(template.Slots, booked)
	s.cache.Store(day)
	return
}

// ReplaceTemplate validates and stores the slot list of a weekday.
func (s *CalendarService) ReplaceTemplate(ctx context.Context, params ReplaceTemplateParams) (template persistence.ScheduleTemplate, err error) {
	if s == nil {
		err = fmt.Errorf("CalendarService is nil")
		return
	}

	logger := s.loggerWith(ctx, "ReplaceTemplate",
		"principal_id", params.Principal.ID,
		"weekday", params.Weekday,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to replace schedule template", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("slot_count", len(template.Slots)).InfoContext(ctx, "schedule template replaced")
	}()

	if err = authorize(params.Principal, adminRoles...); err != nil {
		return
	}
	weekday, ok := calendar.WeekdayAt(params.Weekday)
	if !ok {
		err = fieldError("weekday", "weekday must be between 0 (Monday) and 6 (Sunday)")
		return
	}
	if slotErr := calendar.ValidateTemplate(params.Slots); slotErr != nil {
		var se *calendar.SlotError
		if errors.As(slotErr, &se) {
			err = fieldError(fmt.Sprintf("slots[%d]", se.Index), se.Reason)
			return
		}
		err = fieldError("slots", slotErr.Error())
		return
	}

	template = persistence.ScheduleTemplate{
		Weekday:   weekday,
		Slots:     calendar.Normalize(params.Slots),
		UpdatedAt: s.now(),
	}
	if err = s.calendar.UpsertTemplate(ctx, template); err != nil {
		err = mapRepoError(err)
		return
	}
	s.cache.Invalidate()
	return
}

// ListTemplates returns the templates of every configured weekday.
func (s *CalendarService) ListTemplates(ctx context.Context, principal Principal) ([]persistence.ScheduleTemplate, error) {
	if s == nil {
		return nil, fmt.Errorf("CalendarService is nil")
	}
	if err := authorize(principal, staffRoles...); err != nil {
		return nil, err
	}
	templates, err := s.calendar.ListTemplates(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return templates, nil
}

// CreateHoliday blocks every slot of a date.
func (s *CalendarService) CreateHoliday(ctx context.Context, params CreateHolidayParams) (holiday persistence.Holiday, err error) {
	if s == nil {
		err = fmt.Errorf("CalendarService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateHoliday",
		"principal_id", params.Principal.ID,
		"date", params.Date,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create holiday", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "holiday created")
	}()

	if err = authorize(params.Principal, adminRoles...); err != nil {
		return
	}

	vErr := &ValidationError{}
	parsed, parseErr := calendar.ParseDate(params.Date)
	if parseErr != nil {
		vErr.add("date", "date must be YYYY-MM-DD")
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		vErr.add("name", "name is required")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	holiday = persistence.Holiday{
		Date:      parsed.Format(calendar.DateLayout),
		Name:      name,
		CreatedAt: s.now(),
	}
	if err = s.calendar.CreateHoliday(ctx, holiday); err != nil {
		err = mapRepoError(err)
		return
	}
	s.cache.Forget(holiday.Date)
	return
}

// ListHolidays returns all declared holidays ordered by date.
func (s *CalendarService) ListHolidays(ctx context.Context, principal Principal) ([]persistence.Holiday, error) {
	if s == nil {
		return nil, fmt.Errorf("CalendarService is nil")
	}
	if err := authorize(principal, anyRole...); err != nil {
		return nil, err
	}
	holidays, err := s.calendar.ListHolidays(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return holidays, nil
}

// DeleteHoliday reopens a date.
func (s *CalendarService) DeleteHoliday(ctx context.Context, principal Principal, date string) error {
	if s == nil {
		return fmt.Errorf("CalendarService is nil")
	}
	if err := authorize(principal, adminRoles...); err != nil {
		return err
	}

	logger := s.loggerWith(ctx, "DeleteHoliday",
		"principal_id", principal.ID,
		"date", date,
	)

	if err := s.calendar.DeleteHoliday(ctx, strings.TrimSpace(date)); err != nil {
		err = mapRepoError(err)
		logger.ErrorContext(ctx, "failed to delete holiday", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	s.cache.Forget(strings.TrimSpace(date))

	logger.InfoContext(ctx, "holiday deleted")
	return nil
}

// resolveSlot returns the template slot offered at (date, slot), or
// HolidayBlockedError when the date is a holiday.
func resolveSlot(ctx context.Context, repo persistence.CalendarRepository, date, slot string) (string, calendar.TemplateSlot, error) {
	vErr := &ValidationError{}
	parsed, err := calendar.ParseDate(date)
	if err != nil {
		vErr.add("date", "date must be YYYY-MM-DD")
	}
	start, end, err := calendar.ParseSlot(slot)
	if err != nil {
		vErr.add("time_slot", "time slot must be HH:MM-HH:MM")
	}
	if vErr.HasErrors() {
		return "", calendar.TemplateSlot{}, vErr
	}
	date = parsed.Format(calendar.DateLayout)
	slot = start + "-" + end

	holiday, err := repo.GetHoliday(ctx, date)
	if err == nil {
		return date, calendar.TemplateSlot{}, &HolidayBlockedError{Date: date, Name: holiday.Name}
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return date, calendar.TemplateSlot{}, mapRepoError(err)
	}

	template, err := repo.GetTemplate(ctx, parsed.Weekday())
	if errors.Is(err, persistence.ErrNotFound) {
		return date, calendar.TemplateSlot{}, fieldError("time_slot", "no slots are offered on this date")
	}
	if err != nil {
		return date, calendar.TemplateSlot{}, mapRepoError(err)
	}

	found, ok := calendar.Find(template.Slots, slot)
	if !ok {
		return date, calendar.TemplateSlot{}, fieldError("time_slot", "slot is not offered on this date")
	}
	return date, found, nil
}
