package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/testcentre/internal/application"
	"github.com/example/testcentre/internal/calendar"
	"github.com/example/testcentre/internal/persistence"
)

type calendarService interface {
	Availability(ctx context.Context, principal application.Principal, date string) (application.DayAvailability, error)
	ReplaceTemplate(ctx context.Context, params application.ReplaceTemplateParams) (persistence.ScheduleTemplate, error)
	ListTemplates(ctx context.Context, principal application.Principal) ([]persistence.ScheduleTemplate, error)
	CreateHoliday(ctx context.Context, params application.CreateHolidayParams) (persistence.Holiday, error)
	ListHolidays(ctx context.Context, principal application.Principal) ([]persistence.Holiday, error)
	DeleteHoliday(ctx context.Context, principal application.Principal, date string) error
}

// CalendarHandler serves slot availability and schedule administration.
type CalendarHandler struct {
	service   calendarService
	responder responder
	logger    *slog.Logger
}

func NewCalendarHandler(service calendarService, logger *slog.Logger) *CalendarHandler {
	base := defaultLogger(logger)
	return &CalendarHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *CalendarHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "CalendarHandler", operation, attrs...)
}

// Availability handles GET /schedule-availability?date=YYYY-MM-DD.
func (h *CalendarHandler) Availability(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	date := strings.TrimSpace(r.URL.Query().Get("date"))

	day, err := h.service.Availability(r.Context(), principal, date)
	if err != nil {
		h.log(r.Context(), "Availability", "date", date).DebugContext(r.Context(), "availability lookup failed", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAvailabilityDTO(day))
}

// ReplaceTemplate handles PUT /admin/schedule-templates/{weekday}.
func (h *CalendarHandler) ReplaceTemplate(w http.ResponseWriter, r *http.Request, weekdayValue string) {
	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "ReplaceTemplate", "principal_id", principal.ID, "weekday", weekdayValue)

	weekday, err := strconv.Atoi(weekdayValue)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: map[string]string{"weekday": "must be an integer from 0 (Monday) to 6 (Sunday)"}})
		return
	}

	var req templateRequest
	if err := decodeRequest(w, r, &req); err != nil {
		logger.DebugContext(r.Context(), "invalid template request", "error", err)
		writeDecodeError(r.Context(), h.responder, w, err)
		return
	}

	slots := make([]calendar.TemplateSlot, 0, len(req.Slots))
	for _, slot := range req.Slots {
		slots = append(slots, calendar.TemplateSlot{Start: slot.Start, End: slot.End, Capacity: slot.Capacity})
	}
	template, err := h.service.ReplaceTemplate(r.Context(), application.ReplaceTemplateParams{
		Principal: principal,
		Weekday:   weekday,
		Slots:     slots,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toTemplateDTO(template))
}

// ListTemplates handles GET /admin/schedule-templates.
func (h *CalendarHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	templates, err := h.service.ListTemplates(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]templateDTO, 0, len(templates))
	for _, template := range templates {
		out = append(out, toTemplateDTO(template))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, templatesResponse{Templates: out})
}

// CreateHoliday handles POST /admin/holidays.
func (h *CalendarHandler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req holidayRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.log(r.Context(), "CreateHoliday", "principal_id", principal.ID).DebugContext(r.Context(), "invalid holiday request", "error", err)
		writeDecodeError(r.Context(), h.responder, w, err)
		return
	}

	holiday, err := h.service.CreateHoliday(r.Context(), application.CreateHolidayParams{
		Principal: principal,
		Date:      req.Date,
		Name:      req.Name,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toHolidayDTO(holiday))
}

// ListHolidays handles GET /admin/holidays.
func (h *CalendarHandler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	holidays, err := h.service.ListHolidays(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]holidayDTO, 0, len(holidays))
	for _, holiday := range holidays {
		out = append(out, toHolidayDTO(holiday))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, holidaysResponse{Holidays: out})
}

// DeleteHoliday handles DELETE /admin/holidays/{date}.
func (h *CalendarHandler) DeleteHoliday(w http.ResponseWriter, r *http.Request, date string) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteHoliday(r.Context(), principal, date); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type slotDTO struct {
	Start    string `json:"start" validate:"required"`
	End      string `json:"end" validate:"required"`
	Capacity int    `json:"capacity" validate:"gte=1"`
}

type templateRequest struct {
	Slots []slotDTO `json:"slots" validate:"dive"`
}

type templateDTO struct {
	Weekday   int       `json:"weekday"`
	Day       string    `json:"day"`
	Slots     []slotDTO `json:"slots"`
	UpdatedAt time.Time `json:"updated_at"`
}

type templatesResponse struct {
	Templates []templateDTO `json:"templates"`
}

func toTemplateDTO(template persistence.ScheduleTemplate) templateDTO {
	slots := make([]slotDTO, 0, len(template.Slots))
	for _, slot := range template.Slots {
		slots = append(slots, slotDTO{Start: slot.Start, End: slot.End, Capacity: slot.Capacity})
	}
	return templateDTO{
		Weekday:   calendar.DayIndex(template.Weekday),
		Day:       template.Weekday.String(),
		Slots:     slots,
		UpdatedAt: template.UpdatedAt,
	}
}

type holidayRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Name string `json:"name" validate:"required"`
}

type holidayDTO struct {
	Date      string    `json:"date"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type holidaysResponse struct {
	Holidays []holidayDTO `json:"holidays"`
}

func toHolidayDTO(holiday persistence.Holiday) holidayDTO {
	return holidayDTO{Date: holiday.Date, Name: holiday.Name, CreatedAt: holiday.CreatedAt}
}

type availableSlotDTO struct {
	TimeSlot  string `json:"time_slot"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Capacity  int    `json:"capacity"`
	Booked    int    `json:"booked"`
	Available int    `json:"available"`
}

type availabilityDTO struct {
	Date           string             `json:"date"`
	Weekday        int                `json:"weekday"`
	Holiday        string             `json:"holiday,omitempty"`
	AvailableSlots []availableSlotDTO `json:"available_slots"`
}

func toAvailabilityDTO(day application.DayAvailability) availabilityDTO {
	slots := make([]availableSlotDTO, 0, len(day.Slots))
	for _, slot := range day.Slots {
		slots = append(slots, availableSlotDTO{
			TimeSlot:  slot.Slot,
			Start:     slot.Start,
			End:       slot.End,
			Capacity:  slot.Capacity,
			Booked:    slot.Booked,
			Available: slot.Available,
		})
	}
	return availabilityDTO{
		Date:           day.Date,
		Weekday:        calendar.DayIndex(day.Weekday),
		Holiday:        day.Holiday,
		AvailableSlots: slots,
	}
}
