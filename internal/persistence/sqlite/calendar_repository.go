package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/testcentre/internal/calendar"
	"github.com/example/testcentre/internal/persistence"
)

// CalendarRepository implements persistence.CalendarRepository using SQLite
type CalendarRepository struct {
	pool *ConnectionPool
}

// NewCalendarRepository creates a new SQLite calendar repository
func NewCalendarRepository(pool *ConnectionPool) *CalendarRepository {
	return &CalendarRepository{pool: pool}
}

type slotRecord struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Capacity int    `json:"capacity"`
}

// UpsertTemplate replaces the slot list of a weekday.
func (r *CalendarRepository) UpsertTemplate(ctx context.Context, template persistence.ScheduleTemplate) error {
	if template.Weekday < time.Sunday || template.Weekday > time.Saturday {
		return persistence.ErrConstraintViolation
	}
	records := make([]slotRecord, 0, len(template.Slots))
	for _, slot := range template.Slots {
		records = append(records, slotRecord{Start: slot.Start, End: slot.End, Capacity: slot.Capacity})
	}
	slots, err := encodeJSON(records)
	if err != nil {
		return err
	}

	_, err = r.pool.exec(ctx, `
		INSERT INTO schedule_templates (weekday, slots, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (weekday) DO UPDATE SET slots = excluded.slots, updated_at = excluded.updated_at`,
		calendar.DayIndex(template.Weekday), slots, formatTime(template.UpdatedAt),
	)
	return err
}

// GetTemplate returns the template of a weekday or persistence.ErrNotFound.
func (r *CalendarRepository) GetTemplate(ctx context.Context, weekday time.Weekday) (persistence.ScheduleTemplate, error) {
	var template persistence.ScheduleTemplate
	err := r.pool.queryRow(ctx, func(row *sql.Row) error {
		var err error
		template, err = scanTemplate(row)
		return err
	}, `SELECT weekday, slots, updated_at FROM schedule_templates WHERE weekday = ?`, calendar.DayIndex(weekday))
	return template, err
}

// ListTemplates returns every configured weekday ordered from Monday.
func (r *CalendarRepository) ListTemplates(ctx context.Context) ([]persistence.ScheduleTemplate, error) {
	var templates []persistence.ScheduleTemplate
	err := r.pool.query(ctx, func() { templates = nil }, func(rows *sql.Rows) error {
		template, err := scanTemplate(rows)
		if err != nil {
			return err
		}
		templates = append(templates, template)
		return nil
	}, `SELECT weekday, slots, updated_at FROM schedule_templates ORDER BY weekday`)
	return templates, err
}

// CreateHoliday inserts a holiday; a second holiday on the same date is a
// duplicate.
func (r *CalendarRepository) CreateHoliday(ctx context.Context, holiday persistence.Holiday) error {
	_, err := r.pool.exec(ctx, `INSERT INTO holidays (date, name, created_at) VALUES (?, ?, ?)`,
		holiday.Date, holiday.Name, formatTime(holiday.CreatedAt))
	return err
}

// GetHoliday returns the holiday on date or persistence.ErrNotFound.
func (r *CalendarRepository) GetHoliday(ctx context.Context, date string) (persistence.Holiday, error) {
	var holiday persistence.Holiday
	err := r.pool.queryRow(ctx, func(row *sql.Row) error {
		var err error
		holiday, err = scanHoliday(row)
		return err
	}, `SELECT date, name, created_at FROM holidays WHERE date = ?`, date)
	return holiday, err
}

// ListHolidays returns holidays ordered by date.
func (r *CalendarRepository) ListHolidays(ctx context.Context) ([]persistence.Holiday, error) {
	var holidays []persistence.Holiday
	err := r.pool.query(ctx, func() { holidays = nil }, func(rows *sql.Rows) error {
		holiday, err := scanHoliday(rows)
		if err != nil {
			return err
		}
		holidays = append(holidays, holiday)
		return nil
	}, `SELECT date, name, created_at FROM holidays ORDER BY date`)
	return holidays, err
}

// DeleteHoliday removes the holiday on date.
func (r *CalendarRepository) DeleteHoliday(ctx context.Context, date string) error {
	affected, err := r.pool.execAffecting(ctx, `DELETE FROM holidays WHERE date = ?`, date)
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner) (persistence.ScheduleTemplate, error) {
	var (
		weekday   int
		slotsJSON string
		updatedAt string
	)
	if err := row.Scan(&weekday, &slotsJSON, &updatedAt); err != nil {
		return persistence.ScheduleTemplate{}, err
	}
	var records []slotRecord
	if err := decodeJSON(slotsJSON, &records); err != nil {
		return persistence.ScheduleTemplate{}, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return persistence.ScheduleTemplate{}, err
	}

	slots := make([]calendar.TemplateSlot, 0, len(records))
	for _, record := range records {
		slots = append(slots, calendar.TemplateSlot{Start: record.Start, End: record.End, Capacity: record.Capacity})
	}
	day, ok := calendar.WeekdayAt(weekday)
	if !ok {
		return persistence.ScheduleTemplate{}, fmt.Errorf("sqlite: stored weekday %d out of range", weekday)
	}
	return persistence.ScheduleTemplate{Weekday: day, Slots: slots, UpdatedAt: updated}, nil
}

func scanHoliday(row scanner) (persistence.Holiday, error) {
	var (
		holiday   persistence.Holiday
		createdAt string
	)
	if err := row.Scan(&holiday.Date, &holiday.Name, &createdAt); err != nil {
		return persistence.Holiday{}, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return persistence.Holiday{}, err
	}
	holiday.CreatedAt = created
	return holiday, nil
}
