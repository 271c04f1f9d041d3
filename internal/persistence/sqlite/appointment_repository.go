package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/example/testcentre/internal/persistence"
)

// AppointmentRepository implements persistence.AppointmentRepository using
// SQLite. Capacity checks run inside the same statement as the write they
// guard, so concurrent bookings for the last seat cannot both succeed.
type AppointmentRepository struct {
	pool *ConnectionPool
}

// NewAppointmentRepository creates a new SQLite appointment repository
func NewAppointmentRepository(pool *ConnectionPool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

const appointmentColumns = `id, candidate_id, config_id, date, slot, status, verification_status, notes, created_by, created_at, updated_at`

// CountBookings returns the live (non-cancelled) bookings per slot on date.
func (r *AppointmentRepository) CountBookings(ctx context.Context, date string) (map[string]int, error) {
	counts := make(map[string]int)
	err := r.pool.query(ctx, func() { counts = make(map[string]int) }, func(rows *sql.Rows) error {
		var (
			slot  string
			count int
		)
		if err := rows.Scan(&slot, &count); err != nil {
			return err
		}
		counts[slot] = count
		return nil
	}, `
		SELECT slot, COUNT(*) FROM appointments
		WHERE date = ? AND status != 'cancelled'
		GROUP BY slot`, date)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// InsertWithinCapacity inserts the appointment only if fewer than capacity
// live appointments share its date and slot.
func (r *AppointmentRepository) InsertWithinCapacity(ctx context.Context, appointment persistence.Appointment, capacity int) error {
	if appointment.ID == "" || capacity < 1 {
		return persistence.ErrConstraintViolation
	}

	affected, err := r.pool.execAffecting(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE (
			SELECT COUNT(*) FROM appointments
			WHERE date = ? AND slot = ? AND status != 'cancelled'
		) < ?`,
		appointment.ID,
		appointment.CandidateID,
		appointment.ConfigID,
		appointment.Date,
		appointment.Slot,
		string(appointment.Status),
		string(appointment.VerificationStatus),
		appointment.Notes,
		appointment.CreatedBy,
		formatTime(appointment.CreatedAt),
		formatTime(appointment.UpdatedAt),
		appointment.Date,
		appointment.Slot,
		capacity,
	)
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrCapacityReached
	}
	return nil
}

// MoveWithinCapacity changes the date and slot of a scheduled or confirmed
// appointment when the target slot has room, and records the move in the
// reschedule history in the same transaction. The appointment's own row is
// not counted against the target. Moving to another date resets the
// verification status to pending.
func (r *AppointmentRepository) MoveWithinCapacity(ctx context.Context, move persistence.AppointmentMove, capacity int) error {
	if capacity < 1 || move.History.ID == "" {
		return persistence.ErrConstraintViolation
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		var originalDate, originalSlot, status string
		if err := tx.QueryRowContext(ctx,
			`SELECT date, slot, status FROM appointments WHERE id = ?`, move.ID,
		).Scan(&originalDate, &originalSlot, &status); err != nil {
			return err
		}
		switch persistence.AppointmentStatus(status) {
		case persistence.AppointmentScheduled, persistence.AppointmentConfirmed:
		default:
			return persistence.ErrStaleState
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE appointments
			SET date = ?, slot = ?, notes = ?, updated_at = ?,
				verification_status = CASE WHEN date = ? THEN verification_status ELSE 'pending' END
			WHERE id = ?
			  AND (
				SELECT COUNT(*) FROM appointments
				WHERE date = ? AND slot = ? AND status != 'cancelled' AND id != ?
			  ) < ?`,
			move.Date,
			move.Slot,
			move.Notes,
			formatTime(move.UpdatedAt),
			move.Date,
			move.ID,
			move.Date,
			move.Slot,
			move.ID,
			capacity,
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return persistence.ErrCapacityReached
		}

		history := move.History
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reschedule_history (
				id, appointment_id, original_date, original_slot, new_date, new_slot,
				reason, notes, rescheduled_by, rescheduled_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			history.ID,
			move.ID,
			originalDate,
			originalSlot,
			move.Date,
			move.Slot,
			history.Reason,
			history.Notes,
			history.RescheduledBy,
			formatTime(history.RescheduledAt),
		)
		return err
	})
}

// ListRescheduleHistory returns the moves of an appointment, newest first.
func (r *AppointmentRepository) ListRescheduleHistory(ctx context.Context, appointmentID string) ([]persistence.RescheduleRecord, error) {
	var history []persistence.RescheduleRecord
	err := r.pool.query(ctx, func() { history = nil }, func(rows *sql.Rows) error {
		var (
			record        persistence.RescheduleRecord
			rescheduledAt string
		)
		if err := rows.Scan(
			&record.ID,
			&record.AppointmentID,
			&record.OriginalDate,
			&record.OriginalSlot,
			&record.NewDate,
			&record.NewSlot,
			&record.Reason,
			&record.Notes,
			&record.RescheduledBy,
			&rescheduledAt,
		); err != nil {
			return err
		}
		var err error
		if record.RescheduledAt, err = parseTime(rescheduledAt); err != nil {
			return err
		}
		history = append(history, record)
		return nil
	}, `
		SELECT id, appointment_id, original_date, original_slot, new_date, new_slot,
			reason, notes, rescheduled_by, rescheduled_at
		FROM reschedule_history WHERE appointment_id = ?
		ORDER BY rowid DESC`, appointmentID)
	return history, err
}

// GetAppointment returns the appointment or persistence.ErrNotFound.
func (r *AppointmentRepository) GetAppointment(ctx context.Context, id string) (persistence.Appointment, error) {
	if id == "" {
		return persistence.Appointment{}, persistence.ErrNotFound
	}
	var appointment persistence.Appointment
	err := r.pool.queryRow(ctx, func(row *sql.Row) error {
		var err error
		appointment, err = scanAppointment(row)
		return err
	}, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id)
	return appointment, err
}

// UpdateAppointmentStatus moves the appointment to status to when its current
// status is one of from. It returns persistence.ErrStaleState otherwise.
func (r *AppointmentRepository) UpdateAppointmentStatus(ctx context.Context, id string, from []persistence.AppointmentStatus, to persistence.AppointmentStatus, at time.Time) error {
	if len(from) == 0 {
		return persistence.ErrConstraintViolation
	}
	placeholders := make([]string, len(from))
	args := []any{string(to), formatTime(at), id}
	for i, status := range from {
		placeholders[i] = "?"
		args = append(args, string(status))
	}

	affected, err := r.pool.execAffecting(ctx, `
		UPDATE appointments SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := r.GetAppointment(ctx, id); err != nil {
		return err
	}
	return persistence.ErrStaleState
}

// SetVerificationStatus records the identity gate outcome on the appointment.
func (r *AppointmentRepository) SetVerificationStatus(ctx context.Context, id string, status persistence.VerificationStatus, at time.Time) error {
	affected, err := r.pool.execAffecting(ctx,
		`UPDATE appointments SET verification_status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(at), id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// ListAppointments returns appointments matching filter ordered by date, slot
// and creation time.
func (r *AppointmentRepository) ListAppointments(ctx context.Context, filter persistence.AppointmentFilter) ([]persistence.Appointment, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.CandidateID != "" {
		conditions = append(conditions, "candidate_id = ?")
		args = append(args, filter.CandidateID)
	}
	if filter.Date != "" {
		conditions = append(conditions, "date = ?")
		args = append(args, filter.Date)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date, slot, created_at, id"

	var appointments []persistence.Appointment
	err := r.pool.query(ctx, func() { appointments = nil }, func(rows *sql.Rows) error {
		appointment, err := scanAppointment(rows)
		if err != nil {
			return err
		}
		appointments = append(appointments, appointment)
		return nil
	}, query, args...)
	return appointments, err
}

func scanAppointment(row scanner) (persistence.Appointment, error) {
	var (
		appointment          persistence.Appointment
		status, verification string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&appointment.ID,
		&appointment.CandidateID,
		&appointment.ConfigID,
		&appointment.Date,
		&appointment.Slot,
		&status,
		&verification,
		&appointment.Notes,
		&appointment.CreatedBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return persistence.Appointment{}, err
	}
	appointment.Status = persistence.AppointmentStatus(status)
	appointment.VerificationStatus = persistence.VerificationStatus(verification)
	if appointment.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Appointment{}, err
	}
	if appointment.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Appointment{}, err
	}
	return appointment, nil
}
