package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/testcentre/internal/persistence"
)

// ResitRepository implements persistence.ResitRepository using SQLite
type ResitRepository struct {
	pool *ConnectionPool
}

// NewResitRepository creates a new SQLite resit repository
func NewResitRepository(pool *ConnectionPool) *ResitRepository {
	return &ResitRepository{pool: pool}
}

const resitColumns = `id, candidate_id, original_session_id, resit_attempt_number, failed_stages,
	requested_date, requested_slot, reason, status, appointment_id, continuation_session_id,
	approved_by, approved_at, completed_at, created_at, updated_at`

// CreateResit inserts a resit request. original_session_id is unique.
func (r *ResitRepository) CreateResit(ctx context.Context, resit persistence.ResitRequest) error {
	if resit.ID == "" || len(resit.FailedStages) == 0 {
		return persistence.ErrConstraintViolation
	}
	stages, err := encodeJSON(resit.FailedStages)
	if err != nil {
		return err
	}

	_, err = r.pool.exec(ctx, `
		INSERT INTO resit_requests (`+resitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		resit.ID,
		resit.CandidateID,
		resit.OriginalSessionID,
		resit.ResitAttemptNumber,
		stages,
		resit.RequestedDate,
		resit.RequestedSlot,
		resit.Reason,
		string(resit.Status),
		resit.AppointmentID,
		resit.ContinuationSessionID,
		resit.ApprovedBy,
		formatTimePtr(resit.ApprovedAt),
		formatTimePtr(resit.CompletedAt),
		formatTime(resit.CreatedAt),
		formatTime(resit.UpdatedAt),
	)
	return err
}

// GetResit returns the request or persistence.ErrNotFound.
func (r *ResitRepository) GetResit(ctx context.Context, id string) (persistence.ResitRequest, error) {
	return r.getOne(ctx, `SELECT `+resitColumns+` FROM resit_requests WHERE id = ?`, id)
}

// UpdateResit writes the mutable fields of a request when its stored status
// still equals expected.
func (r *ResitRepository) UpdateResit(ctx context.Context, resit persistence.ResitRequest, expected persistence.ResitStatus) error {
	affected, err := r.pool.execAffecting(ctx, `
		UPDATE resit_requests SET
			resit_attempt_number = ?, status = ?, appointment_id = ?, continuation_session_id = ?,
			approved_by = ?, approved_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		resit.ResitAttemptNumber,
		string(resit.Status),
		resit.AppointmentID,
		resit.ContinuationSessionID,
		resit.ApprovedBy,
		formatTimePtr(resit.ApprovedAt),
		formatTimePtr(resit.CompletedAt),
		formatTime(resit.UpdatedAt),
		resit.ID,
		string(expected),
	)
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := r.GetResit(ctx, resit.ID); err != nil {
		return err
	}
	return persistence.ErrStaleState
}

// FindResitForSession returns the request raised against a session.
func (r *ResitRepository) FindResitForSession(ctx context.Context, originalSessionID string) (persistence.ResitRequest, error) {
	return r.getOne(ctx, `SELECT `+resitColumns+` FROM resit_requests WHERE original_session_id = ?`, originalSessionID)
}

// FindResitByContinuation returns the request whose approval created the
// given continuation session.
func (r *ResitRepository) FindResitByContinuation(ctx context.Context, sessionID string) (persistence.ResitRequest, error) {
	if sessionID == "" {
		return persistence.ResitRequest{}, persistence.ErrNotFound
	}
	return r.getOne(ctx, `SELECT `+resitColumns+` FROM resit_requests WHERE continuation_session_id = ?`, sessionID)
}

// ListResits returns requests, newest first. An empty candidateID lists all.
func (r *ResitRepository) ListResits(ctx context.Context, candidateID string) ([]persistence.ResitRequest, error) {
	var resits []persistence.ResitRequest
	err := r.pool.query(ctx, func() { resits = nil }, func(rows *sql.Rows) error {
		resit, err := scanResit(rows)
		if err != nil {
			return err
		}
		resits = append(resits, resit)
		return nil
	}, `
		SELECT `+resitColumns+` FROM resit_requests
		WHERE (? = '' OR candidate_id = ?)
		ORDER BY created_at DESC, id DESC`, candidateID, candidateID)
	return resits, err
}

func (r *ResitRepository) getOne(ctx context.Context, query string, args ...any) (persistence.ResitRequest, error) {
	var resit persistence.ResitRequest
	err := r.pool.queryRow(ctx, func(row *sql.Row) error {
		var err error
		resit, err = scanResit(row)
		return err
	}, query, args...)
	return resit, err
}

func scanResit(row scanner) (persistence.ResitRequest, error) {
	var (
		resit                   persistence.ResitRequest
		stages, status          string
		approvedAt, completedAt sql.NullString
		createdAt, updatedAt    string
	)
	if err := row.Scan(
		&resit.ID,
		&resit.CandidateID,
		&resit.OriginalSessionID,
		&resit.ResitAttemptNumber,
		&stages,
		&resit.RequestedDate,
		&resit.RequestedSlot,
		&resit.Reason,
		&status,
		&resit.AppointmentID,
		&resit.ContinuationSessionID,
		&resit.ApprovedBy,
		&approvedAt,
		&completedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.ResitRequest{}, err
	}
	if err := decodeJSON(stages, &resit.FailedStages); err != nil {
		return persistence.ResitRequest{}, err
	}
	resit.Status = persistence.ResitStatus(status)

	var err error
	if resit.ApprovedAt, err = parseTimePtr(approvedAt); err != nil {
		return persistence.ResitRequest{}, err
	}
	if resit.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return persistence.ResitRequest{}, err
	}
	if resit.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.ResitRequest{}, err
	}
	if resit.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.ResitRequest{}, err
	}
	return resit, nil
}
