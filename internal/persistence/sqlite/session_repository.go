package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/testcentre/internal/persistence"
	"github.com/example/testcentre/internal/progression"
)

// SessionRepository implements persistence.SessionRepository using SQLite
type SessionRepository struct {
	pool *ConnectionPool
}

// NewSessionRepository creates a new SQLite test session repository
func NewSessionRepository(pool *ConnectionPool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

type stageResultRecord struct {
	Score       float64   `json:"score"`
	Passed      bool      `json:"passed"`
	EvaluatedBy string    `json:"evaluated_by"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	CarriedFrom string    `json:"carried_from,omitempty"`
}

func toResultRecord(result *persistence.StageResult) *stageResultRecord {
	if result == nil {
		return nil
	}
	return &stageResultRecord{
		Score:       result.Score,
		Passed:      result.Passed,
		EvaluatedBy: result.EvaluatedBy,
		EvaluatedAt: result.EvaluatedAt.UTC(),
		CarriedFrom: result.CarriedFrom,
	}
}

func fromResultRecord(record *stageResultRecord) *persistence.StageResult {
	if record == nil {
		return nil
	}
	return &persistence.StageResult{
		Score:       record.Score,
		Passed:      record.Passed,
		EvaluatedBy: record.EvaluatedBy,
		EvaluatedAt: record.EvaluatedAt,
		CarriedFrom: record.CarriedFrom,
	}
}

const sessionColumns = `id, candidate_id, config_id, appointment_id, status, written_result, yard_result, road_result,
	failed_stage, resit_of, attempt, created_at, updated_at, completed_at`

// CreateSession inserts a new session.
func (r *SessionRepository) CreateSession(ctx context.Context, session persistence.TestSession) error {
	if session.ID == "" || !session.Status.Valid() {
		return persistence.ErrConstraintViolation
	}
	results, err := encodeResults(session)
	if err != nil {
		return err
	}

	_, err = r.pool.exec(ctx, `
		INSERT INTO test_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.CandidateID,
		session.ConfigID,
		session.AppointmentID,
		string(session.Status),
		results[0],
		results[1],
		results[2],
		string(session.FailedStage),
		session.ResitOf,
		session.Attempt,
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
		formatTimePtr(session.CompletedAt),
	)
	return err
}

// GetSession returns the session or persistence.ErrNotFound.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.TestSession, error) {
	var session persistence.TestSession
	err := r.pool.queryRow(ctx, func(row *sql.Row) error {
		var err error
		session, err = scanSession(row)
		return err
	}, `SELECT `+sessionColumns+` FROM test_sessions WHERE id = ?`, id)
	return session, err
}

// FindOpenSession returns the most recent non-terminal session of a candidate
// for a configuration.
func (r *SessionRepository) FindOpenSession(ctx context.Context, candidateID, configID string) (persistence.TestSession, error) {
	var session persistence.TestSession
	err := r.pool.queryRow(ctx, func(row *sql.Row) error {
		var err error
		session, err = scanSession(row)
		return err
	}, `
		SELECT `+sessionColumns+` FROM test_sessions
		WHERE candidate_id = ? AND config_id = ? AND status NOT IN ('completed', 'failed')
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, candidateID, configID)
	return session, err
}

// UpdateSession writes the session only when its stored status still equals
// expected.
func (r *SessionRepository) UpdateSession(ctx context.Context, session persistence.TestSession, expected progression.Status) error {
	var affected int64
	err := r.pool.retry.WithRetry(ctx, func() error {
		var err error
		affected, err = compareAndSetSession(ctx, r.pool.db, session, expected)
		return err
	})
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := r.GetSession(ctx, session.ID); err != nil {
		return err
	}
	return persistence.ErrStaleState
}

// compareAndSetSession writes session when the stored status equals expected
// and reports how many rows changed.
func compareAndSetSession(ctx context.Context, ex execer, session persistence.TestSession, expected progression.Status) (int64, error) {
	if !session.Status.Valid() {
		return 0, persistence.ErrConstraintViolation
	}
	results, err := encodeResults(session)
	if err != nil {
		return 0, err
	}

	result, err := ex.ExecContext(ctx, `
		UPDATE test_sessions SET
			status = ?, written_result = ?, yard_result = ?, road_result = ?,
			failed_stage = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(session.Status),
		results[0],
		results[1],
		results[2],
		string(session.FailedStage),
		formatTime(session.UpdatedAt),
		formatTimePtr(session.CompletedAt),
		session.ID,
		string(expected),
	)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

func encodeResults(session persistence.TestSession) ([3]any, error) {
	var out [3]any
	for i, stage := range progression.Stages() {
		encoded, err := encodeNullableJSON(toResultRecord(session.Result(stage)))
		if err != nil {
			return out, err
		}
		out[i] = encoded
	}
	return out, nil
}

func scanSession(row scanner) (persistence.TestSession, error) {
	var (
		session              persistence.TestSession
		status, failedStage  string
		written, yard, road  sql.NullString
		createdAt, updatedAt string
		completedAt          sql.NullString
	)
	if err := row.Scan(
		&session.ID,
		&session.CandidateID,
		&session.ConfigID,
		&session.AppointmentID,
		&status,
		&written,
		&yard,
		&road,
		&failedStage,
		&session.ResitOf,
		&session.Attempt,
		&createdAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		return persistence.TestSession{}, err
	}
	session.Status = progression.Status(status)
	session.FailedStage = progression.Stage(failedStage)

	for stage, raw := range map[progression.Stage]sql.NullString{
		progression.StageWritten: written,
		progression.StageYard:    yard,
		progression.StageRoad:    road,
	} {
		record, err := decodeNullableJSON[stageResultRecord](raw)
		if err != nil {
			return persistence.TestSession{}, err
		}
		session.SetResult(stage, fromResultRecord(record))
	}

	var err error
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.TestSession{}, err
	}
	if session.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.TestSession{}, err
	}
	if session.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return persistence.TestSession{}, err
	}
	return session, nil
}
