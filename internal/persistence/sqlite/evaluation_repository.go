package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/testcentre/internal/persistence"
	"github.com/example/testcentre/internal/progression"
)

// EvaluationRepository implements persistence.EvaluationRepository using SQLite
type EvaluationRepository struct {
	pool *ConnectionPool
}

// NewEvaluationRepository creates a new SQLite stage evaluation repository
func NewEvaluationRepository(pool *ConnectionPool) *EvaluationRepository {
	return &EvaluationRepository{pool: pool}
}

type criterionScoreRecord struct {
	CriterionID    string  `json:"criterion_id"`
	PointsAwarded  float64 `json:"points_awarded"`
	MaxPoints      float64 `json:"max_points"`
	IsCritical     bool    `json:"is_critical"`
	CriticalFailed bool    `json:"critical_failed"`
	Notes          string  `json:"notes,omitempty"`
}

// RecordEvaluation stores a checklist submission together with the session
// transition it causes, in one transaction. The (session, stage) pair is
// unique, so a second submission yields persistence.ErrDuplicate; a session
// whose status no longer equals expected yields persistence.ErrStaleState.
// Nothing is written when either check fails.
func (r *EvaluationRepository) RecordEvaluation(ctx context.Context, evaluation persistence.StageEvaluation, session persistence.TestSession, expected progression.Status) error {
	records := make([]criterionScoreRecord, 0, len(evaluation.Scores))
	for _, score := range evaluation.Scores {
		records = append(records, criterionScoreRecord(score))
	}
	scores, err := encodeJSON(records)
	if err != nil {
		return err
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stage_evaluations (
				id, session_id, stage, officer_id, scores, awarded, possible,
				computed_score, critical_passed, passed, notes, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			evaluation.ID,
			evaluation.SessionID,
			string(evaluation.Stage),
			evaluation.OfficerID,
			scores,
			evaluation.Awarded,
			evaluation.Possible,
			evaluation.ComputedScore,
			boolToInt(evaluation.CriticalPassed),
			boolToInt(evaluation.Passed),
			evaluation.Notes,
			formatTime(evaluation.CreatedAt),
		); err != nil {
			return err
		}

		affected, err := compareAndSetSession(ctx, tx, session, expected)
		if err != nil {
			return err
		}
		if affected > 0 {
			return nil
		}
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_sessions WHERE id = ?`, session.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return persistence.ErrNotFound
		}
		return persistence.ErrStaleState
	})
}

// ListEvaluations returns the submissions of a session in stage order.
func (r *EvaluationRepository) ListEvaluations(ctx context.Context, sessionID string) ([]persistence.StageEvaluation, error) {
	var evaluations []persistence.StageEvaluation
	err := r.pool.query(ctx, func() { evaluations = nil }, func(rows *sql.Rows) error {
		var (
			evaluation               persistence.StageEvaluation
			stage, scores, createdAt string
			criticalPassed, passed   int
		)
		if err := rows.Scan(
			&evaluation.ID,
			&evaluation.SessionID,
			&stage,
			&evaluation.OfficerID,
			&scores,
			&evaluation.Awarded,
			&evaluation.Possible,
			&evaluation.ComputedScore,
			&criticalPassed,
			&passed,
			&evaluation.Notes,
			&createdAt,
		); err != nil {
			return err
		}
		var records []criterionScoreRecord
		if err := decodeJSON(scores, &records); err != nil {
			return err
		}
		for _, record := range records {
			evaluation.Scores = append(evaluation.Scores, persistence.CriterionScore(record))
		}
		evaluation.Stage = progression.Stage(stage)
		evaluation.CriticalPassed = criticalPassed != 0
		evaluation.Passed = passed != 0

		var err error
		if evaluation.CreatedAt, err = parseTime(createdAt); err != nil {
			return err
		}
		evaluations = append(evaluations, evaluation)
		return nil
	}, `
		SELECT id, session_id, stage, officer_id, scores, awarded, possible,
			computed_score, critical_passed, passed, notes, created_at
		FROM stage_evaluations WHERE session_id = ?
		ORDER BY CASE stage WHEN 'yard' THEN 0 ELSE 1 END`, sessionID)
	return evaluations, err
}
