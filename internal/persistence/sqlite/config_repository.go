package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/testcentre/internal/persistence"
	"github.com/example/testcentre/internal/progression"
)

// ConfigRepository implements persistence.ConfigRepository using SQLite
type ConfigRepository struct {
	pool *ConnectionPool
}

// NewConfigRepository creates a new SQLite reference data repository
func NewConfigRepository(pool *ConnectionPool) *ConfigRepository {
	return &ConfigRepository{pool: pool}
}

const configColumns = `id, name, written_pass_mark, yard_pass_mark, road_pass_mark, answer_key, max_resits, is_active, created_at, updated_at`

// UpsertTestConfig creates or replaces a test configuration.
func (r *ConfigRepository) UpsertTestConfig(ctx context.Context, config persistence.TestConfig) error {
	if config.ID == "" {
		return persistence.ErrConstraintViolation
	}
	key := config.AnswerKey
	if key == nil {
		key = map[string]string{}
	}
	answerKey, err := encodeJSON(key)
	if err != nil {
		return err
	}

	_, err = r.pool.exec(ctx, `
		INSERT INTO test_configs (`+configColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			written_pass_mark = excluded.written_pass_mark,
			yard_pass_mark = excluded.yard_pass_mark,
			road_pass_mark = excluded.road_pass_mark,
			answer_key = excluded.answer_key,
			max_resits = excluded.max_resits,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		config.ID,
		config.Name,
		config.WrittenPassMark,
		config.YardPassMark,
		config.RoadPassMark,
		answerKey,
		config.MaxResits,
		boolToInt(config.IsActive),
		formatTime(config.CreatedAt),
		formatTime(config.UpdatedAt),
	)
	return err
}

// GetTestConfig returns the configuration or persistence.ErrNotFound.
func (r *ConfigRepository) GetTestConfig(ctx context.Context, id string) (persistence.TestConfig, error) {
	var config persistence.TestConfig
	err := r.pool.queryRow(ctx, func(row *sql.Row) error {
		var err error
		config, err = scanConfig(row)
		return err
	}, `SELECT `+configColumns+` FROM test_configs WHERE id = ?`, id)
	return config, err
}

// ListTestConfigs returns every configuration ordered by name.
func (r *ConfigRepository) ListTestConfigs(ctx context.Context) ([]persistence.TestConfig, error) {
	var configs []persistence.TestConfig
	err := r.pool.query(ctx, func() { configs = nil }, func(rows *sql.Rows) error {
		config, err := scanConfig(rows)
		if err != nil {
			return err
		}
		configs = append(configs, config)
		return nil
	}, `SELECT `+configColumns+` FROM test_configs ORDER BY name, id`)
	return configs, err
}

const criterionColumns = `id, stage, name, description, max_points, is_critical, is_active, created_at, updated_at`

// UpsertCriterion creates or replaces an evaluation criterion.
func (r *ConfigRepository) UpsertCriterion(ctx context.Context, criterion persistence.EvaluationCriterion) error {
	if criterion.ID == "" || !criterion.Stage.Practical() {
		return persistence.ErrConstraintViolation
	}
	_, err := r.pool.exec(ctx, `
		INSERT INTO evaluation_criteria (`+criterionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			stage = excluded.stage,
			name = excluded.name,
			description = excluded.description,
			max_points = excluded.max_points,
			is_critical = excluded.is_critical,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		criterion.ID,
		string(criterion.Stage),
		criterion.Name,
		criterion.Description,
		criterion.MaxPoints,
		boolToInt(criterion.IsCritical),
		boolToInt(criterion.IsActive),
		formatTime(criterion.CreatedAt),
		formatTime(criterion.UpdatedAt),
	)
	return err
}

// GetCriterion returns the criterion or persistence.ErrNotFound.
func (r *ConfigRepository) GetCriterion(ctx context.Context, id string) (persistence.EvaluationCriterion, error) {
	var criterion persistence.EvaluationCriterion
	err := r.pool.queryRow(ctx, func(row *sql.Row) error {
		var err error
		criterion, err = scanCriterion(row)
		return err
	}, `SELECT `+criterionColumns+` FROM evaluation_criteria WHERE id = ?`, id)
	return criterion, err
}

// ListCriteria returns the criteria of a stage. An empty stage lists all.
func (r *ConfigRepository) ListCriteria(ctx context.Context, stage progression.Stage, activeOnly bool) ([]persistence.EvaluationCriterion, error) {
	query := `SELECT ` + criterionColumns + ` FROM evaluation_criteria WHERE (? = '' OR stage = ?)`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY stage, created_at, id`

	var criteria []persistence.EvaluationCriterion
	err := r.pool.query(ctx, func() { criteria = nil }, func(rows *sql.Rows) error {
		criterion, err := scanCriterion(rows)
		if err != nil {
			return err
		}
		criteria = append(criteria, criterion)
		return nil
	}, query, string(stage), string(stage))
	return criteria, err
}

func scanConfig(row scanner) (persistence.TestConfig, error) {
	var (
		config               persistence.TestConfig
		answerKey            string
		isActive             int
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&config.ID,
		&config.Name,
		&config.WrittenPassMark,
		&config.YardPassMark,
		&config.RoadPassMark,
		&answerKey,
		&config.MaxResits,
		&isActive,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.TestConfig{}, err
	}
	config.AnswerKey = map[string]string{}
	if err := decodeJSON(answerKey, &config.AnswerKey); err != nil {
		return persistence.TestConfig{}, err
	}
	config.IsActive = isActive != 0

	var err error
	if config.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.TestConfig{}, err
	}
	if config.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.TestConfig{}, err
	}
	return config, nil
}

func scanCriterion(row scanner) (persistence.EvaluationCriterion, error) {
	var (
		criterion            persistence.EvaluationCriterion
		stage                string
		isCritical, isActive int
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&criterion.ID,
		&stage,
		&criterion.Name,
		&criterion.Description,
		&criterion.MaxPoints,
		&isCritical,
		&isActive,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.EvaluationCriterion{}, err
	}
	criterion.Stage = progression.Stage(stage)
	criterion.IsCritical = isCritical != 0
	criterion.IsActive = isActive != 0

	var err error
	if criterion.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.EvaluationCriterion{}, err
	}
	if criterion.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.EvaluationCriterion{}, err
	}
	return criterion, nil
}
