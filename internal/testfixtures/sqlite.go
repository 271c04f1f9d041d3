package testfixtures

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/testcentre/internal/persistence"
	"github.com/example/testcentre/internal/persistence/sqlite"
	"github.com/example/testcentre/internal/persistence/sqlite/migration"
	"github.com/example/testcentre/internal/progression"
)

// SQLiteHarness provides a migrated storage backed by a temporary SQLite file
// for integration-style tests.
type SQLiteHarness struct {
	Storage *sqlite.Storage

	tb      testing.TB
	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file that is
// migrated automatically. Callers may optionally invoke Close, but the helper
// will also register a cleanup callback with the provided testing.TB.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "testcentre.db")
	retry := sqlite.RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: 20 * time.Millisecond, BackoffFactor: 2}

	storage, err := sqlite.Open(migration.TempFileTestSQLiteConfig(path), retry, nil)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Storage: storage,
		tb:      tb,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}

// Seeded is the reference data written by SeedDefaults.
type Seeded struct {
	Config       persistence.TestConfig
	YardCriteria []persistence.EvaluationCriterion
	RoadCriteria []persistence.EvaluationCriterion
	Officer      persistence.Officer
}

// SeedDefaults writes the Monday template, one configuration, four criteria
// per practical stage (the last one critical) and one active officer.
func (h *SQLiteHarness) SeedDefaults(opts ...ConfigOption) Seeded {
	h.tb.Helper()
	ctx := context.Background()

	if err := h.Storage.Calendar.UpsertTemplate(ctx, MondayTemplate()); err != nil {
		h.tb.Fatalf("seed template: %v", err)
	}

	seeded := Seeded{Config: NewConfigFixture(opts...), Officer: NewOfficerFixture()}
	if err := h.Storage.Configs.UpsertTestConfig(ctx, seeded.Config); err != nil {
		h.tb.Fatalf("seed config: %v", err)
	}
	if err := h.Storage.Officers.UpsertOfficer(ctx, seeded.Officer); err != nil {
		h.tb.Fatalf("seed officer: %v", err)
	}

	for _, stage := range []progression.Stage{progression.StageYard, progression.StageRoad} {
		var criteria []persistence.EvaluationCriterion
		for i := 0; i < 4; i++ {
			var opts []CriterionOption
			if i == 3 {
				opts = append(opts, WithCritical())
			}
			criterion := NewCriterionFixture(stage, opts...)
			if err := h.Storage.Configs.UpsertCriterion(ctx, criterion); err != nil {
				h.tb.Fatalf("seed criterion: %v", err)
			}
			criteria = append(criteria, criterion)
		}
		if stage == progression.StageYard {
			seeded.YardCriteria = criteria
		} else {
			seeded.RoadCriteria = criteria
		}
	}
	return seeded
}
