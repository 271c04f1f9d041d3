// Package sqlite implements the persistence repositories on SQLite using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/example/testcentre/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Storage bundles the SQLite repositories over one connection pool.
type Storage struct {
	pool   *ConnectionPool
	logger *slog.Logger

	Calendar      *CalendarRepository
	Appointments  *AppointmentRepository
	Verifications *VerificationRepository
	Sessions      *SessionRepository
	Configs       *ConfigRepository
	Officers      *OfficerRepository
	Assignments   *AssignmentRepository
	Evaluations   *EvaluationRepository
	Resits        *ResitRepository
}

// Open connects to the database described by config.
func Open(config migration.SQLiteConfig, retry RetryConfig, logger *slog.Logger) (*Storage, error) {
	pool, err := NewConnectionPool(config, retry)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{
		pool:          pool,
		logger:        logger,
		Calendar:      NewCalendarRepository(pool),
		Appointments:  NewAppointmentRepository(pool),
		Verifications: NewVerificationRepository(pool),
		Sessions:      NewSessionRepository(pool),
		Configs:       NewConfigRepository(pool),
		Officers:      NewOfficerRepository(pool),
		Assignments:   NewAssignmentRepository(pool),
		Evaluations:   NewEvaluationRepository(pool),
		Resits:        NewResitRepository(pool),
	}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	manager := migration.NewManager(
		migration.NewFileScanner(migrationsFS, "migrations"),
		migration.NewSQLiteExecutor(s.pool.DB()),
		s.logger,
	)
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Ping checks that the database answers.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}
