package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/testcentre/internal/persistence"
	"github.com/example/testcentre/internal/progression"
)

// OfficerRepository implements persistence.OfficerRepository using SQLite
type OfficerRepository struct {
	pool *ConnectionPool
}

// NewOfficerRepository creates a new SQLite officer repository
func NewOfficerRepository(pool *ConnectionPool) *OfficerRepository {
	return &OfficerRepository{pool: pool}
}

// UpsertOfficer creates or replaces an officer record.
func (r *OfficerRepository) UpsertOfficer(ctx context.Context, officer persistence.Officer) error {
	if officer.ID == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := r.pool.exec(ctx, `
		INSERT INTO officers (id, name, role, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		officer.ID,
		officer.Name,
		string(officer.Role),
		boolToInt(officer.IsActive),
		formatTime(officer.CreatedAt),
		formatTime(officer.UpdatedAt),
	)
	return err
}

// GetOfficer returns the officer or persistence.ErrNotFound.
func (r *OfficerRepository) GetOfficer(ctx context.Context, id string) (persistence.Officer, error) {
	var officer persistence.Officer
	err := r.pool.queryRow(ctx, func(row *sql.Row) error {
		var err error
		officer, err = scanOfficer(row)
		return err
	}, `SELECT id, name, role, is_active, created_at, updated_at FROM officers WHERE id = ?`, id)
	return officer, err
}

// ListOfficers returns the directory ordered by name.
func (r *OfficerRepository) ListOfficers(ctx context.Context) ([]persistence.Officer, error) {
	var officers []persistence.Officer
	err := r.pool.query(ctx, func() { officers = nil }, func(rows *sql.Rows) error {
		officer, err := scanOfficer(rows)
		if err != nil {
			return err
		}
		officers = append(officers, officer)
		return nil
	}, `SELECT id, name, role, is_active, created_at, updated_at FROM officers ORDER BY name, id`)
	return officers, err
}

func scanOfficer(row scanner) (persistence.Officer, error) {
	var (
		officer              persistence.Officer
		role                 string
		isActive             int
		createdAt, updatedAt string
	)
	if err := row.Scan(&officer.ID, &officer.Name, &role, &isActive, &createdAt, &updatedAt); err != nil {
		return persistence.Officer{}, err
	}
	officer.Role = persistence.OfficerRole(role)
	officer.IsActive = isActive != 0

	var err error
	if officer.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Officer{}, err
	}
	if officer.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Officer{}, err
	}
	return officer, nil
}

// AssignmentRepository implements persistence.AssignmentRepository using SQLite
type AssignmentRepository struct {
	pool *ConnectionPool
}

// NewAssignmentRepository creates a new SQLite assignment repository
func NewAssignmentRepository(pool *ConnectionPool) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

// UpsertAssignment makes officer the single assignee of the session stage,
// replacing any previous assignee.
func (r *AssignmentRepository) UpsertAssignment(ctx context.Context, assignment persistence.OfficerAssignment) error {
	if !assignment.Stage.Practical() {
		return persistence.ErrConstraintViolation
	}
	_, err := r.pool.exec(ctx, `
		INSERT INTO officer_assignments (session_id, stage, officer_id, assigned_by, assigned_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, stage) DO UPDATE SET
			officer_id = excluded.officer_id,
			assigned_by = excluded.assigned_by,
			assigned_at = excluded.assigned_at`,
		assignment.SessionID,
		string(assignment.Stage),
		assignment.OfficerID,
		assignment.AssignedBy,
		formatTime(assignment.AssignedAt),
	)
	return err
}

// GetAssignment returns the assignment of a session stage or
// persistence.ErrNotFound.
func (r *AssignmentRepository) GetAssignment(ctx context.Context, sessionID string, stage progression.Stage) (persistence.OfficerAssignment, error) {
	var assignment persistence.OfficerAssignment
	err := r.pool.queryRow(ctx, func(row *sql.Row) error {
		var err error
		assignment, err = scanAssignment(row)
		return err
	}, `
		SELECT session_id, stage, officer_id, assigned_by, assigned_at
		FROM officer_assignments WHERE session_id = ? AND stage = ?`, sessionID, string(stage))
	return assignment, err
}

// ListAssignmentsForOfficer returns an officer's assignments, oldest first.
func (r *AssignmentRepository) ListAssignmentsForOfficer(ctx context.Context, officerID string) ([]persistence.OfficerAssignment, error) {
	var assignments []persistence.OfficerAssignment
	err := r.pool.query(ctx, func() { assignments = nil }, func(rows *sql.Rows) error {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return err
		}
		assignments = append(assignments, assignment)
		return nil
	}, `
		SELECT session_id, stage, officer_id, assigned_by, assigned_at
		FROM officer_assignments WHERE officer_id = ?
		ORDER BY assigned_at, session_id`, officerID)
	return assignments, err
}

func scanAssignment(row scanner) (persistence.OfficerAssignment, error) {
	var (
		assignment        persistence.OfficerAssignment
		stage, assignedAt string
	)
	if err := row.Scan(&assignment.SessionID, &stage, &assignment.OfficerID, &assignment.AssignedBy, &assignedAt); err != nil {
		return persistence.OfficerAssignment{}, err
	}
	assignment.Stage = progression.Stage(stage)

	var err error
	assignment.AssignedAt, err = parseTime(assignedAt)
	return assignment, err
}
