package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/testcentre/internal/persistence"
	"github.com/example/testcentre/internal/progression"
)

// AssignmentService assigns officers to the practical stages of sessions.
type AssignmentService struct {
	sessions    persistence.SessionRepository
	officers    persistence.OfficerRepository
	assignments persistence.AssignmentRepository
	now         func() time.Time
	logger      *slog.Logger
}

// NewAssignmentService constructs an assignment service with the provided dependencies.
func NewAssignmentService(sessions persistence.SessionRepository, officers persistence.OfficerRepository, assignments persistence.AssignmentRepository, now func() time.Time) *AssignmentService {
	return NewAssignmentServiceWithLogger(sessions, officers, assignments, now, nil)
}

// NewAssignmentServiceWithLogger constructs an assignment service with a specified logger.
func NewAssignmentServiceWithLogger(sessions persistence.SessionRepository, officers persistence.OfficerRepository, assignments persistence.AssignmentRepository, now func() time.Time, logger *slog.Logger) *AssignmentService {
	if now == nil {
		now = time.Now
	}
	return &AssignmentService{sessions: sessions, officers: officers, assignments: assignments, now: now, logger: defaultLogger(logger)}
}

func (s *AssignmentService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AssignmentService", operation, attrs...)
}

// Assign makes officerID the evaluator of a practical stage that the session
// has unlocked. A different existing assignment is replaced; repeating the
// current one is rejected.
func (s *AssignmentService) Assign(ctx context.Context, params AssignOfficerParams) (assignment persistence.OfficerAssignment, err error) {
	if s == nil {
		err = fmt.Errorf("AssignmentService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Assign",
		"principal_id", params.Principal.ID,
		"session_id", params.SessionID,
		"stage", params.Stage,
		"officer_id", params.OfficerID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to assign officer", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "officer assigned")
	}()

	if err = authorize(params.Principal, managerRoles...); err != nil {
		return
	}

	var stage progression.Stage
	stage, err = practicalStage(params.Stage)
	if err != nil {
		return
	}

	var session persistence.TestSession
	session, err = s.sessions.GetSession(ctx, params.SessionID)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if err = notReady(session, stage); err != nil {
		return
	}

	officerID := strings.TrimSpace(params.OfficerID)
	if err = s.checkOfficer(ctx, officerID); err != nil {
		return
	}

	existing, getErr := s.assignments.GetAssignment(ctx, session.ID, stage)
	switch {
	case getErr == nil && existing.OfficerID == officerID:
		err = &DuplicateAssignmentError{SessionID: session.ID, Stage: stage, OfficerID: officerID}
		return
	case getErr != nil && !errors.Is(getErr, persistence.ErrNotFound):
		err = mapRepoError(getErr)
		return
	}

	assignment = persistence.OfficerAssignment{
		SessionID:  session.ID,
		Stage:      stage,
		OfficerID:  officerID,
		AssignedBy: params.Principal.ID,
		AssignedAt: s.now(),
	}
	if err = s.assignments.UpsertAssignment(ctx, assignment); err != nil {
		err = mapRepoError(err)
		return
	}
	return
}

func (s *AssignmentService) checkOfficer(ctx context.Context, officerID string) error {
	if officerID == "" {
		return &UnknownOfficerError{OfficerID: officerID, Reason: "officer_id is required"}
	}
	officer, err := s.officers.GetOfficer(ctx, officerID)
	if errors.Is(err, persistence.ErrNotFound) {
		return &UnknownOfficerError{OfficerID: officerID, Reason: "no such officer"}
	}
	if err != nil {
		return mapRepoError(err)
	}
	if !officer.IsActive {
		return &UnknownOfficerError{OfficerID: officerID, Reason: "officer is inactive"}
	}
	if officer.Role != persistence.RoleOfficer {
		return &UnknownOfficerError{OfficerID: officerID, Reason: fmt.Sprintf("role %s does not evaluate stages", officer.Role)}
	}
	return nil
}

// MyAssignments lists the caller's assignments whose stage is awaiting evaluation.
func (s *AssignmentService) MyAssignments(ctx context.Context, principal Principal) (views []AssignmentView, err error) {
	if s == nil {
		err = fmt.Errorf("AssignmentService is nil")
		return
	}

	logger := s.loggerWith(ctx, "MyAssignments",
		"principal_id", principal.ID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list assignments", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(views)).DebugContext(ctx, "assignments listed")
	}()

	if err = authorize(principal, staffRoles...); err != nil {
		return
	}

	var assignments []persistence.OfficerAssignment
	assignments, err = s.assignments.ListAssignmentsForOfficer(ctx, principal.ID)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	views = make([]AssignmentView, 0, len(assignments))
	for _, assignment := range assignments {
		session, getErr := s.sessions.GetSession(ctx, assignment.SessionID)
		if getErr != nil {
			err = mapRepoError(getErr)
			return
		}
		if notReady(session, assignment.Stage) != nil {
			continue
		}
		views = append(views, AssignmentView{Assignment: assignment, Session: session})
	}
	return
}

func practicalStage(value string) (progression.Stage, error) {
	stage, err := progression.ParseStage(value)
	if err != nil {
		return "", &InvalidStageError{Stage: value}
	}
	if !stage.Practical() {
		return "", &InvalidStageError{Stage: value, Reason: "only yard and road are evaluated by officers"}
	}
	return stage, nil
}
