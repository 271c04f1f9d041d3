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

// DefaultPassMark applies to any stage whose pass mark is not given.
const DefaultPassMark = 75.0

// ReferenceService administers test configurations, evaluation criteria and
// the officer directory.
type ReferenceService struct {
	configs     persistence.ConfigRepository
	officers    persistence.OfficerRepository
	idGenerator func() string
	now         func() time.Time
	policy      Policy
	logger      *slog.Logger
}

// NewReferenceService constructs a reference data service with the provided dependencies.
func NewReferenceService(configs persistence.ConfigRepository, officers persistence.OfficerRepository, idGenerator func() string, now func() time.Time, policy Policy) *ReferenceService {
	return NewReferenceServiceWithLogger(configs, officers, idGenerator, now, policy, nil)
}

// NewReferenceServiceWithLogger constructs a reference data service with a specified logger.
func NewReferenceServiceWithLogger(configs persistence.ConfigRepository, officers persistence.OfficerRepository, idGenerator func() string, now func() time.Time, policy Policy, logger *slog.Logger) *ReferenceService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ReferenceService{
		configs:     configs,
		officers:    officers,
		idGenerator: idGenerator,
		now:         now,
		policy:      policy.normalized(),
		logger:      defaultLogger(logger),
	}
}

func (s *ReferenceService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReferenceService", operation, attrs...)
}

// SaveTestConfig creates a configuration, or updates it when ID names an
// existing one.
func (s *ReferenceService) SaveTestConfig(ctx context.Context, params TestConfigParams) (config persistence.TestConfig, err error) {
	if s == nil {
		err = fmt.Errorf("ReferenceService is nil")
		return
	}

	logger := s.loggerWith(ctx, "SaveTestConfig",
		"principal_id", params.Principal.ID,
		"config_id", params.ID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to save test configuration", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("config_id", config.ID).InfoContext(ctx, "test configuration saved")
	}()

	if err = authorize(params.Principal, adminRoles...); err != nil {
		return
	}

	now := s.now()
	config = persistence.TestConfig{
		ID:              strings.TrimSpace(params.ID),
		WrittenPassMark: DefaultPassMark,
		YardPassMark:    DefaultPassMark,
		RoadPassMark:    DefaultPassMark,
		MaxResits:       s.policy.MaxResits,
		IsActive:        true,
		CreatedAt:       now,
	}
	if config.ID != "" {
		existing, getErr := s.configs.GetTestConfig(ctx, config.ID)
		switch {
		case getErr == nil:
			config = existing
		case !errors.Is(getErr, persistence.ErrNotFound):
			err = mapRepoError(getErr)
			return
		}
	} else {
		config.ID = s.idGenerator()
	}

	vErr := &ValidationError{}
	config.Name = strings.TrimSpace(params.Name)
	if config.Name == "" {
		vErr.add("name", "name is required")
	}
	config.WrittenPassMark = passMark(vErr, "written_pass_mark", params.WrittenPassMark, config.WrittenPassMark)
	config.YardPassMark = passMark(vErr, "yard_pass_mark", params.YardPassMark, config.YardPassMark)
	config.RoadPassMark = passMark(vErr, "road_pass_mark", params.RoadPassMark, config.RoadPassMark)
	if params.MaxResits != nil {
		if *params.MaxResits < 0 {
			vErr.add("max_resits", "max_resits must not be negative")
		}
		config.MaxResits = *params.MaxResits
	}
	if params.AnswerKey != nil {
		key := make(map[string]string, len(params.AnswerKey))
		for question, answer := range params.AnswerKey {
			question = strings.TrimSpace(question)
			if question == "" {
				vErr.add("answer_key", "question identifiers must not be empty")
				continue
			}
			key[question] = strings.TrimSpace(answer)
		}
		config.AnswerKey = key
	}
	if params.IsActive != nil {
		config.IsActive = *params.IsActive
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	config.UpdatedAt = now
	if err = s.configs.UpsertTestConfig(ctx, config); err != nil {
		err = mapRepoError(err)
		return
	}
	return
}

// passMark keeps current when value is omitted.
func passMark(vErr *ValidationError, field string, value *float64, current float64) float64 {
	if value == nil {
		return current
	}
	if *value < 0 || *value > 100 {
		vErr.add(field, "pass mark must be between 0 and 100")
	}
	return *value
}

// ListTestConfigs returns every configuration.
func (s *ReferenceService) ListTestConfigs(ctx context.Context, principal Principal) ([]persistence.TestConfig, error) {
	if s == nil {
		return nil, fmt.Errorf("ReferenceService is nil")
	}
	if err := authorize(principal, anyRole...); err != nil {
		return nil, err
	}
	configs, err := s.configs.ListTestConfigs(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if principal.Role != RoleAdministrator {
		// Answer keys are visible to administrators only.
		for i := range configs {
			configs[i].AnswerKey = nil
		}
	}
	return configs, nil
}

// SaveCriterion creates a checklist criterion, or updates it when ID names
// an existing one.
func (s *ReferenceService) SaveCriterion(ctx context.Context, params CriterionParams) (criterion persistence.EvaluationCriterion, err error) {
	if s == nil {
		err = fmt.Errorf("ReferenceService is nil")
		return
	}

	logger := s.loggerWith(ctx, "SaveCriterion",
		"principal_id", params.Principal.ID,
		"criterion_id", params.ID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to save evaluation criterion", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("criterion_id", criterion.ID).InfoContext(ctx, "evaluation criterion saved")
	}()

	if err = authorize(params.Principal, adminRoles...); err != nil {
		return
	}

	var stage progression.Stage
	stage, err = practicalStage(params.Stage)
	if err != nil {
		return
	}

	now := s.now()
	criterion = persistence.EvaluationCriterion{ID: strings.TrimSpace(params.ID), IsActive: true, CreatedAt: now}
	if criterion.ID != "" {
		existing, getErr := s.configs.GetCriterion(ctx, criterion.ID)
		if getErr != nil {
			err = mapRepoError(getErr)
			return
		}
		criterion = existing
	} else {
		criterion.ID = s.idGenerator()
	}

	vErr := &ValidationError{}
	criterion.Stage = stage
	criterion.Name = strings.TrimSpace(params.Name)
	if criterion.Name == "" {
		vErr.add("name", "name is required")
	}
	criterion.Description = strings.TrimSpace(params.Description)
	if params.MaxPoints <= 0 {
		vErr.add("max_points", "max_points must be positive")
	}
	criterion.MaxPoints = params.MaxPoints
	criterion.IsCritical = params.IsCritical
	if params.IsActive != nil {
		criterion.IsActive = *params.IsActive
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	criterion.UpdatedAt = now
	if err = s.configs.UpsertCriterion(ctx, criterion); err != nil {
		err = mapRepoError(err)
		return
	}
	return
}

// ListCriteria returns the criteria of a stage, or of all stages when stage is empty.
func (s *ReferenceService) ListCriteria(ctx context.Context, principal Principal, stage string, activeOnly bool) ([]persistence.EvaluationCriterion, error) {
	if s == nil {
		return nil, fmt.Errorf("ReferenceService is nil")
	}
	if err := authorize(principal, staffRoles...); err != nil {
		return nil, err
	}
	var filter progression.Stage
	if strings.TrimSpace(stage) != "" {
		parsed, err := practicalStage(stage)
		if err != nil {
			return nil, err
		}
		filter = parsed
	}
	criteria, err := s.configs.ListCriteria(ctx, filter, activeOnly)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return criteria, nil
}

// SaveOfficer creates or updates a staff directory entry.
func (s *ReferenceService) SaveOfficer(ctx context.Context, params OfficerParams) (officer persistence.Officer, err error) {
	if s == nil {
		err = fmt.Errorf("ReferenceService is nil")
		return
	}

	logger := s.loggerWith(ctx, "SaveOfficer",
		"principal_id", params.Principal.ID,
		"officer_id", params.ID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to save officer", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "officer saved")
	}()

	if err = authorize(params.Principal, adminRoles...); err != nil {
		return
	}

	now := s.now()
	officer = persistence.Officer{ID: strings.TrimSpace(params.ID), IsActive: true, CreatedAt: now}

	vErr := &ValidationError{}
	if officer.ID == "" {
		vErr.add("id", "id is required")
	} else {
		existing, getErr := s.officers.GetOfficer(ctx, officer.ID)
		switch {
		case getErr == nil:
			officer = existing
		case !errors.Is(getErr, persistence.ErrNotFound):
			err = mapRepoError(getErr)
			return
		}
	}
	officer.Name = strings.TrimSpace(params.Name)
	if officer.Name == "" {
		vErr.add("name", "name is required")
	}
	officer.Role = persistence.OfficerRole(strings.ToLower(strings.TrimSpace(params.Role)))
	switch officer.Role {
	case persistence.RoleOfficer, persistence.RoleManager, persistence.RoleAdministrator:
	default:
		vErr.add("role", "role must be officer, manager or administrator")
	}
	if params.IsActive != nil {
		officer.IsActive = *params.IsActive
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	officer.UpdatedAt = now
	if err = s.officers.UpsertOfficer(ctx, officer); err != nil {
		err = mapRepoError(err)
		return
	}
	return
}

// ListOfficers returns the staff directory.
func (s *ReferenceService) ListOfficers(ctx context.Context, principal Principal) ([]persistence.Officer, error) {
	if s == nil {
		return nil, fmt.Errorf("ReferenceService is nil")
	}
	if err := authorize(principal, staffRoles...); err != nil {
		return nil, err
	}
	officers, err := s.officers.ListOfficers(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return officers, nil
}
