package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/testcentre/internal/application"
	"github.com/example/testcentre/internal/persistence"
)

type referenceService interface {
	SaveTestConfig(ctx context.Context, params application.TestConfigParams) (persistence.TestConfig, error)
	ListTestConfigs(ctx context.Context, principal application.Principal) ([]persistence.TestConfig, error)
	SaveCriterion(ctx context.Context, params application.CriterionParams) (persistence.EvaluationCriterion, error)
	ListCriteria(ctx context.Context, principal application.Principal, stage string, activeOnly bool) ([]persistence.EvaluationCriterion, error)
	SaveOfficer(ctx context.Context, params application.OfficerParams) (persistence.Officer, error)
	ListOfficers(ctx context.Context, principal application.Principal) ([]persistence.Officer, error)
}

// ReferenceHandler administers test configurations, checklists and staff.
type ReferenceHandler struct {
	service   referenceService
	responder responder
	logger    *slog.Logger
}

func NewReferenceHandler(service referenceService, logger *slog.Logger) *ReferenceHandler {
	base := defaultLogger(logger)
	return &ReferenceHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ReferenceHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "ReferenceHandler", operation, attrs...)
}

// CreateTestConfig handles POST /admin/test-configs.
func (h *ReferenceHandler) CreateTestConfig(w http.ResponseWriter, r *http.Request) {
	h.saveTestConfig(w, r, "", http.StatusCreated)
}

// UpdateTestConfig handles PUT /admin/test-configs/{id}.
func (h *ReferenceHandler) UpdateTestConfig(w http.ResponseWriter, r *http.Request, configID string) {
	h.saveTestConfig(w, r, configID, http.StatusOK)
}

func (h *ReferenceHandler) saveTestConfig(w http.ResponseWriter, r *http.Request, configID string, status int) {
	principal, _ := PrincipalFromContext(r.Context())

	var req testConfigRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.log(r.Context(), "SaveTestConfig", "principal_id", principal.ID).DebugContext(r.Context(), "invalid test configuration", "error", err)
		writeDecodeError(r.Context(), h.responder, w, err)
		return
	}
	if configID == "" {
		configID = req.ID
	}

	config, err := h.service.SaveTestConfig(r.Context(), application.TestConfigParams{
		Principal:       principal,
		ID:              configID,
		Name:            req.Name,
		WrittenPassMark: req.WrittenPassMark,
		YardPassMark:    req.YardPassMark,
		RoadPassMark:    req.RoadPassMark,
		AnswerKey:       req.AnswerKey,
		MaxResits:       req.MaxResits,
		IsActive:        req.IsActive,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, status, toTestConfigDTO(config))
}

// ListTestConfigs handles GET /admin/test-configs.
func (h *ReferenceHandler) ListTestConfigs(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	configs, err := h.service.ListTestConfigs(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]testConfigDTO, 0, len(configs))
	for _, config := range configs {
		out = append(out, toTestConfigDTO(config))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, testConfigsResponse{TestConfigs: out})
}

// CreateCriterion handles POST /admin/evaluation-criteria.
func (h *ReferenceHandler) CreateCriterion(w http.ResponseWriter, r *http.Request) {
	h.saveCriterion(w, r, "", http.StatusCreated)
}

// UpdateCriterion handles PUT /admin/evaluation-criteria/{id}.
func (h *ReferenceHandler) UpdateCriterion(w http.ResponseWriter, r *http.Request, criterionID string) {
	h.saveCriterion(w, r, criterionID, http.StatusOK)
}

func (h *ReferenceHandler) saveCriterion(w http.ResponseWriter, r *http.Request, criterionID string, status int) {
	principal, _ := PrincipalFromContext(r.Context())

	var req criterionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.log(r.Context(), "SaveCriterion", "principal_id", principal.ID).DebugContext(r.Context(), "invalid criterion", "error", err)
		writeDecodeError(r.Context(), h.responder, w, err)
		return
	}

	criterion, err := h.service.SaveCriterion(r.Context(), application.CriterionParams{
		Principal:   principal,
		ID:          criterionID,
		Stage:       req.Stage,
		Name:        req.Name,
		Description: req.Description,
		MaxPoints:   req.MaxPoints,
		IsCritical:  req.IsCritical,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, status, toCriterionDTO(criterion))
}

// ListCriteria handles GET /admin/evaluation-criteria?stage=&active=.
func (h *ReferenceHandler) ListCriteria(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()
	stage := strings.TrimSpace(query.Get("stage"))

	activeOnly := false
	if value := strings.TrimSpace(query.Get("active")); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: map[string]string{"active": "must be true or false"}})
			return
		}
		activeOnly = parsed
	}

	criteria, err := h.service.ListCriteria(r.Context(), principal, stage, activeOnly)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]criterionDTO, 0, len(criteria))
	for _, criterion := range criteria {
		out = append(out, toCriterionDTO(criterion))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, criteriaResponse{Criteria: out})
}

// SaveOfficer handles PUT /admin/officers/{id}.
func (h *ReferenceHandler) SaveOfficer(w http.ResponseWriter, r *http.Request, officerID string) {
	principal, _ := PrincipalFromContext(r.Context())

	var req officerRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.log(r.Context(), "SaveOfficer", "principal_id", principal.ID, "officer_id", officerID).DebugContext(r.Context(), "invalid officer", "error", err)
		writeDecodeError(r.Context(), h.responder, w, err)
		return
	}

	officer, err := h.service.SaveOfficer(r.Context(), application.OfficerParams{
		Principal: principal,
		ID:        officerID,
		Name:      req.Name,
		Role:      req.Role,
		IsActive:  req.IsActive,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toOfficerDTO(officer))
}

// ListOfficers handles GET /admin/officers.
func (h *ReferenceHandler) ListOfficers(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	officers, err := h.service.ListOfficers(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]officerDTO, 0, len(officers))
	for _, officer := range officers {
		out = append(out, toOfficerDTO(officer))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, officersResponse{Officers: out})
}

type testConfigRequest struct {
	ID              string            `json:"id"`
	Name            string            `json:"name" validate:"required"`
	WrittenPassMark *float64          `json:"written_pass_mark" validate:"omitnil,gte=0,lte=100"`
	YardPassMark    *float64          `json:"yard_pass_mark" validate:"omitnil,gte=0,lte=100"`
	RoadPassMark    *float64          `json:"road_pass_mark" validate:"omitnil,gte=0,lte=100"`
	AnswerKey       map[string]string `json:"answer_key"`
	MaxResits       *int              `json:"max_resits" validate:"omitnil,gte=0"`
	IsActive        *bool             `json:"is_active"`
}

type testConfigDTO struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	WrittenPassMark float64           `json:"written_pass_mark"`
	YardPassMark    float64           `json:"yard_pass_mark"`
	RoadPassMark    float64           `json:"road_pass_mark"`
	AnswerKey       map[string]string `json:"answer_key,omitempty"`
	MaxResits       int               `json:"max_resits"`
	IsActive        bool              `json:"is_active"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type testConfigsResponse struct {
	TestConfigs []testConfigDTO `json:"test_configs"`
}

func toTestConfigDTO(config persistence.TestConfig) testConfigDTO {
	return testConfigDTO{
		ID:              config.ID,
		Name:            config.Name,
		WrittenPassMark: config.WrittenPassMark,
		YardPassMark:    config.YardPassMark,
		RoadPassMark:    config.RoadPassMark,
		AnswerKey:       config.AnswerKey,
		MaxResits:       config.MaxResits,
		IsActive:        config.IsActive,
		CreatedAt:       config.CreatedAt,
		UpdatedAt:       config.UpdatedAt,
	}
}

type criterionRequest struct {
	Stage       string  `json:"stage" validate:"required,oneof=yard road"`
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description"`
	MaxPoints   float64 `json:"max_points" validate:"gt=0"`
	IsCritical  bool    `json:"is_critical"`
	IsActive    *bool   `json:"is_active"`
}

type criterionDTO struct {
	ID          string    `json:"id"`
	Stage       string    `json:"stage"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	MaxPoints   float64   `json:"max_points"`
	IsCritical  bool      `json:"is_critical"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type criteriaResponse struct {
	Criteria []criterionDTO `json:"criteria"`
}

func toCriterionDTO(criterion persistence.EvaluationCriterion) criterionDTO {
	return criterionDTO{
		ID:          criterion.ID,
		Stage:       string(criterion.Stage),
		Name:        criterion.Name,
		Description: criterion.Description,
		MaxPoints:   criterion.MaxPoints,
		IsCritical:  criterion.IsCritical,
		IsActive:    criterion.IsActive,
		CreatedAt:   criterion.CreatedAt,
		UpdatedAt:   criterion.UpdatedAt,
	}
}

type officerRequest struct {
	Name     string `json:"name" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=officer manager administrator"`
	IsActive *bool  `json:"is_active"`
}

type officerDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type officersResponse struct {
	Officers []officerDTO `json:"officers"`
}

func toOfficerDTO(officer persistence.Officer) officerDTO {
	return officerDTO{
		ID:        officer.ID,
		Name:      officer.Name,
		Role:      string(officer.Role),
		IsActive:  officer.IsActive,
		CreatedAt: officer.CreatedAt,
		UpdatedAt: officer.UpdatedAt,
	}
}
