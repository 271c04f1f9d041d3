package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/testcentre/internal/application"
	"github.com/example/testcentre/internal/calendar"
	"github.com/example/testcentre/internal/persistence"
	"github.com/example/testcentre/internal/progression"
)

var (
	configCounter    uint64
	criterionCounter uint64
	officerCounter   uint64
)

// referenceTime is a Saturday; the Monday after it is 2024-06-03.
var referenceTime = time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Principals -----------------------------

// Administrator returns an administrator principal.
func Administrator() application.Principal {
	return application.Principal{ID: "admin-1", Role: application.RoleAdministrator}
}

// Manager returns a manager principal.
func Manager() application.Principal {
	return application.Principal{ID: "manager-1", Role: application.RoleManager}
}

// Officer returns an officer principal with the given ID.
func Officer(id string) application.Principal {
	return application.Principal{ID: id, Role: application.RoleOfficer}
}

// Candidate returns a candidate principal whose candidate ID equals id.
func Candidate(id string) application.Principal {
	return application.Principal{ID: id, Role: application.RoleCandidate}
}

// --------------------------- Calendar fixtures ---------------------------

// MondayTemplate returns the Monday template used across tests:
// 09:00-10:00 for two candidates and 10:00-11:00 for one.
func MondayTemplate() persistence.ScheduleTemplate {
	return persistence.ScheduleTemplate{
		Weekday: time.Monday,
		Slots: []calendar.TemplateSlot{
			{Start: "09:00", End: "10:00", Capacity: 2},
			{Start: "10:00", End: "11:00", Capacity: 1},
		},
		UpdatedAt: referenceTime,
	}
}

// --------------------------- Config fixtures ---------------------------

// ConfigOption configures the generated test configuration.
type ConfigOption func(*persistence.TestConfig)

// NewConfigFixture returns an active configuration with 75% pass marks and a
// four-question answer key.
func NewConfigFixture(opts ...ConfigOption) persistence.TestConfig {
	idx := atomic.AddUint64(&configCounter, 1)
	config := persistence.TestConfig{
		ID:              fmt.Sprintf("config-%03d", idx),
		Name:            fmt.Sprintf("Class B %03d", idx),
		WrittenPassMark: 75,
		YardPassMark:    75,
		RoadPassMark:    75,
		AnswerKey:       map[string]string{"q1": "a", "q2": "b", "q3": "c", "q4": "d"},
		MaxResits:       3,
		IsActive:        true,
		CreatedAt:       referenceTime,
		UpdatedAt:       referenceTime,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// WithConfigID overrides the generated configuration ID.
func WithConfigID(id string) ConfigOption {
	return func(c *persistence.TestConfig) {
		c.ID = id
	}
}

// WithMaxResits overrides the resit limit.
func WithMaxResits(limit int) ConfigOption {
	return func(c *persistence.TestConfig) {
		c.MaxResits = limit
	}
}

// WithConfigInactive marks the configuration inactive.
func WithConfigInactive() ConfigOption {
	return func(c *persistence.TestConfig) {
		c.IsActive = false
	}
}

// PassingAnswers answers every question of the fixture key correctly.
func PassingAnswers() map[string]string {
	return map[string]string{"q1": "A", "q2": "b", "q3": "c", "q4": "d"}
}

// FailingAnswers answers half of the fixture key correctly.
func FailingAnswers() map[string]string {
	return map[string]string{"q1": "a", "q2": "b"}
}

// --------------------------- Criterion fixtures ---------------------------

// CriterionOption configures the generated criterion.
type CriterionOption func(*persistence.EvaluationCriterion)

// NewCriterionFixture returns an active, non-critical criterion worth 25 points.
func NewCriterionFixture(stage progression.Stage, opts ...CriterionOption) persistence.EvaluationCriterion {
	idx := atomic.AddUint64(&criterionCounter, 1)
	criterion := persistence.EvaluationCriterion{
		ID:        fmt.Sprintf("%s-criterion-%03d", stage, idx),
		Stage:     stage,
		Name:      fmt.Sprintf("Criterion %03d", idx),
		MaxPoints: 25,
		IsActive:  true,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&criterion)
	}
	return criterion
}

// WithCriterionID overrides the generated criterion ID.
func WithCriterionID(id string) CriterionOption {
	return func(c *persistence.EvaluationCriterion) {
		c.ID = id
	}
}

// WithCritical marks the criterion critical.
func WithCritical() CriterionOption {
	return func(c *persistence.EvaluationCriterion) {
		c.IsCritical = true
	}
}

// WithMaxPoints overrides the criterion maximum.
func WithMaxPoints(points float64) CriterionOption {
	return func(c *persistence.EvaluationCriterion) {
		c.MaxPoints = points
	}
}

// --------------------------- Officer fixtures ---------------------------

// OfficerOption configures the generated officer.
type OfficerOption func(*persistence.Officer)

// NewOfficerFixture returns an active evaluating officer.
func NewOfficerFixture(opts ...OfficerOption) persistence.Officer {
	idx := atomic.AddUint64(&officerCounter, 1)
	officer := persistence.Officer{
		ID:        fmt.Sprintf("officer-%03d", idx),
		Name:      fmt.Sprintf("Officer %03d", idx),
		Role:      persistence.RoleOfficer,
		IsActive:  true,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&officer)
	}
	return officer
}

// WithOfficerID overrides the generated officer ID.
func WithOfficerID(id string) OfficerOption {
	return func(o *persistence.Officer) {
		o.ID = id
	}
}

// WithOfficerRole overrides the officer role.
func WithOfficerRole(role persistence.OfficerRole) OfficerOption {
	return func(o *persistence.Officer) {
		o.Role = role
	}
}

// WithOfficerInactive marks the officer inactive.
func WithOfficerInactive() OfficerOption {
	return func(o *persistence.Officer) {
		o.IsActive = false
	}
}
