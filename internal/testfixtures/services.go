package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/testcentre/internal/application"
	"github.com/example/testcentre/internal/persistence/sqlite"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Policy      application.Policy
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Policy:      application.Policy{Location: time.UTC, CriticalMinRatio: 0.5, MaxResits: 3},
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithPolicy overrides the test-day policy.
func WithPolicy(policy application.Policy) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Policy = policy
	}
}

// WithLogger overrides the logger handed to every service.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// Services is the full set of application services over one storage.
type Services struct {
	Calendar     *application.CalendarService
	Appointments *application.AppointmentService
	Verification *application.VerificationService
	Sessions     *application.SessionService
	Assignments  *application.AssignmentService
	Evaluations  *application.EvaluationService
	Resits       *application.ResitService
	Reference    *application.ReferenceService
}

// Build wires every service against storage using the factory defaults.
func (f *ServiceFactory) Build(storage *sqlite.Storage) *Services {
	idGen := f.IDGenerator.NextFunc()
	now := f.Clock.NowFunc()

	cal := application.NewCalendarServiceWithLogger(storage.Calendar, storage.Appointments, now, f.Logger)
	appointments := application.NewAppointmentServiceWithLogger(cal, storage.Appointments, storage.Configs, idGen, now, f.Policy, f.Logger)

	return &Services{
		Calendar:     cal,
		Appointments: appointments,
		Verification: application.NewVerificationServiceWithLogger(storage.Appointments, storage.Verifications, now, f.Policy, f.Logger),
		Sessions: application.NewSessionServiceWithLogger(
			appointments, storage.Sessions, storage.Configs, storage.Resits,
			application.AnswerKeyScorer{}, idGen, now, f.Policy, f.Logger,
		),
		Assignments: application.NewAssignmentServiceWithLogger(storage.Sessions, storage.Officers, storage.Assignments, now, f.Logger),
		Evaluations: application.NewEvaluationServiceWithLogger(
			appointments, storage.Sessions, storage.Configs, storage.Assignments, storage.Evaluations, storage.Resits,
			idGen, now, f.Policy, f.Logger,
		),
		Resits:    application.NewResitServiceWithLogger(appointments, storage.Sessions, storage.Configs, storage.Resits, idGen, now, f.Policy, f.Logger),
		Reference: application.NewReferenceServiceWithLogger(storage.Configs, storage.Officers, idGen, now, f.Policy, f.Logger),
	}
}
