package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/testcentre/internal/application"
	"github.com/example/testcentre/internal/config"
	httptransport "github.com/example/testcentre/internal/http"
	"github.com/example/testcentre/internal/logging"
	"github.com/example/testcentre/internal/persistence/sqlite"
	"github.com/example/testcentre/internal/persistence/sqlite/migration"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSON(os.Stdout, cfg.LogLevel)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("test centre API stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	storage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newHandler(storage, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("test centre API listening", "addr", server.Addr, "timezone", cfg.Location.String())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sqlite.Storage, error) {
	retry := sqlite.DefaultRetryConfig()
	retry.MaxRetries = cfg.StoreRetries

	storage, err := sqlite.Open(migration.DefaultSQLiteConfig(cfg.SQLiteDSN), retry, logger)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx); err != nil {
		_ = storage.Close()
		return nil, err
	}
	return storage, nil
}

func newHandler(storage *sqlite.Storage, cfg config.Config, logger *slog.Logger) http.Handler {
	idGenerator := uuid.NewString
	now := time.Now
	policy := application.Policy{
		Location:         cfg.Location,
		CriticalMinRatio: cfg.CriticalMinRatio,
		MaxResits:        cfg.MaxResits,
	}

	calendarService := application.NewCalendarServiceWithLogger(storage.Calendar, storage.Appointments, now, logger)
	appointmentService := application.NewAppointmentServiceWithLogger(calendarService, storage.Appointments, storage.Configs, idGenerator, now, policy, logger)
	verificationService := application.NewVerificationServiceWithLogger(storage.Appointments, storage.Verifications, now, policy, logger)
	sessionService := application.NewSessionServiceWithLogger(
		appointmentService, storage.Sessions, storage.Configs, storage.Resits,
		application.AnswerKeyScorer{}, idGenerator, now, policy, logger,
	)
	assignmentService := application.NewAssignmentServiceWithLogger(storage.Sessions, storage.Officers, storage.Assignments, now, logger)
	evaluationService := application.NewEvaluationServiceWithLogger(
		appointmentService, storage.Sessions, storage.Configs, storage.Assignments, storage.Evaluations, storage.Resits,
		idGenerator, now, policy, logger,
	)
	resitService := application.NewResitServiceWithLogger(appointmentService, storage.Sessions, storage.Configs, storage.Resits, idGenerator, now, policy, logger)
	referenceService := application.NewReferenceServiceWithLogger(storage.Configs, storage.Officers, idGenerator, now, policy, logger)

	return httptransport.NewRouter(httptransport.RouterConfig{
		Calendar:     httptransport.NewCalendarHandler(calendarService, logger),
		Appointments: httptransport.NewAppointmentHandler(appointmentService, verificationService, logger),
		Tests:        httptransport.NewTestHandler(sessionService, assignmentService, evaluationService, logger),
		Resits:       httptransport.NewResitHandler(resitService, logger),
		Reference:    httptransport.NewReferenceHandler(referenceService, logger),
		Logger:       logger,
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.RequirePrincipal(httptransport.NewJWTVerifier(cfg.JWTSecret), logger),
		},
	})
}
