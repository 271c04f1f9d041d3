package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/testcentre/internal/config"
	httptransport "github.com/example/testcentre/internal/http"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		HTTPPort:         8080,
		SQLiteDSN:        filepath.Join(t.TempDir(), "testcentre.db"),
		JWTSecret:        "main-test-secret",
		Location:         time.UTC,
		CriticalMinRatio: 0.5,
		MaxResits:        3,
		StoreRetries:     2,
		LogLevel:         slog.LevelInfo,
	}
}

func TestOpenStorage_MigratesFreshDatabase(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	storage, err := openStorage(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("openStorage: %v", err)
	}
	defer storage.Close()

	// Migrations are idempotent, so a second run against the same file succeeds.
	if err := storage.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if _, err := storage.Configs.ListTestConfigs(context.Background()); err != nil {
		t.Fatalf("expected migrated schema: %v", err)
	}
}

func TestNewHandler_RequiresBearerToken(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	storage, err := openStorage(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("openStorage: %v", err)
	}
	defer storage.Close()

	handler := newHandler(storage, cfg, logger)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/admin/test-configs", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want %d", recorder.Code, http.StatusUnauthorized)
	}

	claims := httptransport.PrincipalClaims{
		Role: "administrator",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/test-configs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want %d; body: %s", recorder.Code, http.StatusOK, recorder.Body.String())
	}
	if recorder.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}
