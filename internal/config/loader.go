package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/testcentre/internal/logging"
)

// Config captures environment driven configuration values for the test centre service.
type Config struct {
	HTTPPort         int
	SQLiteDSN        string
	JWTSecret        string
	Location         *time.Location
	CriticalMinRatio float64
	MaxResits        int
	StoreRetries     int
	LogLevel         slog.Level
}

// Load parses configuration values from the process environment after merging
// the given dotenv files (".env" when none are named). Variables already set
// in the environment win over file values, and a missing file is ignored.
//
// Every missing and invalid variable is reported in a single error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", file, err)
		}
	}

	cfg := Config{
		HTTPPort:         8080,
		SQLiteDSN:        "file:testcentre.db",
		Location:         time.UTC,
		CriticalMinRatio: 0.5,
		MaxResits:        3,
		StoreRetries:     3,
		LogLevel:         slog.LevelInfo,
	}

	var missing, invalid []string

	if value := env("TESTCENTRE_HTTP_PORT"); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, "TESTCENTRE_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dsn := env("TESTCENTRE_SQLITE_DSN"); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if secret := env("TESTCENTRE_JWT_SECRET"); secret == "" {
		missing = append(missing, "TESTCENTRE_JWT_SECRET")
	} else {
		cfg.JWTSecret = secret
	}

	if value := env("TESTCENTRE_TIMEZONE"); value != "" {
		location, err := time.LoadLocation(value)
		if err != nil {
			invalid = append(invalid, "TESTCENTRE_TIMEZONE")
		} else {
			cfg.Location = location
		}
	}

	if value := env("TESTCENTRE_CRITICAL_MIN_RATIO"); value != "" {
		ratio, err := strconv.ParseFloat(value, 64)
		if err != nil || ratio <= 0 || ratio > 1 {
			invalid = append(invalid, "TESTCENTRE_CRITICAL_MIN_RATIO")
		} else {
			cfg.CriticalMinRatio = ratio
		}
	}

	if value := env("TESTCENTRE_MAX_RESITS"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit <= 0 {
			invalid = append(invalid, "TESTCENTRE_MAX_RESITS")
		} else {
			cfg.MaxResits = limit
		}
	}

	if value := env("TESTCENTRE_STORE_RETRIES"); value != "" {
		retries, err := strconv.Atoi(value)
		if err != nil || retries < 0 {
			invalid = append(invalid, "TESTCENTRE_STORE_RETRIES")
		} else {
			cfg.StoreRetries = retries
		}
	}

	if value := env("TESTCENTRE_LOG_LEVEL"); value != "" {
		level, err := logging.ParseLevel(value)
		if err != nil {
			invalid = append(invalid, "TESTCENTRE_LOG_LEVEL")
		} else {
			cfg.LogLevel = level
		}
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "missing required environment variables: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		problems = append(problems, "invalid environment variables: "+strings.Join(invalid, ", "))
	}
	if len(problems) > 0 {
		return Config{}, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
