package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", value, err)
	}
	return parsed, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	parsed, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func boolPtrToAny(v *bool) any {
	if v == nil {
		return nil
	}
	return boolToInt(*v)
}

func nullIntToBoolPtr(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Int64 != 0
	return &b
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode json: %w", err)
	}
	return string(data), nil
}

func encodeNullableJSON[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	return encodeJSON(v)
}

func decodeJSON(value string, target any) error {
	if value == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(value), target); err != nil {
		return fmt.Errorf("sqlite: decode json: %w", err)
	}
	return nil
}

func decodeNullableJSON[T any](value sql.NullString) (*T, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	var out T
	if err := decodeJSON(value.String, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
