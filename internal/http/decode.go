package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/testcentre/internal/application"
)

// maxBodyBytes bounds request bodies; photo evidence is the largest payload.
const maxBodyBytes = 8 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest reads a JSON body into dst and applies its validate tags.
// Malformed JSON yields errBadRequestBody; tag failures yield a
// *application.ValidationError keyed by JSON field path.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBadRequestBody
		}
		return fmt.Errorf("%w: %v", errBadRequestBody, err)
	}
	return validateRequest(dst)
}

func validateRequest(dst any) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	vErr := &application.ValidationError{FieldErrors: make(map[string]string, len(fieldErrs))}
	for _, fieldErr := range fieldErrs {
		vErr.FieldErrors[fieldPath(fieldErr.Namespace())] = describeTag(fieldErr)
	}
	return vErr
}

// fieldPath drops the struct name from a validator namespace such as
// "evaluateStageRequest.criteria_results[0].criterion_id".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describeTag(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "datetime":
		return "must use the format " + fieldErr.Param()
	case "oneof":
		return "must be one of " + fieldErr.Param()
	case "min", "gte":
		return "must be at least " + fieldErr.Param()
	case "gt":
		return "must be greater than " + fieldErr.Param()
	case "max", "lte":
		return "must be at most " + fieldErr.Param()
	case "dive":
		return "contains an invalid entry"
	default:
		return "failed the " + fieldErr.Tag() + " check"
	}
}

func writeDecodeError(ctx context.Context, responder responder, w http.ResponseWriter, err error) {
	if errors.Is(err, errBadRequestBody) {
		responder.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}
	responder.handleServiceError(ctx, w, err)
}
