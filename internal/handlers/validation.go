package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/query"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/go-playground/validator/v10"
)

// Global validator instance (reused across all handlers). Field names are
// reported by their JSON name so clients can map them onto form inputs.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateRequest validates a DTO and returns the first failing field as a
// *models.ValidationError.
func ValidateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return &models.ValidationError{Field: fe.Field(), Message: formatValidationError(fe), Err: err}
	}
	return &models.ValidationError{Message: "invalid request", Err: err}
}

// decodeAndValidate reads a JSON body into dst and validates it, writing the
// error response itself. It reports whether the handler may continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := pkghttp.DecodeJSON(w, r, dst); err != nil {
		pkghttp.WriteDomainError(w, err)
		return false
	}
	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteDomainError(w, err)
		return false
	}
	return true
}

// formatValidationError converts a validator FieldError to a user-friendly message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must have a minimum of %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	case "numeric":
		return "must contain digits only"
	case "hexadecimal":
		return "must be a hexadecimal string"
	case "e164":
		return "must be a phone number in E.164 format"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// writeError writes err through the domain error mapping and logs anything
// that ended up as a 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if !pkghttp.WriteDomainError(w, err) {
		logger.Error("request failed", slog.Any("error", err))
	}
}

// listingRequest parses page, filter, sort and search parameters from the
// raw query string.
func listingRequest(w http.ResponseWriter, r *http.Request) (query.Request, bool) {
	req, err := query.ParseRequest(r.URL.RawQuery)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return query.Request{}, false
	}
	return req, true
}
