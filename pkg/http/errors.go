package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string            `json:"error"`             // Machine-readable error code
	Message string            `json:"message"`           // Human-readable message
	Details map[string]string `json:"details,omitempty"` // Optional context such as the offending field
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, nil)
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message string, details map[string]string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// WriteDomainError maps the model error taxonomy onto HTTP. Field tags from
// validation and conflict errors are returned as details.field. It reports
// false for errors outside the taxonomy, which are written as 500.
func WriteDomainError(w http.ResponseWriter, err error) bool {
	var (
		ve *models.ValidationError
		ce *models.ConflictError
	)

	switch {
	case errors.As(err, &ve):
		WriteErrorWithDetails(w, http.StatusBadRequest, "bad_request", ve.Message, fieldDetails(ve.Field))
	case errors.As(err, &ce):
		WriteErrorWithDetails(w, http.StatusConflict, "conflict", ce.Message, fieldDetails(ce.Field))
	case errors.Is(err, models.ErrTwoFactorRequired):
		WriteErrorWithDetails(w, http.StatusUnauthorized, "two_factor_required",
			"two factor code required", fieldDetails("twoFaCode"))
	case errors.Is(err, models.ErrInvalidOrExpired):
		WriteUnauthorized(w, "invalid or expired code")
	case errors.Is(err, models.ErrAccountDisabled):
		WriteForbidden(w, "account is deactivated")
	case errors.Is(err, models.ErrAccountDeleted):
		WriteUnauthorized(w, "account no longer exists")
	case errors.Is(err, models.ErrUnauthorized):
		WriteUnauthorized(w, "unauthorized")
	case errors.Is(err, models.ErrForbidden):
		WriteForbidden(w, "forbidden")
	case errors.Is(err, models.ErrNotFound):
		WriteNotFound(w, "resource not found")
	case errors.Is(err, models.ErrConflict):
		WriteConflict(w, "resource already exists")
	case errors.Is(err, models.ErrBadRequest):
		WriteBadRequest(w, "invalid request")
	default:
		WriteInternalError(w, "internal server error")
		return false
	}
	return true
}

func fieldDetails(field string) map[string]string {
	if field == "" {
		return nil
	}
	return map[string]string{"field": field}
}
