package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	apperrors "github.com/Nutcoco971/ProjectavisFew/pkg/errors"
	"github.com/Nutcoco971/ProjectavisFew/pkg/logger"
	"github.com/Nutcoco971/ProjectavisFew/pkg/validator"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 1 << 20

// RetryAfterSeconds is advertised on 503 responses.
const RetryAfterSeconds = 2

// Response is the standard JSON response envelope.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse represents an error in the standard response format.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encoding failure cannot be reported.
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes a size-limited JSON body into dst.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.InvalidInput(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// WriteError renders err in the standard envelope. AppErrors keep their code,
// status and fields; bare sentinels are mapped by HTTPStatus. 5xx responses
// are logged with the request-scoped logger when one is present.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}
	requestID := logger.CorrelationIDFromContext(r.Context())

	status := apperrors.HTTPStatus(err)
	body := &ErrorResponse{Code: "INTERNAL_ERROR", Message: "an internal error occurred", RequestID: requestID}

	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		body.Code = appErr.Code
		body.Message = appErr.Message
		body.Fields = appErr.Fields
	case errors.Is(err, apperrors.ErrNotFound):
		body.Code, body.Message = "NOT_FOUND", "resource not found"
	case errors.Is(err, apperrors.ErrAlreadyExists), errors.Is(err, apperrors.ErrConflict):
		body.Code, body.Message = "ALREADY_EXISTS", "resource already exists"
	case errors.Is(err, apperrors.ErrInvalidInput):
		body.Code, body.Message = "INVALID_INPUT", err.Error()
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	if status >= http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "request failed",
			slog.Int("status", status),
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	WriteJSON(w, status, Response{Error: body})
}

// WriteValidationError renders a validator.ValidationError with per-field messages.
func WriteValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteJSON(w, http.StatusBadRequest, Response{
			Error: &ErrorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "request validation failed",
				Fields:  valErr.Fields(),
			},
		})
		return
	}

	WriteJSON(w, http.StatusBadRequest, Response{
		Error: &ErrorResponse{Code: "INVALID_INPUT", Message: err.Error()},
	})
}

// ParseUUID parses param as a UUID. On failure it writes a 400
// INVALID_PARAMETER response and returns false.
func ParseUUID(w http.ResponseWriter, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(param)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, Response{
			Error: &ErrorResponse{
				Code:    "INVALID_PARAMETER",
				Message: "invalid UUID: " + param,
			},
		})
		return uuid.Nil, false
	}
	return id, true
}
