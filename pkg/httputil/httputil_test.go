package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Nutcoco971/ProjectavisFew/pkg/errors"
	"github.com/Nutcoco971/ProjectavisFew/pkg/logger"
	"github.com/Nutcoco971/ProjectavisFew/pkg/validator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *ErrorResponse {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

// --- WriteJSON ---

func TestWriteJSON_SetsContentTypeAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, Response{Data: "hello"})

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestResponse_OmitsEmptyFields(t *testing.T) {
	b, err := json.Marshal(Response{Data: 1})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "error")

	b, err = json.Marshal(Response{Error: &ErrorResponse{Code: "X"}})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "data")
	assert.NotContains(t, string(b), "fields")
}

// --- DecodeJSON ---

func TestDecodeJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"rating":8}`))

	var dst struct {
		Rating int `json:"rating"`
	}
	require.NoError(t, DecodeJSON(rec, req, &dst))
	assert.Equal(t, 8, dst.Rating)
}

func TestDecodeJSON_Malformed(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"rating":`))

	var dst map[string]any
	err := DecodeJSON(rec, req, &dst)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

// --- WriteError ---

func TestWriteError_AppErrorWithFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reviews", nil)

	WriteError(rec, req, apperrors.InvalidFields("review rejected", map[string]string{"keyword": "is required"}), testLogger())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	assert.Equal(t, "is required", body.Fields["keyword"])
}

func TestWriteError_ServiceUnavailableSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reviews", nil)

	WriteError(rec, req, apperrors.ServiceUnavailable("store unavailable", nil), testLogger())

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, rec).Code)
}

func TestWriteError_Sentinels(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("get: %w", apperrors.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{apperrors.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS"},
		{apperrors.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, testLogger())
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestWriteError_UnknownErrorHidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("password=hunter2"), testLogger())
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestWriteError_IncludesRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(logger.WithCorrelationID(context.Background(), "corr-42"))

	WriteError(rec, req, apperrors.NotFound("content", "x"), testLogger())
	assert.Equal(t, "corr-42", decodeError(t, rec).RequestID)
}

// --- WriteValidationError ---

type sample struct {
	Keyword string `json:"keyword" validate:"required"`
}

func TestWriteValidationError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteValidationError(rec, validator.Validate(sample{}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	assert.Equal(t, "is required", body.Fields["keyword"])
}

func TestWriteValidationError_PlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteValidationError(rec, errors.New("bad json"))
	assert.Equal(t, "INVALID_INPUT", decodeError(t, rec).Code)
}

// --- ParseUUID ---

func TestParseUUID(t *testing.T) {
	rec := httptest.NewRecorder()
	id, ok := ParseUUID(rec, "550e8400-e29b-41d4-a716-446655440000")
	assert.True(t, ok)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", id.String())
}

func TestParseUUID_Invalid(t *testing.T) {
	rec := httptest.NewRecorder()
	_, ok := ParseUUID(rec, "dune-part-two")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", decodeError(t, rec).Code)
}
