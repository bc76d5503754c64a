package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/Nutcoco971/ProjectavisFew/pkg/errors"
)

// DownstreamErrorResponse is the error envelope every service writes.
type DownstreamErrorResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes and closes the body of a non-2xx response and
// converts it into an AppError when the body uses the shared envelope.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (read body: %w)", serviceName, resp.StatusCode, err)
	}

	var downstream DownstreamErrorResponse
	if json.Unmarshal(body, &downstream) == nil && downstream.Error != nil {
		return mapDownstreamError(resp.StatusCode, downstream.Error.Code, downstream.Error.Message, serviceName)
	}
	return fmt.Errorf("%s returned status %d: %s", serviceName, resp.StatusCode, body)
}

func mapDownstreamError(status int, code, message, serviceName string) error {
	qualified := serviceName + ": " + message

	switch {
	case status == http.StatusNotFound:
		return &apperrors.AppError{Code: "NOT_FOUND", Message: qualified, Status: status, Err: apperrors.ErrNotFound}
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(qualified)
	case status == http.StatusConflict:
		return apperrors.Conflict(qualified)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(qualified)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(qualified)
	case status == http.StatusServiceUnavailable:
		return &apperrors.AppError{Code: code, Message: qualified, Status: status, Err: apperrors.ErrServiceUnavail}
	case status >= 500:
		return fmt.Errorf("%s server error (%d/%s): %s", serviceName, status, code, message)
	default:
		return &apperrors.AppError{Code: code, Message: qualified, Status: status}
	}
}
