package http

import (
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/Nutcoco971/ProjectavisFew/pkg/errors"
	"github.com/Nutcoco971/ProjectavisFew/pkg/httputil"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
)

// toAppError maps the domain error kinds onto the HTTP error envelope.
// Errors of no domain kind are returned unchanged.
func toAppError(err error) error {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		fields := map[string]string{}
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			fields = ve.FieldMap()
		}
		return apperrors.InvalidFields("review rejected", fields)
	case domain.KindUniquenessConflict:
		return &apperrors.AppError{
			Code:    "REVIEW_ALREADY_EXISTS",
			Message: "you already reviewed this content",
			Status:  http.StatusConflict,
			Err:     err,
		}
	case domain.KindPermissionDenied:
		return &apperrors.AppError{
			Code:    "PERMISSION_DENIED",
			Message: "sign in, or confirm that this review will be anonymous and cannot be edited later",
			Status:  http.StatusForbidden,
			Err:     err,
		}
	case domain.KindTransientStore:
		return &apperrors.AppError{
			Code:    "STORE_UNAVAILABLE",
			Message: "reviews are temporarily unavailable, retry the same request",
			Status:  http.StatusServiceUnavailable,
			Err:     err,
		}
	case domain.KindUnknownContent:
		return &apperrors.AppError{
			Code:    "UNKNOWN_CONTENT",
			Message: "content not found",
			Status:  http.StatusNotFound,
			Err:     err,
		}
	default:
		return err
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	httputil.WriteError(w, r, toAppError(err), logger)
}
