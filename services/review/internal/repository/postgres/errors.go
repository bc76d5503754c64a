package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
)

// SQLSTATE codes the review store distinguishes.
const (
	codeUniqueViolation       = "23505"
	codeForeignKeyViolation   = "23503"
	codeCheckViolation        = "23514"
	codeInsufficientPrivilege = "42501"
	codeAdminShutdown         = "57P01"
	codeCrashShutdown         = "57P02"
	codeCannotConnectNow      = "57P03"
	codeTooManyConnections    = "53300"
	codeQueryCanceled         = "57014"
)

// classify wraps err with exactly one domain error kind. Unrecognized
// failures are treated as transient so the caller may retry.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, kindOf(err), err)
}

func kindOf(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUniqueViolation:
			return domain.ErrUniquenessConflict
		case pgErr.Code == codeInsufficientPrivilege:
			return domain.ErrPermissionDenied
		case pgErr.Code == codeForeignKeyViolation:
			return domain.ErrUnknownContent
		case pgErr.Code == codeCheckViolation:
			return domain.ErrValidation
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == codeAdminShutdown,
			pgErr.Code == codeCrashShutdown,
			pgErr.Code == codeCannotConnectNow,
			pgErr.Code == codeTooManyConnections,
			pgErr.Code == codeQueryCanceled:
			return domain.ErrTransientStore
		}
	}
	// Timeouts, dropped connections and anything unrecognized.
	return domain.ErrTransientStore
}
