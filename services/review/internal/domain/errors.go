package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Submission error kinds. Every store failure is classified into exactly one
// of them before it reaches a caller.
var (
	ErrValidation         = errors.New("review validation failed")
	ErrUniquenessConflict = errors.New("review already exists for this author and content")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrTransientStore     = errors.New("review store temporarily unavailable")
	ErrUnknownContent     = errors.New("unknown content")

	// ErrAnonymousNotConfirmed is returned before any store call when an
	// unauthenticated caller did not confirm an anonymous submission.
	ErrAnonymousNotConfirmed = fmt.Errorf("%w: anonymous submission not confirmed", ErrPermissionDenied)
)

// Kind names an error class for logs, metrics and HTTP mapping.
type Kind string

const (
	KindNone               Kind = ""
	KindValidation         Kind = "validation"
	KindUniquenessConflict Kind = "uniqueness_conflict"
	KindPermissionDenied   Kind = "permission_denied"
	KindTransientStore     Kind = "transient_store"
	KindUnknownContent     Kind = "unknown_content"
	KindOther              Kind = "other"
)

// KindOf classifies err. A nil error has KindNone.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrUniquenessConflict):
		return KindUniquenessConflict
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrUnknownContent):
		return KindUnknownContent
	case errors.Is(err, ErrTransientStore):
		return KindTransientStore
	default:
		return KindOther
	}
}

// Retryable reports whether resubmitting the same candidate may succeed.
func Retryable(err error) bool {
	return KindOf(err) == KindTransientStore
}

// FieldError is one rejected submission field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every field a submission failed on.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Reason)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Has reports whether field failed validation.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// FieldMap returns field name to reason.
func (e *ValidationError) FieldMap() map[string]string {
	m := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		m[f.Field] = f.Reason
	}
	return m
}
