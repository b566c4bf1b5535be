package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"orbit/api/internal/joincode"
	"orbit/api/internal/store"
)

// Kind classifies a DomainError. Callers match kinds with errors.Is against
// the Err* sentinels below.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindPermission        Kind = "permission"
	KindConflict          Kind = "conflict"
	KindNotFoundOrExpired Kind = "not_found_or_expired"
	KindNotFound          Kind = "not_found"
	KindTransport         Kind = "transport"
	KindPartialFailure    Kind = "partial_failure"
)

type DomainError struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

var (
	ErrValidation        = &DomainError{Kind: KindValidation}
	ErrPermission        = &DomainError{Kind: KindPermission}
	ErrConflict          = &DomainError{Kind: KindConflict}
	ErrNotFoundOrExpired = &DomainError{Kind: KindNotFoundOrExpired}
	ErrNotFound          = &DomainError{Kind: KindNotFound}
	ErrTransport         = &DomainError{Kind: KindTransport}
	ErrPartialFailure    = &DomainError{Kind: KindPartialFailure}
)

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError of the same kind.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether err is a transport failure a user may retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport)
}

func domainError(kind Kind, status int, code, message string, details any) *DomainError {
	return &DomainError{
		Kind:    kind,
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(KindValidation, http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func permissionError(message string) *DomainError {
	return domainError(KindPermission, http.StatusForbidden, "FORBIDDEN", message, nil)
}

func conflictError(code, message string) *DomainError {
	return domainError(KindConflict, http.StatusConflict, code, message, nil)
}

func notFoundError(message string) *DomainError {
	return domainError(KindNotFound, http.StatusNotFound, "NOT_FOUND", message, nil)
}

func partialFailure(message string, details any, cause error) *DomainError {
	err := domainError(KindPartialFailure, http.StatusInternalServerError, "PARTIAL_FAILURE", message, details)
	err.Err = cause
	return err
}

// translateError turns repository and join-code errors into DomainErrors.
// Anything unrecognised is a transport failure with the cause kept.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	switch {
	case errors.Is(err, joincode.ErrInvalidOrExpired):
		return domainError(KindNotFoundOrExpired, http.StatusNotFound, "INVALID_OR_EXPIRED_CODE", joincode.ErrInvalidOrExpired.Error(), nil)
	case errors.Is(err, joincode.ErrAlreadyMember):
		return conflictError("ALREADY_MEMBER", joincode.ErrAlreadyMember.Error())
	case errors.Is(err, store.ErrForbidden):
		return permissionError("You do not have permission to " + op)
	case errors.Is(err, store.ErrConflict):
		return conflictError("CONFLICT", "Conflicting change: "+op)
	case errors.Is(err, store.ErrNotFound):
		return notFoundError("Not found")
	}
	transport := domainError(KindTransport, http.StatusServiceUnavailable, "TRANSPORT_ERROR", "Could not "+op, nil)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		transport.Code = "CANCELLED"
	}
	transport.Err = fmt.Errorf("%s: %w", op, err)
	return transport
}
