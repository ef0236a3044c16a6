package shared

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind is the machine-readable error code surfaced to callers.
type Kind string

// Error kinds understood by every core operation.
const (
	KindValidation     Kind = "VALIDATION_ERROR"
	KindUnbalanced     Kind = "UNBALANCED_ENTRY"
	KindTypeConflict   Kind = "TYPE_CONFLICT"
	KindFiscalPeriod   Kind = "FISCAL_PERIOD_VIOLATION"
	KindTenant         Kind = "TENANT_VIOLATION"
	KindDataIntegrity  Kind = "DATA_INTEGRITY_ERROR"
	KindTransient      Kind = "TRANSIENT_ERROR"
	KindBackend        Kind = "BACKEND_FAILURE"
	KindNotFound       Kind = "NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindInternal       Kind = "INTERNAL"
	KindCanceled       Kind = "CANCELED"
	KindNotImplemented Kind = "NOT_IMPLEMENTED"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness constraint was hit.
	ErrConflict = errors.New("conflict")
)

// Error is the typed error carried across package boundaries.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	Violations []string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " "))
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds an error of the given kind.
func NewError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap attaches a kind and operation name to err.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WrapOp wraps err with op while keeping the kind already assigned to the cause.
// Unclassified causes become backend failures.
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	if kind == KindInternal {
		kind = KindBackend
	}
	var typed *Error
	var violations []string
	if errors.As(err, &typed) {
		violations = typed.Violations
	}
	return &Error{Kind: kind, Op: op, Err: err, Violations: violations}
}

// Validation returns a ValidationError.
func Validation(op, message string) *Error {
	return NewError(KindValidation, op, message)
}

// TenantViolation returns the fatal tenant boundary error.
func TenantViolation(op string) *Error {
	return NewError(KindTenant, op, "organization does not match caller context")
}

// NotFound returns a NotFound error wrapping ErrNotFound.
func NotFound(op, what string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: what + " not found", Err: ErrNotFound}
}

// FiscalViolation returns a FiscalPeriodViolation carrying the guardrail messages.
func FiscalViolation(op string, violations []string) *Error {
	return &Error{Kind: KindFiscalPeriod, Op: op, Message: strings.Join(violations, "; "), Violations: violations}
}

// KindOf resolves the outermost kind attached to err.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) && typed.Kind != "" {
		return typed.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	if isTransientIO(err) {
		return KindTransient
	}
	return KindInternal
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether a read path may retry err.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if isTransientIO(err) {
		return true
	}
	switch KindOf(err) {
	case KindTransient:
		return true
	case KindBackend:
		var typed *Error
		if errors.As(err, &typed) && typed.Err != nil {
			inner := KindOf(typed.Err)
			return inner == KindTransient || inner == KindInternal || inner == KindBackend
		}
		return true
	}
	return false
}

// IsUniqueViolation reports whether err is a postgres unique violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isTransientIO(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected, admin/crash shutdown
		switch pgErr.Code {
		case "40001", "40P01", "57P01", "57P02", "57P03":
			return true
		}
	}
	return false
}
