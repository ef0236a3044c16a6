package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind shared.Kind) int {
	switch kind {
	case shared.KindValidation, shared.KindUnbalanced, shared.KindTypeConflict:
		return http.StatusUnprocessableEntity
	case shared.KindFiscalPeriod, shared.KindDataIntegrity, shared.KindConflict:
		return http.StatusConflict
	case shared.KindTenant:
		return http.StatusForbidden
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindTransient, shared.KindBackend:
		return http.StatusServiceUnavailable
	case shared.KindCanceled:
		return http.StatusRequestTimeout
	case shared.KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// BodyFor converts err into the envelope error body.
// Tenant violations and internal errors never echo their cause.
func BodyFor(err error) ErrorBody {
	kind := shared.KindOf(err)
	body := ErrorBody{Code: string(kind), Message: err.Error()}
	var typed *shared.Error
	if errors.As(err, &typed) {
		body.Violations = typed.Violations
	}
	switch kind {
	case shared.KindTenant:
		body.Message = "organization does not match caller context"
		body.Violations = nil
	case shared.KindInternal:
		body.Message = "internal error"
	}
	return body
}

// RespondError maps domain errors to the error envelope.
func RespondError(w http.ResponseWriter, err error) {
	Fail(w, StatusFor(shared.KindOf(err)), BodyFor(err))
}
