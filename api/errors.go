package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeValidation      = "validation_error"
	CodeNotFound        = "not_found"
	CodeInsufficient    = "insufficient_quantity"
	CodeConcurrent      = "concurrent_modification"
	CodeUnknownRef      = "unknown_reference"
	CodeInternal        = "internal_error"
	CodeUnauthorized    = "unauthorized"
	CodeInvariant       = "invariant_violation"
	CodeKindMismatch    = "kind_mismatch"
	CodeDestinationGone = "destination_consumed"
)

// classify maps a ledger error onto an HTTP status and error code.
func classify(err error) (int, string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, ledger.ErrUnknownReference):
		return http.StatusUnprocessableEntity, CodeUnknownRef
	case ledger.IsClientError(err):
		return http.StatusBadRequest, CodeValidation
	case ledger.IsNotFound(err):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, ledger.ErrInsufficientAssigned),
		errors.Is(err, ledger.ErrInsufficientExpended):
		return http.StatusConflict, CodeInsufficient
	case errors.Is(err, ledger.ErrDestinationAlreadyConsumed):
		return http.StatusConflict, CodeDestinationGone
	case errors.Is(err, ledger.ErrKindMismatch):
		return http.StatusConflict, CodeKindMismatch
	case errors.Is(err, ledger.ErrInvariantViolation):
		return http.StatusConflict, CodeInvariant
	case ledger.IsRetryable(err):
		return http.StatusConflict, CodeConcurrent
	}
	return http.StatusInternalServerError, CodeInternal
}

// shortfallDetails exposes the counter figures of a ShortfallError.
func shortfallDetails(err error) any {
	var sf *ledger.ShortfallError
	if !errors.As(err, &sf) {
		return nil
	}
	return map[string]any{
		"site":      sf.Key.Site,
		"asset":     sf.Key.Asset,
		"counter":   sf.Counter,
		"available": sf.Available,
		"requested": sf.Requested,
	}
}
