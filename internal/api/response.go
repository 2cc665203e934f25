package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/aquapay/internal/billing"
	"github.com/example/aquapay/internal/credit"
	"github.com/example/aquapay/internal/payments"
	"github.com/example/aquapay/internal/pricing"
	"github.com/example/aquapay/internal/registry"
	"github.com/example/aquapay/internal/savings"
	"github.com/example/aquapay/internal/security"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	cid := security.CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(security.CorrelationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps ledger sentinels onto HTTP statuses. Anything
// unmapped is a 500 with no detail leaked.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, billing.ErrNotFound),
		errors.Is(err, payments.ErrNotFound),
		errors.Is(err, credit.ErrNotFound),
		errors.Is(err, savings.ErrNotFound):
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")

	case errors.Is(err, registry.ErrUnauthorized),
		errors.Is(err, pricing.ErrUnauthorized),
		errors.Is(err, billing.ErrUnauthorized),
		errors.Is(err, payments.ErrUnauthorized):
		security.WriteJSONError(w, r, http.StatusForbidden, "forbidden")

	case errors.Is(err, registry.ErrDuplicateIdentity):
		security.WriteJSONError(w, r, http.StatusConflict, "identity_taken")

	case errors.Is(err, billing.ErrAlreadyPaid),
		errors.Is(err, payments.ErrAlreadyPaid):
		security.WriteJSONError(w, r, http.StatusConflict, "bill_already_paid")

	case errors.Is(err, payments.ErrInsufficientFunds),
		errors.Is(err, credit.ErrInsufficientFunds),
		errors.Is(err, savings.ErrInsufficientFunds):
		security.WriteJSONError(w, r, http.StatusPaymentRequired, "insufficient_funds")

	case errors.Is(err, credit.ErrNotEligible):
		security.WriteJSONError(w, r, http.StatusForbidden, "not_eligible")

	case errors.Is(err, credit.ErrLoanLimitExceeded):
		security.WriteJSONError(w, r, http.StatusUnprocessableEntity, "loan_limit_exceeded")

	case errors.Is(err, credit.ErrLoanNotActive):
		security.WriteJSONError(w, r, http.StatusConflict, "loan_not_active")

	case errors.Is(err, savings.ErrWithdrawalNotAllowed):
		security.WriteJSONError(w, r, http.StatusConflict, "withdrawal_not_allowed")

	case errors.Is(err, pricing.ErrInvalidPrice),
		errors.Is(err, billing.ErrInvalidAmount),
		errors.Is(err, billing.ErrBatchMismatch),
		errors.Is(err, payments.ErrInvalidAmount),
		errors.Is(err, credit.ErrInvalidAmount),
		errors.Is(err, savings.ErrInvalidAmount):
		security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")

	default:
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
	}
}
