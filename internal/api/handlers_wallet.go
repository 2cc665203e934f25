package api

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/example/aquapay/internal/security"
	"github.com/example/aquapay/internal/token"
)

type approveRequest struct {
	Spender string          `json:"spender"`
	Amount  decimal.Decimal `json:"amount"`
}

type topupRequest struct {
	Identity string          `json:"identity"`
	Amount   decimal.Decimal `json:"amount"`
}

func handleWalletBalance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		holder := caller(r)
		balance, err := deps.Token.BalanceOf(r.Context(), holder)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, map[string]any{
			"correlation_id": security.CorrelationIDFromContext(r.Context()),
			"identity":       holder,
			"balance":        balance,
		})
	}
}

func handleApprove(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req approveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		if err := deps.Token.Approve(r.Context(), caller(r), req.Spender, req.Amount); err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, map[string]any{
			"correlation_id": security.CorrelationIDFromContext(r.Context()),
			"spender":        req.Spender,
			"amount":         req.Amount,
		})
	}
}

// handleTopup credits a wallet from thin air. Only wired when the configured
// token supports minting, i.e. the in-process development token.
func handleTopup(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		minter, ok := deps.Token.(token.Minter)
		if !ok {
			security.WriteJSONError(w, r, http.StatusNotImplemented, "minting_unavailable")
			return
		}

		var req topupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
		if req.Amount.Sign() <= 0 {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}

		minter.Mint(req.Identity, req.Amount)

		balance, err := deps.Token.BalanceOf(r.Context(), req.Identity)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, map[string]any{
			"correlation_id": security.CorrelationIDFromContext(r.Context()),
			"identity":       req.Identity,
			"balance":        balance,
		})
	}
}
