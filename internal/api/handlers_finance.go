package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/aquapay/internal/credit"
	"github.com/example/aquapay/internal/savings"
	"github.com/example/aquapay/internal/security"
)

// --- loans ---

type requestLoanRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	TermDays int64           `json:"term_days"`
	Purpose  string          `json:"purpose"`
}

type repayLoanRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type loanResponse struct {
	CorrelationID string      `json:"correlation_id"`
	Loan          credit.Loan `json:"loan"`
}

func handleRequestLoan(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req requestLoanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		id, err := deps.Credit.RequestLoan(r.Context(), caller(r), req.Amount, req.TermDays, req.Purpose)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		loan, err := deps.Credit.GetLoan(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, loanResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Loan:          loan,
		})
	}
}

func handleGetLoan(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(r)
		if !ok {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}

		loan, err := deps.Credit.GetLoan(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, loanResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Loan:          loan,
		})
	}
}

func handleLoanOwed(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(r)
		if !ok {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}

		owed, err := deps.Credit.CalculateTotalOwed(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, map[string]any{
			"correlation_id": security.CorrelationIDFromContext(r.Context()),
			"loan_id":        id,
			"total_owed":     owed,
		})
	}
}

func handleRepayLoan(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(r)
		if !ok {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}

		var req repayLoanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		// Repayment pulls from the loan's borrower, not the caller; only the
		// borrower may settle their own loan.
		loan, err := deps.Credit.GetLoan(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if loan.Borrower != caller(r) {
			security.WriteJSONError(w, r, http.StatusForbidden, "forbidden")
			return
		}

		if err := deps.Credit.RepayLoan(r.Context(), id, req.Amount); err != nil {
			writeServiceError(w, r, err)
			return
		}

		loan, err = deps.Credit.GetLoan(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, loanResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Loan:          loan,
		})
	}
}

func handleAccountLoans(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		borrower := chi.URLParam(r, "identity")

		loans, err := deps.Credit.BorrowerLoans(r.Context(), borrower)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, map[string]any{
			"correlation_id": security.CorrelationIDFromContext(r.Context()),
			"account":        borrower,
			"loans":          loans,
		})
	}
}

// --- deposits ---

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type depositResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Deposit       savings.Deposit `json:"deposit"`
}

func handleDeposit(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req depositRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		id, err := deps.Savings.Deposit(r.Context(), caller(r), req.Amount)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		dep, err := deps.Savings.GetDeposit(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, depositResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Deposit:       dep,
		})
	}
}

func handleGetDeposit(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(r)
		if !ok {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}

		dep, err := deps.Savings.GetDeposit(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, depositResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Deposit:       dep,
		})
	}
}

func handleDepositInterest(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(r)
		if !ok {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}

		interest, err := deps.Savings.CalculateInterest(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, map[string]any{
			"correlation_id": security.CorrelationIDFromContext(r.Context()),
			"deposit_id":     id,
			"interest":       interest,
		})
	}
}

func handleWithdraw(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(r)
		if !ok {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}

		if err := deps.Savings.Withdraw(r.Context(), caller(r), id); err != nil {
			writeServiceError(w, r, err)
			return
		}

		dep, err := deps.Savings.GetDeposit(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, depositResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Deposit:       dep,
		})
	}
}

func handleAccountDeposits(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		depositor := chi.URLParam(r, "identity")

		deposits, err := deps.Savings.UserDeposits(r.Context(), depositor)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		balance, err := deps.Savings.UserTotalBalance(r.Context(), depositor)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, map[string]any{
			"correlation_id": security.CorrelationIDFromContext(r.Context()),
			"account":        depositor,
			"deposits":       deposits,
			"total_balance":  balance,
		})
	}
}
