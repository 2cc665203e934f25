package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/aquapay/internal/billing"
	"github.com/example/aquapay/internal/security"
)

// --- bills ---

type createBillRequest struct {
	Account     string    `json:"account"`
	Consumption int64     `json:"consumption"`
	DueAt       time.Time `json:"due_at"`
	Ref         string    `json:"ref"`
	Metadata    string    `json:"metadata"`
}

type createBillBatchRequest struct {
	Accounts     []string  `json:"accounts"`
	Consumptions []int64   `json:"consumptions"`
	DueAt        time.Time `json:"due_at"`
	Refs         []string  `json:"refs"`
	Metadata     []string  `json:"metadata"`
}

type billResponse struct {
	CorrelationID string       `json:"correlation_id"`
	Bill          billing.Bill `json:"bill"`
}

func handleCreateBill(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBillRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		id, err := deps.Bills.CreateBill(r.Context(), caller(r), req.Account, req.Consumption, req.DueAt, req.Ref, req.Metadata)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		bill, err := deps.Bills.GetBill(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, billResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Bill:          bill,
		})
	}
}

func handleCreateBillBatch(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBillBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		ids, err := deps.Bills.CreateBillsBatch(r.Context(), caller(r), req.Accounts, req.Consumptions, req.DueAt, req.Refs, req.Metadata)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, map[string]any{
			"correlation_id": security.CorrelationIDFromContext(r.Context()),
			"bill_ids":       ids,
		})
	}
}

func handleGetBill(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(r)
		if !ok {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}

		bill, err := deps.Bills.GetBill(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, billResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Bill:          bill,
		})
	}
}

func handleAccountBills(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := chi.URLParam(r, "identity")

		var (
			bills []billing.Bill
			err   error
		)
		if unpaid, _ := strconv.ParseBool(r.URL.Query().Get("unpaid")); unpaid {
			bills, err = deps.Bills.UnpaidBills(r.Context(), account)
		} else {
			bills, err = deps.Bills.UserBills(r.Context(), account)
		}
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, map[string]any{
			"correlation_id": security.CorrelationIDFromContext(r.Context()),
			"account":        account,
			"bills":          bills,
		})
	}
}

// --- payments ---

type payRequest struct {
	BillID int64           `json:"bill_id"`
	Amount decimal.Decimal `json:"amount"`
	Ref    string          `json:"ref"`
}

type payExternalRequest struct {
	Payer  string          `json:"payer"`
	BillID int64           `json:"bill_id"`
	Amount decimal.Decimal `json:"amount"`
	Ref    string          `json:"ref"`
}

type paymentResponse struct {
	CorrelationID string `json:"correlation_id"`
	PaymentID     int64  `json:"payment_id"`
}

func handlePay(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req payRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		id, err := deps.Payments.Pay(r.Context(), caller(r), req.BillID, req.Amount, req.Ref)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, paymentResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			PaymentID:     id,
		})
	}
}

func handlePayExternal(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req payExternalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		id, err := deps.Payments.RecordExternal(r.Context(), caller(r), req.Payer, req.BillID, req.Amount, req.Ref)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, paymentResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			PaymentID:     id,
		})
	}
}

func handleAccountPayments(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payer := chi.URLParam(r, "identity")

		list, err := deps.Payments.UserPayments(r.Context(), payer)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, map[string]any{
			"correlation_id": security.CorrelationIDFromContext(r.Context()),
			"account":        payer,
			"payments":       list,
		})
	}
}
