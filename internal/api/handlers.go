package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/aquapay/internal/auth"
	"github.com/example/aquapay/internal/pricing"
	"github.com/example/aquapay/internal/registry"
	"github.com/example/aquapay/internal/security"
)

// caller extracts the authenticated identity; Authenticate guarantees it is
// present on every /v1 route.
func caller(r *http.Request) string {
	if ai, ok := auth.AuthInfoFromContext(r.Context()); ok {
		return ai.ClientID
	}
	return ""
}

func urlID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// --- accounts ---

type registerRequest struct {
	Name    string `json:"name"`
	MeterID int64  `json:"meter_id"`
}

type accountResponse struct {
	CorrelationID string           `json:"correlation_id"`
	Account       registry.Account `json:"account"`
}

func handleRegister(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		account, err := deps.Registry.Register(r.Context(), caller(r), req.Name, req.MeterID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, accountResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Account:       account,
		})
	}
}

func handleGetAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := deps.Registry.Lookup(r.Context(), chi.URLParam(r, "identity"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, accountResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Account:       account,
		})
	}
}

func handleListAccounts(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := deps.Registry.List(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, map[string]any{
			"correlation_id": security.CorrelationIDFromContext(r.Context()),
			"accounts":       accounts,
		})
	}
}

func handleDeactivateAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := chi.URLParam(r, "identity")
		if err := deps.Registry.Deactivate(r.Context(), caller(r), identity); err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, map[string]any{
			"correlation_id": security.CorrelationIDFromContext(r.Context()),
			"identity":       identity,
			"active":         false,
		})
	}
}

// --- price ---

type setPriceRequest struct {
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
}

type priceResponse struct {
	CorrelationID string         `json:"correlation_id"`
	Price         pricing.Config `json:"price"`
}

func handleGetPrice(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := deps.Oracle.CurrentConfig(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, priceResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Price:         cfg,
		})
	}
}

func handleSetPrice(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setPriceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		if err := deps.Oracle.SetPrice(r.Context(), caller(r), req.PricePerUnit); err != nil {
			writeServiceError(w, r, err)
			return
		}

		cfg, err := deps.Oracle.CurrentConfig(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, priceResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Price:         cfg,
		})
	}
}

// --- stats ---

type statsResponse struct {
	CorrelationID string          `json:"correlation_id"`
	TotalUsers    int64           `json:"total_users"`
	TotalBills    int64           `json:"total_bills"`
	UnpaidBills   int64           `json:"unpaid_bills"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

func handleStats(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := deps.Registry.TotalUsers(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		total, unpaid, err := deps.Bills.Totals(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		revenue, err := deps.Payments.TotalRevenue(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, statsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			TotalUsers:    users,
			TotalBills:    total,
			UnpaidBills:   unpaid,
			TotalRevenue:  revenue,
			GeneratedAt:   time.Now().UTC(),
		})
	}
}
