// Package api exposes the utility's ledgers over HTTP. Authentication is
// OAuth2 client_credentials; a client's ID doubles as its account identity,
// and the utility:admin scope gates the operator-only routes.
package api

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/aquapay/internal/auth"
	"github.com/example/aquapay/internal/billing"
	"github.com/example/aquapay/internal/credit"
	"github.com/example/aquapay/internal/payments"
	"github.com/example/aquapay/internal/pricing"
	"github.com/example/aquapay/internal/registry"
	"github.com/example/aquapay/internal/savings"
	"github.com/example/aquapay/internal/security"
	"github.com/example/aquapay/internal/token"
	"github.com/example/aquapay/pkg/audit"
)

type Auditor interface {
	Append(actor, payload string) *audit.LogEntry
}

type Dependencies struct {
	Logger       *slog.Logger
	OAuth        *auth.OAuthServer
	JWTValidator *auth.JWTValidator

	Registry *registry.Service
	Oracle   *pricing.Oracle
	Bills    *billing.Ledger
	Payments *payments.Router
	Credit   *credit.Ledger
	Savings  *savings.Ledger
	Token    token.Transferer

	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []*net.IPNet
	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	validators, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	onAuthError := func(w http.ResponseWriter, r *http.Request, status int, code string) {
		security.WriteJSONError(w, r, status, code)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKeyByIP))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if deps.OAuth != nil {
		r.Post("/oauth/token", deps.OAuth.TokenHandler)
		r.Get("/oauth/jwks.json", deps.OAuth.JWKSHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Authenticate(deps.JWTValidator, onAuthError))
		// Inside Authenticate so entries carry the caller's identity.
		if deps.Auditor != nil {
			r.Use(AuditMiddleware(deps.Auditor))
		}

		read := func(r chi.Router) chi.Router {
			return r.With(auth.RequireScopes(onAuthError, auth.ScopeRead))
		}
		write := func(r chi.Router, schema string) chi.Router {
			return r.With(auth.RequireScopes(onAuthError, auth.ScopeWrite), validators[schema].Middleware)
		}
		admin := func(r chi.Router, schema string) chi.Router {
			out := r.With(auth.RequireScopes(onAuthError, auth.ScopeAdmin))
			if schema != "" {
				out = out.With(validators[schema].Middleware)
			}
			return out
		}

		r.Route("/accounts", func(r chi.Router) {
			write(r, schemaRegister).Post("/", handleRegister(deps))
			admin(r, "").Get("/", handleListAccounts(deps))

			r.Route("/{identity}", func(r chi.Router) {
				read(r).Get("/", handleGetAccount(deps))
				admin(r, "").Delete("/", handleDeactivateAccount(deps))
				read(r).Get("/bills", handleAccountBills(deps))
				read(r).Get("/payments", handleAccountPayments(deps))
				read(r).Get("/loans", handleAccountLoans(deps))
				read(r).Get("/deposits", handleAccountDeposits(deps))
			})
		})

		r.Route("/price", func(r chi.Router) {
			read(r).Get("/", handleGetPrice(deps))
			admin(r, schemaSetPrice).Put("/", handleSetPrice(deps))
		})

		r.Route("/bills", func(r chi.Router) {
			admin(r, schemaCreateBill).Post("/", handleCreateBill(deps))
			admin(r, schemaCreateBillBatch).Post("/batch", handleCreateBillBatch(deps))
			read(r).Get("/{id}", handleGetBill(deps))
		})

		r.Route("/payments", func(r chi.Router) {
			write(r, schemaPay).Post("/", handlePay(deps))
			admin(r, schemaPayExternal).Post("/external", handlePayExternal(deps))
		})

		r.Route("/loans", func(r chi.Router) {
			write(r, schemaRequestLoan).Post("/", handleRequestLoan(deps))
			read(r).Get("/{id}", handleGetLoan(deps))
			read(r).Get("/{id}/owed", handleLoanOwed(deps))
			write(r, schemaRepayLoan).Post("/{id}/repay", handleRepayLoan(deps))
		})

		r.Route("/deposits", func(r chi.Router) {
			write(r, schemaDeposit).Post("/", handleDeposit(deps))
			read(r).Get("/{id}", handleGetDeposit(deps))
			read(r).Get("/{id}/interest", handleDepositInterest(deps))
			r.With(auth.RequireScopes(onAuthError, auth.ScopeWrite)).Post("/{id}/withdraw", handleWithdraw(deps))
		})

		r.Route("/wallet", func(r chi.Router) {
			read(r).Get("/", handleWalletBalance(deps))
			write(r, schemaApprove).Post("/approve", handleApprove(deps))
			admin(r, schemaTopup).Post("/topup", handleTopup(deps))
		})

		read(r).Get("/stats", handleStats(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}

func rateLimitKeyByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return "ip:" + host
}
