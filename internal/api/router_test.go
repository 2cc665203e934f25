package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/aquapay/internal/access"
	"github.com/example/aquapay/internal/auth"
	"github.com/example/aquapay/internal/billing"
	"github.com/example/aquapay/internal/credit"
	"github.com/example/aquapay/internal/events"
	"github.com/example/aquapay/internal/payments"
	"github.com/example/aquapay/internal/pricing"
	"github.com/example/aquapay/internal/registry"
	"github.com/example/aquapay/internal/savings"
	"github.com/example/aquapay/internal/security"
	"github.com/example/aquapay/internal/storage/memory"
	"github.com/example/aquapay/internal/token"
	"github.com/example/aquapay/pkg/audit"
)

const (
	opsClient      = "utility-ops"
	residentClient = "casa1"
	readerClient   = "meter-reader"
	testSecret     = "s3cret"
	treasury       = "utility.treasury"
	pool           = "utility.pool"
)

// recordingAuditor keeps appended entries so tests can verify the chain.
type recordingAuditor struct {
	chain   *audit.ChainLogger
	entries []*audit.LogEntry
}

func (a *recordingAuditor) Append(actor, payload string) *audit.LogEntry {
	entry := a.chain.Append(actor, payload)
	a.entries = append(a.entries, entry)
	return entry
}

type testEnv struct {
	server *httptest.Server
	token  *token.MemoryToken
	audit  *recordingAuditor
}

func newTestEnv(t *testing.T, limiter *security.RedisTokenBucket) *testEnv {
	t.Helper()

	acl := access.NewStaticList(opsClient)
	pub := &events.MemoryPublisher{}
	tok := token.NewMemoryToken()

	reg := registry.NewService(memory.NewRegistryStore(), acl, pub)
	oracle := pricing.NewOracle(memory.NewPriceStore(), acl, pub)
	bills := billing.NewLedger(memory.NewBillStore(), oracle, acl, pub)
	router := payments.NewRouter(memory.NewPaymentStore(), tok, treasury, acl, pub)
	require.NoError(t, router.Wire(bills))
	loans := credit.NewLedger(memory.NewLoanStore(), tok, treasury, pub)
	require.NoError(t, loans.Wire(reg, router))
	deposits := savings.NewLedger(memory.NewDepositStore(), tok, pool, pub)

	clients := auth.NewMemoryClientStore()
	require.NoError(t, clients.Provision(opsClient, testSecret,
		[]string{auth.ScopeAdmin, auth.ScopeRead, auth.ScopeWrite}))
	require.NoError(t, clients.Provision(residentClient, testSecret,
		[]string{auth.ScopeRead, auth.ScopeWrite}))
	require.NoError(t, clients.Provision(readerClient, testSecret,
		[]string{auth.ScopeRead}))

	ks, err := auth.NewKeySet()
	require.NoError(t, err)
	oauth := &auth.OAuthServer{
		Store:          clients,
		Keys:           ks,
		Issuer:         "aquapay",
		AccessTokenTTL: time.Hour,
	}

	auditor := &recordingAuditor{chain: audit.NewChainLogger()}

	handler, err := NewRouter(Dependencies{
		OAuth:        oauth,
		JWTValidator: &auth.JWTValidator{KeySet: ks, Issuer: "aquapay"},
		Registry:     reg,
		Oracle:       oracle,
		Bills:        bills,
		Payments:     router,
		Credit:       loans,
		Savings:      deposits,
		Token:        tok,
		Auditor:      auditor,
		RateLimiter:  limiter,
		MaxBodyBytes: 1 << 20,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, token: tok, audit: auditor}
}

func (e *testEnv) fetchToken(t *testing.T, clientID, secret string) string {
	t.Helper()

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/oauth/token",
		strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(clientID, secret)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.AccessToken)
	return body.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, payload any) (*http.Response, map[string]any) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp, decoded
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("issues a usable token", func(t *testing.T) {
		tok := env.fetchToken(t, residentClient, testSecret)
		resp, _ := env.do(t, http.MethodGet, "/v1/stats", tok, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("rejects bad credentials", func(t *testing.T) {
		form := url.Values{"grant_type": {"client_credentials"}}
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/oauth/token",
			strings.NewReader(form.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(residentClient, "wrong")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("serves jwks", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/oauth/jwks.json")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var jwks struct {
			Keys []map[string]any `json:"keys"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&jwks))
		require.Len(t, jwks.Keys, 1)
	})
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/v1/stats", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "unauthorized", body["error"])

	resp, _ = env.do(t, http.MethodGet, "/v1/stats", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestScopeEnforcement(t *testing.T) {
	env := newTestEnv(t, nil)
	resident := env.fetchToken(t, residentClient, testSecret)
	reader := env.fetchToken(t, readerClient, testSecret)

	// Price changes are operator-only.
	resp, body := env.do(t, http.MethodPut, "/v1/price", resident,
		map[string]any{"price_per_unit": "0.75"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "forbidden", body["error"])

	// Read-only clients cannot register.
	resp, _ = env.do(t, http.MethodPost, "/v1/accounts", reader,
		map[string]any{"name": "casa1.aguapay.eth", "meter_id": 7})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSchemaValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	resident := env.fetchToken(t, residentClient, testSecret)

	// Missing required field.
	resp, body := env.do(t, http.MethodPost, "/v1/accounts", resident,
		map[string]any{"meter_id": 7})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "validation_error", body["error"])

	// Unknown field.
	resp, _ = env.do(t, http.MethodPost, "/v1/accounts", resident,
		map[string]any{"name": "casa1.aguapay.eth", "meter_id": 7, "extra": true})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Amount that is not a decimal string.
	admin := env.fetchToken(t, opsClient, testSecret)
	resp, _ = env.do(t, http.MethodPut, "/v1/price", admin,
		map[string]any{"price_per_unit": "abc"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBillingFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.fetchToken(t, opsClient, testSecret)
	resident := env.fetchToken(t, residentClient, testSecret)

	// Operator publishes the tariff.
	resp, _ := env.do(t, http.MethodPut, "/v1/price", admin,
		map[string]any{"price_per_unit": "0.75"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The resident registers; the client id doubles as the account identity.
	resp, body := env.do(t, http.MethodPost, "/v1/accounts", resident,
		map[string]any{"name": "casa1.aguapay.eth", "meter_id": 7})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	account := body["account"].(map[string]any)
	require.Equal(t, residentClient, account["identity"])

	// Registering the same identity twice is a conflict.
	resp, body = env.do(t, http.MethodPost, "/v1/accounts", resident,
		map[string]any{"name": "other.aguapay.eth", "meter_id": 8})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "identity_taken", body["error"])

	// Operator issues a bill for 50 units at 0.75.
	due := time.Now().Add(30 * 24 * time.Hour).UTC().Format(time.RFC3339)
	resp, body = env.do(t, http.MethodPost, "/v1/bills", admin,
		map[string]any{"account": residentClient, "consumption": 50, "due_at": due})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	bill := body["bill"].(map[string]any)
	require.Equal(t, "37.5", bill["amount"])
	billID := int64(bill["id"].(float64))

	// Fund the resident's wallet and approve the treasury as spender.
	resp, _ = env.do(t, http.MethodPost, "/v1/wallet/topup", admin,
		map[string]any{"identity": residentClient, "amount": "100"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/v1/wallet/approve", resident,
		map[string]any{"spender": treasury, "amount": "100"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Anything but the exact amount is rejected.
	resp, _ = env.do(t, http.MethodPost, "/v1/payments", resident,
		map[string]any{"bill_id": billID, "amount": "37.49"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/v1/payments", resident,
		map[string]any{"bill_id": billID, "amount": "37.5"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotZero(t, body["payment_id"])

	// The bill is now paid and paying again conflicts.
	resp, body = env.do(t, http.MethodGet, fmt.Sprintf("/v1/bills/%d", billID), resident, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["bill"].(map[string]any)["paid"])

	resp, _ = env.do(t, http.MethodPost, "/v1/payments", resident,
		map[string]any{"bill_id": billID, "amount": "37.5"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Funds moved to the treasury and into revenue.
	treasuryBalance, err := env.token.BalanceOf(context.Background(), treasury)
	require.NoError(t, err)
	require.Equal(t, "37.5", treasuryBalance.String())
	resp, body = env.do(t, http.MethodGet, "/v1/stats", resident, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "37.5", body["total_revenue"])

	// The audit chain recorded the calls and still verifies.
	require.NotEmpty(t, env.audit.entries)
	require.True(t, audit.VerifyChain(env.audit.entries))
}

func TestLoanAndDepositRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.fetchToken(t, opsClient, testSecret)
	resident := env.fetchToken(t, residentClient, testSecret)

	resp, _ := env.do(t, http.MethodPost, "/v1/accounts", resident,
		map[string]any{"name": "casa1.aguapay.eth", "meter_id": 7})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Loan request succeeds for a registered account.
	resp, body := env.do(t, http.MethodPost, "/v1/loans", resident,
		map[string]any{"amount": "500", "term_days": 30, "purpose": "pipe repair"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	loan := body["loan"].(map[string]any)
	require.Equal(t, float64(600), loan["rate_bps"])
	loanID := int64(loan["id"].(float64))

	resp, body = env.do(t, http.MethodGet, fmt.Sprintf("/v1/loans/%d/owed", loanID), resident, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["total_owed"])

	// Deposits require a funded wallet and an allowance for the pool.
	resp, _ = env.do(t, http.MethodPost, "/v1/wallet/topup", admin,
		map[string]any{"identity": residentClient, "amount": "200"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/v1/wallet/approve", resident,
		map[string]any{"spender": pool, "amount": "200"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/v1/deposits", resident,
		map[string]any{"amount": "200"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	depositID := int64(body["deposit"].(map[string]any)["id"].(float64))

	resp, _ = env.do(t, http.MethodGet, fmt.Sprintf("/v1/deposits/%d/interest", depositID), resident, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Only the depositor may withdraw.
	reader := env.fetchToken(t, readerClient, testSecret)
	resp, _ = env.do(t, http.MethodPost, fmt.Sprintf("/v1/deposits/%d/withdraw", depositID), reader, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	env := newTestEnv(t, &security.RedisTokenBucket{
		Redis:      client,
		Prefix:     "aquapay",
		Capacity:   2,
		RefillRate: 0.001,
	})

	for i := 0; i < 2; i++ {
		resp, err := http.Get(env.server.URL + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
