// Command server runs the water utility's accounting API: account registry,
// tariff oracle, billing, payment routing, micro-credit and savings.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/example/aquapay/internal/access"
	"github.com/example/aquapay/internal/api"
	"github.com/example/aquapay/internal/auth"
	"github.com/example/aquapay/internal/billing"
	"github.com/example/aquapay/internal/config"
	"github.com/example/aquapay/internal/credit"
	"github.com/example/aquapay/internal/events"
	eventskafka "github.com/example/aquapay/internal/events/kafka"
	"github.com/example/aquapay/internal/payments"
	"github.com/example/aquapay/internal/pricing"
	"github.com/example/aquapay/internal/registry"
	"github.com/example/aquapay/internal/savings"
	"github.com/example/aquapay/internal/security"
	"github.com/example/aquapay/internal/storage/memory"
	"github.com/example/aquapay/internal/storage/postgres"
	"github.com/example/aquapay/internal/storage/sqlite"
	"github.com/example/aquapay/internal/token"
	"github.com/example/aquapay/pkg/audit"
)

// stores groups one implementation of every ledger's persistence interface.
type stores struct {
	registry registry.Store
	pricing  pricing.Store
	billing  billing.Store
	payments payments.Store
	credit   credit.Store
	savings  savings.Store
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, pool, cleanup, err := openStores(ctx, cfg)
	if err != nil {
		logger.Error("failed to open storage", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer cleanup()

	publisher := newPublisher(cfg, logger)

	acl := access.NewStaticList(cfg.AdminIdentities...)
	tok := token.NewMemoryToken()

	reg := registry.NewService(st.registry, acl, publisher)
	oracle := pricing.NewOracle(st.pricing, acl, publisher)
	bills := billing.NewLedger(st.billing, oracle, acl, publisher)
	router := payments.NewRouter(st.payments, tok, cfg.TreasuryIdentity, acl, publisher)
	creditLedger := credit.NewLedger(st.credit, tok, cfg.TreasuryIdentity, publisher)
	savingsLedger := savings.NewLedger(st.savings, tok, cfg.PoolIdentity, publisher)

	// Cross-ledger wiring happens once, after all ledgers exist.
	if err := router.Wire(bills); err != nil {
		logger.Error("failed to wire payment router", "error", err)
		os.Exit(1)
	}
	if err := creditLedger.Wire(reg, router); err != nil {
		logger.Error("failed to wire credit ledger", "error", err)
		os.Exit(1)
	}

	keySet, err := auth.NewKeySet()
	if err != nil {
		logger.Error("failed to create signing keys", "error", err)
		os.Exit(1)
	}

	// Clients provisioned via the environment win; otherwise a postgres
	// deployment reads them from the api_clients table.
	var clientStore auth.ClientStore
	if cfg.OAuthClients != "" {
		mem := auth.NewMemoryClientStore()
		specs, err := auth.ParseClientSpecs(cfg.OAuthClients)
		if err != nil {
			logger.Error("invalid OAUTH_CLIENTS", "error", err)
			os.Exit(1)
		}
		for id, spec := range specs {
			if err := mem.Provision(id, spec.Secret, spec.Scopes); err != nil {
				logger.Error("failed to provision client", "client_id", id, "error", err)
				os.Exit(1)
			}
		}
		clientStore = mem
	} else if pool != nil {
		clientStore = &auth.PostgresClientStore{Pool: pool}
	} else {
		clientStore = auth.NewMemoryClientStore()
	}

	oauthServer := &auth.OAuthServer{
		Store:          clientStore,
		Keys:           keySet,
		Issuer:         cfg.Issuer,
		AccessTokenTTL: 15 * time.Minute,
	}
	jwtValidator := &auth.JWTValidator{KeySet: keySet, Issuer: cfg.Issuer}

	var rateLimiter *security.RedisTokenBucket
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		rateLimiter = &security.RedisTokenBucket{
			Redis:      redisClient,
			Prefix:     "aquapay_api",
			Capacity:   cfg.RateCapacity,
			RefillRate: cfg.RateRefillRate,
		}
	}

	allowlist, err := security.ParseCIDRAllowlist(cfg.IPAllowlist)
	if err != nil {
		logger.Error("invalid IP_ALLOWLIST", "error", err)
		os.Exit(1)
	}

	handler, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		OAuth:        oauthServer,
		JWTValidator: jwtValidator,
		Registry:     reg,
		Oracle:       oracle,
		Bills:        bills,
		Payments:     router,
		Credit:       creditLedger,
		Savings:      savingsLedger,
		Token:        tok,
		Auditor:      audit.NewChainLogger(),
		RateLimiter:  rateLimiter,
		IPAllowlist:  allowlist,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "backend", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func openStores(ctx context.Context, cfg *config.Config) (stores, *pgxpool.Pool, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return stores{
			registry: memory.NewRegistryStore(),
			pricing:  memory.NewPriceStore(),
			billing:  memory.NewBillStore(),
			payments: memory.NewPaymentStore(),
			credit:   memory.NewLoanStore(),
			savings:  memory.NewDepositStore(),
		}, nil, func() {}, nil

	case config.BackendSQLite:
		db, err := sql.Open("sqlite3", cfg.SQLitePath)
		if err != nil {
			return stores{}, nil, nil, err
		}
		st := sqlite.NewStore(db)
		if err := st.Migrate(ctx); err != nil {
			db.Close()
			return stores{}, nil, nil, err
		}
		return storesFrom(st), nil, func() { db.Close() }, nil

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return stores{}, nil, nil, err
		}
		st := postgres.NewStore(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return stores{}, nil, nil, err
		}
		return storesFrom(st), pool, func() { pool.Close() }, nil
	}

	return stores{}, nil, nil, errors.New("unknown storage backend")
}

// storesFrom works for any backend implementing every store interface.
func storesFrom(st interface {
	registry.Store
	pricing.Store
	billing.Store
	payments.Store
	credit.Store
	savings.Store
}) stores {
	return stores{
		registry: st,
		pricing:  st,
		billing:  st,
		payments: st,
		credit:   st,
		savings:  st,
	}
}

func newPublisher(cfg *config.Config, logger *slog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) > 0 {
		return eventskafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	return &events.LogPublisher{Logger: logger}
}
