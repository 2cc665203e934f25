// Package config loads the service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Storage backends the server can run against.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds everything the server needs to come up.
type Config struct {
	Environment string
	ListenAddr  string

	StoreBackend string
	DatabaseURL  string // postgres backend
	SQLitePath   string // sqlite backend

	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string

	// Treasury collects bill revenue; Pool custodies savings deposits and
	// funds loans.
	TreasuryIdentity string
	PoolIdentity     string

	// AdminIdentities are granted privileged ledger operations on top of
	// whatever their token scopes say.
	AdminIdentities []string

	// OAuthClients is the raw "id:secret:scope1 scope2,..." provisioning
	// string, parsed by the auth package.
	OAuthClients string

	Issuer         string
	MaxBodyBytes   int64
	RateCapacity   int
	RateRefillRate float64
	IPAllowlist    []string
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:      getenv("APP_ENV", "development"),
		ListenAddr:       getenv("LISTEN_ADDR", ":8080"),
		StoreBackend:     getenv("STORE_BACKEND", BackendMemory),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       getenv("SQLITE_PATH", "aquapay.db"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		KafkaTopic:       getenv("KAFKA_TOPIC", "aquapay.events"),
		TreasuryIdentity: getenv("TREASURY_IDENTITY", "utility.treasury"),
		PoolIdentity:     getenv("POOL_IDENTITY", "utility.pool"),
		OAuthClients:     os.Getenv("OAUTH_CLIENTS"),
		Issuer:           getenv("TOKEN_ISSUER", "aquapay"),
		MaxBodyBytes:     int64(getenvInt("MAX_BODY_BYTES", 1<<20)),
		RateCapacity:     getenvInt("RATE_LIMIT_CAPACITY", 20),
		RateRefillRate:   float64(getenvInt("RATE_LIMIT_REFILL_PER_SEC", 10)),
	}

	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		cfg.KafkaBrokers = splitList(raw)
	}
	if raw := os.Getenv("ADMIN_IDENTITIES"); raw != "" {
		cfg.AdminIdentities = splitList(raw)
	}
	if raw := os.Getenv("IP_ALLOWLIST"); raw != "" {
		cfg.IPAllowlist = splitList(raw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend-specific requirements. Production deployments must
// not run on the in-memory store.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
		if c.Environment == "production" {
			return errors.New("STORE_BACKEND=memory is not allowed in production")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.TreasuryIdentity == "" || c.PoolIdentity == "" {
		return errors.New("TREASURY_IDENTITY and POOL_IDENTITY must not be empty")
	}
	if c.TreasuryIdentity == c.PoolIdentity {
		return errors.New("TREASURY_IDENTITY and POOL_IDENTITY must differ")
	}

	// With postgres the api_clients table can provision clients out of
	// band; every other backend needs them in the environment.
	if c.Environment == "production" && c.OAuthClients == "" && c.StoreBackend != BackendPostgres {
		return errors.New("OAUTH_CLIENTS must be provisioned in production")
	}

	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
