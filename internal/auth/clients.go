package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Scopes understood by the utility API. utility:admin marks the operator's
// own clients; aqua:read and aqua:write are handed to household clients.
const (
	ScopeAdmin = "utility:admin"
	ScopeRead  = "aqua:read"
	ScopeWrite = "aqua:write"
)

var ErrClientNotFound = errors.New("client not found")

type Client struct {
	ID         string
	SecretHash string
	Scopes     []string
}

type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// MemoryClientStore holds clients provisioned at startup, typically parsed
// from the OAUTH_CLIENTS environment variable.
type MemoryClientStore struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewMemoryClientStore() *MemoryClientStore {
	return &MemoryClientStore{clients: make(map[string]*Client)}
}

// Provision registers a client with the given plaintext secret. The secret
// is bcrypt-hashed before storage.
func (m *MemoryClientStore) Provision(clientID, secret string, scopes []string) error {
	hash, err := HashClientSecret(secret)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[clientID] = &Client{ID: clientID, SecretHash: hash, Scopes: scopes}
	return nil
}

func (m *MemoryClientStore) GetClient(_ context.Context, clientID string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return c, nil
}

// ParseClientSpecs parses "id:secret:scope1 scope2" entries separated by
// commas, the provisioning format accepted from the environment.
func ParseClientSpecs(raw string) (map[string]struct {
	Secret string
	Scopes []string
}, error) {
	out := make(map[string]struct {
		Secret string
		Scopes []string
	})
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("malformed client spec %q", entry)
		}
		out[parts[0]] = struct {
			Secret string
			Scopes []string
		}{Secret: parts[1], Scopes: strings.Fields(parts[2])}
	}
	return out, nil
}

// PostgresClientStore reads clients from the api_clients table, for
// deployments where provisioning happens out of band.
type PostgresClientStore struct {
	Pool *pgxpool.Pool
}

func (s *PostgresClientStore) GetClient(ctx context.Context, clientID string) (*Client, error) {
	if s.Pool == nil {
		return nil, errors.New("missing pool")
	}

	var c Client
	var scopes []string
	err := s.Pool.QueryRow(ctx,
		`SELECT client_id, secret_hash, scopes FROM api_clients WHERE client_id = $1`, clientID).
		Scan(&c.ID, &c.SecretHash, &scopes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	c.Scopes = scopes
	return &c, nil
}
