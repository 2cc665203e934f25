package memory

import (
	"context"
	"sync"

	"github.com/example/aquapay/internal/registry"
)

// RegistryStore is the in-memory account table. The names index holds every
// display name ever claimed, so deactivated names stay unavailable.
type RegistryStore struct {
	mu       sync.Mutex
	accounts map[string]registry.Account
	names    map[string]struct{}
	order    []string
}

func NewRegistryStore() *RegistryStore {
	return &RegistryStore{
		accounts: make(map[string]registry.Account),
		names:    make(map[string]struct{}),
	}
}

func (s *RegistryStore) CreateAccount(ctx context.Context, a registry.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.Identity]; exists {
		return registry.ErrDuplicateIdentity
	}
	if _, taken := s.names[a.Name]; taken {
		return registry.ErrDuplicateIdentity
	}

	s.accounts[a.Identity] = a
	s.names[a.Name] = struct{}{}
	s.order = append(s.order, a.Identity)
	return nil
}

func (s *RegistryStore) GetAccount(ctx context.Context, identity string) (registry.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[identity]
	if !ok {
		return registry.Account{}, registry.ErrNotFound
	}
	return a, nil
}

func (s *RegistryStore) SetAccountActive(ctx context.Context, identity string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[identity]
	if !ok {
		return registry.ErrNotFound
	}
	a.Active = active
	s.accounts[identity] = a
	return nil
}

func (s *RegistryStore) ListAccounts(ctx context.Context) ([]registry.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]registry.Account, 0, len(s.order))
	for _, identity := range s.order {
		out = append(out, s.accounts[identity])
	}
	return out, nil
}

func (s *RegistryStore) CountAccounts(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.accounts)), nil
}

var _ registry.Store = (*RegistryStore)(nil)
