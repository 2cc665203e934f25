package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/example/aquapay/internal/access"
	"github.com/example/aquapay/internal/events"
)

var (
	// ErrDuplicateIdentity is returned when the display name is already
	// claimed, or the caller identity is already registered. Names are never
	// reusable, including names of deactivated accounts.
	ErrDuplicateIdentity = errors.New("identity or display name already registered")
	ErrNotFound          = errors.New("account not found")
	ErrUnauthorized      = errors.New("caller is not privileged")
)

// Account maps a caller identity to its public name and water meter.
type Account struct {
	Identity  string    `json:"identity"`
	Name      string    `json:"name"`
	MeterID   int64     `json:"meter_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Store owns the account table. CreateAccount must reject a duplicate
// identity or display name with ErrDuplicateIdentity, treating names as
// claimed forever once registered.
type Store interface {
	CreateAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, identity string) (Account, error)
	SetAccountActive(ctx context.Context, identity string, active bool) error
	ListAccounts(ctx context.Context) ([]Account, error)
	CountAccounts(ctx context.Context) (int64, error)
}

// Service is the account registry ledger.
type Service struct {
	mu        sync.Mutex
	store     Store
	acl       access.Controller
	publisher events.Publisher
	now       func() time.Time
}

func NewService(store Store, acl access.Controller, publisher events.Publisher) *Service {
	return &Service{
		store:     store,
		acl:       acl,
		publisher: publisher,
		now:       time.Now,
	}
}

// Register creates an account for the caller identity. The display name is a
// case-sensitive exact-match key and is immutable once set.
func (s *Service) Register(ctx context.Context, identity, name string, meterID int64) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if identity == "" {
		return Account{}, fmt.Errorf("identity is required")
	}
	if strings.TrimSpace(name) == "" {
		return Account{}, fmt.Errorf("display name is required")
	}
	if meterID <= 0 {
		return Account{}, fmt.Errorf("meter id must be positive")
	}

	account := Account{
		Identity:  identity,
		Name:      name,
		MeterID:   meterID,
		Active:    true,
		CreatedAt: s.now(),
	}

	if err := s.store.CreateAccount(ctx, account); err != nil {
		return Account{}, err
	}

	s.publish(events.TopicAccountRegistered, map[string]any{
		"identity": identity,
		"name":     name,
		"meter_id": meterID,
	})
	return account, nil
}

// Lookup returns the caller's account, or ErrNotFound.
func (s *Service) Lookup(ctx context.Context, identity string) (Account, error) {
	return s.store.GetAccount(ctx, identity)
}

// Deactivate flips an account inactive. Privileged callers only; the display
// name stays claimed.
func (s *Service) Deactivate(ctx context.Context, caller, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acl.IsPrivileged(caller) {
		return ErrUnauthorized
	}
	if _, err := s.store.GetAccount(ctx, identity); err != nil {
		return err
	}
	if err := s.store.SetAccountActive(ctx, identity, false); err != nil {
		return err
	}

	s.publish(events.TopicAccountDeactivated, map[string]any{
		"identity": identity,
		"by":       caller,
	})
	return nil
}

// List returns every registered account.
func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.store.ListAccounts(ctx)
}

// TotalUsers returns the number of accounts ever registered.
func (s *Service) TotalUsers(ctx context.Context) (int64, error) {
	return s.store.CountAccounts(ctx)
}

func (s *Service) publish(topic string, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	_ = s.publisher.Publish(topic, payload)
}
