package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/aquapay/internal/access"
	"github.com/example/aquapay/internal/events"
)

// memStore is a minimal in-package Store; the full backends live under
// internal/storage and are covered by their own tests.
type memStore struct {
	accounts map[string]Account
	names    map[string]struct{}
	order    []string
}

func newMemStore() *memStore {
	return &memStore{accounts: map[string]Account{}, names: map[string]struct{}{}}
}

func (s *memStore) CreateAccount(_ context.Context, a Account) error {
	if _, ok := s.accounts[a.Identity]; ok {
		return ErrDuplicateIdentity
	}
	if _, ok := s.names[a.Name]; ok {
		return ErrDuplicateIdentity
	}
	s.accounts[a.Identity] = a
	s.names[a.Name] = struct{}{}
	s.order = append(s.order, a.Identity)
	return nil
}

func (s *memStore) GetAccount(_ context.Context, identity string) (Account, error) {
	a, ok := s.accounts[identity]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (s *memStore) SetAccountActive(_ context.Context, identity string, active bool) error {
	a, ok := s.accounts[identity]
	if !ok {
		return ErrNotFound
	}
	a.Active = active
	s.accounts[identity] = a
	return nil
}

func (s *memStore) ListAccounts(_ context.Context) ([]Account, error) {
	out := make([]Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.accounts[id])
	}
	return out, nil
}

func (s *memStore) CountAccounts(_ context.Context) (int64, error) {
	return int64(len(s.accounts)), nil
}

func newTestService(t *testing.T) (*Service, *events.MemoryPublisher) {
	t.Helper()
	pub := &events.MemoryPublisher{}
	svc := NewService(newMemStore(), access.NewStaticList("meter-operator"), pub)
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, pub
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestService(t)

	account, err := svc.Register(ctx, "0xabc", "casa123.aguapay.eth", 42)
	require.NoError(t, err)
	require.Equal(t, "casa123.aguapay.eth", account.Name)
	require.True(t, account.Active)
	require.Equal(t, int64(42), account.MeterID)

	got, err := svc.Lookup(ctx, "0xabc")
	require.NoError(t, err)
	require.Equal(t, account, got)

	evs := pub.ByTopic(events.TopicAccountRegistered)
	require.Len(t, evs, 1)
	require.Equal(t, "casa123.aguapay.eth", evs[0].Payload["name"])
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Register(ctx, "", "casa.aguapay.eth", 1)
	require.Error(t, err)

	_, err = svc.Register(ctx, "0xabc", "   ", 1)
	require.Error(t, err)

	_, err = svc.Register(ctx, "0xabc", "casa.aguapay.eth", 0)
	require.Error(t, err)
}

func TestRegisterDuplicateName(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Register(ctx, "0xabc", "casa123.aguapay.eth", 1)
	require.NoError(t, err)

	// Same name from another identity is rejected.
	_, err = svc.Register(ctx, "0xdef", "casa123.aguapay.eth", 2)
	require.ErrorIs(t, err, ErrDuplicateIdentity)

	// Same identity cannot register twice either.
	_, err = svc.Register(ctx, "0xabc", "otra.aguapay.eth", 3)
	require.ErrorIs(t, err, ErrDuplicateIdentity)
}

func TestDeactivate(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestService(t)

	_, err := svc.Register(ctx, "0xabc", "casa123.aguapay.eth", 1)
	require.NoError(t, err)

	// Non-privileged caller is refused.
	err = svc.Deactivate(ctx, "0xabc", "0xabc")
	require.ErrorIs(t, err, ErrUnauthorized)

	err = svc.Deactivate(ctx, "meter-operator", "0xabc")
	require.NoError(t, err)

	got, err := svc.Lookup(ctx, "0xabc")
	require.NoError(t, err)
	require.False(t, got.Active)

	require.Len(t, pub.ByTopic(events.TopicAccountDeactivated), 1)

	// The name stays claimed after deactivation.
	_, err = svc.Register(ctx, "0xnew", "casa123.aguapay.eth", 9)
	require.ErrorIs(t, err, ErrDuplicateIdentity)
}

func TestDeactivateUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Deactivate(context.Background(), "meter-operator", "0xmissing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTotalUsers(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	n, err := svc.TotalUsers(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = svc.Register(ctx, "0xabc", "a.aguapay.eth", 1)
	require.NoError(t, err)
	_, err = svc.Register(ctx, "0xdef", "b.aguapay.eth", 2)
	require.NoError(t, err)

	n, err = svc.TotalUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	// Deactivation does not shrink the lifetime count.
	require.NoError(t, svc.Deactivate(ctx, "meter-operator", "0xabc"))
	n, err = svc.TotalUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}
