package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/aquapay/internal/savings"
)

// DepositStore is the in-memory deposit table.
type DepositStore struct {
	mu       sync.Mutex
	deposits map[int64]savings.Deposit
	order    []int64
	nextID   int64
}

func NewDepositStore() *DepositStore {
	return &DepositStore{deposits: make(map[int64]savings.Deposit), nextID: 1}
}

func (s *DepositStore) CreateDeposit(ctx context.Context, d savings.Deposit) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d.ID = s.nextID
	s.nextID++
	s.deposits[d.ID] = d
	s.order = append(s.order, d.ID)
	return d.ID, nil
}

func (s *DepositStore) GetDeposit(ctx context.Context, id int64) (savings.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[id]
	if !ok {
		return savings.Deposit{}, savings.ErrNotFound
	}
	return d, nil
}

func (s *DepositStore) ListDepositsByOwner(ctx context.Context, depositor string) ([]savings.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []savings.Deposit
	for _, id := range s.order {
		if d := s.deposits[id]; d.Depositor == depositor {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *DepositStore) CloseDeposit(ctx context.Context, id int64, withdrawnAt time.Time, interest decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[id]
	if !ok {
		return savings.ErrNotFound
	}
	if !d.Active {
		return savings.ErrWithdrawalNotAllowed
	}
	d.Active = false
	d.WithdrawnAt = withdrawnAt
	d.InterestPaid = interest
	s.deposits[id] = d
	return nil
}

var _ savings.Store = (*DepositStore)(nil)
