package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/example/aquapay/internal/payments"
)

// PaymentStore is the in-memory append-only payment table plus the revenue
// accumulator. Both mutate under one lock so a recorded payment and its
// revenue contribution are never observable apart.
type PaymentStore struct {
	mu      sync.Mutex
	list    []payments.Payment
	revenue decimal.Decimal
	nextID  int64
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{revenue: decimal.Zero, nextID: 1}
}

func (s *PaymentStore) RecordPayment(ctx context.Context, p payments.Payment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.nextID
	s.nextID++
	s.list = append(s.list, p)
	s.revenue = s.revenue.Add(p.Amount)
	return p.ID, nil
}

func (s *PaymentStore) ListPaymentsByPayer(ctx context.Context, payer string) ([]payments.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []payments.Payment
	for _, p := range s.list {
		if p.Payer == payer {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *PaymentStore) TotalRevenue(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revenue, nil
}

var _ payments.Store = (*PaymentStore)(nil)
