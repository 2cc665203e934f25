package memory

import (
	"context"
	"sync"
	"time"

	"github.com/example/aquapay/internal/billing"
)

// BillStore is the in-memory bill table. Ids are monotonic and never reused.
type BillStore struct {
	mu     sync.Mutex
	bills  map[int64]billing.Bill
	order  []int64
	nextID int64
}

func NewBillStore() *BillStore {
	return &BillStore{bills: make(map[int64]billing.Bill), nextID: 1}
}

func (s *BillStore) CreateBills(ctx context.Context, bills []billing.Bill) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(bills))
	for _, b := range bills {
		b.ID = s.nextID
		s.nextID++
		s.bills[b.ID] = b
		s.order = append(s.order, b.ID)
		ids = append(ids, b.ID)
	}
	return ids, nil
}

func (s *BillStore) GetBill(ctx context.Context, id int64) (billing.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bills[id]
	if !ok {
		return billing.Bill{}, billing.ErrNotFound
	}
	return b, nil
}

func (s *BillStore) ListBillsByAccount(ctx context.Context, account string) ([]billing.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []billing.Bill
	for _, id := range s.order {
		if b := s.bills[id]; b.Account == account {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *BillStore) MarkBillPaid(ctx context.Context, id int64, paidAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bills[id]
	if !ok {
		return billing.ErrNotFound
	}
	if b.Paid {
		return billing.ErrAlreadyPaid
	}
	b.Paid = true
	b.PaidAt = paidAt
	s.bills[id] = b
	return nil
}

func (s *BillStore) CountBills(ctx context.Context) (total, unpaid int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total = int64(len(s.bills))
	for _, b := range s.bills {
		if !b.Paid {
			unpaid++
		}
	}
	return total, unpaid, nil
}

var _ billing.Store = (*BillStore)(nil)
