package memory

import (
	"context"
	"sync"

	"github.com/example/aquapay/internal/credit"
)

// LoanStore is the in-memory loan table.
type LoanStore struct {
	mu     sync.Mutex
	loans  map[int64]credit.Loan
	order  []int64
	nextID int64
}

func NewLoanStore() *LoanStore {
	return &LoanStore{loans: make(map[int64]credit.Loan), nextID: 1}
}

func (s *LoanStore) CreateLoan(ctx context.Context, l credit.Loan) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.ID = s.nextID
	s.nextID++
	s.loans[l.ID] = l
	s.order = append(s.order, l.ID)
	return l.ID, nil
}

func (s *LoanStore) GetLoan(ctx context.Context, id int64) (credit.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.loans[id]
	if !ok {
		return credit.Loan{}, credit.ErrNotFound
	}
	return l, nil
}

func (s *LoanStore) ListLoansByBorrower(ctx context.Context, borrower string) ([]credit.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []credit.Loan
	for _, id := range s.order {
		if l := s.loans[id]; l.Borrower == borrower {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *LoanStore) UpdateLoan(ctx context.Context, l credit.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.loans[l.ID]; !ok {
		return credit.ErrNotFound
	}
	s.loans[l.ID] = l
	return nil
}

var _ credit.Store = (*LoanStore)(nil)
