package memory

import (
	"context"
	"sync"

	"github.com/example/aquapay/internal/pricing"
)

// PriceStore holds the single price configuration row.
type PriceStore struct {
	mu  sync.Mutex
	cfg pricing.Config
}

func NewPriceStore() *PriceStore {
	return &PriceStore{}
}

func (s *PriceStore) GetPrice(ctx context.Context) (pricing.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, nil
}

func (s *PriceStore) SetPrice(ctx context.Context, cfg pricing.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

var _ pricing.Store = (*PriceStore)(nil)
