package pricing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/aquapay/internal/access"
	"github.com/example/aquapay/internal/events"
)

var (
	ErrUnauthorized = errors.New("caller is not privileged")
	ErrInvalidPrice = errors.New("price must not be negative")
)

// Config is the current price-per-unit snapshot.
type Config struct {
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	UpdatedAt    time.Time       `json:"updated_at"`
	UpdatedBy    string          `json:"updated_by"`
}

// Store keeps the single price row.
type Store interface {
	GetPrice(ctx context.Context) (Config, error)
	SetPrice(ctx context.Context, cfg Config) error
}

// Oracle holds the metered-consumption price. Only privileged callers may
// move it; setting the current value again is an idempotent no-op.
type Oracle struct {
	mu        sync.Mutex
	store     Store
	acl       access.Controller
	publisher events.Publisher
	now       func() time.Time
}

func NewOracle(store Store, acl access.Controller, publisher events.Publisher) *Oracle {
	return &Oracle{
		store:     store,
		acl:       acl,
		publisher: publisher,
		now:       time.Now,
	}
}

// SetPrice updates the price-per-unit.
func (o *Oracle) SetPrice(ctx context.Context, caller string, price decimal.Decimal) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.acl.IsPrivileged(caller) {
		return ErrUnauthorized
	}
	if price.IsNegative() {
		return ErrInvalidPrice
	}

	current, err := o.store.GetPrice(ctx)
	if err != nil {
		return err
	}
	if current.PricePerUnit.Equal(price) {
		return nil
	}

	cfg := Config{PricePerUnit: price, UpdatedAt: o.now(), UpdatedBy: caller}
	if err := o.store.SetPrice(ctx, cfg); err != nil {
		return err
	}

	if o.publisher != nil {
		_ = o.publisher.Publish(events.TopicPriceUpdated, map[string]any{
			"price_per_unit": price.String(),
			"updated_by":     caller,
		})
	}
	return nil
}

// CurrentPrice is a pure read of the price-per-unit.
func (o *Oracle) CurrentPrice(ctx context.Context) (decimal.Decimal, error) {
	cfg, err := o.store.GetPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return cfg.PricePerUnit, nil
}

// CurrentConfig returns the full price snapshot.
func (o *Oracle) CurrentConfig(ctx context.Context) (Config, error) {
	return o.store.GetPrice(ctx)
}
