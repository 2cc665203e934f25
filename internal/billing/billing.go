package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/aquapay/internal/access"
	"github.com/example/aquapay/internal/events"
)

var (
	ErrNotFound      = errors.New("bill not found")
	ErrUnauthorized  = errors.New("caller is not privileged")
	ErrInvalidAmount = errors.New("invalid consumption or due time")
	ErrAlreadyPaid   = errors.New("bill already paid")
	// ErrBatchMismatch is returned when the batch arrays differ in length.
	ErrBatchMismatch = errors.New("batch arrays must have equal length")
)

// Bill is a charge for metered consumption, priced once at creation and
// frozen thereafter.
type Bill struct {
	ID          int64           `json:"id"`
	Account     string          `json:"account"`
	Consumption int64           `json:"consumption"`
	Amount      decimal.Decimal `json:"amount"`
	DueAt       time.Time       `json:"due_at"`
	CreatedAt   time.Time       `json:"created_at"`
	Paid        bool            `json:"paid"`
	PaidAt      time.Time       `json:"paid_at,omitempty"`
	Ref         string          `json:"ref,omitempty"`
	Metadata    string          `json:"metadata,omitempty"`
}

// Store owns the bill table. CreateBills assigns the ledger-scoped monotonic
// ids and is all-or-nothing. MarkBillPaid must reject an unknown id with
// ErrNotFound and an already paid bill with ErrAlreadyPaid.
type Store interface {
	CreateBills(ctx context.Context, bills []Bill) ([]int64, error)
	GetBill(ctx context.Context, id int64) (Bill, error)
	ListBillsByAccount(ctx context.Context, account string) ([]Bill, error)
	MarkBillPaid(ctx context.Context, id int64, paidAt time.Time) error
	CountBills(ctx context.Context) (total, unpaid int64, err error)
}

// PriceSource yields the current price-per-unit.
type PriceSource interface {
	CurrentPrice(ctx context.Context) (decimal.Decimal, error)
}

// Ledger issues and tracks bills.
type Ledger struct {
	mu        sync.Mutex
	store     Store
	prices    PriceSource
	acl       access.Controller
	publisher events.Publisher
	now       func() time.Time
}

func NewLedger(store Store, prices PriceSource, acl access.Controller, publisher events.Publisher) *Ledger {
	return &Ledger{
		store:     store,
		prices:    prices,
		acl:       acl,
		publisher: publisher,
		now:       time.Now,
	}
}

// CreateBill issues a single bill for an account at the current price.
// Privileged callers only.
func (l *Ledger) CreateBill(ctx context.Context, caller, account string, consumption int64, dueAt time.Time, ref, metadata string) (int64, error) {
	ids, err := l.CreateBillsBatch(ctx, caller, []string{account}, []int64{consumption}, dueAt, []string{ref}, []string{metadata})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// CreateBillsBatch issues one bill per account, all priced against the same
// snapshot taken once at batch start. Any invalid entry aborts the whole
// batch with no bills created.
func (l *Ledger) CreateBillsBatch(ctx context.Context, caller string, accounts []string, consumptions []int64, dueAt time.Time, refs, metadatas []string) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.acl.IsPrivileged(caller) {
		return nil, ErrUnauthorized
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrBatchMismatch)
	}
	// Refs and metadata are optional; absent means blank for every bill.
	if refs == nil {
		refs = make([]string, len(accounts))
	}
	if metadatas == nil {
		metadatas = make([]string, len(accounts))
	}
	if len(consumptions) != len(accounts) || len(refs) != len(accounts) || len(metadatas) != len(accounts) {
		return nil, ErrBatchMismatch
	}

	createdAt := l.now()
	if !dueAt.After(createdAt) {
		return nil, fmt.Errorf("%w: due time must be in the future", ErrInvalidAmount)
	}

	// One price snapshot for the whole batch, so a concurrent price change
	// can never split a batch across two tariffs.
	price, err := l.prices.CurrentPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read current price: %w", err)
	}

	bills := make([]Bill, 0, len(accounts))
	for i, account := range accounts {
		if account == "" {
			return nil, fmt.Errorf("%w: missing account at index %d", ErrInvalidAmount, i)
		}
		if consumptions[i] <= 0 {
			return nil, fmt.Errorf("%w: consumption at index %d", ErrInvalidAmount, i)
		}
		bills = append(bills, Bill{
			Account:     account,
			Consumption: consumptions[i],
			Amount:      price.Mul(decimal.NewFromInt(consumptions[i])),
			DueAt:       dueAt,
			CreatedAt:   createdAt,
			Ref:         refs[i],
			Metadata:    metadatas[i],
		})
	}

	ids, err := l.store.CreateBills(ctx, bills)
	if err != nil {
		return nil, err
	}

	for i, id := range ids {
		l.publish(events.TopicBillCreated, map[string]any{
			"bill_id":     id,
			"account":     bills[i].Account,
			"consumption": bills[i].Consumption,
			"amount":      bills[i].Amount.String(),
			"due_at":      dueAt,
		})
	}
	return ids, nil
}

// GetBill returns a bill by id.
func (l *Ledger) GetBill(ctx context.Context, id int64) (Bill, error) {
	return l.store.GetBill(ctx, id)
}

// UserBills returns an account's bills in creation order.
func (l *Ledger) UserBills(ctx context.Context, account string) ([]Bill, error) {
	return l.store.ListBillsByAccount(ctx, account)
}

// UnpaidBills returns an account's open bills in creation order.
func (l *Ledger) UnpaidBills(ctx context.Context, account string) ([]Bill, error) {
	bills, err := l.store.ListBillsByAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	var unpaid []Bill
	for _, b := range bills {
		if !b.Paid {
			unpaid = append(unpaid, b)
		}
	}
	return unpaid, nil
}

// Totals returns the lifetime and currently-unpaid bill counts.
func (l *Ledger) Totals(ctx context.Context) (total, unpaid int64, err error) {
	return l.store.CountBills(ctx)
}

// MarkPaid settles a bill. Called by the payment router after funds have
// cleared; never exposed as an external operation.
func (l *Ledger) MarkPaid(ctx context.Context, id int64, paidAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.MarkBillPaid(ctx, id, paidAt)
}

func (l *Ledger) publish(topic string, payload map[string]any) {
	if l.publisher == nil {
		return
	}
	_ = l.publisher.Publish(topic, payload)
}
