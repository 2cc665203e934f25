package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/aquapay/internal/access"
	"github.com/example/aquapay/internal/billing"
	"github.com/example/aquapay/internal/events"
	"github.com/example/aquapay/internal/token"
)

var (
	ErrNotFound          = errors.New("bill not found")
	ErrAlreadyPaid       = errors.New("bill already paid")
	ErrInvalidAmount     = errors.New("payment amount must match the bill amount exactly")
	ErrInsufficientFunds = errors.New("insufficient balance or allowance")
	ErrUnauthorized      = errors.New("caller is not privileged")
	// ErrAlreadyWired rejects a second Wire call after bootstrap.
	ErrAlreadyWired = errors.New("payment router already wired")
	ErrNotWired     = errors.New("payment router not wired")
)

// Payment is an immutable record of funds moved against a bill or standalone.
// BillID zero means no bill linkage.
type Payment struct {
	ID        int64           `json:"id"`
	Payer     string          `json:"payer"`
	Amount    decimal.Decimal `json:"amount"`
	BillID    int64           `json:"bill_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Ref       string          `json:"ref,omitempty"`
	External  bool            `json:"external"`
}

// Store owns the append-only payment table and the aggregate revenue
// accumulator. RecordPayment must add the payment amount to revenue in the
// same atomic unit.
type Store interface {
	RecordPayment(ctx context.Context, p Payment) (int64, error)
	ListPaymentsByPayer(ctx context.Context, payer string) ([]Payment, error)
	TotalRevenue(ctx context.Context) (decimal.Decimal, error)
}

// BillLedger is the slice of the billing ledger the router needs.
type BillLedger interface {
	GetBill(ctx context.Context, id int64) (billing.Bill, error)
	MarkPaid(ctx context.Context, id int64, paidAt time.Time) error
}

// Router clears funds across the ledgers. The billing peer is injected once
// during the bootstrap wire step, after all ledgers exist.
type Router struct {
	mu        sync.Mutex
	store     Store
	token     token.Transferer
	treasury  string
	acl       access.Controller
	publisher events.Publisher
	now       func() time.Time

	bills BillLedger
	wired bool
}

func NewRouter(store Store, transferer token.Transferer, treasury string, acl access.Controller, publisher events.Publisher) *Router {
	return &Router{
		store:     store,
		token:     transferer,
		treasury:  treasury,
		acl:       acl,
		publisher: publisher,
		now:       time.Now,
	}
}

// Wire injects the billing peer. A second call is rejected.
func (r *Router) Wire(bills BillLedger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.wired {
		return ErrAlreadyWired
	}
	if bills == nil {
		return fmt.Errorf("billing ledger is required")
	}
	r.bills = bills
	r.wired = true
	return nil
}

// Pay settles a bill, or records a standalone payment when billID is zero.
// The payment must match the bill amount exactly; under- and over-payments
// are both rejected so the bill's amount field stays authoritative. Funds
// move before any ledger state is touched: if the token debit fails, nothing
// is mutated.
func (r *Router) Pay(ctx context.Context, payer string, billID int64, amount decimal.Decimal, ref string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.wired {
		return 0, ErrNotWired
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return 0, ErrInvalidAmount
	}

	var bill billing.Bill
	if billID != 0 {
		var err error
		bill, err = r.bills.GetBill(ctx, billID)
		if err != nil {
			if errors.Is(err, billing.ErrNotFound) {
				return 0, ErrNotFound
			}
			return 0, err
		}
		if bill.Paid {
			return 0, ErrAlreadyPaid
		}
		if !amount.Equal(bill.Amount) {
			return 0, ErrInvalidAmount
		}
	}

	// Transfer first, commit after. Reversing this ordering would open a
	// window where the ledger claims funds the treasury never received.
	if err := r.token.Debit(ctx, payer, r.treasury, r.treasury, amount); err != nil {
		if errors.Is(err, token.ErrInsufficientBalance) || errors.Is(err, token.ErrInsufficientAllowance) {
			return 0, ErrInsufficientFunds
		}
		return 0, fmt.Errorf("token debit failed: %w", err)
	}

	paidAt := r.now()
	if billID != 0 {
		if err := r.bills.MarkPaid(ctx, billID, paidAt); err != nil {
			return 0, fmt.Errorf("failed to mark bill paid: %w", err)
		}
	}

	return r.record(ctx, Payment{
		Payer:     payer,
		Amount:    amount,
		BillID:    billID,
		CreatedAt: paidAt,
		Ref:       ref,
		External:  false,
	})
}

// RecordExternal books a payment settled outside the token ledger (cash
// desk, WhatsApp transfer). Privileged callers only; no funds move here.
func (r *Router) RecordExternal(ctx context.Context, caller, payer string, billID int64, amount decimal.Decimal, ref string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.wired {
		return 0, ErrNotWired
	}
	if !r.acl.IsPrivileged(caller) {
		return 0, ErrUnauthorized
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return 0, ErrInvalidAmount
	}

	paidAt := r.now()
	if billID != 0 {
		bill, err := r.bills.GetBill(ctx, billID)
		if err != nil {
			if errors.Is(err, billing.ErrNotFound) {
				return 0, ErrNotFound
			}
			return 0, err
		}
		if bill.Paid {
			return 0, ErrAlreadyPaid
		}
		if !amount.Equal(bill.Amount) {
			return 0, ErrInvalidAmount
		}
		if err := r.bills.MarkPaid(ctx, billID, paidAt); err != nil {
			return 0, fmt.Errorf("failed to mark bill paid: %w", err)
		}
	}

	return r.record(ctx, Payment{
		Payer:     payer,
		Amount:    amount,
		BillID:    billID,
		CreatedAt: paidAt,
		Ref:       ref,
		External:  true,
	})
}

func (r *Router) record(ctx context.Context, p Payment) (int64, error) {
	id, err := r.store.RecordPayment(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("failed to record payment: %w", err)
	}

	if r.publisher != nil {
		_ = r.publisher.Publish(events.TopicPaymentReceived, map[string]any{
			"payment_id": id,
			"payer":      p.Payer,
			"amount":     p.Amount.String(),
			"bill_id":    p.BillID,
			"external":   p.External,
			"ref":        p.Ref,
		})
	}
	return id, nil
}

// UserPayments returns a payer's payment history in creation order.
func (r *Router) UserPayments(ctx context.Context, payer string) ([]Payment, error) {
	return r.store.ListPaymentsByPayer(ctx, payer)
}

// TotalRevenue returns the aggregate revenue collected across all payments.
func (r *Router) TotalRevenue(ctx context.Context) (decimal.Decimal, error) {
	return r.store.TotalRevenue(ctx)
}
