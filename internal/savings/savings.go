package savings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/aquapay/internal/events"
	"github.com/example/aquapay/internal/token"
)

var (
	ErrNotFound          = errors.New("deposit not found")
	ErrInvalidAmount     = errors.New("deposit amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient balance or allowance")
	// ErrWithdrawalNotAllowed is returned for an already-withdrawn deposit or
	// a withdrawal by anyone but the depositor.
	ErrWithdrawalNotAllowed = errors.New("withdrawal not allowed")
)

// Savings accrue a fixed 3% annual simple interest.
const annualRateBps = 300

var secondsPerYear = decimal.NewFromInt(365 * 24 * 60 * 60)

// Deposit is savings principal accruing interest until withdrawn. A
// withdrawn deposit is never reactivated; InterestPaid records the interest
// realized at withdrawal.
type Deposit struct {
	ID           int64           `json:"id"`
	Depositor    string          `json:"depositor"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
	Active       bool            `json:"active"`
	WithdrawnAt  time.Time       `json:"withdrawn_at,omitempty"`
	InterestPaid decimal.Decimal `json:"interest_paid"`
}

// Store owns the deposit table.
type Store interface {
	CreateDeposit(ctx context.Context, d Deposit) (int64, error)
	GetDeposit(ctx context.Context, id int64) (Deposit, error)
	ListDepositsByOwner(ctx context.Context, depositor string) ([]Deposit, error)
	CloseDeposit(ctx context.Context, id int64, withdrawnAt time.Time, interest decimal.Decimal) error
}

// Ledger is the community savings pool.
type Ledger struct {
	mu        sync.Mutex
	store     Store
	token     token.Transferer
	pool      string
	publisher events.Publisher
	now       func() time.Time
}

func NewLedger(store Store, transferer token.Transferer, pool string, publisher events.Publisher) *Ledger {
	return &Ledger{
		store:     store,
		token:     transferer,
		pool:      pool,
		publisher: publisher,
		now:       time.Now,
	}
}

// Deposit moves funds into the pool and opens an interest-bearing deposit.
// Funds move before the deposit record is written.
func (l *Ledger) Deposit(ctx context.Context, depositor string, amount decimal.Decimal) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.LessThanOrEqual(decimal.Zero) {
		return 0, ErrInvalidAmount
	}

	if err := l.token.Debit(ctx, depositor, l.pool, l.pool, amount); err != nil {
		if errors.Is(err, token.ErrInsufficientBalance) || errors.Is(err, token.ErrInsufficientAllowance) {
			return 0, ErrInsufficientFunds
		}
		return 0, fmt.Errorf("token debit failed: %w", err)
	}

	id, err := l.store.CreateDeposit(ctx, Deposit{
		Depositor: depositor,
		Amount:    amount,
		CreatedAt: l.now(),
		Active:    true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record deposit: %w", err)
	}

	l.publish(events.TopicDepositCreated, map[string]any{
		"deposit_id": id,
		"depositor":  depositor,
		"amount":     amount.String(),
	})
	return id, nil
}

// Withdraw pays out principal plus accrued interest and closes the deposit.
// The outgoing transfer commits first; if it fails the deposit stays active
// and unchanged.
func (l *Ledger) Withdraw(ctx context.Context, caller string, depositID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	deposit, err := l.store.GetDeposit(ctx, depositID)
	if err != nil {
		return err
	}
	if !deposit.Active {
		return ErrWithdrawalNotAllowed
	}
	if deposit.Depositor != caller {
		return ErrWithdrawalNotAllowed
	}

	withdrawnAt := l.now()
	interest := l.interestAt(deposit, withdrawnAt)
	payout := deposit.Amount.Add(interest)

	if err := l.token.Transfer(ctx, l.pool, deposit.Depositor, payout); err != nil {
		if errors.Is(err, token.ErrInsufficientBalance) {
			return ErrInsufficientFunds
		}
		return fmt.Errorf("token transfer failed: %w", err)
	}

	if err := l.store.CloseDeposit(ctx, depositID, withdrawnAt, interest); err != nil {
		return fmt.Errorf("failed to close deposit: %w", err)
	}

	l.publish(events.TopicDepositWithdrawn, map[string]any{
		"deposit_id": depositID,
		"depositor":  deposit.Depositor,
		"amount":     deposit.Amount.String(),
		"interest":   interest.String(),
	})
	return nil
}

// CalculateInterest returns the interest accrued so far on a deposit, or the
// realized interest for a withdrawn one. Pure read, non-decreasing in
// elapsed time while the deposit is active.
func (l *Ledger) CalculateInterest(ctx context.Context, depositID int64) (decimal.Decimal, error) {
	deposit, err := l.store.GetDeposit(ctx, depositID)
	if err != nil {
		return decimal.Zero, err
	}
	if !deposit.Active {
		return deposit.InterestPaid, nil
	}
	return l.interestAt(deposit, l.now()), nil
}

// GetDeposit returns a deposit by id.
func (l *Ledger) GetDeposit(ctx context.Context, id int64) (Deposit, error) {
	return l.store.GetDeposit(ctx, id)
}

// UserDeposits returns a depositor's deposits in creation order.
func (l *Ledger) UserDeposits(ctx context.Context, depositor string) ([]Deposit, error) {
	return l.store.ListDepositsByOwner(ctx, depositor)
}

// UserTotalBalance sums principal plus accrued interest over the depositor's
// active deposits.
func (l *Ledger) UserTotalBalance(ctx context.Context, depositor string) (decimal.Decimal, error) {
	deposits, err := l.store.ListDepositsByOwner(ctx, depositor)
	if err != nil {
		return decimal.Zero, err
	}

	at := l.now()
	total := decimal.Zero
	for _, d := range deposits {
		if !d.Active {
			continue
		}
		total = total.Add(d.Amount).Add(l.interestAt(d, at))
	}
	return total, nil
}

// interestAt is simple interest at the fixed annual rate:
//
//	amount × rate × elapsed/year
func (l *Ledger) interestAt(d Deposit, at time.Time) decimal.Decimal {
	elapsed := at.Sub(d.CreatedAt)
	if elapsed <= 0 {
		return decimal.Zero
	}
	return d.Amount.
		Mul(decimal.NewFromInt(annualRateBps)).
		Div(decimal.NewFromInt(10000)).
		Mul(decimal.NewFromInt(int64(elapsed / time.Second))).
		Div(secondsPerYear)
}

func (l *Ledger) publish(topic string, payload map[string]any) {
	if l.publisher == nil {
		return
	}
	_ = l.publisher.Publish(topic, payload)
}
