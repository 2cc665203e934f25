package credit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/aquapay/internal/events"
	"github.com/example/aquapay/internal/registry"
	"github.com/example/aquapay/internal/token"
)

var (
	ErrNotFound          = errors.New("loan not found")
	ErrLoanNotActive     = errors.New("loan is not active")
	ErrInvalidAmount     = errors.New("invalid loan amount or term")
	ErrInsufficientFunds = errors.New("insufficient balance or allowance")
	// ErrNotEligible is returned when the borrower is not a registered,
	// active account.
	ErrNotEligible = errors.New("borrower is not eligible")
	// ErrLoanLimitExceeded is returned when the requested principal exceeds
	// the utility's lending capacity.
	ErrLoanLimitExceeded = errors.New("requested amount exceeds the loan limit")
	ErrAlreadyWired      = errors.New("credit ledger already wired")
	ErrNotWired          = errors.New("credit ledger not wired")
)

// Rate policy: a base rate plus a premium per started 30-day block, capped.
// The resulting rate covers the full term; interest accrues linearly over the
// term and keeps accruing at the same pace past the due time.
const (
	baseRateBps    = 500
	termPremiumBps = 100
	maxRateBps     = 2000

	termBlockDays = 30
)

// Lending capacity floor, in token base units. The cap grows with collected
// revenue (one tenth of it) once revenue passes this floor.
var loanCapFloor = decimal.NewFromInt(1000)

// Loan is borrowed principal accruing interest until repaid.
type Loan struct {
	ID            int64           `json:"id"`
	Borrower      string          `json:"borrower"`
	Principal     decimal.Decimal `json:"principal"`
	RateBps       int64           `json:"rate_bps"`
	TermDays      int64           `json:"term_days"`
	DueAt         time.Time       `json:"due_at"`
	CreatedAt     time.Time       `json:"created_at"`
	PrincipalPaid decimal.Decimal `json:"principal_paid"`
	InterestPaid  decimal.Decimal `json:"interest_paid"`
	Active        bool            `json:"active"`
	Repaid        bool            `json:"repaid"`
	Purpose       string          `json:"purpose"`
}

// Outstanding returns the unpaid principal.
func (l Loan) Outstanding() decimal.Decimal {
	return l.Principal.Sub(l.PrincipalPaid)
}

// Store owns the loan table.
type Store interface {
	CreateLoan(ctx context.Context, l Loan) (int64, error)
	GetLoan(ctx context.Context, id int64) (Loan, error)
	ListLoansByBorrower(ctx context.Context, borrower string) ([]Loan, error)
	UpdateLoan(ctx context.Context, l Loan) error
}

// AccountSource is the slice of the registry the credit ledger reads for
// eligibility.
type AccountSource interface {
	Lookup(ctx context.Context, identity string) (registry.Account, error)
}

// RevenueSource is the slice of the payment router the credit ledger reads
// for lending capacity.
type RevenueSource interface {
	TotalRevenue(ctx context.Context) (decimal.Decimal, error)
}

// Ledger originates and amortizes micro-loans. Registry and revenue peers are
// injected once during the bootstrap wire step.
type Ledger struct {
	mu        sync.Mutex
	store     Store
	token     token.Transferer
	treasury  string
	publisher events.Publisher
	now       func() time.Time

	accounts AccountSource
	revenue  RevenueSource
	wired    bool
}

func NewLedger(store Store, transferer token.Transferer, treasury string, publisher events.Publisher) *Ledger {
	return &Ledger{
		store:     store,
		token:     transferer,
		treasury:  treasury,
		publisher: publisher,
		now:       time.Now,
	}
}

// Wire injects the registry and revenue peers. A second call is rejected.
func (l *Ledger) Wire(accounts AccountSource, revenue RevenueSource) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.wired {
		return ErrAlreadyWired
	}
	if accounts == nil || revenue == nil {
		return fmt.Errorf("registry and revenue sources are required")
	}
	l.accounts = accounts
	l.revenue = revenue
	l.wired = true
	return nil
}

// RateBpsFor returns the deterministic rate for a principal and term.
func RateBpsFor(termDays int64) int64 {
	rate := int64(baseRateBps + termPremiumBps*(termDays/termBlockDays))
	if rate > maxRateBps {
		return maxRateBps
	}
	return rate
}

// RequestLoan originates a loan for the borrower. No funds move at
// origination; the credit line is drawn separately.
func (l *Ledger) RequestLoan(ctx context.Context, borrower string, amount decimal.Decimal, termDays int64, purpose string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.wired {
		return 0, ErrNotWired
	}
	if amount.LessThanOrEqual(decimal.Zero) || termDays <= 0 {
		return 0, ErrInvalidAmount
	}

	account, err := l.accounts.Lookup(ctx, borrower)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return 0, ErrNotEligible
		}
		return 0, err
	}
	if !account.Active {
		return 0, ErrNotEligible
	}

	cap, err := l.loanCap(ctx)
	if err != nil {
		return 0, err
	}
	if amount.GreaterThan(cap) {
		return 0, ErrLoanLimitExceeded
	}

	createdAt := l.now()
	loan := Loan{
		Borrower:      borrower,
		Principal:     amount,
		RateBps:       RateBpsFor(termDays),
		TermDays:      termDays,
		DueAt:         createdAt.AddDate(0, 0, int(termDays)),
		CreatedAt:     createdAt,
		PrincipalPaid: decimal.Zero,
		InterestPaid:  decimal.Zero,
		Active:        true,
		Purpose:       purpose,
	}

	id, err := l.store.CreateLoan(ctx, loan)
	if err != nil {
		return 0, err
	}

	l.publish(events.TopicLoanOriginated, map[string]any{
		"loan_id":   id,
		"borrower":  borrower,
		"principal": amount.String(),
		"rate_bps":  loan.RateBps,
		"term_days": termDays,
		"purpose":   purpose,
	})
	return id, nil
}

// RepayLoan applies a repayment, interest first and the remainder to
// principal. Paying more than the total owed is rejected rather than
// refunded. Funds move before the loan record changes.
func (l *Ledger) RepayLoan(ctx context.Context, loanID int64, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	loan, err := l.store.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	if !loan.Active {
		return ErrLoanNotActive
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	interestOutstanding := l.accruedInterest(loan, l.now())
	owed := loan.Outstanding().Add(interestOutstanding)
	if amount.GreaterThan(owed) {
		return ErrInvalidAmount
	}

	if err := l.token.Debit(ctx, loan.Borrower, l.treasury, l.treasury, amount); err != nil {
		if errors.Is(err, token.ErrInsufficientBalance) || errors.Is(err, token.ErrInsufficientAllowance) {
			return ErrInsufficientFunds
		}
		return fmt.Errorf("token debit failed: %w", err)
	}

	interestPortion := decimal.Min(amount, interestOutstanding)
	principalPortion := amount.Sub(interestPortion)

	loan.InterestPaid = loan.InterestPaid.Add(interestPortion)
	loan.PrincipalPaid = loan.PrincipalPaid.Add(principalPortion)

	settled := amount.Equal(owed)
	if settled {
		loan.Repaid = true
		loan.Active = false
	}

	if err := l.store.UpdateLoan(ctx, loan); err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}

	topic := events.TopicLoanRepaidPartial
	if settled {
		topic = events.TopicLoanRepaidFull
	}
	l.publish(topic, map[string]any{
		"loan_id":   loanID,
		"borrower":  loan.Borrower,
		"amount":    amount.String(),
		"interest":  interestPortion.String(),
		"principal": principalPortion.String(),
	})
	return nil
}

// CalculateTotalOwed returns outstanding principal plus accrued, unpaid
// interest as of now. Pure read.
func (l *Ledger) CalculateTotalOwed(ctx context.Context, loanID int64) (decimal.Decimal, error) {
	loan, err := l.store.GetLoan(ctx, loanID)
	if err != nil {
		return decimal.Zero, err
	}
	if !loan.Active {
		return decimal.Zero, nil
	}
	return loan.Outstanding().Add(l.accruedInterest(loan, l.now())), nil
}

// GetLoan returns a loan by id.
func (l *Ledger) GetLoan(ctx context.Context, id int64) (Loan, error) {
	return l.store.GetLoan(ctx, id)
}

// BorrowerLoans returns a borrower's loans in origination order.
func (l *Ledger) BorrowerLoans(ctx context.Context, borrower string) ([]Loan, error) {
	return l.store.ListLoansByBorrower(ctx, borrower)
}

// accruedInterest is the simple interest accrued on the outstanding principal
// since origination, net of interest already paid:
//
//	outstanding × rate × elapsed/term − interestPaid
//
// floored at zero.
func (l *Ledger) accruedInterest(loan Loan, at time.Time) decimal.Decimal {
	elapsed := at.Sub(loan.CreatedAt)
	if elapsed <= 0 {
		return decimal.Zero
	}

	term := time.Duration(loan.TermDays) * 24 * time.Hour
	accrued := loan.Outstanding().
		Mul(decimal.NewFromInt(loan.RateBps)).
		Div(decimal.NewFromInt(10000)).
		Mul(decimal.NewFromInt(int64(elapsed / time.Second))).
		Div(decimal.NewFromInt(int64(term / time.Second)))

	net := accrued.Sub(loan.InterestPaid)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

func (l *Ledger) loanCap(ctx context.Context) (decimal.Decimal, error) {
	revenue, err := l.revenue.TotalRevenue(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read revenue: %w", err)
	}
	cap := revenue.Div(decimal.NewFromInt(10))
	if cap.LessThan(loanCapFloor) {
		return loanCapFloor, nil
	}
	return cap, nil
}

func (l *Ledger) publish(topic string, payload map[string]any) {
	if l.publisher == nil {
		return
	}
	_ = l.publisher.Publish(topic, payload)
}
