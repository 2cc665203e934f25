package payments

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/example/aquapay/internal/access"
	"github.com/example/aquapay/internal/billing"
	"github.com/example/aquapay/internal/events"
	"github.com/example/aquapay/internal/token"
)

const treasury = "utility.treasury"

type memStore struct {
	payments map[int64]Payment
	order    []int64
	nextID   int64
	revenue  decimal.Decimal
}

func newMemStore() *memStore {
	return &memStore{payments: map[int64]Payment{}, nextID: 1, revenue: decimal.Zero}
}

func (s *memStore) RecordPayment(_ context.Context, p Payment) (int64, error) {
	p.ID = s.nextID
	s.nextID++
	s.payments[p.ID] = p
	s.order = append(s.order, p.ID)
	s.revenue = s.revenue.Add(p.Amount)
	return p.ID, nil
}

func (s *memStore) ListPaymentsByPayer(_ context.Context, payer string) ([]Payment, error) {
	var out []Payment
	for _, id := range s.order {
		if s.payments[id].Payer == payer {
			out = append(out, s.payments[id])
		}
	}
	return out, nil
}

func (s *memStore) TotalRevenue(_ context.Context) (decimal.Decimal, error) {
	return s.revenue, nil
}

// fakeBills tracks MarkPaid calls without a full billing ledger behind it.
type fakeBills struct {
	bills map[int64]billing.Bill
	paid  map[int64]bool
}

func newFakeBills() *fakeBills {
	return &fakeBills{bills: map[int64]billing.Bill{}, paid: map[int64]bool{}}
}

func (f *fakeBills) add(id int64, account string, amount string) {
	f.bills[id] = billing.Bill{ID: id, Account: account, Amount: decimal.RequireFromString(amount)}
}

func (f *fakeBills) GetBill(_ context.Context, id int64) (billing.Bill, error) {
	b, ok := f.bills[id]
	if !ok {
		return billing.Bill{}, billing.ErrNotFound
	}
	b.Paid = f.paid[id]
	return b, nil
}

func (f *fakeBills) MarkPaid(_ context.Context, id int64, _ time.Time) error {
	if _, ok := f.bills[id]; !ok {
		return billing.ErrNotFound
	}
	if f.paid[id] {
		return billing.ErrAlreadyPaid
	}
	f.paid[id] = true
	return nil
}

type fixture struct {
	router *Router
	store  *memStore
	bills  *fakeBills
	token  *token.MemoryToken
	pub    *events.MemoryPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	bills := newFakeBills()
	tok := token.NewMemoryToken()
	pub := &events.MemoryPublisher{}

	r := NewRouter(store, tok, treasury, access.NewStaticList("cash-desk"), pub)
	r.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, r.Wire(bills))

	return &fixture{router: r, store: store, bills: bills, token: tok, pub: pub}
}

// fund mints a balance and pre-approves the treasury for it.
func (f *fixture) fund(t *testing.T, holder, amount string) {
	t.Helper()
	a := decimal.RequireFromString(amount)
	f.token.Mint(holder, a)
	require.NoError(t, f.token.Approve(context.Background(), holder, treasury, a))
}

func TestPayBill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bills.add(1, "casa123", "37.50")
	f.fund(t, "casa123", "100")

	id, err := f.router.Pay(ctx, "casa123", 1, decimal.RequireFromString("37.50"), "june")
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	require.True(t, f.bills.paid[1])

	balance, err := f.token.BalanceOf(ctx, "casa123")
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("62.50")))

	treasuryBalance, err := f.token.BalanceOf(ctx, treasury)
	require.NoError(t, err)
	require.True(t, treasuryBalance.Equal(decimal.RequireFromString("37.50")))

	revenue, err := f.router.TotalRevenue(ctx)
	require.NoError(t, err)
	require.True(t, revenue.Equal(decimal.RequireFromString("37.50")))

	require.Len(t, f.pub.ByTopic(events.TopicPaymentReceived), 1)
}

func TestPayExactAmountOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bills.add(1, "casa123", "37.50")
	f.fund(t, "casa123", "100")

	// Underpayment.
	_, err := f.router.Pay(ctx, "casa123", 1, decimal.NewFromInt(30), "")
	require.ErrorIs(t, err, ErrInvalidAmount)

	// Overpayment.
	_, err = f.router.Pay(ctx, "casa123", 1, decimal.NewFromInt(40), "")
	require.ErrorIs(t, err, ErrInvalidAmount)

	// Nothing moved, bill still open.
	require.False(t, f.bills.paid[1])
	balance, _ := f.token.BalanceOf(ctx, "casa123")
	require.True(t, balance.Equal(decimal.NewFromInt(100)))
}

func TestPayInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bills.add(1, "casa123", "37.50")
	f.fund(t, "casa123", "10")

	_, err := f.router.Pay(ctx, "casa123", 1, decimal.RequireFromString("37.50"), "")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Debit failed before any ledger write: bill open, no payment, no revenue.
	require.False(t, f.bills.paid[1])
	require.Empty(t, f.store.payments)
	revenue, _ := f.router.TotalRevenue(ctx)
	require.True(t, revenue.IsZero())
}

func TestPayMissingAllowance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bills.add(1, "casa123", "20")
	f.token.Mint("casa123", decimal.NewFromInt(100)) // balance but no approval

	_, err := f.router.Pay(ctx, "casa123", 1, decimal.NewFromInt(20), "")
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestPayAlreadyPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bills.add(1, "casa123", "20")
	f.fund(t, "casa123", "100")

	_, err := f.router.Pay(ctx, "casa123", 1, decimal.NewFromInt(20), "")
	require.NoError(t, err)

	_, err = f.router.Pay(ctx, "casa123", 1, decimal.NewFromInt(20), "")
	require.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestPayUnknownBill(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "casa123", "100")

	_, err := f.router.Pay(context.Background(), "casa123", 99, decimal.NewFromInt(20), "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStandalonePayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "casa123", "100")

	// BillID zero records a payment with no bill linkage.
	id, err := f.router.Pay(ctx, "casa123", 0, decimal.NewFromInt(15), "donation")
	require.NoError(t, err)

	list, err := f.router.UserPayments(ctx, "casa123")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, id, list[0].ID)
	require.Zero(t, list[0].BillID)

	revenue, err := f.router.TotalRevenue(ctx)
	require.NoError(t, err)
	require.True(t, revenue.Equal(decimal.NewFromInt(15)))
}

func TestRecordExternal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bills.add(1, "casa123", "37.50")

	// Only privileged callers may book external settlements.
	_, err := f.router.RecordExternal(ctx, "casa123", "casa123", 1, decimal.RequireFromString("37.50"), "cash")
	require.ErrorIs(t, err, ErrUnauthorized)

	id, err := f.router.RecordExternal(ctx, "cash-desk", "casa123", 1, decimal.RequireFromString("37.50"), "cash")
	require.NoError(t, err)
	require.True(t, f.bills.paid[1])

	list, err := f.router.UserPayments(ctx, "casa123")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, id, list[0].ID)
	require.True(t, list[0].External)

	// No token movement for external payments.
	balance, _ := f.token.BalanceOf(ctx, treasury)
	require.True(t, balance.IsZero())

	// Revenue still counts it.
	revenue, _ := f.router.TotalRevenue(ctx)
	require.True(t, revenue.Equal(decimal.RequireFromString("37.50")))
}

func TestNotWired(t *testing.T) {
	r := NewRouter(newMemStore(), token.NewMemoryToken(), treasury, access.NewStaticList(), nil)

	_, err := r.Pay(context.Background(), "casa123", 0, decimal.NewFromInt(1), "")
	require.ErrorIs(t, err, ErrNotWired)

	require.NoError(t, r.Wire(newFakeBills()))
	require.ErrorIs(t, r.Wire(newFakeBills()), ErrAlreadyWired)
}
