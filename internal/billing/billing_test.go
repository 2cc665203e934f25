package billing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/example/aquapay/internal/access"
	"github.com/example/aquapay/internal/events"
)

type memStore struct {
	bills  map[int64]Bill
	order  []int64
	nextID int64

	failCreate bool
}

func newMemStore() *memStore {
	return &memStore{bills: map[int64]Bill{}, nextID: 1}
}

func (s *memStore) CreateBills(_ context.Context, bills []Bill) ([]int64, error) {
	if s.failCreate {
		return nil, context.DeadlineExceeded
	}
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

func (s *memStore) GetBill(_ context.Context, id int64) (Bill, error) {
	b, ok := s.bills[id]
	if !ok {
		return Bill{}, ErrNotFound
	}
	return b, nil
}

func (s *memStore) ListBillsByAccount(_ context.Context, account string) ([]Bill, error) {
	var out []Bill
	for _, id := range s.order {
		if s.bills[id].Account == account {
			out = append(out, s.bills[id])
		}
	}
	return out, nil
}

func (s *memStore) MarkBillPaid(_ context.Context, id int64, paidAt time.Time) error {
	b, ok := s.bills[id]
	if !ok {
		return ErrNotFound
	}
	if b.Paid {
		return ErrAlreadyPaid
	}
	b.Paid = true
	b.PaidAt = paidAt
	s.bills[id] = b
	return nil
}

func (s *memStore) CountBills(_ context.Context) (int64, int64, error) {
	var unpaid int64
	for _, b := range s.bills {
		if !b.Paid {
			unpaid++
		}
	}
	return int64(len(s.bills)), unpaid, nil
}

type fixedPrice struct{ price decimal.Decimal }

func (p fixedPrice) CurrentPrice(_ context.Context) (decimal.Decimal, error) {
	return p.price, nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(price string) (*Ledger, *memStore, *events.MemoryPublisher) {
	store := newMemStore()
	pub := &events.MemoryPublisher{}
	l := NewLedger(store, fixedPrice{decimal.RequireFromString(price)}, access.NewStaticList("billing-office"), pub)
	l.now = func() time.Time { return testNow }
	return l, store, pub
}

func TestCreateBill(t *testing.T) {
	ctx := context.Background()
	l, _, pub := newTestLedger("0.75")

	due := testNow.AddDate(0, 1, 0)
	id, err := l.CreateBill(ctx, "billing-office", "casa123", 50, due, "2025-06", "")
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	bill, err := l.GetBill(ctx, id)
	require.NoError(t, err)
	// 50 units at 0.75 per unit.
	require.True(t, bill.Amount.Equal(decimal.RequireFromString("37.5")))
	require.False(t, bill.Paid)
	require.Equal(t, due, bill.DueAt)

	require.Len(t, pub.ByTopic(events.TopicBillCreated), 1)
}

func TestCreateBillValidation(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger("1")
	due := testNow.AddDate(0, 1, 0)

	_, err := l.CreateBill(ctx, "0xvecino", "casa123", 50, due, "", "")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = l.CreateBill(ctx, "billing-office", "casa123", 0, due, "", "")
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = l.CreateBill(ctx, "billing-office", "", 50, due, "", "")
	require.ErrorIs(t, err, ErrInvalidAmount)

	// Due time must be strictly in the future.
	_, err = l.CreateBill(ctx, "billing-office", "casa123", 50, testNow, "", "")
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreateBillsBatch(t *testing.T) {
	ctx := context.Background()
	l, _, pub := newTestLedger("2")
	due := testNow.AddDate(0, 1, 0)

	ids, err := l.CreateBillsBatch(ctx, "billing-office",
		[]string{"casa1", "casa2", "casa3"},
		[]int64{10, 20, 30},
		due, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, ids)

	b2, err := l.GetBill(ctx, 2)
	require.NoError(t, err)
	require.True(t, b2.Amount.Equal(decimal.NewFromInt(40)))

	require.Len(t, pub.ByTopic(events.TopicBillCreated), 3)
}

func TestCreateBillsBatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l, store, _ := newTestLedger("2")
	due := testNow.AddDate(0, 1, 0)

	// One bad consumption poisons the whole batch.
	_, err := l.CreateBillsBatch(ctx, "billing-office",
		[]string{"casa1", "casa2"},
		[]int64{10, -5},
		due, nil, nil)
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.Empty(t, store.bills)

	_, err = l.CreateBillsBatch(ctx, "billing-office",
		[]string{"casa1", "casa2"},
		[]int64{10},
		due, nil, nil)
	require.ErrorIs(t, err, ErrBatchMismatch)
	require.Empty(t, store.bills)

	_, err = l.CreateBillsBatch(ctx, "billing-office", nil, nil, due, nil, nil)
	require.ErrorIs(t, err, ErrBatchMismatch)
}

func TestUnpaidBills(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger("1")
	due := testNow.AddDate(0, 1, 0)

	id1, err := l.CreateBill(ctx, "billing-office", "casa123", 10, due, "", "")
	require.NoError(t, err)
	_, err = l.CreateBill(ctx, "billing-office", "casa123", 20, due, "", "")
	require.NoError(t, err)

	require.NoError(t, l.MarkPaid(ctx, id1, testNow))

	unpaid, err := l.UnpaidBills(ctx, "casa123")
	require.NoError(t, err)
	require.Len(t, unpaid, 1)
	require.Equal(t, int64(20), unpaid[0].Consumption)

	all, err := l.UserBills(ctx, "casa123")
	require.NoError(t, err)
	require.Len(t, all, 2)

	total, open, err := l.Totals(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Equal(t, int64(1), open)
}

func TestMarkPaidTwice(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger("1")

	id, err := l.CreateBill(ctx, "billing-office", "casa123", 10, testNow.AddDate(0, 1, 0), "", "")
	require.NoError(t, err)

	require.NoError(t, l.MarkPaid(ctx, id, testNow))
	require.ErrorIs(t, l.MarkPaid(ctx, id, testNow), ErrAlreadyPaid)
	require.ErrorIs(t, l.MarkPaid(ctx, 999, testNow), ErrNotFound)
}

func TestFrozenAmount(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	price := &mutablePrice{price: decimal.NewFromInt(1)}
	l := NewLedger(store, price, access.NewStaticList("billing-office"), nil)
	l.now = func() time.Time { return testNow }

	id, err := l.CreateBill(ctx, "billing-office", "casa123", 10, testNow.AddDate(0, 1, 0), "", "")
	require.NoError(t, err)

	// A later tariff change must not reprice the issued bill.
	price.price = decimal.NewFromInt(99)

	bill, err := l.GetBill(ctx, id)
	require.NoError(t, err)
	require.True(t, bill.Amount.Equal(decimal.NewFromInt(10)))
}

type mutablePrice struct{ price decimal.Decimal }

func (p *mutablePrice) CurrentPrice(_ context.Context) (decimal.Decimal, error) {
	return p.price, nil
}
