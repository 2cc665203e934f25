package token

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryToken is an in-process implementation of Transferer backed by plain
// balance and allowance tables. It stands in for the on-chain stablecoin in
// development and tests.
type MemoryToken struct {
	mu         sync.Mutex
	balances   map[string]decimal.Decimal
	allowances map[string]map[string]decimal.Decimal
}

func NewMemoryToken() *MemoryToken {
	return &MemoryToken{
		balances:   make(map[string]decimal.Decimal),
		allowances: make(map[string]map[string]decimal.Decimal),
	}
}

// Mint credits freshly issued funds to a holder. Test and faucet use only.
func (t *MemoryToken) Mint(holder string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[holder] = t.balance(holder).Add(amount)
}

func (t *MemoryToken) BalanceOf(ctx context.Context, holder string) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance(holder), nil
}

func (t *MemoryToken) Allowance(ctx context.Context, holder, spender string) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowance(holder, spender), nil
}

func (t *MemoryToken) Approve(ctx context.Context, holder, spender string, amount decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.allowances[holder]
	if !ok {
		m = make(map[string]decimal.Decimal)
		t.allowances[holder] = m
	}
	m[spender] = amount
	return nil
}

func (t *MemoryToken) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

func (t *MemoryToken) Debit(ctx context.Context, holder, spender, to string, amount decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.allowance(holder, spender).LessThan(amount) {
		return ErrInsufficientAllowance
	}
	if err := t.move(holder, to, amount); err != nil {
		return err
	}
	t.allowances[holder][spender] = t.allowance(holder, spender).Sub(amount)
	return nil
}

// callers hold t.mu
func (t *MemoryToken) balance(holder string) decimal.Decimal {
	if b, ok := t.balances[holder]; ok {
		return b
	}
	return decimal.Zero
}

func (t *MemoryToken) allowance(holder, spender string) decimal.Decimal {
	if m, ok := t.allowances[holder]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return decimal.Zero
}

func (t *MemoryToken) move(from, to string, amount decimal.Decimal) error {
	if t.balance(from).LessThan(amount) {
		return ErrInsufficientBalance
	}
	t.balances[from] = t.balance(from).Sub(amount)
	t.balances[to] = t.balance(to).Add(amount)
	return nil
}

var _ Transferer = (*MemoryToken)(nil)
