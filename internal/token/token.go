package token

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when a holder does not cover the amount.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientAllowance is returned when a spender was not pre-authorized
	// for the amount.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Transferer is the value-transfer collaborator the ledgers settle against.
// Debit is the approve-then-transfer two-step collapsed into one logical call:
// it checks the spender's allowance and moves funds from the holder to the
// recipient, or fails without moving anything.
type Transferer interface {
	BalanceOf(ctx context.Context, holder string) (decimal.Decimal, error)
	Allowance(ctx context.Context, holder, spender string) (decimal.Decimal, error)
	Approve(ctx context.Context, holder, spender string, amount decimal.Decimal) error
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error
	Debit(ctx context.Context, holder, spender, to string, amount decimal.Decimal) error
}

// Minter is implemented by tokens that can issue new funds, such as the
// in-process development token.
type Minter interface {
	Mint(holder string, amount decimal.Decimal)
}
