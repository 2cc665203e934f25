package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/aquapay/internal/savings"
)

func (s *Store) CreateDeposit(ctx context.Context, d savings.Deposit) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO deposits (depositor, amount, created_at, active, interest_paid)
		VALUES (?, ?, ?, ?, '0')`,
		d.Depositor, d.Amount.String(), d.CreatedAt, d.Active)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deposit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read deposit id: %w", err)
	}
	return id, nil
}

func (s *Store) GetDeposit(ctx context.Context, id int64) (savings.Deposit, error) {
	return scanDeposit(s.db.QueryRowContext(ctx, `
		SELECT id, depositor, amount, created_at, active, withdrawn_at, interest_paid
		FROM deposits WHERE id = ?`, id))
}

func (s *Store) ListDepositsByOwner(ctx context.Context, depositor string) ([]savings.Deposit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, depositor, amount, created_at, active, withdrawn_at, interest_paid
		FROM deposits WHERE depositor = ? ORDER BY id`, depositor)
	if err != nil {
		return nil, fmt.Errorf("failed to query deposits: %w", err)
	}
	defer rows.Close()

	var out []savings.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CloseDeposit(ctx context.Context, id int64, withdrawnAt time.Time, interest decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var active bool
	err = tx.QueryRowContext(ctx, `SELECT active FROM deposits WHERE id = ?`, id).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return savings.ErrNotFound
		}
		return fmt.Errorf("failed to query deposit: %w", err)
	}
	if !active {
		return savings.ErrWithdrawalNotAllowed
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE deposits SET active = 0, withdrawn_at = ?, interest_paid = ? WHERE id = ?`,
		withdrawnAt, interest.String(), id); err != nil {
		return fmt.Errorf("failed to close deposit: %w", err)
	}
	return tx.Commit()
}

func scanDeposit(row rowScanner) (savings.Deposit, error) {
	var (
		d           savings.Deposit
		amount      string
		intPaid     string
		withdrawnAt sql.NullTime
	)
	err := row.Scan(&d.ID, &d.Depositor, &amount, &d.CreatedAt, &d.Active, &withdrawnAt, &intPaid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return savings.Deposit{}, savings.ErrNotFound
		}
		return savings.Deposit{}, fmt.Errorf("failed to scan deposit: %w", err)
	}

	if d.Amount, err = parseAmount(amount); err != nil {
		return savings.Deposit{}, err
	}
	if d.InterestPaid, err = parseAmount(intPaid); err != nil {
		return savings.Deposit{}, err
	}
	if withdrawnAt.Valid {
		d.WithdrawnAt = withdrawnAt.Time
	}
	return d, nil
}

var _ savings.Store = (*Store)(nil)
