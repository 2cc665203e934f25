package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/aquapay/internal/billing"
)

func (s *Store) CreateBills(ctx context.Context, bills []billing.Bill) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(bills))
	for _, b := range bills {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO bills (account, consumption, amount, due_at, created_at, paid, ref, metadata)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			b.Account, b.Consumption, b.Amount.String(), b.DueAt, b.CreatedAt, b.Ref, b.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to insert bill: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read bill id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bills: %w", err)
	}
	return ids, nil
}

func (s *Store) GetBill(ctx context.Context, id int64) (billing.Bill, error) {
	return scanBill(s.db.QueryRowContext(ctx, `
		SELECT id, account, consumption, amount, due_at, created_at, paid, paid_at, ref, metadata
		FROM bills WHERE id = ?`, id))
}

func (s *Store) ListBillsByAccount(ctx context.Context, account string) ([]billing.Bill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account, consumption, amount, due_at, created_at, paid, paid_at, ref, metadata
		FROM bills WHERE account = ? ORDER BY id`, account)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var out []billing.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) MarkBillPaid(ctx context.Context, id int64, paidAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var paid bool
	err = tx.QueryRowContext(ctx, `SELECT paid FROM bills WHERE id = ?`, id).Scan(&paid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return billing.ErrNotFound
		}
		return fmt.Errorf("failed to query bill: %w", err)
	}
	if paid {
		return billing.ErrAlreadyPaid
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bills SET paid = 1, paid_at = ? WHERE id = ?`, paidAt, id); err != nil {
		return fmt.Errorf("failed to mark bill paid: %w", err)
	}
	return tx.Commit()
}

func (s *Store) CountBills(ctx context.Context) (total, unpaid int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE paid = 0) FROM bills`).Scan(&total, &unpaid)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count bills: %w", err)
	}
	return total, unpaid, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (billing.Bill, error) {
	var (
		b      billing.Bill
		raw    string
		paidAt sql.NullTime
	)
	err := row.Scan(&b.ID, &b.Account, &b.Consumption, &raw, &b.DueAt, &b.CreatedAt, &b.Paid, &paidAt, &b.Ref, &b.Metadata)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return billing.Bill{}, billing.ErrNotFound
		}
		return billing.Bill{}, fmt.Errorf("failed to scan bill: %w", err)
	}

	b.Amount, err = parseAmount(raw)
	if err != nil {
		return billing.Bill{}, err
	}
	if paidAt.Valid {
		b.PaidAt = paidAt.Time
	}
	return b, nil
}

var _ billing.Store = (*Store)(nil)
