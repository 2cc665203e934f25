package sqlite

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/example/aquapay/internal/payments"
)

func (s *Store) RecordPayment(ctx context.Context, p payments.Payment) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO payments (payer, amount, bill_id, created_at, ref, external)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Payer, p.Amount.String(), p.BillID, p.CreatedAt, p.Ref, p.External)
	if err != nil {
		return 0, fmt.Errorf("failed to insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read payment id: %w", err)
	}

	// Revenue moves in the same transaction as the payment row.
	var rawTotal string
	if err := tx.QueryRowContext(ctx, `SELECT total FROM revenue WHERE id = 1`).Scan(&rawTotal); err != nil {
		return 0, fmt.Errorf("failed to query revenue: %w", err)
	}
	total, err := parseAmount(rawTotal)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE revenue SET total = ? WHERE id = 1`, total.Add(p.Amount).String()); err != nil {
		return 0, fmt.Errorf("failed to update revenue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit payment: %w", err)
	}
	return id, nil
}

func (s *Store) ListPaymentsByPayer(ctx context.Context, payer string) ([]payments.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payer, amount, bill_id, created_at, ref, external
		FROM payments WHERE payer = ? ORDER BY id`, payer)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []payments.Payment
	for rows.Next() {
		var (
			p   payments.Payment
			raw string
		)
		if err := rows.Scan(&p.ID, &p.Payer, &raw, &p.BillID, &p.CreatedAt, &p.Ref, &p.External); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if p.Amount, err = parseAmount(raw); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) TotalRevenue(ctx context.Context) (decimal.Decimal, error) {
	var raw string
	if err := s.db.QueryRowContext(ctx, `SELECT total FROM revenue WHERE id = 1`).Scan(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("failed to query revenue: %w", err)
	}
	return parseAmount(raw)
}

var _ payments.Store = (*Store)(nil)
