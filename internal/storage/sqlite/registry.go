package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/aquapay/internal/registry"
)

func (s *Store) CreateAccount(ctx context.Context, a registry.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// The UNIQUE constraints back this up; the explicit check keeps the
	// duplicate error driver-independent.
	var taken bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE identity = ? OR name = ?)`,
		a.Identity, a.Name).Scan(&taken)
	if err != nil {
		return fmt.Errorf("failed to check uniqueness: %w", err)
	}
	if taken {
		return registry.ErrDuplicateIdentity
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (identity, name, meter_id, active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.Identity, a.Name, a.MeterID, a.Active, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	return tx.Commit()
}

func (s *Store) GetAccount(ctx context.Context, identity string) (registry.Account, error) {
	var a registry.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT identity, name, meter_id, active, created_at
		FROM accounts WHERE identity = ?`, identity).
		Scan(&a.Identity, &a.Name, &a.MeterID, &a.Active, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Account{}, registry.ErrNotFound
		}
		return registry.Account{}, fmt.Errorf("failed to query account: %w", err)
	}
	return a, nil
}

func (s *Store) SetAccountActive(ctx context.Context, identity string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET active = ? WHERE identity = ?`, active, identity)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]registry.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, name, meter_id, active, created_at
		FROM accounts ORDER BY created_at, identity`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []registry.Account
	for rows.Next() {
		var a registry.Account
		if err := rows.Scan(&a.Identity, &a.Name, &a.MeterID, &a.Active, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

var _ registry.Store = (*Store)(nil)
