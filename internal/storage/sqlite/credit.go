package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/aquapay/internal/credit"
)

func (s *Store) CreateLoan(ctx context.Context, l credit.Loan) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO loans (borrower, principal, rate_bps, term_days, due_at, created_at,
			principal_paid, interest_paid, active, repaid, purpose)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Borrower, l.Principal.String(), l.RateBps, l.TermDays, l.DueAt, l.CreatedAt,
		l.PrincipalPaid.String(), l.InterestPaid.String(), l.Active, l.Repaid, l.Purpose)
	if err != nil {
		return 0, fmt.Errorf("failed to insert loan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read loan id: %w", err)
	}
	return id, nil
}

func (s *Store) GetLoan(ctx context.Context, id int64) (credit.Loan, error) {
	return scanLoan(s.db.QueryRowContext(ctx, `
		SELECT id, borrower, principal, rate_bps, term_days, due_at, created_at,
			principal_paid, interest_paid, active, repaid, purpose
		FROM loans WHERE id = ?`, id))
}

func (s *Store) ListLoansByBorrower(ctx context.Context, borrower string) ([]credit.Loan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, borrower, principal, rate_bps, term_days, due_at, created_at,
			principal_paid, interest_paid, active, repaid, purpose
		FROM loans WHERE borrower = ? ORDER BY id`, borrower)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var out []credit.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) UpdateLoan(ctx context.Context, l credit.Loan) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE loans SET principal_paid = ?, interest_paid = ?, active = ?, repaid = ?
		WHERE id = ?`,
		l.PrincipalPaid.String(), l.InterestPaid.String(), l.Active, l.Repaid, l.ID)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return credit.ErrNotFound
	}
	return nil
}

func scanLoan(row rowScanner) (credit.Loan, error) {
	var (
		l                             credit.Loan
		principal, prinPaid, intPaid string
	)
	err := row.Scan(&l.ID, &l.Borrower, &principal, &l.RateBps, &l.TermDays, &l.DueAt,
		&l.CreatedAt, &prinPaid, &intPaid, &l.Active, &l.Repaid, &l.Purpose)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return credit.Loan{}, credit.ErrNotFound
		}
		return credit.Loan{}, fmt.Errorf("failed to scan loan: %w", err)
	}

	if l.Principal, err = parseAmount(principal); err != nil {
		return credit.Loan{}, err
	}
	if l.PrincipalPaid, err = parseAmount(prinPaid); err != nil {
		return credit.Loan{}, err
	}
	if l.InterestPaid, err = parseAmount(intPaid); err != nil {
		return credit.Loan{}, err
	}
	return l, nil
}

var _ credit.Store = (*Store)(nil)
