// Package postgres persists the ledger entity tables in PostgreSQL through a
// pgx connection pool. Amounts travel as decimal strings, mirroring the
// sqlite backend.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/example/aquapay/internal/billing"
	"github.com/example/aquapay/internal/credit"
	"github.com/example/aquapay/internal/payments"
	"github.com/example/aquapay/internal/pricing"
	"github.com/example/aquapay/internal/registry"
	"github.com/example/aquapay/internal/savings"
)

// Store implements every ledger store interface over one pool.
type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	identity   TEXT PRIMARY KEY,
	name       TEXT UNIQUE NOT NULL,
	meter_id   BIGINT NOT NULL,
	active     BOOLEAN NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS price_config (
	id             INT PRIMARY KEY CHECK (id = 1),
	price_per_unit TEXT NOT NULL,
	updated_at     TIMESTAMPTZ,
	updated_by     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS bills (
	id          BIGSERIAL PRIMARY KEY,
	account     TEXT NOT NULL,
	consumption BIGINT NOT NULL,
	amount      TEXT NOT NULL,
	due_at      TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	paid        BOOLEAN NOT NULL DEFAULT FALSE,
	paid_at     TIMESTAMPTZ,
	ref         TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_bills_account ON bills(account);

CREATE TABLE IF NOT EXISTS payments (
	id         BIGSERIAL PRIMARY KEY,
	payer      TEXT NOT NULL,
	amount     TEXT NOT NULL,
	bill_id    BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	ref        TEXT NOT NULL DEFAULT '',
	external   BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_payments_payer ON payments(payer);

CREATE TABLE IF NOT EXISTS revenue (
	id    INT PRIMARY KEY CHECK (id = 1),
	total TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS loans (
	id             BIGSERIAL PRIMARY KEY,
	borrower       TEXT NOT NULL,
	principal      TEXT NOT NULL,
	rate_bps       BIGINT NOT NULL,
	term_days      BIGINT NOT NULL,
	due_at         TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	principal_paid TEXT NOT NULL,
	interest_paid  TEXT NOT NULL,
	active         BOOLEAN NOT NULL,
	repaid         BOOLEAN NOT NULL,
	purpose        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_loans_borrower ON loans(borrower);

CREATE TABLE IF NOT EXISTS deposits (
	id            BIGSERIAL PRIMARY KEY,
	depositor     TEXT NOT NULL,
	amount        TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	active        BOOLEAN NOT NULL,
	withdrawn_at  TIMESTAMPTZ,
	interest_paid TEXT NOT NULL DEFAULT '0'
);
CREATE INDEX IF NOT EXISTS idx_deposits_depositor ON deposits(depositor);

CREATE TABLE IF NOT EXISTS api_clients (
	client_id   TEXT PRIMARY KEY,
	secret_hash TEXT NOT NULL,
	scopes      TEXT[] NOT NULL DEFAULT '{}'
);

INSERT INTO price_config (id, price_per_unit) VALUES (1, '0') ON CONFLICT DO NOTHING;
INSERT INTO revenue (id, total) VALUES (1, '0') ON CONFLICT DO NOTHING;
`

// Migrate creates the entity tables and seeds the singleton rows.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt amount %q: %w", raw, err)
	}
	return d, nil
}

// --- registry ---

func (s *Store) CreateAccount(ctx context.Context, a registry.Account) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var taken bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE identity = $1 OR name = $2)`,
		a.Identity, a.Name).Scan(&taken)
	if err != nil {
		return fmt.Errorf("failed to check uniqueness: %w", err)
	}
	if taken {
		return registry.ErrDuplicateIdentity
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (identity, name, meter_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.Identity, a.Name, a.MeterID, a.Active, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) GetAccount(ctx context.Context, identity string) (registry.Account, error) {
	var a registry.Account
	err := s.Pool.QueryRow(ctx, `
		SELECT identity, name, meter_id, active, created_at
		FROM accounts WHERE identity = $1`, identity).
		Scan(&a.Identity, &a.Name, &a.MeterID, &a.Active, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registry.Account{}, registry.ErrNotFound
		}
		return registry.Account{}, fmt.Errorf("failed to query account: %w", err)
	}
	return a, nil
}

func (s *Store) SetAccountActive(ctx context.Context, identity string, active bool) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE accounts SET active = $1 WHERE identity = $2`, active, identity)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]registry.Account, error) {
	rows, err := s.Pool.Query(ctx, `
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
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

// --- pricing ---

func (s *Store) GetPrice(ctx context.Context) (pricing.Config, error) {
	var (
		cfg       pricing.Config
		raw       string
		updatedAt *time.Time
	)
	err := s.Pool.QueryRow(ctx,
		`SELECT price_per_unit, updated_at, updated_by FROM price_config WHERE id = 1`).
		Scan(&raw, &updatedAt, &cfg.UpdatedBy)
	if err != nil {
		return pricing.Config{}, fmt.Errorf("failed to query price: %w", err)
	}

	cfg.PricePerUnit, err = parseAmount(raw)
	if err != nil {
		return pricing.Config{}, err
	}
	if updatedAt != nil {
		cfg.UpdatedAt = *updatedAt
	}
	return cfg, nil
}

func (s *Store) SetPrice(ctx context.Context, cfg pricing.Config) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE price_config SET price_per_unit = $1, updated_at = $2, updated_by = $3 WHERE id = 1`,
		cfg.PricePerUnit.String(), cfg.UpdatedAt, cfg.UpdatedBy)
	if err != nil {
		return fmt.Errorf("failed to update price: %w", err)
	}
	return nil
}

// --- billing ---

func (s *Store) CreateBills(ctx context.Context, bills []billing.Bill) ([]int64, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]int64, 0, len(bills))
	for _, b := range bills {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO bills (account, consumption, amount, due_at, created_at, ref, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			b.Account, b.Consumption, b.Amount.String(), b.DueAt, b.CreatedAt, b.Ref, b.Metadata).
			Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to insert bill: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit bills: %w", err)
	}
	return ids, nil
}

func (s *Store) GetBill(ctx context.Context, id int64) (billing.Bill, error) {
	return scanBill(s.Pool.QueryRow(ctx, `
		SELECT id, account, consumption, amount, due_at, created_at, paid, paid_at, ref, metadata
		FROM bills WHERE id = $1`, id))
}

func (s *Store) ListBillsByAccount(ctx context.Context, account string) ([]billing.Bill, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, account, consumption, amount, due_at, created_at, paid, paid_at, ref, metadata
		FROM bills WHERE account = $1 ORDER BY id`, account)
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
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var paid bool
	err = tx.QueryRow(ctx, `SELECT paid FROM bills WHERE id = $1 FOR UPDATE`, id).Scan(&paid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return billing.ErrNotFound
		}
		return fmt.Errorf("failed to query bill: %w", err)
	}
	if paid {
		return billing.ErrAlreadyPaid
	}

	if _, err := tx.Exec(ctx,
		`UPDATE bills SET paid = TRUE, paid_at = $1 WHERE id = $2`, paidAt, id); err != nil {
		return fmt.Errorf("failed to mark bill paid: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) CountBills(ctx context.Context) (total, unpaid int64, err error) {
	err = s.Pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT paid) FROM bills`).Scan(&total, &unpaid)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count bills: %w", err)
	}
	return total, unpaid, nil
}

// --- payments ---

func (s *Store) RecordPayment(ctx context.Context, p payments.Payment) (int64, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO payments (payer, amount, bill_id, created_at, ref, external)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		p.Payer, p.Amount.String(), p.BillID, p.CreatedAt, p.Ref, p.External).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert payment: %w", err)
	}

	var rawTotal string
	if err := tx.QueryRow(ctx, `SELECT total FROM revenue WHERE id = 1 FOR UPDATE`).Scan(&rawTotal); err != nil {
		return 0, fmt.Errorf("failed to query revenue: %w", err)
	}
	total, err := parseAmount(rawTotal)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE revenue SET total = $1 WHERE id = 1`, total.Add(p.Amount).String()); err != nil {
		return 0, fmt.Errorf("failed to update revenue: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit payment: %w", err)
	}
	return id, nil
}

func (s *Store) ListPaymentsByPayer(ctx context.Context, payer string) ([]payments.Payment, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, payer, amount, bill_id, created_at, ref, external
		FROM payments WHERE payer = $1 ORDER BY id`, payer)
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
	if err := s.Pool.QueryRow(ctx, `SELECT total FROM revenue WHERE id = 1`).Scan(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("failed to query revenue: %w", err)
	}
	return parseAmount(raw)
}

// --- credit ---

func (s *Store) CreateLoan(ctx context.Context, l credit.Loan) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO loans (borrower, principal, rate_bps, term_days, due_at, created_at,
			principal_paid, interest_paid, active, repaid, purpose)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		l.Borrower, l.Principal.String(), l.RateBps, l.TermDays, l.DueAt, l.CreatedAt,
		l.PrincipalPaid.String(), l.InterestPaid.String(), l.Active, l.Repaid, l.Purpose).
		Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert loan: %w", err)
	}
	return id, nil
}

func (s *Store) GetLoan(ctx context.Context, id int64) (credit.Loan, error) {
	return scanLoan(s.Pool.QueryRow(ctx, `
		SELECT id, borrower, principal, rate_bps, term_days, due_at, created_at,
			principal_paid, interest_paid, active, repaid, purpose
		FROM loans WHERE id = $1`, id))
}

func (s *Store) ListLoansByBorrower(ctx context.Context, borrower string) ([]credit.Loan, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, borrower, principal, rate_bps, term_days, due_at, created_at,
			principal_paid, interest_paid, active, repaid, purpose
		FROM loans WHERE borrower = $1 ORDER BY id`, borrower)
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
	tag, err := s.Pool.Exec(ctx, `
		UPDATE loans SET principal_paid = $1, interest_paid = $2, active = $3, repaid = $4
		WHERE id = $5`,
		l.PrincipalPaid.String(), l.InterestPaid.String(), l.Active, l.Repaid, l.ID)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return credit.ErrNotFound
	}
	return nil
}

// --- savings ---

func (s *Store) CreateDeposit(ctx context.Context, d savings.Deposit) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO deposits (depositor, amount, created_at, active)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		d.Depositor, d.Amount.String(), d.CreatedAt, d.Active).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deposit: %w", err)
	}
	return id, nil
}

func (s *Store) GetDeposit(ctx context.Context, id int64) (savings.Deposit, error) {
	return scanDeposit(s.Pool.QueryRow(ctx, `
		SELECT id, depositor, amount, created_at, active, withdrawn_at, interest_paid
		FROM deposits WHERE id = $1`, id))
}

func (s *Store) ListDepositsByOwner(ctx context.Context, depositor string) ([]savings.Deposit, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, depositor, amount, created_at, active, withdrawn_at, interest_paid
		FROM deposits WHERE depositor = $1 ORDER BY id`, depositor)
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
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var active bool
	err = tx.QueryRow(ctx, `SELECT active FROM deposits WHERE id = $1 FOR UPDATE`, id).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return savings.ErrNotFound
		}
		return fmt.Errorf("failed to query deposit: %w", err)
	}
	if !active {
		return savings.ErrWithdrawalNotAllowed
	}

	if _, err := tx.Exec(ctx,
		`UPDATE deposits SET active = FALSE, withdrawn_at = $1, interest_paid = $2 WHERE id = $3`,
		withdrawnAt, interest.String(), id); err != nil {
		return fmt.Errorf("failed to close deposit: %w", err)
	}
	return tx.Commit(ctx)
}

// --- row scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (billing.Bill, error) {
	var (
		b      billing.Bill
		raw    string
		paidAt *time.Time
	)
	err := row.Scan(&b.ID, &b.Account, &b.Consumption, &raw, &b.DueAt, &b.CreatedAt, &b.Paid, &paidAt, &b.Ref, &b.Metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return billing.Bill{}, billing.ErrNotFound
		}
		return billing.Bill{}, fmt.Errorf("failed to scan bill: %w", err)
	}

	b.Amount, err = parseAmount(raw)
	if err != nil {
		return billing.Bill{}, err
	}
	if paidAt != nil {
		b.PaidAt = *paidAt
	}
	return b, nil
}

func scanLoan(row rowScanner) (credit.Loan, error) {
	var (
		l                            credit.Loan
		principal, prinPaid, intPaid string
	)
	err := row.Scan(&l.ID, &l.Borrower, &principal, &l.RateBps, &l.TermDays, &l.DueAt,
		&l.CreatedAt, &prinPaid, &intPaid, &l.Active, &l.Repaid, &l.Purpose)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

func scanDeposit(row rowScanner) (savings.Deposit, error) {
	var (
		d           savings.Deposit
		amount      string
		intPaid     string
		withdrawnAt *time.Time
	)
	err := row.Scan(&d.ID, &d.Depositor, &amount, &d.CreatedAt, &d.Active, &withdrawnAt, &intPaid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
	if withdrawnAt != nil {
		d.WithdrawnAt = *withdrawnAt
	}
	return d, nil
}

var (
	_ registry.Store = (*Store)(nil)
	_ pricing.Store  = (*Store)(nil)
	_ billing.Store  = (*Store)(nil)
	_ payments.Store = (*Store)(nil)
	_ credit.Store   = (*Store)(nil)
	_ savings.Store  = (*Store)(nil)
)
