// Package sqlite persists the ledger entity tables in a SQLite database via
// database/sql. Amounts are stored as decimal strings so no precision is
// lost crossing the driver boundary.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// Store implements every ledger store interface over a single database.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that manage its lifecycle.
func (s *Store) DB() *sql.DB { return s.db }

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	identity   TEXT PRIMARY KEY,
	name       TEXT UNIQUE NOT NULL,
	meter_id   INTEGER NOT NULL,
	active     INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS price_config (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	price_per_unit TEXT NOT NULL,
	updated_at     TIMESTAMP,
	updated_by     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS bills (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	account     TEXT NOT NULL,
	consumption INTEGER NOT NULL,
	amount      TEXT NOT NULL,
	due_at      TIMESTAMP NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	paid        INTEGER NOT NULL DEFAULT 0,
	paid_at     TIMESTAMP,
	ref         TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_bills_account ON bills(account);

CREATE TABLE IF NOT EXISTS payments (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	payer      TEXT NOT NULL,
	amount     TEXT NOT NULL,
	bill_id    INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	ref        TEXT NOT NULL DEFAULT '',
	external   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_payments_payer ON payments(payer);

CREATE TABLE IF NOT EXISTS revenue (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	total TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS loans (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	borrower       TEXT NOT NULL,
	principal      TEXT NOT NULL,
	rate_bps       INTEGER NOT NULL,
	term_days      INTEGER NOT NULL,
	due_at         TIMESTAMP NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	principal_paid TEXT NOT NULL,
	interest_paid  TEXT NOT NULL,
	active         INTEGER NOT NULL,
	repaid         INTEGER NOT NULL,
	purpose        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_loans_borrower ON loans(borrower);

CREATE TABLE IF NOT EXISTS deposits (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	depositor     TEXT NOT NULL,
	amount        TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	active        INTEGER NOT NULL,
	withdrawn_at  TIMESTAMP,
	interest_paid TEXT NOT NULL DEFAULT '0'
);
CREATE INDEX IF NOT EXISTS idx_deposits_depositor ON deposits(depositor);

INSERT OR IGNORE INTO price_config (id, price_per_unit) VALUES (1, '0');
INSERT OR IGNORE INTO revenue (id, total) VALUES (1, '0');
`

// Migrate creates the entity tables and seeds the singleton rows.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
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
