package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/aquapay/internal/pricing"
)

func (s *Store) GetPrice(ctx context.Context) (pricing.Config, error) {
	var (
		cfg       pricing.Config
		raw       string
		updatedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT price_per_unit, updated_at, updated_by FROM price_config WHERE id = 1`).
		Scan(&raw, &updatedAt, &cfg.UpdatedBy)
	if err != nil {
		return pricing.Config{}, fmt.Errorf("failed to query price: %w", err)
	}

	cfg.PricePerUnit, err = parseAmount(raw)
	if err != nil {
		return pricing.Config{}, err
	}
	if updatedAt.Valid {
		cfg.UpdatedAt = updatedAt.Time
	}
	return cfg, nil
}

func (s *Store) SetPrice(ctx context.Context, cfg pricing.Config) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE price_config SET price_per_unit = ?, updated_at = ?, updated_by = ? WHERE id = 1`,
		cfg.PricePerUnit.String(), cfg.UpdatedAt, cfg.UpdatedBy)
	if err != nil {
		return fmt.Errorf("failed to update price: %w", err)
	}
	return nil
}

var _ pricing.Store = (*Store)(nil)
