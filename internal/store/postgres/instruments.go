package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/csisgpt/arbwatch/internal/schema"
)

const (
	instrumentUpsertSQL = `
INSERT INTO instruments (
    symbol,
    asset_class,
    base,
    quote,
    active,
    updated_at
)
VALUES (
    @symbol,
    @asset_class,
    @base,
    @quote,
    @active,
    NOW()
)
ON CONFLICT (symbol) DO UPDATE SET
    asset_class = EXCLUDED.asset_class,
    base = EXCLUDED.base,
    quote = EXCLUDED.quote,
    active = EXCLUDED.active,
    updated_at = NOW();
`

	instrumentListSQL = `
SELECT
    symbol,
    asset_class,
    base,
    quote,
    active
FROM instruments
ORDER BY symbol ASC;
`
)

// UpsertInstruments replaces the stored rows for the supplied instruments.
func (s *Store) UpsertInstruments(ctx context.Context, instruments []schema.Instrument) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	batch := new(pgx.Batch)
	for _, inst := range instruments {
		batch.Queue(instrumentUpsertSQL, pgx.NamedArgs{
			"symbol":      inst.Symbol,
			"asset_class": string(inst.AssetClass),
			"base":        inst.Base,
			"quote":       inst.Quote,
			"active":      inst.Active,
		})
	}
	if batch.Len() == 0 {
		return nil
	}
	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range instruments {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert instrument: %w", err)
		}
	}
	return nil
}

// ListInstruments returns all stored instruments ordered by symbol.
func (s *Store) ListInstruments(ctx context.Context) ([]schema.Instrument, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, instrumentListSQL)
	if err != nil {
		return nil, fmt.Errorf("postgres: list instruments: %w", err)
	}
	defer rows.Close()

	var out []schema.Instrument
	for rows.Next() {
		var inst schema.Instrument
		if err := rows.Scan(&inst.Symbol, &inst.AssetClass, &inst.Base, &inst.Quote, &inst.Active); err != nil {
			return nil, fmt.Errorf("postgres: scan instrument: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate instruments: %w", err)
	}
	return out, nil
}
