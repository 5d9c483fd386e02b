package postgres

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/csisgpt/arbwatch/internal/schema"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

const (
	opportunityInsertSQL = `
INSERT INTO opportunities (
    symbol,
    observed_at,
    buy_exchange,
    sell_exchange,
    buy_price,
    sell_price,
    spread_abs,
    spread_pct,
    net_pct,
    confidence,
    dedup_key,
    created_at
)
VALUES (
    @symbol,
    @observed_at,
    @buy_exchange,
    @sell_exchange,
    @buy_price,
    @sell_price,
    @spread_abs,
    @spread_pct,
    @net_pct,
    @confidence,
    @dedup_key,
    NOW()
)
RETURNING id;
`

	opportunitySelectSQL = `
SELECT
    id,
    symbol,
    observed_at,
    buy_exchange,
    sell_exchange,
    buy_price::text,
    sell_price::text,
    spread_abs::text,
    spread_pct,
    net_pct,
    confidence,
    dedup_key
FROM opportunities
ORDER BY observed_at DESC
LIMIT $1;
`

	signalInsertSQL = `
INSERT INTO signals (
    symbol,
    provider,
    timeframe,
    strategy,
    direction,
    price,
    confidence,
    observed_at,
    dedup_key,
    created_at
)
VALUES (
    @symbol,
    @provider,
    @timeframe,
    @strategy,
    @direction,
    @price,
    @confidence,
    @observed_at,
    @dedup_key,
    NOW()
)
RETURNING id;
`

	signalSelectSQL = `
SELECT
    id,
    symbol,
    provider,
    timeframe,
    strategy,
    direction,
    price::text,
    confidence,
    observed_at,
    dedup_key
FROM signals
ORDER BY observed_at DESC
LIMIT $1;
`

	newsInsertSQL = `
INSERT INTO news_items (
    title,
    source,
    url,
    impact,
    symbols,
    observed_at,
    created_at
)
VALUES (
    @title,
    @source,
    @url,
    @impact,
    COALESCE(@symbols::jsonb, '[]'::jsonb),
    @observed_at,
    NOW()
)
RETURNING id;
`
)

// SaveOpportunity inserts the opportunity and fills its ID.
func (s *Store) SaveOpportunity(ctx context.Context, opp *schema.ArbOpportunity) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	args := pgx.NamedArgs{
		"symbol":        strings.TrimSpace(opp.Symbol),
		"observed_at":   opp.Timestamp,
		"buy_exchange":  strings.TrimSpace(opp.BuyExchange),
		"sell_exchange": strings.TrimSpace(opp.SellExchange),
		"buy_price":     numericText(opp.BuyPrice),
		"sell_price":    numericText(opp.SellPrice),
		"spread_abs":    numericText(opp.SpreadAbs),
		"spread_pct":    opp.SpreadPct,
		"net_pct":       opp.NetPct,
		"confidence":    opp.Confidence,
		"dedup_key":     opp.DedupKey,
	}
	if err := pool.QueryRow(ctx, opportunityInsertSQL, args).Scan(&opp.ID); err != nil {
		return fmt.Errorf("postgres: insert opportunity: %w", err)
	}
	return nil
}

// RecentOpportunities returns the newest opportunities, newest first.
func (s *Store) RecentOpportunities(ctx context.Context, limit int) ([]schema.ArbOpportunity, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, opportunitySelectSQL, clampLimit(limit, defaultEventLimit, maxEventLimit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var records []schema.ArbOpportunity
	for rows.Next() {
		var (
			opp       schema.ArbOpportunity
			buyPrice  string
			sellPrice string
			spreadAbs string
		)
		if err := rows.Scan(
			&opp.ID,
			&opp.Symbol,
			&opp.Timestamp,
			&opp.BuyExchange,
			&opp.SellExchange,
			&buyPrice,
			&sellPrice,
			&spreadAbs,
			&opp.SpreadPct,
			&opp.NetPct,
			&opp.Confidence,
			&opp.DedupKey,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		if opp.BuyPrice, err = floatFromText(buyPrice); err != nil {
			return nil, fmt.Errorf("postgres: opportunity buy price: %w", err)
		}
		if opp.SellPrice, err = floatFromText(sellPrice); err != nil {
			return nil, fmt.Errorf("postgres: opportunity sell price: %w", err)
		}
		if opp.SpreadAbs, err = floatFromText(spreadAbs); err != nil {
			return nil, fmt.Errorf("postgres: opportunity spread: %w", err)
		}
		records = append(records, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate opportunities: %w", err)
	}
	return records, nil
}

// SaveSignal inserts the signal and fills its ID.
func (s *Store) SaveSignal(ctx context.Context, sig *schema.Signal) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	args := pgx.NamedArgs{
		"symbol":      strings.TrimSpace(sig.Symbol),
		"provider":    strings.TrimSpace(sig.Provider),
		"timeframe":   string(sig.Timeframe),
		"strategy":    strings.TrimSpace(sig.Strategy),
		"direction":   string(sig.Direction),
		"price":       numericText(sig.Price),
		"confidence":  sig.Confidence,
		"observed_at": sig.Timestamp,
		"dedup_key":   sig.DedupKey,
	}
	if err := pool.QueryRow(ctx, signalInsertSQL, args).Scan(&sig.ID); err != nil {
		return fmt.Errorf("postgres: insert signal: %w", err)
	}
	return nil
}

// RecentSignals returns the newest signals, newest first.
func (s *Store) RecentSignals(ctx context.Context, limit int) ([]schema.Signal, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, signalSelectSQL, clampLimit(limit, defaultEventLimit, maxEventLimit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	defer rows.Close()

	var records []schema.Signal
	for rows.Next() {
		var (
			sig   schema.Signal
			price string
		)
		if err := rows.Scan(
			&sig.ID,
			&sig.Symbol,
			&sig.Provider,
			&sig.Timeframe,
			&sig.Strategy,
			&sig.Direction,
			&price,
			&sig.Confidence,
			&sig.Timestamp,
			&sig.DedupKey,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		if sig.Price, err = floatFromText(price); err != nil {
			return nil, fmt.Errorf("postgres: signal price: %w", err)
		}
		records = append(records, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate signals: %w", err)
	}
	return records, nil
}

// SaveNews inserts the news item and fills its ID.
func (s *Store) SaveNews(ctx context.Context, item *schema.NewsItem) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	symbols, err := json.Marshal(item.Symbols)
	if err != nil {
		return fmt.Errorf("postgres: encode news symbols: %w", err)
	}
	args := pgx.NamedArgs{
		"title":       strings.TrimSpace(item.Title),
		"source":      strings.TrimSpace(item.Source),
		"url":         item.URL,
		"impact":      string(item.Impact),
		"symbols":     symbols,
		"observed_at": item.Timestamp,
	}
	if err := pool.QueryRow(ctx, newsInsertSQL, args).Scan(&item.ID); err != nil {
		return fmt.Errorf("postgres: insert news item: %w", err)
	}
	return nil
}
