package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/csisgpt/arbwatch/errs"
	"github.com/csisgpt/arbwatch/internal/schema"
)

// Recipient preferences are stored as one jsonb document per chat; only the
// fields the orchestrator filters on get their own columns.
const (
	preferencesUpsertSQL = `
INSERT INTO chat_preferences (
    chat_id,
    enabled,
    prefs,
    created_at,
    updated_at
)
VALUES (
    @chat_id,
    @enabled,
    @prefs::jsonb,
    NOW(),
    NOW()
)
ON CONFLICT (chat_id) DO UPDATE SET
    enabled = EXCLUDED.enabled,
    prefs = EXCLUDED.prefs,
    updated_at = NOW();
`

	preferencesSelectSQL = `
SELECT prefs
FROM chat_preferences
WHERE chat_id = $1;
`

	preferencesListEnabledSQL = `
SELECT prefs
FROM chat_preferences
WHERE enabled = TRUE
ORDER BY chat_id ASC;
`
)

// UpsertPreferences inserts or replaces the recipient configuration.
func (s *Store) UpsertPreferences(ctx context.Context, prefs schema.ChatPreferences) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if prefs.ChatID == 0 {
		return errs.New("store", errs.CodeInvalid, errs.WithMessage("chat id required"))
	}
	doc, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("postgres: encode preferences: %w", err)
	}
	args := pgx.NamedArgs{
		"chat_id": prefs.ChatID,
		"enabled": prefs.Enabled,
		"prefs":   doc,
	}
	if _, err := pool.Exec(ctx, preferencesUpsertSQL, args); err != nil {
		return fmt.Errorf("postgres: upsert preferences: %w", err)
	}
	return nil
}

// Preferences loads one recipient configuration.
func (s *Store) Preferences(ctx context.Context, chatID int64) (schema.ChatPreferences, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return schema.ChatPreferences{}, err
	}
	var doc []byte
	if err := pool.QueryRow(ctx, preferencesSelectSQL, chatID).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schema.ChatPreferences{}, errs.New("store", errs.CodeNotFound,
				errs.WithMessage("preferences not found"),
				errs.WithField("chat_id", strconv.FormatInt(chatID, 10)))
		}
		return schema.ChatPreferences{}, fmt.Errorf("postgres: select preferences: %w", err)
	}
	var prefs schema.ChatPreferences
	if err := json.Unmarshal(doc, &prefs); err != nil {
		return schema.ChatPreferences{}, fmt.Errorf("postgres: decode preferences: %w", err)
	}
	return prefs, nil
}

// ListEnabled returns every recipient with notifications switched on.
func (s *Store) ListEnabled(ctx context.Context) ([]schema.ChatPreferences, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, preferencesListEnabledSQL)
	if err != nil {
		return nil, fmt.Errorf("postgres: list preferences: %w", err)
	}
	defer rows.Close()

	var out []schema.ChatPreferences
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan preferences: %w", err)
		}
		var prefs schema.ChatPreferences
		if err := json.Unmarshal(doc, &prefs); err != nil {
			return nil, fmt.Errorf("postgres: decode preferences: %w", err)
		}
		out = append(out, prefs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate preferences: %w", err)
	}
	return out, nil
}
