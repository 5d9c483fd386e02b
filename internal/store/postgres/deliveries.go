package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/csisgpt/arbwatch/errs"
	"github.com/csisgpt/arbwatch/internal/schema"
)

const (
	deliveryInsertSQL = `
INSERT INTO notification_deliveries (
    id,
    entity_type,
    entity_id,
    chat_id,
    status,
    reason,
    provider_message_id,
    created_at,
    updated_at
)
VALUES (
    @id,
    @entity_type,
    @entity_id,
    @chat_id,
    @status,
    @reason,
    @provider_message_id,
    NOW(),
    NOW()
)
RETURNING created_at, updated_at;
`

	deliveryUpdateSQL = `
UPDATE notification_deliveries
SET status = @status,
    reason = COALESCE(NULLIF(@reason, ''), reason),
    provider_message_id = COALESCE(NULLIF(@provider_message_id, ''), provider_message_id),
    updated_at = NOW()
WHERE id = @id;
`

	deliverySelectSQL = `
SELECT
    id::text,
    entity_type,
    entity_id,
    chat_id,
    status,
    reason,
    provider_message_id,
    created_at,
    updated_at
FROM notification_deliveries
WHERE entity_type = $1
  AND entity_id = $2
  AND chat_id = $3;
`
)

// CreateDelivery claims the (entity, recipient) pair. The unique index on
// (entity_type, entity_id, chat_id) makes the first insert win; every later
// attempt surfaces as errs.CodeConflict.
func (s *Store) CreateDelivery(ctx context.Context, d *schema.NotificationDelivery) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if !d.EntityType.Valid() {
		return errs.New("store", errs.CodeInvalid, errs.WithMessage("unknown entity type"))
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	args := pgx.NamedArgs{
		"id":                  d.ID,
		"entity_type":         string(d.EntityType),
		"entity_id":           d.EntityID,
		"chat_id":             d.ChatID,
		"status":              string(d.Status),
		"reason":              nullableString(d.Reason),
		"provider_message_id": nullableString(d.ProviderMessageID),
	}
	if err := pool.QueryRow(ctx, deliveryInsertSQL, args).Scan(&d.CreatedAt, &d.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return errs.New("store", errs.CodeConflict,
				errs.WithMessage("delivery already claimed"),
				errs.WithCause(err))
		}
		return fmt.Errorf("postgres: insert delivery: %w", err)
	}
	return nil
}

// UpdateDeliveryStatus transitions an existing ledger row.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, id string, status schema.DeliveryStatus, reason, providerMessageID string) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	args := pgx.NamedArgs{
		"id":                  id,
		"status":              string(status),
		"reason":              reason,
		"provider_message_id": providerMessageID,
	}
	tag, err := pool.Exec(ctx, deliveryUpdateSQL, args)
	if err != nil {
		return fmt.Errorf("postgres: update delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("store", errs.CodeNotFound,
			errs.WithMessage("delivery not found"),
			errs.WithField("id", id))
	}
	return nil
}

// Delivery loads one ledger row by its natural key.
func (s *Store) Delivery(ctx context.Context, entityType schema.EntityType, entityID, chatID int64) (schema.NotificationDelivery, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return schema.NotificationDelivery{}, err
	}
	var (
		d          schema.NotificationDelivery
		reason     pgtype.Text
		providerID pgtype.Text
	)
	err = pool.QueryRow(ctx, deliverySelectSQL, string(entityType), entityID, chatID).Scan(
		&d.ID,
		&d.EntityType,
		&d.EntityID,
		&d.ChatID,
		&d.Status,
		&reason,
		&providerID,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schema.NotificationDelivery{}, errs.New("store", errs.CodeNotFound,
				errs.WithMessage("delivery not found"))
		}
		return schema.NotificationDelivery{}, fmt.Errorf("postgres: select delivery: %w", err)
	}
	if reason.Valid {
		d.Reason = reason.String
	}
	if providerID.Valid {
		d.ProviderMessageID = providerID.String
	}
	return d, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
