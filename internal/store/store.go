// Package store defines the persistence contracts backing the notification
// pipeline: detected events, recipient preferences, the exactly-once delivery
// ledger, durable delivery jobs, and scan checkpoints.
package store

import (
	"context"
	"time"

	"github.com/csisgpt/arbwatch/internal/schema"
)

// OpportunityStore persists detected arbitrage opportunities.
type OpportunityStore interface {
	// SaveOpportunity inserts the opportunity and fills its ID.
	SaveOpportunity(ctx context.Context, opp *schema.ArbOpportunity) error
	// RecentOpportunities returns the newest opportunities, newest first.
	RecentOpportunities(ctx context.Context, limit int) ([]schema.ArbOpportunity, error)
}

// SignalStore persists indicator signals.
type SignalStore interface {
	// SaveSignal inserts the signal and fills its ID.
	SaveSignal(ctx context.Context, sig *schema.Signal) error
	// RecentSignals returns the newest signals, newest first.
	RecentSignals(ctx context.Context, limit int) ([]schema.Signal, error)
}

// NewsStore persists news items handed in by external collaborators.
type NewsStore interface {
	// SaveNews inserts the item and fills its ID.
	SaveNews(ctx context.Context, item *schema.NewsItem) error
}

// PreferencesStore manages per-recipient configuration snapshots.
type PreferencesStore interface {
	// UpsertPreferences inserts or replaces the recipient configuration.
	UpsertPreferences(ctx context.Context, prefs schema.ChatPreferences) error
	// Preferences loads one recipient; errs.CodeNotFound when absent.
	Preferences(ctx context.Context, chatID int64) (schema.ChatPreferences, error)
	// ListEnabled returns every recipient with notifications switched on.
	ListEnabled(ctx context.Context) ([]schema.ChatPreferences, error)
}

// DeliveryStore owns the exactly-once delivery ledger. The unique index on
// (entity type, entity id, chat id) is the serialization point for concurrent
// orchestrator passes.
type DeliveryStore interface {
	// CreateDelivery claims the (entity, recipient) pair. Fills d.ID when
	// empty and returns errs.CodeConflict if the pair is already claimed.
	CreateDelivery(ctx context.Context, d *schema.NotificationDelivery) error
	// UpdateDeliveryStatus transitions an existing row.
	UpdateDeliveryStatus(ctx context.Context, id string, status schema.DeliveryStatus, reason, providerMessageID string) error
	// Delivery loads one ledger row; errs.CodeNotFound when absent.
	Delivery(ctx context.Context, entityType schema.EntityType, entityID, chatID int64) (schema.NotificationDelivery, error)
}

// CheckpointStore records "last processed" watermarks per pipeline stage.
type CheckpointStore interface {
	SetCheckpoint(ctx context.Context, name string, at time.Time) error
	// Checkpoint returns the stored watermark, zero time when never set.
	Checkpoint(ctx context.Context, name string) (time.Time, error)
}

// InstrumentStore mirrors the active instrument universe for operators.
type InstrumentStore interface {
	UpsertInstruments(ctx context.Context, instruments []schema.Instrument) error
	ListInstruments(ctx context.Context) ([]schema.Instrument, error)
}

// Job is one durable delivery-queue entry. Rows survive restarts; the queue
// replays undelivered jobs whose availability time has passed.
type Job struct {
	ID          int64
	Name        string
	Payload     []byte
	Attempts    int
	MaxAttempts int
	LastError   string
	AvailableAt time.Time
	Delivered   bool
	CreatedAt   time.Time
}

// JobStore persists delivery jobs for the durable queue.
type JobStore interface {
	// EnqueueJob inserts a job and returns the stored record.
	EnqueueJob(ctx context.Context, name string, payload []byte, maxAttempts int, availableAt time.Time) (Job, error)
	// PendingJobs returns undelivered jobs ready for (re)dispatch, oldest
	// availability first. Jobs with exhausted attempts are excluded.
	PendingJobs(ctx context.Context, limit int) ([]Job, error)
	// MarkJobDone flags a job as delivered.
	MarkJobDone(ctx context.Context, id int64) error
	// MarkJobFailed records a failed attempt and schedules the retry.
	MarkJobFailed(ctx context.Context, id int64, lastError string, retryAt time.Time) error
}

// Store aggregates every persistence contract the pipeline needs.
type Store interface {
	OpportunityStore
	SignalStore
	NewsStore
	PreferencesStore
	DeliveryStore
	CheckpointStore
	InstrumentStore
	JobStore
}
