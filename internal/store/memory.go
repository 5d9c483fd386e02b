package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/csisgpt/arbwatch/errs"
	"github.com/csisgpt/arbwatch/internal/schema"
)

// Memory is an in-process Store used by tests and single-node development
// runs. Every mutation takes the same mutex; the atomicity guarantees match
// the postgres implementation.
type Memory struct {
	mu sync.Mutex

	nextEventID int64
	nextJobID   int64

	opportunities []schema.ArbOpportunity
	signals       []schema.Signal
	news          []schema.NewsItem
	preferences   map[int64]schema.ChatPreferences
	deliveries    map[string]schema.NotificationDelivery
	deliveryIdx   map[string]string
	checkpoints   map[string]time.Time
	instruments   map[string]schema.Instrument
	jobs          map[int64]Job
}

// NewMemory constructs an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		mu:            sync.Mutex{},
		nextEventID:   0,
		nextJobID:     0,
		opportunities: nil,
		signals:       nil,
		news:          nil,
		preferences:   make(map[int64]schema.ChatPreferences),
		deliveries:    make(map[string]schema.NotificationDelivery),
		deliveryIdx:   make(map[string]string),
		checkpoints:   make(map[string]time.Time),
		instruments:   make(map[string]schema.Instrument),
		jobs:          make(map[int64]Job),
	}
}

func deliveryKey(entityType schema.EntityType, entityID, chatID int64) string {
	return fmt.Sprintf("%s:%d:%d", entityType, entityID, chatID)
}

// SaveOpportunity appends the opportunity and assigns a sequential id.
func (m *Memory) SaveOpportunity(_ context.Context, opp *schema.ArbOpportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEventID++
	opp.ID = m.nextEventID
	m.opportunities = append(m.opportunities, *opp)
	return nil
}

// RecentOpportunities returns the newest opportunities, newest first.
func (m *Memory) RecentOpportunities(_ context.Context, limit int) ([]schema.ArbOpportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.opportunities) {
		limit = len(m.opportunities)
	}
	out := make([]schema.ArbOpportunity, 0, limit)
	for i := len(m.opportunities) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.opportunities[i])
	}
	return out, nil
}

// SaveSignal appends the signal and assigns a sequential id.
func (m *Memory) SaveSignal(_ context.Context, sig *schema.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEventID++
	sig.ID = m.nextEventID
	m.signals = append(m.signals, *sig)
	return nil
}

// RecentSignals returns the newest signals, newest first.
func (m *Memory) RecentSignals(_ context.Context, limit int) ([]schema.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.signals) {
		limit = len(m.signals)
	}
	out := make([]schema.Signal, 0, limit)
	for i := len(m.signals) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.signals[i])
	}
	return out, nil
}

// SaveNews appends the news item and assigns a sequential id.
func (m *Memory) SaveNews(_ context.Context, item *schema.NewsItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEventID++
	item.ID = m.nextEventID
	m.news = append(m.news, *item)
	return nil
}

// UpsertPreferences inserts or replaces the recipient configuration.
func (m *Memory) UpsertPreferences(_ context.Context, prefs schema.ChatPreferences) error {
	if prefs.ChatID == 0 {
		return errs.New("store", errs.CodeInvalid, errs.WithMessage("chat id required"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preferences[prefs.ChatID] = prefs
	return nil
}

// Preferences loads one recipient configuration.
func (m *Memory) Preferences(_ context.Context, chatID int64) (schema.ChatPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefs, ok := m.preferences[chatID]
	if !ok {
		return schema.ChatPreferences{}, errs.New("store", errs.CodeNotFound,
			errs.WithMessage("preferences not found"),
			errs.WithField("chat_id", fmt.Sprint(chatID)))
	}
	return prefs, nil
}

// ListEnabled returns enabled recipients ordered by chat id.
func (m *Memory) ListEnabled(_ context.Context) ([]schema.ChatPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.ChatPreferences, 0, len(m.preferences))
	for _, prefs := range m.preferences {
		if prefs.Enabled {
			out = append(out, prefs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

// CreateDelivery claims the (entity, recipient) pair.
func (m *Memory) CreateDelivery(_ context.Context, d *schema.NotificationDelivery) error {
	if !d.EntityType.Valid() {
		return errs.New("store", errs.CodeInvalid, errs.WithMessage("unknown entity type"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := deliveryKey(d.EntityType, d.EntityID, d.ChatID)
	if _, exists := m.deliveryIdx[key]; exists {
		return errs.New("store", errs.CodeConflict,
			errs.WithMessage("delivery already claimed"),
			errs.WithField("key", key))
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	m.deliveryIdx[key] = d.ID
	m.deliveries[d.ID] = *d
	return nil
}

// UpdateDeliveryStatus transitions an existing ledger row.
func (m *Memory) UpdateDeliveryStatus(_ context.Context, id string, status schema.DeliveryStatus, reason, providerMessageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return errs.New("store", errs.CodeNotFound,
			errs.WithMessage("delivery not found"),
			errs.WithField("id", id))
	}
	d.Status = status
	if reason != "" {
		d.Reason = reason
	}
	if providerMessageID != "" {
		d.ProviderMessageID = providerMessageID
	}
	d.UpdatedAt = time.Now().UTC()
	m.deliveries[id] = d
	return nil
}

// Delivery loads one ledger row by its natural key.
func (m *Memory) Delivery(_ context.Context, entityType schema.EntityType, entityID, chatID int64) (schema.NotificationDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.deliveryIdx[deliveryKey(entityType, entityID, chatID)]
	if !ok {
		return schema.NotificationDelivery{}, errs.New("store", errs.CodeNotFound,
			errs.WithMessage("delivery not found"))
	}
	return m.deliveries[id], nil
}

// SetCheckpoint records a pipeline watermark.
func (m *Memory) SetCheckpoint(_ context.Context, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[name] = at.UTC()
	return nil
}

// Checkpoint returns the stored watermark, zero time when never set.
func (m *Memory) Checkpoint(_ context.Context, name string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpoints[name], nil
}

// UpsertInstruments replaces the stored rows for the supplied instruments.
func (m *Memory) UpsertInstruments(_ context.Context, instruments []schema.Instrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range instruments {
		m.instruments[inst.Symbol] = inst
	}
	return nil
}

// ListInstruments returns all stored instruments ordered by symbol.
func (m *Memory) ListInstruments(_ context.Context) ([]schema.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.Instrument, 0, len(m.instruments))
	for _, inst := range m.instruments {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// EnqueueJob inserts a durable job row.
func (m *Memory) EnqueueJob(_ context.Context, name string, payload []byte, maxAttempts int, availableAt time.Time) (Job, error) {
	if name == "" {
		return Job{}, errs.New("store", errs.CodeInvalid, errs.WithMessage("job name required"))
	}
	if availableAt.IsZero() {
		availableAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextJobID++
	job := Job{
		ID:          m.nextJobID,
		Name:        name,
		Payload:     append([]byte(nil), payload...),
		Attempts:    0,
		MaxAttempts: maxAttempts,
		LastError:   "",
		AvailableAt: availableAt.UTC(),
		Delivered:   false,
		CreatedAt:   time.Now().UTC(),
	}
	m.jobs[job.ID] = job
	return job, nil
}

// PendingJobs returns undelivered jobs ready for dispatch.
func (m *Memory) PendingJobs(_ context.Context, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []Job
	for _, job := range m.jobs {
		if job.Delivered || job.AvailableAt.After(now) {
			continue
		}
		if job.MaxAttempts > 0 && job.Attempts >= job.MaxAttempts {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvailableAt.Equal(out[j].AvailableAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AvailableAt.Before(out[j].AvailableAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkJobDone flags a job as delivered.
func (m *Memory) MarkJobDone(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return errs.New("store", errs.CodeNotFound, errs.WithMessage("job not found"))
	}
	job.Delivered = true
	job.Attempts++
	m.jobs[id] = job
	return nil
}

// MarkJobFailed records a failed attempt and schedules the retry.
func (m *Memory) MarkJobFailed(_ context.Context, id int64, lastError string, retryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return errs.New("store", errs.CodeNotFound, errs.WithMessage("job not found"))
	}
	job.Attempts++
	job.LastError = lastError
	job.AvailableAt = retryAt.UTC()
	m.jobs[id] = job
	return nil
}

var _ Store = (*Memory)(nil)
