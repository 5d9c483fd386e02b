package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/csisgpt/arbwatch/errs"
	"github.com/csisgpt/arbwatch/internal/kv"
	"github.com/csisgpt/arbwatch/internal/notify/policy"
	"github.com/csisgpt/arbwatch/internal/observability"
	"github.com/csisgpt/arbwatch/internal/queue"
	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/store"
	"github.com/csisgpt/arbwatch/internal/telegram"
)

// Ledger is the slice of persistence the orchestrator needs.
type Ledger interface {
	store.PreferencesStore
	store.DeliveryStore
	store.CheckpointStore
}

// Outcome summarises one orchestrator pass over all recipients.
type Outcome struct {
	Recipients  int
	Queued      int
	Buffered    int
	Skipped     int
	Duplicates  int
	Failed      int
	SkipReasons map[string]int
}

// Orchestrator fans one detected event out to every enabled recipient,
// consulting the policy engine and the shared counters, and claims a delivery
// ledger row before anything is enqueued. The row's uniqueness constraint is
// the serialization point under concurrent passes.
type Orchestrator struct {
	ledger     Ledger
	counters   kv.Store
	queue      *queue.Queue
	digest     *Digest
	rateWindow time.Duration
	now        func() time.Time
}

const defaultRateWindow = time.Hour

// NewOrchestrator wires the orchestrator to its collaborators.
func NewOrchestrator(ledger Ledger, counters kv.Store, q *queue.Queue, digest *Digest, rateWindow time.Duration) *Orchestrator {
	if rateWindow <= 0 {
		rateWindow = defaultRateWindow
	}
	return &Orchestrator{
		ledger:     ledger,
		counters:   counters,
		queue:      q,
		digest:     digest,
		rateWindow: rateWindow,
		now:        time.Now,
	}
}

// NotifyOpportunity fans an arbitrage opportunity out to all recipients.
func (o *Orchestrator) NotifyOpportunity(ctx context.Context, opp schema.ArbOpportunity) (Outcome, error) {
	return o.notify(ctx, schema.EntityArbitrage, opp.ID, policy.FromOpportunity(opp), FormatOpportunity(opp))
}

// NotifySignal fans an indicator signal out to all recipients.
func (o *Orchestrator) NotifySignal(ctx context.Context, sig schema.Signal) (Outcome, error) {
	return o.notify(ctx, schema.EntitySignal, sig.ID, policy.FromSignal(sig), FormatSignal(sig))
}

// NotifyNews fans a news item out to all recipients.
func (o *Orchestrator) NotifyNews(ctx context.Context, item schema.NewsItem) (Outcome, error) {
	return o.notify(ctx, schema.EntityNews, item.ID, policy.FromNews(item), FormatNews(item))
}

func (o *Orchestrator) notify(ctx context.Context, entityType schema.EntityType, entityID int64, payload policy.Payload, text string) (Outcome, error) {
	outcome := Outcome{
		Recipients:  0,
		Queued:      0,
		Buffered:    0,
		Skipped:     0,
		Duplicates:  0,
		Failed:      0,
		SkipReasons: make(map[string]int),
	}
	if entityID == 0 {
		return outcome, errs.New("notify", errs.CodeInvalid, errs.WithMessage("entity id required"))
	}
	recipients, err := o.ledger.ListEnabled(ctx)
	if err != nil {
		return outcome, fmt.Errorf("notify: load recipients: %w", err)
	}
	outcome.Recipients = len(recipients)
	now := o.now()

	// One recipient's failure must never block the rest.
	for _, prefs := range recipients {
		o.processRecipient(ctx, entityType, entityID, payload, text, prefs, now, &outcome)
	}

	if err := o.ledger.SetCheckpoint(ctx, checkpointName(entityType), now); err != nil {
		observability.Log().Warn("notify checkpoint failed",
			observability.F("entity_type", string(entityType)),
			observability.F("error", err.Error()))
	}
	observability.Log().Info("notification pass complete",
		observability.F("entity_type", string(entityType)),
		observability.F("entity_id", entityID),
		observability.F("recipients", outcome.Recipients),
		observability.F("queued", outcome.Queued),
		observability.F("buffered", outcome.Buffered),
		observability.F("skipped", outcome.Skipped),
		observability.F("duplicates", outcome.Duplicates),
		observability.F("failed", outcome.Failed))
	return outcome, nil
}

func (o *Orchestrator) processRecipient(ctx context.Context, entityType schema.EntityType, entityID int64, payload policy.Payload, text string, prefs schema.ChatPreferences, now time.Time, outcome *Outcome) {
	// Static pass first: fail fast on configuration filters without touching
	// the shared counters.
	static := policy.Evaluate(entityType, prefs, now, payload, false, false)
	if !static.Allowed && static.Reason == policy.ReasonDigest {
		if o.claimRow(ctx, entityType, entityID, prefs.ChatID, schema.DeliveryBuffered, static.Reason, outcome) {
			o.digest.Add(prefs.ChatID, text, prefs.DigestTimes)
			outcome.Buffered++
		}
		return
	}
	if !static.Allowed {
		o.recordSkip(ctx, entityType, entityID, prefs.ChatID, static.Reason, outcome)
		return
	}

	rateLimitHit := o.bumpRateCounter(ctx, prefs)
	cooldownHit := false
	if !rateLimitHit {
		cooldownHit = o.claimCooldown(ctx, entityType, prefs)
	}

	final := policy.Evaluate(entityType, prefs, now, payload, rateLimitHit, cooldownHit)
	if !final.Allowed {
		o.recordSkip(ctx, entityType, entityID, prefs.ChatID, final.Reason, outcome)
		return
	}

	row := schema.NotificationDelivery{
		EntityType: entityType,
		EntityID:   entityID,
		ChatID:     prefs.ChatID,
		Status:     schema.DeliveryQueued,
	}
	if err := o.ledger.CreateDelivery(ctx, &row); err != nil {
		if errs.IsConflict(err) {
			// Another concurrent pass already claimed this pair.
			outcome.Duplicates++
			return
		}
		observability.Log().Error("delivery claim failed",
			observability.F("chat_id", prefs.ChatID),
			observability.F("error", err.Error()))
		outcome.Failed++
		return
	}

	job := SendJob{
		DeliveryID: row.ID,
		ChatID:     prefs.ChatID,
		Text:       text,
		Format:     telegram.FormatOptions{},
	}
	if _, err := o.queue.Enqueue(ctx, JobSendMessage, job); err != nil {
		observability.Log().Error("delivery enqueue failed",
			observability.F("chat_id", prefs.ChatID),
			observability.F("error", err.Error()))
		if updErr := o.ledger.UpdateDeliveryStatus(ctx, row.ID, schema.DeliveryFailed, err.Error(), ""); updErr != nil {
			observability.Log().Error("delivery status update failed",
				observability.F("delivery_id", row.ID),
				observability.F("error", updErr.Error()))
		}
		outcome.Failed++
		return
	}
	outcome.Queued++
	observability.Telemetry().IncCounter(observability.MetricNotifyQueued, 1, nil)
}

// bumpRateCounter increments the recipient's hourly counter; the first
// increment of a fresh window also arms its expiry.
func (o *Orchestrator) bumpRateCounter(ctx context.Context, prefs schema.ChatPreferences) bool {
	key := fmt.Sprintf("notify:rate:%d", prefs.ChatID)
	count, err := o.counters.Incr(ctx, key)
	if err != nil {
		observability.Log().Warn("rate counter unavailable",
			observability.F("chat_id", prefs.ChatID),
			observability.F("error", err.Error()))
		return false
	}
	if count == 1 {
		if _, err := o.counters.Expire(ctx, key, o.rateWindow); err != nil {
			observability.Log().Warn("rate counter expiry failed",
				observability.F("chat_id", prefs.ChatID),
				observability.F("error", err.Error()))
		}
	}
	limit := prefs.EffectiveMaxPerHour()
	return limit > 0 && count > int64(limit)
}

// claimCooldown conditionally sets the per-recipient, per-entity-kind
// cooldown key. A failed set means an earlier notification holds the window.
func (o *Orchestrator) claimCooldown(ctx context.Context, entityType schema.EntityType, prefs schema.ChatPreferences) bool {
	ttl := prefs.CooldownFor(entityType)
	if ttl <= 0 {
		return false
	}
	key := fmt.Sprintf("notify:cooldown:%d:%s", prefs.ChatID, entityType)
	set, err := o.counters.SetNX(ctx, key, "1", ttl)
	if err != nil {
		observability.Log().Warn("cooldown key unavailable",
			observability.F("chat_id", prefs.ChatID),
			observability.F("error", err.Error()))
		return false
	}
	return !set
}

func (o *Orchestrator) recordSkip(ctx context.Context, entityType schema.EntityType, entityID, chatID int64, reason string, outcome *Outcome) {
	if o.claimRow(ctx, entityType, entityID, chatID, schema.DeliverySkipped, reason, outcome) {
		outcome.Skipped++
		outcome.SkipReasons[reason]++
		observability.Telemetry().IncCounter(observability.MetricNotifySkips, 1, map[string]string{"reason": reason})
	}
}

// claimRow inserts a terminal ledger row; a uniqueness conflict means the pair
// was already handled and is counted as a duplicate, not an error.
func (o *Orchestrator) claimRow(ctx context.Context, entityType schema.EntityType, entityID, chatID int64, status schema.DeliveryStatus, reason string, outcome *Outcome) bool {
	row := schema.NotificationDelivery{
		EntityType: entityType,
		EntityID:   entityID,
		ChatID:     chatID,
		Status:     status,
		Reason:     reason,
	}
	if err := o.ledger.CreateDelivery(ctx, &row); err != nil {
		if errs.IsConflict(err) {
			outcome.Duplicates++
			return false
		}
		observability.Log().Error("ledger row insert failed",
			observability.F("chat_id", chatID),
			observability.F("status", string(status)),
			observability.F("error", err.Error()))
		outcome.Failed++
		return false
	}
	return true
}

func checkpointName(entityType schema.EntityType) string {
	return "notify.last_processed." + string(entityType)
}
