package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/csisgpt/arbwatch/internal/kv"
	"github.com/csisgpt/arbwatch/internal/notify/policy"
	"github.com/csisgpt/arbwatch/internal/queue"
	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/store"
)

func testOpportunity(id int64) schema.ArbOpportunity {
	return schema.ArbOpportunity{
		ID:           id,
		Symbol:       "BTCUSDT",
		Timestamp:    time.Now(),
		BuyExchange:  "binance",
		SellExchange: "kraken",
		BuyPrice:     42000,
		SellPrice:    42200,
		SpreadPct:    0.47,
		NetPct:       0.4,
		Confidence:   70,
	}
}

func enabledRecipient(chatID int64) schema.ChatPreferences {
	return schema.ChatPreferences{
		ChatID:        chatID,
		Enabled:       true,
		Mode:          schema.ModeStandard,
		MaxPerHour:    10,
		MinConfidence: 50,
	}
}

func newTestOrchestrator(t *testing.T, mem *store.Memory) (*Orchestrator, *queue.Queue, kv.Store) {
	t.Helper()
	counters := kv.NewMemoryStore()
	t.Cleanup(counters.Close)
	q := queue.New(mem, queue.Options{Workers: 1, ReplayInterval: time.Hour})
	digest := NewDigest(q, time.Hour)
	orch := NewOrchestrator(mem, counters, q, digest, time.Hour)
	return orch, q, counters
}

func TestNotifyQueuesDeliveryAndClaimsLedgerRow(t *testing.T) {
	mem := store.NewMemory()
	orch, _, _ := newTestOrchestrator(t, mem)
	ctx := context.Background()

	if err := mem.UpsertPreferences(ctx, enabledRecipient(100)); err != nil {
		t.Fatalf("UpsertPreferences: %v", err)
	}

	outcome, err := orch.NotifyOpportunity(ctx, testOpportunity(1))
	if err != nil {
		t.Fatalf("NotifyOpportunity: %v", err)
	}
	if outcome.Queued != 1 || outcome.Skipped != 0 {
		t.Fatalf("outcome = %+v, want one queued", outcome)
	}

	row, err := mem.Delivery(ctx, schema.EntityArbitrage, 1, 100)
	if err != nil {
		t.Fatalf("Delivery: %v", err)
	}
	if row.Status != schema.DeliveryQueued {
		t.Fatalf("status = %q, want QUEUED", row.Status)
	}
	pending, err := mem.PendingJobs(ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v (%v), want one job", pending, err)
	}

	at, err := mem.Checkpoint(ctx, "notify.last_processed.arbitrage")
	if err != nil || at.IsZero() {
		t.Fatalf("checkpoint = %v (%v), want set", at, err)
	}
}

func TestNotifyTwiceIsDuplicateNotSecondSend(t *testing.T) {
	mem := store.NewMemory()
	orch, _, _ := newTestOrchestrator(t, mem)
	ctx := context.Background()

	if err := mem.UpsertPreferences(ctx, enabledRecipient(100)); err != nil {
		t.Fatalf("UpsertPreferences: %v", err)
	}

	if _, err := orch.NotifyOpportunity(ctx, testOpportunity(1)); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := orch.NotifyOpportunity(ctx, testOpportunity(1))
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.Queued != 0 {
		t.Fatalf("second pass queued %d, want 0", second.Queued)
	}
	if second.Duplicates != 1 {
		t.Fatalf("second pass = %+v, want one duplicate", second)
	}
	pending, err := mem.PendingJobs(ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v (%v), want exactly one job after two passes", pending, err)
	}
}

func TestNotifySkipRecordsReasonRow(t *testing.T) {
	mem := store.NewMemory()
	orch, _, _ := newTestOrchestrator(t, mem)
	ctx := context.Background()

	prefs := enabledRecipient(200)
	prefs.MinConfidence = 90
	if err := mem.UpsertPreferences(ctx, prefs); err != nil {
		t.Fatalf("UpsertPreferences: %v", err)
	}

	outcome, err := orch.NotifyOpportunity(ctx, testOpportunity(2))
	if err != nil {
		t.Fatalf("NotifyOpportunity: %v", err)
	}
	if outcome.Skipped != 1 || outcome.SkipReasons[policy.ReasonConfidence] != 1 {
		t.Fatalf("outcome = %+v, want one confidence skip", outcome)
	}

	row, err := mem.Delivery(ctx, schema.EntityArbitrage, 2, 200)
	if err != nil {
		t.Fatalf("Delivery: %v", err)
	}
	if row.Status != schema.DeliverySkipped || row.Reason != policy.ReasonConfidence {
		t.Fatalf("row = %+v, want SKIPPED with confidence reason", row)
	}
}

func TestNotifyRateLimitHitsAfterCap(t *testing.T) {
	mem := store.NewMemory()
	orch, _, _ := newTestOrchestrator(t, mem)
	ctx := context.Background()

	prefs := enabledRecipient(300)
	prefs.MaxPerHour = 2
	if err := mem.UpsertPreferences(ctx, prefs); err != nil {
		t.Fatalf("UpsertPreferences: %v", err)
	}

	var queued, rateSkips int
	for i := int64(1); i <= 4; i++ {
		outcome, err := orch.NotifyOpportunity(ctx, testOpportunity(i))
		if err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
		queued += outcome.Queued
		rateSkips += outcome.SkipReasons[policy.ReasonRateLimited]
	}
	if queued != 2 {
		t.Fatalf("queued = %d, want cap of 2", queued)
	}
	if rateSkips != 2 {
		t.Fatalf("rate skips = %d, want 2", rateSkips)
	}
}

func TestNotifyCooldownSuppressesBackToBackEvents(t *testing.T) {
	mem := store.NewMemory()
	orch, _, _ := newTestOrchestrator(t, mem)
	ctx := context.Background()

	prefs := enabledRecipient(400)
	prefs.CooldownSeconds = map[schema.EntityType]int{schema.EntityArbitrage: 600}
	if err := mem.UpsertPreferences(ctx, prefs); err != nil {
		t.Fatalf("UpsertPreferences: %v", err)
	}

	first, err := orch.NotifyOpportunity(ctx, testOpportunity(1))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := orch.NotifyOpportunity(ctx, testOpportunity(2))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Queued != 1 {
		t.Fatalf("first outcome = %+v, want queued", first)
	}
	if second.Queued != 0 || second.SkipReasons[policy.ReasonCooldown] != 1 {
		t.Fatalf("second outcome = %+v, want cooldown skip", second)
	}
}

func TestNotifyDigestBuffersInsteadOfQueueing(t *testing.T) {
	mem := store.NewMemory()
	orch, _, _ := newTestOrchestrator(t, mem)
	ctx := context.Background()

	prefs := enabledRecipient(500)
	prefs.DigestEnabled = true
	if err := mem.UpsertPreferences(ctx, prefs); err != nil {
		t.Fatalf("UpsertPreferences: %v", err)
	}

	outcome, err := orch.NotifyOpportunity(ctx, testOpportunity(7))
	if err != nil {
		t.Fatalf("NotifyOpportunity: %v", err)
	}
	if outcome.Buffered != 1 || outcome.Queued != 0 {
		t.Fatalf("outcome = %+v, want one buffered", outcome)
	}

	row, err := mem.Delivery(ctx, schema.EntityArbitrage, 7, 500)
	if err != nil {
		t.Fatalf("Delivery: %v", err)
	}
	if row.Status != schema.DeliveryBuffered {
		t.Fatalf("status = %q, want BUFFERED", row.Status)
	}
	if pending, _ := mem.PendingJobs(ctx, 10); len(pending) != 0 {
		t.Fatalf("pending = %v, digest must not enqueue immediately", pending)
	}

	orch.digest.Flush(ctx)
	if pending, _ := mem.PendingJobs(ctx, 10); len(pending) != 1 {
		t.Fatalf("pending after flush = %v, want one combined job", pending)
	}
}

type failingJobStore struct {
	*store.Memory
}

func (f *failingJobStore) EnqueueJob(context.Context, string, []byte, int, time.Time) (store.Job, error) {
	return store.Job{}, errors.New("queue backend down")
}

func TestNotifyEnqueueFailureMarksRowFailed(t *testing.T) {
	mem := store.NewMemory()
	counters := kv.NewMemoryStore()
	t.Cleanup(counters.Close)
	q := queue.New(&failingJobStore{Memory: mem}, queue.Options{Workers: 1, ReplayInterval: time.Hour})
	orch := NewOrchestrator(mem, counters, q, NewDigest(q, time.Hour), time.Hour)
	ctx := context.Background()

	if err := mem.UpsertPreferences(ctx, enabledRecipient(600)); err != nil {
		t.Fatalf("UpsertPreferences: %v", err)
	}

	outcome, err := orch.NotifyOpportunity(ctx, testOpportunity(9))
	if err != nil {
		t.Fatalf("a recipient enqueue failure must not fail the pass: %v", err)
	}
	if outcome.Failed != 1 || outcome.Queued != 0 {
		t.Fatalf("outcome = %+v, want one failed", outcome)
	}

	row, err := mem.Delivery(ctx, schema.EntityArbitrage, 9, 600)
	if err != nil {
		t.Fatalf("Delivery: %v", err)
	}
	if row.Status != schema.DeliveryFailed {
		t.Fatalf("status = %q, want FAILED", row.Status)
	}
}
