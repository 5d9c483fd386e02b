package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/csisgpt/arbwatch/errs"
	"github.com/csisgpt/arbwatch/internal/schema"
)

func TestCreateDeliveryClaimsExactlyOnce(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := schema.NotificationDelivery{
				EntityType: schema.EntityArbitrage,
				EntityID:   42,
				ChatID:     100,
				Status:     schema.DeliveryQueued,
			}
			results <- mem.CreateDelivery(ctx, &d)
		}()
	}
	wg.Wait()
	close(results)

	claimed, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			claimed++
		case errs.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if claimed != 1 {
		t.Fatalf("claimed = %d, want exactly 1", claimed)
	}
	if conflicts != racers-1 {
		t.Fatalf("conflicts = %d, want %d", conflicts, racers-1)
	}

	row, err := mem.Delivery(ctx, schema.EntityArbitrage, 42, 100)
	if err != nil {
		t.Fatalf("Delivery: %v", err)
	}
	if row.Status != schema.DeliveryQueued {
		t.Fatalf("status = %q, want QUEUED", row.Status)
	}
}

func TestDeliveryStatusTransition(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	d := schema.NotificationDelivery{
		EntityType: schema.EntitySignal,
		EntityID:   7,
		ChatID:     9,
		Status:     schema.DeliveryQueued,
	}
	if err := mem.CreateDelivery(ctx, &d); err != nil {
		t.Fatalf("CreateDelivery: %v", err)
	}
	if d.ID == "" {
		t.Fatal("expected generated delivery id")
	}

	if err := mem.UpdateDeliveryStatus(ctx, d.ID, schema.DeliverySent, "", "msg-555"); err != nil {
		t.Fatalf("UpdateDeliveryStatus: %v", err)
	}
	row, err := mem.Delivery(ctx, schema.EntitySignal, 7, 9)
	if err != nil {
		t.Fatalf("Delivery: %v", err)
	}
	if row.Status != schema.DeliverySent || row.ProviderMessageID != "msg-555" {
		t.Fatalf("row = %+v, want SENT with message id", row)
	}

	if err := mem.UpdateDeliveryStatus(ctx, "no-such-row", schema.DeliveryFailed, "boom", ""); !errs.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestListEnabledFiltersAndOrders(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	for _, prefs := range []schema.ChatPreferences{
		{ChatID: 3, Enabled: true},
		{ChatID: 1, Enabled: true},
		{ChatID: 2, Enabled: false},
	} {
		if err := mem.UpsertPreferences(ctx, prefs); err != nil {
			t.Fatalf("UpsertPreferences: %v", err)
		}
	}

	enabled, err := mem.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(enabled) != 2 || enabled[0].ChatID != 1 || enabled[1].ChatID != 3 {
		t.Fatalf("enabled = %+v, want chats 1 and 3 in order", enabled)
	}

	if _, err := mem.Preferences(ctx, 2); err != nil {
		t.Fatalf("Preferences for disabled chat should still load: %v", err)
	}
	if _, err := mem.Preferences(ctx, 99); !errs.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestPendingJobsSkipsFutureAndExhausted(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	ready, err := mem.EnqueueJob(ctx, "send", []byte(`{"a":1}`), 3, time.Now().Add(-time.Second))
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := mem.EnqueueJob(ctx, "send", nil, 3, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("EnqueueJob future: %v", err)
	}
	exhausted, err := mem.EnqueueJob(ctx, "send", nil, 1, time.Now().Add(-time.Second))
	if err != nil {
		t.Fatalf("EnqueueJob exhausted: %v", err)
	}
	if err := mem.MarkJobFailed(ctx, exhausted.ID, "boom", time.Now().Add(-time.Millisecond)); err != nil {
		t.Fatalf("MarkJobFailed: %v", err)
	}

	pending, err := mem.PendingJobs(ctx, 10)
	if err != nil {
		t.Fatalf("PendingJobs: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != ready.ID {
		t.Fatalf("pending = %+v, want only job %d", pending, ready.ID)
	}

	if err := mem.MarkJobDone(ctx, ready.ID); err != nil {
		t.Fatalf("MarkJobDone: %v", err)
	}
	pending, err = mem.PendingJobs(ctx, 10)
	if err != nil {
		t.Fatalf("PendingJobs after done: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending = %+v, want empty", pending)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	got, err := mem.Checkpoint(ctx, "notify")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("unset checkpoint = %v, want zero", got)
	}

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := mem.SetCheckpoint(ctx, "notify", at); err != nil {
		t.Fatalf("SetCheckpoint: %v", err)
	}
	got, err = mem.Checkpoint(ctx, "notify")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if !got.Equal(at) {
		t.Fatalf("checkpoint = %v, want %v", got, at)
	}
}

func TestSaveOpportunityAssignsIDs(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	first := schema.ArbOpportunity{Symbol: "BTCUSDT", BuyExchange: "binance", SellExchange: "kraken"}
	second := schema.ArbOpportunity{Symbol: "ETHUSDT", BuyExchange: "okx", SellExchange: "bybit"}
	if err := mem.SaveOpportunity(ctx, &first); err != nil {
		t.Fatalf("SaveOpportunity: %v", err)
	}
	if err := mem.SaveOpportunity(ctx, &second); err != nil {
		t.Fatalf("SaveOpportunity: %v", err)
	}
	if first.ID == 0 || second.ID <= first.ID {
		t.Fatalf("ids = %d, %d, want increasing non-zero", first.ID, second.ID)
	}

	recent, err := mem.RecentOpportunities(ctx, 1)
	if err != nil {
		t.Fatalf("RecentOpportunities: %v", err)
	}
	if len(recent) != 1 || recent[0].Symbol != "ETHUSDT" {
		t.Fatalf("recent = %+v, want newest first", recent)
	}
}
