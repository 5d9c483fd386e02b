package notify

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/csisgpt/arbwatch/internal/observability"
	"github.com/csisgpt/arbwatch/internal/queue"
	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/store"
	"github.com/csisgpt/arbwatch/internal/telegram"
)

// JobSendMessage is the queue job name for one notification send.
const JobSendMessage = "notify.send"

// SendJob is the payload of one delivery job. DeliveryID is empty for digest
// sends, which carry no ledger row.
type SendJob struct {
	DeliveryID string                 `json:"delivery_id,omitempty"`
	ChatID     int64                  `json:"chat_id"`
	Text       string                 `json:"text"`
	Format     telegram.FormatOptions `json:"format"`
}

// Deliverer consumes queued send jobs, talks to the chat platform, and keeps
// the delivery ledger in sync.
type Deliverer struct {
	sender     telegram.Sender
	ledger     store.DeliveryStore
	chunkLimit int
}

const defaultChunkLimit = 4096

// NewDeliverer constructs the delivery worker.
func NewDeliverer(sender telegram.Sender, ledger store.DeliveryStore, chunkLimit int) *Deliverer {
	if chunkLimit <= 0 {
		chunkLimit = defaultChunkLimit
	}
	return &Deliverer{sender: sender, ledger: ledger, chunkLimit: chunkLimit}
}

// Register binds the worker to the queue's send job.
func (d *Deliverer) Register(q *queue.Queue) {
	q.Handle(JobSendMessage, d.Handle)
}

// Handle sends one notification. A long message goes out as sequential chunks
// split at line boundaries; if any chunk fails the whole job fails, the ledger
// row turns FAILED, and the error propagates so the queue retries.
func (d *Deliverer) Handle(ctx context.Context, job store.Job) error {
	var send SendJob
	if err := json.Unmarshal(job.Payload, &send); err != nil {
		return fmt.Errorf("notify: decode send job: %w", err)
	}

	var lastMessageID string
	for _, chunk := range ChunkMessage(send.Text, d.chunkLimit) {
		messageID, err := d.sender.SendMessage(ctx, send.ChatID, chunk, send.Format)
		if err != nil {
			observability.Telemetry().IncCounter(observability.MetricDeliveryFailures, 1, nil)
			d.markLedger(ctx, send.DeliveryID, false, err.Error(), "")
			return err
		}
		lastMessageID = messageID
	}

	observability.Telemetry().IncCounter(observability.MetricDeliverySends, 1, nil)
	d.markLedger(ctx, send.DeliveryID, true, "", lastMessageID)
	return nil
}

func (d *Deliverer) markLedger(ctx context.Context, deliveryID string, sent bool, reason, messageID string) {
	if deliveryID == "" || d.ledger == nil {
		return
	}
	status := schema.DeliveryFailed
	if sent {
		status = schema.DeliverySent
	}
	if err := d.ledger.UpdateDeliveryStatus(ctx, deliveryID, status, reason, messageID); err != nil {
		observability.Log().Error("delivery ledger update failed",
			observability.F("delivery_id", deliveryID),
			observability.F("status", string(status)),
			observability.F("error", err.Error()))
	}
}
