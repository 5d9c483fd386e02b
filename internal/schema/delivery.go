package schema

import "time"

// DeliveryStatus tracks the lifecycle of one (entity, recipient) notification.
type DeliveryStatus string

const (
	// DeliveryQueued marks a claimed delivery waiting on the job queue.
	DeliveryQueued DeliveryStatus = "QUEUED"
	// DeliveryBuffered marks a delivery folded into a pending digest.
	DeliveryBuffered DeliveryStatus = "BUFFERED"
	// DeliverySent marks a completed send with a provider message id.
	DeliverySent DeliveryStatus = "SENT"
	// DeliverySkipped marks a policy denial recorded for observability.
	DeliverySkipped DeliveryStatus = "SKIPPED"
	// DeliveryFailed marks a terminal failure after queue retries exhausted.
	DeliveryFailed DeliveryStatus = "FAILED"
)

// NotificationDelivery is one row of the exactly-once ledger. The uniqueness
// of (EntityType, EntityID, ChatID) is the delivery guarantee: the first
// insert claims the pair, every later insert is a duplicate.
type NotificationDelivery struct {
	ID                string         `json:"id"`
	EntityType        EntityType     `json:"entity_type"`
	EntityID          int64          `json:"entity_id"`
	ChatID            int64          `json:"chat_id"`
	Status            DeliveryStatus `json:"status"`
	Reason            string         `json:"reason,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}
