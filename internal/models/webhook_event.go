package models

import "time"

type WebhookEventStatus string

const (
	WebhookEventPending    WebhookEventStatus = "pending"
	WebhookEventProcessing WebhookEventStatus = "processing"
	WebhookEventProcessed  WebhookEventStatus = "processed"
	WebhookEventFailed     WebhookEventStatus = "failed"
)

// WebhookEvent is a verified webhook body persisted before it is acknowledged.
type WebhookEvent struct {
	ID          string             `db:"id"`
	Body        []byte             `db:"body"`
	Status      WebhookEventStatus `db:"status"`
	Attempts    int                `db:"attempts"`
	LastError   string             `db:"last_error"`
	ReceivedAt  time.Time          `db:"received_at"`
	ProcessedAt *time.Time         `db:"processed_at"`
}
