package models

import (
	"encoding/json"
	"time"
)

type QueueStatus string

const (
	QueueStatusPending           QueueStatus = "pending"
	QueueStatusProcessing        QueueStatus = "processing"
	QueueStatusSent              QueueStatus = "sent"
	QueueStatusFailed            QueueStatus = "failed"
	QueueStatusPermanentlyFailed QueueStatus = "permanently_failed"
)

// Terminal reports whether the item will never be attempted again.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusSent || s == QueueStatusPermanentlyFailed
}

// QueueItem is one durable outbound send. Payload is the provider-ready request body.
type QueueItem struct {
	ID                string          `db:"id" json:"id"`
	TenantID          string          `db:"tenant_id" json:"tenant_id"`
	ConversationID    string          `db:"conversation_id" json:"conversation_id,omitempty"`
	Payload           json.RawMessage `db:"payload" json:"payload"`
	Status            QueueStatus     `db:"status" json:"status"`
	Attempts          int             `db:"attempts" json:"attempts"`
	MaxAttempts       int             `db:"max_attempts" json:"max_attempts"`
	NextAttemptAt     time.Time       `db:"next_attempt_at" json:"next_attempt_at"`
	LastError         string          `db:"last_error" json:"last_error,omitempty"`
	ProviderMessageID string          `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ClaimedBy         string          `db:"claimed_by" json:"claimed_by,omitempty"`
	ClaimedAt         *time.Time      `db:"claimed_at" json:"claimed_at,omitempty"`
	SentAt            *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
	ReplayOf          string          `db:"replay_of" json:"replay_of,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}
