package models

import "time"

type ConversationStatus string

const (
	ConversationStatusOpen     ConversationStatus = "open"
	ConversationStatusPending  ConversationStatus = "pending"
	ConversationStatusResolved ConversationStatus = "resolved"
	ConversationStatusArchived ConversationStatus = "archived"
)

func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationStatusOpen, ConversationStatusPending, ConversationStatusResolved, ConversationStatusArchived:
		return true
	}
	return false
}

// Conversation is the thread between one tenant and one customer phone.
type Conversation struct {
	ID                    string             `db:"id" json:"id"`
	TenantID              string             `db:"tenant_id" json:"tenant_id"`
	AccountID             string             `db:"account_id" json:"account_id"`
	Phone                 string             `db:"phone" json:"phone"`
	DisplayName           string             `db:"display_name" json:"display_name,omitempty"`
	Status                ConversationStatus `db:"status" json:"status"`
	AssignedAgentID       string             `db:"assigned_agent_id" json:"assigned_agent_id,omitempty"`
	LastMessageBody       string             `db:"last_message_body" json:"last_message_body,omitempty"`
	LastMessageAt         *time.Time         `db:"last_message_at" json:"last_message_at,omitempty"`
	LastCustomerMessageAt *time.Time         `db:"last_customer_message_at" json:"last_customer_message_at,omitempty"`
	SessionActive         bool               `db:"session_active" json:"session_active"`
	SessionStartedAt      *time.Time         `db:"session_started_at" json:"session_started_at,omitempty"`
	UnreadCount           int                `db:"unread_count" json:"unread_count"`
	CreatedAt             time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time          `db:"updated_at" json:"updated_at"`
}

// ConversationPatch carries optional fields applied by an upsert.
type ConversationPatch struct {
	DisplayName     *string
	LastMessageBody *string
	SessionActive   *bool
	Status          *ConversationStatus
}

// ConversationFilter narrows ListConversations.
type ConversationFilter struct {
	Status ConversationStatus
	Search string
	Offset int
	Limit  int
}
