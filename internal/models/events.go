package models

import "time"

type InboxEventType string

const (
	InboxEventMessageInbound  InboxEventType = "message.inbound"
	InboxEventMessageOutbound InboxEventType = "message.outbound"
	InboxEventMessageStatus   InboxEventType = "message.status"
	InboxEventTemplateStatus  InboxEventType = "template.status"
	InboxEventConversation    InboxEventType = "conversation.updated"
)

// InboxEvent is pushed to operators watching a tenant's inbox.
type InboxEvent struct {
	Type           InboxEventType `json:"type"`
	TenantID       string         `json:"tenant_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Message        *Message       `json:"message,omitempty"`
	Conversation   *Conversation  `json:"conversation,omitempty"`
	Template       *Template      `json:"template,omitempty"`
	Status         string         `json:"status,omitempty"`
	At             time.Time      `json:"at"`
}
