package models

import (
	"encoding/json"
	"time"
)

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeTemplate MessageType = "template"
	MessageTypeImage    MessageType = "image"
	MessageTypeDocument MessageType = "document"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeVideo    MessageType = "video"
	MessageTypeSticker  MessageType = "sticker"
	MessageTypeUnknown  MessageType = "unknown"
)

// ParseMessageType maps a provider message type onto the stored set.
func ParseMessageType(s string) MessageType {
	switch t := MessageType(s); t {
	case MessageTypeText, MessageTypeTemplate, MessageTypeImage, MessageTypeDocument,
		MessageTypeAudio, MessageTypeVideo, MessageTypeSticker:
		return t
	}
	return MessageTypeUnknown
}

type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

var messageStatusRank = map[MessageStatus]int{
	MessageStatusQueued:    0,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

func ParseMessageStatus(s string) (MessageStatus, bool) {
	st := MessageStatus(s)
	if st == MessageStatusFailed {
		return st, true
	}
	_, ok := messageStatusRank[st]
	return st, ok
}

// StatusesBefore lists the statuses a message may move to next from.
// Forward moves only; failed is terminal and reachable from anything short of read.
func StatusesBefore(next MessageStatus) []MessageStatus {
	if next == MessageStatusFailed {
		return []MessageStatus{MessageStatusQueued, MessageStatusSent, MessageStatusDelivered}
	}
	rank, ok := messageStatusRank[next]
	if !ok {
		return nil
	}
	var out []MessageStatus
	for _, st := range []MessageStatus{MessageStatusQueued, MessageStatusSent, MessageStatusDelivered, MessageStatusRead} {
		if messageStatusRank[st] < rank {
			out = append(out, st)
		}
	}
	return out
}

// CanTransition reports whether a stored status may move from cur to next.
func CanTransition(cur, next MessageStatus) bool {
	for _, st := range StatusesBefore(next) {
		if st == cur {
			return true
		}
	}
	return false
}

type Message struct {
	ID                string           `db:"id" json:"id"`
	ConversationID    string           `db:"conversation_id" json:"conversation_id"`
	TenantID          string           `db:"tenant_id" json:"tenant_id"`
	Direction         MessageDirection `db:"direction" json:"direction"`
	ProviderMessageID string           `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Type              MessageType      `db:"type" json:"type"`
	Body              string           `db:"body" json:"body,omitempty"`
	Caption           string           `db:"caption" json:"caption,omitempty"`
	MediaID           string           `db:"media_id" json:"media_id,omitempty"`
	MediaURL          string           `db:"media_url" json:"media_url,omitempty"`
	MediaMimeType     string           `db:"media_mime_type" json:"media_mime_type,omitempty"`
	MediaFilename     string           `db:"media_filename" json:"media_filename,omitempty"`
	TemplateName      string           `db:"template_name" json:"template_name,omitempty"`
	TemplateLanguage  string           `db:"template_language" json:"template_language,omitempty"`
	TemplateParams    []string         `db:"template_params" json:"template_params,omitempty"`
	FromPhone         string           `db:"from_phone" json:"from_phone,omitempty"`
	ToPhone           string           `db:"to_phone" json:"to_phone,omitempty"`
	Status            MessageStatus    `db:"status" json:"status"`
	StatusReason      string           `db:"status_reason" json:"status_reason,omitempty"`
	SentAt            *time.Time       `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time       `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt            *time.Time       `db:"read_at" json:"read_at,omitempty"`
	Payload           json.RawMessage  `db:"payload" json:"-"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// Preview is the text shown in conversation lists for this message.
func (m *Message) Preview() string {
	switch {
	case m.Body != "":
		return m.Body
	case m.Caption != "":
		return m.Caption
	case m.Type == MessageTypeTemplate:
		return "[template] " + m.TemplateName
	case m.MediaFilename != "":
		return "[" + string(m.Type) + "] " + m.MediaFilename
	default:
		return "[" + string(m.Type) + "]"
	}
}
