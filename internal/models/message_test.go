package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		cur, next MessageStatus
		want      bool
	}{
		{MessageStatusQueued, MessageStatusSent, true},
		{MessageStatusSent, MessageStatusDelivered, true},
		{MessageStatusSent, MessageStatusRead, true},
		{MessageStatusDelivered, MessageStatusRead, true},
		{MessageStatusRead, MessageStatusDelivered, false},
		{MessageStatusDelivered, MessageStatusSent, false},
		{MessageStatusSent, MessageStatusSent, false},
		{MessageStatusSent, MessageStatusFailed, true},
		{MessageStatusRead, MessageStatusFailed, false},
		{MessageStatusFailed, MessageStatusRead, false},
		{MessageStatusFailed, MessageStatusSent, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.cur, tt.next), "%s -> %s", tt.cur, tt.next)
	}
}

func TestParseMessageStatus(t *testing.T) {
	st, ok := ParseMessageStatus("delivered")
	assert.True(t, ok)
	assert.Equal(t, MessageStatusDelivered, st)

	_, ok = ParseMessageStatus("deleted")
	assert.False(t, ok)
}

func TestMessagePreview(t *testing.T) {
	assert.Equal(t, "hi", (&Message{Type: MessageTypeText, Body: "hi"}).Preview())
	assert.Equal(t, "scan", (&Message{Type: MessageTypeImage, Caption: "scan"}).Preview())
	assert.Equal(t, "[document] rx.pdf", (&Message{Type: MessageTypeDocument, MediaFilename: "rx.pdf"}).Preview())
	assert.Equal(t, "[template] refill_reminder", (&Message{Type: MessageTypeTemplate, TemplateName: "refill_reminder"}).Preview())
	assert.Equal(t, "[audio]", (&Message{Type: MessageTypeAudio}).Preview())
}

func TestParseTemplateStatus(t *testing.T) {
	st, ok := ParseTemplateStatus("APPROVED")
	assert.True(t, ok)
	assert.Equal(t, TemplateStatusApproved, st)

	st, ok = ParseTemplateStatus("rejected")
	assert.True(t, ok)
	assert.Equal(t, TemplateStatusRejected, st)

	_, ok = ParseTemplateStatus("FLAGGED_UNKNOWN")
	assert.False(t, ok)
}

func TestQueueStatusTerminal(t *testing.T) {
	assert.True(t, QueueStatusSent.Terminal())
	assert.True(t, QueueStatusPermanentlyFailed.Terminal())
	assert.False(t, QueueStatusFailed.Terminal())
	assert.False(t, QueueStatusPending.Terminal())
}
