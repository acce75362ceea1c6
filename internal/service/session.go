package service

import (
	"time"

	"wabagate/internal/constants"
	"wabagate/internal/models"
)

// sessionStart is when the current session window opened. Rows written before
// session_started_at existed fall back to the last customer message.
func sessionStart(conv *models.Conversation) *time.Time {
	if conv.SessionStartedAt != nil {
		return conv.SessionStartedAt
	}
	return conv.LastCustomerMessageAt
}

// CanSendFreeForm reports whether a free-form message may go to conv at now:
// the session is flagged active and opened no more than SessionWindow ago.
func CanSendFreeForm(conv *models.Conversation, now time.Time) bool {
	if conv == nil || !conv.SessionActive {
		return false
	}
	start := sessionStart(conv)
	if start == nil {
		return false
	}
	return now.Sub(*start) <= constants.SessionWindow
}

// SessionExpiresAt returns when the free-form window closes, or nil without an active session.
func SessionExpiresAt(conv *models.Conversation) *time.Time {
	if conv == nil || !conv.SessionActive {
		return nil
	}
	start := sessionStart(conv)
	if start == nil {
		return nil
	}
	exp := start.Add(constants.SessionWindow)
	return &exp
}

// sessionLapsed is true when the row still says active but the window has passed.
func sessionLapsed(conv *models.Conversation, now time.Time) bool {
	return conv != nil && conv.SessionActive && !CanSendFreeForm(conv, now)
}
