package service

import (
	"context"
	"time"

	"wabagate/internal/database"
	"wabagate/internal/models"
)

type AccountStore interface {
	FindAccountByTenant(ctx context.Context, tenantID string, decrypt bool) (*models.Account, error)
	FindAccountByRoutingKey(ctx context.Context, phoneNumberID string, decrypt bool) (*models.Account, error)
	FindAccountByWABA(ctx context.Context, wabaID string, decrypt bool) (*models.Account, error)
	UpsertAccount(ctx context.Context, tenantID string, f models.AccountFields) (*models.Account, error)
	UpdateAccountStatus(ctx context.Context, tenantID string, status models.AccountStatus) error
	TouchAccountWebhook(ctx context.Context, phoneNumberID string, at time.Time) error
}

type ConversationStore interface {
	FindConversation(ctx context.Context, id string) (*models.Conversation, error)
	UpsertConversationByPhone(ctx context.Context, tenantID, accountID, phone string, p models.ConversationPatch) (*models.Conversation, error)
	ReactivateSession(ctx context.Context, id string, at time.Time) error
	ExpireSession(ctx context.Context, id string) error
	ResetUnread(ctx context.Context, id string) error
	UpdateConversationStatus(ctx context.Context, id string, status models.ConversationStatus) error
	AssignAgent(ctx context.Context, id, agentID string) error
	ListConversations(ctx context.Context, tenantID string, f models.ConversationFilter) ([]*models.Conversation, error)
}

type MessageStore interface {
	CreateOutboundMessage(ctx context.Context, m *models.Message) error
	FindMessagesByConversation(ctx context.Context, conversationID string, offset, limit int) ([]*models.Message, error)
	FindMessageByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error)
	LatestInboundMessage(ctx context.Context, conversationID string) (*models.Message, error)
	UpdateMessageStatus(ctx context.Context, providerMessageID string, status models.MessageStatus, extra database.StatusExtra) (bool, error)
	SearchMessages(ctx context.Context, tenantID, query string, limit int) ([]*models.Message, error)
}

type TemplateStore interface {
	UpsertTemplate(ctx context.Context, t *models.Template) (*models.Template, error)
	FindTemplate(ctx context.Context, tenantID, name, language string) (*models.Template, error)
	UpdateTemplateStatus(ctx context.Context, id string, status models.TemplateStatus, providerTemplateID, reason string) error
	IncrementTemplateUsage(ctx context.Context, id string, at time.Time) error
	ListTemplates(ctx context.Context, tenantID string) ([]*models.Template, error)
}

type QueueStore interface {
	EnqueueOutbound(ctx context.Context, item *models.QueueItem) error
	ListEligibleOutbound(ctx context.Context, now time.Time, limit int) ([]*models.QueueItem, error)
	ClaimOutbound(ctx context.Context, id, workerID string, now time.Time) (bool, error)
	MarkOutboundSent(ctx context.Context, id, providerMessageID string, at time.Time) error
	MarkOutboundFailed(ctx context.Context, id, lastError string, nextAttemptAt time.Time) error
	MarkOutboundPermanentlyFailed(ctx context.Context, id, lastError string) error
	ReleaseOutboundClaim(ctx context.Context, id string, nextAttemptAt time.Time) error
	ReleaseStaleOutboundClaims(ctx context.Context, cutoff time.Time) (int64, error)
	GetOutbound(ctx context.Context, id string) (*models.QueueItem, error)
	QueueStats(ctx context.Context) (map[models.QueueStatus]int, error)
}

type WebhookEventStore interface {
	InsertWebhookEvent(ctx context.Context, body []byte) (*models.WebhookEvent, error)
	ClaimWebhookEvents(ctx context.Context, limit int) ([]*models.WebhookEvent, error)
	MarkWebhookEventProcessed(ctx context.Context, id string, at time.Time) error
	MarkWebhookEventFailed(ctx context.Context, id, lastError string, maxAttempts int) error
	ReleaseProcessingWebhookEvents(ctx context.Context) (int64, error)
}

// Store is everything the gateway persists. *database.Database implements it.
type Store interface {
	AccountStore
	ConversationStore
	MessageStore
	TemplateStore
	QueueStore
	WebhookEventStore
}

var _ Store = (*database.Database)(nil)

// Publisher fans inbox events out to live subscribers.
type Publisher interface {
	Publish(event models.InboxEvent)
}

// Deduper remembers provider message ids across instances. MarkSeen reports
// true the first time an id is seen.
type Deduper interface {
	MarkSeen(ctx context.Context, providerMessageID string) (bool, error)
}

type noopPublisher struct{}

func (noopPublisher) Publish(models.InboxEvent) {}

type noopDeduper struct{}

func (noopDeduper) MarkSeen(context.Context, string) (bool, error) { return true, nil }
