package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wabagate/internal/constants"
	apperrors "wabagate/internal/errors"
	"wabagate/internal/metrics"
	"wabagate/internal/models"
	"wabagate/internal/tracing"
	"wabagate/internal/validation"
	"wabagate/pkg/whatsapp"
	"wabagate/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// MessagingStore is the persistence the messaging service uses.
type MessagingStore interface {
	AccountStore
	ConversationStore
	MessageStore
	TemplateStore
	QueueStore
}

type MessagingConfig struct {
	SendTimeout time.Duration
	MaxAttempts int
}

// MessagingService sends operator messages synchronously, queues durable
// sends and serves the inbox read paths.
type MessagingService struct {
	store     MessagingStore
	client    whatsapp.Client
	publisher Publisher
	cfg       MessagingConfig
	logger    *logrus.Logger
	errLog    *apperrors.Logger
	now       func() time.Time
}

func NewMessagingService(store MessagingStore, client whatsapp.Client, publisher Publisher, cfg MessagingConfig, logger *logrus.Logger) *MessagingService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = constants.DefaultQueueSendTimeoutSec * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = constants.DefaultQueueMaxAttempts
	}
	return &MessagingService{
		store:     store,
		client:    client,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		errLog:    apperrors.FromLogrus(logger),
		now:       time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (s *MessagingService) SetClock(now func() time.Time) {
	s.now = now
}

// conversationAndAccount loads the conversation and its tenant's sending account.
func (s *MessagingService) conversationAndAccount(ctx context.Context, conversationID string) (*models.Conversation, *models.Account, error) {
	conv, err := s.store.FindConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		return nil, nil, apperrors.NewNotFoundError("conversation", conversationID)
	}
	account, err := s.sendingAccount(ctx, conv.TenantID)
	if err != nil {
		return conv, nil, err
	}
	return conv, account, nil
}

func (s *MessagingService) sendingAccount(ctx context.Context, tenantID string) (*models.Account, error) {
	account, err := s.store.FindAccountByTenant(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Status != models.AccountStatusActive || !account.CanSend() {
		return nil, apperrors.NewNotConnectedError(tenantID)
	}
	return account, nil
}

// SendText sends a free-form reply. Outside the session window it fails with
// a session-expired error before any provider call.
func (s *MessagingService) SendText(ctx context.Context, conversationID, body string) (*models.Message, error) {
	if err := validation.ValidateMessageBody(body); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "messaging.send_text")
	defer span.End()

	conv, err := s.store.FindConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.NewNotFoundError("conversation", conversationID)
	}

	now := s.now()
	if !CanSendFreeForm(conv, now) {
		if sessionLapsed(conv, now) {
			if err := s.store.ExpireSession(ctx, conv.ID); err != nil {
				s.errLog.LogWarn(err, "Failed to expire lapsed session", logrus.Fields{LogFieldConversationID: conv.ID})
			}
		}
		metrics.IncrementCounter(metrics.OutboundRejected, map[string]string{"tenant_id": conv.TenantID}, "Free-form sends rejected outside the session window")
		return nil, apperrors.NewSessionExpiredError(conv.ID)
	}

	account, err := s.sendingAccount(ctx, conv.TenantID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("tenant.id", conv.TenantID))

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	start := time.Now()
	resp, err := s.client.SendText(sendCtx, account.PhoneNumberID, account.AccessToken, conv.Phone, body)
	metrics.RecordTimer(metrics.ProviderCallDuration, time.Since(start), map[string]string{"operation": "send_text"}, "Graph API call duration")
	if err != nil {
		s.errLog.LogError(err, "Failed to send text message", logrus.Fields{
			LogFieldTenantID:       conv.TenantID,
			LogFieldConversationID: conv.ID,
		})
		return nil, providerError(err)
	}

	sentAt := s.now().UTC()
	msg := &models.Message{
		ConversationID:    conv.ID,
		TenantID:          conv.TenantID,
		ProviderMessageID: resp.MessageID(),
		Type:              models.MessageTypeText,
		Body:              body,
		FromPhone:         account.PhoneNumber,
		ToPhone:           conv.Phone,
		Status:            models.MessageStatusSent,
		SentAt:            &sentAt,
	}
	if err := s.recordOutbound(ctx, conv, account, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// SendTemplateRequest asks for an approved template to be sent on a conversation.
type SendTemplateRequest struct {
	ConversationID string   `json:"conversation_id"`
	TemplateName   string   `json:"template_name"`
	Language       string   `json:"language"`
	Parameters     []string `json:"parameters"`
}

func (r *SendTemplateRequest) validate() error {
	if r.Language == "" {
		r.Language = "en"
	}
	if err := validation.ValidateTemplateName(r.TemplateName); err != nil {
		return err
	}
	if err := validation.ValidateLanguageCode(r.Language); err != nil {
		return err
	}
	return validation.ValidateTemplateParameters(r.Parameters)
}

// SendTemplate sends a template message and re-opens the session window.
func (s *MessagingService) SendTemplate(ctx context.Context, req SendTemplateRequest) (*models.Message, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "messaging.send_template")
	defer span.End()

	conv, account, err := s.conversationAndAccount(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	tpl, err := s.store.FindTemplate(ctx, conv.TenantID, req.TemplateName, req.Language)
	if err != nil {
		return nil, err
	}
	if tpl != nil && tpl.Status != models.TemplateStatusApproved {
		return nil, apperrors.NewValidationError("template_name",
			fmt.Sprintf("template %s (%s) is %s", tpl.Name, tpl.Language, tpl.Status))
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	start := time.Now()
	resp, err := s.client.SendTemplate(sendCtx, account.PhoneNumberID, account.AccessToken, conv.Phone, types.TemplateMessage{
		Name:       req.TemplateName,
		Language:   req.Language,
		Parameters: req.Parameters,
	})
	metrics.RecordTimer(metrics.ProviderCallDuration, time.Since(start), map[string]string{"operation": "send_template"}, "Graph API call duration")
	if err != nil {
		s.errLog.LogError(err, "Failed to send template message", logrus.Fields{
			LogFieldTenantID:       conv.TenantID,
			LogFieldConversationID: conv.ID,
			LogFieldTemplate:       req.TemplateName,
		})
		return nil, providerError(err)
	}

	now := s.now().UTC()
	msg := &models.Message{
		ConversationID:    conv.ID,
		TenantID:          conv.TenantID,
		ProviderMessageID: resp.MessageID(),
		Type:              models.MessageTypeTemplate,
		TemplateName:      req.TemplateName,
		TemplateLanguage:  req.Language,
		TemplateParams:    req.Parameters,
		FromPhone:         account.PhoneNumber,
		ToPhone:           conv.Phone,
		Status:            models.MessageStatusSent,
		SentAt:            &now,
	}
	if tpl != nil {
		msg.Body = RenderTemplateBody(tpl.BodyText, req.Parameters)
	}
	if err := s.recordOutbound(ctx, conv, account, msg); err != nil {
		return nil, err
	}

	if err := s.store.ReactivateSession(ctx, conv.ID, now); err != nil {
		return msg, fmt.Errorf("failed to reactivate session: %w", err)
	}
	if tpl != nil {
		if err := s.store.IncrementTemplateUsage(ctx, tpl.ID, now); err != nil {
			s.errLog.LogWarn(err, "Failed to record template usage", logrus.Fields{LogFieldTemplate: tpl.Name})
		}
	}
	return msg, nil
}

// recordOutbound persists a message the provider accepted and refreshes the
// conversation preview.
func (s *MessagingService) recordOutbound(ctx context.Context, conv *models.Conversation, account *models.Account, msg *models.Message) error {
	if err := s.store.CreateOutboundMessage(ctx, msg); err != nil {
		return fmt.Errorf("message sent but not recorded: %w", err)
	}
	preview := msg.Preview()
	updated, err := s.store.UpsertConversationByPhone(ctx, conv.TenantID, account.ID, conv.Phone, models.ConversationPatch{
		LastMessageBody: &preview,
	})
	if err != nil {
		s.errLog.LogWarn(err, "Failed to update conversation preview", logrus.Fields{LogFieldConversationID: conv.ID})
		updated = conv
	}

	metrics.IncrementCounter(metrics.OutboundSent, map[string]string{"type": string(msg.Type)}, "Messages sent synchronously")
	logEntry(ctx, s.logger, logrus.Fields{
		LogFieldTenantID:       conv.TenantID,
		LogFieldConversationID: conv.ID,
		LogFieldProviderID:     msg.ProviderMessageID,
		LogFieldMessageType:    msg.Type,
	}).Info("Outbound message sent")

	s.publisher.Publish(models.InboxEvent{
		Type:           models.InboxEventMessageOutbound,
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Message:        msg,
		Conversation:   updated,
		At:             s.now().UTC(),
	})
	return nil
}

// RenderTemplateBody substitutes {{1}}..{{n}} with params for display.
func RenderTemplateBody(body string, params []string) string {
	if body == "" || len(params) == 0 {
		return body
	}
	pairs := make([]string, 0, 2*len(params))
	for i, p := range params {
		pairs = append(pairs, "{{"+strconv.Itoa(i+1)+"}}", p)
	}
	return strings.NewReplacer(pairs...).Replace(body)
}

// EnqueueRequest is a durable send. Exactly one of Body or Template is set.
// When ConversationID is set the recipient is the conversation's phone.
type EnqueueRequest struct {
	TenantID       string                 `json:"tenant_id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	To             string                 `json:"to,omitempty"`
	Body           string                 `json:"body,omitempty"`
	Template       *types.TemplateMessage `json:"template,omitempty"`
}

// Enqueue validates req, builds the provider payload and stores a pending queue item.
func (s *MessagingService) Enqueue(ctx context.Context, req EnqueueRequest) (*models.QueueItem, error) {
	if err := validation.ValidateTenantID(req.TenantID); err != nil {
		return nil, err
	}
	if (req.Body == "") == (req.Template == nil) {
		return nil, apperrors.NewValidationError("body", "exactly one of body or template is required")
	}

	to := req.To
	if req.ConversationID != "" {
		conv, err := s.store.FindConversation(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
		if conv == nil || conv.TenantID != req.TenantID {
			return nil, apperrors.NewNotFoundError("conversation", req.ConversationID)
		}
		if req.Body != "" && !CanSendFreeForm(conv, s.now()) {
			return nil, apperrors.NewSessionExpiredError(conv.ID)
		}
		to = conv.Phone
	}
	to = validation.NormalizePhone(to)
	if err := validation.ValidatePhoneNumber(to); err != nil {
		return nil, err
	}

	var payload types.SendRequest
	if req.Template != nil {
		tpl := *req.Template
		if tpl.Language == "" {
			tpl.Language = "en"
		}
		if err := validation.ValidateTemplateName(tpl.Name); err != nil {
			return nil, err
		}
		if err := validation.ValidateLanguageCode(tpl.Language); err != nil {
			return nil, err
		}
		if err := validation.ValidateTemplateParameters(tpl.Parameters); err != nil {
			return nil, err
		}
		payload = whatsapp.BuildTemplatePayload(to, tpl)
	} else {
		if err := validation.ValidateMessageBody(req.Body); err != nil {
			return nil, err
		}
		payload = whatsapp.BuildTextPayload(to, req.Body)
	}

	raw, err := whatsapp.MarshalPayload(payload)
	if err != nil {
		return nil, err
	}
	item := &models.QueueItem{
		TenantID:       req.TenantID,
		ConversationID: req.ConversationID,
		Payload:        raw,
		MaxAttempts:    s.cfg.MaxAttempts,
	}
	if err := s.store.EnqueueOutbound(ctx, item); err != nil {
		return nil, err
	}

	logEntry(ctx, s.logger, logrus.Fields{
		LogFieldTenantID:    req.TenantID,
		LogFieldQueueItemID: item.ID,
		LogFieldPhone:       to,
	}).Info("Outbound message queued")
	return item, nil
}

// GetQueueItem returns a queue item or a not-found error.
func (s *MessagingService) GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error) {
	item, err := s.store.GetOutbound(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperrors.NewNotFoundError("queue item", id)
	}
	return item, nil
}

// ReadThread returns a page of the conversation and clears its unread count.
func (s *MessagingService) ReadThread(ctx context.Context, conversationID string, offset, limit int) ([]*models.Message, error) {
	conv, err := s.store.FindConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.NewNotFoundError("conversation", conversationID)
	}
	msgs, err := s.store.FindMessagesByConversation(ctx, conversationID, offset, limit)
	if err != nil {
		return nil, err
	}
	if conv.UnreadCount > 0 {
		if err := s.store.ResetUnread(ctx, conversationID); err != nil {
			return msgs, err
		}
	}
	return msgs, nil
}

// MarkRead sends a provider read receipt for the newest customer message.
func (s *MessagingService) MarkRead(ctx context.Context, conversationID string) error {
	conv, account, err := s.conversationAndAccount(ctx, conversationID)
	if err != nil {
		return err
	}
	latest, err := s.store.LatestInboundMessage(ctx, conv.ID)
	if err != nil {
		return err
	}
	if latest == nil || latest.ProviderMessageID == "" {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	if err := s.client.MarkRead(callCtx, account.PhoneNumberID, account.AccessToken, latest.ProviderMessageID); err != nil {
		return providerError(err)
	}
	return s.store.ResetUnread(ctx, conv.ID)
}

func (s *MessagingService) Search(ctx context.Context, tenantID, query string, limit int) ([]*models.Message, error) {
	if err := validation.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	return s.store.SearchMessages(ctx, tenantID, query, limit)
}

func (s *MessagingService) ListConversations(ctx context.Context, tenantID string, f models.ConversationFilter) ([]*models.Conversation, error) {
	if err := validation.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperrors.NewValidationError("status", "unknown conversation status")
	}
	return s.store.ListConversations(ctx, tenantID, f)
}

func (s *MessagingService) UpdateConversationStatus(ctx context.Context, conversationID string, status models.ConversationStatus) (*models.Conversation, error) {
	if !status.Valid() {
		return nil, apperrors.NewValidationError("status", "unknown conversation status")
	}
	if err := s.store.UpdateConversationStatus(ctx, conversationID, status); err != nil {
		return nil, err
	}
	return s.publishConversation(ctx, conversationID)
}

// AssignAgent assigns the conversation; an empty agentID unassigns it.
func (s *MessagingService) AssignAgent(ctx context.Context, conversationID, agentID string) (*models.Conversation, error) {
	if err := s.store.AssignAgent(ctx, conversationID, strings.TrimSpace(agentID)); err != nil {
		return nil, err
	}
	return s.publishConversation(ctx, conversationID)
}

func (s *MessagingService) publishConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	conv, err := s.store.FindConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.NewNotFoundError("conversation", conversationID)
	}
	s.publisher.Publish(models.InboxEvent{
		Type:           models.InboxEventConversation,
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Conversation:   conv,
		At:             s.now().UTC(),
	})
	return conv, nil
}
