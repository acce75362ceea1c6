package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"wabagate/internal/constants"
	"wabagate/internal/database"
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

const (
	fieldMessages       = "messages"
	fieldTemplateStatus = "message_template_status_update"
)

var errMalformedWebhook = stderrors.New("malformed webhook body")

// WebhookStore is the persistence the webhook processor uses.
type WebhookStore interface {
	AccountStore
	ConversationStore
	MessageStore
	TemplateStore
	WebhookEventStore
	RecordInboundMessage(ctx context.Context, r database.InboundRecord) (*models.Conversation, bool, error)
}

type WebhookProcessorConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	MediaTimeout time.Duration
}

// WebhookProcessor drains the durable webhook inbox and applies each event to
// the tenant its routing key belongs to.
type WebhookProcessor struct {
	store     WebhookStore
	client    whatsapp.Client
	publisher Publisher
	deduper   Deduper
	cfg       WebhookProcessorConfig
	logger    *logrus.Logger
	errLog    *apperrors.Logger
	now       func() time.Time
	notify    chan struct{}
	mu        sync.Mutex
}

func NewWebhookProcessor(store WebhookStore, client whatsapp.Client, publisher Publisher, deduper Deduper, cfg WebhookProcessorConfig, logger *logrus.Logger) *WebhookProcessor {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if deduper == nil {
		deduper = noopDeduper{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultWebhookPollIntervalSec * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.DefaultWebhookBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = constants.DefaultWebhookMaxAttempts
	}
	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = 10 * time.Second
	}
	return &WebhookProcessor{
		store:     store,
		client:    client,
		publisher: publisher,
		deduper:   deduper,
		cfg:       cfg,
		logger:    logger,
		errLog:    apperrors.FromLogrus(logger),
		now:       time.Now,
		notify:    make(chan struct{}, 1),
	}
}

// SetClock replaces the time source. Tests only.
func (p *WebhookProcessor) SetClock(now func() time.Time) {
	p.now = now
}

// Notify wakes the processor loop after a new event was persisted.
func (p *WebhookProcessor) Notify() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Start runs the processor loop until ctx is done. Events left in processing
// by a previous run are put back to pending first.
func (p *WebhookProcessor) Start(ctx context.Context) {
	if n, err := p.store.ReleaseProcessingWebhookEvents(ctx); err != nil {
		p.errLog.LogError(err, "Failed to release in-flight webhook events")
	} else if n > 0 {
		p.logger.WithField(LogFieldCount, n).Info("Released in-flight webhook events")
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.logger.WithField("interval", p.cfg.PollInterval).Info("Webhook processor started")
	for {
		if _, err := p.ProcessPending(ctx); err != nil && ctx.Err() == nil {
			p.errLog.LogError(err, "Webhook processing pass failed")
		}
		select {
		case <-ctx.Done():
			p.logger.Info("Webhook processor stopped")
			return
		case <-ticker.C:
		case <-p.notify:
		}
	}
}

// ProcessPending claims a batch of pending events and processes them. It
// returns the number of events processed successfully.
func (p *WebhookProcessor) ProcessPending(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	events, err := p.store.ClaimWebhookEvents(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		fields := logrus.Fields{LogFieldEventID: ev.ID, LogFieldAttempt: ev.Attempts}

		if err := p.Process(ctx, ev.Body); err != nil {
			maxAttempts := p.cfg.MaxAttempts
			if stderrors.Is(err, errMalformedWebhook) {
				maxAttempts = 0
			}
			if markErr := p.store.MarkWebhookEventFailed(ctx, ev.ID, err.Error(), maxAttempts); markErr != nil {
				p.errLog.LogError(markErr, "Failed to record webhook event failure", fields)
			}
			metrics.IncrementCounter(metrics.WebhookEventsFailed, nil, "Webhook events that failed processing")
			p.errLog.LogWarn(err, "Webhook event processing failed", fields)
			continue
		}

		if err := p.store.MarkWebhookEventProcessed(ctx, ev.ID, p.now()); err != nil {
			p.errLog.LogError(err, "Failed to mark webhook event processed", fields)
			continue
		}
		metrics.IncrementCounter(metrics.WebhookEventsProcessed, nil, "Webhook events processed")
		done++
	}
	return done, nil
}

// Process demultiplexes one webhook body. Each message, status and template
// update is handled in its own error scope; failures are joined and returned
// so the event is retried. Retrying is safe: an inbound message and its
// conversation side effects commit together, and status and template updates
// only move forward.
func (p *WebhookProcessor) Process(ctx context.Context, body []byte) error {
	payload, err := whatsapp.ParseWebhook(body)
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformedWebhook, err)
	}

	ctx, span := tracing.StartSpan(ctx, "webhook.process",
		attribute.Int("webhook.entries", len(payload.Entry)))
	defer span.End()

	var errs []error
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if err := p.processChange(ctx, entry, change); err != nil {
				errs = append(errs, err)
			}
		}
	}
	err = stderrors.Join(errs...)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (p *WebhookProcessor) processChange(ctx context.Context, entry types.Entry, change types.Change) error {
	account, err := p.route(ctx, entry, change)
	if err != nil {
		return err
	}
	if account == nil {
		return nil
	}

	switch change.Field {
	case fieldMessages:
		err = p.processMessages(ctx, account, change.Value)
		if touchErr := p.store.TouchAccountWebhook(ctx, account.PhoneNumberID, p.now()); touchErr != nil {
			p.errLog.LogWarn(touchErr, "Failed to record webhook time", logrus.Fields{LogFieldTenantID: account.TenantID})
		}
		return err
	case fieldTemplateStatus:
		return p.processTemplateStatus(ctx, account, change.Value)
	default:
		p.logger.WithFields(logrus.Fields{
			LogFieldWebhookField: change.Field,
			LogFieldTenantID:     account.TenantID,
		}).Debug("Ignoring webhook field")
		return nil
	}
}

// route resolves the tenant a change belongs to. Unroutable changes return a
// nil account and are dropped.
func (p *WebhookProcessor) route(ctx context.Context, entry types.Entry, change types.Change) (*models.Account, error) {
	routingKey := change.Value.RoutingKey()
	var (
		account *models.Account
		err     error
	)
	switch {
	case routingKey != "":
		account, err = p.store.FindAccountByRoutingKey(ctx, routingKey, true)
	case change.Field == fieldTemplateStatus && entry.ID != "":
		account, err = p.store.FindAccountByWABA(ctx, entry.ID, true)
	}
	if err != nil {
		return nil, err
	}
	if account == nil {
		metrics.IncrementCounter(metrics.WebhookUnroutable, map[string]string{"field": change.Field}, "Webhook changes with no matching account")
		logEntry(ctx, p.logger, logrus.Fields{
			LogFieldRoutingKey:   routingKey,
			LogFieldWABAID:       entry.ID,
			LogFieldWebhookField: change.Field,
		}).Info("No account for webhook routing key, dropping change")
		return nil, nil
	}
	return account, nil
}

func (p *WebhookProcessor) processMessages(ctx context.Context, account *models.Account, value types.ChangeValue) error {
	var errs []error
	for _, msg := range value.Messages {
		if err := p.handleInbound(ctx, account, value, msg); err != nil {
			p.errLog.LogWarn(err, "Failed to process inbound message", logrus.Fields{
				LogFieldTenantID:   account.TenantID,
				LogFieldProviderID: msg.ID,
			})
			errs = append(errs, err)
		}
	}
	for _, st := range value.Statuses {
		if err := p.handleStatus(ctx, account, st); err != nil {
			p.errLog.LogWarn(err, "Failed to process status update", logrus.Fields{
				LogFieldTenantID:   account.TenantID,
				LogFieldProviderID: st.ID,
			})
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// isDuplicate checks the shared dedup mark first. A mark without a stored
// message means an earlier attempt failed part way, so it is processed again.
func (p *WebhookProcessor) isDuplicate(ctx context.Context, providerID string) (bool, error) {
	first, err := p.deduper.MarkSeen(ctx, providerID)
	if err != nil {
		p.errLog.LogWarn(err, "Dedup cache unavailable", logrus.Fields{LogFieldProviderID: providerID})
	} else if first {
		return false, nil
	}
	existing, err := p.store.FindMessageByProviderID(ctx, providerID)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

func (p *WebhookProcessor) handleInbound(ctx context.Context, account *models.Account, value types.ChangeValue, in types.InboundMessage) error {
	if in.ID == "" || in.From == "" {
		p.logger.WithField(LogFieldTenantID, account.TenantID).Warn("Inbound message without id or sender, skipping")
		return nil
	}
	labels := map[string]string{"tenant_id": account.TenantID}

	dup, err := p.isDuplicate(ctx, in.ID)
	if err != nil {
		return err
	}
	if dup {
		metrics.IncrementCounter(metrics.InboundDuplicates, labels, "Inbound messages already stored")
		return nil
	}

	msg := p.inboundMessage(ctx, account, in)
	customerAt := in.SentAt()
	if customerAt.IsZero() {
		customerAt = p.now()
	}

	conv, created, err := p.store.RecordInboundMessage(ctx, database.InboundRecord{
		AccountID:   account.ID,
		DisplayName: value.ContactName(in.From),
		Preview:     msg.Preview(),
		CustomerAt:  customerAt,
		Message:     msg,
	})
	if err != nil {
		return err
	}
	if !created || conv == nil {
		metrics.IncrementCounter(metrics.InboundDuplicates, labels, "Inbound messages already stored")
		return nil
	}

	metrics.IncrementCounter(metrics.InboundMessages, labels, "Inbound customer messages stored")
	logEntry(ctx, p.logger, logrus.Fields{
		LogFieldTenantID:       account.TenantID,
		LogFieldConversationID: conv.ID,
		LogFieldProviderID:     in.ID,
		LogFieldMessageType:    msg.Type,
	}).Info("Inbound message stored")

	p.publisher.Publish(models.InboxEvent{
		Type:           models.InboxEventMessageInbound,
		TenantID:       account.TenantID,
		ConversationID: conv.ID,
		Message:        msg,
		Conversation:   conv,
		At:             p.now(),
	})
	return nil
}

func (p *WebhookProcessor) inboundMessage(ctx context.Context, account *models.Account, in types.InboundMessage) *models.Message {
	msg := &models.Message{
		TenantID:          account.TenantID,
		Direction:         models.DirectionInbound,
		ProviderMessageID: in.ID,
		Type:              models.ParseMessageType(in.Type),
		FromPhone:         validation.NormalizePhone(in.From),
		ToPhone:           account.PhoneNumber,
		Status:            models.MessageStatusDelivered,
	}
	if sent := in.SentAt(); !sent.IsZero() {
		msg.SentAt = &sent
	}
	if raw, err := json.Marshal(in); err == nil {
		msg.Payload = raw
	}
	if in.Text != nil {
		msg.Body = in.Text.Body
	}

	if media := in.MediaPart(); media != nil {
		msg.MediaID = media.ID
		msg.MediaMimeType = media.MimeType
		msg.Caption = media.Caption
		msg.MediaFilename = media.Filename
		if media.ID != "" {
			msg.MediaURL = p.mediaURL(ctx, account, media.ID)
		}
	}
	return msg
}

// mediaURL is best effort: the message is stored without a URL when the lookup fails.
func (p *WebhookProcessor) mediaURL(ctx context.Context, account *models.Account, mediaID string) string {
	if account.AccessToken == "" {
		return ""
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.MediaTimeout)
	defer cancel()
	info, err := p.client.GetMediaURL(callCtx, mediaID, account.AccessToken)
	if err != nil {
		p.errLog.LogWarn(err, "Failed to resolve media URL", logrus.Fields{
			LogFieldTenantID: account.TenantID,
			"media_id":       mediaID,
		})
		return ""
	}
	return info.URL
}

func (p *WebhookProcessor) handleStatus(ctx context.Context, account *models.Account, st types.Status) error {
	fields := logrus.Fields{
		LogFieldTenantID:   account.TenantID,
		LogFieldProviderID: st.ID,
		LogFieldStatus:     st.Status,
	}
	status, ok := models.ParseMessageStatus(st.Status)
	if !ok || st.ID == "" {
		logEntry(ctx, p.logger, fields).Debug("Ignoring unknown status update")
		return nil
	}

	msg, err := p.store.FindMessageByProviderID(ctx, st.ID)
	if err != nil {
		return err
	}
	ignored := map[string]string{"tenant_id": account.TenantID}
	if msg == nil {
		metrics.IncrementCounter(metrics.StatusUpdatesIgnored, ignored, "Status updates that matched no message")
		logEntry(ctx, p.logger, fields).Info("Status update for unknown message, dropping")
		return nil
	}
	if msg.TenantID != account.TenantID {
		metrics.IncrementCounter(metrics.StatusUpdatesIgnored, ignored, "Status updates that matched no message")
		logEntry(ctx, p.logger, fields).Warn("Status update routed to a different tenant than its message, dropping")
		return nil
	}

	at := st.At()
	if at.IsZero() {
		at = p.now()
	}
	applied, err := p.store.UpdateMessageStatus(ctx, st.ID, status, database.StatusExtra{At: at, Reason: st.Reason()})
	if err != nil {
		return err
	}
	if !applied {
		logEntry(ctx, p.logger, fields).Debug("Status update would regress message, ignoring")
		return nil
	}

	metrics.IncrementCounter(metrics.StatusUpdates, map[string]string{"status": string(status)}, "Message status updates applied")
	msg.Status = status
	if reason := st.Reason(); reason != "" {
		msg.StatusReason = reason
	}
	p.publisher.Publish(models.InboxEvent{
		Type:           models.InboxEventMessageStatus,
		TenantID:       account.TenantID,
		ConversationID: msg.ConversationID,
		Message:        msg,
		Status:         string(status),
		At:             p.now(),
	})
	return nil
}

func (p *WebhookProcessor) processTemplateStatus(ctx context.Context, account *models.Account, value types.ChangeValue) error {
	fields := logrus.Fields{
		LogFieldTenantID: account.TenantID,
		LogFieldTemplate: value.MessageTemplateName,
		LogFieldLanguage: value.MessageTemplateLanguage,
		LogFieldStatus:   value.Event,
	}
	status, ok := models.ParseTemplateStatus(value.Event)
	if !ok || value.MessageTemplateName == "" {
		logEntry(ctx, p.logger, fields).Debug("Ignoring template status update")
		return nil
	}

	tpl, err := p.store.FindTemplate(ctx, account.TenantID, value.MessageTemplateName, value.MessageTemplateLanguage)
	if err != nil {
		return err
	}
	if tpl == nil {
		logEntry(ctx, p.logger, fields).Info("Template status update for unknown template, dropping")
		return nil
	}

	reason := value.Reason
	if reason == "NONE" {
		reason = ""
	}
	if err := p.store.UpdateTemplateStatus(ctx, tpl.ID, status, value.MessageTemplateID.String(), reason); err != nil {
		return err
	}
	metrics.IncrementCounter(metrics.TemplateStatusUpdates, map[string]string{"status": string(status)}, "Template review decisions applied")
	logEntry(ctx, p.logger, fields).Info("Template status updated")

	tpl.Status = status
	tpl.RejectedReason = reason
	if id := value.MessageTemplateID.String(); id != "" {
		tpl.ProviderTemplateID = id
	}
	p.publisher.Publish(models.InboxEvent{
		Type:     models.InboxEventTemplateStatus,
		TenantID: account.TenantID,
		Template: tpl,
		Status:   string(status),
		At:       p.now(),
	})
	return nil
}
