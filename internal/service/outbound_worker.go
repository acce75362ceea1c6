package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"wabagate/internal/constants"
	apperrors "wabagate/internal/errors"
	"wabagate/internal/metrics"
	"wabagate/internal/models"
	"wabagate/internal/retry"
	"wabagate/internal/tracing"
	"wabagate/pkg/circuitbreaker"
	"wabagate/pkg/whatsapp"
	"wabagate/pkg/whatsapp/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// OutboundStore is the persistence the delivery worker uses.
type OutboundStore interface {
	AccountStore
	ConversationStore
	MessageStore
	QueueStore
}

type OutboundWorkerConfig struct {
	WorkerID     string
	Interval     time.Duration
	BatchSize    int
	BaseDelay    time.Duration
	SendTimeout  time.Duration
	ClaimTimeout time.Duration
}

// BatchResult summarizes one pass over the queue.
type BatchResult struct {
	Sent              int  `json:"sent"`
	Retried           int  `json:"retried"`
	PermanentlyFailed int  `json:"permanently_failed"`
	Skipped           int  `json:"skipped"`
	Paused            bool `json:"paused"`
}

// OutboundWorker delivers queued messages. Several workers may poll the same
// database; the persisted claim keeps each item with one of them.
type OutboundWorker struct {
	store     OutboundStore
	client    whatsapp.Client
	breaker   *circuitbreaker.CircuitBreaker
	publisher Publisher
	cfg       OutboundWorkerConfig
	logger    *logrus.Logger
	errLog    *apperrors.Logger
	now       func() time.Time
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func NewOutboundWorker(store OutboundStore, client whatsapp.Client, breaker *circuitbreaker.CircuitBreaker, publisher Publisher, cfg OutboundWorkerConfig, logger *logrus.Logger) *OutboundWorker {
	if logger == nil {
		logger = logrus.New()
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if breaker == nil {
		breaker = circuitbreaker.NewWithConfig(circuitbreaker.Config{
			Name:      "whatsapp-send",
			IsFailure: countsAgainstProvider,
		}, logger)
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = defaultWorkerID()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = constants.DefaultQueueIntervalSec * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.DefaultQueueBatchSize
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = constants.DefaultQueueBaseDelaySec * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = constants.DefaultQueueSendTimeoutSec * time.Second
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = constants.DefaultQueueClaimTimeoutSec * time.Second
	}
	return &OutboundWorker{
		store:     store,
		client:    client,
		breaker:   breaker,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		errLog:    apperrors.FromLogrus(logger),
		now:       time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (w *OutboundWorker) SetClock(now func() time.Time) {
	w.now = now
}

func (w *OutboundWorker) Breaker() *circuitbreaker.CircuitBreaker {
	return w.breaker
}

// Start polls the queue until ctx is done.
func (w *OutboundWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.WithFields(logrus.Fields{
		LogFieldWorkerID: w.cfg.WorkerID,
		"interval":       w.cfg.Interval,
	}).Info("Outbound worker started")

	for {
		if _, err := w.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
			w.errLog.LogError(err, "Outbound batch failed", logrus.Fields{LogFieldWorkerID: w.cfg.WorkerID})
		}
		select {
		case <-ctx.Done():
			w.logger.WithField(LogFieldWorkerID, w.cfg.WorkerID).Info("Outbound worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// ProcessBatch releases expired claims, then claims and sends up to BatchSize
// eligible items. While the breaker is open nothing is claimed.
func (w *OutboundWorker) ProcessBatch(ctx context.Context) (BatchResult, error) {
	var result BatchResult
	now := w.now()

	if n, err := w.store.ReleaseStaleOutboundClaims(ctx, now.Add(-w.cfg.ClaimTimeout)); err != nil {
		w.errLog.LogWarn(err, "Failed to release stale claims")
	} else if n > 0 {
		w.logger.WithField(LogFieldCount, n).Warn("Released stale outbound claims")
	}
	w.recordDepth(ctx)

	if !w.breaker.Allow() {
		metrics.IncrementCounter(metrics.QueuePaused, nil, "Queue passes skipped while the provider breaker is open")
		w.logger.WithField(LogFieldWorkerID, w.cfg.WorkerID).Debug("Provider breaker open, pausing queue")
		result.Paused = true
		return result, nil
	}

	items, err := w.store.ListEligibleOutbound(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return result, err
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if !w.breaker.Allow() {
			result.Paused = true
			break
		}
		claimed, err := w.store.ClaimOutbound(ctx, item.ID, w.cfg.WorkerID, w.now())
		if err != nil {
			w.errLog.LogWarn(err, "Failed to claim queue item", logrus.Fields{LogFieldQueueItemID: item.ID})
			continue
		}
		if !claimed {
			result.Skipped++
			continue
		}

		switch w.deliver(ctx, item) {
		case outcomeSent:
			result.Sent++
		case outcomeRetry:
			result.Retried++
		case outcomePermanent:
			result.PermanentlyFailed++
		case outcomeReleased:
			result.Paused = true
		}
		if result.Paused {
			break
		}
	}
	return result, nil
}

type deliveryOutcome int

const (
	outcomeSent deliveryOutcome = iota
	outcomeRetry
	outcomePermanent
	outcomeReleased
)

func (w *OutboundWorker) deliver(ctx context.Context, item *models.QueueItem) deliveryOutcome {
	ctx, span := tracing.StartSpan(ctx, "queue.deliver",
		attribute.String("queue.item_id", item.ID),
		attribute.Int("queue.attempt", item.Attempts+1))
	defer span.End()

	fields := logrus.Fields{
		LogFieldQueueItemID: item.ID,
		LogFieldTenantID:    item.TenantID,
		LogFieldAttempt:     item.Attempts + 1,
		LogFieldMaxAttempts: item.MaxAttempts,
	}

	account, err := w.store.FindAccountByTenant(ctx, item.TenantID, true)
	if err != nil {
		return w.fail(ctx, item, err, fields)
	}
	if !account.CanSend() {
		return w.permanent(ctx, item, apperrors.NewStructuralTenantError(item.TenantID, "no sending account, token or phone number id"), fields)
	}

	var resp *types.SendResponse
	start := time.Now()
	err = w.breaker.Execute(ctx, func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
		defer cancel()
		var sendErr error
		resp, sendErr = w.client.Send(sendCtx, account.PhoneNumberID, account.AccessToken, item.Payload)
		return sendErr
	})
	metrics.RecordTimer(metrics.QueueSendDuration, time.Since(start), nil, "Queue send duration")

	if circuitbreaker.IsCircuitBreakerError(err) {
		if relErr := w.store.ReleaseOutboundClaim(ctx, item.ID, w.now()); relErr != nil {
			w.errLog.LogWarn(relErr, "Failed to release queue item", fields)
		}
		return outcomeReleased
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		if isTerminalSendError(err) {
			return w.permanent(ctx, item, providerError(err), fields)
		}
		return w.fail(ctx, item, providerError(err), fields)
	}

	sentAt := w.now().UTC()
	providerID := resp.MessageID()
	if err := w.store.MarkOutboundSent(ctx, item.ID, providerID, sentAt); err != nil {
		w.errLog.LogError(err, "Sent queue item could not be marked sent", fields)
		return outcomeSent
	}
	metrics.IncrementCounter(metrics.QueueSent, nil, "Queue items delivered")
	logEntry(ctx, w.logger, fields).WithField(LogFieldProviderID, providerID).Info("Queue item sent")

	if item.ConversationID != "" {
		w.recordSent(ctx, item, account, providerID, sentAt)
	}
	return outcomeSent
}

// fail consumes an attempt and schedules a retry, or gives up once attempts run out.
func (w *OutboundWorker) fail(ctx context.Context, item *models.QueueItem, cause error, fields logrus.Fields) deliveryOutcome {
	attempts := item.Attempts + 1
	if attempts >= item.MaxAttempts {
		return w.permanent(ctx, item, cause, fields)
	}
	next := retry.NextAttemptAt(w.now(), w.cfg.BaseDelay, attempts)
	if err := w.store.MarkOutboundFailed(ctx, item.ID, cause.Error(), next); err != nil {
		w.errLog.LogError(err, "Failed to record queue item failure", fields)
	}
	metrics.IncrementCounter(metrics.QueueRetried, nil, "Queue items scheduled for retry")
	w.errLog.LogRetryableError(cause, "Queue item send failed, will retry", fields, logrus.Fields{
		LogFieldNextAttempt: next,
	})
	return outcomeRetry
}

func (w *OutboundWorker) permanent(ctx context.Context, item *models.QueueItem, cause error, fields logrus.Fields) deliveryOutcome {
	if err := w.store.MarkOutboundPermanentlyFailed(ctx, item.ID, cause.Error()); err != nil {
		w.errLog.LogError(err, "Failed to record permanent queue failure", fields)
	}
	metrics.IncrementCounter(metrics.QueuePermanentlyFailed, nil, "Queue items that will not be retried")
	w.errLog.LogError(cause, "Queue item permanently failed", fields)
	return outcomePermanent
}

// recordSent stores the delivered item as an outbound message on its conversation.
func (w *OutboundWorker) recordSent(ctx context.Context, item *models.QueueItem, account *models.Account, providerID string, sentAt time.Time) {
	fields := logrus.Fields{LogFieldQueueItemID: item.ID, LogFieldConversationID: item.ConversationID}

	conv, err := w.store.FindConversation(ctx, item.ConversationID)
	if err != nil || conv == nil {
		w.errLog.LogWarn(err, "Queue item conversation not found, message not recorded", fields)
		return
	}

	msg := messageFromPayload(item.Payload)
	msg.ConversationID = conv.ID
	msg.TenantID = conv.TenantID
	msg.ProviderMessageID = providerID
	msg.FromPhone = account.PhoneNumber
	msg.ToPhone = conv.Phone
	msg.Status = models.MessageStatusSent
	msg.SentAt = &sentAt
	msg.Payload = item.Payload

	if err := w.store.CreateOutboundMessage(ctx, msg); err != nil {
		w.errLog.LogWarn(err, "Failed to record delivered queue item", fields)
		return
	}
	preview := msg.Preview()
	updated, err := w.store.UpsertConversationByPhone(ctx, conv.TenantID, account.ID, conv.Phone, models.ConversationPatch{
		LastMessageBody: &preview,
	})
	if err != nil {
		w.errLog.LogWarn(err, "Failed to update conversation preview", fields)
		updated = conv
	}
	if msg.Type == models.MessageTypeTemplate {
		if err := w.store.ReactivateSession(ctx, conv.ID, sentAt); err != nil {
			w.errLog.LogWarn(err, "Failed to reactivate session", fields)
		}
	}
	w.publisher.Publish(models.InboxEvent{
		Type:           models.InboxEventMessageOutbound,
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Message:        msg,
		Conversation:   updated,
		At:             sentAt,
	})
}

// messageFromPayload recovers the displayable parts of a provider send body.
func messageFromPayload(payload json.RawMessage) *models.Message {
	var req types.SendRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return &models.Message{Type: models.MessageTypeUnknown}
	}
	msg := &models.Message{Type: models.ParseMessageType(req.Type)}
	if req.Text != nil {
		msg.Body = req.Text.Body
	}
	if req.Template != nil {
		msg.TemplateName = req.Template.Name
		msg.TemplateLanguage = req.Template.Language.Code
		for _, c := range req.Template.Components {
			for _, p := range c.Parameters {
				msg.TemplateParams = append(msg.TemplateParams, p.Text)
			}
		}
	}
	return msg
}

func (w *OutboundWorker) recordDepth(ctx context.Context) {
	stats, err := w.store.QueueStats(ctx)
	if err != nil {
		return
	}
	for status, n := range stats {
		metrics.SetGauge(metrics.QueueDepth, float64(n), map[string]string{"status": string(status)}, "Queue items by status")
	}
}
