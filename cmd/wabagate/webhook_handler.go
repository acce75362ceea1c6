package main

import (
	"net/http"

	"wabagate/internal/metrics"
	"wabagate/internal/service"
	"wabagate/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

func (s *Server) handleWebhookVerify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		challenge, ok := verifyChallenge(r, s.cfg.WhatsApp.VerifyToken)
		if !ok {
			s.logger.Warn("Webhook verification failed")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		s.logger.Info("Webhook verification succeeded")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
	}
}

// handleWebhookEvent persists a verified event and acknowledges it. Processing
// happens in the background; a failure to persist returns 500 so the provider
// redelivers.
func (s *Server) handleWebhookEvent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := verifyWebhookRequest(r, s.cfg.WhatsApp.AppSecret)
		if err != nil {
			metrics.IncrementCounter(metrics.WebhookSignatureInvalid, nil, "Webhook requests rejected by signature verification")
			s.logger.WithError(err).Warn("Rejected webhook request")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if s.cfg.WhatsApp.AppSecret == "" {
			s.logger.Warn("Accepting unsigned webhook: app secret not configured")
		}

		event, err := s.deps.Store.InsertWebhookEvent(r.Context(), body)
		if err != nil {
			s.errLog.LogError(err, "Failed to persist webhook event")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		metrics.IncrementCounter(metrics.WebhookEventsReceived, nil, "Webhook events accepted")
		s.logger.WithFields(logrus.Fields{
			service.LogFieldEventID: event.ID,
			service.LogFieldSize:    len(body),
		}).Debug("Webhook event stored")

		if s.deps.Processor != nil {
			s.deps.Processor.Notify()
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(types.WebhookAcknowledgementBody))
	}
}
