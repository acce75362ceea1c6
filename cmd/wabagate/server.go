package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wabagate/internal/constants"
	apperrors "wabagate/internal/errors"
	"wabagate/internal/middleware"
	"wabagate/internal/models"
	"wabagate/internal/realtime"
	"wabagate/internal/service"
	"wabagate/pkg/circuitbreaker"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// ServerStore is the persistence the HTTP layer touches directly.
type ServerStore interface {
	InsertWebhookEvent(ctx context.Context, body []byte) (*models.WebhookEvent, error)
	Ping(ctx context.Context) error
}

// WebhookNotifier wakes the webhook processor after an event is stored.
type WebhookNotifier interface {
	Notify()
}

type Dependencies struct {
	Store       ServerStore
	Connections *service.ConnectionService
	Messaging   *service.MessagingService
	Processor   WebhookNotifier
	Hub         *realtime.Hub
	Breaker     *circuitbreaker.CircuitBreaker
}

type Server struct {
	cfg     *models.Config
	deps    Dependencies
	router  *mux.Router
	logger  *logrus.Logger
	errLog  *apperrors.Logger
	limiter *RateLimiter
	server  *http.Server
}

func NewServer(cfg *models.Config, deps Dependencies, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: mux.NewRouter(),
		logger: logger,
		errLog: apperrors.FromLogrus(logger),
	}
	if cfg.Server.RateLimitPerMinute > 0 {
		s.limiter = NewRateLimiter(cfg.Server.RateLimitPerMinute, time.Minute)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	if s.logger.IsLevelEnabled(logrus.DebugLevel) {
		s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))
	}
	if s.limiter != nil {
		s.router.Use(s.rateLimit)
	}

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	webhook := s.router.PathPrefix("/webhook").Subrouter()
	webhook.Use(middleware.WebhookObservabilityMiddleware(s.logger, "whatsapp"))
	webhook.HandleFunc("", s.handleWebhookVerify()).Methods(http.MethodGet)
	webhook.HandleFunc("", s.handleWebhookEvent()).Methods(http.MethodPost)

	auth := middleware.APIKeyMiddleware(s.cfg.Server.APIKey, s.logger)

	ws := s.router.PathPrefix("/ws").Subrouter()
	ws.Use(auth)
	ws.HandleFunc("/inbox", s.handleInboxStream()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(auth)

	api.HandleFunc("/accounts/{tenantID}/connect", s.handleStoreTempToken()).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{tenantID}/finalize", s.handleFinalize()).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{tenantID}/manual-token", s.handleManualToken()).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{tenantID}/verify-phone", s.handleVerifyPhone()).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{tenantID}/status", s.handleAccountStatus()).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{tenantID}", s.handleDisconnect()).Methods(http.MethodDelete)

	api.HandleFunc("/tenants/{tenantID}/conversations", s.handleListConversations()).Methods(http.MethodGet)
	api.HandleFunc("/tenants/{tenantID}/messages/search", s.handleSearchMessages()).Methods(http.MethodGet)
	api.HandleFunc("/tenants/{tenantID}/templates", s.handleListTemplates()).Methods(http.MethodGet)
	api.HandleFunc("/tenants/{tenantID}/templates", s.handleCreateTemplate()).Methods(http.MethodPost)
	api.HandleFunc("/tenants/{tenantID}/templates/sync", s.handleSyncTemplates()).Methods(http.MethodPost)

	api.HandleFunc("/conversations/{id}/messages", s.handleReadThread()).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/status", s.handleConversationStatus()).Methods(http.MethodPatch)
	api.HandleFunc("/conversations/{id}/assign", s.handleAssign()).Methods(http.MethodPatch)
	api.HandleFunc("/conversations/{id}/read", s.handleMarkRead()).Methods(http.MethodPost)

	api.HandleFunc("/messages/send", s.handleSendText()).Methods(http.MethodPost)
	api.HandleFunc("/messages/send-template", s.handleSendTemplate()).Methods(http.MethodPost)

	api.HandleFunc("/queue", s.handleEnqueue()).Methods(http.MethodPost)
	api.HandleFunc("/queue/{id}", s.handleGetQueueItem()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientKey(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status          string `json:"status"`
	Database        string `json:"database"`
	ProviderCircuit string `json:"provider_circuit,omitempty"`
	Version         string `json:"version"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "healthy", Database: "ok", Version: Version}
		status := http.StatusOK

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			s.logger.WithError(err).Error("Health check database ping failed")
			resp.Status = "unhealthy"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
		if s.deps.Breaker != nil {
			state := s.deps.Breaker.GetState()
			resp.ProviderCircuit = state.String()
			if state != circuitbreaker.StateClosed && status == http.StatusOK {
				resp.Status = "degraded"
			}
		}
		writeJSON(w, status, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error            string `json:"error"`
	Message          string `json:"message"`
	RequiresTemplate bool   `json:"requires_template,omitempty"`
}

// writeError maps err onto the HTTP surface. Server-side failures are logged;
// client errors are not.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	code := apperrors.GetCode(err)
	resp := errorResponse{
		Error:   strings.ToLower(string(code)),
		Message: apperrors.GetUserMessage(err),
	}
	if code == apperrors.ErrCodeSessionExpired {
		resp.RequiresTemplate = true
	}
	if status >= http.StatusInternalServerError {
		s.errLog.LogError(err, "HTTP request failed", logrus.Fields{
			service.LogFieldMethod: r.Method,
			service.LogFieldURL:    r.URL.Path,
		})
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperrors.NewValidationError("body", "request body must be valid JSON")
	}
	return nil
}
