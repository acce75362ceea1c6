// Package realtime streams inbox events to operators over websockets.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"wabagate/internal/metrics"
	"wabagate/internal/models"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

const (
	defaultBufferSize   = 64
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
)

type subscriber struct {
	tenantID string
	events   chan models.InboxEvent
	dropped  chan struct{}
	once     sync.Once
}

func (s *subscriber) drop() {
	s.once.Do(func() { close(s.dropped) })
}

// Hub fans events out to the websocket subscribers of each tenant. A
// subscriber that cannot keep up is disconnected rather than blocking Publish.
type Hub struct {
	mu           sync.RWMutex
	subs         map[string]map[*subscriber]struct{}
	logger       *logrus.Logger
	bufferSize   int
	writeTimeout time.Duration
	pingInterval time.Duration
	originHosts  []string
}

type Option func(*Hub)

// WithBufferSize sets how many events may wait per subscriber.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithOriginPatterns allows cross-origin browser clients from the given host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.originHosts = append(h.originHosts, patterns...) }
}

func NewHub(logger *logrus.Logger, opts ...Option) *Hub {
	h := &Hub{
		subs:         make(map[string]map[*subscriber]struct{}),
		logger:       logger,
		bufferSize:   defaultBufferSize,
		writeTimeout: defaultWriteTimeout,
		pingInterval: defaultPingInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish delivers event to every subscriber of event.TenantID without blocking.
func (h *Hub) Publish(event models.InboxEvent) {
	if event.TenantID == "" {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[event.TenantID] {
		select {
		case s.events <- event:
			metrics.IncrementCounter(metrics.RealtimeEventsPublished, nil, "Inbox events pushed to subscribers")
		default:
			metrics.IncrementCounter(metrics.RealtimeSlowConsumers, nil, "Subscribers dropped for falling behind")
			s.drop()
		}
	}
}

// Subscribers returns the number of live subscribers for tenantID.
func (h *Hub) Subscribers(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenantID])
}

func (h *Hub) subscribe(tenantID string) *subscriber {
	s := &subscriber{
		tenantID: tenantID,
		events:   make(chan models.InboxEvent, h.bufferSize),
		dropped:  make(chan struct{}),
	}
	h.mu.Lock()
	if h.subs[tenantID] == nil {
		h.subs[tenantID] = make(map[*subscriber]struct{})
	}
	h.subs[tenantID][s] = struct{}{}
	n := len(h.subs[tenantID])
	h.mu.Unlock()
	metrics.SetGauge(metrics.RealtimeSubscribers, float64(h.total()), nil, "Connected inbox subscribers")
	h.logger.WithFields(logrus.Fields{"tenant_id": tenantID, "subscribers": n}).Debug("Inbox subscriber connected")
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[s.tenantID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.tenantID)
		}
	}
	h.mu.Unlock()
	metrics.SetGauge(metrics.RealtimeSubscribers, float64(h.total()), nil, "Connected inbox subscribers")
	h.logger.WithField("tenant_id", s.tenantID).Debug("Inbox subscriber disconnected")
}

func (h *Hub) total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// ServeTenant upgrades the request and streams tenantID's events until the
// client goes away, the request context ends, or the subscriber falls behind.
func (h *Hub) ServeTenant(w http.ResponseWriter, r *http.Request, tenantID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originHosts})
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	s := h.subscribe(tenantID)
	defer h.unsubscribe(s)

	// Clients only listen; CloseRead handles control frames and detects disconnects.
	ctx := conn.CloseRead(r.Context())

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dropped:
			conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			return
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case event := <-s.events:
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(wctx, conn, event)
			cancel()
			if err != nil {
				h.logger.WithError(err).WithField("tenant_id", tenantID).Debug("Inbox event write failed")
				return
			}
		}
	}
}
