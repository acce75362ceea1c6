package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes a breaker. Zero values fall back to defaults.
type Config struct {
	Name string
	// MaxFailures is the number of consecutive counted failures that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before letting probes through.
	OpenTimeout time.Duration
	// HalfOpenProbes successful probes close the breaker again.
	HalfOpenProbes uint32
	// IsFailure decides which errors count against the provider. Nil counts every error.
	IsFailure func(error) bool
}

const (
	defaultMaxFailures    = 5
	defaultOpenTimeout    = 30 * time.Second
	defaultHalfOpenProbes = 1
)

// CircuitBreaker stops calls to a failing provider for a cool-down period.
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu             sync.Mutex
	state          State
	failures       uint32
	probesInFlight uint32
	probeSuccesses uint32
	openedAt       time.Time
	requests       uint64
	rejected       uint64

	logger *logrus.Logger
}

// New creates a breaker with default settings.
func New(name string, maxFailures uint32, openTimeout time.Duration) *CircuitBreaker {
	return NewWithConfig(Config{Name: name, MaxFailures: maxFailures, OpenTimeout: openTimeout}, nil)
}

// NewWithConfig creates a breaker. A nil logger gets a fresh logrus logger.
func NewWithConfig(cfg Config, logger *logrus.Logger) *CircuitBreaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	if cfg.HalfOpenProbes == 0 {
		cfg.HalfOpenProbes = defaultHalfOpenProbes
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CircuitBreaker{
		cfg:    cfg,
		now:    time.Now,
		state:  StateClosed,
		logger: logger,
	}
}

// SetClock replaces the time source. Tests only.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

// Allow reports whether a call would currently be let through, without
// reserving a half-open probe slot.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance()
	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return cb.probesInFlight < cb.cfg.HalfOpenProbes
	default:
		return false
	}
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance()
	switch cb.state {
	case StateClosed:
	case StateHalfOpen:
		if cb.probesInFlight >= cb.cfg.HalfOpenProbes {
			cb.rejected++
			return &CircuitBreakerError{Name: cb.cfg.Name, State: cb.state}
		}
		cb.probesInFlight++
	default:
		cb.rejected++
		return &CircuitBreakerError{Name: cb.cfg.Name, State: cb.state}
	}
	cb.requests++
	return nil
}

// advance moves an expired open breaker to half-open. Caller holds mu.
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.OpenTimeout {
		cb.state = StateHalfOpen
		cb.probesInFlight = 0
		cb.probeSuccesses = 0
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.cfg.Name,
			"state":           StateHalfOpen.String(),
		}).Info("Circuit breaker transitioned to half-open")
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	counted := err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err))

	switch cb.state {
	case StateHalfOpen:
		if cb.probesInFlight > 0 {
			cb.probesInFlight--
		}
		if counted {
			cb.trip()
			return
		}
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.cfg.HalfOpenProbes {
			cb.reset()
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.cfg.Name,
				"state":           StateClosed.String(),
			}).Info("Circuit breaker closed after successful recovery")
		}
	case StateClosed:
		if !counted {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			cb.trip()
		}
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.probesInFlight = 0
	cb.probeSuccesses = 0
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.cfg.Name,
		"failures":        cb.failures,
		"state":           StateOpen.String(),
		"open_for":        cb.cfg.OpenTimeout.String(),
	}).Warn("Circuit breaker opened due to failures")
}

func (cb *CircuitBreaker) reset() {
	cb.state = StateClosed
	cb.failures = 0
	cb.probesInFlight = 0
	cb.probeSuccesses = 0
}

// GetState returns the current state, moving open to half-open once the timeout elapsed.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:     cb.cfg.Name,
		State:    cb.state,
		Failures: cb.failures,
		Requests: cb.requests,
		Rejected: cb.rejected,
		OpenedAt: cb.openedAt,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name     string    `json:"name"`
	State    State     `json:"-"`
	Failures uint32    `json:"consecutive_failures"`
	Requests uint64    `json:"requests"`
	Rejected uint64    `json:"rejected"`
	OpenedAt time.Time `json:"opened_at,omitempty"`
}

// CircuitBreakerError is returned instead of calling through an open breaker.
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if an error is, or wraps, a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
