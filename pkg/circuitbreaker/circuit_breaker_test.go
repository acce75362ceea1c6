package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProvider = errors.New("provider unavailable")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cb := NewWithConfig(cfg, logger)
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	cb.SetClock(clock.Now)
	return cb, clock
}

func fail(context.Context) error    { return errProvider }
func succeed(context.Context) error { return nil }

func TestStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(999).String())
}

func TestNewAppliesDefaults(t *testing.T) {
	cb := NewWithConfig(Config{Name: "graph"}, nil)
	assert.Equal(t, uint32(defaultMaxFailures), cb.cfg.MaxFailures)
	assert.Equal(t, defaultOpenTimeout, cb.cfg.OpenTimeout)
	assert.Equal(t, uint32(defaultHalfOpenProbes), cb.cfg.HalfOpenProbes)
	assert.NotNil(t, cb.logger)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestExecute_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "graph", MaxFailures: 3, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errProvider)
	}
	assert.Equal(t, StateOpen, cb.GetState())
	assert.False(t, cb.Allow())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called, "open breaker must not call through")
	assert.True(t, IsCircuitBreakerError(err))
	assert.True(t, IsCircuitBreakerError(fmt.Errorf("send: %w", err)))
	assert.Equal(t, uint64(1), cb.GetStats().Rejected)
}

func TestExecute_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "graph", MaxFailures: 2})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, uint32(1), cb.GetStats().Failures)
}

func TestExecute_IgnoresErrorsNotCountedAsFailures(t *testing.T) {
	permanent := errors.New("invalid recipient")
	cb, _ := newTestBreaker(Config{
		Name:        "graph",
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, permanent) },
	})

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return permanent }), permanent)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "graph", MaxFailures: 1, OpenTimeout: 30 * time.Second, HalfOpenProbes: 2})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.GetState())

	clock.Advance(29 * time.Second)
	assert.Equal(t, StateOpen, cb.GetState())

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, cb.GetState())
	assert.True(t, cb.Allow())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, uint32(0), cb.GetStats().Failures)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "graph", MaxFailures: 1, OpenTimeout: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Minute)
	require.Equal(t, StateHalfOpen, cb.GetState())

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.GetState())

	clock.Advance(59 * time.Second)
	assert.False(t, cb.Allow(), "reopening restarts the cool-down")
}

func TestHalfOpenLimitsConcurrentProbes(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "graph", MaxFailures: 1, OpenTimeout: time.Second, HalfOpenProbes: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.False(t, cb.Allow())
	err := cb.Execute(ctx, succeed)
	assert.True(t, IsCircuitBreakerError(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestConcurrentExecute(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "graph", MaxFailures: 1000})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = cb.Execute(ctx, succeed)
			} else {
				_ = cb.Execute(ctx, fail)
			}
		}(i)
	}
	wg.Wait()

	stats := cb.GetStats()
	assert.Equal(t, uint64(50), stats.Requests)
	assert.Equal(t, StateClosed, stats.State)
}
