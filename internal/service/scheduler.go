package service

import (
	"context"
	"time"

	"wabagate/internal/constants"
	"wabagate/internal/metrics"

	"github.com/sirupsen/logrus"
)

// MaintenanceStore is what the scheduler sweeps.
type MaintenanceStore interface {
	ExpireLapsedSessions(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeWebhookEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler periodically flips lapsed customer sessions to inactive and purges
// processed webhook events past their retention.
type Scheduler struct {
	store         MaintenanceStore
	retentionDays int
	interval      time.Duration
	logger        *logrus.Logger
	stopCh        chan struct{}
	now           func() time.Time
}

func NewScheduler(store MaintenanceStore, retentionDays int, interval time.Duration, logger *logrus.Logger) *Scheduler {
	if interval <= 0 {
		interval = constants.DefaultMaintenanceIntervalMin * time.Minute
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultWebhookRetentionDays
	}
	return &Scheduler{
		store:         store,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger,
		stopCh:        make(chan struct{}),
		now:           time.Now,
	}
}

// Start runs a pass immediately and then on every tick until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("Starting maintenance scheduler")

	s.runMaintenance(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runMaintenance(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runMaintenance(ctx context.Context) {
	now := s.now()

	expired, err := s.store.ExpireLapsedSessions(ctx, now.Add(-constants.SessionWindow))
	if err != nil {
		s.logger.WithError(err).Error("Failed to expire lapsed sessions")
	} else if expired > 0 {
		metrics.AddToCounter("sessions_expired_total", float64(expired), nil, "Customer sessions closed by the 24h window")
		s.logger.WithField(LogFieldCount, expired).Info("Expired lapsed customer sessions")
	}

	cutoff := now.AddDate(0, 0, -s.retentionDays)
	purged, err := s.store.PurgeWebhookEvents(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Failed to purge processed webhook events")
		return
	}
	if purged > 0 {
		s.logger.WithFields(logrus.Fields{
			LogFieldCount:    purged,
			"retention_days": s.retentionDays,
		}).Info("Purged processed webhook events")
	}
}
