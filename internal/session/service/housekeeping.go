package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/turnstile/internal/session/metrics"
	"github.com/aussiebroadwan/turnstile/internal/session/store"
)

// HousekeepingService periodically removes expired session records and
// stale audit events so neither table grows without bound. The sweep runs
// concurrently with live traffic; it operates on a time-bounded predicate
// and takes no ownership of specific records.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Settings SettingsFunc
	Interval time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a sweeper with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(
	st store.Store,
	logger *slog.Logger,
	settings SettingsFunc,
	interval time.Duration,
) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}

	return &HousekeepingService{
		Store:    st,
		Logger:   logger,
		Settings: settings,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker, blocking until any
// in-progress sweep finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run a sweep immediately on startup.
	s.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs one cleanup pass. Sessions expire once their last rotation is
// older than max session age plus one rotation interval; the extra interval
// keeps a token that was due for rotation resolvable right up to its final
// refresh opportunity. Failures are logged and independent.
func (s *HousekeepingService) Sweep(ctx context.Context) {
	settings := s.Settings()
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}

	cutoff := now.Add(-(settings.MaxSessionAge + settings.RotationInterval))
	swept, err := s.Store.Sessions().DeleteExpired(ctx, cutoff)
	if err != nil {
		s.Logger.Error("failed to sweep expired sessions", "error", err)
	} else if swept > 0 {
		metrics.SweptSessions.Add(float64(swept))
		s.Logger.Info("swept expired sessions", "count", swept)
	}

	purged, err := s.Store.AuditEvents().DeleteOlderThan(ctx, now.Add(-settings.AuditRetention))
	if err != nil {
		s.Logger.Error("failed to purge stale audit events", "error", err)
	} else if purged > 0 {
		s.Logger.Info("purged stale audit events", "count", purged)
	}
}
