package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/store"
)

// HousekeepingService periodically removes expired refresh, password reset
// and email verification tokens so the tables do not grow without bound.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	// Now defaults to time.Now.
	Now func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HousekeepingService{
		Store:    store,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. It is non-blocking; call Stop to
// shut the worker down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup deletes expired rows and returns how many went. Each table is
// independent; a failure in one does not stop the others.
func (s *HousekeepingService) Cleanup(ctx context.Context) int64 {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}

	jobs := []struct {
		name  string
		purge func(context.Context, time.Time) (int64, error)
	}{
		{"refresh_tokens", s.Store.RefreshTokens().DeleteExpiredRefreshTokens},
		{"password_reset_tokens", s.Store.PasswordResetTokens().DeleteExpiredTokens},
		{"email_verification_tokens", s.Store.EmailVerificationTokens().DeleteExpiredTokens},
	}

	var total int64
	for _, job := range jobs {
		n, err := job.purge(ctx, now)
		if err != nil {
			s.Logger.Error("failed to delete expired rows", "table", job.name, "error", err)
			continue
		}
		total += n
		s.Logger.Debug("deleted expired rows", "table", job.name, "count", n)
	}

	s.Logger.Info("housekeeping cleanup completed", "deleted", total)
	return total
}
