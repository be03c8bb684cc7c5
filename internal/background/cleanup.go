package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ActionReaper expires security actions whose deadline has passed.
type ActionReaper interface {
	ReapExpired(ctx context.Context) (int64, error)
}

// RevocationPurger deletes revocation rows for tokens that have expired anyway.
type RevocationPurger interface {
	CleanupExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// CleanupManager periodically expires overdue security actions and removes
// revocation rows that no longer matter.
type CleanupManager struct {
	actions     ActionReaper
	revocations RevocationPurger
	logger      *slog.Logger
	interval    time.Duration
	now         func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	actions ActionReaper,
	revocations RevocationPurger,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupManager{
		actions:     actions,
		revocations: revocations,
		logger:      logger,
		interval:    interval,
		now:         time.Now,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start runs one pass immediately, then one per interval until ctx is
// cancelled or Stop is called. It blocks.
func (cm *CleanupManager) Start(ctx context.Context) {
	defer close(cm.done)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single cleanup pass. Failures are logged; the next
// tick tries again.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if cm.actions != nil {
		expired, err := cm.actions.ReapExpired(cleanupCtx)
		if err != nil {
			cm.logger.Error("failed to expire security actions", slog.Any("error", err))
		} else if expired > 0 {
			cm.logger.Info("security actions expired", slog.Int64("rows_updated", expired))
		}
	}

	if cm.revocations != nil {
		purged, err := cm.revocations.CleanupExpiredTokens(cleanupCtx, cm.now())
		if err != nil {
			cm.logger.Error("failed to cleanup expired tokens", slog.Any("error", err))
		} else if purged > 0 {
			cm.logger.Info("expired token cleanup completed", slog.Int64("rows_deleted", purged))
		}
	}
}

// Stop signals the cleanup manager to stop and waits for the running pass
// to finish. Start must have been called; Stop may be called more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
	<-cm.done
}
