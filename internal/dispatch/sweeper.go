package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/classpulse/classpulse/internal/metrics"
)

// SweepConfig holds the due-reminder sweep settings.
type SweepConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Sweeper periodically selects due reminders and hands each to the
// dispatcher. Selection is read-only and dispatch re-checks status, so any
// number of sweepers may run concurrently.
type Sweeper struct {
	repo       Repository
	dispatcher *Dispatcher
	config     SweepConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(repo Repository, dispatcher *Dispatcher, cfg SweepConfig, logger *zap.Logger, now func() time.Time) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		repo:       repo,
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
		now:        now,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("due sweep stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one selection + dispatch pass. Per-reminder errors are logged
// and skipped so one bad record never halts the batch.
func (s *Sweeper) Sweep(ctx context.Context) {
	due, err := s.repo.ListDueReminders(ctx, s.now(), s.config.BatchSize)
	if err != nil {
		s.logger.Error("failed to select due reminders", zap.Error(err))
		return
	}

	metrics.SetDueSweepBatch(len(due))
	if len(due) == 0 {
		return
	}

	s.logger.Info("processing due reminders", zap.Int("count", len(due)))

	for _, rem := range due {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.dispatcher.ProcessReminder(ctx, rem.ID); err != nil {
			s.logger.Error("failed to process reminder",
				zap.Error(err),
				zap.String("reminder_id", rem.ID.String()),
			)
		}
	}
}
