package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpulse/classpulse/internal/metrics"
	"github.com/classpulse/classpulse/internal/store"
)

// Repository is the slice of the store the drainer needs.
type Repository interface {
	ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*store.DeliveryEntry, error)
	MarkDeliverySent(ctx context.Context, id uuid.UUID, attempts int) error
	MarkDeliveryRetry(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextAttemptAt time.Time) error
	MarkDeliveryFailed(ctx context.Context, entry *store.DeliveryEntry, lastError string) error
}

// Drainer polls the delivery queue and pushes due entries through the
// sender, retrying with increasing delays until each entry's attempt
// budget runs out.
type Drainer struct {
	repo   Repository
	sender Sender
	config Config
	logger *zap.Logger
	now    func() time.Time
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

func New(repo Repository, sender Sender, cfg Config, logger *zap.Logger, now func() time.Time) *Drainer {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 20
	}
	if now == nil {
		now = time.Now
	}
	return &Drainer{
		repo:   repo,
		sender: sender,
		config: cfg,
		logger: logger,
		now:    now,
	}
}

// Start runs the drain loop until the context is cancelled.
func (d *Drainer) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("delivery drainer stopping")
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain processes one batch of due queue entries.
func (d *Drainer) Drain(ctx context.Context) {
	entries, err := d.repo.ListDueDeliveries(ctx, d.now(), d.config.BatchSize)
	if err != nil {
		d.logger.Error("failed to list due deliveries", zap.Error(err))
		return
	}

	for _, entry := range entries {
		d.processEntry(ctx, entry)
	}
}

func (d *Drainer) processEntry(ctx context.Context, entry *store.DeliveryEntry) {
	err := d.sender.Send(ctx, entry)
	newAttempts := entry.Attempts + 1

	if err == nil {
		if markErr := d.repo.MarkDeliverySent(ctx, entry.ID, newAttempts); markErr != nil {
			d.logger.Error("failed to mark delivery sent",
				zap.String("delivery_entry_id", entry.ID.String()),
				zap.Error(markErr),
			)
			return
		}
		metrics.RecordDeliveryAttempt("sent")
		d.logger.Info("delivery sent",
			zap.String("delivery_entry_id", entry.ID.String()),
			zap.Int("attempts", newAttempts),
		)
		return
	}

	d.logger.Error("failed to send delivery",
		zap.Error(err),
		zap.String("delivery_entry_id", entry.ID.String()),
		zap.Int("attempt", newAttempts),
	)

	if newAttempts >= entry.MaxAttempts {
		entry.Attempts = newAttempts
		if markErr := d.repo.MarkDeliveryFailed(ctx, entry, err.Error()); markErr != nil {
			d.logger.Error("failed to mark delivery failed",
				zap.String("delivery_entry_id", entry.ID.String()),
				zap.Error(markErr),
			)
			return
		}
		metrics.RecordDeliveryAttempt("failed")
		return
	}

	nextAttempt := d.now().Add(retryDelay(newAttempts))
	if markErr := d.repo.MarkDeliveryRetry(ctx, entry.ID, newAttempts, err.Error(), nextAttempt); markErr != nil {
		d.logger.Error("failed to mark delivery for retry",
			zap.String("delivery_entry_id", entry.ID.String()),
			zap.Error(markErr),
		)
		return
	}
	metrics.RecordDeliveryAttempt("retry")
}

// retryDelay returns the wait before the next attempt.
func retryDelay(attempt int) time.Duration {
	delays := []time.Duration{
		1 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
	}

	idx := attempt - 1
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}
