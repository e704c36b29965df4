package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// claimTTL bounds how long a sweep worker holds a reminder exclusively.
// Longer than any realistic dispatch, shorter than the sweep interval spread
// so a crashed worker's claim expires and the reminder is retried.
const claimTTL = 2 * time.Minute

// ClaimService hands out short-lived per-reminder leases so concurrent sweep
// workers don't both attempt the same row. It is an optimization only: the
// conditional pending -> sent update in the store is the correctness
// backstop, so the service may be absent entirely.
type ClaimService struct {
	client *Client
	logger *zap.Logger
}

// NewClaimService creates a claim service.
func NewClaimService(client *Client, logger *zap.Logger) *ClaimService {
	return &ClaimService{
		client: client,
		logger: logger,
	}
}

func claimKey(reminderID uuid.UUID) string {
	return fmt.Sprintf("claim:reminder:%s", reminderID)
}

// Acquire attempts to lease a reminder using SET NX. Returns false when
// another worker already holds it.
func (s *ClaimService) Acquire(ctx context.Context, reminderID uuid.UUID) (bool, error) {
	set, err := s.client.rdb.SetNX(ctx, claimKey(reminderID), "1", claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	if !set {
		s.logger.Debug("reminder already claimed",
			zap.String("reminder_id", reminderID.String()),
		)
	}

	return set, nil
}

// Release returns a lease early, used when dispatch did not reach a terminal
// outcome and the reminder should be retried on the next sweep.
func (s *ClaimService) Release(ctx context.Context, reminderID uuid.UUID) error {
	if err := s.client.rdb.Del(ctx, claimKey(reminderID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
