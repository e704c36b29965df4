package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/classpulse/classpulse/internal/store"
)

// Sender mirrors the delivery.Sender interface to avoid circular imports.
type Sender interface {
	Send(ctx context.Context, entry *store.DeliveryEntry) error
}

// ProtectedSender wraps a Sender with a CircuitBreaker. When the email
// provider starts failing, the circuit opens and queue entries fail fast
// instead of piling up; the delivery drainer's retry schedule picks them
// up again once the provider recovers.
type ProtectedSender struct {
	sender  Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts the delivery through the circuit breaker. If the circuit
// is open, it returns ErrCircuitOpen immediately.
func (p *ProtectedSender) Send(ctx context.Context, entry *store.DeliveryEntry) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected request, failing fast",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("delivery_entry_id", entry.ID.String()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	err := p.sender.Send(ctx, entry)
	if err != nil {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.config.Name),
			zap.Error(err),
		)
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Breaker returns the underlying circuit breaker for metrics/monitoring.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
