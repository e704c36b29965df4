// Package delivery drains the durable email queue. Entries are written by
// the dispatcher in the same transaction as the notification; this package
// only ever reads them back and attempts the outbound send.
package delivery

import (
	"context"

	"go.uber.org/zap"

	"github.com/classpulse/classpulse/internal/store"
)

// Sender sends one queued email.
type Sender interface {
	Send(ctx context.Context, entry *store.DeliveryEntry) error
}

// LogSender logs instead of sending. Used in development and as the
// fallback when no email provider is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, entry *store.DeliveryEntry) error {
	s.logger.Info("email sent",
		zap.String("delivery_entry_id", entry.ID.String()),
		zap.String("to", entry.Recipient),
		zap.String("subject", entry.Subject),
	)
	return nil
}
