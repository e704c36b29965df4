package delivery

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/classpulse/classpulse/internal/store"
)

type SESSender struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESSender{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send sends one queued reminder email via AWS SES.
func (s *SESSender) Send(ctx context.Context, entry *store.DeliveryEntry) error {
	if entry.Recipient == "" {
		return fmt.Errorf("delivery entry %s has no recipient", entry.ID)
	}
	if entry.Subject == "" {
		return fmt.Errorf("delivery entry %s has no subject", entry.ID)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{entry.Recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(entry.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(entry.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("delivery_entry_id", entry.ID.String()),
		zap.String("to", entry.Recipient),
		zap.String("message_id", *result.MessageId),
	)

	return nil
}
