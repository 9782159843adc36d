package email

import (
	"context"

	"github.com/nimburion/mailqueue/pkg/observability/logger"
)

// LogProvider writes messages to the logger instead of delivering them.
type LogProvider struct {
	from string
	log  logger.Logger
}

// NewLogProvider creates a provider for local development.
func NewLogProvider(defaultFrom string, log logger.Logger) *LogProvider {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogProvider{from: defaultFrom, log: log}
}

func (p *LogProvider) Send(ctx context.Context, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := withSender(message, p.from)
	if err != nil {
		return err
	}
	p.log.WithContext(ctx).Info("email delivered to log",
		"provider", ProviderLog,
		"from", msg.From,
		"to", msg.To,
		"cc", msg.Cc,
		"bcc_count", len(msg.Bcc),
		"subject", msg.Subject,
	)
	return nil
}

func (p *LogProvider) Close() error {
	return nil
}
