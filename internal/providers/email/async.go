package email

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const sendTimeout = 30 * time.Second

// AsyncSender delivers mail on a background goroutine. Invitation flows must
// never fail because SMTP is down; failures are logged and dropped.
type AsyncSender struct {
	provider Provider
	log      *zap.Logger
}

func NewAsyncSender(provider Provider, log *zap.Logger) *AsyncSender {
	return &AsyncSender{provider: provider, log: log}
}

func (s *AsyncSender) SendTemplate(to []string, templateName string, data map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if err := s.provider.SendTemplate(ctx, to, templateName, data); err != nil {
			s.log.Warn("failed to send email",
				zap.String("template", templateName),
				zap.Strings("to", to),
				zap.Error(err),
			)
		}
	}()
}
