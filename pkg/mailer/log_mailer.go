package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogMailer writes messages to the log instead of sending them. For development only: the
// body, which may hold a one-time code, is logged at debug level.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	if to == "" {
		return ErrNoRecipient
	}
	m.log.Info("email (not sent)", zap.String("to", to), zap.String("subject", subject))
	m.log.Debug("email body", zap.String("to", to), zap.String("body", htmlBody))
	return nil
}
