// Package mailer sends transactional HTML email.
package mailer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	ErrSendFailed    = errors.New("mailer: send failed")
	ErrInvalidConfig = errors.New("mailer: invalid config")
	ErrNoRecipient   = errors.New("mailer: recipient required")
)

// Mailer delivers one HTML message to one recipient.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// New returns a Postmark mailer when a server token is configured. Otherwise it falls back to
// LogMailer, which is refused in production.
func New(cfg PostmarkConfig, production bool, log *zap.Logger) (Mailer, error) {
	if cfg.ServerToken != "" {
		m, err := NewPostmarkMailer(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	if production {
		return nil, fmt.Errorf("%w: POSTMARK_SERVER_TOKEN is required in production", ErrInvalidConfig)
	}
	log.Warn("POSTMARK_SERVER_TOKEN not set, emails are logged instead of sent")
	return NewLogMailer(log), nil
}
