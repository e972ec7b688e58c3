package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	From         string
	ReplyTo      string
}

// PostmarkMailer sends mail through Postmark's transactional API.
type PostmarkMailer struct {
	client *postmark.Client
	cfg    PostmarkConfig
}

func NewPostmarkMailer(cfg PostmarkConfig) (*PostmarkMailer, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("%w: sender address is required", ErrInvalidConfig)
	}
	return &PostmarkMailer{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		cfg:    cfg,
	}, nil
}

func (m *PostmarkMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if to == "" {
		return ErrNoRecipient
	}
	resp, err := m.client.SendEmail(ctx, postmark.Email{
		From:       m.cfg.From,
		ReplyTo:    m.cfg.ReplyTo,
		To:         to,
		Subject:    subject,
		HTMLBody:   htmlBody,
		TrackOpens: true,
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendFailed, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
