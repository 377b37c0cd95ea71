// Package mail renders account mails and delivers them through a Sender.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/config"
)

var (
	// ErrFailedToSend indicates the provider rejected or never received the mail.
	ErrFailedToSend = errors.New("failed to send mail")

	// ErrInvalidConfig indicates the sender is missing required settings.
	ErrInvalidConfig = errors.New("invalid mail configuration")

	// ErrInvalidMessage indicates a message without recipient, subject or body.
	ErrInvalidMessage = errors.New("invalid mail message")
)

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a rendered mail ready for delivery.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	// Tag groups messages in the provider dashboard.
	Tag string
}

// Validate checks that the message can be delivered.
func (m Message) Validate() error {
	switch {
	case strings.TrimSpace(m.To) == "":
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	case strings.TrimSpace(m.Subject) == "":
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	case strings.TrimSpace(m.HTMLBody) == "":
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	return nil
}

// NewSender builds the sender selected by cfg.Provider.
func NewSender(cfg config.MailConfig, logger zerolog.Logger) (Sender, error) {
	switch cfg.Provider {
	case "postmark":
		s, err := NewPostmarkSender(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "log", "":
		return NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
