package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/mail"
	"github.com/prn-tf/blog-accounts/internal/metrics"
)

// Mailer queues account mails. Every method returns immediately and never
// reports delivery failures to the caller.
type Mailer interface {
	SendActivationEmail(account *domain.Account)
	SendCreationEmail(account *domain.Account)
	SendPasswordResetMail(account *domain.Account)
	SendSocialRegistrationEmail(account *domain.Account, providerID string)
}

// MailService renders account mails and delivers them in the background.
type MailService struct {
	renderer *mail.Renderer
	sender   mail.Sender
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	wg sync.WaitGroup
}

// NewMailService creates a new MailService. A non-positive timeout
// defaults to 30 seconds per delivery.
func NewMailService(
	renderer *mail.Renderer,
	sender mail.Sender,
	timeout time.Duration,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *MailService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MailService{
		renderer: renderer,
		sender:   sender,
		timeout:  timeout,
		metrics:  m,
		logger:   logger.With().Str("service", "mail").Logger(),
	}
}

// SendActivationEmail sends the activation link of a new registration.
func (s *MailService) SendActivationEmail(account *domain.Account) {
	s.dispatch(mail.KindActivation, account, "")
}

// SendCreationEmail sends the reset link of an account created by an administrator.
func (s *MailService) SendCreationEmail(account *domain.Account) {
	s.dispatch(mail.KindCreation, account, "")
}

// SendPasswordResetMail sends the reset link of a password reset request.
func (s *MailService) SendPasswordResetMail(account *domain.Account) {
	s.dispatch(mail.KindPasswordReset, account, "")
}

// SendSocialRegistrationEmail confirms an account linked through a provider.
func (s *MailService) SendSocialRegistrationEmail(account *domain.Account, providerID string) {
	s.dispatch(mail.KindSocialRegistration, account, providerID)
}

// Wait blocks until every queued delivery has finished.
func (s *MailService) Wait() {
	s.wg.Wait()
}

func (s *MailService) dispatch(kind mail.Kind, account *domain.Account, providerID string) {
	if account == nil || account.Email == "" {
		s.logger.Debug().Str("template", string(kind)).Msg("skipping mail for account without email")
		return
	}

	// Render synchronously so the goroutine does not share the caller's account.
	msg, err := s.renderer.Render(kind, account, providerID)
	if err != nil {
		s.logger.Warn().Err(err).Str("template", string(kind)).Str("login", account.Login).Msg("failed to render mail")
		s.record(kind, "error")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Str("panic", fmt.Sprint(r)).Str("template", string(kind)).Msg("mail delivery panicked")
				s.record(kind, "error")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := s.sender.Send(ctx, msg); err != nil {
			s.logger.Warn().Err(err).Str("template", string(kind)).Str("to", msg.To).Msg("email could not be sent")
			s.record(kind, "error")
			return
		}

		s.logger.Debug().Str("template", string(kind)).Str("to", msg.To).Msg("sent email")
		s.record(kind, "sent")
	}()
}

func (s *MailService) record(kind mail.Kind, result string) {
	if s.metrics != nil {
		s.metrics.MailDeliveries.WithLabelValues(string(kind), result).Inc()
	}
}

var _ Mailer = (*MailService)(nil)
