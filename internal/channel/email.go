package channel

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/prospect-engine/internal/config"
)

// Dialer is the part of gomail.Dialer the email sender uses.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender sends plain-text mail over SMTP.
type EmailSender struct {
	dialer  Dialer
	from    string
	subject string
	limiter *rate.Limiter
}

// NewEmailSender creates an EmailSender from SMTP settings.
func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	return NewEmailSenderWithDialer(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg)
}

// NewEmailSenderWithDialer creates an EmailSender over an existing dialer.
func NewEmailSenderWithDialer(d Dialer, cfg config.SMTPConfig) *EmailSender {
	subject := cfg.Subject
	if subject == "" {
		subject = "Quick question"
	}
	return &EmailSender{
		dialer:  d,
		from:    cfg.From,
		subject: subject,
		limiter: newLimiter(cfg.RatePerSec),
	}
}

// Send implements Sender.
func (s *EmailSender) Send(ctx context.Context, recipient, text string) error {
	if recipient == "" {
		return ErrMissingRecipient
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "email: rate limit wait")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", s.subject)
	m.SetBody("text/plain", text)

	if err := s.dialer.DialAndSend(m); err != nil {
		return eris.Wrapf(err, "email: send to %s", recipient)
	}
	return nil
}

func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}
