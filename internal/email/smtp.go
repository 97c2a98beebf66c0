package email

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"

	"storefront/internal/config"
)

// Mailer delivers verification codes. The session manager only sees this
// interface, so delivery can be inline SMTP or a durable queue.
type Mailer interface {
	SendVerificationCode(ctx context.Context, to, code string, ttl time.Duration) error
}

// Message is a plain-text email, also the payload carried on the mail queue.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type SMTPService struct {
	dialer  *gomail.Dialer
	from    string
	appName string
}

func NewSMTPService(cfg config.SMTPConfig, appName string) *SMTPService {
	return &SMTPService{
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:    cfg.From,
		appName: appName,
	}
}

func (s *SMTPService) SendVerificationCode(ctx context.Context, to, code string, ttl time.Duration) error {
	return s.Send(ctx, VerificationMessage(s.appName, to, code, ttl))
}

// Send delivers msg over SMTP. gomail has no context support, so ctx is
// only checked before dialing.
func (s *SMTPService) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(s.build(msg)); err != nil {
		return fmt.Errorf("sending email to %s: %w", msg.To, err)
	}
	return nil
}

func (s *SMTPService) build(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	return m
}

func VerificationMessage(appName, to, code string, ttl time.Duration) Message {
	subject := fmt.Sprintf("Your %s verification code", appName)
	body := fmt.Sprintf(`Hello!

Your email verification code for %s is:

    %s

This code will expire in %d minutes.

If you didn't request this email, you can safely ignore it.

- The %s Team`, appName, code, int(ttl.Minutes()), appName)

	return Message{To: to, Subject: subject, Body: body}
}
