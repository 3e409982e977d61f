// Package smtp delivers alert mail over SMTP.
package smtp

import (
	"context"
	"errors"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Config holds the SMTP relay settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLS requires STARTTLS; without it the client only uses TLS when offered.
	TLS bool
}

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Notifier sends plain-text mail through one SMTP relay.
type Notifier struct {
	from   string
	client sender
	logger *zap.Logger
}

// New builds a Notifier. The connection is opened per message.
func New(cfg Config, logger *zap.Logger) (*Notifier, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("smtp: host and from are required")
	}
	opts := []mail.Option{mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if cfg.TLS {
		opts[0] = mail.WithTLSPolicy(mail.TLSMandatory)
	}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return newWithSender(cfg.From, client, logger), nil
}

func newWithSender(from string, client sender, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{from: from, client: client, logger: logger.Named("smtp")}
}

// Notify sends one message to all recipients.
func (n *Notifier) Notify(ctx context.Context, subject, body string, recipients []string) error {
	msg, err := n.message(subject, body, recipients)
	if err != nil {
		return err
	}
	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	n.logger.Info("mail sent", zap.Strings("to", recipients), zap.String("subject", subject))
	return nil
}

func (n *Notifier) message(subject, body string, recipients []string) (*mail.Msg, error) {
	if len(recipients) == 0 {
		return nil, errors.New("send mail: no recipients")
	}
	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(recipients...); err != nil {
		return nil, fmt.Errorf("set recipients: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
