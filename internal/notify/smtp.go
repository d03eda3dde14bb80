package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/iliyamo/storefront-identity/internal/logging"
	"github.com/iliyamo/storefront-identity/internal/model"
)

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// SMTPMailer sends mail through an SMTP relay. Each send dials a fresh
// connection; volume is a handful of messages per ticket change.
type SMTPMailer struct {
	cfg    SMTPConfig
	sender gomail.Sender
	logger *slog.Logger
}

// NewSMTPMailer returns a mailer for cfg. A nil sender dials cfg.Host on
// every message.
func NewSMTPMailer(cfg SMTPConfig, sender gomail.Sender, logger *slog.Logger) *SMTPMailer {
	if sender == nil {
		d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
		sender = gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
			sc, err := d.Dial()
			if err != nil {
				return err
			}
			defer sc.Close()
			return sc.Send(from, to, msg)
		})
	}
	return &SMTPMailer{cfg: cfg, sender: sender, logger: logging.OrDefault(logger)}
}

func (m *SMTPMailer) SendTicketUpdated(ctx context.Context, to, title, number string, status model.TicketStatus) error {
	return m.send(ctx, ticketUpdatedMessage(to, title, number, status))
}

func (m *SMTPMailer) SendVerification(ctx context.Context, to, name, token string) error {
	return m.send(ctx, verificationMessage(to, name, token))
}

func (m *SMTPMailer) send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", m.cfg.From)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/plain", msg.Body)

	if err := gomail.Send(m.sender, gm); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	m.logger.InfoContext(ctx, "email sent", slog.String("to", msg.To), slog.String("subject", msg.Subject))
	return nil
}
