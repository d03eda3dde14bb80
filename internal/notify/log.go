package notify

import (
	"context"
	"log/slog"

	"github.com/iliyamo/storefront-identity/internal/logging"
	"github.com/iliyamo/storefront-identity/internal/model"
)

// LogMailer logs messages instead of sending them. Bodies are not logged
// because verification mails carry a live token.
type LogMailer struct {
	logger *slog.Logger

	// RevealTokens logs verification tokens at DEBUG so local runs without
	// SMTP can finish verification. Set only in the dev environment.
	RevealTokens bool
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logging.OrDefault(logger)}
}

func (l *LogMailer) SendTicketUpdated(ctx context.Context, to, title, number string, status model.TicketStatus) error {
	l.log(ctx, ticketUpdatedMessage(to, title, number, status))
	return nil
}

func (l *LogMailer) SendVerification(ctx context.Context, to, name, token string) error {
	l.log(ctx, verificationMessage(to, name, token))
	if l.RevealTokens {
		l.logger.DebugContext(ctx, "verification token", "recipient", to, "token", token)
	}
	return nil
}

func (l *LogMailer) log(ctx context.Context, msg Message) {
	l.logger.InfoContext(ctx, "send email",
		"recipient", msg.To,
		"subject", msg.Subject,
	)
}
