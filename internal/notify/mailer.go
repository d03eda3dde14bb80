// Package notify contains the synchronous mail collaborators used for ticket
// updates and email verification.
package notify

import (
	"context"
	"fmt"

	"github.com/iliyamo/storefront-identity/internal/model"
)

// Mailer delivers one message and reports whether it went out. Callers
// decide whether a failure matters.
type Mailer interface {
	SendTicketUpdated(ctx context.Context, to, title, number string, status model.TicketStatus) error
	SendVerification(ctx context.Context, to, name, token string) error
}

// Message is a rendered plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

func ticketUpdatedMessage(to, title, number string, status model.TicketStatus) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Ticket %s is now %s", number, status),
		Body: fmt.Sprintf("Your support ticket %s (%q) changed status to %s.\n",
			number, title, status),
	}
}

func verificationMessage(to, name, token string) Message {
	greeting := "Hello"
	if name != "" {
		greeting += " " + name
	}
	return Message{
		To:      to,
		Subject: "Confirm your email address",
		Body: fmt.Sprintf("%s,\n\nUse this code to confirm your email address:\n\n%s\n\nIf you did not create an account, ignore this message.\n",
			greeting, token),
	}
}
