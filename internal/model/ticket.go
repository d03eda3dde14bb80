package model

import (
	"errors"
	"strings"
	"time"
)

// TicketStatus is the lifecycle state of a support ticket.
type TicketStatus string

const (
	TicketOpen     TicketStatus = "open"
	TicketPending  TicketStatus = "pending"
	TicketResolved TicketStatus = "resolved"
	TicketClosed   TicketStatus = "closed"
)

var ErrUnknownTicketStatus = errors.New("unknown ticket status")

// ParseTicketStatus normalizes s and returns the matching status.
func ParseTicketStatus(s string) (TicketStatus, error) {
	switch st := TicketStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case TicketOpen, TicketPending, TicketResolved, TicketClosed:
		return st, nil
	}
	return "", ErrUnknownTicketStatus
}

// Ticket mirrors the access-control facet of the `tickets` table.
//
// AccessCodeHash is written once at creation and never rotated. Losing the
// plaintext code forfeits anonymous access; the requester can still reach
// the ticket by signing in with the matching account or email.
type Ticket struct {
	ID              string
	Number          string
	Title           string
	Status          TicketStatus
	RequesterUserID *string
	RequesterEmail  string
	OrderID         *string
	AccessCodeHash  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasAccessCode reports whether an access code was issued for the ticket.
func (t Ticket) HasAccessCode() bool {
	return t.AccessCodeHash != ""
}

// PublicTicket is the ticket representation returned to clients. It never
// contains the access code hash.
type PublicTicket struct {
	ID             string       `json:"id"`
	Number         string       `json:"number"`
	Title          string       `json:"title"`
	Status         TicketStatus `json:"status"`
	RequesterEmail string       `json:"requester_email"`
	OrderID        *string      `json:"order_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Public returns the client view of t.
func (t Ticket) Public() PublicTicket {
	return PublicTicket{
		ID:             t.ID,
		Number:         t.Number,
		Title:          t.Title,
		Status:         t.Status,
		RequesterEmail: t.RequesterEmail,
		OrderID:        t.OrderID,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}
