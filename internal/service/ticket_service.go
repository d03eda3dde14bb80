package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/iliyamo/storefront-identity/internal/apperr"
	"github.com/iliyamo/storefront-identity/internal/logging"
	"github.com/iliyamo/storefront-identity/internal/metrics"
	"github.com/iliyamo/storefront-identity/internal/model"
	"github.com/iliyamo/storefront-identity/internal/utils"
)

// TicketNotifier is told about ticket changes. It never reports failure.
type TicketNotifier interface {
	NotifyTicketUpdated(ctx context.Context, t model.Ticket)
}

// CreateTicketInput is a new ticket request.
type CreateTicketInput struct {
	Title          string
	RequesterEmail string
	OrderID        string
}

// CreatedTicket is returned once, at creation. AccessCode is the only copy
// of the plaintext code; it cannot be recovered later.
type CreatedTicket struct {
	Ticket     model.PublicTicket
	AccessCode string
}

// TicketService applies TicketAccessGuard to ticket reads and status
// changes and feeds status changes to the notifier.
type TicketService struct {
	store    TicketStore
	users    UserFinder
	guard    *TicketAccessGuard
	codes    utils.SecretHasher
	notifier TicketNotifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewTicketService(store TicketStore, users UserFinder, guard *TicketAccessGuard, codes utils.SecretHasher, notifier TicketNotifier, logger *slog.Logger) *TicketService {
	return &TicketService{
		store:    store,
		users:    users,
		guard:    guard,
		codes:    codes,
		notifier: notifier,
		logger:   logging.OrDefault(logger),
		now:      time.Now,
	}
}

func ticketErr(op string, err error) error {
	return oops.Code("TICKET_STORE_FAILED").With("operation", op).Wrapf(err, "%s", op)
}

// Create opens a ticket. A signed-in caller becomes the requester and their
// email is the default requester email.
func (s *TicketService) Create(ctx context.Context, caller *model.Principal, in CreateTicketInput) (CreatedTicket, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return CreatedTicket{}, invalidInput("title is required")
	}
	rawEmail := in.RequesterEmail
	if strings.TrimSpace(rawEmail) == "" && caller != nil {
		rawEmail = caller.Email
	}
	email, err := normalizeAddress(rawEmail)
	if err != nil {
		return CreatedTicket{}, err
	}

	code, err := utils.NewAccessCode()
	if err != nil {
		return CreatedTicket{}, ticketErr("generate access code", err)
	}
	hash, err := s.codes.Hash(code)
	if err != nil {
		return CreatedTicket{}, ticketErr("hash access code", err)
	}

	now := s.now().UTC()
	id := ulid.Make().String()
	t := model.Ticket{
		ID:             id,
		Number:         "TCK-" + id[len(id)-10:],
		Title:          title,
		Status:         model.TicketOpen,
		RequesterEmail: email,
		AccessCodeHash: hash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if caller != nil && caller.UserID != "" {
		uid := caller.UserID
		t.RequesterUserID = &uid
	}
	if order := strings.TrimSpace(in.OrderID); order != "" {
		t.OrderID = &order
	}

	if err := s.store.CreateTicket(ctx, t); err != nil {
		return CreatedTicket{}, ticketErr("create ticket", err)
	}
	s.logger.InfoContext(ctx, "ticket created", "ticket_id", t.ID, "number", t.Number)
	return CreatedTicket{Ticket: t.Public(), AccessCode: code}, nil
}

// Get returns the ticket if the guard lets caller or the code holder read
// it.
func (s *TicketService) Get(ctx context.Context, id string, caller *model.Principal, code string) (model.PublicTicket, error) {
	t, err := s.store.FindTicket(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return model.PublicTicket{}, apperr.NotFound("ticket not found")
		}
		return model.PublicTicket{}, ticketErr("find ticket", err)
	}
	if !s.guard.CanRead(t, caller, code) {
		metrics.RecordAuth("ticket_read", metrics.OutcomeDenied)
		return model.PublicTicket{}, apperr.Forbidden(apperr.ReasonAccessDenied, "access to ticket denied")
	}
	return t.Public(), nil
}

// UpdateStatus changes the ticket status and notifies the requester. The
// caller's role is reloaded from storage before the check.
func (s *TicketService) UpdateStatus(ctx context.Context, id string, caller *model.Principal, status string) (model.PublicTicket, error) {
	if caller == nil {
		return model.PublicTicket{}, apperr.Unauthorized(apperr.ReasonInvalidToken, "authentication required")
	}
	next, err := model.ParseTicketStatus(status)
	if err != nil {
		return model.PublicTicket{}, invalidInput("unknown ticket status")
	}

	current, err := s.users.FindUserByID(ctx, caller.UserID)
	if err != nil {
		if isNotFound(err) {
			return model.PublicTicket{}, apperr.Unauthorized(apperr.ReasonInvalidToken, "unknown account")
		}
		return model.PublicTicket{}, ticketErr("find caller", err)
	}
	fresh := *caller
	fresh.Role = current.Role

	t, err := s.store.FindTicket(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return model.PublicTicket{}, apperr.NotFound("ticket not found")
		}
		return model.PublicTicket{}, ticketErr("find ticket", err)
	}
	if !s.guard.CanMutate(t, &fresh) {
		metrics.RecordAuth("ticket_update", metrics.OutcomeDenied)
		return model.PublicTicket{}, apperr.Forbidden(apperr.ReasonAccessDenied, "not allowed to change ticket")
	}

	now := s.now().UTC()
	if err := s.store.UpdateTicketStatus(ctx, t.ID, next, now); err != nil {
		if isNotFound(err) {
			return model.PublicTicket{}, apperr.NotFound("ticket not found")
		}
		return model.PublicTicket{}, ticketErr("update ticket status", err)
	}
	t.Status = next
	t.UpdatedAt = now

	if s.notifier != nil {
		s.notifier.NotifyTicketUpdated(ctx, t)
	}
	return t.Public(), nil
}
