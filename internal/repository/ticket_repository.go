package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/storefront-identity/internal/model"
)

// TicketRepo persists the access-control facet of support tickets.
type TicketRepo struct{ DB *sql.DB }

func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{DB: db} }

const ticketColumns = "id, number, title, status, requester_user_id, requester_email, order_id, access_code_hash, created_at, updated_at"

// CreateTicket inserts t. access_code_hash has no update path anywhere in
// this package; it is written here once.
func (r *TicketRepo) CreateTicket(ctx context.Context, t model.Ticket) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO tickets ("+ticketColumns+") VALUES (?,?,?,?,?,?,?,?,?,?)",
		t.ID, t.Number, t.Title, string(t.Status), t.RequesterUserID, NormalizeEmail(t.RequesterEmail),
		t.OrderID, t.AccessCodeHash, t.CreatedAt, t.UpdatedAt)
	if err != nil && isDuplicate(err) {
		return ErrConflict
	}
	return err
}

func (r *TicketRepo) FindTicket(ctx context.Context, id string) (model.Ticket, error) {
	var (
		t         model.Ticket
		status    string
		requester sql.NullString
		order     sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE id=? LIMIT 1", id).
		Scan(&t.ID, &t.Number, &t.Title, &status, &requester, &t.RequesterEmail, &order,
			&t.AccessCodeHash, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return model.Ticket{}, mapNoRows(err)
	}
	t.Status = model.TicketStatus(status)
	t.RequesterUserID = nullString(requester)
	t.OrderID = nullString(order)
	return t, nil
}

func (r *TicketRepo) UpdateTicketStatus(ctx context.Context, id string, status model.TicketStatus, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE tickets SET status=?, updated_at=? WHERE id=?", string(status), at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
