package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/storefront-identity/internal/middleware"
	"github.com/iliyamo/storefront-identity/internal/model"
	"github.com/iliyamo/storefront-identity/internal/service"
)

// AccessCodeHeader carries a ticket access code. The "code" query parameter
// is accepted as well.
const AccessCodeHeader = "X-Ticket-Access-Code"

type TicketHandler struct {
	Tickets *service.TicketService
}

func NewTicketHandler(tickets *service.TicketService) *TicketHandler {
	return &TicketHandler{Tickets: tickets}
}

type createTicketReq struct {
	Title          string `json:"title"`
	RequesterEmail string `json:"requester_email"`
	OrderID        string `json:"order_id"`
}

type createTicketResp struct {
	Ticket     model.PublicTicket `json:"ticket"`
	AccessCode string             `json:"access_code"`
}

type ticketResp struct {
	Ticket model.PublicTicket `json:"ticket"`
}

type updateStatusReq struct {
	Status string `json:"status"`
}

// Create opens a ticket. The access code is in this response only.
func (h *TicketHandler) Create(c echo.Context) error {
	var req createTicketReq
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	created, err := h.Tickets.Create(ctx, middleware.Principal(c), service.CreateTicketInput{
		Title:          req.Title,
		RequesterEmail: req.RequesterEmail,
		OrderID:        req.OrderID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, createTicketResp{Ticket: created.Ticket, AccessCode: created.AccessCode})
}

func (h *TicketHandler) Get(c echo.Context) error {
	code := c.Request().Header.Get(AccessCodeHeader)
	if code == "" {
		code = c.QueryParam("code")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	t, err := h.Tickets.Get(ctx, c.Param("id"), middleware.Principal(c), code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ticketResp{Ticket: t})
}

func (h *TicketHandler) UpdateStatus(c echo.Context) error {
	var req updateStatusReq
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	t, err := h.Tickets.UpdateStatus(ctx, c.Param("id"), middleware.Principal(c), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ticketResp{Ticket: t})
}
