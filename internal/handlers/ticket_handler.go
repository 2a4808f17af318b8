package handlers

import (
	"net/http"
	"strconv"

	"clubsite/internal/services"
	"clubsite/internal/status"
	"clubsite/internal/store"
	"clubsite/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type TicketHandler struct {
	store    store.Tx
	pricing  *services.PricingService
	issuance *services.IssuanceService
}

func NewTicketHandler(s store.Tx, pricing *services.PricingService, issuance *services.IssuanceService) *TicketHandler {
	return &TicketHandler{store: s, pricing: pricing, issuance: issuance}
}

// GetPricing - public price summary of an event
func (h *TicketHandler) GetPricing(e *core.RequestEvent) error {
	p, err := h.pricing.ResolvePricing(e.Request.Context(), e.Request.PathValue("eventId"))
	if err != nil {
		return apiError("pricing.ResolvePricing()", err)
	}
	return e.JSON(http.StatusOK, p)
}

// GetLots - lots currently on sale with their purchasable ticket types
func (h *TicketHandler) GetLots(e *core.RequestEvent) error {
	lots, err := h.pricing.ListOnSale(e.Request.Context(), e.Request.PathValue("eventId"))
	if err != nil {
		return apiError("pricing.ListOnSale()", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"lots": lots})
}

type attendeeDTO struct {
	Name     string `json:"name" validate:"required"`
	Document string `json:"document"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone"`
}

type selectionDTO struct {
	TicketTypeID string        `json:"ticket_type_id" validate:"required"`
	Quantity     int           `json:"quantity" validate:"gt=0"`
	Attendees    []attendeeDTO `json:"attendees" validate:"dive"`
}

type PurchaseRequest struct {
	LotID      string         `json:"lot_id" validate:"required"`
	Selections []selectionDTO `json:"selections" validate:"required,min=1,dive"`
	Payer      struct {
		Name  string `json:"name" validate:"required"`
		Email string `json:"email" validate:"required,email"`
		Phone string `json:"phone"`
	} `json:"payer"`
}

// Purchase - reserve tickets and open a gateway checkout
func (h *TicketHandler) Purchase(e *core.RequestEvent) error {
	var req PurchaseRequest
	if err := bind(e, &req); err != nil {
		return err
	}

	in := services.PurchaseRequest{
		EventID:   e.Request.PathValue("eventId"),
		LotID:     req.LotID,
		Payer:     models.Contact{Name: req.Payer.Name, Email: req.Payer.Email, Phone: req.Payer.Phone},
		Purchaser: actor(e),
	}
	for _, s := range req.Selections {
		sel := services.Selection{TicketTypeID: s.TicketTypeID, Quantity: s.Quantity}
		for _, a := range s.Attendees {
			sel.Attendees = append(sel.Attendees, models.Attendee(a))
		}
		in.Selections = append(in.Selections, sel)
	}

	res, err := h.issuance.Purchase(e.Request.Context(), in)
	if err != nil {
		return apiError("issuance.Purchase()", err)
	}
	return e.JSON(http.StatusCreated, res)
}

// MyTickets - tickets bought by the authenticated user
func (h *TicketHandler) MyTickets(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}
	tickets, err := h.store.FindTickets(e.Request.Context(), store.TicketFilter{PurchaserID: e.Auth.Id})
	if err != nil {
		return apiError("store.FindTickets()", err)
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return e.JSON(http.StatusOK, map[string]any{"tickets": tickets})
}

// TicketQR - PNG of the ticket's QR code, for its purchaser or an admin
func (h *TicketHandler) TicketQR(e *core.RequestEvent) error {
	a := actor(e)
	if a == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	t, err := h.store.Ticket(e.Request.Context(), e.Request.PathValue("ticketId"))
	if err != nil {
		return apiError("store.Ticket()", err)
	}
	if t.PurchaserID != a.ID && !a.IsAdmin() {
		return apiError("ticket qr", status.ErrForbidden)
	}
	if t.Status == models.TicketPending || t.Status == models.TicketCancelled {
		return apis.NewBadRequestError("Ticket is not active", nil)
	}

	size, _ := strconv.Atoi(e.Request.URL.Query().Get("size"))
	png, err := services.RenderQRPNG(t.QRCode, min(size, 1024))
	if err != nil {
		return apiError("services.RenderQRPNG()", err)
	}
	e.Response.Header().Set("Cache-Control", "private, max-age=300")
	return e.Blob(http.StatusOK, "image/png", png)
}
