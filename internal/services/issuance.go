package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clubsite/internal/services/gateway"
	"clubsite/internal/status"
	"clubsite/internal/store"
	"clubsite/models"
	"clubsite/monitoring"
	"clubsite/utils"

	"github.com/shopspring/decimal"
)

// Config carries the purchase and checkout rules shared by the workflows.
type Config struct {
	PublicBaseURL         string
	Currency              string
	PendingTicketTTL      time.Duration
	MaxTicketsPerPurchase int
	MemberDiscountPercent decimal.Decimal
	ShippingFlatCost      decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

func (c Config) notificationURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/api/v1/payments/webhook"
}

func (c Config) backURLs(path string) gateway.BackURLs {
	base := strings.TrimRight(c.PublicBaseURL, "/") + path
	return gateway.BackURLs{
		Success: base + "?resultado=aprobado",
		Failure: base + "?resultado=rechazado",
		Pending: base + "?resultado=pendiente",
	}
}

type Selection struct {
	TicketTypeID string            `json:"ticket_type_id"`
	Quantity     int               `json:"quantity"`
	Attendees    []models.Attendee `json:"attendees"`
}

type PurchaseRequest struct {
	EventID    string
	LotID      string
	Selections []Selection
	Payer      models.Contact
	Purchaser  *models.Actor // nil for guest checkout
}

type PurchaseResult struct {
	CheckoutURL  string          `json:"checkout_url"`
	PreferenceID string          `json:"preference_id"`
	Reference    string          `json:"reference"`
	TicketIDs    []string        `json:"ticket_ids"`
	Total        decimal.Decimal `json:"total"`
}

type IssuanceService struct {
	store    store.Store
	gateway  gateway.Gateway
	cfg      Config
	now      func() time.Time
	newToken func() (string, error)
}

func NewIssuanceService(s store.Store, gw gateway.Gateway, cfg Config) *IssuanceService {
	return &IssuanceService{
		store:    s,
		gateway:  gw,
		cfg:      cfg,
		now:      time.Now,
		newToken: func() (string, error) { return utils.GenerateCode(32) },
	}
}

// Purchase reserves one pending ticket per unit and returns the hosted
// checkout link. Either every ticket of the purchase is reserved and a link
// is returned, or nothing is left behind.
func (s *IssuanceService) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	perType, units, err := s.validateShape(req)
	if err != nil {
		return nil, err
	}

	member := req.Purchaser != nil && req.Purchaser.Member
	now := s.now()
	batch, err := utils.GenerateCode(4)
	if err != nil {
		return nil, fmt.Errorf("purchase: batch id: %w", err)
	}

	var (
		ev      *models.Event
		tickets []models.Ticket
		items   []gateway.Item
		total   = decimal.Zero
	)
	err = s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		ev, err = tx.Event(ctx, req.EventID)
		if err != nil {
			return err
		}
		if !ev.OnSale() {
			return status.ErrEventNotOnSale
		}
		if ev.MembersOnly && !member {
			return status.ErrMembershipRequired
		}

		lot, err := tx.Lot(ctx, req.LotID)
		if errors.Is(err, status.ErrNotFound) {
			return fmt.Errorf("%w: unknown lot", status.ErrLotMismatch)
		}
		if err != nil {
			return err
		}
		if lot.EventID != ev.ID {
			return status.ErrLotMismatch
		}

		types, err := tx.TicketTypesByLot(ctx, lot.ID)
		if err != nil {
			return err
		}
		sold := soldInLot(types)
		if !LotIsActive(now, *lot, sold) {
			return status.ErrLotNotActive
		}
		byID := make(map[string]models.TicketType, len(types))
		for _, tt := range types {
			byID[tt.ID] = tt
		}

		for _, sel := range req.Selections {
			tt, ok := byID[sel.TicketTypeID]
			if !ok {
				return status.ErrLotMismatch
			}
			if err := s.checkTicketType(ctx, tx, tt, perType[tt.ID]); err != nil {
				return err
			}
		}

		if lot.MaxQuantity != nil {
			pending, err := tx.CountTickets(ctx, store.TicketFilter{LotID: lot.ID, Statuses: []models.TicketStatus{models.TicketPending}})
			if err != nil {
				return err
			}
			if sold+pending+units > *lot.MaxQuantity {
				return fmt.Errorf("%w: lot %s", status.ErrInsufficientAvailability, lot.Name)
			}
		}
		if ev.Capacity != nil {
			held, err := tx.CountTickets(ctx, store.TicketFilter{
				EventID:  ev.ID,
				Statuses: []models.TicketStatus{models.TicketValid, models.TicketUsed, models.TicketPending},
			})
			if err != nil {
				return err
			}
			if held+units > *ev.Capacity {
				return fmt.Errorf("%w: event capacity reached", status.ErrInsufficientAvailability)
			}
		}

		for _, sel := range req.Selections {
			tt := byID[sel.TicketTypeID]
			price := tt.PriceFor(member)
			for _, a := range sel.Attendees {
				t, err := s.newTicket(ev.ID, lot.ID, tt.ID, req.Purchaser, batch, a, price, now)
				if err != nil {
					return err
				}
				if err := tx.InsertTicket(ctx, t); err != nil {
					return err
				}
				tickets = append(tickets, *t)
				total = total.Add(price)
			}
			items = append(items, gateway.Item{
				ID:        tt.ID,
				Title:     fmt.Sprintf("%s - %s", ev.Title, tt.Name),
				Quantity:  sel.Quantity,
				UnitPrice: price,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("purchase: %w", err)
	}

	ids := make([]string, len(tickets))
	for i, t := range tickets {
		ids[i] = t.ID
	}
	ref, err := EncodeTicketBatch(batch, ids)
	if err != nil {
		s.release(ctx, ids)
		return nil, fmt.Errorf("purchase: %w", err)
	}

	pref, err := s.gateway.CreatePreference(ctx, &gateway.PreferenceRequest{
		Items:             items,
		Payer:             gateway.Payer{Name: req.Payer.Name, Email: req.Payer.Email},
		ExternalReference: ref,
		BackURLs:          s.cfg.backURLs("/eventos/" + ev.Slug + "/compra"),
		NotificationURL:   s.cfg.notificationURL(),
		Currency:          s.cfg.Currency,
		ExpiresAt:         now.Add(s.cfg.PendingTicketTTL),
	})
	if err != nil {
		s.release(ctx, ids)
		if !errors.Is(err, status.ErrGateway) {
			err = fmt.Errorf("%w: %w", status.ErrGateway, err)
		}
		return nil, fmt.Errorf("purchase: create preference: %w", err)
	}

	monitoring.TrackTicketsIssued(len(ids))
	slog.Info("purchase created", "event_id", ev.ID, "batch", batch, "tickets", len(ids), "total", total.String())

	return &PurchaseResult{
		CheckoutURL:  pref.CheckoutURL,
		PreferenceID: pref.ID,
		Reference:    ref,
		TicketIDs:    ids,
		Total:        total,
	}, nil
}

// validateShape checks the request before touching the store and returns
// the requested units per ticket type and in total.
func (s *IssuanceService) validateShape(req PurchaseRequest) (map[string]int, int, error) {
	if req.EventID == "" || req.LotID == "" {
		return nil, 0, fmt.Errorf("%w: event and lot are required", status.ErrInvalidRequest)
	}
	if len(req.Selections) == 0 {
		return nil, 0, fmt.Errorf("%w: at least one ticket type must be selected", status.ErrInvalidRequest)
	}

	perType := make(map[string]int, len(req.Selections))
	units := 0
	for _, sel := range req.Selections {
		if sel.TicketTypeID == "" {
			return nil, 0, fmt.Errorf("%w: ticket type is required", status.ErrInvalidRequest)
		}
		if sel.Quantity < 1 {
			return nil, 0, fmt.Errorf("%w: quantity must be at least 1", status.ErrInvalidRequest)
		}
		if len(sel.Attendees) != sel.Quantity {
			return nil, 0, fmt.Errorf("%w: %d attendees for %d tickets", status.ErrInvalidRequest, len(sel.Attendees), sel.Quantity)
		}
		for _, a := range sel.Attendees {
			if strings.TrimSpace(a.Name) == "" || strings.TrimSpace(a.Email) == "" {
				return nil, 0, fmt.Errorf("%w: attendee name and email are required", status.ErrInvalidRequest)
			}
		}
		perType[sel.TicketTypeID] += sel.Quantity
		units += sel.Quantity
	}
	if limit := s.cfg.MaxTicketsPerPurchase; limit > 0 && units > limit {
		return nil, 0, fmt.Errorf("%w: at most %d tickets per purchase", status.ErrExceedsMaxPerPurchase, limit)
	}
	return perType, units, nil
}

func (s *IssuanceService) checkTicketType(ctx context.Context, tx store.Tx, tt models.TicketType, qty int) error {
	if !tt.Active {
		return fmt.Errorf("%w: %s is not on sale", status.ErrInsufficientAvailability, tt.Name)
	}
	if tt.MaxPerPurchase > 0 && qty > tt.MaxPerPurchase {
		return fmt.Errorf("%w: %s allows %d", status.ErrExceedsMaxPerPurchase, tt.Name, tt.MaxPerPurchase)
	}
	pending, err := tx.CountTickets(ctx, store.TicketFilter{TicketTypeID: tt.ID, Statuses: []models.TicketStatus{models.TicketPending}})
	if err != nil {
		return err
	}
	if qty > tt.Available()-pending {
		return fmt.Errorf("%w: %s", status.ErrInsufficientAvailability, tt.Name)
	}
	return nil
}

func (s *IssuanceService) newTicket(eventID, lotID, typeID string, purchaser *models.Actor, batch string, a models.Attendee, price decimal.Decimal, now time.Time) (*models.Ticket, error) {
	code, err := s.newToken()
	if err != nil {
		return nil, fmt.Errorf("qr code: %w", err)
	}
	token, err := s.newToken()
	if err != nil {
		return nil, fmt.Errorf("validation token: %w", err)
	}
	t := &models.Ticket{
		EventID:         eventID,
		LotID:           lotID,
		TicketTypeID:    typeID,
		PaymentRef:      batch,
		QRCode:          code,
		ValidationToken: token,
		Attendee: models.Attendee{
			Name:     strings.TrimSpace(a.Name),
			Document: strings.TrimSpace(a.Document),
			Email:    strings.ToLower(strings.TrimSpace(a.Email)),
			Phone:    strings.TrimSpace(a.Phone),
		},
		Price:       price,
		Status:      models.TicketPending,
		PurchasedAt: now,
	}
	if purchaser != nil {
		t.PurchaserID = purchaser.ID
	}
	return t, nil
}

// release removes the pending tickets of a purchase that never got a
// payment link.
func (s *IssuanceService) release(ctx context.Context, ids []string) {
	ctx = context.WithoutCancel(ctx)
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		return tx.DeleteTickets(ctx, ids)
	})
	if err != nil {
		slog.Error("issuanceService.release()", "tickets", ids, "error", err)
	}
}
