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

type CartItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type CheckoutRequest struct {
	Items         []CartItem
	Contact       models.Contact
	Pickup        bool
	PaymentMethod string
	Purchaser     *models.Actor
}

type CheckoutResult struct {
	OrderID      string          `json:"order_id"`
	Number       string          `json:"number"`
	CheckoutURL  string          `json:"checkout_url"`
	PreferenceID string          `json:"preference_id"`
	Total        decimal.Decimal `json:"total"`
}

type ShopService struct {
	store    store.Store
	gateway  gateway.Gateway
	mailer   Mailer
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

func NewShopService(s store.Store, gw gateway.Gateway, m Mailer, n Notifier, cfg Config) *ShopService {
	return &ShopService{store: s, gateway: gw, mailer: m, notifier: n, cfg: cfg, now: time.Now}
}

// PlaceOrder prices the cart, stores a pending order and returns the hosted
// checkout link. Stock is checked but not held until payment.
func (s *ShopService) PlaceOrder(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", status.ErrInvalidRequest)
	}
	c := req.Contact
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Email) == "" {
		return nil, fmt.Errorf("%w: contact name and email are required", status.ErrInvalidRequest)
	}
	if !req.Pickup && strings.TrimSpace(c.Address) == "" {
		return nil, fmt.Errorf("%w: shipping address is required", status.ErrInvalidRequest)
	}

	now := s.now()
	number, err := orderNumber(now)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	o := &models.Order{
		Number:        number,
		Contact:       c,
		Status:        models.OrderPending,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     now,
	}
	if o.PaymentMethod == "" {
		o.PaymentMethod = string(s.gateway.Provider())
	}
	if req.Purchaser != nil {
		o.PurchaserID = req.Purchaser.ID
	}

	err = s.store.RunInTx(ctx, func(tx store.Tx) error {
		requested := map[string]int{}
		for _, ci := range req.Items {
			item, stock, err := s.lineItem(ctx, tx, ci)
			if err != nil {
				return err
			}
			key := ci.ProductID + "/" + ci.VariantID
			requested[key] += ci.Quantity
			if requested[key] > stock {
				return fmt.Errorf("%w: %s", status.ErrOutOfStock, item.Description)
			}
			o.Items = append(o.Items, *item)
			o.Subtotal = o.Subtotal.Add(item.Total())
		}

		member := req.Purchaser != nil && req.Purchaser.Member
		o.Discount, o.ShippingCost = s.adjustments(o.Subtotal, member, req.Pickup)
		o.Total = o.Subtotal.Sub(o.Discount).Add(o.ShippingCost)
		return tx.InsertOrder(ctx, o)
	})
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	pref, err := s.gateway.CreatePreference(ctx, &gateway.PreferenceRequest{
		Items: []gateway.Item{{
			ID:        o.ID,
			Title:     "Pedido " + o.Number,
			Quantity:  1,
			UnitPrice: o.Total,
		}},
		Payer:             gateway.Payer{Name: c.Name, Email: c.Email},
		ExternalReference: o.ID,
		BackURLs:          s.cfg.backURLs("/tienda/pedido/" + o.ID),
		NotificationURL:   s.cfg.notificationURL(),
		Currency:          s.cfg.Currency,
	})
	if err != nil {
		if derr := s.store.RunInTx(context.WithoutCancel(ctx), func(tx store.Tx) error {
			return tx.DeleteOrder(ctx, o.ID)
		}); derr != nil {
			slog.Error("shopService.PlaceOrder() delete order", "order", o.Number, "error", derr)
		}
		if !errors.Is(err, status.ErrGateway) {
			err = fmt.Errorf("%w: %w", status.ErrGateway, err)
		}
		return nil, fmt.Errorf("place order: create preference: %w", err)
	}

	slog.Info("order placed", "order", o.Number, "items", len(o.Items), "total", o.Total.String())
	return &CheckoutResult{
		OrderID:      o.ID,
		Number:       o.Number,
		CheckoutURL:  pref.CheckoutURL,
		PreferenceID: pref.ID,
		Total:        o.Total,
	}, nil
}

// lineItem prices one cart entry and returns the stock it draws from.
func (s *ShopService) lineItem(ctx context.Context, tx store.Tx, ci CartItem) (*models.LineItem, int, error) {
	if ci.ProductID == "" || ci.Quantity < 1 {
		return nil, 0, fmt.Errorf("%w: product and a positive quantity are required", status.ErrInvalidRequest)
	}
	p, err := tx.Product(ctx, ci.ProductID)
	if errors.Is(err, status.ErrNotFound) {
		return nil, 0, fmt.Errorf("%w: unknown product", status.ErrInvalidRequest)
	}
	if err != nil {
		return nil, 0, err
	}
	if !p.Active {
		return nil, 0, fmt.Errorf("%w: %s is not available", status.ErrInvalidRequest, p.Name)
	}

	item := &models.LineItem{
		ProductID:   p.ID,
		Description: p.Name,
		Quantity:    ci.Quantity,
		UnitPrice:   p.Price,
	}
	if ci.VariantID == "" {
		return item, p.Stock, nil
	}

	v, err := tx.Variant(ctx, ci.VariantID)
	if errors.Is(err, status.ErrNotFound) || (err == nil && v.ProductID != p.ID) {
		return nil, 0, fmt.Errorf("%w: unknown variant", status.ErrInvalidRequest)
	}
	if err != nil {
		return nil, 0, err
	}
	if !v.Active {
		return nil, 0, fmt.Errorf("%w: %s %s is not available", status.ErrInvalidRequest, p.Name, v.Name)
	}
	item.VariantID = v.ID
	item.Description = p.Name + " - " + v.Name
	if v.Price != nil {
		item.UnitPrice = *v.Price
	}
	return item, v.Stock, nil
}

func (s *ShopService) adjustments(subtotal decimal.Decimal, member, pickup bool) (discount, shipping decimal.Decimal) {
	discount = decimal.Zero
	if member && s.cfg.MemberDiscountPercent.IsPositive() {
		discount = subtotal.Mul(s.cfg.MemberDiscountPercent).Div(decimal.NewFromInt(100)).Round(2)
	}
	shipping = decimal.Zero
	if pickup {
		return discount, shipping
	}
	net := subtotal.Sub(discount)
	if t := s.cfg.FreeShippingThreshold; t.IsPositive() && net.GreaterThanOrEqual(t) {
		return discount, shipping
	}
	return discount, s.cfg.ShippingFlatCost
}

// AdvanceOrder moves an order one step along its lifecycle.
func (s *ShopService) AdvanceOrder(ctx context.Context, orderID string, next models.OrderStatus, actor *models.Actor) (*models.Order, error) {
	if actor == nil {
		return nil, status.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, status.ErrForbidden
	}
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", status.ErrInvalidRequest, next)
	}

	o, err := s.store.Order(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("advance order: %w", err)
	}
	if !o.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s to %s", status.ErrInvalidTransition, o.Status, next)
	}

	now := s.now()
	won := false
	err = s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		won, err = tx.TransitionOrder(ctx, store.OrderTransition{ID: o.ID, From: o.Status, To: next, At: now})
		if err != nil || !won || next != models.OrderPaid {
			return err
		}
		// manual payments draw stock the same way gateway payments do
		for _, item := range o.Items {
			ok, err := tx.DecrementStock(ctx, item)
			if err != nil {
				return err
			}
			if !ok {
				slog.Error("shopService.AdvanceOrder() stock below zero", "order", o.Number, "product_id", item.ProductID, "variant_id", item.VariantID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("advance order: %w", err)
	}
	if !won {
		return nil, fmt.Errorf("%w: order changed concurrently", status.ErrInvalidTransition)
	}

	slog.Info("order status changed", "order", o.Number, "from", o.Status, "to", next, "actor", actor.ID)
	o.Status = next
	if next == models.OrderPaid {
		o.PaidAt = &now
	}

	if next == models.OrderShipped && s.mailer != nil {
		if err := s.mailer.SendOrderShipped(ctx, o); err != nil {
			slog.Error("mailer.SendOrderShipped()", "order", o.Number, "error", err)
			monitoring.TrackEmailFailure("order_shipped")
		}
	}
	if o.PurchaserID != "" {
		publish(ctx, s.notifier, userChannel(o.PurchaserID), map[string]any{
			"type":     "order_status",
			"order_id": o.ID,
			"status":   next,
		})
	}
	return o, nil
}

// orderNumber renders ORD-YYYYMMDD-XXXXXX.
func orderNumber(now time.Time) (string, error) {
	suffix, err := utils.GenerateFromCharset(6, utils.UpperAlphanumCharset)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix), nil
}
