package gateway

import (
	"context"
	"errors"
	"fmt"

	"clubsite/internal/services/gateway/mercadopago"
	"clubsite/internal/status"

	"github.com/shopspring/decimal"
)

// MercadoPagoAdapter wraps the Checkout Pro client to conform to Gateway.
type MercadoPagoAdapter struct {
	client mercadopago.MercadoPago
}

func NewMercadoPagoAdapter(cfg *mercadopago.Config) (*MercadoPagoAdapter, error) {
	if cfg == nil || cfg.AccessToken == "" {
		return nil, fmt.Errorf("mercadopago access token is required")
	}
	return &MercadoPagoAdapter{client: mercadopago.New(cfg)}, nil
}

func (m *MercadoPagoAdapter) Provider() Provider {
	return ProviderMercadoPago
}

func (m *MercadoPagoAdapter) CreatePreference(ctx context.Context, req *PreferenceRequest) (*Preference, error) {
	form := &mercadopago.PreferenceForm{
		Payer: mercadopago.PreferencePayer{
			Name:  req.Payer.Name,
			Email: req.Payer.Email,
		},
		ExternalReference: req.ExternalReference,
		BackURLs: mercadopago.BackURLs{
			Success: req.BackURLs.Success,
			Failure: req.BackURLs.Failure,
			Pending: req.BackURLs.Pending,
		},
		NotificationURL: req.NotificationURL,
	}
	if req.BackURLs.Success != "" {
		form.AutoReturn = "approved"
	}
	if !req.ExpiresAt.IsZero() {
		form.Expires = true
		form.ExpirationDateTo = mercadopago.FormatTime(req.ExpiresAt)
	}
	for _, it := range req.Items {
		form.Items = append(form.Items, mercadopago.PreferenceItem{
			ID:         it.ID,
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice.InexactFloat64(),
			CurrencyID: req.Currency,
		})
	}

	reply, err := m.client.CreatePreference(ctx, form)
	if err != nil {
		return nil, err
	}
	return &Preference{ID: reply.ID, CheckoutURL: reply.InitPoint}, nil
}

func (m *MercadoPagoAdapter) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	reply, err := m.client.GetPayment(ctx, paymentID)
	if errors.Is(err, mercadopago.ErrPaymentNotFound) {
		return nil, fmt.Errorf("payment %s: %w", paymentID, status.ErrPaymentNotFound)
	}
	if err != nil {
		return nil, err
	}

	return &Payment{
		ID:                reply.ID.String(),
		Status:            PaymentStatus(reply.Status),
		ExternalReference: reply.ExternalReference,
		Amount:            decimal.NewFromFloat(reply.TransactionAmount),
		Currency:          reply.CurrencyID,
		PayerEmail:        reply.Payer.Email,
	}, nil
}
