package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// ErrPaymentNotFound is returned when the payments API answers 404.
var ErrPaymentNotFound = errors.New("mercadopago: payment not found")

type (
	PreferenceItem struct {
		ID         string  `json:"id,omitempty"`
		Title      string  `json:"title"`
		Quantity   int     `json:"quantity"`
		UnitPrice  float64 `json:"unit_price"`
		CurrencyID string  `json:"currency_id,omitempty"`
	}

	PreferencePayer struct {
		Name  string `json:"name,omitempty"`
		Email string `json:"email,omitempty"`
	}

	BackURLs struct {
		Success string `json:"success,omitempty"`
		Failure string `json:"failure,omitempty"`
		Pending string `json:"pending,omitempty"`
	}

	// PreferenceForm is the Checkout Pro preference body.
	PreferenceForm struct {
		Items             []PreferenceItem `json:"items"`
		Payer             PreferencePayer  `json:"payer"`
		ExternalReference string           `json:"external_reference"`
		BackURLs          BackURLs         `json:"back_urls"`
		AutoReturn        string           `json:"auto_return,omitempty"`
		NotificationURL   string           `json:"notification_url,omitempty"`
		Expires           bool             `json:"expires"`
		ExpirationDateTo  string           `json:"expiration_date_to,omitempty"`
	}

	PreferenceReply struct {
		ID               string `json:"id"`
		InitPoint        string `json:"init_point"`
		SandboxInitPoint string `json:"sandbox_init_point"`
	}

	PaymentReply struct {
		ID                json.Number `json:"id"`
		Status            string      `json:"status"`
		StatusDetail      string      `json:"status_detail"`
		ExternalReference string      `json:"external_reference"`
		TransactionAmount float64     `json:"transaction_amount"`
		CurrencyID        string      `json:"currency_id"`
		Payer             struct {
			Email string `json:"email"`
		} `json:"payer"`
	}
)

// createPreference creates a hosted checkout preference.
func (m *mercadoPago) createPreference(ctx context.Context, p *PreferenceForm) (*PreferenceReply, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("createPreference: json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/checkout/preferences", bytes.NewBuffer(b))
	if err != nil {
		return nil, fmt.Errorf("createPreference: http.NewRequestWithContext: %w", err)
	}
	req = m.setHeaders(req)
	req.Header.Set("X-Idempotency-Key", uuid.NewString())

	resp, err := m.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("createPreference: hc.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		rbody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("createPreference: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var reply PreferenceReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("createPreference: json.Decode: %w", err)
	}
	if reply.ID == "" || reply.InitPoint == "" {
		return nil, errors.New("createPreference: reply without id or init_point")
	}
	if m.sandbox && reply.SandboxInitPoint != "" {
		reply.InitPoint = reply.SandboxInitPoint
	}

	return &reply, nil
}

// getPayment fetches the authoritative state of a payment.
func (m *mercadoPago) getPayment(ctx context.Context, paymentID string) (*PaymentReply, error) {
	endpoint := fmt.Sprintf("%s/v1/payments/%s", m.baseURL, url.PathEscape(paymentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("getPayment: http.NewRequestWithContext: %w", err)
	}
	req = m.setHeaders(req)

	resp, err := m.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getPayment: hc.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPaymentNotFound
	}
	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("getPayment: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var reply PaymentReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("getPayment: json.Decode: %w", err)
	}

	return &reply, nil
}
