package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Provider names a payment gateway implementation.
type Provider string

const (
	ProviderMercadoPago Provider = "mercadopago"
	ProviderSandbox     Provider = "sandbox"
)

type PaymentStatus string

const (
	StatusApproved   PaymentStatus = "approved"
	StatusPending    PaymentStatus = "pending"
	StatusInProcess  PaymentStatus = "in_process"
	StatusAuthorized PaymentStatus = "authorized"
	StatusRejected   PaymentStatus = "rejected"
	StatusCancelled  PaymentStatus = "cancelled"
	StatusRefunded   PaymentStatus = "refunded"
)

// Failed reports the terminal failure statuses that release a reservation.
func (s PaymentStatus) Failed() bool {
	return s == StatusRejected || s == StatusCancelled
}

type Item struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Payer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

// PreferenceRequest asks the gateway for a hosted checkout.
type PreferenceRequest struct {
	Items             []Item
	Payer             Payer
	ExternalReference string
	BackURLs          BackURLs
	NotificationURL   string
	Currency          string
	// ExpiresAt closes the checkout; zero means no expiration.
	ExpiresAt time.Time
}

type Preference struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

// Payment is the authoritative payment state fetched from the gateway.
type Payment struct {
	ID                string          `json:"id"`
	Status            PaymentStatus   `json:"status"`
	ExternalReference string          `json:"external_reference"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	PayerEmail        string          `json:"payer_email"`
}

// Gateway is the subset of a payment provider the reconciler and the
// purchase workflows consume.
type Gateway interface {
	Provider() Provider
	CreatePreference(ctx context.Context, req *PreferenceRequest) (*Preference, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}
