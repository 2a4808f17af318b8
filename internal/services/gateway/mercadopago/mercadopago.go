package mercadopago

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.mercadopago.com"

var _ MercadoPago = (*mercadoPago)(nil)

type (
	Config struct {
		BaseURL     string        `json:"base_url" mapstructure:"base_url"`
		AccessToken string        `json:"access_token" mapstructure:"access_token"`
		Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`

		// UseSandboxInitPoint hands buyers the test checkout link.
		UseSandboxInitPoint bool `json:"use_sandbox_init_point" mapstructure:"use_sandbox_init_point"`
	}

	mercadoPago struct {
		baseURL     string
		accessToken string
		sandbox     bool

		// hc is the http client.
		hc *http.Client
	}
)

type MercadoPago interface {
	CreatePreference(ctx context.Context, p *PreferenceForm) (*PreferenceReply, error)
	GetPayment(ctx context.Context, paymentID string) (*PaymentReply, error)
}

// New creates a Checkout Pro client.
func New(cfg *Config) MercadoPago {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &mercadoPago{
		baseURL:     baseURL,
		accessToken: cfg.AccessToken,
		sandbox:     cfg.UseSandboxInitPoint,
		hc: &http.Client{
			Timeout: timeout,
		},
	}
}

func (m *mercadoPago) CreatePreference(ctx context.Context, p *PreferenceForm) (*PreferenceReply, error) {
	return m.createPreference(ctx, p)
}

func (m *mercadoPago) GetPayment(ctx context.Context, paymentID string) (*PaymentReply, error) {
	return m.getPayment(ctx, paymentID)
}
