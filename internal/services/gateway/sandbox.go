package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clubsite/internal/status"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type SandboxConfig struct {
	// CheckoutBaseURL prefixes the fake checkout links handed to buyers.
	CheckoutBaseURL string
	Currency        string
	// TTL bounds how long simulated payments stay readable.
	TTL time.Duration
}

// Sandbox is a development gateway that keeps preferences and payments in
// Redis hashes.
type Sandbox struct {
	redis redis.Cmdable
	cfg   SandboxConfig
	newID func() string
}

func NewSandbox(redisClient redis.Cmdable, cfg *SandboxConfig) *Sandbox {
	s := &Sandbox{
		redis: redisClient,
		cfg:   SandboxConfig{Currency: "ARS", TTL: 24 * time.Hour},
		newID: uuid.NewString,
	}
	if cfg != nil {
		if cfg.CheckoutBaseURL != "" {
			s.cfg.CheckoutBaseURL = strings.TrimRight(cfg.CheckoutBaseURL, "/")
		}
		if cfg.Currency != "" {
			s.cfg.Currency = cfg.Currency
		}
		if cfg.TTL > 0 {
			s.cfg.TTL = cfg.TTL
		}
	}
	return s
}

func preferenceKey(id string) string { return "sandbox:preference:" + id }
func paymentKey(id string) string    { return "sandbox:payment:" + id }

func (s *Sandbox) Provider() Provider {
	return ProviderSandbox
}

func (s *Sandbox) CreatePreference(ctx context.Context, req *PreferenceRequest) (*Preference, error) {
	total := decimal.Zero
	for _, it := range req.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	id := "sb-pref-" + s.newID()
	key := preferenceKey(id)
	if err := s.redis.HSet(ctx, key,
		"external_reference", req.ExternalReference,
		"amount", total.String(),
		"payer_email", req.Payer.Email,
	).Err(); err != nil {
		return nil, fmt.Errorf("sandbox create preference: %w", err)
	}

	ttl := s.cfg.TTL
	if !req.ExpiresAt.IsZero() {
		ttl = time.Until(req.ExpiresAt)
	}
	s.redis.Expire(ctx, key, ttl)

	return &Preference{
		ID:          id,
		CheckoutURL: fmt.Sprintf("%s/sandbox/checkout/%s", s.cfg.CheckoutBaseURL, id),
	}, nil
}

// SimulatePayment records a payment with the given status for the reference
// stored on preferenceID and returns the new payment id.
func (s *Sandbox) SimulatePayment(ctx context.Context, preferenceID string, st PaymentStatus) (string, error) {
	pref, err := s.redis.HGetAll(ctx, preferenceKey(preferenceID)).Result()
	if err != nil {
		return "", fmt.Errorf("sandbox read preference: %w", err)
	}
	if len(pref) == 0 {
		return "", fmt.Errorf("preference %s: %w", preferenceID, status.ErrNotFound)
	}

	id := "sb-pay-" + s.newID()
	key := paymentKey(id)
	if err := s.redis.HSet(ctx, key,
		"status", string(st),
		"external_reference", pref["external_reference"],
		"amount", pref["amount"],
		"payer_email", pref["payer_email"],
	).Err(); err != nil {
		return "", fmt.Errorf("sandbox create payment: %w", err)
	}
	s.redis.Expire(ctx, key, s.cfg.TTL)

	return id, nil
}

func (s *Sandbox) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	data, err := s.redis.HGetAll(ctx, paymentKey(paymentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("sandbox get payment: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("payment %s: %w", paymentID, status.ErrPaymentNotFound)
	}

	amount, _ := decimal.NewFromString(data["amount"])
	return &Payment{
		ID:                paymentID,
		Status:            PaymentStatus(data["status"]),
		ExternalReference: data["external_reference"],
		Amount:            amount,
		Currency:          s.cfg.Currency,
		PayerEmail:        data["payer_email"],
	}, nil
}
