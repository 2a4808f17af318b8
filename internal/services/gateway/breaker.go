package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clubsite/internal/status"
	"clubsite/monitoring"
	"clubsite/utils"
)

type breakerGateway struct {
	next Gateway
	cb   *utils.CircuitBreaker
}

// WithBreaker guards gw with a circuit breaker and records call durations.
// Errors are wrapped with status.ErrGateway unless they are a not-found reply.
func WithBreaker(gw Gateway) Gateway {
	return &breakerGateway{
		next: gw,
		cb: utils.NewCircuitBreaker(string(gw.Provider()), utils.BreakerSettings{
			MinRequests:  5,
			FailureRatio: 0.6,
			Timeout:      30 * time.Second,
		}),
	}
}

func (b *breakerGateway) Provider() Provider {
	return b.next.Provider()
}

// call runs fn through the breaker. Domain replies (not found) count as
// healthy calls but are still returned to the caller.
func (b *breakerGateway) call(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	start := time.Now()
	var domainErr error
	result, err := b.cb.Execute(ctx, func() (any, error) {
		res, err := fn()
		if errors.Is(err, status.ErrPaymentNotFound) {
			domainErr = err
			return nil, nil
		}
		return res, err
	})
	monitoring.TrackGatewayCall(string(b.Provider()), op, start, err)

	switch {
	case errors.Is(err, utils.ErrOpenState), errors.Is(err, utils.ErrTooManyRequests):
		return nil, fmt.Errorf("%s %s: %w: %w", b.Provider(), op, status.ErrGateway, status.ErrCircuitOpen)
	case err != nil:
		return nil, fmt.Errorf("%s %s: %w: %w", b.Provider(), op, status.ErrGateway, err)
	case domainErr != nil:
		return nil, domainErr
	}
	return result, nil
}

func (b *breakerGateway) CreatePreference(ctx context.Context, req *PreferenceRequest) (*Preference, error) {
	res, err := b.call(ctx, "create_preference", func() (any, error) {
		return b.next.CreatePreference(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Preference), nil
}

func (b *breakerGateway) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	res, err := b.call(ctx, "get_payment", func() (any, error) {
		return b.next.GetPayment(ctx, paymentID)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Payment), nil
}
