package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"clubsite/internal/services/gateway/mercadopago"

	"github.com/redis/go-redis/v9"
)

// Factory creates gateway instances by provider.
type Factory struct {
	redis redis.Cmdable
}

// NewFactory takes the redis client used by the sandbox provider.
func NewFactory(redisClient redis.Cmdable) *Factory {
	return &Factory{redis: redisClient}
}

func (f *Factory) CreateGateway(ctx context.Context, provider Provider, config any) (Gateway, error) {
	switch provider {
	case ProviderMercadoPago:
		mpConfig, ok := config.(*mercadopago.Config)
		if !ok {
			return nil, fmt.Errorf("invalid mercadopago config type, expected *mercadopago.Config")
		}
		return NewMercadoPagoAdapter(mpConfig)

	case ProviderSandbox:
		if f.redis == nil {
			return nil, fmt.Errorf("sandbox provider requires redis")
		}
		sbConfig, _ := config.(*SandboxConfig)
		return NewSandbox(f.redis, sbConfig), nil

	default:
		return nil, fmt.Errorf("unsupported payment provider: %s", provider)
	}
}

func (f *Factory) SupportedProviders() []Provider {
	return []Provider{ProviderMercadoPago, ProviderSandbox}
}

// Registry holds the configured gateways and the primary one used for new
// checkouts.
type Registry struct {
	gateways map[Provider]Gateway
	factory  *Factory
	primary  Provider
}

func NewRegistry(factory *Factory) *Registry {
	return &Registry{
		gateways: make(map[Provider]Gateway),
		factory:  factory,
	}
}

// Register creates the provider's gateway, wraps it in a circuit breaker and
// makes it primary when it is the first one registered.
func (r *Registry) Register(ctx context.Context, provider Provider, config any) error {
	gw, err := r.factory.CreateGateway(ctx, provider, config)
	if err != nil {
		return fmt.Errorf("failed to create %s gateway: %w", provider, err)
	}
	r.Add(gw)
	return nil
}

// Add registers an already constructed gateway.
func (r *Registry) Add(gw Gateway) {
	provider := gw.Provider()
	r.gateways[provider] = WithBreaker(gw)
	if r.primary == "" {
		r.primary = provider
	}
	slog.Info("payment gateway registered", "provider", provider, "primary", r.primary == provider)
}

func (r *Registry) Get(provider Provider) (Gateway, error) {
	gw, ok := r.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("payment provider %s not registered", provider)
	}
	return gw, nil
}

func (r *Registry) Primary() (Gateway, error) {
	if r.primary == "" {
		return nil, fmt.Errorf("no primary payment provider configured")
	}
	return r.Get(r.primary)
}

func (r *Registry) SetPrimary(provider Provider) error {
	if _, ok := r.gateways[provider]; !ok {
		return fmt.Errorf("payment provider %s not registered", provider)
	}
	r.primary = provider
	return nil
}

func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
