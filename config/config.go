package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	// Server configuration
	Port          string
	Environment   string
	PublicBaseURL string

	// Redis configuration
	RedisURL string

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUserID       string

	// Payment gateway
	PaymentProvider  string
	MPBaseURL        string
	MPAccessToken    string
	MPWebhookSecret  string
	Currency         string
	GatewayTimeout   time.Duration
	WebhookLockTTL   time.Duration
	PendingTicketTTL time.Duration

	// Mail
	MailFromName    string
	MailFromAddress string

	// Purchase rules
	MaxTicketsPerPurchase int
	MemberDiscountPercent decimal.Decimal
	ShippingFlatCost      decimal.Decimal
	FreeShippingThreshold decimal.Decimal

	// Cron
	CronSecret       string
	ReminderSchedule string
	ExpirySchedule   string

	// Abuse protection
	RateLimitPerMinute int

	// Monitoring
	EnableMetrics bool
}

// LoadConfig reads configuration from the environment. When CLUB_CONFIG_FILE
// points to a YAML file its keys are used as a fallback for unset variables.
func LoadConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()

	if path := os.Getenv("CLUB_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			slog.Warn("config: unable to read config file", "path", path, "error", err)
		}
	}

	l := loader{v: v}

	return &Config{
		// Server
		Port:          l.getEnv("PORT", "8090"),
		Environment:   l.getEnv("ENVIRONMENT", "development"),
		PublicBaseURL: l.getEnv("PUBLIC_BASE_URL", "http://localhost:8090"),

		// Redis
		RedisURL: l.getEnv("REDIS_URL", "localhost:6379"),

		// PubNub
		PubNubPublishKey:   l.getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: l.getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    l.getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:       l.getEnv("PUBNUB_USER_ID", "clubsite-server"),

		// Payments
		PaymentProvider:  l.getEnv("PAYMENT_PROVIDER", "sandbox"),
		MPBaseURL:        l.getEnv("MP_BASE_URL", "https://api.mercadopago.com"),
		MPAccessToken:    l.getEnv("MP_ACCESS_TOKEN", ""),
		MPWebhookSecret:  l.getEnv("MP_WEBHOOK_SECRET", ""),
		Currency:         l.getEnv("CURRENCY", "ARS"),
		GatewayTimeout:   l.getEnvAsDuration("GATEWAY_TIMEOUT", "10s"),
		WebhookLockTTL:   l.getEnvAsDuration("WEBHOOK_LOCK_TTL", "30s"),
		PendingTicketTTL: l.getEnvAsDuration("PENDING_TICKET_TTL", "30m"),

		// Mail
		MailFromName:    l.getEnv("MAIL_FROM_NAME", "Club"),
		MailFromAddress: l.getEnv("MAIL_FROM_ADDRESS", "no-reply@example.com"),

		// Purchase rules
		MaxTicketsPerPurchase: l.getEnvAsInt("MAX_TICKETS_PER_PURCHASE", 10),
		MemberDiscountPercent: l.getEnvAsDecimal("MEMBER_DISCOUNT_PERCENT", "0"),
		ShippingFlatCost:      l.getEnvAsDecimal("SHIPPING_FLAT_COST", "0"),
		FreeShippingThreshold: l.getEnvAsDecimal("FREE_SHIPPING_THRESHOLD", "0"),

		// Cron
		CronSecret:       l.getEnv("CRON_SECRET", ""),
		ReminderSchedule: l.getEnv("REMINDER_SCHEDULE", ""),
		ExpirySchedule:   l.getEnv("EXPIRY_SCHEDULE", "*/5 * * * *"),

		RateLimitPerMinute: l.getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),

		// Monitoring
		EnableMetrics: l.getEnvAsBool("ENABLE_METRICS", true),
	}
}

// IsDevelopment reports whether development-only routes should be exposed.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

type loader struct {
	v *viper.Viper
}

func (l loader) getEnv(key, defaultValue string) string {
	if value := l.v.GetString(key); value != "" {
		return value
	}
	return defaultValue
}

func (l loader) getEnvAsInt(key string, defaultValue int) int {
	valueStr := l.getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func (l loader) getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := l.getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func (l loader) getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := l.getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, fall back to the default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func (l loader) getEnvAsDecimal(key string, defaultValue string) decimal.Decimal {
	valueStr := l.getEnv(key, defaultValue)
	if d, err := decimal.NewFromString(valueStr); err == nil {
		return d
	}
	return decimal.RequireFromString(defaultValue)
}
