package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	PlutuAPIKey      string
	PlutuSecretKey   string
	PlutuAccessToken string
	PlutuBaseURL     string

	PublicBaseURL string
	StatusPageURL string

	MinimumAmount       int64
	SupportedCurrencies []string
	PaymentMethodCodes  []string

	GatewayTimeout time.Duration
	ReplayTTL      time.Duration
	LockTTL        time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		Port:        valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),

		PlutuAPIKey:      strings.TrimSpace(k.String("PLUTU_API_KEY")),
		PlutuSecretKey:   k.String("PLUTU_SECRET_KEY"),
		PlutuAccessToken: strings.TrimSpace(k.String("PLUTU_ACCESS_TOKEN")),
		PlutuBaseURL:     valueOrDefault(k.String("PLUTU_BASE_URL"), "https://api.plutus.ly/api/v1/"),

		PublicBaseURL: strings.TrimRight(strings.TrimSpace(k.String("PUBLIC_BASE_URL")), "/"),
		StatusPageURL: valueOrDefault(k.String("STATUS_PAGE_URL"), "/payment/status"),

		MinimumAmount:       parseInt64(k.String("MINIMUM_AMOUNT"), 500),
		SupportedCurrencies: splitAndTrim(valueOrDefault(k.String("SUPPORTED_CURRENCIES"), "USD,LYD")),
		PaymentMethodCodes:  splitAndTrim(valueOrDefault(k.String("PAYMENT_METHOD_CODES"), "card,mada,visa,mastercard,amex,sadadapi,tlync,localbankcards,banktransfer")),

		GatewayTimeout: parseDuration(k.String("GATEWAY_TIMEOUT"), "10s"),
		ReplayTTL:      parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		LockTTL:        parseDuration(k.String("RECONCILE_LOCK_TTL"), "30s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if strings.TrimSpace(cfg.PlutuSecretKey) == "" {
		return nil, errors.New("PLUTU_SECRET_KEY is required")
	}
	if cfg.PlutuAPIKey == "" {
		return nil, errors.New("PLUTU_API_KEY is required")
	}
	if cfg.PlutuAccessToken == "" {
		return nil, errors.New("PLUTU_ACCESS_TOKEN is required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("PUBLIC_BASE_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// ReturnURL is the browser redirect endpoint advertised to the gateway.
func (c *Config) ReturnURL() string {
	return c.PublicBaseURL + "/payment/plutu/return"
}

// CallbackURL is the server-to-server webhook endpoint advertised to the gateway.
func (c *Config) CallbackURL() string {
	return c.PublicBaseURL + "/payment/plutu/webhook"
}

// SupportsCurrency reports whether the currency is on the configured allow-list.
func (c *Config) SupportsCurrency(code string) bool {
	needle := strings.ToUpper(strings.TrimSpace(code))
	for _, cur := range c.SupportedCurrencies {
		if strings.ToUpper(cur) == needle {
			return true
		}
	}
	return false
}

// SupportsPaymentMethod reports whether the method code is configured.
func (c *Config) SupportsPaymentMethod(code string) bool {
	needle := strings.ToLower(strings.TrimSpace(code))
	for _, m := range c.PaymentMethodCodes {
		if strings.ToLower(m) == needle {
			return true
		}
	}
	return false
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt64(value string, fallback int64) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var parsed int64
	if _, err := fmt.Sscan(trimmed, &parsed); err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
