// Package config loads storefront settings from the environment, with an
// optional YAML file underneath.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/editions/storefront/internal/payment"
	"github.com/editions/storefront/internal/shop"
)

// Config is the resolved server configuration.
type Config struct {
	Port            string
	DataDir         string
	PaymentProvider string

	StripeSecretKey string
	WebhookSecret   string
	BaseURL         string
	PayrexxInstance string
	PayrexxAPIKey   string

	UnitPrice        decimal.Decimal
	Currency         string
	ProductName      string
	AllowedCountries []string
	MaxEdition       int
	ReservationTTL   time.Duration
	ProviderTimeout  time.Duration

	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration
	KafkaBroker string
	KafkaTopic  string
	AdminToken  string
}

// SetDefaults registers default values on v. Keys are the lower-case form
// of the environment variable names.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "5000")
	v.SetDefault("data_dir", ".")
	v.SetDefault("payment_provider", "stripe")
	v.SetDefault("unit_price", "7.00")
	v.SetDefault("currency", "chf")
	v.SetDefault("product_name", "Carnet édition #%d")
	v.SetDefault("allowed_shipping_countries", "CH,FR,DE,IT")
	v.SetDefault("max_edition", 0)
	v.SetDefault("reservation_ttl", "0s")
	v.SetDefault("provider_timeout", "20s")
	v.SetDefault("cache_ttl", "30s")
	v.SetDefault("kafka_topic", "storefront.orders")
}

// Load resolves the configuration. Environment variables override values
// from configFile, which may be empty.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	price, err := decimal.NewFromString(v.GetString("unit_price"))
	if err != nil {
		return nil, fmt.Errorf("UNIT_PRICE: %w", err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("UNIT_PRICE must be positive, got %s", price)
	}

	cfg := &Config{
		Port:             v.GetString("port"),
		DataDir:          v.GetString("data_dir"),
		PaymentProvider:  strings.ToLower(v.GetString("payment_provider")),
		StripeSecretKey:  v.GetString("stripe_secret_key"),
		WebhookSecret:    v.GetString("webhook_secret"),
		BaseURL:          strings.TrimRight(v.GetString("base_url"), "/"),
		PayrexxInstance:  v.GetString("payrexx_instance"),
		PayrexxAPIKey:    v.GetString("payrexx_api_key"),
		UnitPrice:        price,
		Currency:         strings.ToLower(v.GetString("currency")),
		ProductName:      v.GetString("product_name"),
		AllowedCountries: stringList(v, "allowed_shipping_countries"),
		MaxEdition:       v.GetInt("max_edition"),
		ReservationTTL:   v.GetDuration("reservation_ttl"),
		ProviderTimeout:  v.GetDuration("provider_timeout"),
		DatabaseURL:      v.GetString("database_url"),
		RedisURL:         v.GetString("redis_url"),
		CacheTTL:         v.GetDuration("cache_ttl"),
		KafkaBroker:      v.GetString("kafka_broker"),
		KafkaTopic:       v.GetString("kafka_topic"),
		AdminToken:       v.GetString("admin_token"),
	}

	switch cfg.PaymentProvider {
	case "stripe", "payrexx":
	default:
		return nil, fmt.Errorf("PAYMENT_PROVIDER: unknown provider %q", cfg.PaymentProvider)
	}
	if cfg.MaxEdition < 0 {
		return nil, fmt.Errorf("MAX_EDITION must not be negative")
	}
	if cfg.ReservationTTL < 0 || cfg.ProviderTimeout < 0 || cfg.CacheTTL < 0 {
		return nil, fmt.Errorf("durations must not be negative")
	}
	return cfg, nil
}

// Warnings lists settings that are missing but not fatal at startup.
func (c *Config) Warnings() []string {
	var out []string
	switch c.PaymentProvider {
	case "stripe":
		if c.StripeSecretKey == "" {
			out = append(out, "STRIPE_SECRET_KEY not set, checkout sessions will fail")
		}
	case "payrexx":
		if c.PayrexxInstance == "" || c.PayrexxAPIKey == "" {
			out = append(out, "PAYREXX_INSTANCE or PAYREXX_API_KEY not set, checkout sessions will fail")
		}
	}
	if c.WebhookSecret == "" {
		out = append(out, "WEBHOOK_SECRET not set, webhook signature verification will fail")
	}
	if c.BaseURL == "" {
		out = append(out, "BASE_URL not set, success and cancel URLs will be relative")
	}
	return out
}

// Shop returns the checkout settings for the shop service.
func (c *Config) Shop() shop.Config {
	return shop.Config{
		UnitPrice:        c.UnitPrice,
		Currency:         c.Currency,
		ProductName:      c.ProductName,
		BaseURL:          c.BaseURL,
		AllowedCountries: c.AllowedCountries,
		MaxEdition:       c.MaxEdition,
		ReservationTTL:   c.ReservationTTL,
		ProviderTimeout:  c.ProviderTimeout,
		AdminToken:       c.AdminToken,
	}
}

// Payment returns the provider options.
func (c *Config) Payment() payment.Options {
	return payment.Options{
		Provider:        c.PaymentProvider,
		StripeSecretKey: c.StripeSecretKey,
		WebhookSecret:   c.WebhookSecret,
		PayrexxInstance: c.PayrexxInstance,
		PayrexxAPIKey:   c.PayrexxAPIKey,
	}
}

// stringList accepts a YAML list or a comma-separated string.
func stringList(v *viper.Viper, key string) []string {
	if items, ok := v.Get(key).([]any); ok {
		var out []string
		for _, it := range items {
			out = append(out, strings.ToUpper(fmt.Sprint(it)))
		}
		return out
	}
	return splitList(v.GetString(key))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		out = append(out, strings.ToUpper(part))
	}
	return out
}
