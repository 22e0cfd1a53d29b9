package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Store       string
	DatabaseURL string

	ClerkSecretKey     string
	ClerkWebhookSecret string
	// AuthDevSecret enables HS256 bearer tokens for local development.
	AuthDevSecret string

	StripeSecretKey       string
	StripeWebhookSecret   string
	PaymentGatewayTimeout time.Duration

	MQTTBrokerURL string
	MQTTClientID  string

	FCMServiceAccountJSON string
	FCMCredentialsFile    string

	TariffLocation *time.Location

	MetricsUser string
	MetricsPass string

	LogLevel slog.Level

	DispatchWorkers int
	DispatchQueue   int
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		Port:                  getenv("PORT", "8080"),
		Store:                 strings.ToLower(getenv("STORE", "postgres")),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		ClerkSecretKey:        os.Getenv("CLERK_SECRET_KEY"),
		ClerkWebhookSecret:    os.Getenv("CLERK_WEBHOOK_SECRET"),
		AuthDevSecret:         os.Getenv("AUTH_DEV_SECRET"),
		StripeSecretKey:       os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		MQTTBrokerURL:         os.Getenv("MQTT_BROKER_URL"),
		MQTTClientID:          getenv("MQTT_CLIENT_ID", "domado-api"),
		FCMServiceAccountJSON: os.Getenv("FCM_SERVICE_ACCOUNT_JSON"),
		FCMCredentialsFile:    getenv("FCM_CREDENTIALS_FILE", "./serviceAccountKey.json"),
		MetricsUser:           os.Getenv("METRICS_USER"),
		MetricsPass:           os.Getenv("METRICS_PASS"),
	}

	var err error
	if cfg.PaymentGatewayTimeout, err = duration("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.DispatchWorkers, err = integer("DISPATCH_WORKERS", 5); err != nil {
		return nil, err
	}
	if cfg.DispatchQueue, err = integer("DISPATCH_QUEUE", 100); err != nil {
		return nil, err
	}

	tz := getenv("TARIFF_TIMEZONE", "Asia/Seoul")
	if cfg.TariffLocation, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid TARIFF_TIMEZONE %q: %w", tz, err)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	switch cfg.Store {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unknown STORE %q, want postgres or memory", cfg.Store)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func integer(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
