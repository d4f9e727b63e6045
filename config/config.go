// Package config centralises runtime configuration for the marketplace services.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// ServerConfig configures the public HTTP API server.
type ServerConfig struct {
	Addr        string        `yaml:"addr"`
	BaseURL     string        `yaml:"baseUrl"`
	CORSOrigins []string      `yaml:"corsOrigins"`
	ReadHeader  time.Duration `yaml:"readHeaderTimeout"`
}

// DatabaseConfig configures the Postgres ledger store.
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	ConnectRetries int           `yaml:"connectRetries"`
	RetryDelay     time.Duration `yaml:"retryDelay"`
}

// OrderConfig carries checkout business rules.
type OrderConfig struct {
	MinFractions int64 `yaml:"minFractions"`
}

// AuthConfig configures session token issuance.
type AuthConfig struct {
	TokenTTL  time.Duration `yaml:"tokenTtl"`
	LoginRate float64       `yaml:"loginRate"`
	LoginBurst int          `yaml:"loginBurst"`
}

// GatewayConfig carries credentials and redirect targets for one payment provider.
type GatewayConfig struct {
	APIBaseURL    string `yaml:"apiBaseUrl"`
	SecretKey     string `yaml:"secretKey"`
	WebhookSecret string `yaml:"webhookSecret"`
	SuccessURL    string `yaml:"successUrl"`
	CancelURL     string `yaml:"cancelUrl"`
}

// Enabled reports whether the gateway has credentials configured.
func (g GatewayConfig) Enabled() bool {
	return strings.TrimSpace(g.SecretKey) != ""
}

// GatewaysConfig groups the closed set of supported payment providers.
type GatewaysConfig struct {
	Cardpay   GatewayConfig `yaml:"cardpay"`
	Cryptopay GatewayConfig `yaml:"cryptopay"`
}

// TelemetryConfig configures the OpenTelemetry metrics exporter.
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	ServiceName   string `yaml:"serviceName"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// Settings contains the configuration tree loaded from defaults, file, and environment.
type Settings struct {
	Environment Environment     `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Orders      OrderConfig     `yaml:"orders"`
	Auth        AuthConfig      `yaml:"auth"`
	Gateways    GatewaysConfig  `yaml:"gateways"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// Default returns the default configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Server: ServerConfig{
			Addr:        ":8000",
			BaseURL:     "http://localhost:8000",
			CORSOrigins: []string{"http://localhost:3000"},
			ReadHeader:  5 * time.Second,
		},
		Database: DatabaseConfig{
			URL:            "",
			ConnectRetries: 10,
			RetryDelay:     time.Second,
		},
		Orders: OrderConfig{MinFractions: 1},
		Auth: AuthConfig{
			TokenTTL:   time.Hour,
			LoginRate:  5,
			LoginBurst: 10,
		},
		Gateways: GatewaysConfig{
			Cardpay: GatewayConfig{
				APIBaseURL:    "https://api.cardpay.example.com",
				SecretKey:     "",
				WebhookSecret: "",
				SuccessURL:    "http://localhost:3000/success",
				CancelURL:     "http://localhost:3000/cancel",
			},
			Cryptopay: GatewayConfig{
				APIBaseURL:    "",
				SecretKey:     "",
				WebhookSecret: "",
				SuccessURL:    "http://localhost:3000/success",
				CancelURL:     "http://localhost:3000/cancel",
			},
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "",
			OTLPInsecure:  false,
			ServiceName:   "marketplace-api",
			EnableMetrics: true,
		},
	}
}

// LoadOrDefault loads configuration from the YAML file at path layered over defaults,
// then applies environment overrides. The second return reports whether the file existed.
func LoadOrDefault(path string) (Settings, bool, error) {
	cfg := Default()
	loaded := false
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		raw, err := os.ReadFile(trimmed)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Settings{}, false, fmt.Errorf("parse config %s: %w", trimmed, err)
			}
			loaded = true
		case errors.Is(err, fs.ErrNotExist):
			// fall through to defaults
		default:
			return Settings{}, false, fmt.Errorf("read config %s: %w", trimmed, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Settings{}, loaded, err
	}
	return cfg, loaded, nil
}

// FromEnv loads configuration values from environment variables over defaults.
func FromEnv() Settings {
	cfg := Default()
	applyEnv(&cfg)
	return cfg
}

// Validate checks the invariants the services rely on at construction time.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Database.URL) == "" {
		return errors.New("config: database url required")
	}
	if s.Orders.MinFractions < 1 {
		return errors.New("config: orders.minFractions must be >= 1")
	}
	if s.Auth.TokenTTL <= 0 {
		return errors.New("config: auth.tokenTtl must be > 0")
	}
	return nil
}

func applyEnv(cfg *Settings) {
	if v := strings.TrimSpace(os.Getenv("MARKET_ENV")); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	setString(&cfg.Server.Addr, "HTTP_ADDR")
	setString(&cfg.Server.BaseURL, "BASE_URL")
	if v := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); v != "" {
		origins := strings.Split(v, ",")
		out := origins[:0]
		for _, origin := range origins {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		cfg.Server.CORSOrigins = out
	}

	setString(&cfg.Database.URL, "DATABASE_URL")
	setInt(&cfg.Database.ConnectRetries, "DB_CONNECT_RETRIES")
	setDuration(&cfg.Database.RetryDelay, "DB_CONNECT_RETRY_DELAY")

	setInt64(&cfg.Orders.MinFractions, "MIN_FRACTIONS")
	setDuration(&cfg.Auth.TokenTTL, "AUTH_TOKEN_TTL")

	setString(&cfg.Gateways.Cardpay.APIBaseURL, "CARDPAY_API_BASE_URL")
	setString(&cfg.Gateways.Cardpay.SecretKey, "CARDPAY_SECRET_KEY")
	setString(&cfg.Gateways.Cardpay.WebhookSecret, "CARDPAY_WEBHOOK_SECRET")
	setString(&cfg.Gateways.Cardpay.SuccessURL, "CARDPAY_SUCCESS_URL")
	setString(&cfg.Gateways.Cardpay.CancelURL, "CARDPAY_CANCEL_URL")

	setString(&cfg.Gateways.Cryptopay.APIBaseURL, "CRYPTOPAY_API_BASE_URL")
	setString(&cfg.Gateways.Cryptopay.SecretKey, "CRYPTOPAY_API_KEY")
	setString(&cfg.Gateways.Cryptopay.WebhookSecret, "CRYPTOPAY_WEBHOOK_SECRET")
	setString(&cfg.Gateways.Cryptopay.SuccessURL, "CRYPTOPAY_SUCCESS_URL")
	setString(&cfg.Gateways.Cryptopay.CancelURL, "CRYPTOPAY_CANCEL_URL")

	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		cfg.Telemetry.OTLPInsecure = v == "true"
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_METRICS_ENABLED")); v != "" {
		cfg.Telemetry.EnableMetrics = v != "false"
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}
