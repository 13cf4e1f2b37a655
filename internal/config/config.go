package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Profile    string `env:"APP_PROFILE" envDefault:"dev"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseDSN    string `env:"DATABASE_DSN" envDefault:"file:authkeel.db?_fk=1"`
	RedisAddr      string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`

	// TokenPepper keys the HMAC applied to session and device tokens before
	// storage. LinkTokenSecret signs email-link tokens.
	TokenPepper     string `env:"TOKEN_PEPPER"`
	LinkTokenSecret string `env:"LINK_TOKEN_SECRET"`
	TokenIssuer     string `env:"TOKEN_ISSUER" envDefault:"authkeel"`
	TOTPIssuer      string `env:"TOTP_ISSUER" envDefault:"authkeel"`

	SessionTTL       time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	ImpersonationTTL time.Duration `env:"IMPERSONATION_TTL" envDefault:"1h"`
	LinkTokenTTL     time.Duration `env:"LINK_TOKEN_TTL" envDefault:"1h"`
	InvitationTTL    time.Duration `env:"INVITATION_TTL" envDefault:"48h"`

	DeviceGrantTTL     time.Duration `env:"DEVICE_GRANT_TTL" envDefault:"3m"`
	DevicePollInterval time.Duration `env:"DEVICE_POLL_INTERVAL" envDefault:"5s"`

	OTPCodeTTL time.Duration `env:"OTP_CODE_TTL" envDefault:"5m"`

	AuthRateLimitRPS   float64 `env:"AUTH_RATE_LIMIT_RPS" envDefault:"5"`
	AuthRateLimitBurst int     `env:"AUTH_RATE_LIMIT_BURST" envDefault:"10"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	OTELServiceName           string        `env:"OTEL_SERVICE_NAME" envDefault:"authkeel"`
	OTELEnvironment           string        `env:"OTEL_ENVIRONMENT" envDefault:"dev"`
	OTELExporterOTLPEndpoint  string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTELExporterOTLPInsecure  bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTELMetricsEnabled        bool          `env:"OTEL_METRICS_ENABLED" envDefault:"false"`
	OTELLogsEnabled           bool          `env:"OTEL_LOGS_ENABLED" envDefault:"false"`
	OTELTracesEnabled         bool          `env:"OTEL_TRACES_ENABLED" envDefault:"false"`
	OTELMetricsExportInterval time.Duration `env:"OTEL_METRICS_EXPORT_INTERVAL" envDefault:"30s"`
}

// Load parses configuration from the environment and validates it. The
// outcome is recorded as a config validation event either way.
func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		err = fmt.Errorf("parse env: %w", err)
		recordConfigValidationEvent(ctx, cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		err = fmt.Errorf("validate config: %w", err)
		recordConfigValidationEvent(ctx, cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, cfg.Profile, "success", "none")
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Profile) {
	case "dev", "prod":
	default:
		errs = append(errs, fmt.Errorf("unknown profile %q", c.Profile))
	}
	if c.IsProd() {
		if c.TokenPepper == "" {
			errs = append(errs, errors.New("TOKEN_PEPPER is required in prod"))
		}
		if c.LinkTokenSecret == "" {
			errs = append(errs, errors.New("LINK_TOKEN_SECRET is required in prod"))
		}
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.DatabaseDriver))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.DeviceGrantTTL <= 0 {
		errs = append(errs, errors.New("DEVICE_GRANT_TTL must be positive"))
	}
	if c.DevicePollInterval <= 0 {
		errs = append(errs, errors.New("DEVICE_POLL_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProd() bool { return strings.EqualFold(c.Profile, "prod") }
