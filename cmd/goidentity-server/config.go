package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config is read from a YAML file when one is given, with environment
// variables layered on top.
type Config struct {
	Env     string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP    HTTPConfig    `yaml:"http"`
	Redis   RedisConfig   `yaml:"redis"`
	DB      DBConfig      `yaml:"db"`
	Mail    MailConfig    `yaml:"mail"`
	Session SessionConfig `yaml:"session"`
	App     AppConfig     `yaml:"app"`
}

type HTTPConfig struct {
	Addr              string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers" env:"HTTP_TRUST_PROXY_HEADERS" env-default:"false"`
	RequestTimeout    time.Duration `yaml:"request_timeout" env:"HTTP_REQUEST_TIMEOUT" env-default:"30s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"15s"`
	MetricsEnabled    bool          `yaml:"metrics_enabled" env:"METRICS_ENABLED" env-default:"true"`
}

type RedisConfig struct {
	URL string `yaml:"url" env:"REDIS_URL" env-required:"true"`
}

type DBConfig struct {
	DSN     string `yaml:"dsn" env:"DATABASE_URL" env-required:"true"`
	Migrate bool   `yaml:"migrate" env:"DATABASE_MIGRATE" env-default:"false"`
}

// MailConfig selects the outbound transport. An empty SMTPURL logs messages
// instead of sending them, which is only accepted outside production.
type MailConfig struct {
	SMTPURL string `yaml:"smtp_url" env:"SMTP_URL"`
	From    string `yaml:"from" env:"MAIL_FROM" env-default:"TradeMySkills <no-reply@trademyskills.local>"`
}

type SessionConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	Issuer    string        `yaml:"issuer" env:"JWT_ISSUER"`
	Audience  string        `yaml:"audience" env:"JWT_AUDIENCE"`
	TTL       time.Duration `yaml:"ttl" env:"JWT_TTL" env-default:"1h"`
}

type AppConfig struct {
	Name          string `yaml:"name" env:"APP_NAME" env-default:"TradeMySkills"`
	BaseURL       string `yaml:"base_url" env:"APP_BASE_URL" env-default:"http://localhost:3000"`
	SecurityAlert bool   `yaml:"security_alert" env:"SECURITY_ALERT" env-default:"true"`
	AuditLog      bool   `yaml:"audit_log" env:"AUDIT_LOG" env-default:"true"`
}

// Load reads path when set, otherwise CONFIG_PATH, otherwise the environment.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Env == "production" && c.Mail.SMTPURL == "" {
		return errors.New("SMTP_URL is required in production")
	}
	if len(c.Session.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 bytes")
	}
	return nil
}

// engineConfig maps process settings onto the engine defaults.
func (c *Config) engineConfig() goIdentity.Config {
	cfg := goIdentity.DefaultConfig()
	cfg.Notification.AppName = c.App.Name
	cfg.Notification.BaseURL = c.App.BaseURL
	cfg.Email.SecurityAlert = c.App.SecurityAlert
	cfg.Metrics.Enabled = c.HTTP.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = c.HTTP.MetricsEnabled
	return cfg
}
