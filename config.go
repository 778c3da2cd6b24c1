package goIdentity

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config defines the tunables of an [Engine].
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Username     UsernameChangeConfig
	Email        EmailChangeConfig
	RateLimit    RateLimitConfig
	API          APIRateLimitConfig
	Signup       SignupRateLimitConfig
	Tokens       TokenConfig
	Notification NotificationConfig
	Validation   ValidationConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
CHANGE FLOW CONFIG
====================================
*/

// UsernameChangeConfig controls the verified username-change flow.
type UsernameChangeConfig struct {
	TokenTTL   time.Duration
	VerifyPath string
}

// EmailChangeConfig controls the verified email-change flow.
type EmailChangeConfig struct {
	TokenTTL   time.Duration
	VerifyPath string
	// SecurityAlert sends a notice to the old address once the verification
	// email to the new address was accepted.
	SecurityAlert bool
	// AlertTimeout bounds the background security-alert send.
	AlertTimeout time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig sets the sliding-window quota for identity changes.
// Username and email changes are counted separately.
type RateLimitConfig struct {
	Window     time.Duration
	MaxChanges int
	// NewAccountMaxChanges is the quota of the separate bucket used by accounts
	// younger than NewAccountAge. Zero disables the separate bucket.
	NewAccountMaxChanges int
	NewAccountAge        time.Duration
	RedisPrefix          string
}

// APIRateLimitConfig sets the per-IP quota checked by [Engine.CheckAPIRequest].
type APIRateLimitConfig struct {
	Enabled     bool
	MaxRequests int
	Window      time.Duration
}

// SignupRateLimitConfig sets the per-IP quota checked by [Engine.CheckSignupAttempt].
type SignupRateLimitConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
}

/*
====================================
TOKEN & NOTIFICATION CONFIG
====================================
*/

// TokenConfig controls verification token storage.
type TokenConfig struct {
	RedisPrefix string
	// RetentionAfterExpiry keeps expired tokens around so late redemptions
	// report EXPIRED instead of INVALID.
	RetentionAfterExpiry time.Duration
}

// NotificationConfig controls the content of outbound emails.
type NotificationConfig struct {
	// BaseURL is the public origin verification links point at.
	BaseURL string
	AppName string
}

// ValidationConfig controls username normalization.
type ValidationConfig struct {
	UsernameMinLength int
	UsernameMaxLength int
	ReservedUsernames []string
}

/*
====================================
AUDIT & METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Username: UsernameChangeConfig{
			TokenTTL:   15 * time.Minute,
			VerifyPath: "/verify/username",
		},
		Email: EmailChangeConfig{
			TokenTTL:      30 * time.Minute,
			VerifyPath:    "/verify/email",
			SecurityAlert: true,
			AlertTimeout:  10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Window:               30 * 24 * time.Hour,
			MaxChanges:           2,
			NewAccountMaxChanges: 3,
			NewAccountAge:        7 * 24 * time.Hour,
			RedisPrefix:          "gir",
		},
		API: APIRateLimitConfig{
			Enabled:     true,
			MaxRequests: 30,
			Window:      60 * time.Second,
		},
		Signup: SignupRateLimitConfig{
			Enabled:     true,
			MaxAttempts: 5,
			Window:      15 * time.Minute,
		},
		Tokens: TokenConfig{
			RedisPrefix:          "giv",
			RetentionAfterExpiry: 24 * time.Hour,
		},
		Notification: NotificationConfig{
			BaseURL: "http://localhost:3000",
			AppName: "TradeMySkills",
		},
		Validation: ValidationConfig{
			UsernameMinLength: 3,
			UsernameMaxLength: 20,
			ReservedUsernames: defaultReservedUsernames(),
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func defaultReservedUsernames() []string {
	return []string{
		"admin", "administrator", "api", "auth", "help", "login", "logout",
		"me", "moderator", "null", "profile", "root", "settings", "signup",
		"support", "system", "undefined", "verify",
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Validation.ReservedUsernames != nil {
		out.Validation.ReservedUsernames = append([]string(nil), cfg.Validation.ReservedUsernames...)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Username.TokenTTL <= 0 {
		return errors.New("Username TokenTTL must be > 0")
	}
	if c.Email.TokenTTL <= 0 {
		return errors.New("Email TokenTTL must be > 0")
	}
	if !strings.HasPrefix(c.Username.VerifyPath, "/") || !strings.HasPrefix(c.Email.VerifyPath, "/") {
		return errors.New("VerifyPath must start with /")
	}
	if c.Email.SecurityAlert && c.Email.AlertTimeout <= 0 {
		return errors.New("Email AlertTimeout must be > 0 when SecurityAlert is enabled")
	}

	if c.RateLimit.Window < time.Second {
		return errors.New("RateLimit Window must be >= 1s")
	}
	if c.RateLimit.MaxChanges <= 0 {
		return errors.New("RateLimit MaxChanges must be > 0")
	}
	if c.RateLimit.NewAccountMaxChanges < 0 {
		return errors.New("RateLimit NewAccountMaxChanges must be >= 0")
	}
	if c.RateLimit.NewAccountMaxChanges > 0 && c.RateLimit.NewAccountAge <= 0 {
		return errors.New("RateLimit NewAccountAge must be > 0 when NewAccountMaxChanges is set")
	}
	if c.RateLimit.RedisPrefix == "" {
		return errors.New("RateLimit RedisPrefix must be set")
	}

	if c.API.Enabled {
		if c.API.MaxRequests <= 0 {
			return errors.New("API MaxRequests must be > 0")
		}
		if c.API.Window < time.Second {
			return errors.New("API Window must be >= 1s")
		}
	}
	if c.Signup.Enabled {
		if c.Signup.MaxAttempts <= 0 {
			return errors.New("Signup MaxAttempts must be > 0")
		}
		if c.Signup.Window < time.Second {
			return errors.New("Signup Window must be >= 1s")
		}
	}

	if c.Tokens.RedisPrefix == "" {
		return errors.New("Tokens RedisPrefix must be set")
	}
	if c.Tokens.RedisPrefix == c.RateLimit.RedisPrefix {
		return errors.New("Tokens and RateLimit must use distinct Redis prefixes")
	}
	if c.Tokens.RetentionAfterExpiry < 0 {
		return errors.New("Tokens RetentionAfterExpiry must be >= 0")
	}

	base, err := url.Parse(c.Notification.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return errors.New("Notification BaseURL must be an absolute http(s) URL")
	}

	if c.Validation.UsernameMinLength < 1 || c.Validation.UsernameMaxLength < c.Validation.UsernameMinLength {
		return errors.New("Validation username length bounds are invalid")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
