package goIdentity

import (
	"net/mail"
	"strings"
	"unicode"
)

const maxEmailLength = 254

// NormalizeUsername applies the marketplace username rules: characters outside
// [a-z0-9] are stripped after lowercasing, then length and the reserved list
// are checked against the default configuration.
func NormalizeUsername(raw string) (string, error) {
	return normalizeUsername(raw, defaultConfig().Validation)
}

// NormalizeEmail lowercases and strips characters outside the email allow-list
// and checks the result is a single bare address.
func NormalizeEmail(raw string) (string, error) {
	return normalizeEmail(raw)
}

func normalizeUsername(raw string, cfg ValidationConfig) (string, error) {
	cleaned := stripControl(raw)
	if strings.TrimSpace(cleaned) == "" {
		return "", &ValidationError{Field: "username", Reason: "required"}
	}

	var b strings.Builder
	b.Grow(len(cleaned))
	for _, r := range strings.ToLower(cleaned) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	username := b.String()

	switch {
	case len(username) < cfg.UsernameMinLength:
		return "", &ValidationError{Field: "username", Reason: "too short"}
	case len(username) > cfg.UsernameMaxLength:
		return "", &ValidationError{Field: "username", Reason: "too long"}
	}

	for _, reserved := range cfg.ReservedUsernames {
		if username == strings.ToLower(reserved) {
			return "", &ValidationError{Field: "username", Reason: "reserved"}
		}
	}

	return username, nil
}

func normalizeEmail(raw string) (string, error) {
	cleaned := stripControl(raw)
	if strings.TrimSpace(cleaned) == "" {
		return "", &ValidationError{Field: "email", Reason: "required"}
	}

	var b strings.Builder
	b.Grow(len(cleaned))
	for _, r := range strings.ToLower(cleaned) {
		if isEmailRune(r) {
			b.WriteRune(r)
		}
	}
	email := b.String()

	if len(email) > maxEmailLength {
		return "", &ValidationError{Field: "email", Reason: "too long"}
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", &ValidationError{Field: "email", Reason: "malformed"}
	}

	at := strings.LastIndexByte(email, '@')
	if at <= 0 || !strings.Contains(email[at+1:], ".") || strings.HasSuffix(email, ".") {
		return "", &ValidationError{Field: "email", Reason: "malformed"}
	}

	return email, nil
}

func isEmailRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '@', r == '.', r == '_', r == '-', r == '+':
		return true
	default:
		return false
	}
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// maskEmail keeps the first character of the local part for log lines.
func maskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
