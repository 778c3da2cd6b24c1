package goIdentity

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		reason string
	}{
		{in: "alice", want: "alice"},
		{in: "  Alice_123! ", want: "alice123"},
		{in: "ÄLICE99", want: "lice99"},
		{in: "bob\x00\x07cat", want: "bobcat"},
		{in: strings.Repeat("a", 20), want: strings.Repeat("a", 20)},
		{in: "", reason: "required"},
		{in: " \t ", reason: "required"},
		{in: "a_b", reason: "too short"},
		{in: strings.Repeat("a", 21), reason: "too long"},
		{in: "Admin", reason: "reserved"},
		{in: "s.u.p.p.o.r.t", reason: "reserved"},
	}

	for _, tt := range tests {
		got, err := NormalizeUsername(tt.in)
		if tt.reason != "" {
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("%q: expected ValidationError, got %v", tt.in, err)
			}
			if vErr.Field != "username" || vErr.Reason != tt.reason {
				t.Fatalf("%q: expected reason %q, got %+v", tt.in, tt.reason, vErr)
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("%q: ValidationError must unwrap to ErrInvalidInput", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("%q: expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestNormalizeUsernameCustomReservedList(t *testing.T) {
	cfg := defaultConfig().Validation
	cfg.ReservedUsernames = []string{"Market"}

	if _, err := normalizeUsername("market", cfg); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected reserved rejection, got %v", err)
	}
	if got, err := normalizeUsername("admin", cfg); err != nil || got != "admin" {
		t.Fatalf("custom list replaces defaults, got %q, %v", got, err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	valid := map[string]string{
		"alice@example.com":          "alice@example.com",
		"  Alice@Example.COM ":       "alice@example.com",
		"first.last+tag@mail.co.uk":  "first.last+tag@mail.co.uk",
		"a_b-c@sub.example.org":      "a_b-c@sub.example.org",
		"bob<script>@example.com":    "bobscript@example.com",
		"carol\r\n@example.com":      "carol@example.com",
		"dave@exa mple.com":          "dave@example.com",
		"e'ric@example.com":          "eric@example.com",
		"x@y.io":                     "x@y.io",
		"UPPER.case@EXAMPLE.travel":  "upper.case@example.travel",
		"n0mbers123@123example.net":  "n0mbers123@123example.net",
		"hyphen-domain@my-site.shop": "hyphen-domain@my-site.shop",
	}
	for in, want := range valid {
		got, err := NormalizeEmail(in)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: expected %q, got %q", in, want, got)
		}
	}

	invalid := []string{
		"",
		"plainaddress",
		"@example.com",
		"alice@",
		"alice@localhost",
		"alice@example.",
		"a@@example.com",
		"alice@example.com@evil.com",
		strings.Repeat("a", 250) + "@example.com",
	}
	for _, in := range invalid {
		if _, err := NormalizeEmail(in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%q: expected ErrInvalidInput, got %v", in, err)
		}
	}
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"alice@example.com": "a***@example.com",
		"b@x.io":            "b***@x.io",
		"nope":              "***",
		"@x.io":             "***",
	}
	for in, want := range cases {
		if got := maskEmail(in); got != want {
			t.Fatalf("maskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
