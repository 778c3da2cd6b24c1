package internal

import (
	"testing"
)

func TestNewVerificationTokenShape(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		token, err := NewVerificationToken()
		if err != nil {
			t.Fatalf("NewVerificationToken failed: %v", err)
		}
		if len(token) != VerificationTokenLength {
			t.Fatalf("expected %d chars, got %d", VerificationTokenLength, len(token))
		}
		if _, err := ParseVerificationToken(token); err != nil {
			t.Fatalf("generated token rejected: %v", err)
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("duplicate token generated: %s", token)
		}
		seen[token] = struct{}{}
	}
}

func TestParseVerificationTokenRejectsMalformed(t *testing.T) {
	valid, err := NewVerificationToken()
	if err != nil {
		t.Fatalf("NewVerificationToken failed: %v", err)
	}

	cases := []string{
		"",
		"abc",
		valid[:len(valid)-1],
		valid + "0",
		"Z" + valid[1:],
		"A" + valid[1:],
	}
	for _, tc := range cases {
		if _, err := ParseVerificationToken(tc); err == nil {
			t.Fatalf("expected %q to be rejected", tc)
		}
	}
}

// FuzzParseVerificationToken feeds arbitrary strings to the token parser.
// Goal: no panics; accepted inputs are always 64 lowercase hex chars.
func FuzzParseVerificationToken(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("0000000000000000000000000000000000000000000000000000000000000000")
	f.Add("!!!not-hex!!!")

	if token, err := NewVerificationToken(); err == nil {
		f.Add(token)
	}

	f.Fuzz(func(t *testing.T, input string) {
		token, err := ParseVerificationToken(input)
		if err != nil {
			return
		}
		if token != input || len(token) != VerificationTokenLength {
			t.Fatalf("parser accepted %q but returned %q", input, token)
		}
	})
}
