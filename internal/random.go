package internal

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
)

const (
	verificationTokenSize = 32
	// VerificationTokenLength is the length of an encoded verification token.
	VerificationTokenLength = verificationTokenSize * 2
)

// NewVerificationToken returns 256 bits of randomness, hex encoded.
func NewVerificationToken() (string, error) {
	var raw [verificationTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// ParseVerificationToken checks the encoding of a presented token without
// touching storage. Only lowercase hex is accepted.
func ParseVerificationToken(token string) (string, error) {
	if len(token) != VerificationTokenLength {
		return "", errors.New("invalid verification token size")
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", errors.New("invalid verification token encoding")
		}
	}
	return token, nil
}
