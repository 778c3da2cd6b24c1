package goIdentity

import (
	"context"
	"encoding/json"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/goIdentity/internal/audit"
	"go.uber.org/zap"
)

// ChangeType tags a verification token and selects its payload shape.
type ChangeType string

const (
	ChangeTypeUsername            ChangeType = "USERNAME_CHANGE"
	ChangeTypeEmail               ChangeType = "EMAIL_CHANGE"
	ChangeTypeAccountVerification ChangeType = "ACCOUNT_VERIFICATION"
	ChangeTypePasswordReset       ChangeType = "PASSWORD_RESET"
)

// ProviderCredentials marks accounts that own their email address.
const ProviderCredentials = "credentials"

// User is the identity view of an account record.
//
// Username is empty until the account claims one.
type User struct {
	ID        string
	Username  string
	Email     string
	Name      string
	Provider  string
	CreatedAt time.Time
}

// UserStore is the relational store behind identity changes.
//
// Find methods return (nil, nil) when no record matches. The Apply methods must
// re-check uniqueness and write inside one transaction and return an error
// wrapping [ErrIdentityConflict] when another account holds the value.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ApplyUsernameChange(ctx context.Context, userID, newUsername string) (string, error)
	ApplyEmailChange(ctx context.Context, userID, newEmail string) (string, error)
}

// Message is one outbound email.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

// EmailSender delivers a message synchronously and returns the provider message id.
type EmailSender interface {
	Send(ctx context.Context, to string, msg Message) (string, error)
}

// UsernameChangePayload is stored with USERNAME_CHANGE tokens.
type UsernameChangePayload struct {
	NewUsername string `json:"newUsername"`
}

// EmailChangePayload is stored with EMAIL_CHANGE tokens.
type EmailChangePayload struct {
	NewEmail string `json:"newEmail"`
	OldEmail string `json:"oldEmail"`
}

func encodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodePayload(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Quota is the identity-change quota left for the caller.
type Quota struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// UsernameChangeRequest is the result of [Engine.RequestUsernameChange].
//
// NoOp is set when the requested username equals the current one; nothing was
// issued and no quota was consumed.
type UsernameChangeRequest struct {
	Username         string
	NoOp             bool
	ExpiresAt        time.Time
	ExpiresInMinutes int
	Quota            Quota
}

// UsernameChangeResult is the result of a redemption or claim.
type UsernameChangeResult struct {
	Username string
}

// EmailChangeRequest is the result of [Engine.RequestEmailChange].
type EmailChangeRequest struct {
	Email            string
	NoOp             bool
	ExpiresAt        time.Time
	ExpiresInMinutes int
	Quota            Quota
}

// EmailChangeResult is the result of [Engine.RedeemEmailChange].
type EmailChangeResult struct {
	Email string
}

// AuditEvent is emitted for every security-relevant identity operation.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink discards events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers events in a channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON line per event.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink logs events through zap.
type ZapSink = internalaudit.ZapSink

// NewChannelSink creates a [ChannelSink] with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewZapSink creates a [ZapSink] on a child of logger named "audit".
func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}
