package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/redis/go-redis/v9"
)

var (
	ErrTokenNotFound         = errors.New("verification token not found")
	ErrTokenExpired          = errors.New("verification token expired")
	ErrTokenSubjectMismatch  = errors.New("verification token subject mismatch")
	ErrTokenTypeMismatch     = errors.New("verification token type mismatch")
	ErrTokenRedisUnavailable = errors.New("verification token redis unavailable")
	ErrTokenRecordInvalid    = errors.New("invalid verification token record")
)

// createTokenLua drops the live token of the same (subject, type) and writes the new one.
// KEYS[1] = new record key
// KEYS[2] = subject index key
// ARGV[1] = token
// ARGV[2] = subject
// ARGV[3] = change type
// ARGV[4] = destination
// ARGV[5] = created at (unix ms)
// ARGV[6] = expires at (unix ms)
// ARGV[7] = payload
// ARGV[8] = key ttl (ms)
// ARGV[9] = record key prefix
//
// Returns the superseded token or an empty string.
var createTokenLua = redis.NewScript(`
local prev = redis.call('GET', KEYS[2])
if prev then
  redis.call('DEL', ARGV[9] .. prev)
end

redis.call('HSET', KEYS[1],
  'sub', ARGV[2],
  'type', ARGV[3],
  'dest', ARGV[4],
  'created', ARGV[5],
  'exp', ARGV[6],
  'payload', ARGV[7])
redis.call('PEXPIRE', KEYS[1], ARGV[8])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[8])

if prev then
  return prev
end
return ''
`)

// redeemTokenLua atomically performs lookup→validate→DEL on a token record.
// KEYS[1] = record key
// ARGV[1] = token
// ARGV[2] = expected subject (” skips the check)
// ARGV[3] = expected change type (” skips the check)
// ARGV[4] = now (unix ms)
// ARGV[5] = subject index prefix
//
// Returns:
//
//	flat field/value list on success
//	error string: "not_found", "wrong_subject", "expired", "type_mismatch"
var redeemTokenLua = redis.NewScript(`
local rec = redis.call('HGETALL', KEYS[1])
if #rec == 0 then
  return {err='not_found'}
end

local f = {}
for i = 1, #rec, 2 do
  f[rec[i]] = rec[i + 1]
end

local idx = ARGV[5] .. f['sub'] .. ':' .. f['type']

if ARGV[2] ~= '' and f['sub'] ~= ARGV[2] then
  return {err='wrong_subject'}
end

if tonumber(ARGV[4]) > tonumber(f['exp']) then
  redis.call('DEL', KEYS[1])
  if redis.call('GET', idx) == ARGV[1] then
    redis.call('DEL', idx)
  end
  return {err='expired'}
end

if ARGV[3] ~= '' and f['type'] ~= ARGV[3] then
  return {err='type_mismatch'}
end

redis.call('DEL', KEYS[1])
if redis.call('GET', idx) == ARGV[1] then
  redis.call('DEL', idx)
end
return rec
`)

// deleteTokenLua removes a record and its index entry if the index still points at it.
// KEYS[1] = record key
// ARGV[1] = token
// ARGV[2] = subject index prefix
//
// Returns 1 if a record was removed, 0 otherwise.
var deleteTokenLua = redis.NewScript(`
local sub = redis.call('HGET', KEYS[1], 'sub')
local typ = redis.call('HGET', KEYS[1], 'type')
if not sub or not typ then
  return 0
end

redis.call('DEL', KEYS[1])
local idx = ARGV[2] .. sub .. ':' .. typ
if redis.call('GET', idx) == ARGV[1] then
  redis.call('DEL', idx)
end
return 1
`)

// TokenRecord is the stored form of a verification token.
type TokenRecord struct {
	Token       string
	Subject     string
	ChangeType  string
	Destination string
	Payload     []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
	// Superseded is set by Create when an older live token was dropped.
	Superseded string
}

// TokenStoreConfig holds store construction parameters.
type TokenStoreConfig struct {
	// Prefix namespaces every key. Defaults to "giv".
	Prefix string
	// RetentionAfterExpiry keeps expired records long enough to report them as expired.
	RetentionAfterExpiry time.Duration
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// TokenStore persists single-use verification tokens in Redis.
type TokenStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

func NewTokenStore(redisClient redis.UniversalClient, cfg TokenStoreConfig) *TokenStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "giv"
	}
	if cfg.RetentionAfterExpiry < 0 {
		cfg.RetentionAfterExpiry = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenStore{
		redis:     redisClient,
		prefix:    cfg.Prefix,
		retention: cfg.RetentionAfterExpiry,
		now:       cfg.Now,
	}
}

func (s *TokenStore) recordPrefix() string {
	return s.prefix + ":tok:"
}

func (s *TokenStore) indexPrefix() string {
	return s.prefix + ":sub:"
}

func (s *TokenStore) recordKey(token string) string {
	return s.recordPrefix() + token
}

func (s *TokenStore) indexKey(subject, changeType string) string {
	return s.indexPrefix() + subject + ":" + changeType
}

// Create mints a token for record.Subject/record.ChangeType, replacing any live
// token of the same pair. Token, CreatedAt and ExpiresAt are filled in.
func (s *TokenStore) Create(ctx context.Context, record TokenRecord, ttl time.Duration) (TokenRecord, error) {
	if record.Subject == "" || record.ChangeType == "" || ttl <= 0 {
		return TokenRecord{}, ErrTokenRecordInvalid
	}

	token, err := internal.NewVerificationToken()
	if err != nil {
		return TokenRecord{}, err
	}

	now := s.now()
	record.Token = token
	record.CreatedAt = time.UnixMilli(now.UnixMilli())
	record.ExpiresAt = record.CreatedAt.Add(ttl)

	keyTTL := ttl + s.retention

	result, err := createTokenLua.Run(ctx, s.redis,
		[]string{s.recordKey(token), s.indexKey(record.Subject, record.ChangeType)},
		token,
		record.Subject,
		record.ChangeType,
		record.Destination,
		record.CreatedAt.UnixMilli(),
		record.ExpiresAt.UnixMilli(),
		string(record.Payload),
		keyTTL.Milliseconds(),
		s.recordPrefix(),
	).Result()
	if err != nil {
		return TokenRecord{}, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}

	prev, _ := result.(string)
	record.Superseded = prev

	return record, nil
}

// Redeem consumes token if it belongs to expectedSubject, has not expired and
// is of expectedType. Wrong-subject and wrong-type attempts leave the record
// in place; an expired record is removed.
func (s *TokenStore) Redeem(ctx context.Context, token, expectedSubject, expectedType string) (TokenRecord, error) {
	if _, err := internal.ParseVerificationToken(token); err != nil {
		return TokenRecord{}, ErrTokenNotFound
	}

	result, err := redeemTokenLua.Run(ctx, s.redis,
		[]string{s.recordKey(token)},
		token,
		expectedSubject,
		expectedType,
		s.now().UnixMilli(),
		s.indexPrefix(),
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return TokenRecord{}, ErrTokenNotFound
		case "expired":
			return TokenRecord{}, ErrTokenExpired
		case "wrong_subject":
			return TokenRecord{}, ErrTokenSubjectMismatch
		case "type_mismatch":
			return TokenRecord{}, ErrTokenTypeMismatch
		default:
			return TokenRecord{}, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
		}
	}

	raw, ok := result.([]interface{})
	if !ok {
		return TokenRecord{}, fmt.Errorf("%w: unexpected lua result type", ErrTokenRedisUnavailable)
	}

	record, decErr := decodeTokenRecord(token, raw)
	if decErr != nil {
		return TokenRecord{}, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, decErr)
	}

	return record, nil
}

// Delete removes token. Missing tokens are not an error.
func (s *TokenStore) Delete(ctx context.Context, token string) error {
	if _, err := internal.ParseVerificationToken(token); err != nil {
		return nil
	}

	if err := deleteTokenLua.Run(ctx, s.redis,
		[]string{s.recordKey(token)},
		token,
		s.indexPrefix(),
	).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	return nil
}

// Active returns the live token for (subject, changeType), or "" when none exists.
func (s *TokenStore) Active(ctx context.Context, subject, changeType string) (string, error) {
	token, err := s.redis.Get(ctx, s.indexKey(subject, changeType)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	return token, nil
}

func decodeTokenRecord(token string, raw []interface{}) (TokenRecord, error) {
	if len(raw)%2 != 0 {
		return TokenRecord{}, errors.New("odd token record field count")
	}

	fields := make(map[string]string, len(raw)/2)
	for i := 0; i < len(raw); i += 2 {
		k, kok := raw[i].(string)
		v, vok := raw[i+1].(string)
		if !kok || !vok {
			return TokenRecord{}, errors.New("non-string token record field")
		}
		fields[k] = v
	}

	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return TokenRecord{}, fmt.Errorf("created: %w", err)
	}
	expires, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return TokenRecord{}, fmt.Errorf("exp: %w", err)
	}

	return TokenRecord{
		Token:       token,
		Subject:     fields["sub"],
		ChangeType:  fields["type"],
		Destination: fields["dest"],
		Payload:     []byte(fields["payload"]),
		CreatedAt:   time.UnixMilli(created),
		ExpiresAt:   time.UnixMilli(expires),
	}, nil
}
