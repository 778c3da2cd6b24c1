package stores

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestTokenStore(t *testing.T) (*miniredis.Miniredis, *TokenStore, *testClock) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	store := NewTokenStore(client, TokenStoreConfig{
		Prefix:               "test",
		RetentionAfterExpiry: time.Hour,
		Now:                  clock.Now,
	})
	return mr, store, clock
}

func usernameRecord(subject string) TokenRecord {
	return TokenRecord{
		Subject:     subject,
		ChangeType:  "USERNAME_CHANGE",
		Destination: subject + "@example.com",
		Payload:     []byte(`{"newUsername":"alice123"}`),
	}
}

func TestTokenStoreCreateAndRedeem(t *testing.T) {
	_, store, clock := newTestTokenStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, usernameRecord("u1"), 15*time.Minute)
	require.NoError(t, err)
	assert.Len(t, created.Token, 64)
	assert.Empty(t, created.Superseded)
	assert.Equal(t, clock.Now().Add(15*time.Minute), created.ExpiresAt)

	active, err := store.Active(ctx, "u1", "USERNAME_CHANGE")
	require.NoError(t, err)
	assert.Equal(t, created.Token, active)

	redeemed, err := store.Redeem(ctx, created.Token, "u1", "USERNAME_CHANGE")
	require.NoError(t, err)
	assert.Equal(t, "u1", redeemed.Subject)
	assert.Equal(t, "USERNAME_CHANGE", redeemed.ChangeType)
	assert.Equal(t, "u1@example.com", redeemed.Destination)
	assert.JSONEq(t, `{"newUsername":"alice123"}`, string(redeemed.Payload))
	assert.True(t, redeemed.ExpiresAt.Equal(created.ExpiresAt))

	active, err = store.Active(ctx, "u1", "USERNAME_CHANGE")
	require.NoError(t, err)
	assert.Empty(t, active, "redemption must clear the subject index")
}

func TestTokenStoreRedeemIsSingleUse(t *testing.T) {
	_, store, _ := newTestTokenStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, usernameRecord("u1"), 15*time.Minute)
	require.NoError(t, err)

	_, err = store.Redeem(ctx, created.Token, "u1", "USERNAME_CHANGE")
	require.NoError(t, err)

	_, err = store.Redeem(ctx, created.Token, "u1", "USERNAME_CHANGE")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenStoreConcurrentRedeemSucceedsOnce(t *testing.T) {
	_, store, _ := newTestTokenStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, usernameRecord("u1"), 15*time.Minute)
	require.NoError(t, err)

	const workers = 16
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Redeem(ctx, created.Token, "u1", "USERNAME_CHANGE")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, notFound int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrTokenNotFound):
			notFound++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, notFound)
}

func TestTokenStoreCreateSupersedesPrevious(t *testing.T) {
	_, store, _ := newTestTokenStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, usernameRecord("u1"), 15*time.Minute)
	require.NoError(t, err)
	second, err := store.Create(ctx, usernameRecord("u1"), 15*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, first.Token, second.Superseded)

	_, err = store.Redeem(ctx, first.Token, "u1", "USERNAME_CHANGE")
	assert.ErrorIs(t, err, ErrTokenNotFound, "superseded token must be invalid")

	active, err := store.Active(ctx, "u1", "USERNAME_CHANGE")
	require.NoError(t, err)
	assert.Equal(t, second.Token, active)

	_, err = store.Redeem(ctx, second.Token, "u1", "USERNAME_CHANGE")
	assert.NoError(t, err)
}

func TestTokenStoreSupersessionIsPerType(t *testing.T) {
	_, store, _ := newTestTokenStore(t)
	ctx := context.Background()

	username, err := store.Create(ctx, usernameRecord("u1"), 15*time.Minute)
	require.NoError(t, err)

	emailRecord := usernameRecord("u1")
	emailRecord.ChangeType = "EMAIL_CHANGE"
	email, err := store.Create(ctx, emailRecord, 30*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, email.Superseded)

	_, err = store.Redeem(ctx, username.Token, "u1", "USERNAME_CHANGE")
	assert.NoError(t, err)
	_, err = store.Redeem(ctx, email.Token, "u1", "EMAIL_CHANGE")
	assert.NoError(t, err)
}

func TestTokenStoreExpiryBoundary(t *testing.T) {
	_, store, clock := newTestTokenStore(t)
	ctx := context.Background()

	before, err := store.Create(ctx, usernameRecord("u1"), 15*time.Minute)
	require.NoError(t, err)
	clock.Set(before.ExpiresAt.Add(-time.Millisecond))
	_, err = store.Redeem(ctx, before.Token, "u1", "USERNAME_CHANGE")
	assert.NoError(t, err, "token must be valid 1ms before expiry")

	clock.Set(time.UnixMilli(1_700_000_000_000))
	after, err := store.Create(ctx, usernameRecord("u2"), 15*time.Minute)
	require.NoError(t, err)
	clock.Set(after.ExpiresAt.Add(time.Millisecond))
	_, err = store.Redeem(ctx, after.Token, "u2", "USERNAME_CHANGE")
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = store.Redeem(ctx, after.Token, "u2", "USERNAME_CHANGE")
	assert.ErrorIs(t, err, ErrTokenNotFound, "expired token must be deleted on lookup")

	active, err := store.Active(ctx, "u2", "USERNAME_CHANGE")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestTokenStoreWrongSubjectKeepsRecord(t *testing.T) {
	_, store, _ := newTestTokenStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, usernameRecord("u1"), 15*time.Minute)
	require.NoError(t, err)

	_, err = store.Redeem(ctx, created.Token, "intruder", "USERNAME_CHANGE")
	assert.ErrorIs(t, err, ErrTokenSubjectMismatch)

	_, err = store.Redeem(ctx, created.Token, "u1", "USERNAME_CHANGE")
	assert.NoError(t, err)
}

func TestTokenStoreTypeMismatchKeepsRecord(t *testing.T) {
	_, store, _ := newTestTokenStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, usernameRecord("u1"), 15*time.Minute)
	require.NoError(t, err)

	_, err = store.Redeem(ctx, created.Token, "u1", "EMAIL_CHANGE")
	assert.ErrorIs(t, err, ErrTokenTypeMismatch)

	_, err = store.Redeem(ctx, created.Token, "u1", "USERNAME_CHANGE")
	assert.NoError(t, err)
}

func TestTokenStoreRetentionUsesRedisTTL(t *testing.T) {
	mr, store, _ := newTestTokenStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, usernameRecord("u1"), 15*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute+time.Hour, mr.TTL("test:tok:"+created.Token))
	assert.Equal(t, 15*time.Minute+time.Hour, mr.TTL("test:sub:u1:USERNAME_CHANGE"))

	mr.FastForward(15*time.Minute + time.Hour + time.Second)
	_, err = store.Redeem(ctx, created.Token, "u1", "USERNAME_CHANGE")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenStoreDelete(t *testing.T) {
	_, store, _ := newTestTokenStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, usernameRecord("u1"), 15*time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, created.Token))
	require.NoError(t, store.Delete(ctx, created.Token), "deleting twice is not an error")

	_, err = store.Redeem(ctx, created.Token, "u1", "USERNAME_CHANGE")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	active, err := store.Active(ctx, "u1", "USERNAME_CHANGE")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestTokenStoreDeleteLeavesNewerIndex(t *testing.T) {
	_, store, _ := newTestTokenStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, usernameRecord("u1"), 15*time.Minute)
	require.NoError(t, err)
	second, err := store.Create(ctx, usernameRecord("u1"), 15*time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, first.Token))

	active, err := store.Active(ctx, "u1", "USERNAME_CHANGE")
	require.NoError(t, err)
	assert.Equal(t, second.Token, active)
}

func TestTokenStoreMalformedToken(t *testing.T) {
	_, store, _ := newTestTokenStore(t)

	_, err := store.Redeem(context.Background(), "not-a-token", "u1", "USERNAME_CHANGE")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenStoreCreateRejectsIncompleteRecord(t *testing.T) {
	_, store, _ := newTestTokenStore(t)

	_, err := store.Create(context.Background(), TokenRecord{ChangeType: "USERNAME_CHANGE"}, time.Minute)
	assert.ErrorIs(t, err, ErrTokenRecordInvalid)
	_, err = store.Create(context.Background(), usernameRecord("u1"), 0)
	assert.ErrorIs(t, err, ErrTokenRecordInvalid)
}

func TestTokenStoreRedisFailure(t *testing.T) {
	mr, store, _ := newTestTokenStore(t)
	mr.Close()

	_, err := store.Create(context.Background(), usernameRecord("u1"), time.Minute)
	assert.ErrorIs(t, err, ErrTokenRedisUnavailable)
}
