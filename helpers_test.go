package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testEpoch = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memoryUserStore struct {
	mu    sync.Mutex
	users map[string]User
	err   error
}

func newMemoryUserStore(users ...User) *memoryUserStore {
	s := &memoryUserStore{users: make(map[string]User, len(users))}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memoryUserStore) FindByID(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *memoryUserStore) FindByUsername(_ context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, u := range s.users {
		if u.Username == username {
			out := u
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memoryUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			out := u
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memoryUserStore) ApplyUsernameChange(_ context.Context, userID, newUsername string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	u, ok := s.users[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	for id, other := range s.users {
		if id != userID && other.Username == newUsername {
			return "", fmt.Errorf("username %q: %w", newUsername, ErrIdentityConflict)
		}
	}
	u.Username = newUsername
	s.users[userID] = u
	return newUsername, nil
}

func (s *memoryUserStore) ApplyEmailChange(_ context.Context, userID, newEmail string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	u, ok := s.users[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	for id, other := range s.users {
		if id != userID && strings.EqualFold(other.Email, newEmail) {
			return "", fmt.Errorf("email %q: %w", newEmail, ErrIdentityConflict)
		}
	}
	u.Email = newEmail
	s.users[userID] = u
	return newEmail, nil
}

func (s *memoryUserStore) user(id string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *memoryUserStore) put(u User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

func (s *memoryUserStore) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type sentMessage struct {
	To  string
	Msg Message
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	failTo map[string]error
	seq    int
}

func newFakeSender() *fakeSender {
	return &fakeSender{failTo: map[string]error{}}
}

func (s *fakeSender) Send(ctx context.Context, to string, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failTo[to]; ok {
		return "", err
	}
	if err, ok := s.failTo["*"]; ok {
		return "", err
	}
	s.seq++
	s.sent = append(s.sent, sentMessage{To: to, Msg: msg})
	return fmt.Sprintf("msg-%d", s.seq), nil
}

func (s *fakeSender) failFor(to string) {
	s.mu.Lock()
	s.failTo[to] = errors.New("smtp: 421 service not available")
	s.mu.Unlock()
}

func (s *fakeSender) messagesTo(to string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.sent {
		if m.To == to {
			out = append(out, m.Msg)
		}
	}
	return out
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// lastToken extracts the token from the newest verification link sent to to.
func (s *fakeSender) lastToken(t *testing.T, to string) string {
	t.Helper()

	msgs := s.messagesTo(to)
	for i := len(msgs) - 1; i >= 0; i-- {
		if token := tokenFromText(msgs[i].Text); token != "" {
			return token
		}
	}
	t.Fatalf("no verification link sent to %s", to)
	return ""
}

func tokenFromText(text string) string {
	for _, field := range strings.Fields(text) {
		u, err := url.Parse(field)
		if err != nil || u.Scheme == "" {
			continue
		}
		if token := u.Query().Get("token"); token != "" {
			return token
		}
	}
	return ""
}

type testEnv struct {
	engine *Engine
	users  *memoryUserStore
	sender *fakeSender
	clock  *testClock
	mr     *miniredis.Miniredis
	rdb    *redis.Client
}

func establishedUser(id, username, email string) User {
	return User{
		ID:        id,
		Username:  username,
		Email:     email,
		Name:      strings.ToUpper(id[:1]) + id[1:],
		Provider:  ProviderCredentials,
		CreatedAt: testEpoch.Add(-365 * 24 * time.Hour),
	}
}

func newTestEnv(t *testing.T, mutate func(*Config), users ...User) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	clock := newTestClock()
	store := newMemoryUserStore(users...)
	sender := newFakeSender()

	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(store).
		WithEmailSender(sender).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{
		engine: engine,
		users:  store,
		sender: sender,
		clock:  clock,
		mr:     mr,
		rdb:    rdb,
	}
}

func (env *testEnv) metric(id MetricID) uint64 {
	return env.engine.MetricsSnapshot().Counters[id]
}
