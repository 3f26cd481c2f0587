package tokenstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyExpiresAt    = "expires_at"

	// DefaultPrefix namespaces the persisted token keys.
	DefaultPrefix = "fleet:token:"
)

// KeyValue is the durable storage the store persists into.
type KeyValue interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Token is the current fleet API session.
type Token struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether the access token can be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// Empty reports whether no credential at all is held.
func (t Token) Empty() bool {
	return t.AccessToken == "" && t.RefreshToken == "" && t.ExpiresAt.IsZero()
}

// Fields is a partial token update. Zero values are left untouched by Set.
type Fields struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Store caches the token in memory and writes every change through to a KeyValue.
type Store struct {
	mu     sync.RWMutex
	kv     KeyValue
	clock  clock.PassiveClock
	prefix string
	token  Token
}

// New builds a store. Call Load to pick up a previously persisted token.
func New(kv KeyValue, clk clock.PassiveClock) *Store {
	return NewWithPrefix(kv, clk, DefaultPrefix)
}

// NewWithPrefix builds a store that namespaces its keys with prefix.
func NewWithPrefix(kv KeyValue, clk clock.PassiveClock, prefix string) *Store {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Store{kv: kv, clock: clk, prefix: prefix}
}

// Load hydrates the in-memory token from the KeyValue.
func (s *Store) Load(ctx context.Context) error {
	var tok Token

	access, _, err := s.kv.Get(ctx, s.key(keyAccessToken))
	if err != nil {
		return fmt.Errorf("tokenstore: load access token: %w", err)
	}
	refresh, _, err := s.kv.Get(ctx, s.key(keyRefreshToken))
	if err != nil {
		return fmt.Errorf("tokenstore: load refresh token: %w", err)
	}
	expiry, ok, err := s.kv.Get(ctx, s.key(keyExpiresAt))
	if err != nil {
		return fmt.Errorf("tokenstore: load expiry: %w", err)
	}
	if ok && expiry != "" {
		parsed, err := time.Parse(time.RFC3339Nano, expiry)
		if err != nil {
			return fmt.Errorf("tokenstore: parse expiry: %w", err)
		}
		tok.ExpiresAt = parsed
	}
	tok.AccessToken = access
	tok.RefreshToken = refresh

	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()
	return nil
}

// Get returns the current token and whether any credential is held.
func (s *Store) Get() (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, !s.token.Empty()
}

// IsValid reports whether the access token is present and unexpired.
func (s *Store) IsValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token.Valid(s.clock.Now())
}

// Set merges the non-zero fields of f into the stored token.
func (s *Store) Set(ctx context.Context, f Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.token
	if f.AccessToken != "" {
		if err := s.kv.Set(ctx, s.key(keyAccessToken), f.AccessToken); err != nil {
			return fmt.Errorf("tokenstore: persist access token: %w", err)
		}
		next.AccessToken = f.AccessToken
	}
	if f.RefreshToken != "" {
		if err := s.kv.Set(ctx, s.key(keyRefreshToken), f.RefreshToken); err != nil {
			return fmt.Errorf("tokenstore: persist refresh token: %w", err)
		}
		next.RefreshToken = f.RefreshToken
	}
	if !f.ExpiresAt.IsZero() {
		expiry := f.ExpiresAt.UTC()
		if err := s.kv.Set(ctx, s.key(keyExpiresAt), expiry.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("tokenstore: persist expiry: %w", err)
		}
		next.ExpiresAt = expiry
	}
	s.token = next
	return nil
}

// Clear drops the whole token, in memory and in storage.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = Token{}
	if err := s.kv.Delete(ctx, s.key(keyAccessToken), s.key(keyRefreshToken), s.key(keyExpiresAt)); err != nil {
		return fmt.Errorf("tokenstore: clear: %w", err)
	}
	return nil
}

func (s *Store) key(name string) string {
	return s.prefix + name
}
