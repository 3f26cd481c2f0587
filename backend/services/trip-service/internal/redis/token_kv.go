package redisstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// TokenKV persists fleet tokens in redis.
type TokenKV struct {
	client *redis.Client
}

// NewTokenKV returns redis-backed token storage.
func NewTokenKV(client *redis.Client) *TokenKV {
	return &TokenKV{client: client}
}

// Get returns the value under key; a missing key is not an error.
func (s *TokenKV) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores value without expiry. Token lifetime is tracked by expires_at, not by redis.
func (s *TokenKV) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

// Delete removes keys.
func (s *TokenKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
