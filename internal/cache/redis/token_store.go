package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

// DefaultTokenKey is the key used when none is configured.
const DefaultTokenKey = "orderdesk:session:token"

// TokenStore keeps the bearer token under a single Redis key so several
// orderdesk processes on one host can share a session.
type TokenStore struct {
	rdb *redis.Client
	key string
}

// NewTokenStore returns a TokenStore using key, or DefaultTokenKey when key is
// empty.
func NewTokenStore(c *Client, key string) *TokenStore {
	if key == "" {
		key = DefaultTokenKey
	}
	return &TokenStore{rdb: c.Underlying(), key: key}
}

func (s *TokenStore) Load(ctx context.Context) (string, error) {
	tok, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: get %s: %w", s.key, err)
	}
	return tok, nil
}

func (s *TokenStore) Save(ctx context.Context, token string) error {
	if err := s.rdb.Set(ctx, s.key, token, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", s.key, err)
	}
	return nil
}

func (s *TokenStore) Delete(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis: del %s: %w", s.key, err)
	}
	return nil
}

var _ domain.TokenStore = (*TokenStore)(nil)
