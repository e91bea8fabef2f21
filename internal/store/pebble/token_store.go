// Package pebble persists the session token in an embedded Pebble database.
package pebble

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

// tokenKey is the only key the store writes.
var tokenKey = []byte("session:token")

// TokenStore is a domain.TokenStore backed by a Pebble database directory.
type TokenStore struct {
	db *pebble.DB
}

// Open opens (or creates) the Pebble database at dir.
func Open(dir string) (*TokenStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", dir, err)
	}
	return &TokenStore{db: db}, nil
}

func (s *TokenStore) Close() error { return s.db.Close() }

func (s *TokenStore) Load(_ context.Context) (string, error) {
	val, closer, err := s.db.Get(tokenKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("pebble: get token: %w", err)
	}
	defer closer.Close()
	// val is only valid until closer.Close.
	return string(val), nil
}

func (s *TokenStore) Save(_ context.Context, token string) error {
	if err := s.db.Set(tokenKey, []byte(token), pebble.Sync); err != nil {
		return fmt.Errorf("pebble: set token: %w", err)
	}
	return nil
}

func (s *TokenStore) Delete(_ context.Context) error {
	if err := s.db.Delete(tokenKey, pebble.Sync); err != nil {
		return fmt.Errorf("pebble: delete token: %w", err)
	}
	return nil
}

var _ domain.TokenStore = (*TokenStore)(nil)
