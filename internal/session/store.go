// Package session holds the ambient credential for the running client.
//
// A Store keeps one bearer token in memory and mirrors it into a durable
// domain.TokenStore so the session survives restarts. Protected calls read the
// token at call time through Token, never from a captured copy.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

// Transition describes a change to the ambient credential.
type Transition int

const (
	// TransitionSet means a credential was stored.
	TransitionSet Transition = iota
	// TransitionCleared means the credential was removed.
	TransitionCleared
)

func (t Transition) String() string {
	if t == TransitionSet {
		return "set"
	}
	return "cleared"
}

// Observer is notified after every transition. It runs outside the store lock
// and must not block.
type Observer func(t Transition, cred domain.Credential)

// Store is the single source of truth for the current credential.
type Store struct {
	durable domain.TokenStore
	logger  *slog.Logger

	mu   sync.RWMutex
	cred domain.Credential
	has  bool

	rehydrate sync.Once
	rehydErr  error

	obsMu     sync.Mutex
	observers []Observer
}

// New creates a Store backed by durable. Call Rehydrate once before serving
// protected calls.
func New(durable domain.TokenStore, logger *slog.Logger) *Store {
	return &Store{
		durable: durable,
		logger:  logger.With(slog.String("component", "session")),
	}
}

// Rehydrate loads a previously persisted token. Only the first call does any
// work; later calls return the first call's result.
//
// A token that cannot be decoded is still adopted with an empty identity. The
// service is the authority on whether it is valid.
func (s *Store) Rehydrate(ctx context.Context) error {
	s.rehydrate.Do(func() {
		token, err := s.durable.Load(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Info("no persisted session")
			return
		}
		if err != nil {
			s.rehydErr = fmt.Errorf("session: rehydrate: %w", err)
			return
		}
		if token == "" {
			return
		}

		cred := domain.Credential{Token: token}
		claims, err := ParseClaims(token)
		if err != nil {
			s.logger.Warn("persisted token has unreadable claims",
				slog.String("error", err.Error()),
			)
		} else {
			cred.User = claims.User
			cred.ExpiresAt = claims.ExpiresAt
		}

		s.mu.Lock()
		s.cred = cred
		s.has = true
		s.mu.Unlock()

		s.logger.Info("session rehydrated",
			slog.String("username", cred.User.Username),
		)
	})
	return s.rehydErr
}

// Set persists cred and makes it the ambient credential. If the durable write
// fails, the in-memory credential is left as it was.
func (s *Store) Set(ctx context.Context, cred domain.Credential) error {
	if !cred.Valid() {
		return &domain.ValidationError{Field: "token", Message: "credential has no token"}
	}
	if cred.ExpiresAt == nil || cred.User.Username == "" {
		if claims, err := ParseClaims(cred.Token); err == nil {
			if cred.ExpiresAt == nil {
				cred.ExpiresAt = claims.ExpiresAt
			}
			if cred.User.Username == "" {
				cred.User = claims.User
			}
		}
	}

	s.mu.Lock()
	if err := s.durable.Save(ctx, cred.Token); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("session: persist token: %w", err)
	}
	s.cred = cred
	s.has = true
	s.mu.Unlock()

	s.notify(TransitionSet, cred)
	return nil
}

// Clear removes the credential. Memory is always cleared so the next protected
// call is anonymous; a durable delete failure is returned to the caller.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	prev, had := s.cred, s.has
	err := s.durable.Delete(ctx)
	s.cred = domain.Credential{}
	s.has = false
	s.mu.Unlock()

	if had {
		s.notify(TransitionCleared, prev)
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("session: delete token: %w", err)
	}
	return nil
}

// Get returns the current credential.
func (s *Store) Get() (domain.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.has
}

// Token returns the current bearer token.
func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.has {
		return "", false
	}
	return s.cred.Token, true
}

// Subscribe registers an observer for subsequent transitions.
func (s *Store) Subscribe(fn Observer) {
	s.obsMu.Lock()
	s.observers = append(s.observers, fn)
	s.obsMu.Unlock()
}

func (s *Store) notify(t Transition, cred domain.Credential) {
	s.obsMu.Lock()
	obs := make([]Observer, len(s.observers))
	copy(obs, s.observers)
	s.obsMu.Unlock()

	for _, fn := range obs {
		fn(t, cred)
	}
}
