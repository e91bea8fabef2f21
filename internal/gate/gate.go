// Package gate decides whether the client is signed in.
//
// The gate moves to Authenticated only after a login (or registration plus
// login) succeeds and the credential is stored. It never demotes itself on a
// failed request; callers that see an AuthError on a protected call decide
// whether to Expire the session.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/orderdesk/internal/domain"
	"github.com/alanyoungcy/orderdesk/internal/session"
)

// State is the gate state.
type State int

const (
	Anonymous State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition is delivered to observers on every state change.
type Transition struct {
	From State
	To   State
	User domain.User
	// Reason is set when the session was expired rather than logged out.
	Reason string
}

// Observer receives transitions. It runs outside the gate's lock.
type Observer func(Transition)

// Authenticator is the subset of the resource client the gate needs.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (domain.Credential, error)
	RegisterAccount(ctx context.Context, username, password string) (domain.Credential, error)
}

// Gate tracks the signed-in state on top of a session.Store.
type Gate struct {
	auth     Authenticator
	sessions *session.Store
	logger   *slog.Logger

	// opMu serialises login, register, logout and expire.
	opMu sync.Mutex

	mu        sync.RWMutex
	state     State
	observers []Observer
}

// New creates a gate. The initial state is Authenticated iff sessions already
// holds a credential, so call sessions.Rehydrate first.
func New(auth Authenticator, sessions *session.Store, logger *slog.Logger) *Gate {
	g := &Gate{
		auth:     auth,
		sessions: sessions,
		logger:   logger.With(slog.String("component", "gate")),
	}
	if _, ok := sessions.Get(); ok {
		g.state = Authenticated
	}
	return g
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// User returns the signed-in user, if any.
func (g *Gate) User() (domain.User, bool) {
	if g.State() != Authenticated {
		return domain.User{}, false
	}
	cred, ok := g.sessions.Get()
	return cred.User, ok
}

// Subscribe registers an observer for subsequent transitions.
func (g *Gate) Subscribe(fn Observer) {
	g.mu.Lock()
	g.observers = append(g.observers, fn)
	g.mu.Unlock()
}

// Login authenticates and stores the credential.
func (g *Gate) Login(ctx context.Context, username, password string) error {
	if err := requireFields(username, password); err != nil {
		return err
	}
	g.opMu.Lock()
	defer g.opMu.Unlock()

	cred, err := g.auth.Authenticate(ctx, username, password)
	if err != nil {
		g.logger.Info("login failed",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		return err
	}
	return g.adopt(ctx, cred)
}

// Register creates an account and signs it in. If the service does not hand
// back a token on registration, the gate logs in with the same credentials
// and only transitions once that succeeds.
func (g *Gate) Register(ctx context.Context, username, password string) error {
	if err := requireFields(username, password); err != nil {
		return err
	}
	g.opMu.Lock()
	defer g.opMu.Unlock()

	cred, err := g.auth.RegisterAccount(ctx, username, password)
	if err != nil {
		g.logger.Info("registration failed",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		return err
	}
	if !cred.Valid() {
		cred, err = g.auth.Authenticate(ctx, username, password)
		if err != nil {
			return fmt.Errorf("gate: login after registration: %w", err)
		}
	}
	return g.adopt(ctx, cred)
}

// Logout clears the credential. The gate is Anonymous afterwards even when
// removing the durable copy fails; that error is returned.
func (g *Gate) Logout(ctx context.Context) error {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	cred, _ := g.sessions.Get()
	err := g.sessions.Clear(ctx)
	if g.State() == Authenticated {
		g.logger.Info("signed out", slog.String("username", cred.User.Username))
		g.transition(Anonymous, cred.User, "")
	}
	return err
}

// Expire drops a session the service no longer accepts. It is a no-op when
// already Anonymous.
func (g *Gate) Expire(ctx context.Context, reason string) {
	g.opMu.Lock()
	defer g.opMu.Unlock()
	g.expireLocked(ctx, reason)
}

// ExpireToken drops the session only if token is still the current
// credential. A rejection of a token that a later login already replaced
// leaves the new session alone.
func (g *Gate) ExpireToken(ctx context.Context, token, reason string) {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	if cur, ok := g.sessions.Token(); !ok || cur != token {
		g.logger.Debug("ignoring rejection of a replaced token", slog.String("reason", reason))
		return
	}
	g.expireLocked(ctx, reason)
}

// Token returns the bearer token of the current session.
func (g *Gate) Token() (string, bool) {
	return g.sessions.Token()
}

func (g *Gate) expireLocked(ctx context.Context, reason string) {
	if g.State() == Anonymous {
		return
	}
	cred, _ := g.sessions.Get()
	if err := g.sessions.Clear(ctx); err != nil {
		g.logger.Warn("clearing expired session",
			slog.String("error", err.Error()),
		)
	}
	g.logger.Info("session expired",
		slog.String("username", cred.User.Username),
		slog.String("reason", reason),
	)
	g.transition(Anonymous, cred.User, reason)
}

func (g *Gate) adopt(ctx context.Context, cred domain.Credential) error {
	if err := g.sessions.Set(ctx, cred); err != nil {
		return fmt.Errorf("gate: store credential: %w", err)
	}
	stored, _ := g.sessions.Get()
	g.logger.Info("signed in", slog.String("username", stored.User.Username))
	g.transition(Authenticated, stored.User, "")
	return nil
}

func (g *Gate) transition(to State, user domain.User, reason string) {
	g.mu.Lock()
	from := g.state
	g.state = to
	obs := make([]Observer, len(g.observers))
	copy(obs, g.observers)
	g.mu.Unlock()

	t := Transition{From: from, To: to, User: user, Reason: reason}
	for _, fn := range obs {
		fn(t)
	}
}

func requireFields(username, password string) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return &domain.ValidationError{Field: "credentials", Message: "Please fill in all fields"}
	}
	return nil
}
