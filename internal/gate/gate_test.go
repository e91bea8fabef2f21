package gate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alanyoungcy/orderdesk/internal/domain"
	"github.com/alanyoungcy/orderdesk/internal/session"
)

// fakeAuth records calls and returns canned results.
type fakeAuth struct {
	mu          sync.Mutex
	calls       []string
	loginCred   domain.Credential
	loginErr    error
	registerCrd domain.Credential
	registerErr error
	// onLogin runs before Authenticate returns.
	onLogin func()
}

func (f *fakeAuth) Authenticate(_ context.Context, username, _ string) (domain.Credential, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "login:"+username)
	hook := f.onLogin
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return f.loginCred, f.loginErr
}

func (f *fakeAuth) RegisterAccount(_ context.Context, username, _ string) (domain.Credential, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "register:"+username)
	f.mu.Unlock()
	return f.registerCrd, f.registerErr
}

func (f *fakeAuth) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newGate(t *testing.T, auth *fakeAuth) (*Gate, *session.Store) {
	t.Helper()
	store := session.New(session.NewMemoryTokenStore(), discard())
	if err := store.Rehydrate(context.Background()); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	return New(auth, store, discard()), store
}

func cred(token, name string) domain.Credential {
	return domain.Credential{Token: token, User: domain.User{ID: 1, Username: name}}
}

func TestNew_InitialStateFromRehydration(t *testing.T) {
	ctx := context.Background()
	durable := session.NewMemoryTokenStore()
	_ = durable.Save(ctx, "persisted")
	store := session.New(durable, discard())
	_ = store.Rehydrate(ctx)

	if g := New(&fakeAuth{}, store, discard()); g.State() != Authenticated {
		t.Errorf("state = %v, want authenticated", g.State())
	}

	empty := session.New(session.NewMemoryTokenStore(), discard())
	_ = empty.Rehydrate(ctx)
	if g := New(&fakeAuth{}, empty, discard()); g.State() != Anonymous {
		t.Errorf("state = %v, want anonymous", g.State())
	}
}

func TestLogin_Success(t *testing.T) {
	auth := &fakeAuth{loginCred: cred("tok", "alice")}
	g, store := newGate(t, auth)

	var got []Transition
	g.Subscribe(func(tr Transition) { got = append(got, tr) })

	if err := g.Login(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if g.State() != Authenticated {
		t.Errorf("state = %v, want authenticated", g.State())
	}
	if tok, _ := store.Token(); tok != "tok" {
		t.Errorf("stored token = %q, want tok", tok)
	}
	if u, ok := g.User(); !ok || u.Username != "alice" {
		t.Errorf("User() = %+v, %v", u, ok)
	}
	if len(got) != 1 || got[0].From != Anonymous || got[0].To != Authenticated {
		t.Errorf("transitions = %+v", got)
	}
}

func TestLogin_FailureStaysAnonymous(t *testing.T) {
	auth := &fakeAuth{loginErr: &domain.AuthError{Status: 401, Reason: "Invalid password"}}
	g, store := newGate(t, auth)

	err := g.Login(context.Background(), "alice", "bad")
	if !domain.IsAuth(err) || err.Error() != "Invalid password" {
		t.Errorf("err = %v, want AuthError with server reason", err)
	}
	if g.State() != Anonymous {
		t.Errorf("state = %v, want anonymous", g.State())
	}
	if _, ok := store.Token(); ok {
		t.Error("credential stored after failed login")
	}
}

func TestLogin_MissingFieldsNoNetwork(t *testing.T) {
	auth := &fakeAuth{}
	g, _ := newGate(t, auth)

	for _, c := range [][2]string{{"", "pw"}, {"alice", ""}, {"  ", "pw"}} {
		if err := g.Login(context.Background(), c[0], c[1]); !domain.IsValidation(err) {
			t.Errorf("Login(%q, %q) err = %v, want ValidationError", c[0], c[1], err)
		}
		if err := g.Register(context.Background(), c[0], c[1]); !domain.IsValidation(err) {
			t.Errorf("Register(%q, %q) err = %v, want ValidationError", c[0], c[1], err)
		}
	}
	if calls := auth.callLog(); len(calls) != 0 {
		t.Errorf("network calls = %v, want none", calls)
	}
}

func TestRegister_WithToken(t *testing.T) {
	auth := &fakeAuth{registerCrd: cred("reg-tok", "bob")}
	g, store := newGate(t, auth)

	if err := g.Register(context.Background(), "bob", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if tok, _ := store.Token(); tok != "reg-tok" {
		t.Errorf("token = %q, want reg-tok", tok)
	}
	if calls := auth.callLog(); len(calls) != 1 || calls[0] != "register:bob" {
		t.Errorf("calls = %v, want register only", calls)
	}
}

func TestRegister_WithoutTokenWaitsForLogin(t *testing.T) {
	auth := &fakeAuth{
		registerCrd: domain.Credential{User: domain.User{ID: 2, Username: "bob"}},
		loginCred:   cred("login-tok", "bob"),
	}
	g, store := newGate(t, auth)

	var stateDuringLogin State
	auth.onLogin = func() { stateDuringLogin = g.State() }

	if err := g.Register(context.Background(), "bob", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if stateDuringLogin != Anonymous {
		t.Errorf("state during follow-up login = %v, want anonymous", stateDuringLogin)
	}
	if g.State() != Authenticated {
		t.Errorf("state = %v, want authenticated", g.State())
	}
	if tok, _ := store.Token(); tok != "login-tok" {
		t.Errorf("token = %q, want login-tok", tok)
	}
	want := []string{"register:bob", "login:bob"}
	if calls := auth.callLog(); len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestRegister_FollowUpLoginFails(t *testing.T) {
	auth := &fakeAuth{
		registerCrd: domain.Credential{User: domain.User{Username: "bob"}},
		loginErr:    &domain.AuthError{Status: 401},
	}
	g, _ := newGate(t, auth)

	if err := g.Register(context.Background(), "bob", "pw"); !domain.IsAuth(err) {
		t.Errorf("err = %v, want AuthError", err)
	}
	if g.State() != Anonymous {
		t.Errorf("state = %v, want anonymous", g.State())
	}
}

func TestRegister_Conflict(t *testing.T) {
	auth := &fakeAuth{registerErr: &domain.AuthError{Status: 400, Reason: "Username already exists"}}
	g, _ := newGate(t, auth)

	err := g.Register(context.Background(), "bob", "pw")
	var ae *domain.AuthError
	if !errors.As(err, &ae) || ae.Reason != "Username already exists" {
		t.Errorf("err = %v, want conflict AuthError", err)
	}
}

func TestLogoutAndExpire(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuth{loginCred: cred("tok", "alice")}
	g, store := newGate(t, auth)

	var got []Transition
	g.Subscribe(func(tr Transition) { got = append(got, tr) })

	_ = g.Login(ctx, "alice", "pw")
	if err := g.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if g.State() != Anonymous {
		t.Errorf("state after logout = %v", g.State())
	}
	if _, ok := store.Token(); ok {
		t.Error("token still present after logout")
	}

	_ = g.Login(ctx, "alice", "pw")
	g.Expire(ctx, "token expired")
	g.Expire(ctx, "again")

	if len(got) != 4 {
		t.Fatalf("transitions = %d, want 4: %+v", len(got), got)
	}
	last := got[3]
	if last.To != Anonymous || last.Reason != "token expired" || last.User.Username != "alice" {
		t.Errorf("expire transition = %+v", last)
	}
}

func TestLogout_WhenAnonymousIsQuiet(t *testing.T) {
	g, _ := newGate(t, &fakeAuth{})
	notified := false
	g.Subscribe(func(Transition) { notified = true })

	if err := g.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if notified {
		t.Error("logout while anonymous should not notify")
	}
}

func TestExpireToken_IgnoresReplacedToken(t *testing.T) {
	auth := &fakeAuth{loginCred: domain.Credential{Token: "old", User: domain.User{ID: 1, Username: "alice"}}}
	g, store := newGate(t, auth)
	ctx := context.Background()

	if err := g.Login(ctx, "alice", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	auth.mu.Lock()
	auth.loginCred.Token = "new"
	auth.mu.Unlock()
	if err := g.Login(ctx, "alice", "pw"); err != nil {
		t.Fatalf("second Login: %v", err)
	}

	g.ExpireToken(ctx, "old", "Token has expired")
	if g.State() != Authenticated {
		t.Fatalf("state = %v, want authenticated after rejection of a replaced token", g.State())
	}
	if tok, _ := store.Token(); tok != "new" {
		t.Errorf("token = %q, want new", tok)
	}

	g.ExpireToken(ctx, "new", "Token has expired")
	if g.State() != Anonymous {
		t.Errorf("state = %v, want anonymous after rejection of the current token", g.State())
	}
	if _, ok := store.Token(); ok {
		t.Error("token still present after expiry")
	}
}
