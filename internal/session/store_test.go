package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedToken(t *testing.T, id int64, username string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  id,
		"username": username,
		"exp":      exp.Unix(),
	}).SignedString([]byte("server-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return tok
}

// failingStore fails every write with errDisk.
type failingStore struct {
	MemoryTokenStore
	failSave   bool
	failDelete bool
}

var errDisk = errors.New("disk full")

func (f *failingStore) Save(ctx context.Context, token string) error {
	if f.failSave {
		return errDisk
	}
	return f.MemoryTokenStore.Save(ctx, token)
}

func (f *failingStore) Delete(ctx context.Context) error {
	if f.failDelete {
		return errDisk
	}
	return f.MemoryTokenStore.Delete(ctx)
}

func TestRehydrate_NoPersistedToken(t *testing.T) {
	s := New(NewMemoryTokenStore(), testLogger())
	if err := s.Rehydrate(context.Background()); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if _, ok := s.Get(); ok {
		t.Error("Get() ok = true after empty rehydrate, want false")
	}
}

func TestRehydrate_ReadsClaims(t *testing.T) {
	ctx := context.Background()
	exp := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	tok := signedToken(t, 7, "alice", exp)

	durable := NewMemoryTokenStore()
	_ = durable.Save(ctx, tok)

	s := New(durable, testLogger())
	if err := s.Rehydrate(ctx); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	cred, ok := s.Get()
	if !ok {
		t.Fatal("Get() ok = false after rehydrate")
	}
	if cred.User.ID != 7 || cred.User.Username != "alice" {
		t.Errorf("User = %+v, want {7 alice}", cred.User)
	}
	if cred.ExpiresAt == nil || !cred.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", cred.ExpiresAt, exp)
	}
}

func TestRehydrate_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	durable := NewMemoryTokenStore()
	s := New(durable, testLogger())
	_ = s.Rehydrate(ctx)

	_ = durable.Save(ctx, "opaque-token")
	_ = s.Rehydrate(ctx)
	if _, ok := s.Token(); ok {
		t.Error("second Rehydrate must be a no-op")
	}
}

func TestRehydrate_OpaqueTokenKept(t *testing.T) {
	ctx := context.Background()
	durable := NewMemoryTokenStore()
	_ = durable.Save(ctx, "not-a-jwt")

	s := New(durable, testLogger())
	if err := s.Rehydrate(ctx); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	tok, ok := s.Token()
	if !ok || tok != "not-a-jwt" {
		t.Errorf("Token() = %q, %v; want not-a-jwt, true", tok, ok)
	}
}

func TestSet_PersistsAndNotifies(t *testing.T) {
	ctx := context.Background()
	durable := NewMemoryTokenStore()
	s := New(durable, testLogger())

	var got []Transition
	s.Subscribe(func(tr Transition, _ domain.Credential) { got = append(got, tr) })

	tok := signedToken(t, 1, "bob", time.Now().Add(time.Hour))
	if err := s.Set(ctx, domain.Credential{Token: tok}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	stored, err := durable.Load(ctx)
	if err != nil || stored != tok {
		t.Errorf("durable Load = %q, %v; want token", stored, err)
	}
	cred, _ := s.Get()
	if cred.User.Username != "bob" {
		t.Errorf("Username = %q, want bob (filled from claims)", cred.User.Username)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := durable.Load(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("durable Load after Clear: err = %v, want ErrNotFound", err)
	}
	if len(got) != 2 || got[0] != TransitionSet || got[1] != TransitionCleared {
		t.Errorf("transitions = %v, want [set cleared]", got)
	}
}

func TestSet_DurableFailureLeavesMemory(t *testing.T) {
	ctx := context.Background()
	durable := &failingStore{}
	s := New(durable, testLogger())

	if err := s.Set(ctx, domain.Credential{Token: "first"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	durable.failSave = true
	err := s.Set(ctx, domain.Credential{Token: "second"})
	if !errors.Is(err, errDisk) {
		t.Fatalf("Set err = %v, want errDisk", err)
	}
	if tok, _ := s.Token(); tok != "first" {
		t.Errorf("Token() = %q after failed Set, want first", tok)
	}
}

func TestSet_RejectsEmptyToken(t *testing.T) {
	s := New(NewMemoryTokenStore(), testLogger())
	err := s.Set(context.Background(), domain.Credential{})
	if !domain.IsValidation(err) {
		t.Errorf("Set(empty) err = %v, want ValidationError", err)
	}
}

func TestClear_DurableFailureStillClearsMemory(t *testing.T) {
	ctx := context.Background()
	durable := &failingStore{}
	s := New(durable, testLogger())
	_ = s.Set(ctx, domain.Credential{Token: "tok"})

	durable.failDelete = true
	if err := s.Clear(ctx); !errors.Is(err, errDisk) {
		t.Errorf("Clear err = %v, want errDisk", err)
	}
	if _, ok := s.Token(); ok {
		t.Error("Token() ok = true after Clear")
	}
}

func TestStore_ConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryTokenStore(), testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.Token()
				s.Get()
			}
		}()
	}
	for i := 0; i < 50; i++ {
		_ = s.Set(ctx, domain.Credential{Token: "tok"})
		_ = s.Clear(ctx)
	}
	wg.Wait()
}

func TestFileTokenStore(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
	}{
		{"plain", ""},
		{"sealed", "correct horse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "nested", "token")
			fs := NewFileTokenStore(path, tt.passphrase)

			if _, err := fs.Load(ctx); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("Load on missing file: err = %v, want ErrNotFound", err)
			}
			if err := fs.Save(ctx, "abc.def.ghi"); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := fs.Load(ctx)
			if err != nil || got != "abc.def.ghi" {
				t.Fatalf("Load = %q, %v; want abc.def.ghi", got, err)
			}
			if err := fs.Delete(ctx); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := fs.Delete(ctx); err != nil {
				t.Errorf("second Delete: %v", err)
			}
		})
	}
}

func TestFileTokenStore_SealedWithoutPassphrase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "token")
	if err := NewFileTokenStore(path, "pw").Save(ctx, "tok"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := NewFileTokenStore(path, "").Load(ctx); err == nil {
		t.Error("Load of sealed file without passphrase should fail")
	}
}

func TestParseClaims_Garbage(t *testing.T) {
	if _, err := ParseClaims("garbage"); err == nil {
		t.Error("ParseClaims(garbage) should fail")
	}
}
