package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

type staticCreds struct{ token string }

func (s staticCreds) Token() (string, bool) { return s.token, s.token != "" }

type testEnv struct {
	srv   *httptest.Server
	calls atomic.Int64

	mu     sync.Mutex
	header http.Header
	body   map[string]any
}

func newTestEnv(t *testing.T, handler http.HandlerFunc) *testEnv {
	t.Helper()
	env := &testEnv{}
	env.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.calls.Add(1)
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		env.mu.Lock()
		env.header = r.Header.Clone()
		env.body = body
		env.mu.Unlock()

		handler(w, r)
	}))
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) lastRequest() (http.Header, map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.header, e.body
}

func (e *testEnv) client(token string) *Client {
	return NewClient(e.srv.URL, 5*time.Second, staticCreds{token}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func reply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAuthenticate_Success(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login/" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		reply(w, http.StatusOK, `{"token":"jwt-abc","user":{"id":3,"username":"alice"}}`)
	})

	cred, err := env.client("").Authenticate(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if cred.Token != "jwt-abc" || cred.User.ID != 3 || cred.User.Username != "alice" {
		t.Errorf("cred = %+v", cred)
	}
	header, body := env.lastRequest()
	if body["username"] != "alice" || body["password"] != "pw" {
		t.Errorf("request body = %v", body)
	}
	if header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestAuthenticate_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantAuth   bool
		wantReason string
	}{
		{"invalid password", 401, `{"detail":"Invalid password"}`, true, "Invalid password"},
		{"unknown user", 404, `{"detail":"User not found"}`, true, "User not found"},
		{"no detail", 400, `{}`, true, "authentication failed"},
		{"server error", 500, `oops`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
				reply(w, tt.status, tt.body)
			})
			_, err := env.client("").Authenticate(context.Background(), "alice", "pw")

			var ae *domain.AuthError
			if tt.wantAuth {
				if !errors.As(err, &ae) {
					t.Fatalf("err = %v, want AuthError", err)
				}
				if ae.Error() != tt.wantReason {
					t.Errorf("reason = %q, want %q", ae.Error(), tt.wantReason)
				}
				return
			}
			var fe *domain.FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want FetchError", err)
			}
		})
	}
}

func TestAuthenticate_MissingFieldsNoNetwork(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusOK, `{}`)
	})
	c := env.client("")

	if _, err := c.Authenticate(context.Background(), "", "pw"); !domain.IsValidation(err) {
		t.Errorf("empty username: err = %v, want ValidationError", err)
	}
	if _, err := c.RegisterAccount(context.Background(), "bob", ""); !domain.IsValidation(err) {
		t.Errorf("empty password: err = %v, want ValidationError", err)
	}
	if n := env.calls.Load(); n != 0 {
		t.Errorf("network calls = %d, want 0", n)
	}
}

func TestRegisterAccount_WithoutToken(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusCreated, `{"user":{"id":9,"username":"bob"}}`)
	})
	cred, err := env.client("").RegisterAccount(context.Background(), "bob", "pw")
	if err != nil {
		t.Fatalf("RegisterAccount: %v", err)
	}
	if cred.Token != "" || cred.User.Username != "bob" {
		t.Errorf("cred = %+v, want empty token for bob", cred)
	}
}

func TestFetchOrderBook_DecodesWireFormat(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		reply(w, http.StatusOK, `{
			"bids":[{"id":1,"user":"alice","price":100.5,"quantity":5,"order_type":"bid","timestamp":"2024-05-01T10:00:00.123456","is_active":true}],
			"asks":[{"id":2,"user":"bob","price":"101","quantity":"3","side":"SELL"}]
		}`)
	})

	book, err := env.client("tok").FetchOrderBook(context.Background())
	if err != nil {
		t.Fatalf("FetchOrderBook: %v", err)
	}
	if len(book.Bids) != 1 || len(book.Asks) != 1 {
		t.Fatalf("book = %+v", book)
	}
	bid := book.Bids[0]
	if bid.Side != domain.SideBuy || !bid.Price.Equal(d("100.5")) || bid.User != "alice" {
		t.Errorf("bid = %+v", bid)
	}
	if bid.Timestamp == nil || bid.Timestamp.Year() != 2024 {
		t.Errorf("bid timestamp = %v", bid.Timestamp)
	}
	ask := book.Asks[0]
	if ask.Side != domain.SideSell || ask.Active != nil || !ask.IsActive() {
		t.Errorf("ask = %+v, want SELL with missing active flag", ask)
	}
}

func TestFetch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantAuth bool
	}{
		{"unauthorized", 401, `{"detail":"Invalid token or token expired"}`, true},
		{"forbidden", 403, `{}`, true},
		{"server error", 502, `bad gateway`, false},
		{"malformed body", 200, `{"bids":`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
				reply(w, tt.status, tt.body)
			})
			_, err := env.client("tok").FetchOrderBook(context.Background())
			if tt.wantAuth {
				if !domain.IsAuth(err) {
					t.Errorf("err = %v, want AuthError", err)
				}
				return
			}
			var fe *domain.FetchError
			if !errors.As(err, &fe) {
				t.Errorf("err = %v, want FetchError", err)
			}
		})
	}
}

func TestFetchTrades_TransportFailure(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {})
	c := env.client("")
	env.srv.Close()

	_, err := c.FetchTrades(context.Background())
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FetchError", err)
	}
}

func TestFetchTrades_Decodes(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusOK, `[{"id":4,"price":101.0,"quantity":2,"timestamp":"2024-05-01T10:00:00Z","bid_user":"alice","ask_user":"bob"}]`)
	})
	trades, err := env.client("tok").FetchTrades(context.Background())
	if err != nil {
		t.Fatalf("FetchTrades: %v", err)
	}
	if len(trades) != 1 || trades[0].Buyer != "alice" || trades[0].Seller != "bob" {
		t.Errorf("trades = %+v", trades)
	}
}

func TestFetchUserOrders_NoCredential(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusOK, `[]`)
	})
	_, err := env.client("").FetchUserOrders(context.Background())
	if !errors.Is(err, domain.ErrNoCredential) || !domain.IsAuth(err) {
		t.Errorf("err = %v, want AuthError wrapping ErrNoCredential", err)
	}
	if n := env.calls.Load(); n != 0 {
		t.Errorf("network calls = %d, want 0", n)
	}
}

func TestSubmitOrder_LocalValidation(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusCreated, `{}`)
	})
	c := env.client("tok")

	tests := []struct {
		name     string
		price    string
		quantity string
	}{
		{"zero price", "0", "1"},
		{"negative quantity", "10", "-1"},
		{"both bad", "-3", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.SubmitOrder(context.Background(), d(tt.price), d(tt.quantity), domain.SideBuy)
			if !domain.IsValidation(err) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
	if n := env.calls.Load(); n != 0 {
		t.Errorf("network calls = %d, want 0", n)
	}
}

func TestSubmitOrder_Success(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders/" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		reply(w, http.StatusCreated, `{"order":{"id":11,"user":"alice","price":99,"quantity":4,"order_type":"ask","is_active":true},"trades":[]}`)
	})

	order, err := env.client("tok").SubmitOrder(context.Background(), d("99"), d("4"), domain.SideSell)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if order.ID != 11 || order.Side != domain.SideSell {
		t.Errorf("order = %+v", order)
	}
	if _, body := env.lastRequest(); body["order_type"] != "ask" || body["side"] != "SELL" {
		t.Errorf("request body = %v", body)
	}
}

func TestSubmitOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"rejected", 400, func(err error) bool { var r *domain.OrderRejected; return errors.As(err, &r) }},
		{"conflict", 409, func(err error) bool { var r *domain.OrderRejected; return errors.As(err, &r) }},
		{"expired token", 401, domain.IsAuth},
		{"server down", 503, func(err error) bool { var f *domain.FetchError; return errors.As(err, &f) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
				reply(w, tt.status, `{"detail":"nope"}`)
			})
			_, err := env.client("tok").SubmitOrder(context.Background(), d("1"), d("1"), domain.SideBuy)
			if !tt.check(err) {
				t.Errorf("err = %v (%T)", err, err)
			}
		})
	}
}

func TestSubmitOrder_Unauthenticated(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusCreated, `{}`)
	})
	_, err := env.client("").SubmitOrder(context.Background(), d("1"), d("1"), domain.SideBuy)
	if !domain.IsAuth(err) {
		t.Errorf("err = %v, want AuthError", err)
	}
	if n := env.calls.Load(); n != 0 {
		t.Errorf("network calls = %d, want 0", n)
	}
}
