// Package exchange is the REST client for the remote order-matching service.
//
// Every operation maps failures onto the domain error taxonomy: AuthError,
// FetchError, OrderRejected and ValidationError. The client never retries.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

// DefaultTimeout bounds a single request when the caller's context has no
// deadline of its own.
const DefaultTimeout = 30 * time.Second

// CredentialSource supplies the bearer token at call time.
type CredentialSource interface {
	Token() (string, bool)
}

// Client is the REST client for the matching service.
type Client struct {
	baseURL    string
	creds      CredentialSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client rooted at baseURL, e.g. "http://localhost:8000/api".
// A zero timeout selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, creds CredentialSource, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With(slog.String("component", "exchange")),
	}
}

// Authenticate exchanges username and password for a credential.
func (c *Client) Authenticate(ctx context.Context, username, password string) (domain.Credential, error) {
	return c.auth(ctx, "/auth/login/", username, password)
}

// RegisterAccount creates an account. Services that log the new user in
// immediately return a token; otherwise the returned credential has an empty
// Token and the caller must Authenticate.
func (c *Client) RegisterAccount(ctx context.Context, username, password string) (domain.Credential, error) {
	return c.auth(ctx, "/auth/register/", username, password)
}

func (c *Client) auth(ctx context.Context, path, username, password string) (domain.Credential, error) {
	if err := requireCredentials(username, password); err != nil {
		return domain.Credential{}, err
	}

	status, body, err := c.do(ctx, http.MethodPost, path, "", credentialsRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return domain.Credential{}, &domain.FetchError{Resource: path, Err: err}
	}

	if !isSuccess(status) {
		if status >= 500 {
			return domain.Credential{}, &domain.FetchError{Resource: path, Status: status, Err: statusError(status, body)}
		}
		return domain.Credential{}, &domain.AuthError{Status: status, Reason: decodeReason(body)}
	}

	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Credential{}, &domain.FetchError{Resource: path, Status: status, Err: fmt.Errorf("decode: %w", err)}
	}

	user := domain.User{ID: resp.User.ID, Username: resp.User.Username}
	if user.Username == "" {
		user.Username = username
	}
	return domain.Credential{Token: resp.Token, User: user}, nil
}

// FetchOrderBook returns the current two-sided book. The token is attached
// when one is present.
func (c *Client) FetchOrderBook(ctx context.Context) (domain.OrderBook, error) {
	token, _ := c.creds.Token()

	var wb wireBook
	if err := c.read(ctx, "/orderbook/", token, &wb); err != nil {
		return domain.OrderBook{}, err
	}

	bids, err := ordersToDomain(wb.Bids)
	if err != nil {
		return domain.OrderBook{}, &domain.FetchError{Resource: "/orderbook/", Err: err}
	}
	asks, err := ordersToDomain(wb.Asks)
	if err != nil {
		return domain.OrderBook{}, &domain.FetchError{Resource: "/orderbook/", Err: err}
	}
	return domain.OrderBook{Bids: bids, Asks: asks}, nil
}

// FetchUserOrders returns the authenticated user's orders.
func (c *Client) FetchUserOrders(ctx context.Context) ([]domain.Order, error) {
	token, err := c.requireToken()
	if err != nil {
		return nil, err
	}

	var wo []wireOrder
	if err := c.read(ctx, "/orders/", token, &wo); err != nil {
		return nil, err
	}
	orders, err := ordersToDomain(wo)
	if err != nil {
		return nil, &domain.FetchError{Resource: "/orders/", Err: err}
	}
	return orders, nil
}

// FetchTrades returns the public trade tape.
func (c *Client) FetchTrades(ctx context.Context) ([]domain.Trade, error) {
	token, _ := c.creds.Token()

	var wt []wireTrade
	if err := c.read(ctx, "/trades/", token, &wt); err != nil {
		return nil, err
	}
	trades := make([]domain.Trade, 0, len(wt))
	for _, w := range wt {
		trades = append(trades, w.toDomain())
	}
	return trades, nil
}

// SubmitOrder places a limit order. Non-positive price or quantity is
// rejected locally with a ValidationError before any network I/O.
func (c *Client) SubmitOrder(ctx context.Context, price, quantity decimal.Decimal, side domain.Side) (domain.Order, error) {
	if !price.IsPositive() {
		return domain.Order{}, &domain.ValidationError{Field: "price", Message: "price must be positive"}
	}
	if !quantity.IsPositive() {
		return domain.Order{}, &domain.ValidationError{Field: "quantity", Message: "quantity must be positive"}
	}
	if side != domain.SideBuy && side != domain.SideSell {
		return domain.Order{}, &domain.ValidationError{Field: "side", Message: fmt.Sprintf("unknown side %q", side)}
	}
	token, err := c.requireToken()
	if err != nil {
		return domain.Order{}, err
	}

	status, body, err := c.do(ctx, http.MethodPost, "/orders/", token, submitRequest{
		Price:     price,
		Quantity:  quantity,
		OrderType: side.WireName(),
		Side:      side,
	})
	if err != nil {
		return domain.Order{}, &domain.FetchError{Resource: "/orders/", Err: err}
	}

	switch {
	case isSuccess(status):
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.Order{}, &domain.AuthError{Status: status, Reason: decodeReason(body)}
	case status >= 400 && status < 500:
		return domain.Order{}, &domain.OrderRejected{Status: status, Reason: decodeReason(body)}
	default:
		return domain.Order{}, &domain.FetchError{Resource: "/orders/", Status: status, Err: statusError(status, body)}
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Order{}, &domain.FetchError{Resource: "/orders/", Status: status, Err: fmt.Errorf("decode: %w", err)}
	}
	order, err := resp.Order.toDomain()
	if err != nil {
		return domain.Order{}, &domain.FetchError{Resource: "/orders/", Status: status, Err: err}
	}

	c.logger.Info("order placed",
		slog.Int64("order_id", order.ID),
		slog.String("side", string(order.Side)),
		slog.String("price", order.Price.String()),
		slog.String("quantity", order.Quantity.String()),
		slog.Int("fills", len(resp.Trades)),
	)
	return order, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) requireToken() (string, error) {
	token, ok := c.creds.Token()
	if !ok || token == "" {
		return "", &domain.AuthError{Reason: "not signed in", Err: domain.ErrNoCredential}
	}
	return token, nil
}

// read performs a GET and decodes a 2xx body into out.
func (c *Client) read(ctx context.Context, path, token string, out any) error {
	status, body, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return &domain.FetchError{Resource: path, Err: err}
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &domain.AuthError{Status: status, Reason: decodeReason(body)}
	}
	if !isSuccess(status) {
		return &domain.FetchError{Resource: path, Status: status, Err: statusError(status, body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.FetchError{Resource: path, Status: status, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// do builds, sends, and reads an HTTP request. A non-nil error means the
// request never produced a response.
func (c *Client) do(ctx context.Context, method, path, token string, reqBody any) (int, []byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)
	return resp.StatusCode, respBody, nil
}

func requireCredentials(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return &domain.ValidationError{Field: "username", Message: "username is required"}
	}
	if password == "" {
		return &domain.ValidationError{Field: "password", Message: "password is required"}
	}
	return nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// decodeReason extracts the service's {detail} message, or "" when the body
// carries none.
func decodeReason(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.reason()
}

func statusError(status int, body []byte) error {
	if reason := decodeReason(body); reason != "" {
		return errors.New(reason)
	}
	return errors.New(strings.ToLower(http.StatusText(status)))
}
