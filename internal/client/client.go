// Package client is a small HTTP client for the node's /api/v1 surface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/models"
	"github.com/punchamoorthee/tcr/internal/runtime"
)

// APIError is a non-2xx response from the node.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node returned %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

// WithToken sets the bearer token sent with every call.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Chain(ctx context.Context) (models.Chain, error) {
	var out models.Chain
	return out, c.do(ctx, http.MethodGet, "/api/v1/chain", "", nil, &out)
}

func (c *Client) Account(ctx context.Context, id domain.AccountID) (models.Account, error) {
	var out models.Account
	return out, c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(string(id)), "", nil, &out)
}

func (c *Client) Listings(ctx context.Context, status domain.ListingStatus) ([]models.Listing, error) {
	path := "/api/v1/listings"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var out []models.Listing
	return out, c.do(ctx, http.MethodGet, path, "", nil, &out)
}

func (c *Client) Listing(ctx context.Context, hash domain.Hash) (models.Listing, error) {
	var out models.Listing
	return out, c.do(ctx, http.MethodGet, "/api/v1/listings/"+hash.String(), "", nil, &out)
}

func (c *Client) Challenge(ctx context.Context, id domain.ChallengeID) (models.Challenge, error) {
	var out models.Challenge
	return out, c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/challenges/%d", id), "", nil, &out)
}

// Transition posts a call body to path and returns the receipt. A non-empty
// idempotency key makes the call safe to retry.
func (c *Client) Transition(ctx context.Context, path, idempotencyKey string, body any) (*runtime.Receipt, error) {
	var out runtime.Receipt
	if err := c.do(ctx, http.MethodPost, path, idempotencyKey, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Transfer(ctx context.Context, key string, to domain.AccountID, amount domain.Balance) (*runtime.Receipt, error) {
	return c.Transition(ctx, "/api/v1/transfers", key, models.TransferRequest{To: to, Amount: amount})
}

func (c *Client) Approve(ctx context.Context, key string, spender domain.AccountID, amount domain.Balance) (*runtime.Receipt, error) {
	return c.Transition(ctx, "/api/v1/approvals", key, models.ApproveRequest{Spender: spender, Amount: amount})
}

func (c *Client) Propose(ctx context.Context, key string, req models.ProposeRequest) (*runtime.Receipt, error) {
	return c.Transition(ctx, "/api/v1/listings", key, req)
}

func (c *Client) ChallengeListing(ctx context.Context, key string, hash domain.Hash, deposit domain.Balance) (*runtime.Receipt, error) {
	return c.Transition(ctx, "/api/v1/listings/"+hash.String()+"/challenge", key, models.ChallengeRequest{Deposit: deposit})
}

func (c *Client) Vote(ctx context.Context, key string, id domain.ChallengeID, choice domain.Choice, weight domain.Balance) (*runtime.Receipt, error) {
	return c.Transition(ctx, fmt.Sprintf("/api/v1/challenges/%d/votes", id), key, models.VoteRequest{Choice: choice, Weight: weight})
}

func (c *Client) Resolve(ctx context.Context, key string, id domain.ChallengeID) (*runtime.Receipt, error) {
	return c.Transition(ctx, fmt.Sprintf("/api/v1/challenges/%d/resolve", id), key, struct{}{})
}

func (c *Client) Claim(ctx context.Context, key string, id domain.ChallengeID) (*runtime.Receipt, error) {
	return c.Transition(ctx, fmt.Sprintf("/api/v1/challenges/%d/claim", id), key, struct{}{})
}

// Events streams committed events until ctx is done or the connection drops.
// kind filters by event kind when non-empty.
func (c *Client) Events(ctx context.Context, kind domain.EventKind, fn func(domain.Event) error) error {
	u, err := url.Parse(c.baseURL + "/api/v1/events")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if kind != "" {
		u.RawQuery = "kind=" + url.QueryEscape(string(kind))
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial events: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var e domain.Event
		if err := conn.ReadJSON(&e); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
