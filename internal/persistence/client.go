// Package persistence is the client for the backend's REST event store.
//
// Endpoints:
//
//	GET    /events/{userId}            -> {"events": [Event]}
//	POST   /events                     {userId, eventId, eventData} (idempotent upsert)
//	DELETE /events/{userId}/{eventId}  (404 means already deleted)
//	POST   /auth/register              {email, password, displayName} -> Session
//	POST   /auth/login                 {email, password} -> Session
package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmynk/eventlist/internal/models"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 8 * time.Second

// SaveRequest is the body of POST /events.
type SaveRequest struct {
	UserID    string        `json:"userId"`
	EventID   models.ID     `json:"eventId"`
	EventData *models.Event `json:"eventData"`
}

// ListResponse is the body of GET /events/{userId}.
type ListResponse struct {
	Events []*models.Event `json:"events"`
}

// Credentials is the body of the account endpoints.
type Credentials struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

// Account describes the signed-in user.
type Account struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Session is returned by the account endpoints.
type Session struct {
	Token string  `json:"token"`
	User  Account `json:"user"`
}

// Client talks to the REST event store.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	c := &Client{
		baseURL:    u,
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListEvents returns every event the user can see.
func (c *Client) ListEvents(ctx context.Context, userID string) ([]*models.Event, error) {
	var resp ListResponse
	if err := c.do(ctx, http.MethodGet, c.baseURL.JoinPath("events", userID), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return resp.Events, nil
}

// SaveEvent upserts ev on behalf of userID.
func (c *Client) SaveEvent(ctx context.Context, userID string, ev *models.Event) error {
	data := ev.Clone()
	data.IsNew = false
	body := SaveRequest{UserID: userID, EventID: ev.ID, EventData: data}
	if err := c.do(ctx, http.MethodPost, c.baseURL.JoinPath("events"), body, nil); err != nil {
		return fmt.Errorf("failed to save event %s: %w", ev.ID, err)
	}
	return nil
}

// DeleteEvent removes the event for userID. Repeated calls return ErrNotFound.
func (c *Client) DeleteEvent(ctx context.Context, userID string, id models.ID) error {
	if err := c.do(ctx, http.MethodDelete, c.baseURL.JoinPath("events", userID, string(id)), nil, nil); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	return nil
}

// Register creates an account and returns its first session.
func (c *Client) Register(ctx context.Context, email, displayName, password string) (*Session, error) {
	var out Session
	in := Credentials{Email: email, Password: password, DisplayName: displayName}
	if err := c.do(ctx, http.MethodPost, c.baseURL.JoinPath("auth", "register"), in, &out); err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}
	return &out, nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var out Session
	in := Credentials{Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, c.baseURL.JoinPath("auth", "login"), in, &out); err != nil {
		return nil, fmt.Errorf("failed to log in: %w", err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	slog.Debug("Persistence request",
		"method", method,
		"path", u.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusBadGateway, resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		// Proxies in front of an unreachable backend.
		return fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrRejected, err)
	}
	return nil
}
