// Package client is a Go client for the pgfgate auth gateway. It keeps the
// session cookies in a jar, exactly as a browser would, and mirrors the
// console's auth state for tools and tests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pgf-fleet/pgfgate/role"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Detail)
}

// ErrNoProfile means the gateway answered Me with an empty or null profile.
var ErrNoProfile = errors.New("gateway returned no user profile")

// IsUnauthorized reports whether err is a 401 from the gateway.
func IsUnauthorized(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusUnauthorized
}

// UserProfile is the signed-in user as the backend describes it.
type UserProfile struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email,omitempty"`
	Role     role.Role `json:"role"`
}

// UnmarshalJSON accepts numeric or string ids and the role under either
// "rol" or "role".
func (u *UserProfile) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID       json.RawMessage `json:"id"`
		Username string          `json:"username"`
		Email    string          `json:"email"`
		Rol      role.Role       `json:"rol"`
		Role     role.Role       `json:"role"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*u = UserProfile{Username: aux.Username, Email: aux.Email, Role: aux.Rol}
	if u.Role == "" {
		u.Role = aux.Role
	}
	if len(aux.ID) > 0 && string(aux.ID) != "null" {
		var s string
		if err := json.Unmarshal(aux.ID, &s); err == nil {
			u.ID = s
		} else {
			var n json.Number
			if err := json.Unmarshal(aux.ID, &n); err != nil {
				return fmt.Errorf("decoding user id: %w", err)
			}
			u.ID = n.String()
		}
	}
	return nil
}

// SessionStatus mirrors GET /auth/session.
type SessionStatus struct {
	Known            bool       `json:"known"`
	Subject          string     `json:"subject"`
	IssuedAt         *time.Time `json:"issued_at"`
	ExpiresAt        *time.Time `json:"expires_at"`
	ExpiresIn        int64      `json:"expires_in"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at"`
	Refreshes        int        `json:"refreshes"`
	ShouldRefresh    bool       `json:"should_refresh"`
}

// Client talks to a pgfgate instance.
type Client struct {
	base *url.URL
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. A client without a
// cookie jar gets a fresh one.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New returns a Client for the gateway at baseURL (e.g.
// "http://localhost:3000/api").
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing gateway url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway url %q: scheme must be http or https", baseURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		c.http.Jar = jar
	}
	return c, nil
}

// BaseURL returns the gateway URL the client was built with.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Login signs in and returns the profile upstream sent along.
func (c *Client) Login(ctx context.Context, username, password string) (*UserProfile, error) {
	var resp struct {
		OK   bool         `json:"ok"`
		User *UserProfile `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Logout clears the session cookies.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// Me returns the current user.
func (c *Client) Me(ctx context.Context) (*UserProfile, error) {
	var u *UserProfile
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &u); err != nil {
		return nil, err
	}
	if u == nil || *u == (UserProfile{}) {
		return nil, ErrNoProfile
	}
	return u, nil
}

// Refresh renews the access cookie.
func (c *Client) Refresh(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/refresh", nil, nil)
}

// SocketToken returns the access token for the notification socket.
func (c *Client) SocketToken(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/token", nil, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// SessionStatus reports when the current session expires.
func (c *Client) SessionStatus(ctx context.Context) (*SessionStatus, error) {
	var st SessionStatus
	if err := c.do(ctx, http.MethodGet, "/auth/session", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	u := *c.base
	u.Path = c.base.Path + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Detail: errorDetail(resp.StatusCode, data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func errorDetail(status int, body []byte) string {
	var e struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil && e.Detail != "" {
		return e.Detail
	}
	if len(body) > 0 && len(body) <= 200 {
		return string(body)
	}
	return strconv.Itoa(status) + " " + http.StatusText(status)
}
