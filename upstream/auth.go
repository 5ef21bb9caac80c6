package upstream

import (
	"context"
	"encoding/json"
	"net/http"
)

// RefreshCookieName is the only cookie ever forwarded upstream.
const RefreshCookieName = "pgf_refresh"

// Login posts credentials to the backend's login route.
func (c *Client) Login(ctx context.Context, username, password string) (*Response, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, Request{Op: "login", Method: http.MethodPost, Path: c.paths.Login, Body: body})
}

// Refresh presents the refresh token both as the JSON body and as the
// refresh cookie, covering body-reading and cookie-reading backends.
func (c *Client) Refresh(ctx context.Context, refresh string) (*Response, error) {
	body, err := json.Marshal(map[string]string{"refresh": refresh})
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, Request{
		Op:      "refresh",
		Method:  http.MethodPost,
		Path:    c.paths.Refresh,
		Body:    body,
		Cookies: []*http.Cookie{{Name: RefreshCookieName, Value: refresh}},
	})
}

// Me fetches the profile that owns bearer.
func (c *Client) Me(ctx context.Context, bearer string) (*Response, error) {
	return c.Do(ctx, Request{Op: "me", Method: http.MethodGet, Path: c.paths.Me, Bearer: bearer})
}

// PasswordResetConfirm forwards a raw reset-confirmation body. It is a
// public route, so no credential is attached.
func (c *Client) PasswordResetConfirm(ctx context.Context, body []byte) (*Response, error) {
	return c.Do(ctx, Request{Op: "password_reset_confirm", Method: http.MethodPost, Path: c.paths.PasswordResetConfirm, Body: body})
}
