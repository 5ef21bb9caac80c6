package api

import (
	"encoding/json"
	"time"
)

// ErrorResponse is the body of every gateway error.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Raw    string `json:"raw,omitempty"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned from POST /auth/login. User is relayed from
// upstream unchanged.
type LoginResponse struct {
	OK   bool            `json:"ok"`
	User json.RawMessage `json:"user"`
}

// OKResponse is returned from logout and refresh.
type OKResponse struct {
	OK bool `json:"ok"`
}

// TokenResponse is returned from GET /auth/token.
type TokenResponse struct {
	Token string `json:"token"`
}

// SessionStatusResponse is returned from GET /auth/session.
type SessionStatusResponse struct {
	// Known is false when the ledger had no record and the figures were
	// read from the token itself.
	Known            bool       `json:"known"`
	Subject          string     `json:"subject,omitempty"`
	IssuedAt         *time.Time `json:"issued_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	ExpiresIn        int64      `json:"expires_in"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
	Refreshes        int        `json:"refreshes"`
	ShouldRefresh    bool       `json:"should_refresh"`
}

// tokenPayload is what upstream login and refresh answer with.
type tokenPayload struct {
	Access       string          `json:"access"`
	AccessToken  string          `json:"access_token"`
	Refresh      string          `json:"refresh"`
	RefreshToken string          `json:"refresh_token"`
	User         json.RawMessage `json:"user"`
}

func (p tokenPayload) access() string {
	if p.Access != "" {
		return p.Access
	}
	return p.AccessToken
}

func (p tokenPayload) refresh() string {
	if p.Refresh != "" {
		return p.Refresh
	}
	return p.RefreshToken
}
