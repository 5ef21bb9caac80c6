package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pgf-fleet/pgfgate/internal/util"
)

const maxAuthBodySize = 64 << 10

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	// The limiter key is normalized; the body sent upstream is not.
	userKey := util.NormalizeUsername(req.Username)
	clientIP := a.clientIP(r)

	if blocked, retryAfter := a.ipLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter)
		return
	}
	if userKey != "" {
		if blocked, retryAfter := a.userLimiter.check(userKey); blocked {
			a.audit.logFailure(AuditLoginRateLimited, r, "rate limited",
				slog.String("username", userKey))
			writeRateLimited(w, retryAfter)
			return
		}
	}

	resp, err := a.upstream.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.logger.Error("login upstream call failed", "error", err)
		writeAuthError(w, upstreamFailure(err))
		return
	}
	if !resp.OK() {
		a.ipLimiter.recordFailure(clientIP)
		if userKey != "" {
			a.userLimiter.recordFailure(userKey)
		}
		a.audit.logFailure(AuditLoginFailure, r, "upstream rejected credentials",
			slog.String("username", userKey), slog.Int("status", resp.Status))
		writeAuthError(w, errInvalidCredentials(resp.Status, upstreamDetail(resp.Body, detailInvalidCredentials)))
		return
	}

	payload, err := decodeTokenPayload(resp.Body)
	if err != nil {
		a.audit.logFailure(AuditLoginFailure, r, err.Error(), slog.String("username", userKey))
		writeAuthError(w, err)
		return
	}

	a.ipLimiter.recordSuccess(clientIP)
	if userKey != "" {
		a.userLimiter.recordSuccess(userKey)
	}

	access, refresh := payload.access(), payload.refresh()
	rec, err := a.ledger.Issue(r.Context(), access, refresh)
	if err != nil {
		a.logger.Warn("recording session failed", "error", err)
	}

	a.writeAccessCookie(w, access)
	if refresh != "" {
		a.writeRefreshCookie(w, refresh)
	}
	a.audit.logEvent(AuditLoginSuccess, r, rec.Subject, slog.String("username", userKey))
	writeJSON(w, http.StatusOK, LoginResponse{OK: true, User: payload.User})
}

// Logout handles POST /auth/logout. It always succeeds.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	subject := ""
	if token := accessToken(r); token != "" {
		if rec, ok := a.ledger.Lookup(r.Context(), token); ok {
			subject = rec.Subject
		}
		if err := a.ledger.Revoke(r.Context(), token); err != nil {
			a.logger.Warn("revoking session failed", "error", err)
		}
	}
	if refresh := refreshToken(r); refresh != "" {
		if err := a.ledger.Revoke(r.Context(), refresh); err != nil {
			a.logger.Warn("revoking refresh window failed", "error", err)
		}
	}
	a.clearAuthCookies(w)
	a.audit.logEvent(AuditLogout, r, subject)
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// Me handles GET /auth/me, relaying the upstream profile as-is.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	token := accessToken(r)
	if token == "" {
		writeAuthError(w, errUnauthorized(http.StatusUnauthorized, detailUnauthorized))
		return
	}

	resp, err := a.upstream.Me(r.Context(), token)
	if err != nil {
		a.logger.Error("me upstream call failed", "error", err)
		writeAuthError(w, upstreamFailure(err))
		return
	}
	if resp.Status == http.StatusUnauthorized {
		if err := a.ledger.Revoke(r.Context(), token); err != nil {
			a.logger.Warn("revoking rejected session failed", "error", err)
		}
	}
	if looksLikeHTML(resp.Body) || !json.Valid(resp.Body) {
		ae := errBadUpstream(resp.Body, nil)
		if !resp.OK() {
			ae.Status = resp.Status
		}
		writeAuthError(w, ae)
		return
	}
	writeRaw(w, resp.Status, "application/json", resp.Body)
}

// Refresh handles POST /auth/refresh.
func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	refresh := refreshToken(r)
	if refresh == "" {
		a.audit.logFailure(AuditRefreshFailure, r, "no refresh cookie")
		writeAuthError(w, errUnauthorized(http.StatusUnauthorized, detailUnauthorized))
		return
	}

	resp, err := a.upstream.Refresh(r.Context(), refresh)
	if err != nil {
		a.logger.Error("refresh upstream call failed", "error", err)
		writeAuthError(w, upstreamFailure(err))
		return
	}
	if !resp.OK() {
		a.audit.logFailure(AuditRefreshFailure, r, "upstream rejected refresh token",
			slog.Int("status", resp.Status))
		writeAuthError(w, errUnauthorized(resp.Status, upstreamDetail(resp.Body, detailUnauthorized)))
		return
	}

	payload, err := decodeTokenPayload(resp.Body)
	if err != nil {
		a.audit.logFailure(AuditRefreshFailure, r, err.Error())
		writeAuthError(w, err)
		return
	}

	access, rotated := payload.access(), payload.refresh()
	rec, err := a.ledger.Rotate(r.Context(), accessToken(r), refresh, access, rotated)
	if err != nil {
		a.logger.Warn("rotating session record failed", "error", err)
	}

	a.writeAccessCookie(w, access)
	if rotated != "" {
		a.writeRefreshCookie(w, rotated)
	}
	a.audit.logEvent(AuditRefreshSuccess, r, rec.Subject,
		slog.Bool("refresh_rotated", rotated != ""), slog.Int("refreshes", rec.Refreshes))
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// SocketToken handles GET /auth/token. It is the one route that hands the
// access token to page script, for authenticating the notification socket.
func (a *API) SocketToken(w http.ResponseWriter, r *http.Request) {
	token := accessToken(r)
	if token == "" {
		writeAuthError(w, errUnauthorized(http.StatusUnauthorized, detailUnauthorized))
		return
	}
	rec, _ := a.ledger.Describe(r.Context(), token)
	a.audit.logEvent(AuditSocketTokenIssued, r, rec.Subject)
	writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}

// SessionStatus handles GET /auth/session.
func (a *API) SessionStatus(w http.ResponseWriter, r *http.Request) {
	token := accessToken(r)
	if token == "" {
		writeAuthError(w, errUnauthorized(http.StatusUnauthorized, detailUnauthorized))
		return
	}

	rec, known := a.ledger.Describe(r.Context(), token)
	now := time.Now()
	resp := SessionStatusResponse{
		Known:     known,
		Subject:   rec.Subject,
		IssuedAt:  timePtr(rec.IssuedAt),
		ExpiresAt: timePtr(rec.ExpiresAt),
		Refreshes: rec.Refreshes,
		// Without a known expiry the caller cannot plan, so advise a refresh.
		ShouldRefresh: true,
	}
	if !rec.ExpiresAt.IsZero() {
		resp.ExpiresIn = int64(rec.ExpiresIn(now) / time.Second)
		resp.ShouldRefresh = rec.ShouldRefresh(now, a.refreshMargin)
	}
	resp.RefreshExpiresAt = timePtr(rec.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, resp)
}

// PasswordResetConfirm handles POST /auth/password-reset/confirm. The body
// is forwarded untouched and no credential is attached.
func (a *API) PasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAuthBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := a.upstream.PasswordResetConfirm(r.Context(), body)
	if err != nil {
		a.logger.Error("password reset upstream call failed", "error", err)
		writeAuthError(w, upstreamFailure(err))
		return
	}
	a.audit.log(AuditPasswordResetConfirm, r, slog.Int("status", resp.Status))
	relay(w, resp)
}

// decodeTokenPayload validates an upstream login or refresh success body.
func decodeTokenPayload(body []byte) (tokenPayload, error) {
	var p tokenPayload
	if len(body) == 0 || looksLikeHTML(body) {
		return p, errBadUpstream(body, errors.New("expected a JSON token payload"))
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return p, errBadUpstream(body, err)
	}
	if p.access() == "" {
		return p, errMissingToken()
	}
	return p, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
