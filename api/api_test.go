package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgf-fleet/pgfgate/session"
	"github.com/pgf-fleet/pgfgate/upstream"
)

// seenRequest is what the fake backend recorded about one call.
type seenRequest struct {
	Method string
	Path   string
	// Raw is the escaped path as it arrived on the wire.
	Raw    string
	Query  string
	Header http.Header
	Body   []byte
}

type fakeBackend struct {
	srv *httptest.Server

	mu   sync.Mutex
	seen []seenRequest
}

func newFakeBackend(t *testing.T, handler http.HandlerFunc) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fb.mu.Lock()
		fb.seen = append(fb.seen, seenRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Raw:    r.URL.EscapedPath(),
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
		})
		fb.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) calls() []seenRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]seenRequest(nil), fb.seen...)
}

func (fb *fakeBackend) last(t *testing.T) seenRequest {
	t.Helper()
	calls := fb.calls()
	require.NotEmpty(t, calls, "backend was not called")
	return calls[len(calls)-1]
}

type testGateway struct {
	api     *API
	handler http.Handler
	ledger  *session.Ledger
	metrics *Metrics
}

func newTestGateway(t *testing.T, baseURL string, opts ...Option) *testGateway {
	t.Helper()
	up, err := upstream.New(baseURL)
	require.NoError(t, err)
	keyer, err := session.NewKeyer(nil)
	require.NoError(t, err)
	ledger := session.NewLedger(session.NewMemoryStore(), keyer)
	metrics := NewMetrics(prometheus.NewRegistry())

	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler)), WithMetrics(metrics)}, opts...)
	a := New(up, ledger, opts...)
	root := chi.NewRouter()
	root.Mount("/api", a.Router())
	return &testGateway{api: a, handler: root, ledger: ledger, metrics: metrics}
}

func (g *testGateway) do(method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)
	return rec
}

func jsonBackend(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func setCookieHeader(rec *httptest.ResponseRecorder, name string) string {
	for _, line := range rec.Result().Header.Values("Set-Cookie") {
		if strings.HasPrefix(line, name+"=") {
			return line
		}
	}
	return ""
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

func accessCookie(v string) *http.Cookie  { return &http.Cookie{Name: accessCookieName, Value: v} }
func refreshCookie(v string) *http.Cookie { return &http.Cookie{Name: refreshCookieName, Value: v} }

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), "body: %s", rec.Body.String())
	return e
}

func TestLoginSetsCookiesAndRelaysUser(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusOK,
		`{"access":"abc","refresh":"def","user":{"id":"1","rol":"ADMIN"}}`))
	g := newTestGateway(t, fb.srv.URL)

	rec := g.do(http.MethodPost, "/api/auth/login", `{"username":"demo","password":"demo"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"user":{"id":"1","rol":"ADMIN"}}`, rec.Body.String())

	access := findCookie(rec, accessCookieName)
	require.NotNil(t, access)
	assert.Equal(t, "abc", access.Value)
	assert.Equal(t, 3600, access.MaxAge)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, "/", access.Path)
	assert.Equal(t, http.SameSiteLaxMode, access.SameSite)
	assert.False(t, access.Secure)
	assert.Contains(t, setCookieHeader(rec, accessCookieName), "Max-Age=3600")

	refresh := findCookie(rec, refreshCookieName)
	require.NotNil(t, refresh)
	assert.Equal(t, "def", refresh.Value)
	assert.Equal(t, 604800, refresh.MaxAge)
	assert.True(t, refresh.HttpOnly)

	call := fb.last(t)
	assert.Equal(t, http.MethodPost, call.Method)
	assert.Equal(t, "/api/v1/auth/login/", call.Path)
	assert.JSONEq(t, `{"username":"demo","password":"demo"}`, string(call.Body))

	rec2, ok := g.ledger.Lookup(t.Context(), "abc")
	require.True(t, ok, "login should record the session")
	assert.False(t, rec2.RefreshExpiresAt.IsZero())
}

func TestLoginForwardsUsernameUnnormalized(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusOK, `{"access":"abc"}`))
	g := newTestGateway(t, fb.srv.URL)

	rec := g.do(http.MethodPost, "/api/auth/login", `{"username":" Demo ","password":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"username":" Demo ","password":"x"}`, string(fb.last(t).Body))
}

func TestLoginSecureCookies(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusOK, `{"access":"abc"}`))
	g := newTestGateway(t, fb.srv.URL, WithSecureCookies(true))

	rec := g.do(http.MethodPost, "/api/auth/login", `{"username":"demo","password":"demo"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	ck := findCookie(rec, accessCookieName)
	require.NotNil(t, ck)
	assert.True(t, ck.Secure)
}

func TestLoginWithoutRefreshSetsOnlyAccess(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusOK, `{"access":"abc","user":{"id":"1"}}`))
	g := newTestGateway(t, fb.srv.URL)

	rec := g.do(http.MethodPost, "/api/auth/login", `{"username":"demo","password":"demo"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, findCookie(rec, accessCookieName))
	assert.Nil(t, findCookie(rec, refreshCookieName))
}

func TestLoginUpstreamRejectionKeepsStatus(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			fb := newFakeBackend(t, jsonBackend(status, `{"detail":"No active account found"}`))
			g := newTestGateway(t, fb.srv.URL)

			rec := g.do(http.MethodPost, "/api/auth/login", `{"username":"demo","password":"nope"}`)
			assert.Equal(t, status, rec.Code)
			assert.Empty(t, rec.Result().Header.Values("Set-Cookie"))
			assert.Equal(t, "No active account found", decodeError(t, rec).Detail)
		})
	}
}

func TestLoginUpstreamRejectionWithoutDetail(t *testing.T) {
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	g := newTestGateway(t, fb.srv.URL)

	rec := g.do(http.MethodPost, "/api/auth/login", `{"username":"demo","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, detailInvalidCredentials, decodeError(t, rec).Detail)
}

func TestLoginBadUpstreamBodies(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"empty", "", detailBadUpstream},
		{"html", "<html>maintenance</html>", detailBadUpstream},
		{"not json", "ok", detailBadUpstream},
		{"missing access", `{"refresh":"def","user":{"id":"1"}}`, detailMissingToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBackend(t, jsonBackend(http.StatusOK, tt.body))
			g := newTestGateway(t, fb.srv.URL)

			rec := g.do(http.MethodPost, "/api/auth/login", `{"username":"demo","password":"demo"}`)
			assert.Equal(t, http.StatusBadGateway, rec.Code)
			assert.Equal(t, tt.detail, decodeError(t, rec).Detail)
			assert.Empty(t, rec.Result().Header.Values("Set-Cookie"))
		})
	}
}

func TestLoginUpstreamUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()
	g := newTestGateway(t, url)

	rec := g.do(http.MethodPost, "/api/auth/login", `{"username":"demo","password":"demo"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"Internal error"}`, rec.Body.String())
}

func TestLoginMalformedRequest(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusOK, `{"access":"abc"}`))
	g := newTestGateway(t, fb.srv.URL)

	rec := g.do(http.MethodPost, "/api/auth/login", `{"username":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fb.calls())
}

func TestLoginRateLimitedPerUsername(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusUnauthorized, `{"detail":"bad"}`))
	g := newTestGateway(t, fb.srv.URL)

	// Case and surrounding space do not dodge the limiter.
	names := []string{"demo", "Demo", " DEMO", "demo ", "dEmO"}
	for i := 0; i < maxFailures; i++ {
		rec := g.do(http.MethodPost, "/api/auth/login", `{"username":"`+names[i%len(names)]+`","password":"x"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := g.do(http.MethodPost, "/api/auth/login", `{"username":"demo","password":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Len(t, fb.calls(), maxFailures, "a locked out login must not reach upstream")

	rec = g.do(http.MethodPost, "/api/auth/login", `{"username":"someone-else","password":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutClearsCookiesIdempotently(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusOK, `{"access":"abc","refresh":"def"}`))
	g := newTestGateway(t, fb.srv.URL)

	login := g.do(http.MethodPost, "/api/auth/login", `{"username":"demo","password":"demo"}`)
	require.Equal(t, http.StatusOK, login.Code)
	_, ok := g.ledger.Lookup(t.Context(), "abc")
	require.True(t, ok)

	cases := map[string][]*http.Cookie{
		"with session":    {accessCookie("abc"), refreshCookie("def")},
		"without session": nil,
		"again":           {accessCookie("abc")},
	}
	for name, cookies := range cases {
		t.Run(name, func(t *testing.T) {
			rec := g.do(http.MethodPost, "/api/auth/logout", "", cookies...)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
			for _, n := range []string{accessCookieName, refreshCookieName} {
				line := setCookieHeader(rec, n)
				assert.Contains(t, line, "Max-Age=0", n)
				assert.Contains(t, line, "HttpOnly", n)
			}
		})
	}

	_, ok = g.ledger.Lookup(t.Context(), "abc")
	assert.False(t, ok, "logout should drop the ledger record")
	_, ok = g.ledger.Lookup(t.Context(), "def")
	assert.False(t, ok, "logout should drop the refresh window")
	assert.Len(t, fb.calls(), 1, "logout does not call upstream")
}

func TestMeWithoutCookie(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusOK, `{}`))
	g := newTestGateway(t, fb.srv.URL)

	rec := g.do(http.MethodGet, "/api/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"detail":"Unauthorized"}`, rec.Body.String())
	assert.Empty(t, fb.calls())
}

func TestMeRelaysProfile(t *testing.T) {
	const profile = `{"id":"1","username":"demo","rol":"SUPERVISOR"}`
	fb := newFakeBackend(t, jsonBackend(http.StatusOK, profile))
	g := newTestGateway(t, fb.srv.URL)

	rec := g.do(http.MethodGet, "/api/auth/me", "", accessCookie("abc"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, profile, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	call := fb.last(t)
	assert.Equal(t, "/api/v1/auth/me/", call.Path)
	assert.Equal(t, "Bearer abc", call.Header.Get("Authorization"))
	assert.Empty(t, call.Header.Get("Cookie"))
}

func TestMeRelaysUpstreamRejectionVerbatim(t *testing.T) {
	const body = `{"detail":"token_not_valid"}`
	fb := newFakeBackend(t, jsonBackend(http.StatusUnauthorized, body))
	g := newTestGateway(t, fb.srv.URL)

	rec := g.do(http.MethodGet, "/api/auth/me", "", accessCookie("garbage"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, body, rec.Body.String())
}

func TestMeMalformedUpstreamBody(t *testing.T) {
	long := "<html>" + strings.Repeat("x", 500) + "</html>"
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, long)
	})
	g := newTestGateway(t, fb.srv.URL)

	rec := g.do(http.MethodGet, "/api/auth/me", "", accessCookie("abc"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, detailBadUpstream, e.Detail)
	assert.Equal(t, long[:rawSnippetLen], e.Raw)
}

func TestMeMalformedRejectionKeepsStatus(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.WriteHeader(status)
				io.WriteString(w, "<html>denied</html>")
			})
			g := newTestGateway(t, fb.srv.URL)

			rec := g.do(http.MethodGet, "/api/auth/me", "", accessCookie("abc"))
			assert.Equal(t, status, rec.Code)
			e := decodeError(t, rec)
			assert.Equal(t, detailBadUpstream, e.Detail)
			assert.Equal(t, "<html>denied</html>", e.Raw)
		})
	}
}

func TestRefreshWithoutCookie(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusOK, `{"access":"new"}`))
	g := newTestGateway(t, fb.srv.URL)

	rec := g.do(http.MethodPost, "/api/auth/refresh", "", accessCookie("abc"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"detail":"Unauthorized"}`, rec.Body.String())
	assert.Empty(t, fb.calls())
}

func TestRefreshReplacesAccessCookie(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusOK, `{"access":"new"}`))
	g := newTestGateway(t, fb.srv.URL)

	_, err := g.ledger.Issue(t.Context(), "old", "def")
	require.NoError(t, err)

	rec := g.do(http.MethodPost, "/api/auth/refresh", "", accessCookie("old"), refreshCookie("def"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	ck := findCookie(rec, accessCookieName)
	require.NotNil(t, ck)
	assert.Equal(t, "new", ck.Value)
	assert.Equal(t, 3600, ck.MaxAge)
	assert.Nil(t, findCookie(rec, refreshCookieName), "un-rotated refresh cookie is left alone")

	call := fb.last(t)
	assert.Equal(t, "/api/v1/auth/refresh/", call.Path)
	assert.JSONEq(t, `{"refresh":"def"}`, string(call.Body))
	assert.Equal(t, "pgf_refresh=def", call.Header.Get("Cookie"), "only the refresh cookie is forwarded")
	assert.Empty(t, call.Header.Get("Authorization"))

	_, ok := g.ledger.Lookup(t.Context(), "old")
	assert.False(t, ok)
	rotated, ok := g.ledger.Lookup(t.Context(), "new")
	require.True(t, ok)
	assert.Equal(t, 1, rotated.Refreshes)
}

func TestRefreshRotatesRefreshCookie(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusOK, `{"access":"new","refresh":"ghi"}`))
	g := newTestGateway(t, fb.srv.URL)

	rec := g.do(http.MethodPost, "/api/auth/refresh", "", refreshCookie("def"))
	require.Equal(t, http.StatusOK, rec.Code)

	ck := findCookie(rec, refreshCookieName)
	require.NotNil(t, ck)
	assert.Equal(t, "ghi", ck.Value)
	assert.Equal(t, 604800, ck.MaxAge)
}

func TestRefreshAfterAccessExpiredKeepsWindow(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusOK, `{"access":"new"}`))
	g := newTestGateway(t, fb.srv.URL)

	issued, err := g.ledger.Issue(t.Context(), "old", "def")
	require.NoError(t, err)
	// The browser dropped pgf_access at Max-Age and the record lapsed with it.
	require.NoError(t, g.ledger.Revoke(t.Context(), "old"))

	rec := g.do(http.MethodPost, "/api/auth/refresh", "", refreshCookie("def"))
	require.Equal(t, http.StatusOK, rec.Code)

	got, ok := g.ledger.Lookup(t.Context(), "new")
	require.True(t, ok)
	assert.Equal(t, 1, got.Refreshes)
	assert.True(t, issued.RefreshExpiresAt.Equal(got.RefreshExpiresAt))

	status := g.do(http.MethodGet, "/api/auth/session", "", accessCookie("new"))
	require.Equal(t, http.StatusOK, status.Code)
	assert.Contains(t, status.Body.String(), `"refresh_expires_at"`)
}

func TestRefreshRejected(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusUnauthorized, `{"detail":"Token is blacklisted"}`))
	g := newTestGateway(t, fb.srv.URL)

	rec := g.do(http.MethodPost, "/api/auth/refresh", "", refreshCookie("def"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token is blacklisted", decodeError(t, rec).Detail)
	assert.Empty(t, rec.Result().Header.Values("Set-Cookie"))
}

func TestRefreshMissingAccess(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusOK, `{"refresh":"ghi"}`))
	g := newTestGateway(t, fb.srv.URL)

	rec := g.do(http.MethodPost, "/api/auth/refresh", "", refreshCookie("def"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, detailMissingToken, decodeError(t, rec).Detail)
}

func TestSocketToken(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusOK, `{}`))
	g := newTestGateway(t, fb.srv.URL)

	rec := g.do(http.MethodGet, "/api/auth/token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = g.do(http.MethodGet, "/api/auth/token", "", accessCookie("abc"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"token":"abc"}`, rec.Body.String())
	assert.Empty(t, fb.calls())
}

func TestSessionStatus(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusOK, `{}`))
	g := newTestGateway(t, fb.srv.URL)

	t.Run("no cookie", func(t *testing.T) {
		rec := g.do(http.MethodGet, "/api/auth/session", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("ledger record", func(t *testing.T) {
		_, err := g.ledger.Issue(t.Context(), "abc", "def")
		require.NoError(t, err)

		rec := g.do(http.MethodGet, "/api/auth/session", "", accessCookie("abc"))
		require.Equal(t, http.StatusOK, rec.Code)
		var st SessionStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		assert.True(t, st.Known)
		assert.InDelta(t, 3600, st.ExpiresIn, 5)
		assert.False(t, st.ShouldRefresh)
		require.NotNil(t, st.RefreshExpiresAt)
		require.NotNil(t, st.IssuedAt)
		assert.WithinDuration(t, st.IssuedAt.Add(7*24*time.Hour), *st.RefreshExpiresAt, time.Second)
	})

	t.Run("unknown jwt close to expiry", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "42",
			"iat": time.Now().Add(-58 * time.Minute).Unix(),
			"exp": time.Now().Add(2 * time.Minute).Unix(),
		}).SignedString([]byte("upstream-secret"))
		require.NoError(t, err)

		rec := g.do(http.MethodGet, "/api/auth/session", "", accessCookie(tok))
		require.Equal(t, http.StatusOK, rec.Code)
		var st SessionStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		assert.False(t, st.Known)
		assert.Equal(t, "42", st.Subject)
		assert.True(t, st.ShouldRefresh)
		assert.InDelta(t, 120, st.ExpiresIn, 5)
		assert.Nil(t, st.RefreshExpiresAt)
	})

	t.Run("unknown opaque token", func(t *testing.T) {
		rec := g.do(http.MethodGet, "/api/auth/session", "", accessCookie("opaque"))
		require.Equal(t, http.StatusOK, rec.Code)
		var st SessionStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		assert.False(t, st.Known)
		assert.Nil(t, st.ExpiresAt)
		assert.True(t, st.ShouldRefresh)
	})
}

func TestPasswordResetConfirmForwardsBody(t *testing.T) {
	const body = `{"uid":"MQ","token":"c0ffee","new_password":"s3cret!"}`
	fb := newFakeBackend(t, jsonBackend(http.StatusBadRequest, `{"token":["Invalid value"]}`))
	g := newTestGateway(t, fb.srv.URL)

	rec := g.do(http.MethodPost, "/api/auth/password-reset/confirm", body, accessCookie("abc"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, `{"token":["Invalid value"]}`, rec.Body.String())

	call := fb.last(t)
	assert.Equal(t, "/api/v1/auth/password-reset/confirm/", call.Path)
	assert.Equal(t, body, string(call.Body))
	assert.Empty(t, call.Header.Get("Authorization"))
}

func TestAuthEventsCounted(t *testing.T) {
	fb := newFakeBackend(t, jsonBackend(http.StatusOK, `{"access":"abc"}`))
	g := newTestGateway(t, fb.srv.URL)

	g.do(http.MethodPost, "/api/auth/login", `{"username":"demo","password":"demo"}`)
	g.do(http.MethodPost, "/api/auth/logout", "")

	assert.Equal(t, 1.0, testutil.ToFloat64(g.metrics.authEvents.WithLabelValues(string(AuditLoginSuccess))))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.metrics.authEvents.WithLabelValues(string(AuditLogout))))
}

func TestOpenAPIServed(t *testing.T) {
	g := newTestGateway(t, "http://127.0.0.1:1")
	rec := g.do(http.MethodGet, "/api/openapi.yaml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "openapi: 3.0.3")
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	g := newTestGateway(t, "http://127.0.0.1:1")
	rec := g.do(http.MethodGet, "/api/auth/me", "")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}
