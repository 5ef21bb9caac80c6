package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/pgf-fleet/pgfgate/upstream"
)

const (
	accessCookieName  = "pgf_access"
	refreshCookieName = upstream.RefreshCookieName

	accessCookieMaxAge  = 3600
	refreshCookieMaxAge = 7 * 24 * 3600
)

func (a *API) writeAccessCookie(w http.ResponseWriter, token string) {
	a.setCookie(w, accessCookieName, token, accessCookieMaxAge)
}

func (a *API) writeRefreshCookie(w http.ResponseWriter, token string) {
	a.setCookie(w, refreshCookieName, token, refreshCookieMaxAge)
}

// clearAuthCookies expires both cookies. net/http renders MaxAge -1 as
// "Max-Age=0".
func (a *API) clearAuthCookies(w http.ResponseWriter) {
	a.setCookie(w, accessCookieName, "", -1)
	a.setCookie(w, refreshCookieName, "", -1)
}

func (a *API) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
	if maxAge < 0 {
		ck.Expires = time.Unix(0, 0)
	}
	http.SetCookie(w, ck)
}

func accessToken(r *http.Request) string {
	return cookieValue(r, accessCookieName)
}

func refreshToken(r *http.Request) string {
	return cookieValue(r, refreshCookieName)
}

func cookieValue(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
