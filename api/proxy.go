package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/pgf-fleet/pgfgate/upstream"
)

const maxProxyBodySize = 32 << 20

var proxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

// forwardedHeaders is the complete set of browser headers that reach
// upstream. Cookies never do.
var forwardedHeaders = []string{"Accept", "Accept-Language"}

// Proxy handles /proxy/*. The wildcard is mapped onto the backend API
// prefix and the access cookie, when present, becomes the bearer token.
// Anonymous calls are forwarded too; upstream decides what they may see.
func (a *API) Proxy(w http.ResponseWriter, r *http.Request) {
	rest := escapedParam(r, "*")

	var (
		body []byte
		err  error
	)
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxProxyBodySize))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
	}

	resp, err := a.upstream.Do(r.Context(), upstream.Request{
		Op:     "proxy",
		Method: r.Method,
		Path:   a.upstream.APIPath(rest),
		Query:  r.URL.RawQuery,
		Body:   body,
		Bearer: accessToken(r),
		Header: forwardHeaders(r),
	})
	if err != nil {
		a.logger.Error("proxy upstream call failed",
			"method", r.Method, "path", rest, "error", err)
		a.metrics.proxied(r.Method, 0)
		writeAuthError(w, upstreamFailure(err))
		return
	}
	a.metrics.proxied(r.Method, resp.Status)
	relay(w, resp)
}

// escapedParam returns a route parameter in the escaped form the browser
// sent. chi matches on RawPath when the request has one, so the parameter
// is already escaped then; otherwise Path round-trips through the default
// encoding.
func escapedParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if r.URL.RawPath != "" {
		return v
	}
	return (&url.URL{Path: v}).EscapedPath()
}

func forwardHeaders(r *http.Request) http.Header {
	h := make(http.Header)
	for _, name := range forwardedHeaders {
		if v := r.Header.Values(name); len(v) > 0 {
			h[http.CanonicalHeaderKey(name)] = v
		}
	}
	if id := requestIDFromContext(r.Context()); id != "" {
		h.Set(requestIDHeader, id)
	}
	return h
}

// relay writes an upstream response back with the upstream status. Markup
// keeps the upstream content type (text/html by default), JSON is passed
// through byte for byte, and anything else goes back as plain text.
func relay(w http.ResponseWriter, resp *upstream.Response) {
	ct := resp.Header.Get("Content-Type")
	switch {
	case looksLikeHTML(resp.Body):
		if ct == "" {
			ct = "text/html; charset=utf-8"
		}
		writeRaw(w, resp.Status, ct, resp.Body)
	case json.Valid(resp.Body):
		writeRaw(w, resp.Status, "application/json", resp.Body)
	default:
		if ct == "" {
			ct = "text/plain; charset=utf-8"
		}
		writeRaw(w, resp.Status, ct, resp.Body)
	}
}
