package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/pgf-fleet/pgfgate/internal/util"
	"github.com/pgf-fleet/pgfgate/upstream"
)

// ErrorKind classifies why a gateway call failed.
type ErrorKind int

const (
	// Unauthorized: no credential, or upstream rejected the one presented.
	Unauthorized ErrorKind = iota + 1
	// InvalidCredentials: upstream refused a login.
	InvalidCredentials
	// BadUpstreamResponse: empty, non-JSON, or HTML body where JSON was expected.
	BadUpstreamResponse
	// MissingToken: upstream succeeded but omitted the access token.
	MissingToken
	// UpstreamUnreachable: the call never produced a response.
	UpstreamUnreachable
	// RateLimited: the login limiter is holding this account or address.
	RateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case Unauthorized:
		return "unauthorized"
	case InvalidCredentials:
		return "invalid_credentials"
	case BadUpstreamResponse:
		return "bad_upstream_response"
	case MissingToken:
		return "missing_token"
	case UpstreamUnreachable:
		return "upstream_unreachable"
	case RateLimited:
		return "rate_limited"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// AuthError is a classified gateway failure carrying the HTTP status and
// detail it is reported with.
type AuthError struct {
	Kind   ErrorKind
	Status int
	Detail string
	// Raw holds a snippet of an unparseable upstream body.
	Raw string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches another *AuthError of the same kind, so callers can write
// errors.Is(err, &AuthError{Kind: MissingToken}).
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

const (
	detailUnauthorized       = "Unauthorized"
	detailInternal           = "Internal error"
	detailInvalidCredentials = "Invalid credentials"
	detailBadUpstream        = "Bad upstream response"
	detailMissingToken       = "Upstream response did not include an access token"

	rawSnippetLen = 200
)

func errUnauthorized(status int, detail string) *AuthError {
	return &AuthError{Kind: Unauthorized, Status: statusOr(status, http.StatusUnauthorized), Detail: detail}
}

func errInvalidCredentials(status int, detail string) *AuthError {
	return &AuthError{Kind: InvalidCredentials, Status: statusOr(status, http.StatusUnauthorized), Detail: detail}
}

func errBadUpstream(body []byte, err error) *AuthError {
	return &AuthError{
		Kind:   BadUpstreamResponse,
		Status: http.StatusBadGateway,
		Detail: detailBadUpstream,
		Raw:    util.Snippet(string(body), rawSnippetLen),
		Err:    err,
	}
}

func errMissingToken() *AuthError {
	return &AuthError{Kind: MissingToken, Status: http.StatusBadGateway, Detail: detailMissingToken}
}

func errUnreachable(err error) *AuthError {
	return &AuthError{Kind: UpstreamUnreachable, Status: http.StatusInternalServerError, Detail: detailInternal, Err: err}
}

// upstreamFailure classifies an error from upstream.Client.Do. A body too
// large to buffer is a bad response; anything else never reached upstream.
func upstreamFailure(err error) *AuthError {
	if errors.Is(err, upstream.ErrResponseTooLarge) {
		return errBadUpstream(nil, err)
	}
	return errUnreachable(err)
}

func statusOr(status, fallback int) int {
	if status <= 0 {
		return fallback
	}
	return status
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// writeAuthError reports err as {detail[, raw]}. Errors that are not an
// *AuthError are reported as a bare 500.
func writeAuthError(w http.ResponseWriter, err error) {
	var ae *AuthError
	if !errors.As(err, &ae) {
		writeError(w, http.StatusInternalServerError, detailInternal)
		return
	}
	writeJSON(w, ae.Status, ErrorResponse{Detail: ae.Detail, Raw: ae.Raw})
}

// writeRaw sends body unchanged.
func writeRaw(w http.ResponseWriter, status int, contentType string, body []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	if len(body) > 0 && bodyAllowed(status) {
		w.Write(body)
	}
}

func bodyAllowed(status int) bool {
	return status != http.StatusNoContent && status != http.StatusNotModified && status >= 200
}

// upstreamDetail pulls a human message out of an upstream error body,
// falling back when there is none.
func upstreamDetail(body []byte, fallback string) string {
	var payload struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fallback
	}
	switch d := payload.Detail.(type) {
	case string:
		if d != "" {
			return d
		}
	case nil:
	default:
		return fmt.Sprint(d)
	}
	if payload.Message != "" {
		return payload.Message
	}
	if payload.Error != "" {
		return payload.Error
	}
	return fallback
}

// decodeJSON reads a size-limited JSON request body into T, writing a 400
// itself on failure.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}

// looksLikeHTML reports whether body is markup (an error page or redirect
// from a misconfigured gateway) rather than JSON.
func looksLikeHTML(body []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(body, " \t\r\n"), []byte("<"))
}
