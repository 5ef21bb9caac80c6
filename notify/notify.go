// Package notify subscribes to the backend's notification socket using the
// token the gateway hands out for that purpose.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Path is the notification endpoint below the socket base URL.
	Path = "/ws/notifications/"

	maxMessageSize   = 1 << 20
	handshakeTimeout = 10 * time.Second
)

// Notification is one message pushed by the backend.
type Notification struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Type    string          `json:"type"`
	Title   string          `json:"title,omitempty"`
	Message string          `json:"message,omitempty"`
	// Raw is the complete frame, for fields not modelled above.
	Raw json.RawMessage `json:"-"`
}

// TokenSource yields the token that authenticates the socket.
type TokenSource interface {
	SocketToken(ctx context.Context) (string, error)
}

// Listener connects to the notification socket and dispatches messages.
type Listener struct {
	base   *url.URL
	tokens TokenSource
	dialer *websocket.Dialer
	logger *slog.Logger
}

// Option configures a Listener.
type Option func(*Listener)

func WithDialer(d *websocket.Dialer) Option {
	return func(l *Listener) {
		l.dialer = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) {
		l.logger = logger
	}
}

// NewListener returns a Listener for the socket server at base. An http or
// https base is rewritten to ws or wss.
func NewListener(base string, tokens TokenSource, opts ...Option) (*Listener, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing socket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("socket url %q: unsupported scheme", base)
	}
	l := &Listener{
		base:   u,
		tokens: tokens,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// URL returns the socket address for token.
func (l *Listener) URL(token string) string {
	u := *l.base
	u.Path = strings.TrimRight(l.base.Path, "/") + Path
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String()
}

// Run fetches a token, connects, and calls handle for every notification
// until ctx is done (returning nil) or the connection fails. Frames that
// are not JSON objects are skipped.
func (l *Listener) Run(ctx context.Context, handle func(Notification)) error {
	token, err := l.tokens.SocketToken(ctx)
	if err != nil {
		return fmt.Errorf("getting socket token: %w", err)
	}

	conn, _, err := l.dialer.DialContext(ctx, l.URL(token), nil)
	if err != nil {
		return fmt.Errorf("dialing notification socket: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading notification: %w", err)
		}
		n, err := decode(data)
		if err != nil {
			l.logger.Debug("skipping malformed notification", "error", err)
			continue
		}
		handle(n)
	}
}

var errNotObject = errors.New("notification is not a JSON object")

func decode(data []byte) (Notification, error) {
	var n Notification
	if !strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		return n, errNotObject
	}
	if err := json.Unmarshal(data, &n); err != nil {
		return n, err
	}
	n.Raw = append(json.RawMessage(nil), data...)
	return n, nil
}
