package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/pgf-fleet/pgfgate/session"
	"github.com/pgf-fleet/pgfgate/upstream"
)

const (
	// DefaultRefreshMargin is how close to expiry a session has to be before
	// the session route advises a refresh.
	DefaultRefreshMargin = 5 * time.Minute

	maintenanceInterval = 10 * time.Minute
)

// API holds the dependencies needed by the gateway handlers.
type API struct {
	upstream       *upstream.Client
	ledger         *session.Ledger
	audit          *auditLogger
	logger         *slog.Logger
	metrics        *Metrics
	userLimiter    *failureLimiter
	ipLimiter      *failureLimiter
	secureCookies  bool
	trustedProxies []netip.Prefix
	refreshMargin  time.Duration
	docsPrefix     string
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request and audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithMetrics records proxy and auth counters into m.
func WithMetrics(m *Metrics) Option {
	return func(a *API) {
		a.metrics = m
	}
}

// WithSecureCookies marks the session cookies Secure.
func WithSecureCookies(secure bool) Option {
	return func(a *API) {
		a.secureCookies = secure
	}
}

// WithTrustedProxies sets the peers whose forwarding headers are believed
// when rate limiting by client IP.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithRefreshMargin overrides DefaultRefreshMargin.
func WithRefreshMargin(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.refreshMargin = d
		}
	}
}

// WithDocsPrefix sets the public path the router is mounted under, used to
// point the documentation pages at the embedded OpenAPI document.
func WithDocsPrefix(prefix string) Option {
	return func(a *API) {
		a.docsPrefix = prefix
	}
}

// New creates a new API instance.
func New(up *upstream.Client, ledger *session.Ledger, opts ...Option) *API {
	a := &API{
		upstream:      up,
		ledger:        ledger,
		userLimiter:   newLoginRateLimiter(),
		ipLimiter:     newIPRateLimiter(),
		refreshMargin: DefaultRefreshMargin,
		docsPrefix:    "/api",
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger, a.metrics)
	return a
}

// Router returns a chi.Router with all gateway routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: a.docsPrefix + "/openapi.yaml",
		Path:    strings.TrimLeft(a.docsPrefix, "/") + "/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: a.docsPrefix + "/openapi.yaml",
		Path:    strings.TrimLeft(a.docsPrefix, "/") + "/redoc",
	}, nil))

	r.Group(func(r chi.Router) {
		r.Use(SecurityHeaders)
		r.Use(RequestID)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", a.Login)
			r.Post("/logout", a.Logout)
			r.Get("/me", a.Me)
			r.Post("/refresh", a.Refresh)
			r.Get("/token", a.SocketToken)
			r.Get("/session", a.SessionStatus)
			r.Post("/password-reset/confirm", a.PasswordResetConfirm)
		})

		r.Route("/proxy", func(r chi.Router) {
			r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			})
			for _, method := range proxyMethods {
				r.Method(method, "/*", http.HandlerFunc(a.Proxy))
			}
		})

		r.Get("/work-orders/{id}/ticket", a.Ticket)
	})

	return r
}

// RunMaintenance prunes limiter state and expired ledger records until ctx
// is done.
func (a *API) RunMaintenance(ctx context.Context) {
	go a.ledger.RunJanitor(ctx, a.logger)

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.userLimiter.sweep()
			a.ipLimiter.sweep()
		}
	}
}
