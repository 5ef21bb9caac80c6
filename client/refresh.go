package client

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRefreshInterval keeps a one-hour access token comfortably alive.
const DefaultRefreshInterval = 50 * time.Second

// Refresher is anything that can renew a session.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefreshLoop calls Refresh every interval until ctx is done. Failures are
// logged at debug level and otherwise ignored; the next tick tries again.
type RefreshLoop struct {
	r        Refresher
	interval time.Duration
	logger   *slog.Logger
}

// RefreshOption configures a RefreshLoop.
type RefreshOption func(*RefreshLoop)

// WithInterval overrides DefaultRefreshInterval.
func WithInterval(d time.Duration) RefreshOption {
	return func(l *RefreshLoop) {
		if d > 0 {
			l.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) RefreshOption {
	return func(l *RefreshLoop) {
		l.logger = logger
	}
}

func NewRefreshLoop(r Refresher, opts ...RefreshOption) *RefreshLoop {
	l := &RefreshLoop{r: r, interval: DefaultRefreshInterval, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run blocks until ctx is done. The first refresh happens one interval
// after Run starts.
func (l *RefreshLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.r.Refresh(ctx); err != nil && ctx.Err() == nil {
				l.logger.Debug("background session refresh failed", "error", err)
			}
		}
	}
}
