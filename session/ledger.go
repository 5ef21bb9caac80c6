package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultAccessTTL applies when the access token carries no exp claim.
	DefaultAccessTTL = time.Hour
	// DefaultRefreshTTL matches the refresh cookie lifetime.
	DefaultRefreshTTL = 7 * 24 * time.Hour

	defaultSweepInterval = 5 * time.Minute
)

// Ledger keeps one Record per live access token, plus one per refresh
// token holding its refresh window.
type Ledger struct {
	store      Store
	keyer      *Keyer
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithTTLs overrides the fallback access and refresh lifetimes.
func WithTTLs(access, refresh time.Duration) LedgerOption {
	return func(l *Ledger) {
		l.accessTTL = access
		l.refreshTTL = refresh
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

func NewLedger(store Store, keyer *Keyer, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:      store,
		keyer:      keyer,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Issue records a freshly logged-in session. refresh may be empty when the
// upstream did not hand out a refresh token.
func (l *Ledger) Issue(ctx context.Context, access, refresh string) (Record, error) {
	rec := l.recordFor(access)
	if refresh != "" {
		rec.RefreshIssuedAt = rec.IssuedAt
		rec.RefreshExpiresAt = rec.IssuedAt.Add(l.refreshTTL)
	}
	if err := l.put(ctx, access, rec); err != nil {
		return rec, err
	}
	return rec, l.putRefreshWindow(ctx, refresh, rec)
}

// Rotate replaces the record of oldAccess with one for newAccess. The
// refresh window carries over unless newRefresh is set, meaning upstream
// rotated the refresh token as well. When the old access record is gone
// (its token already expired) the window is found through oldRefresh.
func (l *Ledger) Rotate(ctx context.Context, oldAccess, oldRefresh, newAccess, newRefresh string) (Record, error) {
	rec := l.recordFor(newAccess)
	var (
		prev  Record
		found bool
	)
	if oldAccess != "" {
		prev, found = l.Lookup(ctx, oldAccess)
		if err := l.Revoke(ctx, oldAccess); err != nil {
			return Record{}, err
		}
	}
	if !found && oldRefresh != "" {
		prev, found = l.Lookup(ctx, oldRefresh)
	}
	if found {
		rec.RefreshIssuedAt = prev.RefreshIssuedAt
		rec.RefreshExpiresAt = prev.RefreshExpiresAt
		rec.Refreshes = prev.Refreshes + 1
		if rec.Subject == "" {
			rec.Subject = prev.Subject
		}
	}

	refresh := oldRefresh
	if newRefresh != "" {
		rec.RefreshIssuedAt = rec.IssuedAt
		rec.RefreshExpiresAt = rec.IssuedAt.Add(l.refreshTTL)
		if oldRefresh != "" && oldRefresh != newRefresh {
			if err := l.Revoke(ctx, oldRefresh); err != nil {
				return Record{}, err
			}
		}
		refresh = newRefresh
	}
	if err := l.put(ctx, newAccess, rec); err != nil {
		return rec, err
	}
	return rec, l.putRefreshWindow(ctx, refresh, rec)
}

// Lookup returns the record for access, if one is live.
func (l *Ledger) Lookup(ctx context.Context, access string) (Record, bool) {
	key, err := l.keyer.Key(access)
	if err != nil {
		return Record{}, false
	}
	return l.store.Get(ctx, key)
}

// Describe returns the ledger record for access or, when the ledger has
// none (gateway restarted, token minted elsewhere), one rebuilt from the
// token's own claims. The bool reports whether the ledger knew the token.
func (l *Ledger) Describe(ctx context.Context, access string) (Record, bool) {
	if rec, ok := l.Lookup(ctx, access); ok {
		return rec, true
	}
	rec := Record{IssuedAt: l.now()}
	if c, err := ReadClaims(access); err == nil {
		rec.Subject = c.Subject
		if !c.IssuedAt.IsZero() {
			rec.IssuedAt = c.IssuedAt
		}
		rec.ExpiresAt = c.ExpiresAt
	}
	return rec, false
}

// Revoke forgets token, an access token or a refresh token. Unknown tokens
// are ignored.
func (l *Ledger) Revoke(ctx context.Context, token string) error {
	key, err := l.keyer.Key(token)
	if err != nil {
		return err
	}
	if err := l.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("revoking session record: %w", err)
	}
	return nil
}

// RunJanitor sweeps expired records until ctx is done. It returns
// immediately when the store expires records on its own.
func (l *Ledger) RunJanitor(ctx context.Context, logger *slog.Logger) {
	sweeper, ok := l.store.(Sweeper)
	if !ok {
		return
	}
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sweeper.Sweep(l.now()); n > 0 {
				logger.Debug("swept expired session records", slog.Int("count", n))
			}
		}
	}
}

func (l *Ledger) recordFor(access string) Record {
	now := l.now()
	rec := Record{IssuedAt: now, ExpiresAt: now.Add(l.accessTTL)}
	if c, err := ReadClaims(access); err == nil {
		rec.Subject = c.Subject
		if !c.ExpiresAt.IsZero() {
			rec.ExpiresAt = c.ExpiresAt
		}
	}
	return rec
}

// putRefreshWindow keeps the refresh window under the refresh token's own
// key, living as long as the window does.
func (l *Ledger) putRefreshWindow(ctx context.Context, refresh string, rec Record) error {
	if refresh == "" || rec.RefreshExpiresAt.IsZero() {
		return nil
	}
	return l.put(ctx, refresh, Record{
		Subject:          rec.Subject,
		IssuedAt:         rec.RefreshIssuedAt,
		ExpiresAt:        rec.RefreshExpiresAt,
		RefreshIssuedAt:  rec.RefreshIssuedAt,
		RefreshExpiresAt: rec.RefreshExpiresAt,
		Refreshes:        rec.Refreshes,
	})
}

func (l *Ledger) put(ctx context.Context, access string, rec Record) error {
	key, err := l.keyer.Key(access)
	if err != nil {
		return err
	}
	if err := l.store.Put(ctx, key, rec); err != nil {
		return fmt.Errorf("storing session record: %w", err)
	}
	return nil
}
