// Package session records when each gateway session was issued and when it
// expires, so expiry is something the gateway can answer rather than infer
// from an upstream 401.
package session

import (
	"context"
	"time"
)

// Store abstracts record CRUD so the ledger can live in memory (default),
// in a bbolt file, or in Redis when several gateways share sessions.
type Store interface {
	// Get returns the record stored under key. Returns false when the key is
	// unknown or the record has expired.
	Get(ctx context.Context, key string) (Record, bool)
	// Put creates or replaces the record under key.
	Put(ctx context.Context, key string, rec Record) error
	// Delete removes key. Deleting an unknown key is not an error.
	Delete(ctx context.Context, key string) error
}

// Sweeper is implemented by stores that need expired records removed
// periodically. Stores with native expiry (Redis) do not implement it.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Record is the server-side view of one access token.
type Record struct {
	Subject          string    `json:"subject,omitempty"`
	IssuedAt         time.Time `json:"issued_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshIssuedAt  time.Time `json:"refresh_issued_at,omitzero"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitzero"`
	Refreshes        int       `json:"refreshes"`
}

// TTL is the lifetime the access token was issued with.
func (r Record) TTL() time.Duration {
	return r.ExpiresAt.Sub(r.IssuedAt)
}

// ExpiresIn is the time left before the access token expires, never negative.
func (r Record) ExpiresIn(now time.Time) time.Duration {
	d := r.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Expired reports whether the access token is past its expiry.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ShouldRefresh reports whether less than margin is left on the access token.
func (r Record) ShouldRefresh(now time.Time, margin time.Duration) bool {
	return r.ExpiresIn(now) <= margin
}
