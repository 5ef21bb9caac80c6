package client

import (
	"context"
	"net/url"

	"github.com/pgf-fleet/pgfgate/role"
)

// Verdict is the outcome of a route guard.
type Verdict int

const (
	Allow Verdict = iota
	// Redirect: nobody is signed in; go to Decision.Location.
	Redirect
	// Forbidden: signed in, but the role is not in the allowed set.
	Forbidden
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case Forbidden:
		return "forbidden"
	default:
		return "invalid"
	}
}

// Decision says what to do with a navigation to a guarded path.
type Decision struct {
	Verdict  Verdict
	Location string
}

// LoginPath is where anonymous users are sent.
const LoginPath = "/login"

// Guard decides whether the current user may open path. With no roles any
// signed-in user is allowed. A store without a user asks the gateway
// first, unless a fetch is already in flight.
func (s *Store) Guard(ctx context.Context, path string, roles ...role.Role) Decision {
	if snap := s.Snapshot(); snap.User == nil && snap.State != Loading {
		s.RefreshMe(ctx)
	}
	u := s.User()
	if u == nil {
		return Decision{Verdict: Redirect, Location: LoginPath + "?next=" + url.QueryEscape(path)}
	}
	if len(roles) > 0 && !u.Role.In(roles...) {
		return Decision{Verdict: Forbidden}
	}
	return Decision{Verdict: Allow}
}
