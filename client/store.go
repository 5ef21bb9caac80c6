package client

import (
	"context"
	"sync"

	"github.com/pgf-fleet/pgfgate/role"
)

// State is where a Store is in its lifecycle.
type State int

const (
	// Unknown: nothing has been asked yet.
	Unknown State = iota
	// Loading: a Me() call is in flight.
	Loading
	Authenticated
	Anonymous
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	default:
		return "invalid"
	}
}

// Gateway is the part of Client a Store needs.
type Gateway interface {
	Me(ctx context.Context) (*UserProfile, error)
	Logout(ctx context.Context) error
}

// Snapshot is a consistent view of a Store.
type Snapshot struct {
	State State
	User  *UserProfile
}

// Store holds the signed-in user and notifies subscribers on every change.
// Each Store is independent; tests build a fresh one.
type Store struct {
	gw Gateway

	mu    sync.RWMutex
	state State
	user  *UserProfile
	subs  map[int]func(Snapshot)
	next  int
}

// NewStore returns a Store in the Unknown state.
func NewStore(gw Gateway) *Store {
	return &Store{gw: gw, subs: make(map[int]func(Snapshot))}
}

// SetUser replaces the user. nil means signed out.
func (s *Store) SetUser(u *UserProfile) {
	if u == nil {
		s.transition(Anonymous, nil)
		return
	}
	cp := *u
	s.transition(Authenticated, &cp)
}

// User returns a copy of the current user, or nil.
func (s *Store) User() *UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	cp := *s.user
	return &cp
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns state and user together.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) IsLogged() bool {
	return s.State() == Authenticated
}

// HasRole reports whether the user holds one of roles.
func (s *Store) HasRole(roles ...role.Role) bool {
	u := s.User()
	return u != nil && u.Role.In(roles...)
}

// Allowed reports whether the user's role may see section. Always false
// when nobody is signed in.
func (s *Store) Allowed(section string) bool {
	u := s.User()
	return u != nil && u.Role.Allows(section)
}

// RefreshMe asks the gateway who is signed in. Any failure, not only a
// 401, leaves the store Anonymous. Concurrent calls race and the last one
// to finish wins.
func (s *Store) RefreshMe(ctx context.Context) error {
	s.transition(Loading, s.User())
	u, err := s.gw.Me(ctx)
	if err != nil {
		s.SetUser(nil)
		return err
	}
	s.SetUser(u)
	return nil
}

// Logout signs out at the gateway and clears the user whatever the
// gateway answered.
func (s *Store) Logout(ctx context.Context) error {
	err := s.gw.Logout(ctx)
	s.SetUser(nil)
	return err
}

// Subscribe registers fn for every transition and returns a function that
// removes it. fn runs on the goroutine that caused the change and must not
// block.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) transition(state State, u *UserProfile) {
	s.mu.Lock()
	s.state = state
	s.user = u
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{State: s.state}
	if s.user != nil {
		cp := *s.user
		snap.User = &cp
	}
	return snap
}
