package runtime

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"cmp"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// session is the mutable record owned by the Registry.
// It never leaves the registry: callers only ever see domain.Session copies.
type session struct {
	id           uuid.UUID
	generation   uint64
	address      netip.AddrPort
	name         string
	muted        []string
	lastActiveAt time.Time
	pingPending  bool
	pingSentAt   time.Time
}

func (s *session) handle() domain.Handle {
	return domain.NewHandle(s.address, s.generation)
}

func (s *session) touch(now time.Time) {
	s.lastActiveAt = now
	s.pingPending = false
	s.pingSentAt = time.Time{}
}

func (s *session) snapshot() domain.Session {
	return domain.Session{
		ID:           s.id,
		Handle:       s.handle(),
		Address:      s.address,
		Name:         s.name,
		Muted:        slices.Clone(s.muted),
		LastActiveAt: s.lastActiveAt,
		PingPending:  s.pingPending,
		PingSentAt:   s.pingSentAt,
	}
}

// ConnectResult describes what Connect did.
// Existing is true when the address was already registered and the call was
// an identity update; Previous then holds the name before the update.
// ID is the session's identifier, stable across identity updates.
type ConnectResult struct {
	ID       uuid.UUID
	Handle   domain.Handle
	Previous string
	Existing bool
}

// Renamed reports whether an identity update changed the display name.
func (c ConnectResult) Renamed(name string) bool {
	return c.Existing && c.Previous != name
}

// Registry owns every session of the relay.
// Lookups and fan-out take the read lock; any structural or field mutation
// takes the write lock, and every name uniqueness check happens in the same
// critical section as the mutation it guards.
type Registry struct {
	mu         sync.RWMutex
	byAddress  map[netip.AddrPort]*session
	byName     map[string]*session
	generation uint64
	maxClients int
	maxMutes   int
	now        func() time.Time
}

func NewRegistry(maxClients, maxMutes int) *Registry {
	return &Registry{
		byAddress:  make(map[netip.AddrPort]*session),
		byName:     make(map[string]*session),
		maxClients: maxClients,
		maxMutes:   maxMutes,
		now:        time.Now,
	}
}

// WithClock replaces the time source used for activity and probe timestamps.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Connect registers name at address.
// If a session already exists at address this is an identity update: the
// session is renamed in place (a no-op when the name is unchanged) instead of
// a second session being created.
func (r *Registry) Connect(name string, address netip.AddrPort) (ConnectResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.byAddress[address]; ok {
		previous := existing.name
		if previous != name {
			if _, taken := r.byName[name]; taken {
				return ConnectResult{}, errors.ErrNameConflict
			}
			delete(r.byName, previous)
			existing.name = name
			r.byName[name] = existing
		}
		existing.touch(now)
		return ConnectResult{ID: existing.id, Handle: existing.handle(), Previous: previous, Existing: true}, nil
	}

	if _, taken := r.byName[name]; taken {
		return ConnectResult{}, errors.ErrNameConflict
	}
	if len(r.byAddress) >= r.maxClients {
		return ConnectResult{}, errors.ErrRegistryFull
	}

	r.generation++
	s := &session{
		id:           uuid.New(),
		generation:   r.generation,
		address:      address,
		name:         name,
		lastActiveAt: now,
	}
	r.byAddress[address] = s
	r.byName[name] = s
	return ConnectResult{ID: s.id, Handle: s.handle()}, nil
}

// FindByAddress returns the handle of the session registered at address.
// The handle is a snapshot: it stops resolving as soon as that session is
// removed, even if a new session later takes the same address.
func (r *Registry) FindByAddress(address netip.AddrPort) (domain.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byAddress[address]
	if !ok {
		return domain.Handle{}, false
	}
	return s.handle(), true
}

// FindByName returns the handle of the session currently using name.
// Names are compared exactly; a removed or renamed session is no longer found.
func (r *Registry) FindByName(name string) (domain.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	if !ok {
		return domain.Handle{}, false
	}
	return s.handle(), true
}

// Get returns a copy of the session behind h, if h is still live.
func (r *Registry) Get(h domain.Handle) (domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.resolve(h)
	if !ok {
		return domain.Session{}, false
	}
	return s.snapshot(), true
}

// Rename changes the display name of h and returns the previous one.
// A name held by any active session, the caller included, is rejected.
func (r *Registry) Rename(h domain.Handle, newName string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.resolve(h)
	if !ok {
		return "", errors.ErrSessionGone
	}
	if _, taken := r.byName[newName]; taken {
		return "", errors.ErrNameConflict
	}
	previous := s.name
	delete(r.byName, previous)
	s.name = newName
	r.byName[newName] = s
	s.touch(r.now())
	return previous, nil
}

// Remove deletes the session behind h.
// For any handle, at most one caller ever observes true.
func (r *Registry) Remove(h domain.Handle) (domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.resolve(h)
	if !ok {
		return domain.Session{}, false
	}
	r.delete(s)
	return s.snapshot(), true
}

// EvictUnanswered removes the session behind h only if it still carries the
// probe sent at pingSentAt, unanswered. A session that was removed, touched or
// re-probed since the caller looked at it is left alone.
func (r *Registry) EvictUnanswered(h domain.Handle, pingSentAt time.Time) (domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.resolve(h)
	if !ok || !s.pingPending || !s.pingSentAt.Equal(pingSentAt) {
		return domain.Session{}, false
	}
	r.delete(s)
	return s.snapshot(), true
}

// AddMute adds target to the mute list of h. Muting an already muted name is a no-op.
func (r *Registry) AddMute(h domain.Handle, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.resolve(h)
	if !ok {
		return errors.ErrSessionGone
	}
	if lo.Contains(s.muted, target) {
		return nil
	}
	if len(s.muted) >= r.maxMutes {
		return errors.ErrMuteListFull
	}
	s.muted = append(s.muted, target)
	return nil
}

// RemoveMute takes target off the mute list of h.
// It returns ErrNotMuted when target was not on the list and ErrSessionGone
// when h no longer resolves.
func (r *Registry) RemoveMute(h domain.Handle, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.resolve(h)
	if !ok {
		return errors.ErrSessionGone
	}
	idx := lo.IndexOf(s.muted, target)
	if idx == -1 {
		return errors.ErrNotMuted
	}
	s.muted = slices.Delete(s.muted, idx, idx+1)
	return nil
}

// Touch records activity for h and clears any outstanding probe.
func (r *Registry) Touch(h domain.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.resolve(h)
	if !ok {
		return false
	}
	s.touch(r.now())
	return true
}

// MarkPinged records a probe for h unless one is already outstanding.
// It returns the probe time and whether a new probe was recorded.
func (r *Registry) MarkPinged(h domain.Handle) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.resolve(h)
	if !ok || s.pingPending {
		return time.Time{}, false
	}
	s.pingPending = true
	s.pingSentAt = r.now()
	return s.pingSentAt, true
}

// Stale returns the sessions idle for at least threshold, most stale first.
// Ties are broken by registration order.
func (r *Registry) Stale(threshold time.Duration) []domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	var stale []domain.Session
	for _, s := range r.byAddress {
		if now.Sub(s.lastActiveAt) >= threshold {
			stale = append(stale, s.snapshot())
		}
	}
	slices.SortFunc(stale, func(a, b domain.Session) int {
		if c := a.LastActiveAt.Compare(b.LastActiveAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Handle.Generation(), b.Handle.Generation())
	})
	return stale
}

// WithMembers runs fn over a copy of every active session while the read lock
// is held, so membership cannot change until fn returns. fn must not call back
// into the registry's mutating operations.
func (r *Registry) WithMembers(fn func(members []domain.Session)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]domain.Session, 0, len(r.byAddress))
	for _, s := range r.byAddress {
		members = append(members, s.snapshot())
	}
	fn(members)
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddress)
}

// resolve must be called with the lock held.
func (r *Registry) resolve(h domain.Handle) (*session, bool) {
	s, ok := r.byAddress[h.Address()]
	if !ok || s.generation != h.Generation() {
		return nil, false
	}
	return s, true
}

// delete must be called with the write lock held.
func (r *Registry) delete(s *session) {
	delete(r.byAddress, s.address)
	if r.byName[s.name] == s {
		delete(r.byName, s.name)
	}
}
