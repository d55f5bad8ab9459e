// Package domain contains core concepts of the chat relay.
// This file defines Session snapshots and the handles used to refer to them.
// No runtime, network, or locking logic should be added here.
package domain

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// Handle is an opaque reference to one registered session.
// The generation is stamped at registration and never reused, so a handle
// held past the session's removal can never resolve to a newer session that
// happens to reuse the same address.
type Handle struct {
	address    netip.AddrPort
	generation uint64
}

func NewHandle(address netip.AddrPort, generation uint64) Handle {
	return Handle{address: address, generation: generation}
}

func (h Handle) Address() netip.AddrPort { return h.address }

func (h Handle) Generation() uint64 { return h.generation }

func (h Handle) IsZero() bool { return h.generation == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("%s#%d", h.address, h.generation)
}

// Session is a read-only copy of a registry record.
// Mutating a Session never affects the registry.
type Session struct {
	ID           uuid.UUID
	Handle       Handle
	Address      netip.AddrPort
	Name         string
	Muted        []string
	LastActiveAt time.Time
	PingPending  bool
	PingSentAt   time.Time
}

// Staleness is the time elapsed since the last datagram attributed to the session.
func (s Session) Staleness(now time.Time) time.Duration {
	return now.Sub(s.LastActiveAt)
}
