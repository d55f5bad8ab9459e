package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"log/slog"
	"net/netip"

	"github.com/samber/lo"
)

// Broadcaster fans a line out to registered sessions and records it in the history.
//
// Recipients are selected and the line is appended to the history while the
// registry read lock is held, so the history order matches the order in
// which fan-outs observed the membership. Sends happen after the lock is
// released; a failing recipient never stops delivery to the others.
type Broadcaster struct {
	log      *slog.Logger
	registry *Registry
	history  *History
	sender   contract.Sender
}

func NewBroadcaster(log *slog.Logger, registry *Registry, history *History, sender contract.Sender) *Broadcaster {
	return &Broadcaster{log: log, registry: registry, history: history, sender: sender}
}

// BroadcastAll sends line to every session except exclude, when given.
func (b *Broadcaster) BroadcastAll(line string, exclude *domain.Handle) int {
	var targets []netip.AddrPort
	b.registry.WithMembers(func(members []domain.Session) {
		b.history.Append(line)
		targets = lo.FilterMap(members, func(s domain.Session, _ int) (netip.AddrPort, bool) {
			return s.Address, exclude == nil || s.Handle != *exclude
		})
	})
	return b.deliver(targets, line)
}

// BroadcastFrom sends line to every session except the sender and the
// sessions that muted the sender's current name. Nothing is sent or recorded
// when the sender is no longer registered.
func (b *Broadcaster) BroadcastFrom(line string, sender domain.Handle) int {
	var targets []netip.AddrPort
	b.registry.WithMembers(func(members []domain.Session) {
		author, ok := lo.Find(members, func(s domain.Session) bool { return s.Handle == sender })
		if !ok {
			return
		}
		b.history.Append(line)
		targets = lo.FilterMap(members, func(s domain.Session, _ int) (netip.AddrPort, bool) {
			return s.Address, s.Handle != sender && !lo.Contains(s.Muted, author.Name)
		})
	})
	return b.deliver(targets, line)
}

func (b *Broadcaster) deliver(targets []netip.AddrPort, line string) int {
	delivered := 0
	for _, address := range targets {
		if err := b.sender.Send(address, line); err != nil {
			b.log.Warn("Broadcast send failed", "address", address, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}
