package runtime

import (
	"chat-relay/contract"
	"chat-relay/protocol"
	"log/slog"
	"net/netip"
	"sync"
)

// History keeps the most recent broadcast lines in a fixed size ring.
// It has its own lock, always acquired after the registry lock when both are
// held, never the other way round.
type History struct {
	mu      sync.Mutex
	log     *slog.Logger
	entries []string
	head    int // index of the oldest entry
	size    int
}

func NewHistory(log *slog.Logger, capacity int) *History {
	return &History{log: log, entries: make([]string, capacity)}
}

// Append stores line at the logical tail, overwriting the oldest entry once full.
func (h *History) Append(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := len(h.entries)
	if capacity == 0 {
		return
	}
	if h.size < capacity {
		h.entries[(h.head+h.size)%capacity] = line
		h.size++
		return
	}
	h.entries[h.head] = line
	h.head = (h.head + 1) % capacity
}

// Entries returns the stored lines, oldest first.
func (h *History) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, h.size)
	for i := 0; i < h.size; i++ {
		out = append(out, h.entries[(h.head+i)%len(h.entries)])
	}
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Replay sends every stored line to address, oldest first, marked as historical.
// A failed send is logged and the replay goes on.
func (h *History) Replay(sender contract.Sender, address netip.AddrPort) int {
	sent := 0
	for _, entry := range h.Entries() {
		if err := sender.Send(address, protocol.Historical(entry)); err != nil {
			h.log.Warn("History replay send failed", "address", address, "error", err)
			continue
		}
		sent++
	}
	return sent
}
