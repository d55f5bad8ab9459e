package mocks

import (
	"net/netip"
	"sync"
)

// RecordingSender is a contract.Sender that keeps every line per address.
// Addresses listed in Failing get an error instead of a delivery.
type RecordingSender struct {
	mu      sync.Mutex
	lines   map[netip.AddrPort][]string
	Failing map[netip.AddrPort]error
}

func NewRecordingSender() *RecordingSender {
	return &RecordingSender{
		lines:   make(map[netip.AddrPort][]string),
		Failing: make(map[netip.AddrPort]error),
	}
}

func (r *RecordingSender) Send(to netip.AddrPort, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.Failing[to]; ok {
		return err
	}
	r.lines[to] = append(r.lines[to], line)
	return nil
}

// Lines returns what address received so far, in send order.
func (r *RecordingSender) Lines(address netip.AddrPort) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines[address]...)
}

// Drain returns what address received so far and forgets it.
func (r *RecordingSender) Drain(address netip.AddrPort) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := r.lines[address]
	delete(r.lines, address)
	return lines
}

// Reset forgets every recorded line.
func (r *RecordingSender) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = make(map[netip.AddrPort][]string)
}
