//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"context"
	"net/netip"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Sender writes one response line to one address.
// Implementations must be safe for concurrent use.
type Sender interface {
	Send(to netip.AddrPort, line string) error
}

// Dispatcher handles one inbound datagram to completion.
type Dispatcher interface {
	Handle(ctx context.Context, datagram domain.Datagram)
}

// Submitter accepts inbound datagrams without blocking the receive loop.
type Submitter interface {
	Submit(datagram domain.Datagram) bool
}

// SessionTracker is the view of the registry the liveness monitor works on.
type SessionTracker interface {
	Stale(threshold time.Duration) []domain.Session
	MarkPinged(h domain.Handle) (time.Time, bool)
	EvictUnanswered(h domain.Handle, pingSentAt time.Time) (domain.Session, bool)
}

// Announcer fans a server notice out to every session except exclude, when given.
type Announcer interface {
	BroadcastAll(line string, exclude *domain.Handle) int
}

// Stats exposes the relay gauges reported by the health monitor.
type Stats interface {
	Sessions() int
	HistoryLen() int
	QueueDepth() int
	Dropped() uint64
}
