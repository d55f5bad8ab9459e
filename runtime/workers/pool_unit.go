package workers

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"context"
	"log/slog"
)

var _ contract.Worker = (*PoolUnitWorker)(nil)

// PoolUnitWorker takes datagrams off the shared queue and hands each one to
// the dispatcher. A panic while handling one datagram is logged and does not
// take the worker down.
type PoolUnitWorker struct {
	id         int
	datagrams  <-chan domain.Datagram
	dispatcher contract.Dispatcher
	log        *slog.Logger
}

func NewPoolUnitWorker(
	id int,
	datagrams <-chan domain.Datagram,
	dispatcher contract.Dispatcher,
	log *slog.Logger) *PoolUnitWorker {
	return &PoolUnitWorker{
		id:         id,
		datagrams:  datagrams,
		dispatcher: dispatcher,
		log:        log,
	}
}

func (w *PoolUnitWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping worker", "worker", w.id)
			return ctx.Err()
		case datagram, ok := <-w.datagrams:
			if !ok {
				w.log.Debug("Channel is closed", "worker", w.id)
				return nil
			}
			w.handle(ctx, datagram)
		}
	}
}

func (w *PoolUnitWorker) handle(ctx context.Context, datagram domain.Datagram) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Datagram handling panicked", "worker", w.id, "address", datagram.From, "panic", r)
		}
	}()
	w.dispatcher.Handle(ctx, datagram)
}
