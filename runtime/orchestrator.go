// Package runtime owns the shared state of the relay (registry, history,
// broadcaster) and the orchestration of the workers that operate on it.
// It holds no protocol decisions: those live in the services package.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/moderation"
	"chat-relay/runtime/workers"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	_ contract.Submitter = (*Orchestrator)(nil)
	_ contract.Stats     = (*Orchestrator)(nil)
)

// LivenessSettings configures the liveness monitor started by the orchestrator.
type LivenessSettings struct {
	Interval    time.Duration
	Threshold   time.Duration
	PingTimeout time.Duration
	Sweep       workers.SweepMode
}

// Orchestrator owns the bounded datagram queue and registers the pool,
// liveness and health workers with the supervisor.
type Orchestrator struct {
	mu             sync.Mutex
	log            *slog.Logger
	numWorkers     int
	supervisor     contract.ISupervisor
	registry       *Registry
	history        *History
	broadcaster    *Broadcaster
	sender         contract.Sender
	dispatcher     contract.Dispatcher
	datagrams      chan domain.Datagram
	dropped        atomic.Uint64
	liveness       LivenessSettings
	metricInterval time.Duration
}

func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor,
	registry *Registry, history *History, broadcaster *Broadcaster,
	sender contract.Sender, dispatcher contract.Dispatcher,
	numWorkers, queueSize int, liveness LivenessSettings, metricInterval time.Duration) *Orchestrator {
	return &Orchestrator{
		log:            log,
		numWorkers:     numWorkers,
		supervisor:     supervisor,
		registry:       registry,
		history:        history,
		broadcaster:    broadcaster,
		sender:         sender,
		dispatcher:     dispatcher,
		datagrams:      make(chan domain.Datagram, queueSize),
		liveness:       liveness,
		metricInterval: metricInterval,
	}
}

// Submit queues a datagram for the worker pool without blocking.
// When the queue is full the datagram is dropped and counted.
func (o *Orchestrator) Submit(datagram domain.Datagram) bool {
	select {
	case o.datagrams <- datagram:
		return true
	default:
		dropped := o.dropped.Add(1)
		o.log.Warn("Datagram queue full, dropping datagram", "address", datagram.From, "dropped", dropped)
		return false
	}
}

// Start registers every worker with the supervisor and runs it until ctx is
// canceled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	poolWorkers := o.preparePoolWorkers()
	liveness := workers.NewLivenessWorker(o.log, o.registry, o.broadcaster, o.sender,
		o.liveness.Interval, o.liveness.Threshold, o.liveness.PingTimeout, o.liveness.Sweep).
		WithClock(o.registry.now)
	health := workers.NewHealthMonitoringWorker(o.log, o, o.metricInterval)

	o.mu.Lock()
	o.supervisor.Add(poolWorkers...)
	o.supervisor.Add(liveness, health)
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers",
		"workers", o.numWorkers, "queue", cap(o.datagrams), "sweep", o.liveness.Sweep)
	o.supervisor.Run(ctx)
}

func (o *Orchestrator) preparePoolWorkers() []contract.Worker {
	var res []contract.Worker
	for i := 0; i < o.numWorkers; i++ {
		res = append(res, workers.NewPoolUnitWorker(i, o.datagrams, o.dispatcher, o.log))
	}
	return res
}

// Stop cancels the supervised workers. Queued datagrams that were not picked
// up yet are discarded.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
}

// Sessions reports the number of registered clients.
func (o *Orchestrator) Sessions() int { return o.registry.Len() }

// HistoryLen reports how many broadcast lines the history currently holds.
func (o *Orchestrator) HistoryLen() int { return o.history.Len() }

// QueueDepth reports how many datagrams are waiting for a pool worker.
// The value is a snapshot and may change as soon as it is read.
func (o *Orchestrator) QueueDepth() int { return len(o.datagrams) }

// Dropped reports how many datagrams Submit discarded because the queue was
// full since the orchestrator was created.
func (o *Orchestrator) Dropped() uint64 { return o.dropped.Load() }

// LoadModerator builds a moderator from the embedded dictionaries.
func LoadModerator(log *slog.Logger, charReplacement rune) (*moderation.Moderator, error) {
	data, err := NewEmbeddedCensoredLoader().LoadAll("censored")
	if err != nil {
		return nil, err
	}

	log.Info(fmt.Sprintf("%d censored files loaded [%s]",
		len(data.Languages), strings.Join(data.Languages, ",")))
	log.Info(fmt.Sprintf("%d unique censored words loaded", len(data.Words)))

	mod, err := moderation.NewModerator(data.Words, charReplacement, log)
	if err != nil {
		return nil, err
	}
	return mod.WithLanguages(data.Languages...), nil
}
