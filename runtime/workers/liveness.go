package workers

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/protocol"
	"context"
	"log/slog"
	"time"
)

var _ contract.Worker = (*LivenessWorker)(nil)

type SweepMode string

const (
	// SweepOldest evaluates only the most stale session on each tick.
	SweepOldest SweepMode = "oldest"
	// SweepAll evaluates every stale session on each tick.
	SweepAll SweepMode = "all"
)

// LivenessWorker probes sessions that stopped talking and evicts the ones
// that do not answer the probe in time.
type LivenessWorker struct {
	log         *slog.Logger
	sessions    contract.SessionTracker
	announcer   contract.Announcer
	sender      contract.Sender
	interval    time.Duration
	threshold   time.Duration
	pingTimeout time.Duration
	mode        SweepMode
	now         func() time.Time
}

func NewLivenessWorker(
	log *slog.Logger,
	sessions contract.SessionTracker,
	announcer contract.Announcer,
	sender contract.Sender,
	interval, threshold, pingTimeout time.Duration,
	mode SweepMode,
) *LivenessWorker {
	return &LivenessWorker{
		log:         log,
		sessions:    sessions,
		announcer:   announcer,
		sender:      sender,
		interval:    interval,
		threshold:   threshold,
		pingTimeout: pingTimeout,
		mode:        mode,
		now:         time.Now,
	}
}

// WithClock replaces the time source; it must agree with the registry's.
func (w *LivenessWorker) WithClock(now func() time.Time) *LivenessWorker {
	w.now = now
	return w
}

func (w *LivenessWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping liveness sweep")
			return nil
		case <-ticker.C:
			w.Tick(w.now())
		}
	}
}

// Tick runs one sweep as of now and returns how many sessions it evicted.
func (w *LivenessWorker) Tick(now time.Time) int {
	stale := w.sessions.Stale(w.threshold)
	if len(stale) == 0 {
		return 0
	}
	if w.mode != SweepAll {
		stale = stale[:1]
	}

	evicted := 0
	for _, s := range stale {
		switch {
		case !s.PingPending:
			w.probe(s)
		case now.Sub(s.PingSentAt) >= w.pingTimeout:
			if w.evict(s) {
				evicted++
			}
		}
	}
	return evicted
}

func (w *LivenessWorker) probe(s domain.Session) {
	if _, ok := w.sessions.MarkPinged(s.Handle); !ok {
		return
	}
	w.log.Debug("Probing idle session", "name", s.Name, "address", s.Address, "idle", s.Staleness(w.now()))
	if err := w.sender.Send(s.Address, protocol.Ping); err != nil {
		w.log.Warn("Ping send failed", "address", s.Address, "error", err)
	}
}

// evict removes s only if it still carries the probe observed during the scan.
func (w *LivenessWorker) evict(s domain.Session) bool {
	removed, ok := w.sessions.EvictUnanswered(s.Handle, s.PingSentAt)
	if !ok {
		return false
	}
	w.log.Info("Evicting unresponsive session", "session", removed.ID, "name", removed.Name, "address", removed.Address)
	w.announcer.BroadcastAll(protocol.System("%s has been removed from the chat (inactive)", removed.Name), nil)
	return true
}
