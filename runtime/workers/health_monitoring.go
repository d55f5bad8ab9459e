package workers

import (
	"chat-relay/contract"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

var _ contract.Worker = (*HealthMonitoringWorker)(nil)

// HealthMonitoringWorker periodically logs the relay gauges next to the
// resource usage of the server process.
type HealthMonitoringWorker struct {
	log            *slog.Logger
	stats          contract.Stats
	metricInterval time.Duration
	pid            int32
}

func NewHealthMonitoringWorker(log *slog.Logger, stats contract.Stats, metricInterval time.Duration) *HealthMonitoringWorker {
	return &HealthMonitoringWorker{
		log:            log,
		stats:          stats,
		metricInterval: metricInterval,
		pid:            int32(os.Getpid()),
	}
}

func (w *HealthMonitoringWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(w.pid)
	if err != nil {
		w.log.Warn("Process stats unavailable", "pid", w.pid, "err", err)
	}
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health monitoring")
			return nil
		case <-ticker.C:
			w.report(p)
		}
	}
}

func (w *HealthMonitoringWorker) report(p *process.Process) {
	attrs := []any{
		"sessions", w.stats.Sessions(),
		"history", w.stats.HistoryLen(),
		"queue", w.stats.QueueDepth(),
		"dropped", w.stats.Dropped(),
	}
	if p != nil {
		if cpu, err := p.CPUPercent(); err == nil {
			attrs = append(attrs, "cpu", cpu)
		} else {
			w.log.Debug("Error while finding process cpu usage", "err", err)
		}
		if mem, err := p.MemoryInfo(); err == nil {
			attrs = append(attrs, "rss", mem.RSS)
		} else {
			w.log.Debug("Error while finding process ram usage", "err", err)
		}
	}
	w.log.Info("Relay health", attrs...)
}
