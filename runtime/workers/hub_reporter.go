package workers

import (
	"chat-relay/runtime"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

type hubStats interface {
	Stats() runtime.HubStats
}

// HubReporterWorker periodically logs the hub occupancy along with the
// resources used by the relay process.
type HubReporterWorker struct {
	log      *slog.Logger
	hub      hubStats
	interval time.Duration
	process  *process.Process
}

func NewHubReporterWorker(log *slog.Logger, hub hubStats, interval time.Duration) *HubReporterWorker {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("Process metrics unavailable", "error", err)
	}
	return &HubReporterWorker{log: log, hub: hub, interval: interval, process: p}
}

func (w *HubReporterWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping hub reporter")
			return nil
		case <-ticker.C:
			w.report()
		}
	}
}

func (w *HubReporterWorker) report() {
	stats := w.hub.Stats()
	attrs := []any{"rooms", stats.Rooms, "sessions", stats.Sessions}

	if w.process != nil {
		if cpu, err := w.process.CPUPercent(); err == nil {
			attrs = append(attrs, "cpu_percent", cpu)
		} else {
			w.log.Debug("Error while finding process cpu usage", "error", err)
		}
		if mem, err := w.process.MemoryInfo(); err == nil {
			attrs = append(attrs, "rss_mb", mem.RSS/1024/1024)
		} else {
			w.log.Debug("Error while finding process memory usage", "error", err)
		}
	}
	w.log.Info("Hub report", attrs...)
}
