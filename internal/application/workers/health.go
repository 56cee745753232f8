package workers

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultHealthInterval = 30 * time.Second

// HealthMonitor samples the pool on an interval, exports the counts as
// metrics and warns about stopped workers, a full queue and long runs
type HealthMonitor struct {
	pool       *Pool
	interval   time.Duration
	slowRunAge time.Duration
	logger     *zap.Logger
}

// HealthStatus is a snapshot of the worker pool
type HealthStatus struct {
	TotalWorkers   int           `json:"total_workers"`
	IdleWorkers    int           `json:"idle_workers"`
	BusyWorkers    int           `json:"busy_workers"`
	StoppedWorkers int           `json:"stopped_workers"`
	QueueDepth     int           `json:"queue_depth"`
	QueueCapacity  int           `json:"queue_capacity"`
	LongestRun     time.Duration `json:"longest_run"`
	Healthy        bool          `json:"healthy"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Saturated reports whether new messages would block the event bus reader
func (s *HealthStatus) Saturated() bool {
	return s.QueueCapacity > 0 && s.QueueDepth >= s.QueueCapacity
}

// NewHealthMonitor creates a monitor for pool. A run still in progress
// after four intervals is reported as slow.
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthMonitor{
		pool:       pool,
		interval:   interval,
		slowRunAge: 4 * interval,
		logger:     logger.Named("workers.health"),
	}
}

// run samples the pool until ctx is done
func (h *HealthMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.check()
		}
	}
}

func (h *HealthMonitor) check() {
	status := h.GetStatus()

	h.pool.metrics.RecordWorkerPoolStatus(status.IdleWorkers, status.BusyWorkers, status.StoppedWorkers)

	h.logger.Debug("worker pool sampled",
		zap.Int("idle", status.IdleWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("stopped", status.StoppedWorkers),
		zap.Int("queue_depth", status.QueueDepth))

	if status.StoppedWorkers > 0 {
		h.logger.Warn("worker pool has stopped workers",
			zap.Int("stopped", status.StoppedWorkers),
			zap.Int("total", status.TotalWorkers))
	}
	if status.Saturated() {
		h.logger.Warn("message queue is full, stream reads are blocked",
			zap.Int("queue_capacity", status.QueueCapacity))
	}
	if status.LongestRun > h.slowRunAge {
		h.logger.Warn("invocation is taking unusually long",
			zap.Duration("running_for", status.LongestRun))
	}
}

// GetStatus returns the current snapshot. A pool is healthy while it has
// workers and none has stopped; saturation is reported but not unhealthy.
func (h *HealthMonitor) GetStatus() *HealthStatus {
	now := time.Now()
	status := &HealthStatus{
		QueueDepth:    h.pool.QueueDepth(),
		QueueCapacity: cap(h.pool.queue),
		Timestamp:     now,
	}

	for _, w := range h.pool.workers {
		if w == nil {
			continue
		}
		state, since := w.snapshot()
		switch state {
		case WorkerStatusIdle:
			status.IdleWorkers++
		case WorkerStatusBusy:
			status.BusyWorkers++
			if d := now.Sub(since); d > status.LongestRun {
				status.LongestRun = d
			}
		case WorkerStatusStopped:
			status.StoppedWorkers++
		}
	}

	status.TotalWorkers = status.IdleWorkers + status.BusyWorkers + status.StoppedWorkers
	status.Healthy = status.TotalWorkers > 0 && status.StoppedWorkers == 0
	return status
}

// IsHealthy returns true if the worker pool is healthy
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}

// Details returns the snapshot for health endpoints
func (h *HealthMonitor) Details() interface{} {
	return h.GetStatus()
}
