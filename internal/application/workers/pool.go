package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/jobrelay/internal/application/orchestrator"
	"github.com/aescanero/jobrelay/pkg/domain"
	"github.com/aescanero/jobrelay/pkg/ports"
	"go.uber.org/zap"
)

// Runner executes one orchestration per inbound message
type Runner interface {
	Run(ctx context.Context, msg domain.Message, opts orchestrator.RunOptions) *domain.Report
}

// Pool consumes the messages topic and runs each message on one of a fixed
// number of worker goroutines
type Pool struct {
	size     int
	eventBus ports.EventBus
	runner   Runner
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	health   *HealthMonitor

	queue   chan domain.Event
	workers []*worker
	wg      sync.WaitGroup

	// ctx scopes the subscription and the health monitor, runCtx the
	// orchestrations themselves
	ctx        context.Context
	cancel     context.CancelFunc
	runCtx     context.Context
	cancelRuns context.CancelFunc

	mu       sync.RWMutex
	stopping bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// worker represents a single worker goroutine
type worker struct {
	id     string
	pool   *Pool
	mu     sync.RWMutex
	status WorkerStatus
	since  time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool. queueSize bounds the number of
// received messages waiting for a worker.
func NewPool(
	size int,
	queueSize int,
	eventBus ports.EventBus,
	runner Runner,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	runCtx, cancelRuns := context.WithCancel(context.Background())

	pool := &Pool{
		size:       size,
		eventBus:   eventBus,
		runner:     runner,
		metrics:    metrics,
		logger:     logger,
		queue:      make(chan domain.Event, queueSize),
		workers:    make([]*worker, size),
		ctx:        ctx,
		cancel:     cancel,
		runCtx:     runCtx,
		cancelRuns: cancelRuns,
		stopCh:     make(chan struct{}),
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start starts the workers and subscribes to the messages topic
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool",
		zap.Int("size", p.size),
		zap.Int("queue_size", cap(p.queue)))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:     fmt.Sprintf("worker-%d", i),
			pool:   p,
			status: WorkerStatusIdle,
			since:  time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.runCtx)
	}

	if err := p.eventBus.Subscribe(p.ctx, domain.TopicMessages, p.enqueue); err != nil {
		p.cancel()
		p.cancelRuns()
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicMessages, err)
	}

	go p.health.run(p.ctx)

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// enqueue hands a received message to the workers, blocking while the
// queue is full. Once shutdown begins it refuses new messages so the bus
// keeps them unacknowledged.
func (p *Pool) enqueue(ctx context.Context, event domain.Event) error {
	if event.Type != domain.EventTypeMessageReceived {
		p.logger.Debug("ignoring event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)))
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopping {
		return fmt.Errorf("worker pool is shutting down")
	}

	select {
	case p.queue <- event:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops taking messages, lets the workers finish the queued ones
// and waits for them. When ctx expires first, the remaining runs are
// canceled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.logger.Info("shutting down worker pool", zap.Int("queued_messages", len(p.queue)))

		// Ends the subscription and releases enqueues blocked on a full queue
		p.cancel()

		// No enqueue is in flight past this point, so the queue only shrinks
		p.mu.Lock()
		p.stopping = true
		p.mu.Unlock()

		close(p.stopCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		p.cancelRuns()
		p.logger.Warn("shutdown timeout, canceled running messages",
			zap.Int("dropped_messages", len(p.queue)))
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		status[w.id], _ = w.snapshot()
	}
	return status
}

// Health returns the pool's health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// QueueDepth returns the number of messages waiting for a worker
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	defer func() {
		w.setStatus(WorkerStatusStopped)
		w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.queue():
			w.handleMessage(ctx, event)
		case <-w.pool.stopCh:
			w.drain(ctx)
			return
		}
	}
}

// drain runs whatever is still queued, sharing the work with the other
// stopping workers
func (w *worker) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.queue():
			w.handleMessage(ctx, event)
		default:
			return
		}
	}
}

func (w *worker) queue() <-chan domain.Event {
	return w.pool.queue
}

// handleMessage runs one orchestration. The stream entry id becomes the
// job's task.
func (w *worker) handleMessage(ctx context.Context, event domain.Event) {
	w.setStatus(WorkerStatusBusy)
	defer w.setStatus(WorkerStatusIdle)

	report := w.pool.runner.Run(ctx, event.Message(), orchestrator.RunOptions{InvocationID: event.ID})

	w.pool.logger.Info("message processed",
		zap.String("worker_id", w.id),
		zap.String("event_id", event.ID),
		zap.String("outcome", string(report.Outcome)),
		zap.String("job_uuid", report.JobUUID),
		zap.Duration("elapsed", report.Elapsed))
}

func (w *worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	w.status = status
	w.since = time.Now()
	w.mu.Unlock()
}

// snapshot returns the worker's status and when it was entered
func (w *worker) snapshot() (WorkerStatus, time.Time) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status, w.since
}
