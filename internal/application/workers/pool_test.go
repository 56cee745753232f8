package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/jobrelay/internal/application/orchestrator"
	"github.com/aescanero/jobrelay/pkg/adapters/events/memory"
	"github.com/aescanero/jobrelay/pkg/domain"
	"go.uber.org/zap"
)

type fakeRunner struct {
	mu    sync.Mutex
	runs  []orchestrator.RunOptions
	msgs  []domain.Message
	block chan struct{}
	done  chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{done: make(chan struct{}, 16)}
}

func (f *fakeRunner) Run(ctx context.Context, msg domain.Message, opts orchestrator.RunOptions) *domain.Report {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	f.runs = append(f.runs, opts)
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
	f.done <- struct{}{}
	return &domain.Report{Outcome: domain.OutcomeSucceeded, InvocationID: opts.InvocationID}
}

type nopMetrics struct{}

func (nopMetrics) RecordInvocation(string, time.Duration)   {}
func (nopMetrics) RecordFailure(string, string)             {}
func (nopMetrics) RecordCompensation(string, bool)          {}
func (nopMetrics) RecordStepDuration(string, time.Duration) {}
func (nopMetrics) RecordCallback(string, bool)              {}
func (nopMetrics) SetActiveInvocations(int)                 {}
func (nopMetrics) RecordWorkerPoolStatus(int, int, int)     {}

func waitRuns(t *testing.T, r *fakeRunner, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for run %d of %d", i+1, n)
		}
	}
}

func TestPoolRunsPublishedMessages(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	runner := newFakeRunner()
	pool := NewPool(2, 4, bus, runner, nopMetrics{}, zap.NewNop(), time.Minute)

	if err := pool.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pool.Shutdown(context.Background())

	msg := domain.Message{Structured: map[string]interface{}{"appId": "app-123"}}
	ctx := context.Background()
	if err := bus.Publish(ctx, domain.TopicMessages, domain.MessageEvent("1-0", msg, time.Now())); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(ctx, domain.TopicMessages, domain.MessageEvent("2-0", domain.Message{Raw: `{"appId":"x"}`}, time.Now())); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitRuns(t, runner, 2)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	seen := map[string]domain.Message{}
	for i, opts := range runner.runs {
		seen[opts.InvocationID] = runner.msgs[i]
	}
	if seen["1-0"].Structured["appId"] != "app-123" {
		t.Fatalf("structured message not delivered: %+v", seen["1-0"])
	}
	if seen["2-0"].Raw != `{"appId":"x"}` {
		t.Fatalf("raw message not delivered: %+v", seen["2-0"])
	}
}

func TestPoolIgnoresOtherEvents(t *testing.T) {
	pool := NewPool(1, 1, memory.NewInMemoryEventBus(), newFakeRunner(), nopMetrics{}, zap.NewNop(), time.Minute)

	err := pool.enqueue(context.Background(), domain.Event{ID: "e1", Type: domain.EventTypeJobCreated})
	if err != nil || pool.QueueDepth() != 0 {
		t.Fatalf("non message events must be dropped: %v depth=%d", err, pool.QueueDepth())
	}
}

func TestPoolHealth(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	pool := NewPool(1, 2, bus, runner, nopMetrics{}, zap.NewNop(), time.Minute)

	if err := pool.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if !pool.Health().IsHealthy() {
		t.Fatalf("fresh pool should be healthy")
	}

	if err := pool.enqueue(context.Background(), domain.MessageEvent("1-0", domain.Message{Raw: "{}"}, time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for pool.Health().GetStatus().BusyWorkers != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("worker never became busy")
		}
		time.Sleep(10 * time.Millisecond)
	}

	close(runner.block)
	waitRuns(t, runner, 1)

	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	status := pool.Health().GetStatus()
	if status.StoppedWorkers != 1 || status.Healthy {
		t.Fatalf("stopped pool should be unhealthy: %+v", status)
	}
}

func TestHealthReportsSaturationAndLongRuns(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	pool := NewPool(1, 1, bus, runner, nopMetrics{}, zap.NewNop(), time.Minute)
	if err := pool.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = pool.Shutdown(context.Background()) }()
	defer close(runner.block)

	ctx := context.Background()
	if err := pool.enqueue(ctx, domain.MessageEvent("1-0", domain.Message{Raw: "{}"}, time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for pool.Health().GetStatus().BusyWorkers != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("worker never became busy")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The single queue slot fills while the worker is blocked
	if err := pool.enqueue(ctx, domain.MessageEvent("2-0", domain.Message{Raw: "{}"}, time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	status := pool.Health().GetStatus()
	if !status.Saturated() || status.QueueCapacity != 1 {
		t.Fatalf("expected a saturated queue: %+v", status)
	}
	if status.LongestRun <= 0 {
		t.Fatalf("busy worker should report its run age: %+v", status)
	}
	if !status.Healthy {
		t.Fatalf("saturation alone must not mark the pool unhealthy")
	}
}

func TestPoolShutdownDrainsQueuedMessages(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	pool := NewPool(1, 4, bus, runner, nopMetrics{}, zap.NewNop(), time.Minute)
	if err := pool.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx := context.Background()
	for _, id := range []string{"1-0", "2-0", "3-0"} {
		if err := pool.enqueue(ctx, domain.MessageEvent(id, domain.Message{Raw: "{}"}, time.Now())); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	shutdownErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownErr <- pool.Shutdown(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		pool.mu.RLock()
		stopping := pool.stopping
		pool.mu.RUnlock()
		if stopping {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pool never started stopping")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Refused messages stay with the bus
	if err := pool.enqueue(ctx, domain.MessageEvent("4-0", domain.Message{Raw: "{}"}, time.Now())); err == nil {
		t.Fatalf("enqueue after shutdown must fail")
	}

	close(runner.block)
	if err := <-shutdownErr; err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	waitRuns(t, runner, 3)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.runs) != 3 {
		t.Fatalf("queued messages must all run, got %d", len(runner.runs))
	}
	if pool.QueueDepth() != 0 {
		t.Fatalf("queue should be empty, got %d", pool.QueueDepth())
	}
}

func TestPoolShutdownTimeoutCancelsRuns(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	pool := NewPool(1, 1, bus, runner, nopMetrics{}, zap.NewNop(), time.Minute)
	if err := pool.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := pool.enqueue(context.Background(), domain.MessageEvent("1-0", domain.Message{Raw: "{}"}, time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for pool.Health().GetStatus().BusyWorkers != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("worker never became busy")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := pool.Shutdown(ctx); err == nil {
		t.Fatalf("expected a shutdown timeout")
	}

	// The stuck run sees its context canceled
	waitRuns(t, runner, 1)
}
