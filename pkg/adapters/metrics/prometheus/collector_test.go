package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	c := NewCollectorWith(prometheus.NewRegistry())

	c.RecordInvocation("succeeded", 120*time.Millisecond)
	c.RecordInvocation("succeeded", 80*time.Millisecond)
	c.RecordFailure("UnknownPipeline", "RESOLVING_PIPELINE")
	c.RecordCompensation("cancel", false)
	c.RecordCallback("RUNNING", true)
	c.SetActiveInvocations(3)
	c.RecordWorkerPoolStatus(2, 1, 0)

	if got := testutil.ToFloat64(c.invocations.WithLabelValues("succeeded")); got != 2 {
		t.Fatalf("expected 2 successful invocations, got %v", got)
	}
	if got := testutil.ToFloat64(c.failures.WithLabelValues("UnknownPipeline", "RESOLVING_PIPELINE")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(c.compensations.WithLabelValues("cancel", "false")); got != 1 {
		t.Fatalf("expected 1 failed cancel, got %v", got)
	}
	if got := testutil.ToFloat64(c.activeInvocations); got != 3 {
		t.Fatalf("expected 3 active invocations, got %v", got)
	}
	if got := testutil.ToFloat64(c.workerPoolIdle); got != 2 {
		t.Fatalf("expected 2 idle workers, got %v", got)
	}
}

func TestCollectorsUseSeparateRegistries(t *testing.T) {
	// Registering twice on distinct registries must not panic
	NewCollectorWith(prometheus.NewRegistry())
	NewCollectorWith(prometheus.NewRegistry())
}
