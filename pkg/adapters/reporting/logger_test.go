package reporting

import (
	"context"
	"testing"

	"github.com/aescanero/jobrelay/pkg/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogReporter(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := NewLogReporter(zap.New(core))
	ctx := context.Background()

	r.OnSuccess(ctx, &domain.Report{Outcome: domain.OutcomeSucceeded, Message: "job j1 is managing remote job exec-789", JobUUID: "j1", ExecutionID: "exec-789"})
	r.OnSuccess(ctx, &domain.Report{Outcome: domain.OutcomeDegraded, Message: "degraded"})

	cause := domain.NewError(domain.KindExecutionAPI, "jobs returned HTTP 400", nil).
		WithDetail(map[string]interface{}{"message": "bad request"})
	r.OnFailure(ctx, &domain.Report{Outcome: domain.OutcomeFailed, Message: "job j2 failed", ErrorKind: domain.KindExecutionAPI}, cause)

	entries := logs.AllUntimed()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].ContextMap()["execution_id"] != "exec-789" {
		t.Fatalf("unexpected success entry: %+v", entries[0])
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("degraded success should log a warning")
	}
	failure := entries[2]
	if failure.Level != zapcore.ErrorLevel || failure.ContextMap()["error_kind"] != "ExecutionApiError" {
		t.Fatalf("unexpected failure entry: %+v", failure)
	}
	if _, ok := failure.ContextMap()["detail"]; !ok {
		t.Fatalf("remote detail should be logged")
	}
}
