// Package reporting provides terminal report sinks for orchestration runs.
package reporting

import (
	"context"
	"errors"

	"github.com/aescanero/jobrelay/pkg/domain"
	"go.uber.org/zap"
)

// LogReporter writes terminal reports to a zap logger
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter creates a new log reporter
func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger: logger.Named("report")}
}

// OnSuccess logs a successful, degraded or dry run
func (r *LogReporter) OnSuccess(ctx context.Context, report *domain.Report) {
	fields := reportFields(report)
	if report.Outcome == domain.OutcomeDegraded {
		r.logger.Warn(report.Message, fields...)
		return
	}
	r.logger.Info(report.Message, fields...)
}

// OnFailure logs a failed run with its cause
func (r *LogReporter) OnFailure(ctx context.Context, report *domain.Report, cause error) {
	fields := append(reportFields(report),
		zap.String("error_kind", string(report.ErrorKind)),
		zap.Error(cause))

	var derr *domain.Error
	if errors.As(cause, &derr) && derr.Detail != nil {
		fields = append(fields, zap.Any("detail", derr.Detail))
	}

	r.logger.Error(report.Message, fields...)
}

func reportFields(report *domain.Report) []zap.Field {
	fields := []zap.Field{
		zap.String("invocation_id", report.InvocationID),
		zap.String("outcome", string(report.Outcome)),
		zap.String("final_state", report.FinalState),
		zap.Duration("elapsed", report.Elapsed),
	}
	if report.JobUUID != "" {
		fields = append(fields, zap.String("job_uuid", report.JobUUID))
	}
	if report.ExecutionID != "" {
		fields = append(fields, zap.String("execution_id", report.ExecutionID))
	}
	return fields
}
