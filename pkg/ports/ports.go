// Package ports declares the interfaces the relay's application layer
// depends on. Adapters under pkg/adapters implement them.
package ports

import (
	"context"
	"time"

	"github.com/aescanero/jobrelay/pkg/domain"
)

// EventHandler processes one event delivered by an EventBus
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes and delivers events by topic
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// JobStore persists job records. Implementations must allow concurrent
// creation of distinct records and independent transitions per record.
type JobStore interface {
	Create(ctx context.Context, record *domain.JobRecord) error
	Get(ctx context.Context, uuid string) (*domain.JobRecord, error)
	// Transition applies t atomically against the stored status and
	// returns the updated record. Unknown uuids yield domain.ErrJobNotFound.
	Transition(ctx context.Context, uuid string, t domain.JobTransition) (*domain.JobRecord, error)
	List(ctx context.Context) ([]string, error)
}

// PipelineStore looks up pipeline records by external application id
type PipelineStore interface {
	// FindByAppID returns domain.ErrPipelineNotFound when no record matches
	FindByAppID(ctx context.Context, appID string) (*domain.PipelineRecord, error)
}

// AppRegistry looks up applications on the remote registry
type AppRegistry interface {
	GetApp(ctx context.Context, appID string) (*domain.AppDetails, error)
}

// ExecutionClient submits job definitions to the remote execution API
type ExecutionClient interface {
	SubmitJob(ctx context.Context, payload map[string]interface{}) (*domain.ExecutionHandle, error)
}

// Reporter is the terminal outcome channel of an invocation
type Reporter interface {
	OnSuccess(ctx context.Context, report *domain.Report)
	OnFailure(ctx context.Context, report *domain.Report, cause error)
}

// MetricsCollector records relay metrics
type MetricsCollector interface {
	RecordInvocation(outcome string, duration time.Duration)
	RecordFailure(kind string, state string)
	RecordCompensation(action string, ok bool)
	RecordStepDuration(state string, duration time.Duration)
	RecordCallback(status string, accepted bool)
	SetActiveInvocations(count int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}
