package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/jobrelay/internal/application/jobs"
	"github.com/aescanero/jobrelay/internal/application/normalizer"
	"github.com/aescanero/jobrelay/internal/application/resolver"
	"github.com/aescanero/jobrelay/internal/application/submission"
	"github.com/aescanero/jobrelay/pkg/domain"
	"github.com/aescanero/jobrelay/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is a step of the orchestration state machine
type State string

const (
	StateNormalizing        State = "NORMALIZING"
	StateResolvingApp       State = "RESOLVING_APP"
	StateResolvingPipeline  State = "RESOLVING_PIPELINE"
	StateSettingUpJob       State = "SETTING_UP_JOB"
	StateBuildingSubmission State = "BUILDING_SUBMISSION"
	StateSubmitting         State = "SUBMITTING"
	StateRecordingLink      State = "RECORDING_LINK"

	StateSucceeded          State = "SUCCEEDED"
	StateFailedPrecondition State = "FAILED_PRECONDITION"
	StateCanceled           State = "CANCELED"
	StateFailed             State = "FAILED"
)

const drainPollInterval = 20 * time.Millisecond

// Dependencies are the collaborators sequenced by the Manager
type Dependencies struct {
	Normalizer *normalizer.Normalizer
	Resolver   *resolver.Resolver
	Jobs       *jobs.Manager
	Builder    *submission.Builder
	Submitter  *submission.Submitter
	Reporter   ports.Reporter
	Metrics    ports.MetricsCollector
}

// Settings holds the identity stamped on job records and the default
// dry-run mode
type Settings struct {
	Session string
	Agent   string
	DryRun  bool
}

// RunOptions adjusts a single invocation
type RunOptions struct {
	// InvocationID is recorded as the job's task; generated when empty
	InvocationID string
	// DryRun stops before submission and reports the built payload
	DryRun bool
}

// Manager runs the job submission state machine. Each Run is sequential;
// any number of Runs may execute concurrently.
type Manager struct {
	deps     Dependencies
	settings Settings
	logger   *zap.Logger

	// Track active invocations
	invocations sync.Map // map[string]*invocation
	active      atomic.Int64
}

// invocation holds state for a single run
type invocation struct {
	id        string
	dryRun    bool
	startedAt time.Time
	cancel    context.CancelFunc

	mu    sync.Mutex
	state State
}

func (inv *invocation) enter(state State) {
	inv.mu.Lock()
	inv.state = state
	inv.mu.Unlock()
}

func (inv *invocation) current() State {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state
}

// NewManager creates a new orchestrator manager
func NewManager(deps Dependencies, settings Settings, logger *zap.Logger) *Manager {
	return &Manager{
		deps:     deps,
		settings: settings,
		logger:   logger,
	}
}

// Run processes one inbound message and returns its terminal report. The
// report is also delivered exactly once to the Reporter.
func (m *Manager) Run(ctx context.Context, msg domain.Message, opts RunOptions) *domain.Report {
	inv, runCtx := m.begin(ctx, opts)
	defer m.end(inv)

	report := m.execute(runCtx, inv, msg)
	report.InvocationID = inv.id
	report.Elapsed = time.Since(inv.startedAt)

	m.deliver(context.WithoutCancel(ctx), inv, report)
	return report
}

// ActiveInvocations returns the number of runs in flight
func (m *Manager) ActiveInvocations() int {
	return int(m.active.Load())
}

// Shutdown waits for in-flight invocations to finish. When ctx expires
// first, the remaining invocations are canceled; a submission already on
// the wire still completes and is recorded.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager",
		zap.Int("active_invocations", m.ActiveInvocations()))

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for m.ActiveInvocations() > 0 {
		select {
		case <-ctx.Done():
			m.invocations.Range(func(key, value interface{}) bool {
				value.(*invocation).cancel()
				return true
			})
			m.logger.Warn("shutdown timeout, canceled in-flight invocations",
				zap.Int("active_invocations", m.ActiveInvocations()))
			return fmt.Errorf("shutdown timeout: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}

func (m *Manager) begin(ctx context.Context, opts RunOptions) (*invocation, context.Context) {
	id := opts.InvocationID
	if id == "" {
		id = uuid.New().String()
	}

	runCtx, cancel := context.WithCancel(ctx)
	inv := &invocation{
		id:        id,
		dryRun:    opts.DryRun || m.settings.DryRun,
		startedAt: time.Now(),
		cancel:    cancel,
	}

	m.invocations.Store(inv, inv)
	m.deps.Metrics.SetActiveInvocations(int(m.active.Add(1)))
	return inv, runCtx
}

func (m *Manager) end(inv *invocation) {
	inv.cancel()
	m.invocations.Delete(inv)
	m.deps.Metrics.SetActiveInvocations(int(m.active.Add(-1)))
}

// step runs fn as state and records its duration
func (m *Manager) step(inv *invocation, state State, fn func() error) error {
	inv.enter(state)
	start := time.Now()
	err := fn()
	m.deps.Metrics.RecordStepDuration(string(state), time.Since(start))

	if err != nil {
		m.logger.Debug("step failed",
			zap.String("invocation_id", inv.id),
			zap.String("state", string(state)),
			zap.Error(err))
	}
	return err
}

func (m *Manager) execute(ctx context.Context, inv *invocation, msg domain.Message) *domain.Report {
	var req *domain.Request
	err := m.step(inv, StateNormalizing, func() (err error) {
		req, err = m.deps.Normalizer.Normalize(msg)
		return err
	})
	if err != nil {
		return failure(StateFailedPrecondition, describe(err), err)
	}

	log := m.logger.With(
		zap.String("invocation_id", inv.id),
		zap.String("app_id", req.AppID))

	err = m.step(inv, StateResolvingApp, func() error {
		_, err := m.deps.Resolver.ResolveApplication(ctx, req.AppID)
		return err
	})
	if err != nil {
		return failure(StateFailedPrecondition, describe(err), err)
	}

	var pipelineUUID string
	err = m.step(inv, StateResolvingPipeline, func() (err error) {
		pipelineUUID, err = m.deps.Resolver.ResolvePipeline(ctx, req.AppID)
		return err
	})
	if err != nil {
		return failure(StateFailedPrecondition, describe(err), err)
	}

	var record *domain.JobRecord
	err = m.step(inv, StateSettingUpJob, func() (err error) {
		record, err = m.deps.Jobs.CreateAndSetup(ctx, pipelineUUID, req, m.settings.Session, m.settings.Agent, inv.id)
		return err
	})
	if err != nil {
		if record == nil {
			// Construction failed, nothing to cancel
			return failure(StateFailedPrecondition, describe(err), err)
		}
		return m.cancelJob(ctx, record, err)
	}

	log = log.With(zap.String("job_uuid", record.UUID), zap.String("pipeline_uuid", pipelineUUID))
	log.Info("job record created")

	var payload map[string]interface{}
	err = m.step(inv, StateBuildingSubmission, func() (err error) {
		payload, err = m.deps.Builder.Augment(req.JobDefinition, record)
		return err
	})
	if err != nil {
		return m.cancelJob(ctx, record, err)
	}

	if inv.dryRun {
		return m.dryRun(ctx, record, payload)
	}

	// Once the request is on the wire the remote job may exist, so neither
	// shutdown nor a departed caller may abort submission or linking. Only
	// the transport timeout ends them.
	committed := context.WithoutCancel(ctx)

	var handle *domain.ExecutionHandle
	err = m.step(inv, StateSubmitting, func() (err error) {
		handle, err = m.deps.Submitter.Submit(committed, payload)
		return err
	})
	if err != nil {
		return m.failJob(committed, record, err)
	}

	log = log.With(zap.String("execution_id", handle.ID))

	outcome := domain.OutcomeSucceeded
	err = m.step(inv, StateRecordingLink, func() error {
		return m.deps.Jobs.RecordRun(committed, record, handle.URI)
	})
	if err != nil {
		// The remote job exists, so the run still counts as a success
		warning := domain.NewError(domain.KindLinkUpdateWarning,
			fmt.Sprintf("unable to update status of job %s", record.UUID), err)
		log.Warn("job link not recorded", zap.Error(warning))
		outcome = domain.OutcomeDegraded
	}

	inv.enter(StateSucceeded)
	return &domain.Report{
		Outcome:     outcome,
		FinalState:  string(StateSucceeded),
		JobUUID:     record.UUID,
		ExecutionID: handle.ID,
		Message: fmt.Sprintf("job %s is managing remote job %s (%s)",
			record.UUID, handle.ID, time.Since(inv.startedAt).Round(time.Microsecond)),
	}
}

// cancelJob compensates a failure that happened before submission
func (m *Manager) cancelJob(ctx context.Context, record *domain.JobRecord, cause error) *domain.Report {
	reason := describe(cause)
	err := m.deps.Jobs.Cancel(context.WithoutCancel(ctx), record, reason)
	m.deps.Metrics.RecordCompensation("cancel", err == nil)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		// Setup failed before the record was stored
		m.logger.Error("job record was never persisted, nothing to cancel",
			zap.String("job_uuid", record.UUID),
			zap.NamedError("cause", cause),
			zap.Error(err))
	case err != nil:
		m.logger.Warn("failed to cancel job",
			zap.String("job_uuid", record.UUID),
			zap.Error(err))
	}

	report := failure(StateCanceled, fmt.Sprintf("job %s canceled because %s", record.UUID, reason), cause)
	report.JobUUID = record.UUID
	return report
}

// failJob compensates a failed submission
func (m *Manager) failJob(ctx context.Context, record *domain.JobRecord, cause error) *domain.Report {
	reason := describe(cause)
	err := m.deps.Jobs.Fail(context.WithoutCancel(ctx), record, reason)
	m.deps.Metrics.RecordCompensation("fail", err == nil)
	if err != nil {
		m.logger.Warn("unable to update job state",
			zap.String("job_uuid", record.UUID),
			zap.Error(err))
	}

	report := failure(StateFailed, fmt.Sprintf("job %s failed because %s", record.UUID, reason), cause)
	report.JobUUID = record.UUID
	return report
}

// dryRun cancels the unsubmitted record and reports the built payload
func (m *Manager) dryRun(ctx context.Context, record *domain.JobRecord, payload map[string]interface{}) *domain.Report {
	if err := m.deps.Jobs.Cancel(context.WithoutCancel(ctx), record, "dry run"); err != nil {
		m.logger.Warn("failed to cancel dry run job",
			zap.String("job_uuid", record.UUID),
			zap.Error(err))
	}

	return &domain.Report{
		Outcome:    domain.OutcomeDryRun,
		FinalState: string(StateBuildingSubmission),
		JobUUID:    record.UUID,
		Payload:    payload,
		Message:    fmt.Sprintf("dry run: payload for job %s built and not submitted", record.UUID),
	}
}

func (m *Manager) deliver(ctx context.Context, inv *invocation, report *domain.Report) {
	m.deps.Metrics.RecordInvocation(string(report.Outcome), report.Elapsed)

	if report.Outcome != domain.OutcomeFailed {
		m.deps.Reporter.OnSuccess(ctx, report)
		return
	}

	m.deps.Metrics.RecordFailure(string(report.ErrorKind), string(inv.current()))
	m.logger.Error("invocation failed",
		zap.String("invocation_id", inv.id),
		zap.String("state", string(inv.current())),
		zap.String("final_state", report.FinalState),
		zap.String("error_kind", string(report.ErrorKind)),
		zap.String("job_uuid", report.JobUUID),
		zap.Error(report.Err))
	m.deps.Reporter.OnFailure(ctx, report, report.Err)
}

func failure(final State, message string, cause error) *domain.Report {
	return &domain.Report{
		Outcome:    domain.OutcomeFailed,
		FinalState: string(final),
		Message:    message,
		ErrorKind:  domain.KindOf(cause),
		Err:        cause,
	}
}

// describe renders err as "<Kind>: <message>"
func describe(err error) string {
	var e *domain.Error
	if errors.As(err, &e) {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return err.Error()
}
