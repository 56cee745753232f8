package jobs

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aescanero/jobrelay/pkg/domain"
	"github.com/aescanero/jobrelay/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Settings controls how job records are initialized during setup
type Settings struct {
	CallbackBaseURL string
	UpdatesNonce    string
	ArchiveSystem   string
	ArchiveRoot     string
}

// Manager owns job records: their identifiers, callback URLs and status
type Manager struct {
	store    ports.JobStore
	eventBus ports.EventBus
	settings Settings
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager creates a new job record manager. eventBus may be nil.
func NewManager(store ports.JobStore, eventBus ports.EventBus, settings Settings, logger *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		eventBus: eventBus,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateAndSetup constructs a CREATED record for pipelineUUID, computes its
// callback and archive fields and persists it. The returned record is
// non-nil whenever construction succeeded, even if a later setup step
// failed, so the caller can tell whether there is anything to cancel.
func (m *Manager) CreateAndSetup(ctx context.Context, pipelineUUID string, req *domain.Request, session, agent, task string) (*domain.JobRecord, error) {
	record, err := m.construct(pipelineUUID, req, session, agent, task)
	if err != nil {
		return nil, domain.NewError(domain.KindJobSetup, "failed to construct job record", err)
	}

	if err := m.setup(ctx, record, req); err != nil {
		return record, domain.NewError(domain.KindJobSetup,
			fmt.Sprintf("failed to set up job %s", record.UUID), err)
	}

	m.logger.Info("job record created",
		zap.String("job_uuid", record.UUID),
		zap.String("pipeline_uuid", record.PipelineUUID),
		zap.String("archive_path", record.ArchivePath))

	m.publish(ctx, record, domain.EventTypeJobCreated, nil)

	return record.Clone(), nil
}

// construct builds the in-memory record; nothing is persisted yet
func (m *Manager) construct(pipelineUUID string, req *domain.Request, session, agent, task string) (*domain.JobRecord, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}
	if strings.TrimSpace(pipelineUUID) == "" {
		return nil, fmt.Errorf("pipeline uuid is required")
	}
	if req.Parameters.Session != "" {
		session = req.Parameters.Session
	}
	if session == "" || agent == "" {
		return nil, fmt.Errorf("session and agent are required")
	}

	now := m.now().UTC()
	return &domain.JobRecord{
		UUID:         uuid.New().String(),
		PipelineUUID: pipelineUUID,
		Status:       domain.JobStatusCreated,
		Session:      session,
		Agent:        agent,
		Task:         task,
		Instanced:    req.Instanced,
		Data:         req.Data,
		History: []domain.HistoryEntry{
			{Status: domain.JobStatusCreated, Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// setup derives callback and archive fields, then persists the record
func (m *Manager) setup(ctx context.Context, record *domain.JobRecord, req *domain.Request) error {
	callback, err := m.CallbackURL(record.UUID)
	if err != nil {
		return err
	}
	record.CallbackURL = callback

	record.ArchiveSystem = m.settings.ArchiveSystem
	if req.Parameters.ArchiveSystem != "" {
		record.ArchiveSystem = req.Parameters.ArchiveSystem
	}
	if record.ArchiveSystem == "" {
		return fmt.Errorf("no archive system configured")
	}

	archivePath, err := m.archivePath(record, req.Parameters.ArchivePath)
	if err != nil {
		return err
	}
	record.ArchivePath = archivePath

	if err := m.store.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to persist job record: %w", err)
	}
	return nil
}

// CallbackURL returns the notification target for a job, without status
func (m *Manager) CallbackURL(jobUUID string) (string, error) {
	base, err := url.Parse(m.settings.CallbackBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid callback base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("callback base URL must be absolute: %q", m.settings.CallbackBaseURL)
	}
	if m.settings.UpdatesNonce == "" {
		return "", fmt.Errorf("updates nonce is not configured")
	}

	base.Path = path.Join("/", base.Path, "api/v1/jobs", jobUUID, "callback")
	base.RawQuery = url.Values{"token": {m.Token(jobUUID)}}.Encode()
	return base.String(), nil
}

func (m *Manager) archivePath(record *domain.JobRecord, override string) (string, error) {
	if override != "" {
		if !path.IsAbs(override) {
			return "", fmt.Errorf("archive path must be absolute: %q", override)
		}
		return path.Clean(override), nil
	}
	root := m.settings.ArchiveRoot
	if !path.IsAbs(root) {
		return "", fmt.Errorf("archive root must be absolute: %q", root)
	}
	if record.Instanced {
		return path.Join(root, record.PipelineUUID, record.UUID), nil
	}
	return path.Join(root, record.PipelineUUID), nil
}

// Token signs a job uuid with the updates nonce
func (m *Manager) Token(jobUUID string) string {
	mac := hmac.New(sha256.New, []byte(m.settings.UpdatesNonce))
	mac.Write([]byte(jobUUID))
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

// VerifyToken reports whether token was issued for jobUUID
func (m *Manager) VerifyToken(jobUUID, token string) bool {
	return hmac.Equal([]byte(m.Token(jobUUID)), []byte(token))
}

// Cancel moves record to CANCELED. A nil or never-persisted record yields
// an error wrapping domain.ErrJobNotFound.
func (m *Manager) Cancel(ctx context.Context, record *domain.JobRecord, reason string) error {
	return m.transition(ctx, record, domain.JobTransition{
		To:   domain.JobStatusCanceled,
		Data: map[string]interface{}{"message": reason},
	})
}

// Fail moves record to FAILED with reason attached as its message
func (m *Manager) Fail(ctx context.Context, record *domain.JobRecord, reason string) error {
	return m.transition(ctx, record, domain.JobTransition{
		To:   domain.JobStatusFailed,
		Data: map[string]interface{}{"message": reason},
	})
}

// RecordRun moves record to RUNNING and links it to the remote job. If a
// callback already finished or failed the record, only the link is stored.
func (m *Manager) RecordRun(ctx context.Context, record *domain.JobRecord, jobLink string) error {
	if jobLink == "" {
		return fmt.Errorf("job link is empty")
	}
	return m.transition(ctx, record, domain.JobTransition{
		To:      domain.JobStatusRunning,
		JobLink: jobLink,
		Data:    map[string]interface{}{"job_link": jobLink},
	})
}

// Get returns the stored record for jobUUID
func (m *Manager) Get(ctx context.Context, jobUUID string) (*domain.JobRecord, error) {
	return m.store.Get(ctx, jobUUID)
}

func (m *Manager) transition(ctx context.Context, record *domain.JobRecord, t domain.JobTransition) error {
	if record == nil || record.UUID == "" {
		return fmt.Errorf("cannot move job to %s: %w", t.To, domain.ErrJobNotFound)
	}

	updated, err := m.store.Transition(ctx, record.UUID, t)
	if err != nil {
		return fmt.Errorf("failed to move job %s to %s: %w", record.UUID, t.To, err)
	}

	if updated.Status != t.To {
		// Link attached to a record a callback already completed
		m.logger.Info("job link attached",
			zap.String("job_uuid", updated.UUID),
			zap.String("status", string(updated.Status)),
			zap.String("job_link", updated.JobLink))
		return nil
	}

	m.logger.Info("job status updated",
		zap.String("job_uuid", updated.UUID),
		zap.String("status", string(updated.Status)))

	m.publish(ctx, updated, domain.EventTypeForStatus(updated.Status), t.Data)
	return nil
}

// publish emits a job event; failures are logged only
func (m *Manager) publish(ctx context.Context, record *domain.JobRecord, eventType domain.EventType, data map[string]interface{}) {
	if m.eventBus == nil {
		return
	}

	payload := map[string]interface{}{
		"status":        string(record.Status),
		"pipeline_uuid": record.PipelineUUID,
	}
	for k, v := range data {
		payload[k] = v
	}

	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: m.now().UTC(),
		JobUUID:   record.UUID,
		Data:      payload,
	}
	if err := m.eventBus.Publish(ctx, domain.TopicJobEvents, event); err != nil {
		m.logger.Warn("failed to publish job event",
			zap.String("job_uuid", record.UUID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
