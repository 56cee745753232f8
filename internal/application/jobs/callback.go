package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/aescanero/jobrelay/pkg/domain"
	"go.uber.org/zap"
)

// remoteStatuses maps execution-system job statuses onto job record
// statuses. Statuses missing from the map are acknowledged but ignored.
var remoteStatuses = map[string]domain.JobStatus{
	"RUNNING":            domain.JobStatusRunning,
	"FINISHED":           domain.JobStatusFinished,
	"ARCHIVING_FINISHED": domain.JobStatusFinished,
	"FAILED":             domain.JobStatusFailed,
	"ARCHIVING_FAILED":   domain.JobStatusFailed,
	"KILLED":             domain.JobStatusFailed,
	"STOPPED":            domain.JobStatusFailed,
}

// MapRemoteStatus returns the record status for a remote status
func MapRemoteStatus(remote string) (domain.JobStatus, bool) {
	s, ok := remoteStatuses[strings.ToUpper(strings.TrimSpace(remote))]
	return s, ok
}

// HandleCallback applies a notification sent by the execution system.
// It returns the current record and whether the status changed.
func (m *Manager) HandleCallback(ctx context.Context, jobUUID, token, remoteStatus string, body map[string]interface{}) (*domain.JobRecord, bool, error) {
	if !m.VerifyToken(jobUUID, token) {
		return nil, false, domain.ErrInvalidToken
	}

	record, err := m.store.Get(ctx, jobUUID)
	if err != nil {
		return nil, false, err
	}

	target, ok := MapRemoteStatus(remoteStatus)
	if !ok {
		m.logger.Debug("ignoring callback status",
			zap.String("job_uuid", jobUUID),
			zap.String("remote_status", remoteStatus))
		return record, false, nil
	}

	data := map[string]interface{}{"remote_status": strings.ToUpper(remoteStatus)}
	if len(body) > 0 {
		data["body"] = body
	}

	// A finishing callback can arrive before the run was recorded
	if target == domain.JobStatusFinished && record.Status == domain.JobStatusCreated {
		if err := m.transition(ctx, record, domain.JobTransition{To: domain.JobStatusRunning, Data: data}); err != nil {
			return record, false, err
		}
	}

	if err := m.transition(ctx, record, domain.JobTransition{To: target, Data: data}); err != nil {
		return record, false, err
	}

	updated, err := m.store.Get(ctx, jobUUID)
	if err != nil {
		return nil, true, fmt.Errorf("failed to reload job %s: %w", jobUUID, err)
	}
	return updated, true, nil
}
