package submission

import (
	"context"
	"errors"

	"github.com/aescanero/jobrelay/pkg/domain"
	"github.com/aescanero/jobrelay/pkg/ports"
	"go.uber.org/zap"
)

// Submitter sends augmented payloads to the remote execution API. It makes
// exactly one attempt per call.
type Submitter struct {
	client ports.ExecutionClient
	logger *zap.Logger
}

// NewSubmitter creates a new execution submitter
func NewSubmitter(client ports.ExecutionClient, logger *zap.Logger) *Submitter {
	return &Submitter{client: client, logger: logger}
}

// Submit posts payload and returns the remote handle. Rejections map to
// ExecutionApiError, responses without an id to SubmissionProtocolError.
func (s *Submitter) Submit(ctx context.Context, payload map[string]interface{}) (*domain.ExecutionHandle, error) {
	handle, err := s.client.SubmitJob(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedResponse) {
			return nil, domain.NewError(domain.KindSubmissionProtocol, "execution API response is malformed", err)
		}

		var remote *domain.RemoteError
		if errors.As(err, &remote) {
			return nil, domain.NewError(domain.KindExecutionAPI, remote.Error(), err).WithDetail(remote.Detail)
		}
		return nil, domain.NewError(domain.KindExecutionAPI, "failed to submit job", err)
	}

	if handle == nil || handle.ID == "" {
		return nil, domain.NewError(domain.KindSubmissionProtocol, "execution API returned no job id", nil)
	}

	s.logger.Debug("payload submitted", zap.String("execution_id", handle.ID))
	return handle, nil
}
