// Package resolver maps an external application id to the registry's app
// details and to the internal pipeline uuid. Each call performs exactly one
// lookup; nothing is cached or retried.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/aescanero/jobrelay/pkg/domain"
	"github.com/aescanero/jobrelay/pkg/ports"
	"go.uber.org/zap"
)

// Resolver resolves applications and pipelines
type Resolver struct {
	registry  ports.AppRegistry
	pipelines ports.PipelineStore
	logger    *zap.Logger
}

// New creates a new resolver
func New(registry ports.AppRegistry, pipelines ports.PipelineStore, logger *zap.Logger) *Resolver {
	return &Resolver{
		registry:  registry,
		pipelines: pipelines,
		logger:    logger,
	}
}

// ResolveApplication looks up appID on the application registry
func (r *Resolver) ResolveApplication(ctx context.Context, appID string) (*domain.AppDetails, error) {
	app, err := r.registry.GetApp(ctx, appID)
	if err != nil {
		if errors.Is(err, domain.ErrAppNotFound) {
			derr := domain.NewError(domain.KindUnknownApplication,
				fmt.Sprintf("%s is not a known application", appID), err)
			var nf *domain.RemoteError
			if errors.As(err, &nf) {
				derr.WithDetail(nf.Detail)
			}
			return nil, derr
		}
		return nil, domain.NewError(domain.KindRegistryLookup, "failed to look up application", err)
	}

	r.logger.Debug("application resolved",
		zap.String("app_id", appID),
		zap.String("app_name", app.Name))

	return app, nil
}

// ResolvePipeline returns the uuid of the pipeline registered for appID
func (r *Resolver) ResolvePipeline(ctx context.Context, appID string) (string, error) {
	rec, err := r.pipelines.FindByAppID(ctx, appID)
	if err != nil {
		if errors.Is(err, domain.ErrPipelineNotFound) {
			return "", domain.NewError(domain.KindUnknownPipeline, appID, err)
		}
		return "", domain.NewError(domain.KindLookup,
			fmt.Sprintf("failed to resolve appId %s to a pipeline record", appID), err)
	}
	if rec == nil || rec.UUID == "" {
		return "", domain.NewError(domain.KindUnknownPipeline, appID, domain.ErrPipelineNotFound)
	}

	r.logger.Debug("pipeline resolved",
		zap.String("app_id", appID),
		zap.String("pipeline_uuid", rec.UUID))

	return rec.UUID, nil
}
