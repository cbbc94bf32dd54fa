package identity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/metrics"
)

// EraseRequest names the subject of a data-erasure request. Recursive nil
// means true: erase everything linked to the seed, not just the seed itself.
type EraseRequest struct {
	Seed      entity.Seed
	Recursive *bool
}

// EraseResult lists the identifiers targeted and the store's delete jobs.
type EraseResult struct {
	Identifiers entity.IdentifierSets
	JobIDs      []string
}

// Eraser queues deletes for every edge and event linked to a subject.
type Eraser struct {
	store    repo.Store
	resolver *Resolver
	cache    ProfileCache
	opts     ResolveOptions
	logger   *zap.SugaredLogger
}

func NewEraser(store repo.Store, resolver *Resolver, cache ProfileCache, opts ResolveOptions, logger *zap.SugaredLogger) *Eraser {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Eraser{store: store, resolver: resolver, cache: cache, opts: opts, logger: logger}
}

func (e *Eraser) Erase(ctx context.Context, req EraseRequest) (EraseResult, error) {
	seed := entity.SetsFromSeed(req.Seed)
	if seed.Empty() {
		return EraseResult{}, &ValidationError{Field: "identifiers", Message: "at least one valid identifier is required (userId, email, phone, anonymousId, deviceFingerprint)"}
	}
	targets := seed
	if req.Recursive == nil || *req.Recursive {
		closure, err := e.resolver.Resolve(ctx, seed, e.opts)
		if err != nil {
			return EraseResult{}, fmt.Errorf("resolve erasure closure: %w", err)
		}
		targets = *closure
	}

	result := EraseResult{Identifiers: targets, JobIDs: []string{}}
	job, err := e.store.DeleteEdges(ctx, targets)
	if err != nil {
		return EraseResult{}, fmt.Errorf("delete identity edges: %w", err)
	}
	if job != "" {
		result.JobIDs = append(result.JobIDs, job)
	}
	job, err = e.store.DeleteEvents(ctx, targets)
	if err != nil {
		return EraseResult{}, fmt.Errorf("delete events: %w", err)
	}
	if job != "" {
		result.JobIDs = append(result.JobIDs, job)
	}

	for user := range targets.UserIDs {
		if err := e.cache.Invalidate(ctx, user); err != nil {
			e.logger.Warnw("profile cache invalidation failed", "user_id", user, "err", err)
		}
	}
	metrics.Erasures.Inc()
	e.logger.Infow("erasure queued",
		"recursive", req.Recursive == nil || *req.Recursive,
		"identifiers", targets.Len(),
		"jobs", result.JobIDs,
	)
	return result, nil
}
