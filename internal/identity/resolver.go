package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/metrics"
)

// DefaultClosureTimeout bounds one closure run when no timeout is configured.
const DefaultClosureTimeout = 5000 * time.Millisecond

// ResolveOptions bounds a closure run. MaxIterations <= 0 means unbounded
// iterations; Timeout <= 0 means DefaultClosureTimeout.
type ResolveOptions struct {
	MaxIterations int
	Timeout       time.Duration
}

// ResolveOptionsFromEnv reads CLOSURE_TIMEOUT_MS and CLOSURE_MAX_ITERATIONS.
func ResolveOptionsFromEnv() ResolveOptions {
	opts := ResolveOptions{Timeout: DefaultClosureTimeout}
	if v, err := strconv.Atoi(os.Getenv("CLOSURE_TIMEOUT_MS")); err == nil && v > 0 {
		opts.Timeout = time.Duration(v) * time.Millisecond
	}
	if v, err := strconv.Atoi(os.Getenv("CLOSURE_MAX_ITERATIONS")); err == nil && v > 0 {
		opts.MaxIterations = v
	}
	return opts
}

// Resolver computes the transitive closure of identifiers over the edge
// graph. It is used offline (erasure, attribution), never on ingestion.
type Resolver struct {
	store  repo.Store
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewResolver(store repo.Store, logger *zap.SugaredLogger) *Resolver {
	return &Resolver{store: store, logger: logger, now: time.Now}
}

// Resolve expands seed until a store round trip adds nothing new. It returns
// nil for an empty seed. On a guard failure no partial closure is returned.
func (r *Resolver) Resolve(ctx context.Context, seed entity.IdentifierSets, opts ResolveOptions) (*entity.IdentifierSets, error) {
	if seed.Empty() {
		return nil, nil
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultClosureTimeout
	}

	ctx, span := otel.Tracer("identity").Start(ctx, "identity.Resolve")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	closure := seed.Clone()
	start := r.now()
	iterations := 0
	fail := func(err error) (*entity.IdentifierSets, error) {
		metrics.ClosureDuration.WithLabelValues("failed").Observe(r.now().Sub(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warnw("identity closure aborted", "err", err, "iterations", iterations, "identifiers", closure.Len())
		return nil, err
	}
	timedOut := func() error {
		elapsed := r.now().Sub(start)
		return fmt.Errorf("%w: bound %s, elapsed %s, %d iterations", ErrClosureTimeout, timeout, elapsed, iterations)
	}

	for {
		if opts.MaxIterations > 0 && iterations >= opts.MaxIterations {
			return fail(fmt.Errorf("%w: bound %d, elapsed %s, %d iterations",
				ErrMaxIterations, opts.MaxIterations, r.now().Sub(start), iterations))
		}
		if r.now().Sub(start) > timeout {
			return fail(timedOut())
		}
		iterations++
		edges, err := r.store.FindEdges(ctx, closure)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fail(timedOut())
			}
			if errors.Is(err, repo.ErrTooManyEdges) {
				return fail(fmt.Errorf("%w: %w, elapsed %s, %d iterations",
					ErrClosureTooLarge, err, r.now().Sub(start), iterations))
			}
			return fail(fmt.Errorf("expand closure: %w", err))
		}
		if r.now().Sub(start) > timeout {
			return fail(timedOut())
		}
		grew := false
		for _, e := range edges {
			if closure.AddEdge(e) {
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	elapsed := r.now().Sub(start)
	metrics.ClosureDuration.WithLabelValues("converged").Observe(elapsed.Seconds())
	metrics.ClosureIterations.Observe(float64(iterations))
	span.SetAttributes(
		attribute.Int("closure.iterations", iterations),
		attribute.Int("closure.identifiers", closure.Len()),
	)
	r.logger.Debugw("identity closure converged", "iterations", iterations, "identifiers", closure.Len(), "elapsed_ms", elapsed.Milliseconds())
	return &closure, nil
}
