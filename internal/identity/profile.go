package identity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/normalize"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/metrics"
)

// ProfileCache stores profile lookups keyed by (user id, email). Invalidate
// drops every entry of a user.
type ProfileCache interface {
	Get(ctx context.Context, userID, email string) (*entity.Profile, bool, error)
	Set(ctx context.Context, userID, email string, p *entity.Profile) error
	Invalidate(ctx context.Context, userID string) error
}

// NoopCache never hits.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string, string) (*entity.Profile, bool, error) {
	return nil, false, nil
}
func (NoopCache) Set(context.Context, string, string, *entity.Profile) error { return nil }
func (NoopCache) Invalidate(context.Context, string) error                   { return nil }

// Profiles answers the aggregate identity view and anonymous attribution.
type Profiles struct {
	store    repo.Store
	cache    ProfileCache
	resolver *Resolver
	opts     ResolveOptions
	logger   *zap.SugaredLogger
}

func NewProfiles(store repo.Store, cache ProfileCache, resolver *Resolver, opts ResolveOptions, logger *zap.SugaredLogger) *Profiles {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Profiles{store: store, cache: cache, resolver: resolver, opts: opts, logger: logger}
}

// Profile returns the rollup for userID, also matching edges that carry
// email. It prefers the row whose canonical id is userID, then the row with
// the most edges, then the most recent. A nil profile means nothing matched.
func (p *Profiles) Profile(ctx context.Context, userID, email string) (*entity.Profile, error) {
	user := normalize.UserID(userID)
	if user == "" {
		return nil, &ValidationError{Field: "user_id", Message: "user_id is required"}
	}
	mail := normalize.Email(email)

	if cached, ok, err := p.cache.Get(ctx, user, mail); err != nil {
		p.logger.Warnw("profile cache read failed", "user_id", user, "err", err)
	} else if ok {
		metrics.ProfileCache.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.ProfileCache.WithLabelValues("miss").Inc()

	rows, err := p.store.ProfileRows(ctx, repo.ProfileQuery{UserIDs: []string{user}, Email: mail})
	if err != nil {
		return nil, fmt.Errorf("profile rollup: %w", err)
	}
	best := selectProfile(rows, user)
	if best == nil {
		return nil, nil
	}
	if err := p.cache.Set(ctx, user, mail, best); err != nil {
		p.logger.Warnw("profile cache write failed", "user_id", user, "err", err)
	}
	return best, nil
}

// Attribute returns the canonical user reachable from anonymousID through the
// edge closure, or "" when the closure reaches no user.
func (p *Profiles) Attribute(ctx context.Context, anonymousID string) (string, error) {
	anon := normalize.AnonymousID(anonymousID)
	if anon == "" {
		return "", &ValidationError{Field: "anonymous_id", Message: "anonymous_id is required"}
	}
	closure, err := p.resolver.Resolve(ctx, entity.SetsFromSeed(entity.Seed{AnonymousID: anon}), p.opts)
	if err != nil {
		return "", err
	}
	if closure == nil || len(closure.UserIDs) == 0 {
		return "", nil
	}
	users := closure.UserIDs.Sorted()
	if len(users) == 1 {
		return users[0], nil
	}
	rows, err := p.store.ProfileRows(ctx, repo.ProfileQuery{UserIDs: users})
	if err != nil {
		return "", fmt.Errorf("profile rollup: %w", err)
	}
	kept := rows[:0]
	for _, row := range rows {
		if closure.UserIDs.Has(row.CanonicalUserID) {
			kept = append(kept, row)
		}
	}
	if best := selectProfile(kept, ""); best != nil {
		return best.CanonicalUserID, nil
	}
	return users[0], nil
}

func selectProfile(rows []entity.Profile, preferred string) *entity.Profile {
	var best *entity.Profile
	for i := range rows {
		row := &rows[i]
		if row.CanonicalUserID == "" {
			continue
		}
		if preferred != "" && row.CanonicalUserID == preferred {
			return row
		}
		if best == nil || better(row, best) {
			best = row
		}
	}
	return best
}

func better(a, b *entity.Profile) bool {
	if a.EdgeCount != b.EdgeCount {
		return a.EdgeCount > b.EdgeCount
	}
	return a.LastSeen > b.LastSeen
}
