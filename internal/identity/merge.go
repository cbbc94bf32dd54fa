package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/normalize"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

// Merge sources recorded in edge metadata.
const (
	SourceIdentifyEvent = "identify_event"
	SourceAliasAPI      = "alias_api"
)

// MergeRequest asks to link every anonymous id seen with Email or Phone to UserID.
type MergeRequest struct {
	UserID      string
	Email       string
	Phone       string
	AnonymousID string
	Source      string
}

// MergeResult lists the anonymous ids linked by one merge.
type MergeResult struct {
	UserID             string
	MergedAnonymousIDs []string
	InsertedRows       int
}

// AliasMerger links anonymous sessions to a user at login time by appending
// deterministic edges. It never rewrites existing edges.
type AliasMerger struct {
	store    repo.Store
	cache    ProfileCache
	logger   *zap.SugaredLogger
	now      func() time.Time
	newID    func() string
	validate func([]entity.Edge) error
}

func NewAliasMerger(store repo.Store, cache ProfileCache, logger *zap.SugaredLogger) *AliasMerger {
	if cache == nil {
		cache = NoopCache{}
	}
	return &AliasMerger{
		store:    store,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
		newID:    utilities.NewMergeID,
		validate: entity.ValidateEdges,
	}
}

type mergeMetadata struct {
	Source  string       `json:"source"`
	MergeID string       `json:"merge_id"`
	Trigger mergeTrigger `json:"trigger"`
}

type mergeTrigger struct {
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	AnonymousID string `json:"anonymous_id,omitempty"`
}

// mergeMethod picks the strongest method the request supports.
func mergeMethod(email, phone string) entity.Method {
	switch {
	case email != "" && phone != "":
		return entity.MethodEmailPhone
	case email != "":
		return entity.MethodEmail
	case phone != "":
		return entity.MethodPhone
	}
	return entity.MethodLogin
}

// Merge finds the anonymous ids observed with the request's email or phone,
// adds the explicit anonymous id and writes one deterministic edge per id.
// No matching ids is a successful zero merge.
func (m *AliasMerger) Merge(ctx context.Context, req MergeRequest) (MergeResult, error) {
	user := normalize.UserID(req.UserID)
	email := normalize.Email(req.Email)
	phone := normalize.Phone(req.Phone)
	anon := normalize.AnonymousID(req.AnonymousID)
	if user == "" {
		return MergeResult{}, &ValidationError{Field: "userId", Message: "userId is required", Err: ErrInvalidMerge}
	}
	if email == "" && phone == "" {
		return MergeResult{}, &ValidationError{Field: "email", Message: "a valid email or phone is required", Err: ErrInvalidMerge}
	}
	source := req.Source
	if source == "" {
		source = SourceAliasAPI
	}

	found, err := m.store.AnonymousIDsByContact(ctx, email, phone)
	if err != nil {
		return MergeResult{}, fmt.Errorf("lookup anonymous ids: %w", err)
	}
	ids := entity.Set{}
	for _, id := range found {
		ids.Add(normalize.AnonymousID(id))
	}
	ids.Add(anon)
	result := MergeResult{UserID: user, MergedAnonymousIDs: ids.Sorted()}
	if len(ids) == 0 {
		m.logger.Debugw("alias merge found nothing", "user_id", user, "source", source)
		return result, nil
	}

	mergeID := m.newID()
	meta, err := json.Marshal(mergeMetadata{
		Source:  source,
		MergeID: mergeID,
		Trigger: mergeTrigger{Email: email, Phone: phone, AnonymousID: anon},
	})
	if err != nil {
		return MergeResult{}, fmt.Errorf("encode merge metadata: %w", err)
	}
	ts := normalize.FormatTimestamp(m.now())
	method := mergeMethod(email, phone)
	edges := make([]entity.Edge, 0, len(ids))
	for _, id := range result.MergedAnonymousIDs {
		edges = append(edges, entity.Edge{
			AnonymousID: id,
			UserID:      user,
			Email:       email,
			Phone:       phone,
			Method:      method,
			Confidence:  entity.ConfidenceDeterministic,
			FirstSeen:   ts,
			LastSeen:    ts,
			Metadata:    string(meta),
		})
	}
	if err := m.validate(edges); err != nil {
		return MergeResult{}, fmt.Errorf("reject merge edges: %w", err)
	}
	n, err := m.store.InsertEdges(ctx, edges)
	if err != nil {
		return MergeResult{}, fmt.Errorf("insert merge edges: %w", err)
	}
	result.InsertedRows = n
	metrics.Merges.WithLabelValues(source).Inc()
	metrics.EdgesWritten.WithLabelValues(string(method)).Add(float64(n))

	if err := m.cache.Invalidate(ctx, user); err != nil {
		m.logger.Warnw("profile cache invalidation failed", "user_id", user, "err", err)
	}
	m.logger.Infow("alias merge",
		"user_id", user,
		"merge_id", mergeID,
		"source", source,
		"email", utilities.Redact(email),
		"phone", utilities.Redact(phone),
		"merged", len(result.MergedAnonymousIDs),
	)
	return result, nil
}
