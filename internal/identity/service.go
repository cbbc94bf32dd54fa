package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

// Service wires ingestion, alias merge, closure, profile and erasure over
// one explicitly constructed store.
type Service struct {
	store    repo.Store
	logger   *zap.SugaredLogger
	now      func() time.Time
	newID    func() string
	validate func([]entity.Edge) error
	Merger   *AliasMerger
	Resolver *Resolver
	Profiles *Profiles
	Eraser   *Eraser
}

type Option func(*Service)

// WithNowFunc replaces the clock of every component.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.Merger.now = now
		s.Resolver.now = now
	}
}

// WithEventIDFunc replaces the generator for events without a usable id.
func WithEventIDFunc(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// WithMergeIDFunc replaces the merge id generator.
func WithMergeIDFunc(f func() string) Option {
	return func(s *Service) { s.Merger.newID = f }
}

func NewService(store repo.Store, cache ProfileCache, logger *zap.SugaredLogger, resolve ResolveOptions, opts ...Option) *Service {
	if cache == nil {
		cache = NoopCache{}
	}
	resolver := NewResolver(store, logger)
	s := &Service{
		store:    store,
		logger:   logger,
		now:      time.Now,
		newID:    utilities.NewEventID,
		validate: entity.ValidateEdges,
		Merger:   NewAliasMerger(store, cache, logger),
		Resolver: resolver,
		Profiles: NewProfiles(store, cache, resolver, resolve, logger),
		Eraser:   NewEraser(store, resolver, cache, resolve, logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestResult counts what one batch wrote.
type IngestResult struct {
	Inserted int `json:"inserted"`
	Edges    int `json:"edges"`
	Merges   int `json:"merges"`
}

type eventMetadata struct {
	Source    string `json:"source"`
	EventName string `json:"event_name"`
}

// emitEdges derives the graph observations of one event.
func emitEdges(ev parsedEvent) []entity.Edge {
	row := ev.Row
	if row.AnonymousID == "" {
		return nil
	}
	meta, _ := json.Marshal(eventMetadata{Source: "event_ingest", EventName: row.EventName})
	edge := entity.Edge{
		AnonymousID:       row.AnonymousID,
		Email:             ev.Email,
		Phone:             ev.Phone,
		DeviceFingerprint: ev.DeviceFingerprint,
		FirstSeen:         row.Timestamp,
		LastSeen:          row.Timestamp,
		LastEventID:       row.EventID,
		Metadata:          string(meta),
	}
	switch {
	case row.UserID != "":
		edge.UserID = row.UserID
		edge.Confidence = entity.ConfidenceDeterministic
		edge.Method = entity.MethodUserID
		if ev.Identify {
			edge.Method = entity.MethodLogin
		}
	case ev.DeviceFingerprint != "":
		edge.Confidence = entity.ConfidenceDeviceFingerprint
		edge.Method = entity.MethodDeviceObservation
	default:
		return nil
	}
	return []entity.Edge{edge}
}

// Ingest parses a batch, appends its events, then its edges, then runs the
// alias merges identify events requested. Validation failures write nothing.
func (s *Service) Ingest(ctx context.Context, body []byte, cookies map[string]string) (IngestResult, error) {
	parsed, err := parseBatch(body, cookies, s.now(), s.newID)
	if err != nil {
		return IngestResult{}, err
	}

	events := make([]entity.Event, 0, len(parsed))
	var edges []entity.Edge
	var merges []MergeRequest
	seen := map[MergeRequest]struct{}{}
	for _, ev := range parsed {
		events = append(events, ev.Row)
		edges = append(edges, emitEdges(ev)...)
		// only an identify call that links a session to a user may merge
		if ev.Identify && ev.Row.UserID != "" && ev.Row.AnonymousID != "" && (ev.Email != "" || ev.Phone != "") {
			req := MergeRequest{
				UserID:      ev.Row.UserID,
				Email:       ev.Email,
				Phone:       ev.Phone,
				AnonymousID: ev.Row.AnonymousID,
				Source:      SourceIdentifyEvent,
			}
			if _, dup := seen[req]; !dup {
				seen[req] = struct{}{}
				merges = append(merges, req)
			}
		}
	}

	if err := s.validate(edges); err != nil {
		return IngestResult{}, fmt.Errorf("reject batch: %w", err)
	}

	inserted, err := s.store.InsertEvents(ctx, events)
	if err != nil {
		return IngestResult{}, fmt.Errorf("insert events: %w", err)
	}
	metrics.EventsIngested.Add(float64(inserted))
	result := IngestResult{Inserted: inserted}

	if len(edges) > 0 {
		n, err := s.store.InsertEdges(ctx, edges)
		if err != nil {
			s.logger.Errorw("identity edge write failed after events were stored", "events", inserted, "edges", len(edges), "err", err)
			return result, &PartialWriteError{Events: inserted, Err: err}
		}
		for _, e := range edges {
			metrics.EdgesWritten.WithLabelValues(string(e.Method)).Inc()
		}
		result.Edges = n
	}

	for _, req := range merges {
		if _, err := s.Merger.Merge(ctx, req); err != nil {
			return result, fmt.Errorf("alias merge for %s: %w", req.UserID, err)
		}
		result.Merges++
	}
	s.logger.Debugw("events ingested", "inserted", result.Inserted, "edges", result.Edges, "merges", result.Merges)
	return result, nil
}
