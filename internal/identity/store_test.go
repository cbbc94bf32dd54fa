package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
)

// countingStore wraps the memory driver, counts calls and injects failures.
type countingStore struct {
	*repo.MemoryStore
	mu             sync.Mutex
	calls          map[string]int
	insertEdgesErr error
	findEdgesErr   error
	onFindEdges    func(entity.IdentifierSets)
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: repo.NewMemoryStore(), calls: map[string]int{}}
}

func (s *countingStore) count(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
}

func (s *countingStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *countingStore) InsertEvents(ctx context.Context, events []entity.Event) (int, error) {
	s.count("InsertEvents")
	return s.MemoryStore.InsertEvents(ctx, events)
}

func (s *countingStore) InsertEdges(ctx context.Context, edges []entity.Edge) (int, error) {
	s.count("InsertEdges")
	if s.insertEdgesErr != nil {
		return 0, s.insertEdgesErr
	}
	return s.MemoryStore.InsertEdges(ctx, edges)
}

func (s *countingStore) AnonymousIDsByContact(ctx context.Context, email, phone string) ([]string, error) {
	s.count("AnonymousIDsByContact")
	return s.MemoryStore.AnonymousIDsByContact(ctx, email, phone)
}

func (s *countingStore) FindEdges(ctx context.Context, sets entity.IdentifierSets) ([]entity.Edge, error) {
	s.count("FindEdges")
	if s.onFindEdges != nil {
		s.onFindEdges(sets)
	}
	if s.findEdgesErr != nil {
		return nil, s.findEdgesErr
	}
	return s.MemoryStore.FindEdges(ctx, sets)
}

func (s *countingStore) ProfileRows(ctx context.Context, q repo.ProfileQuery) ([]entity.Profile, error) {
	s.count("ProfileRows")
	return s.MemoryStore.ProfileRows(ctx, q)
}

func (s *countingStore) DeleteEdges(ctx context.Context, sets entity.IdentifierSets) (string, error) {
	s.count("DeleteEdges")
	return s.MemoryStore.DeleteEdges(ctx, sets)
}

func (s *countingStore) DeleteEvents(ctx context.Context, sets entity.IdentifierSets) (string, error) {
	s.count("DeleteEvents")
	return s.MemoryStore.DeleteEvents(ctx, sets)
}

// recordingCache is an in-memory ProfileCache.
type recordingCache struct {
	entries     map[string]*entity.Profile
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: map[string]*entity.Profile{}}
}

func (c *recordingCache) Get(_ context.Context, userID, email string) (*entity.Profile, bool, error) {
	p, ok := c.entries[userID+"|"+email]
	return p, ok, nil
}

func (c *recordingCache) Set(_ context.Context, userID, email string, p *entity.Profile) error {
	c.entries[userID+"|"+email] = p
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, userID string) error {
	c.invalidated = append(c.invalidated, userID)
	return nil
}

var fixedNow = time.Date(2024, 3, 5, 5, 8, 9, 123000000, time.UTC)

func newTestService(t *testing.T, store repo.Store, cache ProfileCache, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{
		WithNowFunc(func() time.Time { return fixedNow }),
		WithMergeIDFunc(func() string { return "merge-1" }),
	}, opts...)
	return NewService(store, cache, zap.NewNop().Sugar(), ResolveOptions{}, opts...)
}
