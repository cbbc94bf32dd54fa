package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	events []entity.Event
	edges  []entity.Edge
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) InsertEvents(_ context.Context, events []entity.Event) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return len(events), nil
}

func (m *MemoryStore) InsertEdges(_ context.Context, edges []entity.Edge) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges = append(m.edges, edges...)
	return len(edges), nil
}

func (m *MemoryStore) AnonymousIDsByContact(_ context.Context, email, phone string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := entity.Set{}
	for _, e := range m.edges {
		if (email != "" && e.Email == email) || (phone != "" && e.Phone == phone) {
			found.Add(e.AnonymousID)
		}
	}
	return found.Sorted(), nil
}

func (m *MemoryStore) FindEdges(_ context.Context, sets entity.IdentifierSets) ([]entity.Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.Edge
	for _, e := range m.edges {
		if sets.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memoryRollup struct {
	anon, emails, phones, devices, methods entity.Set
	count                                  int64
	lastSeen                               string
}

func (m *MemoryStore) ProfileRows(_ context.Context, q ProfileQuery) ([]entity.Profile, error) {
	users := entity.Set{}
	for _, u := range q.UserIDs {
		users.Add(u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := entity.Set{}
	for _, e := range m.edges {
		if e.UserID != "" && (users.Has(e.UserID) || (q.Email != "" && e.Email == q.Email)) {
			matched.Add(e.UserID)
		}
	}
	groups := map[string]*memoryRollup{}
	for _, e := range m.edges {
		if !matched.Has(e.UserID) {
			continue
		}
		g, ok := groups[e.UserID]
		if !ok {
			g = &memoryRollup{anon: entity.Set{}, emails: entity.Set{}, phones: entity.Set{}, devices: entity.Set{}, methods: entity.Set{}}
			groups[e.UserID] = g
		}
		g.anon.Add(e.AnonymousID)
		g.emails.Add(e.Email)
		g.phones.Add(e.Phone)
		g.devices.Add(e.DeviceFingerprint)
		g.methods.Add(string(e.Method))
		g.count++
		// canonical timestamps order lexically
		if e.LastSeen > g.lastSeen {
			g.lastSeen = e.LastSeen
		}
	}
	out := make([]entity.Profile, 0, len(groups))
	for user, g := range groups {
		out = append(out, entity.Profile{
			CanonicalUserID:    user,
			AnonymousIDs:       g.anon.Sorted(),
			Emails:             g.emails.Sorted(),
			Phones:             g.phones.Sorted(),
			DeviceFingerprints: g.devices.Sorted(),
			Methods:            g.methods.Sorted(),
			EdgeCount:          g.count,
			LastSeen:           g.lastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EdgeCount != out[j].EdgeCount {
			return out[i].EdgeCount > out[j].EdgeCount
		}
		if out[i].LastSeen != out[j].LastSeen {
			return out[i].LastSeen > out[j].LastSeen
		}
		return out[i].CanonicalUserID < out[j].CanonicalUserID
	})
	return out, nil
}

func (m *MemoryStore) DeleteEdges(_ context.Context, sets entity.IdentifierSets) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.edges[:0]
	for _, e := range m.edges {
		if !sets.Matches(e) {
			kept = append(kept, e)
		}
	}
	m.edges = kept
	return "", nil
}

func (m *MemoryStore) DeleteEvents(_ context.Context, sets entity.IdentifierSets) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	for _, ev := range m.events {
		if sets.UserIDs.Has(ev.UserID) || sets.AnonymousIDs.Has(ev.AnonymousID) {
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return "", nil
}

// Events returns a copy of the stored events.
func (m *MemoryStore) Events() []entity.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.Event(nil), m.events...)
}

// Edges returns a copy of the stored edges.
func (m *MemoryStore) Edges() []entity.Edge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.Edge(nil), m.edges...)
}
