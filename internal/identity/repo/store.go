package repo

import (
	"context"
	"errors"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/analytics"
)

// ErrNotConfigured means the backing store has no endpoint or credentials.
// It is the analytics client's sentinel so errors.Is works across layers.
var ErrNotConfigured = analytics.ErrNotConfigured

// ProfileQuery selects rollup rows for profile lookup and attribution.
type ProfileQuery struct {
	// UserIDs matches edges whose user_id is one of these.
	UserIDs []string
	// Email additionally matches edges carrying this normalized email. Optional.
	Email string
}

// Store is the persistence port for the events and identity_graph tables.
// Both tables are append-only; the only destructive call is the delete
// mutation used for erasure requests.
type Store interface {
	// InsertEvents appends event rows in one bulk write.
	InsertEvents(ctx context.Context, events []entity.Event) (int, error)

	// InsertEdges appends identity edges in one bulk write.
	InsertEdges(ctx context.Context, edges []entity.Edge) (int, error)

	// AnonymousIDsByContact returns the distinct non-empty anonymous ids ever
	// observed together with email OR phone. Empty arguments are ignored.
	AnonymousIDsByContact(ctx context.Context, email, phone string) ([]string, error)

	// FindEdges returns the identifier columns of every edge sharing at least
	// one identifier with sets.
	FindEdges(ctx context.Context, sets entity.IdentifierSets) ([]entity.Edge, error)

	// ProfileRows selects the users whose edges match q, then aggregates
	// every edge of each selected user into one rollup row.
	ProfileRows(ctx context.Context, q ProfileQuery) ([]entity.Profile, error)

	// DeleteEdges removes every edge matching sets. Asynchronous stores
	// return a job id; synchronous ones return "".
	DeleteEdges(ctx context.Context, sets entity.IdentifierSets) (string, error)

	// DeleteEvents removes event rows whose user_id or anonymous_id is in sets.
	DeleteEvents(ctx context.Context, sets entity.IdentifierSets) (string, error)
}

// ErrTooManyEdges means one FindEdges read matched more rows than the store
// is allowed to return. The result would be incomplete, so none is returned.
var ErrTooManyEdges = errors.New("identity graph read exceeds row cap")

// ErrUnknownDriver is returned by Open for an unsupported IDENTITY_STORE value.
var ErrUnknownDriver = errors.New("unknown identity store driver")
