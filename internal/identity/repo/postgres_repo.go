package repo

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
)

// PostgresRepo keeps the events and identity_graph tables in Postgres.
// Deletes are synchronous so no job id is ever returned.
type PostgresRepo struct {
	db *sqlx.DB
}

var _ Store = (*PostgresRepo)(nil)

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// EnsureTables creates both tables if they do not exist (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *PostgresRepo) EnsureTables(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
  event_id TEXT NOT NULL,
  anonymous_id TEXT NOT NULL DEFAULT '',
  user_id TEXT NOT NULL DEFAULT '',
  session_id TEXT NOT NULL DEFAULT '',
  event_name TEXT NOT NULL,
  properties JSONB NOT NULL DEFAULT '{}',
  context JSONB NOT NULL DEFAULT '{}',
  "timestamp" TIMESTAMP(3) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_user_id ON events(user_id);
CREATE INDEX IF NOT EXISTS idx_events_anonymous_id ON events(anonymous_id);
CREATE TABLE IF NOT EXISTS identity_graph (
  anonymous_id TEXT NOT NULL DEFAULT '',
  user_id TEXT NOT NULL DEFAULT '',
  email TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  device_fingerprint TEXT NOT NULL DEFAULT '',
  method TEXT NOT NULL,
  confidence DOUBLE PRECISION NOT NULL,
  first_seen TIMESTAMP(3) NOT NULL,
  last_seen TIMESTAMP(3) NOT NULL,
  last_event_id TEXT NOT NULL DEFAULT '',
  metadata JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_identity_graph_user_id ON identity_graph(user_id);
CREATE INDEX IF NOT EXISTS idx_identity_graph_anonymous_id ON identity_graph(anonymous_id);
CREATE INDEX IF NOT EXISTS idx_identity_graph_email ON identity_graph(email);
CREATE INDEX IF NOT EXISTS idx_identity_graph_phone ON identity_graph(phone);
CREATE INDEX IF NOT EXISTS idx_identity_graph_device_fingerprint ON identity_graph(device_fingerprint);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *PostgresRepo) InsertEvents(ctx context.Context, events []entity.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	// sqlx expands the VALUES tuple once per element.
	const q = `INSERT INTO events (event_id, anonymous_id, user_id, session_id, event_name, properties, context, "timestamp")
		VALUES (:event_id, :anonymous_id, :user_id, :session_id, :event_name,
			CAST(COALESCE(NULLIF(:properties, ''), '{}') AS JSONB),
			CAST(COALESCE(NULLIF(:context, ''), '{}') AS JSONB),
			CAST(:timestamp AS TIMESTAMP(3)))`
	res, err := r.db.NamedExecContext(ctx, q, events)
	if err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *PostgresRepo) InsertEdges(ctx context.Context, edges []entity.Edge) (int, error) {
	if len(edges) == 0 {
		return 0, nil
	}
	const q = `INSERT INTO identity_graph (anonymous_id, user_id, email, phone, device_fingerprint, method, confidence, first_seen, last_seen, last_event_id, metadata)
		VALUES (:anonymous_id, :user_id, :email, :phone, :device_fingerprint, :method, :confidence,
			CAST(:first_seen AS TIMESTAMP(3)), CAST(:last_seen AS TIMESTAMP(3)), :last_event_id,
			CAST(COALESCE(NULLIF(:metadata, ''), '{}') AS JSONB))`
	res, err := r.db.NamedExecContext(ctx, q, edges)
	if err != nil {
		return 0, fmt.Errorf("insert edges: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *PostgresRepo) AnonymousIDsByContact(ctx context.Context, email, phone string) ([]string, error) {
	if email == "" && phone == "" {
		return nil, nil
	}
	const q = `SELECT DISTINCT anonymous_id FROM identity_graph
		WHERE anonymous_id <> '' AND (($1 <> '' AND email = $1) OR ($2 <> '' AND phone = $2))
		ORDER BY anonymous_id`
	var out []string
	if err := r.db.SelectContext(ctx, &out, q, email, phone); err != nil {
		return nil, fmt.Errorf("query anonymous ids: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) FindEdges(ctx context.Context, sets entity.IdentifierSets) ([]entity.Edge, error) {
	if sets.Empty() {
		return nil, nil
	}
	const q = `SELECT anonymous_id, user_id, email, phone, device_fingerprint FROM identity_graph
		WHERE ` + anyMatch
	var out []entity.Edge
	if err := r.db.SelectContext(ctx, &out, q, membershipArgs(sets)...); err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	return out, nil
}

type profileRow struct {
	CanonicalUserID    string         `db:"canonical_user_id"`
	AnonymousIDs       pq.StringArray `db:"anonymous_ids"`
	Emails             pq.StringArray `db:"emails"`
	Phones             pq.StringArray `db:"phones"`
	DeviceFingerprints pq.StringArray `db:"device_fingerprints"`
	Methods            pq.StringArray `db:"methods"`
	EdgeCount          int64          `db:"edge_count"`
	LastSeen           string         `db:"last_seen"`
}

func (r *PostgresRepo) ProfileRows(ctx context.Context, q ProfileQuery) ([]entity.Profile, error) {
	users := entity.Set{}
	for _, u := range q.UserIDs {
		users.Add(u)
	}
	if len(users) == 0 && q.Email == "" {
		return nil, nil
	}
	const sql = `SELECT
  user_id AS canonical_user_id,
  COALESCE(array_agg(DISTINCT anonymous_id) FILTER (WHERE anonymous_id <> ''), '{}') AS anonymous_ids,
  COALESCE(array_agg(DISTINCT email) FILTER (WHERE email <> ''), '{}') AS emails,
  COALESCE(array_agg(DISTINCT phone) FILTER (WHERE phone <> ''), '{}') AS phones,
  COALESCE(array_agg(DISTINCT device_fingerprint) FILTER (WHERE device_fingerprint <> ''), '{}') AS device_fingerprints,
  array_agg(DISTINCT method) AS methods,
  count(*) AS edge_count,
  to_char(max(last_seen), 'YYYY-MM-DD HH24:MI:SS.MS') AS last_seen
FROM identity_graph
WHERE user_id IN (
  SELECT DISTINCT user_id FROM identity_graph
  WHERE user_id <> '' AND (user_id = ANY($1) OR ($2 <> '' AND email = $2))
)
GROUP BY user_id
ORDER BY edge_count DESC, max(last_seen) DESC
LIMIT 50`
	var rows []profileRow
	if err := r.db.SelectContext(ctx, &rows, sql, pq.Array(users.Sorted()), q.Email); err != nil {
		return nil, fmt.Errorf("query profile rollup: %w", err)
	}
	out := make([]entity.Profile, 0, len(rows))
	for _, row := range rows {
		out = append(out, entity.Profile{
			CanonicalUserID:    row.CanonicalUserID,
			AnonymousIDs:       []string(row.AnonymousIDs),
			Emails:             []string(row.Emails),
			Phones:             []string(row.Phones),
			DeviceFingerprints: []string(row.DeviceFingerprints),
			Methods:            []string(row.Methods),
			EdgeCount:          row.EdgeCount,
			LastSeen:           row.LastSeen,
		})
	}
	return out, nil
}

func (r *PostgresRepo) DeleteEdges(ctx context.Context, sets entity.IdentifierSets) (string, error) {
	if sets.Empty() {
		return "", nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM identity_graph WHERE `+anyMatch, membershipArgs(sets)...); err != nil {
		return "", fmt.Errorf("delete edges: %w", err)
	}
	return "", nil
}

func (r *PostgresRepo) DeleteEvents(ctx context.Context, sets entity.IdentifierSets) (string, error) {
	if len(sets.UserIDs) == 0 && len(sets.AnonymousIDs) == 0 {
		return "", nil
	}
	const q = `DELETE FROM events WHERE user_id = ANY($1) OR anonymous_id = ANY($2)`
	if _, err := r.db.ExecContext(ctx, q, pq.Array(sets.UserIDs.Sorted()), pq.Array(sets.AnonymousIDs.Sorted())); err != nil {
		return "", fmt.Errorf("delete events: %w", err)
	}
	return "", nil
}

// anyMatch is the parameterized form of BuildWhereClause; an empty array
// matches nothing.
const anyMatch = `user_id = ANY($1) OR email = ANY($2) OR phone = ANY($3) OR anonymous_id = ANY($4) OR device_fingerprint = ANY($5)`

func membershipArgs(sets entity.IdentifierSets) []any {
	return []any{
		pq.Array(sets.UserIDs.Sorted()),
		pq.Array(sets.Emails.Sorted()),
		pq.Array(sets.Phones.Sorted()),
		pq.Array(sets.AnonymousIDs.Sorted()),
		pq.Array(sets.DeviceFingerprints.Sorted()),
	}
}
