package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/analytics"
)

// AnalyticsConfig names the datasources on the analytical store.
type AnalyticsConfig struct {
	EventsDatasource string
	GraphDatasource  string
	// MaxClosureRows bounds one FindEdges read.
	MaxClosureRows int
}

// AnalyticsConfigFromEnv reads datasource names, defaulting to events / identity_graph.
func AnalyticsConfigFromEnv() AnalyticsConfig {
	cfg := AnalyticsConfig{EventsDatasource: "events", GraphDatasource: "identity_graph", MaxClosureRows: 50000}
	if v := strings.TrimSpace(os.Getenv("ANALYTICS_EVENTS_DATASOURCE")); v != "" {
		cfg.EventsDatasource = v
	}
	if v := strings.TrimSpace(os.Getenv("ANALYTICS_GRAPH_DATASOURCE")); v != "" {
		cfg.GraphDatasource = v
	}
	return cfg
}

// analyticsClient is the subset of *analytics.Client used here.
type analyticsClient interface {
	Append(ctx context.Context, datasource string, rows []any) (int, error)
	Query(ctx context.Context, sql string) ([]map[string]any, error)
	Delete(ctx context.Context, datasource, condition string) (string, error)
}

// AnalyticsRepo stores events and edges on the analytical column store.
type AnalyticsRepo struct {
	client analyticsClient
	cfg    AnalyticsConfig
}

var _ Store = (*AnalyticsRepo)(nil)

// NewAnalyticsRepo wires the repo to an explicitly constructed client.
func NewAnalyticsRepo(client *analytics.Client, cfg AnalyticsConfig) *AnalyticsRepo {
	return newAnalyticsRepo(client, cfg)
}

func newAnalyticsRepo(client analyticsClient, cfg AnalyticsConfig) *AnalyticsRepo {
	if cfg.EventsDatasource == "" {
		cfg.EventsDatasource = "events"
	}
	if cfg.GraphDatasource == "" {
		cfg.GraphDatasource = "identity_graph"
	}
	if cfg.MaxClosureRows <= 0 {
		cfg.MaxClosureRows = 50000
	}
	return &AnalyticsRepo{client: client, cfg: cfg}
}

func (r *AnalyticsRepo) InsertEvents(ctx context.Context, events []entity.Event) (int, error) {
	rows := make([]any, len(events))
	for i := range events {
		rows[i] = events[i]
	}
	return r.client.Append(ctx, r.cfg.EventsDatasource, rows)
}

func (r *AnalyticsRepo) InsertEdges(ctx context.Context, edges []entity.Edge) (int, error) {
	rows := make([]any, len(edges))
	for i := range edges {
		rows[i] = edges[i]
	}
	return r.client.Append(ctx, r.cfg.GraphDatasource, rows)
}

func (r *AnalyticsRepo) AnonymousIDsByContact(ctx context.Context, email, phone string) ([]string, error) {
	var filters []string
	if email != "" {
		filters = append(filters, "email = "+quote(email))
	}
	if phone != "" {
		filters = append(filters, "phone = "+quote(phone))
	}
	if len(filters) == 0 {
		return nil, nil
	}
	sql := fmt.Sprintf("SELECT DISTINCT anonymous_id FROM %s WHERE anonymous_id != '' AND (%s)",
		r.cfg.GraphDatasource, strings.Join(filters, " OR "))
	rows, err := r.client.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query anonymous ids: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if v := stringOf(row["anonymous_id"]); v != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *AnalyticsRepo) FindEdges(ctx context.Context, sets entity.IdentifierSets) ([]entity.Edge, error) {
	where := BuildWhereClause(sets)
	if where == "" {
		return nil, nil
	}
	// one row past the cap tells a truncated read apart from a complete one
	sql := fmt.Sprintf("SELECT anonymous_id, user_id, email, phone, device_fingerprint FROM %s WHERE %s LIMIT %d",
		r.cfg.GraphDatasource, where, r.cfg.MaxClosureRows+1)
	rows, err := r.client.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	if len(rows) > r.cfg.MaxClosureRows {
		return nil, fmt.Errorf("%w: more than %d edges match", ErrTooManyEdges, r.cfg.MaxClosureRows)
	}
	edges := make([]entity.Edge, 0, len(rows))
	for _, row := range rows {
		edges = append(edges, entity.Edge{
			AnonymousID:       stringOf(row["anonymous_id"]),
			UserID:            stringOf(row["user_id"]),
			Email:             stringOf(row["email"]),
			Phone:             stringOf(row["phone"]),
			DeviceFingerprint: stringOf(row["device_fingerprint"]),
		})
	}
	return edges, nil
}

func (r *AnalyticsRepo) ProfileRows(ctx context.Context, q ProfileQuery) ([]entity.Profile, error) {
	users := entity.Set{}
	for _, u := range q.UserIDs {
		users.Add(u)
	}
	filters := []string{inList("user_id", users)}
	if q.Email != "" {
		filters = append(filters, "email = "+quote(q.Email))
	}
	match := or(filters...)
	if match == "" {
		return nil, nil
	}
	sql := fmt.Sprintf(`SELECT
  user_id AS canonical_user_id,
  groupUniqArrayIf(anonymous_id, anonymous_id != '') AS anonymous_ids,
  groupUniqArrayIf(email, email != '') AS emails,
  groupUniqArrayIf(phone, phone != '') AS phones,
  groupUniqArrayIf(device_fingerprint, device_fingerprint != '') AS device_fingerprints,
  groupUniqArray(method) AS methods,
  count() AS edge_count,
  max(last_seen) AS last_seen
FROM %s
WHERE user_id IN (
  SELECT DISTINCT user_id FROM %s WHERE user_id != '' AND (%s)
)
GROUP BY user_id
ORDER BY edge_count DESC, last_seen DESC
LIMIT 50`, r.cfg.GraphDatasource, r.cfg.GraphDatasource, match)
	rows, err := r.client.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query profile rollup: %w", err)
	}
	out := make([]entity.Profile, 0, len(rows))
	for _, row := range rows {
		out = append(out, entity.Profile{
			CanonicalUserID:    stringOf(row["canonical_user_id"]),
			AnonymousIDs:       stringsOf(row["anonymous_ids"]),
			Emails:             stringsOf(row["emails"]),
			Phones:             stringsOf(row["phones"]),
			DeviceFingerprints: stringsOf(row["device_fingerprints"]),
			Methods:            stringsOf(row["methods"]),
			EdgeCount:          int64Of(row["edge_count"]),
			LastSeen:           stringOf(row["last_seen"]),
		})
	}
	return out, nil
}

func (r *AnalyticsRepo) DeleteEdges(ctx context.Context, sets entity.IdentifierSets) (string, error) {
	where := BuildWhereClause(sets)
	if where == "" {
		return "", nil
	}
	return r.client.Delete(ctx, r.cfg.GraphDatasource, where)
}

func (r *AnalyticsRepo) DeleteEvents(ctx context.Context, sets entity.IdentifierSets) (string, error) {
	where := BuildEventsWhereClause(sets)
	if where == "" {
		return "", nil
	}
	return r.client.Delete(ctx, r.cfg.EventsDatasource, where)
}

// stringOf returns v when it is a string, "" otherwise.
func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// stringsOf coerces an array column; anything that is not an array of
// strings becomes an empty slice.
func stringsOf(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// int64Of accepts json.Number, float64 and numeric strings (64-bit counters
// are quoted in JSON output).
func int64Of(v any) int64 {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n
		}
	}
	return 0
}
