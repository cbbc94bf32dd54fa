package repo

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/analytics"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/database"
)

const (
	DriverAnalytics = "analytics"
	DriverPostgres  = "postgres"
	DriverMemory    = "memory"
)

// DriverFromEnv reads IDENTITY_STORE, defaulting to the analytics driver.
func DriverFromEnv() string {
	d := strings.ToLower(strings.TrimSpace(os.Getenv("IDENTITY_STORE")))
	if d == "" {
		return DriverAnalytics
	}
	return d
}

// Open builds the Store for driver. The returned close func is never nil.
// A missing analytics config is not an error here: the store answers
// ErrNotConfigured per call so the HTTP surface can report it.
func Open(ctx context.Context, driver string) (Store, func() error, error) {
	noop := func() error { return nil }
	switch driver {
	case DriverAnalytics:
		client := analytics.New(analytics.ConfigFromEnv(), nil)
		return NewAnalyticsRepo(client, AnalyticsConfigFromEnv()), noop, nil
	case DriverPostgres:
		db, err := database.Connect(ctx, database.ConfigFromEnv())
		if err != nil {
			return nil, noop, err
		}
		r := NewPostgresRepo(db)
		if err := r.EnsureTables(ctx); err != nil {
			db.Close()
			return nil, noop, fmt.Errorf("ensure tables: %w", err)
		}
		return r, db.Close, nil
	case DriverMemory:
		return NewMemoryStore(), noop, nil
	}
	return nil, noop, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
}
