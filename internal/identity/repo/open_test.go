package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
)

func TestDriverFromEnv(t *testing.T) {
	t.Setenv("IDENTITY_STORE", "")
	assert.Equal(t, DriverAnalytics, DriverFromEnv())

	t.Setenv("IDENTITY_STORE", " Memory ")
	assert.Equal(t, DriverMemory, DriverFromEnv())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, closeFn, err := Open(ctx, DriverMemory)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
	assert.NoError(t, closeFn())

	_, closeFn, err = Open(ctx, "cassandra")
	assert.ErrorIs(t, err, ErrUnknownDriver)
	assert.NotNil(t, closeFn)
}

func TestOpen_AnalyticsWithoutConfigAnswersPerCall(t *testing.T) {
	t.Setenv("ANALYTICS_API_URL", "")
	t.Setenv("ANALYTICS_API_TOKEN", "")

	store, closeFn, err := Open(context.Background(), DriverAnalytics)
	require.NoError(t, err)
	defer closeFn()

	_, err = store.FindEdges(context.Background(), entity.SetsFromSeed(entity.Seed{AnonymousID: "anon_a"}))
	assert.ErrorIs(t, err, ErrNotConfigured)
}
