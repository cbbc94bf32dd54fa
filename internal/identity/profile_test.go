package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
)

func TestSelectProfile(t *testing.T) {
	rows := []entity.Profile{
		{CanonicalUserID: "u_small", EdgeCount: 1, LastSeen: "2024-05-01 00:00:00.000"},
		{CanonicalUserID: "u_big_old", EdgeCount: 5, LastSeen: "2024-01-01 00:00:00.000"},
		{CanonicalUserID: "u_big_new", EdgeCount: 5, LastSeen: "2024-02-01 00:00:00.000"},
	}
	assert.Equal(t, "u_small", selectProfile(rows, "u_small").CanonicalUserID)
	assert.Equal(t, "u_big_new", selectProfile(rows, "u_missing").CanonicalUserID)
	assert.Equal(t, "u_big_new", selectProfile(rows, "").CanonicalUserID)
	assert.Nil(t, selectProfile(nil, "u"))
	assert.Nil(t, selectProfile([]entity.Profile{{EdgeCount: 9}}, ""))
}

func TestProfile(t *testing.T) {
	store := newCountingStore()
	cache := newRecordingCache()
	svc := newTestService(t, store, cache)
	ctx := context.Background()
	_, err := store.InsertEdges(ctx, []entity.Edge{
		{AnonymousID: "anon_a", UserID: "u1", Email: "jane@example.com", Method: entity.MethodLogin, Confidence: 1, LastSeen: "2024-01-01 00:00:00.000"},
		{AnonymousID: "anon_b", UserID: "u1", DeviceFingerprint: "fp", Method: entity.MethodUserID, Confidence: 1, LastSeen: "2024-01-02 00:00:00.000"},
		{AnonymousID: "anon_fp", DeviceFingerprint: "fp", Method: entity.MethodDeviceObservation, Confidence: 0.8},
	})
	require.NoError(t, err)

	p, err := svc.Profiles.Profile(ctx, " u1 ", "")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "u1", p.CanonicalUserID)
	assert.Equal(t, []string{"anon_a", "anon_b"}, p.AnonymousIDs)
	assert.EqualValues(t, 2, p.EdgeCount)
	assert.Equal(t, "2024-01-02 00:00:00.000", p.LastSeen)

	before := store.calls["ProfileRows"]
	_, err = svc.Profiles.Profile(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, before, store.calls["ProfileRows"], "second read served from cache")

	none, err := svc.Profiles.Profile(ctx, "nobody", "")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = svc.Profiles.Profile(ctx, "", "jane@example.com")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestProfile_EmailFallback(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store, nil)
	_, err := store.InsertEdges(context.Background(), []entity.Edge{
		{AnonymousID: "anon_a", UserID: "u_real", Email: "jane@example.com", Method: entity.MethodEmail, Confidence: 1},
	})
	require.NoError(t, err)
	p, err := svc.Profiles.Profile(context.Background(), "u_typo", "JANE@example.com")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "u_real", p.CanonicalUserID)
}

func TestAttribute_DeviceFingerprintLinkedSession(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	// anon_guest browsed on the same device before anon_login identified.
	_, err := svc.Ingest(ctx, []byte(`[
		{"event":"page_view","anonymous_id":"anon_guest","context":{"device":{"id":"dev_1"}}},
		{"event":"page_view","anonymous_id":"anon_login","context":{"device":{"id":"dev_1"}}},
		{"type":"identify","anonymousId":"anon_login","userId":"u_jane","traits":{"email":"jane@example.com"}}
	]`), nil)
	require.NoError(t, err)

	user, err := svc.Profiles.Attribute(ctx, "anon_guest")
	require.NoError(t, err)
	assert.Equal(t, "u_jane", user)

	user, err = svc.Profiles.Attribute(ctx, "anon_never_seen")
	require.NoError(t, err)
	assert.Empty(t, user)
}

func TestAttribute_PicksBestProfile(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store, nil)
	_, err := store.InsertEdges(context.Background(), []entity.Edge{
		{AnonymousID: "anon_shared", UserID: "u_minor", Method: entity.MethodUserID, Confidence: 1},
		{AnonymousID: "anon_shared", UserID: "u_main", Method: entity.MethodUserID, Confidence: 1},
		{AnonymousID: "anon_2", UserID: "u_main", Method: entity.MethodUserID, Confidence: 1},
	})
	require.NoError(t, err)
	user, err := svc.Profiles.Attribute(context.Background(), "anon_shared")
	require.NoError(t, err)
	assert.Equal(t, "u_main", user)
}
