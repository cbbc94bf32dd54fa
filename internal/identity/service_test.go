package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
)

func TestIngest_BadBatchMakesNoStoreCalls(t *testing.T) {
	for _, body := range []string{`[]`, `[{"event":"ok"}, "bad"]`, `[{"event":"ok"}, {"anonymous_id":"x"}]`} {
		store := newCountingStore()
		svc := newTestService(t, store, nil)
		_, err := svc.Ingest(context.Background(), []byte(body), nil)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), body)
		assert.Zero(t, store.total(), body)
	}
}

func TestIngest_EmitsEdges(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store, nil)
	body := `[
		{"event_name":"page_view","anonymous_id":"anon_a","user_id":"u1"},
		{"type":"identify","anonymousId":"anon_b","userId":"u1"},
		{"event":"scroll","anonymous_id":"anon_c","context":{"device":{"id":"dev_x"}},"traits":{"email":"c@d.io"}},
		{"event":"scroll","anonymous_id":"anon_d"},
		{"event":"server_side","user_id":"u9"}
	]`
	res, err := svc.Ingest(context.Background(), []byte(body), nil)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Inserted: 5, Edges: 3, Merges: 0}, res)

	edges := store.Edges()
	require.Len(t, edges, 3)
	assert.Equal(t, entity.MethodUserID, edges[0].Method)
	assert.Equal(t, entity.MethodLogin, edges[1].Method)
	assert.Equal(t, 1.0, edges[1].Confidence)

	fp := edges[2]
	assert.Equal(t, entity.MethodDeviceObservation, fp.Method)
	assert.Equal(t, entity.ConfidenceDeviceFingerprint, fp.Confidence)
	assert.Equal(t, "dev_x", fp.DeviceFingerprint)
	assert.Equal(t, "c@d.io", fp.Email)
	assert.Empty(t, fp.UserID)
	for _, e := range edges {
		assert.NoError(t, e.Validate())
		assert.Equal(t, "2024-03-05 05:08:09.123", e.LastSeen)
	}
}

func TestIngest_IdentifyMergesAcrossPhoneRenderings(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, []byte(`{"event":"signup_form","anonymous_id":"anon_old","context":{"device_fingerprint":"fp1"},"properties":{"phone":"+1 (555) 123-4567"}}`), nil)
	require.NoError(t, err)

	res, err := svc.Ingest(ctx, []byte(`{"type":"identify","anonymousId":"anon_new","userId":"u1","traits":{"phone":"15551234567"}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merges)

	linked := map[string]bool{}
	for _, e := range store.Edges() {
		if e.UserID == "u1" && e.Method == entity.MethodPhone {
			linked[e.AnonymousID] = true
			assert.Contains(t, e.Metadata, `"source":"identify_event"`)
		}
	}
	assert.True(t, linked["anon_old"], "earlier anonymous session linked through the normalized phone")
	assert.True(t, linked["anon_new"])
}

func TestIngest_DedupesMergeRequests(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store, nil)
	one := `{"type":"identify","anonymousId":"anon_a","userId":"u1","traits":{"email":"a@b.co"}}`
	res, err := svc.Ingest(context.Background(), []byte("["+one+","+one+"]"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Merges)
	assert.Equal(t, 1, store.calls["AnonymousIDsByContact"])
}

func TestIngest_EdgeFailureAfterEvents(t *testing.T) {
	store := newCountingStore()
	store.insertEdgesErr = errors.New("graph unavailable")
	svc := newTestService(t, store, nil)

	res, err := svc.Ingest(context.Background(), []byte(`{"event":"x","anonymous_id":"a","user_id":"u"}`), nil)
	var perr *PartialWriteError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "events persisted, identity edges failed: graph unavailable", err.Error())
	assert.Equal(t, 1, res.Inserted)
	assert.Len(t, store.Events(), 1, "events stay written")
	assert.Equal(t, 1, store.calls["InsertEdges"], "no retry")
}

func TestIngest_IdentifyWithoutAnonymousIDDoesNotMerge(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, []byte(`{"event":"signup_form","anonymous_id":"anon_old","context":{"device_fingerprint":"fp1"},"traits":{"email":"a@b.co"}}`), nil)
	require.NoError(t, err)
	before := len(store.Edges())

	res, err := svc.Ingest(ctx, []byte(`{"type":"identify","userId":"u1","traits":{"email":"a@b.co"}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Inserted: 1, Edges: 0, Merges: 0}, res)
	assert.Len(t, store.Edges(), before)
	assert.Zero(t, store.calls["AnonymousIDsByContact"])
}

func TestIngest_InvalidEdgeRejectsWholeBatch(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store, nil)
	svc.validate = func([]entity.Edge) error { return fmt.Errorf("edge 0: %w", entity.ErrEdgeConfidence) }

	res, err := svc.Ingest(context.Background(), []byte(`{"event":"x","anonymous_id":"a","user_id":"u"}`), nil)
	assert.ErrorIs(t, err, entity.ErrEdgeConfidence)
	assert.Equal(t, IngestResult{}, res)
	assert.Zero(t, store.total())
	assert.Empty(t, store.Events())
}
