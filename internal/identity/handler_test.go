package identity

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
)

func newTestHandler(t *testing.T, store repo.Store) *Handler {
	t.Helper()
	return NewHandler(newTestService(t, store, nil), zap.NewNop().Sugar())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandler_Events(t *testing.T) {
	store := newCountingStore()
	h := newTestHandler(t, store)

	req := httptest.NewRequest(http.MethodPost, "/identity/events",
		strings.NewReader(`[{"event":"page_view","context":{"device":{"id":"d1"}}}]`))
	req.AddCookie(&http.Cookie{Name: "ajs_anonymous_id", Value: "anon_cookie"})
	rec := httptest.NewRecorder()
	h.Events(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"inserted":1,"edges":1,"merges":0}`, rec.Body.String())
	assert.Equal(t, "anon_cookie", store.Events()[0].AnonymousID)
}

func TestHandler_EventsValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty batch", body: `[]`, want: "at least one event is required"},
		{name: "non-object", body: `[1]`, want: "events[0] must be a JSON object"},
		{name: "missing name", body: `{"anonymous_id":"a"}`, want: "events[0]: Missing event name"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			store := newCountingStore()
			rec := httptest.NewRecorder()
			newTestHandler(t, store).Events(rec, httptest.NewRequest(http.MethodPost, "/identity/events", strings.NewReader(test.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, test.want, body["error"])
			assert.Zero(t, store.total())
		})
	}
}

func TestHandler_EventsPartialWrite(t *testing.T) {
	store := newCountingStore()
	store.insertEdgesErr = errors.New("graph down")
	rec := httptest.NewRecorder()
	newTestHandler(t, store).Events(rec, httptest.NewRequest(http.MethodPost, "/identity/events",
		strings.NewReader(`{"event":"x","anonymous_id":"a","user_id":"u"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "events persisted, identity edges failed: graph down", decode(t, rec)["error"])
}

func TestHandler_StoreNotConfigured(t *testing.T) {
	store := newCountingStore()
	store.findEdgesErr = repo.ErrNotConfigured
	rec := httptest.NewRecorder()
	newTestHandler(t, store).Resolve(rec, httptest.NewRequest(http.MethodGet, "/identity/resolve?anonymous_id=a", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "analytics store is not configured (ANALYTICS_API_URL, ANALYTICS_API_TOKEN)", decode(t, rec)["error"])
}

func TestHandler_Alias(t *testing.T) {
	store := newCountingStore()
	_, err := store.InsertEdges(t.Context(), []entity.Edge{
		{AnonymousID: "anon_old", Email: "jane@example.com", DeviceFingerprint: "fp", Method: entity.MethodDeviceObservation, Confidence: 0.8},
	})
	require.NoError(t, err)
	h := newTestHandler(t, store)

	rec := httptest.NewRecorder()
	h.Alias(rec, httptest.NewRequest(http.MethodPost, "/identity/alias",
		strings.NewReader(`{"userId":"u1","email":"Jane@Example.com","anonymousId":"anon_now"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"userId":"u1","mergedAnonymousIds":["anon_now","anon_old"],"mergedCount":2,"insertedRows":2}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Alias(rec, httptest.NewRequest(http.MethodPost, "/identity/alias", strings.NewReader(`{"email":"jane@example.com"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "userId is required", decode(t, rec)["error"])

	rec = httptest.NewRecorder()
	h.Alias(rec, httptest.NewRequest(http.MethodPost, "/identity/alias", strings.NewReader(`{"userId":`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Admin(t *testing.T) {
	store := newCountingStore()
	h := newTestHandler(t, store)

	rec := httptest.NewRecorder()
	h.Admin(rec, httptest.NewRequest(http.MethodGet, "/identity/admin?user_id=ghost", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"profile":null}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Admin(rec, httptest.NewRequest(http.MethodGet, "/identity/admin", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "user_id is required", decode(t, rec)["error"])
}

func TestHandler_Erase(t *testing.T) {
	store := newCountingStore()
	_, err := store.InsertEdges(t.Context(), []entity.Edge{
		{AnonymousID: "anon_a", UserID: "u1", Email: "jane@example.com", Method: entity.MethodEmail, Confidence: 1},
	})
	require.NoError(t, err)
	h := newTestHandler(t, store)

	rec := httptest.NewRecorder()
	h.Erase(rec, httptest.NewRequest(http.MethodDelete, "/identity/gdpr", strings.NewReader(`{"email":"jane@example.com"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"ok": true,
		"mutationQueued": true,
		"identifiers": {"userIds":["u1"],"emails":["jane@example.com"],"phones":[],"anonymousIds":["anon_a"],"deviceFingerprints":[]},
		"jobIds": []
	}`, rec.Body.String())
	assert.Empty(t, store.Edges())

	rec = httptest.NewRecorder()
	h.Erase(rec, httptest.NewRequest(http.MethodPost, "/identity/gdpr", strings.NewReader(`{"email":"nope"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Resolve(t *testing.T) {
	store := newCountingStore()
	_, err := store.InsertEdges(t.Context(), []entity.Edge{
		{AnonymousID: "anon_a", UserID: "u1", Method: entity.MethodUserID, Confidence: 1},
	})
	require.NoError(t, err)
	h := newTestHandler(t, store)

	rec := httptest.NewRecorder()
	h.Resolve(rec, httptest.NewRequest(http.MethodGet, "/identity/resolve?anonymous_id=anon_a", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"anonymousId":"anon_a","canonicalUserId":"u1"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Resolve(rec, httptest.NewRequest(http.MethodGet, "/identity/resolve?anonymous_id=stranger", nil))
	assert.JSONEq(t, `{"ok":true,"anonymousId":"stranger","canonicalUserId":null}`, rec.Body.String())
}
