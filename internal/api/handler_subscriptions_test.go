package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-dashboard-backend/internal/model"
)

func TestPutSubscription_InvalidRequest(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user("alice@example.com", "Alice", model.RoleUser)

	w := env.do(http.MethodPut, "/api/subscriptions", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())
}

func TestSubscriptionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	alice, token := env.user("alice@example.com", "Alice", model.RoleUser)
	_, bobToken := env.user("bob@example.com", "Bob", model.RoleUser)

	endpoint := "https://push.example.com/send/abc?x=1"
	w := env.do(http.MethodPut, "/api/subscriptions", token, obj{"endpoint": endpoint, "p256dh": "key", "auth": "secret"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	subs, err := env.store.ListSubscriptionsForUser(testCtx(), alice.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	query := "/api/subscriptions?endpoint=" + url.QueryEscape(endpoint)
	// The endpoint is matched raw, so an escaped query does not match.
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, query, token, nil).Code)

	assert.Equal(t, http.StatusOK, env.getRaw("/api/subscriptions", "endpoint="+endpoint, token).Code)

	// Another user cannot see or delete alice's subscription.
	assert.Equal(t, http.StatusNotFound, env.getRaw("/api/subscriptions", "endpoint="+endpoint, bobToken).Code)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/subscriptions", bobToken, obj{"endpoint": endpoint}).Code)
	subs, err = env.store.ListSubscriptionsForUser(testCtx(), alice.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/subscriptions", token, obj{"endpoint": endpoint}).Code)
	subs, err = env.store.ListSubscriptionsForUser(testCtx(), alice.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

// getRaw sends a GET whose query string is used verbatim.
func (e *testEnv) getRaw(path, rawQuery, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.URL.RawQuery = rawQuery
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestGetVAPIDPublicKey(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/api/vapid_public_key", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"test-public-key"}`, w.Body.String())
}
