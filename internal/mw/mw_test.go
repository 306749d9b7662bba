package mw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"farm-dashboard-backend/internal/auth"
	"farm-dashboard-backend/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func tokenFor(t *testing.T, sessions *auth.Sessions, id string, role model.Role) string {
	t.Helper()
	token, _, err := sessions.Issue(&model.User{ID: id, Email: id + "@example.com", Role: role})
	require.NoError(t, err)
	return token
}

// userTable authenticates against an in-memory role table keyed by user id.
type userTable struct {
	sessions *auth.Sessions
	roles    map[string]model.Role
}

func newUserTable(ids ...string) *userTable {
	u := &userTable{sessions: auth.NewSessions("secret", time.Hour), roles: map[string]model.Role{}}
	for _, id := range ids {
		u.roles[id] = model.RoleUser
	}
	return u
}

func (u *userTable) Authenticate(_ context.Context, token string) (*auth.Session, error) {
	s, err := u.sessions.Parse(token)
	if err != nil {
		return nil, err
	}
	role, ok := u.roles[s.UserID]
	if !ok {
		return nil, auth.ErrInvalidSession
	}
	s.Role = role
	return s, nil
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSessionGuards(t *testing.T) {
	users := newUserTable("u-1", "u-2", "root")
	users.roles["root"] = model.RoleAdmin
	sessions := users.sessions
	r := gin.New()
	r.Use(Session(users))
	r.GET("/me", RequireSession(), func(c *gin.Context) {
		s, _ := SessionFrom(c)
		c.String(http.StatusOK, s.UserID)
	})
	r.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, sessions, "u-1", model.RoleUser))
	w := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-1", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tokenFor(t, sessions, "u-2", model.RoleUser)})
	assert.Equal(t, "u-2", serve(r, req).Body.String())

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, sessions, "u-1", model.RoleUser))
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, sessions, "root", model.RoleAdmin))
	assert.Equal(t, http.StatusNoContent, serve(r, req).Code)
}

func TestSession_FollowsStoredUser(t *testing.T) {
	users := newUserTable("carol", "dave")
	users.roles["carol"] = model.RoleAdmin
	r := gin.New()
	r.Use(Session(users))
	r.GET("/me", RequireSession(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	carol := tokenFor(t, users.sessions, "carol", model.RoleAdmin)
	dave := tokenFor(t, users.sessions, "dave", model.RoleUser)

	get := func(path, token string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		return serve(r, req).Code
	}
	require.Equal(t, http.StatusNoContent, get("/admin", carol))

	users.roles["carol"] = model.RoleUser
	assert.Equal(t, http.StatusForbidden, get("/admin", carol), "token role is not trusted after a demotion")

	require.Equal(t, http.StatusNoContent, get("/me", dave))
	delete(users.roles, "dave")
	assert.Equal(t, http.StatusUnauthorized, get("/me", dave), "token of a deleted user is not a session")
}

func TestCache_ScopedPerUser(t *testing.T) {
	users := newUserTable("alice", "bob")
	sessions := users.sessions
	store := cache.New(time.Minute, time.Minute)
	calls := 0

	r := gin.New()
	r.Use(Session(users))
	r.GET("/dashboard", Cache(store, time.Minute), func(c *gin.Context) {
		calls++
		s, _ := SessionFrom(c)
		c.JSON(http.StatusOK, gin.H{"user": s.UserID, "calls": calls})
	})

	get := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, sessions, user, model.RoleUser))
		return serve(r, req)
	}

	assert.JSONEq(t, `{"user":"alice","calls":1}`, get("alice").Body.String())
	hit := get("alice")
	assert.JSONEq(t, `{"user":"alice","calls":1}`, hit.Body.String())
	assert.Equal(t, "HIT", hit.Header().Get("X-Cache"))
	assert.Equal(t, "application/json; charset=utf-8", hit.Header().Get("Content-Type"))

	assert.JSONEq(t, `{"user":"bob","calls":2}`, get("bob").Body.String())

	InvalidateUser(store, "alice")
	assert.JSONEq(t, `{"user":"alice","calls":3}`, get("alice").Body.String())
	assert.JSONEq(t, `{"user":"bob","calls":2}`, get("bob").Body.String())
}

func TestRateLimiter(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(1), 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		codes[i] = serve(r, req).Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
}
