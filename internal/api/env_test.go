package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"farm-dashboard-backend/config"
	"farm-dashboard-backend/internal/auth"
	"farm-dashboard-backend/internal/claim"
	"farm-dashboard-backend/internal/farm"
	"farm-dashboard-backend/internal/ingest"
	"farm-dashboard-backend/internal/invite"
	"farm-dashboard-backend/internal/model"
	"farm-dashboard-backend/internal/store"
	"farm-dashboard-backend/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type obj = map[string]any

func testCtx() context.Context { return context.Background() }

type testEnv struct {
	t      *testing.T
	cfg    *config.Config
	store  store.Store
	auth   *auth.Service
	router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{}
	cfg.Auth.SessionSecret = "test-secret"
	cfg.Auth.IdentityRelaySecret = "relay-secret"
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000
	cfg.Ingest.RateLimitPerSec = 1000
	cfg.Ingest.RateLimitBurst = 1000
	config.ApplyDefaults(cfg)

	log := zap.NewNop()
	s := store.NewGormStore(testutil.NewSQLiteDB(t))
	invites := invite.NewService(s, cfg.Invites.TTL, log)
	authSvc := auth.NewService(s, invites, auth.NewSessions(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL), bcrypt.MinCost, log)
	farms := farm.NewService(s, s)

	router := NewRouter(Deps{
		Config:  cfg,
		Store:   s,
		Auth:    authSvc,
		Invites: invites,
		Claims:  claim.NewService(s, s, s, farms, log),
		Farms:   farms,
		Ingest:  ingest.NewService(cfg.Ingest, s, s, nil, log),
		WebPush: &webpush.Options{VAPIDPublicKey: "test-public-key"},
		Log:     log,
	})
	return &testEnv{t: t, cfg: cfg, store: s, auth: authSvc, router: router}
}

// user creates an account and returns it with a session token.
func (e *testEnv) user(email, name string, role model.Role) (*model.User, string) {
	e.t.Helper()
	u := &model.User{Email: email, Name: name, Role: role}
	require.NoError(e.t, e.store.CreateUser(testCtx(), u))
	token, _, err := e.auth.Sessions().Issue(u)
	require.NoError(e.t, err)
	return u, token
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) device(id string, owner *string, readings int) {
	e.t.Helper()
	_, err := e.store.CreateDeviceIfAbsent(testCtx(), &model.Device{DeviceID: id, Name: "Sensor " + id, Location: "Block A", APIKey: "key-" + id, OwnerID: owner, Status: model.StatusAutoRegistered})
	require.NoError(e.t, err)
	now := time.Now().UTC()
	batch := make([]model.Reading, readings)
	for i := range batch {
		v := 3.0 + float64(i)
		batch[i] = model.Reading{DeviceID: id, OwnerID: owner, BatteryVoltage: &v, RecordedAt: now.Add(-time.Duration(i) * time.Minute), ReceivedAt: now}
	}
	require.NoError(e.t, e.store.InsertReadings(testCtx(), batch))
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
