package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"farm-dashboard-backend/config"
	"farm-dashboard-backend/internal/api"
	"farm-dashboard-backend/internal/auth"
	"farm-dashboard-backend/internal/claim"
	"farm-dashboard-backend/internal/farm"
	"farm-dashboard-backend/internal/ingest"
	"farm-dashboard-backend/internal/invite"
	"farm-dashboard-backend/internal/liveness"
	"farm-dashboard-backend/internal/model"
	"farm-dashboard-backend/internal/notification"
	"farm-dashboard-backend/internal/store"
	"farm-dashboard-backend/internal/testutil"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (d *recordingDispatcher) Dispatch(a notification.Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, a)
}

func (d *recordingDispatcher) forUser(userID string) []notification.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []notification.Alert
	for _, a := range d.alerts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out
}

type client struct {
	t      *testing.T
	router http.Handler
}

func (c client) call(method, path, token string, header http.Header, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

// TestDeviceLifecycle drives a device from its first upload through a claim,
// an offline sweep and its owner's removal, checking the database after each
// step.
func TestDeviceLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	// --- Test Setup ---
	cfg := &config.Config{}
	cfg.Auth.SessionSecret = "integration-secret"
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000
	cfg.Ingest.RateLimitPerSec = 1000
	cfg.Ingest.RateLimitBurst = 1000
	config.ApplyDefaults(cfg)
	cfg.Server.CacheTTL = 0

	log := zap.NewNop()
	testDB := testutil.NewSQLiteDB(t)
	appStore := store.NewGormStore(testDB)
	alerts := &recordingDispatcher{}

	invites := invite.NewService(appStore, cfg.Invites.TTL, log)
	authSvc := auth.NewService(appStore, invites, auth.NewSessions(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL), bcrypt.MinCost, log)
	farms := farm.NewService(appStore, appStore)
	router := api.NewRouter(api.Deps{
		Config:  cfg,
		Store:   appStore,
		Auth:    authSvc,
		Invites: invites,
		Claims:  claim.NewService(appStore, appStore, appStore, farms, log),
		Farms:   farms,
		Ingest:  ingest.NewService(cfg.Ingest, appStore, appStore, alerts, log),
		WebPush: &webpush.Options{},
		Log:     log,
	})
	c := client{t: t, router: router}

	admin, err := authSvc.CreateAdmin(ctx, "root@example.com", "Root", "admin-password")
	require.NoError(t, err)
	adminLogin := c.call(http.MethodPost, "/api/auth/login", "", nil, map[string]string{"email": "root@example.com", "password": "admin-password"})
	require.Equal(t, http.StatusOK, adminLogin.Code)
	var adminSession auth.SignIn
	decodeInto(t, adminLogin, &adminSession)

	var (
		growerID    string
		growerToken string
		apiKey      string
	)

	t.Run("Step 1: Admin invites a grower who signs up", func(t *testing.T) {
		w := c.call(http.MethodPost, "/api/admin/invites", adminSession.Token, nil, map[string]string{"email": "Grower@Example.com"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var created struct {
			Token  string       `json:"token"`
			Invite model.Invite `json:"invite"`
		}
		decodeInto(t, w, &created)
		assert.Equal(t, "grower@example.com", created.Invite.Email)
		assert.Equal(t, admin.ID, created.Invite.InvitedBy)

		w = c.call(http.MethodPost, "/api/auth/register", "", nil, map[string]string{
			"email": "grower@example.com", "name": "Grower", "password": "grower-password", "token": created.Token,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var signIn auth.SignIn
		decodeInto(t, w, &signIn)
		growerID, growerToken = signIn.User.ID, signIn.Token

		inv, err := appStore.FindInvite(ctx, created.Invite.ID)
		require.NoError(t, err)
		assert.NotNil(t, inv.UsedAt, "invite should be consumed")

		again := c.call(http.MethodPost, "/api/auth/register", "", nil, map[string]string{
			"email": "grower@example.com", "password": "grower-password", "token": created.Token,
		})
		assert.NotEqual(t, http.StatusCreated, again.Code, "an invite is single use")
	})

	t.Run("Step 2: Unknown device uploads and registers itself", func(t *testing.T) {
		w := c.call(http.MethodPost, "/api/ingest", "", nil, []map[string]any{
			{"deviceId": "FIELD-7", "timestamp": time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339), "moisture": 35.5},
			{"deviceId": "FIELD-7", "timestamp": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339), "moisture": 34.0},
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var res ingest.Result
		decodeInto(t, w, &res)
		assert.Equal(t, 2, res.Accepted)
		apiKey = res.APIKey

		d, err := appStore.FindDevice(ctx, "FIELD-7")
		require.NoError(t, err)
		assert.True(t, d.IsUnassigned())
		assert.Equal(t, model.StatusAutoRegistered, d.Status)
		assert.True(t, d.IsOnline)

		var unowned int64
		require.NoError(t, testDB.Model(&model.Reading{}).Where("device_id = ? AND owner_id IS NULL", "FIELD-7").Count(&unowned).Error)
		assert.Equal(t, int64(2), unowned)
	})

	t.Run("Step 3: Grower claims the device into a farm", func(t *testing.T) {
		w := c.call(http.MethodPost, "/api/farms", growerToken, nil, map[string]string{"name": "River Field"})
		require.Equal(t, http.StatusCreated, w.Code)
		var f model.Farm
		decodeInto(t, w, &f)

		w = c.call(http.MethodPost, "/api/devices/claim", growerToken, nil, map[string]string{"deviceId": "FIELD-7", "farmId": f.ID})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var body struct {
			Success bool         `json:"success"`
			Device  claim.Result `json:"device"`
		}
		decodeInto(t, w, &body)
		assert.True(t, body.Success)
		assert.Equal(t, int64(2), body.Device.HistoricalReadingsTransferred)
		require.NotNil(t, body.Device.FarmID)
		assert.Equal(t, f.ID, *body.Device.FarmID)

		var owned int64
		require.NoError(t, testDB.Model(&model.Reading{}).Where("device_id = ? AND owner_id = ?", "FIELD-7", growerID).Count(&owned).Error)
		assert.Equal(t, int64(2), owned)
	})

	t.Run("Step 4: New readings carry the owner and show on the dashboard", func(t *testing.T) {
		header := http.Header{api.DeviceKeyHeader: []string{apiKey}}
		w := c.call(http.MethodPost, "/api/ingest", "", header, map[string]any{"deviceId": "FIELD-7", "moisture": 33.0, "batteryVoltage": 3.1})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		lowBattery := alerts.forUser(growerID)
		require.Len(t, lowBattery, 1)
		assert.Equal(t, "FIELD-7", lowBattery[0].DeviceID)

		w = c.call(http.MethodGet, "/api/dashboard", growerToken, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var dash struct {
			Totals struct {
				Devices    int `json:"devices"`
				Online     int `json:"online"`
				LowBattery int `json:"lowBattery"`
			} `json:"totals"`
			Devices []api.DeviceResponse `json:"devices"`
		}
		decodeInto(t, w, &dash)
		assert.Equal(t, 1, dash.Totals.Devices)
		assert.Equal(t, 1, dash.Totals.Online)
		assert.Equal(t, 1, dash.Totals.LowBattery)
		require.Len(t, dash.Devices, 1)
		require.NotNil(t, dash.Devices[0].Latest)
		assert.InDelta(t, 33.0, *dash.Devices[0].Latest.Moisture, 0.001)

		n, err := appStore.CountReadings(ctx, "FIELD-7")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("Step 5: Silent device goes offline and its owner is alerted", func(t *testing.T) {
		// A negative window puts the cutoff in the future, so every device is stale.
		sweeper := liveness.NewService(config.LivenessConfig{Enabled: true, OfflineAfter: -time.Minute}, appStore, alerts, log)
		assert.Equal(t, 1, sweeper.SweepOnce(ctx))
		assert.Equal(t, 0, sweeper.SweepOnce(ctx), "an offline device is not swept twice")

		d, err := appStore.FindDevice(ctx, "FIELD-7")
		require.NoError(t, err)
		assert.False(t, d.IsOnline)
		assert.Len(t, alerts.forUser(growerID), 2)
	})

	t.Run("Step 6: Admin removes the grower", func(t *testing.T) {
		w := c.call(http.MethodDelete, "/api/admin/users/"+growerID, adminSession.Token, nil, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		_, err := appStore.FindDevice(ctx, "FIELD-7")
		assert.ErrorIs(t, err, store.ErrNotFound)

		n, err := appStore.CountReadings(ctx, "FIELD-7")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n, "telemetry outlives its device")

		w = c.call(http.MethodGet, "/api/auth/me", growerToken, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "the session died with its user")
	})
}
