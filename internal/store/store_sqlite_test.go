package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"farm-dashboard-backend/internal/model"
	"farm-dashboard-backend/internal/store"
	"farm-dashboard-backend/internal/testutil"
)

func strPtr(s string) *string { return &s }
func f64Ptr(f float64) *float64 { return &f }

func newStore(t *testing.T) store.Store {
	return store.NewGormStore(testutil.NewSQLiteDB(t))
}

func seedDevice(t *testing.T, s store.Store, id string, owner *string) {
	t.Helper()
	created, err := s.CreateDeviceIfAbsent(context.Background(), &model.Device{
		DeviceID: id,
		Name:     id,
		OwnerID:  owner,
		APIKey:   "key-" + id,
		Status:   model.StatusAutoRegistered,
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestCreateDeviceIfAbsent_DoesNotOverwrite(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedDevice(t, s, "D1", strPtr(model.OwnerUnassigned))

	created, err := s.CreateDeviceIfAbsent(ctx, &model.Device{DeviceID: "D1", Name: "other", APIKey: "other", Status: model.StatusUnassigned})
	require.NoError(t, err)
	assert.False(t, created)

	d, err := s.FindDevice(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "key-D1", d.APIKey)
}

func TestClaimDeviceIfUnassigned(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedDevice(t, s, "D1", strPtr(model.OwnerUnassigned))
	seedDevice(t, s, "D2", nil)
	seedDevice(t, s, "D3", strPtr("u-owner"))

	change := store.OwnershipChange{OwnerID: "u-1", OwnerEmail: "a@example.com", At: time.Now().UTC()}

	n, err := s.ClaimDeviceIfUnassigned(ctx, "D1", change)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.ClaimDeviceIfUnassigned(ctx, "D1", store.OwnershipChange{OwnerID: "u-2", At: time.Now().UTC()})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "second claim must not match")

	n, err = s.ClaimDeviceIfUnassigned(ctx, "D2", change)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "null owner counts as unassigned")

	n, err = s.ClaimDeviceIfUnassigned(ctx, "D3", change)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	d, err := s.FindDevice(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", d.Owner())
	assert.Equal(t, "a@example.com", d.ClaimedByEmail)
	assert.Equal(t, model.StatusClaimed, d.Status)
	assert.NotNil(t, d.ClaimedAt)
}

func TestReassignReadings(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedDevice(t, s, "D1", strPtr("u-old"))

	now := time.Now().UTC()
	require.NoError(t, s.InsertReadings(ctx, []model.Reading{
		{DeviceID: "D1", OwnerID: strPtr("u-old"), Moisture: f64Ptr(31), RecordedAt: now.Add(-2 * time.Hour), ReceivedAt: now},
		{DeviceID: "D1", OwnerID: nil, Moisture: f64Ptr(32), RecordedAt: now.Add(-time.Hour), ReceivedAt: now},
		{DeviceID: "D9", OwnerID: strPtr("u-old"), Moisture: f64Ptr(10), RecordedAt: now, ReceivedAt: now},
	}))

	n, err := s.ReassignReadings(ctx, "D1", "u-new", now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	readings, err := s.ListReadings(ctx, store.ReadingFilter{DeviceID: "D1"})
	require.NoError(t, err)
	require.Len(t, readings, 2)
	for _, r := range readings {
		require.NotNil(t, r.OwnerID)
		assert.Equal(t, "u-new", *r.OwnerID)
		assert.NotNil(t, r.TransferredAt)
	}

	other, err := s.ListReadings(ctx, store.ReadingFilter{DeviceID: "D9"})
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "u-old", *other[0].OwnerID)
}

func TestLatestReadings(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.InsertReadings(ctx, []model.Reading{
		{DeviceID: "D1", Temperature: f64Ptr(10), RecordedAt: now.Add(-time.Hour), ReceivedAt: now},
		{DeviceID: "D1", Temperature: f64Ptr(12), RecordedAt: now, ReceivedAt: now},
		{DeviceID: "D2", Temperature: f64Ptr(20), RecordedAt: now.Add(-time.Minute), ReceivedAt: now},
	}))

	latest, err := s.LatestReadings(ctx, []string{"D1", "D2", "D3"})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.InDelta(t, 12, *latest["D1"].Temperature, 0.001)
	assert.InDelta(t, 20, *latest["D2"].Temperature, 0.001)
}

func TestMarkOfflineBefore(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedDevice(t, s, "D1", nil)
	seedDevice(t, s, "D2", nil)

	require.NoError(t, s.TouchDevice(ctx, "D1", now.Add(-2*time.Hour)))
	require.NoError(t, s.TouchDevice(ctx, "D2", now))

	changed, err := s.MarkOfflineBefore(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "D1", changed[0].DeviceID)

	d1, err := s.FindDevice(ctx, "D1")
	require.NoError(t, err)
	assert.False(t, d1.IsOnline)
	d2, err := s.FindDevice(ctx, "D2")
	require.NoError(t, err)
	assert.True(t, d2.IsOnline)

	changed, err = s.MarkOfflineBefore(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestMarkOfflineBefore_SkipsDeviceThatReportsMeanwhile(t *testing.T) {
	gormDB := testutil.NewSQLiteDB(t)
	s := store.NewGormStore(gormDB)
	ctx := context.Background()
	now := time.Now().UTC()
	seedDevice(t, s, "D1", nil)
	seedDevice(t, s, "D3", nil)
	require.NoError(t, s.TouchDevice(ctx, "D1", now.Add(-2*time.Hour)))
	require.NoError(t, s.TouchDevice(ctx, "D3", now.Add(-2*time.Hour)))

	// D1 reports right before the offline update runs.
	armed := true
	require.NoError(t, gormDB.Callback().Update().Before("gorm:update").Register("test:report_in_between", func(tx *gorm.DB) {
		if !armed {
			return
		}
		armed = false
		require.NoError(t, tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE devices SET last_seen = ? WHERE device_id = ?", now, "D1").Error)
	}))

	changed, err := s.MarkOfflineBefore(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "D3", changed[0].DeviceID)
	assert.False(t, changed[0].IsOnline)

	d1, err := s.FindDevice(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, d1.IsOnline)
}

func TestDeleteUserCascade_LeavesReadings(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	user := &model.User{Email: "a@example.com", Role: model.RoleUser}
	require.NoError(t, s.CreateUser(ctx, user))
	farm := &model.Farm{OwnerID: user.ID, Name: "North"}
	require.NoError(t, s.CreateFarm(ctx, farm))

	seedDevice(t, s, "D1", strPtr(user.ID))
	seedDevice(t, s, "D2", strPtr("someone-else"))
	require.NoError(t, s.SetDeviceFarm(ctx, "D2", &farm.ID))
	require.NoError(t, s.UpsertSubscription(ctx, &model.PushSubscription{Endpoint: "https://push/1", UserID: user.ID, P256DH: "p", Auth: "a"}))
	require.NoError(t, s.InsertReadings(ctx, []model.Reading{
		{DeviceID: "D1", OwnerID: strPtr(user.ID), RecordedAt: time.Now().UTC(), ReceivedAt: time.Now().UTC()},
	}))

	deleted, err := s.DeleteUserCascade(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.FindUser(ctx, user.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindDevice(ctx, "D1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindFarm(ctx, farm.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	d2, err := s.FindDevice(ctx, "D2")
	require.NoError(t, err)
	assert.Nil(t, d2.FarmID)

	subs, err := s.ListSubscriptionsForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)

	n, err := s.CountReadings(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "telemetry is not cascaded")

	_, err = s.DeleteUserCascade(ctx, user.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &model.User{Email: "a@example.com", Role: model.RoleUser}))
	err := s.CreateUser(ctx, &model.User{Email: "a@example.com", Role: model.RoleUser})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestInvites_SinglePendingPerEmail(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	exp := time.Now().UTC().Add(time.Hour)

	first := &model.Invite{Email: "a@example.com", TokenHash: "h1", Role: model.RoleUser, Status: model.InvitePending, ExpiresAt: exp}
	require.NoError(t, s.CreateInvite(ctx, first))
	second := &model.Invite{Email: "a@example.com", TokenHash: "h2", Role: model.RoleAdmin, Status: model.InvitePending, ExpiresAt: exp}
	require.NoError(t, s.CreateInvite(ctx, second))

	pending, err := s.FindPendingInvite(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, second.ID, pending.ID)

	old, err := s.FindInvite(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InviteRevoked, old.Status)

	require.NoError(t, s.MarkInviteUsed(ctx, second.ID, time.Now().UTC()))
	assert.ErrorIs(t, s.MarkInviteUsed(ctx, second.ID, time.Now().UTC()), store.ErrConflict)
	assert.ErrorIs(t, s.RevokeInvite(ctx, second.ID), store.ErrConflict)
}

func TestCreateUserWithInvite_RollsBackOnDuplicate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &model.User{Email: "a@example.com", Role: model.RoleUser}))
	invite := &model.Invite{Email: "a@example.com", TokenHash: "h", Role: model.RoleUser, Status: model.InvitePending, ExpiresAt: time.Now().UTC().Add(time.Hour)}
	require.NoError(t, s.CreateInvite(ctx, invite))

	err := s.CreateUserWithInvite(ctx, &model.User{Email: "a@example.com", Role: model.RoleUser}, invite.ID, time.Now().UTC())
	assert.ErrorIs(t, err, store.ErrConflict)

	reloaded, err := s.FindInvite(ctx, invite.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvitePending, reloaded.Status, "invite stays pending when the account is not created")
}

func TestDeleteFarm_DetachesDevices(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	farm := &model.Farm{OwnerID: "u-1", Name: "East"}
	require.NoError(t, s.CreateFarm(ctx, farm))
	seedDevice(t, s, "D1", strPtr("u-1"))
	require.NoError(t, s.SetDeviceFarm(ctx, "D1", &farm.ID))

	inFarm, err := s.ListDevices(ctx, store.DeviceFilter{FarmID: farm.ID})
	require.NoError(t, err)
	assert.Len(t, inFarm, 1)

	require.NoError(t, s.DeleteFarm(ctx, farm.ID))
	d, err := s.FindDevice(ctx, "D1")
	require.NoError(t, err)
	assert.Nil(t, d.FarmID)
	assert.ErrorIs(t, s.DeleteFarm(ctx, farm.ID), store.ErrNotFound)
}
