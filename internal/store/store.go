package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"farm-dashboard-backend/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional write matched no row or a
	// unique key already exists.
	ErrConflict = errors.New("record conflict")
)

// DeviceStore is the device registry.
type DeviceStore interface {
	FindDevice(ctx context.Context, deviceID string) (*model.Device, error)
	ListDevices(ctx context.Context, filter DeviceFilter) ([]model.Device, error)
	CreateDeviceIfAbsent(ctx context.Context, device *model.Device) (bool, error)
	UpdateDeviceDetails(ctx context.Context, deviceID string, details DeviceDetails) error
	SetDeviceFarm(ctx context.Context, deviceID string, farmID *string) error
	TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error
	MarkOfflineBefore(ctx context.Context, cutoff time.Time) ([]model.Device, error)

	// ClaimDeviceIfUnassigned applies change only while the device has no
	// owner. It returns the number of rows updated (0 or 1).
	ClaimDeviceIfUnassigned(ctx context.Context, deviceID string, change OwnershipChange) (int64, error)
	// TakeoverDevice applies change regardless of the current owner.
	TakeoverDevice(ctx context.Context, deviceID string, change OwnershipChange) (int64, error)
}

// ReadingStore holds telemetry readings.
type ReadingStore interface {
	InsertReadings(ctx context.Context, readings []model.Reading) error
	ListReadings(ctx context.Context, filter ReadingFilter) ([]model.Reading, error)
	LatestReadings(ctx context.Context, deviceIDs []string) (map[string]model.Reading, error)
	CountReadings(ctx context.Context, deviceID string) (int64, error)
	// ReassignReadings rewrites the owner snapshot of every reading of a
	// device and returns how many rows changed.
	ReassignReadings(ctx context.Context, deviceID, ownerID string, at time.Time) (int64, error)
}

// UserStore holds accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	CreateUserWithInvite(ctx context.Context, user *model.User, inviteID string, usedAt time.Time) error
	FindUser(ctx context.Context, id string) (*model.User, error)
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUserRole(ctx context.Context, id string, role model.Role) error
	DeleteUserCascade(ctx context.Context, id string) (int64, error)
}

// FarmStore holds farms.
type FarmStore interface {
	CreateFarm(ctx context.Context, farm *model.Farm) error
	FindFarm(ctx context.Context, id string) (*model.Farm, error)
	ListFarms(ctx context.Context, ownerID string) ([]model.Farm, error)
	UpdateFarm(ctx context.Context, farm *model.Farm) error
	DeleteFarm(ctx context.Context, id string) error
}

// InviteStore holds invites.
type InviteStore interface {
	CreateInvite(ctx context.Context, invite *model.Invite) error
	FindInvite(ctx context.Context, id string) (*model.Invite, error)
	FindPendingInvite(ctx context.Context, email string) (*model.Invite, error)
	ListInvites(ctx context.Context) ([]model.Invite, error)
	MarkInviteUsed(ctx context.Context, id string, usedAt time.Time) error
	RevokeInvite(ctx context.Context, id string) error
}

// SubscriptionStore holds browser push subscriptions.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
	FindSubscription(ctx context.Context, userID, endpoint string) (*model.PushSubscription, error)
	ListSubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
}

// Store defines the interface for all database operations.
type Store interface {
	DeviceStore
	ReadingStore
	UserStore
	FarmStore
	InviteStore
	SubscriptionStore

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// notFoundOr maps gorm's missing-row error to ErrNotFound and wraps the rest.
func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return errors.Wrap(err, msg)
}
