package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm/clause"

	"farm-dashboard-backend/internal/model"
)

func (s *gormStore) FindDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	var device model.Device
	if err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		return nil, notFoundOr(err, "failed to fetch device")
	}
	return &device, nil
}

func (s *gormStore) ListDevices(ctx context.Context, filter DeviceFilter) ([]model.Device, error) {
	q := s.db.WithContext(ctx).Model(&model.Device{})
	if filter.OwnerID != "" {
		q = q.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.FarmID != "" {
		q = q.Where("farm_id = ?", filter.FarmID)
	}

	var devices []model.Device
	if err := q.Order("device_id").Find(&devices).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list devices")
	}
	return devices, nil
}

// CreateDeviceIfAbsent inserts device unless the id is taken; it reports
// whether a row was created.
func (s *gormStore) CreateDeviceIfAbsent(ctx context.Context, device *model.Device) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			DoNothing: true,
		}).
		Create(device)
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "failed to create device %s", device.DeviceID)
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) UpdateDeviceDetails(ctx context.Context, deviceID string, details DeviceDetails) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if details.Name != nil {
		updates["name"] = *details.Name
	}
	if details.Location != nil {
		updates["location"] = *details.Location
	}
	if details.Latitude != nil {
		updates["latitude"] = *details.Latitude
	}
	if details.Longitude != nil {
		updates["longitude"] = *details.Longitude
	}

	res := s.db.WithContext(ctx).Model(&model.Device{}).Where("device_id = ?", deviceID).Updates(updates)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to update device %s", deviceID)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) SetDeviceFarm(ctx context.Context, deviceID string, farmID *string) error {
	res := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]any{"farm_id": farmID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to set farm of device %s", deviceID)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error {
	err := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]any{"is_online": true, "last_seen": seenAt, "updated_at": seenAt}).Error
	if err != nil {
		return errors.Wrapf(err, "failed to touch device %s", deviceID)
	}
	return nil
}

// MarkOfflineBefore flips every online device last seen before cutoff to
// offline and returns the devices the update actually changed.
func (s *gormStore) MarkOfflineBefore(ctx context.Context, cutoff time.Time) ([]model.Device, error) {
	db := s.db.WithContext(ctx)

	var ids []string
	if err := db.Model(&model.Device{}).
		Where("is_online = ? AND last_seen < ?", true, cutoff).
		Pluck("device_id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, "failed to fetch stale devices")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// The last_seen guard skips devices that reported between the two queries.
	res := db.Model(&model.Device{}).
		Where("device_id IN ? AND is_online = ? AND last_seen < ?", ids, true, cutoff).
		Update("is_online", false)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "failed to mark devices offline")
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var changed []model.Device
	if err := db.
		Where("device_id IN ? AND is_online = ? AND last_seen < ?", ids, false, cutoff).
		Find(&changed).Error; err != nil {
		return nil, errors.Wrap(err, "failed to reload devices marked offline")
	}
	return changed, nil
}

func ownershipUpdates(change OwnershipChange) map[string]any {
	updates := map[string]any{
		"owner_id":         change.OwnerID,
		"claimed_by_email": change.OwnerEmail,
		"claimed_at":       change.At,
		"status":           string(model.StatusClaimed),
		"updated_at":       change.At,
	}
	if change.FarmID != nil {
		updates["farm_id"] = *change.FarmID
	}
	return updates
}

// ClaimDeviceIfUnassigned is the compare-and-swap for the claim workflow:
// one UPDATE whose filter repeats the "no owner" precondition, so of any
// number of concurrent callers at most one sees a row affected.
func (s *gormStore) ClaimDeviceIfUnassigned(ctx context.Context, deviceID string, change OwnershipChange) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("device_id = ?", deviceID).
		Where(s.db.Where("owner_id IS NULL").Or("owner_id = ?", "").Or("owner_id = ?", model.OwnerUnassigned)).
		Updates(ownershipUpdates(change))
	if res.Error != nil {
		return 0, errors.Wrapf(res.Error, "failed to claim device %s", deviceID)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) TakeoverDevice(ctx context.Context, deviceID string, change OwnershipChange) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("device_id = ?", deviceID).
		Updates(ownershipUpdates(change))
	if res.Error != nil {
		return 0, errors.Wrapf(res.Error, "failed to take over device %s", deviceID)
	}
	return res.RowsAffected, nil
}
