package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"farm-dashboard-backend/internal/model"
)

const insertBatchSize = 500

func (s *gormStore) InsertReadings(ctx context.Context, readings []model.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&readings, insertBatchSize).Error; err != nil {
		return errors.Wrap(err, "failed to insert readings")
	}
	return nil
}

func (s *gormStore) ListReadings(ctx context.Context, filter ReadingFilter) ([]model.Reading, error) {
	q := s.db.WithContext(ctx).Where("device_id = ?", filter.DeviceID)
	if !filter.From.IsZero() {
		q = q.Where("recorded_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("recorded_at <= ?", filter.To)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var readings []model.Reading
	if err := q.Order("recorded_at DESC").Find(&readings).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to list readings of device %s", filter.DeviceID)
	}
	return readings, nil
}

// LatestReadings returns the most recent reading of every listed device that
// has one.
func (s *gormStore) LatestReadings(ctx context.Context, deviceIDs []string) (map[string]model.Reading, error) {
	latest := make(map[string]model.Reading, len(deviceIDs))
	if len(deviceIDs) == 0 {
		return latest, nil
	}

	sub := s.db.WithContext(ctx).Model(&model.Reading{}).
		Select("device_id, MAX(recorded_at) AS recorded_at").
		Where("device_id IN ?", deviceIDs).
		Group("device_id")

	var rows []model.Reading
	if err := s.db.WithContext(ctx).
		Joins("JOIN (?) latest ON latest.device_id = readings.device_id AND latest.recorded_at = readings.recorded_at", sub).
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to fetch latest readings")
	}

	for _, r := range rows {
		// Ties on recorded_at keep the newest row.
		if prev, ok := latest[r.DeviceID]; !ok || r.ID > prev.ID {
			latest[r.DeviceID] = r
		}
	}
	return latest, nil
}

func (s *gormStore) CountReadings(ctx context.Context, deviceID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Reading{}).Where("device_id = ?", deviceID).Count(&n).Error; err != nil {
		return 0, errors.Wrapf(err, "failed to count readings of device %s", deviceID)
	}
	return n, nil
}

// ReassignReadings is an unconditional bulk update; readings have no other
// concurrent writer of the owner column.
func (s *gormStore) ReassignReadings(ctx context.Context, deviceID, ownerID string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Reading{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]any{"owner_id": ownerID, "transferred_at": at})
	if res.Error != nil {
		return 0, errors.Wrapf(res.Error, "failed to reassign readings of device %s", deviceID)
	}
	return res.RowsAffected, nil
}
