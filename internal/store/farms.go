package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"farm-dashboard-backend/internal/model"
)

func (s *gormStore) CreateFarm(ctx context.Context, farm *model.Farm) error {
	if err := s.db.WithContext(ctx).Create(farm).Error; err != nil {
		return errors.Wrap(err, "failed to create farm")
	}
	return nil
}

func (s *gormStore) FindFarm(ctx context.Context, id string) (*model.Farm, error) {
	var farm model.Farm
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&farm).Error; err != nil {
		return nil, notFoundOr(err, "failed to fetch farm")
	}
	return &farm, nil
}

// ListFarms lists the farms of ownerID, or every farm when ownerID is empty.
func (s *gormStore) ListFarms(ctx context.Context, ownerID string) ([]model.Farm, error) {
	q := s.db.WithContext(ctx)
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	var farms []model.Farm
	if err := q.Order("name").Find(&farms).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list farms")
	}
	return farms, nil
}

func (s *gormStore) UpdateFarm(ctx context.Context, farm *model.Farm) error {
	res := s.db.WithContext(ctx).Model(&model.Farm{}).
		Where("id = ?", farm.ID).
		Updates(map[string]any{
			"name":        farm.Name,
			"description": farm.Description,
			"location":    farm.Location,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to update farm %s", farm.ID)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFarm removes the farm and detaches the devices grouped under it.
func (s *gormStore) DeleteFarm(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Device{}).Where("farm_id = ?", id).Update("farm_id", nil).Error; err != nil {
			return errors.Wrapf(err, "failed to detach devices from farm %s", id)
		}
		res := tx.Where("id = ?", id).Delete(&model.Farm{})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "failed to delete farm %s", id)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
