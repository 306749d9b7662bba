package store

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm/clause"

	"farm-dashboard-backend/internal/model"
)

func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error
	if err != nil {
		return errors.Wrap(err, "failed to upsert subscription")
	}
	return nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	q := s.db.WithContext(ctx).Where("endpoint = ?", endpoint)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Delete(&model.PushSubscription{}).Error; err != nil {
		return errors.Wrap(err, "failed to delete subscription")
	}
	return nil
}

func (s *gormStore) FindSubscription(ctx context.Context, userID, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).
		Where("endpoint = ? AND user_id = ?", endpoint, userID).
		First(&sub).Error; err != nil {
		return nil, notFoundOr(err, "failed to fetch subscription")
	}
	return &sub, nil
}

func (s *gormStore) ListSubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to list subscriptions of user %s", userID)
	}
	return subs, nil
}
