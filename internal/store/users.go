package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"farm-dashboard-backend/internal/model"
)

func createUser(tx *gorm.DB, user *model.User) error {
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(user)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to create user %s", user.Email)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *gormStore) CreateUser(ctx context.Context, user *model.User) error {
	return createUser(s.db.WithContext(ctx), user)
}

// CreateUserWithInvite creates the account and consumes the invite in one
// transaction, so an invite can back at most one account.
func (s *gormStore) CreateUserWithInvite(ctx context.Context, user *model.User, inviteID string, usedAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := markInviteUsed(tx, inviteID, usedAt); err != nil {
			return err
		}
		return createUser(tx, user)
	})
}

func (s *gormStore) FindUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFoundOr(err, "failed to fetch user")
	}
	return &user, nil
}

func (s *gormStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, notFoundOr(err, "failed to fetch user by email")
	}
	return &user, nil
}

func (s *gormStore) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).Order("created_at").Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	return users, nil
}

func (s *gormStore) UpdateUserRole(ctx context.Context, id string, role model.Role) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"role": string(role), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to update role of user %s", id)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUserCascade removes the user together with their devices, farms and
// push subscriptions, returning the number of devices deleted. Telemetry
// readings are left in place.
func (s *gormStore) DeleteUserCascade(ctx context.Context, id string) (int64, error) {
	var devicesDeleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&model.User{})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "failed to delete user %s", id)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		res = tx.Where("owner_id = ?", id).Delete(&model.Device{})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "failed to delete devices of user %s", id)
		}
		devicesDeleted = res.RowsAffected

		farmIDs := tx.Model(&model.Farm{}).Select("id").Where("owner_id = ?", id)
		if err := tx.Model(&model.Device{}).
			Where("farm_id IN (?)", farmIDs).
			Update("farm_id", nil).Error; err != nil {
			return errors.Wrapf(err, "failed to detach devices from farms of user %s", id)
		}
		if err := tx.Where("owner_id = ?", id).Delete(&model.Farm{}).Error; err != nil {
			return errors.Wrapf(err, "failed to delete farms of user %s", id)
		}
		if err := tx.Where("user_id = ?", id).Delete(&model.PushSubscription{}).Error; err != nil {
			return errors.Wrapf(err, "failed to delete subscriptions of user %s", id)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return devicesDeleted, nil
}
