package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"farm-dashboard-backend/internal/model"
)

// CreateInvite stores invite and revokes any older pending invite for the
// same email, leaving at most one pending invite per address.
func (s *gormStore) CreateInvite(ctx context.Context, invite *model.Invite) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Invite{}).
			Where("email = ? AND status = ?", invite.Email, string(model.InvitePending)).
			Update("status", string(model.InviteRevoked)).Error; err != nil {
			return errors.Wrapf(err, "failed to revoke previous invites for %s", invite.Email)
		}
		if err := tx.Create(invite).Error; err != nil {
			return errors.Wrapf(err, "failed to create invite for %s", invite.Email)
		}
		return nil
	})
}

func (s *gormStore) FindInvite(ctx context.Context, id string) (*model.Invite, error) {
	var invite model.Invite
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&invite).Error; err != nil {
		return nil, notFoundOr(err, "failed to fetch invite")
	}
	return &invite, nil
}

func (s *gormStore) FindPendingInvite(ctx context.Context, email string) (*model.Invite, error) {
	var invite model.Invite
	if err := s.db.WithContext(ctx).
		Where("email = ? AND status = ?", email, string(model.InvitePending)).
		Order("created_at DESC").
		First(&invite).Error; err != nil {
		return nil, notFoundOr(err, "failed to fetch pending invite")
	}
	return &invite, nil
}

func (s *gormStore) ListInvites(ctx context.Context) ([]model.Invite, error) {
	var invites []model.Invite
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&invites).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list invites")
	}
	return invites, nil
}

func markInviteUsed(tx *gorm.DB, id string, usedAt time.Time) error {
	res := tx.Model(&model.Invite{}).
		Where("id = ? AND status = ?", id, string(model.InvitePending)).
		Updates(map[string]any{"status": string(model.InviteUsed), "used_at": usedAt})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to mark invite %s used", id)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkInviteUsed moves a pending invite to used; ErrConflict means it was no
// longer pending.
func (s *gormStore) MarkInviteUsed(ctx context.Context, id string, usedAt time.Time) error {
	return markInviteUsed(s.db.WithContext(ctx), id, usedAt)
}

func (s *gormStore) RevokeInvite(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&model.Invite{}).
		Where("id = ? AND status = ?", id, string(model.InvitePending)).
		Update("status", string(model.InviteRevoked))
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to revoke invite %s", id)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}
