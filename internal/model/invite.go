package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InviteStatus tracks the single-use lifecycle of an invite.
type InviteStatus string

const (
	InvitePending InviteStatus = "pending"
	InviteUsed    InviteStatus = "used"
	InviteRevoked InviteStatus = "revoked"
)

// Invite binds an email to a role until it is used, revoked or expires.
type Invite struct {
	ID        string       `gorm:"primaryKey;size:36" json:"id"`
	Email     string       `gorm:"size:320;not null;index" json:"email"`
	TokenHash string       `gorm:"size:64;not null" json:"-"`
	Role      Role         `gorm:"size:16;not null" json:"role"`
	Status    InviteStatus `gorm:"size:16;not null;index" json:"status"`
	ExpiresAt time.Time    `gorm:"not null" json:"expiresAt"`
	InvitedBy string       `gorm:"size:36" json:"invitedBy,omitempty"`
	UsedAt    *time.Time   `json:"usedAt,omitempty"`
	CreatedAt time.Time    `gorm:"not null" json:"createdAt"`
}

// BeforeCreate assigns a UUID when none is set.
func (i *Invite) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// Expired reports whether the invite is past its deadline at now.
func (i Invite) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
