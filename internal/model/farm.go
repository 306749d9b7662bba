package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Farm is a user-defined display grouping of devices.
type Farm struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID     string    `gorm:"size:36;not null;index" json:"ownerId"`
	Name        string    `gorm:"size:128;not null" json:"name"`
	Description string    `gorm:"size:1024" json:"description,omitempty"`
	Location    string    `gorm:"size:256" json:"location,omitempty"`
	CreatedAt   time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"not null" json:"updatedAt"`
}

// BeforeCreate assigns a UUID when none is set.
func (f *Farm) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}
