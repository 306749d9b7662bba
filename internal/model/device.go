package model

import "time"

// OwnerUnassigned marks a device that is waiting to be claimed.
const OwnerUnassigned = "unassigned"

// DeviceStatus is informational; the owner column is authoritative.
type DeviceStatus string

const (
	StatusAutoRegistered DeviceStatus = "auto-registered"
	StatusClaimed        DeviceStatus = "claimed"
	StatusUnassigned     DeviceStatus = "unassigned"
)

// Device is a physical sensor node.
type Device struct {
	DeviceID       string       `gorm:"primaryKey;size:128" json:"deviceId"`
	Name           string       `gorm:"size:256;not null" json:"name"`
	Location       string       `gorm:"size:256" json:"location"`
	Latitude       float64      `json:"latitude"`
	Longitude      float64      `json:"longitude"`
	OwnerID        *string      `gorm:"size:36;index" json:"ownerId"`
	ClaimedByEmail string       `gorm:"size:320" json:"claimedBy,omitempty"`
	ClaimedAt      *time.Time   `json:"claimedAt,omitempty"`
	FarmID         *string      `gorm:"size:36;index" json:"farmId"`
	APIKey         string       `gorm:"size:128;not null" json:"-"`
	Status         DeviceStatus `gorm:"size:32;not null" json:"status"`
	IsOnline       bool         `gorm:"not null;default:false" json:"isOnline"`
	LastSeen       *time.Time   `json:"lastSeen,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"createdAt"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updatedAt"`
}

// IsUnassigned reports whether the device has no real owner.
func (d Device) IsUnassigned() bool {
	return d.OwnerID == nil || *d.OwnerID == "" || *d.OwnerID == OwnerUnassigned
}

// OwnedBy reports whether userID is the device's owner.
func (d Device) OwnedBy(userID string) bool {
	return !d.IsUnassigned() && *d.OwnerID == userID
}

// Owner returns the owner id, or "" when unassigned.
func (d Device) Owner() string {
	if d.IsUnassigned() {
		return ""
	}
	return *d.OwnerID
}
