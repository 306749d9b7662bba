package model

import "time"

// Reading is a single telemetry sample pushed by a device.
type Reading struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	DeviceID       string     `gorm:"size:128;not null;index:idx_readings_device_recorded,priority:1" json:"deviceId"`
	OwnerID        *string    `gorm:"size:36;index" json:"ownerId,omitempty"`
	Moisture       *float64   `json:"moisture,omitempty"`
	Temperature    *float64   `json:"temperature,omitempty"`
	Humidity       *float64   `json:"humidity,omitempty"`
	BatteryVoltage *float64   `json:"batteryVoltage,omitempty"`
	RecordedAt     time.Time  `gorm:"not null;index:idx_readings_device_recorded,priority:2" json:"recordedAt"`
	ReceivedAt     time.Time  `gorm:"not null" json:"receivedAt"`
	TransferredAt  *time.Time `json:"transferredAt,omitempty"`
}
