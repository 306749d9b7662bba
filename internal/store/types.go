package store

import "time"

// OwnershipChange is the set of fields a successful claim writes.
type OwnershipChange struct {
	OwnerID    string
	OwnerEmail string
	// FarmID is written only when non-nil.
	FarmID *string
	At     time.Time
}

// DeviceFilter narrows ListDevices. An empty filter lists every device.
type DeviceFilter struct {
	OwnerID string
	FarmID  string
}

// DeviceDetails carries the user-editable device fields; nil means unchanged.
type DeviceDetails struct {
	Name      *string
	Location  *string
	Latitude  *float64
	Longitude *float64
}

// Empty reports whether no field is set.
func (d DeviceDetails) Empty() bool {
	return d.Name == nil && d.Location == nil && d.Latitude == nil && d.Longitude == nil
}

// ReadingFilter narrows ListReadings. Zero times are open bounds.
type ReadingFilter struct {
	DeviceID string
	From     time.Time
	To       time.Time
	Limit    int
}
