package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestDevice_IsUnassigned(t *testing.T) {
	testCases := []struct {
		name     string
		owner    *string
		expected bool
	}{
		{name: "nil owner", owner: nil, expected: true},
		{name: "empty owner", owner: strPtr(""), expected: true},
		{name: "sentinel owner", owner: strPtr(OwnerUnassigned), expected: true},
		{name: "real owner", owner: strPtr("u-1"), expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := Device{DeviceID: "D1", OwnerID: tc.owner}
			assert.Equal(t, tc.expected, d.IsUnassigned())
		})
	}
}

func TestDevice_OwnedBy(t *testing.T) {
	d := Device{DeviceID: "D1", OwnerID: strPtr("u-1")}
	assert.True(t, d.OwnedBy("u-1"))
	assert.False(t, d.OwnedBy("u-2"))
	assert.Equal(t, "u-1", d.Owner())

	unassigned := Device{DeviceID: "D2", OwnerID: strPtr(OwnerUnassigned)}
	assert.False(t, unassigned.OwnedBy(OwnerUnassigned))
	assert.Equal(t, "", unassigned.Owner())
}
