package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsValidMAC(t *testing.T) {
	tests := []struct {
		mac   string
		valid bool
	}{
		{"AA:BB:CC:DD:EE:FF", true},
		{"aa:bb:cc:dd:ee:ff", true},
		{"00:11:22:33:44:55", true},
		{"invalid", false},
		{"AA:BB:CC:DD:EE", false},
		{"AA:BB:CC:DD:EE:FF:GG", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, IsValidMAC(tt.mac), tt.mac)
	}
}

func TestIsValidInterface(t *testing.T) {
	tests := []struct {
		iface string
		valid bool
	}{
		{"wlan0", true},
		{"mon0", true},
		{"wlp3s0", true},
		{"eth0.100", false}, // dots are not in the allowed character set
		{"very_long_interface_name_that_should_fail", false}, // over IFNAMSIZ
		{"; rm -rf /", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, IsValidInterface(tt.iface), tt.iface)
	}
}

func TestChannelsValidation(t *testing.T) {
	v := DefaultValidator{}
	assert.NoError(t, v.Channels(nil))
	assert.NoError(t, v.Channels([]int{1, 6, 11, 14}))
	assert.ErrorIs(t, v.Channels([]int{0}), ErrChannelOutOfRange)
	assert.ErrorIs(t, v.Channels([]int{15}), ErrChannelOutOfRange)
}

func TestTriangulationDurationValidation(t *testing.T) {
	v := DefaultValidator{}
	assert.NoError(t, v.TriangulationDuration(60*time.Second))
	assert.ErrorIs(t, v.TriangulationDuration(59*time.Second), ErrDurationOutOfRange)
}
