package hopping

import (
	"fmt"
	"os/exec"
	"strconv"
)

// ChannelSwitcher abstracts the mechanism that retunes an interface,
// so tests can hop without touching hardware.
type ChannelSwitcher interface {
	SetChannel(iface string, channel int) error
}

// LinuxChannelSwitcher retunes via the iw command.
type LinuxChannelSwitcher struct{}

// NewLinuxChannelSwitcher returns the iw-backed switcher.
func NewLinuxChannelSwitcher() *LinuxChannelSwitcher {
	return &LinuxChannelSwitcher{}
}

// SetChannel tunes iface to channel.
func (s *LinuxChannelSwitcher) SetChannel(iface string, channel int) error {
	cmd := exec.Command("iw", iface, "set", "channel", strconv.Itoa(channel))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to set channel %d on %s: %w", channel, iface, err)
	}
	return nil
}
