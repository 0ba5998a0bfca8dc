package sniffer

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
)

// reChannel captures the channel number from an "iw phy" frequency
// line, e.g. "* 2412 MHz [1] (20.0 dBm)".
var reChannel = regexp.MustCompile(`\[([0-9]+)\]`)

// GetInterfaceCapabilities resolves iface to its phy and returns the
// bands and non-disabled channels the hardware supports.
func GetInterfaceCapabilities(iface string) (map[string]bool, []int, error) {
	phy, err := getPhyForInterface(iface)
	if err != nil {
		return nil, nil, err
	}
	return getPhyCapabilities(phy)
}

func getPhyForInterface(iface string) (string, error) {
	out, err := exec.Command("iw", "dev").CombinedOutput()
	if err != nil {
		return "", err
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	currentPhy := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "phy#") {
			currentPhy = strings.Replace(line, "#", "", 1)
		} else if strings.HasPrefix(line, "Interface "+iface) {
			return currentPhy, nil
		}
	}
	return "", fmt.Errorf("interface %s not found in iw dev output", iface)
}

func getPhyCapabilities(phy string) (map[string]bool, []int, error) {
	out, err := exec.Command("iw", "phy", phy, "info").Output()
	if err != nil {
		return nil, nil, err
	}

	bands := make(map[string]bool)
	var channels []int

	scanner := bufio.NewScanner(bytes.NewReader(out))
	inFrequencies := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "Frequencies:" {
			inFrequencies = true
			continue
		}
		if !inFrequencies {
			continue
		}
		if !strings.HasPrefix(line, "*") {
			// Bitrates and other sections also use "*" entries, so the
			// first non-"*" line closes the frequency block.
			inFrequencies = false
			continue
		}
		if strings.Contains(line, "(disabled)") {
			continue
		}
		matches := reChannel.FindStringSubmatch(line)
		if len(matches) > 1 {
			ch, _ := strconv.Atoi(matches[1])
			channels = append(channels, ch)
			if ch >= 1 && ch <= 14 {
				bands["2.4ghz"] = true
			} else if ch >= 36 {
				bands["5ghz"] = true
			}
		}
	}
	return bands, channels, nil
}

// SetInterfaceChannel tunes iface to channel via iw.
func SetInterfaceChannel(iface string, channel int) error {
	if channel <= 0 {
		return fmt.Errorf("invalid channel: %d", channel)
	}
	cmd := exec.Command("iw", iface, "set", "channel", strconv.Itoa(channel))
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to set channel %d on %s: %v (%s)", channel, iface, err, string(output))
	}
	return nil
}

// KillConflictingProcesses stops NetworkManager and wpa_supplicant so
// they cannot retune the radio out from under monitor-mode capture.
func KillConflictingProcesses() error {
	for _, args := range [][]string{
		{"systemctl", "stop", "NetworkManager"},
		{"systemctl", "stop", "wpa_supplicant"},
	} {
		out, err := exec.Command(args[0], args[1:]...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("failed to execute %v: %v (%s)", args, err, string(out))
		}
	}
	return nil
}

// RestoreNetworkServices restarts the services KillConflictingProcesses
// stopped, so the node's management connectivity comes back after a
// capture session ends. Keeps going past individual failures and
// returns the last one.
func RestoreNetworkServices() error {
	var lastErr error
	for _, args := range [][]string{
		{"systemctl", "start", "wpa_supplicant"},
		{"systemctl", "start", "NetworkManager"},
	} {
		out, err := exec.Command(args[0], args[1:]...).CombinedOutput()
		if err != nil {
			lastErr = fmt.Errorf("failed to execute %v: %v (%s)", args, err, string(out))
		}
	}
	return lastErr
}

// IntersectChannels keeps only the requested channels the hardware
// reports as usable. An empty supported list (capability probe
// unavailable) keeps the request unchanged.
func IntersectChannels(requested, supported []int) []int {
	if len(supported) == 0 {
		return requested
	}
	ok := make(map[int]bool, len(supported))
	for _, ch := range supported {
		ok[ch] = true
	}
	out := make([]int, 0, len(requested))
	for _, ch := range requested {
		if ok[ch] {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return requested
	}
	return out
}

// NormalizeChannels drops entries of an operator-supplied Wi-Fi
// channel list outside the legal 1-14 range and falls back to the default hop list
// {1,6,11} when the result would be empty.
func NormalizeChannels(channels []int) []int {
	if len(channels) == 0 {
		return append([]int(nil), domain.DefaultWiFiChannels...)
	}
	out := make([]int, 0, len(channels))
	for _, ch := range channels {
		if ch >= domain.MinWiFiChannel && ch <= domain.MaxWiFiChannel {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return append([]int(nil), domain.DefaultWiFiChannels...)
	}
	return out
}
