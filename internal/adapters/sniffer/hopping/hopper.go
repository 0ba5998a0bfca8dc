// Package hopping drives the per-interface Wi-Fi channel hop loop:
// round-robin over an operator-supplied list with a fixed dwell time,
// tolerant of transient switch failures.
package hopping

import (
	"log"
	"sync"
	"time"
)

// ChannelHopper cycles one interface through its hop list. The dwell
// time is fixed at construction; the channel list may change at any
// point via SetChannels.
type ChannelHopper struct {
	Interface string
	Delay     time.Duration

	switcher ChannelSwitcher

	mu       sync.RWMutex
	channels []int
	index    int

	stopChan  chan struct{}
	pauseChan chan time.Duration

	errStreak int
}

// NewHopper constructs a hopper for iface. A nil switcher defaults to
// the iw-backed implementation.
func NewHopper(iface string, channels []int, delay time.Duration, switcher ChannelSwitcher) *ChannelHopper {
	if switcher == nil {
		switcher = NewLinuxChannelSwitcher()
	}
	return &ChannelHopper{
		Interface: iface,
		Delay:     delay,
		switcher:  switcher,
		channels:  channels,
		stopChan:  make(chan struct{}),
		pauseChan: make(chan time.Duration, 1),
	}
}

// SetChannels swaps the hop list; the rotation restarts from the
// front of the new list.
func (h *ChannelHopper) SetChannels(channels []int) {
	h.mu.Lock()
	h.channels = channels
	h.index = 0
	h.mu.Unlock()
	log.Printf("hopper %s: channels now %v", h.Interface, channels)
}

// GetChannels returns a copy of the current hop list.
func (h *ChannelHopper) GetChannels() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]int, len(h.channels))
	copy(out, h.channels)
	return out
}

// Pause suspends hopping for d, holding the current channel, so a
// peer exchange or scan window sees a stable channel. One request made
// while already paused is queued and applied when the current pause
// ends; further requests made meanwhile are dropped.
func (h *ChannelHopper) Pause(d time.Duration) {
	select {
	case h.pauseChan <- d:
	default:
	}
}

// Stop ends the hop loop permanently.
func (h *ChannelHopper) Stop() {
	close(h.stopChan)
}

// Start runs the hop loop until Stop. It hops once immediately so the
// radio does not sit on whatever channel the driver left it on.
func (h *ChannelHopper) Start() {
	log.Printf("hopper %s: starting (dwell=%v)", h.Interface, h.Delay)

	ticker := time.NewTicker(h.Delay)
	defer ticker.Stop()

	h.hop()

	for {
		select {
		case <-h.stopChan:
			log.Printf("hopper %s: stopped", h.Interface)
			return
		case d := <-h.pauseChan:
			ticker.Stop()
			select {
			case <-time.After(d):
				ticker.Reset(h.Delay)
			case <-h.stopChan:
				return
			}
		case <-ticker.C:
			h.hop()
		}
	}
}

func (h *ChannelHopper) hop() {
	h.mu.Lock()
	if len(h.channels) == 0 {
		h.mu.Unlock()
		return
	}
	if h.index >= len(h.channels) {
		h.index = 0
	}
	ch := h.channels[h.index]
	h.index = (h.index + 1) % len(h.channels)
	h.mu.Unlock()

	if err := h.switcher.SetChannel(h.Interface, ch); err != nil {
		h.errStreak++
		if h.errStreak == 1 || h.errStreak%10 == 0 {
			log.Printf("hopper %s: set channel %d: %v (streak %d)", h.Interface, ch, err, h.errStreak)
		}
		return
	}
	if h.errStreak > 0 {
		log.Printf("hopper %s: recovered after %d failed hops", h.Interface, h.errStreak)
		h.errStreak = 0
	}
}
