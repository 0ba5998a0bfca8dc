package hopping

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSwitcher struct {
	mu         sync.Mutex
	calls      []int
	shouldFail bool
}

func (m *mockSwitcher) SetChannel(iface string, channel int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, channel)
	if m.shouldFail {
		return errors.New("switch failed")
	}
	return nil
}

func (m *mockSwitcher) snapshot() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.calls...)
}

func TestHopper_RoundRobin(t *testing.T) {
	mock := &mockSwitcher{}
	h := NewHopper("wlan0", []int{1, 6, 11}, 10*time.Millisecond, mock)

	go h.Start()
	time.Sleep(50 * time.Millisecond)
	h.Stop()

	calls := mock.snapshot()
	require.GreaterOrEqual(t, len(calls), 3)

	want := []int{1, 6, 11}
	for i, ch := range calls {
		assert.Equal(t, want[i%len(want)], ch, "hop %d out of rotation order", i)
	}
}

func TestHopper_PauseHoldsChannel(t *testing.T) {
	mock := &mockSwitcher{}
	h := NewHopper("wlan0", []int{1}, 10*time.Millisecond, mock)

	go h.Start()
	time.Sleep(20 * time.Millisecond)

	h.Pause(50 * time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	before := len(mock.snapshot())
	time.Sleep(20 * time.Millisecond)
	after := len(mock.snapshot())
	h.Stop()

	assert.Equal(t, before, after, "hopper must not retune while paused")
}

func TestHopper_EmptyChannelsNeverSwitches(t *testing.T) {
	mock := &mockSwitcher{}
	h := NewHopper("wlan0", nil, 10*time.Millisecond, mock)

	go h.Start()
	time.Sleep(30 * time.Millisecond)
	h.Stop()

	assert.Empty(t, mock.snapshot())
}

func TestHopper_SetChannelsTakesEffect(t *testing.T) {
	mock := &mockSwitcher{}
	h := NewHopper("wlan0", []int{1}, 10*time.Millisecond, mock)

	go h.Start()
	time.Sleep(25 * time.Millisecond)
	h.SetChannels([]int{6})
	time.Sleep(25 * time.Millisecond)
	h.Stop()

	calls := mock.snapshot()
	assert.Contains(t, calls, 1)
	assert.Contains(t, calls, 6)
}

func TestHopper_KeepsHoppingThroughSwitchErrors(t *testing.T) {
	mock := &mockSwitcher{shouldFail: true}
	h := NewHopper("wlan0", []int{1}, 10*time.Millisecond, mock)

	go h.Start()
	time.Sleep(40 * time.Millisecond)
	h.Stop()

	assert.GreaterOrEqual(t, len(mock.snapshot()), 2, "transient switch failures must not stop the loop")
}
