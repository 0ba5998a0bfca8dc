package identitydb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIdentity() *domain.DeviceIdentity {
	now := time.Now().Truncate(time.Second).UTC()
	id := &domain.DeviceIdentity{
		ID:                "T-0A3F",
		MACs:              [][6]byte{{0x02, 0xAA, 0xAA, 0, 0, 1}, {0x02, 0xBB, 0xBB, 0, 0, 2}},
		FirstSeen:         now.Add(-time.Hour),
		LastSeen:          now,
		Confidence:        0.82,
		ObservedSessions:  2,
		LastSequenceNum:   42,
		SequenceValid:     true,
		HasKnownGlobalMAC: true,
		KnownGlobalMAC:    [6]byte{0, 1, 2, 3, 4, 5},
		IsBLE:             false,
	}
	id.Signature.AdoptSlot([6]uint16{1, 2, 3, 4, 5, 6}, domain.IEOrderSignature{Tags: []uint8{1, 2, 3}, Hash: 0xBEEF})
	id.Signature.ChannelMask = 0b101
	id.Signature.ChannelSequence = []int{1, 6, 11}
	id.Signature.RSSIHistory = []int8{-60, -55, -58}
	id.Signature.ProbeGapsMS = []float64{500, 510, 495}
	id.Signature.IntervalConsistency = 0.7
	id.Signature.RSSIConsistency = 0.6
	id.Signature.ObservationCount = 3
	return id
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.dat")
	store := New(path)

	want := []*domain.DeviceIdentity{sampleIdentity()}
	require.NoError(t, store.Save(context.Background(), want))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, want[0].ID, got[0].ID)
	assert.Equal(t, want[0].MACs, got[0].MACs)
	assert.Equal(t, want[0].Confidence, got[0].Confidence)
	assert.Equal(t, want[0].ObservedSessions, got[0].ObservedSessions)
	assert.Equal(t, want[0].LastSequenceNum, got[0].LastSequenceNum)
	assert.Equal(t, want[0].SequenceValid, got[0].SequenceValid)
	assert.Equal(t, want[0].HasKnownGlobalMAC, got[0].HasKnownGlobalMAC)
	assert.Equal(t, want[0].KnownGlobalMAC, got[0].KnownGlobalMAC)
	assert.Equal(t, want[0].Signature.Full, got[0].Signature.Full)
	assert.Equal(t, want[0].Signature.ChannelMask, got[0].Signature.ChannelMask)
	assert.Equal(t, want[0].Signature.ChannelSequence, got[0].Signature.ChannelSequence)
	assert.Equal(t, want[0].Signature.RSSIHistory, got[0].Signature.RSSIHistory)
	assert.Equal(t, want[0].Signature.ProbeGapsMS, got[0].Signature.ProbeGapsMS)
	assert.WithinDuration(t, want[0].FirstSeen, got[0].FirstSeen, time.Second)
	assert.WithinDuration(t, want[0].LastSeen, got[0].LastSeen, time.Second)
}

func TestStore_Load_MissingFileIsEmpty(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "missing.dat"))
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_Load_StopsAtTruncatedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.dat")
	store := New(path)

	good := sampleIdentity()
	require.NoError(t, store.Save(context.Background(), []*domain.DeviceIdentity{good}))

	// Corrupt the file by overstating the record count so the second
	// (nonexistent) record hits EOF mid-read.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[0] = 2
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, good.ID, got[0].ID)
}
