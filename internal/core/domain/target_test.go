package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTargets_RecognizesAllThreeShapes(t *testing.T) {
	text := "AA:BB:CC:DD:EE:FF\naabbcc\nT-0A3F\n\nnot a target\nzz:zz:zz:zz:zz:zz\n"
	targets := ParseTargets(text)

	require.Len(t, targets, 3)
	assert.Equal(t, TargetMAC, targets[0].Kind)
	assert.Equal(t, [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, targets[0].MAC)
	assert.Equal(t, TargetOUI, targets[1].Kind)
	assert.Equal(t, [3]byte{0xAA, 0xBB, 0xCC}, targets[1].OUI)
	assert.Equal(t, TargetIdentity, targets[2].Kind)
	assert.Equal(t, "T-0A3F", targets[2].IdentityID)
}

func TestParseTargets_SeparatorAndCaseInsensitive(t *testing.T) {
	variants := []string{
		"aa:bb:cc:dd:ee:ff",
		"AA-BB-CC-DD-EE-FF",
		"aa bb cc dd ee ff",
		"AABBCCDDEEFF",
	}
	for _, v := range variants {
		targets := ParseTargets(v)
		require.Len(t, targets, 1, v)
		assert.Equal(t, [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, targets[0].MAC, v)
	}
}

func TestTargetsText_RoundTrips(t *testing.T) {
	text := "AA:BB:CC:DD:EE:FF\nAABBCC\nT-1234\n"
	first := ParseTargets(text)
	second := ParseTargets(TargetsText(first))

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Kind, second[i].Kind)
		assert.Equal(t, first[i].MAC, second[i].MAC)
		assert.Equal(t, first[i].OUI, second[i].OUI)
		assert.Equal(t, first[i].IdentityID, second[i].IdentityID)
	}
}

func TestParseAllowlist_DropsIdentityHandles(t *testing.T) {
	entries := ParseAllowlist("AA:BB:CC:DD:EE:FF\nT-0A3F\nAABBCC\n")
	require.Len(t, entries, 2)
	assert.Equal(t, TargetMAC, entries[0].Kind)
	assert.Equal(t, TargetOUI, entries[1].Kind)
}

func TestParseTargetToken_RejectsOUI(t *testing.T) {
	_, err := ParseTargetToken("AABBCC")
	assert.ErrorIs(t, err, ErrUnknownTarget)

	tgt, err := ParseTargetToken("T-ff")
	require.NoError(t, err)
	assert.Equal(t, "T-FF", tgt.IdentityID)
}

func TestMACClassificationBits(t *testing.T) {
	assert.True(t, IsRandomizedMAC([6]byte{0x02, 0, 0, 0, 0, 0}))
	assert.False(t, IsRandomizedMAC([6]byte{0x00, 0, 0, 0, 0, 0}))
	assert.False(t, IsRandomizedMAC([6]byte{0x03, 0, 0, 0, 0, 0}), "multicast bit disqualifies")
	assert.True(t, IsGlobalMAC([6]byte{0x00, 0x11, 0x22, 0, 0, 0}))
	assert.False(t, IsGlobalMAC(BroadcastMAC))
}
