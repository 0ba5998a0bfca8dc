package domain

import (
	"strings"
	"time"
)

// Mesh message broker constants.
const (
	TokenBucketCapacity  = 200
	TokenBucketRefillPer = 200 // tokens refilled per second
	CRLFTokenCost        = 2
	MeshTXWaitMax        = 5 * time.Second
	MeshLineMaxBytes     = 240
	MeshRingBufferCap    = 500
)

// meshBypassSubstrings names the two outbound substrings that bypass
// the token bucket entirely.
var meshBypassSubstrings = []string{"TRIANGULATE_STOP", "STOP_ACK"}

// BypassesRateLimit reports whether an outbound mesh line is exempt
// from token-bucket accounting.
func BypassesRateLimit(line string) bool {
	for _, s := range meshBypassSubstrings {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}
