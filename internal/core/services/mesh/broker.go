package mesh

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/skyline-mesh/sentryhop/internal/core/ports"
	"github.com/skyline-mesh/sentryhop/internal/telemetry"
)

// Handlers bundles the rest of the core's reactions to inbound mesh
// commands. The broker itself only knows line shape and rate limits;
// every prefix's routing table is a plain callback so main can
// wire it without this package importing every service package.
type Handlers struct {
	ConfigChannels     func(value string) error
	ConfigTargets      func(value string) error
	ScanStart          func(params string) error
	BaselineStart      func(params string) error
	DeviceScanStart    func(params string) error
	DroneStart         func(params string) error
	DeauthStart        func(params string) error
	RandomizationStart func(params string) error
	Stop               func()
	Status             func() string
	VibrationStatus    func() string
	BaselineStatus     func() string
	TriangulateStart   func(sender, target, durationS string) error
	TriangulateStop    func()
	TriangulateResults func() string
	TargetData         func(sender, line string)
	FreeformHit        func(sender, line string)
	TimeSyncReq        func(sender, line string)
	TimeSyncResp       func(sender, line string)
	EraseForce         func(token string)
	EraseCancel        func()
}

// Broker is the mesh hub of this node: it owns the outbound token
// bucket, the operator terminal mirror, and inbound line dispatch.
type Broker struct {
	selfID    string
	transport ports.MeshTransport
	bucket    *TokenBucket
	ring      *TerminalRing
	handlers  Handlers
	sleep     func(time.Duration)
}

// New constructs a Broker for a node identified by selfID, writing
// through transport and dispatching inbound lines to handlers.
func New(selfID string, transport ports.MeshTransport, handlers Handlers) *Broker {
	return &Broker{
		selfID:    selfID,
		transport: transport,
		bucket:    NewTokenBucket(time.Now()),
		ring:      NewTerminalRing(domain.MeshRingBufferCap),
		handlers:  handlers,
		sleep:     time.Sleep,
	}
}

// TerminalLines returns the current operator-facing ring buffer
// snapshot.
func (b *Broker) TerminalLines() []string {
	return b.ring.Lines()
}

// Send transmits content as "<selfID>: <content>" through the token
// bucket; TRIANGULATE_STOP and STOP_ACK lines bypass the bucket
// entirely. If canDelay is false, a would-block attempt fails
// immediately rather than waiting.
func (b *Broker) Send(ctx context.Context, content string, canDelay bool) error {
	line := fmt.Sprintf("%s: %s", b.selfID, content)
	if len(line) > domain.MeshLineMaxBytes {
		line = line[:domain.MeshLineMaxBytes]
	}
	cost := float64(len(line) + 2) // + CRLF

	if !domain.BypassesRateLimit(line) {
		now := time.Now()
		if canDelay {
			if err := b.bucket.Wait(cost, now, b.sleep); err != nil {
				telemetry.MeshBytesDropped.Add(cost)
				return err
			}
		} else if !b.bucket.TryConsume(cost, now) {
			telemetry.MeshBytesDropped.Add(cost)
			return domain.ErrMeshTXTimeout
		}
	}

	if err := b.transport.WriteLine(ctx, line, canDelay); err != nil {
		return fmt.Errorf("mesh: write line: %w", err)
	}
	telemetry.MeshBytesTransmitted.Add(cost)
	b.ring.Push(line)
	return nil
}

// RunRX reads inbound lines from the transport until ctx is canceled,
// dispatching each to Handlers. Parse and routing errors are dropped
// silently; RunRX itself only returns on a transport error or context
// cancellation.
func (b *Broker) RunRX(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line, err := b.transport.ReadLine(ctx)
		if err != nil {
			return err
		}
		b.Dispatch(line)
	}
}

// Dispatch routes one inbound line. It never panics
// on malformed input: anything it cannot parse is dropped.
func (b *Broker) Dispatch(raw string) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return
	}

	if strings.HasPrefix(line, "@") {
		b.dispatchTargeted(line)
		return
	}

	sender, content, ok := splitSenderContent(line)
	if !ok {
		return
	}
	if sender == b.selfID {
		return // loop prevention
	}
	b.dispatchContent(sender, content)
}

// dispatchTargeted handles the "@<target> <cmd>" shape: targeted
// messages addressed to another node are ignored, while "@ALL" or
// "@<selfID>" pass their command through unwrapped.
func (b *Broker) dispatchTargeted(line string) {
	rest := strings.TrimPrefix(line, "@")
	target, cmd, ok := strings.Cut(rest, " ")
	if !ok {
		return
	}
	if target != "ALL" && target != b.selfID {
		return
	}
	b.dispatchContent("", cmd)
}

func splitSenderContent(line string) (sender, content string, ok bool) {
	sender, content, found := strings.Cut(line, ": ")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(sender), content, true
}

func (b *Broker) dispatchContent(sender, content string) {
	h := b.handlers
	switch {
	case hasPrefixCall(content, "CONFIG_CHANNELS:", h.ConfigChannels):
	case hasPrefixCall(content, "CONFIG_TARGETS:", h.ConfigTargets):
	case hasPrefixCall(content, "SCAN_START:", h.ScanStart):
	case hasPrefixCall(content, "BASELINE_START:", h.BaselineStart):
	case hasPrefixCall(content, "DEVICE_SCAN_START:", h.DeviceScanStart):
	case hasPrefixCall(content, "DRONE_START:", h.DroneStart):
	case hasPrefixCall(content, "DEAUTH_START:", h.DeauthStart):
	case hasPrefixCall(content, "RANDOMIZATION_START:", h.RandomizationStart):

	case content == "STOP":
		if h.Stop != nil {
			h.Stop()
		}
	case content == "STATUS":
		callNoArg(h.Status)
	case content == "VIBRATION_STATUS":
		callNoArg(h.VibrationStatus)
	case content == "BASELINE_STATUS":
		callNoArg(h.BaselineStatus)

	case strings.HasPrefix(content, "TRIANGULATE_START:"):
		b.dispatchTriangulateStart(sender, content)
	case content == "TRIANGULATE_STOP":
		if h.TriangulateStop != nil {
			h.TriangulateStop()
		}
	case content == "TRIANGULATE_RESULTS":
		callNoArg(h.TriangulateResults)
	case strings.HasPrefix(content, "TARGET_DATA:"):
		if h.TargetData != nil {
			h.TargetData(sender, content)
		}
	case strings.HasPrefix(content, "TIME_SYNC_REQ:"):
		if h.TimeSyncReq != nil {
			h.TimeSyncReq(sender, content)
		}
	case strings.HasPrefix(content, "TIME_SYNC_RESP:"):
		if h.TimeSyncResp != nil {
			h.TimeSyncResp(sender, content)
		}
	case strings.HasPrefix(content, "ERASE_FORCE:"):
		if h.EraseForce != nil {
			h.EraseForce(strings.TrimPrefix(content, "ERASE_FORCE:"))
		}
	case content == "ERASE_CANCEL":
		if h.EraseCancel != nil {
			h.EraseCancel()
		}
	case strings.HasPrefix(content, "Target:"):
		if h.FreeformHit != nil {
			h.FreeformHit(sender, content)
		}
	}
}

func (b *Broker) dispatchTriangulateStart(sender, content string) {
	if b.handlers.TriangulateStart == nil {
		return
	}
	body := strings.TrimPrefix(content, "TRIANGULATE_START:")
	// The target itself may be a colon-separated MAC, so split on the
	// last colon rather than the first.
	idx := strings.LastIndex(body, ":")
	if idx < 0 {
		return
	}
	target, duration := body[:idx], body[idx+1:]
	_ = b.handlers.TriangulateStart(sender, target, duration)
}

// hasPrefixCall invokes fn with the suffix after prefix when content
// matches, and reports whether the case should be taken (so it can sit
// in a switch without a fallthrough).
func hasPrefixCall(content, prefix string, fn func(string) error) bool {
	if !strings.HasPrefix(content, prefix) {
		return false
	}
	if fn != nil {
		_ = fn(strings.TrimPrefix(content, prefix))
	}
	return true
}

func callNoArg(fn func() string) {
	if fn != nil {
		fn()
	}
}
