// Package triangulation implements the cooperative RSSI
// trilateration coordinator. It tracks exactly one
// active session (this node as either initiator or child), folds
// inbound TARGET_DATA reports and clock-sync exchanges into per-peer
// state, and drives the initiator's stop/solve/calibrate sequence.
package triangulation

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/skyline-mesh/sentryhop/internal/core/ports"
	"github.com/skyline-mesh/sentryhop/internal/geo"
	"github.com/skyline-mesh/sentryhop/internal/telemetry"
)

// Sender is the subset of the mesh broker the coordinator needs to
// broadcast protocol messages. Kept as a local interface, matching
// registry.IdentityLookup's pattern, so this package does not import
// mesh and create a cycle.
type Sender interface {
	Send(ctx context.Context, content string, canDelay bool) error
}

// TargetRegistry is the subset of the target registry the coordinator
// drives: the triangulation-active bypass installs/clears the current
// target so every matching frame reaches ObserveHit regardless of the
// operator's standing target list.
type TargetRegistry interface {
	SetTriangulationTarget(t *domain.Target)
}

// Coordinator runs cooperative triangulation. One instance per node;
// nil-safe GPS/clock providers fall back to "no fix" / wall clock.
type Coordinator struct {
	mu sync.Mutex

	selfID   string
	sender   Sender
	registry TargetRegistry
	gps      ports.GPSProvider
	clock    ports.ClockSource

	session *domain.TriangulationSession

	wifiModel domain.PathLossModel
	bleModel  domain.PathLossModel

	peerSync      map[string]domain.PeerSyncStatus
	lastSyncReqAt time.Time
	clockDisc     domain.ClockDiscipline

	lastSendAt      map[string]time.Time // per-protocol send throttling, keyed by "wifi"/"ble"
	calibrating     bool
	calibrationSink *calibrationSink

	sleep func(context.Context, time.Duration) error
}

// New constructs a Coordinator for node selfID.
func New(selfID string, sender Sender, registry TargetRegistry, gps ports.GPSProvider, clock ports.ClockSource) *Coordinator {
	return &Coordinator{
		selfID:     selfID,
		sender:     sender,
		registry:   registry,
		gps:        gps,
		clock:      clock,
		wifiModel:  domain.DefaultWiFiPathLossModel(),
		bleModel:   domain.DefaultBLEPathLossModel(),
		peerSync:   make(map[string]domain.PeerSyncStatus),
		lastSendAt: make(map[string]time.Time),
		sleep:      sleepCtx,
	}
}

func (c *Coordinator) now() time.Time {
	if c.clock != nil {
		return c.clock.Now()
	}
	return time.Now()
}

func (c *Coordinator) location() (lat, lon, hdop float64, ok bool) {
	if c.gps == nil {
		return 0, 0, 0, false
	}
	return c.gps.Location()
}

// StartAsInitiator implements the operator-facing start contract: this
// node becomes the initiator of a new session against target for
// duration. It is a blocking call (it performs the sync-then-start
// handshake with a 2s and a 1s wait), so callers such as an HTTP
// handler should invoke it off the request goroutine if they need to
// stay responsive.
func (c *Coordinator) StartAsInitiator(ctx context.Context, targetStr, durationStr string) error {
	target, err := domain.ParseTargetToken(targetStr)
	if err != nil {
		return err
	}
	durSeconds, err := strconv.Atoi(durationStr)
	if err != nil {
		return fmt.Errorf("triangulation: invalid duration %q: %w", durationStr, err)
	}
	duration := time.Duration(durSeconds) * time.Second
	if err := (domain.DefaultValidator{}).TriangulationDuration(duration); err != nil {
		return err
	}

	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return domain.ErrTriangulationBusy
	}
	now := c.now()
	c.session = &domain.TriangulationSession{
		SessionID:   c.selfID + "-" + uuid.NewString(),
		Target:      target,
		Role:        domain.RoleInitiator,
		StartedAt:   now,
		Duration:    duration,
		InitiatorID: c.selfID,
		Nodes:       make(map[string]*domain.TriangulationNode),
		WiFiModel:   c.wifiModel,
		BLEModel:    c.bleModel,
	}
	c.peerSync = make(map[string]domain.PeerSyncStatus)
	c.mu.Unlock()

	c.registry.SetTriangulationTarget(&target)

	if err := c.broadcastTimeSyncReq(ctx); err != nil {
		return err
	}
	if err := c.sleep(ctx, 2*time.Second); err != nil {
		return err
	}
	if err := c.sender.Send(ctx, fmt.Sprintf("TRIANGULATE_START:%s:%d", target.Raw, durSeconds), true); err != nil {
		return fmt.Errorf("triangulation: broadcast start: %w", err)
	}
	if err := c.sleep(ctx, 1*time.Second); err != nil {
		return err
	}

	return nil
}

// EnterChild handles an inbound TRIANGULATE_START broadcast: this node
// becomes a child of sender's session and begins local accumulation.
// Bound to mesh.Handlers.TriangulateStart.
func (c *Coordinator) EnterChild(sender, target, durationStr string) error {
	parsedTarget, err := domain.ParseTargetToken(target)
	if err != nil {
		return err
	}
	durSeconds, err := strconv.Atoi(durationStr)
	if err != nil {
		return fmt.Errorf("triangulation: invalid duration %q: %w", durationStr, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.session = &domain.TriangulationSession{
		Target:      parsedTarget,
		Role:        domain.RoleChild,
		StartedAt:   now,
		Duration:    time.Duration(durSeconds) * time.Second,
		InitiatorID: sender,
		Nodes:       make(map[string]*domain.TriangulationNode),
		WiFiModel:   c.wifiModel,
		BLEModel:    c.bleModel,
	}
	c.registry.SetTriangulationTarget(&parsedTarget)
	return nil
}

// LeaveChild resets local triangulation state on an inbound
// TRIANGULATE_STOP. Bound to mesh.Handlers.TriangulateStop.
func (c *Coordinator) LeaveChild() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.Role != domain.RoleChild {
		return
	}
	c.resetLocked()
}

// StopAsInitiator implements the stop contract: broadcast
// TRIANGULATE_STOP, wait for acks, inject this node's own accumulator,
// wait for peer reports to stabilize, then solve and reset.
func (c *Coordinator) StopAsInitiator(ctx context.Context) (domain.TrilaterationResult, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil || session.Role != domain.RoleInitiator {
		return domain.TrilaterationResult{}, domain.ErrTriangulationIdle
	}

	_ = c.sender.Send(ctx, "TRIANGULATE_STOP", false) // bypasses the token bucket
	_ = c.sleep(ctx, domain.TriStopAckWait)

	c.mu.Lock()
	c.injectSelfLocked()
	c.mu.Unlock()

	c.waitForStabilization(ctx)

	c.mu.Lock()
	result := Solve(c.session, c.syncVerifiedLocked(), c.wifiModel.Calibrated && c.bleModel.Calibrated)
	if result.OK {
		c.calibrateFromResultLocked(result)
		telemetry.TriangulationSessions.WithLabelValues("resolved").Inc()
	} else {
		telemetry.TriangulationSessions.WithLabelValues("insufficient_gps").Inc()
	}
	c.resetLocked()
	c.mu.Unlock()

	return result, nil
}

// StopAsInitiatorText runs StopAsInitiator and renders the outcome as
// the operator-facing results text.
func (c *Coordinator) StopAsInitiatorText(ctx context.Context) (string, error) {
	result, err := c.StopAsInitiator(ctx)
	if err != nil {
		return "", err
	}
	return FormatResult(result), nil
}

// waitForStabilization blocks until the reporting node count has been
// unchanged for TriStabilizeSettle, with a TriStabilizeMin floor and a
// TriStabilizeMax ceiling.
func (c *Coordinator) waitForStabilization(ctx context.Context) {
	start := c.now()
	const poll = 500 * time.Millisecond

	c.mu.Lock()
	c.session.LastNodeCount = len(c.session.Nodes)
	c.session.LastNodeCountChangeAt = start
	c.mu.Unlock()

	for {
		if err := c.sleep(ctx, poll); err != nil {
			return
		}
		now := c.now()
		elapsed := now.Sub(start)

		c.mu.Lock()
		n := len(c.session.Nodes)
		if n != c.session.LastNodeCount {
			c.session.LastNodeCount = n
			c.session.LastNodeCountChangeAt = now
		}
		settled := now.Sub(c.session.LastNodeCountChangeAt) >= domain.TriStabilizeSettle
		c.mu.Unlock()

		if elapsed >= domain.TriStabilizeMax {
			return
		}
		if elapsed >= domain.TriStabilizeMin && settled {
			return
		}
	}
}

// injectSelfLocked folds this node's own local accumulator into
// triangulation_nodes directly, since the initiator never sends
// TARGET_DATA to itself. Called with c.mu held.
func (c *Coordinator) injectSelfLocked() {
	acc := c.session.Local
	now := c.now()
	if acc.WiFi.HitCount > 0 {
		c.updateNodeLocked(c.selfID, acc.WiFi.AvgRSSI(), false, acc, now)
	}
	if acc.BLE.HitCount > 0 {
		c.updateNodeLocked(c.selfID, acc.BLE.AvgRSSI(), true, acc, now)
	}
}

// ObserveHit satisfies classifier.TriangulationSink: every frame the
// classifier already matched against the triangulation-bypass target
// is folded into this node's local per-protocol accumulator and
// refreshes its GPS snapshot.
func (c *Coordinator) ObserveHit(mac [6]byte, rssi int, isBLE bool, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calibrationSink != nil {
		c.calibrationSink.acc.Observe(rssi, isBLE)
		return
	}
	if c.session == nil {
		return
	}
	c.session.Local.Observe(rssi, isBLE)
	if lat, lon, hdop, ok := c.location(); ok {
		c.session.Local.SetGPSSnapshot(lat, lon, hdop)
	}
}

// Tick drives the periodic per-node TARGET_DATA emission, the
// initiator's clock-sync rebroadcast, and the child self-timeout.
// Intended to be called roughly once a second from the node's
// scheduler loop.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return
	}

	if session.Role == domain.RoleChild {
		c.tickChild(ctx, session, now)
	} else {
		c.tickInitiator(ctx, now)
	}
}

func (c *Coordinator) tickChild(ctx context.Context, session *domain.TriangulationSession, now time.Time) {
	jitter := time.Duration(jitterMS(c.selfID)) * time.Millisecond
	due := domain.TriSendInterval + jitter

	c.mu.Lock()
	lastWiFi := c.lastSendAt["wifi"]
	lastBLE := c.lastSendAt["ble"]
	c.mu.Unlock()

	if now.Sub(lastWiFi) >= due && session.Local.WiFi.HitCount > 0 {
		c.emitTargetData(ctx, false)
		c.mu.Lock()
		c.lastSendAt["wifi"] = now
		c.mu.Unlock()
	}
	if now.Sub(lastBLE) >= due && session.Local.BLE.HitCount > 0 {
		c.emitTargetData(ctx, true)
		c.mu.Lock()
		c.lastSendAt["ble"] = now
		c.mu.Unlock()
	}

	if session.Expired(now) {
		overdue := now.Sub(session.StartedAt.Add(session.Duration))
		if overdue >= domain.ChildSelfTimeoutWait {
			c.mu.Lock()
			if c.session == session {
				c.resetLocked()
			}
			c.mu.Unlock()
		}
	}
}

func (c *Coordinator) tickInitiator(ctx context.Context, now time.Time) {
	c.mu.Lock()
	due := now.Sub(c.lastSyncReqAt) >= domain.ClockSyncInterval
	c.mu.Unlock()
	if due {
		_ = c.broadcastTimeSyncReq(ctx)
	}
}

// emitTargetData sends one TARGET_DATA line for the given protocol's
// accumulator.
func (c *Coordinator) emitTargetData(ctx context.Context, isBLE bool) {
	c.mu.Lock()
	acc := c.session.Local
	target := c.session.Target
	c.mu.Unlock()

	proto := &acc.WiFi
	typeTag := "WiFi"
	if isBLE {
		proto = &acc.BLE
		typeTag = "BLE"
	}
	if proto.HitCount == 0 {
		return
	}

	line := fmt.Sprintf("TARGET_DATA: %s Hits=%d RSSI:%.1f Type:%s",
		target.Raw, proto.HitCount, proto.AvgRSSI(), typeTag)
	if acc.HasGPSSnapshot {
		line += fmt.Sprintf(" GPS=%.6f,%.6f HDOP=%.1f", acc.Lat, acc.Lon, acc.HDOP)
	}
	_ = c.sender.Send(ctx, line, true)
}

// OnTargetData ingests one peer's TARGET_DATA report. Bound to
// mesh.Handlers.TargetData.
func (c *Coordinator) OnTargetData(sender, line string) {
	mac, rawToken, rssi, isBLE, lat, lon, hdop, hasGPS, ok := parseTargetData(line)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || !c.targetMatchesLocked(mac, rawToken) {
		return
	}
	acc := domain.TriangulationAccumulator{}
	if hasGPS {
		acc.SetGPSSnapshot(lat, lon, hdop)
	}
	c.updateNodeLocked(sender, rssi, isBLE, acc, c.now())
}

// updateNodeLocked implements the inbound-report ingestion steps
// 2-5 against one peer's node. Called with c.mu held.
func (c *Coordinator) updateNodeLocked(nodeID string, avgRSSI float64, isBLE bool, acc domain.TriangulationAccumulator, now time.Time) {
	node, ok := c.session.Nodes[nodeID]
	if !ok {
		node = &domain.TriangulationNode{NodeID: nodeID}
		c.session.Nodes[nodeID] = node
	}
	node.IsBLE = isBLE
	if acc.HasGPSSnapshot {
		node.Lat, node.Lon, node.HDOP, node.HasGPS = acc.Lat, acc.Lon, acc.HDOP, true
	}

	node.UpdateRSSI(avgRSSI, now)
	node.RecomputeSignalQuality()
	model := c.session.WiFiModel
	if isBLE {
		model = c.session.BLEModel
	}
	node.RecomputeDistance(model)
}

// broadcastTimeSyncReq sends this node's current timestamp as a
// TIME_SYNC_REQ.
func (c *Coordinator) broadcastTimeSyncReq(ctx context.Context) error {
	now := c.now()
	c.mu.Lock()
	c.lastSyncReqAt = now
	c.mu.Unlock()
	return c.sender.Send(ctx, "TIME_SYNC_REQ:"+encodeTimestamp(now), true)
}

// OnTimeSyncReq replies to an initiator's TIME_SYNC_REQ with this
// node's own timestamp. Bound to mesh.Handlers.TimeSyncReq.
func (c *Coordinator) OnTimeSyncReq(ctx context.Context, sender, line string) {
	received := c.now()
	body := strings.TrimPrefix(line, "TIME_SYNC_REQ:")
	if _, ok := decodeTimestamp(body); !ok {
		return
	}
	propDelayMS := c.now().Sub(received).Seconds() * 1000
	resp := fmt.Sprintf("TIME_SYNC_RESP:%s:%.3f", encodeTimestamp(c.now()), propDelayMS)
	_ = c.sender.Send(ctx, resp, true)
}

// OnTimeSyncResp folds one peer's TIME_SYNC_RESP into its
// PeerSyncStatus and the local clock discipline. Bound to
// mesh.Handlers.TimeSyncResp.
func (c *Coordinator) OnTimeSyncResp(sender, line string) {
	body := strings.TrimPrefix(line, "TIME_SYNC_RESP:")
	idx := strings.LastIndex(body, ":")
	if idx < 0 {
		return
	}
	tsPart, propPart := body[:idx], body[idx+1:]
	peerTime, ok := decodeTimestamp(tsPart)
	if !ok {
		return
	}
	propDelayMS, err := strconv.ParseFloat(propPart, 64)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	rttMS := now.Sub(c.lastSyncReqAt).Seconds() * 1000
	oneWayMS := (rttMS - propDelayMS) / 2
	offsetMS := peerTime.Sub(now).Seconds()*1000 + oneWayMS

	status := c.peerSync[sender]
	status.NodeID = sender
	status.LastChecked = now
	status.OffsetMS = offsetMS
	status.PropDelayMS = propDelayMS
	status.Synced = math.Abs(offsetMS) <= domain.ClockSyncBoundMS
	c.peerSync[sender] = status
}

// syncVerifiedLocked passes if at least 2/3 of peers checked within
// the last two sync intervals are synced.
// Called with c.mu held.
func (c *Coordinator) syncVerifiedLocked() bool {
	if len(c.peerSync) == 0 {
		return false
	}
	now := c.now()
	recent, synced := 0, 0
	for _, s := range c.peerSync {
		if now.Sub(s.LastChecked) > 2*domain.ClockSyncInterval {
			continue
		}
		recent++
		if s.Synced {
			synced++
		}
	}
	if recent == 0 {
		return false
	}
	return float64(synced)/float64(recent) >= 2.0/3.0
}

// ObserveRTCOffset folds one GPS-time-vs-RTC sample into the node's
// drift discipline. The caller is expected to
// invoke this only when triangulation is not active and GPS carries a
// valid time fix.
func (c *Coordinator) ObserveRTCOffset(offset time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return
	}
	c.clockDisc.Observe(offset, now)
}

// calibrateFromResultLocked implements the adaptive path-loss
// back-projection: for each GPS node, treat its haversine
// distance to the solved fix as ground truth and fit a fresh OLS
// model against the accumulated (log-distance, rssi) samples. Called
// with c.mu held.
func (c *Coordinator) calibrateFromResultLocked(result domain.TrilaterationResult) {
	var wifiSamples, bleSamples []domain.PathLossCalibrationSample
	for _, node := range c.session.Nodes {
		if !node.HasGPS {
			continue
		}
		dist := geo.HaversineMeters(node.Lat, node.Lon, result.Lat, result.Lon)
		if dist <= 0 {
			continue
		}
		sample := domain.PathLossCalibrationSample{Log10Distance: log10(dist), RSSI: node.FilteredRSSI}
		if node.IsBLE {
			bleSamples = append(bleSamples, sample)
		} else {
			wifiSamples = append(wifiSamples, sample)
		}
	}
	if len(wifiSamples) >= domain.PathLossCalibMinSample {
		c.wifiModel = c.wifiModel.FitOLS(wifiSamples)
	}
	if len(bleSamples) >= domain.PathLossCalibMinSample {
		c.bleModel = c.bleModel.FitOLS(bleSamples)
	}
}

// Calibrate implements the operator-forced calibration task:
// hold target at a known, fixed distance for CalibrationHoldDuration
// while sampling RSSI for both protocols, then set each protocol's
// reference RSSI directly from the sampled mean.
func (c *Coordinator) Calibrate(ctx context.Context, targetStr string, knownDistanceM float64) error {
	target, err := domain.ParseTargetToken(targetStr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return domain.ErrTriangulationBusy
	}
	c.calibrating = true
	c.mu.Unlock()

	c.registry.SetTriangulationTarget(&target)
	var acc domain.TriangulationAccumulator
	sampler := &calibrationSink{acc: &acc}
	prevSink := c.swapCalibrationSink(sampler)
	defer c.swapCalibrationSink(prevSink)

	err = c.sleep(ctx, domain.CalibrationHoldDuration)

	c.registry.SetTriangulationTarget(nil)
	c.mu.Lock()
	c.calibrating = false
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if acc.WiFi.HitCount > 0 {
		c.wifiModel.RefRSSIAt1m = acc.WiFi.AvgRSSI() + 10*c.wifiModel.Exponent*log10(knownDistanceM)
		c.wifiModel.Calibrated = true
		c.wifiModel.SampleCount = acc.WiFi.HitCount
	}
	if acc.BLE.HitCount > 0 {
		c.bleModel.RefRSSIAt1m = acc.BLE.AvgRSSI() + 10*c.bleModel.Exponent*log10(knownDistanceM)
		c.bleModel.Calibrated = true
		c.bleModel.SampleCount = acc.BLE.HitCount
	}
	return nil
}

// calibrationSink is a throwaway ObserveHit target used only during
// Calibrate, so calibration sampling does not require an active
// session.
type calibrationSink struct {
	acc *domain.TriangulationAccumulator
}

func (c *Coordinator) swapCalibrationSink(s *calibrationSink) *calibrationSink {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.calibrationSink
	c.calibrationSink = s
	return prev
}

// Results renders the operator-facing TRIANGULATE_RESULTS summary: one
// line per known peer node. Bound to mesh.Handlers.TriangulateResults.
func (c *Coordinator) Results() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return "no active triangulation session"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "session target=%s role=%d nodes=%d\n", c.session.Target.Raw, c.session.Role, len(c.session.Nodes))
	for id, n := range c.session.Nodes {
		fmt.Fprintf(&b, "  %s rssi=%.1f quality=%.2f dist=%.1fm gps=%v\n", id, n.FilteredRSSI, n.SignalQuality, n.DistanceEstimate, n.HasGPS)
	}
	return b.String()
}

// resetLocked clears all per-session state and lifts the registry
// bypass. Called with c.mu held.
func (c *Coordinator) resetLocked() {
	c.session = nil
	c.peerSync = make(map[string]domain.PeerSyncStatus)
	c.lastSendAt = make(map[string]time.Time)
	c.registry.SetTriangulationTarget(nil)
}

func jitterMS(nodeID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(nodeID))
	return int(h.Sum32() % domain.TriJitterMaxMS)
}

func log10(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Log10(x)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// encodeTimestamp renders t as "<epoch>:<centisec>:<micros>", the
// three-field precision split the sync wire format uses on the
// low-bandwidth mesh link.
func encodeTimestamp(t time.Time) string {
	centisec := t.Nanosecond() / 10_000_000
	micros := (t.Nanosecond() / 1000) % 10000
	return fmt.Sprintf("%d:%d:%d", t.Unix(), centisec, micros)
}

func decodeTimestamp(s string) (time.Time, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	epoch, err1 := strconv.ParseInt(parts[0], 10, 64)
	centisec, err2 := strconv.Atoi(parts[1])
	micros, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	nanos := centisec*10_000_000 + micros*1000
	return time.Unix(epoch, int64(nanos)).UTC(), true
}

// targetMatchesLocked reports whether a TARGET_DATA line names this
// session's target: MAC equality for a MAC target, raw-token equality
// for an identity handle. Called with c.mu held.
func (c *Coordinator) targetMatchesLocked(mac [6]byte, rawToken string) bool {
	switch c.session.Target.Kind {
	case domain.TargetMAC:
		return c.session.Target.MAC == mac
	case domain.TargetIdentity:
		return strings.EqualFold(rawToken, c.session.Target.Raw)
	default:
		return false
	}
}

// parseTargetData parses one "TARGET_DATA: <mac> Hits=N RSSI:avg
// Type:{WiFi|BLE} [GPS=lat,lon HDOP=h]" line. The first field is
// returned both decoded (when it is a MAC) and raw (it may be an
// identity handle).
func parseTargetData(line string) (mac [6]byte, rawToken string, rssi float64, isBLE bool, lat, lon, hdop float64, hasGPS bool, ok bool) {
	body := strings.TrimPrefix(line, "TARGET_DATA:")
	fields := strings.Fields(body)
	if len(fields) < 3 {
		return mac, "", 0, false, 0, 0, 0, false, false
	}

	rawToken = fields[0]
	if parsedMAC, err := domain.ParseMAC(rawToken); err == nil {
		mac = parsedMAC
	} else if !domain.IsIdentityHandle(rawToken) {
		return mac, "", 0, false, 0, 0, 0, false, false
	}

	for _, f := range fields[1:] {
		switch {
		case strings.HasPrefix(f, "RSSI:"):
			v, err := strconv.ParseFloat(strings.TrimPrefix(f, "RSSI:"), 64)
			if err != nil {
				return mac, "", 0, false, 0, 0, 0, false, false
			}
			rssi = v
		case strings.HasPrefix(f, "Type:"):
			isBLE = strings.TrimPrefix(f, "Type:") == "BLE"
		case strings.HasPrefix(f, "GPS="):
			coords := strings.SplitN(strings.TrimPrefix(f, "GPS="), ",", 2)
			if len(coords) != 2 {
				continue
			}
			la, errA := strconv.ParseFloat(coords[0], 64)
			lo, errB := strconv.ParseFloat(coords[1], 64)
			if errA == nil && errB == nil {
				lat, lon = la, lo
				hasGPS = true
			}
		case strings.HasPrefix(f, "HDOP="):
			if h, err := strconv.ParseFloat(strings.TrimPrefix(f, "HDOP="), 64); err == nil {
				hdop = h
			}
		}
	}
	return mac, rawToken, rssi, isBLE, lat, lon, hdop, hasGPS, true
}
