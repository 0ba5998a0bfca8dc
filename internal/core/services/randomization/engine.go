// Package randomization implements the MAC-randomization
// de-anonymization engine: it maintains open ProbeSessions and links
// them into persistent DeviceIdentity clusters via a weighted
// behavioral-similarity score.
package randomization

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/skyline-mesh/sentryhop/internal/core/ports"
	"github.com/skyline-mesh/sentryhop/internal/telemetry"
)

// LinkingTickInterval is the periodic linking-attempt cadence.
const LinkingTickInterval = 5 * time.Second

// Engine owns the active-session map and the device-identity map and
// is the sole writer of both, guarded by one mutex. Overflow drops
// the newest frame, never an existing session.
type Engine struct {
	mu sync.Mutex

	sessions   map[string]*domain.ProbeSession // key: FormatMAC
	identities map[string]*domain.DeviceIdentity

	store ports.IdentityStore

	lastLinkAttempt map[string]time.Time

	// recentGlobals is a small ledger of lately-seen global-MAC frames
	// (fingerprint, sequence, time) consulted by the paired-session
	// leak heuristic when a randomized session is updated.
	recentGlobals []globalSighting
}

// globalSighting is one observed global-MAC frame kept for the
// paired-session leak heuristic.
type globalSighting struct {
	mac         [6]byte
	fingerprint [6]uint16
	seqNum      uint16
	seqValid    bool
	seen        time.Time
	isBLE       bool
}

// New constructs an Engine backed by an optional identity store (nil
// runs RAM-only).
func New(store ports.IdentityStore) *Engine {
	return &Engine{
		sessions:        make(map[string]*domain.ProbeSession),
		identities:      make(map[string]*domain.DeviceIdentity),
		lastLinkAttempt: make(map[string]time.Time),
		store:           store,
	}
}

// Load restores the identity table from the store at startup.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	list, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("randomization: load identity store: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range list {
		e.identities[id.ID] = id
	}
	return nil
}

// Stop serializes the identity table to stable storage.
func (e *Engine) Stop(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	e.mu.Lock()
	list := make([]*domain.DeviceIdentity, 0, len(e.identities))
	for _, id := range e.identities {
		list = append(list, id)
	}
	e.mu.Unlock()
	return e.store.Save(ctx, list)
}

// IdentityMACs satisfies registry.IdentityLookup: it resolves an
// identity handle to its current MAC snapshot.
func (e *Engine) IdentityMACs(identityID string) ([][6]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.identities[identityID]
	if !ok {
		return nil, false
	}
	out := make([][6]byte, len(id.MACs))
	copy(out, id.MACs)
	return out, true
}

// Ingest folds a probe or auth frame for a randomized MAC into its
// open ProbeSession, opening one if needed.
func (e *Engine) Ingest(f *ports.Frame) {
	if !domain.IsRandomizedMAC(f.MAC) {
		e.correlateGlobalAuth(f)
		return
	}

	now := f.Timestamp
	key := domain.FormatMAC(f.MAC)

	e.mu.Lock()
	session, ok := e.sessions[key]
	if !ok {
		if len(e.sessions) >= domain.MaxActiveSessions {
			e.mu.Unlock()
			telemetry.FramesDropped.WithLabelValues("session_cap").Inc()
			return // session-cap overflow: drop the newest frame
		}
		session = &domain.ProbeSession{
			MAC:         f.MAC,
			StartTime:   now,
			LastSeen:    now,
			Fingerprint: fingerprintOf(f),
			IEOrder:     f.IEOrder,
			IsBLE:       f.IsBLE,
		}
		e.sessions[key] = session
	}

	session.AppendRSSI(f.RSSI)
	session.AppendProbeTimestamp(now, f.Channel)
	if !f.IsBLE {
		applySeqNum(session, f.SeqNum, f.SeqValid)
	}
	if !session.HasGlobalMACLeak {
		e.pairWithRecentGlobalLocked(session, now)
	}
	eligible := session.EligibleForLinking(now)
	e.mu.Unlock()

	if eligible && e.dueForLinkAttempt(key, now) {
		e.attemptLink(key, now)
	}
}

func (e *Engine) dueForLinkAttempt(key string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastLinkAttempt[key]
	if ok && now.Sub(last) < LinkingTickInterval {
		return false
	}
	e.lastLinkAttempt[key] = now
	return true
}

func applySeqNum(s *domain.ProbeSession, seq uint16, valid bool) {
	if !valid {
		return
	}
	if s.SeqNumValid {
		delta := int(seq) - int(s.LastSeqNum)
		if delta < 0 {
			delta += 4096
			s.SeqWraps++
		}
		if delta > 1 {
			s.SeqGaps += delta - 1
		}
	}
	s.LastSeqNum = seq
	s.SeqNumValid = true
}

// fingerprintOf prefers the classifier's per-element fingerprint and
// falls back to a composite-only CRC when only a raw body is present.
func fingerprintOf(f *ports.Frame) [6]uint16 {
	fp := f.IEFingerprint
	if fp == ([6]uint16{}) && len(f.IEBody) > 0 {
		fp[5] = domain.CRC16(f.IEBody)
	}
	return fp
}

// Tick runs the periodic housekeeping: session GC, identity GC, and a
// linking sweep over sessions eligible but not recently attempted.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	var expiredKeys []string
	for key, s := range e.sessions {
		if s.ReadyForGC(now) {
			expiredKeys = append(expiredKeys, key)
		}
	}
	for _, key := range expiredKeys {
		delete(e.sessions, key)
		delete(e.lastLinkAttempt, key)
	}
	var staleIDs []string
	for id, identity := range e.identities {
		if identity.Stale(now) {
			staleIDs = append(staleIDs, id)
		}
	}
	for _, id := range staleIDs {
		delete(e.identities, id)
	}
	e.mu.Unlock()
}

// candidate is one (session, identity) similarity evaluation.
type candidate struct {
	identity  *domain.DeviceIdentity
	score     float64
	deltaRSSI float64
}

// attemptLink scores the session named by key against every tracked
// identity and either links, creates, or does nothing.
func (e *Engine) attemptLink(key string, now time.Time) {
	e.mu.Lock()
	session, ok := e.sessions[key]
	if !ok || session.LinkedToIdentity {
		e.mu.Unlock()
		return
	}

	threshold := domain.LinkThresholdHigh
	if len(e.identities) == 0 || session.ProbeCount < domain.LinkThresholdHighProbe {
		threshold = domain.LinkThresholdLow
	}

	var best *candidate
	for _, identity := range e.identities {
		if identity.IsBLE != session.IsBLE {
			continue
		}
		score, deltaRSSI := similarity(session, identity, now)
		if score < threshold {
			continue
		}
		if best == nil || score > best.score || (score == best.score && math.Abs(deltaRSSI) < math.Abs(best.deltaRSSI)) {
			best = &candidate{identity: identity, score: score, deltaRSSI: deltaRSSI}
		}
	}

	if best != nil {
		e.link(session, best.identity, best.score, now)
		e.mu.Unlock()
		telemetry.IdentitiesLinked.WithLabelValues("linked").Inc()
		return
	}

	if len(e.identities) < domain.MaxIdentities {
		e.createIdentity(session, now)
		e.mu.Unlock()
		telemetry.IdentitiesLinked.WithLabelValues("created").Inc()
		return
	}
	e.mu.Unlock()
	telemetry.IdentitiesLinked.WithLabelValues("dropped_cap").Inc()
}

// link performs the link action: must be called with e.mu held.
func (e *Engine) link(session *domain.ProbeSession, identity *domain.DeviceIdentity, score float64, now time.Time) {
	identity.AddMAC(session.MAC)

	slot := domain.SignatureSlot{Valid: true, Fingerprint: session.Fingerprint, IEOrder: session.IEOrder}
	if domain.IsMinimalFingerprint(session.Fingerprint) {
		if !identity.Signature.Minimal.Valid {
			identity.Signature.Minimal = slot
		}
	} else if !identity.Signature.Full.Valid {
		identity.Signature.Full = slot
	}

	for _, r := range session.RSSIReadings {
		identity.Signature.AppendRSSI(r)
	}
	for _, gap := range session.ProbeIntervals() {
		identity.Signature.AppendProbeGap(float64(gap.Milliseconds()))
	}
	identity.Signature.IntervalConsistency = domain.EMABlend(identity.Signature.IntervalConsistency, intervalConsistency(session), identity.Signature.ObservationCount)
	identity.Signature.RSSIConsistency = domain.EMABlend(identity.Signature.RSSIConsistency, rssiConsistency(session), identity.Signature.ObservationCount)
	identity.Signature.ChannelMask |= session.ChannelMask
	for ch := 1; ch <= 32; ch++ {
		if session.ChannelMask&(1<<uint(ch-1)) != 0 {
			identity.Signature.AppendChannelSequence(ch)
		}
	}
	identity.Signature.ObservationCount++

	if session.SeqNumValid {
		identity.LastSequenceNum = session.LastSeqNum
		identity.SequenceValid = true
	}
	if session.HasGlobalMACLeak {
		identity.HasKnownGlobalMAC = true
		identity.KnownGlobalMAC = session.GlobalMACLeaked
	}

	identity.UpdateConfidence(score)
	identity.ObservedSessions++
	identity.LastSeen = now

	session.LinkedToIdentity = true
	session.LinkedIdentityID = identity.ID
}

// createIdentity performs the create-new path: must be called
// with e.mu held.
func (e *Engine) createIdentity(session *domain.ProbeSession, now time.Time) {
	id := &domain.DeviceIdentity{
		ID:               newIdentityID(),
		MACs:             [][6]byte{session.MAC},
		FirstSeen:        now,
		LastSeen:         now,
		Confidence:       1.0,
		ObservedSessions: 1,
		IsBLE:            session.IsBLE,
	}
	id.Signature.AdoptSlot(session.Fingerprint, session.IEOrder)
	for _, r := range session.RSSIReadings {
		id.Signature.AppendRSSI(r)
	}
	for _, gap := range session.ProbeIntervals() {
		id.Signature.AppendProbeGap(float64(gap.Milliseconds()))
	}
	id.Signature.ChannelMask = session.ChannelMask
	for ch := 1; ch <= 32; ch++ {
		if session.ChannelMask&(1<<uint(ch-1)) != 0 {
			id.Signature.AppendChannelSequence(ch)
		}
	}
	id.Signature.IntervalConsistency = intervalConsistency(session)
	id.Signature.RSSIConsistency = rssiConsistency(session)
	id.Signature.ObservationCount = 1
	if session.SeqNumValid {
		id.LastSequenceNum = session.LastSeqNum
		id.SequenceValid = true
	}
	if session.HasGlobalMACLeak {
		id.HasKnownGlobalMAC = true
		id.KnownGlobalMAC = session.GlobalMACLeaked
	}

	e.identities[id.ID] = id
	session.LinkedToIdentity = true
	session.LinkedIdentityID = id.ID
}

func newIdentityID() string {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("T-%02X%02X", b[0], b[1])
}

// similarity computes the weighted behavioral-similarity score for
// one (session, identity) pair, plus the raw Δmean_rssi used for
// tie-breaking.
func similarity(session *domain.ProbeSession, identity *domain.DeviceIdentity, now time.Time) (score, deltaRSSI float64) {
	deltaRSSI = session.MeanRSSI() - meanOf(identity.Signature.RSSIHistory)

	score += domain.WeightRSSICloseness * math.Max(0, 1-math.Abs(deltaRSSI)/50)
	score += domain.WeightMACPrefix * macPrefixScore(identity.AnchorMAC(), session.MAC)
	score += domain.WeightIEFingerprint * fingerprintScore(session, identity)
	score += domain.WeightIEOrder * ieOrderScore(session.IEOrder, identity)
	score += domain.WeightChannelSequence * channelSequenceScore(session, identity)
	score += domain.WeightTiming * timingScore(session, identity)
	score += domain.WeightRSSIDistribution * rssiDistributionScore(session, identity)
	if !session.IsBLE {
		score += domain.WeightSeqContinuity * seqContinuityScore(session, identity)
	}
	score += domain.WeightKnownGlobalMAC * globalMACScore(session, identity)
	score += domain.WeightRotationGap * rotationGapScore(session, identity, now)

	return score, deltaRSSI
}

func meanOf(xs []int8) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum int
	for _, x := range xs {
		sum += int(x)
	}
	return float64(sum) / float64(len(xs))
}

// macPrefixScore counts matching bytes in the first 4 of anchor vs
// session MAC, ÷4; 0 below 3 matches.
func macPrefixScore(anchor, candidate [6]byte) float64 {
	matches := 0
	for i := 0; i < 4; i++ {
		if anchor[i] == candidate[i] {
			matches++
		}
	}
	if matches < 3 {
		return 0
	}
	return float64(matches) / 4.0
}

// fingerprintScore picks the better of full/minimal slot: matching
// non-zero slots ÷ 5.
func fingerprintScore(session *domain.ProbeSession, identity *domain.DeviceIdentity) float64 {
	best := 0.0
	for _, slot := range []domain.SignatureSlot{identity.Signature.Full, identity.Signature.Minimal} {
		if !slot.Valid {
			continue
		}
		matches := 0
		for i := 0; i < 5; i++ { // composite slot excluded: it double-counts the others
			if slot.Fingerprint[i] != 0 && slot.Fingerprint[i] == session.Fingerprint[i] {
				matches++
			}
		}
		if score := float64(matches) / 5.0; score > best {
			best = score
		}
	}
	return best
}

// ieOrderScore: 1.0 if the order hash is equal or at least 80% of
// prefix positions agree.
func ieOrderScore(sessionOrder domain.IEOrderSignature, identity *domain.DeviceIdentity) float64 {
	best := 0.0
	for _, slot := range []domain.SignatureSlot{identity.Signature.Full, identity.Signature.Minimal} {
		if !slot.Valid {
			continue
		}
		if slot.IEOrder.Hash == sessionOrder.Hash && sessionOrder.Hash != 0 {
			return 1.0
		}
		n := len(sessionOrder.Tags)
		if len(slot.IEOrder.Tags) < n {
			n = len(slot.IEOrder.Tags)
		}
		if n == 0 {
			continue
		}
		agree := 0
		for i := 0; i < n; i++ {
			if sessionOrder.Tags[i] == slot.IEOrder.Tags[i] {
				agree++
			}
		}
		if ratio := float64(agree) / float64(n); ratio >= 0.8 {
			return 1.0
		} else if ratio > best {
			best = ratio
		}
	}
	return best
}

// channelSequenceScore is the cosine similarity of channel-sequence
// vectors, zero-padded.
func channelSequenceScore(session *domain.ProbeSession, identity *domain.DeviceIdentity) float64 {
	a := bitmapToVector(session.ChannelMask)
	b := bitmapToVector(identity.Signature.ChannelMask)
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func bitmapToVector(mask uint32) [32]float64 {
	var v [32]float64
	for i := 0; i < 32; i++ {
		if mask&(1<<uint(i)) != 0 {
			v[i] = 1
		}
	}
	return v
}

// timingScore is the max of (interval-consistency delta) and
// (inter-frame CV similarity). Below the minimum sample counts it
// falls back to 0 rather than claiming similarity on no data.
func timingScore(session *domain.ProbeSession, identity *domain.DeviceIdentity) float64 {
	if len(session.ProbeIntervals()) < 2 || identity.Signature.ObservationCount == 0 {
		return 0
	}
	sessionIC := intervalConsistency(session)
	identIC := identity.Signature.IntervalConsistency
	delta := 1 - math.Abs(sessionIC-identIC)

	cvSim := 0.0
	if len(identity.Signature.ProbeGapsMS) >= 2 {
		sessionCV := coefficientOfVariation(session.ProbeIntervals())
		identCV := cvOfGaps(identity.Signature.ProbeGapsMS)
		cvSim = 1 - math.Abs(sessionCV-identCV)
	}

	return math.Max(delta, cvSim)
}

func cvOfGaps(gapsMS []float64) float64 {
	var sum float64
	for _, g := range gapsMS {
		sum += g
	}
	mean := sum / float64(len(gapsMS))
	if mean == 0 {
		return 0
	}
	return stddevFloat(gapsMS) / mean
}

func intervalConsistency(session *domain.ProbeSession) float64 {
	intervals := session.ProbeIntervals()
	if len(intervals) < 2 {
		return 0
	}
	cv := coefficientOfVariation(intervals)
	return math.Max(0, 1-cv)
}

// rssiConsistency maps the spread of a session's RSSI readings into
// [0,1]: a steady signal scores near 1, a noisy one near 0.
func rssiConsistency(session *domain.ProbeSession) float64 {
	if len(session.RSSIReadings) < 2 {
		return 0
	}
	return 1 / (1 + math.Sqrt(varianceInt8(session.RSSIReadings)))
}

func coefficientOfVariation(intervals []time.Duration) float64 {
	if len(intervals) == 0 {
		return 0
	}
	xs := make([]float64, len(intervals))
	for i, d := range intervals {
		xs[i] = float64(d.Milliseconds())
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if mean == 0 {
		return 0
	}
	return stddevFloat(xs) / mean
}

func stddevFloat(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	return math.Sqrt(variance / float64(len(xs)))
}

// rssiDistributionScore is the Gaussian overlap of the two RSSI
// distributions. Falls back to 0 below two samples a side.
func rssiDistributionScore(session *domain.ProbeSession, identity *domain.DeviceIdentity) float64 {
	if len(session.RSSIReadings) < 2 || len(identity.Signature.RSSIHistory) < 2 {
		return 0
	}
	deltaMean := session.MeanRSSI() - meanOf(identity.Signature.RSSIHistory)
	meanVar := (varianceInt8(session.RSSIReadings) + varianceInt8(identity.Signature.RSSIHistory)) / 2
	if meanVar == 0 {
		meanVar = 1
	}
	return math.Exp(-0.25 * deltaMean * deltaMean / meanVar)
}

func varianceInt8(xs []int8) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := meanOf(xs)
	var v float64
	for _, x := range xs {
		d := float64(x) - m
		v += d * d
	}
	return v / float64(len(xs))
}

// seqContinuityScore is 1-gap/100 when the forward gap is below 100,
// else 0.
func seqContinuityScore(session *domain.ProbeSession, identity *domain.DeviceIdentity) float64 {
	if !identity.SequenceValid || !session.SeqNumValid {
		return 0
	}
	gap := int(session.LastSeqNum) - int(identity.LastSequenceNum)
	if gap < 0 {
		gap += 4096
	}
	if gap >= 100 {
		return 0
	}
	return 1 - float64(gap)/100
}

// globalMACScore is 1.0 when both sides know the same global MAC.
func globalMACScore(session *domain.ProbeSession, identity *domain.DeviceIdentity) float64 {
	if session.HasGlobalMACLeak && identity.HasKnownGlobalMAC && session.GlobalMACLeaked == identity.KnownGlobalMAC {
		return 1.0
	}
	return 0
}

// rotationGapScore is 1.0 inside the protocol rotation window, 0.5
// below the window, 0 above it.
func rotationGapScore(session *domain.ProbeSession, identity *domain.DeviceIdentity, now time.Time) float64 {
	gap := session.StartTime.Sub(identity.LastSeen)
	if gap < 0 {
		gap = 0
	}
	min, max := domain.WiFiRotationGapMin, domain.WiFiRotationGapMax
	if session.IsBLE {
		min, max = domain.BLERotationGapMin, domain.BLERotationGapMax
	}
	switch {
	case gap >= min && gap <= max:
		return 1.0
	case gap < min:
		return 0.5
	default:
		return 0
	}
}

// pairedSessionWindow bounds both leak mechanisms: a global-MAC frame
// only pairs with a randomized session observed within this window.
const pairedSessionWindow = 30 * time.Second

// maxRecentGlobals bounds the paired-session ledger.
const maxRecentGlobals = 32

// pairWithRecentGlobalLocked applies the paired-session leak
// heuristic: a randomized session and a recent global-MAC sighting
// within the pairing window belong to the same radio when their
// fingerprints share at least two non-zero slots, or when the global
// frame's sequence number runs 1-199 past the session's. Called with
// e.mu held.
func (e *Engine) pairWithRecentGlobalLocked(session *domain.ProbeSession, now time.Time) {
	for i := len(e.recentGlobals) - 1; i >= 0; i-- {
		g := e.recentGlobals[i]
		if g.isBLE != session.IsBLE || now.Sub(g.seen) > pairedSessionWindow {
			continue
		}
		if fingerprintSlotMatches(session.Fingerprint, g.fingerprint) >= 2 || seqRunsAhead(session, g) {
			session.HasGlobalMACLeak = true
			session.GlobalMACLeaked = g.mac
			return
		}
	}
}

func fingerprintSlotMatches(a, b [6]uint16) int {
	n := 0
	for i := 0; i < 5; i++ {
		if a[i] != 0 && a[i] == b[i] {
			n++
		}
	}
	return n
}

func seqRunsAhead(session *domain.ProbeSession, g globalSighting) bool {
	if !session.SeqNumValid || !g.seqValid {
		return false
	}
	gap := int(g.seqNum) - int(session.LastSeqNum)
	if gap < 0 {
		gap += 4096
	}
	return gap >= 1 && gap <= 199
}

func (e *Engine) recordGlobalSightingLocked(f *ports.Frame) {
	e.recentGlobals = append(e.recentGlobals, globalSighting{
		mac:         f.MAC,
		fingerprint: fingerprintOf(f),
		seqNum:      f.SeqNum,
		seqValid:    f.SeqValid,
		seen:        f.Timestamp,
		isBLE:       f.IsBLE,
	})
	if len(e.recentGlobals) > maxRecentGlobals {
		e.recentGlobals = e.recentGlobals[1:]
	}
}

// correlateGlobalAuth implements the auth-frame correlator: when
// a global-MAC auth/assoc/reassoc frame arrives, score all open
// randomized sessions and staple the best match above threshold.
func (e *Engine) correlateGlobalAuth(f *ports.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recordGlobalSightingLocked(f)

	var bestKey string
	var bestScore float64
	for key, s := range e.sessions {
		if s.LinkedToIdentity || s.IsBLE != f.IsBLE {
			continue
		}
		seqPlaus := 0.0
		if s.SeqNumValid && f.SeqValid {
			gap := int(f.SeqNum) - int(s.LastSeqNum)
			if gap >= 1 && gap <= 199 {
				seqPlaus = 1 - float64(gap)/199
			}
		}
		rssiCloseness := math.Max(0, 1-math.Abs(float64(f.RSSI)-s.MeanRSSI())/50)
		recency := 0.0
		if elapsed := f.Timestamp.Sub(s.LastSeen); elapsed >= 0 && elapsed <= pairedSessionWindow {
			recency = 1 - float64(elapsed)/float64(pairedSessionWindow)
		}
		score := 0.60*seqPlaus + 0.25*rssiCloseness + 0.15*recency
		if score > bestScore {
			bestScore = score
			bestKey = key
		}
	}

	if bestScore > 0.40 && bestKey != "" {
		s := e.sessions[bestKey]
		s.HasGlobalMACLeak = true
		s.GlobalMACLeaked = f.MAC
		log.Printf("randomization: stapled global MAC %s onto session %s (score=%.2f)", domain.FormatMAC(f.MAC), bestKey, bestScore)
		go e.attemptLink(bestKey, f.Timestamp)
	}
}

// Stats returns the open-session and tracked-identity counts that the
// results string reports.
func (e *Engine) Stats() (sessions, identities int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions), len(e.identities)
}

var _ ports.Analyzer = (*analyzerAdapter)(nil)

// analyzerAdapter lets Engine satisfy ports.Analyzer for the classifier's uniform
// dispatch table, since Engine's own Stop takes a context and returns
// an error, and Engine has no Results method.
type analyzerAdapter struct{ e *Engine }

func (a *analyzerAdapter) Ingest(f *ports.Frame) { a.e.Ingest(f) }
func (a *analyzerAdapter) Stop()                 { _ = a.e.Stop(context.Background()) }
func (a *analyzerAdapter) Results() string {
	sessions, identities := a.e.Stats()
	return fmt.Sprintf("Sessions:%d Identities:%d", sessions, identities)
}

// AsAnalyzer adapts e to ports.Analyzer.
func (e *Engine) AsAnalyzer() ports.Analyzer { return &analyzerAdapter{e: e} }
