// Package registry implements the target and allowlist watch-list
// of the node: parsing operator-supplied text into match rules and
// answering membership queries for the frame classifier.
package registry

import (
	"sync"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
)

// IdentityLookup resolves an identity handle to its current MAC
// snapshot, satisfied by the randomization engine.
type IdentityLookup interface {
	IdentityMACs(identityID string) ([][6]byte, bool)
}

// Registry holds the parsed target and allowlist sets and answers
// match and allowlist queries. All reads and writes are guarded by
// one mutex: the lists are small (operator-sized text files, not
// per-packet state) and do not warrant sharding.
type Registry struct {
	mu        sync.RWMutex
	targets   []domain.Target
	allowlist []domain.AllowlistEntry
	identity  IdentityLookup

	// triangulationTarget, when non-nil, bypasses the configured
	// target list: only the tracked target matches.
	triangulationTarget *domain.Target
}

// New constructs an empty Registry bound to an identity resolver.
func New(identity IdentityLookup) *Registry {
	return &Registry{identity: identity}
}

// LoadTargets replaces the target set from raw text.
func (r *Registry) LoadTargets(text string) {
	targets := domain.ParseTargets(text)
	r.mu.Lock()
	r.targets = targets
	r.mu.Unlock()
}

// LoadAllowlist replaces the allowlist set from raw text.
func (r *Registry) LoadAllowlist(text string) {
	entries := domain.ParseAllowlist(text)
	r.mu.Lock()
	r.allowlist = entries
	r.mu.Unlock()
}

// Targets returns a snapshot of the current target list. Rendering
// it with domain.TargetsText re-parses to the same list.
func (r *Registry) Targets() []domain.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// SetTriangulationTarget installs the bypass target for the duration
// of an active triangulation session. Pass nil to clear it.
func (r *Registry) SetTriangulationTarget(t *domain.Target) {
	r.mu.Lock()
	r.triangulationTarget = t
	r.mu.Unlock()
}

// Matches reports whether mac is covered by the current target set,
// or, when a triangulation session is active, by equality with the
// triangulation target alone (identity membership if the target is an
// identity handle).
func (r *Registry) Matches(mac [6]byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.triangulationTarget != nil {
		return r.matchesTarget(*r.triangulationTarget, mac)
	}
	for _, t := range r.targets {
		if r.matchesTarget(t, mac) {
			return true
		}
	}
	return false
}

func (r *Registry) matchesTarget(t domain.Target, mac [6]byte) bool {
	switch t.Kind {
	case domain.TargetMAC:
		return t.MAC == mac
	case domain.TargetOUI:
		return mac[0] == t.OUI[0] && mac[1] == t.OUI[1] && mac[2] == t.OUI[2]
	case domain.TargetIdentity:
		if r.identity == nil {
			return false
		}
		macs, ok := r.identity.IdentityMACs(t.IdentityID)
		if !ok {
			return false
		}
		for _, m := range macs {
			if m == mac {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// IsAllowlisted reports whether mac matches any allowlist entry.
func (r *Registry) IsAllowlisted(mac [6]byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.allowlist {
		switch e.Kind {
		case domain.TargetMAC:
			if e.MAC == mac {
				return true
			}
		case domain.TargetOUI:
			if mac[0] == e.OUI[0] && mac[1] == e.OUI[1] && mac[2] == e.OUI[2] {
				return true
			}
		}
	}
	return false
}

// MatchIdentity reports whether mac is a member of the identity named
// identityID.
func (r *Registry) MatchIdentity(identityID string, mac [6]byte) bool {
	if r.identity == nil {
		return false
	}
	macs, ok := r.identity.IdentityMACs(identityID)
	if !ok {
		return false
	}
	for _, m := range macs {
		if m == mac {
			return true
		}
	}
	return false
}
