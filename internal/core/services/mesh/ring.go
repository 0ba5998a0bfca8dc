package mesh

import "sync"

// TerminalRing mirrors every transmitted mesh line into a bounded
// buffer for the operator-facing terminal, capped at
// domain.MeshRingBufferCap lines.
type TerminalRing struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

// NewTerminalRing constructs a ring buffer bounded at cap lines.
func NewTerminalRing(cap int) *TerminalRing {
	return &TerminalRing{cap: cap}
}

// Push appends a line, dropping the oldest entry once the ring is
// full.
func (r *TerminalRing) Push(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
}

// Lines returns a snapshot of the currently buffered lines, oldest
// first.
func (r *TerminalRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}
