package interp

import (
	"sync"
)

// PinnedRoots is a RootProvider backed by an explicit multiset of
// handles. Hosts that hold handles outside an evaluator (embedders,
// tests, snapshot tooling) pin them here so cycle passes treat them as
// reachable. Pinning does not affect reference counts.
type PinnedRoots struct {
	mu      sync.Mutex
	handles map[Handle]int
}

// NewPinnedRoots creates an empty pinned root set.
func NewPinnedRoots() *PinnedRoots {
	return &PinnedRoots{handles: make(map[Handle]int)}
}

// Pin adds a handle to the root set. Pins nest.
func (p *PinnedRoots) Pin(h Handle) {
	p.mu.Lock()
	p.handles[h]++
	p.mu.Unlock()
}

// Unpin removes one pin for the handle.
func (p *PinnedRoots) Unpin(h Handle) {
	p.mu.Lock()
	if p.handles[h] > 1 {
		p.handles[h]--
	} else {
		delete(p.handles, h)
	}
	p.mu.Unlock()
}

// Roots returns the currently pinned handles.
func (p *PinnedRoots) Roots() []Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Handle, 0, len(p.handles))
	for h := range p.handles {
		out = append(out, h)
	}
	return out
}
