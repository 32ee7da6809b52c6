// Package peerdirectory implements the ledger peer snapshot query (C2).
// Snapshots are point-in-time; the ordering core tolerates stale
// snapshots by design, so no implementation here needs to guarantee
// freshness beyond "current as of the last update."
package peerdirectory

import "sync"

// Directory returns the current ledger peer set. A false second return
// value means the snapshot could not be produced (the core treats this
// the same as an empty list: skip publication, but the height still
// advances).
type Directory interface {
	Peers() ([]string, bool)
}

// Static is a fixed peer list, useful for single-node runs and tests.
// Grounded on the teacher's hardcoded validator list in
// internal/consensus/pos.go.
type Static struct {
	addrs []string
}

// NewStatic returns a Directory that always serves the given addresses.
// A nil or empty slice still reports ok=true: callers that want the
// "unavailable" case should use Dynamic and leave it unset.
func NewStatic(addrs []string) *Static {
	cp := make([]string, len(addrs))
	copy(cp, addrs)
	return &Static{addrs: cp}
}

// Peers implements Directory.
func (s *Static) Peers() ([]string, bool) {
	out := make([]string, len(s.addrs))
	copy(out, s.addrs)
	return out, true
}

// Dynamic tracks a peer set that churns at runtime, such as the active
// connections of a network manager. Grounded on
// internal/p2p/manager.go's activePeers map.
type Dynamic struct {
	mu        sync.RWMutex
	addrs     map[string]struct{}
	available bool
}

// NewDynamic creates a Dynamic directory with no peers and no known
// snapshot yet (Peers reports ok=false until Add is called).
func NewDynamic() *Dynamic {
	return &Dynamic{addrs: make(map[string]struct{})}
}

// Add records addr as a currently known ledger peer.
func (d *Dynamic) Add(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs[addr] = struct{}{}
	d.available = true
}

// Remove drops addr from the known peer set.
func (d *Dynamic) Remove(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.addrs, addr)
}

// MarkUnavailable forces the next Peers call to report ok=false,
// modeling a directory-query failure (e.g. the backing store is
// unreachable) independent of the tracked peer set.
func (d *Dynamic) MarkUnavailable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.available = false
}

// Peers implements Directory.
func (d *Dynamic) Peers() ([]string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.available {
		return nil, false
	}
	out := make([]string, 0, len(d.addrs))
	for a := range d.addrs {
		out = append(out, a)
	}
	return out, true
}
