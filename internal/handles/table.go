// Package handles implements the table that maps nodes to their single
// reference-counted handle.
package handles

import (
	"github.com/brettbedarf/dirfs"
	"github.com/puzpuzpuz/xsync/v4"
)

// Table guarantees a single [Handle] per node and serializes the
// transition-to-zero race. Entries are never removed, so an invalidated
// handle stays resident and keeps the one-handle-per-node invariant.
type Table struct {
	byNode       *xsync.Map[dirfs.Node, *Handle]
	initialCount int32

	// beforeZeroLock runs after a release reaches zero and before the
	// handle's lock is taken. Tests use it to race a re-acquire.
	beforeZeroLock func(*Handle)
}

// Option configures a [Table]
type Option func(*Table)

// WithCountFromOne starts new handles at a reference count of one instead of
// zero, so a handle allocated once and freed once is invalidated.
func WithCountFromOne(enabled bool) Option {
	return func(t *Table) {
		if enabled {
			t.initialCount = 1
		} else {
			t.initialCount = 0
		}
	}
}

// NewTable creates an empty Table. By default new handles start at a
// reference count of zero and only later requests for the same node
// increment it.
func NewTable(opts ...Option) *Table {
	t := &Table{byNode: xsync.NewMap[dirfs.Node, *Handle]()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetOrCreate returns the handle for node, creating it if this is the first
// request. Requests for a node that already has a handle increment its
// reference count. Creation and increment happen atomically under the map's
// per-key lock.
func (t *Table) GetOrCreate(node dirfs.Node) *Handle {
	h, _ := t.byNode.Compute(node, func(old *Handle, loaded bool) (*Handle, xsync.ComputeOp) {
		if loaded {
			old.refs.Add(1)
			return old, xsync.UpdateOp
		}
		return newHandle(node, t.initialCount), xsync.UpdateOp
	})
	return h
}

// Lookup returns the handle for node if one was ever created
func (t *Table) Lookup(node dirfs.Node) (*Handle, bool) {
	return t.byNode.Load(node)
}

// Release drops one reference to h. When the count reaches exactly zero it
// takes h's lock, re-reads the count and invalidates h only if it is still
// zero, since another goroutine may have re-acquired the node in between.
// Counts that go below zero never invalidate.
// Returns true if this call invalidated h.
func (t *Table) Release(h *Handle) bool {
	if h.refs.Add(-1) != 0 {
		return false
	}
	if t.beforeZeroLock != nil {
		t.beforeZeroLock(h)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs.Load() != 0 {
		return false
	}
	return h.invalidate()
}

// Len returns the number of handles ever created
func (t *Table) Len() int {
	return t.byNode.Size()
}
