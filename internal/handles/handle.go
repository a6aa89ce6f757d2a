package handles

import (
	"sync"
	"sync/atomic"

	"github.com/brettbedarf/dirfs"
)

// HandleState is the validity state of a [Handle]
type HandleState int32

const (
	// Valid handles may be used with every operation
	Valid HandleState = iota
	// Invalidated handles had their reference count freed down to zero
	Invalidated
	// Disposed handles were torn down by their owner. The table never sets
	// this state itself but treats it as dead wherever it is observed.
	Disposed
)

func (s HandleState) String() string {
	switch s {
	case Valid:
		return "Valid"
	case Invalidated:
		return "Invalidated"
	case Disposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// Handle is the record backing a [dirfs.Handle]. There is at most one Handle
// per node in a [Table]. Its node never changes after construction and its
// state only moves forward.
type Handle struct {
	node  dirfs.Node
	refs  atomic.Int32
	state atomic.Int32
	mu    sync.Mutex // Serializes the zero-crossing invalidation only
}

var _ dirfs.Handle = (*Handle)(nil)

func newHandle(node dirfs.Node, initialRefs int32) *Handle {
	h := &Handle{node: node}
	h.refs.Store(initialRefs)
	h.state.Store(int32(Valid))
	return h
}

// Node returns the node this handle refers to
func (h *Handle) Node() dirfs.Node {
	return h.node
}

// State returns the current state (Thread-safe)
func (h *Handle) State() HandleState {
	return HandleState(h.state.Load())
}

// IsLive reports whether the handle is neither Invalidated nor Disposed
func (h *Handle) IsLive() bool {
	return h.State() == Valid
}

// RefCount returns the current reference count (Thread-safe)
func (h *Handle) RefCount() int32 {
	return h.refs.Load()
}

// Dispose marks the handle as Disposed. It is meant for an owner tearing
// down the handle abstraction; the reference counting never calls it.
func (h *Handle) Dispose() {
	h.state.Store(int32(Disposed))
}

// invalidate moves Valid to Invalidated. Disposed stays Disposed.
func (h *Handle) invalidate() bool {
	return h.state.CompareAndSwap(int32(Valid), int32(Invalidated))
}

func (h *Handle) String() string {
	if h == nil {
		return "[dirfs handle <nil>]"
	}
	return "[dirfs handle to " + h.node.Path() + "]"
}
