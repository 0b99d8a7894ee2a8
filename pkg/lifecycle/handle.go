package lifecycle

import (
	"sync/atomic"

	"github.com/emusync/emusync/pkg/faults"
)

// Handle is a reference-counted share of a value. Every Clone must be
// released exactly once. IntoInner reclaims the value and requires that the
// calling handle is the only one left.
type Handle[T any] struct {
	shared   *shared[T]
	released atomic.Bool
}

type shared[T any] struct {
	value T
	refs  atomic.Int64
}

// NewHandle wraps v in a handle with one reference.
func NewHandle[T any](v T) *Handle[T] {
	s := &shared[T]{value: v}
	s.refs.Store(1)
	return &Handle[T]{shared: s}
}

// Clone returns a new handle sharing the same value.
func (h *Handle[T]) Clone() *Handle[T] {
	h.mustLive("clone")
	for {
		n := h.shared.refs.Load()
		if n == 0 {
			faults.Raise(faults.ClassOwnership, "clone of a reclaimed value")
		}
		if h.shared.refs.CompareAndSwap(n, n+1) {
			return &Handle[T]{shared: h.shared}
		}
	}
}

// Value returns the shared value.
func (h *Handle[T]) Value() T {
	h.mustLive("read")
	return h.shared.value
}

// Release gives up this handle's reference. Releasing twice is a no-op.
func (h *Handle[T]) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.shared.refs.Add(-1)
	}
}

// Refs reports the number of live handles.
func (h *Handle[T]) Refs() int {
	return int(h.shared.refs.Load())
}

// IntoInner releases h and returns the value. It raises an ownership fault
// if any other handle is still live. Checking and releasing is one atomic
// step; a Clone after it faults.
func (h *Handle[T]) IntoInner() T {
	h.mustLive("reclaim")
	if !h.shared.refs.CompareAndSwap(1, 0) {
		faults.RaiseWith(&faults.Fault{
			Class:   faults.ClassOwnership,
			Message: "shared handle reclaimed while other owners remain",
			Details: map[string]interface{}{"refs": h.shared.refs.Load()},
		})
	}
	h.released.Store(true)
	return h.shared.value
}

func (h *Handle[T]) mustLive(op string) {
	if h.released.Load() {
		faults.Raise(faults.ClassOwnership, "%s through a released handle", op)
	}
}
