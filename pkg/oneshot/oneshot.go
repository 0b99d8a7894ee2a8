// Package oneshot provides a write-once, read-once channel pair for handing a
// single value from one goroutine to another.
//
// The Sender fires at most once. The Receiver observes exactly one outcome:
// the value, or disconnection if the sender was closed without firing.
package oneshot

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrDisconnected is returned when the sender was closed without a value.
	ErrDisconnected = errors.New("oneshot: sender closed without a value")

	// ErrConsumed is returned once the receiver has already observed its outcome.
	ErrConsumed = errors.New("oneshot: outcome already observed")

	// ErrPending is returned by TryRecv while no outcome is available yet.
	ErrPending = errors.New("oneshot: no value yet")
)

// New creates a connected Sender/Receiver pair.
func New[T any]() (*Sender[T], *Receiver[T]) {
	ch := make(chan T, 1)
	return &Sender[T]{ch: ch}, &Receiver[T]{ch: ch, sem: make(chan struct{}, 1)}
}

// Sender is the write-once half of a pair. It is safe for concurrent use.
type Sender[T any] struct {
	ch   chan T
	once sync.Once
}

// Send fires the value. It never blocks. Only the first Send or Close has any
// effect; Send reports whether this call delivered the value.
func (s *Sender[T]) Send(v T) bool {
	sent := false
	s.once.Do(func() {
		s.ch <- v
		close(s.ch)
		sent = true
	})
	return sent
}

// Close drops the sender without a value. The receiver observes ErrDisconnected.
// Close after Send is a no-op.
func (s *Sender[T]) Close() {
	s.once.Do(func() {
		close(s.ch)
	})
}

// Receiver is the read-once half of a pair.
type Receiver[T any] struct {
	ch   <-chan T
	sem  chan struct{} // serialises observers
	done bool
}

// Recv waits for the outcome. It returns the value, or ErrDisconnected if the
// sender was closed, or ctx.Err() if ctx ends first. A cancelled Recv does not
// consume the outcome; a completed one does, and every later call returns
// ErrConsumed.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	var zero T

	select {
	case r.sem <- struct{}{}:
	default:
		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	defer func() { <-r.sem }()

	if r.done {
		return zero, ErrConsumed
	}

	select {
	case v, ok := <-r.ch:
		return r.take(v, ok)
	case <-ctx.Done():
		// An outcome that is already available wins over cancellation.
		select {
		case v, ok := <-r.ch:
			return r.take(v, ok)
		default:
			return zero, ctx.Err()
		}
	}
}

func (r *Receiver[T]) take(v T, ok bool) (T, error) {
	r.done = true
	if !ok {
		var zero T
		return zero, ErrDisconnected
	}
	return v, nil
}

// TryRecv is the non-blocking form of Recv. It returns ErrPending when the
// sender has neither fired nor closed.
func (r *Receiver[T]) TryRecv() (T, error) {
	var zero T

	select {
	case r.sem <- struct{}{}:
	default:
		// Another observer is inside Recv; from this caller's view nothing is ready.
		return zero, ErrPending
	}
	defer func() { <-r.sem }()

	if r.done {
		return zero, ErrConsumed
	}

	select {
	case v, ok := <-r.ch:
		return r.take(v, ok)
	default:
		return zero, ErrPending
	}
}
