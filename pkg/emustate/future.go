package emustate

import (
	"context"
	"errors"
	"sync"

	"github.com/emusync/emusync/pkg/oneshot"
)

// Future is the pending result of waiting for a state, optionally carrying a
// failure decided before any waiting started.
//
// A Future resolves once. Its outcome is the early failure if one was set,
// otherwise nil when the target state was reported, otherwise nil when the
// wait manager was closed first (a disconnection carries no state and is not
// an error here). Observing a Future again returns oneshot.ErrConsumed.
type Future struct {
	mu        sync.Mutex
	earlyFail error
	spent     bool
	rx        *oneshot.Receiver[struct{}]
}

func newFuture(rx *oneshot.Receiver[struct{}]) *Future {
	return &Future{rx: rx}
}

// FailEarly makes the next observation return err without consulting the
// receiver. The underlying registration stays in the wait manager until it is
// matched or the manager is closed.
func (f *Future) FailEarly(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.earlyFail = err
}

// Wait blocks until the future resolves or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	if ok, err := f.takeEarly(); ok {
		return err
	}
	_, err := f.rx.Recv(ctx)
	return translate(err)
}

// Poll is the non-blocking form of Wait. It reports done=false while the
// target state has not been reported.
func (f *Future) Poll() (done bool, err error) {
	if ok, err := f.takeEarly(); ok {
		return true, err
	}
	_, err = f.rx.TryRecv()
	if errors.Is(err, oneshot.ErrPending) {
		return false, nil
	}
	return true, translate(err)
}

func (f *Future) takeEarly() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spent {
		return true, oneshot.ErrConsumed
	}
	if f.earlyFail != nil {
		err := f.earlyFail
		f.earlyFail = nil
		f.spent = true
		return true, err
	}
	return false, nil
}

func translate(err error) error {
	if err == nil || errors.Is(err, oneshot.ErrDisconnected) {
		return nil
	}
	return err
}
