package emustate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emusync/emusync/pkg/oneshot"
)

var errBusy = errors.New("engine busy")

func TestFutureEarlyFailureShortCircuits(t *testing.T) {
	m := NewWaitManager()
	f := m.Watch(Paused)
	f.FailEarly(errBusy)

	if err := f.Wait(context.Background()); !errors.Is(err, errBusy) {
		t.Fatalf("Wait() = %v, want early failure", err)
	}

	// The registration itself is inert but still present until matched.
	if n := m.Notify(Paused); n != 1 {
		t.Errorf("Notify() resolved %d, want 1", n)
	}
	if err := f.Wait(context.Background()); !errors.Is(err, oneshot.ErrConsumed) {
		t.Errorf("second Wait() = %v, want ErrConsumed", err)
	}
}

func TestFutureEarlyFailureWinsOverMatch(t *testing.T) {
	m := NewWaitManager()
	f := m.Watch(Paused)
	f.FailEarly(errBusy)
	m.Notify(Paused)

	done, err := f.Poll()
	if !done || !errors.Is(err, errBusy) {
		t.Errorf("Poll() = %v, %v; want true, early failure", done, err)
	}
}

func TestFutureResolvesOnMatch(t *testing.T) {
	m := NewWaitManager()
	f := m.Watch(Running)

	if done, err := f.Poll(); done || err != nil {
		t.Fatalf("Poll() before match = %v, %v; want false, nil", done, err)
	}

	result := make(chan error, 1)
	go func() { result <- f.Wait(context.Background()) }()

	m.Notify(Paused)
	select {
	case err := <-result:
		t.Fatalf("Wait returned %v on a non-matching state", err)
	case <-time.After(20 * time.Millisecond):
	}

	m.Notify(Running)
	select {
	case err := <-result:
		if err != nil {
			t.Errorf("Wait() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after matching Notify")
	}
}

func TestFutureDisconnectIsBenign(t *testing.T) {
	m := NewWaitManager()
	f := m.Watch(Stopped)
	m.Close()

	if err := f.Wait(context.Background()); err != nil {
		t.Errorf("Wait() after Close = %v, want nil", err)
	}
}

func TestFutureWaitHonoursContext(t *testing.T) {
	m := NewWaitManager()
	f := m.Watch(Stopped)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() = %v, want DeadlineExceeded", err)
	}

	m.Notify(Stopped)
	if err := f.Wait(context.Background()); err != nil {
		t.Errorf("Wait() after match = %v, want nil", err)
	}
}

func TestParseState(t *testing.T) {
	for _, s := range []State{Stopped, Running, Paused} {
		got, err := ParseState(s.String())
		if err != nil || got != s {
			t.Errorf("ParseState(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseState("exploded"); err == nil {
		t.Error("expected error for unknown state name")
	}
	if got := State(9).String(); got != "state(9)" {
		t.Errorf("String() = %q, want state(9)", got)
	}
}
