package lifecycle

import (
	"sync"
	"testing"

	"github.com/emusync/emusync/pkg/faults"
)

func TestHandleCloneRelease(t *testing.T) {
	h := NewHandle("core")
	c := h.Clone()

	if h.Refs() != 2 {
		t.Fatalf("Refs() = %d, want 2", h.Refs())
	}
	if c.Value() != "core" {
		t.Errorf("Value() = %q", c.Value())
	}

	c.Release()
	c.Release()
	if h.Refs() != 1 {
		t.Fatalf("Refs() after double release = %d, want 1", h.Refs())
	}

	if v := h.IntoInner(); v != "core" {
		t.Errorf("IntoInner() = %q", v)
	}
}

func TestHandleIntoInnerWithOtherOwnerFaults(t *testing.T) {
	h := NewHandle(42)
	other := h.Clone()
	defer other.Release()

	fault := faults.Recover(func() { h.IntoInner() })
	if fault == nil {
		t.Fatal("expected ownership fault")
	}
	if fault.Class != faults.ClassOwnership {
		t.Errorf("fault class = %q, want ownership", fault.Class)
	}
	if fault.Details["refs"] != int64(2) {
		t.Errorf("fault refs detail = %v, want 2", fault.Details["refs"])
	}
}

func TestHandleUseAfterReleaseFaults(t *testing.T) {
	h := NewHandle(1)
	c := h.Clone()
	c.Release()

	for name, fn := range map[string]func(){
		"value":      func() { c.Value() },
		"clone":      func() { c.Clone() },
		"into inner": func() { c.IntoInner() },
	} {
		if fault := faults.Recover(fn); fault == nil || fault.Class != faults.ClassOwnership {
			t.Errorf("%s through released handle: fault = %v", name, fault)
		}
	}
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{NotStarted, "not_started"},
		{Ready, "ready"},
		{Running, "running"},
		{Phase(7), "phase(7)"},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestHandleIntoInnerRacingClone(t *testing.T) {
	for i := 0; i < 200; i++ {
		h := NewHandle(i)
		var cloned *Handle[int]
		var cloneFault, reclaimFault *faults.Fault

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			cloneFault = faults.Recover(func() { cloned = h.Clone() })
		}()
		go func() {
			defer wg.Done()
			reclaimFault = faults.Recover(func() { h.IntoInner() })
		}()
		wg.Wait()

		switch {
		case cloneFault == nil && reclaimFault == nil:
			t.Fatalf("iteration %d: clone and reclaim both succeeded", i)
		case cloneFault != nil && reclaimFault != nil:
			t.Fatalf("iteration %d: clone and reclaim both faulted", i)
		case cloneFault == nil:
			if got := cloned.Refs(); got != 2 {
				t.Fatalf("iteration %d: refs after winning clone = %d, want 2", i, got)
			}
		default:
			if got := h.Refs(); got != 0 {
				t.Fatalf("iteration %d: refs after reclaim = %d, want 0", i, got)
			}
		}
	}
}
