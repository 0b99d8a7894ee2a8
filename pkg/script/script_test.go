package script

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emusync/emusync/pkg/core"
	"github.com/emusync/emusync/pkg/emustate"
	"github.com/emusync/emusync/pkg/lifecycle"
	"github.com/emusync/emusync/pkg/sim"
)

// recorder is a Controller that records every call.
type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	block bool
}

func (r *recorder) record(ctx context.Context, name string) error {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	err := r.fail[name]
	block := r.block
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (r *recorder) Stop(ctx context.Context) error         { return r.record(ctx, "stop") }
func (r *recorder) Pause(ctx context.Context) error        { return r.record(ctx, "pause") }
func (r *recorder) Resume(ctx context.Context) error       { return r.record(ctx, "resume") }
func (r *recorder) AdvanceFrame(ctx context.Context) error { return r.record(ctx, "advance_frame") }

func (r *recorder) AwaitState(ctx context.Context, state emustate.State) error {
	return r.record(ctx, "await_state:"+state.String())
}

func (r *recorder) Reset(hard bool) error {
	if hard {
		return r.record(context.Background(), "reset:hard")
	}
	return r.record(context.Background(), "reset:soft")
}

func (r *recorder) NotifyResize(width, height uint16) error {
	return r.record(context.Background(), "resize")
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fixedProbe struct {
	state  emustate.State
	frames uint64
}

func (p fixedProbe) State() emustate.State { return p.state }
func (p fixedProbe) Frames() uint64        { return p.frames }

func TestBuiltinsDriveController(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{
			name:   "pause and resume",
			script: "pause()\nresume()\n",
			want:   []string{"pause", "resume"},
		},
		{
			name:   "advance several frames",
			script: "advance_frame(3)\n",
			want:   []string{"advance_frame", "advance_frame", "advance_frame"},
		},
		{
			name:   "advance defaults to one",
			script: "advance_frame()\n",
			want:   []string{"advance_frame"},
		},
		{
			name:   "await state by name",
			script: "await_state('paused')\n",
			want:   []string{"await_state:paused"},
		},
		{
			name:   "reset flavours",
			script: "reset()\nreset(hard=True)\n",
			want:   []string{"reset:soft", "reset:hard"},
		},
		{
			name:   "loop in starlark",
			script: "def cycle(n):\n    for i in range(n):\n        pause()\n        resume()\ncycle(2)\nstop()\n",
			want:   []string{"pause", "resume", "pause", "resume", "stop"},
		},
		{
			name:   "resize",
			script: "resize(640, 480)\n",
			want:   []string{"resize"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			_, err := New(rec).Run(context.Background(), "test.star", tt.script, nil)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := rec.Calls(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("calls = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuiltinArgumentErrors(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr string
	}{
		{"unknown state", "await_state('exploded')\n", "unknown emulator state"},
		{"zero frames", "advance_frame(0)\n", "frame count must be positive"},
		{"resize out of range", "resize(0, 480)\n", "out of range"},
		{"negative sleep", "sleep(-1)\n", "negative duration"},
		{"extra argument", "pause(1)\n", "pause"},
		{"syntax error", "pause(\n", "test.star"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			_, err := New(rec).Run(context.Background(), "test.star", tt.script, nil)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestCommandErrorStopsScript(t *testing.T) {
	busy := errors.New("engine busy")
	rec := &recorder{fail: map[string]error{"pause": busy}}

	_, err := New(rec).Run(context.Background(), "test.star", "pause()\nresume()\n", nil)
	if !errors.Is(err, busy) {
		t.Fatalf("Run() error = %v, want wrapped command error", err)
	}
	if got := rec.Calls(); !reflect.DeepEqual(got, []string{"pause"}) {
		t.Errorf("calls = %v, want only pause", got)
	}
}

func TestTimeoutInterruptsBlockedCommand(t *testing.T) {
	rec := &recorder{block: true}
	r := New(rec, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := r.Run(context.Background(), "test.star", "pause()\n", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout took too long to take effect")
	}
}

func TestTimeoutInterruptsBusyLoop(t *testing.T) {
	r := New(&recorder{}, WithTimeout(20*time.Millisecond))
	_, err := r.Run(context.Background(), "test.star", "def spin():\n    for i in range(100000000):\n        pass\nspin()\n", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(&recorder{}).Run(ctx, "test.star", "sleep(1000)\n", nil)
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want cancellation", err)
	}
}

func TestMaxSteps(t *testing.T) {
	r := New(&recorder{}, WithMaxSteps(100))
	_, err := r.Run(context.Background(), "test.star", "def spin():\n    for i in range(100000):\n        pass\nspin()\n", nil)
	if err == nil {
		t.Fatal("expected step limit error")
	}
}

func TestProbeAndGlobals(t *testing.T) {
	r := New(&recorder{}, WithProbe(fixedProbe{state: emustate.Paused, frames: 42}))

	res, err := r.Run(context.Background(), "test.star", `
current = state()
count = frames()
doubled = limit * 2
print("at frame", count)
_hidden = 1
def helper():
    pass
`, map[string]interface{}{"limit": 5})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := map[string]interface{}{
		"current": "paused",
		"count":   int64(42),
		"doubled": int64(10),
	}
	if !reflect.DeepEqual(res.Globals, want) {
		t.Errorf("globals = %v, want %v", res.Globals, want)
	}
	if len(res.Output) != 1 || res.Output[0] != "at frame 42" {
		t.Errorf("output = %q", res.Output)
	}
	if res.Steps == 0 {
		t.Error("expected execution steps to be counted")
	}
}

func TestStateWithoutProbeIsNone(t *testing.T) {
	res, err := New(&recorder{}).Run(context.Background(), "test.star", "s = state()\nf = frames()\n", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Globals["s"] != nil || res.Globals["f"] != nil {
		t.Errorf("globals = %v, want None values", res.Globals)
	}
}

func TestScenarioAgainstSimulatedEngine(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	engine := sim.New(sim.Config{FrameInterval: time.Millisecond})
	coord := lifecycle.New(func(context.Context) (*core.Core, error) {
		return core.New(engine), nil
	})
	if err := coord.Init(ctx); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	if err := coord.Start(ctx, sim.NewImageLoader(sim.BlankImage("SCENARIO"))); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer func() { _ = coord.Shutdown(ctx) }()

	r := New(coord.Core(), WithProbe(engine))
	res, err := r.Run(ctx, "scenario.star", `
pause()
before = frames()
advance_frame(4)
after = frames()
paused = state()
resize(640, 480)
resume()
await_state("running")
stop()
final = state()
`, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := res.Globals["after"].(int64) - res.Globals["before"].(int64); got != 4 {
		t.Errorf("advanced %d frames, want 4", got)
	}
	if res.Globals["paused"] != "paused" {
		t.Errorf("state after advancing = %v, want paused", res.Globals["paused"])
	}
	if res.Globals["final"] != "stopped" {
		t.Errorf("final state = %v, want stopped", res.Globals["final"])
	}

	// The engine stopped on its own; the coordinator still returns to Ready.
	if err := coord.Stop(ctx); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if coord.Phase() != lifecycle.Ready {
		t.Errorf("phase = %s, want ready", coord.Phase())
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		vars    []string
		wantErr bool
	}{
		{name: "builtins resolve", src: "pause()\nadvance_frame(2)\nresume()\n"},
		{name: "declared var", src: "print(session)\n", vars: []string{"session"}},
		{name: "undefined name", src: "explode()\n", wantErr: true},
		{name: "syntax error", src: "pause(\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check("check.star", tt.src, tt.vars...)
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
