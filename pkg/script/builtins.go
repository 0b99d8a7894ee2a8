package script

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"

	"github.com/emusync/emusync/pkg/emustate"
)

const localContext = "emusync.ctx"

type builtinFunc func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

func (r *Runner) builtins() map[string]builtinFunc {
	return map[string]builtinFunc{
		"pause":         r.asyncCommand(Controller.Pause),
		"resume":        r.asyncCommand(Controller.Resume),
		"stop":          r.asyncCommand(Controller.Stop),
		"advance_frame": r.builtinAdvanceFrame,
		"await_state":   r.builtinAwaitState,
		"reset":         r.builtinReset,
		"resize":        r.builtinResize,
		"sleep":         builtinSleep,
		"state":         r.builtinState,
		"frames":        r.builtinFrames,
	}
}

func threadContext(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(localContext).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

// asyncCommand wraps a command that blocks until the engine reaches its
// expected state.
func (r *Runner) asyncCommand(fn func(Controller, context.Context) error) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		if err := fn(r.ctrl, threadContext(thread)); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return starlark.None, nil
	}
}

// builtinAdvanceFrame implements advance_frame(n=1).
func (r *Runner) builtinAdvanceFrame(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 1
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, fmt.Errorf("%s: frame count must be positive, got %d", b.Name(), n)
	}

	ctx := threadContext(thread)
	for i := 0; i < n; i++ {
		if err := r.ctrl.AdvanceFrame(ctx); err != nil {
			return nil, fmt.Errorf("%s: frame %d of %d: %w", b.Name(), i+1, n, err)
		}
	}
	return starlark.None, nil
}

// builtinAwaitState implements await_state(state).
func (r *Runner) builtinAwaitState(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "state", &name); err != nil {
		return nil, err
	}
	state, err := emustate.ParseState(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := r.ctrl.AwaitState(threadContext(thread), state); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

// builtinReset implements reset(hard=False).
func (r *Runner) builtinReset(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var hard bool
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "hard?", &hard); err != nil {
		return nil, err
	}
	if err := r.ctrl.Reset(hard); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

// builtinResize implements resize(width, height).
func (r *Runner) builtinResize(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var width, height int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "width", &width, "height", &height); err != nil {
		return nil, err
	}
	if width < 1 || width > 0xFFFF || height < 1 || height > 0xFFFF {
		return nil, fmt.Errorf("%s: size %dx%d out of range", b.Name(), width, height)
	}
	if err := r.ctrl.NotifyResize(uint16(width), uint16(height)); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

// builtinSleep implements sleep(ms).
func builtinSleep(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var ms int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "ms", &ms); err != nil {
		return nil, err
	}
	if ms < 0 {
		return nil, fmt.Errorf("%s: negative duration %d", b.Name(), ms)
	}

	ctx := threadContext(thread)
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return starlark.None, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", b.Name(), ctx.Err())
	}
}

// builtinState implements state(). It returns None without a probe.
func (r *Runner) builtinState(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	if r.probe == nil {
		return starlark.None, nil
	}
	return starlark.String(r.probe.State().String()), nil
}

// builtinFrames implements frames(). It returns None without a probe.
func (r *Runner) builtinFrames(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	if r.probe == nil {
		return starlark.None, nil
	}
	return starlark.MakeUint64(r.probe.Frames()), nil
}
