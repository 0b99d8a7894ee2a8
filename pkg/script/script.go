// Package script runs Starlark scenario scripts against a running emulator
// core.
//
// A scenario drives the core through its asynchronous commands:
//
//	pause()
//	advance_frame(3)
//	await_state("paused")
//	resize(640, 480)
//	resume()
//	sleep(250)
//	stop()
//
// Each command builtin blocks until the engine reports the state the command
// leads to, so a script reads as a straight sequence of steps.
package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/emusync/emusync/pkg/emustate"
	"github.com/emusync/emusync/pkg/telemetry"
)

// Controller is the command surface a script drives. *core.Core satisfies it.
type Controller interface {
	Stop(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	AdvanceFrame(ctx context.Context) error
	AwaitState(ctx context.Context, state emustate.State) error
	Reset(hard bool) error
	NotifyResize(width, height uint16) error
}

// Probe reports engine status to the state() and frames() builtins.
type Probe interface {
	State() emustate.State
	Frames() uint64
}

// ErrTimeout is returned when a script exceeds its time limit.
var ErrTimeout = errors.New("script execution timeout")

// Result describes a completed script run.
type Result struct {
	// Globals holds the script's exported top-level values.
	Globals map[string]interface{}

	// Output holds the lines written with print.
	Output []string

	Steps         uint64
	ExecutionTime time.Duration
}

// Runner executes scenario scripts.
type Runner struct {
	ctrl     Controller
	probe    Probe
	timeout  time.Duration
	maxSteps uint64
	logger   *telemetry.Logger
	tracer   *telemetry.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithProbe enables the state() and frames() builtins.
func WithProbe(p Probe) Option {
	return func(r *Runner) { r.probe = p }
}

// WithTimeout bounds each run. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithMaxSteps bounds the Starlark execution steps of each run.
func WithMaxSteps(n uint64) Option {
	return func(r *Runner) { r.maxSteps = n }
}

// WithLogger sets the logger print output is written to.
func WithLogger(logger *telemetry.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithTracer sets the tracer used for per-run spans.
func WithTracer(tracer *telemetry.Tracer) Option {
	return func(r *Runner) { r.tracer = tracer }
}

// New creates a Runner driving ctrl.
func New(ctrl Controller, opts ...Option) *Runner {
	r := &Runner{
		ctrl:   ctrl,
		logger: telemetry.NopLogger(),
		tracer: telemetry.NopTracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes src. name is used in error positions. vars are predeclared as
// globals. Cancelling ctx or exceeding the timeout interrupts the script at
// its next step or blocking builtin.
func (r *Runner) Run(ctx context.Context, name, src string, vars map[string]interface{}) (result *Result, err error) {
	startTime := time.Now()
	result = &Result{}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	ctx, span := r.tracer.StartSpan(ctx, "script.run")
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			result.Output = append(result.Output, msg)
			r.logger.WithField("script", name).Info(msg)
		},
	}
	thread.SetLocal(localContext, ctx)
	if r.maxSteps > 0 {
		thread.SetMaxExecutionSteps(r.maxSteps)
	}

	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	predeclared, err := r.predeclared(vars)
	if err != nil {
		return result, err
	}

	globals, err := starlark.ExecFile(thread, name, src, predeclared)
	result.Steps = thread.ExecutionSteps()
	result.ExecutionTime = time.Since(startTime)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result, fmt.Errorf("%w after %v: %w", ErrTimeout, r.timeout, err)
		}
		if ctx.Err() != nil {
			return result, fmt.Errorf("script cancelled: %w", errors.Join(ctx.Err(), err))
		}
		return result, fmt.Errorf("script %s failed: %w", name, err)
	}

	result.Globals = make(map[string]interface{}, len(globals))
	for key, val := range globals {
		if len(key) > 0 && key[0] == '_' {
			continue
		}
		// Functions and other non-data values are not exported.
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			continue
		}
		result.Globals[key] = goVal
	}

	r.logger.WithFields(map[string]interface{}{
		"script": name,
		"steps":  result.Steps,
	}).Debugf("script finished in %s", result.ExecutionTime.Round(time.Millisecond))

	return result, nil
}

func (r *Runner) predeclared(vars map[string]interface{}) (starlark.StringDict, error) {
	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}
	for name, fn := range r.builtins() {
		predeclared[name] = starlark.NewBuiltin(name, fn)
	}

	for key, val := range vars {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = sv
	}
	return predeclared, nil
}

// Check parses src and resolves its names against the scenario builtins
// without running it. vars names additional predeclared globals.
func Check(name, src string, vars ...string) error {
	known := map[string]bool{"struct": true}
	for builtin := range (&Runner{}).builtins() {
		known[builtin] = true
	}
	for _, v := range vars {
		known[v] = true
	}

	if _, _, err := starlark.SourceProgram(name, src, func(s string) bool { return known[s] }); err != nil {
		return fmt.Errorf("script %s is invalid: %w", name, err)
	}
	return nil
}
