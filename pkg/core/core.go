// Package core drives an execution engine from asynchronous callers.
//
// Commands that change emulation state are paired with a wait for the state
// they are expected to produce. The waiter is always registered before the
// command is issued, so a state change reported immediately by the engine
// thread cannot be missed. If the engine rejects the command, the wait fails
// at once with that error instead of pending forever.
package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/emusync/emusync/pkg/emustate"
	"github.com/emusync/emusync/pkg/faults"
	"github.com/emusync/emusync/pkg/telemetry"
)

// Core pairs an Engine with the state waiters that observe it.
type Core struct {
	engine Engine
	waits  *emustate.WaitManager

	// last is the most recent emulation state the engine reported, zero
	// before the first report.
	last atomic.Int32

	// cmdLock serialises the asynchronous commands so that two callers never
	// interleave their issue-and-wait sequences.
	cmdLock *semaphore.Weighted

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher

	closeOnce sync.Once
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger.
func WithLogger(logger *telemetry.Logger) Option {
	return func(c *Core) { c.logger = logger.NewComponentLogger("core") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(c *Core) { c.metrics = metrics }
}

// WithTracer sets the tracer used for command spans.
func WithTracer(tracer *telemetry.Tracer) Option {
	return func(c *Core) { c.tracer = tracer }
}

// WithEvents sets the publisher for state-change and command events.
func WithEvents(events *telemetry.EventPublisher) Option {
	return func(c *Core) { c.events = events }
}

// WithTelemetry sets every telemetry part from tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(c *Core) {
		c.logger = tel.Logger.NewComponentLogger("core")
		c.metrics = tel.Metrics
		c.tracer = tel.Tracer
		c.events = tel.Events
	}
}

// New creates a Core driving engine.
func New(engine Engine, opts ...Option) *Core {
	c := &Core{
		engine:  engine,
		waits:   emustate.NewWaitManager(),
		cmdLock: semaphore.NewWeighted(1),
		logger:  telemetry.NopLogger(),
		metrics: telemetry.NopMetrics(),
		tracer:  telemetry.NopTracer(),
		events:  telemetry.NopEvents(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Engine returns the engine driven by c.
func (c *Core) Engine() Engine {
	return c.engine
}

// Issue passes a command to the engine without waiting for any state.
// A rejection is returned as a command error.
func (c *Core) Issue(cmd Command, param int32, value any) error {
	if err := c.engine.Issue(cmd, param, value); err != nil {
		cerr := commandError(cmd, err)
		c.metrics.RecordCommand(cmd.String(), "rejected", 0)
		c.metrics.RecordFault(string(faults.ClassCommand))
		_ = c.events.PublishCommandFailed(cmd.String(), err.Error())
		c.logger.WithCommand(cmd.String()).WithError(err).Warn("Engine rejected command")
		return cerr
	}
	c.metrics.RecordCommand(cmd.String(), "issued", 0)
	return nil
}

// IssueAndWait registers a wait for expected, then issues cmd. The returned
// future fails immediately if the engine rejects cmd; otherwise it resolves
// when the engine reports expected, or when c is closed.
func (c *Core) IssueAndWait(cmd Command, expected emustate.State) *emustate.Future {
	fut := c.waits.Watch(expected)
	if err := c.Issue(cmd, 0, nil); err != nil {
		fut.FailEarly(err)
	}
	return fut
}

// WatchState registers a wait for state without issuing anything. Use it when
// the state will be produced by something other than a command, such as the
// engine loop starting.
func (c *Core) WatchState(state emustate.State) *emustate.Future {
	return c.waits.Watch(state)
}

// Stop stops emulation and waits until the engine reports Stopped.
func (c *Core) Stop(ctx context.Context) error {
	return c.command(ctx, CmdStop, emustate.Stopped)
}

// Pause pauses emulation and waits until the engine reports Paused.
func (c *Core) Pause(ctx context.Context) error {
	return c.command(ctx, CmdPause, emustate.Paused)
}

// Resume resumes emulation and waits until the engine reports Running.
func (c *Core) Resume(ctx context.Context) error {
	return c.command(ctx, CmdResume, emustate.Running)
}

// AdvanceFrame runs a single frame and waits until the engine reports Paused.
func (c *Core) AdvanceFrame(ctx context.Context) error {
	return c.command(ctx, CmdAdvanceFrame, emustate.Paused)
}

// AwaitState waits until the engine next reports state. It issues a no-op
// command so that a stopped or missing engine surfaces as an error.
func (c *Core) AwaitState(ctx context.Context, state emustate.State) error {
	return c.command(ctx, CmdNop, state)
}

func (c *Core) command(ctx context.Context, cmd Command, expected emustate.State) (err error) {
	if err := c.cmdLock.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting to issue %s: %w", cmd, err)
	}
	defer c.cmdLock.Release(1)

	ctx, span := c.tracer.StartCommandSpan(ctx, cmd.String(), expected.String())
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	logger := c.logger.WithCommand(cmd.String()).WithState(expected.String())
	logger.Debug("Issuing command")

	timer := telemetry.NewTimer()
	err = c.IssueAndWait(cmd, expected).Wait(ctx)
	switch {
	case err == nil:
		c.metrics.RecordCommand(cmd.String(), "completed", timer.Duration())
		logger.Debugf("Reached state in %s", timer.Duration())
	case faults.IsCommand(err):
		// Already counted and logged by Issue.
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.metrics.RecordCommand(cmd.String(), "abandoned", timer.Duration())
		logger.WithError(err).Debug("Stopped waiting for state")
	default:
		c.metrics.RecordCommand(cmd.String(), "failed", timer.Duration())
		logger.WithError(err).Warn("Command wait failed")
	}
	return err
}

// Reset resets the emulated machine. It does not wait for any state.
func (c *Core) Reset(hard bool) error {
	var param int32
	if hard {
		param = 1
	}
	return c.Issue(CmdReset, param, nil)
}

// NotifyResize tells the engine the output window changed size. It does not
// wait for any state.
func (c *Core) NotifyResize(width, height uint16) error {
	return c.Issue(CmdCoreStateSet, int32(ParamVideoSize), PackVideoSize(width, height))
}

// OnStateChanged is the engine's state callback. Only emulation state changes
// reach the waiters. It never blocks.
func (c *Core) OnStateChanged(param CoreParam, value int32) {
	if param != ParamEmuState {
		c.logger.Tracef("Parameter %s changed to %d", param, value)
		return
	}

	state := emustate.State(value)
	c.last.Store(value)
	resolved := c.waits.Notify(state)

	c.metrics.RecordStateChange(state.String(), resolved)
	c.metrics.SetWaitersPending(c.waits.Pending())
	_ = c.events.PublishStateChanged(state.String(), resolved)
	c.logger.WithState(state.String()).Debugf("State changed, %d waiters resolved", resolved)
}

// Execute runs the engine loop on the calling goroutine, locked to its OS
// thread, until emulation stops.
func (c *Core) Execute() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	c.logger.Info("Engine loop starting")
	err := c.engine.Execute(c.OnStateChanged)
	if err != nil {
		c.logger.WithError(err).Error("Engine loop failed")
		return fmt.Errorf("engine execute: %w", err)
	}
	c.logger.Info("Engine loop finished")
	return nil
}

// LastState returns the most recent emulation state the engine reported, or
// zero if it has reported none.
func (c *Core) LastState() emustate.State {
	return emustate.State(c.last.Load())
}

// ClearLastState forgets the previously reported state. Call it before a new
// engine run so LastState only reflects that run.
func (c *Core) ClearLastState() {
	c.last.Store(0)
}

// Pending reports how many state waiters are still registered.
func (c *Core) Pending() int {
	return c.waits.Pending()
}

// Close disconnects every outstanding waiter. Their futures resolve without
// error. Close is idempotent.
func (c *Core) Close() {
	c.closeOnce.Do(c.waits.Close)
}

// commandError classifies an engine rejection, keeping any code the engine
// attached.
func commandError(cmd Command, err error) *faults.Error {
	cerr := faults.NewCommandError(fmt.Sprintf("engine rejected %s", cmd), err).
		WithOperation(cmd.String())
	var fe *faults.Error
	if errors.As(err, &fe) && fe.Code != "" {
		cerr = cerr.WithCode(fe.Code)
	}
	return cerr
}
