// Package lifecycle owns the core across emulation runs.
//
// A Coordinator moves through NotStarted, Ready and Running. Starting a run
// shares the core with a dedicated engine goroutine; stopping it issues the
// stop command, waits for the Stopped state, joins the goroutine and reclaims
// sole ownership of the core. Reclaiming while another owner remains is a
// lifecycle bug and raises an ownership fault.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emusync/emusync/pkg/core"
	"github.com/emusync/emusync/pkg/emustate"
	"github.com/emusync/emusync/pkg/telemetry"
)

// ErrInvalidPhase is wrapped by errors for operations not allowed in the
// current phase.
var ErrInvalidPhase = errors.New("operation not allowed in current phase")

// Coordinator drives the core through its lifecycle. Its methods are safe for
// concurrent use; transitions are serialised.
type Coordinator struct {
	mu      sync.Mutex
	factory Factory
	phase   Phase

	core   *core.Core          // set in Ready
	handle *Handle[*core.Core] // set in Running
	loader Loader              // loader of the current run
	thread *engineThread       // engine goroutine of the current run

	session string
	started time.Time

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTelemetry sets logging, metrics, tracing and events from tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(c *Coordinator) {
		c.logger = tel.Logger.NewComponentLogger("lifecycle")
		c.metrics = tel.Metrics
		c.tracer = tel.Tracer
		c.events = tel.Events
	}
}

// WithLogger sets the logger.
func WithLogger(logger *telemetry.Logger) Option {
	return func(c *Coordinator) { c.logger = logger.NewComponentLogger("lifecycle") }
}

// WithEvents sets the event publisher.
func WithEvents(events *telemetry.EventPublisher) Option {
	return func(c *Coordinator) { c.events = events }
}

// New creates a Coordinator that builds its core with factory.
func New(factory Factory, opts ...Option) *Coordinator {
	c := &Coordinator{
		factory: factory,
		phase:   NotStarted,
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

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Core returns the core, or nil before Init. While Running the core is
// shared with the engine goroutine and may be used to issue commands.
func (c *Coordinator) Core() *core.Core {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.phase {
	case Ready:
		return c.core
	case Running:
		return c.handle.Value()
	default:
		return nil
	}
}

// Session returns the identifier of the current run, or "" when not Running.
func (c *Coordinator) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Init creates the core. NotStarted -> Ready.
func (c *Coordinator) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != NotStarted {
		return fmt.Errorf("init in phase %s: %w", c.phase, ErrInvalidPhase)
	}

	cr, err := c.factory(ctx)
	if err != nil {
		_ = c.events.PublishError("lifecycle", err)
		return fmt.Errorf("failed to create core: %w", err)
	}

	c.core = cr
	c.transition(Ready)
	_ = c.events.PublishCoreReady()
	return nil
}

// Start loads and runs the core on a dedicated goroutine, returning once the
// engine reports Running. Ready -> Running. From Running the current run is
// stopped first.
//
// If loading fails the coordinator stays Ready. If the engine goroutine exits
// before reporting Running, the load is undone and the coordinator stays
// Ready. If ctx ends while waiting for Running the coordinator is Running and
// the caller should Stop it.
func (c *Coordinator) Start(ctx context.Context, loader Loader) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case NotStarted:
		return fmt.Errorf("start in phase %s: %w", c.phase, ErrInvalidPhase)
	case Running:
		if err := c.stopLocked(ctx); err != nil {
			return fmt.Errorf("stopping previous run: %w", err)
		}
	}

	ctx, span := c.tracer.StartLifecycleSpan(ctx, c.phase.String(), Running.String())
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
			_ = c.events.PublishError("lifecycle", err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	cr := c.core
	if err := loader.Load(ctx, cr); err != nil {
		c.logger.WithError(err).Warn("Load failed")
		return fmt.Errorf("load: %w", err)
	}

	// A Stopped report left over from the previous run must not make Stop
	// skip the stop command for this one.
	cr.ClearLastState()
	h := NewHandle(cr)
	// Registered before the engine goroutine exists, so the Running report
	// cannot be missed.
	running := cr.WatchState(emustate.Running)
	thread := startEngineThread(h.Clone())

	c.core = nil
	c.handle = h
	c.loader = loader
	c.thread = thread
	c.session = uuid.New().String()
	c.started = time.Now()
	c.transition(Running)

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	reached := make(chan error, 1)
	go func() { reached <- running.Wait(waitCtx) }()

	select {
	case err := <-reached:
		if err != nil {
			return fmt.Errorf("waiting for engine to run: %w", err)
		}
	case <-thread.done:
		cancel()
		if werr := <-reached; werr == nil {
			// Reported Running and finished already; Stop will join it.
			break
		}
		c.reclaimLocked()
		if uerr := loader.Unload(c.core); uerr != nil {
			c.logger.WithError(uerr).Warn("Unload after failed start failed")
		}
		if thread.err != nil {
			return fmt.Errorf("engine exited before running: %w", thread.err)
		}
		return errors.New("engine exited before running")
	}

	c.logger.WithSession(c.session).Info("Emulation started")
	_ = c.events.PublishEmulationStarted(c.session)
	return nil
}

// Stop stops the current run and reclaims the core. Running -> Ready.
// Unload errors are returned after the transition has completed.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != Running {
		return fmt.Errorf("stop in phase %s: %w", c.phase, ErrInvalidPhase)
	}
	return c.stopLocked(ctx)
}

// Wait blocks until the engine goroutine of the current run exits or ctx
// ends. It returns immediately when not Running.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	thread := c.thread
	c.mu.Unlock()
	if thread == nil {
		return nil
	}
	select {
	case <-thread.done:
		return thread.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops any run and tears the core down. The coordinator returns to
// NotStarted and may be initialised again.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.phase == Running {
		err = c.stopLocked(ctx)
		if c.phase == Running {
			return err
		}
	}
	if c.phase == Ready {
		c.core.Close()
		c.core = nil
		c.transition(NotStarted)
	}
	return err
}

func (c *Coordinator) stopLocked(ctx context.Context) (err error) {
	ctx, span := c.tracer.StartLifecycleSpan(ctx, Running.String(), Ready.String())
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	thread := c.thread
	cr := c.handle.Value()

	// An engine that already reported Stopped is on its way out and may
	// reject the stop command or never answer it.
	if !thread.exited() && cr.LastState() != emustate.Stopped {
		stopCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-thread.done:
				cancel()
			case <-stopCtx.Done():
			}
		}()
		err := cr.Stop(stopCtx)
		cancel()
		if err != nil && !thread.exited() && cr.LastState() != emustate.Stopped {
			c.logger.WithError(err).Error("Stop command failed")
			return fmt.Errorf("stop: %w", err)
		}
	}

	<-thread.done
	if thread.err != nil {
		c.logger.WithError(thread.err).Warn("Engine loop ended with error")
	}

	session, elapsed := c.session, time.Since(c.started)
	loader := c.loader
	c.reclaimLocked()

	c.logger.WithSession(session).Infof("Emulation stopped after %s", elapsed.Round(time.Millisecond))
	_ = c.events.PublishEmulationStopped(session, elapsed)

	if err := loader.Unload(c.core); err != nil {
		return fmt.Errorf("unload: %w", err)
	}
	return nil
}

// reclaimLocked takes the core back from the handle after the engine
// goroutine has exited. Running -> Ready.
func (c *Coordinator) reclaimLocked() {
	c.core = c.handle.IntoInner()
	c.handle = nil
	c.loader = nil
	c.thread = nil
	c.session = ""
	c.transition(Ready)
}

func (c *Coordinator) transition(to Phase) {
	from := c.phase
	c.phase = to
	c.metrics.RecordTransition(from.String(), to.String())
	c.logger.Debugf("Phase %s -> %s", from, to)
}

// engineThread is the goroutine running Core.Execute for one run.
type engineThread struct {
	done chan struct{}
	err  error
}

// startEngineThread runs the engine loop holding h, releasing h before
// signalling exit so that a joined thread never counts as an owner.
func startEngineThread(h *Handle[*core.Core]) *engineThread {
	t := &engineThread{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		err := h.Value().Execute()
		h.Release()
		t.err = err
	}()
	return t
}

func (t *engineThread) exited() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
