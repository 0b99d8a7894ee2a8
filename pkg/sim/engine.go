// Package sim provides a simulated execution engine.
//
// The engine accepts the same commands as a real emulator core and reports
// the same state changes, but its frames do no work beyond counting and
// presenting through the video extension. It is used by the CLI and to
// exercise the lifecycle end to end.
package sim

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emusync/emusync/pkg/core"
	"github.com/emusync/emusync/pkg/emustate"
	"github.com/emusync/emusync/pkg/faults"
	"github.com/emusync/emusync/pkg/telemetry"
	"github.com/emusync/emusync/pkg/vidext"
)

// Config configures the simulated engine.
type Config struct {
	// FrameInterval is the time between frames while running.
	FrameInterval time.Duration

	// QueueSize bounds the number of queued commands. Issue rejects with
	// ENGINE_BUSY when the queue is full.
	QueueSize int

	// MaxFrames stops emulation after this many frames. Zero means no limit.
	MaxFrames uint64

	// Width and Height are the initial video size.
	Width  uint16
	Height uint16
}

// DefaultConfig returns a 60 Hz engine with a 320x240 display.
func DefaultConfig() Config {
	return Config{
		FrameInterval: time.Second / 60,
		QueueSize:     16,
		Width:         320,
		Height:        240,
	}
}

type queued struct {
	cmd   core.Command
	param int32
	value any
}

// Engine is a simulated execution engine implementing core.Engine.
type Engine struct {
	cfg   Config
	queue chan queued

	mu        sync.Mutex
	image     *Image
	executing bool
	video     *vidext.Parameters

	state  atomic.Int32
	frames atomic.Uint64

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *telemetry.Logger) Option {
	return func(e *Engine) { e.logger = logger.NewComponentLogger("sim") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithVideo routes video-extension calls over params. Each run builds a
// fresh client from them and hands them back when the run ends.
func WithVideo(params vidext.Parameters) Option {
	return func(e *Engine) { e.video = &params }
}

// New creates a stopped engine with no image loaded.
func New(cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}

	e := &Engine{
		cfg:     cfg,
		queue:   make(chan queued, cfg.QueueSize),
		logger:  telemetry.NopLogger(),
		metrics: telemetry.NopMetrics(),
	}
	e.state.Store(int32(emustate.Stopped))
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current emulation state.
func (e *Engine) State() emustate.State {
	return emustate.State(e.state.Load())
}

// Frames returns the number of frames run since the image was opened.
func (e *Engine) Frames() uint64 {
	return e.frames.Load()
}

// Image returns the loaded image, if any.
func (e *Engine) Image() (Image, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.image == nil {
		return Image{}, false
	}
	return *e.image, true
}

func reject(code, format string, args ...interface{}) error {
	return faults.NewCommandError(fmt.Sprintf(format, args...), nil).WithCode(code)
}

// Issue validates cmd and either applies it immediately or queues it for
// the engine loop. It never blocks.
func (e *Engine) Issue(cmd core.Command, param int32, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch cmd {
	case core.CmdROMOpen:
		if e.executing {
			return reject(faults.CodeInvalidState, "cannot open an image while executing")
		}
		data, ok := value.([]byte)
		if !ok {
			return reject(faults.CodeInvalidInput, "image data must be []byte, got %T", value)
		}
		img, err := ParseImage(data)
		if err != nil {
			return reject(faults.CodeInvalidInput, "%v", err)
		}
		e.image = &img
		e.frames.Store(0)
		e.logger.Infof("Opened image %q (%d bytes)", img.Title, img.Size)
		return nil

	case core.CmdROMClose:
		if e.executing {
			return reject(faults.CodeInvalidState, "cannot close the image while executing")
		}
		if e.image == nil {
			return reject(faults.CodeNotFound, "no image is open")
		}
		e.image = nil
		return nil

	case core.CmdNop:
		if !e.executing {
			return reject(faults.CodeInvalidState, "engine is not executing")
		}
		return nil

	case core.CmdStop, core.CmdPause, core.CmdResume, core.CmdAdvanceFrame, core.CmdReset:
		// Queued below.

	case core.CmdCoreStateSet:
		switch core.CoreParam(param) {
		case core.ParamVideoSize:
			if _, ok := value.(int32); !ok {
				return reject(faults.CodeInvalidInput, "video size must be int32, got %T", value)
			}
		case core.ParamSpeedFactor:
			v, ok := value.(int32)
			if !ok || v < 1 || v > 1000 {
				return reject(faults.CodeInvalidInput, "speed factor must be an int32 in 1..1000")
			}
		default:
			return reject(faults.CodeInvalidInput, "parameter %s cannot be set", core.CoreParam(param))
		}

	default:
		return reject(faults.CodeInvalidInput, "unsupported command %s", cmd)
	}

	if !e.executing {
		return reject(faults.CodeInvalidState, "engine is not executing")
	}
	select {
	case e.queue <- queued{cmd: cmd, param: param, value: value}:
		return nil
	default:
		return reject(faults.CodeEngineBusy, "command queue full")
	}
}

// Execute runs the engine loop until a stop command, the frame limit, or a
// video failure. It reports Running once video is set up and Stopped on the
// way out.
func (e *Engine) Execute(onState core.StateFunc) (err error) {
	e.mu.Lock()
	if e.image == nil {
		e.mu.Unlock()
		return reject(faults.CodeInvalidState, "no image is open")
	}
	if e.executing {
		e.mu.Unlock()
		return reject(faults.CodeInvalidState, "engine is already executing")
	}
	title := e.image.Title
	e.executing = true
	e.drainLocked()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.executing = false
		e.drainLocked()
		e.mu.Unlock()
	}()

	r := &run{
		e:       e,
		onState: onState,
		width:   e.cfg.Width,
		height:  e.cfg.Height,
		speed:   100,
	}
	if e.video != nil {
		r.video = vidext.NewClient(*e.video, vidext.WithLogger(e.logger), vidext.WithMetrics(e.metrics))
		defer func() {
			params := r.video.Cleanup()
			e.video = &params
		}()
		if err := r.openVideo(title); err != nil {
			return fmt.Errorf("video setup: %w", err)
		}
	}

	err = r.loop()

	// Nothing handles commands past this point; reject them instead of
	// queueing them for the drain.
	e.mu.Lock()
	e.executing = false
	e.drainLocked()
	e.mu.Unlock()

	if r.video != nil {
		if qerr := r.video.Quit(); qerr != nil {
			e.logger.WithError(qerr).Warn("Video quit failed")
		}
	}
	r.setState(emustate.Stopped)
	return err
}

// drainLocked discards commands left over from a previous run.
func (e *Engine) drainLocked() {
	for {
		select {
		case <-e.queue:
		default:
			return
		}
	}
}

// run holds the state of one Execute call.
type run struct {
	e       *Engine
	onState core.StateFunc
	video   *vidext.Client
	width   uint16
	height  uint16
	speed   int32
}

func (r *run) openVideo(title string) error {
	if err := r.video.Init(); err != nil {
		return err
	}
	if err := r.video.SetVideoMode(int(r.width), int(r.height), 32, vidext.ScreenWindowed); err != nil {
		return err
	}
	return r.video.SetCaption(title)
}

func (r *run) setState(s emustate.State) {
	r.e.state.Store(int32(s))
	r.onState(core.ParamEmuState, int32(s))
}

func (r *run) interval() time.Duration {
	d := r.e.cfg.FrameInterval * 100 / time.Duration(r.speed)
	if d <= 0 {
		d = time.Microsecond
	}
	return d
}

func (r *run) loop() error {
	r.setState(emustate.Running)

	ticker := time.NewTicker(r.interval())
	defer ticker.Stop()

	for {
		var tick <-chan time.Time
		if r.e.State() == emustate.Running {
			tick = ticker.C
		}

		select {
		case <-tick:
			if err := r.frame(); err != nil {
				return err
			}
			if r.e.cfg.MaxFrames > 0 && r.e.Frames() >= r.e.cfg.MaxFrames {
				r.e.logger.Infof("Frame limit %d reached", r.e.cfg.MaxFrames)
				return nil
			}

		case q := <-r.e.queue:
			stop, err := r.handle(q, ticker)
			if err != nil || stop {
				return err
			}
		}
	}
}

func (r *run) frame() error {
	r.e.frames.Add(1)
	r.e.metrics.RecordFrame()
	if r.video == nil {
		return nil
	}
	// Losing the UI ends the run; a failed present only costs this frame.
	if err := r.video.SwapBuffers(); err != nil {
		if faults.IsDisconnected(err) {
			return err
		}
		r.e.logger.WithError(err).Warn("Swap failed")
	}
	return nil
}

// handle applies one queued command. State-changing commands always report
// the resulting state, even when it is unchanged, so a caller waiting for it
// is never left pending.
func (r *run) handle(q queued, ticker *time.Ticker) (stop bool, err error) {
	logger := r.e.logger.WithCommand(q.cmd.String())

	switch q.cmd {
	case core.CmdStop:
		logger.Debug("Stopping")
		return true, nil

	case core.CmdPause:
		r.setState(emustate.Paused)

	case core.CmdResume:
		ticker.Reset(r.interval())
		r.setState(emustate.Running)

	case core.CmdAdvanceFrame:
		if err := r.frame(); err != nil {
			return false, err
		}
		r.setState(emustate.Paused)

	case core.CmdReset:
		if q.param != 0 {
			r.e.frames.Store(0)
		}
		logger.Debugf("Reset (hard=%t)", q.param != 0)

	case core.CmdCoreStateSet:
		param := core.CoreParam(q.param)
		value := q.value.(int32)
		switch param {
		case core.ParamVideoSize:
			r.width, r.height = core.UnpackVideoSize(value)
			if r.video != nil {
				if err := r.video.ResizeWindow(int(r.width), int(r.height)); err != nil {
					logger.WithError(err).Warn("Resize failed")
				}
			}
		case core.ParamSpeedFactor:
			r.speed = value
			ticker.Reset(r.interval())
		}
		r.onState(param, value)
	}
	return false, nil
}
