package vidext

import (
	"context"
	"errors"
	"sync"

	"github.com/emusync/emusync/pkg/rendezvous"
	"github.com/emusync/emusync/pkg/telemetry"
)

// ErrNotSupported may be returned by a Host method to answer StatusUnsupported.
var ErrNotSupported = errors.New("not supported by this host")

// Host performs video-extension calls on the UI side.
type Host interface {
	Init() error
	Quit() error
	SetVideoMode(mode SetVideoMode) error
	SetCaption(title string) error
	ToggleFullscreen() error
	ResizeWindow(width, height int) error
	SwapBuffers() error
	DefaultFramebuffer() (uint32, error)
}

// Handler adapts host to a rendezvous handler. Host errors become a failed
// status; ErrNotSupported becomes StatusUnsupported.
func Handler(host Host, logger *telemetry.Logger) rendezvous.HandlerFunc[Request, Response] {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return func(_ context.Context, req Request) Response {
		var (
			value uint32
			err   error
		)
		switch r := req.(type) {
		case Init:
			err = host.Init()
		case Quit:
			err = host.Quit()
		case SetVideoMode:
			err = host.SetVideoMode(r)
		case SetCaption:
			err = host.SetCaption(r.Title)
		case ToggleFullscreen:
			err = host.ToggleFullscreen()
		case ResizeWindow:
			err = host.ResizeWindow(r.Width, r.Height)
		case SwapBuffers:
			err = host.SwapBuffers()
		case GetDefaultFramebuffer:
			value, err = host.DefaultFramebuffer()
		default:
			err = ErrNotSupported
		}

		switch {
		case err == nil:
			return Response{Status: StatusOK, Value: value}
		case errors.Is(err, ErrNotSupported):
			logger.Debugf("Unsupported video request %s", kindOf(req))
			return Response{Status: StatusUnsupported}
		default:
			logger.WithError(err).Warnf("Video request %s failed", kindOf(req))
			return Response{Status: StatusFailed}
		}
	}
}

// Serve answers requests arriving on link with host until ctx ends or the
// link is closed. It is meant to run on the UI goroutine.
func Serve(ctx context.Context, link *rendezvous.Link[Request, Response], host Host, logger *telemetry.Logger) error {
	return rendezvous.Serve(ctx, link, Handler(host, logger))
}

// Window is a headless Host that tracks the output surface without drawing
// anything. The CLI uses it in place of a real window.
type Window struct {
	mu          sync.Mutex
	initialised bool
	width       int
	height      int
	mode        ScreenMode
	caption     string
	frames      uint64
	framebuffer uint32
}

// WindowState is a snapshot of a Window.
type WindowState struct {
	Initialised bool
	Width       int
	Height      int
	Mode        ScreenMode
	Caption     string
	Frames      uint64
}

// NewWindow creates a Window reporting framebuffer as the default framebuffer.
func NewWindow(framebuffer uint32) *Window {
	return &Window{framebuffer: framebuffer, mode: ScreenWindowed}
}

func (w *Window) Init() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.initialised = true
	return nil
}

func (w *Window) Quit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.initialised = false
	return nil
}

func (w *Window) SetVideoMode(mode SetVideoMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialised {
		return errors.New("video mode set before init")
	}
	w.width, w.height, w.mode = mode.Width, mode.Height, mode.ScreenMode
	return nil
}

func (w *Window) SetCaption(title string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.caption = title
	return nil
}

func (w *Window) ToggleFullscreen() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode == ScreenFullscreen {
		w.mode = ScreenWindowed
	} else {
		w.mode = ScreenFullscreen
	}
	return nil
}

func (w *Window) ResizeWindow(width, height int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.width, w.height = width, height
	return nil
}

func (w *Window) SwapBuffers() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialised {
		return errors.New("swap before init")
	}
	w.frames++
	return nil
}

func (w *Window) DefaultFramebuffer() (uint32, error) {
	return w.framebuffer, nil
}

// State returns a snapshot of the window.
func (w *Window) State() WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WindowState{
		Initialised: w.initialised,
		Width:       w.width,
		Height:      w.height,
		Mode:        w.mode,
		Caption:     w.caption,
		Frames:      w.frames,
	}
}
