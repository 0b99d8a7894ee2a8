// Package vidext carries the engine's video-extension calls to the UI.
//
// The engine asks for window and GL surface operations from its own thread,
// but only the UI loop may perform them. Each call is sent as a Request over a
// rendezvous and the engine thread blocks until the UI answers with a
// Response. The UI side implements Host and runs Serve.
package vidext

import "fmt"

// Request is one video-extension call.
type Request interface {
	// Kind names the call for logs and metrics.
	Kind() string
}

// ScreenMode selects windowed or fullscreen output.
type ScreenMode int

const (
	ScreenWindowed   ScreenMode = 1
	ScreenFullscreen ScreenMode = 2
)

func (m ScreenMode) String() string {
	switch m {
	case ScreenWindowed:
		return "windowed"
	case ScreenFullscreen:
		return "fullscreen"
	default:
		return fmt.Sprintf("screen_mode(%d)", int(m))
	}
}

// Init prepares the UI for video output.
type Init struct{}

// Quit releases video output.
type Quit struct{}

// SetVideoMode creates the output surface.
type SetVideoMode struct {
	Width        int        `validate:"gt=0,lte=65535"`
	Height       int        `validate:"gt=0,lte=65535"`
	BitsPerPixel int        `validate:"oneof=16 24 32"`
	ScreenMode   ScreenMode `validate:"oneof=1 2"`
}

// SetCaption sets the window title.
type SetCaption struct {
	Title string `validate:"max=256"`
}

// ToggleFullscreen switches between windowed and fullscreen output.
type ToggleFullscreen struct{}

// ResizeWindow resizes the output surface.
type ResizeWindow struct {
	Width  int `validate:"gt=0,lte=65535"`
	Height int `validate:"gt=0,lte=65535"`
}

// SwapBuffers presents the frame just rendered.
type SwapBuffers struct{}

// GetDefaultFramebuffer asks for the framebuffer object the engine should
// render into.
type GetDefaultFramebuffer struct{}

func (Init) Kind() string                  { return "init" }
func (Quit) Kind() string                  { return "quit" }
func (SetVideoMode) Kind() string          { return "set_video_mode" }
func (SetCaption) Kind() string            { return "set_caption" }
func (ToggleFullscreen) Kind() string      { return "toggle_fullscreen" }
func (ResizeWindow) Kind() string          { return "resize_window" }
func (SwapBuffers) Kind() string           { return "swap_buffers" }
func (GetDefaultFramebuffer) Kind() string { return "get_default_framebuffer" }

// Status is the outcome reported by the UI.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
	StatusUnsupported
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Response is the UI's answer to a Request. Value is only meaningful for
// GetDefaultFramebuffer.
type Response struct {
	Status Status
	Value  uint32
}

// kindOf names any request for the rendezvous.
func kindOf(v any) string {
	if r, ok := v.(Request); ok {
		return r.Kind()
	}
	return fmt.Sprintf("%T", v)
}
