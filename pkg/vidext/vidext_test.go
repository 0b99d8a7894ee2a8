package vidext

import (
	"context"
	"errors"
	"testing"

	"github.com/emusync/emusync/pkg/rendezvous"
)

func startHost(t *testing.T, host Host) (*rendezvous.Link[Request, Response], func()) {
	t.Helper()
	link := NewLink()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Serve(ctx, link, host, nil)
	}()
	return link, func() {
		cancel()
		link.Close()
		<-done
	}
}

func TestClientDrivesWindow(t *testing.T) {
	win := NewWindow(7)
	link, stop := startHost(t, win)
	defer stop()

	c := NewClient(link.Channels())

	steps := []struct {
		name string
		call func() error
	}{
		{"init", c.Init},
		{"set video mode", func() error { return c.SetVideoMode(640, 480, 32, ScreenWindowed) }},
		{"set caption", func() error { return c.SetCaption("emusync") }},
		{"swap", c.SwapBuffers},
		{"swap", c.SwapBuffers},
		{"resize", func() error { return c.ResizeWindow(800, 600) }},
		{"fullscreen", c.ToggleFullscreen},
	}
	for _, step := range steps {
		if err := step.call(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
	}

	fb, err := c.DefaultFramebuffer()
	if err != nil || fb != 7 {
		t.Errorf("DefaultFramebuffer() = %d, %v; want 7", fb, err)
	}

	got := win.State()
	want := WindowState{
		Initialised: true,
		Width:       800,
		Height:      600,
		Mode:        ScreenFullscreen,
		Caption:     "emusync",
		Frames:      2,
	}
	if got != want {
		t.Errorf("window state = %+v, want %+v", got, want)
	}

	if err := c.Quit(); err != nil {
		t.Fatalf("Quit() = %v", err)
	}
	if win.State().Initialised {
		t.Error("window still initialised after Quit")
	}
}

func TestClientRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"zero width", SetVideoMode{Width: 0, Height: 480, BitsPerPixel: 32, ScreenMode: ScreenWindowed}},
		{"odd depth", SetVideoMode{Width: 640, Height: 480, BitsPerPixel: 12, ScreenMode: ScreenWindowed}},
		{"bad mode", SetVideoMode{Width: 640, Height: 480, BitsPerPixel: 32, ScreenMode: 9}},
		{"negative resize", ResizeWindow{Width: -1, Height: 10}},
	}

	// No host is listening: a valid request would block, so any return
	// proves validation happened before sending.
	c := NewClient(NewLink().Channels())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Do(tt.req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

type failingHost struct {
	*Window
}

func (failingHost) ToggleFullscreen() error { return ErrNotSupported }
func (failingHost) SwapBuffers() error      { return errors.New("context lost") }

func TestHostErrorsMapToStatus(t *testing.T) {
	link, stop := startHost(t, failingHost{NewWindow(0)})
	defer stop()
	c := NewClient(link.Channels())

	if err := c.ToggleFullscreen(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("ToggleFullscreen() = %v, want ErrUnsupported", err)
	}
	if err := c.SwapBuffers(); !errors.Is(err, ErrFailed) {
		t.Errorf("SwapBuffers() = %v, want ErrFailed", err)
	}
}

func TestCleanupRestartsIdentifiers(t *testing.T) {
	link, stop := startHost(t, NewWindow(0))
	defer stop()

	first := NewClient(link.Channels())
	if err := first.Init(); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	if err := first.SetCaption("one"); err != nil {
		t.Fatalf("SetCaption() = %v", err)
	}

	// A second run starts a fresh counter on the same channels; the host
	// echoes whatever id it receives, so this succeeds.
	second := NewClient(first.Cleanup())
	if err := second.SetCaption("two"); err != nil {
		t.Errorf("SetCaption() on reused parameters = %v", err)
	}
}

func TestClientAfterHostGoneIsDisconnected(t *testing.T) {
	link := NewLink()
	link.Close()
	c := NewClient(link.Channels())

	if err := c.Init(); !errors.Is(err, rendezvous.ErrDisconnected) {
		t.Errorf("Init() = %v, want ErrDisconnected", err)
	}
}

func TestKindNames(t *testing.T) {
	if kindOf(SwapBuffers{}) != "swap_buffers" {
		t.Errorf("kindOf(SwapBuffers) = %q", kindOf(SwapBuffers{}))
	}
	if kindOf(42) != "int" {
		t.Errorf("kindOf(42) = %q", kindOf(42))
	}
}
