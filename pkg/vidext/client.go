package vidext

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/emusync/emusync/pkg/rendezvous"
	"github.com/emusync/emusync/pkg/telemetry"
)

var (
	// ErrFailed is wrapped by errors for requests the UI reported as failed.
	ErrFailed = errors.New("video request failed")

	// ErrUnsupported is wrapped by errors for requests the UI does not implement.
	ErrUnsupported = errors.New("video request unsupported")
)

// Parameters are the channel halves a Client is built from. They outlive a
// single emulation run: Cleanup returns them so the next run can reuse them.
type Parameters = rendezvous.Channels[Request, Response]

// NewLink creates an in-process link between a Client and a Host.
func NewLink() *rendezvous.Link[Request, Response] {
	return rendezvous.NewLink[Request, Response]()
}

// Client makes video-extension requests from the engine thread. Its methods
// block until the UI replies and must not be called concurrently.
type Client struct {
	rv       *rendezvous.Rendezvous[Request, Response]
	validate *validator.Validate
	logger   *telemetry.Logger
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// WithLogger sets the logger.
func WithLogger(logger *telemetry.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = logger }
}

// WithMetrics sets the metrics sink for request counts and latency.
func WithMetrics(metrics *telemetry.Metrics) ClientOption {
	return func(o *clientOptions) { o.metrics = metrics }
}

// NewClient creates a Client over params. Request identifiers start at zero
// for every Client.
func NewClient(params Parameters, opts ...ClientOption) *Client {
	o := clientOptions{
		logger:  telemetry.NopLogger(),
		metrics: telemetry.NopMetrics(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.NewComponentLogger("vidext")

	return &Client{
		rv: rendezvous.New(params,
			rendezvous.WithLogger(logger),
			rendezvous.WithMetrics(o.metrics),
			rendezvous.WithKind(kindOf),
		),
		validate: validator.New(),
		logger:   logger,
	}
}

// Do validates req, sends it and waits for the reply. A non-OK status is
// returned as an error wrapping ErrFailed or ErrUnsupported.
func (c *Client) Do(req Request) (Response, error) {
	if err := c.validate.Struct(req); err != nil {
		var invalid *validator.InvalidValidationError
		if !errors.As(err, &invalid) {
			return Response{}, fmt.Errorf("invalid %s request: %w", req.Kind(), err)
		}
	}

	resp, err := c.rv.Send(req)
	if err != nil {
		return Response{}, err
	}

	switch resp.Status {
	case StatusOK:
		return resp, nil
	case StatusUnsupported:
		return resp, fmt.Errorf("%s: %w", req.Kind(), ErrUnsupported)
	default:
		return resp, fmt.Errorf("%s (status %s): %w", req.Kind(), resp.Status, ErrFailed)
	}
}

func (c *Client) do(req Request) error {
	_, err := c.Do(req)
	return err
}

// Init prepares the UI for video output.
func (c *Client) Init() error {
	return c.do(Init{})
}

// Quit releases video output.
func (c *Client) Quit() error {
	return c.do(Quit{})
}

// SetVideoMode creates the output surface.
func (c *Client) SetVideoMode(width, height, bitsPerPixel int, mode ScreenMode) error {
	return c.do(SetVideoMode{
		Width:        width,
		Height:       height,
		BitsPerPixel: bitsPerPixel,
		ScreenMode:   mode,
	})
}

// SetCaption sets the window title.
func (c *Client) SetCaption(title string) error {
	return c.do(SetCaption{Title: title})
}

// ToggleFullscreen switches between windowed and fullscreen output.
func (c *Client) ToggleFullscreen() error {
	return c.do(ToggleFullscreen{})
}

// ResizeWindow resizes the output surface.
func (c *Client) ResizeWindow(width, height int) error {
	return c.do(ResizeWindow{Width: width, Height: height})
}

// SwapBuffers presents the frame just rendered.
func (c *Client) SwapBuffers() error {
	return c.do(SwapBuffers{})
}

// DefaultFramebuffer returns the framebuffer object to render into.
func (c *Client) DefaultFramebuffer() (uint32, error) {
	resp, err := c.Do(GetDefaultFramebuffer{})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// Cleanup dismantles the Client and returns its parameters. It must not be
// called while a request is outstanding.
func (c *Client) Cleanup() Parameters {
	return c.rv.Cleanup()
}
