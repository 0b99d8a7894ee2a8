package lifecycle

import (
	"context"
	"fmt"

	"github.com/emusync/emusync/pkg/core"
)

// Phase is the coordinator's lifecycle phase.
type Phase int

const (
	// NotStarted: no core exists yet.
	NotStarted Phase = iota
	// Ready: a core exists and no engine loop is running.
	Ready
	// Running: the engine loop runs on a dedicated goroutine.
	Running
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not_started"
	case Ready:
		return "ready"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Factory creates the core during Init.
type Factory func(ctx context.Context) (*core.Core, error)

// Loader prepares a core for a run and undoes it afterwards, e.g. opening and
// closing a ROM image.
type Loader interface {
	Load(ctx context.Context, c *core.Core) error
	Unload(c *core.Core) error
}
