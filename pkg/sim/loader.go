package sim

import (
	"context"
	"fmt"
	"os"

	"github.com/emusync/emusync/pkg/core"
)

// Loader opens an image on the core before a run and closes it afterwards.
type Loader struct {
	path string
	data []byte
}

// NewFileLoader loads the image at path on every Load.
func NewFileLoader(path string) *Loader {
	return &Loader{path: path}
}

// NewImageLoader loads data on every Load.
func NewImageLoader(data []byte) *Loader {
	return &Loader{data: data}
}

// Load reads the image and opens it on c.
func (l *Loader) Load(ctx context.Context, c *core.Core) error {
	data := l.data
	if l.path != "" {
		b, err := os.ReadFile(l.path)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		data = b
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Issue(core.CmdROMOpen, int32(len(data)), data)
}

// Unload closes the image on c.
func (l *Loader) Unload(c *core.Core) error {
	return c.Issue(core.CmdROMClose, 0, nil)
}
