package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/emusync/emusync/pkg/telemetry"
)

// Config is the root of an emusync configuration file.
type Config struct {
	Telemetry telemetry.Config `yaml:"telemetry"`
	Engine    EngineConfig     `yaml:"engine"`
	Video     VideoConfig      `yaml:"video"`
	Script    ScriptConfig     `yaml:"script"`
}

// EngineConfig configures the simulated engine.
type EngineConfig struct {
	// FrameInterval is the time between frames at 100% speed.
	FrameInterval time.Duration `yaml:"frame_interval" validate:"gt=0"`

	// QueueSize bounds the number of commands waiting for the engine thread.
	QueueSize int `yaml:"queue_size" validate:"gte=1,lte=4096"`

	// MaxFrames stops emulation after this many frames. Zero runs until stopped.
	MaxFrames uint64 `yaml:"max_frames"`

	// Image is the path of the ROM image to load. Empty loads a blank image.
	Image string `yaml:"image"`
}

// VideoConfig configures the headless video host.
type VideoConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Width       int    `yaml:"width" validate:"gt=0,lte=65535"`
	Height      int    `yaml:"height" validate:"gt=0,lte=65535"`
	Caption     string `yaml:"caption" validate:"max=256"`
	Framebuffer uint32 `yaml:"framebuffer"`
}

// ScriptConfig configures scenario scripts.
type ScriptConfig struct {
	// Timeout bounds a whole script run. Zero disables the limit.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// MaxSteps bounds the number of Starlark execution steps. Zero disables
	// the limit.
	MaxSteps uint64 `yaml:"max_steps"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Telemetry: *telemetry.DefaultConfig(),
		Engine: EngineConfig{
			FrameInterval: time.Second / 60,
			QueueSize:     16,
		},
		Video: VideoConfig{
			Enabled: true,
			Width:   320,
			Height:  240,
		},
		Script: ScriptConfig{
			Timeout: 5 * time.Minute,
		},
	}
}

// Load reads the configuration file at path. Values absent from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints across all sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %w", err)
		}

		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	// Drop the root type name so messages read "Engine.QueueSize".
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
