package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/emusync/emusync/pkg/config"
	"github.com/emusync/emusync/pkg/core"
	"github.com/emusync/emusync/pkg/lifecycle"
	"github.com/emusync/emusync/pkg/script"
	"github.com/emusync/emusync/pkg/sim"
	"github.com/emusync/emusync/pkg/telemetry"
	"github.com/emusync/emusync/pkg/vidext"
)

const shutdownTimeout = 10 * time.Second

func newRunCommand(version string) *cobra.Command {
	var (
		image   string
		frames  uint64
		noVideo bool
	)

	cmd := &cobra.Command{
		Use:   "run [script.star]",
		Short: "Run an emulation session",
		Long: `Run an emulation session on the simulated engine.

The engine runs on its own thread. Video requests it makes are answered by a
headless window on a separate UI goroutine. With a script argument the session
is driven by the script and stopped when it returns; otherwise it runs until
the frame limit is reached or the process is interrupted.`,
		Example: `  # Run 600 frames of a blank image
  emusync run --frames 600

  # Drive a session from a scenario script
  emusync run -c emusync.yaml scenarios/pause_step.star

  # Load an image and emit JSON logs and summary
  emusync run --image roms/demo.z64 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(version)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("image") {
				cfg.Engine.Image = image
			}
			if cmd.Flags().Changed("frames") {
				cfg.Engine.MaxFrames = frames
			}
			if noVideo {
				cfg.Video.Enabled = false
			}

			var scriptPath string
			if len(args) > 0 {
				scriptPath = args[0]
			}
			return runSession(cmd.Context(), cfg, scriptPath, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "ROM image to load (default: blank image)")
	cmd.Flags().Uint64Var(&frames, "frames", 0, "stop after this many frames (0: no limit)")
	cmd.Flags().BoolVar(&noVideo, "no-video", false, "run without the video host")

	return cmd
}

// sessionSummary is printed when a session ends.
type sessionSummary struct {
	Session      string        `json:"session"`
	Frames       uint64        `json:"frames"`
	FinalState   string        `json:"final_state"`
	Duration     time.Duration `json:"duration_ns"`
	VideoFrames  uint64        `json:"video_frames,omitempty"`
	Caption      string        `json:"caption,omitempty"`
	ScriptOutput []string      `json:"script_output,omitempty"`
}

func runSession(ctx context.Context, cfg *config.Config, scriptPath string, out io.Writer) (err error) {
	if err := applyLogLevel(cfg.Telemetry.Logging.Level); err != nil {
		return err
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := tel.Shutdown(shutdownCtx); serr != nil {
			log.Warn().Err(serr).Msg("Telemetry shutdown failed")
		}
	}()
	ctx = tel.WithContext(ctx)

	if cfg.Telemetry.Metrics.Enabled {
		if err := tel.StartMetricsServer(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if configPath != "" {
		watcher := config.NewWatcher(configPath, log.Logger)
		err := watcher.Watch(ctx, func(next *config.Config) {
			if err := applyLogLevel(next.Telemetry.Logging.Level); err != nil {
				log.Warn().Err(err).Msg("Ignoring reloaded log level")
				return
			}
			log.Info().Str("level", next.Telemetry.Logging.Level).Msg("Applied reloaded log level")
		})
		if err != nil {
			log.Warn().Err(err).Msg("Config hot reload disabled")
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	engineOpts := []sim.Option{
		sim.WithLogger(tel.Logger.NewComponentLogger("engine")),
		sim.WithMetrics(tel.Metrics),
	}

	var window *vidext.Window
	if cfg.Video.Enabled {
		link := vidext.NewLink()
		window = vidext.NewWindow(cfg.Video.Framebuffer)

		// The UI goroutine owns the window and answers the engine's requests.
		// It outlives ctx so the engine is never left waiting on a reply while
		// it is being stopped; closing the link ends it.
		uiDone := make(chan struct{})
		go func() {
			defer close(uiDone)
			err := vidext.Serve(context.WithoutCancel(ctx), link, window, tel.Logger.NewComponentLogger("video"))
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Video host stopped")
			}
		}()
		defer func() {
			link.Close()
			<-uiDone
		}()
		engineOpts = append(engineOpts, sim.WithVideo(link.Channels()))
	}

	engine := sim.New(sim.Config{
		FrameInterval: cfg.Engine.FrameInterval,
		QueueSize:     cfg.Engine.QueueSize,
		MaxFrames:     cfg.Engine.MaxFrames,
		Width:         uint16(cfg.Video.Width),
		Height:        uint16(cfg.Video.Height),
	}, engineOpts...)

	coord := lifecycle.New(func(context.Context) (*core.Core, error) {
		return core.New(engine, core.WithTelemetry(tel)), nil
	}, lifecycle.WithTelemetry(tel))

	if err := coord.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialise core: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := coord.Shutdown(shutdownCtx); serr != nil && err == nil {
			err = fmt.Errorf("shutdown: %w", serr)
		}
	}()

	if err := coord.Start(ctx, newLoader(cfg)); err != nil {
		return fmt.Errorf("failed to start emulation: %w", err)
	}

	summary := sessionSummary{Session: coord.Session()}
	started := time.Now()
	log.Info().Str("session", summary.Session).Msg("Emulation started")

	if scriptPath != "" {
		result, err := runScript(ctx, cfg, scriptPath, coord, engine, tel)
		if result != nil {
			summary.ScriptOutput = result.Output
		}
		if err != nil {
			return err
		}
	} else {
		if cfg.Engine.MaxFrames == 0 {
			log.Info().Msg("Running until interrupted")
		}
		if err := coord.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("emulation failed: %w", err)
		}
	}

	// ctx may already be cancelled by a signal; stopping still needs time.
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := coord.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop emulation: %w", err)
	}

	summary.Frames = engine.Frames()
	summary.FinalState = engine.State().String()
	summary.Duration = time.Since(started)
	if window != nil {
		ws := window.State()
		summary.VideoFrames = ws.Frames
		summary.Caption = ws.Caption
	}
	return printSummary(out, summary)
}

func newLoader(cfg *config.Config) lifecycle.Loader {
	if cfg.Engine.Image != "" {
		return sim.NewFileLoader(cfg.Engine.Image)
	}
	title := cfg.Video.Caption
	if title == "" {
		title = "EMUSYNC"
	}
	return sim.NewImageLoader(sim.BlankImage(title))
}

func runScript(ctx context.Context, cfg *config.Config, path string, coord *lifecycle.Coordinator, engine *sim.Engine, tel *telemetry.Telemetry) (*script.Result, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	runner := script.New(coord.Core(),
		script.WithProbe(engine),
		script.WithTimeout(cfg.Script.Timeout),
		script.WithMaxSteps(cfg.Script.MaxSteps),
		script.WithLogger(tel.Logger.NewComponentLogger("script")),
		script.WithTracer(tel.Tracer),
	)

	log.Info().Str("script", path).Msg("Running scenario")
	return runner.Run(ctx, filepath.Base(path), string(src), map[string]interface{}{
		"session":    coord.Session(),
		"max_frames": cfg.Engine.MaxFrames,
	})
}

func printSummary(out io.Writer, s sessionSummary) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(out, "Session:     %s\n", s.Session)
	fmt.Fprintf(out, "Frames:      %d\n", s.Frames)
	fmt.Fprintf(out, "Final state: %s\n", s.FinalState)
	fmt.Fprintf(out, "Duration:    %s\n", s.Duration.Round(time.Millisecond))
	if s.Caption != "" {
		fmt.Fprintf(out, "Video:       %q, %d buffers swapped\n", s.Caption, s.VideoFrames)
	}
	for _, line := range s.ScriptOutput {
		fmt.Fprintf(out, "  | %s\n", line)
	}
	return nil
}
