package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oxtvirt/pvinput/internal/bus"
	"github.com/oxtvirt/pvinput/internal/config"
	"github.com/oxtvirt/pvinput/internal/frontend"
	"github.com/oxtvirt/pvinput/internal/input"
	"github.com/oxtvirt/pvinput/internal/logger"
	"github.com/oxtvirt/pvinput/internal/wire"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	runWidth   int
	runHeight  int
	runSynthHz int
	runNoTouch bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach to the backend and replay its events into uinput devices",
	Long: `Create the virtual keyboard, pointer and touchscreen, negotiate the shared
ring with the backend and replay every published event until interrupted.

Without a real backend domain the built-in in-process backend is used; it
walks the negotiation handshake and feeds a synthetic event stream, which
makes the full path testable on any machine with /dev/uinput.`,
	RunE: runFrontend,
}

func init() {
	runCmd.Flags().IntVar(&runWidth, "width", 0, "Screen width advertised by the synthetic backend")
	runCmd.Flags().IntVar(&runHeight, "height", 0, "Screen height advertised by the synthetic backend")
	runCmd.Flags().IntVar(&runSynthHz, "rate", 25, "Synthetic event batches per second")
	runCmd.Flags().BoolVar(&runNoTouch, "no-touch", false, "Skip synthetic multitouch traffic")

	viper.BindPFlag("display.width", runCmd.Flags().Lookup("width"))
	viper.BindPFlag("display.height", runCmd.Flags().Lookup("height"))
}

func runFrontend(cmd *cobra.Command, args []string) error {
	// uinput device nodes are root-only on stock systems
	if os.Geteuid() != 0 {
		return fmt.Errorf("run requires root privileges for uinput access\nPlease run with: sudo pvinput run")
	}

	cfg := config.Get()
	width, height := cfg.Display.Width, cfg.Display.Height
	if runWidth > 0 {
		width = runWidth
	}
	if runHeight > 0 {
		height = runHeight
	}

	kbd, err := input.NewUinputKeyboard(cfg.Devices.UinputPath, cfg.Devices.KeyboardName)
	if err != nil {
		return fmt.Errorf("failed to create virtual keyboard: %w", err)
	}
	ptr, err := input.NewUinputPointer(cfg.Devices.UinputPath, cfg.Devices.PointerName)
	if err != nil {
		kbd.Close()
		return fmt.Errorf("failed to create virtual pointer: %w", err)
	}
	ts, err := input.NewUinputTouchScreen(cfg.Devices.UinputPath, cfg.Devices.TouchscreenName,
		int32(width), int32(height))
	if err != nil {
		ptr.Close()
		kbd.Close()
		return fmt.Errorf("failed to create virtual touchscreen: %w", err)
	}

	backend := bus.NewMemBus()
	backend.SetBackendInt(bus.KeyFeatureAbs, 1)
	backend.SetBackendInt(bus.KeyWidth, width)
	backend.SetBackendInt(bus.KeyHeight, height)

	fe, err := frontend.New(frontend.Config{
		Store:      backend,
		Events:     backend,
		Grants:     backend,
		Keyboard:   kbd,
		Pointer:    ptr,
		AbsPointer: ts,
	})
	if err != nil {
		return fmt.Errorf("failed to create frontend: %w", err)
	}

	if err := fe.Attach(); err != nil {
		return fmt.Errorf("failed to attach: %w", err)
	}
	// The in-process backend acknowledges the attach immediately.
	fe.BackendChanged(bus.StateInitWait)
	fe.BackendChanged(bus.StateConnected)

	logger.Infof("attached, devices %q %q %q, geometry %dx%d",
		cfg.Devices.KeyboardName, cfg.Devices.PointerName, cfg.Devices.TouchscreenName,
		width, height)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feedSynthetic(ctx, backend, int32(width), int32(height))

	logger.Info("shutting down")
	fe.BackendChanged(bus.StateClosing)
	return fe.Detach()
}

// feedSynthetic publishes a repeating event pattern through the real ring
// until the context is cancelled: a pointer sweep, a keystroke, and a short
// two-finger touch gesture.
func feedSynthetic(ctx context.Context, backend *bus.MemBus, width, height int32) {
	interval := time.Second / time.Duration(runSynthHz)
	if interval <= 0 {
		interval = 40 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var step int32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		batch := []wire.Event{
			wire.Motion{RelX: 2, RelY: 1},
		}
		switch step % 50 {
		case 10:
			batch = append(batch,
				wire.Key{Code: 30, Pressed: true},
				wire.Key{Code: 30, Pressed: false},
			)
		case 25:
			if !runNoTouch {
				x := (step * 7) % width
				y := (step * 3) % height
				batch = append(batch,
					wire.TouchDown{ID: 1, AbsX: x, AbsY: y},
					wire.TouchDown{ID: 2, AbsX: x + 40, AbsY: y + 40},
					wire.TouchFrame{},
				)
			}
		case 30:
			if !runNoTouch {
				batch = append(batch,
					wire.TouchUp{ID: 1},
					wire.TouchUp{ID: 2},
					wire.TouchFrame{},
				)
			}
		case 45:
			batch = append(batch, wire.Position{
				AbsX: (step * 11) % width,
				AbsY: (step * 5) % height,
			})
		}

		if err := backend.Produce(batch...); err != nil {
			logger.Errorf("synthetic backend stopped: %v", err)
			return
		}
		step++
	}
}
