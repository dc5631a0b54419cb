package input

import (
	"time"

	"github.com/oxtvirt/pvinput/internal/logger"
	"github.com/oxtvirt/pvinput/internal/wire"
)

// Dispatcher routes decoded wire events to the sinks. It is pure routing:
// the only state it owns is the touch slot table and diagnostic counters.
type Dispatcher struct {
	kbd   KeyboardSink
	ptr   RelativePointerSink
	abs   AbsolutePointerSink
	touch *TouchTracker

	unroutedWarn *logger.Limiter
	unrouted     uint64
}

// NewDispatcher returns a Dispatcher feeding the given sinks.
func NewDispatcher(kbd KeyboardSink, ptr RelativePointerSink, abs AbsolutePointerSink) *Dispatcher {
	return &Dispatcher{
		kbd:          kbd,
		ptr:          ptr,
		abs:          abs,
		touch:        NewTouchTracker(abs),
		unroutedWarn: logger.NewLimiter(time.Second),
	}
}

// Touch exposes the dispatcher's slot tracker, e.g. to reset it on teardown.
func (d *Dispatcher) Touch() *TouchTracker {
	return d.touch
}

// Dispatch routes one event. Sink failures are logged, never propagated: a
// single bad injection must not stall the drain loop.
func (d *Dispatcher) Dispatch(ev wire.Event) {
	switch e := ev.(type) {
	case wire.Motion:
		d.handleMotion(e)
	case wire.Key:
		d.handleKey(e)
	case wire.Position:
		d.handlePosition(e)
	case wire.TouchDown:
		d.touch.Down(e.ID, e.AbsX, e.AbsY)
	case wire.TouchMove:
		d.touch.Move(e.ID, e.AbsX, e.AbsY)
	case wire.TouchUp:
		d.touch.Up(e.ID)
	case wire.TouchFrame:
		d.touch.Frame()
	}
}

func (d *Dispatcher) handleMotion(e wire.Motion) {
	if err := d.ptr.Move(e.RelX, e.RelY); err != nil {
		logger.Errorf("relative move failed: %v", err)
	}
	// The wire scroll sign is inverted relative to evdev wheel convention.
	if e.RelZ != 0 {
		if err := d.ptr.Wheel(-e.RelZ); err != nil {
			logger.Errorf("wheel failed: %v", err)
		}
	}
}

func (d *Dispatcher) handlePosition(e wire.Position) {
	if err := d.abs.Position(e.AbsX, e.AbsY); err != nil {
		logger.Errorf("absolute position failed: %v", err)
	}
	if e.RelZ != 0 {
		if err := d.abs.Wheel(-e.RelZ); err != nil {
			logger.Errorf("wheel failed: %v", err)
		}
	}
}

// handleKey routes a key transition to whichever sink declares the keycode.
// Buttons overlap the keycode space, so the pointer sink is consulted last
// and wins; a code neither sink declares is dropped with a diagnostic.
func (d *Dispatcher) handleKey(e wire.Key) {
	var target interface {
		Key(code uint32, pressed bool) error
	}
	if d.kbd.HasKey(e.Code) {
		target = d.kbd
	}
	if d.ptr.HasKey(e.Code) {
		target = d.ptr
	}
	if target == nil {
		d.unrouted++
		if d.unroutedWarn.Allow() {
			logger.Warnf("unhandled keycode 0x%x (total %d)", e.Code, d.unrouted)
		}
		return
	}
	if err := target.Key(e.Code, e.Pressed); err != nil {
		logger.Errorf("key 0x%x injection failed: %v", e.Code, err)
	}
}

// UnroutedKeys returns how many key events matched neither sink.
func (d *Dispatcher) UnroutedKeys() uint64 {
	return d.unrouted
}
