// Package input normalizes decoded wire events into the three virtual input
// devices the guest exposes: a keyboard, a relative pointer and a multitouch
// absolute pointer. The Dispatcher routes events, the TouchTracker owns the
// finger-to-slot mapping, and the Uinput* types are the concrete sinks.
package input

import "errors"

var (
	// ErrSinkClosed is returned when an event reaches a sink that was
	// already closed.
	ErrSinkClosed = errors.New("input sink is closed")
	// ErrUnsupportedButton is returned for pointer buttons the sink device
	// declares but cannot inject.
	ErrUnsupportedButton = errors.New("unsupported pointer button")
)

// KeyboardSink accepts key transitions for the standard keyboard ranges.
type KeyboardSink interface {
	// HasKey reports whether code belongs to this sink's declared set.
	HasKey(code uint32) bool
	// Key injects a press (pressed=true) or release.
	Key(code uint32, pressed bool) error
	Close() error
}

// RelativePointerSink accepts relative motion, wheel deltas and the mouse
// button range.
type RelativePointerSink interface {
	HasKey(code uint32) bool
	Key(code uint32, pressed bool) error
	Move(dx, dy int32) error
	Wheel(delta int32) error
	Close() error
}

// AbsolutePointerSink accepts absolute positions within negotiated bounds
// and up to TouchSlots independent tracking slots. Touch operations do not
// flush on their own; a batch of slot updates becomes visible as one input
// frame when Frame is called.
type AbsolutePointerSink interface {
	// Position reports a legacy single-pointer absolute position as its own
	// frame.
	Position(x, y int32) error
	// Wheel injects a relative wheel delta as its own frame.
	Wheel(delta int32) error
	// TouchDown activates slot with tracking id at (x, y).
	TouchDown(slot int, id, x, y int32) error
	// TouchMove updates slot's position. When primary is set the position is
	// also mirrored onto the legacy single-touch axes so consumers that are
	// not multitouch aware still track the primary finger.
	TouchMove(slot int, x, y int32, primary bool) error
	// TouchUp releases slot.
	TouchUp(slot int) error
	// Frame ends the current batch of slot updates.
	Frame() error
	// SetBounds applies negotiated screen geometry to the absolute axes.
	SetBounds(width, height int32) error
	Close() error
}
