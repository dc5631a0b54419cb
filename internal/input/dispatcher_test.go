package input

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oxtvirt/pvinput/internal/wire"
)

// fakeKeySink stands in for the keyboard or pointer sink; it declares an
// explicit keycode set and records every operation.
type fakeKeySink struct {
	name string
	keys map[uint32]bool
	ops  []string
}

func (f *fakeKeySink) HasKey(code uint32) bool { return f.keys[code] }

func (f *fakeKeySink) Key(code uint32, pressed bool) error {
	f.ops = append(f.ops, fmt.Sprintf("key %d %v", code, pressed))
	return nil
}

func (f *fakeKeySink) Move(dx, dy int32) error {
	f.ops = append(f.ops, fmt.Sprintf("move %d,%d", dx, dy))
	return nil
}

func (f *fakeKeySink) Wheel(delta int32) error {
	f.ops = append(f.ops, fmt.Sprintf("wheel %d", delta))
	return nil
}

func (f *fakeKeySink) Close() error { return nil }

// fakeAbsSink records absolute pointer and touch slot operations.
type fakeAbsSink struct {
	ops    []string
	width  int32
	height int32
}

func (f *fakeAbsSink) Position(x, y int32) error {
	f.ops = append(f.ops, fmt.Sprintf("pos %d,%d", x, y))
	return nil
}

func (f *fakeAbsSink) Wheel(delta int32) error {
	f.ops = append(f.ops, fmt.Sprintf("wheel %d", delta))
	return nil
}

func (f *fakeAbsSink) TouchDown(slot int, id, x, y int32) error {
	f.ops = append(f.ops, fmt.Sprintf("down slot=%d id=%d %d,%d", slot, id, x, y))
	return nil
}

func (f *fakeAbsSink) TouchMove(slot int, x, y int32, primary bool) error {
	f.ops = append(f.ops, fmt.Sprintf("mtmove slot=%d %d,%d primary=%v", slot, x, y, primary))
	return nil
}

func (f *fakeAbsSink) TouchUp(slot int) error {
	f.ops = append(f.ops, fmt.Sprintf("up slot=%d", slot))
	return nil
}

func (f *fakeAbsSink) Frame() error {
	f.ops = append(f.ops, "frame")
	return nil
}

func (f *fakeAbsSink) SetBounds(width, height int32) error {
	f.width, f.height = width, height
	f.ops = append(f.ops, fmt.Sprintf("bounds %dx%d", width, height))
	return nil
}

func (f *fakeAbsSink) Close() error { return nil }

func newTestDispatcher() (*Dispatcher, *fakeKeySink, *fakeKeySink, *fakeAbsSink) {
	kbd := &fakeKeySink{name: "kbd", keys: map[uint32]bool{30: true, 31: true, 500: true}}
	ptr := &fakeKeySink{name: "ptr", keys: map[uint32]bool{BtnLeft: true, BtnRight: true, 500: true}}
	abs := &fakeAbsSink{}
	return NewDispatcher(kbd, ptr, abs), kbd, ptr, abs
}

func TestDispatchMotion(t *testing.T) {
	t.Run("forwards deltas verbatim", func(t *testing.T) {
		d, _, ptr, _ := newTestDispatcher()
		d.Dispatch(wire.Motion{RelX: 7, RelY: -2})
		assert.Equal(t, []string{"move 7,-2"}, ptr.ops)
	})

	t.Run("negates the wheel delta", func(t *testing.T) {
		d, _, ptr, _ := newTestDispatcher()
		d.Dispatch(wire.Motion{RelX: 1, RelY: 1, RelZ: 5})
		assert.Equal(t, []string{"move 1,1", "wheel -5"}, ptr.ops)
	})

	t.Run("no wheel event for a zero delta", func(t *testing.T) {
		d, _, ptr, _ := newTestDispatcher()
		d.Dispatch(wire.Motion{RelX: 1})
		assert.NotContains(t, ptr.ops, "wheel 0")
	})
}

func TestDispatchPosition(t *testing.T) {
	d, _, _, abs := newTestDispatcher()
	d.Dispatch(wire.Position{AbsX: 320, AbsY: 240, RelZ: -3})
	assert.Equal(t, []string{"pos 320,240", "wheel 3"}, abs.ops)
}

func TestDispatchKeyRouting(t *testing.T) {
	t.Run("keyboard-only code goes to the keyboard", func(t *testing.T) {
		d, kbd, ptr, _ := newTestDispatcher()
		d.Dispatch(wire.Key{Code: 30, Pressed: true})
		assert.Equal(t, []string{"key 30 true"}, kbd.ops)
		assert.Empty(t, ptr.ops)
	})

	t.Run("button code goes to the pointer", func(t *testing.T) {
		d, kbd, ptr, _ := newTestDispatcher()
		d.Dispatch(wire.Key{Code: BtnLeft, Pressed: true})
		d.Dispatch(wire.Key{Code: BtnLeft, Pressed: false})
		assert.Empty(t, kbd.ops)
		assert.Equal(t, []string{fmt.Sprintf("key %d true", BtnLeft), fmt.Sprintf("key %d false", BtnLeft)}, ptr.ops)
	})

	t.Run("pointer wins when both sinks declare the code", func(t *testing.T) {
		d, kbd, ptr, _ := newTestDispatcher()
		d.Dispatch(wire.Key{Code: 500, Pressed: true})
		assert.Empty(t, kbd.ops)
		assert.Equal(t, []string{"key 500 true"}, ptr.ops)
	})

	t.Run("unclaimed code is dropped with a diagnostic", func(t *testing.T) {
		d, kbd, ptr, _ := newTestDispatcher()
		d.Dispatch(wire.Key{Code: 9999, Pressed: true})
		assert.Empty(t, kbd.ops)
		assert.Empty(t, ptr.ops)
		assert.EqualValues(t, 1, d.UnroutedKeys())
	})
}

func TestDispatchTouchDelegation(t *testing.T) {
	d, _, _, abs := newTestDispatcher()
	d.Dispatch(wire.TouchDown{ID: 4, AbsX: 10, AbsY: 20})
	d.Dispatch(wire.TouchMove{ID: 4, AbsX: 11, AbsY: 21})
	d.Dispatch(wire.TouchUp{ID: 4})
	d.Dispatch(wire.TouchFrame{})

	assert.Equal(t, []string{
		"down slot=0 id=4 10,20",
		"mtmove slot=0 11,21 primary=true",
		"up slot=0",
		"frame",
	}, abs.ops)
}

func TestKeycodeRanges(t *testing.T) {
	assert.True(t, keyboardRange(KeyEsc))
	assert.True(t, keyboardRange(KeyOK))
	assert.False(t, keyboardRange(0))
	assert.False(t, keyboardRange(BtnLeft), "buttons are not keyboard keys")
	assert.True(t, pointerRange(BtnLeft))
	assert.True(t, pointerRange(BtnTask))
	assert.False(t, pointerRange(BtnTask+1))
}
