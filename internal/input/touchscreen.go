package input

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// uinput ioctls and evdev codes needed for the multitouch device. The
// ThomasT75/uinput library drives the keyboard and mouse, but it has no
// multitouch surface, so this device is set up against /dev/uinput directly.
const (
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502
	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565
	uiSetRelBit  = 0x40045566
	uiSetAbsBit  = 0x40045567
	uiSetPropBit = 0x4004556e

	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03

	synReport = 0

	relWheel = 0x08

	absX          = 0x00
	absY          = 0x01
	absMtSlot     = 0x2f
	absMtPosX     = 0x35
	absMtPosY     = 0x36
	absMtTracking = 0x39

	btnTouch = 0x14a

	inputPropDirect = 0x01

	busVirtual = 0x06

	maxNameSize = 80
	absArrSize  = 0x40
)

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// uinputUserDev mirrors struct uinput_user_dev from uinput.h.
type uinputUserDev struct {
	Name       [maxNameSize]byte
	ID         inputID
	EffectsMax uint32
	AbsMax     [absArrSize]int32
	AbsMin     [absArrSize]int32
	AbsFuzz    [absArrSize]int32
	AbsFlat    [absArrSize]int32
}

// inputEvent mirrors struct input_event; the kernel fills the timestamp.
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// UinputTouchScreen is the absolute pointer sink: a direct-touch uinput
// device with legacy single-pointer axes, a wheel and TouchSlots tracking
// slots. The negotiated screen geometry defines the absolute axis ranges;
// since uinput fixes ranges at creation time, SetBounds recreates the
// device when the geometry actually changes.
type UinputTouchScreen struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	name   string
	width  int32
	height int32
	closed bool

	// contacts drives BTN_TOUCH: pressed while at least one slot is active.
	contacts int
}

// NewUinputTouchScreen creates the multitouch absolute pointer device with
// axes spanning width x height.
func NewUinputTouchScreen(path, name string, width, height int32) (*UinputTouchScreen, error) {
	ts := &UinputTouchScreen{path: path, name: name, width: width, height: height}
	if err := ts.create(); err != nil {
		return nil, err
	}
	return ts, nil
}

func (ts *UinputTouchScreen) create() error {
	f, err := os.OpenFile(ts.path, os.O_WRONLY|unix.O_NONBLOCK, 0660)
	if err != nil {
		return fmt.Errorf("failed to open uinput device %s: %w", ts.path, err)
	}
	fd := int(f.Fd())

	setup := []struct {
		req  uint
		val  int
		what string
	}{
		{uiSetEvBit, evKey, "enable key events"},
		{uiSetKeyBit, btnTouch, "register BTN_TOUCH"},
		{uiSetEvBit, evAbs, "enable absolute events"},
		{uiSetEvBit, evRel, "enable relative events"},
		{uiSetRelBit, relWheel, "register wheel"},
		{uiSetAbsBit, absX, "register ABS_X"},
		{uiSetAbsBit, absY, "register ABS_Y"},
		{uiSetAbsBit, absMtSlot, "register MT slot"},
		{uiSetAbsBit, absMtPosX, "register MT position X"},
		{uiSetAbsBit, absMtPosY, "register MT position Y"},
		{uiSetAbsBit, absMtTracking, "register MT tracking id"},
		{uiSetPropBit, inputPropDirect, "set direct property"},
	}
	for _, s := range setup {
		if err := unix.IoctlSetInt(fd, s.req, s.val); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to %s: %w", s.what, err)
		}
	}

	dev := uinputUserDev{
		ID: inputID{Bustype: busVirtual, Vendor: 0x5853, Product: 0xfffd, Version: 1},
	}
	copy(dev.Name[:], ts.name)
	dev.AbsMax[absX] = ts.width
	dev.AbsMax[absY] = ts.height
	dev.AbsMax[absMtPosX] = ts.width
	dev.AbsMax[absMtPosY] = ts.height
	dev.AbsMax[absMtSlot] = TouchSlots - 1
	dev.AbsMax[absMtTracking] = 0xffff

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, dev); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode device descriptor: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write device descriptor: %w", err)
	}
	if err := unix.IoctlSetInt(fd, uiDevCreate, 0); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to create device: %w", err)
	}

	ts.f = f
	return nil
}

func (ts *UinputTouchScreen) destroy() error {
	if ts.f == nil {
		return nil
	}
	_ = unix.IoctlSetInt(int(ts.f.Fd()), uiDevDestroy, 0)
	err := ts.f.Close()
	ts.f = nil
	return err
}

func (ts *UinputTouchScreen) emit(events ...inputEvent) error {
	if ts.closed {
		return ErrSinkClosed
	}
	buf := new(bytes.Buffer)
	for _, ev := range events {
		if err := binary.Write(buf, binary.LittleEndian, ev); err != nil {
			return fmt.Errorf("failed to encode input event: %w", err)
		}
	}
	if _, err := ts.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write input events: %w", err)
	}
	return nil
}

// Position reports a legacy absolute position as its own input frame.
func (ts *UinputTouchScreen) Position(x, y int32) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.emit(
		inputEvent{Type: evAbs, Code: absX, Value: x},
		inputEvent{Type: evAbs, Code: absY, Value: y},
		inputEvent{Type: evSyn, Code: synReport},
	)
}

// Wheel injects a wheel delta as its own input frame.
func (ts *UinputTouchScreen) Wheel(delta int32) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.emit(
		inputEvent{Type: evRel, Code: relWheel, Value: delta},
		inputEvent{Type: evSyn, Code: synReport},
	)
}

// TouchDown activates slot with the given tracking id. No sync is emitted;
// the batch closes on Frame.
func (ts *UinputTouchScreen) TouchDown(slot int, id, x, y int32) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	events := []inputEvent{
		{Type: evAbs, Code: absMtSlot, Value: int32(slot)},
		{Type: evAbs, Code: absMtTracking, Value: id},
		{Type: evAbs, Code: absMtPosX, Value: x},
		{Type: evAbs, Code: absMtPosY, Value: y},
	}
	if ts.contacts == 0 {
		events = append(events, inputEvent{Type: evKey, Code: btnTouch, Value: 1})
	}
	if err := ts.emit(events...); err != nil {
		return err
	}
	ts.contacts++
	return nil
}

// TouchMove updates slot's multitouch position; for the primary contact the
// legacy axes are mirrored so single-touch consumers keep tracking.
func (ts *UinputTouchScreen) TouchMove(slot int, x, y int32, primary bool) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	events := []inputEvent{
		{Type: evAbs, Code: absMtSlot, Value: int32(slot)},
		{Type: evAbs, Code: absMtPosX, Value: x},
		{Type: evAbs, Code: absMtPosY, Value: y},
	}
	if primary {
		events = append(events,
			inputEvent{Type: evAbs, Code: absX, Value: x},
			inputEvent{Type: evAbs, Code: absY, Value: y},
		)
	}
	return ts.emit(events...)
}

// TouchUp releases slot.
func (ts *UinputTouchScreen) TouchUp(slot int) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	events := []inputEvent{
		{Type: evAbs, Code: absMtSlot, Value: int32(slot)},
		{Type: evAbs, Code: absMtTracking, Value: -1},
	}
	if ts.contacts == 1 {
		events = append(events, inputEvent{Type: evKey, Code: btnTouch, Value: 0})
	}
	if err := ts.emit(events...); err != nil {
		return err
	}
	if ts.contacts > 0 {
		ts.contacts--
	}
	return nil
}

// Frame flushes the pending slot updates as one atomic input frame.
func (ts *UinputTouchScreen) Frame() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.emit(inputEvent{Type: evSyn, Code: synReport})
}

// SetBounds applies negotiated screen geometry. uinput cannot change axis
// ranges on a live device, so a real geometry change recreates it.
func (ts *UinputTouchScreen) SetBounds(width, height int32) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed {
		return ErrSinkClosed
	}
	if width == ts.width && height == ts.height {
		return nil
	}
	ts.width, ts.height = width, height
	if err := ts.destroy(); err != nil {
		return fmt.Errorf("failed to retire device for resize: %w", err)
	}
	ts.contacts = 0
	return ts.create()
}

func (ts *UinputTouchScreen) Close() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed {
		return nil
	}
	ts.closed = true
	return ts.destroy()
}
