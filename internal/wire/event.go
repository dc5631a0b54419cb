// Package wire defines the fixed-layout event records exchanged through the
// shared ring. The layout is bit-exact with the original C protocol headers:
// every record is 40 bytes, discriminated by a one-byte type tag at offset
// zero, with 32-bit fields at their naturally aligned offsets. The layout is
// load-bearing and versioned only by additive tag values; consumers must
// ignore tags they do not recognize.
package wire

import "encoding/binary"

// Type is the one-byte discriminator at the start of every event record.
type Type uint8

const (
	// TypeMotion is a relative pointer/wheel movement.
	TypeMotion Type = 1
	// Tag 2 was never assigned and stays reserved.

	// TypeKey is a key or button transition.
	TypeKey Type = 3
	// TypePosition is an absolute pointer position plus wheel.
	TypePosition Type = 4
	// TypeTouchDown reports a new touch contact.
	TypeTouchDown Type = 5
	// TypeTouchUp reports a lifted touch contact.
	TypeTouchUp Type = 6
	// TypeTouchMove reports a moved touch contact.
	TypeTouchMove Type = 7
	// TypeTouchFrame ends a coalesced batch of touch updates.
	TypeTouchFrame Type = 8
)

// EventSize is the fixed size of every record in the ring.
const EventSize = 40

func (t Type) String() string {
	switch t {
	case TypeMotion:
		return "motion"
	case TypeKey:
		return "key"
	case TypePosition:
		return "position"
	case TypeTouchDown:
		return "touch-down"
	case TypeTouchUp:
		return "touch-up"
	case TypeTouchMove:
		return "touch-move"
	case TypeTouchFrame:
		return "touch-frame"
	default:
		return "unknown"
	}
}

// Event is one decoded wire record.
type Event interface {
	wireEvent()
}

// Motion is a relative pointer movement; RelZ carries the scroll wheel.
type Motion struct {
	RelX, RelY, RelZ int32
}

// Key is a key or button transition. Button "keys" share the keycode space
// with keyboard keys.
type Key struct {
	Code    uint32
	Pressed bool
}

// Position is an absolute pointer position; RelZ carries the scroll wheel.
type Position struct {
	AbsX, AbsY, RelZ int32
}

// TouchDown reports a new contact for finger ID at (AbsX, AbsY).
type TouchDown struct {
	ID, AbsX, AbsY int32
}

// TouchMove reports that finger ID moved to (AbsX, AbsY).
type TouchMove struct {
	ID, AbsX, AbsY int32
}

// TouchUp reports that finger ID was lifted.
type TouchUp struct {
	ID int32
}

// TouchFrame marks the end of one coalesced touch update batch.
type TouchFrame struct{}

func (Motion) wireEvent()     {}
func (Key) wireEvent()        {}
func (Position) wireEvent()   {}
func (TouchDown) wireEvent()  {}
func (TouchMove) wireEvent()  {}
func (TouchUp) wireEvent()    {}
func (TouchFrame) wireEvent() {}

// Field offsets within a record. The tag sits at offset 0; one-byte fields
// follow it directly, 32-bit fields start at offset 4. For touch records the
// finger id must stay the first 32-bit field.
const (
	offPressed = 1
	offWord0   = 4
	offWord1   = 8
	offWord2   = 12
)

// Decode reads one record from b, which must hold at least EventSize bytes.
// It returns ok=false for tags this consumer does not know; callers skip
// such records to stay forward compatible with newer producers.
func Decode(b []byte) (Event, bool) {
	if len(b) < EventSize {
		return nil, false
	}
	switch Type(b[0]) {
	case TypeMotion:
		return Motion{
			RelX: getInt32(b, offWord0),
			RelY: getInt32(b, offWord1),
			RelZ: getInt32(b, offWord2),
		}, true
	case TypeKey:
		return Key{
			Pressed: b[offPressed] != 0,
			Code:    binary.LittleEndian.Uint32(b[offWord0:]),
		}, true
	case TypePosition:
		return Position{
			AbsX: getInt32(b, offWord0),
			AbsY: getInt32(b, offWord1),
			RelZ: getInt32(b, offWord2),
		}, true
	case TypeTouchDown:
		return TouchDown{
			ID:   getInt32(b, offWord0),
			AbsX: getInt32(b, offWord1),
			AbsY: getInt32(b, offWord2),
		}, true
	case TypeTouchMove:
		return TouchMove{
			ID:   getInt32(b, offWord0),
			AbsX: getInt32(b, offWord1),
			AbsY: getInt32(b, offWord2),
		}, true
	case TypeTouchUp:
		return TouchUp{ID: getInt32(b, offWord0)}, true
	case TypeTouchFrame:
		return TouchFrame{}, true
	default:
		return nil, false
	}
}

// Encode renders ev as one wire record. It is the producer half of the
// protocol, used by the synthetic backend and by tests; a real backend
// writes the identical layout from the other side of the ring.
func Encode(ev Event) [EventSize]byte {
	var b [EventSize]byte
	switch e := ev.(type) {
	case Motion:
		b[0] = byte(TypeMotion)
		putInt32(b[:], offWord0, e.RelX)
		putInt32(b[:], offWord1, e.RelY)
		putInt32(b[:], offWord2, e.RelZ)
	case Key:
		b[0] = byte(TypeKey)
		if e.Pressed {
			b[offPressed] = 1
		}
		binary.LittleEndian.PutUint32(b[offWord0:], e.Code)
	case Position:
		b[0] = byte(TypePosition)
		putInt32(b[:], offWord0, e.AbsX)
		putInt32(b[:], offWord1, e.AbsY)
		putInt32(b[:], offWord2, e.RelZ)
	case TouchDown:
		b[0] = byte(TypeTouchDown)
		putInt32(b[:], offWord0, e.ID)
		putInt32(b[:], offWord1, e.AbsX)
		putInt32(b[:], offWord2, e.AbsY)
	case TouchMove:
		b[0] = byte(TypeTouchMove)
		putInt32(b[:], offWord0, e.ID)
		putInt32(b[:], offWord1, e.AbsX)
		putInt32(b[:], offWord2, e.AbsY)
	case TouchUp:
		b[0] = byte(TypeTouchUp)
		putInt32(b[:], offWord0, e.ID)
	case TouchFrame:
		b[0] = byte(TypeTouchFrame)
	}
	return b
}

func getInt32(b []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(b[off:]))
}

func putInt32(b []byte, off int, v int32) {
	binary.LittleEndian.PutUint32(b[off:], uint32(v))
}
