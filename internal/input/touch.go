package input

import (
	"time"

	"github.com/oxtvirt/pvinput/internal/logger"
)

// TouchSlots is the number of independent tracking slots, i.e. the maximum
// number of simultaneous contacts.
const TouchSlots = 10

// TouchTracker maps wire-level finger ids onto the bounded slot table of the
// absolute pointer sink. It is owned by the single drain context and needs
// no locking. The contact in slot 0 is the primary contact: its movement is
// mirrored onto the legacy single-touch axes.
type TouchTracker struct {
	abs AbsolutePointerSink

	ids    [TouchSlots]int32
	active [TouchSlots]bool

	staleWarn *logger.Limiter
	fullWarn  *logger.Limiter
}

// NewTouchTracker returns a tracker emitting slot operations to abs.
func NewTouchTracker(abs AbsolutePointerSink) *TouchTracker {
	return &TouchTracker{
		abs:       abs,
		staleWarn: logger.NewLimiter(time.Second),
		fullWarn:  logger.NewLimiter(time.Second),
	}
}

func (t *TouchTracker) slotOf(id int32) (int, bool) {
	for slot := range t.ids {
		if t.active[slot] && t.ids[slot] == id {
			return slot, true
		}
	}
	return 0, false
}

// Down assigns the lowest free slot to id and activates it at (x, y). A
// duplicate down for an id that already holds a slot keeps the existing slot
// and is treated as a move, so a backend that repeats DOWN cannot leak
// slots. When every slot is taken the contact is dropped.
func (t *TouchTracker) Down(id, x, y int32) {
	if slot, ok := t.slotOf(id); ok {
		if t.staleWarn.Allow() {
			logger.Warnf("duplicate touch down for id %d, reusing slot %d", id, slot)
		}
		t.move(slot, x, y)
		return
	}

	for slot := range t.ids {
		if t.active[slot] {
			continue
		}
		t.ids[slot] = id
		t.active[slot] = true
		// Down activates the slot and places it; the legacy axes are left
		// alone until the first move (down-then-move sequencing).
		if err := t.abs.TouchDown(slot, id, x, y); err != nil {
			logger.Errorf("touch down failed for slot %d: %v", slot, err)
		}
		return
	}

	if t.fullWarn.Allow() {
		logger.Warnf("all %d touch slots busy, dropping contact id %d", TouchSlots, id)
	}
}

// Move updates the position of id's slot. Moves for ids this tracker never
// saw a down for are ignored; a missed DOWN (ring overrun, backend bug) must
// not corrupt the slot table.
func (t *TouchTracker) Move(id, x, y int32) {
	slot, ok := t.slotOf(id)
	if !ok {
		if t.staleWarn.Allow() {
			logger.Warnf("touch move for unknown id %d ignored", id)
		}
		return
	}
	t.move(slot, x, y)
}

func (t *TouchTracker) move(slot int, x, y int32) {
	if err := t.abs.TouchMove(slot, x, y, slot == 0); err != nil {
		logger.Errorf("touch move failed for slot %d: %v", slot, err)
	}
}

// Up releases id's slot. Unknown ids are ignored, see Move.
func (t *TouchTracker) Up(id int32) {
	slot, ok := t.slotOf(id)
	if !ok {
		if t.staleWarn.Allow() {
			logger.Warnf("touch up for unknown id %d ignored", id)
		}
		return
	}
	if err := t.abs.TouchUp(slot); err != nil {
		logger.Errorf("touch up failed for slot %d: %v", slot, err)
	}
	t.active[slot] = false
}

// Frame closes the current batch of slot updates: everything since the last
// frame becomes one atomic input frame downstream.
func (t *TouchTracker) Frame() {
	if err := t.abs.Frame(); err != nil {
		logger.Errorf("touch frame failed: %v", err)
	}
}

// Reset releases every active slot and flushes a final frame. Used on
// teardown so the absolute device is not left with phantom contacts.
func (t *TouchTracker) Reset() {
	released := false
	for slot := range t.ids {
		if !t.active[slot] {
			continue
		}
		if err := t.abs.TouchUp(slot); err != nil {
			logger.Errorf("touch release failed for slot %d: %v", slot, err)
		}
		t.active[slot] = false
		released = true
	}
	if released {
		t.Frame()
	}
}

// ActiveContacts returns the number of currently tracked contacts.
func (t *TouchTracker) ActiveContacts() int {
	n := 0
	for _, a := range t.active {
		if a {
			n++
		}
	}
	return n
}
