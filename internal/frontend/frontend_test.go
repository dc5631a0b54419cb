package frontend

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxtvirt/pvinput/internal/bus"
	"github.com/oxtvirt/pvinput/internal/input"
	"github.com/oxtvirt/pvinput/internal/wire"
)

// recordingSink implements all three sink interfaces and records every
// operation, so one instance can serve as keyboard, pointer and absolute
// pointer in tests.
type recordingSink struct {
	ops    []string
	keys   map[uint32]bool
	closed int
	width  int32
	height int32
}

func newRecordingSink(keys ...uint32) *recordingSink {
	s := &recordingSink{keys: make(map[uint32]bool)}
	for _, k := range keys {
		s.keys[k] = true
	}
	return s
}

func (s *recordingSink) HasKey(code uint32) bool { return s.keys[code] }

func (s *recordingSink) Key(code uint32, pressed bool) error {
	s.ops = append(s.ops, fmt.Sprintf("key %d %v", code, pressed))
	return nil
}

func (s *recordingSink) Move(dx, dy int32) error {
	s.ops = append(s.ops, fmt.Sprintf("move %d,%d", dx, dy))
	return nil
}

func (s *recordingSink) Wheel(delta int32) error {
	s.ops = append(s.ops, fmt.Sprintf("wheel %d", delta))
	return nil
}

func (s *recordingSink) Position(x, y int32) error {
	s.ops = append(s.ops, fmt.Sprintf("pos %d,%d", x, y))
	return nil
}

func (s *recordingSink) TouchDown(slot int, id, x, y int32) error {
	s.ops = append(s.ops, fmt.Sprintf("down slot=%d id=%d", slot, id))
	return nil
}

func (s *recordingSink) TouchMove(slot int, x, y int32, primary bool) error {
	s.ops = append(s.ops, fmt.Sprintf("mtmove slot=%d", slot))
	return nil
}

func (s *recordingSink) TouchUp(slot int) error {
	s.ops = append(s.ops, fmt.Sprintf("up slot=%d", slot))
	return nil
}

func (s *recordingSink) Frame() error {
	s.ops = append(s.ops, "frame")
	return nil
}

func (s *recordingSink) SetBounds(width, height int32) error {
	s.width, s.height = width, height
	return nil
}

func (s *recordingSink) Close() error {
	s.closed++
	return nil
}

type harness struct {
	bus *bus.MemBus
	fe  *Frontend
	kbd *recordingSink
	ptr *recordingSink
	abs *recordingSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bus: bus.NewMemBus(),
		kbd: newRecordingSink(30, 31),
		ptr: newRecordingSink(input.BtnLeft, input.BtnRight),
		abs: newRecordingSink(),
	}
	fe, err := New(Config{
		Store:      h.bus,
		Events:     h.bus,
		Grants:     h.bus,
		Keyboard:   h.kbd,
		Pointer:    h.ptr,
		AbsPointer: h.abs,
	})
	require.NoError(t, err)
	h.fe = fe
	return h
}

func TestAttachPublishesConnection(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.fe.Attach())

	assert.Equal(t, bus.StateInitialised, h.fe.State())
	assert.Equal(t, bus.StateInitialised, h.bus.FrontendState())
	assert.True(t, h.bus.Granted())

	for _, key := range []string{bus.KeyPageRef, bus.KeyPageGref, bus.KeyEventChannel} {
		_, ok := h.bus.FrontendValue(key)
		assert.True(t, ok, "missing %s", key)
	}
	assert.Equal(t, 1, h.bus.Commits())
}

func TestAttachRetriesConflicts(t *testing.T) {
	h := newHarness(t)
	h.bus.FailCommits(2)

	require.NoError(t, h.fe.Attach())

	// Two conflicts plus the final success: three attempts, no error
	// surfaced, Initialised reached anyway.
	assert.Equal(t, 3, h.bus.Commits())
	assert.Equal(t, bus.StateInitialised, h.fe.State())
}

func TestAttachFailureTeardown(t *testing.T) {
	t.Run("grant failure acquires nothing", func(t *testing.T) {
		h := newHarness(t)
		h.bus.GrantErr = errors.New("out of grant entries")

		err := h.fe.Attach()
		require.Error(t, err)

		var step *StepError
		require.ErrorAs(t, err, &step)
		assert.Equal(t, "granting shared ring page", step.Step)
		assert.False(t, h.bus.Granted())
		assert.Equal(t, 0, h.bus.Ends())
	})

	t.Run("event channel failure releases the grant", func(t *testing.T) {
		h := newHarness(t)
		h.bus.OpenErr = errors.New("no free ports")

		err := h.fe.Attach()
		require.Error(t, err)

		var step *StepError
		require.ErrorAs(t, err, &step)
		assert.Equal(t, "opening event channel", step.Step)
		assert.False(t, h.bus.Granted())
		assert.Equal(t, 1, h.bus.Ends())
	})

	t.Run("store failure releases channel and grant", func(t *testing.T) {
		h := newHarness(t)
		fe, err := New(Config{
			Store:      &brokenStore{},
			Events:     h.bus,
			Grants:     h.bus,
			Keyboard:   h.kbd,
			Pointer:    h.ptr,
			AbsPointer: h.abs,
		})
		require.NoError(t, err)

		err = fe.Attach()
		require.Error(t, err)

		var step *StepError
		require.ErrorAs(t, err, &step)
		assert.Equal(t, "starting store transaction", step.Step)
		assert.False(t, h.bus.Granted())
		assert.Equal(t, 1, h.bus.Ends())
	})
}

// brokenStore fails every transaction start with a terminal error.
type brokenStore struct{}

func (b *brokenStore) Transaction() (bus.Txn, error) {
	return nil, errors.New("store unavailable")
}

func (b *brokenStore) WriteInt(key string, value int) error { return nil }

func (b *brokenStore) ReadBackendInt(key string) (int, bool) { return 0, false }

func (b *brokenStore) SwitchState(s bus.State) error { return nil }

func TestBackendStateTable(t *testing.T) {
	t.Run("InitWait declares Connected and requests the feature", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.fe.Attach())
		h.bus.SetBackendInt(bus.KeyFeatureAbs, 1)

		h.fe.BackendChanged(bus.StateInitWait)

		assert.Equal(t, bus.StateConnected, h.fe.State())
		v, ok := h.bus.FrontendValue(bus.KeyRequestAbs)
		require.True(t, ok)
		assert.Equal(t, "1", v)
	})

	t.Run("InitWait without the feature requests nothing", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.fe.Attach())

		h.fe.BackendChanged(bus.StateInitWait)

		assert.Equal(t, bus.StateConnected, h.fe.State())
		_, ok := h.bus.FrontendValue(bus.KeyRequestAbs)
		assert.False(t, ok)
	})

	t.Run("Connected without a prior InitWait is fudged through it", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.fe.Attach())
		h.bus.SetBackendInt(bus.KeyFeatureAbs, 1)
		h.bus.SetBackendInt(bus.KeyWidth, 1920)
		h.bus.SetBackendInt(bus.KeyHeight, 1080)

		// Backend raced InitWait -> Connected; the frontend only saw the
		// terminal state.
		h.fe.BackendChanged(bus.StateConnected)

		assert.Equal(t, bus.StateConnected, h.fe.State())
		_, ok := h.bus.FrontendValue(bus.KeyRequestAbs)
		assert.True(t, ok, "InitWait handling ran exactly as if observed")
		assert.Equal(t, int32(1920), h.abs.width)
		assert.Equal(t, int32(1080), h.abs.height)
	})

	t.Run("geometry refresh leaves absent values unchanged", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.fe.Attach())
		h.fe.BackendChanged(bus.StateInitWait)
		h.bus.SetBackendInt(bus.KeyWidth, 1024)

		h.fe.BackendChanged(bus.StateConnected)

		assert.Equal(t, int32(1024), h.abs.width)
		assert.Equal(t, int32(DefaultHeight), h.abs.height, "missing height keeps the default")
	})

	t.Run("no-op states change nothing", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.fe.Attach())

		for _, s := range []bus.State{
			bus.StateInitialising, bus.StateInitialised,
			bus.StateReconfiguring, bus.StateReconfigured, bus.StateUnknown,
		} {
			h.fe.BackendChanged(s)
			assert.Equal(t, bus.StateInitialised, h.fe.State(), "state %s must be ignored", s)
		}
		assert.True(t, h.bus.Granted())
	})

	t.Run("Closing tears down", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.fe.Attach())
		h.fe.BackendChanged(bus.StateInitWait)

		h.fe.BackendChanged(bus.StateClosing)

		assert.Equal(t, bus.StateClosed, h.fe.State())
		assert.False(t, h.bus.Granted())
		assert.Equal(t, 1, h.bus.Ends())
	})

	t.Run("Closed after Closed is idempotent", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.fe.Attach())

		h.fe.BackendChanged(bus.StateClosed)
		h.fe.BackendChanged(bus.StateClosed)

		assert.Equal(t, bus.StateClosed, h.fe.State())
		assert.Equal(t, 1, h.bus.Ends(), "teardown must not run twice")
	})
}

func TestEventDelivery(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.fe.Attach())
	h.fe.BackendChanged(bus.StateInitWait)

	require.NoError(t, h.bus.Produce(
		wire.Key{Code: 30, Pressed: true},
		wire.Key{Code: 30, Pressed: false},
		wire.Motion{RelX: 4, RelY: -4, RelZ: 5},
	))

	assert.Equal(t, []string{"key 30 true", "key 30 false"}, h.kbd.ops)
	assert.Equal(t, []string{"move 4,-4", "wheel -5"}, h.ptr.ops)
	assert.Equal(t, 1, h.bus.Notifies(), "one doorbell back per drain")

	require.NoError(t, h.bus.Produce(
		wire.TouchDown{ID: 3, AbsX: 10, AbsY: 20},
		wire.TouchFrame{},
		wire.TouchUp{ID: 3},
		wire.TouchFrame{},
	))

	assert.Equal(t, []string{"down slot=0 id=3", "frame", "up slot=0", "frame"}, h.abs.ops)
	assert.Equal(t, 2, h.bus.Notifies())
}

func TestResumeDropsStaleEvents(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.fe.Attach())
	h.fe.BackendChanged(bus.StateInitWait)

	// Events written but never signalled: exactly what ring memory looks
	// like when the guest suspends mid-stream.
	require.NoError(t, h.bus.ProduceQuiet(
		wire.Key{Code: 30, Pressed: true},
		wire.Key{Code: 30, Pressed: false},
	))

	require.NoError(t, h.fe.Resume())
	h.bus.ResetProducer()

	// A spurious doorbell after resume must find an empty ring.
	h.bus.Kick()
	assert.Empty(t, h.kbd.ops, "pre-suspend events must never reach a sink")

	// The reconnected channel still delivers fresh events.
	require.NoError(t, h.bus.Produce(wire.Key{Code: 31, Pressed: true}))
	assert.Equal(t, []string{"key 31 true"}, h.kbd.ops)
	assert.Equal(t, bus.StateInitialised, h.fe.State())
}

func TestDetach(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.fe.Attach())
	h.fe.BackendChanged(bus.StateInitWait)

	// Leave a finger on the screen, then detach.
	require.NoError(t, h.bus.Produce(wire.TouchDown{ID: 9, AbsX: 1, AbsY: 1}))

	require.NoError(t, h.fe.Detach())

	assert.Equal(t, bus.StateClosed, h.fe.State())
	assert.False(t, h.bus.Granted())
	assert.Contains(t, h.abs.ops, "up slot=0", "phantom contact released on detach")
	assert.Equal(t, 1, h.kbd.closed)
	assert.Equal(t, 1, h.ptr.closed)
	assert.Equal(t, 1, h.abs.closed)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
