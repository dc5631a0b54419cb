// Package frontend implements the consumer-side connection state machine:
// it publishes the shared ring and doorbell to the backend through the
// negotiation store, follows the backend's state transitions, and gates the
// ring consumer accordingly.
package frontend

import (
	"errors"
	"fmt"
	"sync"

	"github.com/oxtvirt/pvinput/internal/bus"
	"github.com/oxtvirt/pvinput/internal/input"
	"github.com/oxtvirt/pvinput/internal/logger"
	"github.com/oxtvirt/pvinput/internal/ring"
)

// Default absolute-pointer bounds used until the backend publishes real
// screen geometry.
const (
	DefaultWidth  = 800
	DefaultHeight = 600
)

// StepError names the negotiation step that failed, so an attach failure is
// reported once with the specific failing step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Config carries the platform collaborators and sinks one channel needs.
type Config struct {
	Store  bus.Store
	Events bus.EventChannelProvider
	Grants bus.GrantTable

	Keyboard   input.KeyboardSink
	Pointer    input.RelativePointerSink
	AbsPointer input.AbsolutePointerSink
}

// Frontend is one device channel. All connection state lives here, owned by
// the instance and mutated only under the control-plane mutex; the
// data-plane drain path runs lock-free off the event channel callback.
type Frontend struct {
	store  bus.Store
	events bus.EventChannelProvider
	grants bus.GrantTable

	kbd input.KeyboardSink
	ptr input.RelativePointerSink
	abs input.AbsolutePointerSink

	dispatcher *input.Dispatcher
	page       *ring.Page

	// mu guards the connection fields below. It is never held while a drain
	// runs: the drain path reads consumer, which is only swapped while the
	// event channel is closed.
	mu       sync.Mutex
	consumer *ring.Consumer
	channel  bus.EventChannel
	grant    *bus.Grant
	state    bus.State

	width  int32
	height int32
}

// New builds a detached frontend. The ring page is allocated once here and
// lives for the frontend's lifetime; Attach shares it with the backend.
func New(cfg Config) (*Frontend, error) {
	if cfg.Store == nil || cfg.Events == nil || cfg.Grants == nil {
		return nil, fmt.Errorf("store, events and grants collaborators are all required")
	}
	if cfg.Keyboard == nil || cfg.Pointer == nil || cfg.AbsPointer == nil {
		return nil, fmt.Errorf("all three input sinks are required")
	}
	return &Frontend{
		store:      cfg.Store,
		events:     cfg.Events,
		grants:     cfg.Grants,
		kbd:        cfg.Keyboard,
		ptr:        cfg.Pointer,
		abs:        cfg.AbsPointer,
		dispatcher: input.NewDispatcher(cfg.Keyboard, cfg.Pointer, cfg.AbsPointer),
		page:       ring.NewPage(),
		state:      bus.StateInitialising,
		width:      DefaultWidth,
		height:     DefaultHeight,
	}, nil
}

// State returns the frontend's self-declared negotiation state.
func (f *Frontend) State() bus.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Attach connects to the backend: grant the ring, open the doorbell,
// publish both through the store, then declare Initialised. A failure in
// any step releases what was acquired, in reverse order, and reports the
// step that failed.
func (f *Frontend) Attach() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectBackend()
}

func (f *Frontend) connectBackend() error {
	grant, err := f.grants.Grant(f.page)
	if err != nil {
		return &StepError{Step: "granting shared ring page", Err: err}
	}

	channel, err := f.events.Open(f.onNotify)
	if err != nil {
		f.endGrant(grant)
		return &StepError{Step: "opening event channel", Err: err}
	}

	// The consumer must exist before the first doorbell can arrive.
	f.consumer = ring.NewConsumer(f.page, channel.Notify)

	if err := f.publishConnection(grant, channel); err != nil {
		f.consumer = nil
		if cerr := channel.Close(); cerr != nil {
			logger.Errorf("failed to close event channel: %v", cerr)
		}
		f.endGrant(grant)
		return err
	}

	f.grant = &grant
	f.channel = channel
	f.switchState(bus.StateInitialised)
	logger.Infof("attached: grant ref %d, event channel %d", grant.Ref, channel.Port())
	return nil
}

func (f *Frontend) endGrant(grant bus.Grant) {
	if err := f.grants.End(grant); err != nil {
		logger.Errorf("failed to release ring grant: %v", err)
	}
}

// publishConnection writes the connection parameters as one transaction,
// retried whole for as long as the store reports conflicts. The conflicting
// party always eventually yields, so the retry is unbounded and silent.
func (f *Frontend) publishConnection(grant bus.Grant, channel bus.EventChannel) error {
	for {
		txn, err := f.store.Transaction()
		if err != nil {
			return &StepError{Step: "starting store transaction", Err: err}
		}

		err = txn.WriteInt(bus.KeyPageRef, int(grant.PageRef))
		if err == nil {
			err = txn.WriteInt(bus.KeyPageGref, grant.Ref)
		}
		if err == nil {
			err = txn.WriteInt(bus.KeyEventChannel, int(channel.Port()))
		}
		if err != nil {
			txn.Abort()
			return &StepError{Step: "writing connection parameters", Err: err}
		}

		err = txn.Commit()
		if err == nil {
			return nil
		}
		if errors.Is(err, bus.ErrConflict) {
			logger.Debug("store transaction conflicted, retrying")
			continue
		}
		return &StepError{Step: "completing store transaction", Err: err}
	}
}

// onNotify is the doorbell handler: drain whatever the producer published.
// It deliberately takes no lock; the provider serializes invocations and
// never invokes after Close, and consumer is only replaced while the
// channel is closed.
func (f *Frontend) onNotify() {
	consumer := f.consumer
	if consumer == nil {
		return
	}
	consumer.Drain(f.dispatcher.Dispatch)
}

// BackendChanged feeds a backend negotiation state into the machine. States
// outside the explicit table are no-ops, never failures.
func (f *Frontend) BackendChanged(state bus.State) {
	f.mu.Lock()
	defer f.mu.Unlock()

	logger.Debugf("backend state %s (self %s)", state, f.state)

	switch state {
	case bus.StateInitialising, bus.StateInitialised,
		bus.StateReconfiguring, bus.StateReconfigured, bus.StateUnknown:
		// Nothing to do.

	case bus.StateInitWait:
		f.enterConnected()

	case bus.StateConnected:
		// A backend that races through InitWait fast enough shows up here
		// as a second Connected; run the InitWait path once instead of
		// treating it as a fresh negotiation.
		if f.state != bus.StateConnected {
			f.enterConnected()
		}
		f.refreshGeometry()

	case bus.StateClosed:
		if f.state == bus.StateClosed {
			return
		}
		// Missed the backend's Closing state; treat it the same.
		fallthrough
	case bus.StateClosing:
		f.disconnect()
		f.switchState(bus.StateClosed)
	}
}

// enterConnected performs the InitWait handling: pick up the optional
// absolute-pointer feature, then declare Connected.
func (f *Frontend) enterConnected() {
	if v, ok := f.store.ReadBackendInt(bus.KeyFeatureAbs); ok && v != 0 {
		if err := f.store.WriteInt(bus.KeyRequestAbs, 1); err != nil {
			logger.Warnf("failed to request absolute pointer: %v", err)
		}
	}
	f.switchState(bus.StateConnected)
}

// refreshGeometry picks up backend-published screen bounds; an absent value
// leaves the previous bound unchanged.
func (f *Frontend) refreshGeometry() {
	w, wok := f.store.ReadBackendInt(bus.KeyWidth)
	h, hok := f.store.ReadBackendInt(bus.KeyHeight)
	if !wok && !hok {
		return
	}
	if wok {
		f.width = int32(w)
	}
	if hok {
		f.height = int32(h)
	}
	if err := f.abs.SetBounds(f.width, f.height); err != nil {
		logger.Errorf("failed to apply %dx%d bounds: %v", f.width, f.height, err)
	} else {
		logger.Infof("absolute pointer bounds %dx%d", f.width, f.height)
	}
}

// disconnect tears the connection down in reverse acquisition order: the
// doorbell is unbound before the grant is released, so no drain can ever
// run against a revoked ring. Owned devices and the ring page survive for a
// later reconnect.
func (f *Frontend) disconnect() {
	if f.channel != nil {
		if err := f.channel.Close(); err != nil {
			logger.Errorf("failed to close event channel: %v", err)
		}
		f.channel = nil
	}
	f.consumer = nil

	if f.grant != nil {
		if err := f.grants.End(*f.grant); err != nil {
			logger.Errorf("failed to release ring grant: %v", err)
		}
		f.grant = nil
	}
}

// Resume reconnects after suspend: tear down, wipe the ring so nothing
// written before the suspend can replay, then run the attach sequence
// again.
func (f *Frontend) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.disconnect()
	f.page.Zero()
	return f.connectBackend()
}

// Detach disconnects from the backend and releases the input devices. The
// touch table is drained first so the absolute device is not left with
// phantom contacts.
func (f *Frontend) Detach() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.disconnect()
	f.dispatcher.Touch().Reset()
	f.switchState(bus.StateClosed)

	var firstErr error
	for _, c := range []func() error{f.kbd.Close, f.ptr.Close, f.abs.Close} {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *Frontend) switchState(s bus.State) {
	f.state = s
	if err := f.store.SwitchState(s); err != nil {
		logger.Warnf("failed to publish state %s: %v", s, err)
	}
}
