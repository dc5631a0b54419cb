// Package bus declares the boundary interfaces toward the platform
// collaborators: the transactional negotiation store, the notification event
// channel and the grant table that shares the ring page with the backend
// domain. The frontend only ever talks to these interfaces; MemBus provides
// the in-process implementation used by tests and the run command.
package bus

import (
	"errors"

	"github.com/oxtvirt/pvinput/internal/ring"
)

// State is a negotiation phase, published by each side of the channel to
// its half of the store.
type State int

const (
	StateUnknown State = iota
	StateInitialising
	StateInitWait
	StateInitialised
	StateConnected
	StateClosing
	StateClosed
	StateReconfiguring
	StateReconfigured
)

func (s State) String() string {
	switch s {
	case StateInitialising:
		return "Initialising"
	case StateInitWait:
		return "InitWait"
	case StateInitialised:
		return "Initialised"
	case StateConnected:
		return "Connected"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateReconfiguring:
		return "Reconfiguring"
	case StateReconfigured:
		return "Reconfigured"
	default:
		return "Unknown"
	}
}

// ErrConflict reports that a store transaction lost against a concurrent
// one. The whole transaction is retried; the conflicting party always
// eventually yields.
var ErrConflict = errors.New("conflicting store transaction")

// Store keys exchanged during negotiation. The frontend writes the first
// group into its own directory; the backend publishes the second group.
const (
	KeyPageRef      = "page-ref"
	KeyPageGref     = "page-gref"
	KeyEventChannel = "event-channel"
	KeyRequestAbs   = "request-abs-pointer"

	KeyFeatureAbs = "feature-abs-pointer"
	KeyWidth      = "width"
	KeyHeight     = "height"
)

// Txn is one atomic batch of store writes. Either every write lands or none
// does; Commit returns ErrConflict when the batch must be retried whole.
type Txn interface {
	WriteInt(key string, value int) error
	WriteString(key, value string) error
	Commit() error
	Abort()
}

// Store is the transactional key/value channel scoped to the device's
// namespace.
type Store interface {
	// Transaction starts an atomic write batch against the frontend
	// directory.
	Transaction() (Txn, error)
	// WriteInt writes a single frontend key outside any transaction.
	WriteInt(key string, value int) error
	// ReadBackendInt reads a key the backend published; ok is false when
	// the key is absent.
	ReadBackendInt(key string) (int, bool)
	// SwitchState publishes the frontend's negotiation state.
	SwitchState(s State) error
}

// Grant is a shared-page handle: the grant reference the backend maps the
// page through, plus the raw page reference legacy backends use instead.
type Grant struct {
	Ref     int
	PageRef uint64
}

// GrantTable shares ring pages with the backend domain.
type GrantTable interface {
	Grant(p *ring.Page) (Grant, error)
	End(g Grant) error
}

// EventChannel is the bidirectional doorbell bound to one ring.
type EventChannel interface {
	// Port identifies the channel to the backend during negotiation.
	Port() uint32
	// Notify rings the backend's side, signalling freed ring capacity.
	Notify()
	// Close unbinds the channel. No handler invocation is in flight or will
	// start once Close returns.
	Close() error
}

// EventChannelProvider opens doorbell channels. Implementations guarantee
// the handler contract from the scheduling model: invocations for one
// channel are serialized, re-notification during a running handler is
// coalesced, and no notification is lost.
type EventChannelProvider interface {
	Open(handler func()) (EventChannel, error)
}
