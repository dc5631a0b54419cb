package bus

import (
	"fmt"
	"sync"

	"github.com/oxtvirt/pvinput/internal/ring"
	"github.com/oxtvirt/pvinput/internal/wire"
)

// MemBus is an in-process implementation of Store, GrantTable and
// EventChannelProvider with a built-in producer side. The frontend tests
// negotiate against it, and the run command uses it as a synthetic backend
// feeding events through the real ring into the real sinks.
//
// It honors the scheduling contract: Kick runs the frontend handler
// synchronously, so handler invocations are naturally serialized, and
// closing the channel prevents any further invocation.
type MemBus struct {
	mu sync.Mutex

	frontend  map[string]string
	backend   map[string]string
	selfState State

	// conflict injection: the next failCommits commits return ErrConflict.
	failCommits int
	commits     int

	page    *ring.Page
	granted bool
	grants  int
	ends    int

	handler  func()
	port     uint32
	notifies int

	// prod is the producer cursor mirrored here so Produce can append
	// without re-reading the shared word non-atomically.
	prod uint32

	// GrantErr and OpenErr, when set, fail the next Grant or Open call.
	// Used to exercise the attach failure paths.
	GrantErr error
	OpenErr  error

	// OnStateChange observes frontend state transitions.
	OnStateChange func(State)
}

// NewMemBus returns an empty in-memory bus.
func NewMemBus() *MemBus {
	return &MemBus{
		frontend: make(map[string]string),
		backend:  make(map[string]string),
	}
}

// --- Store ---

type memTxn struct {
	bus    *MemBus
	staged map[string]string
	done   bool
}

func (m *MemBus) Transaction() (Txn, error) {
	return &memTxn{bus: m, staged: make(map[string]string)}, nil
}

func (t *memTxn) WriteInt(key string, value int) error {
	return t.WriteString(key, fmt.Sprintf("%d", value))
}

func (t *memTxn) WriteString(key, value string) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.staged[key] = value
	return nil
}

func (t *memTxn) Commit() error {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.bus.commits++
	if t.bus.failCommits > 0 {
		t.bus.failCommits--
		return ErrConflict
	}
	for k, v := range t.staged {
		t.bus.frontend[k] = v
	}
	return nil
}

func (t *memTxn) Abort() {
	t.done = true
}

func (m *MemBus) WriteInt(key string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frontend[key] = fmt.Sprintf("%d", value)
	return nil
}

func (m *MemBus) ReadBackendInt(key string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.backend[key]
	if !ok {
		return 0, false
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return 0, false
	}
	return v, true
}

func (m *MemBus) SwitchState(s State) error {
	m.mu.Lock()
	m.selfState = s
	cb := m.OnStateChange
	m.mu.Unlock()
	if cb != nil {
		cb(s)
	}
	return nil
}

// --- GrantTable ---

func (m *MemBus) Grant(p *ring.Page) (Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.GrantErr; err != nil {
		m.GrantErr = nil
		return Grant{}, err
	}
	m.page = p
	m.granted = true
	m.grants++
	return Grant{Ref: m.grants, PageRef: 0x1000 + uint64(m.grants)}, nil
}

func (m *MemBus) End(g Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.granted = false
	m.ends++
	return nil
}

// --- EventChannelProvider ---

type memChannel struct {
	bus  *MemBus
	port uint32
}

func (m *MemBus) Open(handler func()) (EventChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.OpenErr; err != nil {
		m.OpenErr = nil
		return nil, err
	}
	m.port++
	m.handler = handler
	return &memChannel{bus: m, port: m.port}, nil
}

func (c *memChannel) Port() uint32 { return c.port }

func (c *memChannel) Notify() {
	c.bus.mu.Lock()
	c.bus.notifies++
	c.bus.mu.Unlock()
}

func (c *memChannel) Close() error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if c.bus.port == c.port {
		c.bus.handler = nil
	}
	return nil
}

// --- producer / backend side ---

// SetBackendInt publishes a backend key, e.g. advertised features or screen
// geometry.
func (m *MemBus) SetBackendInt(key string, value int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backend[key] = fmt.Sprintf("%d", value)
}

// Produce appends events to the shared ring and rings the frontend's
// doorbell, exactly like the backend: slots first, producer cursor after.
func (m *MemBus) Produce(events ...wire.Event) error {
	m.mu.Lock()
	if m.page == nil || !m.granted {
		m.mu.Unlock()
		return fmt.Errorf("no ring granted")
	}
	for _, ev := range events {
		m.page.WriteRecord(m.prod%ring.RingLen, wire.Encode(ev))
		m.prod++
	}
	m.page.SetInProd(m.prod)
	m.mu.Unlock()

	m.Kick()
	return nil
}

// ProduceQuiet writes events into the ring without ringing the doorbell.
// Models events still in flight when the guest suspends: physically present
// in ring memory but never signalled.
func (m *MemBus) ProduceQuiet(events ...wire.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.page == nil || !m.granted {
		return fmt.Errorf("no ring granted")
	}
	for _, ev := range events {
		m.page.WriteRecord(m.prod%ring.RingLen, wire.Encode(ev))
		m.prod++
	}
	m.page.SetInProd(m.prod)
	return nil
}

// Kick invokes the frontend's notification handler, if one is bound.
func (m *MemBus) Kick() {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler()
	}
}

// ResetProducer realigns the producer cursor with the (zeroed) ring, used
// after a simulated suspend/resume cycle.
func (m *MemBus) ResetProducer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prod = 0
}

// FailCommits makes the next n transaction commits fail with ErrConflict.
func (m *MemBus) FailCommits(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommits = n
}

// Commits returns how many commits were attempted, conflicts included.
func (m *MemBus) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Notifies returns how many times the frontend rang the doorbell.
func (m *MemBus) Notifies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notifies
}

// Granted reports whether the ring page is currently granted out.
func (m *MemBus) Granted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.granted
}

// Ends returns how many grants were released.
func (m *MemBus) Ends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ends
}

// FrontendState returns the last state the frontend published.
func (m *MemBus) FrontendState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selfState
}

// FrontendValue returns a key the frontend wrote during negotiation.
func (m *MemBus) FrontendValue(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.frontend[key]
	return v, ok
}
