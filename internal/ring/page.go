// Package ring implements the consumer side of the shared-memory event ring.
// One page is shared with the producer domain: two 32-bit cursors at the top,
// a fixed array of wire records starting at RingOffset. There is no lock;
// correctness relies on each side writing only its own cursor and on the
// atomic cursor accesses in this package ordering the slot reads and writes.
package ring

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/oxtvirt/pvinput/internal/wire"
)

const (
	// PageSize is the size of the shared region.
	PageSize = 4096
	// RingSize is the byte size of the event ring within the page.
	RingSize = 2048
	// RingOffset is where the event ring starts, measured from the top of
	// the page. The gap below the cursors is reserved.
	RingOffset = 1024
	// RingLen is the number of usable record slots; trailing bytes that do
	// not fit a whole record stay unused.
	RingLen = RingSize / wire.EventSize
)

// Cursor word offsets within the page.
const (
	inProdOffset = 0
	inConsOffset = 4
)

// Page wraps the shared memory region. The producer domain holds a mapping
// of the same bytes; all cross-domain loads and stores go through the atomic
// accessors below and raw pointers never leave this type.
type Page struct {
	buf []byte
}

// NewPage allocates a zeroed, page-sized region owned by this process. The
// grant collaborator shares it with the producer domain afterwards.
func NewPage() *Page {
	return &Page{buf: make([]byte, PageSize)}
}

// FromSlice wraps an existing mapping, e.g. foreign memory handed over by a
// platform grant-table binding. The region must be large enough for the ring
// and word aligned so the cursor accesses can be atomic.
func FromSlice(b []byte) (*Page, error) {
	if len(b) < RingOffset+RingSize {
		return nil, fmt.Errorf("shared region too small: %d bytes, need %d", len(b), RingOffset+RingSize)
	}
	if uintptr(unsafe.Pointer(&b[0]))%4 != 0 {
		return nil, fmt.Errorf("shared region is not word aligned")
	}
	return &Page{buf: b}, nil
}

// InProd returns the producer cursor. The atomic load orders it before any
// subsequent slot read, so a record is never observed before the producer
// published it.
func (p *Page) InProd() uint32 {
	return atomic.LoadUint32(p.word(inProdOffset))
}

// InCons returns the consumer cursor.
func (p *Page) InCons() uint32 {
	return atomic.LoadUint32(p.word(inConsOffset))
}

// SetInCons publishes the consumer cursor. The atomic store orders it after
// the preceding slot reads, so the producer never reuses a slot the consumer
// is still reading.
func (p *Page) SetInCons(v uint32) {
	atomic.StoreUint32(p.word(inConsOffset), v)
}

// Record copies the slot at idx out of the shared region. idx is a slot
// index, i.e. a cursor already reduced modulo RingLen.
func (p *Page) Record(idx uint32) [wire.EventSize]byte {
	var rec [wire.EventSize]byte
	off := RingOffset + int(idx)*wire.EventSize
	copy(rec[:], p.buf[off:off+wire.EventSize])
	return rec
}

// Zero wipes the whole page. Only legal while no producer is attached; the
// resume path relies on this to guarantee no pre-suspend event is replayed.
func (p *Page) Zero() {
	for i := range p.buf {
		p.buf[i] = 0
	}
}

// SetInProd publishes the producer cursor. Producer-side accessor: the
// in-process synthetic backend and the tests use it, a real backend performs
// the equivalent store from its own mapping.
func (p *Page) SetInProd(v uint32) {
	atomic.StoreUint32(p.word(inProdOffset), v)
}

// WriteRecord stores a record into the slot at idx. Producer-side accessor,
// see SetInProd.
func (p *Page) WriteRecord(idx uint32, rec [wire.EventSize]byte) {
	off := RingOffset + int(idx)*wire.EventSize
	copy(p.buf[off:off+wire.EventSize], rec[:])
}

func (p *Page) word(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&p.buf[off]))
}
