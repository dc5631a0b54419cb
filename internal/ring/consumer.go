package ring

import (
	"time"

	"github.com/oxtvirt/pvinput/internal/logger"
	"github.com/oxtvirt/pvinput/internal/wire"
)

// Consumer drains newly published records from a shared Page and feeds them
// to a dispatch callback. The notification source must serialize Drain calls
// for one ring; Drain itself never blocks and runs to completion over the
// records available when it starts.
type Consumer struct {
	page   *Page
	notify func()

	overrunWarn *logger.Limiter
	unknownWarn *logger.Limiter

	// unknown counts records skipped because their tag was not recognized.
	unknown uint64
}

// NewConsumer returns a Consumer over page. notify is invoked once at the
// end of every non-empty drain to tell the producer that ring capacity has
// been freed.
func NewConsumer(page *Page, notify func()) *Consumer {
	return &Consumer{
		page:        page,
		notify:      notify,
		overrunWarn: logger.NewLimiter(time.Second),
		unknownWarn: logger.NewLimiter(time.Second),
	}
}

// Drain consumes every record between the consumer cursor and the producer
// cursor, in order, and returns how many records were consumed. Records with
// unknown tags are counted and skipped without stopping the drain. When
// nothing is pending, Drain is a no-op: no dispatch, no notification.
//
// Cursors are free-running 32-bit counters; they wrap through zero and are
// only reduced modulo RingLen when indexing a slot.
func (c *Consumer) Drain(dispatch func(wire.Event)) int {
	prod := c.page.InProd()
	cons := c.page.InCons()
	if prod == cons {
		return 0
	}

	// More outstanding records than slots means the producer lapped us and
	// overwrote unread entries. The protocol has no back-pressure signal, so
	// this cannot be repaired here: report it and keep draining, which
	// re-reads the overwritten slots as the newer records they now hold.
	// The uint32 wrap shares the aliasing: 2^32 mod RingLen is 1, so the
	// slot index jumps at the wrap and records straddling it collide in
	// slot 0 even without an overrun.
	if distance := prod - cons; distance > RingLen && c.overrunWarn.Allow() {
		logger.Warnf("ring overrun: %d events outstanding, ring holds %d; producer overwrote unread slots", distance, RingLen)
	}

	n := 0
	for ; cons != prod; cons++ {
		rec := c.page.Record(cons % RingLen)
		n++
		ev, ok := wire.Decode(rec[:])
		if !ok {
			c.unknown++
			if c.unknownWarn.Allow() {
				logger.Warnf("ignoring unknown event tag 0x%02x (total %d)", rec[0], c.unknown)
			}
			continue
		}
		dispatch(ev)
	}

	c.page.SetInCons(prod)
	c.notify()
	return n
}

// UnknownCount returns how many records were skipped for carrying a tag this
// consumer does not understand.
func (c *Consumer) UnknownCount() uint64 {
	return c.unknown
}
