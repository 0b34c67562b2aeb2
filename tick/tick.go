// package tick implements the handset's monotonic heartbeat counter.
//
// The counter advances at roughly 1kHz and is wrap-safe under
// subtraction, so callers can compare deadlines with plain arithmetic
// even across a wraparound.
package tick

import "sync/atomic"

// Count is an opaque tick value. The zero value means "time not yet
// recorded" for most callers; Clock never returns it.
type Count uint32

// Hz is the nominal tick rate in Hertz.
const Hz = 1000

// ms converts a millisecond duration to a tick delta.
func ms(n int) Count { return Count(n * Hz / 1000) }

// Ms converts a millisecond duration to a tick delta.
func Ms(n int) Count { return ms(n) }

// S converts a second duration to a tick delta.
func S(n int) Count { return Ms(n * 1000) }

// Since returns how many ticks have elapsed since t, correctly
// handling wraparound of the underlying counter.
func (c Count) Since(t Count) Count { return c - t }

// Before reports whether c happened strictly before t, given the
// current time now. Used to compare two stored deadlines without
// access to "now" when both are known to be within half the counter's
// range of each other.
func (c Count) Before(t Count) bool { return int32(c-t) < 0 }

// Clock is a free-running tick source. The heartbeat ISR calls Tick
// once per period; everything else calls Now.
type Clock struct {
	now atomic.Uint32
}

// Now returns the current tick count. Safe to call from any context.
func (c *Clock) Now() Count { return Count(c.now.Load()) }

// Tick advances the clock by one tick. Called from the 50Hz heartbeat
// ISR; the increment is a single atomic add so foreground readers
// never observe a torn value.
func (c *Clock) Tick() Count { return Count(c.now.Add(1)) }

// Elapsed reports how many ticks have passed since deadline was
// recorded, relative to the clock's current time.
func (c *Clock) Elapsed(since Count) Count { return c.Now().Since(since) }

// Reached reports whether the clock has advanced at least delta ticks
// past since.
func (c *Clock) Reached(since Count, delta Count) bool {
	return c.Elapsed(since) >= delta
}
