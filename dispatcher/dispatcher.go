// package dispatcher implements the cooperative task bitmap that glues
// ISRs to the foreground loop. There is no preemption: Work runs each
// pending handler to completion, lowest bit first, and a handler
// re-triggering its own bit is observed on the next call, not the
// current one.
package dispatcher

import "sync/atomic"

// Task identifies one class of deferred work. Bit position is
// priority: a lower-numbered bit wins a tie within one Work pass, so
// the enum order below (HostProtocol highest ... Shutdown lowest)
// is the run order.
type Task uint

const (
	HostProtocol Task = iota
	FiftyHzHeartbeat
	DisplayRender
	ButtonHold
	Haptic
	Camera
	Shutdown

	numTasks
)

// Handler performs the work for one task. It must run to completion;
// it may call Trigger again (including its own bit) to schedule
// another pass.
type Handler func()

// Dispatcher is the task bitmap and its registered handlers. The zero
// value is not usable; construct with New.
type Dispatcher struct {
	pending  atomic.Uint32
	handlers [numTasks]Handler
}

// New constructs a Dispatcher with no handlers registered. Handle must
// be called for every Task that will ever be triggered before the
// first call to Work.
func New() *Dispatcher {
	return &Dispatcher{}
}

// Handle registers the handler invoked when t's bit is sampled set.
func (d *Dispatcher) Handle(t Task, h Handler) {
	d.handlers[t] = h
}

// Trigger sets t's bit. Safe to call from any context, including an
// ISR.
func (d *Dispatcher) Trigger(t Task) {
	d.pending.Or(1 << uint(t))
}

// Cancel clears t's bit. The only task-level cancellation primitive;
// it has no effect on a handler already running.
func (d *Dispatcher) Cancel(t Task) {
	d.pending.And(^uint32(1 << uint(t)))
}

// Work samples the bitmap once, atomically clears the sampled bits,
// then invokes the handler for each set bit from lowest to highest
// (HostProtocol first, Shutdown last). It reports whether any bit was
// set. A handler that triggers its own bit is scheduled again, but
// only on the next call to Work.
func (d *Dispatcher) Work() bool {
	bits := d.pending.Swap(0)
	if bits == 0 {
		return false
	}
	for bit := 0; bit < int(numTasks); bit++ {
		mask := uint32(1) << uint(bit)
		if bits&mask == 0 {
			continue
		}
		if h := d.handlers[bit]; h != nil {
			h()
		}
	}
	return true
}

// Pending reports whether any task bit is currently set, without
// clearing or invoking anything. Used by the main loop to decide
// whether to wait for an interrupt before calling Work again.
func (d *Dispatcher) Pending() bool {
	return d.pending.Load() != 0
}
