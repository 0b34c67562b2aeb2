// package button implements the per-button edge/hold state machine
// (component H) and the fixed-table event dispatcher (component I).
// There are nine physical buttons; each runs its own state machine,
// but all nine feed one dispatcher and one outbound event queue.
package button

import (
	"log"

	"seedhammer.com/ring"
	"seedhammer.com/tick"
)

// ID identifies one of the nine physical buttons (§6.1).
type ID uint8

const (
	Power ID = iota
	Fly
	RTL
	Pause
	A
	B
	Preset1
	Preset2
	CameraClick
	NumButtons
)

// Event is a button-state-machine occurrence, mirroring
// original_source/artoo/src/button.h's Button::Event.
type Event uint8

const (
	Press Event = iota
	Release
	ClickRelease
	ShortHold
	Hold
	LongHold
	DoubleClick
	HoldRelease
	LongHoldRelease
	numEvents
)

// Timing thresholds (original_source/artoo/src/button.h), in
// milliseconds.
const (
	ClickMillis          = 500
	ShortHoldMillis      = 500
	HoldMillis           = 1700
	LongHoldMillis       = 2700
	DoubleClickGapMillis = 250
)

// state is one button's edge/hold tracking. The zero value is a
// released button that has never been pressed.
type state struct {
	pressed      bool
	everPressed  bool
	pressTime    tick.Count
	releaseTime  tick.Count
	shortHoldRep bool
	holdRep      bool
	longHoldRep  bool
	suppressHold bool
}

// press handles the rising edge and returns the events it synthesizes.
func (s *state) press(now tick.Count) []Event {
	evts := []Event{Press}
	if s.everPressed && now.Since(s.releaseTime) < tick.Ms(DoubleClickGapMillis) {
		evts = append(evts, DoubleClick)
	}
	s.pressed = true
	s.pressTime = now
	s.shortHoldRep = false
	s.holdRep = false
	s.longHoldRep = false
	s.suppressHold = false
	return evts
}

// release handles the falling edge. Exactly one of ClickRelease,
// HoldRelease or LongHoldRelease accompanies Release, derived from the
// press duration against the same thresholds pollHold uses.
func (s *state) release(now tick.Count) []Event {
	d := now.Since(s.pressTime)
	s.pressed = false
	s.everPressed = true
	s.releaseTime = now
	switch {
	case d < tick.Ms(ClickMillis):
		return []Event{Release, ClickRelease}
	case d < tick.Ms(LongHoldMillis):
		return []Event{Release, HoldRelease}
	default:
		return []Event{Release, LongHoldRelease}
	}
}

// pollHold is the periodic hold check (the ButtonHold task), run once
// per currently-pressed button. Each of ShortHold/Hold/LongHold fires
// at most once per press unless suppressHold has been set.
func (s *state) pollHold(now tick.Count) []Event {
	if !s.pressed || s.suppressHold {
		return nil
	}
	d := now.Since(s.pressTime)
	var evts []Event
	if !s.shortHoldRep && d > tick.Ms(ShortHoldMillis) {
		s.shortHoldRep = true
		evts = append(evts, ShortHold)
	}
	if !s.holdRep && d > tick.Ms(HoldMillis) {
		s.holdRep = true
		evts = append(evts, Hold)
	}
	if !s.longHoldRep && d > tick.Ms(LongHoldMillis) {
		s.longHoldRep = true
		evts = append(evts, LongHold)
	}
	return evts
}

// outboundCapacity bounds the host-link ButtonEvent producer queue.
const outboundCapacity = 16

// Subscriber handles one button event in the dispatch chain.
// Returning true ("consumed") stops the chain for this event; later
// subscribers registered for the same event are skipped.
type Subscriber func(id ID, evt Event, pressMask uint16) (consumed bool)

// Record is the outbound host-link payload for one button event
// (§6.2 tag 13, ButtonEvent).
type Record struct {
	ButtonID  ID
	EventID   Event
	PressMask uint16
}

// ManualOverride reports whether factory/test manual override (§4.15)
// has been engaged; while engaged, outbound button events are
// withheld from the host so the vehicle can't interpret them as mode
// changes.
type ManualOverride interface {
	Engaged() bool
}

// Manager owns all nine button state machines, the fixed
// event-routing table, and the outbound ButtonEvent queue drained by
// the host-link producer chain. The zero value is not usable;
// construct with NewManager.
type Manager struct {
	buttons   [NumButtons]state
	pressMask uint16
	table     [numEvents][]Subscriber
	override  ManualOverride
	outbound  *ring.Records[Record]
}

// NewManager constructs a Manager. override may be nil if manual
// override policy is not wired (e.g. in tests).
func NewManager(override ManualOverride) *Manager {
	return &Manager{
		override: override,
		outbound: ring.NewRecords[Record](outboundCapacity),
	}
}

// Subscribe appends s to the fixed routing table for evt, in
// registration order.
func (m *Manager) Subscribe(evt Event, s Subscriber) {
	m.table[evt] = append(m.table[evt], s)
}

// SuppressHold inhibits further ShortHold/Hold/LongHold emissions for
// id's current press. Used by a subscriber (e.g. the pairing gesture)
// that wants exclusive use of an ongoing hold.
func (m *Manager) SuppressHold(id ID) {
	m.buttons[id].suppressHold = true
}

// Pressed returns the live 16-bit bitmap of currently pressed buttons.
func (m *Manager) Pressed() uint16 { return m.pressMask }

// AnyPressed reports whether the ButtonHold task should keep
// rescheduling itself.
func (m *Manager) AnyPressed() bool { return m.pressMask != 0 }

// Outbound returns the ring of pending ButtonEvent records for the
// host-link producer chain to drain.
func (m *Manager) Outbound() *ring.Records[Record] { return m.outbound }

// ReleasedAt returns the tick at which id was last released. Zero if
// it has never been pressed.
func (m *Manager) ReleasedAt(id ID) tick.Count { return m.buttons[id].releaseTime }

// IsPressed reports whether id is currently pressed.
func (m *Manager) IsPressed(id ID) bool { return m.buttons[id].pressed }

// Press handles button id's rising-edge interrupt.
func (m *Manager) Press(id ID, now tick.Count) {
	m.pressMask |= 1 << uint(id)
	for _, e := range m.buttons[id].press(now) {
		m.dispatch(id, e)
	}
}

// Release handles button id's falling-edge interrupt.
func (m *Manager) Release(id ID, now tick.Count) {
	m.pressMask &^= 1 << uint(id)
	for _, e := range m.buttons[id].release(now) {
		m.dispatch(id, e)
	}
}

// PollHolds runs the hold-poll over every currently pressed button.
func (m *Manager) PollHolds(now tick.Count) {
	for id := ID(0); id < NumButtons; id++ {
		for _, e := range m.buttons[id].pollHold(now) {
			m.dispatch(id, e)
		}
	}
}

func (m *Manager) dispatch(id ID, evt Event) {
	for _, sub := range m.table[evt] {
		if sub(id, evt, m.pressMask) {
			break
		}
	}
	m.forward(id, evt)
}

// forward is the outbound-record subscriber (§4.7), always last in
// the chain and never itself consuming. Release, DoubleClick, Hold
// and ShortHold aren't used by the companion and are not forwarded;
// everything else is, unless manual override is engaged, in which
// case no button event reaches the host at all.
func (m *Manager) forward(id ID, evt Event) {
	if m.override != nil && m.override.Engaged() {
		return
	}
	switch evt {
	case Release, DoubleClick, Hold, ShortHold:
		return
	}
	rec := Record{ButtonID: id, EventID: evt, PressMask: m.pressMask}
	if !m.outbound.Enqueue(rec) {
		log.Printf("button: outbound event dropped")
	}
}
