// package policy implements the idle-timeout (component Q, §4.14) and
// manual-override (component Q, §4.15) cross-cutting gestures.
//
// Grounded on original_source/artoo/src/ — these two behaviors aren't
// factored into their own file there (they live inline in the main
// loop and powermanager.cpp's button handling); this package gives
// them the same narrow-interface-over-a-Session shape the rest of
// this module uses.
package policy

import (
	"seedhammer.com/button"
	"seedhammer.com/flight"
	"seedhammer.com/tick"
	"seedhammer.com/ui"
)

const (
	idleWarningMinutes = 10
	idleWarningSeconds = idleWarningMinutes * 60
	idleShutdownExtraSeconds = 7
)

// disableGesture is the idle-timeout disable combo: A + Pause +
// CameraClick all held long.
var disableGesture = [...]button.ID{button.A, button.Pause, button.CameraClick}

// overrideGesture is the manual-override engagement combo: A + B +
// Fly + RTL + Pause all held long simultaneously.
var overrideGesture = [...]button.ID{button.A, button.B, button.Fly, button.RTL, button.Pause}

// Updater reports whether a firmware update is running, which
// disables idle counting (the same role as power.Updater).
type Updater interface {
	Updating() bool
}

// FlightLink is the subset of the flight session this package reads
// (and, for the override gesture, drives).
type FlightLink interface {
	LinkConnected() bool
	RequestFlightModeChange(flight.FlightMode)
}

// Session tracks the idle-timeout counter and the latched
// manual-override flag. The zero value is not usable; construct with
// NewSession.
type Session struct {
	updater Updater
	link    FlightLink
	events  *ui.Queue

	idleStart    tick.Count
	haveIdle     bool
	warned       bool
	shutdown     bool
	disableHeld  bool

	overridden bool
}

// NewSession constructs a Session with the idle counter running from
// now.
func NewSession(updater Updater, link FlightLink, events *ui.Queue, now tick.Count) *Session {
	return &Session{
		updater:   updater,
		link:      link,
		events:    events,
		idleStart: now,
		haveIdle:  true,
	}
}

// WireButtons subscribes every button's Press (to reset the idle
// counter) and LongHold (to check both combo gestures).
func (s *Session) WireButtons(m *button.Manager) {
	m.Subscribe(button.Press, s.onPress)
	m.Subscribe(button.LongHold, s.onLongHold)
}

func (s *Session) onPress(id button.ID, evt button.Event, mask uint16) bool {
	s.resetIdle(mask)
	return false
}

func (s *Session) onLongHold(id button.ID, evt button.Event, mask uint16) bool {
	s.checkDisableGesture(mask)
	s.checkOverrideGesture(mask)
	return false
}

func heldAll(mask uint16, ids []button.ID) bool {
	for _, id := range ids {
		if mask&(1<<uint(id)) == 0 {
			return false
		}
	}
	return true
}

func (s *Session) checkDisableGesture(mask uint16) {
	s.disableHeld = heldAll(mask, disableGesture[:])
}

func (s *Session) checkOverrideGesture(mask uint16) {
	if s.overridden {
		return
	}
	if heldAll(mask, overrideGesture[:]) {
		s.overridden = true
	}
}

// resetIdle restarts the idle counter. It's suppressed while the
// disable gesture is held, so the held-down combo itself doesn't keep
// resetting the very counter it's trying to disable.
func (s *Session) resetIdle(mask uint16) {
	if heldAll(mask, disableGesture[:]) {
		return
	}
	s.haveIdle = false
	s.warned = false
	s.shutdown = false
}

// countingDisabled reports the conditions that suspend idle counting
// entirely: an update in progress, the flight link connected, or the
// disable gesture currently held.
func (s *Session) countingDisabled() bool {
	if s.updater != nil && s.updater.Updating() {
		return true
	}
	if s.link != nil && s.link.LinkConnected() {
		return true
	}
	return s.disableHeld
}

// Tick advances the idle counter and raises SystemIdleWarning and
// Shutdown once their thresholds are crossed. Must be called every
// heartbeat.
func (s *Session) Tick(now tick.Count) {
	if s.countingDisabled() {
		s.haveIdle = false
		return
	}
	if !s.haveIdle {
		s.idleStart = now
		s.haveIdle = true
	}

	elapsed := now.Since(s.idleStart)
	if !s.warned && elapsed >= tick.S(idleWarningSeconds) {
		s.warned = true
		s.events.Pend(ui.SystemIdleWarning)
	}
	if !s.shutdown && elapsed >= tick.S(idleWarningSeconds+idleShutdownExtraSeconds) {
		s.shutdown = true
		s.events.Pend(ui.SystemShutdown)
	}
}

// Overridden reports whether the manual-override gesture has been
// engaged. Once true it never reverts (latched until reboot),
// satisfying button.ManualOverride for the button dispatcher to
// withhold outbound events.
func (s *Session) Overridden() bool { return s.overridden }

// Engaged implements button.ManualOverride.
func (s *Session) Engaged() bool { return s.Overridden() }

// OnAButtonClick drives AltHold locally while overridden, letting the
// handset operate without a paired mobile app.
func (s *Session) OnAButtonClick() {
	if !s.overridden || s.link == nil {
		return
	}
	s.link.RequestFlightModeChange(flight.AltHold)
}

// WireAButton subscribes the A button's ClickRelease to drive AltHold
// while overridden.
func (s *Session) WireAButton(m *button.Manager) {
	m.Subscribe(button.ClickRelease, s.onAClick)
}

func (s *Session) onAClick(id button.ID, evt button.Event, mask uint16) bool {
	if id != button.A {
		return false
	}
	s.OnAButtonClick()
	return false
}
