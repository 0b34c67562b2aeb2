// package power implements the system power manager (component N):
// the cold-boot battery-check sub-flow, the Boot/Running/Idle state
// machine, and vetoed shutdown sequencing.
//
// Grounded on original_source/artoo/src/powermanager.{h,cpp}.
package power

import (
	"seedhammer.com/button"
	"seedhammer.com/tick"
	"seedhammer.com/ui"
)

// SysState is the power manager's top-level state.
type SysState uint8

const (
	Boot SysState = iota
	Running
	Idle
)

const (
	batteryCheckMillis      = 4000
	shutdownDischargeMillis = 2500
	hostBootTimeoutSeconds  = 40
)

// BootOutcome is the decision DecideBootOutcome makes once, from the
// reset cause and battery/charger state sampled at boot.
type BootOutcome uint8

const (
	// SkipToRunning: a bootloader reset means we should not show any
	// boot UI at all.
	SkipToRunning BootOutcome = iota
	// ShutdownTooLow: no charger, and the battery is at or below the
	// critically-low threshold; show the message and power off.
	ShutdownTooLow
	// ShutdownUndervoltage: the voltage detector itself tripped with
	// no charger present; power off without a battery-check flow.
	ShutdownUndervoltage
	// ShowCharger: charger is present and this wasn't a self-requested
	// (software) reset; show "charger connected" while waiting.
	ShowCharger
	// ShowBatteryCheck: the common case — show the battery level while
	// waiting for the user to commit to boot.
	ShowBatteryCheck
)

// ResetCause reports why the MCU is executing from reset, sampled
// once at boot.
type ResetCause interface {
	// PinReset reports a hardware NRST reset (e.g. a debugger/bootloader
	// attach) — always skips the battery-check flow.
	PinReset() bool
	// WakeKeyValid reports a software reset keyed by a backup-register
	// magic value, meaning we deliberately reset ourselves to wake from
	// Idle and should skip straight to Running.
	WakeKeyValid() bool
}

// BatteryStatus is the subset of the battery manager this package
// reads to make boot and shutdown decisions.
type BatteryStatus interface {
	ChargerPresent() bool
	CriticallyLow() bool
	UndervoltageNoCharger() bool
}

// HostLink is the subset of the host link this package needs: whether
// the companion system has made contact, and a way to mark it as
// disconnected once we've asked it to go away.
type HostLink interface {
	Connected() bool
	OnHostDisconnected()
}

// Updater reports whether a firmware update is in progress, which
// vetoes shutdown.
type Updater interface {
	Updating() bool
}

// Rail is one GPIO-controlled power rail: the companion host's supply
// (original PWR_IMX6_GPIO), or the board's own keep-alive line
// (PWR_KEEP_ON_GPIO).
type Rail interface {
	Enable()
	Disable()
}

// Haptics is the subset of the haptic player this package drives.
type Haptics interface {
	StartShort()
}

// Session owns the power state machine. The zero value is not usable;
// construct with NewSession.
type Session struct {
	state SysState

	hostRail    Rail
	hostEnabled bool
	boardRail   Rail
	battery     BatteryStatus
	host        HostLink
	updater     Updater
	events      *ui.Queue
	haptics     Haptics

	buttons *button.Manager

	bootOutcome         BootOutcome
	bootDeadline        tick.Count
	waitingToBoot       bool
	bootCommitRequested bool

	runningSince tick.Count
	haveRunning  bool

	resetRequested   bool
	pendingShutdown  bool
	notifyDisconnect bool
}

// NewSession constructs a Session in Boot state. All dependencies
// except haptics must be non-nil.
func NewSession(hostRail, boardRail Rail, battery BatteryStatus, host HostLink, updater Updater, events *ui.Queue, haptics Haptics) *Session {
	return &Session{
		state:     Boot,
		hostRail:  hostRail,
		boardRail: boardRail,
		battery:   battery,
		host:      host,
		updater:   updater,
		events:    events,
		haptics:   haptics,
	}
}

// State returns the current top-level state.
func (s *Session) State() SysState { return s.state }

// DecideBootOutcome computes the boot decision from the reset cause
// and current battery/charger state, per waitForCompleteStartup's
// branching. The NRST and wake-key fast paths both resolve to
// SkipToRunning, matching the original's two independent early
// returns.
func DecideBootOutcome(cause ResetCause, batt BatteryStatus) BootOutcome {
	if cause.PinReset() || cause.WakeKeyValid() {
		return SkipToRunning
	}
	if batt.ChargerPresent() {
		return ShowCharger
	}
	if batt.UndervoltageNoCharger() {
		return ShutdownUndervoltage
	}
	if batt.CriticallyLow() {
		return ShutdownTooLow
	}
	return ShowBatteryCheck
}

// StartBoot begins the boot sub-flow with the given outcome. now is
// the current tick count.
func (s *Session) StartBoot(outcome BootOutcome, now tick.Count) {
	s.bootOutcome = outcome
	if outcome == SkipToRunning {
		s.EnterRunning(now)
		return
	}
	s.bootDeadline = now + tick.Ms(batteryCheckMillis)
	s.waitingToBoot = true
}

// Tick advances the boot-wait sub-flow. It must be called every
// heartbeat while WaitingToBoot is true; it's a no-op otherwise.
func (s *Session) Tick(now tick.Count) {
	if !s.waitingToBoot {
		return
	}

	if s.host.Connected() {
		s.waitingToBoot = false
		s.EnterRunning(now)
		return
	}

	if s.bootCommitRequested {
		s.bootCommitRequested = false
		s.waitingToBoot = false
		if s.buttons != nil {
			// This hold shouldn't also be seen as a later hold gesture
			// once Running.
			s.buttons.SuppressHold(button.Power)
		}
		s.EnterRunning(now)
		if s.haptics != nil {
			s.haptics.StartShort()
		}
		return
	}

	if now.Before(s.bootDeadline) {
		return
	}

	switch s.bootOutcome {
	case ShutdownTooLow, ShutdownUndervoltage, ShowCharger, ShowBatteryCheck:
		s.waitingToBoot = false
		s.RequestShutdown()
	}
}

// WaitingToBoot reports whether the boot-wait sub-flow is still in
// progress (battery-check or charger-connected screen showing).
func (s *Session) WaitingToBoot() bool { return s.waitingToBoot }

// BootOutcome returns the decision StartBoot was called with, for the
// UI to pick which boot screen to draw.
func (s *Session) BootOutcomeVal() BootOutcome { return s.bootOutcome }

// EnterRunning asserts the companion power rail and transitions to
// Running.
func (s *Session) EnterRunning(now tick.Count) {
	s.hostRail.Enable()
	s.hostEnabled = true
	s.state = Running
	s.runningSince, s.haveRunning = now, true
	s.events.Pend(ui.SystemEnteredRunningState)
}

// WireButtons subscribes the power button: LongHold while waiting to
// boot stages an early commit to Running, resolved on the next Tick
// (the workaround for a power-rail brownout during the companion's
// boot RC delay — using the longer hold tier, not the shorter one,
// makes an accidental early commit less likely); Press while Idle
// requests a full system reset. RCDischarged reads press/release
// state directly off m, so no separate Release subscription is
// needed here.
func (s *Session) WireButtons(m *button.Manager) {
	s.buttons = m
	m.Subscribe(button.Press, s.onPress)
	m.Subscribe(button.LongHold, s.onLongHold)
}

func (s *Session) onPress(id button.ID, evt button.Event, mask uint16) bool {
	if id != button.Power {
		return false
	}
	if s.state == Idle {
		s.resetRequested = true
	}
	return false
}

func (s *Session) onLongHold(id button.ID, evt button.Event, mask uint16) bool {
	if id != button.Power || !s.waitingToBoot {
		return false
	}
	s.bootCommitRequested = true
	return false
}

// ResetRequested reports whether a full system reset was requested
// (power button pressed while Idle) and clears the flag. The caller
// performs the actual reset.
func (s *Session) ResetRequested() bool {
	r := s.resetRequested
	s.resetRequested = false
	return r
}

// CanShutDown reports whether shutdown may proceed now: declined
// while a firmware update is running, or while the host rail is
// enabled and the companion hasn't yet made contact within a generous
// boot timeout.
func (s *Session) CanShutDown(now tick.Count) bool {
	if s.updater != nil && s.updater.Updating() {
		return false
	}
	if !s.hostEnabled {
		return true
	}
	if s.haveRunning && now.Since(s.runningSince) > tick.S(hostBootTimeoutSeconds) {
		return true
	}
	return s.host.Connected()
}

// RequestShutdown implements battery.ShutdownRequester: it schedules
// the shutdown sequence, subject to CanShutDown's veto when Shutdown
// is actually run. Safe to call repeatedly.
func (s *Session) RequestShutdown() {
	s.pendingShutdown = true
}

// PendingShutdown reports whether a shutdown has been requested and
// not yet processed, for the caller to decide when to invoke Shutdown
// (normally from the dispatcher's Shutdown task).
func (s *Session) PendingShutdown() bool { return s.pendingShutdown }

// Shutdown runs the vetoed shutdown sequence: notify the companion,
// mark it disconnected until it speaks again, and either go straight
// to Idle (no UI shown) or wait for the UI to report the shutdown
// sequence complete.
func (s *Session) Shutdown(now tick.Count) {
	s.pendingShutdown = false
	if !s.CanShutDown(now) {
		return
	}

	s.notifyDisconnect = true
	s.host.OnHostDisconnected()

	if s.state == Running {
		s.events.Pend(ui.SystemShutdown)
	} else {
		s.OnShutdownSequenceComplete()
	}
}

// Produce reports whether a shutdown-notify frame is due for the
// companion, matching the link producer shape minus the payload: the
// ShutdownRequest tag carries no data, so the caller only needs to
// know whether to emit it.
func (s *Session) Produce() bool {
	if !s.notifyDisconnect {
		return false
	}
	s.notifyDisconnect = false
	return true
}

// OnShutdownSequenceComplete is called once any user-facing shutdown
// UI has run its course (or immediately, if none was shown). If a
// charger is present, the caller should keep battery sampling and
// charge management running rather than fully powering off; otherwise
// it should wait for RCDischarged before releasing the board's own
// keep-on rail.
func (s *Session) OnShutdownSequenceComplete() {
	s.state = Idle
	s.hostEnabled = false
	s.hostRail.Disable()
}

// ReleaseBoardRail releases the board's own keep-on rail. The caller
// must only call this once RCDischarged reports true and no charger
// is present.
func (s *Session) ReleaseBoardRail() {
	s.boardRail.Disable()
}

// RCDischarged reports whether the power button's RC debounce filter
// has had long enough to discharge since release: the button isn't
// currently pressed, and at least shutdownDischargeMillis has passed
// since it last was released.
func (s *Session) RCDischarged(now tick.Count) bool {
	if s.buttons == nil || s.buttons.IsPressed(button.Power) {
		return false
	}
	return now.Since(s.buttons.ReleasedAt(button.Power)) > tick.Ms(shutdownDischargeMillis)
}

// OnExtendedShutdown handles the case where the system is still alive
// significantly past when it expected to shut down, e.g. the charger
// was plugged in mid-shutdown after the keep-on rail was already
// released by hardware latch. It reports whether a full reset should
// be forced: only when there's still no charger present, since a
// charger justifies staying alive to manage charging.
func (s *Session) OnExtendedShutdown() bool {
	return !s.battery.ChargerPresent()
}
