package power

import (
	"testing"

	"seedhammer.com/button"
	"seedhammer.com/tick"
	"seedhammer.com/ui"
)

type fakeRail struct{ enabled bool }

func (r *fakeRail) Enable()  { r.enabled = true }
func (r *fakeRail) Disable() { r.enabled = false }

type fakeBattery struct {
	charger     bool
	critLow     bool
	undervoltNC bool
}

func (b *fakeBattery) ChargerPresent() bool        { return b.charger }
func (b *fakeBattery) CriticallyLow() bool         { return b.critLow }
func (b *fakeBattery) UndervoltageNoCharger() bool { return b.undervoltNC }

type fakeHost struct {
	connected     bool
	disconnectedN int
}

func (h *fakeHost) Connected() bool      { return h.connected }
func (h *fakeHost) OnHostDisconnected()  { h.disconnectedN++ }

type fakeUpdater struct{ updating bool }

func (u *fakeUpdater) Updating() bool { return u.updating }

type fakeResetCause struct {
	pinReset bool
	wakeKey  bool
}

func (r fakeResetCause) PinReset() bool     { return r.pinReset }
func (r fakeResetCause) WakeKeyValid() bool { return r.wakeKey }

func newTestSession() (*Session, *fakeRail, *fakeRail, *fakeBattery, *fakeHost, *fakeUpdater) {
	host := &fakeRail{}
	board := &fakeRail{}
	batt := &fakeBattery{}
	link := &fakeHost{}
	upd := &fakeUpdater{}
	events := ui.New()
	s := NewSession(host, board, batt, link, upd, events, nil)
	return s, host, board, batt, link, upd
}

func hasEvent(evts []ui.Event, want ui.Event) bool {
	for _, e := range evts {
		if e == want {
			return true
		}
	}
	return false
}

func TestDecideBootOutcomePinReset(t *testing.T) {
	got := DecideBootOutcome(fakeResetCause{pinReset: true}, &fakeBattery{})
	if got != SkipToRunning {
		t.Fatalf("got %v, want SkipToRunning", got)
	}
}

func TestDecideBootOutcomeWakeKey(t *testing.T) {
	got := DecideBootOutcome(fakeResetCause{wakeKey: true}, &fakeBattery{critLow: true})
	if got != SkipToRunning {
		t.Fatalf("got %v, want SkipToRunning", got)
	}
}

func TestDecideBootOutcomeCharger(t *testing.T) {
	got := DecideBootOutcome(fakeResetCause{}, &fakeBattery{charger: true})
	if got != ShowCharger {
		t.Fatalf("got %v, want ShowCharger", got)
	}
}

func TestDecideBootOutcomeUndervoltage(t *testing.T) {
	got := DecideBootOutcome(fakeResetCause{}, &fakeBattery{undervoltNC: true})
	if got != ShutdownUndervoltage {
		t.Fatalf("got %v, want ShutdownUndervoltage", got)
	}
}

func TestDecideBootOutcomeCriticallyLow(t *testing.T) {
	got := DecideBootOutcome(fakeResetCause{}, &fakeBattery{critLow: true})
	if got != ShutdownTooLow {
		t.Fatalf("got %v, want ShutdownTooLow", got)
	}
}

func TestDecideBootOutcomeDefaultBatteryCheck(t *testing.T) {
	got := DecideBootOutcome(fakeResetCause{}, &fakeBattery{})
	if got != ShowBatteryCheck {
		t.Fatalf("got %v, want ShowBatteryCheck", got)
	}
}

func TestSkipToRunningEntersImmediately(t *testing.T) {
	s, host, _, _, _, _ := newTestSession()
	s.StartBoot(SkipToRunning, tick.Count(0))
	if s.State() != Running {
		t.Fatalf("expected Running, got %v", s.State())
	}
	if !host.enabled {
		t.Fatal("expected host rail enabled")
	}
}

func TestBatteryCheckShutsDownAfterDeadline(t *testing.T) {
	s, _, _, _, _, _ := newTestSession()
	now := tick.Count(0)
	s.StartBoot(ShowBatteryCheck, now)
	s.Tick(now)
	if s.PendingShutdown() {
		t.Fatal("shouldn't shut down before the deadline")
	}
	now += tick.Ms(batteryCheckMillis) + 1
	s.Tick(now)
	if !s.PendingShutdown() {
		t.Fatal("expected a pending shutdown once the deadline passes")
	}
}

func TestHostConnectingDuringBatteryCheckEntersRunning(t *testing.T) {
	s, _, _, _, host, _ := newTestSession()
	now := tick.Count(0)
	s.StartBoot(ShowBatteryCheck, now)
	host.connected = true
	s.Tick(now + 10)
	if s.State() != Running {
		t.Fatalf("expected Running, got %v", s.State())
	}
}

func TestLongHoldDuringBatteryCheckCommitsToBoot(t *testing.T) {
	s, _, _, _, _, _ := newTestSession()
	m := button.NewManager(nil)
	s.WireButtons(m)

	now := tick.Count(0)
	s.StartBoot(ShowBatteryCheck, now)

	m.Press(button.Power, now)
	held := now + tick.Ms(button.LongHoldMillis) + 1
	m.PollHolds(held)
	if s.State() != Boot {
		t.Fatalf("expected still Boot until the next Tick, got %v", s.State())
	}
	s.Tick(held)
	if s.State() != Running {
		t.Fatalf("expected Running after commit, got %v", s.State())
	}
}

func TestShutdownVetoedDuringUpdate(t *testing.T) {
	s, _, _, _, _, upd := newTestSession()
	now := tick.Count(0)
	s.StartBoot(SkipToRunning, now)
	upd.updating = true
	s.RequestShutdown()
	s.Shutdown(now)
	if s.State() != Running {
		t.Fatalf("expected shutdown vetoed while updating, got %v", s.State())
	}
}

func TestShutdownVetoedUntilHostReportsIn(t *testing.T) {
	s, _, _, _, host, _ := newTestSession()
	now := tick.Count(0)
	s.StartBoot(SkipToRunning, now)
	host.connected = false
	s.RequestShutdown()
	s.Shutdown(now + 10)
	if host.disconnectedN != 0 {
		t.Fatal("expected shutdown vetoed before host reports in")
	}

	s.RequestShutdown()
	s.Shutdown(now + tick.S(hostBootTimeoutSeconds) + 1)
	if host.disconnectedN != 1 {
		t.Fatal("expected shutdown to proceed past the generous boot timeout")
	}
}

func TestShutdownEntersIdleAndNotifiesHost(t *testing.T) {
	s, _, board, _, host, _ := newTestSession()
	now := tick.Count(0)
	s.StartBoot(SkipToRunning, now)
	host.connected = true

	s.RequestShutdown()
	s.Shutdown(now + 10)

	if host.disconnectedN != 1 {
		t.Fatalf("expected OnHostDisconnected called once, got %d", host.disconnectedN)
	}
	if !hasEvent(s.events.Drain(), ui.SystemShutdown) {
		t.Fatal("expected SystemShutdown event while Running")
	}
	// Still running until UI reports the shutdown sequence complete.
	if s.State() != Running {
		t.Fatalf("expected still Running pending UI ack, got %v", s.State())
	}
	s.OnShutdownSequenceComplete()
	if s.State() != Idle {
		t.Fatalf("expected Idle, got %v", s.State())
	}
	if board.enabled {
		t.Fatal("board rail untouched by OnShutdownSequenceComplete")
	}
}

func TestIdlePowerPressRequestsReset(t *testing.T) {
	s, _, _, _, _, _ := newTestSession()
	m := button.NewManager(nil)
	s.WireButtons(m)
	s.state = Idle

	m.Press(button.Power, tick.Count(0))
	if !s.ResetRequested() {
		t.Fatal("expected a reset request from a power press while Idle")
	}
	if s.ResetRequested() {
		t.Fatal("expected ResetRequested to clear after reading")
	}
}

func TestRCDischargedRequiresQuietPeriod(t *testing.T) {
	s, _, _, _, _, _ := newTestSession()
	m := button.NewManager(nil)
	s.WireButtons(m)

	now := tick.Count(0)
	m.Press(button.Power, now)
	if s.RCDischarged(now) {
		t.Fatal("expected not discharged while pressed")
	}
	m.Release(button.Power, now+10)
	if s.RCDischarged(now + 11) {
		t.Fatal("expected not discharged immediately after release")
	}
	if !s.RCDischarged(now + 10 + tick.Ms(shutdownDischargeMillis) + 1) {
		t.Fatal("expected discharged after the quiet period")
	}
}

func TestExtendedShutdownForcesResetWithoutCharger(t *testing.T) {
	s, _, _, batt, _, _ := newTestSession()
	batt.charger = false
	if !s.OnExtendedShutdown() {
		t.Fatal("expected reset forced without a charger")
	}
	batt.charger = true
	if s.OnExtendedShutdown() {
		t.Fatal("expected no forced reset with a charger present")
	}
}
