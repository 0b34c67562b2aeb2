package flight

import (
	"encoding/binary"
	"math"
	"testing"

	"seedhammer.com/button"
	"seedhammer.com/tick"
	"seedhammer.com/ui"
)

func newTestSession() (*Session, *ui.Queue) {
	events := ui.New()
	return NewSession(events, nil), events
}

func heartbeatPayload(customMode uint32, baseMode, sysStatus byte) []byte {
	p := make([]byte, 9)
	binary.LittleEndian.PutUint32(p[0:], customMode)
	p[6] = baseMode
	p[7] = sysStatus
	return p
}

func hasEvent(evts []ui.Event, want ui.Event) bool {
	for _, e := range evts {
		if e == want {
			return true
		}
	}
	return false
}

func TestLinkConnectsOnlyOnHeartbeat(t *testing.T) {
	s, events := newTestSession()
	if s.LinkConnected() {
		t.Fatal("session should start disconnected")
	}

	// A non-heartbeat message must not connect the link.
	s.OnMavlink(encodeFrame(1, 1, 1, msgVfrHud, make([]byte, 18)))
	if s.LinkConnected() {
		t.Fatal("non-heartbeat message connected the link")
	}

	s.OnMavlink(encodeFrame(1, 1, 1, msgHeartbeat, heartbeatPayload(uint32(Stabilize), 0, mavStateStandby)))
	if !s.LinkConnected() {
		t.Fatal("heartbeat did not connect the link")
	}
	evts := events.Drain()
	if !hasEvent(evts, ui.VehicleConnectionChanged) {
		t.Fatal("expected VehicleConnectionChanged on connect")
	}
}

func TestLinkDisconnectsAfterTimeout(t *testing.T) {
	s, events := newTestSession()
	s.OnMavlink(encodeFrame(1, 1, 1, msgHeartbeat, heartbeatPayload(uint32(Stabilize), 0, mavStateStandby)))
	events.Drain()

	for i := 0; i < linkConnDuration-1; i++ {
		s.SysHeartbeat()
	}
	if !s.LinkConnected() {
		t.Fatal("link disconnected too early")
	}
	s.SysHeartbeat()
	if s.LinkConnected() {
		t.Fatal("link should have disconnected after timeout")
	}
	evts := events.Drain()
	if !hasEvent(evts, ui.VehicleConnectionChanged) {
		t.Fatal("expected VehicleConnectionChanged on disconnect")
	}
}

func TestArmStateAndBatteryPhases(t *testing.T) {
	s, events := newTestSession()
	s.OnMavlink(encodeFrame(1, 1, 1, msgHeartbeat, heartbeatPayload(uint32(Stabilize), 0, mavStateStandby)))
	events.Drain()

	sendBattery := func(level int8) []ui.Event {
		p := make([]byte, 25)
		p[24] = byte(level)
		s.OnMavlink(encodeFrame(2, 1, 1, msgSysStatus, p))
		return events.Drain()
	}

	if got := s.Telem().BatteryLevel; got != levelNotSet {
		t.Fatalf("expected unset battery, got %d", got)
	}

	evts := sendBattery(90)
	if s.currentBatteryPhase != BatteryNormal {
		t.Fatalf("expected Normal phase at 90%%, got %v", s.currentBatteryPhase)
	}
	if !hasEvent(evts, ui.FlightBatteryChanged) {
		t.Fatal("expected FlightBatteryChanged")
	}

	evts = sendBattery(20)
	if s.currentBatteryPhase != BatteryLow {
		t.Fatalf("expected Low phase at 20%%, got %v", s.currentBatteryPhase)
	}
	if !hasEvent(evts, ui.FlightBatteryLow) {
		t.Fatal("expected FlightBatteryLow")
	}

	evts = sendBattery(12)
	if s.currentBatteryPhase != BatteryCritical {
		t.Fatalf("expected Critical phase at 12%%, got %v", s.currentBatteryPhase)
	}
	if !hasEvent(evts, ui.FlightBatteryCritical) {
		t.Fatal("expected FlightBatteryCritical")
	}

	evts = sendBattery(5)
	if s.currentBatteryPhase != BatteryFailsafe {
		t.Fatalf("expected Failsafe phase at 5%%, got %v", s.currentBatteryPhase)
	}
	if !hasEvent(evts, ui.FlightBatteryFailsafe) {
		t.Fatal("expected FlightBatteryFailsafe")
	}

	// Hysteresis: climbing back just above the Critical dismiss band
	// should not yet clear Failsafe.
	evts = sendBattery(16)
	if s.currentBatteryPhase != BatteryFailsafe {
		t.Fatalf("phase should stay Failsafe inside its band, got %v", s.currentBatteryPhase)
	}

	evts = sendBattery(95)
	if s.currentBatteryPhase != BatteryNormal {
		t.Fatalf("expected recovery to Normal, got %v", s.currentBatteryPhase)
	}
	if !hasEvent(evts, ui.AlertRecovery) {
		t.Fatal("expected AlertRecovery on return to Normal")
	}
}

func TestTakeoffStateMachine(t *testing.T) {
	s, _ := newTestSession()
	s.OnMavlink(encodeFrame(1, 1, 1, msgHeartbeat, heartbeatPayload(uint32(Loiter), mavModeFlagSafetyArmed, mavStateStandby)))
	// Arming staged a GetHomeWaypoint command; let the producer chain
	// pick it up (Pending -> Sent) before issuing a new one.
	s.Produce()

	s.BeginTakeoff()
	if s.takeoffState != TakeoffSentTakeoffCmd {
		t.Fatalf("expected SentTakeoffCmd, got %v", s.takeoffState)
	}
	if s.command.ID != CmdTakeoff || s.command.State != CmdPending {
		t.Fatalf("expected pending Takeoff command, got %+v", s.command)
	}

	buf, ok := s.Produce()
	if !ok || len(buf) == 0 {
		t.Fatal("expected encoded takeoff command")
	}
	if s.command.State != CmdSent {
		t.Fatalf("expected Sent after Produce, got %v", s.command.State)
	}

	ack := make([]byte, 3)
	binary.LittleEndian.PutUint16(ack[0:], mavCmdNavTakeoff)
	ack[2] = mavResultAccepted
	s.OnMavlink(encodeFrame(2, 1, 1, msgCommandAck, ack))
	if s.takeoffState != TakeoffAscending {
		t.Fatalf("expected Ascending after accepted ack, got %v", s.takeoffState)
	}
	if s.command.State != CmdComplete {
		t.Fatalf("expected command Complete after matching ack, got %v", s.command.State)
	}

	hud := make([]byte, 18)
	binary.LittleEndian.PutUint32(hud[8:], math.Float32bits(float32(takeoffAltitudeMeters)))
	s.OnMavlink(encodeFrame(3, 1, 1, msgVfrHud, hud))
	if s.takeoffState != TakeoffComplete {
		t.Fatalf("expected Complete once altitude threshold crossed, got %v", s.takeoffState)
	}
}

func TestTakeoffRequestsLoiterFirst(t *testing.T) {
	s, _ := newTestSession()
	s.mode = Stabilize
	s.armState = Armed

	s.BeginTakeoff()
	if s.takeoffState != TakeoffSetMode {
		t.Fatalf("expected SetMode, got %v", s.takeoffState)
	}
	if s.command.ID != CmdSetFlightMode {
		t.Fatalf("expected a SetFlightMode command, got %v", s.command.ID)
	}

	s.systemStatus = mavStateStandby
	ack := make([]byte, 3)
	binary.LittleEndian.PutUint16(ack[0:], msgSetMode)
	ack[2] = mavResultAccepted
	s.command.State = CmdSent
	s.OnMavlink(encodeFrame(1, 1, 1, msgCommandAck, ack))
	if s.takeoffState != TakeoffSentTakeoffCmd {
		t.Fatalf("expected SentTakeoffCmd after mode-change ack, got %v", s.takeoffState)
	}
	if s.command.ID != CmdTakeoff {
		t.Fatalf("expected Takeoff to be queued, got %v", s.command.ID)
	}
}

func TestEkfCommitsOnlyOnHeartbeat(t *testing.T) {
	s, _ := newTestSession()
	ekf := make([]byte, 22)
	binary.LittleEndian.PutUint16(ekf[20:], ekfPosHorizAbs)
	s.OnMavlink(encodeFrame(1, 1, 1, msgEkfStatusReport, ekf))
	if s.telemetry.EKFFlags != ekfUninit {
		t.Fatalf("EKF flags should not commit before a heartbeat, got %#x", s.telemetry.EKFFlags)
	}
	s.OnMavlink(encodeFrame(2, 1, 1, msgHeartbeat, heartbeatPayload(uint32(Stabilize), 0, mavStateStandby)))
	if s.telemetry.EKFFlags != ekfPosHorizAbs {
		t.Fatalf("EKF flags should commit on heartbeat, got %#x", s.telemetry.EKFFlags)
	}
}

func TestIsEkfGpsOkDependsOnArmState(t *testing.T) {
	s, _ := newTestSession()
	flags := uint16(ekfPosHorizAbs | ekfConstPosMode)

	s.armState = Disarmed
	if !s.isEkfGpsOk(flags) {
		t.Fatal("disarmed: pos-horiz-abs alone should be OK")
	}

	s.armState = Armed
	if s.isEkfGpsOk(flags) {
		t.Fatal("armed: const-pos-mode set should disqualify GPS-ok")
	}
	if !s.isEkfGpsOk(ekfPosHorizAbs) {
		t.Fatal("armed: pos-horiz-abs without const-pos-mode should be OK")
	}
	if s.isEkfGpsOk(uint16(ekfPosHorizAbs | ekfGPSGlitching)) {
		t.Fatal("glitching must always disqualify")
	}
}

func TestForceDisarmRequiresAllThreeButtonsHeld(t *testing.T) {
	s, _ := newTestSession()
	m := button.NewManager(nil)
	s.WireButtons(m)
	s.armState = Armed
	s.linkConnCounter = 0 // connected

	start := tick.Count(0)
	m.Press(button.A, start)
	m.Press(button.B, start)
	held := start + tick.Ms(button.HoldMillis) + 1

	// Only A and B held past the Hold threshold: RTL isn't down yet,
	// so the combo must not fire.
	m.PollHolds(held)
	if s.command.State == CmdPending && s.command.Arm == DisarmForce {
		t.Fatal("should not force-disarm with only A and B held")
	}

	// RTL joins afterward: A and B already latched their one-shot Hold
	// and won't refire, and RTL's own Hold has no force-disarm check
	// (only A/B/Pause do), so the combo genuinely needs all three held
	// from roughly the same moment, matching the gesture's natural
	// use (press all three together).
	m.Release(button.A, held)
	m.Release(button.B, held)
	start2 := held + 10
	m.Press(button.A, start2)
	m.Press(button.B, start2)
	m.Press(button.RTL, start2)
	held2 := start2 + tick.Ms(button.HoldMillis) + 1
	m.PollHolds(held2)
	if s.command.ID != CmdSetArmState || s.command.Arm != DisarmForce || s.command.State != CmdPending {
		t.Fatalf("expected pending force-disarm command once A, B and RTL are all held together, got %+v", s.command)
	}
}

func TestForceDisarmTriggersFromPauseHoldToo(t *testing.T) {
	s, _ := newTestSession()
	m := button.NewManager(nil)
	s.WireButtons(m)
	s.armState = Armed
	s.linkConnCounter = 0

	start := tick.Count(0)
	m.Press(button.A, start)
	m.Press(button.B, start)
	m.Press(button.RTL, start)
	m.Press(button.Pause, start)
	held := start + tick.Ms(button.HoldMillis) + 1
	m.PollHolds(held)

	if s.command.ID != CmdSetArmState || s.command.Arm != DisarmForce {
		t.Fatalf("expected force-disarm triggered via Pause hold, got %+v", s.command)
	}
}

func TestRssiBars(t *testing.T) {
	cases := []struct {
		rssi int8
		bars int
	}{
		{-90, 0}, {-76, 0}, {-75, 1}, {-71, 1}, {-70, 2}, {-66, 2},
		{-65, 3}, {-61, 3}, {-60, 4}, {-51, 4}, {-50, 5}, {0, 5},
	}
	for _, c := range cases {
		if got := rssiBars(c.rssi); got != c.bars {
			t.Errorf("rssiBars(%d) = %d, want %d", c.rssi, got, c.bars)
		}
	}
}

func TestProcessStatusTextDictionary(t *testing.T) {
	s, events := newTestSession()
	s.processStatusText("PreArm: Compass not calibrated")
	evts := events.Drain()
	if !hasEvent(evts, ui.CompassCalRequired) {
		t.Fatal("expected CompassCalRequired")
	}
	if !s.preArmAlertActive {
		t.Fatal("expected preArmAlertActive to be set")
	}

	s.processStatusText("PreArm: something totally unrecognized")
	evts = events.Drain()
	if !hasEvent(evts, ui.AlertRecovery) {
		t.Fatal("expected unrecognized PreArm text to dismiss the active alert")
	}
	if s.preArmAlertActive {
		t.Fatal("expected preArmAlertActive cleared")
	}
}

func TestCommandSetPanicsWhilePending(t *testing.T) {
	s, _ := newTestSession()
	s.setCommand(CmdGetHomeWaypoint)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when staging a command while one is pending")
		}
	}()
	s.setCommand(CmdTakeoff)
}
