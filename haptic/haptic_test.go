package haptic

import (
	"testing"

	"seedhammer.com/dispatcher"
	"seedhammer.com/tick"
)

type fakeMotor struct {
	on   bool
	onN  int
	offN int
}

func (m *fakeMotor) On()  { m.on = true; m.onN++ }
func (m *fakeMotor) Off() { m.on = false; m.offN++ }

type fakePower struct{ running bool }

func (p *fakePower) Running() bool { return p.running }

func newTestSession() (*Session, *fakeMotor, *fakePower) {
	motor := &fakeMotor{}
	power := &fakePower{running: true}
	s := NewSession(motor, power, nil, nil)
	return s, motor, power
}

func TestStartPatternTurnsMotorOn(t *testing.T) {
	s, motor, _ := newTestSession()
	s.StartPattern(SingleShort)
	if !motor.on {
		t.Fatal("expected motor on at pattern start")
	}
	if !s.Playing() {
		t.Fatal("expected Playing while the motor is on")
	}
}

func TestStartPatternGatedOnRunning(t *testing.T) {
	s, motor, power := newTestSession()
	power.running = false
	s.StartPattern(SingleShort)
	if motor.on {
		t.Fatal("expected no playback while not Running")
	}
}

func TestSingleShortCompletesAfterDuration(t *testing.T) {
	s, motor, _ := newTestSession()
	now := tick.Count(0)
	s.StartPattern(SingleShort)
	now += tick.Ms(20) + 1
	s.Task(now)
	if motor.on {
		t.Fatal("expected motor off once the single entry elapses")
	}
	if s.Playing() {
		t.Fatal("expected Playing false once exhausted and motor off")
	}
}

func TestUhUhTogglesMotorAcrossEntries(t *testing.T) {
	s, motor, _ := newTestSession()
	now := tick.Count(0)
	s.StartPattern(UhUh) // entry 0: 30ms on
	if !motor.on {
		t.Fatal("expected motor on for the first entry")
	}

	now += tick.Ms(30) + 1
	s.Task(now) // advances to entry 1: 80ms off
	if motor.on {
		t.Fatal("expected motor off for the OffMask entry")
	}

	now += tick.Ms(80) + 1
	s.Task(now) // advances to entry 2: 15ms on
	if !motor.on {
		t.Fatal("expected motor on for the final entry")
	}

	now += tick.Ms(15) + 1
	s.Task(now)
	if motor.on {
		t.Fatal("expected motor off once UhUh completes")
	}
	if s.Playing() {
		t.Fatal("expected Playing false once UhUh completes")
	}
}

func TestTaskReschedulesBeforeDeadline(t *testing.T) {
	s, motor, _ := newTestSession()
	now := tick.Count(0)
	s.StartPattern(LightDouble)
	now += 5 // well before the first 50ms entry elapses
	s.Task(now)
	if !motor.on {
		t.Fatal("expected motor to remain on before the entry's deadline")
	}
	if s.idx != 1 {
		t.Fatalf("expected no advance before the deadline, idx=%d", s.idx)
	}
}

func TestStartShortMediumLongSelectSingleEntryPatterns(t *testing.T) {
	s, motor, _ := newTestSession()
	s.StartShort()
	if len(s.entries) != 1 || s.entries[0] != 20 {
		t.Fatalf("expected SingleShort's table, got %v", s.entries)
	}
	s.StartMedium()
	if len(s.entries) != 1 || s.entries[0] != 40 {
		t.Fatalf("expected SingleMedium's table, got %v", s.entries)
	}
	s.StartLong()
	if len(s.entries) != 1 || s.entries[0] != 80 {
		t.Fatalf("expected SingleLong's table, got %v", s.entries)
	}
	_ = motor
}

func TestStopForcesMotorOffAndCancelsDispatch(t *testing.T) {
	motor := &fakeMotor{}
	power := &fakePower{running: true}
	disp := dispatcher.New()
	s := NewSession(motor, power, nil, disp)

	s.StartPattern(HeavyTriple)
	if !motor.on {
		t.Fatal("expected motor on after starting HeavyTriple")
	}
	disp.Work() // consume the Trigger from StartPattern's first entry
	s.Stop()
	if motor.on {
		t.Fatal("expected Stop to force the motor off")
	}
	if s.Playing() {
		t.Fatal("expected Playing false after Stop")
	}
	if disp.Pending() {
		t.Fatal("expected Stop to cancel any pending Haptic task")
	}
}

func TestNewSessionRegistersDispatcherHandler(t *testing.T) {
	motor := &fakeMotor{}
	power := &fakePower{running: true}
	clock := &tick.Clock{}
	disp := dispatcher.New()
	s := NewSession(motor, power, clock, disp)

	s.StartPattern(SingleMedium)
	if !disp.Pending() {
		t.Fatal("expected StartPattern to trigger the Haptic task")
	}
	for i := 0; i < int(tick.Ms(40))+1; i++ {
		clock.Tick()
	}
	disp.Work()
	if motor.on {
		t.Fatal("expected the dispatcher-driven task to have run and turned the motor off once due")
	}
}

func TestBuzzerPlayStop(t *testing.T) {
	timer := &fakeBuzzerTimer{}
	b := NewBuzzer(timer, 2000)
	if timer.hz != 2000 {
		t.Fatalf("expected init frequency 2000, got %d", timer.hz)
	}
	b.Play()
	if !timer.enabled {
		t.Fatal("expected Play to enable the timer")
	}
	b.SetFrequency(4000)
	if timer.hz != 4000 {
		t.Fatalf("expected frequency updated to 4000, got %d", timer.hz)
	}
	b.Stop()
	if timer.enabled {
		t.Fatal("expected Stop to disable the timer")
	}
}

type fakeBuzzerTimer struct {
	hz      uint32
	enabled bool
}

func (t *fakeBuzzerTimer) SetFrequency(hz uint32) { t.hz = hz }
func (t *fakeBuzzerTimer) Enable()                { t.enabled = true }
func (t *fakeBuzzerTimer) Disable()               { t.enabled = false }
