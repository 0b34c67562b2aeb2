// package haptic implements the vibration-motor pattern player
// (component O) and the factory-test buzzer driver.
//
// Grounded on original_source/artoo/src/haptic.{h,cpp} and
// buzzer.{h,cpp}.
package haptic

import (
	"seedhammer.com/dispatcher"
	"seedhammer.com/tick"
)

// OffMask marks a pattern entry as motor-off for its duration; the low
// 15 bits are the duration in milliseconds.
const OffMask uint16 = 0x8000

// Pattern identifies one of the fixed vibration patterns.
type Pattern uint8

const (
	SingleShort Pattern = iota
	SingleMedium
	SingleLong
	UhUh
	LightDouble
	LightTriple
	HeavyTriple
	numPatterns
)

// patterns is the fixed entry table per pattern, transcribed from
// haptic.cpp's PatternData tables.
var patterns = [numPatterns][]uint16{
	SingleShort:  {20},
	SingleMedium: {40},
	SingleLong:   {80},
	UhUh:         {30, 80 | OffMask, 15},
	LightDouble:  {50, 100 | OffMask, 50},
	LightTriple:  {50, 100 | OffMask, 50, 100 | OffMask, 50},
	HeavyTriple:  {100, 200 | OffMask, 100, 200 | OffMask, 100},
}

// Motor drives the vibration motor's GPIO output.
type Motor interface {
	On()
	Off()
}

// PowerState reports whether the system is in its normal running
// state; patterns only play while Running, matching
// PowerManager::state() == Running in startPattern.
type PowerState interface {
	Running() bool
}

// Session plays one pattern at a time over the vibration motor,
// advanced by repeated calls to Task from the dispatcher's Haptic
// task. The zero value is not usable; construct with NewSession.
type Session struct {
	motor Motor
	power PowerState
	clock *tick.Clock
	disp  *dispatcher.Dispatcher

	entries      []uint16
	idx          int
	stopDeadline tick.Count
	motorOn      bool
}

// NewSession constructs a Session. disp may be nil in tests that drive
// Task directly rather than through the dispatcher.
func NewSession(motor Motor, power PowerState, clock *tick.Clock, disp *dispatcher.Dispatcher) *Session {
	s := &Session{
		motor: motor,
		power: power,
		clock: clock,
		disp:  disp,
	}
	if disp != nil {
		disp.Handle(dispatcher.Haptic, s.task)
	}
	return s
}

// StartPattern begins playing p, replacing any pattern already
// playing. It's a no-op while the system isn't Running, matching the
// original's gate on PowerManager::state().
func (s *Session) StartPattern(p Pattern) {
	if s.power != nil && !s.power.Running() {
		return
	}
	s.entries = patterns[p]
	s.idx = 0
	s.nextEntry(s.now())
}

func (s *Session) now() tick.Count {
	if s.clock == nil {
		return 0
	}
	return s.clock.Now()
}

// StartShort plays SingleShort. Satisfies the narrow Haptics interface
// used by gimbal, pairing and power.
func (s *Session) StartShort() { s.StartPattern(SingleShort) }

// StartMedium plays SingleMedium.
func (s *Session) StartMedium() { s.StartPattern(SingleMedium) }

// StartLong plays SingleLong.
func (s *Session) StartLong() { s.StartPattern(SingleLong) }

// Stop cancels whatever is playing and forces the motor off.
func (s *Session) Stop() {
	s.entries = nil
	s.idx = 0
	s.setMotor(false)
	if s.disp != nil {
		s.disp.Cancel(dispatcher.Haptic)
	}
}

// Playing reports whether a pattern is still advancing or the motor is
// still physically energized from one, matching haptic.cpp's playing()
// (pattern not exhausted, or motor currently on).
func (s *Session) Playing() bool {
	return s.idx < len(s.entries) || s.motorOn
}

// task is the dispatcher.Haptic handler: a self-rescheduling
// deadline check. If the current entry's span hasn't elapsed yet, it
// reschedules itself; otherwise it advances to the next entry.
func (s *Session) task() {
	s.Task(s.now())
}

// Task advances the pattern player at the given time. Exported so
// tests can drive it without a dispatcher.
func (s *Session) Task(now tick.Count) {
	if s.idx >= len(s.entries) {
		return
	}
	if now.Before(s.stopDeadline) {
		s.reschedule()
		return
	}
	s.nextEntry(now)
}

// nextEntry sets the motor for the next table entry and computes its
// deadline, or turns the motor off once the pattern is exhausted.
func (s *Session) nextEntry(now tick.Count) {
	if s.idx >= len(s.entries) {
		s.setMotor(false)
		return
	}
	entry := s.entries[s.idx]
	s.idx++
	s.setMotor(entry&OffMask == 0)
	durMillis := int(entry &^ OffMask)
	s.stopDeadline = now + tick.Ms(durMillis)
	s.reschedule()
}

func (s *Session) reschedule() {
	if s.disp != nil {
		s.disp.Trigger(dispatcher.Haptic)
	}
}

func (s *Session) setMotor(on bool) {
	s.motorOn = on
	if s.motor == nil {
		return
	}
	if on {
		s.motor.On()
	} else {
		s.motor.Off()
	}
}

// BuzzerTimer is the raw hardware PWM-timer output the buzzer drives.
type BuzzerTimer interface {
	SetFrequency(hz uint32)
	Enable()
	Disable()
}

// Buzzer is the factory-test tone generator (§4.13): a plain
// timer-PWM wrapper with no pattern logic of its own, grounded on
// buzzer.{h,cpp}. Used only by the self-test component.
type Buzzer struct {
	timer BuzzerTimer
}

// NewBuzzer constructs a Buzzer over timer, initialized to hz.
func NewBuzzer(timer BuzzerTimer, hz uint32) *Buzzer {
	timer.SetFrequency(hz)
	return &Buzzer{timer: timer}
}

// SetFrequency changes the tone frequency without affecting whether
// it's currently playing.
func (b *Buzzer) SetFrequency(hz uint32) { b.timer.SetFrequency(hz) }

// Play enables the tone.
func (b *Buzzer) Play() { b.timer.Enable() }

// Stop silences the tone.
func (b *Buzzer) Stop() { b.timer.Disable() }
