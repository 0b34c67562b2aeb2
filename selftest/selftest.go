// package selftest implements the factory-test host commands
// (supplemented feature: original_source/artoo/src/factorytest.{h,cpp}
// and selftest.{h,cpp}, not present in the distilled spec but part of
// the host protocol's tag table). Three host commands land here:
// OutputTest drives the button LEDs, buzzer, and haptic motor from a
// single host-supplied frame; GpioTest pokes the backlight and charger
// enable line directly; and an internally-triggered short-circuit scan
// reports Pass/Fail back to the host over the SelfTest tag.
package selftest

import (
	"time"

	"seedhammer.com/button"
	"seedhammer.com/link"
)

// Result mirrors selftest.cpp's SelfTest::Result.
type Result uint8

const (
	None Result = iota
	Pass
	Fail
)

// GpioTestPin identifies which line GpioTest pokes, mirroring
// factorytest.h's private GpioTestPins enum.
type GpioTestPin uint8

const (
	GpioLedBacklight GpioTestPin = iota
	GpioChargerEnable
)

// numOutputLEDs is factorytest.cpp's NUM_LEDS: the white/green LED
// masks in an OutputTest frame cover the first six buttons,
// Power..B, the same Io::ButtonPower+i range the original indexes.
const numOutputLEDs = 6

// outputTestMinLen is factorytest.cpp's `len < 5` guard: white mask,
// green mask, buzzer Hz (little-endian uint16), motor seconds.
const outputTestMinLen = 5

// gpioTestMinLen is factorytest.cpp's `len < 2` guard: pin ID, level.
const gpioTestMinLen = 2

// shortSettle is the pull-up settle window selftest.cpp busy-waits
// with SysTime before sampling each pin; checkForShorts only ever
// runs from a factory-test host command, never the 50Hz control loop,
// so blocking here doesn't cost the supervisor anything it needs.
const shortSettle = 5 * time.Millisecond

// LEDs is the narrow interface OutputTest drives: the white and green
// LED under each of the first six buttons.
type LEDs interface {
	SetWhite(id button.ID, on bool)
	SetGreen(id button.ID, on bool)
}

// Buzzer is the subset of haptic.Buzzer's methods OutputTest drives.
type Buzzer interface {
	SetFrequency(hz uint32)
	Play()
	Stop()
}

// Haptics is the subset of haptic.Session's methods OutputTest drives.
type Haptics interface {
	StartMedium()
}

// Backlight is the interface GpioTest's GpioLedBacklight case drives.
type Backlight interface {
	SetBacklight(percent int)
}

// ChargerEnable is the interface GpioTest's GpioChargerEnable case
// drives.
type ChargerEnable interface {
	Enable()
	Disable()
}

// FlightLink reports whether a paired flight controller is attached,
// so checkForShorts can restrict itself to bench/factory conditions
// the way selftest.cpp's own linkIsConnected() guard does.
type FlightLink interface {
	LinkConnected() bool
}

// ShortPin is the narrow GPIO binding checkAdjacentPinsForShorts
// needs: drive the pin low as a push-pull output, or release it to a
// pulled-up input and sample the result.
type ShortPin interface {
	DriveLow()
	Release()
	ReadPullup() bool
}

// Session holds the factory-test wiring and the one pending
// SelfTest result awaiting transmission.
type Session struct {
	leds      LEDs
	buzzer    Buzzer
	haptics   Haptics
	backlight Backlight
	charger   ChargerEnable
	link      *link.Manager
	flight    FlightLink
	pinGroups [][]ShortPin

	result Result
}

// NewSession builds a Session wired to its host-protocol, LED,
// buzzer, haptic, backlight, charger, and flight-link dependencies.
// pinGroups is the adjacency grouping CheckForShorts scans when the
// host requests a SelfTest run; it may be nil on boards with nothing
// to scan.
func NewSession(
	leds LEDs,
	buzzer Buzzer,
	haptics Haptics,
	backlight Backlight,
	charger ChargerEnable,
	l *link.Manager,
	flightLink FlightLink,
	pinGroups [][]ShortPin,
) *Session {
	return &Session{
		leds:      leds,
		buzzer:    buzzer,
		haptics:   haptics,
		backlight: backlight,
		charger:   charger,
		link:      l,
		flight:    flightLink,
		pinGroups: pinGroups,
	}
}

// Wire registers the inbound OutputTest/GpioTest/SelfTest handlers
// and the outbound SelfTest-result producer on l.
func (s *Session) Wire(l *link.Manager) {
	l.RegisterInbound(link.OutputTest, s.OnOutputTest)
	l.RegisterInbound(link.GpioTest, s.OnGpioTest)
	l.RegisterInbound(link.SelfTest, s.OnSelfTest)
	l.AddProducer("selftest", s.produce)
}

// OnSelfTest handles host protocol tag SelfTest inbound: the host
// asks for a short-circuit scan, payload ignored, result reported
// back over the same tag by produce.
func (s *Session) OnSelfTest(payload []byte) {
	s.CheckForShorts(s.pinGroups)
}

// OnOutputTest handles host protocol tag OutputTest, grounded
// verbatim on factorytest.cpp's onOutputTest: payload is
// {whiteLedMask, greenLedMask, buzzerHzLo, buzzerHzHi, motorSeconds}.
func (s *Session) OnOutputTest(payload []byte) {
	if len(payload) < outputTestMinLen {
		return
	}

	whiteMask := payload[0]
	greenMask := payload[1]
	buzzerHz := uint16(payload[2]) | uint16(payload[3])<<8
	motorSeconds := payload[4]

	for i := 0; i < numOutputLEDs; i++ {
		id := button.ID(i)
		s.leds.SetWhite(id, whiteMask&(1<<uint(i)) != 0)
		s.leds.SetGreen(id, greenMask&(1<<uint(i)) != 0)
	}

	if buzzerHz != 0 {
		s.buzzer.SetFrequency(uint32(buzzerHz))
		s.buzzer.Play()
	} else {
		s.buzzer.Stop()
	}

	if motorSeconds != 0 {
		// XXX: this is probably ok, but need to verify whether we
		// need arbitrary durations for HW testing.
		s.haptics.StartMedium()
	}
}

// OnGpioTest handles host protocol tag GpioTest, grounded verbatim on
// factorytest.cpp's onGpioTest: payload is {pinID, level}.
func (s *Session) OnGpioTest(payload []byte) {
	if len(payload) < gpioTestMinLen {
		return
	}

	switch GpioTestPin(payload[0]) {
	case GpioLedBacklight:
		if payload[1] != 0 {
			s.backlight.SetBacklight(100)
		} else {
			s.backlight.SetBacklight(0)
		}
	case GpioChargerEnable:
		if payload[1] != 0 {
			s.charger.Enable()
		} else {
			s.charger.Disable()
		}
	}
}

// CheckForShorts drives selftest.cpp's checkForShorts: for each group
// of adjacent pins, confirm a pin can be pulled high once its two
// neighbors are driven low, or else assume a short between them.
// Restricted to the unpaired, bench/factory case, same as the
// original's linkIsConnected() guard.
func (s *Session) CheckForShorts(pinGroups [][]ShortPin) {
	if s.flight != nil && s.flight.LinkConnected() {
		return
	}

	result := Pass
	for _, pins := range pinGroups {
		if !checkAdjacentPinsForShorts(pins) {
			result = Fail
			break
		}
	}

	s.result = result
	s.link.RequestTransaction()
}

// checkAdjacentPinsForShorts drives each pin's two neighbors low in
// turn, releases the pin itself to its pull-up, and after shortSettle
// confirms it reads high — a failure to pull up implies a short to a
// low neighbor.
func checkAdjacentPinsForShorts(pins []ShortPin) bool {
	for i, pin := range pins {
		if i > 0 {
			pins[i-1].DriveLow()
		}
		if i < len(pins)-1 {
			pins[i+1].DriveLow()
		}

		pin.Release()
		time.Sleep(shortSettle)

		if !pin.ReadPullup() {
			return false
		}
	}
	return true
}

// produce implements link.Producer: it reports the most recent
// CheckForShorts result once, then goes quiet until the next scan,
// mirroring SelfTest::producePacket's one-shot None reset.
func (s *Session) produce() (link.Frame, bool) {
	if s.result == None {
		return link.Frame{}, false
	}
	result := s.result
	s.result = None
	return link.Frame{Tag: link.SelfTest, Payload: []byte{byte(result)}}, true
}
