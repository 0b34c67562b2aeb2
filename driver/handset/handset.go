// package handset binds the supervisor's small per-component hardware
// interfaces (button.Manager's GPIO edges, power.Rail, battery.Charger,
// haptic.Motor/BuzzerTimer, power.ResetCause) to the real handset
// board. It is the one package allowed to import periph.io and
// github.com/tarm/serial directly; every other package in this module
// stays hardware-agnostic behind its own narrow interface, following
// seedhammer.com/input and seedhammer.com/driver/mjolnir's pattern of
// a thin periph.io/serial binding layer beneath pure domain logic.
//
// The board itself — an OpenSolo-class handset's STM32/RP2350 — isn't
// one of the retrieved reference boards (seedhammer's Raspberry Pi
// Zero, the Waveshare HAT), so the exact GPIO/ADC pin assignment below
// is illustrative wiring grounded on the teacher's binding style, not
// a transcription of a real pinout. Pin numbers live in one table here
// so a real board bring-up only has to edit this file.
package handset

import (
	"time"

	"periph.io/x/conn/v3/gpio"
	"seedhammer.com/button"
)

// Pin assignments. Swap these for the real board's pins at bring-up;
// everything downstream only depends on the gpio.PinIO/PinOut
// interfaces, never on a specific chip package.
type Pinout struct {
	Buttons         [9]gpio.PinIO
	ButtonLED       [9]gpio.PinOut // white backlight LED; zero value (nil) for buttons with no LED
	ButtonActiveLED [9]gpio.PinOut // blue "active" LED (§6.1), active-low; zero value (nil) for buttons with no LED

	HapticMotor gpio.PinOut
	BuzzerPWM   gpio.PinOut

	HostRail  gpio.PinOut
	BoardRail gpio.PinOut

	ChargerEnable gpio.PinOut
	ChargerShuntB gpio.PinOut
	ChargerShuntT gpio.PinOut
	ChargerSense  gpio.PinIn

	BacklightPWM gpio.PinOut
}

// GPIORail adapts a gpio.PinOut to power.Rail / battery.Charger's
// Enable/Disable shape. Active-high by construction, matching the
// teacher's bcm283x.GPIO* wiring in input.go (no inversion there
// either).
type GPIORail struct {
	pin gpio.PinOut
}

func NewGPIORail(pin gpio.PinOut) *GPIORail { return &GPIORail{pin: pin} }

func (r *GPIORail) Enable()  { r.pin.Out(gpio.High) }
func (r *GPIORail) Disable() { r.pin.Out(gpio.Low) }

// GPIOSenseInput adapts a gpio.PinIn to a present/absent boolean
// reading, e.g. the charger-present line.
type GPIOSenseInput struct {
	pin gpio.PinIn
}

func NewGPIOSenseInput(pin gpio.PinIn) *GPIOSenseInput { return &GPIOSenseInput{pin: pin} }

func (s *GPIOSenseInput) Read() bool { return s.pin.Read() == gpio.High }

// GPIOMotor adapts a gpio.PinOut to haptic.Motor.
type GPIOMotor struct {
	pin gpio.PinOut
	on  bool
}

func NewGPIOMotor(pin gpio.PinOut) *GPIOMotor { return &GPIOMotor{pin: pin} }

func (m *GPIOMotor) On() {
	m.pin.Out(gpio.High)
	m.on = true
}

func (m *GPIOMotor) Off() {
	m.pin.Out(gpio.Low)
	m.on = false
}

func (m *GPIOMotor) IsOn() bool { return m.on }

// Charger adapts the four charger GPIOs to battery.Charger.
type Charger struct {
	enable      *GPIORail
	shuntBottom *GPIORail
	shuntTop    *GPIORail
	sense       *GPIOSenseInput
	enabled     bool
}

func NewCharger(enable, shuntBottom, shuntTop gpio.PinOut, sense gpio.PinIn) *Charger {
	return &Charger{
		enable:      NewGPIORail(enable),
		shuntBottom: NewGPIORail(shuntBottom),
		shuntTop:    NewGPIORail(shuntTop),
		sense:       NewGPIOSenseInput(sense),
	}
}

func (c *Charger) Enable() {
	c.enable.Enable()
	c.enabled = true
}

func (c *Charger) Disable() {
	c.enable.Disable()
	c.enabled = false
}

func (c *Charger) Enabled() bool { return c.enabled }
func (c *Charger) Present() bool { return c.sense.Read() }

func (c *Charger) SetShuntBottom(on bool) {
	if on {
		c.shuntBottom.Enable()
	} else {
		c.shuntBottom.Disable()
	}
}

func (c *Charger) SetShuntTop(on bool) {
	if on {
		c.shuntTop.Enable()
	} else {
		c.shuntTop.Disable()
	}
}

// GPIOBuzzerTimer adapts a gpio.PinOut's fixed-frequency PWM output to
// haptic.BuzzerTimer. periph.io/x/conn/v3/gpio.PinOut.PWM only exposes
// a duty cycle, not an arbitrary frequency — same constraint as §6.1's
// shared LED PWM channel, whose period is "programmed once at init" —
// so SetFrequency here is a no-op recorded for Play to report, not a
// live retune; a real board would reprogram the timer's prescaler
// directly, which periph.io's portable PinOut interface doesn't
// expose.
type GPIOBuzzerTimer struct {
	pin gpio.PinOut
	hz  uint32
}

func NewGPIOBuzzerTimer(pin gpio.PinOut) *GPIOBuzzerTimer { return &GPIOBuzzerTimer{pin: pin} }

func (t *GPIOBuzzerTimer) SetFrequency(hz uint32) { t.hz = hz }
func (t *GPIOBuzzerTimer) Enable()                { t.pin.PWM(gpio.Half) }
func (t *GPIOBuzzerTimer) Disable()               { t.pin.Out(gpio.Low) }

// ButtonLEDs adapts Pinout's white/active LED arrays to selftest.LEDs.
// A nil pin (a button with no LED wired) is silently ignored.
type ButtonLEDs struct {
	white  [9]gpio.PinOut
	active [9]gpio.PinOut
}

func NewButtonLEDs(p *Pinout) *ButtonLEDs {
	return &ButtonLEDs{white: p.ButtonLED, active: p.ButtonActiveLED}
}

func (l *ButtonLEDs) SetWhite(id button.ID, on bool) {
	if pin := l.white[id]; pin != nil {
		pin.Out(gpio.Level(on))
	}
}

// SetGreen drives Pinout's blue "active" LED; it is wired active-low
// (§6.1), so on inverts the level.
func (l *ButtonLEDs) SetGreen(id button.ID, on bool) {
	if pin := l.active[id]; pin != nil {
		pin.Out(gpio.Level(!on))
	}
}

// GPIOBacklight adapts a PWM-capable pin to selftest.Backlight,
// scaling the 0-100 percent GpioTest asks for onto gpio's 0-Max duty
// range the same way GPIOBuzzerTimer maps a frequency onto a fixed
// duty cycle.
type GPIOBacklight struct {
	pin gpio.PinOut
}

func NewGPIOBacklight(pin gpio.PinOut) *GPIOBacklight { return &GPIOBacklight{pin: pin} }

func (b *GPIOBacklight) SetBacklight(percent int) {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	b.pin.PWM(percent * gpio.Max / 100)
}

// ShortPin adapts one bidirectional button GPIO to selftest.ShortPin,
// reusing the same pin the edge watcher reads in normal operation —
// CheckForShorts only ever runs from a factory command with the
// handset otherwise idle, never concurrently with live button input.
type ShortPin struct {
	pin gpio.PinIO
}

func NewShortPin(pin gpio.PinIO) *ShortPin { return &ShortPin{pin: pin} }

func (s *ShortPin) DriveLow()      { s.pin.Out(gpio.Low) }
func (s *ShortPin) Release()       { s.pin.In(gpio.PullUp, gpio.NoEdge) }
func (s *ShortPin) ReadPullup() bool { return s.pin.Read() == gpio.High }

// debounceTimeout is the edge-settle window, matching input.go's own
// button debounce constant.
const debounceTimeout = 10 * time.Millisecond

// ButtonEdge is a debounced GPIO edge ready to be fed to
// button.Manager.Press/Release.
type ButtonEdge struct {
	Index   int
	Pressed bool
}

// WatchButton runs input.go's wait-for-edge-then-debounce loop over
// one button pin, forever, sending settled edges to ch. Intended to
// be started as its own goroutine per button, same shape as
// seedhammer.com/input.Open's per-button loop.
func WatchButton(index int, pin gpio.PinIn, ch chan<- ButtonEdge) {
	pressed := false
	newPressed := false
	for {
		timeout := debounceTimeout
		if newPressed == pressed {
			timeout = -1
		}
		if pin.WaitForEdge(timeout) {
			newPressed = pin.Read() == gpio.Low
		} else {
			if newPressed != pressed {
				pressed = newPressed
				ch <- ButtonEdge{Index: index, Pressed: pressed}
			}
		}
	}
}
