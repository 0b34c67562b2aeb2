//go:build linux && arm

package handset

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tarm/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/bcm283x"
)

// OpenPinout initializes the periph.io host driver and returns the
// board's fixed pin assignment, following input.go's host.Init() +
// bcm283x.GPIO* style. The numbers are illustrative (see package doc).
func OpenPinout() (*Pinout, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("handset: %w", err)
	}
	p := &Pinout{
		Buttons: [9]gpio.PinIO{
			bcm283x.GPIO5, bcm283x.GPIO6, bcm283x.GPIO13, bcm283x.GPIO19,
			bcm283x.GPIO26, bcm283x.GPIO16, bcm283x.GPIO20, bcm283x.GPIO21,
			bcm283x.GPIO12,
		},
		ButtonLED: [9]gpio.PinOut{
			bcm283x.GPIO7, bcm283x.GPIO8, bcm283x.GPIO9, bcm283x.GPIO10,
			bcm283x.GPIO11, bcm283x.GPIO14,
			// Preset1, Preset2, CameraClick carry no LED on this board.
		},
		ButtonActiveLED: [9]gpio.PinOut{
			bcm283x.GPIO15, bcm283x.GPIO2, bcm283x.GPIO3, bcm283x.GPIO0,
			bcm283x.GPIO1, bcm283x.GPIO28,
		},
		HapticMotor:   bcm283x.GPIO18,
		BuzzerPWM:     bcm283x.GPIO24,
		HostRail:      bcm283x.GPIO22,
		BoardRail:     bcm283x.GPIO23,
		ChargerEnable: bcm283x.GPIO27,
		ChargerShuntB: bcm283x.GPIO17,
		ChargerShuntT: bcm283x.GPIO4,
		ChargerSense:  bcm283x.GPIO25,
		BacklightPWM:  bcm283x.GPIO29,
	}
	for _, led := range p.ButtonLED {
		if led != nil {
			led.Out(gpio.Low)
		}
	}
	for _, led := range p.ButtonActiveLED {
		if led != nil {
			led.Out(gpio.High) // active-low: High is off
		}
	}
	for _, btn := range p.Buttons {
		if err := btn.In(gpio.PullUp, gpio.BothEdges); err != nil {
			return nil, fmt.Errorf("handset: button setup: %w", err)
		}
	}
	return p, nil
}

// OpenSerial opens the companion-host UART, trying the platform's
// usual device paths if dev is empty. Grounded directly on
// driver/mjolnir/device.go's Open.
func OpenSerial(dev string) (io.ReadWriteCloser, error) {
	const baudRate = 115200
	var devices []string
	if dev != "" {
		devices = append(devices, dev)
	} else {
		devices = append(devices, "/dev/ttyAMA0", "/dev/serial0")
	}
	var firstErr error
	for _, d := range devices {
		c := &serial.Config{Name: d, Baud: baudRate}
		s, err := serial.OpenPort(c)
		if err == nil {
			return s, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// resetCausePath is a sysfs-style file this board's bootloader is
// expected to leave behind describing why the MCU last reset. No
// retrieved reference source models the real RP2350 reset-cause
// register (driver/otp.go is USB/boot-key OTP access, unrelated); this
// is a placeholder binding, not a transcription.
const resetCausePath = "/run/handset/reset-cause"

// ResetCause reads resetCausePath once at boot and reports the two
// conditions power.DecideBootOutcome needs. A missing file (the
// common case — no special reset occurred) reports both false.
type ResetCause struct {
	pinReset bool
	wakeKey  bool
}

// ReadResetCause samples the boot reset cause once.
func ReadResetCause() ResetCause {
	data, err := os.ReadFile(resetCausePath)
	if err != nil {
		return ResetCause{}
	}
	s := strings.TrimSpace(string(data))
	return ResetCause{
		pinReset: s == "pin",
		wakeKey:  s == "wake-key",
	}
}

func (r ResetCause) PinReset() bool     { return r.pinReset }
func (r ResetCause) WakeKeyValid() bool { return r.wakeKey }
