//go:build !linux || !arm

package main

import (
	"io"

	"seedhammer.com/button"
	"seedhammer.com/driver/handset"
	"seedhammer.com/selftest"
)

// newHardware builds an all-in-memory stand-in board for bring-up and
// CI, the same role handset_dummy.go's OpenPinout/OpenSerial stubs
// play for the handset package itself: nothing here touches real
// GPIO, and the serial link never carries host traffic.
func newHardware() (*hardware, error) {
	edges := make(chan handset.ButtonEdge)
	return &hardware{
		hostRail:      &fakeRail{},
		boardRail:     &fakeRail{},
		charger:       &fakeCharger{},
		motor:         &fakeMotor{},
		buzzer:        &fakeBuzzer{},
		reset:         fakeResetCause{},
		leds:          &fakeLEDs{},
		backlight:     &fakeBacklight{},
		chargerEnable: &fakeCharger{},
		shortGroups:   [][]selftest.ShortPin{{&fakeShortPin{}}},
		serial:        &nullSerial{},
		edges:         edges,
	}, nil
}

type fakeRail struct{ on bool }

func (r *fakeRail) Enable()  { r.on = true }
func (r *fakeRail) Disable() { r.on = false }

type fakeCharger struct {
	enabled bool
	top, bottom bool
}

func (c *fakeCharger) Enable()          { c.enabled = true }
func (c *fakeCharger) Disable()         { c.enabled = false }
func (c *fakeCharger) Enabled() bool    { return c.enabled }
func (c *fakeCharger) Present() bool    { return false }
func (c *fakeCharger) SetShuntBottom(on bool) { c.bottom = on }
func (c *fakeCharger) SetShuntTop(on bool)    { c.top = on }

type fakeMotor struct{ on bool }

func (m *fakeMotor) On()        { m.on = true }
func (m *fakeMotor) Off()       { m.on = false }
func (m *fakeMotor) IsOn() bool { return m.on }

type fakeBuzzer struct {
	hz      uint32
	playing bool
}

func (b *fakeBuzzer) SetFrequency(hz uint32) { b.hz = hz }
func (b *fakeBuzzer) Enable()                { b.playing = true }
func (b *fakeBuzzer) Disable()               { b.playing = false }

type fakeResetCause struct{}

func (fakeResetCause) PinReset() bool     { return false }
func (fakeResetCause) WakeKeyValid() bool { return false }

type fakeLEDs struct {
	white, green [button.NumButtons]bool
}

func (l *fakeLEDs) SetWhite(id button.ID, on bool) { l.white[id] = on }
func (l *fakeLEDs) SetGreen(id button.ID, on bool) { l.green[id] = on }

type fakeBacklight struct{ percent int }

func (b *fakeBacklight) SetBacklight(percent int) { b.percent = percent }

// fakeShortPin always reports a clean pull-up: the dummy board has no
// wiring to short.
type fakeShortPin struct{}

func (fakeShortPin) DriveLow()      {}
func (fakeShortPin) Release()       {}
func (fakeShortPin) ReadPullup() bool { return true }

// nullSerial is a companion UART that never receives anything and
// discards every write, so the link-layer goroutines have a live
// io.ReadWriteCloser to block on instead of a nil one.
type nullSerial struct{}

func (nullSerial) Read(p []byte) (int, error)  { select {} }
func (nullSerial) Write(p []byte) (int, error) { return len(p), nil }
func (nullSerial) Close() error                { return nil }

var _ io.ReadWriteCloser = nullSerial{}
