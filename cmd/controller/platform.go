package main

import (
	"io"

	"seedhammer.com/battery"
	"seedhammer.com/driver/handset"
	"seedhammer.com/haptic"
	"seedhammer.com/power"
	"seedhammer.com/selftest"
)

// hardware collects every narrow per-component interface this binary
// wires into the domain sessions. platform_rpi.go builds it from the
// real handset board; platform_dummy.go builds it from in-memory
// fakes so the rest of this module can be exercised off-board.
type hardware struct {
	hostRail  power.Rail
	boardRail power.Rail

	charger battery.Charger
	motor   haptic.Motor
	buzzer  haptic.BuzzerTimer
	reset   power.ResetCause

	leds          selftest.LEDs
	backlight     selftest.Backlight
	chargerEnable selftest.ChargerEnable
	shortGroups   [][]selftest.ShortPin

	serial io.ReadWriteCloser
	edges  <-chan handset.ButtonEdge
}
