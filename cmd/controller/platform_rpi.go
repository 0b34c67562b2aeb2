//go:build linux && arm

package main

import (
	"fmt"

	"seedhammer.com/driver/handset"
	"seedhammer.com/selftest"
)

// newHardware opens the real handset board: GPIO pinout, companion
// UART, and a per-button edge-watcher goroutine feeding the returned
// channel.
func newHardware() (*hardware, error) {
	p, err := handset.OpenPinout()
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	serial, err := handset.OpenSerial("")
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}

	edges := make(chan handset.ButtonEdge, 16)
	for i, pin := range p.Buttons {
		go handset.WatchButton(i, pin, edges)
	}

	charger := handset.NewCharger(p.ChargerEnable, p.ChargerShuntB, p.ChargerShuntT, p.ChargerSense)

	return &hardware{
		hostRail:      handset.NewGPIORail(p.HostRail),
		boardRail:     handset.NewGPIORail(p.BoardRail),
		charger:       charger,
		motor:         handset.NewGPIOMotor(p.HapticMotor),
		buzzer:        handset.NewGPIOBuzzerTimer(p.BuzzerPWM),
		reset:         handset.ReadResetCause(),
		leds:          handset.NewButtonLEDs(p),
		backlight:     handset.NewGPIOBacklight(p.BacklightPWM),
		chargerEnable: charger,
		shortGroups:   shortPinGroups(p),
		serial:        serial,
		edges:         edges,
	}, nil
}

// shortPinGroups reuses the button GPIOs for checkForShorts, as one
// adjacency group spanning the whole connector in trace order;
// nothing else touches these pins while a factory scan is running.
func shortPinGroups(p *handset.Pinout) [][]selftest.ShortPin {
	group := make([]selftest.ShortPin, len(p.Buttons))
	for i, pin := range p.Buttons {
		group[i] = handset.NewShortPin(pin)
	}
	return [][]selftest.ShortPin{group}
}
