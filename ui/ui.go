// package ui implements the bounded UI event queue (component P). Any
// component may raise an event; the queue fully decouples emitters
// from whatever consumes events (display, haptic feedback, host
// forwarding) so none of them need a back-pointer to each other.
package ui

import (
	"log"

	"seedhammer.com/ring"
)

// Event identifies one user-observable occurrence. The set mirrors
// original_source/artoo/src/*.cpp's Event::ID enum.
type Event int

const (
	AlertRecovery Event = iota
	AltitudeUpdated
	ArmStateUpdated
	ArtooBatteryChanged
	BatteryThermalLimitExceeded
	ButtonFunctionUpdated
	CH7High
	CH7Low
	CamControlValueOutOfRange
	ChargerConnChanged
	ChargerConnected
	ControllerBatteryCritical
	ControllerBatteryFailsafe
	ControllerBatteryFailsafeNoGps
	ControllerBatteryTooLowForTakeoff
	ControllerValueOutOfRange
	FlightBatteryChanged
	FlightBatteryTooLowForTakeoff
	FlightModeChanged
	GimbalConnChanged
	GimbalConnected
	GimbalInput
	GimbalNotConnected
	GpsFixChanged
	GpsLost
	GpsLostManual
	GpsLostRecovery
	GpsNumSatellitesChanged
	GpsPositionChanged
	HomeLocationChanged
	PairingCanceled
	PairingInProgress
	PairingIncomplete
	PairingRequest
	PairingSucceeded
	RCFailsafe
	RCFailsafeNoGPS
	RCFailsafeRecovery
	RTLWithoutGPS
	RssiUpdated
	SoloAppConnected
	SoloAppDisconnected
	SoloConnectionPoor
	SoloGimbalAngleChanged
	SystemEnteredRunningState
	SystemIdleWarning
	SystemLockoutStateChanged
	SystemShutdown
	UnknownBattery
	VehicleConnectionChanged

	// Arm/takeoff/command-result events raised by the flight-link
	// session (§4.9).
	ArmFailed
	TakeoffFailed
	FlightBatteryLow
	FlightBatteryCritical
	FlightBatteryFailsafe

	// Statustext dictionary events (processStatusText's fixed
	// string-match table).
	VehicleRequiresService
	LevelError
	AltitudeCalRequired
	WaitingForNavChecks
	CompassCalRequired
	CompassInterference
	CompassCalibrating
	LevelCalibrating
	VehicleCalibrating
	CalibrationFailed
	ThrottleError
	CantArmWhileLeaning

	numEvents
)

// queueCapacity is the bounded FIFO depth; overflow drops the newest
// event and logs once (§7 resource exhaustion policy).
const queueCapacity = 32

// Queue is the single UI event sink for the process. The zero value is
// not usable; construct with New.
type Queue struct {
	events *ring.Records[Event]
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{events: ring.NewRecords[Event](queueCapacity)}
}

// Pend raises an event. Safe to call from any component, including
// one running inside a task handler triggered from an ISR context via
// the dispatcher (never from inside an ISR itself, since it is not
// lock-free against a concurrent foreground drain... note: Pend uses
// the lock-free SPSC ring and is ISR-safe as a producer).
func (q *Queue) Pend(e Event) {
	if !q.events.Enqueue(e) {
		log.Printf("ui: event queue full, dropped %v", e)
	}
}

// Drain removes and returns all currently queued events, in FIFO
// order. Typically called once per DisplayRender task dispatch.
func (q *Queue) Drain() []Event {
	var out []Event
	for {
		e, ok := q.events.Dequeue()
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out
}
