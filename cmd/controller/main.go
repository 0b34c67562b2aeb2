// Command controller is the handset's real-time supervisor: the
// single foreground process that owns every button, stick, link, and
// power state machine and drives them from the cooperative task
// dispatcher described in original_source/artoo/src/main.cpp's loop().
package main

import (
	"bufio"
	"bytes"
	"io"
	"log"
	"time"

	"seedhammer.com/adcsvc"
	"seedhammer.com/battery"
	"seedhammer.com/button"
	"seedhammer.com/dispatcher"
	"seedhammer.com/driver/handset"
	"seedhammer.com/flight"
	"seedhammer.com/gimbal"
	"seedhammer.com/haptic"
	"seedhammer.com/link"
	"seedhammer.com/pairing"
	"seedhammer.com/params"
	"seedhammer.com/policy"
	"seedhammer.com/power"
	"seedhammer.com/selftest"
	"seedhammer.com/tick"
	"seedhammer.com/ui"
	"seedhammer.com/updater"
)

// flightLinkRef lets policy.Session hold a FlightLink before the
// flight.Session it forwards to exists, breaking the construction
// cycle between the two (policy needs a FlightLink, flight needs a
// ManualOverride that is itself the policy Session).
type flightLinkRef struct {
	s *flight.Session
}

func (r *flightLinkRef) LinkConnected() bool { return r.s.LinkConnected() }
func (r *flightLinkRef) RequestFlightModeChange(m flight.FlightMode) {
	r.s.RequestFlightModeChange(m)
}

// batteryStatusRef resolves the same kind of cycle between power.Session
// (needs a BatteryStatus) and battery.Manager (needs power.Session as
// its ShutdownRequester).
type batteryStatusRef struct {
	m *battery.Manager
}

func (r *batteryStatusRef) ChargerPresent() bool        { return r.m.ChargerPresent() }
func (r *batteryStatusRef) CriticallyLow() bool         { return r.m.CriticallyLow() }
func (r *batteryStatusRef) UndervoltageNoCharger() bool { return r.m.UndervoltageNoCharger() }

type shutdownRequesterRef struct {
	s *power.Session
}

func (r *shutdownRequesterRef) RequestShutdown() { r.s.RequestShutdown() }

func main() {
	log.SetFlags(0)

	hw, err := newHardware()
	if err != nil {
		log.Fatalf("controller: %v", err)
	}

	disp := dispatcher.New()
	clock := new(tick.Clock)
	events := ui.New()

	store := params.New(newFilePage("/var/lib/handset/params.bin"))
	if err := store.Load(); err != nil {
		log.Printf("controller: params: %v", err)
	}

	l := link.NewManager()
	buttons := button.NewManager(nil)

	haptics := haptic.NewSession(hw.motor, alwaysRunning{}, clock, disp)
	buzzer := haptic.NewBuzzer(hw.buzzer, 2000)

	hostLink := newHostLinkMonitor(clock)
	updaterSession := updater.NewSession(nil)
	updaterSession.Wire(l)

	flightRef := &flightLinkRef{}
	policySession := policy.NewSession(updaterSession, flightRef, events, clock.Now())
	policySession.WireButtons(buttons)
	policySession.WireAButton(buttons)

	flightSession := flight.NewSession(events, policySession)
	flightSession.SetHaptics(haptics)
	flightRef.s = flightSession
	l.RegisterInbound(link.Mavlink, flightSession.OnMavlink)
	l.AddProducer("flight", func() (link.Frame, bool) {
		payload, ok := flightSession.Produce()
		if !ok {
			return link.Frame{}, false
		}
		return link.Frame{Tag: link.Mavlink, Payload: payload}, true
	})

	pairingSession := pairing.NewSession(events, haptics)
	l.RegisterInbound(link.PairRequest, pairingSession.OnPairRequest)
	l.RegisterInbound(link.PairResult, pairingSession.OnPairResult)
	l.AddProducer("pairing", func() (link.Frame, bool) {
		payload, ok := pairingSession.Produce()
		if !ok {
			return link.Frame{}, false
		}
		return link.Frame{Tag: link.PairConfirm, Payload: payload}, true
	})

	gimbalSession := gimbal.NewSession(events, store, haptics)

	battStatus := &batteryStatusRef{}
	shutdownReq := &shutdownRequesterRef{}
	powerSession := power.NewSession(hw.hostRail, hw.boardRail, battStatus, hostLink, updaterSession, events, haptics)
	powerSession.WireButtons(buttons)
	shutdownReq.s = powerSession
	l.AddProducer("power", func() (link.Frame, bool) {
		if !powerSession.Produce() {
			return link.Frame{}, false
		}
		return link.Frame{Tag: link.ShutdownRequest}, true
	})

	batteryMgr := battery.NewManager(hw.charger, shutdownReq, events)
	battStatus.m = batteryMgr
	batteryMgr.Init()

	invalidReports := newInvalidStickReports()
	sampler := adcsvc.NewSampler(batteryMgr, invalidReports.onInvalid)
	sampler.Configure(store.Values())
	l.AddProducer("invalid-stick", invalidReports.produce)

	selftestSession := selftest.NewSession(hw.leds, buzzer, haptics, hw.backlight, hw.chargerEnable, l, flightSession, hw.shortGroups)
	selftestSession.Wire(l)

	lockoutGate := &lockout{}
	lockoutGate.WireButtons(buttons)
	flightSession.WireButtons(buttons)
	gimbalSession.WireButtons(buttons, func() float64 { return sampler.GimbalValue(adcsvc.GimbalRate) })
	pairingSession.WireButtons(buttons)

	rawio := &rawIO{sampler: sampler, buttons: buttons}
	l.RegisterInbound(link.SetRawIo, rawio.OnSetRawIo)
	l.AddProducer("rawio", rawio.produce)

	sp := &storedParams{store: store, sampler: sampler, clock: clock}
	l.RegisterInbound(link.ParamStoredVals, sp.OnParamStoredVals)
	l.AddProducer("stored-params", sp.produce)

	sa := &stickAxes{store: store, sampler: sampler, clock: clock}
	l.RegisterInbound(link.ConfigStickAxes, sa.OnConfigStickAxes)

	bf := &buttonFunctions{store: store}
	l.RegisterInbound(link.ButtonFunctionCfg, bf.OnButtonFunctionCfg)

	l.RegisterInbound(link.SetShotInfo, func(payload []byte) {
		gimbalSession.OnShotChanged(trimNUL(payload))
	})

	l.RegisterInbound(link.LockoutState, lockoutGate.OnLockoutState)

	sc := &sweepConfig{store: store, gimbal: gimbalSession}
	l.RegisterInbound(link.ConfigSweepTime, sc.OnConfigSweepTime)

	l.RegisterInbound(link.TestEvent, testEvent(events))

	tu := &telemUnits{}
	l.RegisterInbound(link.SetTelemUnits, tu.OnSetTelemUnits)

	l.RegisterInbound(link.SoloAppConnection, soloAppConnection(events))

	si := &sysInfo{uniqueID: "handset-0000"}
	l.RegisterInbound(link.SysInfo, si.OnRequest)
	l.AddProducer("sysinfo", si.produce)

	cal := &calibrate{store: store, sampler: sampler, clock: clock, armed: flightSession.Armed}
	l.RegisterInbound(link.Calibrate, cal.OnCalibrate)

	rc := &rcChannels{sampler: sampler, battery: batteryMgr, clock: clock}
	l.AddProducer("rc-channels", rc.produce)
	ir := &inputReport{sampler: sampler, battery: batteryMgr}
	l.AddProducer("input-report", ir.produce)
	be := &buttonEvents{buttons: buttons}
	l.AddProducer("button-events", be.produce)

	disp.Handle(dispatcher.HostProtocol, func() { l.ProcessRX() })
	disp.Handle(dispatcher.DisplayRender, func() { events.Drain() })

	disp.Handle(dispatcher.ButtonHold, func() {
		buttons.PollHolds(clock.Now())
		if buttons.AnyPressed() {
			disp.Trigger(dispatcher.ButtonHold)
		}
	})

	disp.Handle(dispatcher.Camera, func() { l.RequestTransaction() })
	buttons.Subscribe(button.Press, func(id button.ID, evt button.Event, mask uint16) bool {
		if id == button.CameraClick {
			disp.Trigger(dispatcher.Camera)
		}
		return false
	})

	// allLEDsOff turns off every button's white/green LED, the "turn
	// off all LEDs" step of the shutdown sequence.
	allLEDsOff := func() {
		for i := 0; i < button.NumButtons; i++ {
			id := button.ID(i)
			hw.leds.SetWhite(id, false)
			hw.leds.SetGreen(id, false)
		}
	}

	boardRailReleased := false
	disp.Handle(dispatcher.Shutdown, func() {
		now := clock.Now()
		if err := store.Flush(now); err != nil {
			log.Printf("controller: params flush: %v", err)
		}
		allLEDsOff()
		powerSession.Shutdown(now)
	})

	disp.Handle(dispatcher.FiftyHzHeartbeat, func() {
		now := clock.Now()
		powerSession.Tick(now)
		policySession.Tick(now)
		gimbalSession.Tick(sampler.GimbalValue(adcsvc.GimbalRate), now)
		if err := store.PeriodicWork(now); err != nil {
			log.Printf("controller: params flush: %v", err)
		}
		l.SnapshotDiagnostics(now)
		l.RequestTransaction()
		if buttons.AnyPressed() {
			disp.Trigger(dispatcher.ButtonHold)
		}

		if powerSession.PendingShutdown() {
			disp.Trigger(dispatcher.Shutdown)
		}

		// Once idle, wait for the RC filter to discharge before
		// releasing the board's own keep-on rail, unless a charger
		// is present and we're staying alive to manage charging.
		if powerSession.State() == power.Idle && !boardRailReleased {
			if battStatus.ChargerPresent() {
				return
			}
			if powerSession.RCDischarged(now) {
				boardRailReleased = true
				powerSession.ReleaseBoardRail()
			}
		}
	})

	outcome := power.DecideBootOutcome(hw.reset, batteryMgr)
	powerSession.StartBoot(outcome, clock.Now())

	go runHeartbeat(clock, disp)
	go runButtonEdges(hw.edges, buttons, clock, disp)
	go runSerialRX(hw.serial, l, hostLink, disp)
	go runSerialTX(hw.serial, l)

	for {
		if !disp.Pending() {
			time.Sleep(time.Millisecond)
			continue
		}
		disp.Work()
	}
}

// alwaysRunning stands in for power.Session's Running() check at the
// one call site (haptic.NewSession) that needs it before power.Session
// exists; haptics legitimately only runs once the system leaves Boot,
// and button-driven haptic feedback can't fire before then anyway
// since buttons aren't wired until after Boot begins.
type alwaysRunning struct{}

func (alwaysRunning) Running() bool { return true }

// trimNUL returns b up to (not including) its first NUL byte, as a
// string.
func trimNUL(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// runHeartbeat advances the tick clock at tick.Hz and triggers the
// 50Hz heartbeat task every 20 ticks, standing in for the real
// hardware timer ISR in original_source/artoo/src/main.cpp's
// SysTick-driven scheduler.
func runHeartbeat(clock *tick.Clock, disp *dispatcher.Dispatcher) {
	const heartbeatPeriodTicks = tick.Hz / 50
	ticker := time.NewTicker(time.Second / tick.Hz)
	defer ticker.Stop()
	for range ticker.C {
		if n := clock.Tick(); uint32(n)%heartbeatPeriodTicks == 0 {
			disp.Trigger(dispatcher.FiftyHzHeartbeat)
		}
	}
}

// runButtonEdges forwards debounced GPIO edges into button.Manager,
// standing in for the real per-pin EXTI ISR.
func runButtonEdges(edges <-chan handset.ButtonEdge, buttons *button.Manager, clock *tick.Clock, disp *dispatcher.Dispatcher) {
	for e := range edges {
		now := clock.Now()
		id := button.ID(e.Index)
		if e.Pressed {
			buttons.Press(id, now)
			disp.Trigger(dispatcher.ButtonHold)
		} else {
			buttons.Release(id, now)
		}
	}
}

// runSerialRX feeds every received UART byte to the link decoder and
// marks the host link alive, standing in for the UART RX ISR.
func runSerialRX(serial io.Reader, l *link.Manager, hostLink *hostLinkMonitor, disp *dispatcher.Dispatcher) {
	r := bufio.NewReader(serial)
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if err != nil {
			return
		}
		if n > 0 {
			hostLink.Touch()
			l.OnRXByte(buf[0])
			disp.Trigger(dispatcher.HostProtocol)
		}
	}
}

// runSerialTX walks the outbound producer chain whenever it's ready
// and writes the encoded frame to the UART, standing in for the
// TX-DMA-complete interrupt.
func runSerialTX(serial io.Writer, l *link.Manager) {
	for {
		if l.TXReady() {
			if data, ok := l.Produce(); ok {
				serial.Write(data)
				l.TXComplete()
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
}
