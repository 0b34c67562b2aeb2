package selftest

import (
	"testing"

	"seedhammer.com/button"
	"seedhammer.com/link"
)

type fakeLEDs struct {
	white, green [9]bool
}

func (l *fakeLEDs) SetWhite(id button.ID, on bool) { l.white[id] = on }
func (l *fakeLEDs) SetGreen(id button.ID, on bool) { l.green[id] = on }

type fakeBuzzer struct {
	hz      uint32
	playing bool
}

func (b *fakeBuzzer) SetFrequency(hz uint32) { b.hz = hz }
func (b *fakeBuzzer) Play()                  { b.playing = true }
func (b *fakeBuzzer) Stop()                  { b.playing = false }

type fakeHaptics struct {
	startedMedium bool
}

func (h *fakeHaptics) StartMedium() { h.startedMedium = true }

type fakeBacklight struct {
	percent int
}

func (b *fakeBacklight) SetBacklight(percent int) { b.percent = percent }

type fakeChargerEnable struct {
	enabled bool
}

func (c *fakeChargerEnable) Enable()  { c.enabled = true }
func (c *fakeChargerEnable) Disable() { c.enabled = false }

type fakeFlightLink struct {
	connected bool
}

func (f *fakeFlightLink) LinkConnected() bool { return f.connected }

type fakeShortPin struct {
	name    string
	driven  bool
	pulled  bool
	willGet bool // state ReadPullup reports once Release'd
}

func (p *fakeShortPin) DriveLow()        { p.driven = true; p.pulled = false }
func (p *fakeShortPin) Release()         { p.driven = false; p.pulled = true }
func (p *fakeShortPin) ReadPullup() bool { return p.pulled && p.willGet }

func newTestSession() (*Session, *fakeLEDs, *fakeBuzzer, *fakeHaptics, *fakeBacklight, *fakeChargerEnable, *fakeFlightLink, *link.Manager) {
	leds := &fakeLEDs{}
	buzzer := &fakeBuzzer{}
	haptics := &fakeHaptics{}
	backlight := &fakeBacklight{}
	charger := &fakeChargerEnable{}
	flightLink := &fakeFlightLink{}
	mgr := link.NewManager()
	s := NewSession(leds, buzzer, haptics, backlight, charger, mgr, flightLink, nil)
	s.Wire(mgr)
	return s, leds, buzzer, haptics, backlight, charger, flightLink, mgr
}

func TestOnOutputTestDrivesLEDsBuzzerAndMotor(t *testing.T) {
	s, leds, buzzer, haptics, _, _, _, _ := newTestSession()

	s.OnOutputTest([]byte{0x01, 0x20, 0x40, 0x01, 2})

	if !leds.white[button.Power] {
		t.Fatal("expected white LED bit 0 (Power) to be set")
	}
	if !leds.green[button.B] {
		t.Fatal("expected green LED bit 5 (B) to be set")
	}
	if leds.white[button.Fly] {
		t.Fatal("expected white LED bit 1 (Fly) to stay clear")
	}

	wantHz := uint32(0x0140)
	if buzzer.hz != wantHz || !buzzer.playing {
		t.Fatalf("expected buzzer at %d Hz playing, got hz=%d playing=%v", wantHz, buzzer.hz, buzzer.playing)
	}
	if !haptics.startedMedium {
		t.Fatal("expected a nonzero motorSeconds to start the medium haptic pattern")
	}
}

func TestOnOutputTestZeroBuzzerStops(t *testing.T) {
	s, _, buzzer, haptics, _, _, _, _ := newTestSession()
	buzzer.playing = true

	s.OnOutputTest([]byte{0, 0, 0, 0, 0})

	if buzzer.playing {
		t.Fatal("expected a zero buzzerHz to stop the buzzer")
	}
	if haptics.startedMedium {
		t.Fatal("expected a zero motorSeconds to not start the haptic pattern")
	}
}

func TestOnOutputTestIgnoresShortPayload(t *testing.T) {
	s, leds, _, _, _, _, _, _ := newTestSession()
	s.OnOutputTest([]byte{0xff, 0xff, 0, 0})
	if leds.white[button.Power] {
		t.Fatal("expected a too-short payload to be ignored entirely")
	}
}

func TestOnGpioTestBacklight(t *testing.T) {
	s, _, _, _, backlight, _, _, _ := newTestSession()

	s.OnGpioTest([]byte{byte(GpioLedBacklight), 1})
	if backlight.percent != 100 {
		t.Fatalf("expected backlight on to set 100%%, got %d", backlight.percent)
	}

	s.OnGpioTest([]byte{byte(GpioLedBacklight), 0})
	if backlight.percent != 0 {
		t.Fatalf("expected backlight off to set 0%%, got %d", backlight.percent)
	}
}

func TestOnGpioTestChargerEnable(t *testing.T) {
	s, _, _, _, _, charger, _, _ := newTestSession()

	s.OnGpioTest([]byte{byte(GpioChargerEnable), 1})
	if !charger.enabled {
		t.Fatal("expected a nonzero level to enable the charger")
	}

	s.OnGpioTest([]byte{byte(GpioChargerEnable), 0})
	if charger.enabled {
		t.Fatal("expected a zero level to disable the charger")
	}
}

func TestCheckForShortsPassesWhenAllPullUp(t *testing.T) {
	s, _, _, _, _, _, flightLink, mgr := newTestSession()
	flightLink.connected = false

	pins := []*fakeShortPin{
		{name: "a", willGet: true},
		{name: "b", willGet: true},
		{name: "c", willGet: true},
	}
	group := make([]ShortPin, len(pins))
	for i, p := range pins {
		group[i] = p
	}

	s.CheckForShorts([][]ShortPin{group})

	if s.result != Pass {
		t.Fatalf("expected Pass, got %v", s.result)
	}
	if !mgr.TXReady() {
		t.Fatal("expected CheckForShorts to request a transaction")
	}
}

func TestCheckForShortsFailsOnStuckLowPin(t *testing.T) {
	s, _, _, _, _, _, _, _ := newTestSession()

	pins := []*fakeShortPin{
		{name: "a", willGet: true},
		{name: "b", willGet: false}, // shorted, never pulls up
		{name: "c", willGet: true},
	}
	group := make([]ShortPin, len(pins))
	for i, p := range pins {
		group[i] = p
	}

	s.CheckForShorts([][]ShortPin{group})

	if s.result != Fail {
		t.Fatalf("expected Fail, got %v", s.result)
	}
}

func TestCheckForShortsSkippedWhenLinkConnected(t *testing.T) {
	s, _, _, _, _, _, flightLink, _ := newTestSession()
	flightLink.connected = true
	s.result = Pass // sentinel: should remain untouched

	s.CheckForShorts([][]ShortPin{{&fakeShortPin{willGet: true}}})

	if s.result != Pass {
		t.Fatal("expected CheckForShorts to no-op while the flight link is connected")
	}
}

func TestProduceReportsResultOnceThenGoesQuiet(t *testing.T) {
	s, _, _, _, _, _, _, mgr := newTestSession()
	s.result = Fail
	mgr.RequestTransaction()

	payload, ok := mgr.Produce()
	if !ok {
		t.Fatal("expected a pending SelfTest result to produce a frame")
	}
	want := link.Encode(link.SelfTest, []byte{byte(Fail)})
	if string(payload) != string(want) {
		t.Fatalf("expected a SelfTest/Fail frame %v, got %v", want, payload)
	}

	if s.result != None {
		t.Fatal("expected produce to reset the pending result")
	}
}

func TestOnSelfTestRunsTheConfiguredPinGroups(t *testing.T) {
	leds := &fakeLEDs{}
	buzzer := &fakeBuzzer{}
	haptics := &fakeHaptics{}
	backlight := &fakeBacklight{}
	charger := &fakeChargerEnable{}
	flightLink := &fakeFlightLink{}
	mgr := link.NewManager()
	group := []ShortPin{&fakeShortPin{willGet: true}, &fakeShortPin{willGet: true}}
	s := NewSession(leds, buzzer, haptics, backlight, charger, mgr, flightLink, [][]ShortPin{group})
	s.Wire(mgr)

	s.OnSelfTest(nil)

	if s.result != Pass {
		t.Fatalf("expected the wired pin groups to be scanned and pass, got %v", s.result)
	}
}
