package adcsvc

import (
	"testing"

	"seedhammer.com/params"
	"seedhammer.com/tick"
)

type fakeBattery struct {
	gated  bool
	called bool
}

func (f *fakeBattery) SamplesGated() bool { return f.gated }
func (f *fakeBattery) OnCellSamples(bottom, top, thermistor, packID uint16) {
	f.called = true
}

func defaultValues() params.StoredValues {
	var v params.StoredValues
	for i := range v.Sticks {
		v.Sticks[i] = params.StickCalibration{Min: 100, Trim: 550, Max: 1000}
	}
	for i := range v.RCSticks {
		v.RCSticks[i] = params.StickConfig{Input: uint8(i), Direction: 1, Expo: 0}
	}
	return v
}

func TestOnSamplesRoutesToSticksAndBattery(t *testing.T) {
	bat := &fakeBattery{gated: true}
	var invalidCalls int
	s := NewSampler(bat, func(raw RawChannel, mapped StickID, value, trim, min, max uint16) {
		invalidCalls++
	})
	s.Configure(defaultValues())

	var raw [NumRawChannels]uint16
	raw[RawRC0] = 550
	raw[RawRC1] = 550
	raw[RawRC2] = 550
	raw[RawRC3] = 550
	raw[RawGimbalPitch] = 550
	raw[RawGimbalRate] = 550
	raw[RawCellBottom] = 1000
	raw[RawCellTop] = 2000
	raw[RawThermistor] = 300
	raw[RawPackID] = 500

	s.OnSamples(raw)

	if !bat.called {
		t.Fatal("battery should receive samples when gated")
	}
	if !s.FlightControlValid() {
		t.Fatal("flight controls should be valid at center stick")
	}
	frame, ok := s.RCFrame(tick.Count(0))
	if !ok {
		t.Fatal("RCFrame should be emitted when valid")
	}
	for i, v := range frame {
		if v != 1500 {
			t.Fatalf("frame[%d] = %d, want 1500", i, v)
		}
	}
	if invalidCalls != 0 {
		t.Fatalf("invalidCalls = %d, want 0", invalidCalls)
	}
}

func TestOutOfRangeWithholdsRCFrame(t *testing.T) {
	bat := &fakeBattery{}
	s := NewSampler(bat, nil)
	s.Configure(defaultValues())

	var raw [NumRawChannels]uint16
	raw[RawRC0] = 0 // far below min
	raw[RawRC1] = 550
	raw[RawRC2] = 550
	raw[RawRC3] = 550
	s.OnSamples(raw)

	if _, ok := s.RCFrame(tick.Count(0)); ok {
		t.Fatal("RCFrame should be withheld when a flight axis is invalid")
	}
}

func TestSuppressRCUntilWithholdsFrameUntilDeadline(t *testing.T) {
	bat := &fakeBattery{}
	s := NewSampler(bat, nil)
	s.Configure(defaultValues())

	var raw [NumRawChannels]uint16
	raw[RawRC0] = 550
	raw[RawRC1] = 550
	raw[RawRC2] = 550
	raw[RawRC3] = 550
	s.OnSamples(raw)

	now := tick.Count(1000)
	s.SuppressRCUntil(now)

	if _, ok := s.RCFrame(now); ok {
		t.Fatal("RCFrame should be withheld immediately after SuppressRCUntil")
	}
	if _, ok := s.RCFrame(now + rcSuppressHold - 1); ok {
		t.Fatal("RCFrame should still be withheld just before the deadline")
	}
	frame, ok := s.RCFrame(now + rcSuppressHold)
	if !ok {
		t.Fatal("RCFrame should resume once the suppression deadline passes")
	}
	for i, v := range frame {
		if v != 1500 {
			t.Fatalf("frame[%d] = %d, want 1500", i, v)
		}
	}
}

func TestBatteryNotCalledWhenGateClosed(t *testing.T) {
	bat := &fakeBattery{gated: false}
	s := NewSampler(bat, nil)
	s.Configure(defaultValues())
	var raw [NumRawChannels]uint16
	s.OnSamples(raw)
	if bat.called {
		t.Fatal("battery should not be sampled while gate is closed")
	}
}
