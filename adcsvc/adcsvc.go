// package adcsvc implements the 50Hz round-robin ADC sampler. A single
// DMA-completion callback fans raw channel readings out to the stick
// axes and, when the battery's sample gate is open, to the battery
// manager.
package adcsvc

import (
	"seedhammer.com/params"
	"seedhammer.com/stick"
	"seedhammer.com/tick"
)

// RawChannel indexes the fixed DMA sample sequence.
type RawChannel int

const (
	RawRC0 RawChannel = iota
	RawRC1
	RawRC2
	RawRC3
	RawGimbalPitch
	RawGimbalRate
	RawCellBottom
	RawCellTop
	RawThermistor
	RawPackID
	RawAmbientLight // sampled but not consumed by any core component

	NumRawChannels
)

// StickID names a logical, calibrated control axis.
type StickID int

const (
	Throttle StickID = iota
	Roll
	Pitch
	Yaw
	GimbalPitch
	GimbalRate

	NumSticks
)

// BatterySink receives cell samples once the battery manager's sample
// gate is open. Implemented by *battery.Manager.
type BatterySink interface {
	OnCellSamples(bottom, top, thermistor, packID uint16)
	SamplesGated() bool
}

// InvalidStickFunc is called the first time a stick's raw input
// transitions to invalid.
type InvalidStickFunc func(raw RawChannel, mapped StickID, value, trim, min, max uint16)

// Sampler owns the six calibrated axes, routes raw samples, and caches
// each axis's last normalized value for the producers that run later
// in the same foreground pass.
type Sampler struct {
	axes      [NumSticks]stick.Axis
	values    [NumSticks]float64
	cals      [NumSticks]params.StickCalibration
	rawOf     [4]RawChannel // which raw RC channel feeds Throttle/Roll/Pitch/Yaw
	battery   BatterySink
	onInvalid InvalidStickFunc

	rcSuppressed  bool
	rcSuppressEnd tick.Count

	lastRaw [NumRawChannels]uint16
}

// NewSampler constructs a Sampler with the default RC channel mapping
// (RawRC0..RawRC3 -> Throttle..Yaw); call Configure to apply stored
// stick assignments.
func NewSampler(battery BatterySink, onInvalid InvalidStickFunc) *Sampler {
	s := &Sampler{battery: battery, onInvalid: onInvalid}
	s.rawOf = [4]RawChannel{RawRC0, RawRC1, RawRC2, RawRC3}
	return s
}

// Configure applies stored calibration and input-channel assignment
// for the four RC sticks and the two direct gimbal axes.
func (s *Sampler) Configure(v params.StoredValues) {
	for id := StickID(0); id < 4; id++ {
		cfg := v.RCSticks[id]
		if cfg.Valid() {
			s.rawOf[id] = RawChannel(cfg.Input)
		}
		expo := 0.0
		if cfg.Valid() {
			expo = float64(cfg.Expo) / 255
		}
		s.cals[id] = v.Sticks[id]
		s.axes[id].Configure(v.Sticks[id], expo)
	}
	for _, id := range [...]StickID{GimbalPitch, GimbalRate} {
		s.cals[id] = v.Sticks[id]
		s.axes[id].Configure(v.Sticks[id], 0)
	}
}

// Axis exposes the calibrated axis state, e.g. for Invalid().
func (s *Sampler) Axis(id StickID) *stick.Axis {
	return &s.axes[id]
}

// OnSamples is called from the ADC DMA-completion ISR with one
// round-robin pass of raw readings. It remaps the four RC channels
// through the stored configuration, updates gimbal axes directly, and
// forwards cell measurements to the battery manager if its sample
// gate is open.
func (s *Sampler) OnSamples(raw [NumRawChannels]uint16) {
	s.lastRaw = raw
	for id := StickID(0); id < 4; id++ {
		ch := s.rawOf[id]
		v, first := s.axes[id].Update(raw[ch])
		s.values[id] = v
		if first && s.onInvalid != nil {
			cal := s.cals[id]
			s.onInvalid(ch, id, raw[ch], cal.Trim, cal.Min, cal.Max)
		}
	}
	for _, id := range [...]StickID{GimbalPitch, GimbalRate} {
		ch := RawGimbalPitch
		if id == GimbalRate {
			ch = RawGimbalRate
		}
		v, first := s.axes[id].Update(raw[ch])
		s.values[id] = v
		if first && s.onInvalid != nil {
			cal := s.cals[id]
			s.onInvalid(ch, id, raw[ch], cal.Trim, cal.Min, cal.Max)
		}
	}

	if s.battery != nil && s.battery.SamplesGated() {
		s.battery.OnCellSamples(raw[RawCellBottom], raw[RawCellTop], raw[RawThermistor], raw[RawPackID])
	}
}

// FlightControlValid reports whether throttle, roll, pitch and yaw
// are all currently in range. While false, the RC frame must be
// withheld from the host entirely (§4.4).
func (s *Sampler) FlightControlValid() bool {
	for id := StickID(0); id < 4; id++ {
		if s.axes[id].Invalid() {
			return false
		}
	}
	return true
}

// rcSuppressHold is how long SuppressRCUntil withholds the RC frame
// after a recalibration, long enough for the host to have applied the
// new limits before the vehicle sees a live frame again. Generalizes
// RcLock.cpp's persistent, file-based lock (meant for a software
// version mismatch, not recalibration) to this module's tick-deadline
// idiom; see DESIGN.md for the reinterpretation.
const rcSuppressHold = tick.Count(tick.Hz / 2) // 500ms

// SuppressRCUntil withholds RCFrame's output starting now through
// rcSuppressHold ticks later, e.g. right after Configure applies a
// fresh stick calibration.
func (s *Sampler) SuppressRCUntil(now tick.Count) {
	s.rcSuppressed = true
	s.rcSuppressEnd = now + rcSuppressHold
}

// RCFrame encodes throttle/roll/pitch/yaw as PPM-style 1000-2000
// values from the last sampled pass, or ok=false if any flight-control
// axis is invalid or a suppression window from SuppressRCUntil is
// still in effect (the frame must not be emitted at all in either
// case).
func (s *Sampler) RCFrame(now tick.Count) (frame [4]uint16, ok bool) {
	if s.rcSuppressed {
		if now.Before(s.rcSuppressEnd) {
			return frame, false
		}
		s.rcSuppressed = false
	}
	if !s.FlightControlValid() {
		return frame, false
	}
	for id := StickID(0); id < 4; id++ {
		frame[id] = stick.RC(s.values[id])
	}
	return frame, true
}

// LastRaw returns the most recent raw DMA sample pass, for the raw-IO
// factory report (§6.2 tags SetRawIo/RawIoReport).
func (s *Sampler) LastRaw() [NumRawChannels]uint16 { return s.lastRaw }

// GimbalValue returns the last sampled gimbal axis value, or
// stick.GimbalDefault if the axis is currently invalid.
func (s *Sampler) GimbalValue(id StickID) float64 {
	if s.axes[id].Invalid() {
		return stick.GimbalDefault
	}
	return s.values[id]
}
