// package gimbal implements camera-gimbal tilt control (component M):
// rate integration from a stick input with circular ease-out near
// either end of travel, preset sweep animations with an ease-in-out
// interpolator, and a gimbal-follower mode that eases toward the
// vehicle-reported angle after a quiet period.
//
// Grounded on original_source/artoo/src/cameracontrol.{h,cpp}.
package gimbal

import (
	"math"

	"seedhammer.com/button"
	"seedhammer.com/params"
	"seedhammer.com/tick"
	"seedhammer.com/ui"
)

const (
	MinAngle = 0.0
	MaxAngle = 90.0

	// InitAngle is the camera's assumed starting tilt at boot, before
	// any telemetry or user input has been observed.
	InitAngle = 80.0

	// cameraGain tunes the overall rate-to-angle scale.
	cameraGain = 45.0

	// rateMargin is how many degrees from either end of travel the
	// circular ease-out ramp applies over.
	rateMargin = 30.0

	// maxAccelPerTick bounds how fast cameraRate can change per tick,
	// avoiding a step response to stick input.
	maxAccelPerTick = 6.0

	// tickMillis is the fixed per-tick duration this package assumes,
	// matching the 50Hz heartbeat it runs on.
	tickMillis = 1000 / 50

	gimbalFollowerMillis    = 250
	gimbalFollowLockoutMillis = 3000
	gimbalReturnToInitMillis  = 3000

	// sweepStableTicks is how many consecutive task ticks a new
	// smoothed sweep-second reading must hold before it's accepted,
	// suppressing flicker from noisy rate-dial input.
	sweepStableTicks = 15

	emaAlpha = 0.7
)

// TweenSource identifies what's driving the active position tween.
type TweenSource uint8

const (
	TweenNone TweenSource = iota
	TweenPreset
	TweenGimbalFollower
	TweenReturnInit
)

// PresetID identifies one of the two user-capturable tilt presets.
type PresetID uint8

const (
	Preset1 PresetID = iota
	Preset2
	numPresets
)

// easeInOutQuad is the standard quadratic ease-in-out, t in [0,1].
// Not transcribed from the original firmware: its tween.h is absent
// from the retrieved source, so this is a well-known substitute
// formula rather than a verbatim port.
func easeInOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - 2*(1-t)*(1-t)
}

// easeOutCirc is a circular ease-out: fast start, flattening toward 1.
func easeOutCirc(t float64) float64 {
	t = clamp(t, 0, 1)
	return math.Sqrt(1 - (t-1)*(t-1))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isWithin(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

// tween eases a single float from start to target over a fixed number
// of ticks using easeInOutQuad.
type tween struct {
	start, target float64
	durTicks      int
	elapsed       int
	source        TweenSource
	active        bool
}

func (t *tween) done() bool { return !t.active || t.elapsed >= t.durTicks }

func (t *tween) step() float64 {
	if t.durTicks <= 0 {
		t.active = false
		return t.target
	}
	frac := clamp(float64(t.elapsed)/float64(t.durTicks), 0, 1)
	v := t.start + (t.target-t.start)*easeInOutQuad(frac)
	t.elapsed++
	if t.elapsed >= t.durTicks {
		t.active = false
	}
	return v
}

func (t *tween) reset() { *t = tween{} }

// Haptics is the subset of the haptic player the gimbal drives
// directly: a short pulse at travel limits, a medium pulse on preset
// capture.
type Haptics interface {
	StartShort()
	StartMedium()
}

// Session owns the gimbal's angle/rate state, the active tween, and
// the smoothed sweep-time estimate. The zero value is not usable;
// construct with NewSession.
type Session struct {
	store *params.Store

	angle float64
	rate  float64
	pos   tween

	minSweepMillis, maxSweepMillis float64

	smoothedSweepSec    float64
	sweepSecInitialized bool
	nextSweepSec        float64
	sweepSecStableCount int
	committedSweepSec   float64

	inputActive       bool
	suppressed        bool
	lastWriteTime     tick.Count
	haveLastWriteTime bool

	events  *ui.Queue
	haptics Haptics
}

// NewSession constructs a Session at InitAngle, loading the sweep
// configuration from store. haptics may be nil.
func NewSession(events *ui.Queue, store *params.Store, haptics Haptics) *Session {
	s := &Session{
		angle:   InitAngle,
		store:   store,
		events:  events,
		haptics: haptics,
	}
	s.loadSweepConfig()
	return s
}

// ReloadSweepConfig re-reads the sweep-duration bounds from store,
// for when the host pushes a fresh ConfigSweepTime (§6.2 tag 21)
// after construction.
func (s *Session) ReloadSweepConfig() { s.loadSweepConfig() }

func (s *Session) loadSweepConfig() {
	c := s.store.Values().SweepConfig
	if !c.Valid() {
		c = params.SweepConfig{MinSweepSec: 3, MaxSweepSec: 90}
	}
	s.minSweepMillis = float64(c.MinSweepSec) * 1000
	s.maxSweepMillis = float64(c.MaxSweepSec) * 1000
}

// Angle returns the current tilt angle, in [MinAngle, MaxAngle].
func (s *Session) Angle() float64 { return s.angle }

// Suppressed reports whether gimbal control is currently suppressed
// because an active shot (e.g. a cable-cam FOLLOW shot) owns the
// gimbal.
func (s *Session) Suppressed() bool { return s.suppressed }

// OnShotChanged updates suppression from the active shot's name, as
// forwarded by the set-shot-info downlink (§6.2 tag 17).
func (s *Session) OnShotChanged(shot string) {
	s.suppressed = containsFollow(shot)
}

func containsFollow(s string) bool {
	const want = "FOLLOW"
	for i := 0; i+len(want) <= len(s); i++ {
		if s[i:i+len(want)] == want {
			return true
		}
	}
	return false
}

func (s *Session) maxRate(inputRate float64) float64 {
	switch {
	case s.angle < rateMargin && inputRate < 0:
		return easeOutCirc(s.angle / rateMargin)
	case s.angle > MaxAngle-rateMargin && inputRate > 0:
		return easeOutCirc((MaxAngle - s.angle) / rateMargin)
	default:
		return 1
	}
}

func (s *Session) updateRate(inputRate float64) float64 {
	desired := s.maxRate(inputRate) * (inputRate * cameraGain)
	switch {
	case desired > s.rate:
		if v := s.rate + maxAccelPerTick; v < desired {
			desired = v
		}
	case desired < s.rate:
		if v := s.rate - maxAccelPerTick; v > desired {
			desired = v
		}
	}
	return desired
}

// Tick runs the per-heartbeat integration step. inputRate and
// rateDialInput are both normalized [-1,1] stick readings; now is the
// current tick count, used to gate the gimbal-follower lockout.
func (s *Session) Tick(inputRate float64, now tick.Count) {
	newInputActive := inputRate != 0
	if s.inputActive != newInputActive {
		s.inputActive = newInputActive
		if s.inputActive {
			s.lastWriteTime, s.haveLastWriteTime = now, true
			s.events.Pend(ui.GimbalInput)
		}
	}

	if s.inputActive {
		s.pos.reset()
	}

	var newAngle float64
	if !s.pos.done() {
		newAngle = s.pos.step()
		s.lastWriteTime, s.haveLastWriteTime = now, true
	} else {
		s.rate = s.updateRate(inputRate)
		newAngle = s.angle + s.rate*0.02
	}

	newAngle = clamp(newAngle, MinAngle, MaxAngle)
	if s.inputActive && !s.suppressed {
		if !isWithin(s.angle, newAngle, 1e-6) {
			if newAngle == MinAngle || newAngle == MaxAngle {
				if s.haptics != nil {
					s.haptics.StartShort()
				}
			}
		}
	}
	s.angle = newAngle
}

// UpdateSweepDial recomputes the smoothed preset-sweep-time estimate
// from the rate dial, gated by a stability counter so a flickering
// dial reading doesn't flicker the displayed seconds.
func (s *Session) UpdateSweepDial(rateDialInput float64) {
	millis := s.presetSweepMillis(rateDialInput)
	target := millis / 1000
	s.smoothedSweepSec = ema(s.smoothedSweepSec, target, emaAlpha, !s.sweepSecInitialized)
	s.sweepSecInitialized = true

	seconds := math.Round(s.smoothedSweepSec)
	if seconds == s.committedSweepSec {
		s.sweepSecStableCount = 0
		return
	}
	if seconds == s.nextSweepSec {
		s.sweepSecStableCount++
	} else {
		s.nextSweepSec = seconds
		s.sweepSecStableCount = 1
	}
	if s.sweepSecStableCount >= sweepStableTicks {
		s.sweepSecStableCount = 0
		s.committedSweepSec = seconds
		s.events.Pend(ui.GimbalInput)
	}
}

func ema(avg, sample, alpha float64, first bool) float64 {
	if first {
		return sample
	}
	return avg + alpha*(sample-avg)
}

// SmoothedSweepSeconds is the currently committed, debounced preset
// sweep duration in whole seconds.
func (s *Session) SmoothedSweepSeconds() int { return int(s.committedSweepSec) }

// presetSweepMillis is the time to sweep between the two persisted
// preset angles at the given rate-dial setting, clamped to the
// configured [min,max] sweep range.
func (s *Session) presetSweepMillis(rateDialInput float64) float64 {
	presets := s.store.Values().Presets
	return clamp(
		s.sweepMillis(float64(presets[Preset1].TargetAngle), float64(presets[Preset2].TargetAngle), rateDialInput),
		s.minSweepMillis, s.maxSweepMillis)
}

func (s *Session) sweepMillis(a1, a2, rateDialInput float64) float64 {
	maxTime := s.minSweepMillis + rateDialInput*(s.maxSweepMillis-s.minSweepMillis)
	distScale := math.Abs(a1-a2) / MaxAngle
	return maxTime * distScale
}

// IsActive reports whether the user is actively driving the gimbal,
// by paddle input or an in-progress tween.
func (s *Session) IsActive() bool { return s.inputActive || !s.pos.done() }

func (s *Session) beginEaseToTarget(target float64, millis float64, src TweenSource) {
	if isWithin(s.angle, target, 1.0) {
		return
	}
	durTicks := int(millis / tickMillis)
	s.pos = tween{start: s.angle, target: target, durTicks: durTicks, source: src, active: true}
}

// BeginPreset starts a sweep to preset id's captured angle, at a
// duration derived from the rate dial and the distance to travel.
func (s *Session) BeginPreset(id PresetID, rateDialInput float64) {
	preset := s.store.Values().Presets[id]
	if !preset.Valid() {
		return
	}
	duration := s.sweepMillis(float64(preset.TargetAngle), s.angle, rateDialInput)
	s.beginEaseToTarget(float64(preset.TargetAngle), duration, TweenPreset)
	s.events.Pend(ui.GimbalInput)
}

// CapturePreset stores the current angle into preset id.
func (s *Session) CapturePreset(id PresetID) {
	s.store.Update(func(v *params.StoredValues) {
		v.Presets[id] = params.CameraPreset{TargetAngle: float32(s.angle)}
	})
	if s.haptics != nil {
		s.haptics.StartMedium()
	}
	s.events.Pend(ui.GimbalInput)
}

// ReturnToInit eases back to InitAngle, unless the user or a tween is
// currently active.
func (s *Session) ReturnToInit() {
	if s.IsActive() {
		return
	}
	s.beginEaseToTarget(InitAngle, gimbalReturnToInitMillis, TweenReturnInit)
}

// OnVehicleGimbalAngleChanged implements the gimbal-follower behavior:
// after a quiet period with no user input or competing tween, ease
// toward the vehicle's reported angle.
func (s *Session) OnVehicleGimbalAngleChanged(reportedAngle float64, valid bool, now tick.Count) {
	if !valid || s.suppressed {
		return
	}
	if s.haveLastWriteTime && now.Since(s.lastWriteTime) < tick.Ms(gimbalFollowLockoutMillis) {
		return
	}
	if !s.pos.done() && s.pos.source != TweenGimbalFollower {
		return
	}
	s.beginEaseToTarget(reportedAngle, gimbalFollowerMillis, TweenGimbalFollower)
}

// WireButtons subscribes the preset buttons: a click begins a sweep,
// a hold captures the current angle.
func (s *Session) WireButtons(m *button.Manager, rateDialInput func() float64) {
	m.Subscribe(button.ClickRelease, func(id button.ID, evt button.Event, mask uint16) bool {
		switch id {
		case button.Preset1:
			s.BeginPreset(Preset1, rateDialInput())
		case button.Preset2:
			s.BeginPreset(Preset2, rateDialInput())
		}
		return false
	})
	m.Subscribe(button.Hold, func(id button.ID, evt button.Event, mask uint16) bool {
		switch id {
		case button.Preset1:
			s.CapturePreset(Preset1)
		case button.Preset2:
			s.CapturePreset(Preset2)
		}
		return false
	})
}
