// package stick implements per-axis stick calibration: raw-ADC to
// signed linear value, dead-zone around trim, expo curve, and sticky
// out-of-range detection.
package stick

import "seedhammer.com/params"

// Axis is one calibrated control input (throttle, roll, pitch, yaw,
// gimbal-pitch, or gimbal-rate).
type Axis struct {
	cal   params.StickCalibration
	expo  float64 // 0 = linear, up to ~1 = strong expo
	slop  uint16  // tolerance beyond min/max before flagging invalid
	invalid bool
	everInvalid bool
}

// DefaultSlop is the ADC-count tolerance beyond the calibrated
// min/max before a reading is considered out of range.
const DefaultSlop = 32

// Configure (re)applies calibration and expo to the axis and clears
// sticky invalidity, matching the effect of a user recalibration.
func (a *Axis) Configure(cal params.StickCalibration, expo float64) {
	a.cal = cal
	a.expo = expo
	a.slop = DefaultSlop
	a.invalid = false
	a.everInvalid = false
}

// Update maps a raw ADC reading to a signed value in [-1, 1] after
// dead-zone and expo. It reports whether this call is the first
// transition into the invalid state (out of [min-slop, max+slop]);
// invalidity is sticky until the next Configure.
func (a *Axis) Update(raw uint16) (value float64, firstInvalid bool) {
	lo := a.cal.Min
	if a.slop <= lo {
		lo -= a.slop
	} else {
		lo = 0
	}
	hi := a.cal.Max + a.slop
	outOfRange := raw < lo || raw > hi
	if outOfRange {
		firstInvalid = !a.everInvalid
		a.invalid = true
		a.everInvalid = true
	}

	value = normalize(raw, a.cal)
	value = deadzone(value, a.cal)
	value = applyExpo(value, a.expo)
	return value, firstInvalid
}

// Invalid reports whether the axis is currently flagged invalid.
// Sticky: once set, it is only cleared by Configure (recalibration).
func (a *Axis) Invalid() bool { return a.invalid }

// normalize maps raw into [-1,1] around trim, scaled by the larger of
// the two half-ranges so a reading exactly at min or max saturates.
func normalize(raw uint16, cal params.StickCalibration) float64 {
	if raw >= cal.Trim {
		span := float64(cal.Max) - float64(cal.Trim)
		if span <= 0 {
			return 0
		}
		v := (float64(raw) - float64(cal.Trim)) / span
		return clamp(v, -1, 1)
	}
	span := float64(cal.Trim) - float64(cal.Min)
	if span <= 0 {
		return 0
	}
	v := (float64(raw) - float64(cal.Trim)) / span
	return clamp(v, -1, 1)
}

// deadZoneFraction is the fraction of full travel around trim that is
// clamped to zero.
const deadZoneFraction = 0.02

func deadzone(v float64, cal params.StickCalibration) float64 {
	if v > -deadZoneFraction && v < deadZoneFraction {
		return 0
	}
	// Rescale so the output still reaches +-1 at the extremes.
	if v > 0 {
		return clamp((v-deadZoneFraction)/(1-deadZoneFraction), 0, 1)
	}
	return clamp((v+deadZoneFraction)/(1-deadZoneFraction), -1, 0)
}

// applyExpo blends linear and cubic response by expo in [0,1].
func applyExpo(v float64, expo float64) float64 {
	if expo <= 0 {
		return v
	}
	cubic := v * v * v
	return v*(1-expo) + cubic*expo
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

// RC encodes a normalized [-1,1] axis value to a PPM-style
// 1000-2000 unit value for the host wire format.
func RC(value float64) uint16 {
	return uint16(1500 + value*500)
}

// GimbalDefault is the fallback value reported for a gimbal axis when
// its input is invalid.
const GimbalDefault = 0
