// package battery implements the battery/charger manager (component
// G): cell sampling, balancing, thermal lockout, pack identification,
// the voltage->SoC curve lookup, and failsafe-to-shutdown on
// undervoltage. There is exactly one Manager instance for the process
// lifetime.
package battery

import (
	"seedhammer.com/ui"
)

// Charger is the hardware surface the manager drives: the enable
// line, the two balancing shunts, and the charger-present sense input.
// Implementations own the GPIOs exclusively.
type Charger interface {
	Enable()
	Disable()
	Enabled() bool
	Present() bool
	SetShuntBottom(bool)
	SetShuntTop(bool)
}

// ShutdownRequester is called to schedule the Shutdown task on
// undervoltage with no charger present.
type ShutdownRequester interface {
	RequestShutdown()
}

const (
	// disconnectThreshold: thermal or pack-id readings at or above
	// this are "battery disconnected" (both lines are pulled up).
	disconnectThreshold = 4000

	// Sampling is only trusted COUNTER_SAMPLE_ENABLED ticks after the
	// 50Hz prep sequence begins; the charger is disabled a few ticks
	// earlier so cell readings settle.
	counterPrepareToSample = 45
	counterSampleEnabled   = 50

	thermalChgLimit = 562

	uVoltOverVoltage  = 4100 * 1000
	uVoltUnderVoltage = 3200 * 1000
	uVoltBalancing    = 20 * 1000

	// UI alert thresholds, relative to the clamped 0-100 display
	// scale that discards the lowest 10% of raw for headroom.
	uiBattLvlOffset  = 10
	FailsafePercent  = 0 + uiBattLvlOffset
	CriticalPercent  = 6 + uiBattLvlOffset
	DismissTooLow    = 20 + uiBattLvlOffset

	mmaWindow          = 10
	minLevelDiffUpdate = 3
)

// Manager owns cell-sum sampling state and charger policy. The zero
// value is not usable; construct with NewManager.
type Manager struct {
	charger  Charger
	shutdown ShutdownRequester
	ui       *ui.Queue

	thermal uint16
	packID  PackID

	cellSum uint
	level   int // -1 (represented as -1) until first sample
	filt    movingAvg
	stableCount uint

	sampleCount uint
	chgPresent  bool
	thermalLockout bool

	lastBottom, lastTop uint16
}

// NewManager constructs a Manager. Init must be called once hardware
// is ready.
func NewManager(charger Charger, shutdown ShutdownRequester, q *ui.Queue) *Manager {
	return &Manager{
		charger:     charger,
		shutdown:    shutdown,
		ui:          q,
		level:       -1,
		sampleCount: counterSampleEnabled - 1,
	}
}

// Init disables the charger and balancing shunts and records the
// initial charger-present state.
func (m *Manager) Init() {
	m.charger.Disable()
	m.charger.SetShuntBottom(false)
	m.charger.SetShuntTop(false)
	m.chgPresent = m.charger.Present()
}

// PrepToSample advances the sample-gate counter. Called from the 50Hz
// heartbeat prior to kicking off an ADC round. At one count it
// disables the charger (it adds an offset to the cells); a few counts
// later it disables the shunts and opens the sample gate.
func (m *Manager) PrepToSample() {
	m.sampleCount++
	switch m.sampleCount {
	case counterPrepareToSample:
		m.charger.Disable()
	case counterSampleEnabled:
		m.charger.SetShuntBottom(false)
		m.charger.SetShuntTop(false)
	}
}

// SamplesGated reports whether the sample gate is open, i.e. the
// charger has been off long enough for cell readings to settle.
func (m *Manager) SamplesGated() bool {
	return m.sampleCount >= counterSampleEnabled
}

// batteryPresent reports whether a pack is physically connected,
// based on the thermistor and pack-id lines (both pulled up when
// disconnected).
func (m *Manager) batteryPresent() bool {
	return m.thermal < disconnectThreshold && int(m.packID) < disconnectThreshold
}

// Level returns the unclamped state of charge (0-100), or 0 if no
// battery is present.
func (m *Manager) Level() uint {
	if !m.batteryPresent() || m.level < 0 {
		return 0
	}
	return uint(m.level)
}

// UILevel clamps Level to [uiBattLvlOffset,100] and rescales to
// [0,100], leaving headroom to warn the user before the pack is
// actually dead.
func (m *Manager) UILevel() uint {
	l := m.Level()
	if l < uiBattLvlOffset {
		l = uiBattLvlOffset
	}
	return (l - uiBattLvlOffset) * 100 / (100 - uiBattLvlOffset)
}

// OnCellSamples processes one ADC round's cell/thermistor/pack-id
// reading. Must only be called while SamplesGated is true.
func (m *Manager) OnCellSamples(bottom, top, thermistor, packIDRaw uint16) {
	m.sampleCount = 0

	m.thermal = thermistor
	m.checkThermal()

	pid := classifyPackID(packIDRaw)
	if m.packID != pid {
		if m.batteryPresent() && pid == Unknown {
			m.ui.Pend(ui.UnknownBattery)
		}
		m.packID = pid
	}

	// Remove the bottom component from the top reading
	// (voltage-divider geometry).
	top -= bottom
	m.lastBottom, m.lastTop = bottom, top

	newSum := uint(bottom) + uint(top)
	if m.cellSum != newSum {
		m.cellSum = newSum
		lvl := lookupPercent(m.packID, uint16(newSum))
		if m.level < 0 {
			m.level = int(lvl)
			m.filt.reset(float64(lvl))
		} else {
			m.updateLevel(lvl)
		}
	}

	cp := m.charger.Present()
	if m.chgPresent != cp {
		m.ui.Pend(ui.ChargerConnChanged)
		if cp {
			m.ui.Pend(ui.ChargerConnected)
		}
		m.chgPresent = cp
	}

	if overVoltage(top) || overVoltage(bottom) {
		// Charger is already disabled during sampling; leave it off.
	} else if cp {
		if !m.thermalLockout {
			m.charger.Enable()
		}
	} else {
		if underVoltage(top) || underVoltage(bottom) {
			m.shutdown.RequestShutdown()
		}
		m.thermalLockout = false
	}

	m.doBalancing(bottom, top)
}

func (m *Manager) updateLevel(lvl uint) {
	m.stableCount++
	if m.stableCount < mmaWindow {
		return
	}
	m.filt.update(float64(lvl), 1.0/mmaWindow)
	avg := uint(m.filt.average() + 0.5)
	if m.stableCount == mmaWindow {
		m.onLevelChanged(avg)
		m.level = int(avg)
		return
	}
	diff := int(avg) - m.level
	if diff < 0 {
		diff = -diff
	}
	if diff >= minLevelDiffUpdate || (avg == 0 && m.level != 0) {
		m.onLevelChanged(avg)
		m.level = int(avg)
	}
}

func (m *Manager) onLevelChanged(lvl uint) {
	m.ui.Pend(ui.ArtooBatteryChanged)
	if !m.charger.Present() {
		clamped := clampLevel(lvl)
		if clamped <= FailsafePercent {
			m.ui.Pend(ui.ControllerBatteryFailsafe)
			return
		}
		if clamped <= CriticalPercent {
			m.ui.Pend(ui.ControllerBatteryCritical)
			return
		}
	}
}

// ChargerPresent reports the most recently sampled charger-present
// state. Satisfies power.BatteryStatus.
func (m *Manager) ChargerPresent() bool { return m.chgPresent }

// CriticallyLow reports whether the battery is at or below
// CriticalPercent with no charger present — one of the two boot/
// shutdown conditions power.DecideBootOutcome checks. Before the
// first cell sample (level == -1), this reports false; boot-time
// callers are expected to have sampled once before asking.
func (m *Manager) CriticallyLow() bool {
	if m.chgPresent || m.level < 0 {
		return false
	}
	return clampLevel(uint(m.level)) <= CriticalPercent
}

// UndervoltageNoCharger reports whether the voltage detector itself
// has tripped on the most recently sampled cell with no charger
// present, mirroring the under-voltage branch in OnCellSamples that
// triggers ShutdownRequester.
func (m *Manager) UndervoltageNoCharger() bool {
	if m.chgPresent {
		return false
	}
	return underVoltage(m.lastBottom) || underVoltage(m.lastTop)
}

func clampLevel(lvl uint) uint {
	if lvl < uiBattLvlOffset {
		return uiBattLvlOffset
	}
	return lvl
}

func (m *Manager) checkThermal() {
	if !m.thermalLockout && m.thermal < thermalChgLimit {
		m.thermalLockout = true
		m.ui.Pend(ui.BatteryThermalLimitExceeded)
	}
}

func (m *Manager) doBalancing(bottom, top uint16) {
	if !m.charger.Enabled() {
		return
	}
	if bottom > top {
		m.charger.SetShuntBottom(balancingRequired(bottom, top))
	} else {
		m.charger.SetShuntTop(balancingRequired(top, bottom))
	}
}

func balancingRequired(hi, lo uint16) bool {
	return uint(hi-lo)*microvoltsPerADCUnit >= uVoltBalancing
}

func underVoltage(cell uint16) bool {
	return uint(cell)*microvoltsPerADCUnit <= uVoltUnderVoltage
}

func overVoltage(cell uint16) bool {
	return uint(cell)*microvoltsPerADCUnit >= uVoltOverVoltage
}

// movingAvg is a modified moving average: each update nudges the
// running average toward the new sample by alpha.
type movingAvg struct {
	avg     float64
	primed  bool
}

func (f *movingAvg) reset(v float64) {
	f.avg = v
	f.primed = true
}

func (f *movingAvg) update(v, alpha float64) {
	if !f.primed {
		f.reset(v)
		return
	}
	f.avg += (v - f.avg) * alpha
}

func (f *movingAvg) average() float64 { return f.avg }
