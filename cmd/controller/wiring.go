package main

import (
	"bytes"
	"encoding/binary"
	"log"

	"seedhammer.com/adcsvc"
	"seedhammer.com/button"
	"seedhammer.com/gimbal"
	"seedhammer.com/link"
	"seedhammer.com/params"
	"seedhammer.com/ring"
	"seedhammer.com/tick"
	"seedhammer.com/ui"
)

// firmwareVersion and hardwareVersion answer SysInfo (§6.2 tag 3); a
// real build stamps these at link time.
const (
	firmwareVersion = "0.0.0-dev"
	hardwareVersion = "handset-dev"
)

// lockout gates the three flight-affecting buttons while the host has
// asserted LockoutState (§6.2 tag 19), by consuming their events
// before flight.Session's own subscriber ever sees them. It must be
// wired (via WireButtons) before flight.Session.WireButtons.
type lockout struct {
	active bool
}

func (l *lockout) WireButtons(m *button.Manager) {
	m.Subscribe(button.Press, l.check)
	m.Subscribe(button.ClickRelease, l.check)
	m.Subscribe(button.Hold, l.check)
	m.Subscribe(button.LongHold, l.check)
}

func (l *lockout) check(id button.ID, evt button.Event, mask uint16) bool {
	if !l.active {
		return false
	}
	switch id {
	case button.Fly, button.RTL, button.Pause:
		return true
	}
	return false
}

func (l *lockout) OnLockoutState(payload []byte) {
	if len(payload) < 1 {
		return
	}
	l.active = payload[0] != 0
}

// sysInfo answers host SysInfo requests with the fixed unique-id/
// hw-version/fw-version string, encoded as three NUL-terminated
// fields concatenated in one payload.
type sysInfo struct {
	uniqueID string
	pending  bool
}

func (s *sysInfo) OnRequest(payload []byte) {
	s.pending = true
}

func (s *sysInfo) produce() (link.Frame, bool) {
	if !s.pending {
		return link.Frame{}, false
	}
	s.pending = false
	var buf bytes.Buffer
	buf.WriteString(s.uniqueID)
	buf.WriteByte(0)
	buf.WriteString(hardwareVersion)
	buf.WriteByte(0)
	buf.WriteString(firmwareVersion)
	buf.WriteByte(0)
	return link.Frame{Tag: link.SysInfo, Payload: buf.Bytes()}, true
}

// rawIO streams RawIoReport frames once the host has enabled them via
// SetRawIo, carrying every raw ADC channel plus the live button mask.
type rawIO struct {
	enabled bool
	sampler *adcsvc.Sampler
	buttons *button.Manager
}

func (r *rawIO) OnSetRawIo(payload []byte) {
	if len(payload) < 1 {
		return
	}
	r.enabled = payload[0] != 0
}

func (r *rawIO) produce() (link.Frame, bool) {
	if !r.enabled {
		return link.Frame{}, false
	}
	raw := r.sampler.LastRaw()
	buf := make([]byte, 0, 2*int(adcsvc.NumRawChannels)+2)
	for _, v := range raw {
		buf = binary.LittleEndian.AppendUint16(buf, v)
	}
	buf = binary.LittleEndian.AppendUint16(buf, r.buttons.Pressed())
	return link.Frame{Tag: link.RawIoReport, Payload: buf}, true
}

// storedParams answers the bidirectional ParamStoredVals tag: a host
// write replaces the whole struct, a host request (empty payload)
// triggers a reply with the current struct.
type storedParams struct {
	store   *params.Store
	sampler *adcsvc.Sampler
	clock   *tick.Clock
	pending bool
}

func (p *storedParams) OnParamStoredVals(payload []byte) {
	if len(payload) == 0 {
		p.pending = true
		return
	}
	v, err := params.DecodeStoredValues(payload)
	if err != nil {
		log.Printf("controller: param decode: %v", err)
		return
	}
	p.store.Update(func(cur *params.StoredValues) { *cur = v })
	p.sampler.Configure(v)
	p.sampler.SuppressRCUntil(p.clock.Now())
}

func (p *storedParams) produce() (link.Frame, bool) {
	if !p.pending {
		return link.Frame{}, false
	}
	p.pending = false
	return link.Frame{Tag: link.ParamStoredVals, Payload: p.store.Values().Encode()}, true
}

// stickAxes applies ConfigStickAxes (§6.2 tag 15): one byte per RC
// stick naming which raw ADC channel feeds Throttle..Yaw.
type stickAxes struct {
	store   *params.Store
	sampler *adcsvc.Sampler
	clock   *tick.Clock
}

func (s *stickAxes) OnConfigStickAxes(payload []byte) {
	if len(payload) < 4 {
		return
	}
	s.store.Update(func(v *params.StoredValues) {
		for i := 0; i < 4; i++ {
			v.RCSticks[i].Input = payload[i]
		}
	})
	s.sampler.Configure(s.store.Values())
	s.sampler.SuppressRCUntil(s.clock.Now())
}

// buttonFunctions applies a single ButtonFunctionCfg (§6.2 tag 16)
// slot, indexed directly by the payload's ButtonID field.
type buttonFunctions struct {
	store *params.Store
}

func (b *buttonFunctions) OnButtonFunctionCfg(payload []byte) {
	const wantLen = 4 + params.MaxDescriptor + 1
	if len(payload) < wantLen {
		return
	}
	idx := int(payload[0])
	if idx < 0 || idx >= params.NumButtonConfigs {
		return
	}
	var cfg params.ButtonFunctionConfig
	cfg.ButtonID = payload[0]
	cfg.ButtonEvt = payload[1]
	cfg.ShotID = int8(payload[2])
	cfg.State = params.ButtonFunctionState(payload[3])
	copy(cfg.Descriptor[:], payload[4:wantLen])
	b.store.Update(func(v *params.StoredValues) { v.ButtonCfgs[idx] = cfg })
}

// sweepConfig applies ConfigSweepTime (§6.2 tag 21): two little-endian
// uint32 second bounds.
type sweepConfig struct {
	store  *params.Store
	gimbal *gimbal.Session
}

func (s *sweepConfig) OnConfigSweepTime(payload []byte) {
	if len(payload) < 8 {
		return
	}
	min := binary.LittleEndian.Uint32(payload[0:4])
	max := binary.LittleEndian.Uint32(payload[4:8])
	s.store.Update(func(v *params.StoredValues) {
		v.SweepConfig = params.SweepConfig{MinSweepSec: min, MaxSweepSec: max}
	})
	s.gimbal.ReloadSweepConfig()
}

// telemUnits records SetTelemUnits (§6.2 tag 24). Unit conversion is
// the host/UI's concern (display rendering is out of scope here); the
// MCU only remembers the flag in case a future consumer needs it.
type telemUnits struct {
	metric bool
}

func (t *telemUnits) OnSetTelemUnits(payload []byte) {
	if len(payload) < 1 {
		return
	}
	t.metric = payload[0] != 0
}

// soloAppConnection turns SoloAppConnection (§6.2 tag 26) into the
// matching UI events.
func soloAppConnection(events *ui.Queue) link.Inbound {
	return func(payload []byte) {
		if len(payload) < 1 {
			return
		}
		if payload[0] != 0 {
			events.Pend(ui.SoloAppConnected)
		} else {
			events.Pend(ui.SoloAppDisconnected)
		}
	}
}

// testEvent implements TestEvent (§6.2 tag 23): inject a UI event by
// numeric id, for host-driven debugging.
func testEvent(events *ui.Queue) link.Inbound {
	return func(payload []byte) {
		if len(payload) < 1 {
			return
		}
		events.Pend(ui.Event(payload[0]))
	}
}

// invalidStickReports turns adcsvc's first-invalid-transition
// callback into queued InvalidStickInputs (§6.2 tag 25) frames.
type invalidStickReports struct {
	q *ring.Records[[]byte]
}

func newInvalidStickReports() *invalidStickReports {
	return &invalidStickReports{q: ring.NewRecords[[]byte](8)}
}

func (r *invalidStickReports) onInvalid(raw adcsvc.RawChannel, mapped adcsvc.StickID, value, trim, min, max uint16) {
	buf := make([]byte, 0, 9)
	buf = append(buf, byte(raw))
	buf = binary.LittleEndian.AppendUint16(buf, value)
	buf = binary.LittleEndian.AppendUint16(buf, trim)
	buf = binary.LittleEndian.AppendUint16(buf, min)
	buf = binary.LittleEndian.AppendUint16(buf, max)
	if !r.q.Enqueue(buf) {
		log.Printf("controller: invalid-stick report dropped")
	}
}

func (r *invalidStickReports) produce() (link.Frame, bool) {
	buf, ok := r.q.Dequeue()
	if !ok {
		return link.Frame{}, false
	}
	return link.Frame{Tag: link.InvalidStickInputs, Payload: buf}, true
}

// rcChannels produces DsmChannels (§6.2 tag 1): throttle, the three
// attitude sticks, gimbal tilt, gimbal rate, battery level, and one
// reserved slot, as eight little-endian uint16 values — matching
// "8 channels ... throttle + 3 sticks + gimbal + misc".
type rcChannels struct {
	sampler *adcsvc.Sampler
	battery interface{ UILevel() uint }
	clock   *tick.Clock
}

func (c *rcChannels) produce() (link.Frame, bool) {
	frame, ok := c.sampler.RCFrame(c.clock.Now())
	if !ok {
		return link.Frame{}, false
	}
	buf := make([]byte, 0, 16)
	for _, v := range frame {
		buf = binary.LittleEndian.AppendUint16(buf, v)
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(c.sampler.GimbalValue(adcsvc.GimbalPitch)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(c.sampler.GimbalValue(adcsvc.GimbalRate)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(c.battery.UILevel()))
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	return link.Frame{Tag: link.DsmChannels, Payload: buf}, true
}

// inputReport produces InputReport (§6.2 tag 14): {gimbal_y,
// gimbal_rate, battery} as three little-endian uint16 values.
type inputReport struct {
	sampler *adcsvc.Sampler
	battery interface{ UILevel() uint }
}

func (r *inputReport) produce() (link.Frame, bool) {
	buf := make([]byte, 0, 6)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(r.sampler.GimbalValue(adcsvc.GimbalPitch)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(r.sampler.GimbalValue(adcsvc.GimbalRate)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(r.battery.UILevel()))
	return link.Frame{Tag: link.InputReport, Payload: buf}, true
}

// buttonEvents drains button.Manager's outbound ring onto the
// ButtonEvent tag.
type buttonEvents struct {
	buttons *button.Manager
}

func (b *buttonEvents) produce() (link.Frame, bool) {
	rec, ok := b.buttons.Outbound().Dequeue()
	if !ok {
		return link.Frame{}, false
	}
	buf := []byte{byte(rec.ButtonID), byte(rec.EventID), 0, 0}
	binary.LittleEndian.PutUint16(buf[2:], rec.PressMask)
	return link.Frame{Tag: link.ButtonEvent, Payload: buf}, true
}

// calibrate applies host-supplied stick calibration (§6.2 tag 2),
// ignored while armed per the table's note.
type calibrate struct {
	store   *params.Store
	sampler *adcsvc.Sampler
	clock   *tick.Clock
	armed   func() bool
}

func (c *calibrate) OnCalibrate(payload []byte) {
	if c.armed != nil && c.armed() {
		return
	}
	const calLen = params.NumSticks * 6 // 3 uint16 fields per StickCalibration
	if len(payload) < calLen {
		return
	}
	c.store.Update(func(v *params.StoredValues) {
		for i := 0; i < params.NumSticks; i++ {
			off := i * 6
			v.Sticks[i] = params.StickCalibration{
				Min:  binary.LittleEndian.Uint16(payload[off:]),
				Trim: binary.LittleEndian.Uint16(payload[off+2:]),
				Max:  binary.LittleEndian.Uint16(payload[off+4:]),
			}
		}
	})
	c.sampler.Configure(c.store.Values())
	c.sampler.SuppressRCUntil(c.clock.Now())
}
