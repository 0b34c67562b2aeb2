// package pairing implements the three-state companion-app pairing
// handshake (component L): a paired mobile app announces itself over
// the vehicle telemetry link, the handset prompts the user to confirm
// or decline via a button gesture, and the confirmation round-trips
// back through the vehicle link.
//
// Grounded on original_source/artoo/src/vehicleconnector.{h,cpp}.
package pairing

import (
	"seedhammer.com/button"
	"seedhammer.com/ui"
)

// State is a position in the pairing handshake.
type State uint8

const (
	Idle State = iota
	RequestReceived
	ConfirmationReceived
	ConfirmationSent
)

// maxDeviceID bounds the stored device identifier, mirroring the
// original's fixed deviceID buffer.
const maxDeviceID = 32

// Haptics is the subset of the haptic player pairing drives directly.
type Haptics interface {
	StartMedium()
}

// Session owns the handshake state machine. The zero value is not
// usable; construct with NewSession.
type Session struct {
	state        State
	deviceID     string
	sentDeviceID string
	longHeldMask uint16

	events  *ui.Queue
	haptics Haptics
}

// NewSession constructs an idle Session. haptics may be nil.
func NewSession(events *ui.Queue, haptics Haptics) *Session {
	return &Session{events: events, haptics: haptics}
}

// SetHaptics wires the haptic player after construction.
func (s *Session) SetHaptics(h Haptics) { s.haptics = h }

// State returns the handshake's current position.
func (s *Session) State() State { return s.state }

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// OnPairRequest handles an inbound pairing request (§6.2 tag 7): it
// captures the requesting device id and prompts the user.
func (s *Session) OnPairRequest(payload []byte) {
	s.deviceID = truncate(cstring(payload), maxDeviceID)
	s.state = RequestReceived
	s.events.Pend(ui.PairingRequest)
}

// OnPairResult handles an inbound pairing result (§6.2 tag 9): an
// empty device id we sent means we declined (Canceled); a non-empty
// id we sent that doesn't come back confirmed means the pairing
// failed to complete (Incomplete); a matching id means success.
func (s *Session) OnPairResult(payload []byte) {
	got := cstring(payload)
	switch {
	case got != "" && got == s.sentDeviceID:
		s.events.Pend(ui.PairingSucceeded)
	case s.sentDeviceID != "":
		s.events.Pend(ui.PairingIncomplete)
	default:
		s.events.Pend(ui.PairingCanceled)
	}
	s.deviceID = ""
	s.sentDeviceID = ""
	s.state = Idle
}

// WireButtons subscribes to the button events that drive confirm
// (A+B long hold) and decline (B click).
func (s *Session) WireButtons(m *button.Manager) {
	m.Subscribe(button.ClickRelease, s.onClickRelease)
	m.Subscribe(button.LongHold, s.onLongHold)
	m.Subscribe(button.Release, s.onRelease)
}

const (
	longHeldBitA = 1 << 0
	longHeldBitB = 1 << 1
	longHeldBoth = longHeldBitA | longHeldBitB
)

func longHeldBit(id button.ID) uint16 {
	switch id {
	case button.A:
		return longHeldBitA
	case button.B:
		return longHeldBitB
	default:
		return 0
	}
}

func (s *Session) onClickRelease(id button.ID, evt button.Event, mask uint16) bool {
	if s.state != RequestReceived {
		return false
	}
	if id != button.B {
		return false
	}
	s.state = ConfirmationReceived
	s.deviceID = ""
	return false
}

func (s *Session) onLongHold(id button.ID, evt button.Event, mask uint16) bool {
	switch id {
	case button.A, button.B:
		s.longHeldMask |= longHeldBit(id)
	}
	if s.state == RequestReceived && s.longHeldMask&longHeldBoth == longHeldBoth {
		s.state = ConfirmationReceived
		s.events.Pend(ui.PairingInProgress)
		if s.haptics != nil {
			s.haptics.StartMedium()
		}
	}
	return false
}

func (s *Session) onRelease(id button.ID, evt button.Event, mask uint16) bool {
	switch id {
	case button.A, button.B:
		s.longHeldMask &^= longHeldBit(id)
	}
	return false
}

// Produce implements the link producer shape: when a confirmation is
// staged, it returns the null-terminated device id payload (empty for
// a decline) and transitions to ConfirmationSent.
func (s *Session) Produce() ([]byte, bool) {
	if s.state != ConfirmationReceived {
		return nil, false
	}
	s.sentDeviceID = s.deviceID
	out := make([]byte, len(s.deviceID)+1)
	copy(out, s.deviceID)
	s.state = ConfirmationSent
	return out, true
}
