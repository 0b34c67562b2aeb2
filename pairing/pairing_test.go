package pairing

import (
	"testing"

	"seedhammer.com/button"
	"seedhammer.com/tick"
	"seedhammer.com/ui"
)

func hasEvent(evts []ui.Event, want ui.Event) bool {
	for _, e := range evts {
		if e == want {
			return true
		}
	}
	return false
}

func TestPairRequestPrompts(t *testing.T) {
	events := ui.New()
	s := NewSession(events, nil)
	s.OnPairRequest([]byte("phone-1\x00"))
	if s.State() != RequestReceived {
		t.Fatalf("expected RequestReceived, got %v", s.State())
	}
	if !hasEvent(events.Drain(), ui.PairingRequest) {
		t.Fatal("expected PairingRequest event")
	}
	if s.deviceID != "phone-1" {
		t.Fatalf("expected captured device id, got %q", s.deviceID)
	}
}

func TestConfirmViaLongHoldBoth(t *testing.T) {
	events := ui.New()
	s := NewSession(events, nil)
	m := button.NewManager(nil)
	s.WireButtons(m)
	s.OnPairRequest([]byte("phone-1\x00"))
	events.Drain()

	start := tick.Count(0)
	m.Press(button.A, start)
	m.Press(button.B, start)
	held := start + tick.Ms(button.LongHoldMillis) + 1
	m.PollHolds(held)

	if s.State() != ConfirmationReceived {
		t.Fatalf("expected ConfirmationReceived, got %v", s.State())
	}
	if !hasEvent(events.Drain(), ui.PairingInProgress) {
		t.Fatal("expected PairingInProgress event")
	}

	payload, ok := s.Produce()
	if !ok {
		t.Fatal("expected a confirm frame ready")
	}
	if string(payload[:len(payload)-1]) != "phone-1" {
		t.Fatalf("expected device id in payload, got %q", payload)
	}
	if s.State() != ConfirmationSent {
		t.Fatalf("expected ConfirmationSent, got %v", s.State())
	}

	s.OnPairResult([]byte("phone-1\x00"))
	if !hasEvent(events.Drain(), ui.PairingSucceeded) {
		t.Fatal("expected PairingSucceeded")
	}
	if s.State() != Idle {
		t.Fatalf("expected Idle after result, got %v", s.State())
	}
}

func TestDeclineViaBClick(t *testing.T) {
	events := ui.New()
	s := NewSession(events, nil)
	m := button.NewManager(nil)
	s.WireButtons(m)
	s.OnPairRequest([]byte("phone-1\x00"))
	events.Drain()

	now := tick.Count(0)
	m.Press(button.B, now)
	m.Release(button.B, now+10)

	if s.State() != ConfirmationReceived {
		t.Fatalf("expected ConfirmationReceived after decline click, got %v", s.State())
	}

	payload, ok := s.Produce()
	if !ok || len(payload) != 1 || payload[0] != 0 {
		t.Fatalf("expected an empty-device-id payload, got %v ok=%v", payload, ok)
	}

	s.OnPairResult(nil)
	if !hasEvent(events.Drain(), ui.PairingCanceled) {
		t.Fatal("expected PairingCanceled")
	}
}

func TestIncompleteWhenConfirmedButNoResultMatch(t *testing.T) {
	events := ui.New()
	s := NewSession(events, nil)
	m := button.NewManager(nil)
	s.WireButtons(m)
	s.OnPairRequest([]byte("phone-1\x00"))
	events.Drain()

	start := tick.Count(0)
	m.Press(button.A, start)
	m.Press(button.B, start)
	m.PollHolds(start + tick.Ms(button.LongHoldMillis) + 1)
	events.Drain()
	s.Produce()

	s.OnPairResult(nil)
	if !hasEvent(events.Drain(), ui.PairingIncomplete) {
		t.Fatal("expected PairingIncomplete when a sent, non-empty id doesn't come back confirmed")
	}
}
