package main

import "seedhammer.com/tick"

// hostLinkTimeout is how long the companion's UART can stay silent
// before the power manager considers it gone, matching the spacing of
// the host's own periodic frames (SysHeartbeat-equivalent traffic) with
// margin for a couple of missed passes.
const hostLinkTimeout = tick.Count(3 * tick.Hz)

// hostLinkMonitor implements power.HostLink from raw UART RX activity:
// every byte the host sends resets the liveness deadline. There is no
// dedicated heartbeat frame of its own (§6.2 has no such tag); liveness
// is inferred from traffic the same way flight.Session's own
// linkConnCounter infers the vehicle link being up.
type hostLinkMonitor struct {
	clock       *tick.Clock
	lastRX      tick.Count
	haveRX      bool
	disconnects uint32
}

func newHostLinkMonitor(clock *tick.Clock) *hostLinkMonitor {
	return &hostLinkMonitor{clock: clock}
}

// Touch records host activity; call it from the UART RX path for
// every byte received.
func (h *hostLinkMonitor) Touch() {
	h.lastRX = h.clock.Now()
	h.haveRX = true
}

// Connected implements power.HostLink.
func (h *hostLinkMonitor) Connected() bool {
	return h.haveRX && !h.clock.Reached(h.lastRX, hostLinkTimeout)
}

// OnHostDisconnected implements power.HostLink: forget the last
// contact so Connected reports false until fresh traffic arrives.
func (h *hostLinkMonitor) OnHostDisconnected() {
	h.haveRX = false
	h.disconnects++
}
