// package link implements the companion-host serial protocol
// (component J): SLIP-style byte-stuffed framing, an RX ring fed by
// the UART ISR and drained by the HostProtocol task, a fixed-tag
// inbound dispatch table, and a fixed-priority outbound producer
// chain gated by a single in-flight DMA transaction.
package link

import (
	"seedhammer.com/ring"
	"seedhammer.com/tick"
)

// SLIP framing bytes (§4.8).
const (
	delimiter = 0xC0
	escape    = 0xDB
	escEnd    = 0xDC
	escEsc    = 0xDD
)

// Tag identifies a message class (§6.2); it is the first payload byte
// of every frame.
type Tag uint8

const (
	Nop Tag = iota
	DsmChannels
	Calibrate
	SysInfo
	Mavlink
	SetRawIo
	RawIoReport
	PairRequest
	PairConfirm
	PairResult
	ShutdownRequest
	ParamStoredVals
	OutputTest
	ButtonEvent
	InputReport
	ConfigStickAxes
	ButtonFunctionCfg
	SetShotInfo
	Updater
	LockoutState
	SelfTest
	ConfigSweepTime
	GpioTest
	TestEvent
	SetTelemUnits
	InvalidStickInputs
	SoloAppConnection
	numTags
)

// rxRingCapacity is the 2KB inbound byte ring sized to survive the
// worst observed burst (§7 resource exhaustion policy).
const rxRingCapacity = 2048

// maxFramePayload bounds one decoded frame; a longer in-frame run is
// treated as malformed and dropped at the next delimiter.
const maxFramePayload = 256

// diagHistory is the depth of the local diagnostic-snapshot ring
// (supplemented feature: original_source's SerialLog.cpp).
const diagHistory = 16

// Frame is one decoded or to-be-encoded message.
type Frame struct {
	Tag     Tag
	Payload []byte
}

// Encode SLIP-frames tag and payload: leading/trailing delimiter, with
// delimiter and escape bytes byte-stuffed in between.
func Encode(tag Tag, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, delimiter)
	out = stuff(out, byte(tag))
	for _, b := range payload {
		out = stuff(out, b)
	}
	out = append(out, delimiter)
	return out
}

func stuff(out []byte, b byte) []byte {
	switch b {
	case delimiter:
		return append(out, escape, escEnd)
	case escape:
		return append(out, escape, escEsc)
	default:
		return append(out, b)
	}
}

// Inbound handles one decoded frame's payload, registered per tag.
type Inbound func(payload []byte)

// Producer supplies the next outbound frame, if it has one ready. A
// producer must not block and must produce at most one frame per
// call, so the chain cannot starve (§5).
type Producer func() (Frame, bool)

type namedProducer struct {
	name string
	fn   Producer
}

// Stats are the link's cumulative error/resync counters.
type Stats struct {
	FramingErrors uint32
	Overruns      uint32
	Resyncs       uint32
}

// statsHistory is a small fixed-depth circular buffer of Stats
// snapshots, read non-destructively (unlike ring.Records, which is a
// consuming SPSC queue) — this is purely local diagnostic state, not
// an ISR/foreground handoff.
type statsHistory struct {
	buf [diagHistory]Stats
	n   int
	pos int
}

func (h *statsHistory) push(s Stats) {
	h.buf[h.pos] = s
	h.pos = (h.pos + 1) % len(h.buf)
	if h.n < len(h.buf) {
		h.n++
	}
}

func (h *statsHistory) snapshot() []Stats {
	out := make([]Stats, h.n)
	for i := 0; i < h.n; i++ {
		idx := (h.pos - h.n + i + len(h.buf)) % len(h.buf)
		out[i] = h.buf[idx]
	}
	return out
}

// decodeState tracks the SLIP decoder's position within the current
// frame.
type decodeState int

const (
	stateOutOfFrame decodeState = iota
	stateInFrame
	stateEscaped
)

// Manager owns the RX byte ring, SLIP decode state, the inbound
// dispatch table, and the outbound producer chain. The zero value is
// not usable; construct with NewManager.
type Manager struct {
	rx *ring.Bytes

	state     decodeState
	buf       []byte
	malformed bool

	handlers [numTags]Inbound

	producers  []namedProducer
	txPending  bool
	txInFlight bool

	stats        Stats
	history      statsHistory
	lastSnapshot tick.Count
	snapPrimed   bool
}

// NewManager constructs a Manager with an empty RX ring and no
// registered handlers or producers.
func NewManager() *Manager {
	return &Manager{
		rx: ring.NewBytes(rxRingCapacity),
	}
}

// OnRXByte is the UART RX ISR: enqueue one received byte. The driver
// is responsible for triggering the HostProtocol task afterward.
func (m *Manager) OnRXByte(b byte) {
	if !m.rx.Enqueue(b) {
		m.stats.Overruns++
	}
}

// RegisterInbound assigns the handler for one inbound tag. It panics
// if a handler is already registered for tag, since that is always a
// wiring bug, never a runtime condition.
func (m *Manager) RegisterInbound(tag Tag, h Inbound) {
	if m.handlers[tag] != nil {
		panic("link: inbound handler already registered for tag")
	}
	m.handlers[tag] = h
}

// AddProducer appends p to the end of the outbound priority chain.
// Callers must register producers in priority order (§4.8): host-
// request response, button-event records, input-report, flight-link
// command, vehicle-connector pair-confirm, power-manager shutdown-
// notify, self-test result.
func (m *Manager) AddProducer(name string, p Producer) {
	m.producers = append(m.producers, namedProducer{name, p})
}

// RequestTransaction raises tx_pending so the next idle pass walks the
// producer chain. Safe to call from any component.
func (m *Manager) RequestTransaction() { m.txPending = true }

// ProcessRX is the HostProtocol task: it drains every currently
// available RX byte, decoding and dispatching complete frames as they
// close.
func (m *Manager) ProcessRX() {
	for {
		b, ok := m.rx.Dequeue()
		if !ok {
			return
		}
		if f, ok := m.feed(b); ok {
			m.dispatch(f)
		}
	}
}

func (m *Manager) dispatch(f Frame) {
	if f.Tag >= numTags {
		return
	}
	if h := m.handlers[f.Tag]; h != nil {
		h(f.Payload)
	}
}

// feed advances the decoder by one byte, returning a completed,
// well-formed frame if this byte closed one.
func (m *Manager) feed(b byte) (Frame, bool) {
	switch m.state {
	case stateOutOfFrame:
		if b == delimiter {
			m.state = stateInFrame
			m.buf = m.buf[:0]
			m.malformed = false
		}
		return Frame{}, false

	case stateInFrame:
		switch b {
		case delimiter:
			malformed := m.malformed
			empty := len(m.buf) == 0
			buf := m.buf
			m.buf = nil
			m.malformed = false
			if malformed {
				m.stats.Resyncs++
				return Frame{}, false
			}
			if empty {
				return Frame{}, false
			}
			return Frame{Tag: Tag(buf[0]), Payload: append([]byte(nil), buf[1:]...)}, true
		case escape:
			m.state = stateEscaped
			return Frame{}, false
		default:
			m.append(b)
			return Frame{}, false
		}

	case stateEscaped:
		m.state = stateInFrame
		switch b {
		case escEnd:
			m.append(delimiter)
		case escEsc:
			m.append(escape)
		default:
			// Invalid escape sequence: drop the frame at the next
			// delimiter and force resync.
			m.malformed = true
			m.stats.FramingErrors++
		}
		return Frame{}, false
	}
	return Frame{}, false
}

func (m *Manager) append(b byte) {
	if len(m.buf) >= maxFramePayload {
		m.malformed = true
		m.stats.Overruns++
		return
	}
	m.buf = append(m.buf, b)
}

// TXReady reports whether the producer chain should be walked: no DMA
// transfer is in flight and some component has requested one.
func (m *Manager) TXReady() bool { return !m.txInFlight && m.txPending }

// Produce walks the fixed producer chain once and returns the
// SLIP-encoded bytes to hand to DMA, if any producer had data ready.
// The first producer to return true wins the pass.
func (m *Manager) Produce() ([]byte, bool) {
	if m.txInFlight {
		return nil, false
	}
	for _, p := range m.producers {
		if f, ok := p.fn(); ok {
			m.txInFlight = true
			return Encode(f.Tag, f.Payload), true
		}
	}
	m.txPending = false
	return nil, false
}

// TXComplete is called when the DMA transfer finishes, reopening the
// producer chain for the next pass.
func (m *Manager) TXComplete() { m.txInFlight = false }

// Stats returns the link's cumulative error/resync counters.
func (m *Manager) Stats() Stats { return m.stats }

// SnapshotDiagnostics records the current cumulative counters into the
// recent-history ring. Call roughly once per second from the 50Hz
// heartbeat.
func (m *Manager) SnapshotDiagnostics(now tick.Count) {
	if m.snapPrimed && now.Since(m.lastSnapshot) < tick.S(1) {
		return
	}
	m.snapPrimed = true
	m.lastSnapshot = now
	m.history.push(m.stats)
}

// History returns the recent Stats snapshots, oldest first.
func (m *Manager) History() []Stats { return m.history.snapshot() }
