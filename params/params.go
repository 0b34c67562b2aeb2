// package params implements the persistent-parameters store:
// calibration, presets, stick/button configuration and sweep timing,
// snapshotted as one fixed-layout struct to the last page of on-chip
// flash. There is exactly one instance for the process lifetime.
package params

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"seedhammer.com/tick"
)

// NumSticks is the number of physical stick calibration slots (four RC
// sticks plus gimbal-pitch and gimbal-rate).
const NumSticks = 6

// NumPresets is the number of camera presets.
const NumPresets = 2

// NumButtonConfigs is the number of user-assignable buttons (loiter,
// A, B — see original_source/artoo/src/buttonfunction.h).
const NumButtonConfigs = 3

// MaxDescriptor is the maximum length of a button-function descriptor
// string, not counting the NUL terminator.
const MaxDescriptor = 19

// StickCalibration is the per-stick raw-ADC calibration: minimum,
// center/trim, and maximum.
type StickCalibration struct {
	Min  uint16
	Trim uint16
	Max  uint16
}

// Valid reports whether the calibration has been written (not all
// 0xFF, matching erased flash).
func (c StickCalibration) Valid() bool { return isInitialized(encode(c)) }

// CameraPreset is a user-captured target gimbal tilt angle.
type CameraPreset struct {
	TargetAngle float32
}

// Valid reports whether the preset has been captured.
func (c CameraPreset) Valid() bool { return isInitialized(encode(c)) }

// SweepConfig bounds the duration of a gimbal preset-to-preset
// animation, in whole seconds.
type SweepConfig struct {
	MinSweepSec uint32
	MaxSweepSec uint32
}

// Valid reports whether the sweep configuration has been written.
func (c SweepConfig) Valid() bool { return isInitialized(encode(c)) }

// StickConfig assigns a physical ADC input to a logical control axis.
type StickConfig struct {
	Input     uint8
	Direction uint8 // non-zero = forward, zero = reverse
	Expo      uint8
	_reserved uint8
	_reserved2 uint32
}

// Valid reports whether the stick configuration has been written.
func (c StickConfig) Valid() bool { return isInitialized(encode(c)) }

// ButtonFunctionState is a bitfield of ButtonFunctionConfig.State.
type ButtonFunctionState uint8

const (
	FuncEnabled ButtonFunctionState = 1 << iota
	FuncHilighted
)

// ButtonFunctionConfig assigns a shot (or nothing) to a user button.
type ButtonFunctionConfig struct {
	ButtonID   uint8
	ButtonEvt  uint8
	ShotID     int8
	State      ButtonFunctionState
	Descriptor [MaxDescriptor + 1]byte // NUL-terminated
}

// Enabled reports whether the assignment is currently active.
func (c ButtonFunctionConfig) Enabled() bool { return c.State&FuncEnabled != 0 }

// Hilighted reports whether the UI should highlight this button.
func (c ButtonFunctionConfig) Hilighted() bool { return c.State&FuncHilighted != 0 }

// DescriptorString returns the descriptor as a Go string, trimmed at
// the first NUL.
func (c ButtonFunctionConfig) DescriptorString() string {
	n := bytes.IndexByte(c.Descriptor[:], 0)
	if n < 0 {
		n = len(c.Descriptor)
	}
	return string(c.Descriptor[:n])
}

// StoredValues is the full on-chip flash snapshot. Its layout is
// stable across firmware versions within one line; there is no
// version header.
type StoredValues struct {
	Sticks      [NumSticks]StickCalibration
	Presets     [NumPresets]CameraPreset
	RCSticks    [NumSticks]StickConfig
	ButtonCfgs  [NumButtonConfigs]ButtonFunctionConfig
	SweepConfig SweepConfig
}

// Page is the destructive NV-flash abstraction: Erase then Write in
// one pass. Implementations are expected to make Write atomic enough
// that a crash mid-write loses at most this single page.
type Page interface {
	Read() ([]byte, error)
	Erase() error
	Write([]byte) error
}

// Store holds the single StoredValues instance and its flush
// scheduling. The zero value is not usable; construct with New.
type Store struct {
	mu     sync.Mutex
	page   Page
	values StoredValues
	dirty  bool
	synced tick.Count
}

// syncInterval is the minimum spacing between flash writes.
const syncInterval = tick.Count(1000) // 1s at 1kHz

// New constructs a Store backed by page. Call Load before use.
func New(page Page) *Store {
	return &Store{page: page}
}

// Load reads the dedicated NV page into RAM at boot.
func (s *Store) Load() error {
	raw, err := s.page.Read()
	if err != nil {
		return fmt.Errorf("params: load: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(raw) < encodedLen {
		// Shorter than expected: treat as fully erased.
		raw = append(raw, bytes.Repeat([]byte{0xFF}, encodedLen-len(raw))...)
	}
	if err := decode(raw[:encodedLen], &s.values); err != nil {
		return fmt.Errorf("params: load: %w", err)
	}
	return nil
}

// Values returns a copy of the current in-RAM parameters.
func (s *Store) Values() StoredValues {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values
}

// Update calls f with a pointer to the live parameters under lock and
// marks the store dirty. f must not retain the pointer past the call.
func (s *Store) Update(f func(*StoredValues)) {
	s.mu.Lock()
	f(&s.values)
	s.dirty = true
	s.mu.Unlock()
}

// Mark sets the dirty flag without otherwise touching the parameters,
// for callers that mutated a value obtained via Values() through some
// other owning component.
func (s *Store) Mark() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// PeriodicWork flushes the store to flash if dirty and at least
// syncInterval has elapsed since the last flush. It must be called
// regularly (from the 50Hz heartbeat); it performs at most one flash
// erase+write per call and at most one per syncInterval regardless of
// how many times Mark is called in between.
func (s *Store) PeriodicWork(now tick.Count) error {
	s.mu.Lock()
	if !s.dirty || now.Since(s.synced) < syncInterval {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.Flush(now)
}

// Flush writes the store to flash immediately if dirty, ignoring
// syncInterval. For the shutdown sequence, where parameters must be
// committed before power is cut regardless of when the last periodic
// flush ran.
func (s *Store) Flush(now tick.Count) error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	raw := encode(s.values)
	s.dirty = false
	s.synced = now
	s.mu.Unlock()

	if err := s.page.Erase(); err != nil {
		return fmt.Errorf("params: flush: %w", err)
	}
	if err := s.page.Write(raw); err != nil {
		return fmt.Errorf("params: flush: %w", err)
	}
	return nil
}

// Encode serializes v to its fixed on-flash/wire layout, the same
// encoding the store itself uses, for the host protocol's
// bidirectional full-struct transfer (§6.2 tag 11).
func (v StoredValues) Encode() []byte { return encode(v) }

// DecodeStoredValues parses a full StoredValues blob received from
// the host, the inverse of Encode.
func DecodeStoredValues(raw []byte) (StoredValues, error) {
	var v StoredValues
	if len(raw) < encodedLen {
		return v, fmt.Errorf("params: decode: short buffer (%d < %d)", len(raw), encodedLen)
	}
	if err := decode(raw[:encodedLen], &v); err != nil {
		return v, fmt.Errorf("params: decode: %w", err)
	}
	return v, nil
}

// EncodedLen is the fixed wire/flash length of a StoredValues blob.
func EncodedLen() int { return encodedLen }

var encodedLen = binary.Size(StoredValues{})

func encode(v any) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(binary.Size(v))
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err) // fixed-layout struct; only programmer error can fail
	}
	return buf.Bytes()
}

func decode(raw []byte, v any) error {
	return binary.Read(bytes.NewReader(raw), binary.LittleEndian, v)
}

// IsInitialized returns true iff any byte in the region is not 0xFF,
// matching the pattern of erased NV flash.
func IsInitialized(raw []byte) bool { return isInitialized(raw) }

func isInitialized(raw []byte) bool {
	for _, b := range raw {
		if b != 0xFF {
			return true
		}
	}
	return false
}
