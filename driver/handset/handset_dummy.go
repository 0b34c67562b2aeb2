//go:build !linux || !arm

package handset

import (
	"errors"
	"io"
)

// OpenPinout is unavailable off the target board; bring-up and CI run
// the rest of this module against fakes instead.
func OpenPinout() (*Pinout, error) {
	return nil, errors.New("handset: OpenPinout requires linux/arm")
}

// OpenSerial is unavailable off the target board.
func OpenSerial(dev string) (io.ReadWriteCloser, error) {
	return nil, errors.New("handset: OpenSerial requires linux/arm")
}

// ResetCause is always the zero value off the target board.
type ResetCause struct{}

func ReadResetCause() ResetCause { return ResetCause{} }

func (r ResetCause) PinReset() bool     { return false }
func (r ResetCause) WakeKeyValid() bool { return false }
