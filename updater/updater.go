// package updater tracks the firmware-update life cycle the host
// drives over host protocol tag Updater (§6.2 tag 18: one of begin,
// success, fail) and validates a staged firmware image before the
// RP2350 bootloader is handed control of it. There is no in-band
// firmware-byte transfer on the serial link — the image itself
// arrives over the companion's separate USB mass-storage/UF2 path;
// this package only tracks state for Shutdown/idle-counting vetoes
// and, when asked, verifies an already-staged image's signature.
package updater

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"seedhammer.com/link"
	"seedhammer.com/picobin"
	"seedhammer.com/uf2"
)

// State is the Updater life cycle's current phase.
type State uint8

const (
	Idle State = iota
	InProgress
	Succeeded
	Failed
)

// Host protocol payload values for tag Updater (§6.2 tag 18).
const (
	cmdBegin byte = iota
	cmdSuccess
	cmdFail
)

// pubKeyLen/sigLen are the raw X||Y and R||S encodings picobin's
// SIGNATURE item carries (64 bytes each), matching
// cmd/picosign's own "raw" signature format.
const (
	pubKeyLen = 64
	sigLen    = 64
)

// Session tracks the Updater state machine and, when a trusted
// signing key is configured, validates staged firmware images.
type Session struct {
	state      State
	trustedKey []byte // 64-byte raw X||Y public key; nil disables VerifyImage
}

// NewSession builds a Session. trustedKey may be nil if this build
// never needs to verify an image itself (e.g. a bench/dev build where
// only the bootloader's own signature check applies).
func NewSession(trustedKey []byte) *Session {
	return &Session{trustedKey: trustedKey}
}

// Wire registers the inbound Updater-tag handler on l.
func (s *Session) Wire(l *link.Manager) {
	l.RegisterInbound(link.Updater, s.onUpdater)
}

func (s *Session) onUpdater(payload []byte) {
	if len(payload) < 1 {
		return
	}
	switch payload[0] {
	case cmdBegin:
		s.state = InProgress
	case cmdSuccess:
		s.state = Succeeded
	case cmdFail:
		s.state = Failed
	}
}

// Updating reports whether a firmware update is currently in
// progress. Satisfies power.Updater and policy.Updater, both of which
// veto their own behavior (Shutdown, idle counting) while true.
func (s *Session) Updating() bool { return s.state == InProgress }

// Status returns the most recently reported Updater state.
func (s *Session) Status() State { return s.state }

// VerifyImage decodes a UF2-wrapped, block-format firmware image and
// verifies its SIGNATURE item against trustedKey, the way the
// bootloader's own secure-boot check does before it commits to
// booting the new image. An unsigned image (a plain HASH_VALUE, no
// SIGNATURE item) is rejected outright — this handset only ever
// accepts signed images, matching cmd/picosign's signed-image-only
// FamilyRP2350ARMSigned target.
func (s *Session) VerifyImage(image io.ReadSeeker) error {
	if s.trustedKey == nil {
		return errors.New("updater: no trusted key configured")
	}

	r := uf2.NewReader(image, uf2.FamilyRP2350ARMSigned)
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("updater: %w", err)
	}

	finfo, err := picobin.NewImage(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("updater: %w", err)
	}
	if !finfo.Signed() {
		return errors.New("updater: image is not signed")
	}

	pubKey, sig, err := finfo.Signature()
	if err != nil {
		return fmt.Errorf("updater: %w", err)
	}
	if !bytes.Equal(pubKey, s.trustedKey) {
		return errors.New("updater: image signed by an untrusted key")
	}

	digest, err := finfo.HashData(bytes.NewReader(raw), r.StartAddr)
	if err != nil {
		return fmt.Errorf("updater: %w", err)
	}
	if !verifySignature(pubKey, sig, digest) {
		return errors.New("updater: signature verification failed")
	}
	return nil
}

// verifySignature checks a raw 64-byte X||Y public key against a raw
// 64-byte R||S signature over digest, using the same secp256k1 curve
// cmd/picosign's offline signing step uses.
func verifySignature(pubKeyBytes, sigBytes, digest []byte) bool {
	if len(pubKeyBytes) != pubKeyLen || len(sigBytes) != sigLen {
		return false
	}

	var x, y secp256k1.FieldVal
	x.SetByteSlice(pubKeyBytes[:32])
	y.SetByteSlice(pubKeyBytes[32:64])
	pubKey := secp256k1.NewPublicKey(&x, &y)

	var r, sv secp256k1.ModNScalar
	r.SetByteSlice(sigBytes[:32])
	sv.SetByteSlice(sigBytes[32:64])
	sig := ecdsa.NewSignature(&r, &sv)

	return sig.Verify(digest, pubKey)
}
