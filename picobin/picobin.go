// Package picobin implements enough of the Raspberry Pi rp2XXX block
// format (datasheet section 5.9) to validate a firmware image staged
// for the Updater host command: locate its block header, confirm it
// carries a signature or hash item, and recompute the image hash a
// HASH_DEF/LOAD_MAP pair describes. It deliberately does not carry
// the format's write/Sign path — the supervisor only ever verifies an
// image the host staged, it never produces one; see DESIGN.md.
package picobin

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"hash"
	"io"
)

// Image is a parsed block-format firmware image, positioned at the
// first (and, for a loop of blocks, only reachable) block header.
type Image struct {
	r                *imageReader
	blockStartOffset uint32
	loadMapOffset    uint32
	hashDefOffset    uint32
	hashValueOffset  uint32
	SignatureOffset  uint32
}

type itemHeader struct {
	itype byte
	size  uint16
	data  uint16
}

const (
	header = 0xffffded3
	footer = 0xab123579

	blockItemLoadMap   = 0x06
	blockItemHashDef   = 0x47
	blockItemSignature = 0x09
	blockItemHashValue = 0x4b
	blockItemLast      = 0x7f

	hashSHA256 = 0x01

	// Avoid "lollipop" loops.
	maxLoopLen = 100
)

// NewImage scans img for its first block header and indexes the
// LOAD_MAP/HASH_DEF/HASH_VALUE/SIGNATURE items a validator needs.
func NewImage(img io.ReadSeeker) (*Image, error) {
	bin, err := read(img)
	if err != nil {
		return nil, errors.New("picobin: " + err.Error())
	}
	return bin, nil
}

// Signed reports whether the image carries a SIGNATURE item, the
// asymmetric-signing alternative to a plain HASH_VALUE.
func (in *Image) Signed() bool { return in.SignatureOffset != 0 }

// Signature returns the public key and signature recorded in the
// image's SIGNATURE item.
func (in *Image) Signature() (pubKey []byte, sig []byte, err error) {
	off := in.SignatureOffset
	if off == 0 {
		return nil, nil, errors.New("picobin: missing SIGNATURE item")
	}
	h := readItemHeader(in.r, off-4)
	if h.itype != blockItemSignature {
		return nil, nil, errors.New("picobin: missing SIGNATURE item")
	}
	data := make([]byte, 128)
	_, err = io.ReadFull(in.r, data)
	pubKey, sig = data[:64], data[64:]
	return pubKey, sig, err
}

// Hash returns the digest recorded in the image's HASH_VALUE item.
func (in *Image) Hash() ([]byte, error) {
	if in.hashValueOffset == 0 {
		return nil, errors.New("picobin: missing HASH_VALUE item")
	}
	h := readItemHeader(in.r, in.hashValueOffset)
	if h.itype != blockItemHashValue {
		return nil, errors.New("picobin: missing HASH_VALUE item")
	}
	hash := make([]byte, h.size*4-4)
	_, err := io.ReadFull(in.r, hash)
	return hash, err
}

// HashData recomputes the image's hash from its HASH_DEF/LOAD_MAP
// items, the same digest a correctly flashed image's HASH_VALUE or
// SIGNATURE should cover. imageAddr is the flash address the image
// will run from (img.StartAddr from the uf2 reader that decoded it).
func (in *Image) HashData(img io.ReadSeeker, imageAddr uint32) ([]byte, error) {
	r := newImageReader(img)
	h := readItemHeader(r, in.hashDefOffset)
	if h.itype != blockItemHashDef {
		return nil, errors.New("picobin: missing HASH_DEF item")
	}
	if a := h.data >> 8; a != hashSHA256 {
		return nil, errors.New("picobin: unknown HASH_DEF hash algorithm")
	}
	blockHashed := 4 * (r.Uint32(in.hashDefOffset+4) & 0xffff)
	hasher := sha256.New()
	buf := make([]byte, 1024)
	h = readItemHeader(r, in.loadMapOffset)
	if h.itype != blockItemLoadMap {
		return nil, errors.New("picobin: missing LOAD_MAP item")
	}
	nentries := (h.size - 1) / 3
	absolute := h.data&0x8000 != 0
	eidx := in.loadMapOffset + 4
	for i := range uint32(nentries) {
		storageStart := r.Uint32(eidx + i*12 + 0)
		size := r.Uint32(eidx + i*12 + 8)
		if storageStart == 0 {
			// The size itself is hashed, not the storage.
			if err := hashData(r, hasher, buf, eidx+8, 4); err != nil {
				return nil, err
			}
			continue
		}
		if absolute {
			size -= storageStart
			storageStart -= imageAddr
		} else {
			storageStart += in.loadMapOffset
		}
		if err := hashData(r, hasher, buf, storageStart, size); err != nil {
			return nil, err
		}
	}
	if err := hashData(r, hasher, buf, in.blockStartOffset, blockHashed); err != nil {
		return nil, err
	}
	return hasher.Sum(nil), r.err
}

func hashData(r io.ReadSeeker, h hash.Hash, buf []byte, idx, size uint32) error {
	if _, err := r.Seek(int64(idx), io.SeekStart); err != nil {
		return err
	}
	for size > 0 {
		buf := buf[:min(len(buf), int(size))]
		n, err := r.Read(buf)
		size -= uint32(n)
		h.Write(buf[:n])
		if err != nil {
			if err == io.EOF && size == 0 {
				break
			}
			return err
		}
	}
	return nil
}

type imageReader struct {
	r   io.ReadSeeker
	pos int64
	buf [4]byte
	err error
}

func newImageReader(r io.ReadSeeker) *imageReader {
	return &imageReader{r: r}
}

func (r *imageReader) Uint32(idx uint32) uint32 {
	if _, err := r.r.Seek(int64(idx), io.SeekStart); err != nil {
		return 0
	}
	buf := r.buf[:4]
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(buf)
}

func (r *imageReader) Seek(offset int64, whence int) (int64, error) {
	if r.err != nil {
		return r.pos, r.err
	}
	n, err := r.r.Seek(offset, whence)
	r.pos = n
	r.err = err
	return r.pos, r.err
}

func (r *imageReader) Read(d []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err := r.r.Read(d)
	r.pos += int64(n)
	r.err = err
	return n, r.err
}

func read(data io.ReadSeeker) (*Image, error) {
	img := &Image{
		r: newImageReader(data),
	}
	idx := uint32(0)
	// Scan first 4k for first block header.
	for range 1024 {
		h := img.r.Uint32(idx)
		if h == header {
			break
		}
		idx += 4
	}
	firstBlock := idx
	hidx := idx
	nblocks := 0
	for {
		h := img.r.Uint32(idx)
		if h != header {
			return nil, errors.New("missing block header")
		}
		img.blockStartOffset = idx
		idx += 4
		totalSize := uint(0)
		for {
			h := readItemHeader(img.r, idx)
			if h.size == 0 {
				return nil, errors.New("zero-sized block item")
			}
			if h.itype == blockItemLast {
				if totalSize != uint(h.size) {
					return nil, errors.New("mismatched total item size")
				}
				break
			}
			totalSize += uint(h.size)
			switch h.itype {
			case blockItemLoadMap:
				img.loadMapOffset = idx
				img.hashDefOffset = 0
				img.SignatureOffset = 0
				img.hashValueOffset = 0
			case blockItemHashDef:
				img.hashDefOffset = idx
				img.SignatureOffset = 0
				img.hashValueOffset = 0
			case blockItemHashValue:
				img.hashValueOffset = idx
			case blockItemSignature:
				if int(h.size) != 32+1 {
					return nil, errors.New("invalid SIGNATURE item size")
				}
				img.SignatureOffset = idx + 4
			}
			idx += uint32(h.size) * 4
		}
		link, err := readFooter(img.r, idx+4)
		if err != nil {
			return nil, err
		}
		nblocks++
		if nblocks == maxLoopLen {
			return nil, errors.New("block loop too long")
		}
		hidx += link
		if hidx == firstBlock {
			break
		}
		idx = hidx
	}
	return img, img.r.err
}

func readFooter(r *imageReader, idx uint32) (uint32, error) {
	link, f := r.Uint32(idx), r.Uint32(idx+4)
	if f != footer {
		return 0, errors.New("missing block footer")
	}
	return link, nil
}

func readItemHeader(r *imageReader, idx uint32) itemHeader {
	w := r.Uint32(idx)
	typeAndSize := byte(w)
	sflag := typeAndSize & 0x80
	h := itemHeader{
		itype: typeAndSize & 0x7f,
		size:  uint16((w >> 8) & 0xff),
		data:  uint16(w >> 16),
	}
	if sflag != 0 {
		// 2-byte size.
		h.size |= uint16((w >> 8) & 0xff00)
	}
	return h
}
