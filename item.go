package flashmap

import (
	"encoding/binary"
	"hash/crc32"
)

// ───────────────────────────────────────────────────────────────────────────
// Item frame — length, payload, CRC
// ───────────────────────────────────────────────────────────────────────────
//
// Layout, all fields word-padded (spec.md §3 "Item frame"):
//
//	[length word(s)]  payload length in bytes, LE, all-ones = never written
//	[payload...]      opaque caller-serialized bytes, padded to word
//	[crc word]        CRC32-C of length+payload, LE; all-zero = tombstone
//
// The length field is 4 bytes regardless of word size (rounded up to
// the next word boundary), which comfortably covers any scratch buffer
// a caller would realistically pass. The CRC uses the same
// CRC32-C (Castagnoli) table tinySQL's pager/page.go and pager/wal.go
// use for their page and WAL-record checksums.
//
// write_frame writes the length first, then payload and CRC in one
// contiguous write when the backend's word size allows length and
// payload+CRC to be separately word-aligned — so an early shutoff
// before the CRC is durable leaves the frame with a correct length but
// a missing/torn CRC, which read_frame reports as Corrupt and the
// scanner stops at.

const frameLengthFieldSize = 4

// frameLengthSize returns the word-padded size of the length field.
func frameLengthSize(f Flash) int {
	return roundUpWord(f, frameLengthFieldSize)
}

// frameCRCSize returns the word-padded size of the CRC field.
func frameCRCSize(f Flash) int {
	return roundUpWord(f, 4)
}

// frameOverhead returns the total non-payload bytes a frame costs.
func frameOverhead(f Flash) int {
	return frameLengthSize(f) + frameCRCSize(f)
}

// frameSize returns the total on-flash size of a frame holding
// payloadLen bytes of payload (payload itself word-padded).
func frameSize(f Flash, payloadLen int) int {
	return frameLengthSize(f) + roundUpWord(f, payloadLen) + frameCRCSize(f)
}

var frameCRCTable = crc32.MakeTable(crc32.Castagnoli)

const allOnesLength uint32 = 0xFFFFFFFF

// tombstonePattern is the distinguished CRC value marking a removed item.
const tombstonePattern uint32 = 0x00000000

func computeFrameCRC(lengthBuf []byte, payload []byte) uint32 {
	h := crc32.New(frameCRCTable)
	h.Write(lengthBuf)
	h.Write(payload)
	sum := h.Sum32()
	if sum == tombstonePattern {
		// Vanishingly unlikely, but a real CRC must never collide with
		// the tombstone sentinel — perturb deterministically.
		sum = 1
	}
	return sum
}

// FrameOutcome is the result of reading one item slot.
type FrameOutcome int

const (
	// FrameErased: the length field is all-ones — free space, the end
	// of this page's item log.
	FrameErased FrameOutcome = iota
	// FramePresent: a live (non-tombstone) item is stored here.
	FramePresent
	// FrameTombstone: the item previously stored here was removed.
	FrameTombstone
	// FrameCorrupt: length was written but the CRC does not match — a
	// torn write. Scanning stops after this slot in this page.
	FrameCorrupt
)

// frame describes one decoded item slot.
type frame struct {
	outcome FrameOutcome
	payload []byte // valid when outcome == FramePresent or FrameTombstone
	// next is the offset of the slot immediately following this one,
	// valid for FramePresent/FrameTombstone (not for FrameErased/FrameCorrupt).
	next uint32
}

// readFrame reads and classifies the item slot at absolute offset off.
func readFrame(f Flash, off uint32) (frame, error) {
	lenSize := frameLengthSize(f)
	lenBuf := make([]byte, lenSize)
	if err := f.ReadAt(off, lenBuf); err != nil {
		return frame{}, storageErr(err)
	}
	length := binary.LittleEndian.Uint32(lenBuf[:frameLengthFieldSize])
	if length == allOnesLength {
		return frame{outcome: FrameErased}, nil
	}

	payloadPadded := roundUpWord(f, int(length))
	crcSize := frameCRCSize(f)
	rest := make([]byte, payloadPadded+crcSize)
	if err := f.ReadAt(off+uint32(lenSize), rest); err != nil {
		return frame{}, storageErr(err)
	}
	payload := rest[:length]
	crcBuf := rest[payloadPadded : payloadPadded+crcSize]
	storedCRC := binary.LittleEndian.Uint32(crcBuf[:4])

	next := off + uint32(lenSize+payloadPadded+crcSize)

	if storedCRC == tombstonePattern {
		// The payload bytes are still physically present on flash — only
		// the CRC word was cleared to mark removal — so the key remains
		// recoverable for scans that need to recognize which key this
		// tombstone shadows.
		return frame{outcome: FrameTombstone, payload: payload, next: next}, nil
	}
	want := computeFrameCRC(lenBuf[:frameLengthFieldSize], payload)
	if storedCRC != want {
		return frame{outcome: FrameCorrupt}, nil
	}
	return frame{outcome: FramePresent, payload: payload, next: next}, nil
}

// writeFrame writes payload as a new frame at absolute offset off and
// returns the offset immediately following it. off must currently be
// erased (part of a page's free space).
func writeFrame(f Flash, off uint32, payload []byte) (uint32, error) {
	lenSize := frameLengthSize(f)
	lenBuf := make([]byte, lenSize)
	binary.LittleEndian.PutUint32(lenBuf[:frameLengthFieldSize], uint32(len(payload)))
	if err := f.WriteAt(off, lenBuf); err != nil {
		return 0, storageErr(err)
	}

	payloadPadded := roundUpWord(f, len(payload))
	crcSize := frameCRCSize(f)
	rest := make([]byte, payloadPadded+crcSize)
	copy(rest, payload)
	crc := computeFrameCRC(lenBuf[:frameLengthFieldSize], payload)
	binary.LittleEndian.PutUint32(rest[payloadPadded:payloadPadded+4], crc)

	if err := f.WriteAt(off+uint32(lenSize), rest); err != nil {
		return 0, storageErr(err)
	}
	return off + uint32(lenSize+payloadPadded+crcSize), nil
}

// markTombstone overwrites the CRC word of the frame at frameOffset
// (the absolute offset of the frame's length field) with the tombstone
// pattern. Legal because it only clears bits further than whatever CRC
// was there before.
func markTombstone(f Flash, frameOffset uint32) error {
	lenSize := frameLengthSize(f)
	lenBuf := make([]byte, frameLengthFieldSize)
	if err := f.ReadAt(frameOffset, lenBuf); err != nil {
		return storageErr(err)
	}
	length := binary.LittleEndian.Uint32(lenBuf)
	if length == allOnesLength {
		return corrupted(errFrameNeverWritten)
	}
	payloadPadded := roundUpWord(f, int(length))
	crcSize := frameCRCSize(f)
	crcOff := frameOffset + uint32(lenSize) + uint32(payloadPadded)
	zero := make([]byte, crcSize)
	if err := f.WriteAt(crcOff, zero); err != nil {
		return storageErr(err)
	}
	return nil
}
