package decompress

import (
	"encoding/binary"
	"fmt"
)

const (
	zstdMagic          = 0xFD2FB528
	skippableMagicMask = 0xFFFFFFF0
	skippableMagic     = 0x184D2A50
)

type frameState int

const (
	stateMagic       frameState = iota // collect 4
	stateDescriptor                    // collect 1
	stateHeaderRest                    // skip window/dict/content-size fields
	stateBlockHeader                   // collect 3
	stateBlockBody                     // skip
	stateChecksum                      // skip 4
	stateSkipSize                      // collect 4
	stateSkipBody                      // skip
)

// frameTracker walks the zstd container format over the compressed input
// without decoding it, so the stream knows whether input ended on a frame
// edge. Skippable frames are accepted.
type frameTracker struct {
	state     frameState
	scratch   [4]byte
	have      int
	need      int64
	checksum  bool
	lastBlock bool
	frames    int64
	err       error
}

func newFrameTracker() *frameTracker {
	return &frameTracker{state: stateMagic, need: 4}
}

// atEdge reports whether every frame seen so far is complete.
func (t *frameTracker) atEdge() bool {
	return t.err == nil && t.state == stateMagic && t.have == 0
}

func (t *frameTracker) skipping() bool {
	switch t.state {
	case stateHeaderRest, stateBlockBody, stateChecksum, stateSkipBody:
		return true
	default:
		return false
	}
}

// write advances the tracker over p. Errors are sticky.
func (t *frameTracker) write(p []byte) error {
	if t.err != nil {
		return t.err
	}
	for len(p) > 0 {
		if t.skipping() {
			n := min(int64(len(p)), t.need)
			p = p[n:]
			t.need -= n
			if t.need == 0 {
				t.endSkip()
			}
			continue
		}

		n := min(len(p), int(t.need)-t.have)
		copy(t.scratch[t.have:], p[:n])
		t.have += n
		p = p[n:]
		if t.have < int(t.need) {
			return nil
		}
		field := t.scratch[:t.need]
		t.have = 0
		if err := t.field(field); err != nil {
			t.err = err
			return err
		}
	}
	return nil
}

// enter moves to state; zero-length skips complete immediately.
func (t *frameTracker) enter(s frameState, n int64) {
	t.state, t.need = s, n
	if n == 0 && t.skipping() {
		t.endSkip()
	}
}

func (t *frameTracker) field(b []byte) error {
	switch t.state {
	case stateMagic:
		magic := binary.LittleEndian.Uint32(b)
		switch {
		case magic == zstdMagic:
			t.enter(stateDescriptor, 1)
		case magic&skippableMagicMask == skippableMagic:
			t.enter(stateSkipSize, 4)
		default:
			return fmt.Errorf("unknown frame magic %#08x", magic)
		}

	case stateDescriptor:
		d := b[0]
		if d&0x08 != 0 {
			return fmt.Errorf("reserved bit set in frame header descriptor %#02x", d)
		}
		singleSegment := d&0x20 != 0
		t.checksum = d&0x04 != 0

		var rest int64
		if !singleSegment {
			rest++ // window descriptor
		}
		rest += [4]int64{0, 1, 2, 4}[d&0x03]
		switch d >> 6 {
		case 0:
			if singleSegment {
				rest++
			}
		case 1:
			rest += 2
		case 2:
			rest += 4
		case 3:
			rest += 8
		}
		t.enter(stateHeaderRest, rest)

	case stateBlockHeader:
		h := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
		t.lastBlock = h&1 != 0
		size := int64(h >> 3)
		switch (h >> 1) & 0x03 {
		case 0, 2: // raw, compressed
			t.enter(stateBlockBody, size)
		case 1: // rle
			t.enter(stateBlockBody, 1)
		default:
			return fmt.Errorf("reserved block type in header %#06x", h)
		}

	case stateSkipSize:
		t.enter(stateSkipBody, int64(binary.LittleEndian.Uint32(b)))
	}
	return nil
}

func (t *frameTracker) endSkip() {
	switch t.state {
	case stateHeaderRest:
		t.enter(stateBlockHeader, 3)
	case stateBlockBody:
		switch {
		case !t.lastBlock:
			t.enter(stateBlockHeader, 3)
		case t.checksum:
			t.enter(stateChecksum, 4)
		default:
			t.frames++
			t.enter(stateMagic, 4)
		}
	case stateChecksum:
		t.frames++
		t.enter(stateMagic, 4)
	case stateSkipBody:
		t.enter(stateMagic, 4)
	}
}
