package mp4

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Track is the subset of per-track structure the tag engine needs: enough
// identity for callers to tell tracks apart, and the chunk-offset table
// location for rewriting when mdat moves.
type Track struct {
	ID        uint32
	Handler   FourCC // 'soun', 'vide', 'text', ...
	Format    FourCC // first stsd entry fourcc, e.g. 'mp4a', 'avc1'
	Language  string // ISO-639-2/T from mdhd
	Timescale uint32
	Duration  uint64

	trak    *Atom
	offsets *Atom // stco or co64, nil when the track has none (fragmented)
	co64    bool
}

var errBadTrack = errors.New("mp4: malformed track")

func parseTrack(trak *Atom) (*Track, error) {
	t := &Track{trak: trak}
	if tkhd := trak.ChildByPath(atomTkhd); tkhd != nil {
		payload, err := tkhd.Payload()
		if err != nil {
			return nil, err
		}
		if len(payload) < 4 {
			return nil, errors.Wrap(errBadTrack, "short tkhd")
		}
		// track id sits after version/flags, creation and modification
		// times, whose width depends on the version
		idOff := 12
		if payload[0] == 1 {
			idOff = 20
		}
		if len(payload) < idOff+4 {
			return nil, errors.Wrap(errBadTrack, "short tkhd")
		}
		t.ID = binary.BigEndian.Uint32(payload[idOff:])
	}
	if mdhd := trak.ChildByPath(atomMdia, atomMdhd); mdhd != nil {
		payload, err := mdhd.Payload()
		if err != nil {
			return nil, err
		}
		if err := t.parseMdhd(payload); err != nil {
			return nil, err
		}
	}
	if hdlr := trak.ChildByPath(atomMdia, atomHdlr); hdlr != nil {
		payload, err := hdlr.Payload()
		if err != nil {
			return nil, err
		}
		if len(payload) >= 12 {
			t.Handler = FourCC(binary.BigEndian.Uint32(payload[8:]))
		}
	}
	stbl := trak.ChildByPath(atomMdia, atomMinf, atomStbl)
	if stbl != nil {
		if stsd := stbl.ChildByPath(atomStsd); stsd != nil {
			// DataOffset skipped version/flags and the entry count; the
			// first sample entry starts with its own size and format
			var hdr [8]byte
			if _, err := stsd.tree.r.ReadAt(hdr[:], stsd.DataOffset()); err == nil {
				t.Format = FourCC(binary.BigEndian.Uint32(hdr[4:]))
			}
		}
		if stco := stbl.ChildByPath(atomStco); stco != nil {
			t.offsets = stco
		} else if co := stbl.ChildByPath(atomCo64); co != nil {
			t.offsets = co
			t.co64 = true
		}
	}
	return t, nil
}

func (t *Track) parseMdhd(payload []byte) error {
	if len(payload) < 4 {
		return errors.Wrap(errBadTrack, "short mdhd")
	}
	var langOff int
	switch payload[0] {
	case 0:
		if len(payload) < 22 {
			return errors.Wrap(errBadTrack, "short mdhd")
		}
		t.Timescale = binary.BigEndian.Uint32(payload[12:])
		t.Duration = uint64(binary.BigEndian.Uint32(payload[16:]))
		langOff = 20
	case 1:
		if len(payload) < 34 {
			return errors.Wrap(errBadTrack, "short mdhd")
		}
		t.Timescale = binary.BigEndian.Uint32(payload[20:])
		t.Duration = binary.BigEndian.Uint64(payload[24:])
		langOff = 32
	default:
		return errors.Wrapf(errBadTrack, "mdhd version %d", payload[0])
	}
	packed := binary.BigEndian.Uint16(payload[langOff:])
	t.Language = unpackLanguage(packed)
	return nil
}

// mdhd packs three lowercase letters in 15 bits, each letter minus 0x60.
func unpackLanguage(packed uint16) string {
	b := []byte{
		byte(packed>>10&0x1F) + 0x60,
		byte(packed>>5&0x1F) + 0x60,
		byte(packed&0x1F) + 0x60,
	}
	for _, c := range b {
		if c < 'a' || c > 'z' {
			return ""
		}
	}
	return string(b)
}

func packLanguage(lang string) uint16 {
	if len(lang) != 3 {
		return 0x55C4 // 'und'
	}
	var packed uint16
	for i := 0; i < 3; i++ {
		c := lang[i]
		if c < 'a' || c > 'z' {
			return 0x55C4
		}
		packed = packed<<5 | uint16(c-0x60)
	}
	return packed
}

// ChunkOffsets reads the track's chunk offset table.
func (t *Track) ChunkOffsets() ([]uint64, error) {
	if t.offsets == nil {
		return nil, nil
	}
	payload, err := t.offsets.Payload()
	if err != nil {
		return nil, err
	}
	if len(payload) < 8 {
		return nil, errors.Wrap(errBadTrack, "short chunk offset table")
	}
	count := int(binary.BigEndian.Uint32(payload[4:]))
	width := 4
	if t.co64 {
		width = 8
	}
	if len(payload) < 8+count*width {
		return nil, errors.Wrap(errBadTrack, "truncated chunk offset table")
	}
	out := make([]uint64, count)
	for i := 0; i < count; i++ {
		if t.co64 {
			out[i] = binary.BigEndian.Uint64(payload[8+i*8:])
		} else {
			out[i] = uint64(binary.BigEndian.Uint32(payload[8+i*4:]))
		}
	}
	return out, nil
}

// chunkOffsetBox is one stco/co64 box located inside a moov buffer,
// offsets relative to the buffer start.
type chunkOffsetBox struct {
	off   int64 // box start within the buffer
	co64  bool
	count int
	atom  *Atom
}

// collectChunkOffsetBoxes walks every track's sample table under moov.
func collectChunkOffsetBoxes(moov *Atom) ([]chunkOffsetBox, error) {
	var boxes []chunkOffsetBox
	for _, trak := range moov.ChildrenByType(atomTrak) {
		stbl := trak.ChildByPath(atomMdia, atomMinf, atomStbl)
		if stbl == nil {
			continue
		}
		for _, typ := range []FourCC{atomStco, atomCo64} {
			for _, box := range stbl.ChildrenByType(typ) {
				payload, err := box.Payload()
				if err != nil {
					return nil, err
				}
				if len(payload) < 8 {
					return nil, errors.Wrapf(errBadTrack, "short %s at %#x", typ, box.Offset)
				}
				boxes = append(boxes, chunkOffsetBox{
					off:   box.Offset,
					co64:  typ == atomCo64,
					count: int(binary.BigEndian.Uint32(payload[4:])),
					atom:  box,
				})
			}
		}
	}
	return boxes, nil
}

// entryOffset returns the buffer position of entry i's stored offset.
func (b chunkOffsetBox) entryOffset(i int) int64 {
	width := int64(4)
	if b.co64 {
		width = 8
	}
	return b.off + 16 + int64(i)*width
}

func (b chunkOffsetBox) entry(buf []byte, i int) uint64 {
	p := b.entryOffset(i)
	if b.co64 {
		return binary.BigEndian.Uint64(buf[p:])
	}
	return uint64(binary.BigEndian.Uint32(buf[p:]))
}

func (b chunkOffsetBox) setEntry(buf []byte, i int, v uint64) {
	p := b.entryOffset(i)
	if b.co64 {
		binary.BigEndian.PutUint64(buf[p:], v)
	} else {
		binary.BigEndian.PutUint32(buf[p:], uint32(v))
	}
}
