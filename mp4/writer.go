package mp4

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"ktkr.us/pkg/tagbox"
)

// TagPosition expresses where the moov atom, and with it the tag, should
// sit relative to the media data.
type TagPosition int

const (
	PositionKeep TagPosition = iota
	PositionBeforeData
	PositionAfterData
)

func (p TagPosition) String() string {
	switch p {
	case PositionBeforeData:
		return "before data"
	case PositionAfterData:
		return "after data"
	}
	return "keep"
}

const dashWarning = "Sorry, but putting index/tags at the end is not possible when dealing with DASH files."

// SaveOptions configures one save. The zero value keeps the current
// layout, allows no padding, and patches in place when the new tag fits
// exactly.
type SaveOptions struct {
	// TagPosition is the desired location of the tag relative to mdat.
	TagPosition TagPosition
	// IndexPosition is the desired location of the sample index (moov).
	// The MP4 tag lives inside moov, so a non-keep index position takes
	// precedence over TagPosition when the two disagree.
	IndexPosition TagPosition
	// ForceTagPosition insists on TagPosition even when honoring it
	// requires a full rewrite. When unset the planner may fall back to
	// the current position if that allows patching in place.
	ForceTagPosition   bool
	ForceIndexPosition bool
	// ForceRewrite disallows in-place patching.
	ForceRewrite bool
	// PreferredPadding is the free space placed adjacent to moov on a
	// full rewrite. Values between 1 and 7 cannot form a free atom and
	// are rounded up to 8, or dropped to 0 when MaxPadding is below 8.
	PreferredPadding int64
	MinPadding       int64
	MaxPadding       int64
	// BackupDirectory overrides the process-wide backup directory.
	BackupDirectory string
}

// segment is one piece of the planned output: a source byte range, a
// literal, or a run of zeros.
type segment struct {
	start, end int64  // copy from source when literal is nil and zero == 0
	literal    []byte
	zero       int64
}

const copyBufSize = 64 * 1024

// writeSink wraps the output stream handed to writeSegments. Tests swap
// it to inject write failures mid-rewrite.
var writeSink = func(f *os.File) io.Writer { return f }

// Save persists the session's pending tag and track edits. It patches the
// file in place when the new tag fits the existing meta region within the
// padding bounds, and otherwise rewrites the whole file through a backup
// so a failure at any point leaves the pre-edit file at the original
// path.
func (f *File) Save(opts SaveOptions) error {
	if opts.MinPadding > opts.MaxPadding {
		return errors.Wrapf(ErrInvalidConfig, "min padding %d > max padding %d",
			opts.MinPadding, opts.MaxPadding)
	}
	if f.moov == nil {
		return errors.Wrap(ErrUnsupportedContainer, "no moov atom")
	}

	maker, err := f.Tag().PrepareSave()
	if err != nil {
		return err
	}
	var newMeta []byte
	if len(maker.fields) > 0 {
		newMeta = maker.Bytes()
	}

	pos := f.resolvePosition(opts)

	// current arrangement of moov relative to the first mdat
	moovFirst := true
	for _, a := range f.root.Children() {
		if a.Type == atomMdat {
			moovFirst = f.moov.Offset < a.Offset
			break
		}
	}

	if pos == PositionAfterData && f.dash {
		f.notes.Warning(dashWarning, "saving file")
		pos = PositionBeforeData
	}

	satisfied := pos == PositionKeep ||
		(pos == PositionBeforeData && moovFirst) ||
		(pos == PositionAfterData && !moovFirst)

	if !opts.ForceRewrite && (satisfied || !opts.ForceTagPosition) {
		if ok, err := f.patchInPlace(opts, newMeta); ok {
			return err
		}
	}
	return f.rewrite(opts, pos, moovFirst, newMeta)
}

// resolvePosition folds the tag and index position wishes into one, since
// the iTunes tag travels inside moov.
func (f *File) resolvePosition(opts SaveOptions) TagPosition {
	pos := opts.TagPosition
	if opts.IndexPosition != PositionKeep && opts.IndexPosition != pos {
		if pos != PositionKeep {
			f.notes.Warning("tag and index position differ; the MP4 tag follows the index",
				"saving file")
		}
		pos = opts.IndexPosition
	}
	return pos
}

// patchInPlace overwrites the meta region when the new tag fits. The
// first return value reports whether patching was applicable at all; the
// error is the outcome when it was.
func (f *File) patchInPlace(opts SaveOptions, newMeta []byte) (bool, error) {
	meta := f.moov.ChildByPath(atomUdta, atomMeta)
	if meta == nil {
		return false, nil
	}
	region := meta.Size
	if sib := meta.NextSibling(); sib != nil && (sib.Type == atomFree || sib.Type == atomSkip) {
		region += sib.Size
	}
	slack := region - int64(len(newMeta))
	switch {
	case slack == 0 && opts.MinPadding <= 0:
	case slack >= 8 && slack >= opts.MinPadding && slack <= opts.MaxPadding:
	default:
		return false, nil
	}

	out, err := os.OpenFile(f.path, os.O_RDWR, 0)
	if err != nil {
		return true, errors.Wrap(err, "mp4: reopen for patching")
	}
	defer out.Close()
	perr := func(context string, cause error) error {
		f.notes.Critical(cause.Error(), context)
		return errors.Wrap(cause, "mp4: "+context)
	}

	// The new meta lands first, then a free atom fills whatever region
	// remains. Between the two writes the region is a valid atom sequence
	// only when the new meta has the old meta's size.
	at := meta.Offset
	if len(newMeta) > 0 {
		if _, err := out.WriteAt(newMeta, at); err != nil {
			return true, perr("patching tag in place", err)
		}
		at += int64(len(newMeta))
	}
	if slack > 0 {
		free := make([]byte, slack)
		binary.BigEndian.PutUint32(free[:4], uint32(slack))
		binary.BigEndian.PutUint32(free[4:8], uint32(atomFree))
		if _, err := out.WriteAt(free, at); err != nil {
			return true, perr("patching tag in place", err)
		}
	}
	if err := f.patchLanguagesAt(out); err != nil {
		return true, perr("patching track language", err)
	}
	if err := out.Sync(); err != nil {
		return true, perr("patching tag in place", err)
	}
	out.Close()
	f.langEdits = map[uint32]string{}
	return true, f.reload()
}

// patchLanguagesAt applies pending language edits directly to mdhd atoms.
func (f *File) patchLanguagesAt(w io.WriterAt) error {
	if len(f.langEdits) == 0 {
		return nil
	}
	for _, t := range f.tracks {
		lang, ok := f.langEdits[t.ID]
		if !ok {
			continue
		}
		mdhd := t.trak.ChildByPath(atomMdia, atomMdhd)
		if mdhd == nil {
			continue
		}
		off, err := mdhdLanguageOffset(mdhd)
		if err != nil {
			return err
		}
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], packLanguage(lang))
		if _, err := w.WriteAt(b[:], off); err != nil {
			return err
		}
	}
	return nil
}

func mdhdLanguageOffset(mdhd *Atom) (int64, error) {
	var ver [1]byte
	if _, err := mdhd.tree.r.ReadAt(ver[:], mdhd.DataOffset()); err != nil {
		return 0, errors.Wrap(err, "read mdhd version")
	}
	switch ver[0] {
	case 0:
		return mdhd.DataOffset() + 20, nil
	case 1:
		return mdhd.DataOffset() + 32, nil
	}
	return 0, errors.Wrapf(errBadTrack, "mdhd version %d", ver[0])
}

// rewrite streams a fresh copy of the file through the backup helper.
func (f *File) rewrite(opts SaveOptions, pos TagPosition, moovFirst bool, newMeta []byte) error {
	switch pos {
	case PositionBeforeData:
		moovFirst = true
	case PositionAfterData:
		moovFirst = false
	}

	// Everything below up to the backup step only reads; an error here
	// leaves the original untouched.
	moovBuf, err := readRange(f.f, f.moov.Offset, f.moov.End())
	if err != nil {
		return err
	}
	ed := &moovEditor{buf: moovBuf, notes: f.notes}
	if err := ed.replaceMeta(newMeta); err != nil {
		return err
	}
	if err := ed.applyLanguages(f.langEdits); err != nil {
		return err
	}

	var block []*Atom
	sawFtyp := false
	for _, a := range f.root.Children() {
		switch a.Type {
		case atomFtyp:
			if !sawFtyp {
				sawFtyp = true
				continue
			}
		case atomMoov:
			if a == f.moov {
				continue
			}
		case atomFree, atomSkip, atomWide:
			// managed padding replaces existing free space
			continue
		}
		block = append(block, a)
	}

	pad := choosePadding(opts)
	if err := ed.rewriteChunkOffsets(f.ftyp.Size, pad, moovFirst, block); err != nil {
		return err
	}

	segs := f.planSegments(ed.buf, pad, moovFirst, block)

	// Point of no return: move the original aside.
	f.f.Close()
	f.f = nil
	backupPath, backup, err := createBackup(f.path, opts.BackupDirectory)
	if err != nil {
		f.notes.Critical(err.Error(), "creating backup file")
		f.reload()
		return err
	}
	fail := func(context string, out *os.File, cause error) error {
		f.notes.Critical(cause.Error(), context)
		return handleFailureAfterModified(context, f.path, backupPath, out, backup, cause)
	}
	out, err := os.Create(f.path)
	if err != nil {
		return fail("creating output file", nil, err)
	}
	if err := writeSegments(writeSink(out), backup, segs); err != nil {
		return fail("writing output file", out, err)
	}
	if err := out.Sync(); err != nil {
		return fail("syncing output file", out, err)
	}
	if err := out.Close(); err != nil {
		return fail("closing output file", nil, err)
	}
	backup.Close()
	os.Remove(backupPath)
	f.langEdits = map[uint32]string{}
	return f.reload()
}

// choosePadding clamps the preferred padding into the configured bounds.
// A free atom needs at least 8 bytes.
func choosePadding(opts SaveOptions) int64 {
	pad := opts.PreferredPadding
	if pad < opts.MinPadding {
		pad = opts.MinPadding
	}
	if pad > opts.MaxPadding {
		pad = opts.MaxPadding
	}
	if pad > 0 && pad < 8 {
		pad = 8
		if pad > opts.MaxPadding {
			pad = 0
		}
	}
	return pad
}

// planSegments lays out the output: ftyp first, then moov and the
// preserved block on the requested sides, padding adjacent to moov.
func (f *File) planSegments(moovBuf []byte, pad int64, moovFirst bool, block []*Atom) []segment {
	var moovSegs []segment
	moovSegs = append(moovSegs, segment{literal: moovBuf})
	if pad > 0 {
		hdr := make([]byte, 8)
		binary.BigEndian.PutUint32(hdr[:4], uint32(pad))
		binary.BigEndian.PutUint32(hdr[4:], uint32(atomFree))
		moovSegs = append(moovSegs, segment{literal: hdr}, segment{zero: pad - 8})
	}

	var blockSegs []segment
	for i, a := range block {
		lastInOutput := !moovFirst && i == len(block)-1
		if a.SizeToEnd && !lastInOutput {
			// the open-ended header is only valid for the final atom;
			// materialize the real size
			hdr := make([]byte, 8)
			binary.BigEndian.PutUint32(hdr[:4], uint32(a.Size))
			binary.BigEndian.PutUint32(hdr[4:], uint32(a.Type))
			blockSegs = append(blockSegs,
				segment{literal: hdr},
				segment{start: a.Offset + 8, end: a.End()})
			continue
		}
		blockSegs = append(blockSegs, segment{start: a.Offset, end: a.End()})
	}

	segs := []segment{{start: f.ftyp.Offset, end: f.ftyp.End()}}
	if moovFirst {
		segs = append(segs, moovSegs...)
		segs = append(segs, blockSegs...)
	} else {
		segs = append(segs, blockSegs...)
		segs = append(segs, moovSegs...)
	}
	return segs
}

func writeSegments(out io.Writer, src io.ReaderAt, segs []segment) error {
	buf := make([]byte, copyBufSize)
	for _, s := range segs {
		switch {
		case s.literal != nil:
			if _, err := out.Write(s.literal); err != nil {
				return err
			}
		case s.zero > 0:
			zero := buf[:copyBufSize]
			for i := range zero {
				zero[i] = 0
			}
			for n := s.zero; n > 0; {
				c := int64(len(zero))
				if c > n {
					c = n
				}
				if _, err := out.Write(zero[:c]); err != nil {
					return err
				}
				n -= c
			}
		default:
			for pos := s.start; pos < s.end; {
				c := int64(len(buf))
				if c > s.end-pos {
					c = s.end - pos
				}
				n, err := src.ReadAt(buf[:c], pos)
				if int64(n) != c {
					if err == nil || err == io.EOF {
						err = io.ErrUnexpectedEOF
					}
					return err
				}
				if _, err := out.Write(buf[:c]); err != nil {
					return err
				}
				pos += c
			}
		}
	}
	return nil
}

func readRange(r io.ReaderAt, start, end int64) ([]byte, error) {
	buf := make([]byte, end-start)
	if _, err := r.ReadAt(buf, start); err != nil {
		return nil, errors.Wrapf(err, "read range %#x..%#x", start, end)
	}
	return buf, nil
}

// moovEditor performs structural edits on an in-memory copy of the moov
// atom: tag replacement, language patches, chunk-offset rewriting with
// stco promotion. Atom offsets inside the editor are relative to the
// buffer, whose first byte is the moov header.
type moovEditor struct {
	buf   []byte
	notes *tagbox.Notifier
}

// parse returns the moov atom of the buffer's single-atom tree.
func (e *moovEditor) parse() (*Atom, error) {
	root := parseTree(bytes.NewReader(e.buf), int64(len(e.buf)), e.notes)
	moov := root.FirstChild()
	if moov == nil || moov.Type != atomMoov {
		return nil, errors.New("mp4: editor buffer does not start with moov")
	}
	return moov, nil
}

// splice replaces buf[start:end] with repl and bumps every ancestor's
// size field by the length difference.
func (e *moovEditor) splice(start, end int64, repl []byte, ancestors []*Atom) {
	delta := int64(len(repl)) - (end - start)
	out := make([]byte, 0, int64(len(e.buf))+delta)
	out = append(out, e.buf[:start]...)
	out = append(out, repl...)
	out = append(out, e.buf[end:]...)
	for _, anc := range ancestors {
		if anc.HeaderSize >= 16 && !anc.SizeToEnd {
			sz := binary.BigEndian.Uint64(out[anc.Offset+8:])
			binary.BigEndian.PutUint64(out[anc.Offset+8:], uint64(int64(sz)+delta))
		} else {
			sz := binary.BigEndian.Uint32(out[anc.Offset:])
			binary.BigEndian.PutUint32(out[anc.Offset:], uint32(int64(sz)+delta))
		}
	}
	e.buf = out
}

// replaceMeta swaps the tag region under moov/udta for newMeta. A nil
// newMeta removes the tag. Free space directly after the old meta is
// absorbed.
func (e *moovEditor) replaceMeta(newMeta []byte) error {
	moov, err := e.parse()
	if err != nil {
		return err
	}
	udta := moov.ChildByPath(atomUdta)
	if udta == nil {
		if newMeta == nil {
			return nil
		}
		udtaBytes := make([]byte, 8+len(newMeta))
		binary.BigEndian.PutUint32(udtaBytes[:4], uint32(8+len(newMeta)))
		binary.BigEndian.PutUint32(udtaBytes[4:8], uint32(atomUdta))
		copy(udtaBytes[8:], newMeta)
		e.splice(moov.End(), moov.End(), udtaBytes, []*Atom{moov})
		return nil
	}
	meta := udta.ChildByPath(atomMeta)
	if meta == nil {
		if newMeta == nil {
			return nil
		}
		e.splice(udta.End(), udta.End(), newMeta, []*Atom{udta, moov})
		return nil
	}
	start, end := meta.Offset, meta.End()
	if sib := meta.NextSibling(); sib != nil && (sib.Type == atomFree || sib.Type == atomSkip) {
		end = sib.End()
	}
	e.splice(start, end, newMeta, []*Atom{udta, moov})
	return nil
}

// applyLanguages patches mdhd language fields inside the buffer.
func (e *moovEditor) applyLanguages(edits map[uint32]string) error {
	if len(edits) == 0 {
		return nil
	}
	moov, err := e.parse()
	if err != nil {
		return err
	}
	for _, trak := range moov.ChildrenByType(atomTrak) {
		t, err := parseTrack(trak)
		if err != nil {
			continue
		}
		lang, ok := edits[t.ID]
		if !ok {
			continue
		}
		mdhd := trak.ChildByPath(atomMdia, atomMdhd)
		if mdhd == nil {
			continue
		}
		off, err := mdhdLanguageOffset(mdhd)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint16(e.buf[off:], packLanguage(lang))
	}
	return nil
}

// rewriteChunkOffsets remaps every chunk offset to the planned layout,
// promoting 32-bit tables to co64 when an offset no longer fits. A
// promotion grows moov, which shifts the layout, so the computation runs
// to a fixed point; the size delta is bounded, so this converges after at
// most one promotion pass per table.
func (e *moovEditor) rewriteChunkOffsets(ftypSize, pad int64, moovFirst bool, block []*Atom) error {
	for {
		moov, err := e.parse()
		if err != nil {
			return err
		}
		newOff := layoutBlock(ftypSize, int64(len(e.buf))+pad, moovFirst, block)
		boxes, err := collectChunkOffsetBoxes(moov)
		if err != nil {
			return err
		}

		promoted := false
		for _, box := range boxes {
			if box.co64 {
				continue
			}
			overflow := false
			for i := 0; i < box.count; i++ {
				if v, ok := remapOffset(box.entry(e.buf, i), block, newOff); ok && v >= 1<<32 {
					overflow = true
					break
				}
			}
			if overflow {
				if err := e.promote(box); err != nil {
					return err
				}
				promoted = true
				break
			}
		}
		if promoted {
			continue
		}

		for _, box := range boxes {
			for i := 0; i < box.count; i++ {
				old := box.entry(e.buf, i)
				v, ok := remapOffset(old, block, newOff)
				if !ok {
					e.notes.Warning(
						fmt.Sprintf("chunk offset %#x points outside any preserved atom", old),
						"rewriting chunk offsets")
					continue
				}
				if !box.co64 && v >= 1<<32 {
					return errors.Wrapf(ErrOffsetOverflow, "offset %#x", v)
				}
				box.setEntry(e.buf, i, v)
			}
		}
		return nil
	}
}

// layoutBlock computes the output offset of each preserved atom.
func layoutBlock(ftypSize, moovTotal int64, moovFirst bool, block []*Atom) map[*Atom]int64 {
	pos := ftypSize
	if moovFirst {
		pos += moovTotal
	}
	out := make(map[*Atom]int64, len(block))
	for _, a := range block {
		out[a] = pos
		pos += a.Size
	}
	return out
}

func remapOffset(off uint64, block []*Atom, newOff map[*Atom]int64) (uint64, bool) {
	for _, a := range block {
		if off >= uint64(a.Offset) && off < uint64(a.End()) {
			return off - uint64(a.Offset) + uint64(newOff[a]), true
		}
	}
	return off, false
}

// promote widens one stco box to co64 in place, keeping entry values.
func (e *moovEditor) promote(box chunkOffsetBox) error {
	old := e.buf[box.off : box.off+box.atom.Size]
	repl := make([]byte, 16+8*box.count)
	binary.BigEndian.PutUint32(repl[:4], uint32(len(repl)))
	binary.BigEndian.PutUint32(repl[4:8], uint32(atomCo64))
	copy(repl[8:16], old[8:16]) // version/flags and entry count
	for i := 0; i < box.count; i++ {
		v := binary.BigEndian.Uint32(old[16+4*i:])
		binary.BigEndian.PutUint64(repl[16+8*i:], uint64(v))
	}
	anc := box.atom.Ancestors()
	e.splice(box.off, box.off+box.atom.Size, repl, anc)
	return nil
}
