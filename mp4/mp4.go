// Package mp4 parses and rewrites metadata tags in MP4 (ISO-BMFF) files.
//
// A File is one edit session over a seekable file: open, inspect or edit
// the tag, save, close. The parser is fault tolerant; problems found in
// the box structure downgrade to warnings on the session's notification
// list and parsing continues with a best-effort tree.
package mp4

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/pkg/errors"

	"ktkr.us/pkg/tagbox"
)

var (
	ErrUnsupportedContainer  = errors.New("mp4: file is not an MP4 container")
	ErrUnsupportedTagVariant = errors.New("mp4: tag variant not supported by MP4 files")
	ErrInvalidConfig         = errors.New("mp4: invalid save configuration")
	ErrOffsetOverflow        = errors.New("mp4: chunk offset overflow")
)

var _ tagbox.Tag = (*Tag)(nil)

// File is a single-session handle on an MP4 file. It is confined to one
// goroutine; concurrent sessions on the same path must be serialized
// externally.
type File struct {
	path  string
	f     *os.File
	size  int64
	notes *tagbox.Notifier

	root   *Atom
	ftyp   *Atom
	moov   *Atom
	brand  FourCC
	dash   bool
	tag    *Tag
	tracks []*Track

	langEdits map[uint32]string
}

// Open opens the file and parses its structure and tag.
func Open(path string) (*File, error) {
	f := &File{path: path, notes: &tagbox.Notifier{}, langEdits: map[uint32]string{}}
	if err := f.load(); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	h, err := os.Open(f.path)
	if err != nil {
		return errors.Wrap(err, "mp4: open")
	}
	fi, err := h.Stat()
	if err != nil {
		h.Close()
		return errors.Wrap(err, "mp4: stat")
	}
	f.f, f.size = h, fi.Size()
	f.root = parseTree(h, f.size, f.notes)
	f.ftyp, f.moov, f.dash, f.brand = nil, nil, false, 0
	f.tracks = nil

	for _, a := range f.root.Children() {
		switch a.Type {
		case atomFtyp:
			if f.ftyp == nil {
				f.ftyp = a
			}
		case atomMoov:
			if f.moov == nil {
				f.moov = a
			}
		case atomMoof:
			f.dash = true
		}
	}
	if f.ftyp == nil {
		return errors.Wrapf(ErrUnsupportedContainer, "%s: no ftyp atom", f.path)
	}
	payload, err := f.ftyp.Payload()
	if err != nil {
		return err
	}
	if len(payload) >= 4 {
		f.brand = FourCC(binary.BigEndian.Uint32(payload))
	}
	// the major brand or any compatible brand may mark a DASH profile
	for p := payload; len(p) >= 4; p = p[4:] {
		if FourCC(binary.BigEndian.Uint32(p)) == fourCC("dash") {
			f.dash = true
		}
	}

	if f.moov != nil {
		if meta := f.moov.ChildByPath(atomUdta, atomMeta); meta != nil {
			tag := NewTag()
			if err := tag.parse(meta, f.notes); err != nil {
				return err
			}
			f.tag = tag
		}
		for _, trak := range f.moov.ChildrenByType(atomTrak) {
			t, err := parseTrack(trak)
			if err != nil {
				f.notes.Warning(err.Error(), "parsing tracks")
				continue
			}
			f.tracks = append(f.tracks, t)
		}
	}
	return nil
}

// reload drops all parsed state and reparses from disk. Called after a
// save rewrote bytes under the session.
func (f *File) reload() error {
	if f.f != nil {
		f.f.Close()
		f.f = nil
	}
	f.tag = nil
	return f.load()
}

func (f *File) Path() string { return f.path }

// MajorBrand returns the ftyp major brand.
func (f *File) MajorBrand() FourCC { return f.brand }

// IsDASH reports whether the file is a fragmented DASH profile, which
// pins moov before mdat.
func (f *File) IsDASH() bool { return f.dash }

// Root returns the synthetic root of the atom tree.
func (f *File) Root() *Atom { return f.root }

// HasTag reports whether the file currently carries an iTunes tag.
func (f *File) HasTag() bool { return f.tag != nil && f.tag.FieldCount() > 0 }

// Tag returns the file's tag, creating an empty one to edit if the file
// has none yet.
func (f *File) Tag() *Tag {
	if f.tag == nil {
		f.tag = NewTag()
	}
	return f.tag
}

// AttachTag adopts an existing tag for this session. Only the MP4 variant
// can be stored in an MP4 container.
func (f *File) AttachTag(t tagbox.Tag) error {
	mt, ok := t.(*Tag)
	if !ok {
		return errors.Wrapf(ErrUnsupportedTagVariant, "%s", t.TypeName())
	}
	f.tag = mt
	return nil
}

// RemoveTag drops the tag; the next save writes the file without an ilst.
func (f *File) RemoveTag() {
	f.tag = NewTag()
}

func (f *File) Tracks() []*Track { return f.tracks }

// SetTrackLanguage records a language change for the track with the given
// id, applied at the next save.
func (f *File) SetTrackLanguage(id uint32, lang string) {
	f.langEdits[id] = lang
}

// ParseAttachments exists for interface parity with container formats
// that carry attachments.
func (f *File) ParseAttachments() {
	f.notes.Info("Parsing attachments is not implemented for the container format of the file.",
		"parsing attachments")
}

// Duration returns the presentation duration from mvhd, or zero when the
// file has none.
func (f *File) Duration() time.Duration {
	if f.moov == nil {
		return 0
	}
	mvhd := f.moov.ChildByPath(atomMvhd)
	if mvhd == nil {
		return 0
	}
	payload, err := mvhd.Payload()
	if err != nil || len(payload) < 4 {
		return 0
	}
	var timescale uint32
	var duration uint64
	switch payload[0] {
	case 0:
		if len(payload) < 20 {
			return 0
		}
		timescale = binary.BigEndian.Uint32(payload[12:])
		duration = uint64(binary.BigEndian.Uint32(payload[16:]))
	case 1:
		if len(payload) < 32 {
			return 0
		}
		timescale = binary.BigEndian.Uint32(payload[20:])
		duration = binary.BigEndian.Uint64(payload[24:])
	}
	if timescale == 0 {
		return 0
	}
	return time.Duration(duration) * time.Second / time.Duration(timescale)
}

// Notifications returns the structured records collected so far.
func (f *File) Notifications() []tagbox.Notification { return f.notes.Notifications() }

// Worst returns the highest notification severity seen so far.
func (f *File) Worst() tagbox.Severity { return f.notes.Worst() }

func (f *File) Close() error {
	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	return err
}
