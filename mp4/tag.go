package mp4

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"ktkr.us/pkg/tagbox"
	"ktkr.us/pkg/tagbox/fieldtag"
)

// Tag is the iTunes-style metadata list of an MP4 file.
type Tag struct {
	*fieldtag.Tag[FieldID]
}

func NewTag() *Tag {
	return &Tag{fieldtag.New[FieldID](profile{})}
}

func (t *Tag) TypeName() string { return "MP4/iTunes tag" }

// parse hydrates the tag from a meta atom. A missing ilst yields an empty
// tag; malformed fields downgrade to warnings and parsing continues with
// their siblings.
func (t *Tag) parse(meta *Atom, notes *tagbox.Notifier) error {
	if meta == nil || meta.Type != atomMeta {
		return errors.New("mp4: tag parsing requires a meta atom")
	}
	ilst := meta.ChildByPath(atomIlst)
	if ilst == nil {
		return nil
	}
	for _, fa := range ilst.Children() {
		f, err := parseFieldAtom(fa)
		if err != nil {
			if notes != nil {
				notes.Warning(err.Error(), fmt.Sprintf("parsing atom at %#x", fa.Offset))
			}
			continue
		}
		t.InsertField(f)
	}
	return nil
}

// ValueByKnown resolves genre through both its forms: free-form '©gen'
// text wins, then a 'gnre' standard-table index is promoted to its name.
func (t *Tag) ValueByKnown(field tagbox.KnownField) *tagbox.Value {
	if field == tagbox.FieldGenre {
		if v := t.Value(ID(idGenre)); !v.IsEmpty() {
			return v
		}
		if v := t.Value(ID(idPreGenre)); !v.IsEmpty() {
			if n, err := v.GenreIndex(); err == nil {
				if name := genreName(n); name != "" {
					return tagbox.Text(name)
				}
			}
		}
		return tagbox.Empty()
	}
	return t.Tag.ValueByKnown(field)
}

// SetValueByKnown routes genre to its compact form when the text hits the
// standard table, and to free-form text otherwise. Setting '©gen' or
// 'gnre' directly by id bypasses the choice.
func (t *Tag) SetValueByKnown(field tagbox.KnownField, v *tagbox.Value) bool {
	if field == tagbox.FieldGenre && v.Type() == tagbox.ValueText {
		if n := genreIndex(v.Text()); n != 0 {
			t.SetValue(ID(idGenre), tagbox.Empty())
			return t.SetValue(ID(idPreGenre), tagbox.StandardGenreIndex(n))
		}
		t.SetValue(ID(idPreGenre), tagbox.Empty())
		return t.SetValue(ID(idGenre), v)
	}
	return t.Tag.SetValueByKnown(field, v)
}

// HasFieldByKnown covers both genre forms.
func (t *Tag) HasFieldByKnown(field tagbox.KnownField) bool {
	if field == tagbox.FieldGenre {
		return t.HasField(ID(idGenre)) || t.HasField(ID(idPreGenre))
	}
	return t.Tag.HasFieldByKnown(field)
}

// SupportsField reports EncoderSettings as supported even though no ilst
// mapping exists for it; setting it stays a no-op returning false. This
// mirrors long-standing consumer expectations.
func (t *Tag) SupportsField(field tagbox.KnownField) bool {
	if field == tagbox.FieldEncoderSettings {
		return true
	}
	return t.Tag.SupportsField(field)
}

// ExtendedValue returns the first non-empty value of the '----' field with
// the given mean and name.
func (t *Tag) ExtendedValue(mean, name string) *tagbox.Value {
	return t.Value(ExtendedID(mean, name))
}

// SetExtendedValue assigns a value to a '----' field. With UpdateOnly set
// the call is a no-op returning false unless a matching field exists.
func (t *Tag) SetExtendedValue(ext ExtendedFieldID, v *tagbox.Value) bool {
	id := ExtendedID(ext.Mean, ext.Name)
	if ext.UpdateOnly && !t.HasField(id) {
		return false
	}
	return t.SetValue(id, v)
}

// TagMaker holds a fully rendered tag ready to stream: field bytes are
// built once by PrepareSave so RequiredSize and WriteTo never recompute.
type TagMaker struct {
	fields   [][]byte
	ilstSize int64
}

// PrepareSave renders every non-empty field and returns a maker that can
// report the exact serialized size and stream the bytes.
func (t *Tag) PrepareSave() (*TagMaker, error) {
	m := &TagMaker{ilstSize: 8}
	for _, f := range t.OrderedFields() {
		b, err := makeField(f)
		if err != nil {
			return nil, errors.Wrapf(err, "making field %s", f.ID)
		}
		if b == nil {
			continue
		}
		m.fields = append(m.fields, b)
		m.ilstSize += int64(len(b))
	}
	return m, nil
}

// hdlr atom written inside meta: handler 'mdir', manufacturer 'appl',
// empty name.
var hdlrBytes = []byte{
	0, 0, 0, 37, 'h', 'd', 'l', 'r',
	0, 0, 0, 0, // version and flags
	0, 0, 0, 0, // predefined
	'm', 'd', 'i', 'r',
	'a', 'p', 'p', 'l',
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, // empty name
}

// RequiredSize returns the byte count of the complete new meta content,
// excluding the enclosing atom header.
func (m *TagMaker) RequiredSize() int64 {
	return 4 + int64(len(hdlrBytes)) + m.ilstSize
}

// MetaSize returns the total size of the meta atom including its header.
func (m *TagMaker) MetaSize() int64 { return 8 + m.RequiredSize() }

// WriteTo streams the complete meta atom.
func (m *TagMaker) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	writeAtomHeader(&buf, uint32(m.MetaSize()), atomMeta)
	buf.Write([]byte{0, 0, 0, 0}) // meta version and flags
	buf.Write(hdlrBytes)
	writeAtomHeader(&buf, uint32(m.ilstSize), atomIlst)
	for _, f := range m.fields {
		buf.Write(f)
	}
	return buf.WriteTo(w)
}

// Bytes renders the complete meta atom in memory.
func (m *TagMaker) Bytes() []byte {
	var buf bytes.Buffer
	m.WriteTo(&buf)
	return buf.Bytes()
}
