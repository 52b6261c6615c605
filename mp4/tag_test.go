package mp4

import (
	"bytes"
	"testing"

	"ktkr.us/pkg/tagbox"
)

func parseMetaBytes(t *testing.T, metaBytes []byte) *Tag {
	t.Helper()
	root := parseBytes(metaBytes, nil)
	meta := root.FirstChild()
	if meta == nil || meta.Type != atomMeta {
		t.Fatal("fixture is not a meta atom")
	}
	tag := NewTag()
	if err := tag.parse(meta, nil); err != nil {
		t.Fatal(err)
	}
	return tag
}

func TestTagParseFromMeta(t *testing.T) {
	meta := box("meta", zeros(4),
		hdlrBytes,
		box("ilst",
			box("\xa9nam", dataBox(dataTypeUTF8, []byte("Danse Macabre, Op.40"))),
			box("\xa9ART", dataBox(dataTypeUTF8, []byte("Saint-Saëns"))),
			box("gnre", dataBox(dataTypeImplicit, u16be(33))),
			box("trkn", dataBox(dataTypeImplicit, cat(zeros(2), u16be(10), u16be(12), zeros(2)))),
		),
	)
	tag := parseMetaBytes(t, meta)
	if got := tag.ValueByKnown(tagbox.FieldTitle).Text(); got != "Danse Macabre, Op.40" {
		t.Errorf("title %q", got)
	}
	if got := tag.ValueByKnown(tagbox.FieldArtist).Text(); got != "Saint-Saëns" {
		t.Errorf("artist %q", got)
	}
	if got := tag.ValueByKnown(tagbox.FieldGenre).Text(); got != "Classical" {
		t.Errorf("genre %q", got)
	}
	p, err := tag.ValueByKnown(tagbox.FieldTrackPosition).Position()
	if err != nil || p.Index != 10 {
		t.Errorf("track %v, %v", p, err)
	}
	if tag.FieldCount() != 4 {
		t.Errorf("field count %d", tag.FieldCount())
	}
}

func TestGenreDemotionToStandardTable(t *testing.T) {
	tag := NewTag()
	tag.SetValueByKnown(tagbox.FieldGenre, tagbox.Text("Classical"))
	if !tag.HasField(ID(idPreGenre)) {
		t.Error("table hit did not produce gnre")
	}
	if tag.HasField(ID(idGenre)) {
		t.Error("free-form genre left behind")
	}
	if got := tag.ValueByKnown(tagbox.FieldGenre).Text(); got != "Classical" {
		t.Errorf("read back %q", got)
	}

	tag.SetValueByKnown(tagbox.FieldGenre, tagbox.Text("Midwest Emo"))
	if tag.HasField(ID(idPreGenre)) {
		t.Error("gnre survived a non-table genre")
	}
	if got := tag.Value(ID(idGenre)).Text(); got != "Midwest Emo" {
		t.Errorf("got %q", got)
	}
}

func TestSupportsFieldQuirk(t *testing.T) {
	tag := NewTag()
	if !tag.SupportsField(tagbox.FieldEncoderSettings) {
		t.Error("EncoderSettings reported unsupported")
	}
	if tag.SetValueByKnown(tagbox.FieldEncoderSettings, tagbox.Text("x")) {
		t.Error("setting EncoderSettings succeeded despite missing mapping")
	}
}

func TestExtendedUpdateOnly(t *testing.T) {
	tag := NewTag()
	ext := ExtendedFieldID{Mean: MeanITunes, Name: "MOOD", UpdateOnly: true}
	if tag.SetExtendedValue(ext, tagbox.Text("calm")) {
		t.Error("update-only set created a field")
	}
	ext.UpdateOnly = false
	if !tag.SetExtendedValue(ext, tagbox.Text("calm")) {
		t.Fatal("set failed")
	}
	ext.UpdateOnly = true
	if !tag.SetExtendedValue(ext, tagbox.Text("tense")) {
		t.Error("update-only set on existing field failed")
	}
	if got := tag.ExtendedValue(MeanITunes, "MOOD").Text(); got != "tense" {
		t.Errorf("got %q", got)
	}
}

// Two tags built by the same set sequence must serialize byte-identically.
func TestSerializationDeterminism(t *testing.T) {
	build := func() []byte {
		tag := NewTag()
		tag.SetValueByKnown(tagbox.FieldArtist, tagbox.Text("a"))
		tag.SetValueByKnown(tagbox.FieldTitle, tagbox.Text("t"))
		tag.SetValue(ID(fourCC("zzzz")), tagbox.Text("u"))
		tag.SetValueByKnown(tagbox.FieldLyricist, tagbox.Text("l"))
		m, err := tag.PrepareSave()
		if err != nil {
			t.Fatal(err)
		}
		return m.Bytes()
	}
	if !bytes.Equal(build(), build()) {
		t.Error("serialization not deterministic")
	}
}

// Known fields serialize first in their fixed enumeration order; ids
// without a known mapping follow.
func TestSerializationCanonicalOrder(t *testing.T) {
	tag := NewTag()
	tag.SetValue(ID(fourCC("zzzz")), tagbox.Text("u"))
	tag.SetValueByKnown(tagbox.FieldLyricist, tagbox.Text("l"))
	tag.SetValueByKnown(tagbox.FieldTitle, tagbox.Text("t"))
	var order []FieldID
	for _, f := range tag.OrderedFields() {
		order = append(order, f.ID)
	}
	if len(order) != 3 || order[0] != ID(idTitle) || !order[1].IsExtended() || order[2] != ID(fourCC("zzzz")) {
		t.Errorf("got order %v", order)
	}
}

func TestMakerRoundTrip(t *testing.T) {
	tag := NewTag()
	tag.SetValueByKnown(tagbox.FieldTitle, tagbox.Text("t"))
	tag.SetValueByKnown(tagbox.FieldGenre, tagbox.Text("Classical"))
	tag.SetValueByKnown(tagbox.FieldTrackPosition, tagbox.PositionInSet(3, 4))
	m, err := tag.PrepareSave()
	if err != nil {
		t.Fatal(err)
	}
	out := m.Bytes()
	if int64(len(out)) != m.MetaSize() {
		t.Fatalf("rendered %d bytes, maker said %d", len(out), m.MetaSize())
	}
	if m.RequiredSize() != m.MetaSize()-8 {
		t.Error("required size must exclude the enclosing header")
	}

	got := parseMetaBytes(t, out)
	for _, field := range []tagbox.KnownField{
		tagbox.FieldTitle, tagbox.FieldGenre, tagbox.FieldTrackPosition,
	} {
		if !got.ValueByKnown(field).Equal(tag.ValueByKnown(field)) {
			t.Errorf("%v did not survive round trip", field)
		}
	}
	// hdlr must announce the iTunes metadata handler
	root := parseBytes(out, nil)
	hdlr := root.ChildByPath(atomMeta, atomHdlr)
	if hdlr == nil {
		t.Fatal("no hdlr in made meta")
	}
	payload, _ := hdlr.Payload()
	if string(payload[8:12]) != "mdir" || string(payload[12:16]) != "appl" {
		t.Errorf("hdlr payload %x", payload)
	}
}

func TestTombstonesDroppedAtSerialization(t *testing.T) {
	tag := NewTag()
	tag.SetValues(ID(idComment), []*tagbox.Value{tagbox.Text("a"), tagbox.Text("b")})
	tag.SetValues(ID(idComment), []*tagbox.Value{tagbox.Text("only")})
	m, err := tag.PrepareSave()
	if err != nil {
		t.Fatal(err)
	}
	got := parseMetaBytes(t, m.Bytes())
	vs := got.Values(ID(idComment))
	if len(vs) != 1 || vs[0].Text() != "only" {
		t.Fatalf("got %d values", len(vs))
	}
}
