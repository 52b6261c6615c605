package fieldtag

import (
	"testing"

	"ktkr.us/pkg/tagbox"
)

// testProfile keys fields by a plain string with alphabetic canonical
// order and a tiny known-field table.
type testProfile struct{}

func (testProfile) FieldID(f tagbox.KnownField) (string, bool) {
	switch f {
	case tagbox.FieldTitle:
		return "TIT", true
	case tagbox.FieldArtist:
		return "ART", true
	}
	return "", false
}

func (testProfile) KnownField(id string) tagbox.KnownField {
	switch id {
	case "TIT":
		return tagbox.FieldTitle
	case "ART":
		return tagbox.FieldArtist
	}
	return tagbox.FieldInvalid
}

func (testProfile) ProposedDataType(string) tagbox.ValueType { return tagbox.ValueEmpty }
func (testProfile) PreferredEncoding() tagbox.TextEncoding   { return tagbox.EncUTF8 }
func (testProfile) Less(a, b string) bool                    { return a < b }

func newTestTag() *Tag[string] { return New[string](testProfile{}) }

func TestSetValueGetValue(t *testing.T) {
	tag := newTestTag()
	v := tagbox.Text("x")
	if !tag.SetValue("TIT", v) {
		t.Fatal("set of non-empty value failed")
	}
	if got := tag.Value("TIT"); !got.Equal(v) {
		t.Errorf("got %q", got.Text())
	}
}

func TestSetEmptyOnAbsentIsNoop(t *testing.T) {
	tag := newTestTag()
	if tag.SetValue("TIT", tagbox.Empty()) {
		t.Error("setting empty on absent id returned true")
	}
	if tag.HasField("TIT") {
		t.Error("field materialized")
	}
}

func TestSetValuesClear(t *testing.T) {
	tag := newTestTag()
	tag.SetValues("TIT", []*tagbox.Value{tagbox.Text("a"), tagbox.Text("b")})
	if got := len(tag.Values("TIT")); got != 2 {
		t.Fatalf("got %d values", got)
	}
	tag.SetValues("TIT", nil)
	if tag.HasField("TIT") {
		t.Error("field still present after clearing values")
	}
	if tag.FieldCount() != 0 {
		t.Errorf("field count %d", tag.FieldCount())
	}
}

func TestSetValuesReplacesAndTombstones(t *testing.T) {
	tag := newTestTag()
	tag.SetValues("TIT", []*tagbox.Value{tagbox.Text("a"), tagbox.Text("b"), tagbox.Text("c")})
	tag.SetValues("TIT", []*tagbox.Value{tagbox.Text("z")})
	vs := tag.Values("TIT")
	if len(vs) != 1 || vs[0].Text() != "z" {
		t.Errorf("got %d values", len(vs))
	}
	// tombstones keep their slots in the field's values; only rendering
	// the field drops them
	if fs := tag.OrderedFields(); len(fs) != 1 || len(fs[0].Values) != 3 {
		t.Errorf("unexpected ordered fields")
	}
}

func TestValueSkipsEmpty(t *testing.T) {
	tag := newTestTag()
	tag.InsertField(&Field[string]{ID: "TIT", Values: []*tagbox.Value{tagbox.Empty(), tagbox.Text("real")}})
	if got := tag.Value("TIT").Text(); got != "real" {
		t.Errorf("got %q", got)
	}
}

func TestKnownFieldDelegation(t *testing.T) {
	tag := newTestTag()
	tag.SetValueByKnown(tagbox.FieldTitle, tagbox.Text("t"))
	if got := tag.Value("TIT").Text(); got != "t" {
		t.Errorf("got %q", got)
	}
	if tag.SetValueByKnown(tagbox.FieldCover, tagbox.Text("x")) {
		t.Error("set of unmapped known field succeeded")
	}
	if tag.SupportsField(tagbox.FieldCover) {
		t.Error("unmapped field reported supported")
	}
}

func TestOrderedFieldsCanonical(t *testing.T) {
	a := newTestTag()
	a.SetValue("ZZZ", tagbox.Text("1"))
	a.SetValue("ART", tagbox.Text("2"))
	a.SetValue("AAA", tagbox.Text("3"))

	var order []string
	for _, f := range a.OrderedFields() {
		order = append(order, f.ID)
	}
	want := []string{"AAA", "ART", "ZZZ"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got order %v, want %v", order, want)
		}
	}
}

func TestOrderingLaw(t *testing.T) {
	build := func() *Tag[string] {
		tag := newTestTag()
		tag.SetValue("TIT", tagbox.Text("t"))
		tag.SetValue("ART", tagbox.Text("a"))
		tag.SetValue("XXX", tagbox.Text("x"))
		return tag
	}
	a, b := build().OrderedFields(), build().OrderedFields()
	if len(a) != len(b) {
		t.Fatal("length mismatch")
	}
	for i := range a {
		if a[i].ID != b[i].ID || !a[i].Values[0].Equal(b[i].Values[0]) {
			t.Fatalf("order diverged at %d", i)
		}
	}
}

func TestInsertFields(t *testing.T) {
	a := newTestTag()
	a.SetValue("TIT", tagbox.Text("old"))
	b := newTestTag()
	b.SetValue("TIT", tagbox.Text("new"))
	b.SetValue("ART", tagbox.Text("artist"))

	n := a.InsertFields(b, false)
	if n != 1 {
		t.Errorf("inserted %d, want 1", n)
	}
	if got := a.Value("TIT").Text(); got != "old" {
		t.Errorf("overwrite=false replaced value: %q", got)
	}
	n = a.InsertFields(b, true)
	if n != 2 {
		t.Errorf("inserted %d, want 2", n)
	}
	if got := a.Value("TIT").Text(); got != "new" {
		t.Errorf("overwrite=true kept old value: %q", got)
	}
}

func TestEnsureTextValuesProperlyEncoded(t *testing.T) {
	tag := newTestTag()
	tag.SetValue("TIT", tagbox.EncodedText([]byte{0, 'h', 0, 'i'}, tagbox.EncUTF16BE))
	tag.EnsureTextValuesProperlyEncoded()
	v := tag.Value("TIT")
	if v.Encoding() != tagbox.EncUTF8 || v.Text() != "hi" {
		t.Errorf("got encoding %d text %q", v.Encoding(), v.Text())
	}
}
