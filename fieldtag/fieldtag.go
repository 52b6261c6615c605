// Package fieldtag provides a generic field-map implementation of the tag
// contract. Container variants parameterize it with their identifier type
// and a Profile supplying the known-field mapping and canonical ordering.
package fieldtag

import (
	"sort"

	"ktkr.us/pkg/tagbox"
)

// Profile supplies the container-specific pieces of a field-map tag.
type Profile[ID comparable] interface {
	// FieldID maps a semantic field to the variant's identifier. ok is
	// false when the variant has no mapping for the field.
	FieldID(f tagbox.KnownField) (id ID, ok bool)
	// KnownField is the reverse mapping; FieldInvalid when unknown.
	KnownField(id ID) tagbox.KnownField
	// ProposedDataType reports the value discriminator expected under id.
	ProposedDataType(id ID) tagbox.ValueType
	// PreferredEncoding is the text encoding the variant serializes.
	PreferredEncoding() tagbox.TextEncoding
	// Less orders identifiers canonically for serialization: known fields
	// first in their fixed enumeration order, then everything else.
	Less(a, b ID) bool
}

// Field is one entry of the map: an identifier and its ordered values.
// TypeInfo is a secondary discriminator some variants use to distinguish
// same-identifier fields (e.g. a locale); it participates in merge
// matching only when assigned.
type Field[ID comparable] struct {
	ID          ID
	Values      []*tagbox.Value
	TypeInfo    uint64
	HasTypeInfo bool
}

// FirstValue returns the field's first non-empty value or the empty
// sentinel.
func (f *Field[ID]) FirstValue() *tagbox.Value {
	for _, v := range f.Values {
		if !v.IsEmpty() {
			return v
		}
	}
	return tagbox.Empty()
}

// IsEmpty reports whether the field carries no non-empty value; such a
// field is equivalent to absent and is dropped at serialization.
func (f *Field[ID]) IsEmpty() bool {
	for _, v := range f.Values {
		if !v.IsEmpty() {
			return false
		}
	}
	return true
}

// Tag is an ordered multi-map from identifier to field. Fields are kept in
// insertion order; serialization uses the profile's canonical order.
type Tag[ID comparable] struct {
	profile Profile[ID]
	fields  []*Field[ID]
}

func New[ID comparable](p Profile[ID]) *Tag[ID] {
	return &Tag[ID]{profile: p}
}

func (t *Tag[ID]) Profile() Profile[ID] { return t.profile }

func (t *Tag[ID]) find(id ID) *Field[ID] {
	for _, f := range t.fields {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// Value returns the first non-empty value stored under id, or the empty
// sentinel.
func (t *Tag[ID]) Value(id ID) *tagbox.Value {
	for _, f := range t.fields {
		if f.ID != id {
			continue
		}
		if v := f.FirstValue(); !v.IsEmpty() {
			return v
		}
	}
	return tagbox.Empty()
}

// Values returns all non-empty values stored under id in insertion order.
func (t *Tag[ID]) Values(id ID) []*tagbox.Value {
	var vs []*tagbox.Value
	for _, f := range t.fields {
		if f.ID != id {
			continue
		}
		for _, v := range f.Values {
			if !v.IsEmpty() {
				vs = append(vs, v)
			}
		}
	}
	return vs
}

// SetValue replaces the first value of the field with the given id, or
// inserts a new field when none exists and v is non-empty. It returns
// false when there was nothing to do.
func (t *Tag[ID]) SetValue(id ID, v *tagbox.Value) bool {
	if f := t.find(id); f != nil {
		if len(f.Values) == 0 {
			f.Values = []*tagbox.Value{v}
		} else {
			f.Values[0] = v
		}
		return true
	}
	if v.IsEmpty() {
		return false
	}
	t.insert(&Field[ID]{ID: id, Values: []*tagbox.Value{v}})
	return true
}

// SetValues replaces all values under id with vs: existing values are
// overwritten in order, extra new values appended, and surplus existing
// values nulled out. Nulled values become tombstones removed when the tag
// is serialized.
func (t *Tag[ID]) SetValues(id ID, vs []*tagbox.Value) bool {
	f := t.find(id)
	if f == nil {
		var kept []*tagbox.Value
		for _, v := range vs {
			if !v.IsEmpty() {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			return false
		}
		t.insert(&Field[ID]{ID: id, Values: kept})
		return true
	}
	i := 0
	for _, v := range vs {
		if v.IsEmpty() {
			continue
		}
		if i < len(f.Values) {
			f.Values[i] = v
		} else {
			f.Values = append(f.Values, v)
		}
		i++
	}
	for ; i < len(f.Values); i++ {
		f.Values[i] = tagbox.Empty()
	}
	return true
}

// HasField reports whether at least one non-empty value exists under id.
func (t *Tag[ID]) HasField(id ID) bool {
	for _, f := range t.fields {
		if f.ID == id && !f.IsEmpty() {
			return true
		}
	}
	return false
}

// FieldCount counts the fields holding at least one non-empty value.
func (t *Tag[ID]) FieldCount() int {
	n := 0
	for _, f := range t.fields {
		if !f.IsEmpty() {
			n++
		}
	}
	return n
}

func (t *Tag[ID]) RemoveAllFields() {
	t.fields = nil
}

// Fields returns the fields in insertion order, including empty ones.
func (t *Tag[ID]) Fields() []*Field[ID] { return t.fields }

// OrderedFields returns the non-empty fields sorted canonically: by the
// profile's identifier order first, insertion order within equal keys (the
// sort is stable over the insertion-ordered storage). This is the
// serialization order; two tags built by the same sequence of sets produce
// the same ordering.
func (t *Tag[ID]) OrderedFields() []*Field[ID] {
	var fs []*Field[ID]
	for _, f := range t.fields {
		if !f.IsEmpty() {
			fs = append(fs, f)
		}
	}
	sort.SliceStable(fs, func(i, j int) bool {
		return t.profile.Less(fs[i].ID, fs[j].ID)
	})
	return fs
}

func (t *Tag[ID]) insert(f *Field[ID]) {
	t.fields = append(t.fields, f)
}

// InsertField adds a parsed field verbatim, preserving duplicates. Codecs
// use it while hydrating a tag.
func (t *Tag[ID]) InsertField(f *Field[ID]) { t.insert(f) }

// InsertFields merges the fields of another tag into this one. Fields
// match when both identifier and assigned type info are equal; matching
// fields are overwritten only when overwrite is set or the existing value
// is empty. It returns the number of fields inserted or updated.
func (t *Tag[ID]) InsertFields(from *Tag[ID], overwrite bool) int {
	inserted := 0
	for _, ff := range from.fields {
		if ff.IsEmpty() {
			continue
		}
		matched := false
		for _, own := range t.fields {
			if own.ID != ff.ID {
				continue
			}
			if own.HasTypeInfo != ff.HasTypeInfo || (own.HasTypeInfo && own.TypeInfo != ff.TypeInfo) {
				continue
			}
			matched = true
			if overwrite || own.IsEmpty() {
				own.Values = append([]*tagbox.Value(nil), ff.Values...)
				own.TypeInfo, own.HasTypeInfo = ff.TypeInfo, ff.HasTypeInfo
				inserted++
			}
		}
		if !matched {
			cp := &Field[ID]{
				ID:          ff.ID,
				Values:      append([]*tagbox.Value(nil), ff.Values...),
				TypeInfo:    ff.TypeInfo,
				HasTypeInfo: ff.HasTypeInfo,
			}
			t.insert(cp)
			inserted++
		}
	}
	return inserted
}

// EnsureTextValuesProperlyEncoded transcodes every text value to the
// profile's preferred encoding.
func (t *Tag[ID]) EnsureTextValuesProperlyEncoded() {
	for _, f := range t.fields {
		for _, v := range f.Values {
			v.ConvertEncoding(t.profile.PreferredEncoding())
		}
	}
}

// ValueByKnown and friends translate semantic fields through the profile
// mapping. A field without a mapping behaves as absent.

func (t *Tag[ID]) ValueByKnown(field tagbox.KnownField) *tagbox.Value {
	id, ok := t.profile.FieldID(field)
	if !ok {
		return tagbox.Empty()
	}
	return t.Value(id)
}

func (t *Tag[ID]) ValuesByKnown(field tagbox.KnownField) []*tagbox.Value {
	id, ok := t.profile.FieldID(field)
	if !ok {
		return nil
	}
	return t.Values(id)
}

func (t *Tag[ID]) SetValueByKnown(field tagbox.KnownField, v *tagbox.Value) bool {
	id, ok := t.profile.FieldID(field)
	if !ok {
		return false
	}
	return t.SetValue(id, v)
}

func (t *Tag[ID]) SetValuesByKnown(field tagbox.KnownField, vs []*tagbox.Value) bool {
	id, ok := t.profile.FieldID(field)
	if !ok {
		return false
	}
	return t.SetValues(id, vs)
}

func (t *Tag[ID]) HasFieldByKnown(field tagbox.KnownField) bool {
	id, ok := t.profile.FieldID(field)
	if !ok {
		return false
	}
	return t.HasField(id)
}

func (t *Tag[ID]) SupportsField(field tagbox.KnownField) bool {
	_, ok := t.profile.FieldID(field)
	return ok
}

// ProposedDataType reports the expected discriminator for id, falling back
// to the known-field default when the profile has no specific answer.
func (t *Tag[ID]) ProposedDataType(id ID) tagbox.ValueType {
	if dt := t.profile.ProposedDataType(id); dt != tagbox.ValueEmpty {
		return dt
	}
	return t.profile.KnownField(id).ProposedDataType()
}
