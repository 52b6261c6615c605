// Package tagbox implements routines for reading and writing metadata tags
// embedded in media container files.
//
// The root package defines the contract shared by all container variants: a
// discriminated tag value, the set of semantic fields a tag may carry, and
// the notification records parsing and writing produce. Container-specific
// codecs live in subpackages.
package tagbox

// KnownField identifies a semantic tag field independent of the
// container-specific code used to store it.
type KnownField int

const (
	FieldInvalid KnownField = iota
	FieldTitle
	FieldAlbum
	FieldArtist
	FieldAlbumArtist
	FieldComposer
	FieldGenre
	FieldYear
	FieldComment
	FieldBPM
	FieldTrackPosition
	FieldDiskPosition
	FieldEncoder
	FieldRecordDate
	FieldCover
	FieldRating
	FieldDescription
	FieldLyrics
	FieldGrouping
	FieldCopyright
	FieldEncoderSettings
	FieldLyricist
)

var knownFieldNames = map[KnownField]string{
	FieldTitle:           "title",
	FieldAlbum:           "album",
	FieldArtist:          "artist",
	FieldAlbumArtist:     "album artist",
	FieldComposer:        "composer",
	FieldGenre:           "genre",
	FieldYear:            "year",
	FieldComment:         "comment",
	FieldBPM:             "bpm",
	FieldTrackPosition:   "track",
	FieldDiskPosition:    "disk",
	FieldEncoder:         "encoder",
	FieldRecordDate:      "record date",
	FieldCover:           "cover",
	FieldRating:          "rating",
	FieldDescription:     "description",
	FieldLyrics:          "lyrics",
	FieldGrouping:        "grouping",
	FieldCopyright:       "copyright",
	FieldEncoderSettings: "encoder settings",
	FieldLyricist:        "lyricist",
}

func (f KnownField) String() string {
	if s, ok := knownFieldNames[f]; ok {
		return s
	}
	return "invalid"
}

// ProposedDataType returns the value discriminator a field is expected to
// carry regardless of container variant. Codecs may refine this per
// identifier.
func (f KnownField) ProposedDataType() ValueType {
	switch f {
	case FieldBPM, FieldRating:
		return ValueInteger
	case FieldGenre:
		// Either free-form text or an index into the standard genre table.
		return ValueText
	case FieldTrackPosition, FieldDiskPosition:
		return ValuePositionInSet
	case FieldCover:
		return ValueBinary
	case FieldRecordDate:
		return ValueDateTime
	case FieldInvalid:
		return ValueEmpty
	default:
		return ValueText
	}
}

// Tag is the contract every container-specific tag implements. Variants
// also expose get/set pairs keyed by their native identifier type; the
// methods here delegate through the variant's known-field mapping, and a
// field with no mapping in a variant behaves as absent.
type Tag interface {
	// TypeName names the tag variant, e.g. "MP4/iTunes tag".
	TypeName() string

	ValueByKnown(field KnownField) *Value
	ValuesByKnown(field KnownField) []*Value
	SetValueByKnown(field KnownField, v *Value) bool
	SetValuesByKnown(field KnownField, vs []*Value) bool
	HasFieldByKnown(field KnownField) bool
	SupportsField(field KnownField) bool

	FieldCount() int
	RemoveAllFields()
	EnsureTextValuesProperlyEncoded()
}
