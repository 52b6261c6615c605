package mp4

import "ktkr.us/pkg/tagbox"

// iTunes metadata list field ids.
var (
	idTitle      = fourCC("\xa9nam")
	idAlbum      = fourCC("\xa9alb")
	idArtist     = fourCC("\xa9ART")
	idAlbumArt   = fourCC("aART")
	idComposer   = fourCC("\xa9wrt")
	idGenre      = fourCC("\xa9gen")
	idPreGenre   = fourCC("gnre")
	idYear       = fourCC("\xa9day")
	idComment    = fourCC("\xa9cmt")
	idBPM        = fourCC("tmpo")
	idTrack      = fourCC("trkn")
	idDisk       = fourCC("disk")
	idEncoder    = fourCC("\xa9too")
	idCover      = fourCC("covr")
	idRating     = fourCC("rtng")
	idDesc       = fourCC("desc")
	idLyrics     = fourCC("\xa9lyr")
	idGrouping   = fourCC("\xa9grp")
	idCopyright = fourCC("cprt")
	idExtended  = fourCC("----")
)

// MeanITunes is the conventional mean value of extended ('----') fields.
const MeanITunes = "com.apple.iTunes"

// FieldID identifies one ilst field. Ordinary fields carry just the
// fourcc; extended ('----') fields are distinguished by their mean and
// name strings, which must match byte-exactly.
type FieldID struct {
	Code FourCC
	Mean string
	Name string
}

func ID(code FourCC) FieldID { return FieldID{Code: code} }

// ExtendedID builds the identifier of a '----' field.
func ExtendedID(mean, name string) FieldID {
	return FieldID{Code: idExtended, Mean: mean, Name: name}
}

func (id FieldID) IsExtended() bool { return id.Code == idExtended }

func (id FieldID) String() string {
	if id.IsExtended() {
		return id.Code.String() + ":" + id.Mean + ":" + id.Name
	}
	return id.Code.String()
}

// ExtendedFieldID carries the write-time addressing of an extended field.
// UpdateOnly makes a set a no-op unless a matching field already exists.
type ExtendedFieldID struct {
	Mean       string
	Name       string
	UpdateOnly bool
}

// Matches reports whether the parameters address the given field.
func (e ExtendedFieldID) Matches(id FieldID) bool {
	return id.IsExtended() && id.Mean == e.Mean && id.Name == e.Name
}

// knownFieldIDs maps semantic fields to ilst ids in their canonical
// serialization order. EncoderSettings intentionally has no entry.
var knownFieldIDs = []struct {
	field tagbox.KnownField
	id    FieldID
}{
	{tagbox.FieldTitle, ID(idTitle)},
	{tagbox.FieldAlbum, ID(idAlbum)},
	{tagbox.FieldArtist, ID(idArtist)},
	{tagbox.FieldAlbumArtist, ID(idAlbumArt)},
	{tagbox.FieldComposer, ID(idComposer)},
	{tagbox.FieldGenre, ID(idGenre)},
	{tagbox.FieldYear, ID(idYear)},
	{tagbox.FieldRecordDate, ID(idYear)},
	{tagbox.FieldComment, ID(idComment)},
	{tagbox.FieldBPM, ID(idBPM)},
	{tagbox.FieldTrackPosition, ID(idTrack)},
	{tagbox.FieldDiskPosition, ID(idDisk)},
	{tagbox.FieldEncoder, ID(idEncoder)},
	{tagbox.FieldCover, ID(idCover)},
	{tagbox.FieldRating, ID(idRating)},
	{tagbox.FieldDescription, ID(idDesc)},
	{tagbox.FieldLyrics, ID(idLyrics)},
	{tagbox.FieldGrouping, ID(idGrouping)},
	{tagbox.FieldCopyright, ID(idCopyright)},
	{tagbox.FieldLyricist, ExtendedID(MeanITunes, "LYRICIST")},
}

// canonicalRank orders serialization: known ids first in enumeration
// order, then unknown plain ids, then extended ids.
var canonicalRank = func() map[FieldID]int {
	m := make(map[FieldID]int, len(knownFieldIDs))
	for i, e := range knownFieldIDs {
		if _, dup := m[e.id]; !dup {
			m[e.id] = i
		}
	}
	m[ID(idPreGenre)] = m[ID(idGenre)]
	return m
}()

// profile implements fieldtag.Profile for the iTunes tag variant.
type profile struct{}

func (profile) FieldID(f tagbox.KnownField) (FieldID, bool) {
	for _, e := range knownFieldIDs {
		if e.field == f {
			return e.id, true
		}
	}
	return FieldID{}, false
}

func (profile) KnownField(id FieldID) tagbox.KnownField {
	if id.Code == idPreGenre {
		return tagbox.FieldGenre
	}
	for _, e := range knownFieldIDs {
		if e.id == id {
			return e.field
		}
	}
	return tagbox.FieldInvalid
}

func (p profile) ProposedDataType(id FieldID) tagbox.ValueType {
	switch id.Code {
	case idPreGenre:
		return tagbox.ValueStandardGenreIndex
	case idBPM, idRating:
		return tagbox.ValueInteger
	case idTrack, idDisk:
		return tagbox.ValuePositionInSet
	case idCover:
		return tagbox.ValueBinary
	}
	return p.KnownField(id).ProposedDataType()
}

func (profile) PreferredEncoding() tagbox.TextEncoding { return tagbox.EncUTF8 }

func (profile) Less(a, b FieldID) bool {
	ra, aKnown := canonicalRank[a]
	rb, bKnown := canonicalRank[b]
	switch {
	case aKnown && bKnown:
		return ra < rb
	case aKnown != bKnown:
		return aKnown
	case a.IsExtended() != b.IsExtended():
		return !a.IsExtended()
	case a.Code != b.Code:
		return a.Code < b.Code
	case a.Mean != b.Mean:
		return a.Mean < b.Mean
	}
	return a.Name < b.Name
}
