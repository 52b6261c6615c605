package mp4

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"ktkr.us/pkg/tagbox"
	"ktkr.us/pkg/tagbox/fieldtag"
)

// Well-known data atom type indicators.
const (
	dataTypeImplicit = 0 // binary, or packed forms like trkn/disk/gnre
	dataTypeUTF8     = 1
	dataTypeUTF16    = 2
	dataTypeJPEG     = 13
	dataTypePNG      = 14
	dataTypeInteger  = 21 // signed big-endian, 1/2/4/8 bytes
)

// Field is one ilst entry: an identifier plus its ordered values.
type Field = fieldtag.Field[FieldID]

var errBadFieldAtom = errors.New("mp4: malformed ilst field atom")

// parseFieldAtom decodes one child of ilst into a field. The payload is a
// sequence of sub-atoms: 'data' for values, plus 'mean' and 'name' for
// extended ('----') fields.
func parseFieldAtom(a *Atom) (*Field, error) {
	payload, err := a.Payload()
	if err != nil {
		return nil, err
	}
	f := &Field{ID: ID(a.Type)}
	var dataAtoms [][]byte
	for pos := 0; pos < len(payload); {
		if len(payload)-pos < 8 {
			return nil, errors.Wrapf(errBadFieldAtom, "%s at %#x", a.Type, a.Offset)
		}
		size := int(binary.BigEndian.Uint32(payload[pos:]))
		typ := FourCC(binary.BigEndian.Uint32(payload[pos+4:]))
		if size < 8 || pos+size > len(payload) {
			return nil, errors.Wrapf(errBadFieldAtom, "%s at %#x", a.Type, a.Offset)
		}
		body := payload[pos+8 : pos+size]
		switch typ {
		case atomMean:
			if len(body) < 4 {
				return nil, errors.Wrapf(errBadFieldAtom, "short mean in %s", a.Type)
			}
			f.ID.Mean = string(body[4:])
		case atomName:
			if len(body) < 4 {
				return nil, errors.Wrapf(errBadFieldAtom, "short name in %s", a.Type)
			}
			f.ID.Name = string(body[4:])
		case atomData:
			dataAtoms = append(dataAtoms, body)
		}
		pos += size
	}
	for _, body := range dataAtoms {
		if len(body) < 8 {
			return nil, errors.Wrapf(errBadFieldAtom, "short data in %s", a.Type)
		}
		rawType := binary.BigEndian.Uint32(body[:4])
		// body[4:8] is the locale (country + language); it is not kept,
		// and makeField writes every value back with a zero locale.
		v := decodeDataValue(f.ID, rawType, body[8:])
		if v.Type() == tagbox.ValueBinary && rawType != dataTypeImplicit &&
			rawType != dataTypeJPEG && rawType != dataTypePNG {
			f.TypeInfo = uint64(rawType)
			f.HasTypeInfo = true
		}
		f.Values = append(f.Values, v)
	}
	return f, nil
}

func decodeDataValue(id FieldID, rawType uint32, raw []byte) *tagbox.Value {
	switch rawType {
	case dataTypeUTF8:
		return tagbox.EncodedText(append([]byte(nil), raw...), tagbox.EncUTF8)
	case dataTypeUTF16:
		return tagbox.EncodedText(append([]byte(nil), raw...), tagbox.EncUTF16BE)
	case dataTypeJPEG:
		return tagbox.Binary("image/jpeg", append([]byte(nil), raw...))
	case dataTypePNG:
		return tagbox.Binary("image/png", append([]byte(nil), raw...))
	case dataTypeInteger:
		var n int64
		switch len(raw) {
		case 1:
			n = int64(int8(raw[0]))
		case 2:
			n = int64(int16(binary.BigEndian.Uint16(raw)))
		case 4:
			n = int64(int32(binary.BigEndian.Uint32(raw)))
		case 8:
			n = int64(binary.BigEndian.Uint64(raw))
		default:
			return tagbox.Binary("", append([]byte(nil), raw...))
		}
		return tagbox.Integer(n)
	case dataTypeImplicit:
		switch id.Code {
		case idPreGenre:
			if len(raw) == 2 {
				return tagbox.StandardGenreIndex(binary.BigEndian.Uint16(raw))
			}
		case idTrack, idDisk:
			if len(raw) >= 6 {
				return tagbox.PositionInSet(
					int(binary.BigEndian.Uint16(raw[2:])),
					int(binary.BigEndian.Uint16(raw[4:])))
			}
		}
	}
	return tagbox.Binary("", append([]byte(nil), raw...))
}

// encodeDataValue renders a value to its data atom type indicator and
// payload. The field identifier acts as the proposed-type hint for packed
// forms.
func encodeDataValue(id FieldID, f *Field, v *tagbox.Value) (uint32, []byte, error) {
	switch v.Type() {
	case tagbox.ValueText:
		switch v.Encoding() {
		case tagbox.EncUTF16LE, tagbox.EncUTF16BE:
			// data type 2 stores UTF-16BE
			if err := v.ConvertEncoding(tagbox.EncUTF16BE); err != nil {
				return 0, nil, err
			}
			return dataTypeUTF16, v.Bytes(), nil
		default:
			return dataTypeUTF8, []byte(v.Text()), nil
		}
	case tagbox.ValueStandardGenreIndex:
		n, _ := v.GenreIndex()
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], n)
		return dataTypeImplicit, b[:], nil
	case tagbox.ValuePositionInSet:
		p, _ := v.Position()
		size := 6
		if id.Code == idTrack {
			size = 8
		}
		b := make([]byte, size)
		binary.BigEndian.PutUint16(b[2:], uint16(p.Index))
		binary.BigEndian.PutUint16(b[4:], uint16(p.Total))
		return dataTypeImplicit, b, nil
	case tagbox.ValueInteger:
		n, _ := v.Int()
		return dataTypeInteger, encodeSignedBE(n), nil
	case tagbox.ValueDateTime:
		t, _ := v.Time()
		return dataTypeUTF8, []byte(t.Format("2006-01-02")), nil
	case tagbox.ValueBinary:
		switch v.MIMEType() {
		case "image/jpeg":
			return dataTypeJPEG, v.Bytes(), nil
		case "image/png":
			return dataTypePNG, v.Bytes(), nil
		}
		if f.HasTypeInfo {
			return uint32(f.TypeInfo), v.Bytes(), nil
		}
		return dataTypeImplicit, v.Bytes(), nil
	}
	return 0, nil, errors.Wrapf(tagbox.ErrIncompatibleValue, "field %s", id)
}

func encodeSignedBE(n int64) []byte {
	switch {
	case n >= -0x80 && n < 0x80:
		return []byte{byte(int8(n))}
	case n >= -0x8000 && n < 0x8000:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(int16(n)))
		return b
	case n >= -0x80000000 && n < 0x80000000:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(int32(n)))
		return b
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

// makeField renders a field to its complete ilst child atom bytes.
// Tombstoned values are skipped; a field with no renderable value yields
// nil.
func makeField(f *Field) ([]byte, error) {
	var data bytes.Buffer
	for _, v := range f.Values {
		if v.IsEmpty() {
			continue
		}
		typ, payload, err := encodeDataValue(f.ID, f, v)
		if err != nil {
			return nil, err
		}
		writeAtomHeader(&data, uint32(16+len(payload)), atomData)
		var hdr [8]byte
		binary.BigEndian.PutUint32(hdr[:4], typ)
		// hdr[4:8]: locale, always written as zero
		data.Write(hdr[:])
		data.Write(payload)
	}
	if data.Len() == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	if f.ID.IsExtended() {
		mean, name := []byte(f.ID.Mean), []byte(f.ID.Name)
		total := 8 + 12 + len(mean) + 12 + len(name) + data.Len()
		writeAtomHeader(&buf, uint32(total), f.ID.Code)
		writeAtomHeader(&buf, uint32(12+len(mean)), atomMean)
		buf.Write([]byte{0, 0, 0, 0})
		buf.Write(mean)
		writeAtomHeader(&buf, uint32(12+len(name)), atomName)
		buf.Write([]byte{0, 0, 0, 0})
		buf.Write(name)
	} else {
		writeAtomHeader(&buf, uint32(8+data.Len()), f.ID.Code)
	}
	buf.Write(data.Bytes())
	return buf.Bytes(), nil
}

func writeAtomHeader(buf *bytes.Buffer, size uint32, typ FourCC) {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], size)
	binary.BigEndian.PutUint32(hdr[4:], uint32(typ))
	buf.Write(hdr[:])
}
