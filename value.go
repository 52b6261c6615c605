package tagbox

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/pkg/errors"
)

// ValueType discriminates the representation of a tag value.
type ValueType int

const (
	ValueEmpty ValueType = iota
	ValueText
	ValueInteger
	ValuePositionInSet
	ValueBinary
	ValueDateTime
	ValueStandardGenreIndex
)

// TextEncoding identifies the byte encoding of a text value.
type TextEncoding int

const (
	EncUTF8 TextEncoding = iota
	EncUTF16LE
	EncUTF16BE
	EncLatin1
)

var ErrIncompatibleValue = errors.New("tagbox: value type incompatible with field")

// Position is a position-in-set value such as track 3 of 12. Total may be
// zero when unknown.
type Position struct {
	Index int
	Total int
}

func (p Position) String() string {
	if p.Total > 0 {
		return strconv.Itoa(p.Index) + "/" + strconv.Itoa(p.Total)
	}
	return strconv.Itoa(p.Index)
}

// Value is a discriminated tag value. The zero Value is empty; empty is
// distinct from zero-length text.
type Value struct {
	typ  ValueType
	enc  TextEncoding
	data []byte
	num  int64
	pos  Position
	t    time.Time
	mime string
}

func Empty() *Value { return &Value{} }

func Text(s string) *Value {
	return &Value{typ: ValueText, enc: EncUTF8, data: []byte(s)}
}

// EncodedText wraps raw text bytes carrying the given encoding without
// transcoding them.
func EncodedText(b []byte, enc TextEncoding) *Value {
	return &Value{typ: ValueText, enc: enc, data: b}
}

func Integer(n int64) *Value {
	return &Value{typ: ValueInteger, num: n}
}

func PositionInSet(index, total int) *Value {
	return &Value{typ: ValuePositionInSet, pos: Position{index, total}}
}

func Binary(mime string, b []byte) *Value {
	return &Value{typ: ValueBinary, mime: mime, data: b}
}

func DateTime(t time.Time) *Value {
	return &Value{typ: ValueDateTime, t: t}
}

// StandardGenreIndex is a 1-based index into the ID3v1 genre table as stored
// by MP4 'gnre' atoms.
func StandardGenreIndex(n uint16) *Value {
	return &Value{typ: ValueStandardGenreIndex, num: int64(n)}
}

func (v *Value) Type() ValueType {
	if v == nil {
		return ValueEmpty
	}
	return v.typ
}

// IsEmpty reports whether the value is the empty sentinel. Zero-length text
// is not empty.
func (v *Value) IsEmpty() bool {
	return v == nil || v.typ == ValueEmpty
}

func (v *Value) Encoding() TextEncoding { return v.enc }

// Bytes returns the raw payload for text and binary values.
func (v *Value) Bytes() []byte { return v.data }

func (v *Value) MIMEType() string { return v.mime }

// Text returns the value rendered as a UTF-8 string. Non-text values are
// formatted; the conversion never fails.
func (v *Value) Text() string {
	if v == nil {
		return ""
	}
	switch v.typ {
	case ValueText:
		s, _ := decodeText(v.data, v.enc)
		return s
	case ValueInteger, ValueStandardGenreIndex:
		return strconv.FormatInt(v.num, 10)
	case ValuePositionInSet:
		return v.pos.String()
	case ValueDateTime:
		return v.t.Format(time.RFC3339)
	case ValueBinary:
		return fmt.Sprintf("binary (%d bytes)", len(v.data))
	}
	return ""
}

// Int returns the value as an integer where a lossless interpretation
// exists.
func (v *Value) Int() (int64, error) {
	switch v.Type() {
	case ValueInteger, ValueStandardGenreIndex:
		return v.num, nil
	case ValuePositionInSet:
		return int64(v.pos.Index), nil
	case ValueText:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Text()), 10, 64)
		if err != nil {
			return 0, errors.Wrap(ErrIncompatibleValue, "text is not numeric")
		}
		return n, nil
	}
	return 0, ErrIncompatibleValue
}

// Position returns the value as a position in set. Plain integers convert
// with an unknown total; "n/m" text parses both parts.
func (v *Value) Position() (Position, error) {
	switch v.Type() {
	case ValuePositionInSet:
		return v.pos, nil
	case ValueInteger:
		return Position{Index: int(v.num)}, nil
	case ValueText:
		var p Position
		s := v.Text()
		if i := strings.IndexByte(s, '/'); i >= 0 {
			n, err := strconv.Atoi(strings.TrimSpace(s[i+1:]))
			if err != nil {
				return p, errors.Wrap(ErrIncompatibleValue, "bad position total")
			}
			p.Total = n
			s = s[:i]
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return p, errors.Wrap(ErrIncompatibleValue, "bad position index")
		}
		p.Index = n
		return p, nil
	}
	return Position{}, ErrIncompatibleValue
}

// Time returns the value as a point in time. Text values try a handful of
// common layouts, most-specific first.
func (v *Value) Time() (time.Time, error) {
	switch v.Type() {
	case ValueDateTime:
		return v.t, nil
	case ValueText:
		s := v.Text()
		for _, layout := range []string{time.RFC3339, "2006-01-02", "2006"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, ErrIncompatibleValue
}

// GenreIndex returns the 1-based standard genre table index, or an error if
// the value is not one.
func (v *Value) GenreIndex() (uint16, error) {
	if v.Type() != ValueStandardGenreIndex {
		return 0, ErrIncompatibleValue
	}
	return uint16(v.num), nil
}

// ConvertEncoding transcodes a text value to the given encoding in place.
// Non-text values are left alone.
func (v *Value) ConvertEncoding(enc TextEncoding) error {
	if v.Type() != ValueText || v.enc == enc {
		return nil
	}
	s, err := decodeText(v.data, v.enc)
	if err != nil {
		return err
	}
	v.data = encodeText(s, enc)
	v.enc = enc
	return nil
}

// Equal reports whether two values have the same type and payload. Text
// values compare by decoded content, not raw bytes, so differently encoded
// but identical strings are equal.
func (v *Value) Equal(o *Value) bool {
	if v.Type() != o.Type() {
		return false
	}
	switch v.Type() {
	case ValueEmpty:
		return true
	case ValueText:
		return v.Text() == o.Text()
	case ValueInteger, ValueStandardGenreIndex:
		return v.num == o.num
	case ValuePositionInSet:
		return v.pos == o.pos
	case ValueDateTime:
		return v.t.Equal(o.t)
	case ValueBinary:
		return v.mime == o.mime && bytes.Equal(v.data, o.data)
	}
	return false
}

func decodeText(buf []byte, enc TextEncoding) (string, error) {
	if len(buf) == 0 {
		return "", nil
	}
	switch enc {
	case EncUTF8:
		return string(buf), nil
	case EncLatin1:
		r := make([]rune, len(buf))
		for i := range buf {
			r[i] = rune(buf[i])
		}
		return string(r), nil
	case EncUTF16LE, EncUTF16BE:
		order := binary.ByteOrder(binary.BigEndian)
		if enc == EncUTF16LE {
			order = binary.LittleEndian
		}
		// A BOM overrides the declared order.
		if len(buf) >= 2 {
			switch {
			case buf[0] == 0xFE && buf[1] == 0xFF:
				order, buf = binary.BigEndian, buf[2:]
			case buf[0] == 0xFF && buf[1] == 0xFE:
				order, buf = binary.LittleEndian, buf[2:]
			}
		}
		if len(buf)%2 != 0 {
			return "", errors.New("tagbox: odd UTF-16 byte count")
		}
		u := make([]uint16, len(buf)/2)
		for i := range u {
			u[i] = order.Uint16(buf[2*i:])
		}
		return strings.TrimRight(string(utf16.Decode(u)), "\x00"), nil
	}
	return "", errors.Errorf("tagbox: unknown text encoding %d", enc)
}

func encodeText(s string, enc TextEncoding) []byte {
	switch enc {
	case EncUTF8:
		return []byte(s)
	case EncLatin1:
		b := make([]byte, 0, len(s))
		for _, r := range s {
			if r > 0xFF {
				r = '?'
			}
			b = append(b, byte(r))
		}
		return b
	case EncUTF16LE, EncUTF16BE:
		order := binary.ByteOrder(binary.BigEndian)
		if enc == EncUTF16LE {
			order = binary.LittleEndian
		}
		u := utf16.Encode([]rune(s))
		b := make([]byte, 2*len(u))
		for i, c := range u {
			order.PutUint16(b[2*i:], c)
		}
		return b
	}
	return []byte(s)
}
