package tagbox

import (
	"testing"
	"time"
)

func TestTextEncodingRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		enc  TextEncoding
		s    string
	}{
		{"utf8", EncUTF8, "Danse Macabre, Op.40"},
		{"utf16le", EncUTF16LE, "Saint-Saëns"},
		{"utf16be", EncUTF16BE, "Saint-Saëns"},
		{"latin1", EncLatin1, "café"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v := EncodedText(encodeText(c.s, c.enc), c.enc)
			if got := v.Text(); got != c.s {
				t.Errorf("got %q, want %q", got, c.s)
			}
			if err := v.ConvertEncoding(EncUTF8); err != nil {
				t.Fatal(err)
			}
			if got := v.Text(); got != c.s {
				t.Errorf("after conversion got %q, want %q", got, c.s)
			}
		})
	}
}

func TestUTF16BOM(t *testing.T) {
	// a BE BOM on a value declared LE must win
	b := append([]byte{0xFE, 0xFF}, encodeText("abc", EncUTF16BE)...)
	v := EncodedText(b, EncUTF16LE)
	if got := v.Text(); got != "abc" {
		t.Errorf("got %q, want %q", got, "abc")
	}
}

func TestEmptyDistinctFromZeroLengthText(t *testing.T) {
	if !Empty().IsEmpty() {
		t.Error("empty sentinel reported non-empty")
	}
	if Text("").IsEmpty() {
		t.Error("zero-length text reported empty")
	}
}

func TestPositionConversions(t *testing.T) {
	p, err := Text("3/12").Position()
	if err != nil {
		t.Fatal(err)
	}
	if p.Index != 3 || p.Total != 12 {
		t.Errorf("got %v", p)
	}
	p, err = Integer(7).Position()
	if err != nil || p.Index != 7 || p.Total != 0 {
		t.Errorf("got %v, %v", p, err)
	}
	if _, err := Binary("", nil).Position(); err == nil {
		t.Error("binary converted to position")
	}
}

func TestIntConversions(t *testing.T) {
	n, err := Text(" 42 ").Int()
	if err != nil || n != 42 {
		t.Errorf("got %d, %v", n, err)
	}
	if _, err := Text("x").Int(); err == nil {
		t.Error("non-numeric text converted to int")
	}
}

func TestTimeConversion(t *testing.T) {
	tm, err := Text("2012").Time()
	if err != nil {
		t.Fatal(err)
	}
	if tm.Year() != 2012 {
		t.Errorf("got year %d", tm.Year())
	}
	want := time.Date(2012, 4, 1, 0, 0, 0, 0, time.UTC)
	tm, err = DateTime(want).Time()
	if err != nil || !tm.Equal(want) {
		t.Errorf("got %v, %v", tm, err)
	}
}

func TestValueEqual(t *testing.T) {
	a := EncodedText(encodeText("x", EncUTF16BE), EncUTF16BE)
	if !a.Equal(Text("x")) {
		t.Error("equal strings with different encodings compared unequal")
	}
	if Text("").Equal(Empty()) {
		t.Error("zero-length text equal to empty")
	}
}
