package mp4

import (
	"bytes"
	"testing"
)

func TestLanguagePacking(t *testing.T) {
	for _, lang := range []string{"eng", "ger", "jpn", "und"} {
		if got := unpackLanguage(packLanguage(lang)); got != lang {
			t.Errorf("%q round-tripped to %q", lang, got)
		}
	}
	if packLanguage("!!") != 0x55C4 {
		t.Error("invalid language did not fall back to und")
	}
	if unpackLanguage(0) != "" {
		t.Error("zero language not rejected")
	}
}

func TestChunkOffsetsCo64(t *testing.T) {
	co64 := box("co64", zeros(4), u32be(2),
		cat(u32be(0), u32be(0x1000)), cat(u32be(1), u32be(0)))
	tkhd := box("tkhd", zeros(12), u32be(1), zeros(68))
	mdhd := box("mdhd", zeros(12), u32be(44100), u32be(88200), u16be(testLangEng), zeros(2))
	stbl := box("stbl", co64)
	minf := box("minf", stbl)
	mdia := box("mdia", mdhd, minf)
	data := cat(box("moov", box("trak", tkhd, mdia)))

	root := parseBytes(data, nil)
	tr, err := parseTrack(root.ChildByPath(atomMoov, atomTrak))
	if err != nil {
		t.Fatal(err)
	}
	if !tr.co64 {
		t.Fatal("co64 table not detected")
	}
	offs, err := tr.ChunkOffsets()
	if err != nil {
		t.Fatal(err)
	}
	if len(offs) != 2 || offs[0] != 0x1000 || offs[1] != 1<<32 {
		t.Errorf("got %v", offs)
	}
}

// buildEditorMoov builds a moov holding one track whose stco carries the
// given offsets.
func buildEditorMoov(offsets []uint32) []byte {
	payload := cat(zeros(4), u32be(uint32(len(offsets))))
	for _, off := range offsets {
		payload = cat(payload, u32be(off))
	}
	stco := box("stco", payload)
	stbl := box("stbl", stco)
	minf := box("minf", stbl)
	mdia := box("mdia", minf)
	trak := box("trak", mdia)
	return box("moov", trak)
}

func TestPromoteStcoToCo64(t *testing.T) {
	ed := &moovEditor{buf: buildEditorMoov([]uint32{100, 200, 300})}
	moov, err := ed.parse()
	if err != nil {
		t.Fatal(err)
	}
	boxes, err := collectChunkOffsetBoxes(moov)
	if err != nil {
		t.Fatal(err)
	}
	if len(boxes) != 1 || boxes[0].co64 {
		t.Fatalf("boxes %v", boxes)
	}
	oldLen := len(ed.buf)
	if err := ed.promote(boxes[0]); err != nil {
		t.Fatal(err)
	}
	// each entry widens by 4 bytes
	if len(ed.buf) != oldLen+12 {
		t.Fatalf("buffer grew by %d", len(ed.buf)-oldLen)
	}

	moov, err = ed.parse()
	if err != nil {
		t.Fatal(err)
	}
	boxes, err = collectChunkOffsetBoxes(moov)
	if err != nil {
		t.Fatal(err)
	}
	if len(boxes) != 1 || !boxes[0].co64 || boxes[0].count != 3 {
		t.Fatalf("promotion result %+v", boxes)
	}
	for i, want := range []uint64{100, 200, 300} {
		if got := boxes[0].entry(ed.buf, i); got != want {
			t.Errorf("entry %d = %d, want %d", i, got, want)
		}
	}
	// ancestor sizes must cover the wider table
	if moov.Size != int64(len(ed.buf)) {
		t.Error("moov size not adjusted")
	}
}

func TestRewriteChunkOffsetsWithPromotion(t *testing.T) {
	// media sits near the 32-bit boundary; moving it behind moov pushes
	// the offsets over and must force a co64 promotion
	moovBuf := buildEditorMoov([]uint32{0xFFFF_FFF0})
	ed := &moovEditor{buf: moovBuf}

	// fabricate a preserved block atom claiming the offset's range
	mdat := &Atom{Offset: 0xFFFF_FF00, Size: 0x200, Type: atomMdat}
	newOff := int64(0x1_0000_0100)
	block := []*Atom{mdat}

	ftypSize := newOff - int64(len(ed.buf)) // layout: ftyp, moov, block
	if err := ed.rewriteChunkOffsets(ftypSize, 0, true, block); err != nil {
		t.Fatal(err)
	}

	moov, err := ed.parse()
	if err != nil {
		t.Fatal(err)
	}
	boxes, err := collectChunkOffsetBoxes(moov)
	if err != nil {
		t.Fatal(err)
	}
	if len(boxes) != 1 || !boxes[0].co64 {
		t.Fatal("table not promoted")
	}
	got := boxes[0].entry(ed.buf, 0)
	// the promotion grew moov by 4, shifting the block by 4 as well
	want := uint64(0xFFFF_FFF0-0xFFFF_FF00) + uint64(newOff) + 4
	if got != want {
		t.Errorf("offset %#x, want %#x", got, want)
	}
}

func TestMdatBytesPreservedAcrossRewrite(t *testing.T) {
	fx := buildFixture(t, makeMeta(t, "x"), 32, "M4A ")
	path := writeFixture(t, fx)
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var before []byte
	for _, a := range f.root.Children() {
		if a.Type == atomMdat {
			before, _ = a.Payload()
		}
	}
	if err := f.Save(SaveOptions{ForceRewrite: true, TagPosition: PositionAfterData, ForceTagPosition: true}); err != nil {
		t.Fatal(err)
	}
	var after []byte
	for _, a := range f.root.Children() {
		if a.Type == atomMdat {
			after, _ = a.Payload()
		}
	}
	if !bytes.Equal(before, after) {
		t.Error("mdat payload changed across rewrite")
	}
}
