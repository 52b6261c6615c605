package mp4

// FourCC is a four-byte big-endian atom type identifier.
type FourCC uint32

func fourCC(s string) FourCC {
	return FourCC(s[0])<<24 | FourCC(s[1])<<16 | FourCC(s[2])<<8 | FourCC(s[3])
}

func (c FourCC) String() string {
	return string([]byte{byte(c >> 24), byte(c >> 16), byte(c >> 8), byte(c)})
}

// Printable reports whether every byte of the code is in the range atom
// types conventionally use. The © sign (0xA9) marks iTunes ids.
func (c FourCC) Printable() bool {
	for _, b := range []byte{byte(c >> 24), byte(c >> 16), byte(c >> 8), byte(c)} {
		if (b < 0x20 || b > 0x7E) && b != 0xA9 {
			return false
		}
	}
	return true
}

var (
	atomFtyp = fourCC("ftyp")
	atomMoov = fourCC("moov")
	atomMdat = fourCC("mdat")
	atomMoof = fourCC("moof")
	atomFree = fourCC("free")
	atomSkip = fourCC("skip")
	atomUUID = fourCC("uuid")
	atomWide = fourCC("wide")

	atomTrak = fourCC("trak")
	atomTkhd = fourCC("tkhd")
	atomMdia = fourCC("mdia")
	atomMdhd = fourCC("mdhd")
	atomHdlr = fourCC("hdlr")
	atomMinf = fourCC("minf")
	atomStbl = fourCC("stbl")
	atomStsd = fourCC("stsd")
	atomStco = fourCC("stco")
	atomCo64 = fourCC("co64")
	atomMvhd = fourCC("mvhd")

	atomUdta = fourCC("udta")
	atomMeta = fourCC("meta")
	atomIlst = fourCC("ilst")
	atomData = fourCC("data")
	atomMean = fourCC("mean")
	atomName = fourCC("name")
)

// containerAtoms is the closed set of types whose payload is a sequence of
// child atoms. Anything else is treated as a leaf with opaque payload.
var containerAtoms = map[FourCC]bool{
	fourCC("moov"): true,
	fourCC("trak"): true,
	fourCC("tref"): true,
	fourCC("tapt"): true,
	fourCC("mdia"): true,
	fourCC("minf"): true,
	fourCC("dinf"): true,
	fourCC("stbl"): true,
	fourCC("edts"): true,
	fourCC("udta"): true,
	fourCC("meta"): true,
	fourCC("ilst"): true,
	fourCC("----"): true,
	fourCC("moof"): true,
	fourCC("traf"): true,
	fourCC("mfra"): true,
	fourCC("mvex"): true,
	fourCC("ipro"): true,
	fourCC("sinf"): true,
	fourCC("schi"): true,
	fourCC("hnti"): true,
	fourCC("hinf"): true,
}

// headerSkip lists versioned containers whose payload starts with extra
// bytes before the first child: meta carries version/flags, stsd carries
// version/flags plus an entry count.
var headerSkip = map[FourCC]int64{
	fourCC("meta"): 4,
	fourCC("stsd"): 8,
}

// Children of ilst are field atoms whose type is the field identifier, so
// an arbitrary fourcc is a container there. The parser special-cases that
// level instead of consulting containerAtoms.
func isContainer(typ FourCC, parent FourCC) bool {
	if parent == atomIlst {
		return true
	}
	return containerAtoms[typ]
}
