package mp4

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"ktkr.us/pkg/tagbox"
)

var (
	ErrTruncatedAtom   = errors.New("mp4: truncated atom")
	ErrInvalidAtomSize = errors.New("mp4: invalid atom size")
	ErrOversizedAtom   = errors.New("mp4: atom exceeds enclosing size")
)

// oversizeTolerance is how far an atom may claim to extend past its
// enclosing boundary before parsing fails instead of clamping. Some
// muxers round sizes up slightly.
const oversizeTolerance = 16

// Atom is one box of the ISO-BMFF tree. Children are discovered lazily;
// navigating into a malformed region records a warning on the session and
// yields a best-effort tree.
type Atom struct {
	Offset     int64 // absolute start of the atom header
	HeaderSize int64 // 8, or 16 with extended size; +16 for uuid
	Size       int64 // total size including header
	Type       FourCC
	UserType   []byte // 16 bytes when Type == 'uuid'
	Clamped    bool   // size ran past the enclosing boundary and was cut
	SizeToEnd  bool   // header declared size 0, "extends to end of source"

	tree     *tree
	parent   *Atom
	children []*Atom
	scanned  bool
	warned   bool
}

type tree struct {
	r     io.ReaderAt
	size  int64
	notes *tagbox.Notifier
}

// parseTree builds the synthetic root over a seekable byte source. The
// root's children are the file's top-level atoms.
func parseTree(r io.ReaderAt, size int64, notes *tagbox.Notifier) *Atom {
	t := &tree{r: r, size: size, notes: notes}
	return &Atom{Size: size, tree: t}
}

// parseAtomAt materializes the atom header at off. end bounds the
// enclosing container. top marks file level, where a zero 32-bit size
// means "extends to end of source" rather than end of chain.
func parseAtomAt(t *tree, off, end int64, top bool) (*Atom, error) {
	if end-off < 8 {
		return nil, errors.Wrapf(ErrTruncatedAtom, "at %#x", off)
	}
	var hdr [8]byte
	if _, err := t.r.ReadAt(hdr[:], off); err != nil {
		return nil, errors.Wrapf(ErrTruncatedAtom, "at %#x", off)
	}
	a := &Atom{
		Offset:     off,
		HeaderSize: 8,
		Size:       int64(binary.BigEndian.Uint32(hdr[:4])),
		Type:       FourCC(binary.BigEndian.Uint32(hdr[4:])),
		tree:       t,
	}
	if a.Size == 1 {
		var ext [8]byte
		if end-off < 16 {
			return nil, errors.Wrapf(ErrTruncatedAtom, "%s at %#x", a.Type, off)
		}
		if _, err := t.r.ReadAt(ext[:], off+8); err != nil {
			return nil, errors.Wrapf(ErrTruncatedAtom, "%s at %#x", a.Type, off)
		}
		a.Size = int64(binary.BigEndian.Uint64(ext[:]))
		a.HeaderSize = 16
	} else if a.Size == 0 {
		if !top {
			return nil, nil // end of sibling chain
		}
		a.Size = end - off
		a.SizeToEnd = true
	}
	if a.Type == atomUUID {
		a.UserType = make([]byte, 16)
		if _, err := t.r.ReadAt(a.UserType, off+a.HeaderSize); err != nil {
			return nil, errors.Wrapf(ErrTruncatedAtom, "uuid at %#x", off)
		}
		a.HeaderSize += 16
	}
	if a.Size < a.HeaderSize {
		return nil, errors.Wrapf(ErrInvalidAtomSize, "%d for %s at %#x", a.Size, a.Type, off)
	}
	if off+a.Size > end {
		if off+a.Size-end > oversizeTolerance {
			return nil, errors.Wrapf(ErrOversizedAtom, "%s at %#x runs %d bytes past boundary",
				a.Type, off, off+a.Size-end)
		}
		a.Size = end - off
		a.Clamped = true
	}
	return a, nil
}

// End returns the absolute offset one past the atom.
func (a *Atom) End() int64 { return a.Offset + a.Size }

// DataOffset returns the absolute offset of the payload, past the header
// and any versioned-container prefix.
func (a *Atom) DataOffset() int64 {
	return a.Offset + a.HeaderSize + headerSkip[a.Type]
}

// DataSize returns the payload length in bytes.
func (a *Atom) DataSize() int64 { return a.End() - a.DataOffset() }

// Payload reads the atom's entire payload into memory.
func (a *Atom) Payload() ([]byte, error) {
	buf := make([]byte, a.DataSize())
	if _, err := a.tree.r.ReadAt(buf, a.DataOffset()); err != nil {
		return nil, errors.Wrapf(err, "read %s payload at %#x", a.Type, a.DataOffset())
	}
	return buf, nil
}

// IsContainer reports whether the atom's payload is a child sequence.
func (a *Atom) IsContainer() bool {
	if a.parent == nil && a.Type == 0 {
		return true
	}
	var parent FourCC
	if a.parent != nil {
		parent = a.parent.Type
	}
	return isContainer(a.Type, parent)
}

// Warned reports whether a parse problem was recorded inside this atom.
func (a *Atom) Warned() bool { return a.warned }

// Children enumerates the atom's direct children, scanning them on first
// use. Malformed regions downgrade to warnings: the bad child and the
// rest of its chain are dropped, the parent is marked, and parsing
// elsewhere continues.
func (a *Atom) Children() []*Atom {
	if a.scanned {
		return a.children
	}
	a.scanned = true
	if !a.IsContainer() {
		return nil
	}
	top := a.parent == nil && a.Type == 0
	pos := a.DataOffset()
	end := a.End()
	for pos < end {
		if end-pos < 8 {
			// trailing slack smaller than a header; common after clamping
			break
		}
		child, err := parseAtomAt(a.tree, pos, end, top)
		if err != nil {
			a.warned = true
			if a.tree.notes != nil {
				a.tree.notes.Warning(err.Error(), fmt.Sprintf("parsing atom at %#x", pos))
			}
			break
		}
		if child == nil {
			break
		}
		if child.Clamped {
			a.warned = true
			if a.tree.notes != nil {
				a.tree.notes.Warning(
					fmt.Sprintf("atom %s at %#x clamped to enclosing boundary", child.Type, pos),
					fmt.Sprintf("parsing atom at %#x", pos))
			}
		}
		child.parent = a
		a.children = append(a.children, child)
		pos = child.End()
	}
	return a.children
}

// FirstChild returns the first child atom, or nil.
func (a *Atom) FirstChild() *Atom {
	cs := a.Children()
	if len(cs) == 0 {
		return nil
	}
	return cs[0]
}

// NextSibling returns the atom following this one in its parent, or nil.
func (a *Atom) NextSibling() *Atom {
	if a.parent == nil {
		return nil
	}
	cs := a.parent.Children()
	for i, c := range cs {
		if c == a && i+1 < len(cs) {
			return cs[i+1]
		}
	}
	return nil
}

// ChildByPath descends through the given types, taking the first match at
// each level. It returns nil when any step is missing.
func (a *Atom) ChildByPath(path ...FourCC) *Atom {
	cur := a
	for _, typ := range path {
		var next *Atom
		for _, c := range cur.Children() {
			if c.Type == typ {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// ChildrenByType returns the direct children of the given type in file
// order.
func (a *Atom) ChildrenByType(typ FourCC) []*Atom {
	var out []*Atom
	for _, c := range a.Children() {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

// MarkDirty drops the cached child scan so the subtree is reparsed on next
// navigation. Used after bytes under the atom were rewritten.
func (a *Atom) MarkDirty() {
	a.children = nil
	a.scanned = false
	a.warned = false
}

// Ancestors returns the chain from the atom's parent up to, but not
// including, the synthetic root, nearest first.
func (a *Atom) Ancestors() []*Atom {
	var out []*Atom
	for p := a.parent; p != nil && p.Type != 0; p = p.parent {
		out = append(out, p)
	}
	return out
}
