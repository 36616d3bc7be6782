package template

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/cyclopcam/glyphs/pkg/errs"
)

// reader walks a little-endian buffer, and turns every overrun into ErrCorrupt
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = errs.Corruptf(format, args...)
	}
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.pos+4 > len(r.buf) {
		r.fail("unexpected end of data at byte %v", r.pos)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) i32() int32 {
	return int32(r.u32())
}

// count reads a u32 length, and sanity checks it against the bytes left (each item is at least minItemSize bytes)
func (r *reader) count(minItemSize int) int {
	n := r.u32()
	if r.err != nil {
		return 0
	}
	if uint64(n)*uint64(minItemSize) > uint64(len(r.buf)-r.pos) {
		r.fail("length %v at byte %v exceeds remaining data", n, r.pos-4)
		return 0
	}
	return int(n)
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.fail("unexpected end of data at byte %v", r.pos)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func appendU32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

// MarshalBinary encodes t as
// [len u32][rows][len u32][cols][height u32][width u32][height*width cells]
func (t *Template) MarshalBinary() ([]byte, error) {
	return t.appendBinary(nil), nil
}

func (t *Template) binarySize() int {
	return 16 + len(t.rows) + len(t.cols) + len(t.cells)
}

func (t *Template) appendBinary(b []byte) []byte {
	b = appendU32(b, uint32(len(t.rows)))
	b = append(b, t.rows...)
	b = appendU32(b, uint32(len(t.cols)))
	b = append(b, t.cols...)
	b = appendU32(b, uint32(t.height))
	b = appendU32(b, uint32(t.width))
	b = append(b, t.cells...)
	return b
}

// UnmarshalTemplate decodes a template at buf[offset], and returns the number of bytes consumed
func UnmarshalTemplate(buf []byte, offset int) (*Template, int, error) {
	r := &reader{buf: buf, pos: offset}
	t, err := readTemplate(r)
	if err != nil {
		return nil, 0, err
	}
	return t, r.pos - offset, nil
}

func readTemplate(r *reader) (*Template, error) {
	t := &Template{}
	t.rows = append([]byte(nil), r.bytes(r.count(1))...)
	t.cols = append([]byte(nil), r.bytes(r.count(1))...)
	t.height = int(r.u32())
	t.width = int(r.u32())
	if r.err != nil {
		return nil, r.err
	}
	if t.height > MaxDimension || t.width > MaxDimension {
		return nil, errs.Corruptf("template size %v x %v is too large", t.width, t.height)
	}
	t.cells = make([]byte, t.height*t.width)
	copy(t.cells, r.bytes(t.height*t.width))
	if r.err != nil {
		return nil, r.err
	}
	if len(t.rows) != len(t.cols) {
		return nil, errs.Corruptf("template has %v foreground rows but %v cols", len(t.rows), len(t.cols))
	}
	for i := range t.rows {
		row, col := int(t.rows[i]), int(t.cols[i])
		if row >= t.height || col >= t.width {
			return nil, errs.Corruptf("template foreground (%v,%v) is outside %v x %v", row, col, t.width, t.height)
		}
		if t.cells[row*t.width+col] != Foreground {
			return nil, errs.Corruptf("template foreground (%v,%v) is not marked as foreground", row, col)
		}
	}
	nFG := 0
	for _, v := range t.cells {
		if v == Foreground {
			nFG++
		}
	}
	if nFG != len(t.rows) {
		return nil, errs.Corruptf("template has %v foreground cells, but lists %v", nFG, len(t.rows))
	}
	return t, nil
}

// ValidLabel returns an error if label cannot be stored in a collection or in the label index
func ValidLabel(label string) error {
	if label == "" {
		return errs.Corruptf("empty label")
	}
	if !utf8.ValidString(label) {
		return errs.Corruptf("label %q is not valid UTF-8", label)
	}
	for _, c := range label {
		if c == '\t' || c == '\n' || c == '\r' || c == '/' {
			return errs.Corruptf("label %q contains a forbidden character", label)
		}
	}
	return nil
}
