// Package tindex is an inverted index from pixel coordinates to the templates
// that could match a query with a foreground pixel at that coordinate.
// A search intersects the posting lists of the query's foreground pixels,
// so that only a handful of templates need an exact Diff.
package tindex

import (
	"encoding/binary"
	"sort"

	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/glyphs/pkg/template"
)

// Entry is the posting list of one pixel coordinate
type Entry struct {
	Row int
	Col int
	IDs []int // template ids, ascending
}

// Index is immutable once built, apart from Merge
type Index struct {
	height  int
	width   int
	entries []Entry
}

// Build indexes templates, giving them ids firstID, firstID+1, ...
// A template is posted at every coordinate where it is foreground or halo (value <= 1).
func Build(height, width int, templates []*template.Template, firstID int) (*Index, error) {
	grid := make([][]int, height*width)
	for i, t := range templates {
		if t.Height() != height || t.Width() != width {
			return nil, errs.Corruptf("template %v is %v x %v, but index is %v x %v", firstID+i, t.Width(), t.Height(), width, height)
		}
		for r := 0; r < height; r++ {
			for c := 0; c < width; c++ {
				if t.At(r, c) <= template.Halo {
					grid[r*width+c] = append(grid[r*width+c], firstID+i)
				}
			}
		}
	}
	ix := &Index{
		height: height,
		width:  width,
	}
	ix.entries = ix.order(grid)
	return ix, nil
}

func (ix *Index) Height() int { return ix.height }
func (ix *Index) Width() int  { return ix.width }

// Len returns the number of coordinates with a non-empty posting list
func (ix *Index) Len() int { return len(ix.entries) }

// Entries returns the entries in search order. The slice is shared with the index.
func (ix *Index) Entries() []Entry { return ix.entries }

func (ix *Index) quadrant(row, col int) int {
	q := 0
	if row > ix.height/2-1 {
		q = 2
	}
	if col > ix.width/2-1 {
		q++
	}
	return q
}

// order turns a dense grid of posting lists into the search order:
// each quadrant sorted by ascending posting list size, and the four
// quadrants interleaved round-robin. Small, spatially spread lists come
// first, so the candidate set shrinks quickly.
func (ix *Index) order(grid [][]int) []Entry {
	quadrants := [4][]Entry{}
	for r := 0; r < ix.height; r++ {
		for c := 0; c < ix.width; c++ {
			ids := grid[r*ix.width+c]
			if len(ids) == 0 {
				continue
			}
			q := ix.quadrant(r, c)
			quadrants[q] = append(quadrants[q], Entry{Row: r, Col: c, IDs: ids})
		}
	}
	total := 0
	for q := range quadrants {
		sort.SliceStable(quadrants[q], func(i, j int) bool {
			return len(quadrants[q][i].IDs) < len(quadrants[q][j].IDs)
		})
		total += len(quadrants[q])
	}
	out := make([]Entry, 0, total)
	for i := 0; len(out) < total; i++ {
		for q := range quadrants {
			if i < len(quadrants[q]) {
				out = append(out, quadrants[q][i])
			}
		}
	}
	return out
}

// Search returns the ids of templates that might match query, in ascending order.
// Every template whose Diff against query is below template.RejectScore is
// included, but there may also be false positives.
// If none of the query's foreground lands on an indexed coordinate, the result is empty.
func (ix *Index) Search(query *template.Template) []int {
	var candidates []int
	started := false
	for _, e := range ix.entries {
		if e.Row >= query.Height() || e.Col >= query.Width() || query.At(e.Row, e.Col) != template.Foreground {
			continue
		}
		if !started {
			candidates = append([]int(nil), e.IDs...)
			started = true
		} else {
			candidates = intersect(candidates, e.IDs)
		}
		if len(candidates) == 0 {
			return nil
		}
	}
	return candidates
}

// intersect a and b (both ascending), writing the result into a
func intersect(a, b []int) []int {
	out := a[:0]
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// union of a and b (both ascending), without duplicates
func union(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func (ix *Index) dense() [][]int {
	grid := make([][]int, ix.height*ix.width)
	for _, e := range ix.entries {
		grid[e.Row*ix.width+e.Col] = e.IDs
	}
	return grid
}

// Merge adds the postings of other into ix, and rebuilds the search order.
// This is how indexes built for separate labels are combined.
func (ix *Index) Merge(other *Index) error {
	if ix.height != other.height || ix.width != other.width {
		return errs.Corruptf("cannot merge a %v x %v index into %v x %v", other.width, other.height, ix.width, ix.height)
	}
	grid := ix.dense()
	for _, e := range other.entries {
		k := e.Row*ix.width + e.Col
		grid[k] = union(grid[k], e.IDs)
	}
	ix.entries = ix.order(grid)
	return nil
}

// MarshalBinary encodes the index as little-endian int32s:
// [height][width]{[block_len][row][col][id...]}...
// where block_len counts the integers that follow it in the block.
func (ix *Index) MarshalBinary() ([]byte, error) {
	n := 2
	for _, e := range ix.entries {
		n += 3 + len(e.IDs)
	}
	b := make([]byte, 0, n*4)
	put := func(v int) {
		b = binary.LittleEndian.AppendUint32(b, uint32(int32(v)))
	}
	put(ix.height)
	put(ix.width)
	for _, e := range ix.entries {
		put(2 + len(e.IDs))
		put(e.Row)
		put(e.Col)
		for _, id := range e.IDs {
			put(id)
		}
	}
	return b, nil
}

// Unmarshal decodes an index that was encoded with MarshalBinary.
// Entry order is preserved as stored.
func Unmarshal(buf []byte) (*Index, error) {
	if len(buf)%4 != 0 {
		return nil, errs.Corruptf("index length %v is not a multiple of 4", len(buf))
	}
	ints := make([]int, len(buf)/4)
	for i := range ints {
		ints[i] = int(int32(binary.LittleEndian.Uint32(buf[i*4:])))
	}
	if len(ints) < 2 {
		return nil, errs.Corruptf("index is too short (%v bytes)", len(buf))
	}
	ix := &Index{
		height:  ints[0],
		width:   ints[1],
		entries: []Entry{},
	}
	if ix.height < 0 || ix.width < 0 {
		return nil, errs.Corruptf("index size %v x %v is invalid", ix.width, ix.height)
	}
	seen := map[int]bool{}
	for i := 2; i < len(ints); {
		blockLen := ints[i]
		i++
		if blockLen < 2 || i+blockLen > len(ints) {
			return nil, errs.Corruptf("index block at int %v has bad length %v", i-1, blockLen)
		}
		e := Entry{
			Row: ints[i],
			Col: ints[i+1],
			IDs: append([]int(nil), ints[i+2:i+blockLen]...),
		}
		i += blockLen
		if e.Row < 0 || e.Row >= ix.height || e.Col < 0 || e.Col >= ix.width {
			return nil, errs.Corruptf("index entry (%v,%v) is outside %v x %v", e.Row, e.Col, ix.width, ix.height)
		}
		k := e.Row*ix.width + e.Col
		if seen[k] {
			return nil, errs.Corruptf("index entry (%v,%v) appears twice", e.Row, e.Col)
		}
		seen[k] = true
		sort.Ints(e.IDs)
		ix.entries = append(ix.entries, e)
	}
	return ix, nil
}
