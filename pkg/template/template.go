// Package template holds the reference patterns that glyphs are matched against,
// and the collections that group them by label.
package template

import (
	"strings"

	"github.com/cyclopcam/glyphs/pkg/bitimage"
)

// Cell values of a template
const (
	Foreground   = 0
	Halo         = 1   // 4-neighbour of a foreground cell
	CornerHalo   = 2   // diagonal neighbour of a foreground cell
	Background   = 255 // Diff rejects any foreground that lands here
	RejectScore  = 255 // Diff result for a definite mismatch
	MaxDimension = 256 // foreground coordinates are stored as bytes
)

// Template is a fixed size pattern with a foreground core and an optional halo.
// The foreground coordinates are recorded when the template is created, and
// are not affected by later changes to the halo.
type Template struct {
	height int
	width  int
	cells  []byte
	rows   []byte // foreground rows, row-major order
	cols   []byte // foreground cols, parallel to rows
}

// FromGrid creates a template from a bilevel grid (non-zero = foreground).
// The grid must be at most MaxDimension on each side.
func FromGrid(g *bitimage.Grid) *Template {
	t := &Template{
		height: g.Height,
		width:  g.Width,
		cells:  make([]byte, len(g.Pixels)),
	}
	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			if g.At(r, c) != 0 {
				t.cells[r*t.width+c] = Foreground
				t.rows = append(t.rows, byte(r))
				t.cols = append(t.cols, byte(c))
			} else {
				t.cells[r*t.width+c] = Background
			}
		}
	}
	return t
}

// FromPacked creates a template from a bit-packed image at buf[offset]
func FromPacked(buf []byte, offset, height, width int) (*Template, error) {
	g, err := bitimage.Unpack(buf, offset, height, width)
	if err != nil {
		return nil, err
	}
	return FromGrid(g), nil
}

// Parse builds a template from a drawing, where '#' is foreground, '1' and '2'
// are halo cells, and '.' is background. Halo cells drawn this way are not part
// of the foreground list.
func Parse(s string) *Template {
	lines := []string{}
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	t := &Template{}
	if len(lines) == 0 {
		return t
	}
	t.height = len(lines)
	t.width = len(lines[0])
	t.cells = make([]byte, t.height*t.width)
	for r, line := range lines {
		for c := 0; c < t.width; c++ {
			v := byte(Background)
			switch line[c] {
			case '#':
				v = Foreground
				t.rows = append(t.rows, byte(r))
				t.cols = append(t.cols, byte(c))
			case '1':
				v = Halo
			case '2':
				v = CornerHalo
			}
			t.cells[r*t.width+c] = v
		}
	}
	return t
}

func (t *Template) Height() int { return t.height }
func (t *Template) Width() int  { return t.width }

// ForegroundCount is the number of foreground cells
func (t *Template) ForegroundCount() int {
	return len(t.rows)
}

// ForegroundAt returns the i-th foreground coordinate
func (t *Template) ForegroundAt(i int) (row, col int) {
	return int(t.rows[i]), int(t.cols[i])
}

func (t *Template) At(row, col int) byte {
	return t.cells[row*t.width+col]
}

// Set changes the value of a cell. Setting a foreground cell to anything
// else leaves the foreground list untouched, so callers should only use
// this on halo cells.
func (t *Template) Set(row, col int, v byte) {
	t.cells[row*t.width+col] = v
}

func (t *Template) Clone() *Template {
	c := &Template{
		height: t.height,
		width:  t.width,
		cells:  append([]byte(nil), t.cells...),
		rows:   append([]byte(nil), t.rows...),
		cols:   append([]byte(nil), t.cols...),
	}
	return c
}

// Grid returns the foreground of t as a bilevel grid
func (t *Template) Grid() *bitimage.Grid {
	g := bitimage.NewGrid(t.height, t.width)
	for i := range t.rows {
		g.Set(int(t.rows[i]), int(t.cols[i]), 255)
	}
	return g
}

// String draws the template: '*' foreground, '1'..'9' halo weight, '_' background
func (t *Template) String() string {
	sb := strings.Builder{}
	for r := 0; r < t.height; r++ {
		for c := 0; c < t.width; c++ {
			v := t.At(r, c)
			switch {
			case v == Foreground:
				sb.WriteByte('*')
			case v < 10:
				sb.WriteByte('0' + v)
			default:
				sb.WriteByte('_')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (t *Template) setIfBackground(row, col int, v byte) {
	if row < 0 || row >= t.height || col < 0 || col >= t.width {
		return
	}
	if t.cells[row*t.width+col] == Background {
		t.cells[row*t.width+col] = v
	}
}

// ActivateHalo sets the background 4-neighbours of every foreground cell to Halo.
// This is the halo used for indexing, recognition and training.
func (t *Template) ActivateHalo() {
	for i := range t.rows {
		r, c := int(t.rows[i]), int(t.cols[i])
		t.setIfBackground(r-1, c, Halo)
		t.setIfBackground(r, c-1, Halo)
		t.setIfBackground(r, c+1, Halo)
		t.setIfBackground(r+1, c, Halo)
	}
}

// ActivateHalo8 sets the background 8-neighbours of every foreground cell to Halo
func (t *Template) ActivateHalo8() {
	for i := range t.rows {
		r, c := int(t.rows[i]), int(t.cols[i])
		for dr := -1; dr <= 1; dr++ {
			for dc := -1; dc <= 1; dc++ {
				t.setIfBackground(r+dr, c+dc, Halo)
			}
		}
	}
}

// ActivateHaloCorners sets 4-neighbours to Halo, and then the remaining diagonal neighbours to CornerHalo
func (t *Template) ActivateHaloCorners() {
	t.ActivateHalo()
	for i := range t.rows {
		r, c := int(t.rows[i]), int(t.cols[i])
		t.setIfBackground(r-1, c-1, CornerHalo)
		t.setIfBackground(r-1, c+1, CornerHalo)
		t.setIfBackground(r+1, c-1, CornerHalo)
		t.setIfBackground(r+1, c+1, CornerHalo)
	}
}

// Diff measures how well the foreground of t is covered by other.
// 0 is a perfect match, RejectScore is a definite mismatch, and anything in
// between is the sum of the halo weights that t's foreground landed on.
// Diff is not symmetric.
func (t *Template) Diff(other *Template) int {
	n := len(t.rows)
	pixelDiff := n - len(other.rows)
	if pixelDiff < 0 {
		pixelDiff = -pixelDiff
	}
	if pixelDiff > n/4 {
		return RejectScore
	}
	sum := 0
	for i := range t.rows {
		v := other.cells[int(t.rows[i])*other.width+int(t.cols[i])]
		if v == Background {
			return RejectScore
		}
		sum += int(v)
	}
	return sum
}
