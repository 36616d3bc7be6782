// Package bitimage holds the pixel grid used throughout the recognizer,
// the one-bit-per-pixel codec, and the standardization pipeline
// (grayscale conversion, K3M thinning and rescaling).
package bitimage

import (
	"strings"

	"github.com/cyclopcam/glyphs/pkg/errs"
)

// Image encodings, as stored in the label index.
const (
	TypeGrayscale = "G" // One byte per pixel
	TypeBilevel   = "B" // One bit per pixel, MSB first
)

// Grid is a row-major grid of 8-bit intensities.
// For bilevel grids, 0 is background and anything else is foreground (normally 255).
type Grid struct {
	Width  int
	Height int
	Pixels []byte
}

func NewGrid(height, width int) *Grid {
	return &Grid{
		Width:  width,
		Height: height,
		Pixels: make([]byte, width*height),
	}
}

// GridFromRows builds a grid from rows of equal length.
func GridFromRows(rows [][]byte) *Grid {
	if len(rows) == 0 {
		return NewGrid(0, 0)
	}
	g := NewGrid(len(rows), len(rows[0]))
	for r, row := range rows {
		copy(g.Pixels[r*g.Width:(r+1)*g.Width], row)
	}
	return g
}

// ParseGrid reads a grid drawn with '#' (or any non '.' / ' ' character) as foreground.
// Handy for tests and the CLI.
func ParseGrid(s string) *Grid {
	lines := []string{}
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	rows := make([][]byte, len(lines))
	for i, line := range lines {
		rows[i] = make([]byte, len(line))
		for j := 0; j < len(line); j++ {
			if line[j] != '.' && line[j] != ' ' {
				rows[i][j] = 255
			}
		}
	}
	return GridFromRows(rows)
}

func (g *Grid) At(row, col int) byte {
	return g.Pixels[row*g.Width+col]
}

func (g *Grid) Set(row, col int, v byte) {
	g.Pixels[row*g.Width+col] = v
}

func (g *Grid) Clone() *Grid {
	c := &Grid{
		Width:  g.Width,
		Height: g.Height,
		Pixels: make([]byte, len(g.Pixels)),
	}
	copy(c.Pixels, g.Pixels)
	return c
}

// ForegroundCount returns the number of non-zero pixels
func (g *Grid) ForegroundCount() int {
	n := 0
	for _, p := range g.Pixels {
		if p != 0 {
			n++
		}
	}
	return n
}

// String draws the grid with '#' for foreground and '.' for background
func (g *Grid) String() string {
	sb := strings.Builder{}
	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			if g.At(r, c) != 0 {
				sb.WriteByte('#')
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// PackedSize returns the number of bytes needed to pack h*w pixels at one bit per pixel
func PackedSize(height, width int) int {
	return (height*width + 7) / 8
}

// Pack encodes the grid at one bit per pixel, row-major, MSB first.
// A trailing partial byte keeps its bits at the top, with zero padding below.
func Pack(g *Grid) []byte {
	out := make([]byte, PackedSize(g.Height, g.Width))
	for i, p := range g.Pixels {
		if p != 0 {
			out[i>>3] |= 0x80 >> (i & 7)
		}
	}
	return out
}

// Unpack decodes height*width bits starting at buf[offset].
// Set bits become 255, clear bits become 0.
func Unpack(buf []byte, offset, height, width int) (*Grid, error) {
	n := PackedSize(height, width)
	if offset < 0 || offset+n > len(buf) {
		return nil, errs.Corruptf("packed image needs %v bytes at offset %v, but buffer is %v bytes", n, offset, len(buf))
	}
	g := NewGrid(height, width)
	src := buf[offset : offset+n]
	for i := range g.Pixels {
		if src[i>>3]&(0x80>>(i&7)) != 0 {
			g.Pixels[i] = 255
		}
	}
	return g, nil
}

// BytesPerImage returns the encoded size of one image of the given type
func BytesPerImage(imageType string, height, width int) (int, error) {
	switch imageType {
	case TypeGrayscale:
		return height * width, nil
	case TypeBilevel:
		return PackedSize(height, width), nil
	}
	return 0, errs.Validationf("unknown image type '%v'", imageType)
}

// Decode reads one image of the given type, and returns it as a bilevel grid.
// Grayscale images are converted with GrayscaleToBilevel.
func Decode(imageType string, height, width int, buf []byte, offset int) (*Grid, error) {
	switch imageType {
	case TypeGrayscale:
		n := height * width
		if offset < 0 || offset+n > len(buf) {
			return nil, errs.Corruptf("grayscale image needs %v bytes at offset %v, but buffer is %v bytes", n, offset, len(buf))
		}
		g := NewGrid(height, width)
		copy(g.Pixels, buf[offset:offset+n])
		GrayscaleToBilevel(g)
		return g, nil
	case TypeBilevel:
		return Unpack(buf, offset, height, width)
	}
	return nil, errs.Validationf("unknown image type '%v'", imageType)
}

// GrayscaleToBilevel converts g in place to 0/255.
// Pixels in the middle third of the intensity range survive only if they
// are connected (8-neighbour) to a bright pixel, which keeps strokes from
// breaking up on soft edges.
func GrayscaleToBilevel(g *Grid) {
	brightest := byte(0)
	for _, p := range g.Pixels {
		if p > brightest {
			brightest = p
		}
	}
	if brightest == 0 {
		// A blank image stays blank. Without this, a cutoff of 0 would turn every pixel on.
		return
	}
	top := byte(int(brightest) * 2 / 3)
	bottom := brightest / 3
	if brightest == 1 || brightest == 2 {
		top = brightest
		bottom = 0
	}

	for i, p := range g.Pixels {
		if p >= top {
			g.Pixels[i] = 255
		} else if p <= bottom {
			g.Pixels[i] = 0
		}
	}

	for changed := true; changed; {
		changed = false
		for r := 0; r < g.Height; r++ {
			for c := 0; c < g.Width; c++ {
				p := g.At(r, c)
				if p != 0 && p != 255 && touches255(g, r, c) {
					g.Set(r, c, 255)
					changed = true
				}
			}
		}
	}

	for i, p := range g.Pixels {
		if p != 255 {
			g.Pixels[i] = 0
		}
	}
}

func touches255(g *Grid, row, col int) bool {
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			r, c := row+dr, col+dc
			if r >= 0 && r < g.Height && c >= 0 && c < g.Width && g.At(r, c) == 255 {
				return true
			}
		}
	}
	return false
}
