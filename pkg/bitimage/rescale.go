package bitimage

import "math"

// StandardSize is the width and height of a standardized image
const StandardSize = 8

// StandardBytes is the packed size of a standardized image
const StandardBytes = StandardSize * StandardSize / 8

// Standardize thins a copy of g, and rescales the skeleton to StandardSize x StandardSize.
// Only the original image is thinned. Thinning again after the rescale tends
// to knock small glyphs off center.
func Standardize(g *Grid) *Grid {
	c := g.Clone()
	Thin(c)
	return Rescale(c, StandardSize, StandardSize)
}

type rescaleParams struct {
	top, left             int
	ratio                 float64
	topOffset, leftOffset int
	newHeight, newWidth   int
}

func (p *rescaleParams) mapPoint(row, col int) (int, int) {
	newRow := p.topOffset + int(math.RoundToEven(float64(row-p.top)*p.ratio))
	if newRow > p.newHeight-1 {
		newRow = p.newHeight - 1
	}
	newCol := p.leftOffset + int(math.RoundToEven(float64(col-p.left)*p.ratio))
	if newCol > p.newWidth-1 {
		newCol = p.newWidth - 1
	}
	return newRow, newCol
}

// Rescale fits the bounding box of the foreground of g into a new grid of size newHeight x newWidth.
// The aspect ratio is preserved, and the shorter side is centered.
// When scaling up, neighbouring pixels are joined by straight lines so that
// strokes stay connected.
func Rescale(g *Grid, newHeight, newWidth int) *Grid {
	out := NewGrid(newHeight, newWidth)
	if newHeight <= 0 || newWidth <= 0 {
		return out
	}

	left, top := g.Width, g.Height
	right, bottom := 0, 0
	found := false
	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			if g.At(r, c) != 0 {
				found = true
				left = min(left, c)
				top = min(top, r)
				right = max(right, c)
				bottom = max(bottom, r)
			}
		}
	}
	if !found {
		return out
	}

	boxW := right - left
	boxH := bottom - top

	// A zero extent divides to +Inf, so the other axis decides the ratio.
	// A single pixel has no extent at all, and lands in the top left corner.
	ratio := 1.0
	if boxW != 0 || boxH != 0 {
		ratio = math.Min(float64(newWidth-1)/float64(boxW), float64(newHeight-1)/float64(boxH))
	}

	p := rescaleParams{
		top:       top,
		left:      left,
		ratio:     ratio,
		newHeight: newHeight,
		newWidth:  newWidth,
	}
	if boxW < boxH {
		p.leftOffset = max(0, int(math.Floor((float64(newWidth)-float64(boxW)*ratio)/2)))
	}
	if boxW > boxH {
		p.topOffset = max(0, int(math.Floor((float64(newHeight)-float64(boxH)*ratio)/2)))
	}

	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			if g.At(r, c) == 0 {
				continue
			}
			nr, nc := p.mapPoint(r, c)
			out.Set(nr, nc, 255)
			if ratio > 1 {
				upscaleNeighbours(g, out, &p, r, c, nr, nc)
			}
		}
	}
	return out
}

// Join (row, col) to its N, NE, E and SE neighbours.
// The other four directions are covered when those neighbours are visited.
func upscaleNeighbours(g, out *Grid, p *rescaleParams, row, col, newRow, newCol int) {
	join := func(r2, c2 int) {
		if g.At(r2, c2) != 0 {
			nr2, nc2 := p.mapPoint(r2, c2)
			drawLine(out, newRow, newCol, nr2, nc2)
		}
	}
	if row > 0 {
		join(row-1, col)
		if col < g.Width-1 {
			join(row-1, col+1)
		}
	}
	if col < g.Width-1 {
		join(row, col+1)
	}
	if row < g.Height-1 && col < g.Width-1 {
		join(row+1, col+1)
	}
}

// drawLine sets the pixels from (row1, col1) exclusive to (row2, col2) inclusive.
// It steps along the longer axis and rounds the shorter one.
func drawLine(g *Grid, row1, col1, row2, col2 int) {
	dh := row2 - row1
	dw := col2 - col1
	if dh < 0 {
		dh = -dh
	}
	if dw < 0 {
		dw = -dw
	}
	if dh > dw {
		if row1 > row2 {
			row1, row2 = row2, row1
			col1, col2 = col2, col1
		}
		change := float64(col2-col1) / float64(row2-row1)
		col := float64(col1) + change
		for row := row1 + 1; row <= row2; row++ {
			g.Set(row, int(math.RoundToEven(col)), 255)
			col += change
		}
	} else {
		if dw == 0 {
			return
		}
		if col1 > col2 {
			row1, row2 = row2, row1
			col1, col2 = col2, col1
		}
		change := float64(row2-row1) / float64(col2-col1)
		row := float64(row1) + change
		for col := col1 + 1; col <= col2; col++ {
			g.Set(int(math.RoundToEven(row)), col, 255)
			row += change
		}
	}
}
