// Package preview renders stored glyph images as PNG, for inspecting image data in a browser
package preview

import (
	"image"
	"io"

	"github.com/cyclopcam/glyphs/pkg/bitimage"
	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
)

// Gap is the number of pixels between the cells of a contact sheet
const Gap = 2

// DecodeFile splits a file of packed images into grids. Grayscale images keep
// their intensities, and bilevel images are 0 or 255.
func DecodeFile(imageType string, height, width int, buf []byte) ([]*bitimage.Grid, error) {
	bpi, err := bitimage.BytesPerImage(imageType, height, width)
	if err != nil {
		return nil, err
	}
	if bpi == 0 || len(buf)%bpi != 0 {
		return nil, errs.Corruptf("%v bytes is not a whole number of %v x %v images", len(buf), width, height)
	}
	grids := make([]*bitimage.Grid, 0, len(buf)/bpi)
	for off := 0; off < len(buf); off += bpi {
		if imageType == bitimage.TypeGrayscale {
			g := bitimage.NewGrid(height, width)
			copy(g.Pixels, buf[off:off+bpi])
			grids = append(grids, g)
			continue
		}
		g, err := bitimage.Unpack(buf, off, height, width)
		if err != nil {
			return nil, err
		}
		grids = append(grids, g)
	}
	return grids, nil
}

// GlyphImage wraps the pixels of g in an image. Foreground is bright.
func GlyphImage(g *bitimage.Grid) *image.Gray {
	return &image.Gray{
		Pix:    g.Pixels,
		Stride: g.Width,
		Rect:   image.Rect(0, 0, g.Width, g.Height),
	}
}

// Upscale enlarges img by an integer factor, keeping pixel edges sharp
func Upscale(img image.Image, factor int) *image.Gray {
	factor = max(factor, 1)
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	draw.NearestNeighbor.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out
}

// ContactSheet draws grids left to right and top to bottom, columns per row,
// each one enlarged by scale, and writes the sheet as a PNG
func ContactSheet(w io.Writer, grids []*bitimage.Grid, columns, scale int) error {
	if len(grids) == 0 {
		return errs.Validationf("no images to draw")
	}
	columns = max(1, min(columns, len(grids)))
	scale = max(scale, 1)
	cellW := grids[0].Width * scale
	cellH := grids[0].Height * scale
	rows := (len(grids) + columns - 1) / columns

	dc := gg.NewContext(columns*(cellW+Gap)+Gap, rows*(cellH+Gap)+Gap)
	dc.SetRGB(0.3, 0.3, 0.5)
	dc.Clear()
	for i, g := range grids {
		x := Gap + (i%columns)*(cellW+Gap)
		y := Gap + (i/columns)*(cellH+Gap)
		dc.DrawImage(Upscale(GlyphImage(g), scale), x, y)
	}
	return dc.EncodePNG(w)
}
