package template

import (
	"errors"
	"testing"

	"github.com/cyclopcam/glyphs/pkg/bitimage"
	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/stretchr/testify/require"
)

func TestDiffWorkedExample(t *testing.T) {
	blank := FromGrid(bitimage.NewGrid(8, 8))
	require.Equal(t, 0, blank.Diff(blank))

	g := bitimage.NewGrid(8, 8)
	g.Set(0, 0, 255)
	dot := FromGrid(g)
	require.Equal(t, RejectScore, dot.Diff(blank))
}

func TestDiffAsymmetric(t *testing.T) {
	// b's foreground is a superset of a's, with its extra pixel inside a's halo
	a := FromGrid(bitimage.ParseGrid(`
		.......
		.####..
		.......
	`))
	b := FromGrid(bitimage.ParseGrid(`
		.......
		.#####.
		.......
	`))
	a.ActivateHalo()
	b.ActivateHalo()
	require.Equal(t, 0, a.Diff(b))
	require.Equal(t, 1, b.Diff(a))

	// Without a halo, the extra pixel lands on background
	a2 := FromGrid(a.Grid())
	require.Equal(t, RejectScore, b.Diff(a2))
}

func TestDiffPixelCountGate(t *testing.T) {
	a := FromGrid(bitimage.ParseGrid(`
		####....
	`))
	b := FromGrid(bitimage.ParseGrid(`
		######..
	`))
	b.ActivateHalo()
	// 2 > 4/4, so a is rejected before looking at pixels
	require.Equal(t, RejectScore, a.Diff(b))
	// and 2 > 6/4 as well
	require.Equal(t, RejectScore, b.Diff(a))
}

func TestHalo(t *testing.T) {
	tp := FromGrid(bitimage.ParseGrid(`
		...
		.#.
		...
	`))
	tp.ActivateHalo()
	require.Equal(t, Parse(`
		.1.
		1#1
		.1.
	`).cells, tp.cells)

	tp = FromGrid(tp.Grid())
	tp.ActivateHaloCorners()
	require.Equal(t, Parse(`
		212
		1#1
		212
	`).cells, tp.cells)

	tp = FromGrid(tp.Grid())
	tp.ActivateHalo8()
	require.Equal(t, Parse(`
		111
		1#1
		111
	`).cells, tp.cells)
	require.Equal(t, 1, tp.ForegroundCount())

	// Halo never overwrites foreground
	two := FromGrid(bitimage.ParseGrid(`##`))
	two.ActivateHalo()
	require.EqualValues(t, Foreground, two.At(0, 0))
	require.EqualValues(t, Foreground, two.At(0, 1))
}

func TestFromPacked(t *testing.T) {
	tp, err := FromPacked([]byte{0xff, 0x81, 0x00}, 1, 2, 4)
	require.NoError(t, err)
	require.Equal(t, 2, tp.ForegroundCount())
	r, c := tp.ForegroundAt(1)
	require.Equal(t, 1, r)
	require.Equal(t, 3, c)

	_, err = FromPacked([]byte{0xff}, 0, 8, 8)
	require.True(t, errors.Is(err, errs.ErrCorrupt))
}

func testTemplateRoundTrip(t *testing.T, tp *Template) {
	b, err := tp.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, tp.binarySize(), len(b))
	// decode at an offset, to check that offsets are honoured
	padded := append([]byte{1, 2, 3}, b...)
	decoded, n, err := UnmarshalTemplate(padded, 3)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	require.Equal(t, tp.height, decoded.height)
	require.Equal(t, tp.width, decoded.width)
	require.Equal(t, tp.cells, decoded.cells)
	require.Equal(t, len(tp.rows), len(decoded.rows))
	for i := range tp.rows {
		require.Equal(t, tp.rows[i], decoded.rows[i])
		require.Equal(t, tp.cols[i], decoded.cols[i])
	}
}

func TestTemplateCodec(t *testing.T) {
	testTemplateRoundTrip(t, FromGrid(bitimage.NewGrid(0, 0)))
	testTemplateRoundTrip(t, FromGrid(bitimage.NewGrid(8, 8)))
	tp := Parse(`
		..#.....
		.1#1....
		..#.....
		..#.2...
	`)
	testTemplateRoundTrip(t, tp)

	b, _ := tp.MarshalBinary()
	_, _, err := UnmarshalTemplate(b[:len(b)-1], 0)
	require.True(t, errors.Is(err, errs.ErrCorrupt))

	// point a foreground coordinate at a halo cell
	// (layout: [4][rows x4][4][cols x4]...)
	b[4] = 1
	b[12] = 3
	_, _, err = UnmarshalTemplate(b, 0)
	require.True(t, errors.Is(err, errs.ErrCorrupt))
}

func TestTemplateString(t *testing.T) {
	tp := FromGrid(bitimage.ParseGrid(`
		.#
		..
	`))
	tp.ActivateHalo()
	require.Equal(t, "1*\n_1\n", tp.String())
}
