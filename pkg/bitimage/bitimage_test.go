package bitimage

import (
	"errors"
	"testing"

	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/stretchr/testify/require"
)

func testPackRoundTrip(t *testing.T, g *Grid, expected []byte) {
	packed := Pack(g)
	require.Equal(t, expected, packed)
	unpacked, err := Unpack(packed, 0, g.Height, g.Width)
	require.NoError(t, err)
	require.Equal(t, g.Pixels, unpacked.Pixels)
}

func TestPack(t *testing.T) {
	testPackRoundTrip(t, ParseGrid(`
		#.......
		.......#
	`), []byte{0x80, 0x01})

	// 9 pixels, so the second byte is partial and left aligned
	testPackRoundTrip(t, ParseGrid(`
		#..
		...
		..#
	`), []byte{0x80, 0x80})

	testPackRoundTrip(t, NewGrid(0, 0), []byte{})
}

func TestUnpackOffset(t *testing.T) {
	buf := []byte{0xaa, 0xff, 0x00}
	g, err := Unpack(buf, 1, 2, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{255, 255, 255, 255, 255, 255, 255, 255}, g.Pixels)

	_, err = Unpack(buf, 2, 4, 4)
	require.True(t, errors.Is(err, errs.ErrCorrupt))
}

func TestGrayscaleToBilevel(t *testing.T) {
	cases := []struct {
		in       []byte
		expected []byte
	}{
		// mid range pixels connected to a bright pixel are promoted, transitively
		{[]byte{0, 90, 100, 200, 30}, []byte{0, 255, 255, 255, 0}},
		// isolated mid range pixels are dropped
		{[]byte{150, 0, 0, 90, 0}, []byte{255, 0, 0, 0, 0}},
		// very dim images
		{[]byte{1, 0, 1}, []byte{255, 0, 255}},
		// 1 is mid range here, and touches the 2
		{[]byte{2, 1, 0}, []byte{255, 255, 0}},
		// a mid range pixel that is not next to a bright pixel is dropped
		{[]byte{2, 0, 1}, []byte{255, 0, 0}},
		{[]byte{200, 0, 100, 0}, []byte{255, 0, 0, 0}},
	}
	for _, c := range cases {
		g := GridFromRows([][]byte{c.in})
		GrayscaleToBilevel(g)
		require.Equal(t, c.expected, g.Pixels, "input %v", c.in)
	}
}

// An all-zero image stays blank, instead of becoming all foreground
func TestGrayscaleToBilevelBlank(t *testing.T) {
	g := NewGrid(3, 3)
	GrayscaleToBilevel(g)
	require.Equal(t, make([]byte, 9), g.Pixels)

	g = GridFromRows([][]byte{{0, 0, 0}})
	GrayscaleToBilevel(g)
	require.Equal(t, []byte{0, 0, 0}, g.Pixels)
}

func TestDecode(t *testing.T) {
	g, err := Decode(TypeGrayscale, 1, 3, []byte{9, 200, 0, 0}, 1)
	require.NoError(t, err)
	require.Equal(t, []byte{255, 0, 0}, g.Pixels)

	g, err = Decode(TypeBilevel, 2, 2, []byte{0x90}, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{255, 0, 0, 255}, g.Pixels)

	_, err = Decode("X", 2, 2, []byte{0}, 0)
	require.True(t, errors.Is(err, errs.ErrValidation))

	_, err = BytesPerImage("X", 2, 2)
	require.True(t, errors.Is(err, errs.ErrValidation))

	n, err := BytesPerImage(TypeBilevel, 28, 28)
	require.NoError(t, err)
	require.Equal(t, 98, n)
	n, err = BytesPerImage(TypeGrayscale, 28, 28)
	require.NoError(t, err)
	require.Equal(t, 784, n)
}
