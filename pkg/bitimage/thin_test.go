package bitimage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNeighbourhood(t *testing.T) {
	g := ParseGrid(`
		###
		###
		###
	`)
	require.Equal(t, byte(0xff), Neighbourhood(g, 1, 1))
	require.Equal(t, byte(0x04|0x08|0x10), Neighbourhood(g, 0, 0))
	require.Equal(t, byte(0x80|0x01|0x40), Neighbourhood(g, 2, 2))
	require.Equal(t, byte(0x01|0x02|0x04|0x40|0x80), Neighbourhood(g, 2, 1))
}

func TestThinLeavesSkeletonAlone(t *testing.T) {
	// A one pixel line has nothing to remove
	g := ParseGrid(`
		.......
		.#####.
		.......
	`)
	before := g.Clone()
	Thin(g)
	require.Equal(t, before.Pixels, g.Pixels)

	single := ParseGrid(`
		...
		.#.
		...
	`)
	Thin(single)
	require.Equal(t, 1, single.ForegroundCount())
}

func thinShapes() []*Grid {
	return []*Grid{
		ParseGrid(`
			..........
			.########.
			.########.
			.########.
			..........
		`),
		ParseGrid(`
			..####..
			.##..##.
			##....##
			##....##
			##....##
			.##..##.
			..####..
		`),
		ParseGrid(`
			###....###
			.###..###.
			..######..
			...####...
			..######..
			.###..###.
			###....###
		`),
		ParseGrid(`
			########
			########
			########
			########
			########
			########
		`),
	}
}

func TestThinReduces(t *testing.T) {
	for _, g := range thinShapes() {
		before := g.ForegroundCount()
		Thin(g)
		after := g.ForegroundCount()
		require.Greater(t, after, 0, "skeleton vanished:\n%v", g)
		require.Less(t, after, before, "nothing thinned:\n%v", g)
	}
}

func TestThinIdempotent(t *testing.T) {
	for _, g := range thinShapes() {
		Thin(g)
		once := g.Clone()
		Thin(g)
		require.Equal(t, once.Pixels, g.Pixels)
	}
}

func TestThinOnePixel(t *testing.T) {
	// The staircase loses its upper left step (descriptors 12, then 24)
	g := ParseGrid(`
		##.
		.##
		...
	`)
	ThinOnePixel(g)
	require.Less(t, g.ForegroundCount(), 4)
}
