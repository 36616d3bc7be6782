package bitimage

// K3M skeletonization, from "K3M: A universal algorithm for image
// skeletonization and a review of thinning techniques" (Saeed, Tabedzki,
// Rybnik, Adamski 2010).
//
// The neighbourhood of a pixel is encoded as one bit per neighbour:
//
//	0x80 0x01 0x02
//	0x40  P   0x04
//	0x20 0x10 0x08

type lookupTable [256]bool

func makeLookupTable(indices ...int) *lookupTable {
	t := &lookupTable{}
	for _, i := range indices {
		t[i] = true
	}
	return t
}

// k3mTables are A0 (border detection) and A1..A5 (the five deletion phases).
// These values are taken verbatim from the paper and must not be altered.
var k3mTables = [6]*lookupTable{
	makeLookupTable(3, 6, 7, 12, 14, 15, 24, 28, 30, 31, 48, 56, 60,
		62, 63, 96, 112, 120, 124, 126, 127, 129, 131, 135,
		143, 159, 191, 192, 193, 195, 199, 207, 223, 224,
		225, 227, 231, 239, 240, 241, 243, 247, 248, 249,
		251, 252, 253, 254),
	makeLookupTable(7, 14, 28, 56, 112, 131, 193, 224),
	makeLookupTable(7, 14, 15, 28, 30, 56, 60, 112, 120, 131, 135,
		193, 195, 224, 225, 240),
	makeLookupTable(7, 14, 15, 28, 30, 31, 56, 60, 62, 112, 120,
		124, 131, 135, 143, 193, 195, 199, 224, 225, 227,
		240, 241, 248),
	makeLookupTable(7, 14, 15, 28, 30, 31, 56, 60, 62, 63, 112, 120,
		124, 126, 131, 135, 143, 159, 193, 195, 199, 207,
		224, 225, 227, 231, 240, 241, 243, 248, 249, 252),
	makeLookupTable(7, 14, 15, 28, 30, 31, 56, 60, 62, 63, 112, 120,
		124, 126, 131, 135, 143, 159, 191, 193, 195, 199,
		207, 224, 225, 227, 231, 239, 240, 241, 243, 248,
		249, 251, 252, 254),
}

// k3mOnePixel is the optional final pass that reduces the skeleton to one pixel width
var k3mOnePixel = makeLookupTable(3, 6, 7, 12, 14, 15, 24, 28, 30, 31, 48, 56,
	60, 62, 63, 96, 112, 120, 124, 126, 127, 129, 131,
	135, 143, 159, 191, 192, 193, 195, 199, 207, 223,
	224, 225, 227, 231, 239, 240, 241, 243, 247, 248,
	249, 251, 252, 253, 254)

// Neighbourhood returns the K3M descriptor of the pixel at (row, col).
// Pixels outside the grid count as background.
func Neighbourhood(g *Grid, row, col int) byte {
	n := byte(0)
	w := g.Width
	h := g.Height
	if row > 0 {
		if col > 0 && g.At(row-1, col-1) != 0 {
			n |= 0x80
		}
		if g.At(row-1, col) != 0 {
			n |= 0x01
		}
		if col < w-1 && g.At(row-1, col+1) != 0 {
			n |= 0x02
		}
	}
	if col < w-1 && g.At(row, col+1) != 0 {
		n |= 0x04
	}
	if row < h-1 {
		if col < w-1 && g.At(row+1, col+1) != 0 {
			n |= 0x08
		}
		if g.At(row+1, col) != 0 {
			n |= 0x10
		}
		if col > 0 && g.At(row+1, col-1) != 0 {
			n |= 0x20
		}
	}
	if col > 0 && g.At(row, col-1) != 0 {
		n |= 0x40
	}
	return n
}

type pixelPos struct {
	row, col int
}

// Thin reduces the foreground of g to its skeleton, in place.
// It repeats the six K3M phases until a full sweep removes nothing.
func Thin(g *Grid) {
	border := []pixelPos{}
	for {
		// Phase 0: mark the border
		border = border[:0]
		for r := 0; r < g.Height; r++ {
			for c := 0; c < g.Width; c++ {
				if g.At(r, c) != 0 && k3mTables[0][Neighbourhood(g, r, c)] {
					border = append(border, pixelPos{r, c})
				}
			}
		}

		// Phases 1..5: delete border pixels that match the phase's table.
		// The descriptor is recomputed as we go, so deletions within a phase
		// affect later pixels of the same phase.
		modified := false
		for phase := 1; phase <= 5; phase++ {
			table := k3mTables[phase]
			keep := border[:0]
			for _, p := range border {
				if table[Neighbourhood(g, p.row, p.col)] {
					g.Set(p.row, p.col, 0)
					modified = true
				} else {
					keep = append(keep, p)
				}
			}
			border = keep
		}

		if !modified {
			return
		}
	}
}

// ThinOnePixel applies the optional one-pixel-width pass of K3M, in place.
// It removes staircase corners, which also erodes diagonal strokes, so
// Standardize does not use it.
func ThinOnePixel(g *Grid) {
	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			if g.At(r, c) != 0 && k3mOnePixel[Neighbourhood(g, r, c)] {
				g.Set(r, c, 0)
			}
		}
	}
}
