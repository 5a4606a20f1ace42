package dna

import "slices"

const (
	gridCanvas = 2048
	gridWindow = 1024
	gridOut    = 8 // every scale is pooled to 8×8
)

// gridScales lists (cells per side, block size in pixels). 12×85 covers only
// the first 1020 pixels of the window; the trailing rows and columns are ignored.
var gridScales = [...]struct{ cells, block int }{
	{8, 128},
	{12, 85},
	{16, 64},
}

// GridHash computes the 192-bit structural hash of p.
//
// The image is centered on a black 2048×2048 canvas and the central
// 1024×1024 window is taken. For each of three grids (8×8, 12×12, 16×16) a
// cell bit is set when the cell mean exceeds the grid median. The 12×12 and
// 16×16 grids are pooled to 8×8 by area-weighted majority (ties clear the bit).
// The output is the three 64-bit blocks in scale order.
func GridHash(p *Pixels) [gridBytes]byte {
	win := centerWindow(p)
	var out [gridBytes]byte
	for i, s := range gridScales {
		cells := cellBits(win, s.cells, s.block)
		if s.cells != gridOut {
			cells = poolBits(cells, s.cells, gridOut)
		}
		packBits(out[i*8:(i+1)*8], cells)
	}
	return out
}

// centerWindow returns the luma of the central 1024×1024 window of p placed on a
// 2048×2048 black canvas. Sources larger than the canvas are cropped symmetrically.
func centerWindow(p *Pixels) *grayPlane {
	offX := (gridCanvas - p.Width) / 2
	offY := (gridCanvas - p.Height) / 2
	start := (gridCanvas - gridWindow) / 2

	g := newGrayPlane(gridWindow, gridWindow)
	for y := 0; y < gridWindow; y++ {
		sy := start + y - offY
		if sy < 0 || sy >= p.Height {
			continue
		}
		for x := 0; x < gridWindow; x++ {
			sx := start + x - offX
			if sx < 0 || sx >= p.Width {
				continue
			}
			r, gr, b := p.At(sx, sy)
			g.v[y*gridWindow+x] = luma1000(r, gr, b)
		}
	}
	return g
}

// cellBits returns n×n bits, row-major, comparing each cell's sum against the
// median of all cell sums. Cells share one area so sums order like means.
func cellBits(g *grayPlane, n, block int) []bool {
	sums := make([]int, n*n)
	for cy := 0; cy < n; cy++ {
		for cx := 0; cx < n; cx++ {
			s := 0
			for y := cy * block; y < (cy+1)*block; y++ {
				row := g.v[y*g.w:]
				for x := cx * block; x < (cx+1)*block; x++ {
					s += row[x]
				}
			}
			sums[cy*n+cx] = s
		}
	}

	sorted := slices.Clone(sums)
	slices.Sort(sorted)
	// n*n is even for every scale: the median is the mean of the middle pair,
	// so sum > median <=> 2*sum > lo+hi.
	lo, hi := sorted[len(sorted)/2-1], sorted[len(sorted)/2]

	out := make([]bool, n*n)
	for i, s := range sums {
		out[i] = 2*s > lo+hi
	}
	return out
}

// poolBits reduces an in×in bit grid to out×out. Both grids are laid on a
// lattice of in*out units per side; each output bit is set when set input bits
// cover strictly more than half of its area.
func poolBits(bits []bool, in, out int) []bool {
	res := make([]bool, out*out)
	area := in * in // output cell side is `in` lattice units
	for oy := 0; oy < out; oy++ {
		for ox := 0; ox < out; ox++ {
			ones := 0
			for iy := 0; iy < in; iy++ {
				wy := overlap(iy*out, (iy+1)*out, oy*in, (oy+1)*in)
				if wy == 0 {
					continue
				}
				for ix := 0; ix < in; ix++ {
					if !bits[iy*in+ix] {
						continue
					}
					ones += wy * overlap(ix*out, (ix+1)*out, ox*in, (ox+1)*in)
				}
			}
			res[oy*out+ox] = 2*ones > area
		}
	}
	return res
}

func overlap(a0, a1, b0, b1 int) int {
	lo, hi := max(a0, b0), min(a1, b1)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// packBits writes 64 bits MSB-first into dst.
func packBits(dst []byte, bits []bool) {
	for i, b := range bits {
		if b {
			dst[i/8] |= 0x80 >> (uint(i) % 8)
		}
	}
}
