package dna

// Luma weights from ITU-R BT.601, scaled by 1000. Changing them changes every
// fingerprint.
const (
	lumaR     = 299
	lumaG     = 587
	lumaB     = 114
	lumaScale = lumaR + lumaG + lumaB
)

// luma1000 returns the BT.601 luma of one pixel in units of 1/1000.
func luma1000(r, g, b uint8) int {
	return lumaR*int(r) + lumaG*int(g) + lumaB*int(b)
}

// grayPlane is a row-major integer intensity plane.
type grayPlane struct {
	w, h int
	v    []int
}

func newGrayPlane(w, h int) *grayPlane {
	return &grayPlane{w: w, h: h, v: make([]int, w*h)}
}

func (g *grayPlane) at(x, y int) int { return g.v[y*g.w+x] }

// grayscale converts p to a luma1000 plane.
func grayscale(p *Pixels) *grayPlane {
	g := newGrayPlane(p.Width, p.Height)
	for i := range g.v {
		o := i * 3
		g.v[i] = luma1000(p.RGB[o], p.RGB[o+1], p.RGB[o+2])
	}
	return g
}
