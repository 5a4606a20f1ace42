package dna

import (
	"image"

	"golang.org/x/image/draw"
)

const (
	dhashWork  = 512 // working resolution after normalization
	dhashBlock = 4   // block-average factor, 512 -> 128
	dhashCols  = 9
	dhashRows  = 8

	// Scale of one block-averaged value: 3x3 blur sums, 4x4 block sums, luma1000.
	dhashQuant = 9 * dhashBlock * dhashBlock * lumaScale
)

// DHash computes the 64-bit gradient hash of p.
//
// The image is normalized to 512×512 (center-cropping, or upsampling the
// centered square when a side is below 512), converted to luma, smoothed
// with a separable 3×3 box blur, block-averaged to 128×128 and resized to 9×8 with bilinear
// interpolation. Bit (y, x) is set when pixel x+1 is brighter than pixel x
// in row y. Bits are packed row-major, MSB-first.
func DHash(p *Pixels) uint64 {
	work := normalize(p, dhashWork)
	g := grayscale(work)
	blurred := boxBlur3(g)
	small := blockQuantize(blurred, dhashBlock, dhashQuant)

	tiny := image.NewGray(image.Rect(0, 0, dhashCols, dhashRows))
	draw.BiLinear.Scale(tiny, tiny.Bounds(), small, small.Bounds(), draw.Src, nil)

	var h uint64
	for y := 0; y < dhashRows; y++ {
		row := tiny.Pix[y*tiny.Stride:]
		for x := 0; x < dhashCols-1; x++ {
			h <<= 1
			if row[x] < row[x+1] {
				h |= 1
			}
		}
	}
	return h
}

// normalize returns a size×size center crop of p. When either side of p is
// smaller than size, the centered square of side min(w, h) is cut from p and
// scaled up to size×size, so the working buffer never exceeds size×size.
func normalize(p *Pixels, size int) *Pixels {
	if p.Width < size || p.Height < size {
		side := min(p.Width, p.Height)
		sq := p.regionRGBA((p.Width-side)/2, (p.Height-side)/2, side)
		dst := image.NewRGBA(image.Rect(0, 0, size, size))
		draw.BiLinear.Scale(dst, dst.Bounds(), sq, sq.Bounds(), draw.Src, nil)
		return PixelsFromImage(dst)
	}
	if p.Width == size && p.Height == size {
		return p
	}

	ox := (p.Width - size) / 2
	oy := (p.Height - size) / 2
	out := NewPixels(size, size)
	for y := 0; y < size; y++ {
		from := ((oy+y)*p.Width + ox) * 3
		copy(out.RGB[y*size*3:(y+1)*size*3], p.RGB[from:from+size*3])
	}
	return out
}

// boxBlur3 applies a separable 3×3 box blur with edge clamping. The result is
// left unnormalized: each value is the sum of nine neighbours.
func boxBlur3(g *grayPlane) *grayPlane {
	tmp := newGrayPlane(g.w, g.h)
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			tmp.v[y*g.w+x] = g.at(clamp(x-1, g.w), y) + g.at(x, y) + g.at(clamp(x+1, g.w), y)
		}
	}
	out := newGrayPlane(g.w, g.h)
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			out.v[y*g.w+x] = tmp.at(x, clamp(y-1, g.h)) + tmp.at(x, y) + tmp.at(x, clamp(y+1, g.h))
		}
	}
	return out
}

// blockQuantize sums n×n blocks and divides by quant, truncating to 8 bits.
func blockQuantize(g *grayPlane, n, quant int) *image.Gray {
	w, h := g.w/n, g.h/n
	out := image.NewGray(image.Rect(0, 0, w, h))
	for by := 0; by < h; by++ {
		for bx := 0; bx < w; bx++ {
			sum := 0
			for y := by * n; y < by*n+n; y++ {
				for x := bx * n; x < bx*n+n; x++ {
					sum += g.at(x, y)
				}
			}
			v := sum / quant
			if v > 0xff {
				v = 0xff
			}
			out.Pix[by*out.Stride+bx] = uint8(v)
		}
	}
	return out
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
