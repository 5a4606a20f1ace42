package dna

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridOf(n int, f func(x, y int) bool) []bool {
	g := make([]bool, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			g[y*n+x] = f(x, y)
		}
	}
	return g
}

func TestPoolBits_16to8_TieClears(t *testing.T) {
	// Each output cell covers a 2×2 block of inputs.
	in := gridOf(16, func(x, y int) bool {
		switch {
		case x < 2 && y < 2:
			return x == 0 // two of four: tie
		case x >= 2 && x < 4 && y < 2:
			return !(x == 3 && y == 1) // three of four
		}
		return false
	})
	out := poolBits(in, 16, 8)
	require.Len(t, out, 64)
	assert.False(t, out[0])
	assert.True(t, out[1])
	for i := 2; i < 64; i++ {
		assert.False(t, out[i], "cell %d", i)
	}
}

func TestPoolBits_12to8_HalfPlane(t *testing.T) {
	in := gridOf(12, func(x, _ int) bool { return x >= 6 })
	out := poolBits(in, 12, 8)
	want := gridOf(8, func(x, _ int) bool { return x >= 4 })
	assert.Equal(t, want, out)
}

func TestPoolBits_12to8_AreaWeighted(t *testing.T) {
	// Input cell (0,0) covers 64 of output cell (0,0)'s 144 units; (1,1)
	// contributes 16 more and (0,1),(1,0) 32 each.
	in := gridOf(12, func(x, y int) bool { return x < 2 && y < 2 && !(x == 1 && y == 1) })
	out := poolBits(in, 12, 8)
	assert.True(t, out[0], "64+32+32 = 128 > 72")

	only := gridOf(12, func(x, y int) bool { return x == 0 && y == 0 })
	assert.False(t, poolBits(only, 12, 8)[0], "64 < 72")
}

func TestCellBits_Median(t *testing.T) {
	g := newGrayPlane(16, 16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			g.v[y*16+x] = x * 1000
		}
	}
	bits := cellBits(g, 4, 4)
	want := gridOf(4, func(x, _ int) bool { return x >= 2 })
	assert.Equal(t, want, bits)
}

func TestCellBits_UniformIsZero(t *testing.T) {
	g := newGrayPlane(8, 8)
	for i := range g.v {
		g.v[i] = 42
	}
	for _, b := range cellBits(g, 2, 4) {
		assert.False(t, b)
	}
}

func TestPackBits(t *testing.T) {
	bits := make([]bool, 64)
	bits[0], bits[7], bits[63] = true, true, true
	dst := make([]byte, 8)
	packBits(dst, bits)
	assert.Equal(t, []byte{0x81, 0, 0, 0, 0, 0, 0, 0x01}, dst)
}

func TestCenterWindow_SmallImageIsCentered(t *testing.T) {
	p := NewPixels(2, 2)
	p.Set(0, 0, 255, 255, 255)
	g := centerWindow(p)
	// A 2×2 image lands at canvas (1023,1023), window pixel (511,511).
	assert.Equal(t, 255*lumaScale, g.at(511, 511))
	assert.Equal(t, 0, g.at(512, 512))
	assert.Equal(t, 0, g.at(0, 0))
}

func TestCenterWindow_LargeImageIsCropped(t *testing.T) {
	p := NewPixels(2050, 4)
	p.Set(513, 0, 0, 0, 10)
	g := centerWindow(p)
	// offX = -1 and offY = 1022, so window (0, 510) maps to source (513, 0).
	assert.Equal(t, 10*lumaB, g.at(0, 510))
}

func TestNormalize_CropsCenter(t *testing.T) {
	p := NewPixels(516, 514)
	p.Set(2, 1, 9, 9, 9)
	out := normalize(p, 512)
	require.Equal(t, 512, out.Width)
	require.Equal(t, 512, out.Height)
	r, _, _ := out.At(0, 0)
	assert.Equal(t, uint8(9), r)
}

func TestBoxBlur3_ClampsEdges(t *testing.T) {
	g := newGrayPlane(3, 1)
	g.v = []int{1, 2, 3}
	out := boxBlur3(g)
	// Horizontal sums 4,6,8; the single row is tripled vertically.
	assert.Equal(t, []int{12, 18, 24}, out.v)
}
