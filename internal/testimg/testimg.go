// Package testimg generates deterministic PNG images for tests.
package testimg

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
)

// Size is the default side length. At 1024 px the grid window is fully covered.
const Size = 1024

// Gray renders f over a w×h grid and returns PNG bytes. It panics on encoder
// failure, which cannot happen for an in-memory buffer.
func Gray(w, h int, f func(x, y int) uint8) []byte {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: f(x, y)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// HorizontalRamp brightens left to right.
func HorizontalRamp() []byte {
	return Gray(Size, Size, func(x, _ int) uint8 { return uint8(x / 4) })
}

// DescendingRamp darkens left to right.
func DescendingRamp() []byte {
	return Gray(Size, Size, func(x, _ int) uint8 { return uint8(255 - x/4) })
}

// VerticalRamp brightens top to bottom.
func VerticalRamp() []byte {
	return Gray(Size, Size, func(_, y int) uint8 { return uint8(y / 4) })
}

// Wave is a smooth interference pattern in 50..190 brightened by offset.
// Different periods give visually unrelated images.
func Wave(periodX, periodY float64, offset int) []byte {
	return Gray(Size, Size, func(x, y int) uint8 {
		v := 120 + 40*math.Sin(2*math.Pi*float64(x)/periodX)*math.Cos(2*math.Pi*float64(y)/periodY) +
			30*math.Sin(2*math.Pi*float64(x+y)/700)
		return uint8(int(v) + offset)
	})
}

// Quadrants lights the given quadrants (bit 0 top-left, 1 top-right,
// 2 bottom-left, 3 bottom-right) on a black image.
func Quadrants(mask uint8) []byte {
	return Gray(Size, Size, func(x, y int) uint8 {
		q := 0
		if x >= Size/2 {
			q |= 1
		}
		if y >= Size/2 {
			q |= 2
		}
		if mask&(1<<q) != 0 {
			return 200
		}
		return 20
	})
}
