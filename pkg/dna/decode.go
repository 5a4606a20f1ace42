package dna

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when image bytes cannot be decoded.
var ErrDecode = errors.New("image decode failed")

// Pixels is a decoded image as a packed RGB grid, row-major, three bytes per pixel.
type Pixels struct {
	Width  int
	Height int
	RGB    []byte
}

// NewPixels allocates a black w×h grid.
func NewPixels(w, h int) *Pixels {
	return &Pixels{Width: w, Height: h, RGB: make([]byte, w*h*3)}
}

// Set writes the pixel at (x, y).
func (p *Pixels) Set(x, y int, r, g, b uint8) {
	i := (y*p.Width + x) * 3
	p.RGB[i], p.RGB[i+1], p.RGB[i+2] = r, g, b
}

// At returns the pixel at (x, y).
func (p *Pixels) At(x, y int) (r, g, b uint8) {
	i := (y*p.Width + x) * 3
	return p.RGB[i], p.RGB[i+1], p.RGB[i+2]
}

// DefaultMaxPixels bounds the decoded area of an image. Larger images are
// rejected from their header, before any pixel data is decoded.
const DefaultMaxPixels = 36_000_000

// Decode decodes PNG, JPEG, GIF, BMP, TIFF or WebP data of at most
// DefaultMaxPixels pixels.
func Decode(data []byte) (*Pixels, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit is Decode with a pixel limit. maxPixels <= 0 disables the limit.
func DecodeLimit(data []byte, maxPixels int) (*Pixels, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %s image has zero area", ErrDecode, format)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %s image is %dx%d, exceeds %d pixels",
			ErrDecode, format, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %s image has zero area", ErrDecode, format)
	}
	return PixelsFromImage(img), nil
}

// PixelsFromImage converts any image.Image to Pixels. Alpha is discarded
// after compositing onto black. Gray, RGBA, NRGBA and YCbCr sources are read
// directly; anything else is drawn onto an intermediate RGBA first.
func PixelsFromImage(img image.Image) *Pixels {
	b := img.Bounds()
	p := NewPixels(b.Dx(), b.Dy())

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < p.Height; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < p.Width; x++ {
				v := row[x]
				p.Set(x, y, v, v, v)
			}
		}
	case *image.YCbCr:
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				c := src.YCbCrAt(b.Min.X+x, b.Min.Y+y)
				r, g, bl := color.YCbCrToRGB(c.Y, c.Cb, c.Cr)
				p.Set(x, y, r, g, bl)
			}
		}
	case *image.NRGBA:
		for y := 0; y < p.Height; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < p.Width; x++ {
				s := row[x*4 : x*4+4]
				a := uint32(s[3]) * 0x101
				p.Set(x, y, premul(s[0], a), premul(s[1], a), premul(s[2], a))
			}
		}
	default:
		rgba, ok := img.(*image.RGBA)
		if !ok {
			rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
			draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
			b = rgba.Rect
		}
		for y := 0; y < p.Height; y++ {
			row := rgba.Pix[rgba.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < p.Width; x++ {
				s := row[x*4:]
				p.Set(x, y, s[0], s[1], s[2])
			}
		}
	}
	return p
}

// premul composites a non-premultiplied channel onto black the way
// image/draw does for NRGBA sources. a is the 16-bit alpha.
func premul(c uint8, a uint32) uint8 {
	return uint8(uint32(c) * a / 0xff >> 8)
}

// valid reports whether p has a positive area and a matching RGB buffer.
func (p *Pixels) valid() bool {
	return p != nil && p.Width > 0 && p.Height > 0 && len(p.RGB) == p.Width*p.Height*3
}

// regionRGBA copies the size×size square of p at (x0, y0) into an opaque RGBA
// image for library resampling.
func (p *Pixels) regionRGBA(x0, y0, size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b := p.At(x0+x, y0+y)
			o := y*img.Stride + x*4
			img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = r, g, b, 0xff
		}
	}
	return img
}
