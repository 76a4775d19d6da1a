// Package convert turns the captured screenshot into the packed 1bpp
// black/red planes the tri-color e-paper panel expects.
package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

// Panel geometry (Waveshare 7.5" B, tri-color).
const (
	EPDWidth      = 800
	EPDHeight     = 480
	EPDByteStride = EPDWidth / 8 // 100 bytes per row
	EPDPlaneSize  = EPDByteStride * EPDHeight
)

// DecodePNG decodes a PNG payload into NRGBA, converting other color
// models if needed.
func DecodePNG(data []byte) (*image.NRGBA, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("convert: png decode failed: %w", err)
	}
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba, nil
	}
	out := image.NewNRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out, nil
}

// PackNRGBA converts an image.NRGBA into packed 1bpp black/red planes.
//
// Requirements / behavior:
//
//   - img width must be exactly EPDWidth pixels.
//   - img height must be >= EPDHeight pixels; taller images are
//     center-cropped vertically.
//   - Pixel classification:
//   - transparent (alpha < 128) -> white
//   - very dark pixels -> ink on the black plane
//   - sufficiently red pixels -> ink on the red plane
//   - everything else -> white
//
// Packing rules:
//
//   - Each plane is y-major, MSB-first 1bpp:
//     byteIndex = y * EPDByteStride + (x >> 3)
//     mask      = 0x80 >> (x & 7)
//   - Planes start all-ones (white); ink pixels clear their bit.
func PackNRGBA(img *image.NRGBA) (black, red []byte, err error) {
	b := img.Bounds()
	w := b.Dx()
	h := b.Dy()

	if w != EPDWidth {
		return nil, nil, fmt.Errorf("convert: expected width %d, got %d", EPDWidth, w)
	}
	if h < EPDHeight {
		return nil, nil, fmt.Errorf("convert: expected height >= %d, got %d", EPDHeight, h)
	}

	// Center crop vertically to EPDHeight rows.
	startY := b.Min.Y + (h-EPDHeight)/2

	black = make([]byte, EPDPlaneSize)
	red = make([]byte, EPDPlaneSize)

	for i := range black {
		black[i] = 0xFF
	}
	for i := range red {
		red[i] = 0xFF
	}

	// Walk the pixel buffer via Stride directly to avoid At() calls.
	for py := 0; py < EPDHeight; py++ {
		srcY := startY + py
		rowOff := (srcY - b.Min.Y) * img.Stride

		for px := 0; px < EPDWidth; px++ {
			i := rowOff + px*4

			r := img.Pix[i+0]
			g := img.Pix[i+1]
			bb := img.Pix[i+2]
			a := img.Pix[i+3]

			// Transparent pixels are invisible on the page; treat as white.
			if a < 128 {
				continue
			}

			ink := classifyPixel(color.NRGBA{R: r, G: g, B: bb, A: a})
			if ink == inkWhite {
				continue
			}

			byteIndex := py*EPDByteStride + (px >> 3)
			mask := byte(0x80 >> (px & 7))

			switch ink {
			case inkBlack:
				black[byteIndex] &^= mask // 0 = black ink
			case inkRed:
				red[byteIndex] &^= mask // 0 = red ink
			}
		}
	}

	return black, red, nil
}

// inkColor indicates which plane a pixel should be drawn to.
type inkColor int

const (
	inkWhite inkColor = iota
	inkBlack
	inkRed
)

// classifyPixel decides whether a pixel is black, red, or white on the
// tri-color panel. Thresholds are empirical:
//
//   - luma Y = 0.299R + 0.587G + 0.114B
//   - redness = R - max(G, B)
//   - Y < 64 -> black
//   - R > 128 and redness > 32 -> red
//   - otherwise white
func classifyPixel(c color.NRGBA) inkColor {
	r, g, b := float64(c.R), float64(c.G), float64(c.B)

	y := 0.299*r + 0.587*g + 0.114*b

	maxGB := g
	if b > maxGB {
		maxGB = b
	}
	redness := r - maxGB

	if y < 64 {
		return inkBlack
	}

	if r > 128 && redness > 32 {
		return inkRed
	}

	return inkWhite
}
