// Package epd drives the Waveshare 7.5" tri-color e-paper (B) panel over
// SPI using periph.io. The real driver only builds on Linux; other
// platforms get a stub so the rest of the module always compiles.
package epd

// Panel geometry, mirrored in internal/convert.
const (
	Width  = 800
	Height = 480
)
