package image3bit

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync/atomic"
)

// RGB3 is a 3-bit colour index: bit 0 red, bit 1 green, bit 2 blue.
// Only the lower 3 bits are used.
type RGB3 uint8

// The 8 representable colours.
const (
	Black RGB3 = iota
	Red
	Green
	Yellow
	Blue
	Magenta
	Cyan
	White
)

// Palette lists every RGB3 colour in index order.
var Palette = color.Palette{Black, Red, Green, Yellow, Blue, Magenta, Cyan, White}

// RGBA converts the colour index to standard RGBA.
// Each channel bit is expanded to 0x0000 or 0xFFFF.
func (c RGB3) RGBA() (r, g, b, a uint32) {
	if c&1 != 0 {
		r = 0xFFFF
	}
	if c&2 != 0 {
		g = 0xFFFF
	}
	if c&4 != 0 {
		b = 0xFFFF
	}
	return r, g, b, 0xFFFF
}

// String returns the colour name.
func (c RGB3) String() string {
	return names[c&7]
}

var names = [8]string{"black", "red", "green", "yellow", "blue", "magenta", "cyan", "white"}

// ParseRGB3 returns the colour with the given name, ignoring case.
func ParseRGB3(name string) (RGB3, error) {
	for i, n := range names {
		if strings.EqualFold(n, name) {
			return RGB3(i), nil
		}
	}
	return Black, fmt.Errorf("image3bit: unknown colour %q", name)
}

// toRGB3 converts any color.Color to RGB3 by thresholding each channel at half intensity.
func toRGB3(c color.Color) color.Color {
	if v, ok := c.(RGB3); ok {
		return v & 7
	}
	r, g, b, _ := c.RGBA()
	var v RGB3
	if r >= 0x8000 {
		v |= Red
	}
	if g >= 0x8000 {
		v |= Green
	}
	if b >= 0x8000 {
		v |= Blue
	}
	return v
}

// RGB3Model converts colors to RGB3.
var RGB3Model = color.ModelFunc(toRGB3)

// PackedRGB is a 3-bit RGB image with two pixels packed per byte.
//
// The bytes are kept in little-endian 32-bit words and every access is
// atomic, so one goroutine may draw while another streams the bytes out.
// A reader can observe a frame mid-update (tearing) but never a torn byte.
type PackedRGB struct {
	Stride int             // Bytes per row
	Rect   image.Rectangle // Image bounds

	words []uint32
	n     int // length in bytes
}

// NewPackedRGB creates a new PackedRGB image with the specified bounds.
// The width must be even (since 2 pixels per byte).
func NewPackedRGB(r image.Rectangle) *PackedRGB {
	w, h := r.Dx(), r.Dy()
	if w < 0 || h < 0 {
		return &PackedRGB{Rect: r}
	}
	if w%2 != 0 {
		panic("image3bit: width must be even")
	}

	stride := w / 2
	n := stride * h
	return &PackedRGB{
		Stride: stride,
		Rect:   r,
		words:  make([]uint32, (n+3)/4),
		n:      n,
	}
}

// ColorModel returns the color model of the image.
func (p *PackedRGB) ColorModel() color.Model {
	return RGB3Model
}

// Bounds returns the image bounds.
func (p *PackedRGB) Bounds() image.Rectangle {
	return p.Rect
}

// Len returns the size of the backing storage in bytes.
func (p *PackedRGB) Len() int {
	return p.n
}

// At returns the color of the pixel at (x, y).
// It implements the image.Image interface.
func (p *PackedRGB) At(x, y int) color.Color {
	return p.RGB3At(x, y)
}

// RGB3At returns the colour index of the pixel at (x, y).
// Out of bounds reads return Black.
func (p *PackedRGB) RGB3At(x, y int) RGB3 {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return Black
	}
	offset, shift := p.PixOffset(x, y)
	return RGB3(p.ByteAt(offset)>>shift) & 7
}

// Set OR-accumulates the colour c, converted with RGB3Model, into the pixel at (x, y).
// Unlike image.RGBA.Set it does not overwrite: use Clear to remove colour.
func (p *PackedRGB) Set(x, y int, c color.Color) {
	p.SetRGB3(x, y, RGB3Model.Convert(c).(RGB3))
}

// SetRGB3 OR-accumulates c into the pixel at (x, y).
//
// Coordinates outside the image are saturated to the nearest edge, so a
// curve walker may overshoot the bounds without being rejected.
func (p *PackedRGB) SetRGB3(x, y int, c RGB3) {
	if p.n == 0 {
		return
	}
	x = clamp(x, p.Rect.Min.X, p.Rect.Max.X-1)
	y = clamp(y, p.Rect.Min.Y, p.Rect.Max.Y-1)
	offset, shift := p.PixOffset(x, y)
	p.orByte(offset, byte(c&7)<<shift)
}

// PixOffset returns the byte offset and bit shift for the pixel at (x, y).
// Even linear positions use bits 0-2 (shift 0), odd ones bits 3-5 (shift 3).
func (p *PackedRGB) PixOffset(x, y int) (offset int, shift uint) {
	linear := (y-p.Rect.Min.Y)*p.Rect.Dx() + (x - p.Rect.Min.X)
	offset = linear >> 1
	shift = uint(3 * (linear & 1))
	return
}

// ByteAt returns the packed byte at offset i.
func (p *PackedRGB) ByteAt(i int) byte {
	return byte(atomic.LoadUint32(&p.words[i>>2]) >> (8 * uint(i&3)))
}

// Bytes returns a copy of the packed storage.
func (p *PackedRGB) Bytes() []byte {
	out := make([]byte, p.n)
	for i := range out {
		out[i] = p.ByteAt(i)
	}
	return out
}

// OrBytes OR-accumulates packed bytes into the storage, starting at offset 0.
// Bits 6 and 7 of each byte are dropped. It returns the number of bytes used.
func (p *PackedRGB) OrBytes(b []byte) int {
	n := min(len(b), p.n)
	for i := 0; i < n; i++ {
		p.orByte(i, b[i]&0x3F)
	}
	return n
}

// Clear zero-fills the storage, setting every pixel to Black.
func (p *PackedRGB) Clear() {
	for i := range p.words {
		atomic.StoreUint32(&p.words[i], 0)
	}
}

func (p *PackedRGB) orByte(i int, v byte) {
	if v == 0 {
		return
	}
	atomic.OrUint32(&p.words[i>>2], uint32(v)<<(8*uint(i&3)))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
