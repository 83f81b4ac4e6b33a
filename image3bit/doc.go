// Package image3bit provides the 3-bit RGB packed framebuffer format used by the vga device.
//
// Each colour is a 3-bit index, one bit per channel, so exactly 8 colours are
// representable. Two horizontally adjacent pixels share one byte: the even
// pixel lives in bits 0-2 (low nibble), the odd pixel in bits 3-5 (high
// nibble). Bits 6 and 7 are never set.
//
// Memory layout example for a 4-pixel row:
//
//	Pixels: 0      1    2     3
//	Colour: White  Red  Blue  Green
//	Bytes:  0x0F        0x14
//	        (0x0F = high: Red=1, low: White=7)
//	        (0x14 = high: Green=2, low: Blue=4)
//
// Writes OR-accumulate into the existing byte. Clear is the only operation
// that removes colour bits.
//
// Example usage:
//
//	img := image3bit.NewPackedRGB(image.Rect(0, 0, 640, 480))
//	img.SetRGB3(10, 20, image3bit.Cyan)
//	c := img.RGB3At(10, 20) // Cyan
//	img.Clear()
package image3bit
