// Package vga drives a VGA monitor from a packed 3-bit framebuffer.
//
// The signal is produced the way a small microcontroller does it: two sync
// generators, a colour state machine fed through a FIFO, and a pair of
// chained transfer units that stream the framebuffer into that FIFO
// forever. After Start the caller only writes memory.
//
// # Display Characteristics
//
// - 640×480 at ~60Hz (25MHz dot clock, 800×525 total)
// - 3-bit colour, one bit per channel: 8 colours
// - Two pixels per byte, 153600 bytes per frame
// - Pixel writes accumulate (OR); Clear is the only way to remove colour
// - No double buffering: drawing while a frame is scanned out may tear
//
// # Hardware Connection
//
//	VGA Pin     → System Pin
//	HSYNC (13)  → GPIO (HSync)
//	VSYNC (14)  → GPIO (VSync)
//	RED (1)     → 330Ω resistor → GPIO (Red)
//	GREEN (2)   → 330Ω resistor → GPIO (Green)
//	BLUE (3)    → 330Ω resistor → GPIO (Blue)
//	GND (5-8)   → GND
//
// # Basic Usage
//
//	package main
//
//	import (
//		"context"
//
//		"github.com/flavioheleno/vga"
//		"github.com/flavioheleno/vga/image3bit"
//		"periph.io/x/conn/v3/gpio/gpioreg"
//		"periph.io/x/host/v3"
//	)
//
//	func main() {
//		host.Init()
//
//		dev, _ := vga.New(vga.Pins{
//			HSync: gpioreg.ByName("GPIO16"),
//			VSync: gpioreg.ByName("GPIO17"),
//			Red:   gpioreg.ByName("GPIO18"),
//			Green: gpioreg.ByName("GPIO19"),
//			Blue:  gpioreg.ByName("GPIO20"),
//		}, nil)
//		defer dev.Halt()
//
//		dev.Start(context.Background())
//
//		// Draw a white pixel next to a red one
//		dev.SetPixel(0, 0, image3bit.White)
//		dev.SetPixel(1, 0, image3bit.Red)
//	}
//
// # Transfer Pipeline
//
// The stream unit copies one byte into the colour FIFO whenever the FIFO has
// room, advancing its read address through the framebuffer. When its count
// (exactly one frame) runs out it triggers the reset unit, which writes the
// framebuffer base address back into the stream unit's read address register
// and triggers it again:
//
//	ArmedIdle → Streaming → RequestReset → Streaming → …
//
// Because the count equals one frame, each pass starts on the first pixel
// of a new frame and colour never rolls against sync.
//
// # Timing
//
// The three generator counts come from the video mode:
//
//	hsync = active + front porch - 1 = 655
//	vsync = active lines - 1         = 479
//	rgb   = active / 2 - 1           = 319
//
// timing.Mode.Validate rejects modes where the transfer units could fall
// behind the colour machine; there is no runtime recovery from starvation.
//
// The rates above describe the generated signal. The simulation steps every
// system clock cycle in software, so a full 640x480 frame can take longer
// than its 16.8ms period to compute. Pacing is then best effort: ticks that
// fall due during a slow frame are dropped, never caught up, and Stats
// reports how many frames were actually generated.
//
// # Pattern Loop
//
// PatternLoop clears the screen and draws a travelling sine wave once per
// Interval:
//
//	loop := vga.NewPatternLoop(dev)
//	loop.Interval = 100 * time.Millisecond
//	loop.Run(ctx)
//
// # Compatibility with periph.io
//
// Dev implements the display.Drawer interface from periph.io:
// https://pkg.go.dev/periph.io/x/conn/v3/display
package vga
