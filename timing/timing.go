// Package timing describes the video mode consumed by the sync generators
// and checks, before anything runs, that the transfer pipeline cannot be
// starved.
package timing

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Mode is a video timing mode.
//
// Horizontal values are in pixel clocks, vertical values in lines.
type Mode struct {
	Name string

	PixelClock  physic.Frequency // Dot clock of the sync generators
	SystemClock physic.Frequency // Clock of the transfer units and the colour state machine

	HActive, HFrontPorch, HSync, HBackPorch int
	VActive, VFrontPorch, VSync, VBackPorch int

	// FIFODepth is the capacity in bytes of the colour output queue.
	FIFODepth int
}

// VGA640x480 is the 640x480 mode driven from a 125MHz system clock with a 25MHz dot clock.
var VGA640x480 = Mode{
	Name:        "640x480",
	PixelClock:  25 * physic.MegaHertz,
	SystemClock: 125 * physic.MegaHertz,
	HActive:     640,
	HFrontPorch: 16,
	HSync:       96,
	HBackPorch:  48,
	VActive:     480,
	VFrontPorch: 10,
	VSync:       2,
	VBackPorch:  33,
	FIFODepth:   4,
}

// Counts are the values loaded into the three generators before they are
// enabled. Each one is a loop count minus one.
type Counts struct {
	HSync uint32 // active + front porch - 1, in pixel clocks
	VSync uint32 // active lines - 1
	RGB   uint32 // pixel pairs per active line - 1
}

// Counts returns the generator counts for m.
func (m Mode) Counts() Counts {
	return Counts{
		HSync: uint32(m.HActive + m.HFrontPorch - 1),
		VSync: uint32(m.VActive - 1),
		RGB:   uint32(m.HActive/2 - 1),
	}
}

// HTotal returns the pixel clocks per scanline.
func (m Mode) HTotal() int {
	return m.HActive + m.HFrontPorch + m.HSync + m.HBackPorch
}

// VTotal returns the lines per frame.
func (m Mode) VTotal() int {
	return m.VActive + m.VFrontPorch + m.VSync + m.VBackPorch
}

// FrameBytes returns the framebuffer size, which is also the transfer count
// of one pass of the streaming unit.
func (m Mode) FrameBytes() int {
	return m.HActive * m.VActive / 2
}

// TicksPerPair returns the system clock cycles available per pixel pair.
func (m Mode) TicksPerPair() int {
	if m.PixelClock <= 0 {
		return 0
	}
	return int(2 * m.SystemClock / m.PixelClock)
}

// FramePeriod returns the duration of one full frame, blanking included.
func (m Mode) FramePeriod() time.Duration {
	if m.PixelClock <= 0 {
		return 0
	}
	return time.Duration(m.HTotal()*m.VTotal()) * m.PixelClock.Period()
}

// FrameRate returns the refresh rate in frames per second.
func (m Mode) FrameRate() float64 {
	p := m.FramePeriod()
	if p <= 0 {
		return 0
	}
	return float64(time.Second) / float64(p)
}

// String returns a string representation of the mode.
func (m Mode) String() string {
	return fmt.Sprintf("%s@%.2fHz", m.Name, m.FrameRate())
}

// Validate reports whether m can be streamed without starving the colour
// output. A nil error means starvation is statically unreachable.
func (m Mode) Validate() error {
	if m.HActive <= 0 || m.HActive%2 != 0 {
		return errors.New("timing: horizontal active width must be even and positive")
	}
	if m.VActive <= 0 {
		return errors.New("timing: vertical active height must be positive")
	}
	if m.HFrontPorch <= 0 || m.HSync <= 0 || m.HBackPorch <= 0 {
		return errors.New("timing: horizontal porches and sync must be positive")
	}
	if m.VFrontPorch <= 0 || m.VSync <= 0 || m.VBackPorch <= 0 {
		return errors.New("timing: vertical porches and sync must be positive")
	}
	if m.PixelClock <= 0 || m.SystemClock <= 0 {
		return errors.New("timing: clocks must be positive")
	}
	// The colour state machine runs at the system clock with a fixed
	// per-pixel cycle count; any remainder makes colour drift against sync.
	if m.SystemClock%m.PixelClock != 0 {
		return fmt.Errorf("timing: system clock %s is not a multiple of pixel clock %s", m.SystemClock, m.PixelClock)
	}
	if m.TicksPerPair() < 1 {
		return fmt.Errorf("timing: %d transfer cycles per pixel pair, need at least 1", m.TicksPerPair())
	}
	// One cycle at the end of each pass goes to the reset unit.
	if m.FIFODepth < 2 {
		return fmt.Errorf("timing: fifo depth %d cannot cover the reset cycle", m.FIFODepth)
	}
	return nil
}

// Check reports whether c matches the counts derived from m.
func (m Mode) Check(c Counts) error {
	want := m.Counts()
	if c.HSync != want.HSync {
		return fmt.Errorf("timing: hsync count %d, mode %s needs %d", c.HSync, m.Name, want.HSync)
	}
	if c.VSync != want.VSync {
		return fmt.Errorf("timing: vsync count %d, mode %s needs %d", c.VSync, m.Name, want.VSync)
	}
	if c.RGB != want.RGB {
		return fmt.Errorf("timing: rgb count %d, mode %s needs %d", c.RGB, m.Name, want.RGB)
	}
	return nil
}
