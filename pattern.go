package vga

import (
	"context"
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/flavioheleno/vga/image3bit"
)

// DefaultInterval is the pause between pattern frames. It is not derived
// from the refresh rate of the video mode.
const DefaultInterval = time.Second

// Canvas is a pixel-addressable framebuffer.
type Canvas interface {
	Bounds() image.Rectangle
	SetPixel(x, y int, c image3bit.RGB3)
	Clear()
}

// Wave is a sine curve drawn one pixel per column.
type Wave struct {
	CenterY   float64        // Vertical position of the axis
	Amplitude float64        // Peak deviation in pixels
	Step      float64        // Radians per pixel column
	Speed     float64        // Offset advance per frame, in radians
	Color     image3bit.RGB3 // Curve colour
}

// DefaultWave is a green wave across the middle of a 640x480 screen.
var DefaultWave = Wave{
	CenterY:   240,
	Amplitude: 100,
	Step:      0.01,
	Speed:     0.05,
	Color:     image3bit.Green,
}

// YCoord returns the row of the curve at angle for phase offset, clamped
// into [0, height-1]. Positive sine values go up the screen.
func (w Wave) YCoord(angle, offset float64, height int) int {
	y := int(w.CenterY) + int(-math.Sin(angle+offset)*w.Amplitude)
	return min(max(y, 0), height-1)
}

// Draw plots the curve for phase offset onto c, one pixel per column.
//
// The column angle already includes offset and YCoord adds it again, so the
// curve is sin(x*Step + 2*offset) and moves 2*Speed radians per frame.
func (w Wave) Draw(c Canvas, offset float64) {
	r := c.Bounds()
	for x := 0; x < r.Dx(); x++ {
		angle := float64(x)*w.Step + offset
		y := w.YCoord(angle, offset, r.Dy())
		c.SetPixel(r.Min.X+x, r.Min.Y+y, w.Color)
	}
}

// PatternLoop redraws a travelling wave at a fixed interval.
type PatternLoop struct {
	Canvas   Canvas
	Wave     Wave
	Interval time.Duration // Pause between frames (default: DefaultInterval)
	Logger   *slog.Logger

	offset float64
	frames uint64
}

// NewPatternLoop creates a loop drawing DefaultWave on c.
func NewPatternLoop(c Canvas) *PatternLoop {
	return &PatternLoop{
		Canvas:   c,
		Wave:     DefaultWave,
		Interval: DefaultInterval,
	}
}

// Offset returns the phase of the next frame.
func (l *PatternLoop) Offset() float64 {
	return l.offset
}

// Frame clears the canvas, draws the wave at the current phase and
// advances the phase.
func (l *PatternLoop) Frame() {
	l.Canvas.Clear()
	l.Wave.Draw(l.Canvas, l.offset)
	l.offset += l.Wave.Speed
	l.frames++
}

// Run draws frames until ctx is cancelled and returns ctx.Err().
func (l *PatternLoop) Run(ctx context.Context) error {
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Debug("pattern loop running", "interval", interval, "speed", l.Wave.Speed)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		l.Frame()
		select {
		case <-ctx.Done():
			log.Debug("pattern loop stopped", "frames", l.frames)
			return ctx.Err()
		case <-t.C:
		}
	}
}
