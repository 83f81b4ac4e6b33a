package vga

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/flavioheleno/vga/image3bit"
	"github.com/flavioheleno/vga/internal/pio"
	"github.com/flavioheleno/vga/timing"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
)

// Pins are the signal lines of the VGA connector.
type Pins struct {
	HSync gpio.PinOut // Horizontal sync (required)
	VSync gpio.PinOut // Vertical sync (required)

	// Colour lines, each through a current-limiting resistor (optional).
	// When nil the colour output is only available through Opts.OnFrame.
	Red, Green, Blue gpio.PinOut
}

// Opts is the configuration for the VGA device.
type Opts struct {
	// Video mode (default: timing.VGA640x480)
	Mode *timing.Mode

	// FreeRun generates frames as fast as possible instead of at most at
	// the mode's refresh rate. Paced output is best effort: it runs slower
	// when a frame takes longer than its period to simulate.
	FreeRun bool

	// Logger receives device events (default: slog.Default()).
	Logger *slog.Logger

	// OnFrame, if set, is called from the hardware goroutine with the
	// colour output of every frame. The image is reused; copy it to keep it.
	OnFrame func(image.Image)
}

// Stats are counters of a running device.
type Stats struct {
	Frames     uint64 // Frames generated
	Passes     uint64 // Framebuffer passes completed by the stream unit
	Streamed   uint64 // Bytes moved into the colour FIFO
	Underflows uint64 // Pixel pairs that found the colour FIFO empty
}

// Dev is the device handle for the VGA output.
type Dev struct {
	// Configuration
	mode timing.Mode
	rect image.Rectangle
	log  *slog.Logger

	// Framebuffer, written by the caller and read by the pipeline
	fb *image3bit.PackedRGB

	// Simulated peripherals
	bus  *bus
	pipe *pipeline
	pio  *pio.Block

	// State
	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	halted  atomic.Bool
}

var _ display.Drawer = (*Dev)(nil)

// New creates a VGA device with both transfer units configured but not
// enabled. Call Start to begin generating the signal.
//
// opts can be nil to use defaults (640x480 at ~60Hz).
func New(p Pins, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &Opts{}
	}
	mode := timing.VGA640x480
	if opts.Mode != nil {
		mode = *opts.Mode
	}
	if err := mode.Validate(); err != nil {
		return nil, fmt.Errorf("vga: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	blk, err := pio.New(mode, pio.Pins{
		HSync: p.HSync,
		VSync: p.VSync,
		Red:   p.Red,
		Green: p.Green,
		Blue:  p.Blue,
	}, nil, log)
	if err != nil {
		return nil, fmt.Errorf("vga: %w", err)
	}
	blk.Realtime = !opts.FreeRun
	if opts.OnFrame != nil {
		blk.OnFrame = func(f *image.RGBA) { opts.OnFrame(f) }
	}

	rect := image.Rect(0, 0, mode.HActive, mode.VActive)
	fb := image3bit.NewPackedRGB(rect)
	b := newBus(fb, blk.TX())
	pipe, err := newPipeline(b, mode.FrameBytes())
	if err != nil {
		return nil, fmt.Errorf("vga: %w", err)
	}
	blk.SetClock(pipe)

	d := &Dev{
		mode: mode,
		rect: rect,
		log:  log,
		fb:   fb,
		bus:  b,
		pipe: pipe,
		pio:  blk,
	}
	pipe.onReset = d.reset
	return d, nil
}

// arm loads the generator counts, enables the state machines in sync and
// starts the stream unit.
func (d *Dev) arm() error {
	c := d.mode.Counts()
	for sm, v := range [...]uint32{
		pio.SMHSync: c.HSync,
		pio.SMVSync: c.VSync,
		pio.SMRGB:   c.RGB,
	} {
		if err := d.pio.Put(sm, v); err != nil {
			return fmt.Errorf("vga: %w", err)
		}
	}
	if err := d.pio.EnableInSync(1<<pio.SMHSync | 1<<pio.SMVSync | 1<<pio.SMRGB); err != nil {
		return fmt.Errorf("vga: %w", err)
	}
	d.pipe.start()
	d.pio.Prime()
	return nil
}

// Start enables the sync generators and the transfer pipeline and runs
// them on their own goroutine until ctx is cancelled or Halt is called.
// A device can only be started once.
func (d *Dev) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted.Load() {
		return errors.New("vga: halted")
	}
	if d.started {
		return errors.New("vga: already started")
	}
	if err := d.arm(); err != nil {
		return err
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		err := d.pio.Run(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
		if err != nil {
			d.log.Error("vga stopped", "error", err)
		}
	}()

	d.log.Info("vga started", "mode", d.mode.String(), "frame_bytes", d.mode.FrameBytes())
	return nil
}

// Wait blocks until the hardware goroutine exits and returns its error.
// It returns immediately if the device was never started.
func (d *Dev) Wait() error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Dev) reset(passes uint64) {
	d.log.Debug("framebuffer pass complete", "passes", passes)
}

// Err returns the fault that stopped a transfer unit or the hardware
// goroutine, if any. Faults only come from a broken configuration.
func (d *Dev) Err() error {
	if err := d.pipe.err(); err != nil {
		return fmt.Errorf("vga: transfer unit: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// SetPixel OR-accumulates colour c into the pixel at (x, y). Coordinates
// outside the screen are clamped to the nearest edge.
func (d *Dev) SetPixel(x, y int, c image3bit.RGB3) {
	d.fb.SetRGB3(x, y, c)
}

// Clear sets every pixel to black. It is not synchronised with the
// pipeline, so the frame being scanned out may show it partially.
func (d *Dev) Clear() {
	d.fb.Clear()
}

// Framebuffer returns the framebuffer the pipeline streams from.
func (d *Dev) Framebuffer() *image3bit.PackedRGB {
	return d.fb
}

// ColorModel returns the color model of the display.
func (d *Dev) ColorModel() color.Model {
	return image3bit.RGB3Model
}

// Bounds returns the image bounds of the display.
func (d *Dev) Bounds() image.Rectangle {
	return d.rect
}

// Mode returns the video mode.
func (d *Dev) Mode() timing.Mode {
	return d.mode
}

// Draw accumulates src into the framebuffer. Pixels are OR-ed with what is
// already there; call Clear first to replace the content.
func (d *Dev) Draw(dst image.Rectangle, src image.Image, sp image.Point) error {
	if d.halted.Load() {
		return errors.New("vga: halted")
	}
	dst = dst.Intersect(d.rect)
	if dst.Empty() {
		return nil
	}
	draw.Draw(d.fb, dst, src, sp, draw.Src)
	return nil
}

// Write accumulates raw packed pixel data into the framebuffer.
// The data must be exactly width * height / 2 bytes.
func (d *Dev) Write(pixels []byte) (int, error) {
	if d.halted.Load() {
		return 0, errors.New("vga: halted")
	}
	if len(pixels) != d.fb.Len() {
		return 0, errors.New("vga: invalid buffer size")
	}
	return d.fb.OrBytes(pixels), nil
}

// State returns the state of the transfer pipeline.
func (d *Dev) State() State {
	return d.pipe.State()
}

// Stats returns the device counters.
func (d *Dev) Stats() Stats {
	s := d.pio.Stats()
	ch := d.pipe.stream()
	return Stats{
		Frames:     s.Frames,
		Passes:     ch.Completions(),
		Streamed:   ch.Transferred(),
		Underflows: s.Underflows,
	}
}

// Halt stops the simulated hardware and waits for it to exit. The signal
// has no drain state: the current frame is simply abandoned. After Halt
// the device rejects Start, Draw and Write.
func (d *Dev) Halt() error {
	if d.halted.Swap(true) {
		return nil
	}
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := d.Wait()
	d.log.Info("vga halted", "frames", d.pio.Stats().Frames)
	return err
}

// String returns a string representation of the device.
func (d *Dev) String() string {
	return fmt.Sprintf("vga.Dev{%dx%d}", d.rect.Dx(), d.rect.Dy())
}
