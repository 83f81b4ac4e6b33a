// Package pio models the programmable I/O block producing the video signal:
// a horizontal and a vertical sync generator and the colour state machine
// clocking packed bytes out of its TX FIFO, one byte per pixel pair.
//
// The block is the hardware clock of the simulation. StepFrame walks one
// frame line by line, ticking the transfer units between pixel pairs so the
// FIFO is refilled exactly as fast as the colour machine drains it.
package pio

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/flavioheleno/vga/image3bit"
	"github.com/flavioheleno/vga/timing"
	"periph.io/x/conn/v3/gpio"
)

// State machine numbers.
const (
	SMHSync = 0
	SMVSync = 1
	SMRGB   = 2

	allSM = 1<<SMHSync | 1<<SMVSync | 1<<SMRGB
)

// Pins are the output lines. HSync and VSync are required; the colour
// lines may be nil, in which case colour only reaches the captured frame.
type Pins struct {
	HSync, VSync     gpio.PinOut
	Red, Green, Blue gpio.PinOut
}

// Clock is stepped once per system clock cycle. The transfer controller
// implements it.
type Clock interface {
	Tick()
}

// Stats are counters of the running block.
type Stats struct {
	Frames     uint64
	Lines      uint64
	Underflows uint64
}

// Block is one PIO instance running the three video state machines.
type Block struct {
	// Realtime starts frames no faster than the mode's frame rate instead of
	// running free. A frame that takes longer than the period to generate
	// delays the next one; missed ticks are dropped, not caught up.
	Realtime bool
	// OnFrame, if set, receives the colour output of each finished frame.
	// The image is reused for the next frame.
	OnFrame func(*image.RGBA)

	mode  timing.Mode
	pins  Pins
	tx    *FIFO
	clock Clock
	log   *slog.Logger

	counts  [3]uint32
	loaded  uint32
	enabled uint32

	frame *image.RGBA

	frames     atomic.Uint64
	lines      atomic.Uint64
	underflows atomic.Uint64
}

// New creates a block for mode. The clock is stepped TicksPerPair times per
// pixel pair while the colour machine is active.
func New(mode timing.Mode, pins Pins, clock Clock, log *slog.Logger) (*Block, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	if pins.HSync == nil || pins.VSync == nil {
		return nil, errors.New("pio: hsync and vsync pins are required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Block{
		mode:  mode,
		pins:  pins,
		tx:    NewFIFO(mode.FIFODepth),
		clock: clock,
		log:   log,
		frame: image.NewRGBA(image.Rect(0, 0, mode.HActive, mode.VActive)),
	}, nil
}

// SetClock sets the clock stepped between pixel pairs.
func (b *Block) SetClock(c Clock) {
	b.clock = c
}

// TX returns the colour machine's TX FIFO.
func (b *Block) TX() *FIFO {
	return b.tx
}

// Put loads a count into state machine sm, as the first word it pulls.
func (b *Block) Put(sm int, v uint32) error {
	if sm < SMHSync || sm > SMRGB {
		return fmt.Errorf("pio: no state machine %d", sm)
	}
	if b.enabled&(1<<uint(sm)) != 0 {
		return fmt.Errorf("pio: state machine %d already running", sm)
	}
	b.counts[sm] = v
	b.loaded |= 1 << uint(sm)
	return nil
}

// EnableInSync starts the state machines in mask on the same clock edge.
// All three must be loaded and their counts must match the mode, otherwise
// colour would roll against sync.
func (b *Block) EnableInSync(mask uint32) error {
	if mask&^allSM != 0 {
		return fmt.Errorf("pio: invalid state machine mask %#x", mask)
	}
	if mask != allSM {
		return errors.New("pio: video state machines must be enabled together")
	}
	if b.loaded != allSM {
		return errors.New("pio: counts not loaded")
	}
	err := b.mode.Check(timing.Counts{
		HSync: b.counts[SMHSync],
		VSync: b.counts[SMVSync],
		RGB:   b.counts[SMRGB],
	})
	if err != nil {
		return err
	}
	for _, p := range []gpio.PinOut{b.pins.HSync, b.pins.VSync} {
		if err := p.Out(gpio.High); err != nil {
			return fmt.Errorf("pio: failed to idle %s: %w", p, err)
		}
	}
	if err := b.setColour(image3bit.Black); err != nil {
		return err
	}
	b.enabled = mask
	return nil
}

// Enabled reports whether the video state machines are running.
func (b *Block) Enabled() bool {
	return b.enabled == allSM
}

// Prime ticks the clock until the TX FIFO is full, as happens while the
// first vertical blanking interval runs. It gives up after a few cycles per
// slot so a stalled transfer unit cannot hang the caller.
func (b *Block) Prime() {
	for i := 0; i < 4*b.tx.Cap()*b.mode.TicksPerPair() && b.tx.Ready(); i++ {
		b.clock.Tick()
	}
}

// Frame returns the most recently captured colour output.
func (b *Block) Frame() *image.RGBA {
	return b.frame
}

// Stats returns the block's counters.
func (b *Block) Stats() Stats {
	return Stats{
		Frames:     b.frames.Load(),
		Lines:      b.lines.Load(),
		Underflows: b.underflows.Load(),
	}
}

// StepFrame generates one full frame, blanking included.
func (b *Block) StepFrame() error {
	if !b.Enabled() {
		return errors.New("pio: not enabled")
	}
	m := b.mode
	vSyncStart := m.VActive + m.VFrontPorch
	vSyncEnd := vSyncStart + m.VSync
	pairs := int(b.counts[SMRGB]) + 1
	ticks := m.TicksPerPair()
	var under uint64

	for line := 0; line < m.VTotal(); line++ {
		switch line {
		case vSyncStart:
			if err := b.pins.VSync.Out(gpio.Low); err != nil {
				return fmt.Errorf("pio: vsync: %w", err)
			}
		case vSyncEnd:
			if err := b.pins.VSync.Out(gpio.High); err != nil {
				return fmt.Errorf("pio: vsync: %w", err)
			}
		}

		if line < m.VActive {
			n, err := b.scanLine(line, pairs, ticks)
			if err != nil {
				return err
			}
			under += n
		}

		// Front porch elapses, then the horizontal sync pulse.
		if err := b.pins.HSync.Out(gpio.Low); err != nil {
			return fmt.Errorf("pio: hsync: %w", err)
		}
		if err := b.pins.HSync.Out(gpio.High); err != nil {
			return fmt.Errorf("pio: hsync: %w", err)
		}
		b.lines.Add(1)
	}

	if under > 0 {
		b.underflows.Add(under)
		b.log.Warn("colour fifo underflow", "frame", b.frames.Load(), "pairs", under)
	}
	b.frames.Add(1)
	if b.OnFrame != nil {
		b.OnFrame(b.frame)
	}
	return nil
}

// scanLine clocks one active line out of the FIFO and returns the number
// of pixel pairs that found it empty.
func (b *Block) scanLine(y, pairs, ticks int) (uint64, error) {
	var under uint64
	row := b.frame.Pix[y*b.frame.Stride:]
	for i := 0; i < pairs; i++ {
		v, ok := b.tx.Pull()
		if !ok {
			under++
		}
		for t := 0; t < ticks; t++ {
			b.clock.Tick()
		}

		lo, hi := image3bit.RGB3(v)&7, image3bit.RGB3(v>>3)&7
		copy(row[8*i:], rgba[lo][:])
		copy(row[8*i+4:], rgba[hi][:])
		if err := b.setColour(lo); err != nil {
			return under, err
		}
		if err := b.setColour(hi); err != nil {
			return under, err
		}
	}
	// Blank during the porches.
	return under, b.setColour(image3bit.Black)
}

func (b *Block) setColour(c image3bit.RGB3) error {
	lines := [3]gpio.PinOut{b.pins.Red, b.pins.Green, b.pins.Blue}
	for i, p := range lines {
		if p == nil {
			continue
		}
		if err := p.Out(gpio.Level(c&(1<<uint(i)) != 0)); err != nil {
			return fmt.Errorf("pio: colour: %w", err)
		}
	}
	return nil
}

// rgba is the resistor DAC: each colour index as 8-bit RGBA.
var rgba = func() (t [8][4]byte) {
	for i := range t {
		r, g, b, a := image3bit.RGB3(i).RGBA()
		t[i] = [4]byte{byte(r >> 8), byte(g >> 8), byte(b >> 8), byte(a >> 8)}
	}
	return
}()

// Run generates frames until ctx is cancelled. With Realtime the rate is
// bounded above by the mode's frame rate and may fall below it.
func (b *Block) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if b.Realtime {
		t := time.NewTicker(b.mode.FramePeriod())
		defer t.Stop()
		tick = t.C
	}
	b.log.Debug("pio running", "mode", b.mode.String(), "realtime", b.Realtime)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := b.StepFrame(); err != nil {
			return err
		}
		if tick == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		}
	}
}
