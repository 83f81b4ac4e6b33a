package vga

import (
	"sync/atomic"

	"github.com/flavioheleno/vga/internal/dma"
)

// State is the state of the transfer pipeline.
type State int32

// Pipeline states. After Start the pipeline cycles between Streaming and
// RequestReset for the life of the device.
const (
	ArmedIdle    State = iota // Both units configured, not enabled
	Streaming                 // Stream unit copying one byte per FIFO request
	RequestReset              // Reset unit rewinding the stream unit's read address
)

func (s State) String() string {
	switch s {
	case ArmedIdle:
		return "armed-idle"
	case Streaming:
		return "streaming"
	case RequestReset:
		return "request-reset"
	}
	return "unknown"
}

// Channels used by the pipeline.
const (
	streamChan = 0
	resetChan  = 1
)

// pipeline is the pair of chained transfer units. The stream unit copies
// the framebuffer into the colour FIFO and, when its count runs out,
// triggers the reset unit, which writes the framebuffer base address back
// into the stream unit's read address register and triggers it again.
type pipeline struct {
	ctl *dma.Controller

	state   atomic.Int32
	resets  atomic.Uint64
	onReset func(passes uint64)
}

// newPipeline configures both units without enabling them.
func newPipeline(b *bus, frameBytes int) (*pipeline, error) {
	p := &pipeline{ctl: b.dma}
	p.ctl.OnComplete = p.complete

	err := p.ctl.Configure(streamChan, dma.Config{
		DataSize:       dma.Size8,
		ReadIncrement:  true,
		WriteIncrement: false,
		DREQ:           b.tx,
		ChainTo:        resetChan,
	}, b.txfAddr, sramBase, uint32(frameBytes), false)
	if err != nil {
		return nil, err
	}

	err = p.ctl.Configure(resetChan, dma.Config{
		DataSize:       dma.Size32,
		ReadIncrement:  false,
		WriteIncrement: false,
		ChainTo:        streamChan,
	}, p.ctl.RegisterAddr(streamChan, dma.RegReadAddr), b.ptrAddr, 1, false)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *pipeline) complete(ch int) {
	switch ch {
	case streamChan:
		p.state.Store(int32(RequestReset))
	case resetChan:
		p.state.Store(int32(Streaming))
		n := p.resets.Add(1)
		if p.onReset != nil {
			p.onReset(n)
		}
	}
}

// start enables the stream unit. It is never re-armed by software again.
func (p *pipeline) start() {
	p.state.Store(int32(Streaming))
	p.ctl.Start(1 << streamChan)
}

// Tick advances both units by one system clock cycle.
func (p *pipeline) Tick() {
	p.ctl.Tick()
}

func (p *pipeline) State() State {
	return State(p.state.Load())
}

func (p *pipeline) stream() *dma.Channel {
	return p.ctl.Channel(streamChan)
}

func (p *pipeline) err() error {
	if err := p.ctl.Channel(streamChan).Err(); err != nil {
		return err
	}
	return p.ctl.Channel(resetChan).Err()
}
