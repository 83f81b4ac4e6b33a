// Package dma models a small DMA controller whose channels can be paced by
// a request line and chained to each other.
//
// Channels are stepped by Tick, one call per system clock cycle. A channel
// reaching the end of its transfer count triggers its chain target within
// the same cycle, so a pair of channels can keep each other running with no
// involvement from the code that started them.
package dma

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Size is the width of a single transfer.
type Size uint8

// Transfer widths.
const (
	Size8  Size = 1
	Size16 Size = 2
	Size32 Size = 4
)

// Bus is the address space channels read from and write to.
type Bus interface {
	Load(addr uint32, size Size) (uint32, error)
	Store(addr uint32, size Size, v uint32) error
}

// DREQ is a data request line pacing a channel.
type DREQ interface {
	Ready() bool
}

// Config is the static configuration of a channel.
type Config struct {
	DataSize       Size
	ReadIncrement  bool
	WriteIncrement bool
	DREQ           DREQ // nil: unpaced, transfers every cycle
	ChainTo        int  // channel triggered on completion; the channel itself disables chaining
}

// Register offsets inside a channel's register block.
const (
	RegReadAddr   = 0x00
	RegWriteAddr  = 0x04
	RegTransCount = 0x08
	RegCtrl       = 0x0C

	channelStride = 0x40
)

// Channel is one transfer unit.
type Channel struct {
	id  int
	cfg Config

	readAddr  atomic.Uint32
	writeAddr uint32
	count     uint32 // reload value
	remaining atomic.Uint32
	busy      atomic.Bool

	completions atomic.Uint64
	transferred atomic.Uint64
	err         atomic.Pointer[error]
}

// ID returns the channel number.
func (c *Channel) ID() int { return c.id }

// ReadAddr returns the current read cursor.
func (c *Channel) ReadAddr() uint32 { return c.readAddr.Load() }

// Remaining returns the transfers left in the current pass.
func (c *Channel) Remaining() uint32 { return c.remaining.Load() }

// Busy reports whether the channel is armed and transferring.
func (c *Channel) Busy() bool { return c.busy.Load() }

// Completions returns the number of passes finished.
func (c *Channel) Completions() uint64 { return c.completions.Load() }

// Transferred returns the total number of transfers performed.
func (c *Channel) Transferred() uint64 { return c.transferred.Load() }

// Err returns the bus fault that stopped the channel, if any.
func (c *Channel) Err() error {
	if p := c.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Controller owns a set of channels sharing one bus.
type Controller struct {
	// Base is the address of channel 0's register block.
	Base uint32
	// OnComplete, if set, is called from Tick when a channel finishes a pass,
	// before its chain target is triggered.
	OnComplete func(ch int)

	bus Bus
	ch  []*Channel
}

// New creates a controller with n idle channels.
func New(bus Bus, base uint32, n int) *Controller {
	c := &Controller{Base: base, bus: bus, ch: make([]*Channel, n)}
	for i := range c.ch {
		c.ch[i] = &Channel{id: i, cfg: Config{DataSize: Size32, ChainTo: i}}
	}
	return c
}

// Channel returns channel i.
func (c *Controller) Channel(i int) *Channel {
	return c.ch[i]
}

// Configure programs channel ch. When trigger is true the channel starts immediately.
func (c *Controller) Configure(ch int, cfg Config, write, read, count uint32, trigger bool) error {
	if ch < 0 || ch >= len(c.ch) {
		return fmt.Errorf("dma: no channel %d", ch)
	}
	if cfg.ChainTo < 0 || cfg.ChainTo >= len(c.ch) {
		return fmt.Errorf("dma: channel %d chains to missing channel %d", ch, cfg.ChainTo)
	}
	switch cfg.DataSize {
	case Size8, Size16, Size32:
	default:
		return fmt.Errorf("dma: invalid transfer size %d", cfg.DataSize)
	}
	if count == 0 {
		return errors.New("dma: transfer count must be positive")
	}
	x := c.ch[ch]
	if x.Busy() {
		return fmt.Errorf("dma: channel %d is busy", ch)
	}
	x.cfg = cfg
	x.readAddr.Store(read)
	x.writeAddr = write
	x.count = count
	x.remaining.Store(count)
	x.err.Store(nil)
	if trigger {
		c.trigger(ch)
	}
	return nil
}

// Start triggers every channel whose bit is set in mask.
func (c *Controller) Start(mask uint32) {
	for i := range c.ch {
		if mask&(1<<uint(i)) != 0 {
			c.trigger(i)
		}
	}
}

// RegisterAddr returns the bus address of register reg of channel ch.
func (c *Controller) RegisterAddr(ch int, reg uint32) uint32 {
	return c.Base + uint32(ch)*channelStride + reg
}

// Contains reports whether addr falls in the register space.
func (c *Controller) Contains(addr uint32) bool {
	return addr >= c.Base && addr < c.Base+uint32(len(c.ch))*channelStride
}

// LoadReg reads a register by bus address.
func (c *Controller) LoadReg(addr uint32) (uint32, error) {
	ch, reg, err := c.decode(addr)
	if err != nil {
		return 0, err
	}
	switch reg {
	case RegReadAddr:
		return ch.readAddr.Load(), nil
	case RegWriteAddr:
		return ch.writeAddr, nil
	case RegTransCount:
		return ch.remaining.Load(), nil
	case RegCtrl:
		var v uint32
		if ch.Busy() {
			v |= 1
		}
		if ch.Err() != nil {
			v |= 1 << 31
		}
		return v, nil
	}
	return 0, fmt.Errorf("dma: no register at %#08x", addr)
}

// StoreReg writes a register by bus address. Writes do not trigger the
// channel; chaining does.
func (c *Controller) StoreReg(addr, v uint32) error {
	ch, reg, err := c.decode(addr)
	if err != nil {
		return err
	}
	switch reg {
	case RegReadAddr:
		ch.readAddr.Store(v)
	case RegWriteAddr:
		ch.writeAddr = v
	case RegTransCount:
		if v == 0 {
			return errors.New("dma: transfer count must be positive")
		}
		ch.count = v
	default:
		return fmt.Errorf("dma: register at %#08x is read-only", addr)
	}
	return nil
}

func (c *Controller) decode(addr uint32) (*Channel, uint32, error) {
	if !c.Contains(addr) {
		return nil, 0, fmt.Errorf("dma: address %#08x outside register space", addr)
	}
	off := addr - c.Base
	return c.ch[off/channelStride], off % channelStride, nil
}

// Tick advances the controller by one clock cycle. Each busy channel whose
// request line is ready performs one transfer.
func (c *Controller) Tick() {
	for _, ch := range c.ch {
		if !ch.Busy() {
			continue
		}
		if ch.cfg.DREQ != nil && !ch.cfg.DREQ.Ready() {
			continue
		}
		c.transfer(ch)
	}
}

func (c *Controller) transfer(ch *Channel) {
	size := ch.cfg.DataSize
	read := ch.readAddr.Load()
	v, err := c.bus.Load(read, size)
	if err == nil {
		err = c.bus.Store(ch.writeAddr, size, v)
	}
	if err != nil {
		ch.err.Store(&err)
		ch.busy.Store(false)
		return
	}
	ch.transferred.Add(1)
	if ch.cfg.ReadIncrement {
		ch.readAddr.Store(read + uint32(size))
	}
	if ch.cfg.WriteIncrement {
		ch.writeAddr += uint32(size)
	}
	if ch.remaining.Add(^uint32(0)) != 0 {
		return
	}
	ch.busy.Store(false)
	ch.completions.Add(1)
	if c.OnComplete != nil {
		c.OnComplete(ch.id)
	}
	if ch.cfg.ChainTo != ch.id {
		c.trigger(ch.cfg.ChainTo)
	}
}

// trigger arms channel i with a fresh transfer count.
func (c *Controller) trigger(i int) {
	ch := c.ch[i]
	if ch.Err() != nil {
		return
	}
	ch.remaining.Store(ch.count)
	ch.busy.Store(true)
}
