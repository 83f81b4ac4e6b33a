package vga

import (
	"errors"
	"fmt"

	"github.com/flavioheleno/vga/image3bit"
	"github.com/flavioheleno/vga/internal/dma"
	"github.com/flavioheleno/vga/internal/pio"
)

// Address map seen by the transfer units.
const (
	sramBase = 0x20000000 // framebuffer, followed by the base address word
	dmaBase  = 0x50000000 // channel register blocks
	txfBase  = 0x50200010 // TX FIFO of state machine 0; one word per machine
)

// bus routes transfer unit accesses to the framebuffer, the word holding
// the framebuffer base address, the channel registers and the TX FIFO.
// The framebuffer is mapped read-only.
type bus struct {
	fb      *image3bit.PackedRGB
	ptrAddr uint32
	ptr     uint32
	dma     *dma.Controller
	tx      *pio.FIFO
	txfAddr uint32
}

func newBus(fb *image3bit.PackedRGB, tx *pio.FIFO) *bus {
	b := &bus{
		fb:      fb,
		ptrAddr: sramBase + uint32(fb.Len()+3)&^3,
		ptr:     sramBase,
		tx:      tx,
		txfAddr: txfBase + 4*pio.SMRGB,
	}
	b.dma = dma.New(b, dmaBase, 2)
	return b
}

var errOverflow = errors.New("vga: colour fifo overflow")

func (b *bus) Load(addr uint32, size dma.Size) (uint32, error) {
	switch {
	case b.dma.Contains(addr):
		return b.dma.LoadReg(addr)
	case addr == b.ptrAddr && size == dma.Size32:
		return b.ptr, nil
	case addr >= sramBase && uint64(addr)+uint64(size) <= sramBase+uint64(b.fb.Len()):
		off := int(addr - sramBase)
		var v uint32
		for i := 0; i < int(size); i++ {
			v |= uint32(b.fb.ByteAt(off+i)) << (8 * uint(i))
		}
		return v, nil
	}
	return 0, fmt.Errorf("vga: bus fault reading %d bytes at %#08x", size, addr)
}

func (b *bus) Store(addr uint32, size dma.Size, v uint32) error {
	switch {
	case addr == b.txfAddr:
		if !b.tx.Push(byte(v)) {
			return errOverflow
		}
		return nil
	case b.dma.Contains(addr):
		return b.dma.StoreReg(addr, v)
	}
	return fmt.Errorf("vga: bus fault writing %d bytes at %#08x", size, addr)
}
