package pio

// FIFO is a bounded byte queue between the transfer units and the colour
// state machine. It accepts a byte only when it has room, which is the
// request signal pacing the streaming unit.
type FIFO struct {
	buf  []byte
	head int
	n    int
}

// NewFIFO creates an empty FIFO holding up to depth bytes.
func NewFIFO(depth int) *FIFO {
	if depth <= 0 {
		panic("pio: fifo depth must be positive")
	}
	return &FIFO{buf: make([]byte, depth)}
}

// Push appends b. It returns false when the FIFO is full.
func (f *FIFO) Push(b byte) bool {
	if f.n == len(f.buf) {
		return false
	}
	f.buf[(f.head+f.n)%len(f.buf)] = b
	f.n++
	return true
}

// Pull removes the oldest byte. It returns false when the FIFO is empty.
func (f *FIFO) Pull() (byte, bool) {
	if f.n == 0 {
		return 0, false
	}
	b := f.buf[f.head]
	f.head = (f.head + 1) % len(f.buf)
	f.n--
	return b, true
}

// Len returns the number of queued bytes.
func (f *FIFO) Len() int { return f.n }

// Cap returns the FIFO depth.
func (f *FIFO) Cap() int { return len(f.buf) }

// Ready reports whether the FIFO can accept a byte.
// It implements dma.DREQ.
func (f *FIFO) Ready() bool { return f.n < len(f.buf) }

// Reset drops every queued byte.
func (f *FIFO) Reset() {
	f.head, f.n = 0, 0
}
