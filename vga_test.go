package vga

import (
	"context"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flavioheleno/vga/image3bit"
	"github.com/flavioheleno/vga/timing"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// edgePin counts falling edges and high writes.
type edgePin struct {
	gpiotest.Pin
	falls atomic.Int64
	highs atomic.Int64
}

func (p *edgePin) Out(l gpio.Level) error {
	if l == gpio.Low && p.Read() == gpio.High {
		p.falls.Add(1)
	}
	if l == gpio.High {
		p.highs.Add(1)
	}
	return p.Pin.Out(l)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// smallMode is a 16x8 mode keeping frame-by-frame tests fast.
var smallMode = func() timing.Mode {
	m := timing.VGA640x480
	m.Name = "16x8"
	m.HActive, m.HFrontPorch, m.HSync, m.HBackPorch = 16, 1, 2, 1
	m.VActive, m.VFrontPorch, m.VSync, m.VBackPorch = 8, 1, 1, 1
	return m
}()

func newTestDev(t *testing.T, opts *Opts) (*Dev, *edgePin, *edgePin) {
	t.Helper()
	hs := &edgePin{Pin: gpiotest.Pin{N: "GPIO16", Num: 16}}
	vs := &edgePin{Pin: gpiotest.Pin{N: "GPIO17", Num: 17}}
	if opts == nil {
		opts = &Opts{}
	}
	opts.FreeRun = true
	opts.Logger = quiet
	d, err := New(Pins{HSync: hs, VSync: vs}, opts)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return d, hs, vs
}

// checkCapture compares the colour output with the framebuffer.
func checkCapture(t *testing.T, d *Dev) {
	t.Helper()
	f := d.pio.Frame()
	r := d.Bounds()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			want := color.RGBAModel.Convert(d.fb.RGB3At(x, y))
			if got := f.RGBAAt(x, y); got != want {
				t.Fatalf("output at (%d, %d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestNewDefaults(t *testing.T) {
	d, _, _ := newTestDev(t, nil)

	if got, want := d.Bounds(), image.Rect(0, 0, 640, 480); got != want {
		t.Errorf("Bounds() = %v, want %v", got, want)
	}
	if got, want := d.String(), "vga.Dev{640x480}"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if d.ColorModel() != image3bit.RGB3Model {
		t.Error("ColorModel() did not return RGB3Model")
	}
	if got := d.State(); got != ArmedIdle {
		t.Errorf("State() = %v, want %v", got, ArmedIdle)
	}
	if got := d.Framebuffer().Len(); got != 153600 {
		t.Errorf("framebuffer length = %d, want 153600", got)
	}
	if d.Mode().Name != timing.VGA640x480.Name {
		t.Errorf("Mode() = %v, want default", d.Mode())
	}
}

func TestNewValidation(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO0"}
	bad := timing.VGA640x480
	bad.HActive = 641

	tests := []struct {
		name string
		pins Pins
		opts *Opts
	}{
		{"missing hsync", Pins{VSync: pin}, nil},
		{"missing vsync", Pins{HSync: pin}, nil},
		{"odd width mode", Pins{HSync: pin, VSync: pin}, &Opts{Mode: &bad}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.pins, tt.opts); err == nil {
				t.Error("New() = nil error, want error")
			}
		})
	}
}

func TestSetPixelWhiteRed(t *testing.T) {
	d, _, _ := newTestDev(t, nil)

	d.SetPixel(0, 0, image3bit.White)
	d.SetPixel(1, 0, image3bit.Red)
	if got := d.fb.ByteAt(0); got != 0b001_111 {
		t.Errorf("byte 0 = %#08b, want %#08b", got, 0b001_111)
	}
}

func TestSetPixelClamps(t *testing.T) {
	a, _, _ := newTestDev(t, nil)
	b, _, _ := newTestDev(t, nil)

	a.SetPixel(700, -5, image3bit.Yellow)
	b.SetPixel(639, 0, image3bit.Yellow)

	ab, bb := a.fb.Bytes(), b.fb.Bytes()
	for i := range ab {
		if ab[i] != bb[i] {
			t.Fatalf("byte %d = %#02x, want %#02x", i, ab[i], bb[i])
		}
	}
}

func TestClearRestoresZero(t *testing.T) {
	d, _, _ := newTestDev(t, nil)

	d.Clear()
	NewPatternLoop(d).Frame()
	d.SetPixel(-1, 1000, image3bit.White)
	d.Clear()

	for i, b := range d.fb.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d = %#02x after Clear, want 0", i, b)
		}
	}
}

func TestFrameScanout(t *testing.T) {
	d, hs, vs := newTestDev(t, nil)
	NewPatternLoop(d).Frame()
	for i := 0; i < 8; i++ {
		d.SetPixel(i, 0, image3bit.RGB3(i))
		d.SetPixel(639-i, 479, image3bit.RGB3(i))
	}

	if err := d.arm(); err != nil {
		t.Fatal(err)
	}
	if got := d.State(); got != Streaming {
		t.Errorf("State() after arm = %v, want %v", got, Streaming)
	}
	if err := d.pio.StepFrame(); err != nil {
		t.Fatal(err)
	}
	checkCapture(t, d)

	s := d.Stats()
	if s.Frames != 1 || s.Passes != 1 || s.Underflows != 0 {
		t.Errorf("Stats() = %+v, want 1 frame, 1 pass, 0 underflows", s)
	}
	// The FIFO holds the first bytes of the next pass.
	if want := uint64(153600 + d.mode.FIFODepth); s.Streamed != want {
		t.Errorf("Streamed = %d, want %d", s.Streamed, want)
	}
	if got := hs.falls.Load(); got != 525 {
		t.Errorf("hsync pulses = %d, want 525", got)
	}
	if got := vs.falls.Load(); got != 1 {
		t.Errorf("vsync pulses = %d, want 1", got)
	}
	if err := d.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}
}

func TestPipelineNoDrift(t *testing.T) {
	m := smallMode
	d, _, vs := newTestDev(t, &Opts{Mode: &m})
	frameBytes := uint64(m.FrameBytes())

	for x := 0; x < m.HActive; x++ {
		d.SetPixel(x, x%m.VActive, image3bit.RGB3(x%8))
	}

	var resets uint64
	d.pipe.onReset = func(n uint64) {
		resets = n
		if got := d.pipe.stream().ReadAddr(); got != sramBase {
			t.Fatalf("pass %d: read address after reset = %#08x, want %#08x", n, got, sramBase)
		}
		if got := d.pipe.stream().Transferred(); got != n*frameBytes {
			t.Fatalf("pass %d: streamed %d bytes, want %d", n, got, n*frameBytes)
		}
	}

	if err := d.arm(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 1000; i++ {
		if err := d.pio.StepFrame(); err != nil {
			t.Fatal(err)
		}
	}
	checkCapture(t, d)

	if resets != 1000 {
		t.Errorf("resets = %d, want 1000", resets)
	}
	if got := d.Stats().Underflows; got != 0 {
		t.Errorf("Underflows = %d, want 0", got)
	}
	if got := vs.falls.Load(); got != 1000 {
		t.Errorf("vsync pulses = %d, want 1000", got)
	}
}

func TestColourPins(t *testing.T) {
	m := smallMode
	hs := &gpiotest.Pin{N: "HSYNC"}
	vs := &gpiotest.Pin{N: "VSYNC"}
	r := &edgePin{Pin: gpiotest.Pin{N: "RED"}}
	g := &edgePin{Pin: gpiotest.Pin{N: "GREEN"}}
	b := &edgePin{Pin: gpiotest.Pin{N: "BLUE"}}
	d, err := New(Pins{HSync: hs, VSync: vs, Red: r, Green: g, Blue: b}, &Opts{Mode: &m, FreeRun: true, Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}

	d.SetPixel(3, 2, image3bit.Yellow)
	d.SetPixel(5, 6, image3bit.Cyan)
	if err := d.arm(); err != nil {
		t.Fatal(err)
	}
	if err := d.pio.StepFrame(); err != nil {
		t.Fatal(err)
	}

	if got := r.highs.Load(); got != 1 {
		t.Errorf("red high writes = %d, want 1", got)
	}
	if got := g.highs.Load(); got != 2 {
		t.Errorf("green high writes = %d, want 2", got)
	}
	if got := b.highs.Load(); got != 1 {
		t.Errorf("blue high writes = %d, want 1", got)
	}
	for _, p := range []*edgePin{r, g, b} {
		if p.Read() != gpio.Low {
			t.Errorf("%s not blanked after frame", p)
		}
	}
}

func TestOnFrame(t *testing.T) {
	m := smallMode
	var frames int
	var last image.Image
	d, _, _ := newTestDev(t, &Opts{Mode: &m, OnFrame: func(f image.Image) {
		frames++
		last = f
	}})
	d.SetPixel(0, 0, image3bit.Blue)

	if err := d.arm(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := d.pio.StepFrame(); err != nil {
			t.Fatal(err)
		}
	}
	if frames != 3 {
		t.Errorf("OnFrame calls = %d, want 3", frames)
	}
	if got := color.RGBAModel.Convert(last.At(0, 0)); got != (color.RGBA{0, 0, 0xFF, 0xFF}) {
		t.Errorf("last frame (0, 0) = %v, want blue", got)
	}
}

func waitFrames(t *testing.T, d *Dev, n uint64) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for d.Stats().Frames < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d frames, got %d", n, d.Stats().Frames)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStartHalt(t *testing.T) {
	m := smallMode
	d, _, _ := newTestDev(t, &Opts{Mode: &m})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Error("second Start() = nil, want error")
	}
	waitFrames(t, d, 2)
	if s := d.State(); s != Streaming && s != RequestReset {
		t.Errorf("State() = %v, want streaming", s)
	}

	if err := d.Halt(); err != nil {
		t.Errorf("Halt() = %v", err)
	}
	if err := d.Halt(); err != nil {
		t.Errorf("second Halt() = %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Error("Start() after Halt = nil, want error")
	}
	if err := d.Draw(d.Bounds(), image.NewUniform(image3bit.Red), image.Point{}); err == nil {
		t.Error("Draw should fail when halted")
	}
	if _, err := d.Write(make([]byte, m.FrameBytes())); err == nil {
		t.Error("Write should fail when halted")
	}
}

func TestContextCancelStops(t *testing.T) {
	m := smallMode
	d, _, _ := newTestDev(t, &Opts{Mode: &m})

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFrames(t, d, 1)
	cancel()
	if err := d.Wait(); err != nil {
		t.Errorf("Wait() = %v, want nil after cancel", err)
	}
}

func TestDrawWhileStreaming(t *testing.T) {
	d, _, _ := newTestDev(t, nil)
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer d.Halt()

	loop := NewPatternLoop(d)
	for i := 0; i < 20; i++ {
		loop.Frame()
	}
	waitFrames(t, d, 2)
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if got := d.Stats().Underflows; got != 0 {
		t.Errorf("Underflows = %d, want 0", got)
	}
	if err := d.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}
}

func TestDrawAccumulates(t *testing.T) {
	d, _, _ := newTestDev(t, nil)
	r := image.Rect(10, 10, 20, 20)

	if err := d.Draw(r, image.NewUniform(color.RGBA{0xFF, 0, 0, 0xFF}), image.Point{}); err != nil {
		t.Fatal(err)
	}
	if err := d.Draw(r, image.NewUniform(color.RGBA{0, 0, 0xFF, 0xFF}), image.Point{}); err != nil {
		t.Fatal(err)
	}
	if got := d.fb.RGB3At(15, 15); got != image3bit.Magenta {
		t.Errorf("pixel inside = %v, want magenta", got)
	}
	if got := d.fb.RGB3At(9, 15); got != image3bit.Black {
		t.Errorf("pixel outside = %v, want black", got)
	}
	if err := d.Draw(image.Rect(700, 700, 800, 800), image.NewUniform(color.White), image.Point{}); err != nil {
		t.Errorf("Draw() outside screen = %v, want nil", err)
	}
}

func TestWriteBufferSizeValidation(t *testing.T) {
	d, _, _ := newTestDev(t, nil)

	tests := []struct {
		name string
		size int
	}{
		{"too small", 153600 - 1},
		{"too large", 153600 + 1},
		{"empty", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Write(make([]byte, tt.size))
			if err == nil {
				t.Fatal("Write should fail with invalid buffer size")
			}
			if err.Error() != "vga: invalid buffer size" {
				t.Errorf("Write error = %v, want 'vga: invalid buffer size'", err)
			}
		})
	}

	p := make([]byte, 153600)
	p[0] = 0x0F
	if n, err := d.Write(p); err != nil || n != len(p) {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if got := d.fb.RGB3At(1, 0); got != image3bit.Red {
		t.Errorf("pixel (1, 0) = %v, want red", got)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{ArmedIdle, "armed-idle"},
		{Streaming, "streaming"},
		{RequestReset, "request-reset"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
