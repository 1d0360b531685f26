package player

import (
	"bytes"
	"context"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// captureConn records the provider handed to the transport so tests can pull
// frames themselves.
type captureConn struct {
	mu       sync.Mutex
	provider OpusFrameProvider
	speaking []bool
}

func (c *captureConn) SetOpusFrameProvider(p OpusFrameProvider) {
	c.mu.Lock()
	c.provider = p
	c.mu.Unlock()
}

func (c *captureConn) SetSpeaking(_ context.Context, speaking bool) error {
	c.mu.Lock()
	c.speaking = append(c.speaking, speaking)
	c.mu.Unlock()
	return nil
}

func (c *captureConn) Close(context.Context) {}

func (c *captureConn) last() OpusFrameProvider {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider
}

// doneCounter tallies terminal events.
type doneCounter struct {
	mu   sync.Mutex
	errs []error
}

func (d *doneCounter) onDone(err error) {
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
}

func (d *doneCounter) calls() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]error, len(d.errs))
	copy(out, d.errs)
	return out
}

// largePacketPage frames one packet of any size, spanning 255-byte segments.
func largePacketPage(packet []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("OggS")
	buf.Write(make([]byte, 22))
	var segs []byte
	rest := len(packet)
	for rest >= 255 {
		segs = append(segs, 255)
		rest -= 255
	}
	segs = append(segs, byte(rest))
	buf.WriteByte(byte(len(segs)))
	buf.Write(segs)
	buf.Write(packet)
	return buf.Bytes()
}

func attach(t *testing.T, d *Dispatcher, conn *captureConn, data []byte, onDone func(error)) OpusFrameProvider {
	t.Helper()
	d.Attach(io.NopCloser(bytes.NewReader(data)), onDone)
	p := conn.last()
	if p == nil {
		t.Fatalf("attach did not hand the transport a provider")
	}
	return p
}

func TestProviderExtractsPackets(t *testing.T) {
	conn := &captureConn{}
	d := newDispatcher(snowflake.ID(1), conn, 0.5)

	frames := [][]byte{audioFrame(0x01), audioFrame(0x02), audioFrame(0x03)}
	var data bytes.Buffer
	data.Write([]byte{0xde, 0xad}) // leading garbage is skipped
	data.Write(oggPage(headPacket()))
	data.Write(oggPage(tagsPacket()))
	data.Write(oggPage(frames[0], frames[1]))
	data.Write(oggPage(frames[2]))

	done := &doneCounter{}
	p := attach(t, d, conn, data.Bytes(), done.onDone)

	for i, want := range frames {
		got, err := p.ProvideOpusFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d = %x, want %x", i, got, want)
		}
	}

	if _, err := p.ProvideOpusFrame(); err != io.EOF {
		t.Fatalf("after last frame: err = %v, want io.EOF", err)
	}
	if calls := done.calls(); len(calls) != 1 || calls[0] != nil {
		t.Fatalf("terminal events = %v, want exactly one nil", calls)
	}
	// The terminal event never repeats.
	if _, err := p.ProvideOpusFrame(); err != io.EOF {
		t.Fatalf("post-terminal pull: err = %v, want io.EOF", err)
	}
	if calls := done.calls(); len(calls) != 1 {
		t.Fatalf("terminal events = %d, want 1", len(calls))
	}
}

func TestProviderSpanningPacket(t *testing.T) {
	conn := &captureConn{}
	d := newDispatcher(snowflake.ID(2), conn, 0.5)

	packet := make([]byte, 300)
	for i := range packet {
		packet[i] = byte(i)
	}
	var data bytes.Buffer
	data.Write(oggPage(headPacket()))
	data.Write(oggPage(tagsPacket()))
	data.Write(largePacketPage(packet))

	p := attach(t, d, conn, data.Bytes(), (&doneCounter{}).onDone)
	got, err := p.ProvideOpusFrame()
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if !bytes.Equal(got, packet) {
		t.Fatalf("spanning packet reassembled to %d bytes, want %d", len(got), len(packet))
	}
}

func TestProviderReportsStreamError(t *testing.T) {
	conn := &captureConn{}
	d := newDispatcher(snowflake.ID(3), conn, 0.5)

	broken := io.ErrNoProgress
	rc := &errAfterReader{data: oggStream(audioFrame(0x01)), err: broken}
	done := &doneCounter{}
	d.Attach(rc, done.onDone)
	p := conn.last()

	if _, err := p.ProvideOpusFrame(); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if _, err := p.ProvideOpusFrame(); err != io.EOF {
		t.Fatalf("after failure: err = %v, want io.EOF", err)
	}
	calls := done.calls()
	if len(calls) != 1 || calls[0] != broken {
		t.Fatalf("terminal events = %v, want exactly one %v", calls, broken)
	}
}

func TestPauseGateBlocksFrames(t *testing.T) {
	conn := &captureConn{}
	d := newDispatcher(snowflake.ID(4), conn, 0.5)
	p := attach(t, d, conn, oggStream(audioFrame(0x01), audioFrame(0x02)), (&doneCounter{}).onDone)

	if d.Paused() {
		t.Fatalf("new dispatcher must start unpaused")
	}
	d.Pause()
	d.Pause() // idempotent
	if !d.Paused() {
		t.Fatalf("Paused() = false after Pause")
	}

	got := make(chan []byte, 1)
	go func() {
		f, _ := p.ProvideOpusFrame()
		got <- f
	}()
	select {
	case <-got:
		t.Fatalf("frame delivered while paused")
	case <-time.After(30 * time.Millisecond):
	}

	d.Resume()
	d.Resume() // idempotent
	if d.Paused() {
		t.Fatalf("Paused() = true after Resume")
	}
	select {
	case f := <-got:
		if f == nil {
			t.Fatalf("nil frame after resume")
		}
	case <-time.After(time.Second):
		t.Fatalf("frame never delivered after resume")
	}
}

// A second attach silently finalizes the first stream: no terminal event for
// the replaced one, exactly one for the replacement.
func TestAttachReplacesSilently(t *testing.T) {
	conn := &captureConn{}
	d := newDispatcher(snowflake.ID(5), conn, 0.5)

	first := &doneCounter{}
	p1 := attach(t, d, conn, oggStream(audioFrame(0x01)), first.onDone)

	second := &doneCounter{}
	p2 := attach(t, d, conn, oggStream(audioFrame(0x02)), second.onDone)
	if p2 == p1 {
		t.Fatalf("attach reused the previous provider")
	}

	// The replaced provider yields EOF without firing its terminal event.
	if _, err := p1.ProvideOpusFrame(); err != io.EOF {
		t.Fatalf("replaced provider: err = %v, want io.EOF", err)
	}
	if calls := first.calls(); len(calls) != 0 {
		t.Fatalf("replaced stream fired terminal events: %v", calls)
	}

	if _, err := p2.ProvideOpusFrame(); err != nil {
		t.Fatalf("replacement frame: %v", err)
	}
	for {
		if _, err := p2.ProvideOpusFrame(); err == io.EOF {
			break
		}
	}
	if calls := second.calls(); len(calls) != 1 || calls[0] != nil {
		t.Fatalf("replacement terminal events = %v, want one nil", calls)
	}
}

func TestStopDetachesSilently(t *testing.T) {
	conn := &captureConn{}
	d := newDispatcher(snowflake.ID(6), conn, 0.5)

	done := &doneCounter{}
	p := attach(t, d, conn, oggStream(audioFrame(0x01)), done.onDone)

	d.Stop()
	if conn.last() != nil {
		t.Fatalf("Stop must clear the transport provider")
	}
	if _, err := p.ProvideOpusFrame(); err != io.EOF {
		t.Fatalf("stopped provider: err = %v, want io.EOF", err)
	}
	if calls := done.calls(); len(calls) != 0 {
		t.Fatalf("stopped stream fired terminal events: %v", calls)
	}
	d.Stop() // no active stream is a no-op
}

// gainReader is a stream that accepts live gain updates.
type gainReader struct {
	*bytes.Reader
	mu   sync.Mutex
	gain float64
}

func (g *gainReader) SetGain(gain float64) {
	g.mu.Lock()
	g.gain = gain
	g.mu.Unlock()
}

func (g *gainReader) lastGain() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gain
}

func (g *gainReader) Close() error { return nil }

func TestSetVolumeDetachedJumps(t *testing.T) {
	d := newDispatcher(snowflake.ID(7), &captureConn{}, 0.5)

	d.SetVolume(1.7)
	if v := d.Volume(); v != 1.7 {
		t.Errorf("target = %v, want 1.7", v)
	}
	if g := d.Gain(); g != 1.7 {
		t.Errorf("gain = %v, want immediate jump to 1.7 with no stream attached", g)
	}

	d.SetVolume(3)
	if v := d.Volume(); v != 2 {
		t.Errorf("target = %v, want clamp to 2", v)
	}
	d.SetVolume(-1)
	if v := d.Volume(); v != 0 {
		t.Errorf("target = %v, want clamp to 0", v)
	}
}

// With a stream attached, volume changes ramp toward the target one step per
// frame and are forwarded to gain-capable streams.
func TestSetVolumeSmoothsWhileAttached(t *testing.T) {
	conn := &captureConn{}
	d := newDispatcher(snowflake.ID(8), conn, 0.5)

	frames := make([][]byte, 16)
	for i := range frames {
		frames[i] = audioFrame(byte(i + 1))
	}
	rc := &gainReader{Reader: bytes.NewReader(oggStream(frames...))}
	d.Attach(rc, (&doneCounter{}).onDone)
	p := conn.last()

	if g := rc.lastGain(); g != 1.0 {
		t.Fatalf("attach gain = %v, want the stored 1.0", g)
	}

	d.SetVolume(0)
	if g := d.Gain(); g != 1.0 {
		t.Fatalf("gain = %v, want unchanged until the next frame", g)
	}

	prev := d.Gain()
	for i := 0; i < 12; i++ {
		if _, err := p.ProvideOpusFrame(); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		g := d.Gain()
		if g > prev {
			t.Fatalf("gain rose from %v to %v while ramping down", prev, g)
		}
		if got := rc.lastGain(); math.Abs(got-g) > 1e-9 {
			t.Fatalf("stream gain = %v, dispatcher gain = %v", got, g)
		}
		prev = g
	}
	if prev != 0 {
		t.Errorf("gain = %v after 12 frames, want converged to 0", prev)
	}
}
