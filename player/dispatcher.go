package player

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/hibiki/sys"
)

// GainStream is optionally implemented by resolver-supplied streams that can
// adjust output gain while playing. Streams without it pick up the stored
// volume at the next attach.
type GainStream interface {
	SetGain(gain float64)
}

// Dispatcher binds one audio stream at a time to one live transport
// connection. A new attach implicitly detaches and finalizes the previous
// stream; per attached stream it reports exactly one terminal event, either
// end (nil error) or error.
type Dispatcher struct {
	key  snowflake.ID
	conn Conn

	mu      sync.Mutex
	current *oggProvider
	stream  io.ReadCloser
	target  float64
	gain    float64
	// Fraction of the remaining distance to the target gain covered per
	// 20ms frame, so volume changes ramp instead of stepping.
	smoothing float64
	closed    bool

	pauseMu sync.RWMutex
	// Closed while playing; swapped for an open channel to pause. Frame
	// pulls park on it without dropping buffered data.
	pauseChan chan struct{}
}

func newDispatcher(key snowflake.ID, conn Conn, smoothing float64) *Dispatcher {
	if smoothing <= 0 || smoothing > 1 {
		smoothing = 0.08
	}
	d := &Dispatcher{
		key:       key,
		conn:      conn,
		target:    1.0,
		gain:      1.0,
		smoothing: smoothing,
		pauseChan: make(chan struct{}),
	}
	close(d.pauseChan)
	return d
}

// Attach detaches any prior stream and begins forwarding rc's frames to the
// transport connection. onDone receives the stream's single terminal event.
func (d *Dispatcher) Attach(rc io.ReadCloser, onDone func(err error)) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_ = rc.Close()
		return
	}
	if d.current != nil {
		d.current.detach()
	}
	p := newOggProvider(d, rc, onDone)
	d.current = p
	d.stream = rc
	if gs, ok := rc.(GainStream); ok {
		gs.SetGain(d.gain)
	}
	d.mu.Unlock()

	d.conn.SetOpusFrameProvider(p)
	_ = d.conn.SetSpeaking(context.TODO(), true)
	sys.LogVoice("Streaming to destination %s", d.key)
}

// Stop detaches the active stream without attaching a replacement. The
// detached stream is finalized silently, with no terminal event.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.current != nil {
		d.current.detach()
		d.current = nil
		d.stream = nil
	}
	d.mu.Unlock()

	d.conn.SetOpusFrameProvider(nil)
	_ = d.conn.SetSpeaking(context.TODO(), false)
}

// Pause suspends frame forwarding without dropping the connection or any
// buffered data.
func (d *Dispatcher) Pause() {
	d.pauseMu.Lock()
	select {
	case <-d.pauseChan:
		d.pauseChan = make(chan struct{})
	default:
	}
	d.pauseMu.Unlock()
}

// Resume continues forwarding from the same logical position.
func (d *Dispatcher) Resume() {
	d.pauseMu.Lock()
	select {
	case <-d.pauseChan:
	default:
		close(d.pauseChan)
	}
	d.pauseMu.Unlock()
}

// Paused reports whether frame forwarding is suspended.
func (d *Dispatcher) Paused() bool {
	d.pauseMu.RLock()
	defer d.pauseMu.RUnlock()
	select {
	case <-d.pauseChan:
		return false
	default:
		return true
	}
}

// SetVolume adjusts output gain. While a stream is attached the change is
// interpolated toward the target over the smoothing window; otherwise it is
// stored and applied at the next attach.
func (d *Dispatcher) SetVolume(level float64) {
	level = math.Max(0, math.Min(2, level))
	d.mu.Lock()
	d.target = level
	if d.current == nil {
		d.gain = level
	}
	d.mu.Unlock()
}

// Volume returns the target gain.
func (d *Dispatcher) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}

// Gain returns the smoothed gain currently applied.
func (d *Dispatcher) Gain() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain
}

// stepGain advances the smoothed gain one frame toward the target and
// forwards it to gain-capable streams.
func (d *Dispatcher) stepGain() {
	d.mu.Lock()
	if d.gain != d.target {
		d.gain += (d.target - d.gain) * d.smoothing
		if math.Abs(d.target-d.gain) < 0.001 {
			d.gain = d.target
		}
		if gs, ok := d.stream.(GainStream); ok {
			gs.SetGain(d.gain)
		}
	}
	d.mu.Unlock()
}

// close stops playback and releases the transport connection. Used by the
// registry on disconnect.
func (d *Dispatcher) close(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.current != nil {
		d.current.detach()
		d.current = nil
		d.stream = nil
	}
	d.mu.Unlock()

	d.conn.SetOpusFrameProvider(nil)
	d.conn.Close(ctx)
}

// oggProvider parses Ogg pages off an opaque byte stream and yields the
// contained Opus packets one frame per pull. Header packets (OpusHead,
// OpusTags) are skipped.
type oggProvider struct {
	d      *Dispatcher
	rc     io.ReadCloser
	reader *bufio.Reader

	header    []byte
	segBuf    []byte
	packetBuf bytes.Buffer
	queue     [][]byte

	onDone    func(err error)
	finalOnce sync.Once
	detached  atomic.Bool
	done      chan struct{}
	doneOnce  sync.Once
}

func newOggProvider(d *Dispatcher, rc io.ReadCloser, onDone func(err error)) *oggProvider {
	return &oggProvider{
		d:      d,
		rc:     rc,
		reader: bufio.NewReaderSize(rc, 16384),
		header: make([]byte, 27),
		segBuf: make([]byte, 255),
		onDone: onDone,
		done:   make(chan struct{}),
	}
}

// detach finalizes the provider silently: the pending terminal event is
// consumed so a replaced stream never reports end or error.
func (p *oggProvider) detach() {
	p.detached.Store(true)
	p.finalOnce.Do(func() {})
	p.doneOnce.Do(func() { close(p.done) })
	_ = p.rc.Close()
}

func (p *oggProvider) Close() {}

// finish fires the stream's single terminal event: end for a normal EOF,
// error for anything else.
func (p *oggProvider) finish(err error) {
	p.doneOnce.Do(func() { close(p.done) })
	_ = p.rc.Close()
	p.finalOnce.Do(func() {
		if p.onDone != nil {
			p.onDone(err)
		}
	})
}

// ProvideOpusFrame yields the next Opus packet, honoring the dispatcher's
// pause gate and stepping the smoothed gain once per frame.
func (p *oggProvider) ProvideOpusFrame() ([]byte, error) {
	p.d.pauseMu.RLock()
	gate := p.d.pauseChan
	p.d.pauseMu.RUnlock()

	select {
	case <-gate:
	case <-p.done:
		return nil, io.EOF
	}
	if p.detached.Load() {
		return nil, io.EOF
	}

	p.d.stepGain()

	if len(p.queue) > 0 {
		frame := p.queue[0]
		p.queue = p.queue[1:]
		return frame, nil
	}

	for {
		sig, err := p.reader.Peek(4)
		if err != nil {
			p.terminate(err)
			return nil, io.EOF
		}
		if string(sig) != "OggS" {
			_, _ = p.reader.Discard(1)
			continue
		}
		if _, err := io.ReadFull(p.reader, p.header); err != nil {
			p.terminate(err)
			return nil, io.EOF
		}

		numSegs := int(p.header[26])
		segTable := p.segBuf[:numSegs]
		if _, err := io.ReadFull(p.reader, segTable); err != nil {
			p.terminate(err)
			return nil, io.EOF
		}

		for _, segLen := range segTable {
			l := int(segLen)
			if _, err := io.CopyN(&p.packetBuf, p.reader, int64(l)); err != nil {
				p.terminate(err)
				return nil, io.EOF
			}
			if l < 255 {
				payload := p.packetBuf.Bytes()
				frame := make([]byte, len(payload))
				copy(frame, payload)
				p.packetBuf.Reset()

				// Metadata packets are not audio.
				if len(frame) > 8 && (string(frame[:8]) == "OpusHead" || string(frame[:8]) == "OpusTags") {
					continue
				}
				p.queue = append(p.queue, frame)
			}
		}

		if len(p.queue) > 0 {
			frame := p.queue[0]
			p.queue = p.queue[1:]
			return frame, nil
		}
	}
}

// terminate maps the reader error onto the end/error terminal pair.
func (p *oggProvider) terminate(err error) {
	if p.detached.Load() {
		return
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF || err == io.ErrClosedPipe {
		p.finish(nil)
		return
	}
	p.finish(err)
}
