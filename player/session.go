package player

import (
	"context"
	"errors"
	"io"
	"math"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/hibiki/sys"
)

// SessionState is the playback state machine's position.
type SessionState int

const (
	// StateIdle means nothing is streaming; the queue may be non-empty.
	StateIdle SessionState = iota
	// StateConnecting means a transport connection was requested but has not
	// established yet.
	StateConnecting
	StatePlaying
	StatePaused
	// StateDestroyed is terminal.
	StateDestroyed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateDestroyed:
		return "destroyed"
	default:
		return "idle"
	}
}

// RepeatMode controls what happens to a track after its stream ends.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	// RepeatTrack re-enqueues the finished track at the head.
	RepeatTrack
	// RepeatQueue appends the finished track to the tail.
	RepeatQueue
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatTrack:
		return "track"
	case RepeatQueue:
		return "queue"
	default:
		return "off"
	}
}

// Session is the per-destination playback state machine. All state lives in
// the run loop goroutine and is touched only there; callers talk to it
// through an ordered inbox, so no two transitions ever interleave.
type Session struct {
	Key snowflake.ID
	// Meta is caller-supplied and never inspected.
	Meta any

	o     *Orchestrator
	inbox chan func()
	done  chan struct{}

	// Everything below is owned by run().
	state      SessionState
	queue      []*Track
	current    *Track
	dispatcher *Dispatcher
	repeat     RepeatMode
	volume     float64
	idleTimer  *time.Timer
	// Generation counters invalidate stale async results: a stream-ready,
	// stream-done or connection result carrying an old sequence is ignored.
	playSeq uint64
	connSeq uint64
}

func newSession(o *Orchestrator, key snowflake.ID, meta any) *Session {
	return &Session{
		Key:    key,
		Meta:   meta,
		o:      o,
		inbox:  make(chan func()),
		done:   make(chan struct{}),
		volume: o.opts.DefaultVolume,
	}
}

// run is the session's single owner goroutine. It exits on the terminal
// transition; blocked senders fall through to their done case.
func (s *Session) run() {
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.idleC():
			s.onIdleTimeout()
		}
		if s.state == StateDestroyed {
			return
		}
	}
}

func (s *Session) idleC() <-chan time.Time {
	if s.idleTimer == nil {
		return nil
	}
	return s.idleTimer.C
}

// post runs fn on the session goroutine and waits for its result. Fails with
// ErrSessionDestroyed once the session reached its terminal state.
func (s *Session) post(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- func() { reply <- fn() }:
	case <-s.done:
		return ErrSessionDestroyed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		// The terminal transition may have run fn first.
		select {
		case err := <-reply:
			return err
		default:
			return ErrSessionDestroyed
		}
	}
}

// postAsync delivers an internal event without waiting. Dropped silently
// after destruction.
func (s *Session) postAsync(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}

// Enqueue appends tracks to the pending queue and starts playback if the
// session is idle.
func (s *Session) Enqueue(tracks ...*Track) error {
	if len(tracks) == 0 {
		return ErrInvalidArgument
	}
	for _, t := range tracks {
		if t == nil {
			return ErrInvalidArgument
		}
	}
	return s.post(func() error {
		s.queue = append(s.queue, tracks...)
		s.advance()
		return nil
	})
}

// Skip abandons the current track without a terminal event and advances to
// the next queued track. Repeat mode does not re-enqueue a skipped track.
func (s *Session) Skip() error {
	return s.post(func() error {
		if s.current != nil {
			s.playSeq++
			s.dispatcher.Stop()
			s.current = nil
		}
		s.advance()
		return nil
	})
}

// Pause suspends playback. Buffered audio is kept; Resume continues from the
// same position.
func (s *Session) Pause() error {
	return s.post(func() error {
		switch s.state {
		case StatePlaying:
			s.dispatcher.Pause()
			s.state = StatePaused
			return nil
		case StatePaused:
			return nil
		default:
			return ErrNotConnected
		}
	})
}

// Resume continues suspended playback.
func (s *Session) Resume() error {
	return s.post(func() error {
		switch s.state {
		case StatePaused:
			s.dispatcher.Resume()
			s.state = StatePlaying
			return nil
		case StatePlaying:
			return nil
		default:
			return ErrNotConnected
		}
	})
}

// SetVolume adjusts output gain, clamped to [0, 2]. Applied to the active
// stream immediately, otherwise stored for the next attach.
func (s *Session) SetVolume(level float64) error {
	return s.post(func() error {
		s.volume = math.Max(0, math.Min(2, level))
		if s.dispatcher != nil {
			s.dispatcher.SetVolume(s.volume)
		}
		return nil
	})
}

// SetRepeatMode selects what happens to tracks whose stream ends normally.
func (s *Session) SetRepeatMode(m RepeatMode) error {
	if m < RepeatOff || m > RepeatQueue {
		return ErrInvalidArgument
	}
	return s.post(func() error {
		s.repeat = m
		return nil
	})
}

// MembershipChanged feeds the destination channel's membership into the idle
// policy: an empty channel arms the idle timer, a non-empty one disarms it.
func (s *Session) MembershipChanged(empty bool) error {
	return s.post(func() error {
		if empty {
			if s.idleTimer == nil {
				s.idleTimer = time.NewTimer(s.o.opts.IdleTimeout)
			}
			return nil
		}
		if s.idleTimer != nil {
			s.idleTimer.Stop()
			s.idleTimer = nil
		}
		return nil
	})
}

// Destroy runs the terminal transition. Safe to call concurrently with the
// idle timer firing; exactly one effects the transition, later calls fail
// with ErrSessionDestroyed.
func (s *Session) Destroy() error {
	return s.post(func() error {
		s.destroy()
		return nil
	})
}

// State reports the current machine state.
func (s *Session) State() SessionState {
	st := StateDestroyed
	_ = s.post(func() error { st = s.state; return nil })
	return st
}

// Current returns the currently playing track, or nil.
func (s *Session) Current() *Track {
	var t *Track
	_ = s.post(func() error { t = s.current; return nil })
	return t
}

// Queue returns a snapshot of the pending tracks.
func (s *Session) Queue() []*Track {
	var out []*Track
	_ = s.post(func() error {
		out = make([]*Track, len(s.queue))
		copy(out, s.queue)
		return nil
	})
	return out
}

// Volume returns the stored gain target.
func (s *Session) Volume() float64 {
	v := 0.0
	_ = s.post(func() error { v = s.volume; return nil })
	return v
}

// Repeat returns the active repeat mode.
func (s *Session) Repeat() RepeatMode {
	m := RepeatOff
	_ = s.post(func() error { m = s.repeat; return nil })
	return m
}

// SessionRecord is the plain serialized form of a session, for status
// reporting.
type SessionRecord struct {
	Key     snowflake.ID  `json:"key"`
	State   string        `json:"state"`
	Volume  float64       `json:"volume"`
	Repeat  string        `json:"repeat"`
	Current *TrackRecord  `json:"current,omitempty"`
	Queue   []TrackRecord `json:"queue"`
}

// Serialize snapshots the session to a plain record, optionally omitting
// nested playlist detail on each track.
func (s *Session) Serialize(withPlaylist bool) (SessionRecord, error) {
	var rec SessionRecord
	err := s.post(func() error {
		rec = SessionRecord{
			Key:    s.Key,
			State:  s.state.String(),
			Volume: s.volume,
			Repeat: s.repeat.String(),
			Queue:  make([]TrackRecord, 0, len(s.queue)),
		}
		if s.current != nil {
			cr := s.current.Record(withPlaylist)
			rec.Current = &cr
		}
		for _, t := range s.queue {
			rec.Queue = append(rec.Queue, t.Record(withPlaylist))
		}
		return nil
	})
	return rec, err
}

// advance pulls the next queued track into playback. No-op while a track is
// current, while connecting, or after destruction.
func (s *Session) advance() {
	if s.state == StateDestroyed || s.state == StateConnecting || s.current != nil {
		return
	}
	if len(s.queue) == 0 {
		s.state = StateIdle
		return
	}
	if s.dispatcher == nil {
		s.startConnecting()
		return
	}

	track := s.queue[0]
	s.queue = s.queue[1:]
	s.current = track
	s.state = StatePlaying
	if s.dispatcher.Paused() {
		s.state = StatePaused
	}
	s.playSeq++
	seq := s.playSeq
	go func() {
		rc, err := track.OpenStream(context.Background())
		s.postAsync(func() { s.onStreamReady(seq, track, rc, err) })
	}()
}

// startConnecting requests the transport connection off-loop, bounded by the
// connect timeout.
func (s *Session) startConnecting() {
	s.state = StateConnecting
	s.connSeq++
	seq := s.connSeq
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.o.opts.ConnectTimeout)
		defer cancel()
		d, err := s.o.conns.Connect(ctx, s.Key, s.o.opts.Deafened)
		s.postAsync(func() { s.onConnected(seq, d, err) })
	}()
}

// onConnected resumes the advance that triggered the connection attempt. On
// failure the head-of-queue track is dropped, not re-enqueued.
func (s *Session) onConnected(seq uint64, d *Dispatcher, err error) {
	if seq != s.connSeq || s.state != StateConnecting {
		return
	}
	if err != nil {
		var dropped *Track
		if len(s.queue) > 0 {
			dropped = s.queue[0]
			s.queue = s.queue[1:]
		}
		s.state = StateIdle
		kind := EventError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrConnectTimeout) {
			err = ErrConnectTimeout
			kind = EventConnectionTimeout
		}
		s.o.emit(Event{Kind: kind, Key: s.Key, Track: dropped, Err: err})
		s.advance()
		return
	}
	s.dispatcher = d
	d.SetVolume(s.volume)
	s.state = StateIdle
	s.advance()
}

// onStreamReady attaches the opened stream, or skips past a track whose
// stream could not be opened.
func (s *Session) onStreamReady(seq uint64, track *Track, rc io.ReadCloser, err error) {
	if seq != s.playSeq || s.state == StateDestroyed || s.current != track {
		if rc != nil {
			_ = rc.Close()
		}
		return
	}
	if err != nil {
		s.current = nil
		s.o.emit(Event{Kind: EventStreamError, Key: s.Key, Track: track, Err: err})
		s.continueAfter()
		return
	}
	s.dispatcher.Attach(rc, func(streamErr error) {
		// Called from the transport's frame loop; hand off so the loop is
		// never blocked on the session inbox.
		go s.postAsync(func() { s.onStreamDone(seq, streamErr) })
	})
	s.o.emit(Event{Kind: EventTrackStart, Key: s.Key, Track: track})
	sys.LogPlayer("Playing %s for %s", track.Title, s.Key)
}

// onStreamDone handles the stream's single terminal event: silent
// progression on end, a reported error and progression on failure.
func (s *Session) onStreamDone(seq uint64, err error) {
	if seq != s.playSeq || s.state == StateDestroyed || s.current == nil {
		return
	}
	finished := s.current
	s.current = nil
	if err != nil {
		s.o.emit(Event{Kind: EventStreamError, Key: s.Key, Track: finished, Err: err})
	} else {
		switch s.repeat {
		case RepeatTrack:
			s.queue = append([]*Track{finished}, s.queue...)
		case RepeatQueue:
			s.queue = append(s.queue, finished)
		}
	}
	s.continueAfter()
}

// continueAfter advances past a finished track, reporting queue exhaustion.
func (s *Session) continueAfter() {
	if len(s.queue) == 0 {
		s.state = StateIdle
		s.o.emit(Event{Kind: EventQueueEnd, Key: s.Key})
		return
	}
	s.advance()
}

// onIdleTimeout fires the idle-membership policy: tear down only when truly
// quiescent, otherwise check again after another idle window.
func (s *Session) onIdleTimeout() {
	s.idleTimer = nil
	if s.current == nil && len(s.queue) == 0 {
		sys.LogPlayer("Idle timeout for %s", s.Key)
		s.destroy()
		return
	}
	s.idleTimer = time.NewTimer(s.o.opts.IdleTimeout)
}

// destroy is the terminal transition. Idempotent on the session goroutine.
func (s *Session) destroy() {
	if s.state == StateDestroyed {
		return
	}
	s.state = StateDestroyed
	s.playSeq++
	s.connSeq++
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.queue = nil
	s.current = nil
	s.dispatcher = nil
	s.o.conns.Disconnect(context.Background(), s.Key)
	s.o.removeSession(s)
	close(s.done)
	s.o.emit(Event{Kind: EventSessionDestroyed, Key: s.Key})
	sys.LogPlayer("Session destroyed for %s", s.Key)
}
