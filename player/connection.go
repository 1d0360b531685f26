package player

import (
	"context"
	"sync"

	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/hibiki/sys"
)

// OpusFrameProvider mirrors the transport's frame-pull contract so the
// Discord adapter can hand a provider straight to its voice connection.
type OpusFrameProvider interface {
	ProvideOpusFrame() ([]byte, error)
	Close()
}

// Conn is one live transport connection. Satisfied by the Discord adapter
// around disgo's voice.Conn, and by in-memory fakes in tests.
type Conn interface {
	SetOpusFrameProvider(p OpusFrameProvider)
	SetSpeaking(ctx context.Context, speaking bool) error
	Close(ctx context.Context)
}

// Connector is the platform collaborator that establishes transport
// connections for a destination key.
type Connector interface {
	OpenConn(ctx context.Context, key snowflake.ID, deafened bool) (Conn, error)
}

// connEntry is one destination's slot in the registry. ready is closed once
// the connection attempt finished, with either d or err set; callers for the
// same key wait on it instead of re-dialing.
type connEntry struct {
	ready chan struct{}
	d     *Dispatcher
	err   error
}

// ConnectionRegistry maps a destination key to its live connection and
// dispatcher, enforcing at most one active connection per destination.
// Destinations are independent: a connection attempt for one key never
// blocks calls for another.
type ConnectionRegistry struct {
	connector Connector
	smoothing float64

	mu      sync.Mutex
	entries map[snowflake.ID]*connEntry
}

func NewConnectionRegistry(connector Connector, smoothing float64) *ConnectionRegistry {
	return &ConnectionRegistry{
		connector: connector,
		smoothing: smoothing,
		entries:   make(map[snowflake.ID]*connEntry),
	}
}

// Connect returns the dispatcher for key, opening a new transport connection
// if none exists. The join is idempotent: concurrent calls for the same key
// share one dial, and a second call returns the existing dispatcher
// unchanged. The lock covers only the map; the dial itself runs outside it.
func (r *ConnectionRegistry) Connect(ctx context.Context, key snowflake.ID, deafened bool) (*Dispatcher, error) {
	r.mu.Lock()
	if e, ok := r.entries[key]; ok {
		r.mu.Unlock()
		select {
		case <-e.ready:
			return e.d, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.connector == nil {
		r.mu.Unlock()
		return nil, ErrNotConnected
	}
	e := &connEntry{ready: make(chan struct{})}
	r.entries[key] = e
	r.mu.Unlock()

	conn, err := r.connector.OpenConn(ctx, key, deafened)

	r.mu.Lock()
	current := r.entries[key] == e
	if err != nil {
		if current {
			delete(r.entries, key)
		}
		r.mu.Unlock()
		e.err = err
		close(e.ready)
		return nil, err
	}
	if !current {
		// Disconnected while the dial was in flight; nobody else will close
		// this connection.
		r.mu.Unlock()
		e.err = ErrNotConnected
		close(e.ready)
		d := newDispatcher(key, conn, r.smoothing)
		d.close(context.Background())
		return nil, ErrNotConnected
	}
	e.d = newDispatcher(key, conn, r.smoothing)
	r.mu.Unlock()
	close(e.ready)
	sys.LogVoice("Connected to destination %s", key)
	return e.d, nil
}

// Dispatcher returns the established dispatcher for key, if any. An entry
// still connecting reports nil.
func (r *ConnectionRegistry) Dispatcher(key snowflake.ID) *Dispatcher {
	r.mu.Lock()
	e := r.entries[key]
	r.mu.Unlock()
	if e == nil {
		return nil
	}
	select {
	case <-e.ready:
		return e.d
	default:
		return nil
	}
}

// Disconnect tears down the transport connection for key and removes the
// entry. No-op if absent. A dial still in flight is abandoned to its opener,
// which observes the removed entry and closes the connection itself.
func (r *ConnectionRegistry) Disconnect(ctx context.Context, key snowflake.ID) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-e.ready:
		if e.d != nil {
			e.d.close(ctx)
			sys.LogVoice("Disconnected from destination %s", key)
		}
	default:
	}
}
