package player

import (
	"sync"

	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/hibiki/sys"
)

// EventKind enumerates what the orchestrator reports on its event stream.
type EventKind int

const (
	// EventError is a general orchestration failure.
	EventError EventKind = iota
	// EventConnectionTimeout fires when a transport connection never
	// established; the offending track is dropped.
	EventConnectionTimeout
	// EventStreamError fires on a mid-playback transport or stream failure;
	// the session advances past the failed track.
	EventStreamError
	// EventTrackStart fires when a track's stream attaches to a connection.
	EventTrackStart
	// EventQueueEnd fires when a session runs out of queued tracks.
	EventQueueEnd
	// EventSessionDestroyed fires once per session, on the terminal
	// transition.
	EventSessionDestroyed
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionTimeout:
		return "connection_timeout"
	case EventStreamError:
		return "stream_error"
	case EventTrackStart:
		return "track_start"
	case EventQueueEnd:
		return "queue_end"
	case EventSessionDestroyed:
		return "session_destroyed"
	default:
		return "error"
	}
}

// Event is one entry on the orchestrator's observability stream.
type Event struct {
	Kind  EventKind
	Key   snowflake.ID
	Track *Track
	Err   error
}

// eventBus fans events out to subscribed observers. Error-category events
// emitted with zero observers are reported through the logger instead of
// being dropped, so operators cannot miss fatal conditions.
type eventBus struct {
	mu   sync.RWMutex
	subs map[int]func(Event)
	next int
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]func(Event))}
}

// subscribe registers an observer and returns its cancel func.
func (b *eventBus) subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *eventBus) emit(ev Event) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	if len(fns) == 0 {
		switch ev.Kind {
		case EventError, EventConnectionTimeout, EventStreamError:
			sys.LogWarn("Unobserved %s event for %s: %v", ev.Kind, ev.Key, ev.Err)
		}
		return
	}
	for _, fn := range fns {
		fn(ev)
	}
}
