package player

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/time/rate"

	"github.com/leeineian/hibiki/sys"
)

// Options configures an Orchestrator. Zero values pick the defaults below.
type Options struct {
	// Connector establishes transport connections. Required for playback;
	// search-only orchestrators may leave it nil.
	Connector Connector
	// IdleTimeout is how long a session survives after its destination
	// channel's membership empties out.
	IdleTimeout time.Duration
	// ConnectTimeout bounds transport connection establishment.
	ConnectTimeout time.Duration
	// VolumeSmoothing is the per-frame interpolation coefficient applied to
	// volume changes.
	VolumeSmoothing float64
	// DefaultVolume is the initial gain for new sessions, 1.0 = unity.
	DefaultVolume float64
	// SearchLimit caps ranked text-search results.
	SearchLimit int
	// Deafened requests a deafened transport connection.
	Deafened bool
	// HTTPClient serves the built-in handlers' plain HTTP lookups.
	HTTPClient *http.Client
}

const (
	defaultIdleTimeout    = 3 * time.Minute
	defaultConnectTimeout = 20 * time.Second
	defaultSmoothing      = 0.08
	defaultSearchLimit    = 25
)

// Orchestrator owns the resolver registry, the session table and the
// connection registry, and dispatches queries through the resolver chain.
type Orchestrator struct {
	opts    Options
	conns   *ConnectionRegistry
	bus     *eventBus
	limiter *rate.Limiter
	http    *http.Client

	mu        sync.RWMutex
	sessions  map[snowflake.ID]*Session
	resolvers []*registeredResolver
	byName    map[string]*registeredResolver
}

func New(opts Options) *Orchestrator {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.VolumeSmoothing <= 0 || opts.VolumeSmoothing > 1 {
		opts.VolumeSmoothing = defaultSmoothing
	}
	if opts.DefaultVolume <= 0 {
		opts.DefaultVolume = 1.0
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = defaultSearchLimit
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Orchestrator{
		opts:     opts,
		conns:    NewConnectionRegistry(opts.Connector, opts.VolumeSmoothing),
		bus:      newEventBus(),
		limiter:  rate.NewLimiter(rate.Limit(4), 10),
		http:     httpClient,
		sessions: make(map[snowflake.ID]*Session),
		byName:   make(map[string]*registeredResolver),
	}
}

// Subscribe registers an observer on the orchestrator's event stream and
// returns its cancel func. Error events emitted with zero observers are
// logged so fatal conditions cannot go missing.
func (o *Orchestrator) Subscribe(fn func(Event)) func() {
	return o.bus.subscribe(fn)
}

func (o *Orchestrator) emit(ev Event) { o.bus.emit(ev) }

// CreateSession returns the session bound to key, creating it if absent.
// Idempotent: concurrent calls for the same key yield the same session.
// A session that already reached its terminal state is replaced.
func (o *Orchestrator) CreateSession(key snowflake.ID, meta any) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()

	if s, ok := o.sessions[key]; ok {
		select {
		case <-s.done:
			delete(o.sessions, key)
		default:
			return s
		}
	}
	s := newSession(o, key, meta)
	o.sessions[key] = s
	go s.run()
	sys.LogPlayer("Session created for %s", key)
	return s
}

// Session returns the live session for key, or nil.
func (o *Orchestrator) Session(key snowflake.ID) *Session {
	o.mu.RLock()
	s, ok := o.sessions[key]
	o.mu.RUnlock()
	if !ok {
		return nil
	}
	select {
	case <-s.done:
		return nil
	default:
		return s
	}
}

// Sessions returns the live sessions only.
func (o *Orchestrator) Sessions() []*Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		select {
		case <-s.done:
		default:
			out = append(out, s)
		}
	}
	return out
}

// DeleteSession destroys the session bound to key. Idempotent: deleting an
// absent or already-destroyed session is a no-op.
func (o *Orchestrator) DeleteSession(key snowflake.ID) {
	o.mu.RLock()
	s := o.sessions[key]
	o.mu.RUnlock()
	if s != nil {
		_ = s.Destroy()
	}
}

// removeSession drops s from the table if it is still the registered entry.
// Called from the session's terminal transition.
func (o *Orchestrator) removeSession(s *Session) {
	o.mu.Lock()
	if o.sessions[s.Key] == s {
		delete(o.sessions, s.Key)
	}
	o.mu.Unlock()
}

// SearchOptions steers Search. Zero value requests automatic detection over
// the full chain.
type SearchOptions struct {
	// RequestedBy is stamped on every returned track.
	RequestedBy snowflake.ID
	// Resolver names one explicitly registered resolver; only that resolver
	// is tried, and a failed match yields an empty result rather than
	// falling through.
	Resolver string
	// Type overrides automatic query classification.
	Type QueryType
	// NoFallback stops the chain after the first matching resolver even if
	// it produced nothing.
	NoFallback bool
}

// SearchResult is the normalized outcome of one search.
type SearchResult struct {
	Playlist *Playlist
	Tracks   []*Track
}

// Search resolves a query into normalized tracks. A *Track query is
// returned wrapped immediately with no network access; a string query runs
// the resolver chain in registration order, short-circuiting on the first
// non-empty result, then falls back to the built-in source handlers
// selected by the detected or declared query kind.
func (o *Orchestrator) Search(ctx context.Context, query any, opts SearchOptions) (SearchResult, error) {
	switch q := query.(type) {
	case *Track:
		if q == nil {
			return SearchResult{}, fmt.Errorf("%w: nil track", ErrInvalidArgument)
		}
		return SearchResult{Tracks: []*Track{q}, Playlist: q.Playlist}, nil
	case string:
		if q == "" {
			return SearchResult{}, fmt.Errorf("%w: empty query", ErrInvalidArgument)
		}
		return o.searchString(ctx, q, opts)
	default:
		return SearchResult{}, fmt.Errorf("%w: query must be a string or *Track", ErrInvalidArgument)
	}
}

func (o *Orchestrator) searchString(ctx context.Context, query string, opts SearchOptions) (SearchResult, error) {
	if opts.Resolver != "" {
		entry, ok := o.namedResolver(opts.Resolver)
		if !ok {
			return SearchResult{}, fmt.Errorf("%w: %q", ErrUnknownResolver, opts.Resolver)
		}
		if !entry.resolver.Matches(query) {
			return SearchResult{}, nil
		}
		return o.runResolver(ctx, entry, query, opts.RequestedBy), nil
	}

	for _, entry := range o.resolverChain() {
		if !entry.resolver.Matches(query) {
			continue
		}
		res := o.runResolver(ctx, entry, query, opts.RequestedBy)
		if len(res.Tracks) > 0 || opts.NoFallback {
			return res, nil
		}
	}

	kind := opts.Type
	if kind == QueryAuto {
		kind = DetectQueryType(query)
	}
	return o.searchBuiltin(ctx, query, kind, opts.RequestedBy), nil
}

// runResolver invokes one resolver, absorbing its failure as an empty
// result. Resolution errors never propagate past this boundary.
func (o *Orchestrator) runResolver(ctx context.Context, entry *registeredResolver, query string, requestedBy snowflake.ID) SearchResult {
	set, err := entry.resolver.Resolve(ctx, query)
	if err != nil {
		sys.LogResolver("Resolver %q failed for %q: %v", entry.name, query, err)
		return SearchResult{}
	}
	for _, t := range set.Tracks {
		if t.RequestedBy == 0 {
			t.RequestedBy = requestedBy
		}
	}
	return SearchResult{Playlist: set.Playlist, Tracks: set.Tracks}
}
