package player

import (
	"context"
	"fmt"
)

// ResolvedSet is what a resolver produces for one query: zero or more
// normalized tracks, optionally grouped under a collection.
type ResolvedSet struct {
	Playlist *Playlist
	Tracks   []*Track
}

// Empty reports whether the set carries no tracks.
func (r ResolvedSet) Empty() bool { return len(r.Tracks) == 0 }

// Resolver maps a query to zero or more normalized tracks from one external
// source. Implementations own their network protocol; the orchestrator only
// sees the normalized result.
type Resolver interface {
	Matches(query string) bool
	Resolve(ctx context.Context, query string) (ResolvedSet, error)
}

type registeredResolver struct {
	name     string
	resolver Resolver
}

// Register adds a resolver under a unique name, validating the capability
// contract at registration time rather than at use time. Duplicate
// registration without overwrite is a no-op that returns the existing
// entry.
func (o *Orchestrator) Register(name string, r Resolver, overwrite bool) (Resolver, error) {
	if name == "" || r == nil {
		return nil, fmt.Errorf("%w: resolver %q", ErrInvalidResolver, name)
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.byName[name]; ok {
		if !overwrite {
			return existing.resolver, nil
		}
		existing.resolver = r
		return r, nil
	}
	entry := &registeredResolver{name: name, resolver: r}
	o.byName[name] = entry
	o.resolvers = append(o.resolvers, entry)
	return r, nil
}

// Unregister removes the named resolver. No-op if absent.
func (o *Orchestrator) Unregister(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.byName[name]
	if !ok {
		return
	}
	delete(o.byName, name)
	for i, e := range o.resolvers {
		if e == entry {
			o.resolvers = append(o.resolvers[:i], o.resolvers[i+1:]...)
			break
		}
	}
}

// resolverChain snapshots the registered resolvers in registration order.
func (o *Orchestrator) resolverChain() []*registeredResolver {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*registeredResolver, len(o.resolvers))
	copy(out, o.resolvers)
	return out
}

func (o *Orchestrator) namedResolver(name string) (*registeredResolver, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.byName[name]
	return e, ok
}
