package player

import "errors"

var (
	// ErrInvalidArgument covers malformed search queries and options.
	// Surfaced synchronously, never retried.
	ErrInvalidArgument = errors.New("player: invalid argument")

	// ErrUnknownResolver is returned when search options name a resolver
	// that was never registered.
	ErrUnknownResolver = errors.New("player: unknown resolver")

	// ErrInvalidResolver is raised at registration time when a resolver
	// does not satisfy the capability contract.
	ErrInvalidResolver = errors.New("player: invalid resolver")

	// ErrSessionDestroyed is returned by every session operation after the
	// terminal transition.
	ErrSessionDestroyed = errors.New("player: session destroyed")

	// ErrNotConnected is returned when a connection is required but the
	// platform collaborator could not supply one.
	ErrNotConnected = errors.New("player: not connected")

	// ErrConnectTimeout marks a transport connection that never established
	// before the deadline.
	ErrConnectTimeout = errors.New("player: connection timed out")

	// ErrNoStream means no playable media URL could be resolved for a track.
	ErrNoStream = errors.New("player: no playable stream")
)
