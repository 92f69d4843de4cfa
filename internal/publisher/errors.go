package publisher

import "errors"

// Run failure classes. Each wraps the underlying cause with %w.
var (
	// ErrTransport is returned when the broker connection cannot be opened
	// or is no longer usable.
	ErrTransport = errors.New("publisher: transport error")

	// ErrInit is returned when a session cannot be created.
	ErrInit = errors.New("publisher: session init error")

	// ErrProtocol is returned when the engine rejects a CONNECT or PUBLISH
	// or reports a failed state after one.
	ErrProtocol = errors.New("publisher: protocol error")

	// ErrLoopStart is returned when the background sync loop cannot start.
	ErrLoopStart = errors.New("publisher: sync loop start error")
)
