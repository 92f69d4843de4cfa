// Package publisher runs one publish from start to finish.
//
// A run moves through a fixed sequence on the calling goroutine:
//
//	open transport → NewSession → Connect → StartSyncLoop → Publish → wait → Shutdown
//
// while a SyncLoop goroutine drives the session's I/O on a fixed period.
// Session serialises the foreground and the loop behind one mutex, the
// loop stops cooperatively and is joined before the transport closes, and
// every exit path goes through Shutdown.
//
// Errors are reported with four sentinels (ErrTransport, ErrInit,
// ErrProtocol, ErrLoopStart); use errors.Is to classify them.
package publisher
