package publisher

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/simplepub/internal/infrastructure/logging"
)

// DefaultSyncPeriod is the interval between two sync iterations.
const DefaultSyncPeriod = 100 * time.Millisecond

// Syncer drives one round of protocol I/O.
type Syncer interface {
	Sync() error
}

// Validity reports whether the transport can still be used.
type Validity interface {
	IsOpen() bool
}

// LoopState is the lifecycle state of a SyncLoop.
type LoopState int32

const (
	// LoopRunning is the initial state.
	LoopRunning LoopState = iota

	// LoopStopped is terminal. It is reached through Stop, a fatal Sync
	// error, or a closed transport.
	LoopStopped
)

// String returns the state name.
func (s LoopState) String() string {
	switch s {
	case LoopRunning:
		return "running"
	case LoopStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// errTransportClosed is stored when the loop finds the transport closed
// underneath it.
var errTransportClosed = errors.New("transport closed")

// SyncLoop calls Sync on a fixed period until it is stopped or Sync fails.
type SyncLoop struct {
	syncer   Syncer
	validity Validity
	period   time.Duration
	logger   *logging.Logger

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	exited   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	state      atomic.Int32
	iterations atomic.Uint64

	errMu sync.Mutex
	err   error
}

// StartSyncLoop starts the loop goroutine. The first iteration runs
// immediately.
//
// Parameters:
//   - syncer: Usually the *Session
//   - validity: The transport the session runs over
//   - period: Interval between iterations, must be positive
//   - logger: Logger for loop lifecycle events (nil discards)
//
// Returns:
//   - *SyncLoop: Running loop; call Stop to end it
//   - error: Wraps ErrLoopStart
func StartSyncLoop(syncer Syncer, validity Validity, period time.Duration, logger *logging.Logger) (*SyncLoop, error) {
	if syncer == nil {
		return nil, fmt.Errorf("%w: syncer is nil", ErrLoopStart)
	}
	if validity == nil {
		return nil, fmt.Errorf("%w: transport is nil", ErrLoopStart)
	}
	if period <= 0 {
		return nil, fmt.Errorf("%w: period %v must be positive", ErrLoopStart, period)
	}
	if !validity.IsOpen() {
		return nil, fmt.Errorf("%w: transport is closed", ErrLoopStart)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	l := &SyncLoop{
		syncer:   syncer,
		validity: validity,
		period:   period,
		logger:   logger.With("component", "syncloop"),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	l.state.Store(int32(LoopRunning))

	l.wg.Add(1)
	go l.run()

	l.logger.Debug("sync loop started", "period", period)
	return l, nil
}

func (l *SyncLoop) run() {
	defer l.wg.Done()
	defer close(l.exited)
	defer l.state.Store(int32(LoopStopped))

	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		default:
		}

		if !l.validity.IsOpen() {
			l.setErr(fmt.Errorf("%w: %w", ErrTransport, errTransportClosed))
			l.logger.Warn("sync loop stopped: transport closed")
			return
		}

		l.iterations.Add(1)
		if err := l.syncer.Sync(); err != nil {
			l.setErr(err)
			l.logger.Warn("sync loop stopped on engine error", "error", err)
			return
		}

		select {
		case <-l.done:
			return
		case <-ticker.C:
		}
	}
}

// Stop signals the loop and waits for the goroutine to exit.
// Safe to call multiple times; it returns the loop's error, if any.
func (l *SyncLoop) Stop() error {
	l.stopOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		l.logger.Debug("sync loop stopped", "iterations", l.iterations.Load())
	})
	return l.Err()
}

// Done is closed once the loop goroutine has exited for any reason.
func (l *SyncLoop) Done() <-chan struct{} {
	return l.exited
}

// State returns the current lifecycle state.
func (l *SyncLoop) State() LoopState {
	return LoopState(l.state.Load())
}

// Iterations returns how many times Sync has been called.
func (l *SyncLoop) Iterations() uint64 {
	return l.iterations.Load()
}

// Err returns the error that stopped the loop on its own, or nil.
func (l *SyncLoop) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

func (l *SyncLoop) setErr(err error) {
	l.errMu.Lock()
	l.err = err
	l.errMu.Unlock()
}
