package publisher

import (
	"sync"

	"github.com/nerrad567/simplepub/internal/infrastructure/logging"
)

// Status is the process exit status of a run.
type Status int

const (
	// StatusSuccess means the message was handed to the broker.
	StatusSuccess Status = 0

	// StatusFailure means some step of the run failed.
	StatusFailure Status = 1
)

// String returns the status name.
func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "failure"
}

// Shutdown is the single teardown funnel of a run. Resources are
// registered as they come up; Run releases whatever was registered.
type Shutdown struct {
	logger *logging.Logger

	mu      sync.Mutex
	conn    Transport
	session *Session
	loop    *SyncLoop

	once   sync.Once
	status Status
}

// NewShutdown creates an empty funnel.
func NewShutdown(logger *logging.Logger) *Shutdown {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Shutdown{logger: logger.With("component", "shutdown")}
}

// SetTransport registers the open transport.
func (s *Shutdown) SetTransport(conn Transport) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// SetSession registers the session used for a graceful DISCONNECT.
func (s *Shutdown) SetSession(session *Session) {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
}

// SetLoop registers the running sync loop.
func (s *Shutdown) SetLoop(loop *SyncLoop) {
	s.mu.Lock()
	s.loop = loop
	s.mu.Unlock()
}

// Run tears the run down and returns the exit status.
//
// The steps are: stop and join the sync loop, send DISCONNECT when status
// is StatusSuccess, then close the transport. Only registered resources
// are touched. The whole sequence executes once; later calls block until
// it has finished and return the first caller's status.
func (s *Shutdown) Run(status Status) Status {
	s.once.Do(func() {
		s.status = status

		s.mu.Lock()
		conn, session, loop := s.conn, s.session, s.loop
		s.mu.Unlock()

		if loop != nil {
			if err := loop.Stop(); err != nil {
				s.logger.Debug("sync loop had stopped on its own", "error", err)
			}
		}

		if status == StatusSuccess && session != nil && conn != nil && conn.IsOpen() {
			if err := session.Disconnect(); err != nil {
				s.logger.Warn("graceful disconnect failed", "error", err)
			}
		}

		if conn != nil && conn.IsOpen() {
			if err := conn.Close(); err != nil {
				s.logger.Warn("closing transport", "error", err)
			}
		}

		s.logger.Debug("shutdown complete", "status", status.String())
	})
	return s.status
}
