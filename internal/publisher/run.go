package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/simplepub/internal/infrastructure/logging"
	"github.com/nerrad567/simplepub/internal/infrastructure/mqtt"
)

// DefaultPublishWait is how long a run keeps the sync loop going after
// the PUBLISH was enqueued.
const DefaultPublishWait = time.Second

// recordTimeout bounds each Recorder call.
const recordTimeout = 5 * time.Second

// Opener opens the broker connection.
type Opener func(ctx context.Context) (Transport, error)

// Runner holds everything one run needs.
type Runner struct {
	// Open dials the broker. Required.
	Open Opener

	// Broker is the broker address, used for reporting only.
	Broker string

	// SendCapacity and RecvCapacity size the session arenas.
	SendCapacity int
	RecvCapacity int

	// Session tunes the engine (ack timeout, retries, I/O poll).
	Session []SessionOption

	// Connect is the CONNECT request.
	Connect mqtt.ConnectOptions

	// SyncPeriod is the loop period. Default: DefaultSyncPeriod.
	SyncPeriod time.Duration

	// PublishWait is the pause between enqueueing PUBLISH and shutting
	// down. Default: DefaultPublishWait. Negative means no wait.
	PublishWait time.Duration

	// OnMessage receives inbound PUBLISH frames (optional).
	OnMessage mqtt.MessageHandler

	// Recorders receive the final report (optional).
	Recorders []Recorder

	// Logger for run events (nil discards).
	Logger *logging.Logger
}

// Run performs one publish and tears everything down. Cancelling ctx
// during the post-publish wait ends the run with StatusFailure.
//
// The returned report always carries the exit status; Err is nil only on
// success.
func (r *Runner) Run(ctx context.Context, req PublishRequest) Report {
	logger := r.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	report := Report{
		RunID:       uuid.NewString(),
		StartedAt:   time.Now(),
		Broker:      r.Broker,
		ClientID:    r.Connect.ClientID,
		Topic:       req.Topic,
		QoS:         req.QoS,
		Retain:      req.Retain,
		PayloadSize: len(req.Payload),
	}
	logger = logger.With("run_id", report.RunID)

	shutdown := NewShutdown(logger)
	var (
		session *Session
		loop    *SyncLoop
	)

	finish := func(status Status, err error) Report {
		report.Status = shutdown.Run(status)
		// The loop may have failed between the final check and its join,
		// or the DISCONNECT flush may have poisoned the session.
		if report.Status == StatusSuccess && session != nil {
			if kind := session.LastError(); kind != mqtt.KindOK {
				report.Status = StatusFailure
				err = fmt.Errorf("%w: session state %s: %w", ErrProtocol, kind, session.Err())
			}
		}
		report.Err = err
		report.Duration = time.Since(report.StartedAt)
		if session != nil {
			report.ErrorKind = session.LastError()
			report.Connected = session.Connected()
			report.SessionPresent = session.SessionPresent()
			report.Pending = session.Pending()
			report.Stats = session.Stats()
		}
		if loop != nil {
			report.Iterations = loop.Iterations()
		}
		r.record(logger, report)

		if err != nil {
			logger.Debug("publish failed", "error", err, "duration", report.Duration)
		} else {
			logger.Info("publish complete",
				"topic", report.Topic,
				"qos", report.QoS,
				"duration", report.Duration)
		}
		return report
	}

	if r.Open == nil {
		return finish(StatusFailure, fmt.Errorf("%w: no opener configured", ErrTransport))
	}
	conn, err := r.Open(ctx)
	if err != nil {
		return finish(StatusFailure, fmt.Errorf("%w: %w", ErrTransport, err))
	}
	shutdown.SetTransport(conn)
	logger.Debug("transport open", "broker", r.Broker)

	session, err = NewSession(conn, r.SendCapacity, r.RecvCapacity, r.OnMessage, r.Session...)
	if err != nil {
		return finish(StatusFailure, err)
	}
	shutdown.SetSession(session)

	if err := session.Connect(r.Connect); err != nil {
		return finish(StatusFailure, err)
	}

	period := r.SyncPeriod
	if period == 0 {
		period = DefaultSyncPeriod
	}
	loop, err = StartSyncLoop(session, conn, period, logger)
	if err != nil {
		return finish(StatusFailure, err)
	}
	shutdown.SetLoop(loop)

	if err := Publish(session, req); err != nil {
		return finish(StatusFailure, err)
	}
	logger.Debug("publish enqueued", "topic", req.Topic, "qos", req.QoS, "bytes", len(req.Payload))

	if err := r.wait(ctx, loop); err != nil {
		return finish(StatusFailure, err)
	}

	if kind := session.LastError(); kind != mqtt.KindOK {
		return finish(StatusFailure, fmt.Errorf("%w: session state %s: %w", ErrProtocol, kind, session.Err()))
	}
	if !session.Connected() {
		return finish(StatusFailure, fmt.Errorf("%w: no CONNACK within %v", ErrProtocol, r.publishWait()))
	}
	if buffered := session.Buffered(); buffered > 0 {
		logger.Warn("publish not yet written", "bytes", buffered)
	}
	if pending := session.Pending(); pending > 0 {
		logger.Warn("publish not yet acknowledged", "pending", pending)
	}

	return finish(StatusSuccess, nil)
}

func (r *Runner) publishWait() time.Duration {
	switch {
	case r.PublishWait == 0:
		return DefaultPublishWait
	case r.PublishWait < 0:
		return 0
	default:
		return r.PublishWait
	}
}

// wait holds the foreground for the post-publish wait. It returns early
// when the loop stops on its own or ctx is cancelled.
func (r *Runner) wait(ctx context.Context, loop *SyncLoop) error {
	timer := time.NewTimer(r.publishWait())
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-loop.Done():
		err := loop.Err()
		if errors.Is(err, ErrTransport) {
			return err
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		return fmt.Errorf("%w: sync loop exited early", ErrProtocol)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) record(logger *logging.Logger, report Report) {
	for _, rec := range r.Recorders {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := rec.Record(ctx, report); err != nil {
			logger.Warn("recording run report", "error", err)
		}
		cancel()
	}
}
