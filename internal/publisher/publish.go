package publisher

import (
	"fmt"

	"github.com/nerrad567/simplepub/internal/infrastructure/mqtt"
)

// PublishRequest is the one message a run publishes.
type PublishRequest struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Validate checks the request without touching any session.
func (r PublishRequest) Validate() error {
	if err := mqtt.ValidatePublishTopic(r.Topic); err != nil {
		return err
	}
	if r.Payload == nil {
		return mqtt.ErrNilPayload
	}
	if r.QoS > 2 {
		return fmt.Errorf("%w: got %d", mqtt.ErrInvalidQoS, r.QoS)
	}
	return nil
}

// Publish enqueues req on the session and returns at once; the frame
// reaches the broker on the next sync iteration. Acknowledgement of
// QoS 1/2 is tracked by the engine, so callers check LastError after
// the post-publish wait.
//
// An invalid request is rejected before the session is touched. A failed
// enqueue also moves the session out of mqtt.KindOK.
func Publish(s *Session, req PublishRequest) error {
	if s == nil {
		return fmt.Errorf("%w: session is nil", ErrInit)
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: publish: %w", ErrProtocol, err)
	}
	if _, err := s.publish(req); err != nil {
		return fmt.Errorf("%w: publish: %w", ErrProtocol, err)
	}
	return nil
}
