package mqtt

import (
	"fmt"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Publish enqueues a PUBLISH frame. Bytes reach the broker on the next Sync.
//
// Parameters:
//   - topic: Concrete topic name (no wildcards)
//   - payload: Message body; may be empty but not nil
//   - qos: Quality of Service level (0, 1, or 2)
//   - retain: Whether the broker should retain the message for new subscribers
//
// QoS Levels:
//   - 0: At most once, nothing is tracked after the frame is queued
//   - 1: At least once, tracked until PUBACK
//   - 2: Exactly once, tracked through PUBREC/PUBREL/PUBCOMP
//
// Returns:
//   - uint16: Packet identifier (0 for QoS 0)
//   - error: Validation errors leave the engine healthy; a full send arena
//     puts the engine into KindArenaOverflow
func (e *Engine) Publish(topic string, payload []byte, qos byte, retain bool) (uint16, error) {
	if e.err != nil {
		return 0, e.err
	}
	if !e.connectSent {
		return 0, ErrNotConnecting
	}
	if err := ValidatePublishTopic(topic); err != nil {
		return 0, err
	}
	if qos > maxQoS {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidQoS, qos)
	}
	if payload == nil {
		return 0, ErrNilPayload
	}

	pub := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	pub.TopicName = topic
	pub.Payload = payload
	pub.Qos = qos
	pub.Retain = retain

	if qos > 0 {
		id, ok := e.inflight.allocateID()
		if !ok {
			return 0, ErrTooManyInflight
		}
		pub.MessageID = id
	}

	if err := e.enqueue(pub); err != nil {
		return 0, e.fail(err)
	}

	if qos > 0 {
		state := awaitingPuback
		if qos == 2 {
			state = awaitingPubrec
		}
		e.inflight.add(&pendingPublish{
			id:     pub.MessageID,
			packet: pub,
			state:  state,
			sentAt: e.now(),
		})
	}
	return pub.MessageID, nil
}
