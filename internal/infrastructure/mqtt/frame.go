package mqtt

import (
	"bytes"
	"fmt"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// maxRemainingLengthBytes is the longest legal Remaining Length encoding.
const maxRemainingLengthBytes = 4

// encodeFrame serialises a control packet into a standalone byte slice.
func encodeFrame(cp packets.ControlPacket) ([]byte, error) {
	var buf bytes.Buffer
	if err := cp.Write(&buf); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", packetName(cp), err)
	}
	return buf.Bytes(), nil
}

// frameLength inspects the fixed header at the start of b.
//
// It returns the total frame length (fixed header + remaining length)
// and whether b already holds the whole frame. A Remaining Length field
// longer than four bytes is a malformed frame.
func frameLength(b []byte) (total int, complete bool, err error) {
	remaining := 0
	multiplier := 1
	for i := 1; i < len(b); i++ {
		if i > maxRemainingLengthBytes {
			return 0, false, fmt.Errorf("%w: remaining length exceeds %d bytes",
				ErrMalformedFrame, maxRemainingLengthBytes)
		}
		digit := b[i]
		remaining += int(digit&0x7f) * multiplier
		if digit&0x80 == 0 {
			total = 1 + i + remaining
			return total, len(b) >= total, nil
		}
		multiplier *= 128
	}
	if len(b) > maxRemainingLengthBytes+1 {
		return 0, false, fmt.Errorf("%w: remaining length exceeds %d bytes",
			ErrMalformedFrame, maxRemainingLengthBytes)
	}
	return 0, false, nil
}

// decodeFrame parses exactly one complete frame.
func decodeFrame(frame []byte) (packets.ControlPacket, error) {
	cp, err := packets.ReadPacket(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return cp, nil
}

// packetName returns the MQTT name of a control packet for logs and errors.
func packetName(cp packets.ControlPacket) string {
	if cp == nil {
		return "nil"
	}
	switch cp.(type) {
	case *packets.ConnectPacket:
		return "CONNECT"
	case *packets.ConnackPacket:
		return "CONNACK"
	case *packets.PublishPacket:
		return "PUBLISH"
	case *packets.PubackPacket:
		return "PUBACK"
	case *packets.PubrecPacket:
		return "PUBREC"
	case *packets.PubrelPacket:
		return "PUBREL"
	case *packets.PubcompPacket:
		return "PUBCOMP"
	case *packets.SubscribePacket:
		return "SUBSCRIBE"
	case *packets.SubackPacket:
		return "SUBACK"
	case *packets.UnsubscribePacket:
		return "UNSUBSCRIBE"
	case *packets.UnsubackPacket:
		return "UNSUBACK"
	case *packets.PingreqPacket:
		return "PINGREQ"
	case *packets.PingrespPacket:
		return "PINGRESP"
	case *packets.DisconnectPacket:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}
