package mqtt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxTopicLength is the longest topic an MQTT UTF-8 string can carry.
const maxTopicLength = 65535

// ValidatePublishTopic checks that topic is usable as a PUBLISH topic name.
//
// A publish topic must be non-empty, at most 65535 bytes, valid UTF-8,
// free of NUL characters and must not contain the '+' or '#' wildcards,
// which are only legal in subscription filters.
func ValidatePublishTopic(topic string) error {
	switch {
	case topic == "":
		return fmt.Errorf("%w: topic is empty", ErrInvalidTopic)
	case len(topic) > maxTopicLength:
		return fmt.Errorf("%w: topic is %d bytes, limit %d", ErrInvalidTopic, len(topic), maxTopicLength)
	case !utf8.ValidString(topic):
		return fmt.Errorf("%w: topic is not valid UTF-8", ErrInvalidTopic)
	case strings.ContainsRune(topic, 0):
		return fmt.Errorf("%w: topic contains NUL", ErrInvalidTopic)
	case strings.ContainsAny(topic, "+#"):
		return fmt.Errorf("%w: wildcards are not allowed in %q", ErrInvalidTopic, topic)
	}
	return nil
}
