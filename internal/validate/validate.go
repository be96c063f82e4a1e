// Package validate enforces topic-naming and payload-size rules at the
// ingestion edge. All checks are stateless; failures carry
// fault.ValidationFailed and are never retried.
package validate

import (
	"regexp"
	"strings"

	"github.com/tidalhq/tidal/internal/fault"
)

const (
	// MaxTopicLen bounds topic names.
	MaxTopicLen = 128
	// MaxTypeLen bounds event type names.
	MaxTypeLen = 128
	// DLQPrefix marks dead-letter logs. Producers cannot publish to them
	// directly; they are written only by the dead-letter router.
	DLQPrefix = "dlq/"
)

// topicRe: lowercase segments of [a-z0-9._-], starting alphanumeric.
var topicRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Topic checks a topic name for publishing. Dead-letter topics are rejected
// here; ReplayTopic admits them for inspection.
func Topic(topic string) error {
	if strings.HasPrefix(topic, DLQPrefix) {
		return fault.New(fault.ValidationFailed, "topic %q is a dead-letter log", topic)
	}
	return topicName(topic)
}

// ReplayTopic checks a topic name for subscription or replay, where
// dead-letter logs are legal targets.
func ReplayTopic(topic string) error {
	if name, ok := strings.CutPrefix(topic, DLQPrefix); ok {
		if err := topicName(name); err != nil {
			return fault.New(fault.ValidationFailed, "malformed dead-letter topic %q", topic)
		}
		return nil
	}
	return topicName(topic)
}

func topicName(topic string) error {
	if topic == "" {
		return fault.New(fault.ValidationFailed, "topic is required")
	}
	if len(topic) > MaxTopicLen {
		return fault.New(fault.ValidationFailed, "topic exceeds %d characters", MaxTopicLen)
	}
	if !topicRe.MatchString(topic) {
		return fault.New(fault.ValidationFailed, "topic %q contains invalid characters", topic)
	}
	return nil
}

// EventType checks the optional event type label.
func EventType(eventType string) error {
	if eventType == "" {
		return nil
	}
	if len(eventType) > MaxTypeLen {
		return fault.New(fault.ValidationFailed, "event type exceeds %d characters", MaxTypeLen)
	}
	if !topicRe.MatchString(eventType) {
		return fault.New(fault.ValidationFailed, "event type %q contains invalid characters", eventType)
	}
	return nil
}

// Payload checks the payload against the caller's size ceiling.
func Payload(payload []byte, maxBytes int) error {
	if len(payload) == 0 {
		return fault.New(fault.ValidationFailed, "payload is required")
	}
	if maxBytes > 0 && len(payload) > maxBytes {
		return fault.New(fault.ValidationFailed, "payload of %d bytes exceeds limit of %d", len(payload), maxBytes)
	}
	return nil
}
