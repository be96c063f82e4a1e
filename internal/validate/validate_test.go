package validate

import (
	"strings"
	"testing"

	"github.com/tidalhq/tidal/internal/fault"
)

func TestTopic(t *testing.T) {
	for _, topic := range []string{"orders", "orders.created", "a", "user_events-v2", "x9"} {
		if err := Topic(topic); err != nil {
			t.Errorf("Topic(%q) = %v, want nil", topic, err)
		}
	}
	bad := []string{
		"",
		"Orders",
		"-orders",
		".orders",
		"orders events",
		"orders/created",
		"dlq/orders",
		strings.Repeat("a", MaxTopicLen+1),
	}
	for _, topic := range bad {
		if err := Topic(topic); !fault.Is(err, fault.ValidationFailed) {
			t.Errorf("Topic(%q) = %v, want ValidationFailed", topic, err)
		}
	}
}

func TestReplayTopicAdmitsDLQ(t *testing.T) {
	if err := ReplayTopic("dlq/orders"); err != nil {
		t.Fatalf("dead-letter replay rejected: %v", err)
	}
	if err := ReplayTopic("orders"); err != nil {
		t.Fatalf("plain replay rejected: %v", err)
	}
	if err := ReplayTopic("dlq/Bad Topic"); !fault.Is(err, fault.ValidationFailed) {
		t.Fatalf("malformed dead-letter topic admitted: %v", err)
	}
}

func TestPayload(t *testing.T) {
	if err := Payload([]byte("x"), 10); err != nil {
		t.Fatalf("small payload rejected: %v", err)
	}
	if err := Payload(nil, 10); !fault.Is(err, fault.ValidationFailed) {
		t.Fatalf("empty payload admitted: %v", err)
	}
	if err := Payload(make([]byte, 11), 10); !fault.Is(err, fault.ValidationFailed) {
		t.Fatalf("oversized payload admitted: %v", err)
	}
	if err := Payload(make([]byte, 1<<20), 0); err != nil {
		t.Fatalf("zero limit should mean unlimited: %v", err)
	}
}

func TestEventType(t *testing.T) {
	if err := EventType(""); err != nil {
		t.Fatalf("empty type should be allowed: %v", err)
	}
	if err := EventType("order.created"); err != nil {
		t.Fatalf("valid type rejected: %v", err)
	}
	if err := EventType("Order Created"); !fault.Is(err, fault.ValidationFailed) {
		t.Fatalf("invalid type admitted: %v", err)
	}
}
