package eventsvc

import (
	"time"

	"github.com/tidalhq/tidal/internal/event"
)

// PublishRequest carries one event to append.
type PublishRequest struct {
	Topic   string
	Type    string
	Payload []byte
	// ID is the caller-supplied event ID. Empty means one is generated.
	ID string
}

// PublishResult reports the committed position of an accepted event.
type PublishResult struct {
	ID          string
	Seq         uint64
	PublishedAt time.Time
	// Cursor is the opaque token for the committed position, usable to
	// resume a subscription after this event.
	Cursor []byte
}

// SubscribeRequest opens a streaming subscription.
type SubscribeRequest struct {
	Topics []string
	// Cursors optionally maps a topic to a resume token issued earlier.
	// Topics without a cursor start at the live tail.
	Cursors map[string][]byte
	// Filter is an optional CEL expression evaluated per event.
	Filter string
}

// ReplayRequest reads a bounded page from a topic's retained history.
type ReplayRequest struct {
	Topic string
	// Cursor resumes after a previously returned position. Empty starts at
	// the earliest retained event.
	Cursor []byte
	// Limit caps the page size. 0 applies the service default.
	Limit int
}

// ReplayResult is one page of history.
type ReplayResult struct {
	Events []event.Event
	// Cursor resumes after the last event of this page. Nil when the page
	// is empty.
	Cursor []byte
	// EndOfHistory is true when the page reached the log tail.
	EndOfHistory bool
}
