package dlq

import (
	"context"
	"testing"
	"time"

	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/eventlog"
	pebblestore "github.com/tidalhq/tidal/internal/storage/pebble"
	"github.com/tidalhq/tidal/pkg/log"
)

func newTestStore(t *testing.T) *eventlog.Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return eventlog.NewStore(db, eventlog.Options{})
}

func TestRouteAppendsToDeadLetterLog(t *testing.T) {
	store := newTestStore(t)
	router := NewRouter(store, log.NewTestLogger())

	ev := event.Event{
		ID:          "ev-1",
		Tenant:      "acme",
		Project:     "prod",
		Topic:       "orders",
		Type:        "order.created",
		Payload:     []byte("p1"),
		Seq:         42,
		PublishedAt: time.UnixMilli(1234),
	}
	if err := router.Route(context.Background(), ev, "delivery retries exhausted"); err != nil {
		t.Fatal(err)
	}

	dlqRef := event.Ref{Scope: event.Scope{Tenant: "acme", Project: "prod"}, Topic: "dlq/orders"}
	l, err := store.Log(dlqRef)
	if err != nil {
		t.Fatal(err)
	}
	items, err := l.Read(eventlog.ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d dead-letter entries", len(items))
	}
	it := items[0]
	if it.Header.ID != "ev-1" || it.Header.Reason != "delivery retries exhausted" {
		t.Fatalf("header lost: %+v", it.Header)
	}
	if it.Header.PublishedMs != 1234 {
		t.Fatalf("original publish time lost: %d", it.Header.PublishedMs)
	}
	if string(it.Payload) != "p1" {
		t.Fatalf("payload lost: %q", it.Payload)
	}
	// The dead-letter log assigns its own sequence.
	if it.Seq != 1 {
		t.Fatalf("dlq seq = %d", it.Seq)
	}
}

func TestRouteIsReplayable(t *testing.T) {
	store := newTestStore(t)
	router := NewRouter(store, log.NewTestLogger())

	for i := 0; i < 3; i++ {
		ev := event.Event{ID: "ev", Tenant: "acme", Project: "prod", Topic: "orders",
			Payload: []byte("p"), Seq: uint64(i + 1), PublishedAt: time.Now()}
		if err := router.Route(context.Background(), ev, "test"); err != nil {
			t.Fatal(err)
		}
	}

	dlqRef := Ref(event.Ref{Scope: event.Scope{Tenant: "acme", Project: "prod"}, Topic: "orders"})
	events, err := store.ReadAfter(dlqRef, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Seq != 2 {
		t.Fatalf("replay over dlq log wrong: %+v", events)
	}
}
