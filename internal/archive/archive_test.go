package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/pkg/log"
)

type memStore struct {
	objects map[string][]byte
	err     error
}

func (m *memStore) Put(ctx context.Context, key string, body []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = body
	return nil
}

func segEvents(n int) []event.Event {
	out := make([]event.Event, n)
	for i := range out {
		out[i] = event.Event{
			ID:          "ev-" + string(rune('a'+i)),
			Tenant:      "acme",
			Project:     "prod",
			Topic:       "orders",
			Type:        "order.created",
			Seq:         uint64(i + 1),
			PublishedAt: time.Unix(1000+int64(i), 0).UTC(),
			Payload:     []byte(`{"n":` + string(rune('0'+i)) + `}`),
		}
	}
	return out
}

func TestExportRoundTrip(t *testing.T) {
	store := &memStore{}
	a := New(Options{Store: store, Prefix: "archive", Logger: log.NewTestLogger()})
	ref := event.Ref{Scope: event.Scope{Tenant: "acme", Project: "prod"}, Topic: "orders"}

	events := segEvents(3)
	key, err := a.Export(context.Background(), ref, events)
	if err != nil {
		t.Fatal(err)
	}
	want := "archive/acme/prod/orders/00000000000000000001-00000000000000000003.ndjson.sz"
	if key != want {
		t.Fatalf("key = %q, want %q", key, want)
	}

	got, err := DecodeSegment(ref.Scope, store.objects[key])
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("decoded %d events, want 3", len(got))
	}
	for i, ev := range got {
		if ev.Seq != events[i].Seq || ev.ID != events[i].ID || ev.Topic != "orders" {
			t.Fatalf("event %d = %+v", i, ev)
		}
		if string(ev.Payload) != string(events[i].Payload) {
			t.Fatalf("payload %d = %s", i, ev.Payload)
		}
	}
}

func TestExportEmptyIsNoop(t *testing.T) {
	store := &memStore{}
	a := New(Options{Store: store, Logger: log.NewTestLogger()})
	ref := event.Ref{Scope: event.Scope{Tenant: "acme", Project: "prod"}, Topic: "orders"}

	key, err := a.Export(context.Background(), ref, nil)
	if err != nil {
		t.Fatal(err)
	}
	if key != "" || len(store.objects) != 0 {
		t.Fatalf("expected no upload, got key %q", key)
	}
}

func TestExportPropagatesStoreError(t *testing.T) {
	boom := errors.New("bucket gone")
	a := New(Options{Store: &memStore{err: boom}, Logger: log.NewTestLogger()})
	ref := event.Ref{Scope: event.Scope{Tenant: "acme", Project: "prod"}, Topic: "orders"}

	if _, err := a.Export(context.Background(), ref, segEvents(1)); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestNonJSONPayloadSurvives(t *testing.T) {
	ref := event.Ref{Scope: event.Scope{Tenant: "acme", Project: "prod"}, Topic: "orders"}
	events := []event.Event{{
		ID: "x", Topic: "orders", Seq: 1, Payload: []byte("not json"),
	}}
	body, err := EncodeSegment(events)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeSegment(ref.Scope, body)
	if err != nil {
		t.Fatal(err)
	}
	if string(got[0].Payload) != `"not json"` {
		t.Fatalf("payload = %s", got[0].Payload)
	}
}
