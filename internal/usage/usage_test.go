package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/identity"
	"github.com/tidalhq/tidal/pkg/log"
)

type captureFlusher struct {
	mu      sync.Mutex
	records []identity.UsageRecord
}

func (c *captureFlusher) InsertUsage(ctx context.Context, records []identity.UsageRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, records...)
	return nil
}

func (c *captureFlusher) total(tenant, metric string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, r := range c.records {
		if r.Tenant == tenant && r.Metric == metric {
			n += r.Value
		}
	}
	return n
}

func TestAggregatesAndFlushesOnShutdown(t *testing.T) {
	fl := &captureFlusher{}
	r := New(Options{Flusher: fl, Logger: log.NewTestLogger(), FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go r.Start(ctx)

	scope := event.Scope{Tenant: "acme", Project: "prod"}
	for i := 0; i < 5; i++ {
		r.EventPublished(scope)
	}
	r.EventsDelivered(scope, 12)
	r.ConnectionClosed(scope, 90*time.Second)

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop")
	}

	if got := fl.total("acme", identity.MetricEventsPublished); got != 5 {
		t.Fatalf("published = %d, want 5", got)
	}
	if got := fl.total("acme", identity.MetricEventsDelivered); got != 12 {
		t.Fatalf("delivered = %d, want 12", got)
	}
	if got := fl.total("acme", identity.MetricConnectionSeconds); got != 90 {
		t.Fatalf("connection seconds = %d, want 90", got)
	}
}

func TestPeriodicFlushResetsWindow(t *testing.T) {
	fl := &captureFlusher{}
	r := New(Options{Flusher: fl, Logger: log.NewTestLogger(), FlushInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx)

	scope := event.Scope{Tenant: "acme", Project: "prod"}
	r.EventPublished(scope)

	deadline := time.Now().Add(time.Second)
	for fl.total("acme", identity.MetricEventsPublished) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no periodic flush")
		}
		time.Sleep(time.Millisecond)
	}
	if got := fl.total("acme", identity.MetricEventsPublished); got != 1 {
		t.Fatalf("published = %d, want 1", got)
	}
}

func TestFullBufferDropsWithoutBlocking(t *testing.T) {
	fl := &captureFlusher{}
	r := New(Options{Flusher: fl, Logger: log.NewTestLogger(), FlushInterval: time.Hour, Buffer: 1})

	scope := event.Scope{Tenant: "acme", Project: "prod"}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			r.EventPublished(scope)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked")
	}
	if r.Dropped() == 0 {
		t.Fatal("expected drops with full buffer")
	}
}

func TestZeroValueIgnored(t *testing.T) {
	fl := &captureFlusher{}
	r := New(Options{Flusher: fl, Logger: log.NewTestLogger(), Buffer: 1})
	r.Record(event.Scope{Tenant: "a", Project: "b"}, identity.MetricEventsDelivered, 0)
	select {
	case <-r.samples:
		t.Fatal("zero sample enqueued")
	default:
	}
}
