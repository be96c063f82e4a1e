// Package usage aggregates per-tenant usage counters off the hot path and
// flushes them to the identity store in windows.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/identity"
	"github.com/tidalhq/tidal/pkg/log"
)

// Flusher receives aggregated windows. *identity.Store satisfies it.
type Flusher interface {
	InsertUsage(ctx context.Context, records []identity.UsageRecord) error
}

type sample struct {
	scope  event.Scope
	metric string
	value  int64
}

// Options configure a Recorder.
type Options struct {
	Flusher Flusher
	Logger  log.Logger
	// FlushInterval is how often aggregated counters are persisted.
	FlushInterval time.Duration
	// Buffer is the sample channel depth. Samples beyond it are dropped
	// rather than blocking publishers.
	Buffer int
}

// Recorder collects usage samples on a bounded channel, aggregates them per
// tenant/project/metric, and flushes windows on an interval. Recording never
// blocks the caller.
type Recorder struct {
	flusher  Flusher
	logger   log.Logger
	interval time.Duration

	samples chan sample
	done    chan struct{}

	mu      sync.Mutex
	dropped int64
}

// New creates a Recorder. Start must be called before samples are consumed.
func New(opts Options) *Recorder {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 30 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 4096
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger().With(log.Component("usage"))
	}
	return &Recorder{
		flusher:  opts.Flusher,
		logger:   opts.Logger,
		interval: opts.FlushInterval,
		samples:  make(chan sample, opts.Buffer),
		done:     make(chan struct{}),
	}
}

// Record adds value to a metric counter. If the buffer is full the sample is
// dropped and counted.
func (r *Recorder) Record(scope event.Scope, metric string, value int64) {
	if value == 0 {
		return
	}
	select {
	case r.samples <- sample{scope: scope, metric: metric, value: value}:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

// EventPublished records one accepted publish.
func (r *Recorder) EventPublished(scope event.Scope) {
	r.Record(scope, identity.MetricEventsPublished, 1)
}

// EventsDelivered records n fan-out deliveries.
func (r *Recorder) EventsDelivered(scope event.Scope, n int64) {
	r.Record(scope, identity.MetricEventsDelivered, n)
}

// ConnectionClosed records the lifetime of a finished connection.
func (r *Recorder) ConnectionClosed(scope event.Scope, lifetime time.Duration) {
	r.Record(scope, identity.MetricConnectionSeconds, int64(lifetime.Seconds()))
}

// Dropped returns how many samples were discarded because the buffer was full.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Start runs the aggregation loop until ctx is cancelled, then drains the
// buffer and performs a final flush.
func (r *Recorder) Start(ctx context.Context) error {
	type key struct {
		scope  event.Scope
		metric string
	}
	agg := make(map[key]int64)
	windowFrom := time.Now()

	flush := func(fctx context.Context) {
		if len(agg) == 0 {
			return
		}
		now := time.Now()
		records := make([]identity.UsageRecord, 0, len(agg))
		for k, v := range agg {
			records = append(records, identity.UsageRecord{
				Tenant:     k.scope.Tenant,
				Project:    k.scope.Project,
				Metric:     k.metric,
				Value:      v,
				WindowFrom: windowFrom,
				WindowTo:   now,
			})
		}
		if err := r.flusher.InsertUsage(fctx, records); err != nil {
			r.logger.Warn("usage flush failed", log.Err(err), log.Int("records", len(records)))
			return
		}
		agg = make(map[key]int64)
		windowFrom = now
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer close(r.done)

	for {
		select {
		case s := <-r.samples:
			agg[key{scope: s.scope, metric: s.metric}] += s.value
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			for {
				select {
				case s := <-r.samples:
					agg[key{scope: s.scope, metric: s.metric}] += s.value
				default:
					fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					flush(fctx)
					cancel()
					return ctx.Err()
				}
			}
		}
	}
}

// Done is closed when the loop has exited.
func (r *Recorder) Done() <-chan struct{} { return r.done }
