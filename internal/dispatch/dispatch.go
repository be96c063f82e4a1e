// Package dispatch fans out durably appended events to subscriber queues.
//
// One pump goroutine runs per live topic and is the only writer to that
// topic's subscriber queues. The pump reads newly appended entries from the
// log, so a subscriber joining mid-stream with a replay cursor and a
// subscriber that fell behind are both serviced by the same catch-up path,
// and per-connection per-topic ordering holds by construction. A slow
// consumer is parked at its last delivered position and either caught up
// when queue space frees or disconnected after the grace period; it never
// stalls the pump or other connections.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/tidalhq/tidal/internal/connmgr"
	"github.com/tidalhq/tidal/internal/dlq"
	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/eventlog"
	"github.com/tidalhq/tidal/internal/registry"
	"github.com/tidalhq/tidal/pkg/log"
)

// Filter decides whether a subscriber receives an event. A nil Filter
// matches everything.
type Filter func(ev event.Event) bool

// TopicPolicy selects the backpressure behavior for one topic.
type TopicPolicy struct {
	// DropOldest discards the oldest queued event instead of disconnecting
	// a slow consumer. Lossy: the connection is marked lagging.
	DropOldest bool
}

// Hooks observe dispatch outcomes. All optional.
type Hooks struct {
	// Delivered is called after events are enqueued to one connection.
	Delivered func(scope event.Scope, topic string, n int)
	// Lagging is called when a connection loses events to drop-oldest or a
	// retention trim.
	Lagging func(connID string, topic string)
	// SlowDisconnect is called when a consumer exhausts the stall grace.
	SlowDisconnect func(connID string, topic string)
	// DeadLettered is called when an undeliverable event is routed to the
	// dead letter log.
	DeadLettered func(scope event.Scope, topic string)
}

// Options configures a Dispatcher.
type Options struct {
	// BatchSize caps how many entries a pump reads per subscriber per cycle.
	BatchSize int
	// StallGrace is how long a full queue may stall before the consumer is
	// disconnected (under the default policy).
	StallGrace time.Duration
	// RetryTick is the pump's wake interval while any subscriber is stalled.
	RetryTick time.Duration
	// IdleWait bounds how long a caught-up pump blocks waiting for appends.
	IdleWait time.Duration

	Hooks  Hooks
	Logger log.Logger
}

// Dispatcher owns the per-topic pumps.
type Dispatcher struct {
	store  *eventlog.Store
	reg    *registry.Registry
	mgr    *connmgr.Manager
	router *dlq.Router
	opts   Options
	logger log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pumps    map[string]*pump
	policies map[string]TopicPolicy
	wg       sync.WaitGroup
}

// New creates a Dispatcher. Close stops every pump.
func New(store *eventlog.Store, reg *registry.Registry, mgr *connmgr.Manager, router *dlq.Router, opts Options) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 256
	}
	if opts.StallGrace <= 0 {
		opts.StallGrace = 5 * time.Second
	}
	if opts.RetryTick <= 0 {
		opts.RetryTick = 10 * time.Millisecond
	}
	if opts.IdleWait <= 0 {
		opts.IdleWait = 250 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:    store,
		reg:      reg,
		mgr:      mgr,
		router:   router,
		opts:     opts,
		logger:   logger.With(log.Component("dispatch")),
		ctx:      ctx,
		cancel:   cancel,
		pumps:    make(map[string]*pump),
		policies: make(map[string]TopicPolicy),
	}
}

// SetTopicPolicy overrides the backpressure policy for one topic. Takes
// effect for pumps started afterwards.
func (d *Dispatcher) SetTopicPolicy(ref event.Ref, p TopicPolicy) {
	d.mu.Lock()
	d.policies[ref.String()] = p
	d.mu.Unlock()
}

// Attach subscribes conn to ref starting strictly after afterSeq. Passing
// the log's current last sequence attaches live-only; passing an older
// position replays the backlog first, then continues live with no gap or
// duplicate.
func (d *Dispatcher) Attach(conn *connmgr.Conn, ref event.Ref, afterSeq uint64, filter Filter) error {
	// Registry first: the pump prunes any state whose id it cannot match.
	d.reg.Subscribe(conn.ID(), ref)
	for {
		p, err := d.pumpFor(ref)
		if err != nil {
			d.reg.Unsubscribe(conn.ID(), ref)
			return err
		}
		// A pump retiring between lookup and add reports failure; the next
		// lookup starts a fresh one.
		if p.add(&subscriber{conn: conn, pos: afterSeq, filter: filter}) {
			p.kick()
			return nil
		}
	}
}

// Detach removes conn's subscription to ref. The pump drops its state on the
// next cycle.
func (d *Dispatcher) Detach(connID string, ref event.Ref) {
	d.reg.Unsubscribe(connID, ref)
	d.mu.Lock()
	p := d.pumps[ref.String()]
	d.mu.Unlock()
	if p != nil {
		p.kick()
	}
}

// Close stops all pumps and waits for them to exit.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) pumpFor(ref event.Ref) (*pump, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pumps[ref.String()]; ok {
		p.mu.Lock()
		exited := p.exited
		p.mu.Unlock()
		if !exited {
			return p, nil
		}
		delete(d.pumps, ref.String())
	}
	l, err := d.store.Log(ref)
	if err != nil {
		return nil, err
	}
	p := &pump{
		d:      d,
		ref:    ref,
		log:    l,
		policy: d.policies[ref.String()],
		subs:   make(map[string]*subscriber),
		wake:   make(chan struct{}, 1),
	}
	d.pumps[ref.String()] = p
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		p.run(d.ctx)
	}()
	return p, nil
}

func (d *Dispatcher) dropPump(p *pump) {
	d.mu.Lock()
	if d.pumps[p.ref.String()] == p {
		delete(d.pumps, p.ref.String())
	}
	d.mu.Unlock()
}
