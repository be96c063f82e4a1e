package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/tidalhq/tidal/internal/connmgr"
	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/eventlog"
	"github.com/tidalhq/tidal/internal/fault"
	"github.com/tidalhq/tidal/pkg/log"
)

// subscriber is one connection's delivery state for one topic. All fields
// after construction are touched only by the pump goroutine.
type subscriber struct {
	conn   *connmgr.Conn
	pos    uint64 // last enqueued (or deliberately skipped) seq
	filter Filter

	stalledSince time.Time
	lagging      bool
}

// pump is the single writer for one topic's subscriber queues.
type pump struct {
	d      *Dispatcher
	ref    event.Ref
	log    *eventlog.Log
	policy TopicPolicy

	mu     sync.Mutex
	subs   map[string]*subscriber
	exited bool

	wake chan struct{}
}

func (p *pump) add(s *subscriber) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return false
	}
	p.subs[s.conn.ID()] = s
	return true
}

func (p *pump) kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *pump) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.markExited()
			return
		}
		pending, stalled := p.cycle(ctx)

		switch {
		case stalled:
			p.sleep(ctx, p.d.opts.RetryTick, nil)
		case pending:
			// more backlog to push; go again immediately
		default:
			if p.tryExit() {
				return
			}
			p.sleep(ctx, p.d.opts.IdleWait, p.log.AppendSignal())
		}
	}
}

// sleep waits for the tick, a kick, an append signal, or cancellation.
func (p *pump) sleep(ctx context.Context, d time.Duration, appendCh <-chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-p.wake:
	case <-appendCh:
	}
}

// cycle services every subscriber once. Returns whether any subscriber still
// has backlog and whether any is stalled on a full queue.
func (p *pump) cycle(ctx context.Context) (pending, stalled bool) {
	matched := make(map[string]struct{})
	for _, id := range p.d.reg.Match(p.ref) {
		matched[id] = struct{}{}
	}

	p.mu.Lock()
	subs := make([]*subscriber, 0, len(p.subs))
	for id, s := range p.subs {
		if _, ok := matched[id]; !ok {
			delete(p.subs, id)
			continue
		}
		subs = append(subs, s)
	}
	p.mu.Unlock()

	last := p.log.LastSeq()
	now := time.Now()

	for _, s := range subs {
		id := s.conn.ID()
		if s.conn.State() != connmgr.StateActive {
			p.remove(id)
			continue
		}
		if s.pos >= last {
			continue
		}

		items, err := p.log.ReadAfter(s.pos, p.d.opts.BatchSize)
		if err != nil {
			if f, ok := fault.AsFault(err); ok && f.Kind == fault.CursorExpired {
				// Retention trimmed past this subscriber. Skip forward to the
				// earliest retained entry; the gap is a marked lag, not a
				// reorder.
				s.pos = f.EarliestSeq - 1
				p.markLagging(s, id)
				pending = true
				continue
			}
			p.d.logger.Error("dispatch.read_failed",
				log.Str("topic", p.ref.Topic), log.Str("conn", id), log.Err(err))
			continue
		}

		delivered := 0
		subStalled := false
		for _, it := range items {
			ev := p.log.Event(it)
			if s.filter != nil && !s.filter(ev) {
				s.pos = it.Seq
				continue
			}
			if s.conn.TryEnqueue(ev) {
				s.pos = it.Seq
				s.stalledSince = time.Time{}
				delivered++
				continue
			}
			if s.conn.State() != connmgr.StateActive {
				p.remove(id)
				break
			}
			if p.policy.DropOldest {
				s.conn.TryDropOldest()
				if s.conn.TryEnqueue(ev) {
					s.pos = it.Seq
					s.stalledSince = time.Time{}
					delivered++
					p.markLagging(s, id)
					continue
				}
			}

			// Full queue under the disconnect policy: park the subscriber at
			// its position and give it the grace period to drain.
			if s.stalledSince.IsZero() {
				s.stalledSince = now
			}
			if now.Sub(s.stalledSince) >= p.d.opts.StallGrace {
				p.disconnectSlow(ctx, s, ev)
				break
			}
			subStalled = true
			break
		}

		if delivered > 0 && p.d.opts.Hooks.Delivered != nil {
			p.d.opts.Hooks.Delivered(s.conn.Scope(), p.ref.Topic, delivered)
		}
		if subStalled {
			stalled = true
		} else if s.pos < last && s.conn.State() == connmgr.StateActive {
			pending = true
		}
	}
	return pending, stalled
}

func (p *pump) markLagging(s *subscriber, id string) {
	if s.lagging {
		return
	}
	s.lagging = true
	p.d.logger.Warn("dispatch.lagging", log.Str("topic", p.ref.Topic), log.Str("conn", id))
	if p.d.opts.Hooks.Lagging != nil {
		p.d.opts.Hooks.Lagging(id, p.ref.Topic)
	}
}

func (p *pump) disconnectSlow(ctx context.Context, s *subscriber, undelivered event.Event) {
	id := s.conn.ID()
	p.d.logger.Warn("dispatch.slow_disconnect",
		log.Str("topic", p.ref.Topic), log.Str("conn", id), log.Uint64("seq", undelivered.Seq))
	if p.d.router != nil {
		if err := p.d.router.Route(ctx, undelivered, "delivery retries exhausted"); err == nil {
			if p.d.opts.Hooks.DeadLettered != nil {
				p.d.opts.Hooks.DeadLettered(p.ref.Scope, p.ref.Topic)
			}
		}
	}
	if p.d.opts.Hooks.SlowDisconnect != nil {
		p.d.opts.Hooks.SlowDisconnect(id, p.ref.Topic)
	}
	p.d.mgr.CloseSlowConsumer(id)
	p.remove(id)
	p.d.reg.Unsubscribe(id, p.ref)
}

func (p *pump) remove(id string) {
	p.mu.Lock()
	delete(p.subs, id)
	p.mu.Unlock()
}

// tryExit retires an empty pump. Both locks are held so a concurrent Attach
// either lands before the exit decision or observes the exited flag and
// creates a fresh pump.
func (p *pump) tryExit() bool {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.subs) > 0 {
		return false
	}
	p.exited = true
	if p.d.pumps[p.ref.String()] == p {
		delete(p.d.pumps, p.ref.String())
	}
	return true
}

func (p *pump) markExited() {
	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()
	p.d.dropPump(p)
}
