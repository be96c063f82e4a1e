// Package eventsvc implements the data plane operations: publish into topic
// logs, live subscribe with fan-out, and bounded replay from cursors.
package eventsvc

import (
	"context"

	"github.com/tidalhq/tidal/internal/connmgr"
	"github.com/tidalhq/tidal/internal/dispatch"
	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/eventlog"
	"github.com/tidalhq/tidal/internal/fault"
	"github.com/tidalhq/tidal/internal/identity"
	"github.com/tidalhq/tidal/internal/metrics"
	"github.com/tidalhq/tidal/internal/ratelimit"
	"github.com/tidalhq/tidal/internal/usage"
	"github.com/tidalhq/tidal/internal/validate"
	"github.com/tidalhq/tidal/pkg/id"
	"github.com/tidalhq/tidal/pkg/log"
)

const defaultReplayLimit = 100

// maxReplayLimit bounds a single replay page regardless of the request.
const maxReplayLimit = 1000

// Options wire a Service to the engine's components. Metrics and Usage are
// optional.
type Options struct {
	Store      *eventlog.Store
	Limiter    *ratelimit.Limiter
	Manager    *connmgr.Manager
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics
	Usage      *usage.Recorder
	Logger     log.Logger
}

// Service provides publish/subscribe/replay over the internal event log.
type Service struct {
	store   *eventlog.Store
	limiter *ratelimit.Limiter
	mgr     *connmgr.Manager
	disp    *dispatch.Dispatcher
	met     *metrics.Metrics
	usage   *usage.Recorder
	logger  log.Logger
}

// New returns a Service.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = log.NewLogger().With(log.Component("events"))
	}
	return &Service{
		store:   opts.Store,
		limiter: opts.Limiter,
		mgr:     opts.Manager,
		disp:    opts.Dispatcher,
		met:     opts.Metrics,
		usage:   opts.Usage,
		logger:  opts.Logger,
	}
}

// Publish validates, admits, and appends one event. The returned result
// carries the committed sequence and a resume cursor.
func (s *Service) Publish(ctx context.Context, ac identity.AuthContext, req PublishRequest) (PublishResult, error) {
	res, err := s.publish(ctx, ac, req)
	if err != nil && s.met != nil {
		if fault.KindOf(err) == fault.RateLimitExceeded {
			s.met.RateLimited(ac.Scope())
		} else {
			s.met.EventRejected(string(fault.KindOf(err)))
		}
	}
	return res, err
}

func (s *Service) publish(ctx context.Context, ac identity.AuthContext, req PublishRequest) (PublishResult, error) {
	if !ac.HasScope(identity.ScopePublish) {
		return PublishResult{}, fault.New(fault.Unauthorized, "credential lacks %s", identity.ScopePublish)
	}
	scope := ac.Scope()
	if s.mgr.Suspended(scope.Tenant) || ac.TenantStatus == identity.StatusSuspended {
		return PublishResult{}, fault.New(fault.TenantSuspended, "tenant is suspended").
			WithScope(scope.Tenant, scope.Project, req.Topic)
	}
	if err := validate.Topic(req.Topic); err != nil {
		return PublishResult{}, err
	}
	if err := validate.EventType(req.Type); err != nil {
		return PublishResult{}, err
	}
	if err := validate.Payload(req.Payload, ac.Limits.MaxPayloadBytes); err != nil {
		return PublishResult{}, err
	}
	// Buckets are per API key, so two keys in one project never share or
	// reshape each other's limit.
	limitKey := ac.KeyHash
	if limitKey == "" {
		limitKey = scope.String()
	}
	if err := s.limiter.TryAdmit(limitKey, ac.RateLimit, 1); err != nil {
		return PublishResult{}, err
	}

	evID := req.ID
	if evID == "" {
		evID = id.NewEvent()
	}
	ref := event.Ref{Scope: scope, Topic: req.Topic}
	seq, publishedAt, err := s.store.Append(ctx, ref, eventlog.AppendRecord{
		Header:  eventlog.Header{ID: evID, Type: req.Type},
		Payload: req.Payload,
	})
	if err != nil {
		return PublishResult{}, err
	}

	if s.met != nil {
		s.met.EventPublished(scope)
	}
	if s.usage != nil {
		s.usage.EventPublished(scope)
	}
	cursor := eventlog.Cursor{Ref: ref, Seq: seq}
	return PublishResult{ID: evID, Seq: seq, PublishedAt: publishedAt, Cursor: cursor.Token()}, nil
}

// Subscription is one live streaming session over a connection. Events for
// every attached topic arrive interleaved on Events.
type Subscription struct {
	svc  *Service
	conn *connmgr.Conn
	refs []event.Ref
}

// ID returns the connection id.
func (sub *Subscription) ID() string { return sub.conn.ID() }

// Events is the outbound event stream.
func (sub *Subscription) Events() <-chan event.Event { return sub.conn.Outbound() }

// Done is closed when the connection leaves Active state, whether by Close,
// suspension, or a slow-consumer disconnect.
func (sub *Subscription) Done() <-chan struct{} { return sub.conn.Done() }

// Close tears down the session gracefully: the connection moves to
// Draining so the dispatcher stops enqueueing, every topic is detached,
// and the quota slot is released.
func (sub *Subscription) Close() {
	sub.svc.mgr.BeginDrain(sub.conn.ID())
	for _, ref := range sub.refs {
		sub.svc.disp.Detach(sub.conn.ID(), ref)
	}
	sub.svc.mgr.OnDisconnect(sub.conn.ID())
}

// CursorFor issues a resume token for the given event, valid for the
// subscription's scope.
func (sub *Subscription) CursorFor(ev event.Event) []byte {
	c := eventlog.Cursor{
		Ref: event.Ref{Scope: sub.conn.Scope(), Topic: ev.Topic},
		Seq: ev.Seq,
	}
	return c.Token()
}

// Subscribe admits a connection under the tenant's quota and attaches it to
// every requested topic. Topics with a cursor replay the backlog first, then
// continue live; the rest start at the tail.
func (s *Service) Subscribe(ctx context.Context, ac identity.AuthContext, req SubscribeRequest) (*Subscription, error) {
	if !ac.HasScope(identity.ScopeSubscribe) {
		return nil, fault.New(fault.Unauthorized, "credential lacks %s", identity.ScopeSubscribe)
	}
	if len(req.Topics) == 0 {
		return nil, fault.New(fault.ValidationFailed, "no topics requested")
	}
	scope := ac.Scope()
	for _, topic := range req.Topics {
		if err := validate.ReplayTopic(topic); err != nil {
			return nil, err
		}
	}
	filter, err := newCELFilter(req.Filter)
	if err != nil {
		return nil, fault.Wrap(err, fault.ValidationFailed, "invalid filter expression")
	}

	// Resolve every start position before admitting so a bad cursor does
	// not consume a quota slot.
	starts := make(map[string]uint64, len(req.Topics))
	for _, topic := range req.Topics {
		ref := event.Ref{Scope: scope, Topic: topic}
		l, err := s.store.Log(ref)
		if err != nil {
			return nil, err
		}
		if tok, ok := req.Cursors[topic]; ok {
			cur, err := eventlog.ParseCursor(tok)
			if err != nil {
				return nil, err
			}
			if err := cur.Bind(ref); err != nil {
				return nil, err
			}
			// A cursor behind the retained window must fail loudly here;
			// the pump would otherwise skip to the earliest entry without
			// the client ever learning it lost data.
			if earliest := l.EarliestSeq(); cur.Seq+1 < earliest {
				return nil, fault.New(fault.CursorExpired,
					"offset %d is older than the retained window", cur.Seq).
					WithScope(scope.Tenant, scope.Project, topic).
					WithSeq(cur.Seq).WithEarliest(earliest)
			}
			starts[topic] = cur.Seq
			if s.met != nil {
				s.met.ReplayStarted()
			}
			continue
		}
		starts[topic] = l.LastSeq()
	}

	conn, err := s.mgr.Admit(scope, ac.Limits.MaxConnections)
	if err != nil {
		return nil, err
	}
	if s.met != nil {
		s.met.ConnectionOpened(scope)
	}

	sub := &Subscription{svc: s, conn: conn}
	for _, topic := range req.Topics {
		ref := event.Ref{Scope: scope, Topic: topic}
		if err := s.disp.Attach(conn, ref, starts[topic], filter.dispatchFilter()); err != nil {
			sub.refs = append(sub.refs, ref)
			sub.Close()
			return nil, err
		}
		sub.refs = append(sub.refs, ref)
	}

	s.logger.Debug("subscription opened",
		log.Str("conn", conn.ID()),
		log.Str("tenant", scope.Tenant),
		log.Int("topics", len(req.Topics)))
	return sub, nil
}

// Replay reads one page of retained history. It never blocks for new events;
// an empty page with EndOfHistory set means the caller has caught up.
func (s *Service) Replay(ctx context.Context, ac identity.AuthContext, req ReplayRequest) (ReplayResult, error) {
	if !ac.HasScope(identity.ScopeSubscribe) {
		return ReplayResult{}, fault.New(fault.Unauthorized, "credential lacks %s", identity.ScopeSubscribe)
	}
	if err := validate.ReplayTopic(req.Topic); err != nil {
		return ReplayResult{}, err
	}
	scope := ac.Scope()
	ref := event.Ref{Scope: scope, Topic: req.Topic}

	var after uint64
	if len(req.Cursor) > 0 {
		cur, err := eventlog.ParseCursor(req.Cursor)
		if err != nil {
			return ReplayResult{}, err
		}
		if err := cur.Bind(ref); err != nil {
			return ReplayResult{}, err
		}
		after = cur.Seq
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultReplayLimit
	}
	if limit > maxReplayLimit {
		limit = maxReplayLimit
	}

	events, err := s.store.ReadAfter(ref, after, limit)
	if err != nil {
		return ReplayResult{}, err
	}
	if s.met != nil {
		s.met.ReplayStarted()
	}

	res := ReplayResult{Events: events, EndOfHistory: len(events) < limit}
	if n := len(events); n > 0 {
		c := eventlog.Cursor{Ref: ref, Seq: events[n-1].Seq}
		res.Cursor = c.Token()
	}
	return res, nil
}

// TopicStats returns current log stats for one topic of the caller's scope.
func (s *Service) TopicStats(ac identity.AuthContext, topic string) (eventlog.Stats, error) {
	if err := validate.ReplayTopic(topic); err != nil {
		return eventlog.Stats{}, err
	}
	return s.store.TopicStats(event.Ref{Scope: ac.Scope(), Topic: topic})
}
