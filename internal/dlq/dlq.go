// Package dlq routes events that exhausted delivery retries into per-tenant
// dead-letter logs. A dead-letter log is an ordinary topic log named
// "dlq/<topic>", so it is inspectable through the same replay interface as
// any other topic.
package dlq

import (
	"context"

	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/eventlog"
	"github.com/tidalhq/tidal/pkg/log"
)

// Prefix marks dead-letter logs inside a scope's topic namespace.
const Prefix = "dlq/"

// Ref returns the dead-letter log address for a topic.
func Ref(ref event.Ref) event.Ref {
	return event.Ref{Scope: ref.Scope, Topic: Prefix + ref.Topic}
}

// Router appends undeliverable events to their dead-letter log.
type Router struct {
	store  *eventlog.Store
	logger log.Logger
}

// NewRouter creates a Router over the shared log store.
func NewRouter(store *eventlog.Store, logger log.Logger) *Router {
	return &Router{store: store, logger: logger.With(log.Component("dlq"))}
}

// Route appends ev plus a reason code to the dead-letter log of its topic.
// The entry keeps the event's original id and publish time; the dead-letter
// log assigns its own sequence numbers.
func (r *Router) Route(ctx context.Context, ev event.Event, reason string) error {
	ref := Ref(event.Ref{Scope: event.Scope{Tenant: ev.Tenant, Project: ev.Project}, Topic: ev.Topic})
	seq, _, err := r.store.Append(ctx, ref, eventlog.AppendRecord{
		Header: eventlog.Header{
			ID:          ev.ID,
			Type:        ev.Type,
			Reason:      reason,
			PublishedMs: ev.PublishedAt.UnixMilli(),
		},
		Payload: ev.Payload,
	})
	if err != nil {
		r.logger.Error("dlq.route_failed",
			log.Str("tenant", ev.Tenant), log.Str("topic", ev.Topic),
			log.Uint64("seq", ev.Seq), log.Err(err))
		return err
	}
	r.logger.Debug("dlq.route",
		log.Str("tenant", ev.Tenant), log.Str("topic", ev.Topic),
		log.Uint64("seq", ev.Seq), log.Uint64("dlq_seq", seq), log.Str("reason", reason))
	return nil
}
