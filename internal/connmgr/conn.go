package connmgr

import (
	"sync/atomic"
	"time"

	"github.com/tidalhq/tidal/internal/event"
)

// State is a connection lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateDraining
	StateSuspended
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateSuspended:
		return "suspended"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason records why a connection ended.
type CloseReason string

const (
	ReasonClientClose  CloseReason = "client_close"
	ReasonQuota        CloseReason = "quota_exceeded"
	ReasonSuspended    CloseReason = "tenant_suspended"
	ReasonSlowConsumer CloseReason = "slow_consumer"
	ReasonShutdown     CloseReason = "server_shutdown"
)

// Conn is one live subscriber connection. The Manager is the sole owner;
// every other component references it by id or through the methods here.
type Conn struct {
	id        string
	scope     event.Scope
	createdAt time.Time

	queue chan event.Event
	state atomic.Int32
	done  chan struct{}

	mgr *Manager
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Scope returns the owning tenant/project.
func (c *Conn) Scope() event.Scope { return c.scope }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Done is closed when the connection reaches Closed. Transports select on it
// while draining the outbound queue.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Outbound is the bounded queue the transport drains onto the wire.
func (c *Conn) Outbound() <-chan event.Event { return c.queue }

// QueueDepth returns the number of pending events.
func (c *Conn) QueueDepth() int { return len(c.queue) }

// QueueCap returns the queue capacity.
func (c *Conn) QueueCap() int { return cap(c.queue) }

// TryEnqueue offers ev to the outbound queue without blocking. It returns
// false when the queue is full or the connection is no longer Active, so a
// suspended or draining connection never receives another event.
func (c *Conn) TryEnqueue(ev event.Event) bool {
	if c.State() != StateActive {
		return false
	}
	select {
	case c.queue <- ev:
		return true
	default:
		return false
	}
}

// TryDropOldest discards the oldest pending event to make room. Used only by
// the dispatcher under the drop-oldest backpressure policy.
func (c *Conn) TryDropOldest() bool {
	select {
	case <-c.queue:
		return true
	default:
		return false
	}
}

// transition CASes from into to and reports whether it won.
func (c *Conn) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}
