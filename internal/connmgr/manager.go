// Package connmgr owns subscriber connection lifecycle: quota admission, the
// per-connection state machine, and tenant suspension cutover.
//
// State machine: Connecting -> Active -> (Draining | Suspended | Closed).
// Quota counters are decremented exactly once on entry to Closed; the release
// routine runs behind a sync.Once tied to the connection, so every exit path
// (client close, quota breach, suspension, transport error) funnels through
// the same decrement.
package connmgr

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/fault"
	"github.com/tidalhq/tidal/pkg/log"
)

// ReleaseHook observes connection teardown. Called exactly once per
// connection after quota release; used to unsubscribe topics and record
// connection_seconds.
type ReleaseHook func(conn *Conn, reason CloseReason, lifetime time.Duration)

// Options configures a Manager.
type Options struct {
	// QueueCap is each connection's outbound queue capacity.
	QueueCap int
	// SuspendConcurrency bounds how many connections a suspension closes in
	// parallel.
	SuspendConcurrency int64
	// OnRelease is invoked once per closed connection. Optional.
	OnRelease ReleaseHook
	Logger    log.Logger
}

type managed struct {
	conn    *Conn
	release sync.Once
}

// Manager tracks live connections and per-scope quota counters.
type Manager struct {
	opts   Options
	logger log.Logger

	mu        sync.RWMutex
	conns     map[string]*managed
	byTenant  map[string]map[string]*managed
	active    map[event.Scope]int
	suspended map[string]bool

	now func() time.Time
}

// New creates a Manager.
func New(opts Options) *Manager {
	if opts.QueueCap <= 0 {
		opts.QueueCap = 256
	}
	if opts.SuspendConcurrency <= 0 {
		opts.SuspendConcurrency = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Manager{
		opts:      opts,
		logger:    logger.With(log.Component("connmgr")),
		conns:     make(map[string]*managed),
		byTenant:  make(map[string]map[string]*managed),
		active:    make(map[event.Scope]int),
		suspended: make(map[string]bool),
		now:       time.Now,
	}
}

// Admit runs quota admission for a new connection and returns it in Active
// state. A suspended tenant or an exhausted connection quota rejects with a
// typed fault and no counter change.
func (m *Manager) Admit(scope event.Scope, maxConns int) (*Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.suspended[scope.Tenant] {
		return nil, fault.New(fault.TenantSuspended, "tenant is suspended").
			WithScope(scope.Tenant, scope.Project, "")
	}
	if maxConns > 0 && m.active[scope] >= maxConns {
		return nil, fault.New(fault.QuotaExceeded,
			"connection quota of %d reached", maxConns).
			WithScope(scope.Tenant, scope.Project, "")
	}

	c := &Conn{
		id:        uuid.NewString(),
		scope:     scope,
		createdAt: m.now(),
		queue:     make(chan event.Event, m.opts.QueueCap),
		done:      make(chan struct{}),
		mgr:       m,
	}
	c.state.Store(int32(StateConnecting))
	c.transition(StateConnecting, StateActive)

	mc := &managed{conn: c}
	m.conns[c.id] = mc
	if m.byTenant[scope.Tenant] == nil {
		m.byTenant[scope.Tenant] = make(map[string]*managed)
	}
	m.byTenant[scope.Tenant][c.id] = mc
	m.active[scope]++

	m.logger.Debug("connmgr.admit",
		log.Str("conn", c.id), log.Str("tenant", scope.Tenant),
		log.Str("project", scope.Project), log.Int("active", m.active[scope]))
	return c, nil
}

// Get returns the live connection with the given id.
func (m *Manager) Get(id string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.conns[id]
	if !ok {
		return nil, false
	}
	return mc.conn, true
}

// ActiveCount returns the quota counter for scope: the number of connections
// currently in Active or Draining.
func (m *Manager) ActiveCount(scope event.Scope) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[scope]
}

// BeginDrain moves a connection to Draining on graceful client close. The
// dispatcher stops enqueueing immediately; the transport drains what is left
// and then calls OnDisconnect.
func (m *Manager) BeginDrain(id string) {
	if c, ok := m.Get(id); ok {
		c.transition(StateActive, StateDraining)
	}
}

// OnDisconnect finishes a connection. The transport calls it exactly once,
// but the release path tolerates duplicates and overlapping suspension.
func (m *Manager) OnDisconnect(id string) {
	m.close(id, ReasonClientClose)
}

// CloseSlowConsumer disconnects a connection that exhausted the dispatcher's
// backpressure grace.
func (m *Manager) CloseSlowConsumer(id string) {
	m.close(id, ReasonSlowConsumer)
}

func (m *Manager) close(id string, reason CloseReason) {
	m.mu.RLock()
	mc, ok := m.conns[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.release(mc, reason)
}

// release is the single teardown routine. Runs at most once per connection.
func (m *Manager) release(mc *managed, reason CloseReason) {
	mc.release.Do(func() {
		c := mc.conn
		c.state.Store(int32(StateClosed))
		close(c.done)

		m.mu.Lock()
		delete(m.conns, c.id)
		if t := m.byTenant[c.scope.Tenant]; t != nil {
			delete(t, c.id)
			if len(t) == 0 {
				delete(m.byTenant, c.scope.Tenant)
			}
		}
		if m.active[c.scope] > 0 {
			m.active[c.scope]--
		}
		remaining := m.active[c.scope]
		m.mu.Unlock()

		lifetime := m.now().Sub(c.createdAt)
		m.logger.Debug("connmgr.release",
			log.Str("conn", c.id), log.Str("tenant", c.scope.Tenant),
			log.Str("reason", string(reason)), log.Duration("lifetime", lifetime),
			log.Int("active", remaining))
		if m.opts.OnRelease != nil {
			m.opts.OnRelease(c, reason, lifetime)
		}
	})
}

// SuspendTenant cuts over every connection of a tenant. The suspension flag
// is set first so no new connection admits, each connection leaves Active
// before its queue is torn down (so zero further enqueues succeed), and the
// closes fan out concurrently without blocking unrelated tenants.
func (m *Manager) SuspendTenant(ctx context.Context, tenant string) int {
	m.mu.Lock()
	m.suspended[tenant] = true
	victims := make([]*managed, 0, len(m.byTenant[tenant]))
	for _, mc := range m.byTenant[tenant] {
		victims = append(victims, mc)
	}
	m.mu.Unlock()

	sem := semaphore.NewWeighted(m.opts.SuspendConcurrency)
	var wg sync.WaitGroup
	for _, mc := range victims {
		mc.conn.transition(StateActive, StateSuspended)
		mc.conn.transition(StateDraining, StateSuspended)
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context gone; finish the remaining closes inline.
			m.release(mc, ReasonSuspended)
			continue
		}
		wg.Add(1)
		go func(mc *managed) {
			defer wg.Done()
			defer sem.Release(1)
			m.release(mc, ReasonSuspended)
		}(mc)
	}
	wg.Wait()

	m.logger.Info("connmgr.suspend", log.Str("tenant", tenant), log.Int("closed", len(victims)))
	return len(victims)
}

// ResumeTenant clears the suspension flag so new connections admit again.
func (m *Manager) ResumeTenant(tenant string) {
	m.mu.Lock()
	delete(m.suspended, tenant)
	m.mu.Unlock()
	m.logger.Info("connmgr.resume", log.Str("tenant", tenant))
}

// Suspended reports whether tenant is currently suspended.
func (m *Manager) Suspended(tenant string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.suspended[tenant]
}

// Shutdown closes every connection. Used on server stop.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*managed, 0, len(m.conns))
	for _, mc := range m.conns {
		all = append(all, mc)
	}
	m.mu.Unlock()
	for _, mc := range all {
		m.release(mc, ReasonShutdown)
	}
}
