package connmgr

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/fault"
	"github.com/tidalhq/tidal/pkg/log"
)

func testScope() event.Scope { return event.Scope{Tenant: "acme", Project: "prod"} }

func newTestManager(opts Options) *Manager {
	opts.Logger = log.NewTestLogger()
	return New(opts)
}

func ev(seq uint64) event.Event {
	return event.Event{ID: "x", Topic: "orders", Seq: seq, Payload: []byte("p")}
}

func TestAdmitAndQuota(t *testing.T) {
	m := newTestManager(Options{})
	scope := testScope()

	a, err := m.Admit(scope, 2)
	if err != nil {
		t.Fatal(err)
	}
	if a.State() != StateActive {
		t.Fatalf("state = %s, want active", a.State())
	}
	if _, err := m.Admit(scope, 2); err != nil {
		t.Fatal(err)
	}
	_, err = m.Admit(scope, 2)
	if !fault.Is(err, fault.QuotaExceeded) {
		t.Fatalf("want QuotaExceeded, got %v", err)
	}
	if m.ActiveCount(scope) != 2 {
		t.Fatalf("active = %d", m.ActiveCount(scope))
	}

	m.OnDisconnect(a.ID())
	if m.ActiveCount(scope) != 1 {
		t.Fatalf("active after disconnect = %d", m.ActiveCount(scope))
	}
	if _, err := m.Admit(scope, 2); err != nil {
		t.Fatalf("freed slot not reusable: %v", err)
	}
}

func TestQuotaIsPerScope(t *testing.T) {
	m := newTestManager(Options{})
	a := event.Scope{Tenant: "acme", Project: "prod"}
	b := event.Scope{Tenant: "acme", Project: "staging"}

	if _, err := m.Admit(a, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Admit(b, 1); err != nil {
		t.Fatalf("other project throttled: %v", err)
	}
}

func TestReleaseDecrementsExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	released := 0
	m := newTestManager(Options{
		OnRelease: func(*Conn, CloseReason, time.Duration) {
			mu.Lock()
			released++
			mu.Unlock()
		},
	})
	c, err := m.Admit(testScope(), 0)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.OnDisconnect(c.ID())
		}()
	}
	wg.Wait()

	if released != 1 {
		t.Fatalf("release ran %d times", released)
	}
	if m.ActiveCount(testScope()) != 0 {
		t.Fatalf("active = %d", m.ActiveCount(testScope()))
	}
}

func TestEnqueueStopsOutsideActive(t *testing.T) {
	m := newTestManager(Options{QueueCap: 4})
	c, err := m.Admit(testScope(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if !c.TryEnqueue(ev(1)) {
		t.Fatal("enqueue to active conn failed")
	}

	m.BeginDrain(c.ID())
	if c.State() != StateDraining {
		t.Fatalf("state = %s", c.State())
	}
	if c.TryEnqueue(ev(2)) {
		t.Fatal("enqueue to draining conn succeeded")
	}

	// Queued events stay drainable.
	select {
	case got := <-c.Outbound():
		if got.Seq != 1 {
			t.Fatalf("drained seq %d", got.Seq)
		}
	default:
		t.Fatal("queued event lost on drain")
	}
	m.OnDisconnect(c.ID())
	if c.TryEnqueue(ev(3)) {
		t.Fatal("enqueue to closed conn succeeded")
	}
}

func TestEnqueueFullQueue(t *testing.T) {
	m := newTestManager(Options{QueueCap: 2})
	c, _ := m.Admit(testScope(), 0)
	if !c.TryEnqueue(ev(1)) || !c.TryEnqueue(ev(2)) {
		t.Fatal("fill failed")
	}
	if c.TryEnqueue(ev(3)) {
		t.Fatal("enqueue past capacity succeeded")
	}
	if !c.TryDropOldest() {
		t.Fatal("drop-oldest failed on full queue")
	}
	if !c.TryEnqueue(ev(3)) {
		t.Fatal("enqueue after drop-oldest failed")
	}
}

func TestSuspendTenantCutover(t *testing.T) {
	m := newTestManager(Options{})
	scope := testScope()
	conns := make([]*Conn, 20)
	for i := range conns {
		c, err := m.Admit(scope, 0)
		if err != nil {
			t.Fatal(err)
		}
		conns[i] = c
	}
	other, err := m.Admit(event.Scope{Tenant: "globex", Project: "prod"}, 0)
	if err != nil {
		t.Fatal(err)
	}

	closed := m.SuspendTenant(context.Background(), scope.Tenant)
	if closed != 20 {
		t.Fatalf("closed %d, want 20", closed)
	}
	for _, c := range conns {
		if c.State() != StateClosed {
			t.Fatalf("conn %s state %s after suspension", c.ID(), c.State())
		}
		select {
		case <-c.Done():
		default:
			t.Fatal("done not closed")
		}
		if c.TryEnqueue(ev(1)) {
			t.Fatal("enqueue succeeded after suspension")
		}
	}
	if m.ActiveCount(scope) != 0 {
		t.Fatalf("active = %d after suspension", m.ActiveCount(scope))
	}
	if other.State() != StateActive {
		t.Fatal("unrelated tenant disturbed by suspension")
	}

	// New admissions reject until resume.
	if _, err := m.Admit(scope, 0); !fault.Is(err, fault.TenantSuspended) {
		t.Fatalf("want TenantSuspended, got %v", err)
	}
	m.ResumeTenant(scope.Tenant)
	if _, err := m.Admit(scope, 0); err != nil {
		t.Fatalf("admission after resume failed: %v", err)
	}
}

// Randomized connect/disconnect storm: afterwards the quota counter must
// equal the number of connections still live.
func TestQuotaReconciliation(t *testing.T) {
	m := newTestManager(Options{})
	scope := testScope()

	var mu sync.Mutex
	live := make(map[string]*Conn)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				if rng.Intn(2) == 0 {
					c, err := m.Admit(scope, 0)
					if err != nil {
						continue
					}
					mu.Lock()
					live[c.ID()] = c
					mu.Unlock()
				} else {
					mu.Lock()
					var victim *Conn
					for _, c := range live {
						victim = c
						break
					}
					if victim != nil {
						delete(live, victim.ID())
					}
					mu.Unlock()
					if victim != nil {
						m.OnDisconnect(victim.ID())
					}
				}
			}
		}(int64(w))
	}
	wg.Wait()

	if got, want := m.ActiveCount(scope), len(live); got != want {
		t.Fatalf("quota counter %d != live connections %d", got, want)
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	m := newTestManager(Options{})
	a, _ := m.Admit(testScope(), 0)
	b, _ := m.Admit(event.Scope{Tenant: "globex", Project: "prod"}, 0)

	m.Shutdown()
	if a.State() != StateClosed || b.State() != StateClosed {
		t.Fatalf("states after shutdown: %s %s", a.State(), b.State())
	}
}
