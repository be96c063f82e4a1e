package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/tidalhq/tidal/internal/fault"
)

func newTestLimiter(start time.Time) (*Limiter, *time.Time) {
	clock := start
	l := New()
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestBurstExhaustsCapacity(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(0, 0))
	limit := Limit{Capacity: 5, RefillPerSec: 1}

	for i := 0; i < 5; i++ {
		if err := l.TryAdmit("key", limit, 1); err != nil {
			t.Fatalf("admission %d rejected: %v", i, err)
		}
	}
	err := l.TryAdmit("key", limit, 1)
	f, ok := fault.AsFault(err)
	if !ok || f.Kind != fault.RateLimitExceeded {
		t.Fatalf("want RateLimitExceeded, got %v", err)
	}
	if f.RetryAfter <= 0 || f.RetryAfter > time.Second {
		t.Fatalf("retry-after %v out of range", f.RetryAfter)
	}
}

func TestRefillReadmits(t *testing.T) {
	l, clock := newTestLimiter(time.Unix(0, 0))
	limit := Limit{Capacity: 2, RefillPerSec: 2} // one token per 500ms

	for i := 0; i < 2; i++ {
		if err := l.TryAdmit("key", limit, 1); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.TryAdmit("key", limit, 1); err == nil {
		t.Fatal("exhausted bucket admitted")
	}

	*clock = clock.Add(500 * time.Millisecond)
	if err := l.TryAdmit("key", limit, 1); err != nil {
		t.Fatalf("refilled token not admitted: %v", err)
	}
	if err := l.TryAdmit("key", limit, 1); err == nil {
		t.Fatal("second admission without second refill")
	}
}

func TestRefillCapsAtCapacity(t *testing.T) {
	l, clock := newTestLimiter(time.Unix(0, 0))
	limit := Limit{Capacity: 3, RefillPerSec: 100}

	if err := l.TryAdmit("key", limit, 1); err != nil {
		t.Fatal(err)
	}
	*clock = clock.Add(time.Hour)
	admitted := 0
	for l.TryAdmit("key", limit, 1) == nil {
		admitted++
		if admitted > 10 {
			break
		}
	}
	if admitted != 3 {
		t.Fatalf("admitted %d after long idle, want capacity 3", admitted)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(0, 0))
	limit := Limit{Capacity: 1, RefillPerSec: 1}

	if err := l.TryAdmit("a", limit, 1); err != nil {
		t.Fatal(err)
	}
	if err := l.TryAdmit("a", limit, 1); err == nil {
		t.Fatal("key a over-admitted")
	}
	if err := l.TryAdmit("b", limit, 1); err != nil {
		t.Fatalf("key b throttled by key a: %v", err)
	}
}

func TestZeroLimitMeansUnlimited(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(0, 0))
	for i := 0; i < 1000; i++ {
		if err := l.TryAdmit("key", Limit{}, 1); err != nil {
			t.Fatalf("unlimited key rejected: %v", err)
		}
	}
}

func TestConcurrentAdmissionsNeverOverAdmit(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(0, 0))
	limit := Limit{Capacity: 100, RefillPerSec: 0.0001}

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if l.TryAdmit("key", limit, 1) == nil {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	if admitted != 100 {
		t.Fatalf("admitted %d of 500 attempts, want exactly capacity 100", admitted)
	}
}

func TestForget(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(0, 0))
	limit := Limit{Capacity: 1, RefillPerSec: 0.001}
	if err := l.TryAdmit("key", limit, 1); err != nil {
		t.Fatal(err)
	}
	l.Forget("key")
	if err := l.TryAdmit("key", limit, 1); err != nil {
		t.Fatalf("forgotten key should start with a full bucket: %v", err)
	}
}
