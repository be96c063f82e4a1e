package ratelimit

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_TokenBucket(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	// A burst against a full bucket admits exactly Capacity calls, no matter
	// how large the burst is.
	properties.Property("burst admits exactly capacity", prop.ForAll(
		func(capacity int, burst int) bool {
			if burst < capacity {
				burst = capacity + 1
			}
			l, _ := newTestLimiter(time.Unix(0, 0))
			limit := Limit{Capacity: float64(capacity), RefillPerSec: 0.000001}

			admitted := 0
			for i := 0; i < burst; i++ {
				if l.TryAdmit("key", limit, 1) == nil {
					admitted++
				}
			}
			return admitted == capacity
		},
		gen.IntRange(1, 50),
		gen.IntRange(1, 200),
	))

	// After draining the bucket, waiting tokens/R seconds admits exactly that
	// many more calls.
	properties.Property("refill admits floor(elapsed*rate) after drain", prop.ForAll(
		func(capacity int, ratePerSec int, waitTokens int) bool {
			l, clock := newTestLimiter(time.Unix(0, 0))
			limit := Limit{Capacity: float64(capacity), RefillPerSec: float64(ratePerSec)}
			if waitTokens > capacity {
				waitTokens = capacity
			}

			for i := 0; i < capacity; i++ {
				if l.TryAdmit("key", limit, 1) != nil {
					return false
				}
			}
			if l.TryAdmit("key", limit, 1) == nil {
				return false
			}

			perToken := time.Duration(float64(time.Second) / float64(ratePerSec))
			*clock = clock.Add(time.Duration(waitTokens)*perToken + time.Millisecond)

			admitted := 0
			for l.TryAdmit("key", limit, 1) == nil {
				admitted++
				if admitted > capacity+1 {
					return false
				}
			}
			return admitted == waitTokens
		},
		gen.IntRange(1, 30),
		gen.IntRange(1, 100),
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t)
}
