package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidalhq/tidal/internal/event"
)

func ref(tenant, topic string) event.Ref {
	return event.Ref{Scope: event.Scope{Tenant: tenant, Project: "prod"}, Topic: topic}
}

func TestSubscribeMatchUnsubscribe(t *testing.T) {
	r := New()
	orders := ref("acme", "orders")

	r.Subscribe("c1", orders)
	r.Subscribe("c2", orders)
	assert.ElementsMatch(t, []string{"c1", "c2"}, r.Match(orders))
	assert.Equal(t, 2, r.Count(orders))

	r.Unsubscribe("c1", orders)
	assert.Equal(t, []string{"c2"}, r.Match(orders))

	r.Unsubscribe("c2", orders)
	assert.Empty(t, r.Match(orders))
	assert.Equal(t, 0, r.Count(orders))
}

func TestSubscribeIsIdempotent(t *testing.T) {
	r := New()
	orders := ref("acme", "orders")
	r.Subscribe("c1", orders)
	r.Subscribe("c1", orders)
	assert.Equal(t, []string{"c1"}, r.Match(orders))
}

func TestUnsubscribeUnknownIsNoop(t *testing.T) {
	r := New()
	r.Unsubscribe("ghost", ref("acme", "orders"))
	assert.Empty(t, r.Match(ref("acme", "orders")))
}

func TestScopeSeparatesSameTopicName(t *testing.T) {
	r := New()
	a := ref("acme", "orders")
	b := ref("globex", "orders")

	r.Subscribe("conn-acme", a)
	r.Subscribe("conn-globex", b)

	assert.Equal(t, []string{"conn-acme"}, r.Match(a))
	assert.Equal(t, []string{"conn-globex"}, r.Match(b))
}

func TestMatchReturnsCopy(t *testing.T) {
	r := New()
	orders := ref("acme", "orders")
	r.Subscribe("c1", orders)

	got := r.Match(orders)
	require.Len(t, got, 1)
	got[0] = "mutated"
	assert.Equal(t, []string{"c1"}, r.Match(orders))
}

func TestConcurrentChurn(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			topic := ref("acme", fmt.Sprintf("topic-%d", w%4))
			id := fmt.Sprintf("conn-%d", w)
			for i := 0; i < 500; i++ {
				r.Subscribe(id, topic)
				_ = r.Match(topic)
				r.Unsubscribe(id, topic)
			}
		}(w)
	}
	// Matches on an unrelated topic run concurrently with churn.
	wg.Add(1)
	go func() {
		defer wg.Done()
		steady := ref("acme", "steady")
		r.Subscribe("steady-conn", steady)
		for i := 0; i < 2000; i++ {
			assert.Equal(t, []string{"steady-conn"}, r.Match(steady))
		}
	}()
	wg.Wait()

	for w := 0; w < 4; w++ {
		assert.Equal(t, 0, r.Count(ref("acme", fmt.Sprintf("topic-%d", w))))
	}
}
