package eventlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/fault"
	pebblestore "github.com/tidalhq/tidal/internal/storage/pebble"
)

func newTestDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testRef(topic string) event.Ref {
	return event.Ref{Scope: event.Scope{Tenant: "acme", Project: "prod"}, Topic: topic}
}

func rec(id string, payload string) AppendRecord {
	return AppendRecord{
		Header:  Header{ID: id, Type: "test", PublishedMs: time.Now().UnixMilli()},
		Payload: []byte(payload),
	}
}

func TestAppendAssignsGaplessSeqs(t *testing.T) {
	db := newTestDB(t)
	l, err := OpenLog(db, testRef("orders"), false, 0)
	if err != nil {
		t.Fatal(err)
	}

	seqs, err := l.Append(context.Background(), []AppendRecord{rec("a", "1"), rec("b", "2"), rec("c", "3")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	for i, s := range seqs {
		if s != uint64(i+1) {
			t.Fatalf("seq[%d] = %d, want %d", i, s, i+1)
		}
	}
	if l.LastSeq() != 3 {
		t.Fatalf("lastSeq = %d", l.LastSeq())
	}
}

func TestConcurrentAppendsStayGapless(t *testing.T) {
	db := newTestDB(t)
	l, err := OpenLog(db, testRef("orders"), false, 0)
	if err != nil {
		t.Fatal(err)
	}

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := l.Append(context.Background(), []AppendRecord{rec("x", "y")}); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	items, err := l.Read(ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != writers*perWriter {
		t.Fatalf("got %d items, want %d", len(items), writers*perWriter)
	}
	for i, it := range items {
		if it.Seq != uint64(i+1) {
			t.Fatalf("gap or duplicate at position %d: seq %d", i, it.Seq)
		}
	}
}

func TestReopenRestoresLastSeq(t *testing.T) {
	db := newTestDB(t)
	ref := testRef("orders")
	l, err := OpenLog(db, ref, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(context.Background(), []AppendRecord{rec("a", "1"), rec("b", "2")}); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenLog(db, ref, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.LastSeq() != 2 {
		t.Fatalf("lastSeq after reopen = %d, want 2", reopened.LastSeq())
	}
	seqs, err := reopened.Append(context.Background(), []AppendRecord{rec("c", "3")})
	if err != nil {
		t.Fatal(err)
	}
	if seqs[0] != 3 {
		t.Fatalf("seq after reopen = %d, want 3", seqs[0])
	}
}

func TestAppendRejectsOverBudget(t *testing.T) {
	db := newTestDB(t)
	l, err := OpenLog(db, testRef("orders"), false, 64)
	if err != nil {
		t.Fatal(err)
	}
	big := make([]byte, 256)
	_, err = l.Append(context.Background(), []AppendRecord{{Header: Header{ID: "a", PublishedMs: 1}, Payload: big}})
	if !fault.Is(err, fault.CapacityExceeded) {
		t.Fatalf("want CapacityExceeded, got %v", err)
	}
	if l.LastSeq() != 0 {
		t.Fatalf("rejected append mutated lastSeq: %d", l.LastSeq())
	}
}

func TestLogsAreIndependent(t *testing.T) {
	db := newTestDB(t)
	a, _ := OpenLog(db, testRef("orders"), false, 0)
	b, _ := OpenLog(db, testRef("shipments"), false, 0)

	if _, err := a.Append(context.Background(), []AppendRecord{rec("a", "1")}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Append(context.Background(), []AppendRecord{rec("b", "1"), rec("c", "2")}); err != nil {
		t.Fatal(err)
	}
	if a.LastSeq() != 1 || b.LastSeq() != 2 {
		t.Fatalf("cross-log interference: a=%d b=%d", a.LastSeq(), b.LastSeq())
	}
}

func TestWaitForAppendWakes(t *testing.T) {
	db := newTestDB(t)
	l, _ := OpenLog(db, testRef("orders"), false, 0)

	done := make(chan bool, 1)
	go func() {
		done <- l.WaitForAppend(context.Background(), time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	if _, err := l.Append(context.Background(), []AppendRecord{rec("a", "1")}); err != nil {
		t.Fatal(err)
	}
	select {
	case woke := <-done:
		if !woke {
			t.Fatal("waiter timed out despite append")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never returned")
	}
}

func TestWaitForAppendTimesOut(t *testing.T) {
	db := newTestDB(t)
	l, _ := OpenLog(db, testRef("orders"), false, 0)
	if l.WaitForAppend(context.Background(), 20*time.Millisecond) {
		t.Fatal("expected timeout")
	}
}

func TestWaitForAppendHonorsContext(t *testing.T) {
	db := newTestDB(t)
	l, _ := OpenLog(db, testRef("orders"), false, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if l.WaitForAppend(ctx, time.Second) {
		t.Fatal("expected cancellation")
	}
}
