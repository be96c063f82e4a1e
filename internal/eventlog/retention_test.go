package eventlog

import (
	"context"
	"testing"
	"time"
)

func TestTruncateBeforeRemovesAndAdvancesEarliest(t *testing.T) {
	db := newTestDB(t)
	l, _ := OpenLog(db, testRef("orders"), false, 0)
	fillLog(t, l, 10)

	removed, err := l.TruncateBefore(context.Background(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}
	if l.EarliestSeq() != 4 {
		t.Fatalf("earliest = %d, want 4", l.EarliestSeq())
	}
	items, err := l.Read(ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 7 || items[0].Seq != 4 {
		t.Fatalf("unexpected survivors: %+v", items)
	}
}

func TestTruncateBeforeIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	l, _ := OpenLog(db, testRef("orders"), false, 0)
	fillLog(t, l, 5)

	if _, err := l.TruncateBefore(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	removed, err := l.TruncateBefore(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Fatalf("second truncate removed %d", removed)
	}
}

func TestTruncateSurvivesReopen(t *testing.T) {
	db := newTestDB(t)
	ref := testRef("orders")
	l, _ := OpenLog(db, ref, false, 0)
	fillLog(t, l, 10)
	if _, err := l.TruncateBefore(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenLog(db, ref, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.EarliestSeq() != 7 || reopened.LastSeq() != 10 {
		t.Fatalf("reopen lost markers: earliest=%d last=%d", reopened.EarliestSeq(), reopened.LastSeq())
	}
}

func TestTrimBoundaryByAge(t *testing.T) {
	db := newTestDB(t)
	l, _ := OpenLog(db, testRef("orders"), false, 0)
	// fillLog publishes entries at PublishedMs 1000, 1001, ...
	fillLog(t, l, 10)

	// Entries before 1005 are expired.
	boundary, err := l.TrimBoundary(Policy{MaxAge: time.Hour}, time.UnixMilli(1005).Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if boundary != 6 {
		t.Fatalf("boundary = %d, want 6", boundary)
	}
}

func TestTrimBoundaryByBytes(t *testing.T) {
	db := newTestDB(t)
	l, _ := OpenLog(db, testRef("orders"), false, 0)
	fillLog(t, l, 10)

	total := l.Bytes()
	perEntry := total / 10
	// Budget for roughly seven entries: the three oldest expire.
	boundary, err := l.TrimBoundary(Policy{MaxBytes: perEntry*7 + perEntry/2}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if boundary < 3 || boundary > 5 {
		t.Fatalf("boundary = %d, want around 4", boundary)
	}
}

func TestTrimBoundaryNothingExpired(t *testing.T) {
	db := newTestDB(t)
	l, _ := OpenLog(db, testRef("orders"), false, 0)
	fillLog(t, l, 5)

	boundary, err := l.TrimBoundary(Policy{MaxAge: 24 * time.Hour}, time.UnixMilli(2000))
	if err != nil {
		t.Fatal(err)
	}
	if boundary != 1 {
		t.Fatalf("boundary = %d, want 1", boundary)
	}
}

func TestPolicyRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ref := testRef("orders")

	if _, ok, err := GetPolicy(db, ref); err != nil || ok {
		t.Fatalf("expected no policy, got ok=%v err=%v", ok, err)
	}
	want := Policy{MaxAge: 48 * time.Hour, MaxBytes: 1 << 20}
	if err := SetPolicy(db, ref, want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := GetPolicy(db, ref)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}
