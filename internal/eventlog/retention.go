package eventlog

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/tidalhq/tidal/internal/event"
	pebblestore "github.com/tidalhq/tidal/internal/storage/pebble"
)

// Policy is the per-topic retention policy record. Zero values disable the
// corresponding bound. Whichever bound triggers first wins.
type Policy struct {
	MaxAge   time.Duration
	MaxBytes int64
}

func (p Policy) encode() []byte {
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[0:8], uint64(p.MaxAge/time.Millisecond))
	binary.BigEndian.PutUint64(out[8:16], uint64(p.MaxBytes))
	return out
}

func decodePolicy(b []byte) (Policy, bool) {
	if len(b) < 16 {
		return Policy{}, false
	}
	return Policy{
		MaxAge:   time.Duration(binary.BigEndian.Uint64(b[0:8])) * time.Millisecond,
		MaxBytes: int64(binary.BigEndian.Uint64(b[8:16])),
	}, true
}

// SetPolicy persists the retention policy for ref.
func SetPolicy(db *pebblestore.DB, ref event.Ref, p Policy) error {
	return db.Set(KeyRetention(ref), p.encode())
}

// GetPolicy loads the retention policy for ref. ok is false when no record
// exists and the store default applies.
func GetPolicy(db *pebblestore.DB, ref event.Ref) (Policy, bool, error) {
	v, err := db.Get(KeyRetention(ref))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return Policy{}, false, nil
		}
		return Policy{}, false, err
	}
	p, ok := decodePolicy(v)
	return p, ok, nil
}

// TrimBoundary scans from the oldest entry and returns the first sequence
// number to keep under the policy: entries published before now-MaxAge are
// expired, and the oldest entries beyond the MaxBytes budget are expired.
// Returns earliestSeq when nothing expires. The boundary never splits past
// the newest entry, so a fully expired log trims to lastSeq+1.
func (l *Log) TrimBoundary(p Policy, now time.Time) (uint64, error) {
	l.mu.Lock()
	totalBytes := l.bytes
	boundary := l.earliestLocked()
	l.mu.Unlock()

	if p.MaxAge <= 0 && (p.MaxBytes <= 0 || totalBytes <= p.MaxBytes) {
		return boundary, nil
	}
	cutoffMs := int64(0)
	if p.MaxAge > 0 {
		cutoffMs = now.Add(-p.MaxAge).UnixMilli()
	}
	overBudget := int64(0)
	if p.MaxBytes > 0 && totalBytes > p.MaxBytes {
		overBudget = totalBytes - p.MaxBytes
	}

	low, high := EntryBounds(l.ref)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return boundary, err
	}
	defer iter.Close()

	var freed int64
	for ok := iter.First(); ok; ok = iter.Next() {
		seq := SeqFromEntryKey(iter.Key())
		expired := false
		if cutoffMs > 0 {
			if dec, err := DecodeRecord(iter.Value()); err == nil {
				if h, err := DecodeHeader(dec.Header); err == nil && h.PublishedMs < cutoffMs {
					expired = true
				}
			}
		}
		if !expired && freed < overBudget {
			expired = true
		}
		if !expired {
			break
		}
		freed += int64(len(iter.Value()))
		boundary = seq + 1
	}
	return boundary, nil
}

// TruncateBefore removes every entry with sequence number below seq using a
// single range tombstone, then advances the earliest-retained marker. It
// never removes entries at or above seq, so a partially expired range is
// kept whole until all of it expires.
func (l *Log) TruncateBefore(ctx context.Context, seq uint64) (removed int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	earliest := l.earliestLocked()
	if seq <= earliest {
		return 0, nil
	}
	if seq > l.lastSeq+1 {
		seq = l.lastSeq + 1
	}

	// Sum the bytes being dropped so the budget accounting stays honest.
	low := KeyEntry(l.ref, 0)
	high := KeyEntry(l.ref, seq)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return 0, err
	}
	var dropped int64
	for ok := iter.First(); ok; ok = iter.Next() {
		dropped += int64(len(iter.Value()))
		removed++
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if removed == 0 {
		l.earliest = seq
		return 0, l.db.Set(KeyMeta(l.ref), encodeMeta(l.lastSeq, seq, l.bytes))
	}

	b := l.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(low, high, nil); err != nil {
		return 0, err
	}
	newBytes := l.bytes - dropped
	if newBytes < 0 {
		newBytes = 0
	}
	if err := b.Set(KeyMeta(l.ref), encodeMeta(l.lastSeq, seq, newBytes), nil); err != nil {
		return 0, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	l.earliest = seq
	l.bytes = newBytes
	return removed, nil
}
