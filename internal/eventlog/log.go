package eventlog

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/fault"
	pebblestore "github.com/tidalhq/tidal/internal/storage/pebble"
)

// AppendRecord is a single appendable event.
type AppendRecord struct {
	Header  Header
	Payload []byte
}

// Log provides append-only operations for one (tenant, project, topic) log.
// Appends on the same log are serialized by the per-log mutex; different logs
// are fully independent.
type Log struct {
	db       *pebblestore.DB
	ref      event.Ref
	compress bool
	maxBytes int64 // storage budget for this log, 0 = unlimited

	mu       sync.Mutex
	lastSeq  uint64
	earliest uint64 // earliest retained seq, 0 until first append
	bytes    int64  // approximate stored entry bytes
	notifyCh chan struct{}
}

// Meta value: lastSeq(8) | earliest(8) | bytes(8).
const metaLen = 24

// OpenLog initializes a Log and loads its metadata record, if present.
func OpenLog(db *pebblestore.DB, ref event.Ref, compress bool, maxBytes int64) (*Log, error) {
	l := &Log{db: db, ref: ref, compress: compress, maxBytes: maxBytes, notifyCh: make(chan struct{})}
	meta, err := db.Get(KeyMeta(ref))
	switch {
	case err == nil && len(meta) >= metaLen:
		l.lastSeq = binary.BigEndian.Uint64(meta[0:8])
		l.earliest = binary.BigEndian.Uint64(meta[8:16])
		l.bytes = int64(binary.BigEndian.Uint64(meta[16:24]))
	case err != nil && !pebblestore.IsNotFound(err):
		return nil, err
	}
	return l, nil
}

// Ref returns the log's address.
func (l *Log) Ref() event.Ref { return l.ref }

// LastSeq returns the highest committed sequence number, 0 if empty.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// EarliestSeq returns the oldest retained sequence number. For a log that has
// never been trimmed this is 1; for an empty log it is lastSeq+1.
func (l *Log) EarliestSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.earliestLocked()
}

func (l *Log) earliestLocked() uint64 {
	if l.earliest == 0 {
		return 1
	}
	return l.earliest
}

// Bytes returns the approximate stored entry bytes.
func (l *Log) Bytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytes
}

// Append appends the records as one atomic batch and returns the assigned
// sequence numbers. Sequence numbers are gapless: the batch either commits
// fully or leaves the log untouched.
func (l *Log) Append(ctx context.Context, recs []AppendRecord) ([]uint64, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	seqs := make([]uint64, len(recs))
	vals := make([][]byte, len(recs))
	seq := l.lastSeq
	var added int64
	for i, r := range recs {
		seq++
		vals[i] = EncodeRecord(EncodeHeader(r.Header), r.Payload, l.compress)
		added += int64(len(vals[i]))
		seqs[i] = seq
	}

	if l.maxBytes > 0 && l.bytes+added > l.maxBytes {
		return nil, fault.New(fault.CapacityExceeded,
			"log storage budget exhausted (%d of %d bytes)", l.bytes, l.maxBytes).
			WithScope(l.ref.Scope.Tenant, l.ref.Scope.Project, l.ref.Topic)
	}

	earliest := l.earliest
	if earliest == 0 {
		earliest = 1
	}
	meta := encodeMeta(seq, earliest, l.bytes+added)

	// Transient storage faults are retried with bounded exponential backoff.
	// Exhausted retries surface as Unavailable so the publish call fails
	// loudly instead of dropping the event.
	var err error
	backoff := 10 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = l.commitAppend(ctx, seqs, vals, meta); err == nil {
			break
		}
	}
	if err != nil {
		return nil, fault.Wrap(err, fault.Unavailable, "log append failed after retries").
			WithScope(l.ref.Scope.Tenant, l.ref.Scope.Project, l.ref.Topic)
	}

	l.lastSeq = seq
	l.earliest = earliest
	l.bytes += added

	// wake blocked readers
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return seqs, nil
}

func (l *Log) commitAppend(ctx context.Context, seqs []uint64, vals [][]byte, meta []byte) error {
	b := l.db.NewBatch()
	defer b.Close()
	for i, s := range seqs {
		if err := b.Set(KeyEntry(l.ref, s), vals[i], nil); err != nil {
			return err
		}
	}
	if err := b.Set(KeyMeta(l.ref), meta, nil); err != nil {
		return err
	}
	return l.db.CommitBatch(ctx, b)
}

func encodeMeta(lastSeq, earliest uint64, bytes int64) []byte {
	out := make([]byte, metaLen)
	binary.BigEndian.PutUint64(out[0:8], lastSeq)
	binary.BigEndian.PutUint64(out[8:16], earliest)
	binary.BigEndian.PutUint64(out[16:24], uint64(bytes))
	return out
}
