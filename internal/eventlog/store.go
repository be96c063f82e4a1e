package eventlog

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/tidalhq/tidal/internal/event"
	pebblestore "github.com/tidalhq/tidal/internal/storage/pebble"
)

// Options configures a Store.
type Options struct {
	// Compress enables snappy compression for large payloads.
	Compress bool
	// MaxLogBytes is the per-log storage budget. 0 means unlimited.
	MaxLogBytes int64
	// DefaultPolicy applies to topics without a persisted retention record.
	DefaultPolicy Policy
}

// Store owns every topic log and hands out cached Log instances. Log opens
// are serialized; appends only contend on the per-log mutex.
type Store struct {
	db   *pebblestore.DB
	opts Options

	mu   sync.Mutex
	logs map[string]*Log
}

// NewStore creates a Store over db.
func NewStore(db *pebblestore.DB, opts Options) *Store {
	return &Store{db: db, opts: opts, logs: make(map[string]*Log)}
}

// Log returns the cached Log for ref, opening it on first use.
func (s *Store) Log(ref event.Ref) (*Log, error) {
	key := ref.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[key]; ok {
		return l, nil
	}
	l, err := OpenLog(s.db, ref, s.opts.Compress, s.opts.MaxLogBytes)
	if err != nil {
		return nil, err
	}
	s.logs[key] = l
	return l, nil
}

// Append appends one record to ref's log and returns the assigned sequence
// number and publish timestamp.
func (s *Store) Append(ctx context.Context, ref event.Ref, rec AppendRecord) (uint64, time.Time, error) {
	if rec.Header.PublishedMs == 0 {
		rec.Header.PublishedMs = time.Now().UnixMilli()
	}
	l, err := s.Log(ref)
	if err != nil {
		return 0, time.Time{}, err
	}
	seqs, err := l.Append(ctx, []AppendRecord{rec})
	if err != nil {
		return 0, time.Time{}, err
	}
	return seqs[0], time.UnixMilli(rec.Header.PublishedMs), nil
}

// ReadAfter reads up to max events with sequence strictly greater than
// afterSeq from ref's log.
func (s *Store) ReadAfter(ref event.Ref, afterSeq uint64, max int) ([]event.Event, error) {
	l, err := s.Log(ref)
	if err != nil {
		return nil, err
	}
	items, err := l.ReadAfter(afterSeq, max)
	if err != nil {
		return nil, err
	}
	out := make([]event.Event, len(items))
	for i, it := range items {
		out[i] = l.Event(it)
	}
	return out, nil
}

// TruncateBefore applies retention to ref's log.
func (s *Store) TruncateBefore(ctx context.Context, ref event.Ref, seq uint64) (int, error) {
	l, err := s.Log(ref)
	if err != nil {
		return 0, err
	}
	return l.TruncateBefore(ctx, seq)
}

// Policy returns the retention policy for ref, falling back to the store
// default when no record is persisted.
func (s *Store) Policy(ref event.Ref) (Policy, error) {
	p, ok, err := GetPolicy(s.db, ref)
	if err != nil {
		return Policy{}, err
	}
	if !ok {
		return s.opts.DefaultPolicy, nil
	}
	return p, nil
}

// SetPolicy persists a retention policy for ref.
func (s *Store) SetPolicy(ref event.Ref, p Policy) error {
	return SetPolicy(s.db, ref, p)
}

// Stats summarizes one topic log.
type Stats struct {
	Ref      event.Ref
	LastSeq  uint64
	Earliest uint64
	Bytes    int64
}

// TopicStats returns the current stats for ref.
func (s *Store) TopicStats(ref event.Ref) (Stats, error) {
	l, err := s.Log(ref)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Ref: ref, LastSeq: l.LastSeq(), Earliest: l.EarliestSeq(), Bytes: l.Bytes()}, nil
}

// ListRefs enumerates every topic log present on disk by scanning metadata
// records. Used by the retention compactor and admin stats.
func (s *Store) ListRefs() ([]event.Ref, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("t/"),
		UpperBound: []byte("t0"), // '0' is '/'+1
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var refs []event.Ref
	for ok := iter.First(); ok; ok = iter.Next() {
		ref, kind, parseOK := parseKey(iter.Key())
		if parseOK && kind == kindMeta {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// DiskUsage estimates the on-disk bytes for one tenant across all projects
// and topics.
func (s *Store) DiskUsage(tenant string) (uint64, error) {
	low := KeyTenantPrefix(tenant)
	high := append(append([]byte(nil), low[:len(low)-1]...), '/'+1)
	return s.db.DiskUsage(low, high)
}

// parseKey inverts the keyspace layout: t/{tenant}/{project}/g/{topic}\x00{kind}...
func parseKey(key []byte) (event.Ref, byte, bool) {
	if !bytes.HasPrefix(key, []byte("t/")) {
		return event.Ref{}, 0, false
	}
	rest := key[2:]
	i := bytes.IndexByte(rest, '/')
	if i < 0 {
		return event.Ref{}, 0, false
	}
	tenant := string(rest[:i])
	rest = rest[i+1:]
	j := bytes.Index(rest, []byte("/g/"))
	if j < 0 {
		return event.Ref{}, 0, false
	}
	project := string(rest[:j])
	rest = rest[j+3:]
	k := bytes.IndexByte(rest, 0x00)
	if k < 0 || len(rest) < k+2 {
		return event.Ref{}, 0, false
	}
	topic := string(rest[:k])
	kind := rest[k+1]
	return event.Ref{Scope: event.Scope{Tenant: tenant, Project: project}, Topic: topic}, kind, true
}
