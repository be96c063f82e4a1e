package eventlog

import (
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/fault"
)

// Item is one decoded log entry.
type Item struct {
	Seq     uint64
	Header  Header
	Payload []byte
}

// Event converts an item into the event record for the log's scope.
func (l *Log) Event(it Item) event.Event {
	return event.Event{
		ID:          it.Header.ID,
		Tenant:      l.ref.Scope.Tenant,
		Project:     l.ref.Scope.Project,
		Topic:       l.ref.Topic,
		Type:        it.Header.Type,
		Payload:     it.Payload,
		Seq:         it.Seq,
		PublishedAt: time.UnixMilli(it.Header.PublishedMs),
	}
}

// ReadOptions controls a range read.
type ReadOptions struct {
	// From is the first sequence number to include. 0 means the earliest
	// retained entry.
	From uint64
	// Limit caps the number of items. 0 means no cap.
	Limit int
	// Reverse scans descending from the newest entry. From is ignored.
	Reverse bool
}

// Read returns up to Limit decoded items in ascending (or descending)
// sequence order. Corrupt entries are skipped.
func (l *Log) Read(opts ReadOptions) ([]Item, error) {
	low, high := EntryBounds(l.ref)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	items := make([]Item, 0, min(16, max(1, opts.Limit)))

	if opts.Reverse {
		for ok := iter.Last(); ok && (opts.Limit == 0 || len(items) < opts.Limit); ok = iter.Prev() {
			if it, ok := decodeItem(iter); ok {
				items = append(items, it)
			}
		}
		return items, nil
	}

	var ok bool
	if opts.From == 0 {
		ok = iter.First()
	} else {
		ok = iter.SeekGE(KeyEntry(l.ref, opts.From))
	}
	for ; ok && (opts.Limit == 0 || len(items) < opts.Limit); ok = iter.Next() {
		if it, ok := decodeItem(iter); ok {
			items = append(items, it)
		}
	}
	return items, nil
}

// ReadAfter returns up to max items with sequence number strictly greater
// than afterSeq. A cursor pointing before the retained window fails with
// CursorExpired carrying the earliest valid offset.
func (l *Log) ReadAfter(afterSeq uint64, max int) ([]Item, error) {
	earliest := l.EarliestSeq()
	if afterSeq+1 < earliest {
		return nil, fault.New(fault.CursorExpired,
			"offset %d is older than the retained window", afterSeq).
			WithScope(l.ref.Scope.Tenant, l.ref.Scope.Project, l.ref.Topic).
			WithSeq(afterSeq).WithEarliest(earliest)
	}
	return l.Read(ReadOptions{From: afterSeq + 1, Limit: max})
}

func decodeItem(iter *pebble.Iterator) (Item, bool) {
	dec, err := DecodeRecord(iter.Value())
	if err != nil {
		return Item{}, false
	}
	h, err := DecodeHeader(dec.Header)
	if err != nil {
		return Item{}, false
	}
	return Item{Seq: SeqFromEntryKey(iter.Key()), Header: h, Payload: dec.Payload}, true
}
