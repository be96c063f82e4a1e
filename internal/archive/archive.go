// Package archive exports event segments to object storage before retention
// truncates them from the hot log.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"

	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/pkg/log"
)

// ObjectStore is the sink a segment is written to.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte) error
}

// record is the archived form of one event.
type record struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Type        string          `json:"type"`
	Seq         uint64          `json:"seq"`
	PublishedAt time.Time       `json:"published_at"`
	Payload     json.RawMessage `json:"payload"`
}

// Options configure an Archiver.
type Options struct {
	Store ObjectStore
	// Prefix prepends every object key, e.g. "archive".
	Prefix string
	Logger log.Logger
}

// Archiver writes snappy-compressed newline-delimited JSON segments, keyed by
// scope, topic, and sequence range.
type Archiver struct {
	store  ObjectStore
	prefix string
	logger log.Logger
}

// New creates an Archiver. Store must be non-nil.
func New(opts Options) *Archiver {
	if opts.Logger == nil {
		opts.Logger = log.NewLogger().With(log.Component("archive"))
	}
	return &Archiver{store: opts.Store, prefix: opts.Prefix, logger: opts.Logger}
}

// ObjectKey names the segment holding seqs first through last of a topic.
func (a *Archiver) ObjectKey(ref event.Ref, first, last uint64) string {
	key := fmt.Sprintf("%s/%s/%s/%020d-%020d.ndjson.sz",
		ref.Scope.Tenant, ref.Scope.Project, ref.Topic, first, last)
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}
	return key
}

// Export encodes events into one segment and uploads it. Events must be in
// sequence order. An empty slice is a no-op.
func (a *Archiver) Export(ctx context.Context, ref event.Ref, events []event.Event) (string, error) {
	if len(events) == 0 {
		return "", nil
	}
	body, err := EncodeSegment(events)
	if err != nil {
		return "", err
	}
	key := a.ObjectKey(ref, events[0].Seq, events[len(events)-1].Seq)
	if err := a.store.Put(ctx, key, body); err != nil {
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}
	a.logger.Debug("archived segment",
		log.Str("key", key),
		log.Int("events", len(events)),
		log.Int("bytes", len(body)))
	return key, nil
}

// EncodeSegment serializes events as snappy-compressed JSON lines.
func EncodeSegment(events []event.Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		payload := json.RawMessage(ev.Payload)
		if !json.Valid(ev.Payload) {
			raw, err := json.Marshal(string(ev.Payload))
			if err != nil {
				return nil, fmt.Errorf("archive: encode payload: %w", err)
			}
			payload = raw
		}
		r := record{
			ID:          ev.ID,
			Topic:       ev.Topic,
			Type:        ev.Type,
			Seq:         ev.Seq,
			PublishedAt: ev.PublishedAt,
			Payload:     payload,
		}
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("archive: encode event %d: %w", ev.Seq, err)
		}
	}
	return snappy.Encode(nil, buf.Bytes()), nil
}

// DecodeSegment reverses EncodeSegment.
func DecodeSegment(scope event.Scope, body []byte) ([]event.Event, error) {
	raw, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, fmt.Errorf("archive: decompress: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	var out []event.Event
	for dec.More() {
		var r record
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("archive: decode segment: %w", err)
		}
		out = append(out, event.Event{
			ID:          r.ID,
			Tenant:      scope.Tenant,
			Project:     scope.Project,
			Topic:       r.Topic,
			Type:        r.Type,
			Seq:         r.Seq,
			PublishedAt: r.PublishedAt,
			Payload:     []byte(r.Payload),
		})
	}
	return out, nil
}
