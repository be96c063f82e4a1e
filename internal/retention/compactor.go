// Package retention runs the background compactor that enforces per-topic
// age and size bounds, archiving expired segments before truncation.
package retention

import (
	"context"
	"time"

	"github.com/tidalhq/tidal/internal/archive"
	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/eventlog"
	"github.com/tidalhq/tidal/pkg/log"
)

// Hooks observe compactor outcomes. All optional.
type Hooks struct {
	// Trimmed is called after a topic is truncated, with the removed count.
	Trimmed func(ref event.Ref, removed int)
	// Archived is called after a segment upload.
	Archived func(ref event.Ref, key string)
}

// Options configure a Compactor.
type Options struct {
	Store *eventlog.Store
	// Archiver, when set, exports expired entries before they are removed.
	Archiver *archive.Archiver
	// Interval is how often every topic is inspected.
	Interval time.Duration
	// SegmentSize caps events per archived segment.
	SegmentSize int
	Hooks       Hooks
	Logger      log.Logger
}

// Compactor periodically walks every topic log, computes the retention
// boundary, archives what is about to expire, then truncates. Each pass is
// idempotent: a crash between archive and truncate re-exports the same
// segment under the same key on the next pass.
type Compactor struct {
	store    *eventlog.Store
	archiver *archive.Archiver
	interval time.Duration
	segSize  int
	hooks    Hooks
	logger   log.Logger
	now      func() time.Time
}

// New creates a Compactor. Start must be called to begin passes.
func New(opts Options) *Compactor {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.SegmentSize <= 0 {
		opts.SegmentSize = 1000
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger().With(log.Component("retention"))
	}
	return &Compactor{
		store:    opts.Store,
		archiver: opts.Archiver,
		interval: opts.Interval,
		segSize:  opts.SegmentSize,
		hooks:    opts.Hooks,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// Start runs passes on the interval until ctx is cancelled.
func (c *Compactor) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.RunOnce(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("retention pass failed", log.Err(err))
			}
		}
	}
}

// RunOnce performs a single pass over every topic. Per-topic failures are
// logged and do not stop the pass.
func (c *Compactor) RunOnce(ctx context.Context) error {
	refs, err := c.store.ListRefs()
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.compactTopic(ctx, ref); err != nil {
			c.logger.Warn("compact topic failed",
				log.Str("tenant", ref.Scope.Tenant),
				log.Str("topic", ref.Topic),
				log.Err(err))
		}
	}
	return nil
}

func (c *Compactor) compactTopic(ctx context.Context, ref event.Ref) error {
	policy, err := c.store.Policy(ref)
	if err != nil {
		return err
	}
	if policy.MaxAge <= 0 && policy.MaxBytes <= 0 {
		return nil
	}
	l, err := c.store.Log(ref)
	if err != nil {
		return err
	}
	boundary, err := l.TrimBoundary(policy, c.now())
	if err != nil {
		return err
	}
	if boundary <= l.EarliestSeq() {
		return nil
	}

	if c.archiver != nil {
		if err := c.archiveBelow(ctx, l, ref, boundary); err != nil {
			return err
		}
	}

	removed, err := l.TruncateBefore(ctx, boundary)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.logger.Debug("trimmed topic",
			log.Str("tenant", ref.Scope.Tenant),
			log.Str("topic", ref.Topic),
			log.Int("removed", removed),
			log.Uint64("boundary", boundary))
		if c.hooks.Trimmed != nil {
			c.hooks.Trimmed(ref, removed)
		}
	}
	return nil
}

// archiveBelow exports every entry with seq < boundary in fixed-size
// segments. The upload happens before the truncate so a retained entry is
// never the only copy lost.
func (c *Compactor) archiveBelow(ctx context.Context, l *eventlog.Log, ref event.Ref, boundary uint64) error {
	var batch []event.Event
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		key, err := c.archiver.Export(ctx, ref, batch)
		if err != nil {
			return err
		}
		if c.hooks.Archived != nil {
			c.hooks.Archived(ref, key)
		}
		batch = batch[:0]
		return nil
	}

	from := uint64(0)
	for {
		items, err := l.Read(eventlog.ReadOptions{From: from, Limit: c.segSize})
		if err != nil {
			return err
		}
		done := len(items) < c.segSize
		for _, it := range items {
			if it.Seq >= boundary {
				done = true
				break
			}
			batch = append(batch, l.Event(it))
			if len(batch) >= c.segSize {
				if err := flush(); err != nil {
					return err
				}
			}
			from = it.Seq + 1
		}
		if done {
			break
		}
	}
	return flush()
}
