package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tidalhq/tidal/internal/archive"
	cfgpkg "github.com/tidalhq/tidal/internal/config"
	"github.com/tidalhq/tidal/internal/connmgr"
	"github.com/tidalhq/tidal/internal/dispatch"
	"github.com/tidalhq/tidal/internal/dlq"
	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/eventlog"
	"github.com/tidalhq/tidal/internal/identity"
	"github.com/tidalhq/tidal/internal/metrics"
	"github.com/tidalhq/tidal/internal/ratelimit"
	"github.com/tidalhq/tidal/internal/registry"
	"github.com/tidalhq/tidal/internal/retention"
	pebblestore "github.com/tidalhq/tidal/internal/storage/pebble"
	"github.com/tidalhq/tidal/internal/usage"
	"github.com/tidalhq/tidal/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
}

// Runtime wires storage, identity, fan-out, and the background loops for a
// single-node instance.
type Runtime struct {
	config cfgpkg.Config
	logger log.Logger

	db    *pebblestore.DB
	ident *identity.Store

	met       *metrics.Metrics
	store     *eventlog.Store
	reg       *registry.Registry
	mgr       *connmgr.Manager
	router    *dlq.Router
	disp      *dispatch.Dispatcher
	limiter   *ratelimit.Limiter
	usage     *usage.Recorder
	compactor *retention.Compactor
}

// ParseFsync maps the config string to a storage fsync mode.
func ParseFsync(mode string) (pebblestore.FsyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "interval":
		return pebblestore.FsyncModeInterval, nil
	case "always":
		return pebblestore.FsyncModeAlways, nil
	case "never":
		return pebblestore.FsyncModeNever, nil
	default:
		return pebblestore.FsyncModeUnspecified, errors.New("runtime: unknown fsync mode " + mode)
	}
}

// Open initializes storage and every engine component. Background loops do
// not run until Start.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}

	fsync, err := ParseFsync(cfg.Fsync)
	if err != nil {
		return nil, err
	}
	met := metrics.New()
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: filepath.Join(cfg.DataDir, "log"),
		Fsync:   fsync,
		Metrics: met,
	})
	if err != nil {
		return nil, err
	}
	ident, err := identity.Open(filepath.Join(cfg.DataDir, "identity.db"))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	rt := &Runtime{config: cfg, logger: logger, db: db, ident: ident, met: met}
	rt.store = eventlog.NewStore(db, eventlog.Options{
		Compress: true,
		DefaultPolicy: eventlog.Policy{
			MaxAge:   cfg.Retention.DefaultMaxAge,
			MaxBytes: cfg.Retention.DefaultMaxBytes,
		},
	})
	rt.reg = registry.New()
	rt.limiter = ratelimit.New()
	rt.usage = usage.New(usage.Options{
		Flusher:       ident,
		Logger:        logger.With(log.Component("usage")),
		FlushInterval: cfg.Usage.FlushInterval,
		Buffer:        cfg.Usage.Buffer,
	})
	rt.mgr = connmgr.New(connmgr.Options{
		QueueCap: cfg.Defaults.QueueCap,
		Logger:   logger.With(log.Component("connmgr")),
		OnRelease: func(conn *connmgr.Conn, reason connmgr.CloseReason, lifetime time.Duration) {
			rt.usage.ConnectionClosed(conn.Scope(), lifetime)
			rt.met.ConnectionClosed(conn.Scope())
		},
	})
	rt.router = dlq.NewRouter(rt.store, logger.With(log.Component("dlq")))

	hooks := met.DispatchHooks()
	baseDelivered := hooks.Delivered
	hooks.Delivered = func(scope event.Scope, topic string, n int) {
		baseDelivered(scope, topic, n)
		rt.usage.EventsDelivered(scope, int64(n))
	}
	rt.disp = dispatch.New(rt.store, rt.reg, rt.mgr, rt.router, dispatch.Options{
		BatchSize:  cfg.Dispatch.BatchSize,
		StallGrace: cfg.Dispatch.StallGrace,
		RetryTick:  cfg.Dispatch.RetryTick,
		IdleWait:   cfg.Dispatch.IdleWait,
		Hooks:      hooks,
		Logger:     logger.With(log.Component("dispatch")),
	})

	var archiver *archive.Archiver
	if cfg.Archive.Bucket != "" {
		s3store, err := archive.NewS3Store(ctx, archive.S3Config{
			Bucket:       cfg.Archive.Bucket,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			UsePathStyle: cfg.Archive.UsePathStyle,
		})
		if err != nil {
			_ = ident.Close()
			_ = db.Close()
			return nil, err
		}
		archiver = archive.New(archive.Options{
			Store:  s3store,
			Prefix: cfg.Archive.Prefix,
			Logger: logger.With(log.Component("archive")),
		})
	}
	rt.compactor = retention.New(retention.Options{
		Store:       rt.store,
		Archiver:    archiver,
		Interval:    cfg.Retention.Interval,
		SegmentSize: cfg.Retention.SegmentSize,
		Logger:      logger.With(log.Component("retention")),
		Hooks: retention.Hooks{
			Trimmed:  func(event.Ref, int) { met.RetentionTrimmed() },
			Archived: func(event.Ref, string) { met.ArchiveSegmentWritten() },
		},
	})

	// Re-arm in-memory suspensions from the durable tenant status.
	tenants, err := ident.ListTenants(ctx)
	if err != nil {
		_ = ident.Close()
		_ = db.Close()
		return nil, err
	}
	for _, t := range tenants {
		if t.Status == identity.StatusSuspended {
			rt.mgr.SuspendTenant(ctx, t.ID)
		}
	}
	return rt, nil
}

// Start runs the background loops until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(r.usage.Start(gctx)) })
	g.Go(func() error { return ignoreCancel(r.compactor.Start(gctx)) })
	return g.Wait()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close shuts down dispatch and the stores.
func (r *Runtime) Close() error {
	r.disp.Close()
	r.mgr.Shutdown()
	err := r.ident.Close()
	if derr := r.db.Close(); derr != nil {
		err = derr
	}
	return err
}

// CheckHealth verifies the storage layer answers reads.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Accessors for the wiring layer.

func (r *Runtime) Config() cfgpkg.Config          { return r.config }
func (r *Runtime) Identity() *identity.Store      { return r.ident }
func (r *Runtime) Store() *eventlog.Store         { return r.store }
func (r *Runtime) Manager() *connmgr.Manager      { return r.mgr }
func (r *Runtime) Dispatcher() *dispatch.Dispatcher { return r.disp }
func (r *Runtime) Limiter() *ratelimit.Limiter    { return r.limiter }
func (r *Runtime) Usage() *usage.Recorder         { return r.usage }
func (r *Runtime) Metrics() *metrics.Metrics      { return r.met }
