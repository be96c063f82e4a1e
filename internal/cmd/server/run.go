package serverrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/tidalhq/tidal/internal/config"
	"github.com/tidalhq/tidal/internal/runtime"
	httpserver "github.com/tidalhq/tidal/internal/server/http"
	"github.com/tidalhq/tidal/internal/server/http/controllers"
	adminsvc "github.com/tidalhq/tidal/internal/services/admin"
	eventsvc "github.com/tidalhq/tidal/internal/services/events"
	logpkg "github.com/tidalhq/tidal/pkg/log"
)

// Options configure a server run.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger

	// Ready, when non-nil, receives the bound HTTP address once the
	// listener is accepting connections.
	Ready chan<- string
}

// Run opens the runtime, serves the HTTP API, and blocks until ctx is
// cancelled or a component fails. Shutdown is graceful: the listener
// drains before the runtime and its databases close.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so direct
	// callers get SIGINT/SIGTERM handling for free.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		l, err := logpkg.NewFromConfig(cfg.Log)
		if err != nil {
			return err
		}
		logger = l
	}
	logpkg.RedirectStdLog(logger)

	rt, err := runtime.Open(sctx, runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	events := eventsvc.New(eventsvc.Options{
		Store:      rt.Store(),
		Limiter:    rt.Limiter(),
		Manager:    rt.Manager(),
		Dispatcher: rt.Dispatcher(),
		Metrics:    rt.Metrics(),
		Usage:      rt.Usage(),
		Logger:     logger.With(logpkg.Component("events")),
	})
	admin := adminsvc.New(adminsvc.Options{
		Identity: rt.Identity(),
		Store:    rt.Store(),
		Manager:  rt.Manager(),
		Limiter:  rt.Limiter(),
		Logger:   logger.With(logpkg.Component("admin")),
	})
	hsrv := httpserver.New(httpserver.Options{
		Controllers: controllers.Options{
			Events:     events,
			Admin:      admin,
			Authorizer: rt.Identity(),
			Health:     rt.CheckHealth,
			Logger:     logger.With(logpkg.Component("http")),
		},
		MetricsHandler: rt.Metrics().Handler(),
		Logger:         logger.With(logpkg.Component("http")),
	})

	logger.Info("Starting tidal server",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("fsync", cfg.Fsync),
	)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		return hsrv.ListenAndServe(gctx, cfg.HTTPAddr)
	})
	g.Go(func() error {
		return rt.Start(gctx)
	})
	if opts.Ready != nil {
		go func() {
			select {
			case <-hsrv.Ready():
				opts.Ready <- hsrv.Addr()
			case <-gctx.Done():
			}
		}()
	}

	err = g.Wait()
	if err != nil && sctx.Err() == nil {
		return err
	}
	return nil
}
