package httpserver

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tidalhq/tidal/internal/server/http/controllers"
	"github.com/tidalhq/tidal/pkg/log"
)

// Options configure the HTTP server.
type Options struct {
	Controllers controllers.Options
	// MetricsHandler, when set, is mounted at /metrics.
	MetricsHandler http.Handler
	Logger         log.Logger
}

// Server is the HTTP+SSE transport for the engine.
type Server struct {
	srv    *http.Server
	logger log.Logger

	mu    sync.Mutex
	lis   net.Listener
	ready chan struct{}
}

// New builds the server and registers every route.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger().With(log.Component("http"))
	}
	mux := http.NewServeMux()
	controllers.NewControllerRegistry(opts.Controllers).RegisterAllRoutes(mux)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}
	return &Server{
		srv:    &http.Server{Handler: cors(mux)},
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Handler exposes the route tree for in-process tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lis = l
	s.mu.Unlock()
	close(s.ready)
	s.logger.Info("http server listening", log.Str("addr", l.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound listener address, useful with ":0".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Ready is closed once the listener is accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Close force-closes the listener.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Last-Event-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
