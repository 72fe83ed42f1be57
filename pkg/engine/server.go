package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/net/netutil"

	"github.com/rannes/pact-stub-server/internal/index"
	"github.com/rannes/pact-stub-server/pkg/contract"
	"github.com/rannes/pact-stub-server/pkg/logging"
)

// ErrBind wraps listener setup failures so main can map them to the
// bind-failure exit code.
var ErrBind = errors.New("bind failure")

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 30 * time.Second

// ReloadFunc re-runs the contract load. It is invoked on SIGHUP and on
// file watch events; the result replaces the published index atomically.
type ReloadFunc func(ctx context.Context) (*contract.Set, error)

// Server binds the listener and serves the dispatcher over HTTP/1.1 and
// HTTP/2 cleartext.
type Server struct {
	cfg     Config
	log     *slog.Logger
	pub     *index.Published
	handler *Handler
	reload  ReloadFunc
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithLogger sets the operational logger for the server.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithReload enables hot reload: fn re-loads the contract set and the
// server swaps in a freshly built index.
func WithReload(fn ReloadFunc) ServerOption {
	return func(s *Server) {
		s.reload = fn
	}
}

// NewServer builds the index from the contract set and wires the
// dispatcher.
func NewServer(cfg Config, set *contract.Set, opts ...ServerOption) *Server {
	s := &Server{
		cfg: cfg,
		log: logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	idx := index.Build(set, s.log)
	exact, templated := idx.Stats()
	s.log.Info("interaction index built", "exact", exact, "templated", templated)

	s.pub = index.NewPublished(idx)
	s.handler = NewHandler(cfg, s.pub, s.log)
	return s
}

// Handler exposes the dispatcher, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run binds the port and serves until ctx is cancelled. SIGHUP triggers
// a contract reload when a ReloadFunc is configured.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("%w: port %d: %v", ErrBind, s.cfg.Port, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	httpServer := &http.Server{
		Handler: h2c.NewHandler(s.handler, &http2.Server{}),
	}

	reloadCtx, stopReload := context.WithCancel(ctx)
	defer stopReload()
	if s.reload != nil {
		go s.reloadOnSignal(reloadCtx)
		if len(s.cfg.WatchPaths) > 0 {
			go s.watchPaths(reloadCtx)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	s.log.Info("server started", "port", ln.Addr().(*net.TCPAddr).Port)

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

// reloadOnSignal swaps in a fresh index on every SIGHUP.
func (s *Server) reloadOnSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			s.doReload(ctx, "SIGHUP")
		}
	}
}

// watchPaths reloads when any watched contract file or directory
// changes. Events are debounced so editors that write in several steps
// trigger one reload.
func (s *Server) watchPaths(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Error("failed to start contract watcher", "error", err)
		return
	}
	defer func() { _ = watcher.Close() }()

	for _, path := range s.cfg.WatchPaths {
		if err := watcher.Add(path); err != nil {
			s.log.Warn("cannot watch contract path", "path", path, "error", err)
		}
	}

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerCh = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("contract watcher error", "error", err)
		case <-timerCh:
			timer = nil
			timerCh = nil
			s.doReload(ctx, "file change")
		}
	}
}

// doReload re-runs the loader and swaps the published index. A failed
// reload keeps serving the previous snapshot.
func (s *Server) doReload(ctx context.Context, reason string) {
	s.log.Info("reloading contracts", "reason", reason)
	set, err := s.reload(ctx)
	if err != nil {
		s.log.Error("contract reload failed, keeping current index", "error", err)
		return
	}
	idx := index.Build(set, s.log)
	s.pub.Swap(idx)
	exact, templated := idx.Stats()
	s.log.Info("interaction index swapped", "exact", exact, "templated", templated)
}
