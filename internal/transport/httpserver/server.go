// Package httpserver runs an http.Handler under a supervisor so a listener
// failure restarts the serve loop instead of silently ending it.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "github.com/SaadAmer/TFL-line-status/internal/runtime/supervisor"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

type Config struct {
	Addr              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// run is one Start..Stop cycle.
type run struct {
	sup *rtsup.Supervisor
	ln  net.Listener
	srv *http.Server
	// stopped is set by Stop and closed once shutdown has finished.
	stopped chan struct{}
}

// Server owns one listener at a time. It is safe for concurrent use.
type Server struct {
	name string
	log  logx.Logger

	mu      sync.Mutex
	cfg     Config
	handler http.Handler
	cur     *run
}

func New(name string, cfg Config, h http.Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{name: name, cfg: cfg, handler: h, log: log.With(logx.String("server", name))}
}

// Addr is the bound address while serving, "" otherwise.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.ln == nil {
		return ""
	}
	return s.cur.ln.Addr().String()
}

func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// Start binds synchronously, so a busy port fails here, then serves in the
// background. Calling it on a running server is a no-op.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	for s.cur != nil && s.cur.stopped != nil {
		stopped := s.cur.stopped
		s.mu.Unlock()
		select {
		case <-stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.cur != nil {
		return nil
	}

	ln, err := net.Listen("tcp", listenAddr(s.cfg.Addr))
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	r := &run{
		ln:  ln,
		sup: rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}
	s.cur = r
	r.sup.GoRestart("http.serve", func(c context.Context) error { return s.serve(c, r) },
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
	return nil
}

// Stop shuts the server down gracefully until ctx ends, then closes it.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	r := s.cur
	if r == nil {
		s.mu.Unlock()
		return nil
	}
	if r.stopped != nil {
		stopped := r.stopped
		s.mu.Unlock()
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.stopped = make(chan struct{})
	srv, ln := r.srv, r.ln
	s.mu.Unlock()

	errc := make(chan error, 1)
	go func() { errc <- s.shutdown(ctx, r, srv, ln) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		r.sup.Cancel()
		return ctx.Err()
	}
}

func (s *Server) shutdown(ctx context.Context, r *run, srv *http.Server, ln net.Listener) error {
	defer close(r.stopped)

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
		_ = srv.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
	r.sup.Cancel()
	_ = r.sup.Wait(context.Background())

	s.mu.Lock()
	if s.cur == r {
		s.cur = nil
	}
	s.mu.Unlock()
	s.log.Info("http server stopped")
	return err
}

// Reconfigure restarts a running server when its config changes or a new
// handler is given. A nil handler keeps the current one.
func (s *Server) Reconfigure(ctx context.Context, cfg Config, h http.Handler) error {
	s.mu.Lock()
	changed := s.cfg != cfg || h != nil
	running := s.cur != nil
	s.cfg = cfg
	if h != nil {
		s.handler = h
	}
	s.mu.Unlock()

	if !running || !changed {
		return nil
	}
	if err := s.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("http server stop during reconfigure", logx.Err(err))
	}
	return s.Start(ctx)
}

// serve runs one http.Server on r's listener. The supervisor calls it again
// after a failure, in which case the listener is bound anew.
func (s *Server) serve(ctx context.Context, r *run) error {
	s.mu.Lock()
	if r.stopped != nil {
		s.mu.Unlock()
		return context.Canceled
	}
	cfg, h, ln := s.cfg, s.handler, r.ln
	s.mu.Unlock()

	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", listenAddr(cfg.Addr)); err != nil {
			s.log.Error("http listen failed", logx.String("addr", cfg.Addr), logx.Err(err))
			return err
		}
	}
	srv := &http.Server{
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.mu.Lock()
	r.ln, r.srv = ln, srv
	s.mu.Unlock()

	// Bounded; Stop does the real graceful shutdown.
	release := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer release()

	s.log.Info("http server started", logx.String("addr", ln.Addr().String()))
	err := srv.Serve(ln)

	s.mu.Lock()
	r.ln, r.srv = nil, nil
	stopping := r.stopped != nil
	s.mu.Unlock()

	switch {
	case stopping || ctx.Err() != nil:
		return context.Canceled
	case err == nil || errors.Is(err, http.ErrServerClosed):
		return errors.New("http server exited unexpectedly")
	default:
		return err
	}
}

func listenAddr(addr string) string {
	if a := strings.TrimSpace(addr); a != "" {
		return a
	}
	return "127.0.0.1:0"
}

// IsLoopbackAddr reports whether addr (host:port) binds only to loopback.
// An empty host means every interface.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	switch host = strings.TrimSpace(host); {
	case host == "":
		return false
	case strings.EqualFold(host, "localhost"):
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
