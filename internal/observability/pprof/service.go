// Package pprof serves net/http/pprof on a separate, optional listener.
package pprof

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/SaadAmer/TFL-line-status/internal/transport/httpserver"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

// ErrInsecureBind is returned for a non-loopback addr without a token or
// allow_insecure.
var ErrInsecureBind = errors.New("pprof refused to start: non-loopback addr requires token or allow_insecure")

// Config controls the debug server.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	srv *httpserver.Server
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

// Addr is the bound address while running.
func (s *Service) Addr() string {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return ""
	}
	return srv.Addr()
}

// Reconfigure applies cfg, starting, stopping or restarting the listener as
// needed. Safe to call on hot reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6060"
	}
	cfg.Prefix = normalizePrefix(cfg.Prefix)

	s.mu.Lock()
	prev, srv := s.cfg, s.srv
	s.cfg = cfg
	s.mu.Unlock()

	if !cfg.Enabled {
		s.Stop(ctx)
		return nil
	}
	if !cfg.AllowInsecure && cfg.Token == "" && !httpserver.IsLoopbackAddr(cfg.Addr) {
		s.Stop(ctx)
		return ErrInsecureBind
	}
	if cfg.AllowInsecure && cfg.Token == "" && !httpserver.IsLoopbackAddr(cfg.Addr) {
		s.log.Warn("pprof running without token on non-loopback addr (insecure)", logx.String("addr", cfg.Addr))
	}

	hcfg := httpserver.Config{Addr: cfg.Addr, ReadTimeout: cfg.ReadTimeout, WriteTimeout: cfg.WriteTimeout, IdleTimeout: cfg.IdleTimeout}
	if srv == nil {
		srv = httpserver.New("pprof", hcfg, Handler(cfg.Prefix, cfg.Token), s.log)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		s.srv = srv
		s.mu.Unlock()
		s.log.Info("pprof started", logx.String("addr", srv.Addr()), logx.String("prefix", cfg.Prefix), logx.Bool("token_set", cfg.Token != ""))
		return nil
	}
	if prev == cfg {
		return nil
	}
	return srv.Reconfigure(ctx, hcfg, Handler(cfg.Prefix, cfg.Token))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Stop(ctx); err != nil {
		s.log.Warn("pprof stop", logx.Err(err))
	}
}

// Handler serves the pprof endpoints under prefix. A non-empty token is
// required as "Authorization: Bearer <token>" or "?token=<token>".
func Handler(prefix, token string) http.Handler {
	prefix = normalizePrefix(prefix)
	base := strings.TrimSuffix(prefix, "/")

	mux := http.NewServeMux()
	mux.HandleFunc(prefix, indexAt(prefix))
	mux.HandleFunc(base+"/cmdline", hpprof.Cmdline)
	mux.HandleFunc(base+"/profile", hpprof.Profile)
	mux.HandleFunc(base+"/symbol", hpprof.Symbol)
	mux.HandleFunc(base+"/trace", hpprof.Trace)
	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
	})
	return withToken(strings.TrimSpace(token), mux)
}

func withToken(tok string, h http.Handler) http.Handler {
	if tok == "" {
		return h
	}
	match := func(got string) bool { return subtle.ConstantTimeCompare([]byte(got), []byte(tok)) == 1 }
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(ah)
			}
		}
		if got == "" || !match(got) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// indexAt serves pprof.Index under a custom prefix; Index only understands
// paths rooted at /debug/pprof/.
func indexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	}
}
