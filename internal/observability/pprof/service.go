// Package pprof serves the optional HTTP debug endpoint: net/http/pprof
// profiles, a liveness probe and a JSON snapshot of the daemon state.
package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "toaster/internal/runtime/supervisor"
	logx "toaster/pkg/logx"
)

// Config controls the debug server.
//
// Security:
//   - Prefer binding to localhost.
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Addr          string // empty disables the server
	Token         string
	AllowInsecure bool
}

// ErrInsecureBind is returned for a non-loopback address without a token.
var ErrInsecureBind = errors.New("pprof: non-loopback addr requires token or allow_insecure")

// StatusFunc returns the value rendered by GET /status.
type StatusFunc func() any

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	status StatusFunc
	cfg    Config

	sup   *rtsup.Supervisor
	bound string
}

func New(log logx.Logger, status StatusFunc) *Service {
	if status == nil {
		status = func() any { return struct{}{} }
	}
	return &Service{log: log.With(logx.String("comp", "pprof")), status: status}
}

// Addr returns the address the server is listening on, or "" when it is not.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Reconfigure applies cfg, starting, stopping or restarting the server as needed.
// Safe to call during hot-reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Addr != "" && !cfg.AllowInsecure && cfg.Token == "" && !isLoopbackAddr(cfg.Addr) {
		s.log.Error("pprof refused to start", logx.String("addr", cfg.Addr), logx.Err(ErrInsecureBind))
		s.Stop()
		return ErrInsecureBind
	}

	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case cfg.Addr == "":
		s.Stop()
	case !running:
		s.start(ctx)
	case prev != cfg:
		s.Stop()
		s.start(ctx)
	}
	return nil
}

func (s *Service) start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	if cfg := s.cfg; cfg.AllowInsecure && cfg.Token == "" && !isLoopbackAddr(cfg.Addr) {
		s.log.Warn("pprof running without token on non-loopback addr (insecure)", logx.String("addr", cfg.Addr))
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	// restarted so a transient listen failure heals on its own
	s.sup.GoRestart("http.serve", s.serveOnce, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

// Stop shuts the server down and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = sup.Wait(ctx)
	cancel()
	s.log.Info("pprof stopped")
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.log.Error("pprof listen failed", logx.String("addr", cfg.Addr), logx.Err(err))
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(cfg.Token),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute,
	}
	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	})
	defer stop()

	s.mu.Lock()
	s.bound = ln.Addr().String()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.bound = ""
		s.mu.Unlock()
	}()

	s.log.Info("pprof started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("pprof server exited unexpectedly")
	}
	return err
}

// Handler returns the debug routes, guarded by token when it is set.
func (s *Service) Handler(token string) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }

	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	mux.HandleFunc("/status", wrap(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s.status()); err != nil {
			s.log.Warn("encode status failed", logx.Err(err))
		}
	}))
	mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	return mux
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept either:
		//   Authorization: Bearer <token>
		// or query param: ?token=<token>
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
