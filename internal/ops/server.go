// Package ops exposes a small read-only HTTP surface for operators: recent
// job runs, persisted run history, and pprof. Bind it to localhost.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Zeffuro/fakegaming-bot-sub003/internal/runlog"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/storage"
	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

// Config controls the ops listener.
type Config struct {
	Enabled bool
	Addr    string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8090"
	}
	return c
}

// Server serves run history and debug endpoints.
type Server struct {
	log      logx.Logger
	recorder *runlog.Recorder
	store    storage.Store

	mu       sync.Mutex
	srv      *http.Server
	ln       net.Listener
	addr     string
	confAddr string // address as configured, for reload comparison
}

// NewServer wires the handler. store may be nil when persistence is disabled;
// the persisted-history endpoint then reports 404.
func NewServer(recorder *runlog.Recorder, store storage.Store, log logx.Logger) *Server {
	return &Server{
		log:      log.With(logx.String("comp", "ops")),
		recorder: recorder,
		store:    store,
	}
}

// Start reconciles the listener with cfg, so reloads can call it again:
// disabled stops a running listener, a changed address moves it, and an
// unchanged address is a no-op. A listen failure is returned rather than
// retried; the ops surface is optional and the caller decides whether it
// is fatal.
func (s *Server) Start(cfg Config) error {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(nil)
		return nil
	}
	if s.srv != nil {
		if s.confAddr == cfg.Addr {
			return nil
		}
		s.log.Info("ops address changed, moving listener",
			logx.String("old", s.addr), logx.String("new", cfg.Addr))
		s.stopLocked(nil)
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}
	addr := ln.Addr().String()
	s.srv = srv
	s.ln = ln
	s.addr = addr
	s.confAddr = cfg.Addr

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("ops server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("ops server listening", logx.String("addr", addr))
	return nil
}

// Stop shuts the listener down. Safe to call when never started.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, ln, addr := s.srv, s.ln, s.addr
	s.srv = nil
	s.ln = nil
	s.addr = ""
	s.confAddr = ""

	// Shutdown only closes listeners Serve has registered; if the Serve
	// goroutine has not run yet, the socket would stay bound. Closing it
	// here is safe either way: Serve wraps the listener in a once-closer.
	if ln != nil {
		_ = ln.Close()
	}

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("ops shutdown error", logx.String("addr", addr), logx.Err(err))
	}
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/runs", s.listRuns)
	r.Get("/runs/{name}", s.runsForName)
	r.Get("/history/{name}", s.historyForName)

	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return r
}

type runView struct {
	Name       string         `json:"name"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	OK         bool           `json:"ok"`
	Meta       map[string]any `json:"meta,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func toView(e runlog.Entry) runView {
	return runView{
		Name:       e.Name,
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
		OK:         e.OK,
		Meta:       e.Meta,
		Error:      e.Error,
	}
}

// listRuns returns the latest in-memory run per job name.
func (s *Server) listRuns(w http.ResponseWriter, _ *http.Request) {
	names := s.recorder.Names()
	sort.Strings(names)
	out := make([]runView, 0, len(names))
	for _, name := range names {
		ring := s.recorder.Recent(name)
		if len(ring) == 0 {
			continue
		}
		out = append(out, toView(ring[len(ring)-1]))
	}
	writeJSON(w, out)
}

func (s *Server) runsForName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ring := s.recorder.Recent(name)
	if len(ring) == 0 {
		http.NotFound(w, r)
		return
	}
	out := make([]runView, 0, len(ring))
	for _, e := range ring {
		out = append(out, toView(e))
	}
	writeJSON(w, out)
}

// historyForName reads persisted runs, newest first. ?limit= caps the page.
func (s *Server) historyForName(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.NotFound(w, r)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "limit must be 1..500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := s.store.ListJobRuns(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		s.log.Warn("history query failed", logx.Err(err))
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already gone; nothing useful left to do.
		return
	}
}
