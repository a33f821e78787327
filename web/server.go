// Package web serves the browser companion: a single page and its script,
// both embedded in the binary.
package web

import (
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

//go:embed static
var embedded embed.FS

// Assets returns the embedded UI files.
func Assets() fs.FS {
	sub, err := fs.Sub(embedded, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

type page struct {
	file        string
	contentType string
}

var pages = map[string]page{
	"/":           {"index.html", "text/html; charset=utf-8"},
	"/index.html": {"index.html", "text/html; charset=utf-8"},
	"/app.js":     {"app.js", "application/javascript; charset=utf-8"},
}

type Server struct {
	Addr   string
	assets fs.FS

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	ready    chan struct{}
}

// NewServer creates a UI server for addr. A nil assets uses the embedded files.
func NewServer(addr string, assets fs.FS) *Server {
	if assets == nil {
		assets = Assets()
	}
	return &Server{Addr: addr, assets: assets, ready: make(chan struct{})}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(noStore)
	r.Use(getOnly)

	for path, p := range pages {
		r.Get(path, s.servePage(p))
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *Server) servePage(p page) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := fs.ReadFile(s.assets, p.file)
		if err != nil {
			slog.Error("Failed to read UI asset", "file", p.file, "error", err.Error())
			writeText(w, http.StatusNotFound, "not found")
			return
		}
		w.Header().Set("Content-Type", p.contentType)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

func (s *Server) Start() error {
	slog.Info("Starting web UI server", "addr", s.Addr)
	l, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = l
	s.server = &http.Server{Handler: s.Routes(), ReadHeaderTimeout: 10 * time.Second}
	srv := s.server
	s.mu.Unlock()
	close(s.ready)

	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown() error {
	slog.Info("Shutting down web UI server", "addr", s.Addr)
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Close()
	}
	return nil
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

// getOnly refuses every other method on every path, known or not.
func getOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeText(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
