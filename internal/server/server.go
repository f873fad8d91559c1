package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/hello-k8s/internal/telemetry"
)

// Body is the payload of GET /.
const Body = "Hello world\n"

// Options configure a Server.
type Options struct {
	Version string
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

type Server struct {
	Version string
	Logger  *zerolog.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// New creates a server that is not yet bound.
func New(opts Options) *Server {
	return &Server{Version: opts.Version, Logger: opts.Logger}
}

// Routes for the server
func (s *Server) routes(mux *http.ServeMux) {
	// {$} pins the pattern to "/" exactly; HEAD is served by the GET pattern.
	mux.HandleFunc("GET /{$}", s.handleHello)
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(Body))
}

// Handler returns the routes wrapped with request logging and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)

	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		code := strconv.Itoa(status)
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")

		labels := map[string]string{"method": r.Method, "status": code}
		telemetry.CounterGlobal("hello_requests_total", 1, labels)
		telemetry.TimerGlobal("hello_request_duration", duration, labels)
	})
	return hlog.NewHandler(s.logger())(hlog.RemoteAddrHandler("remote")(access(mux)))
}

func (s *Server) logger() zerolog.Logger {
	if s.Logger != nil {
		return *s.Logger
	}
	return log.Logger
}

// Listen binds addr and prepares the server for it, so Shutdown stops it
// even before Serve runs. The error names the address and the underlying cause.
func (s *Server) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if _, err := s.prepare(ln); err != nil {
		ln.Close()
		return nil, err
	}
	return ln, nil
}

func (s *Server) prepare(ln net.Listener) (*http.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		if s.ln == ln {
			return s.srv, nil
		}
		return nil, errors.New("server already running")
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.ln = ln
	return s.srv, nil
}

// Serve accepts connections on ln until Shutdown. It returns nil after an
// orderly shutdown, including one that happened before Serve was called.
func (s *Server) Serve(ln net.Listener) error {
	srv, err := s.prepare(ln)
	if err != nil {
		return err
	}

	l := s.logger()
	l.Info().Str("addr", ln.Addr().String()).Str("version", s.Version).Msg("listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", ln.Addr(), err)
	}
	return nil
}

// ListenAndServe starts the server
func (s *Server) ListenAndServe(addr string) error {
	ln, err := s.Listen(addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Addr is the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown the server. The listener is closed whether or not Serve started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, ln := s.srv, s.ln
	s.mu.Unlock()
	if srv == nil {
		return fmt.Errorf("server not running")
	}
	err := srv.Shutdown(ctx)
	if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}
	return err
}
