// Package metrics serves /metrics and /healthz for the daemon.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
)

const (
	defaultRequestLimit = 60
	defaultWindow       = time.Minute
	shutdownTimeout     = 5 * time.Second
)

// HealthFunc reports whether the daemon is healthy. A nil error is healthy.
type HealthFunc func(ctx context.Context) error

// Options configures the listener.
type Options struct {
	// RequestLimit per client IP and Window (default: 60 per minute)
	RequestLimit int
	Window       time.Duration
	// Gatherer defaults to prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer
	Health   HealthFunc
}

// Server is the metrics HTTP listener.
type Server struct {
	addr   string
	opts   Options
	logger zerolog.Logger
}

// NewServer creates a listener for addr.
func NewServer(addr string, opts Options) *Server {
	if opts.RequestLimit <= 0 {
		opts.RequestLimit = defaultRequestLimit
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		addr:   addr,
		opts:   opts,
		logger: log.WithComponent("metrics"),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(httprate.Limit(
		s.opts.RequestLimit,
		s.opts.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(s.opts.Window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", s.health)
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, `{"status":"unhealthy","error":%q}`, err.Error())
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("metrics listener started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics serve: %w", err)
	}
}
