// Package observability serves the operational HTTP surface: Prometheus
// metrics, health and readiness probes, optional pprof, and whatever
// extra handlers other components mount (admin API, activity stream).
package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dsbaars/bunker46/config"
	"github.com/dsbaars/bunker46/logging"
)

// ReadinessCheck returns nil when the daemon can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Server hosts the metrics/ops endpoints and an optional pprof server.
type Server struct {
	logger logging.Logger
	config config.ObservabilityConfig
	mux    *http.ServeMux

	mu             sync.Mutex
	metricsServer  *http.Server
	pprofServer    *http.Server
	runtime        *RuntimeMetricsCollector
	running        bool
	boundAddr      string
	readinessCheck ReadinessCheck
}

// NewServer creates an observability server. Extra handlers can be mounted
// with Handle before Start.
func NewServer(logger logging.Logger, cfg config.ObservabilityConfig) *Server {
	if cfg.PprofAddr == "" {
		cfg.PprofAddr = ":6060"
	}
	return &Server{
		logger: logging.ForComponent(logger, logging.ComponentObservability),
		config: cfg,
		mux:    http.NewServeMux(),
	}
}

// Handle mounts an extra handler on the ops mux. Must be called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Mux exposes the ops mux for components that register route families.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// SetReadinessCheck installs the function behind /ready. May be called
// after Start for checks on late-initialized components.
func (s *Server) SetReadinessCheck(check ReadinessCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readinessCheck = check
}

// IsRunning reports whether Start has succeeded and Stop has not run.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the bound ops listen address, useful with ":0" configs.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Start begins serving. Servers shut down when ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.config.MetricsEnabled {
		if err := s.startMetricsServer(ctx); err != nil {
			return err
		}
	}
	if s.config.PprofEnabled {
		s.startPprofServer(ctx)
	}
	s.running = true
	return nil
}

func (s *Server) startMetricsServer(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.MetricsAddr)
	if err != nil {
		s.logger.Error().Err(err).Str("addr", s.config.MetricsAddr).Msg("failed to listen for ops server")
		return err
	}

	s.boundAddr = ln.Addr().String()

	s.runtime = NewRuntimeMetricsCollector(s.logger)
	s.runtime.Start(ctx)

	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	s.mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		check := s.readinessCheck
		s.mu.Unlock()

		if check != nil {
			if err := check(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = fmt.Fprintf(w, "Not Ready: %s", err.Error())
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	s.metricsServer = &http.Server{Handler: s.mux}

	go func() {
		s.logger.Info().Str("addr", s.config.MetricsAddr).Msg("serving ops endpoints")
		if err := s.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("ops server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metricsServer.Shutdown(shutdownCtx)
	}()
	return nil
}

func (s *Server) startPprofServer(ctx context.Context) {
	pprofMux := http.NewServeMux()
	pprofMux.HandleFunc("/debug/pprof/", pprof.Index)
	pprofMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	pprofMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	pprofMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	pprofMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	pprofMux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	pprofMux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	pprofMux.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))
	pprofMux.Handle("/debug/pprof/block", pprof.Handler("block"))
	pprofMux.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))

	s.pprofServer = &http.Server{
		Addr:    s.config.PprofAddr,
		Handler: pprofMux,
	}
	go func() {
		s.logger.Info().Str("addr", s.config.PprofAddr).Msg("serving pprof")
		if err := s.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("pprof server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.pprofServer.Shutdown(shutdownCtx)
	}()
}

// Stop shuts the servers down without waiting for context cancellation.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var lastErr error
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			lastErr = err
		}
	}
	if s.runtime != nil {
		s.runtime.Stop()
	}
	if s.pprofServer != nil {
		if err := s.pprofServer.Shutdown(ctx); err != nil {
			lastErr = err
		}
	}
	s.running = false
	s.logger.Info().Msg("ops servers stopped")
	return lastErr
}
