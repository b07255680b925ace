package server

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/arl/statsviz"

	"github.com/INLOpen/mimir/config"
	"github.com/INLOpen/mimir/core"
	"github.com/INLOpen/mimir/reconciler"
	"github.com/INLOpen/mimir/series"
)

// maxDroppedListed caps the sequence numbers listed by /series.
const maxDroppedListed = 1024

var metrics = expvar.NewMap("mimir")

// SeriesSource is what the debug server inspects; a session satisfies it.
type SeriesSource interface {
	Series() *series.Series
	Reconciler() *reconciler.Reconciler
}

// DebugServer serves pprof, expvar, statsviz and the current series over HTTP.
type DebugServer struct {
	server    *http.Server
	handler   http.Handler
	collector *SystemCollector
	logger    *slog.Logger
	started   bool
	stopped   bool
	mu        sync.Mutex
}

// SeriesResponse is the body of GET /series.
type SeriesResponse struct {
	Len          int              `json:"len"`
	Columns      map[string][]any `json:"columns"`
	Stats        reconciler.Stats `json:"stats"`
	DroppedCount uint64           `json:"dropped_count,omitempty"`
	Dropped      []uint64         `json:"dropped,omitempty"`
}

// NewDebugServer creates the HTTP server. src may be nil, in which case
// /series is not registered.
func NewDebugServer(cfg *config.DebugConfig, src SeriesSource, logger *slog.Logger) *DebugServer {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	baseLogger := logger
	logger = logger.With("component", "DebugServer")
	var collector *SystemCollector

	if cfg.PProfEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		logger.Info("pprof profiling endpoints enabled on /debug/pprof")
	}
	if cfg.MetricsEnabled {
		registerMetrics(src)
		mux.Handle("/metrics", expvar.Handler())
		logger.Info("expvar metrics endpoint enabled on /metrics")

		if interval := config.ParseDuration(cfg.SystemMetricsInterval, 0, logger); interval > 0 {
			collector = NewSystemCollector(cfg.DiskPath, interval, baseLogger)
		}

		if cfg.MonitorUIEnabled {
			if err := statsviz.Register(mux,
				statsviz.Root("/viz"),
				statsviz.SendFrequency(250*time.Millisecond),
			); err != nil {
				logger.Warn("Failed to register statsviz", "error", err)
			} else {
				logger.Info("Runtime monitoring UI is available at /viz")
			}
		}
	}
	if src != nil {
		mux.HandleFunc("/series", seriesHandler(src, logger))
	}

	addr := cfg.ListenAddress
	if addr == "" {
		addr = "127.0.0.1:6060"
	}
	return &DebugServer{
		server:    &http.Server{Addr: addr, Handler: mux},
		handler:   mux,
		collector: collector,
		logger:    logger,
	}
}

func registerMetrics(src SeriesSource) {
	metrics.Set("buffer_pool", expvar.Func(func() any {
		hits, misses, dropped := core.BufferPool.GetMetrics()
		return map[string]uint64{"hits": hits, "misses": misses, "dropped": dropped}
	}))
	if src == nil {
		return
	}
	metrics.Set("reconciler", expvar.Func(func() any {
		return src.Reconciler().Stats()
	}))
	metrics.Set("series_len", expvar.Func(func() any {
		return src.Series().Len()
	}))
}

func seriesHandler(src SeriesSource, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s := src.Series()
		stats := src.Reconciler().Stats()
		resp := SeriesResponse{
			Len:     s.Len(),
			Columns: s.Columns(),
			Stats:   stats,
		}
		if stats.Dropped != nil {
			resp.DroppedCount = stats.Dropped.GetCardinality()
			it := stats.Dropped.Iterator()
			for it.HasNext() && len(resp.Dropped) < maxDroppedListed {
				resp.Dropped = append(resp.Dropped, it.Next())
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("Failed to write /series response", "error", err)
		}
	}
}

// Handler returns the server's mux.
func (s *DebugServer) Handler() http.Handler { return s.handler }

// SystemCollector returns the host metrics sampler, or nil when
// system_metrics_interval is unset or metrics are disabled.
func (s *DebugServer) SystemCollector() *SystemCollector { return s.collector }

// Start listens and serves. It's a blocking call and returns nil after Stop.
func (s *DebugServer) Start() error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil
	}
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to start debug server: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop is called.
func (s *DebugServer) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		lis.Close()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if s.collector != nil {
		s.collector.Start()
	}
	s.logger.Info("Debug server listening", "address", lis.Addr().String())
	if err := s.server.Serve(lis); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Debug server failed", "error", err)
		return fmt.Errorf("debug server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server. A server stopped before it started
// never serves.
func (s *DebugServer) Stop() {
	s.mu.Lock()
	s.stopped = true
	if !s.started {
		s.mu.Unlock()
		if s.collector != nil {
			s.collector.Stop()
		}
		return
	}
	s.started = false
	s.mu.Unlock()

	if s.collector != nil {
		s.collector.Stop()
	}

	s.logger.Info("Stopping debug server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Debug server shutdown failed", "error", err)
	} else {
		s.logger.Info("Debug server stopped gracefully.")
	}
}
