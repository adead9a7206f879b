package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

const namespace = "ngmod"

// Server exposes the registry on /metrics.
type Server struct {
	addr     string
	registry *prometheus.Registry
	logger   *log.Entry

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	zap      *zap.Logger
}

func NewServer(addr string, registry *prometheus.Registry) *Server {
	return &Server{
		addr:     addr,
		registry: registry,
		logger:   log.WithField("object", "MetricsServer"),
	}
}

func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("create metrics server logger: %w", err)
	}
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		_ = zapLogger.Sync()
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          zap.NewStdLog(zapLogger.Named("metrics")),
	}
	s.listener = listener
	s.zap = zapLogger

	server := s.server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("error", err.Error()).Error("metrics server failed")
		}
	}()
	s.logger.WithField("addr", listener.Addr().String()).Info("metrics server listening")
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server, zapLogger := s.server, s.zap
	s.server, s.listener, s.zap = nil, nil, nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	_ = zapLogger.Sync()
	return err
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Tracing installs the global tracer provider for its lifetime.
type Tracing struct {
	provider *sdktrace.TracerProvider
	sampler  sdktrace.Sampler
}

func NewTracing(enabled bool) *Tracing {
	sampler := sdktrace.NeverSample()
	if enabled {
		sampler = sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return &Tracing{sampler: sampler}
}

func (t *Tracing) Start(_ context.Context) error {
	t.provider = sdktrace.NewTracerProvider(sdktrace.WithSampler(t.sampler))
	otel.SetTracerProvider(t.provider)
	return nil
}

func (t *Tracing) Stop(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Provider lets tests attach span processors.
func (t *Tracing) Provider() *sdktrace.TracerProvider {
	return t.provider
}
