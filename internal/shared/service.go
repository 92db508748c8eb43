// Package shared provides the executor process's lifecycle: health/ready/
// metrics HTTP servers, signal-driven graceful shutdown.
//
// Adapted from hft-bot/internal/shared/service.go's Service/ServiceOption
// pattern, generalized to host the flash-loan executor's components instead
// of an HFT trading loop, and wired to a real zap-backed logger instead of
// the teacher's SimpleLogger.
package shared

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/flashloan-executor/executor/internal/logger"
)

// Service hosts the executor's background work (bus subscriber) alongside
// optional health/ready/metrics HTTP servers.
type Service struct {
	name   string
	log    *logger.Logger
	metrics *http.Server
	health  *http.Server

	work func(ctx context.Context) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	healthy bool
	ready   bool
	mu      sync.RWMutex
}

// Option configures a Service at construction time.
type Option func(*Service)

// New builds a Service. work is run in its own goroutine on Start and is
// expected to return when ctx is cancelled.
func New(name string, log *logger.Logger, work func(ctx context.Context) error, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{name: name, log: log, work: work, ctx: ctx, cancel: cancel}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithMetricsServer serves a handler (e.g. promhttp.Handler()) on port.
func WithMetricsServer(port int, handler http.Handler) Option {
	return func(s *Service) {
		s.metrics = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: handler}
	}
}

// WithHealthServer adds /health and /ready endpoints on port.
func WithHealthServer(port int) Option {
	return func(s *Service) {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", s.healthHandler)
		mux.HandleFunc("/ready", s.readyHandler)
		s.health = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	}
}

// Start launches the metrics/health servers and the background work.
func (s *Service) Start() error {
	s.log.Info("starting service", zap.String("name", s.name))

	if s.metrics != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	if s.health != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error("health server error", zap.Error(err))
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.work(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Error("background work exited with error", zap.Error(err))
		}
	}()

	s.setHealthy(true)
	s.setReady(true)
	return nil
}

// Stop gracefully shuts down the service, waiting up to 30s for goroutines.
func (s *Service) Stop() error {
	s.log.Info("stopping service", zap.String("name", s.name))
	s.setReady(false)
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.metrics != nil {
		_ = s.metrics.Shutdown(shutdownCtx)
	}
	if s.health != nil {
		_ = s.health.Shutdown(shutdownCtx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("all goroutines stopped")
	case <-shutdownCtx.Done():
		s.log.Warn("shutdown timeout reached")
	}

	s.setHealthy(false)
	return nil
}

// Run starts the service and blocks until SIGINT/SIGTERM, then stops it.
func (s *Service) Run() error {
	if err := s.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		s.log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-s.ctx.Done():
		s.log.Info("context cancelled")
	}

	return s.Stop()
}

func (s *Service) setHealthy(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = v
}

func (s *Service) setReady(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = v
}

func (s *Service) isHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.isHealthy() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":"%s"}`, s.name)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprintf(w, `{"status":"unhealthy","service":"%s"}`, s.name)
}

func (s *Service) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.isReady() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ready","service":"%s"}`, s.name)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprintf(w, `{"status":"not_ready","service":"%s"}`, s.name)
}
