package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"poolguard/internal/api"
	"poolguard/internal/clock"
	"poolguard/internal/config"
	"poolguard/internal/dispatch"
	"poolguard/internal/logging"
	"poolguard/internal/metrics"
	"poolguard/internal/notify"
	"poolguard/internal/sampler"
	"poolguard/internal/state"
	"poolguard/internal/thumbs"
	"poolguard/internal/vision"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable pool monitoring service.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	store     state.Store
	manager   *Manager
	httpSrv   *http.Server
	readyFlag atomic.Bool
	clock     clock.Clock
}

// NewService builds the service from a config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(cfg, clk)
	if err != nil {
		closeLog()
		return nil, err
	}

	uploader, err := thumbs.New(cfg.Thumbnails)
	if err != nil {
		_ = store.Close()
		closeLog()
		return nil, err
	}

	classifier := vision.NewClient(cfg.Classifier)
	if !classifier.Configured() {
		logger.Warn("classifier not configured, analysis runs in mock mode")
	}

	dispatcher := dispatch.New(store, uploader, clk, logger, cfg.Detection.IncidentsEnabled())
	notifier := notify.NewDispatcher(cfg.Notify, logger)
	manager := NewManager(cfg, logger, dispatcher, notifier, classifier, func(camera config.CameraConfig) sampler.FrameSource {
		return sampler.NewHTTPFrameSource(camera.SnapshotURL)
	}, clk)

	service := &Service{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		store:    store,
		manager:  manager,
		clock:    clk,
	}

	if err := service.buildHTTPServer(classifier, dispatcher); err != nil {
		_ = store.Close()
		closeLog()
		return nil, err
	}
	return service, nil
}

// Run starts the HTTP server and samplers, then blocks until shutdown.
// Params: root context for the service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.Service.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go func() {
		s.logger.Info("samplers starting", "cameras", s.manager.Cameras())
		_ = s.manager.Run(shutdownCtx)
	}()

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// buildHTTPServer wires the API, health, and metrics endpoints.
// Params: classifier and dispatcher for the API handler.
// Returns: setup error.
func (s *Service) buildHTTPServer(classifier *vision.Client, dispatcher *dispatch.Dispatcher) error {
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Service.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.Service.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.Handle(s.cfg.Service.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handler := api.New(classifier, dispatcher, s.cfg.Distributor.ListLimit, s.logger)
	handler.Register(mux)

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Service.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// buildStore creates the runtime state backend from config.
// Params: root config snapshot and clock.
// Returns: selected store backend.
func buildStore(cfg config.Config, clk clock.Clock) (state.Store, error) {
	switch cfg.State.Backend {
	case config.StateBackendMemory:
		return state.NewMemoryStore(clk.Now, cfg.Distributor.FeedBuffer), nil
	case config.StateBackendNATS:
		return state.NewNATSStore(cfg.State.NATS)
	case config.StateBackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return state.NewPostgresStore(ctx, cfg.State.Postgres)
	default:
		return nil, fmt.Errorf("unsupported state backend %q", cfg.State.Backend)
	}
}
