package sampler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"poolguard/internal/clock"
	"poolguard/internal/config"
	"poolguard/internal/detector"
	"poolguard/internal/domain"
	"poolguard/internal/metrics"
)

const (
	skipPaused  = "paused"
	skipBusy    = "busy"
	skipNoFrame = "no_frame"
)

// FrameSource yields the most recent frame for one camera.
// Params: context bounding the capture.
// Returns: base64-encoded JPEG; empty string when no frame is available yet.
type FrameSource interface {
	Frame(ctx context.Context) (string, error)
}

// Analyzer classifies one frame.
// Params: context and base64 frame.
// Returns: normalized analysis result, degraded on failure.
type Analyzer interface {
	Analyze(ctx context.Context, imageBase64 string) domain.AnalysisResult
	Configured() bool
}

// IntentHandler receives alert intents emitted by the detection state machine.
// Params: context, camera that produced the intent, intent, and raw frame.
// Returns: handler errors are logged by the sampler, not retried.
type IntentHandler func(ctx context.Context, camera config.CameraConfig, intent detector.Intent, frameBase64 string) error

// Sampler drives the capture-analyze-detect loop for one camera.
// Params: frame source, analyzer, detector, cadence, and intent sink.
// Returns: one loop instance per monitored camera.
//
// At most one analysis is in flight per camera; ticks that arrive while a
// frame is being classified are skipped, not queued.
type Sampler struct {
	camera   config.CameraConfig
	interval time.Duration
	source   FrameSource
	analyzer Analyzer
	det      *detector.Detector
	handler  IntentHandler
	clk      clock.Clock
	logger   *slog.Logger

	busy   atomic.Bool
	paused atomic.Bool
}

// New creates a sampler for one camera.
// Params: camera config, collaborators, and intent handler.
// Returns: initialized sampler; cadence follows the camera sensitivity tier.
func New(
	camera config.CameraConfig,
	source FrameSource,
	analyzer Analyzer,
	det *detector.Detector,
	handler IntentHandler,
	clk clock.Clock,
	logger *slog.Logger,
) *Sampler {
	s := &Sampler{
		camera:   camera,
		interval: config.SamplingInterval(camera.Sensitivity),
		source:   source,
		analyzer: analyzer,
		det:      det,
		handler:  handler,
		clk:      clk,
		logger:   logger.With("camera_id", camera.ID, "facility_id", camera.FacilityID),
	}
	s.paused.Store(camera.Paused)
	return s
}

// Run ticks the sampling loop until the context ends.
// Params: context bounding the loop.
// Returns: context error on shutdown.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sampler started", "interval", s.interval.String(), "mock", !s.analyzer.Configured())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sampler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Pause suspends sampling without stopping the loop.
// Params: none.
// Returns: none.
func (s *Sampler) Pause() {
	s.paused.Store(true)
	s.logger.Info("sampler paused")
}

// Resume restarts a paused sampler.
// Params: none.
// Returns: none.
func (s *Sampler) Resume() {
	s.paused.Store(false)
	s.logger.Info("sampler resumed")
}

// Paused reports the operator pause flag.
// Params: none.
// Returns: true while sampling is suspended.
func (s *Sampler) Paused() bool {
	return s.paused.Load()
}

// tick runs one sampling round with the single-flight guard.
// Params: context bounding the analysis.
// Returns: analysis runs in a goroutine; the guard clears when it ends.
func (s *Sampler) tick(ctx context.Context) {
	if s.paused.Load() {
		metrics.FrameSkipped(skipPaused)
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		metrics.FrameSkipped(skipBusy)
		return
	}

	go func() {
		defer s.busy.Store(false)
		s.analyzeOnce(ctx)
	}()
}

// analyzeOnce captures, classifies, and applies one frame to the state machine.
// Params: context bounding the round.
// Returns: intent side effects flow through the handler.
func (s *Sampler) analyzeOnce(ctx context.Context) {
	frame, err := s.source.Frame(ctx)
	if err != nil {
		metrics.FrameSkipped(skipNoFrame)
		s.logger.Warn("frame capture failed", "error", err)
		return
	}
	if frame == "" {
		metrics.FrameSkipped(skipNoFrame)
		return
	}

	started := time.Now()
	result := s.analyzer.Analyze(ctx, frame)
	outcome := metrics.OutcomeOK
	if result.Mock {
		outcome = metrics.OutcomeMock
	}
	metrics.ObserveFrame(time.Since(started), outcome)

	intent, fired := s.det.Observe(result, s.clk.Now())
	if !fired {
		return
	}
	s.logger.Info("detection fired", "trigger", intent.TriggerType, "severity", intent.Severity)
	if err := s.handler(ctx, s.camera, intent, frame); err != nil {
		s.logger.Error("intent handling failed", "trigger", intent.TriggerType, "error", err)
	}
}
