package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"poolguard/internal/clock"
	"poolguard/internal/config"
	"poolguard/internal/detector"
	"poolguard/internal/dispatch"
	"poolguard/internal/notify"
	"poolguard/internal/sampler"
)

// Manager owns the per-camera sampling loops and routes their intents.
// Params: camera set, dispatcher, escalation channels, and clock.
// Returns: runnable detection pipeline for all configured cameras.
type Manager struct {
	cfg        config.Config
	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher
	notifier   *notify.Dispatcher
	samplers   map[string]*sampler.Sampler
	clk        clock.Clock
}

// NewManager builds one sampler per configured camera.
// Params: config snapshot, collaborators, shared analyzer, and frame source factory.
// Returns: initialized manager; cameras marked paused start suspended.
func NewManager(
	cfg config.Config,
	logger *slog.Logger,
	dispatcher *dispatch.Dispatcher,
	notifier *notify.Dispatcher,
	analyzer sampler.Analyzer,
	sourceFor func(config.CameraConfig) sampler.FrameSource,
	clk clock.Clock,
) *Manager {
	m := &Manager{
		cfg:        cfg,
		logger:     logger,
		dispatcher: dispatcher,
		notifier:   notifier,
		samplers:   make(map[string]*sampler.Sampler, len(cfg.Camera)),
		clk:        clk,
	}

	for _, camera := range cfg.Camera {
		det := detector.New(detector.Config{
			Cooldown:            cfg.Detection.Cooldown(),
			UnderwaterThreshold: camera.UnderwaterThreshold(cfg.Detection),
			ConfidenceGate:      cfg.Detection.ConfidenceGate,
		})
		m.samplers[camera.ID] = sampler.New(
			camera,
			sourceFor(camera),
			analyzer,
			det,
			m.handleIntent,
			clk,
			logger,
		)
	}
	return m
}

// Run starts every sampler and blocks until the context ends.
// Params: context bounding all loops.
// Returns: context error after all samplers stop.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, s := range m.samplers {
		wg.Add(1)
		go func(s *sampler.Sampler) {
			defer wg.Done()
			_ = s.Run(ctx)
		}(s)
	}
	wg.Wait()
	return ctx.Err()
}

// PauseCamera suspends sampling for one camera.
// Params: camera id.
// Returns: error for unknown ids.
func (m *Manager) PauseCamera(cameraID string) error {
	s, ok := m.samplers[cameraID]
	if !ok {
		return fmt.Errorf("unknown camera %q", cameraID)
	}
	s.Pause()
	return nil
}

// ResumeCamera restarts sampling for one camera.
// Params: camera id.
// Returns: error for unknown ids.
func (m *Manager) ResumeCamera(cameraID string) error {
	s, ok := m.samplers[cameraID]
	if !ok {
		return fmt.Errorf("unknown camera %q", cameraID)
	}
	s.Resume()
	return nil
}

// Cameras returns the managed camera count.
// Params: none.
// Returns: sampler count.
func (m *Manager) Cameras() int {
	return len(m.samplers)
}

// handleIntent persists one detection intent and escalates the result.
// Params: context, originating camera, intent, and analyzed frame.
// Returns: dispatch error; escalation failures are handled by the notifier.
func (m *Manager) handleIntent(ctx context.Context, camera config.CameraConfig, intent detector.Intent, frameBase64 string) error {
	frameData := intent.FrameData

	var frameJPEG []byte
	if decoded, err := base64.StdEncoding.DecodeString(frameBase64); err == nil {
		frameJPEG = decoded
	}

	alert, err := m.dispatcher.CreateAlert(ctx, dispatch.AlertRequest{
		FacilityID:  camera.FacilityID,
		CameraID:    camera.ID,
		Severity:    intent.Severity,
		TriggerType: intent.TriggerType,
		Description: intent.Description,
		FrameData:   &frameData,
		FrameJPEG:   frameJPEG,
	})
	if err != nil {
		return err
	}

	if m.notifier != nil {
		// Escalation is best-effort; the alert is already persisted.
		_ = m.notifier.Escalate(ctx, alert)
	}
	return nil
}
