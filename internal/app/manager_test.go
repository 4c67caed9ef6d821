package app

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"poolguard/internal/clock"
	"poolguard/internal/config"
	"poolguard/internal/detector"
	"poolguard/internal/dispatch"
	"poolguard/internal/domain"
	"poolguard/internal/notify"
	"poolguard/internal/sampler"
	"poolguard/internal/state"
)

type noopAnalyzer struct{}

func (noopAnalyzer) Analyze(context.Context, string) domain.AnalysisResult {
	return domain.AnalysisResult{}
}

func (noopAnalyzer) Configured() bool { return false }

type noopSource struct{}

func (noopSource) Frame(context.Context) (string, error) { return "", nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	return config.Config{
		Detection: config.DetectionConfig{
			CooldownMS:                    15000,
			ConfidenceGate:                0.5,
			DefaultUnderwaterThresholdSec: 10,
		},
		Camera: []config.CameraConfig{
			{ID: "cam-1", FacilityID: "facility-1", Sensitivity: "medium"},
			{ID: "cam-2", FacilityID: "facility-1", Sensitivity: "high", Paused: true},
		},
	}
}

func newTestManager(t *testing.T, notifier *notify.Dispatcher) (*Manager, *state.MemoryStore) {
	t.Helper()
	store := state.NewMemoryStore(nil, 8)
	t.Cleanup(func() { _ = store.Close() })

	manual := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	dispatcher := dispatch.New(store, nil, manual, testLogger(), true)
	manager := NewManager(testConfig(), testLogger(), dispatcher, notifier, noopAnalyzer{}, func(config.CameraConfig) sampler.FrameSource {
		return noopSource{}
	}, manual)
	return manager, store
}

func TestNewManagerBuildsOneSamplerPerCamera(t *testing.T) {
	t.Parallel()

	manager, _ := newTestManager(t, nil)
	if manager.Cameras() != 2 {
		t.Fatalf("expected 2 samplers, got %d", manager.Cameras())
	}
}

func TestCameraPauseResume(t *testing.T) {
	t.Parallel()

	manager, _ := newTestManager(t, nil)
	if err := manager.PauseCamera("cam-1"); err != nil {
		t.Fatalf("pause cam-1: %v", err)
	}
	if err := manager.ResumeCamera("cam-2"); err != nil {
		t.Fatalf("resume cam-2: %v", err)
	}
	if err := manager.PauseCamera("missing"); err == nil {
		t.Fatalf("pausing an unknown camera must fail")
	}
}

func TestHandleIntentPersistsAndEscalates(t *testing.T) {
	t.Parallel()

	var escalations atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		escalations.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := notify.NewDispatcher(config.NotifyConfig{
		Webhook: config.WebhookNotifier{
			Enabled:     true,
			URL:         server.URL,
			MinSeverity: "high",
		},
	}, testLogger())
	manager, store := newTestManager(t, notifier)

	frame := base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	err := manager.handleIntent(context.Background(), manager.cfg.Camera[0], detector.Intent{
		TriggerType: domain.TriggerDistress,
		Severity:    domain.SeverityHigh,
		Description: "Distress detected",
		FrameData:   domain.FrameData{Description: "Distress detected", Confidence: 0.9, Trigger: "distress"},
	}, frame)
	if err != nil {
		t.Fatalf("handle intent: %v", err)
	}

	alerts, err := store.ListAlerts(context.Background(), "facility-1", 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected one persisted alert, got %d", len(alerts))
	}
	if alerts[0].CameraID != "cam-1" || alerts[0].TriggerType != domain.TriggerDistress {
		t.Fatalf("unexpected alert: %+v", alerts[0])
	}
	if escalations.Load() != 1 {
		t.Fatalf("high-severity alert must escalate once, got %d", escalations.Load())
	}
}
