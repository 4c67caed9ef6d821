package sampler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"poolguard/internal/clock"
	"poolguard/internal/config"
	"poolguard/internal/detector"
	"poolguard/internal/domain"
)

type staticSource struct {
	frame string
	calls atomic.Int64
}

func (s *staticSource) Frame(context.Context) (string, error) {
	s.calls.Add(1)
	return s.frame, nil
}

type stubAnalyzer struct {
	result  domain.AnalysisResult
	release chan struct{}
	calls   atomic.Int64
}

func (a *stubAnalyzer) Analyze(context.Context, string) domain.AnalysisResult {
	a.calls.Add(1)
	if a.release != nil {
		<-a.release
	}
	return a.result
}

func (a *stubAnalyzer) Configured() bool { return true }

func testCamera() config.CameraConfig {
	return config.CameraConfig{ID: "cam-1", FacilityID: "facility-1", Sensitivity: "medium"}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTickEmitsIntentOnDistress(t *testing.T) {
	t.Parallel()

	source := &staticSource{frame: "ZnJhbWU="}
	analyzer := &stubAnalyzer{result: domain.AnalysisResult{Distress: true, Confidence: 0.9, Description: "swimmer waving"}}
	det := detector.New(detector.Config{UnderwaterThreshold: 10 * time.Second})

	fired := make(chan detector.Intent, 1)
	handler := func(_ context.Context, camera config.CameraConfig, intent detector.Intent, frame string) error {
		if camera.ID != "cam-1" {
			t.Errorf("unexpected camera %q", camera.ID)
		}
		if frame != "ZnJhbWU=" {
			t.Errorf("handler must receive the analyzed frame")
		}
		fired <- intent
		return nil
	}

	s := New(testCamera(), source, analyzer, det, handler, clock.RealClock{}, testLogger())
	s.tick(context.Background())

	select {
	case intent := <-fired:
		if intent.TriggerType != domain.TriggerDistress || intent.Severity != domain.SeverityHigh {
			t.Fatalf("unexpected intent %+v", intent)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for intent")
	}
}

func TestTickSkipsWhilePaused(t *testing.T) {
	t.Parallel()

	source := &staticSource{frame: "ZnJhbWU="}
	analyzer := &stubAnalyzer{result: domain.AnalysisResult{Distress: true, Confidence: 0.9}}
	det := detector.New(detector.Config{UnderwaterThreshold: 10 * time.Second})

	camera := testCamera()
	camera.Paused = true
	s := New(camera, source, analyzer, det, func(context.Context, config.CameraConfig, detector.Intent, string) error {
		t.Errorf("paused sampler must not dispatch")
		return nil
	}, clock.RealClock{}, testLogger())

	s.tick(context.Background())
	time.Sleep(50 * time.Millisecond)
	if source.calls.Load() != 0 {
		t.Fatalf("paused sampler must not capture frames")
	}

	s.Resume()
	if s.Paused() {
		t.Fatalf("resume must clear the pause flag")
	}
}

func TestTickIsSingleFlight(t *testing.T) {
	t.Parallel()

	source := &staticSource{frame: "ZnJhbWU="}
	analyzer := &stubAnalyzer{
		result:  domain.AnalysisResult{},
		release: make(chan struct{}),
	}
	det := detector.New(detector.Config{UnderwaterThreshold: 10 * time.Second})

	s := New(testCamera(), source, analyzer, det, func(context.Context, config.CameraConfig, detector.Intent, string) error {
		return nil
	}, clock.RealClock{}, testLogger())

	s.tick(context.Background())
	for analyzer.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	// Second tick while the first analysis is still blocked must be dropped.
	s.tick(context.Background())
	close(analyzer.release)
	time.Sleep(50 * time.Millisecond)

	if got := analyzer.calls.Load(); got != 1 {
		t.Fatalf("expected single in-flight analysis, got %d", got)
	}
}

func TestSamplingCadenceFollowsSensitivity(t *testing.T) {
	t.Parallel()

	camera := testCamera()
	camera.Sensitivity = "high"
	s := New(camera, &staticSource{}, &stubAnalyzer{}, detector.New(detector.Config{}), nil, clock.RealClock{}, testLogger())
	if s.interval != 500*time.Millisecond {
		t.Fatalf("high sensitivity must sample every 500ms, got %v", s.interval)
	}
}
