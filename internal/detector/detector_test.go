package detector

import (
	"testing"
	"time"

	"poolguard/internal/domain"
)

func submergedResult(confidence float64) domain.AnalysisResult {
	return domain.AnalysisResult{Submerged: true, Confidence: confidence, Description: "fully underwater"}
}

func distressResult(confidence float64) domain.AnalysisResult {
	return domain.AnalysisResult{Distress: true, Confidence: confidence, Description: "vertical posture"}
}

func TestUnderwaterDurationFiresOnceThresholdReached(t *testing.T) {
	t.Parallel()

	// Scenario A: medium sensitivity, 20 confident submerged results at 1s
	// cadence, 5s threshold. Exactly one high alert once 5s elapse.
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := New(Config{UnderwaterThreshold: 5 * time.Second})

	fired := 0
	var firedAt time.Time
	var intent Intent
	for i := 0; i < 20; i++ {
		now := start.Add(time.Duration(i) * time.Second)
		got, ok := d.Observe(submergedResult(0.9), now)
		if ok {
			fired++
			firedAt = now
			intent = got
		}
	}
	if fired != 1 {
		t.Fatalf("expected exactly one alert, got %d", fired)
	}
	if elapsed := firedAt.Sub(start); elapsed != 5*time.Second {
		t.Fatalf("expected alert at +5s, got +%s", elapsed)
	}
	if intent.TriggerType != domain.TriggerUnderwaterTime || intent.Severity != domain.SeverityHigh {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if _, submerged := d.SubmergedSince(); submerged {
		t.Fatalf("expected submerged tracking reset after underwater alert")
	}
}

func TestInterruptionResetsSubmergedDuration(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := New(Config{UnderwaterThreshold: 4 * time.Second})

	for i := 0; i < 3; i++ {
		if _, ok := d.Observe(submergedResult(0.9), start.Add(time.Duration(i)*time.Second)); ok {
			t.Fatalf("unexpected alert before threshold")
		}
	}
	// Single surfacing result discards the accumulated 3s.
	if _, ok := d.Observe(domain.AnalysisResult{Confidence: 0.9}, start.Add(3*time.Second)); ok {
		t.Fatalf("unexpected alert on surfacing result")
	}
	if _, submerged := d.SubmergedSince(); submerged {
		t.Fatalf("expected submerged tracking cleared by interruption")
	}
	if _, ok := d.Observe(submergedResult(0.9), start.Add(7*time.Second)); ok {
		t.Fatalf("expected fresh duration tracking, not an alert")
	}
}

func TestLowConfidenceSubmersionClearsTracking(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := New(Config{UnderwaterThreshold: 2 * time.Second})

	_, _ = d.Observe(submergedResult(0.9), start)
	// submerged=true but below the 0.5 gate counts as an interruption.
	_, _ = d.Observe(submergedResult(0.4), start.Add(time.Second))
	if _, submerged := d.SubmergedSince(); submerged {
		t.Fatalf("expected low-confidence submersion to clear tracking")
	}
}

func TestDistressCooldownWindow(t *testing.T) {
	t.Parallel()

	// Scenario B: distress at t=0 alerts, t=1s is suppressed, t=16s alerts again.
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := New(Config{UnderwaterThreshold: 5 * time.Second})

	intent, ok := d.Observe(distressResult(0.6), start)
	if !ok {
		t.Fatalf("expected first distress alert")
	}
	if intent.TriggerType != domain.TriggerDistress || intent.Severity != domain.SeverityMedium {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if _, ok := d.Observe(distressResult(0.6), start.Add(time.Second)); ok {
		t.Fatalf("expected cooldown to suppress second alert at +1s")
	}
	if _, ok := d.Observe(distressResult(0.6), start.Add(16*time.Second)); !ok {
		t.Fatalf("expected alert after cooldown expiry at +16s")
	}
}

func TestCooldownSharedAcrossTriggerPaths(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := New(Config{UnderwaterThreshold: 2 * time.Second})

	if _, ok := d.Observe(distressResult(0.9), start); !ok {
		t.Fatalf("expected distress alert")
	}
	// Underwater path at +10s has met its duration threshold, but the shared
	// 15s cooldown anchored by the distress alert still suppresses it.
	_, _ = d.Observe(submergedResult(0.9), start.Add(8*time.Second))
	if _, ok := d.Observe(submergedResult(0.9), start.Add(10*time.Second)); ok {
		t.Fatalf("expected shared cooldown to suppress underwater alert")
	}
	if _, ok := d.Observe(submergedResult(0.9), start.Add(16*time.Second)); !ok {
		t.Fatalf("expected underwater alert after cooldown expiry")
	}
}

func TestSubmergedPathSuppressesDistressSameTick(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := New(Config{UnderwaterThreshold: 30 * time.Second})

	result := domain.AnalysisResult{Distress: true, Submerged: true, Confidence: 0.9}
	if _, ok := d.Observe(result, start); ok {
		t.Fatalf("expected no alert: submerged path takes precedence and threshold not met")
	}
	if _, submerged := d.SubmergedSince(); !submerged {
		t.Fatalf("expected submerged tracking to start")
	}
}

func TestSeverityBoundaryForBothTriggers(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	d := New(Config{UnderwaterThreshold: time.Second})
	intent, ok := d.Observe(distressResult(0.8), start)
	if !ok || intent.Severity != domain.SeverityHigh {
		t.Fatalf("expected high severity at confidence 0.8, got %+v ok=%v", intent, ok)
	}

	d = New(Config{UnderwaterThreshold: time.Second})
	_, _ = d.Observe(submergedResult(0.79), start)
	intent, ok = d.Observe(submergedResult(0.79), start.Add(time.Second))
	if !ok || intent.Severity != domain.SeverityMedium {
		t.Fatalf("expected medium severity at confidence 0.79, got %+v ok=%v", intent, ok)
	}
}

func TestMockResultsNeverAlert(t *testing.T) {
	t.Parallel()

	// Scenario C: mock results carry confidence 0 and never qualify.
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := New(Config{UnderwaterThreshold: time.Second})
	for i := 0; i < 50; i++ {
		if _, ok := d.Observe(domain.MockResult(), start.Add(time.Duration(i)*time.Second)); ok {
			t.Fatalf("mock result produced an alert at tick %d", i)
		}
	}
}
