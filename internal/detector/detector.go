package detector

import (
	"sync"
	"time"

	"poolguard/internal/domain"
)

const (
	// DefaultCooldown is the minimum interval between alerts for one camera session.
	DefaultCooldown = 15 * time.Second
	// DefaultConfidenceGate is the minimum confidence for any transition or alert.
	DefaultConfidenceGate = 0.5
)

// Config holds per-camera detection thresholds.
// Params: alert cooldown, submerged-duration threshold, and confidence gate.
// Returns: tuning for one detector instance.
type Config struct {
	Cooldown            time.Duration
	UnderwaterThreshold time.Duration
	ConfidenceGate      float64
}

// Intent is one alert request emitted by the state machine.
// Params: trigger path, derived severity, and frame snapshot.
// Returns: at most one intent per observed result.
type Intent struct {
	TriggerType domain.TriggerType
	Severity    domain.Severity
	Description string
	FrameData   domain.FrameData
}

// Detector converts a time-ordered analysis result sequence into alert intents.
// Params: per-camera thresholds and process-local submerged/cooldown timers.
// Returns: one state machine instance per monitored camera.
type Detector struct {
	mu             sync.Mutex
	cfg            Config
	submergedSince time.Time
	lastAlertAt    time.Time
}

// New creates a detector in the idle state.
// Params: detection config; zero cooldown/gate fall back to defaults.
// Returns: initialized detector.
func New(cfg Config) *Detector {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.ConfidenceGate <= 0 {
		cfg.ConfidenceGate = DefaultConfidenceGate
	}
	return &Detector{cfg: cfg}
}

// Observe applies one analysis result to the state machine.
// Params: normalized classifier result and current wall-clock time.
// Returns: alert intent and true when a qualifying transition fired.
//
// The submerged path is evaluated first; any result that is not a confident
// submersion clears the accumulated duration, regardless of the distress flag.
func (d *Detector) Observe(result domain.AnalysisResult, now time.Time) (Intent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if result.Submerged && result.Confidence >= d.cfg.ConfidenceGate {
		if d.submergedSince.IsZero() {
			d.submergedSince = now
		}
		if now.Sub(d.submergedSince) >= d.cfg.UnderwaterThreshold && now.Sub(d.lastAlertAt) > d.cfg.Cooldown {
			d.submergedSince = time.Time{}
			d.lastAlertAt = now
			return buildIntent(domain.TriggerUnderwaterTime, result, "Person submerged too long"), true
		}
		return Intent{}, false
	}

	d.submergedSince = time.Time{}
	if result.Distress && result.Confidence >= d.cfg.ConfidenceGate && now.Sub(d.lastAlertAt) > d.cfg.Cooldown {
		d.lastAlertAt = now
		return buildIntent(domain.TriggerDistress, result, "Distress detected"), true
	}
	return Intent{}, false
}

// SubmergedSince returns the current submersion start when tracking is active.
// Params: none.
// Returns: submersion start time and true while in the submerged state.
func (d *Detector) SubmergedSince() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submergedSince.IsZero() {
		return time.Time{}, false
	}
	return d.submergedSince, true
}

// LastAlertAt returns the cooldown anchor timestamp.
// Params: none.
// Returns: time of the most recent emitted intent (zero before the first).
func (d *Detector) LastAlertAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastAlertAt
}

// buildIntent assembles one alert intent from the triggering result.
// Params: trigger path, classifier result, and fallback description.
// Returns: intent with severity derived from confidence.
func buildIntent(trigger domain.TriggerType, result domain.AnalysisResult, fallback string) Intent {
	description := result.Description
	if description == "" {
		description = fallback
	}
	return Intent{
		TriggerType: trigger,
		Severity:    domain.SeverityFor(result.Confidence),
		Description: description,
		FrameData: domain.FrameData{
			Description: result.Description,
			Confidence:  result.Confidence,
			Trigger:     string(trigger),
		},
	}
}
