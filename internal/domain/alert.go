package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation marks requests rejected before any write.
var ErrValidation = errors.New("validation error")

// Severity is alert urgency derived from classifier confidence.
// Params: medium/high constants.
// Returns: severity level for alerts and incidents.
type Severity string

const (
	// SeverityMedium indicates confidence below the high-severity gate.
	SeverityMedium Severity = "medium"
	// SeverityHigh indicates confidence at or above 0.8.
	SeverityHigh Severity = "high"
)

// SeverityFor maps classifier confidence onto alert severity.
// Params: confidence in [0,1].
// Returns: high at >=0.8, medium otherwise.
func SeverityFor(confidence float64) Severity {
	if confidence >= 0.8 {
		return SeverityHigh
	}
	return SeverityMedium
}

// TriggerType identifies the detection path that produced an alert.
// Params: distress/underwater_time constants.
// Returns: trigger classification for alerts.
type TriggerType string

const (
	// TriggerDistress marks a momentary distress pose detection.
	TriggerDistress TriggerType = "distress"
	// TriggerUnderwaterTime marks sustained submersion past the threshold.
	TriggerUnderwaterTime TriggerType = "underwater_time"
)

// FrameData is the structured snapshot stored with an alert.
// Params: classifier description, confidence, and trigger path.
// Returns: frame context for operator review.
type FrameData struct {
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Trigger     string  `json:"trigger"`
}

// Alert is one persisted safety alert.
// Params: identity, facility/camera references, severity, trigger, and lifecycle stamps.
// Returns: append-only record whose only permitted mutation is setting dismissed_at.
type Alert struct {
	ID           string     `json:"id"`
	FacilityID   string     `json:"facility_id"`
	CameraID     string     `json:"camera_id,omitempty"`
	Severity     Severity   `json:"severity"`
	TriggerType  TriggerType `json:"trigger_type"`
	Description  string     `json:"description,omitempty"`
	FrameData    *FrameData `json:"frame_data,omitempty"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	DismissedAt  *time.Time `json:"dismissed_at,omitempty"`
}

// Open reports whether the alert has not been dismissed.
// Params: none.
// Returns: true when dismissed_at is unset.
func (a Alert) Open() bool {
	return a.DismissedAt == nil
}

// Validate checks persisted alert invariants.
// Params: alert fields before a store write.
// Returns: validation error when required fields are missing.
func (a Alert) Validate() error {
	if strings.TrimSpace(a.FacilityID) == "" {
		return fmt.Errorf("%w: facility_id required", ErrValidation)
	}
	switch a.Severity {
	case SeverityMedium, SeverityHigh:
	default:
		return fmt.Errorf("%w: unsupported severity %q", ErrValidation, a.Severity)
	}
	switch a.TriggerType {
	case TriggerDistress, TriggerUnderwaterTime:
	default:
		return fmt.Errorf("%w: unsupported trigger_type %q", ErrValidation, a.TriggerType)
	}
	return nil
}

// Incident is an operator-facing review record with its own lifecycle.
// Params: facility/camera references, severity, frame snapshot, and resolve stamp.
// Returns: record resolved only by operator action, uncoupled from alert dismissal.
type Incident struct {
	ID         string     `json:"id"`
	FacilityID string     `json:"facility_id"`
	CameraID   string     `json:"camera_id,omitempty"`
	Severity   Severity   `json:"severity"`
	FrameData  *FrameData `json:"frame_data,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Validate checks persisted incident invariants.
// Params: incident fields before a store write.
// Returns: validation error when required fields are missing.
func (i Incident) Validate() error {
	if strings.TrimSpace(i.FacilityID) == "" {
		return fmt.Errorf("%w: facility_id required", ErrValidation)
	}
	switch i.Severity {
	case SeverityMedium, SeverityHigh:
	default:
		return fmt.Errorf("%w: unsupported severity %q", ErrValidation, i.Severity)
	}
	return nil
}

// FeedEventType identifies one change-feed delivery shape.
// Params: insert/update constants.
// Returns: event classification for distributor views.
type FeedEventType string

const (
	// FeedInsert marks a newly created alert.
	FeedInsert FeedEventType = "insert"
	// FeedUpdate marks a mutation of an existing alert.
	FeedUpdate FeedEventType = "update"
)

// AlertEvent is one change-feed delivery about an alert row.
// Params: event type and full alert payload.
// Returns: at-least-once, per-alert ordered feed unit.
type AlertEvent struct {
	Event FeedEventType `json:"event"`
	Alert Alert         `json:"alert"`
}
