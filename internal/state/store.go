package state

import (
	"context"
	"errors"
	"time"

	"poolguard/internal/domain"
)

var (
	// ErrNotFound indicates an absent alert or incident id.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a concurrent mutation collision.
	ErrConflict = errors.New("revision conflict")
)

// Store provides alert and incident persistence plus the change feed.
// Params: append-only alert writes, monotonic dismissal, and feed subscriptions.
// Returns: backend persistence behavior.
type Store interface {
	CreateAlert(ctx context.Context, alert domain.Alert) error
	GetAlert(ctx context.Context, alertID string) (domain.Alert, error)
	ListAlerts(ctx context.Context, facilityID string, limit int) ([]domain.Alert, error)
	DismissAlert(ctx context.Context, alertID string, at time.Time) (domain.Alert, error)
	CreateIncident(ctx context.Context, incident domain.Incident) error
	ResolveIncident(ctx context.Context, incidentID string, at time.Time) (domain.Incident, error)
	WatchAlerts(ctx context.Context, facilityID string) (Subscription, error)
	Close() error
}

// Subscription is one live change-feed attachment.
// Params: buffered event channel and detach hook.
// Returns: at-least-once, per-alert ordered event stream.
type Subscription interface {
	Events() <-chan domain.AlertEvent
	Close() error
}
