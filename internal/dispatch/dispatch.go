package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"poolguard/internal/clock"
	"poolguard/internal/domain"
	"poolguard/internal/metrics"
	"poolguard/internal/state"
	"poolguard/internal/thumbs"

	"github.com/nats-io/nuid"
)

// AlertRequest is one alert creation command.
// Params: facility scope, trigger classification, frame context, and incident toggle.
// Returns: input for Dispatcher.CreateAlert.
type AlertRequest struct {
	FacilityID   string
	CameraID     string
	Severity     domain.Severity
	TriggerType  domain.TriggerType
	Description  string
	FrameData    *domain.FrameData
	FrameJPEG    []byte
	ThumbnailURL string
	// CreateIncident overrides the configured incident toggle; nil keeps the default.
	CreateIncident *bool
}

// IncidentRequest is one direct incident creation command.
// Params: facility scope, severity, and frame context.
// Returns: input for Dispatcher.CreateIncident.
type IncidentRequest struct {
	FacilityID string
	CameraID   string
	Severity   domain.Severity
	FrameData  *domain.FrameData
}

// Dispatcher turns detection intents and API commands into store writes.
// Params: persistence store, optional thumbnail uploader, clock, and incident toggle.
// Returns: validated alert/incident lifecycle operations.
type Dispatcher struct {
	store           state.Store
	uploader        *thumbs.Uploader
	clk             clock.Clock
	logger          *slog.Logger
	createIncidents bool
}

// New creates a dispatcher.
// Params: store backend, optional uploader (nil disables thumbnails), clock,
// logger, and default incident toggle.
// Returns: initialized dispatcher.
func New(store state.Store, uploader *thumbs.Uploader, clk clock.Clock, logger *slog.Logger, createIncidents bool) *Dispatcher {
	return &Dispatcher{
		store:           store,
		uploader:        uploader,
		clk:             clk,
		logger:          logger,
		createIncidents: createIncidents,
	}
}

// CreateAlert validates, persists, and fans out one alert.
// Params: context and alert request.
// Returns: persisted alert or validation/store error.
//
// The companion incident is written after the alert commit and independently:
// an incident failure is logged but never undoes the alert.
func (d *Dispatcher) CreateAlert(ctx context.Context, req AlertRequest) (domain.Alert, error) {
	if strings.TrimSpace(req.FacilityID) == "" {
		return domain.Alert{}, fmt.Errorf("%w: facility_id required", domain.ErrValidation)
	}

	now := d.clk.Now()
	alert := domain.Alert{
		ID:           nuid.Next(),
		FacilityID:   req.FacilityID,
		CameraID:     req.CameraID,
		Severity:     req.Severity,
		TriggerType:  req.TriggerType,
		Description:  req.Description,
		FrameData:    req.FrameData,
		ThumbnailURL: req.ThumbnailURL,
		CreatedAt:    now,
	}
	if err := alert.Validate(); err != nil {
		return domain.Alert{}, err
	}

	if d.uploader != nil && len(req.FrameJPEG) > 0 {
		url, err := d.uploader.Upload(ctx, alert.ID, req.FrameJPEG)
		if err != nil {
			d.logger.Warn("thumbnail upload failed", "alert_id", alert.ID, "error", err)
		} else {
			alert.ThumbnailURL = url
		}
	}

	if err := d.store.CreateAlert(ctx, alert); err != nil {
		return domain.Alert{}, fmt.Errorf("persist alert: %w", err)
	}
	metrics.AlertCreated(string(alert.TriggerType), string(alert.Severity))
	d.logger.Info("alert created",
		"alert_id", alert.ID,
		"facility_id", alert.FacilityID,
		"camera_id", alert.CameraID,
		"trigger", alert.TriggerType,
		"severity", alert.Severity,
	)

	if d.incidentWanted(req.CreateIncident) {
		incident := domain.Incident{
			ID:         nuid.Next(),
			FacilityID: alert.FacilityID,
			CameraID:   alert.CameraID,
			Severity:   alert.Severity,
			FrameData:  alert.FrameData,
			CreatedAt:  now,
		}
		if err := d.store.CreateIncident(ctx, incident); err != nil {
			d.logger.Error("companion incident failed", "alert_id", alert.ID, "error", err)
		}
	}

	return alert, nil
}

// DismissAlert stamps one alert as dismissed.
// Params: context, alert id, and optional client timestamp (nil stamps now).
// Returns: updated alert or store error.
func (d *Dispatcher) DismissAlert(ctx context.Context, alertID string, at *time.Time) (domain.Alert, error) {
	stamp := d.clk.Now()
	if at != nil {
		stamp = *at
	}
	alert, err := d.store.DismissAlert(ctx, alertID, stamp)
	if err != nil {
		return domain.Alert{}, err
	}
	metrics.AlertDismissed()
	d.logger.Info("alert dismissed", "alert_id", alertID)
	return alert, nil
}

// ListAlerts returns recent alerts for one facility scope.
// Params: context, facility id (empty selects all), and result limit.
// Returns: newest-first alert slice.
func (d *Dispatcher) ListAlerts(ctx context.Context, facilityID string, limit int) ([]domain.Alert, error) {
	return d.store.ListAlerts(ctx, facilityID, limit)
}

// CreateIncident validates and persists one incident without an alert.
// Params: context and incident request.
// Returns: persisted incident or validation/store error.
func (d *Dispatcher) CreateIncident(ctx context.Context, req IncidentRequest) (domain.Incident, error) {
	if strings.TrimSpace(req.FacilityID) == "" {
		return domain.Incident{}, fmt.Errorf("%w: facility_id required", domain.ErrValidation)
	}
	incident := domain.Incident{
		ID:         nuid.Next(),
		FacilityID: req.FacilityID,
		CameraID:   req.CameraID,
		Severity:   req.Severity,
		FrameData:  req.FrameData,
		CreatedAt:  d.clk.Now(),
	}
	if err := incident.Validate(); err != nil {
		return domain.Incident{}, err
	}
	if err := d.store.CreateIncident(ctx, incident); err != nil {
		return domain.Incident{}, fmt.Errorf("persist incident: %w", err)
	}
	d.logger.Info("incident created", "incident_id", incident.ID, "facility_id", incident.FacilityID)
	return incident, nil
}

// ResolveIncident stamps one incident as resolved.
// Params: context, incident id, and optional client timestamp (nil stamps now).
// Returns: updated incident or store error.
func (d *Dispatcher) ResolveIncident(ctx context.Context, incidentID string, at *time.Time) (domain.Incident, error) {
	stamp := d.clk.Now()
	if at != nil {
		stamp = *at
	}
	incident, err := d.store.ResolveIncident(ctx, incidentID, stamp)
	if err != nil {
		return domain.Incident{}, err
	}
	d.logger.Info("incident resolved", "incident_id", incidentID)
	return incident, nil
}

// incidentWanted resolves the per-request incident toggle against the default.
// Params: optional request override.
// Returns: effective toggle.
func (d *Dispatcher) incidentWanted(override *bool) bool {
	if override != nil {
		return *override
	}
	return d.createIncidents
}
