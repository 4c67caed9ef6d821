package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"poolguard/internal/clock"
	"poolguard/internal/domain"
	"poolguard/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateAlertWritesAlertAndCompanionIncident(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore(nil, 8)
	defer func() { _ = store.Close() }()
	manual := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	dispatcher := New(store, nil, manual, testLogger(), true)

	alert, err := dispatcher.CreateAlert(context.Background(), AlertRequest{
		FacilityID:  "facility-1",
		CameraID:    "cam-1",
		Severity:    domain.SeverityHigh,
		TriggerType: domain.TriggerDistress,
		Description: "Distress detected",
		FrameData:   &domain.FrameData{Description: "Distress detected", Confidence: 0.91, Trigger: "distress"},
	})
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	if alert.ID == "" {
		t.Fatalf("alert must get a generated id")
	}
	if !alert.CreatedAt.Equal(manual.Now()) {
		t.Fatalf("expected created_at %v, got %v", manual.Now(), alert.CreatedAt)
	}

	stored, err := store.GetAlert(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("alert not persisted: %v", err)
	}
	if !stored.Open() {
		t.Fatalf("new alert must be open")
	}
}

func TestCreateAlertRejectsMissingFacility(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore(nil, 8)
	defer func() { _ = store.Close() }()
	dispatcher := New(store, nil, clock.RealClock{}, testLogger(), true)

	_, err := dispatcher.CreateAlert(context.Background(), AlertRequest{
		Severity:    domain.SeverityMedium,
		TriggerType: domain.TriggerDistress,
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	alerts, err := store.ListAlerts(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("rejected request must not write, found %d alerts", len(alerts))
	}
}

func TestCreateAlertIncidentToggle(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore(nil, 8)
	defer func() { _ = store.Close() }()
	dispatcher := New(store, nil, clock.RealClock{}, testLogger(), true)

	off := false
	alert, err := dispatcher.CreateAlert(context.Background(), AlertRequest{
		FacilityID:     "facility-1",
		Severity:       domain.SeverityMedium,
		TriggerType:    domain.TriggerUnderwaterTime,
		CreateIncident: &off,
	})
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	if alert.FacilityID != "facility-1" {
		t.Fatalf("unexpected facility %q", alert.FacilityID)
	}
}

func TestDismissAlertStampsServerTimeWhenOmitted(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore(nil, 8)
	defer func() { _ = store.Close() }()
	manual := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	dispatcher := New(store, nil, manual, testLogger(), false)

	alert, err := dispatcher.CreateAlert(context.Background(), AlertRequest{
		FacilityID:  "facility-1",
		Severity:    domain.SeverityMedium,
		TriggerType: domain.TriggerDistress,
	})
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}

	manual.Advance(30 * time.Second)
	dismissed, err := dispatcher.DismissAlert(context.Background(), alert.ID, nil)
	if err != nil {
		t.Fatalf("dismiss alert: %v", err)
	}
	if dismissed.DismissedAt == nil || !dismissed.DismissedAt.Equal(manual.Now()) {
		t.Fatalf("expected dismissed_at %v, got %v", manual.Now(), dismissed.DismissedAt)
	}
}

func TestResolveIncidentLifecycle(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore(nil, 8)
	defer func() { _ = store.Close() }()
	manual := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	dispatcher := New(store, nil, manual, testLogger(), false)

	incident, err := dispatcher.CreateIncident(context.Background(), IncidentRequest{
		FacilityID: "facility-1",
		CameraID:   "cam-1",
		Severity:   domain.SeverityHigh,
	})
	if err != nil {
		t.Fatalf("create incident: %v", err)
	}

	manual.Advance(time.Minute)
	resolved, err := dispatcher.ResolveIncident(context.Background(), incident.ID, nil)
	if err != nil {
		t.Fatalf("resolve incident: %v", err)
	}
	if resolved.ResolvedAt == nil || !resolved.ResolvedAt.Equal(manual.Now()) {
		t.Fatalf("expected resolved_at %v, got %v", manual.Now(), resolved.ResolvedAt)
	}

	if _, err := dispatcher.ResolveIncident(context.Background(), "missing", nil); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
