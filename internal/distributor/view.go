package distributor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"poolguard/internal/clock"
	"poolguard/internal/config"
	"poolguard/internal/domain"
	"poolguard/internal/metrics"
	"poolguard/internal/state"
)

// Sounder plays the audible alert cue.
// Params: none.
// Returns: cue side effect only.
type Sounder interface {
	Play()
}

// Prefs holds operator view preferences that survive restarts.
// Params: mute flag and selected facility.
// Returns: persisted observer settings.
type Prefs struct {
	Muted      bool   `json:"muted"`
	FacilityID string `json:"facility_id"`
}

// Preferences loads and saves operator view preferences.
// Params: prefs snapshot.
// Returns: persistence errors are surfaced but never block the view.
type Preferences interface {
	Load() (Prefs, error)
	Save(Prefs) error
}

// View is one operator-facing live alert list fed by the change feed.
// Params: store for list/dismiss, feed subscription, sounder, and preferences.
// Returns: newest-first open alert set with sound and mute handling.
//
// The audible cue has its own cooldown, independent of the per-camera alert
// cooldown: bursts of inserts produce at most one sound per window.
type View struct {
	store   state.Store
	cfg     config.DistributorConfig
	clk     clock.Clock
	sounder Sounder
	prefs   Preferences
	logger  *slog.Logger

	mu             sync.Mutex
	facilityID     string
	muted          bool
	severityFilter domain.Severity
	alerts         []domain.Alert
	lastSoundAt    time.Time

	sub  state.Subscription
	done chan struct{}
}

// NewView creates an unstarted view.
// Params: collaborators and distributor config.
// Returns: initialized view; Start attaches it to a facility feed.
func NewView(store state.Store, cfg config.DistributorConfig, clk clock.Clock, sounder Sounder, prefs Preferences, logger *slog.Logger) *View {
	return &View{
		store:   store,
		cfg:     cfg,
		clk:     clk,
		sounder: sounder,
		prefs:   prefs,
		logger:  logger,
	}
}

// Start loads preferences, backfills recent alerts, and follows the feed.
// Params: context bounding the subscription and facility scope.
// Returns: subscription or backfill error.
func (v *View) Start(ctx context.Context, facilityID string) error {
	if v.prefs != nil {
		stored, err := v.prefs.Load()
		if err != nil {
			v.logger.Warn("preferences load failed", "error", err)
		} else {
			v.mu.Lock()
			v.muted = stored.Muted
			if facilityID == "" {
				facilityID = stored.FacilityID
			}
			v.mu.Unlock()
		}
	}

	alerts, err := v.store.ListAlerts(ctx, facilityID, v.cfg.ListLimit)
	if err != nil {
		return err
	}

	sub, err := v.store.WatchAlerts(ctx, facilityID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.facilityID = facilityID
	v.alerts = alerts
	v.sub = sub
	v.done = make(chan struct{})
	v.mu.Unlock()

	go v.follow(sub)
	v.logger.Info("view attached", "facility_id", facilityID, "backfill", len(alerts))
	return nil
}

// follow consumes feed events until the subscription closes.
// Params: attached subscription.
// Returns: exits when the event channel closes.
func (v *View) follow(sub state.Subscription) {
	defer close(v.done)
	for event := range sub.Events() {
		metrics.FeedEvent(string(event.Event))
		v.apply(event)
	}
}

// apply merges one feed event into the local alert set.
// Params: insert or update event.
// Returns: insert events may trigger the audible cue.
func (v *View) apply(event domain.AlertEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()

	replaced := false
	for i := range v.alerts {
		if v.alerts[i].ID == event.Alert.ID {
			v.alerts[i] = event.Alert
			replaced = true
			break
		}
	}
	if !replaced {
		v.alerts = append(v.alerts, event.Alert)
		sort.Slice(v.alerts, func(i, j int) bool {
			return v.alerts[i].CreatedAt.After(v.alerts[j].CreatedAt)
		})
		if v.cfg.ListLimit > 0 && len(v.alerts) > v.cfg.ListLimit {
			v.alerts = v.alerts[:v.cfg.ListLimit]
		}
	}

	if event.Event == domain.FeedInsert && event.Alert.Open() {
		v.maybeSoundLocked()
	}
}

// maybeSoundLocked plays the cue when unmuted and outside the sound cooldown.
// Params: none; caller holds the mutex.
// Returns: lastSoundAt advances only when the cue plays.
func (v *View) maybeSoundLocked() {
	if v.muted || v.sounder == nil {
		return
	}
	now := v.clk.Now()
	if !v.lastSoundAt.IsZero() && now.Sub(v.lastSoundAt) < v.cfg.SoundCooldown() {
		return
	}
	v.lastSoundAt = now
	v.sounder.Play()
}

// OpenAlerts returns the open alerts visible under the current filter.
// Params: none.
// Returns: newest-first copy of the filtered open set.
func (v *View) OpenAlerts() []domain.Alert {
	v.mu.Lock()
	defer v.mu.Unlock()

	open := make([]domain.Alert, 0, len(v.alerts))
	for _, alert := range v.alerts {
		if !alert.Open() {
			continue
		}
		if v.severityFilter != "" && alert.Severity != v.severityFilter {
			continue
		}
		open = append(open, alert)
	}
	return open
}

// SetSeverityFilter narrows the visible set to one severity.
// Params: severity value; empty clears the filter.
// Returns: none.
func (v *View) SetSeverityFilter(severity domain.Severity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.severityFilter = severity
}

// Muted reports the audible cue mute flag.
// Params: none.
// Returns: current mute state.
func (v *View) Muted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.muted
}

// SetMuted toggles the audible cue and persists the preference.
// Params: mute flag.
// Returns: none; preference save failures are logged.
func (v *View) SetMuted(muted bool) {
	v.mu.Lock()
	v.muted = muted
	facilityID := v.facilityID
	v.mu.Unlock()

	if v.prefs == nil {
		return
	}
	if err := v.prefs.Save(Prefs{Muted: muted, FacilityID: facilityID}); err != nil {
		v.logger.Warn("preferences save failed", "error", err)
	}
}

// Dismiss removes one alert optimistically and reconciles with the store.
// Params: context and alert id.
// Returns: store error after reverting the local state on failure.
func (v *View) Dismiss(ctx context.Context, alertID string) error {
	now := v.clk.Now()

	v.mu.Lock()
	var previous *domain.Alert
	for i := range v.alerts {
		if v.alerts[i].ID == alertID && v.alerts[i].Open() {
			snapshot := v.alerts[i]
			previous = &snapshot
			stamp := now
			v.alerts[i].DismissedAt = &stamp
			break
		}
	}
	v.mu.Unlock()

	updated, err := v.store.DismissAlert(ctx, alertID, now)
	if err != nil {
		if previous != nil {
			v.mu.Lock()
			for i := range v.alerts {
				if v.alerts[i].ID == alertID {
					v.alerts[i] = *previous
					break
				}
			}
			v.mu.Unlock()
		}
		return err
	}

	v.mu.Lock()
	for i := range v.alerts {
		if v.alerts[i].ID == alertID {
			v.alerts[i] = updated
			break
		}
	}
	v.mu.Unlock()
	return nil
}

// Close detaches the view from the feed.
// Params: none.
// Returns: subscription close error.
func (v *View) Close() error {
	v.mu.Lock()
	sub := v.sub
	done := v.done
	v.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Close()
	if done != nil {
		<-done
	}
	return err
}
