package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"poolguard/internal/domain"
)

// MemoryStore keeps alerts and incidents in process memory for single-instance mode.
// Params: in-memory maps, injected clock, and in-process feed fan-out.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu          sync.RWMutex
	now         func() time.Time
	feedBuffer  int
	alerts      map[string]domain.Alert
	incidents   map[string]domain.Incident
	subscribers map[*memorySubscription]struct{}
}

// NewMemoryStore creates in-memory state store.
// Params: now function (defaults to time.Now when nil) and feed buffer size.
// Returns: initialized in-memory store.
func NewMemoryStore(now func() time.Time, feedBuffer int) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	if feedBuffer <= 0 {
		feedBuffer = 64
	}
	return &MemoryStore{
		now:         now,
		feedBuffer:  feedBuffer,
		alerts:      make(map[string]domain.Alert),
		incidents:   make(map[string]domain.Incident),
		subscribers: make(map[*memorySubscription]struct{}),
	}
}

// CreateAlert stores one new alert and publishes an insert event.
// Params: validated alert payload.
// Returns: ErrConflict when the id already exists.
func (s *MemoryStore) CreateAlert(_ context.Context, alert domain.Alert) error {
	s.mu.Lock()
	if _, exists := s.alerts[alert.ID]; exists {
		s.mu.Unlock()
		return ErrConflict
	}
	s.alerts[alert.ID] = alert
	s.mu.Unlock()

	s.publish(domain.AlertEvent{Event: domain.FeedInsert, Alert: alert})
	return nil
}

// GetAlert reads one alert by id.
// Params: alert id.
// Returns: stored alert or ErrNotFound.
func (s *MemoryStore) GetAlert(_ context.Context, alertID string) (domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[alertID]
	if !ok {
		return domain.Alert{}, ErrNotFound
	}
	return alert, nil
}

// ListAlerts returns alerts for one facility scope, newest first.
// Params: facility id (empty selects all facilities) and result limit.
// Returns: ordered alert slice.
func (s *MemoryStore) ListAlerts(_ context.Context, facilityID string, limit int) ([]domain.Alert, error) {
	s.mu.RLock()
	alerts := make([]domain.Alert, 0, len(s.alerts))
	for _, alert := range s.alerts {
		if facilityID != "" && alert.FacilityID != facilityID {
			continue
		}
		alerts = append(alerts, alert)
	}
	s.mu.RUnlock()

	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}

// DismissAlert sets dismissed_at once and publishes an update event.
// Params: alert id and dismissal timestamp (zero falls back to the store clock).
// Returns: updated alert; an already-dismissed alert is returned unchanged.
func (s *MemoryStore) DismissAlert(_ context.Context, alertID string, at time.Time) (domain.Alert, error) {
	if at.IsZero() {
		at = s.now()
	}
	s.mu.Lock()
	alert, ok := s.alerts[alertID]
	if !ok {
		s.mu.Unlock()
		return domain.Alert{}, ErrNotFound
	}
	if alert.DismissedAt != nil {
		s.mu.Unlock()
		return alert, nil
	}
	stamp := at
	alert.DismissedAt = &stamp
	s.alerts[alertID] = alert
	s.mu.Unlock()

	s.publish(domain.AlertEvent{Event: domain.FeedUpdate, Alert: alert})
	return alert, nil
}

// CreateIncident stores one new incident.
// Params: validated incident payload.
// Returns: ErrConflict when the id already exists.
func (s *MemoryStore) CreateIncident(_ context.Context, incident domain.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.incidents[incident.ID]; exists {
		return ErrConflict
	}
	s.incidents[incident.ID] = incident
	return nil
}

// ResolveIncident sets resolved_at once.
// Params: incident id and resolution timestamp (zero falls back to the store clock).
// Returns: updated incident; an already-resolved incident is returned unchanged.
func (s *MemoryStore) ResolveIncident(_ context.Context, incidentID string, at time.Time) (domain.Incident, error) {
	if at.IsZero() {
		at = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	incident, ok := s.incidents[incidentID]
	if !ok {
		return domain.Incident{}, ErrNotFound
	}
	if incident.ResolvedAt != nil {
		return incident, nil
	}
	stamp := at
	incident.ResolvedAt = &stamp
	s.incidents[incidentID] = incident
	return incident, nil
}

// WatchAlerts attaches one feed subscription for a facility scope.
// Params: context bounding the subscription and facility filter (empty for all).
// Returns: subscription delivering insert/update events.
func (s *MemoryStore) WatchAlerts(ctx context.Context, facilityID string) (Subscription, error) {
	sub := &memorySubscription{
		store:      s,
		facilityID: facilityID,
		events:     make(chan domain.AlertEvent, s.feedBuffer),
	}
	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return sub, nil
}

// publish fans one event out to matching subscribers.
// Params: alert event.
// Returns: slow subscribers drop events rather than block writers.
func (s *MemoryStore) publish(event domain.AlertEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subscribers {
		if sub.facilityID != "" && sub.facilityID != event.Alert.FacilityID {
			continue
		}
		select {
		case sub.events <- event:
		default:
		}
	}
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		close(sub.events)
		delete(s.subscribers, sub)
	}
	return nil
}

// memorySubscription is one in-process feed attachment.
// Params: owning store, facility filter, and buffered channel.
// Returns: subscription detached on Close.
type memorySubscription struct {
	store      *MemoryStore
	facilityID string
	events     chan domain.AlertEvent
	closeOnce  sync.Once
}

// Events returns the delivery channel.
// Params: none.
// Returns: buffered event channel closed on detach.
func (s *memorySubscription) Events() <-chan domain.AlertEvent {
	return s.events
}

// Close detaches the subscription from the store.
// Params: none.
// Returns: nil.
func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.store.mu.Lock()
		if _, attached := s.store.subscribers[s]; attached {
			delete(s.store.subscribers, s)
			close(s.events)
		}
		s.store.mu.Unlock()
	})
	return nil
}
