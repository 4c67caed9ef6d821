package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"poolguard/internal/config"
	"poolguard/internal/domain"

	"github.com/nats-io/nats.go"
)

const feedSubjectPrefix = "poolguard.alerts.feed."

// NATSStore persists alerts and incidents in JetStream KV buckets.
// Params: NATS connection, JetStream context, and KV bucket handles.
// Returns: KV-backed store with a subject-based change feed.
type NATSStore struct {
	nc          *nats.Conn
	js          nats.JetStreamContext
	alertsKV    nats.KeyValue
	incidentsKV nats.KeyValue
	settings    config.NATSStateConfig
}

// NewNATSStore connects and opens (or creates) the KV buckets.
// Params: NATS state settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.NATSStateConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	alertsKV, err := openBucket(js, settings.AlertsBucket, settings.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}
	incidentsKV, err := openBucket(js, settings.IncidentsBucket, settings.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &NATSStore{
		nc:          nc,
		js:          js,
		alertsKV:    alertsKV,
		incidentsKV: incidentsKV,
		settings:    settings,
	}, nil
}

// openBucket opens one KV bucket, optionally creating it.
// Params: JetStream context, bucket name, and auto-creation flag.
// Returns: bucket handle or setup error.
func openBucket(js nats.JetStreamContext, bucket string, allowCreate bool) (nats.KeyValue, error) {
	kv, err := js.KeyValue(bucket)
	if err == nil {
		return kv, nil
	}
	if !allowCreate {
		return nil, fmt.Errorf("open bucket %q: %w", bucket, err)
	}
	kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return kv, nil
}

// CreateAlert writes one new alert and publishes an insert feed event.
// Params: validated alert payload.
// Returns: ErrConflict when the key already exists.
func (s *NATSStore) CreateAlert(_ context.Context, alert domain.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if _, err := s.alertsKV.Create(alert.ID, body); err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return ErrConflict
		}
		return fmt.Errorf("create alert: %w", err)
	}
	s.publishFeed(domain.AlertEvent{Event: domain.FeedInsert, Alert: alert})
	return nil
}

// GetAlert reads one alert by id.
// Params: alert id key.
// Returns: stored alert or ErrNotFound.
func (s *NATSStore) GetAlert(_ context.Context, alertID string) (domain.Alert, error) {
	entry, err := s.alertsKV.Get(alertID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.Alert{}, ErrNotFound
		}
		return domain.Alert{}, fmt.Errorf("get alert: %w", err)
	}
	var alert domain.Alert
	if err := json.Unmarshal(entry.Value(), &alert); err != nil {
		return domain.Alert{}, fmt.Errorf("decode alert: %w", err)
	}
	return alert, nil
}

// ListAlerts scans the bucket for one facility scope, newest first.
// Params: facility id (empty selects all) and result limit.
// Returns: ordered alert slice.
func (s *NATSStore) ListAlerts(ctx context.Context, facilityID string, limit int) ([]domain.Alert, error) {
	keys, err := s.alertsKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return []domain.Alert{}, nil
		}
		return nil, fmt.Errorf("list alert keys: %w", err)
	}

	alerts := make([]domain.Alert, 0, len(keys))
	for _, key := range keys {
		alert, err := s.GetAlert(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if facilityID != "" && alert.FacilityID != facilityID {
			continue
		}
		alerts = append(alerts, alert)
	}

	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}

// DismissAlert sets dismissed_at once using a CAS update.
// Params: alert id and dismissal timestamp.
// Returns: updated alert; an already-dismissed alert is returned unchanged.
func (s *NATSStore) DismissAlert(_ context.Context, alertID string, at time.Time) (domain.Alert, error) {
	entry, err := s.alertsKV.Get(alertID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.Alert{}, ErrNotFound
		}
		return domain.Alert{}, fmt.Errorf("get alert: %w", err)
	}

	var alert domain.Alert
	if err := json.Unmarshal(entry.Value(), &alert); err != nil {
		return domain.Alert{}, fmt.Errorf("decode alert: %w", err)
	}
	if alert.DismissedAt != nil {
		return alert, nil
	}

	stamp := at
	alert.DismissedAt = &stamp
	body, err := json.Marshal(alert)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("encode alert: %w", err)
	}
	if _, err := s.alertsKV.Update(alertID, body, entry.Revision()); err != nil {
		// A concurrent dismissal wins; dismissal is monotone, so re-read.
		current, getErr := s.GetAlert(context.Background(), alertID)
		if getErr == nil && current.DismissedAt != nil {
			return current, nil
		}
		return domain.Alert{}, fmt.Errorf("%w: dismiss alert: %v", ErrConflict, err)
	}

	s.publishFeed(domain.AlertEvent{Event: domain.FeedUpdate, Alert: alert})
	return alert, nil
}

// CreateIncident writes one new incident.
// Params: validated incident payload.
// Returns: ErrConflict when the key already exists.
func (s *NATSStore) CreateIncident(_ context.Context, incident domain.Incident) error {
	body, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("encode incident: %w", err)
	}
	if _, err := s.incidentsKV.Create(incident.ID, body); err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return ErrConflict
		}
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// ResolveIncident sets resolved_at once using a CAS update.
// Params: incident id and resolution timestamp.
// Returns: updated incident; an already-resolved incident is returned unchanged.
func (s *NATSStore) ResolveIncident(_ context.Context, incidentID string, at time.Time) (domain.Incident, error) {
	entry, err := s.incidentsKV.Get(incidentID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.Incident{}, ErrNotFound
		}
		return domain.Incident{}, fmt.Errorf("get incident: %w", err)
	}

	var incident domain.Incident
	if err := json.Unmarshal(entry.Value(), &incident); err != nil {
		return domain.Incident{}, fmt.Errorf("decode incident: %w", err)
	}
	if incident.ResolvedAt != nil {
		return incident, nil
	}

	stamp := at
	incident.ResolvedAt = &stamp
	body, err := json.Marshal(incident)
	if err != nil {
		return domain.Incident{}, fmt.Errorf("encode incident: %w", err)
	}
	if _, err := s.incidentsKV.Update(incidentID, body, entry.Revision()); err != nil {
		return domain.Incident{}, fmt.Errorf("%w: resolve incident: %v", ErrConflict, err)
	}
	return incident, nil
}

// feedToken encodes one facility id as a single NATS subject token.
// Params: raw facility id.
// Returns: injective encoding free of subject metacharacters (., *, >, space).
func feedToken(facilityID string) string {
	var b strings.Builder
	for _, r := range facilityID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_':
			b.WriteRune(r)
		default:
			fmt.Fprintf(&b, "~%04x", r)
		}
	}
	return b.String()
}

// publishFeed sends one feed event on the facility-scoped subject.
// Params: alert event.
// Returns: publish failures are ignored; the KV write already succeeded.
func (s *NATSStore) publishFeed(event domain.AlertEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = s.nc.Publish(feedSubjectPrefix+feedToken(event.Alert.FacilityID), body)
}

// WatchAlerts subscribes to the facility-scoped feed subject.
// Params: context bounding the subscription and facility filter (empty for all).
// Returns: subscription delivering insert/update events.
func (s *NATSStore) WatchAlerts(ctx context.Context, facilityID string) (Subscription, error) {
	subject := feedSubjectPrefix + feedToken(facilityID)
	if facilityID == "" {
		subject = feedSubjectPrefix + ">"
	}

	messages := make(chan *nats.Msg, 64)
	natsSub, err := s.nc.ChanSubscribe(subject, messages)
	if err != nil {
		return nil, fmt.Errorf("subscribe feed: %w", err)
	}

	sub := &natsSubscription{
		natsSub:  natsSub,
		messages: messages,
		events:   make(chan domain.AlertEvent, 64),
		done:     make(chan struct{}),
	}
	go sub.forward()
	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return sub, nil
}

// Close drains the connection.
// Params: none.
// Returns: close error.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}

// natsSubscription is one subject-based feed attachment.
// Params: NATS subscription handle, raw message channel, and delivery channel.
// Returns: subscription detached on Close.
type natsSubscription struct {
	natsSub   *nats.Subscription
	messages  chan *nats.Msg
	events    chan domain.AlertEvent
	done      chan struct{}
	closeOnce sync.Once
}

// forward decodes raw feed messages onto the event channel.
// Params: none; runs as the only sender so channel close is safe.
// Returns: exits and closes the event channel on detach.
func (s *natsSubscription) forward() {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.messages:
			if !ok {
				return
			}
			var event domain.AlertEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				continue
			}
			select {
			case s.events <- event:
			case <-s.done:
				return
			}
		}
	}
}

// Events returns the delivery channel.
// Params: none.
// Returns: buffered event channel closed on detach.
func (s *natsSubscription) Events() <-chan domain.AlertEvent {
	return s.events
}

// Close unsubscribes and stops the forwarding goroutine.
// Params: none.
// Returns: unsubscribe error.
func (s *natsSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.natsSub.Unsubscribe()
		close(s.done)
	})
	return err
}
