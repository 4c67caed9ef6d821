package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"poolguard/internal/config"
	"poolguard/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const alertsSchema = `
CREATE TABLE IF NOT EXISTS alerts (
	id            TEXT PRIMARY KEY,
	facility_id   TEXT NOT NULL,
	camera_id     TEXT,
	severity      TEXT NOT NULL,
	trigger_type  TEXT NOT NULL,
	description   TEXT,
	frame_data    JSONB,
	thumbnail_url TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	dismissed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS alerts_facility_created_idx ON alerts (facility_id, created_at DESC);
CREATE TABLE IF NOT EXISTS incidents (
	id          TEXT PRIMARY KEY,
	facility_id TEXT NOT NULL,
	camera_id   TEXT,
	severity    TEXT NOT NULL,
	frame_data  JSONB,
	created_at  TIMESTAMPTZ NOT NULL,
	resolved_at TIMESTAMPTZ
);
`

const alertColumns = "id, facility_id, camera_id, severity, trigger_type, description, frame_data, thumbnail_url, created_at, dismissed_at"

// PostgresStore persists alerts and incidents in Postgres tables.
// Params: pgx pool and LISTEN/NOTIFY feed channel name.
// Returns: SQL-backed store with a NOTIFY-driven change feed.
type PostgresStore struct {
	pool     *pgxpool.Pool
	settings config.PostgresStateConfig
}

// NewPostgresStore connects the pool and ensures the schema.
// Params: context for setup and Postgres state settings.
// Returns: initialized Postgres store or setup error.
func NewPostgresStore(ctx context.Context, settings config.PostgresStateConfig) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, settings.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, alertsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool, settings: settings}, nil
}

// CreateAlert inserts one alert row and notifies the feed channel.
// Params: context and validated alert payload.
// Returns: ErrConflict on duplicate id, write error otherwise.
func (s *PostgresStore) CreateAlert(ctx context.Context, alert domain.Alert) error {
	frameData, err := encodeFrameData(alert.FrameData)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, NULL)`,
		alert.ID, alert.FacilityID, alert.CameraID, string(alert.Severity), string(alert.TriggerType),
		alert.Description, frameData, alert.ThumbnailURL, alert.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert alert: %w", err)
	}

	s.notifyFeed(ctx, domain.AlertEvent{Event: domain.FeedInsert, Alert: alert})
	return nil
}

// GetAlert reads one alert row by id.
// Params: context and alert id.
// Returns: stored alert or ErrNotFound.
func (s *PostgresStore) GetAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, alertID)
	return scanAlert(row)
}

// ListAlerts reads alerts for one facility scope, newest first.
// Params: context, facility id (empty selects all), and result limit.
// Returns: ordered alert slice.
func (s *PostgresStore) ListAlerts(ctx context.Context, facilityID string, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE ($1 = '' OR facility_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`, facilityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]domain.Alert, 0, limit)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// DismissAlert stamps dismissed_at once and notifies the feed channel.
// Params: context, alert id, and dismissal timestamp.
// Returns: updated alert; an already-dismissed alert is returned unchanged.
func (s *PostgresStore) DismissAlert(ctx context.Context, alertID string, at time.Time) (domain.Alert, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE alerts SET dismissed_at = $2
		WHERE id = $1 AND dismissed_at IS NULL
		RETURNING `+alertColumns, alertID, at)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Either absent or already dismissed; dismissal is monotone.
			return s.GetAlert(ctx, alertID)
		}
		return domain.Alert{}, err
	}

	s.notifyFeed(ctx, domain.AlertEvent{Event: domain.FeedUpdate, Alert: alert})
	return alert, nil
}

// CreateIncident inserts one incident row.
// Params: context and validated incident payload.
// Returns: ErrConflict on duplicate id, write error otherwise.
func (s *PostgresStore) CreateIncident(ctx context.Context, incident domain.Incident) error {
	frameData, err := encodeFrameData(incident.FrameData)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO incidents (id, facility_id, camera_id, severity, frame_data, created_at, resolved_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULL)`,
		incident.ID, incident.FacilityID, incident.CameraID, string(incident.Severity), frameData, incident.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// ResolveIncident stamps resolved_at once.
// Params: context, incident id, and resolution timestamp.
// Returns: updated incident; an already-resolved incident is returned unchanged.
func (s *PostgresStore) ResolveIncident(ctx context.Context, incidentID string, at time.Time) (domain.Incident, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE incidents SET resolved_at = $2
		WHERE id = $1 AND resolved_at IS NULL
		RETURNING id, facility_id, camera_id, severity, frame_data, created_at, resolved_at`, incidentID, at)
	incident, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.getIncident(ctx, incidentID)
		}
		return domain.Incident{}, err
	}
	return incident, nil
}

// getIncident reads one incident row by id.
// Params: context and incident id.
// Returns: stored incident or ErrNotFound.
func (s *PostgresStore) getIncident(ctx context.Context, incidentID string) (domain.Incident, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, facility_id, camera_id, severity, frame_data, created_at, resolved_at
		FROM incidents WHERE id = $1`, incidentID)
	return scanIncident(row)
}

// WatchAlerts listens on the feed channel with one dedicated connection.
// Params: context bounding the subscription and facility filter (empty for all).
// Returns: subscription delivering insert/update events.
func (s *PostgresStore) WatchAlerts(ctx context.Context, facilityID string) (Subscription, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.settings.FeedChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %q: %w", s.settings.FeedChannel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &postgresSubscription{
		cancel: cancel,
		events: make(chan domain.AlertEvent, 64),
	}

	go func() {
		defer close(sub.events)
		defer conn.Release()
		for {
			notification, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				return
			}
			var event domain.AlertEvent
			if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
				continue
			}
			if facilityID != "" && event.Alert.FacilityID != facilityID {
				continue
			}
			select {
			case sub.events <- event:
			case <-subCtx.Done():
				return
			}
		}
	}()
	return sub, nil
}

// notifyFeed publishes one feed event via pg_notify.
// Params: context and alert event.
// Returns: notify failures are ignored; the row write already succeeded.
func (s *PostgresStore) notifyFeed(ctx context.Context, event domain.AlertEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_, _ = s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, s.settings.FeedChannel, string(payload))
}

// Close releases the connection pool.
// Params: none.
// Returns: nil.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// postgresSubscription is one LISTEN-based feed attachment.
// Params: cancel hook and delivery channel.
// Returns: subscription detached on Close.
type postgresSubscription struct {
	cancel    context.CancelFunc
	events    chan domain.AlertEvent
	closeOnce sync.Once
}

// Events returns the delivery channel.
// Params: none.
// Returns: buffered event channel closed on detach.
func (s *postgresSubscription) Events() <-chan domain.AlertEvent {
	return s.events
}

// Close stops the listener goroutine.
// Params: none.
// Returns: nil.
func (s *postgresSubscription) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

// scanAlert decodes one alert row.
// Params: pgx row with the alert column list.
// Returns: decoded alert or ErrNotFound.
func scanAlert(row pgx.Row) (domain.Alert, error) {
	var (
		alert        domain.Alert
		cameraID     *string
		description  *string
		frameData    []byte
		thumbnailURL *string
	)
	err := row.Scan(
		&alert.ID, &alert.FacilityID, &cameraID, &alert.Severity, &alert.TriggerType,
		&description, &frameData, &thumbnailURL, &alert.CreatedAt, &alert.DismissedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Alert{}, ErrNotFound
		}
		return domain.Alert{}, fmt.Errorf("scan alert: %w", err)
	}
	if cameraID != nil {
		alert.CameraID = *cameraID
	}
	if description != nil {
		alert.Description = *description
	}
	if thumbnailURL != nil {
		alert.ThumbnailURL = *thumbnailURL
	}
	if len(frameData) > 0 {
		var decoded domain.FrameData
		if err := json.Unmarshal(frameData, &decoded); err != nil {
			return domain.Alert{}, fmt.Errorf("decode frame_data: %w", err)
		}
		alert.FrameData = &decoded
	}
	return alert, nil
}

// scanIncident decodes one incident row.
// Params: pgx row with the incident column list.
// Returns: decoded incident or ErrNotFound.
func scanIncident(row pgx.Row) (domain.Incident, error) {
	var (
		incident  domain.Incident
		cameraID  *string
		frameData []byte
	)
	err := row.Scan(
		&incident.ID, &incident.FacilityID, &cameraID, &incident.Severity,
		&frameData, &incident.CreatedAt, &incident.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Incident{}, ErrNotFound
		}
		return domain.Incident{}, fmt.Errorf("scan incident: %w", err)
	}
	if cameraID != nil {
		incident.CameraID = *cameraID
	}
	if len(frameData) > 0 {
		var decoded domain.FrameData
		if err := json.Unmarshal(frameData, &decoded); err != nil {
			return domain.Incident{}, fmt.Errorf("decode frame_data: %w", err)
		}
		incident.FrameData = &decoded
	}
	return incident, nil
}

// encodeFrameData encodes the optional frame snapshot for a JSONB column.
// Params: optional frame data pointer.
// Returns: JSON bytes or nil for absent snapshots.
func encodeFrameData(frameData *domain.FrameData) ([]byte, error) {
	if frameData == nil {
		return nil, nil
	}
	body, err := json.Marshal(frameData)
	if err != nil {
		return nil, fmt.Errorf("encode frame_data: %w", err)
	}
	return body, nil
}

// isUniqueViolation reports whether a write failed on a duplicate primary key.
// Params: pgx write error.
// Returns: true for SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
