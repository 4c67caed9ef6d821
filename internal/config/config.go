package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen  = ":8080"
	defaultHealthPath  = "/healthz"
	defaultReadyPath   = "/readyz"
	defaultMetricsPath = "/metrics"

	defaultClassifierModel      = "gpt-4o-mini"
	defaultClassifierTimeoutSec = 30
	// DefaultMaxImageBytes is the decoded frame ceiling enforced before any upstream call.
	DefaultMaxImageBytes = 4 << 20

	defaultCooldownMS             = 15000
	defaultConfidenceGate         = 0.5
	defaultUnderwaterThresholdSec = 10

	defaultSoundCooldownMS = 15000
	defaultFeedBuffer      = 64
	defaultListLimit       = 50

	defaultNATSURL             = "nats://127.0.0.1:4222"
	defaultNATSAlertsBucket    = "alerts"
	defaultNATSIncidentsBucket = "incidents"
	defaultPostgresFeedChannel = "poolguard_alerts"

	// StateBackendMemory keeps alert state in process memory.
	StateBackendMemory = "memory"
	// StateBackendNATS keeps alert state in JetStream KV buckets.
	StateBackendNATS = "nats"
	// StateBackendPostgres keeps alert state in Postgres tables.
	StateBackendPostgres = "postgres"

	// SensitivityLow samples one frame every 2000ms.
	SensitivityLow = "low"
	// SensitivityMedium samples one frame every 1000ms.
	SensitivityMedium = "medium"
	// SensitivityHigh samples one frame every 500ms.
	SensitivityHigh = "high"
)

// Config holds service runtime settings and monitored camera set.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service     ServiceConfig     `toml:"service"`
	Log         LogConfig         `toml:"log"`
	Classifier  ClassifierConfig  `toml:"classifier"`
	Detection   DetectionConfig   `toml:"detection"`
	Distributor DistributorConfig `toml:"distributor"`
	State       StateConfig       `toml:"state"`
	Thumbnails  ThumbnailsConfig  `toml:"thumbnails"`
	Notify      NotifyConfig      `toml:"notify"`
	Camera      []CameraConfig    `toml:"camera"`
}

// ServiceConfig holds process-level HTTP settings.
// Params: listen address and well-known endpoint paths.
// Returns: HTTP surface configuration.
type ServiceConfig struct {
	Listen      string `toml:"listen"`
	HealthPath  string `toml:"health_path"`
	ReadyPath   string `toml:"ready_path"`
	MetricsPath string `toml:"metrics_path"`
}

// LogConfig holds console/file sink settings.
// Params: one sink section per destination.
// Returns: logging configuration.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig describes one log destination.
// Params: enabled flag, level name, format, and file path.
// Returns: sink settings for the logging package.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// ClassifierConfig holds vision classifier access settings.
// Params: endpoint, model, API key (or env var name), payload ceiling, and timeout.
// Returns: settings for the vision client; empty endpoint/key selects mock mode.
type ClassifierConfig struct {
	Endpoint      string `toml:"endpoint"`
	Model         string `toml:"model"`
	APIKey        string `toml:"api_key"`
	APIKeyEnv     string `toml:"api_key_env"`
	MaxImageBytes int64  `toml:"max_image_bytes"`
	TimeoutSec    int    `toml:"timeout_sec"`
}

// DetectionConfig holds state-machine thresholds shared by all cameras.
// Params: alert cooldown, confidence gate, default duration threshold, and incident toggle.
// Returns: detection tuning.
type DetectionConfig struct {
	CooldownMS                    int64   `toml:"cooldown_ms"`
	ConfidenceGate                float64 `toml:"confidence_gate"`
	DefaultUnderwaterThresholdSec int     `toml:"default_underwater_threshold_sec"`
	CreateIncidents               *bool   `toml:"create_incidents"`
}

// Cooldown returns the alert cooldown as a duration.
// Params: none.
// Returns: configured cooldown.
func (d DetectionConfig) Cooldown() time.Duration {
	return time.Duration(d.CooldownMS) * time.Millisecond
}

// IncidentsEnabled reports whether dispatch writes companion incidents.
// Params: none.
// Returns: true unless explicitly disabled.
func (d DetectionConfig) IncidentsEnabled() bool {
	return d.CreateIncidents == nil || *d.CreateIncidents
}

// DistributorConfig holds observer-view settings.
// Params: sound cooldown, feed buffer size, and list page limit.
// Returns: distributor tuning.
type DistributorConfig struct {
	SoundCooldownMS int64 `toml:"sound_cooldown_ms"`
	FeedBuffer      int   `toml:"feed_buffer"`
	ListLimit       int   `toml:"list_limit"`
}

// SoundCooldown returns the audible-cue cooldown as a duration.
// Params: none.
// Returns: configured sound cooldown.
func (d DistributorConfig) SoundCooldown() time.Duration {
	return time.Duration(d.SoundCooldownMS) * time.Millisecond
}

// StateConfig selects and configures the persistence backend.
// Params: backend name and backend-specific sections.
// Returns: store configuration.
type StateConfig struct {
	Backend  string              `toml:"backend"`
	NATS     NATSStateConfig     `toml:"nats"`
	Postgres PostgresStateConfig `toml:"postgres"`
}

// NATSStateConfig holds JetStream KV settings for alert persistence.
// Params: server URLs, bucket names, and bucket auto-creation flag.
// Returns: NATS store settings.
type NATSStateConfig struct {
	URL                []string `toml:"url"`
	AlertsBucket       string   `toml:"alerts_bucket"`
	IncidentsBucket    string   `toml:"incidents_bucket"`
	AllowCreateBuckets bool     `toml:"allow_create_buckets"`
}

// PostgresStateConfig holds Postgres settings for alert persistence.
// Params: DSN and LISTEN/NOTIFY feed channel name.
// Returns: Postgres store settings.
type PostgresStateConfig struct {
	DSN         string `toml:"dsn"`
	FeedChannel string `toml:"feed_channel"`
}

// ThumbnailsConfig holds object-storage settings for frame thumbnails.
// Params: MinIO endpoint, credentials, bucket, and public URL base.
// Returns: thumbnail uploader settings; disabled skips uploads entirely.
type ThumbnailsConfig struct {
	Enabled       bool   `toml:"enabled"`
	Endpoint      string `toml:"endpoint"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Bucket        string `toml:"bucket"`
	Secure        bool   `toml:"secure"`
	PublicBaseURL string `toml:"public_base_url"`
}

// NotifyConfig holds escalation channel settings.
// Params: one section per transport.
// Returns: notification configuration.
type NotifyConfig struct {
	Telegram TelegramNotifier `toml:"telegram"`
	Webhook  WebhookNotifier  `toml:"webhook"`
}

// TelegramNotifier holds Telegram escalation settings.
// Params: bot credentials, chat target, severity floor, and retry policy.
// Returns: Telegram channel configuration.
type TelegramNotifier struct {
	Enabled     bool        `toml:"enabled"`
	BotToken    string      `toml:"bot_token"`
	ChatID      string      `toml:"chat_id"`
	MinSeverity string      `toml:"min_severity"`
	Retry       NotifyRetry `toml:"retry"`
}

// WebhookNotifier holds generic HTTP escalation settings.
// Params: target URL, optional auth header, severity floor, and retry policy.
// Returns: webhook channel configuration.
type WebhookNotifier struct {
	Enabled     bool        `toml:"enabled"`
	URL         string      `toml:"url"`
	AuthHeader  string      `toml:"auth_header"`
	MinSeverity string      `toml:"min_severity"`
	Retry       NotifyRetry `toml:"retry"`
}

// NotifyRetry holds per-channel delivery retry policy.
// Params: attempt cap and backoff shape.
// Returns: retry settings for the notify dispatcher.
type NotifyRetry struct {
	Enabled        bool   `toml:"enabled"`
	MaxAttempts    int    `toml:"max_attempts"`
	Backoff        string `toml:"backoff"`
	InitialMS      int64  `toml:"initial_ms"`
	MaxMS          int64  `toml:"max_ms"`
	LogEachAttempt bool   `toml:"log_each_attempt"`
}

// CameraConfig describes one monitored video source.
// Params: identity, owning facility, sensitivity tier, and duration threshold.
// Returns: per-camera sampler/detector settings.
type CameraConfig struct {
	ID                     string `toml:"id"`
	FacilityID             string `toml:"facility_id"`
	Name                   string `toml:"name"`
	SnapshotURL            string `toml:"snapshot_url"`
	Sensitivity            string `toml:"sensitivity"`
	UnderwaterThresholdSec int    `toml:"underwater_threshold_sec"`
	Paused                 bool   `toml:"paused"`
}

// UnderwaterThreshold returns the camera duration threshold with config fallback.
// Params: detection section for the default value.
// Returns: effective threshold duration.
func (c CameraConfig) UnderwaterThreshold(detection DetectionConfig) time.Duration {
	seconds := c.UnderwaterThresholdSec
	if seconds <= 0 {
		seconds = detection.DefaultUnderwaterThresholdSec
	}
	return time.Duration(seconds) * time.Second
}

// SamplingInterval maps one sensitivity tier onto a sampling cadence.
// Params: tier name (low/medium/high).
// Returns: tick interval; unknown tiers fall back to medium.
func SamplingInterval(sensitivity string) time.Duration {
	switch strings.ToLower(strings.TrimSpace(sensitivity)) {
	case SensitivityLow:
		return 2000 * time.Millisecond
	case SensitivityHigh:
		return 500 * time.Millisecond
	default:
		return 1000 * time.Millisecond
	}
}

// ConfigSource selects one config file or one config directory.
// Params: mutually exclusive file/dir paths.
// Returns: reusable snapshot source for load and reload.
type ConfigSource struct {
	filePath string
	dirPath  string
}

// FromCLI builds config source from CLI flags.
// Params: file path and directory path (exactly one must be set).
// Returns: config source or usage error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	fileSet := strings.TrimSpace(filePath) != ""
	dirSet := strings.TrimSpace(dirPath) != ""
	if fileSet == dirSet {
		return ConfigSource{}, errors.New("exactly one of --config-file or --config-dir is required")
	}
	return ConfigSource{filePath: filePath, dirPath: dirPath}, nil
}

// LoadSnapshot loads, defaults, and validates one config snapshot.
// Params: config source.
// Returns: validated config or load error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var (
		cfg Config
		err error
	)
	if src.dirPath != "" {
		cfg, err = loadDir(src.dirPath)
	} else {
		cfg, err = loadFile(src.filePath)
	}
	if err != nil {
		return Config{}, err
	}

	applyDefaults(&cfg)
	resolveClassifierKey(&cfg.Classifier)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile parses one TOML config file.
// Params: file path.
// Returns: decoded config or read/parse error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir merges all *.toml fragments from one directory in name order.
// Params: directory path.
// Returns: merged config or read/parse error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return Config{}, fmt.Errorf("config dir %q contains no *.toml files", dir)
	}
	sort.Strings(names)

	var cfg Config
	for _, name := range names {
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return Config{}, fmt.Errorf("read config fragment %q: %w", name, err)
		}
		if err := toml.Unmarshal(body, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config fragment %q: %w", name, err)
		}
	}
	return cfg, nil
}

// resolveClassifierKey reads the API key from the configured env var when unset.
// Params: mutable classifier section.
// Returns: api_key populated from environment when api_key_env names a set var.
func resolveClassifierKey(cfg *ClassifierConfig) {
	if strings.TrimSpace(cfg.APIKey) != "" || strings.TrimSpace(cfg.APIKeyEnv) == "" {
		return
	}
	if value := os.Getenv(cfg.APIKeyEnv); value != "" {
		cfg.APIKey = value
	}
}

// applyDefaults fills unset fields with service defaults.
// Params: mutable config snapshot.
// Returns: config mutated in place.
func applyDefaults(cfg *Config) {
	if cfg.Service.Listen == "" {
		cfg.Service.Listen = defaultHTTPListen
	}
	if cfg.Service.HealthPath == "" {
		cfg.Service.HealthPath = defaultHealthPath
	}
	if cfg.Service.ReadyPath == "" {
		cfg.Service.ReadyPath = defaultReadyPath
	}
	if cfg.Service.MetricsPath == "" {
		cfg.Service.MetricsPath = defaultMetricsPath
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}

	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = defaultClassifierModel
	}
	if cfg.Classifier.MaxImageBytes <= 0 {
		cfg.Classifier.MaxImageBytes = DefaultMaxImageBytes
	}
	if cfg.Classifier.TimeoutSec <= 0 {
		cfg.Classifier.TimeoutSec = defaultClassifierTimeoutSec
	}

	if cfg.Detection.CooldownMS <= 0 {
		cfg.Detection.CooldownMS = defaultCooldownMS
	}
	if cfg.Detection.ConfidenceGate <= 0 {
		cfg.Detection.ConfidenceGate = defaultConfidenceGate
	}
	if cfg.Detection.DefaultUnderwaterThresholdSec <= 0 {
		cfg.Detection.DefaultUnderwaterThresholdSec = defaultUnderwaterThresholdSec
	}

	if cfg.Distributor.SoundCooldownMS <= 0 {
		cfg.Distributor.SoundCooldownMS = defaultSoundCooldownMS
	}
	if cfg.Distributor.FeedBuffer <= 0 {
		cfg.Distributor.FeedBuffer = defaultFeedBuffer
	}
	if cfg.Distributor.ListLimit <= 0 {
		cfg.Distributor.ListLimit = defaultListLimit
	}

	if cfg.State.Backend == "" {
		cfg.State.Backend = StateBackendMemory
	}
	if len(cfg.State.NATS.URL) == 0 {
		cfg.State.NATS.URL = []string{defaultNATSURL}
	}
	if cfg.State.NATS.AlertsBucket == "" {
		cfg.State.NATS.AlertsBucket = defaultNATSAlertsBucket
	}
	if cfg.State.NATS.IncidentsBucket == "" {
		cfg.State.NATS.IncidentsBucket = defaultNATSIncidentsBucket
	}
	if cfg.State.Postgres.FeedChannel == "" {
		cfg.State.Postgres.FeedChannel = defaultPostgresFeedChannel
	}

	fillNotifyRetryDefaults(&cfg.Notify.Telegram.Retry)
	fillNotifyRetryDefaults(&cfg.Notify.Webhook.Retry)
	if cfg.Notify.Telegram.MinSeverity == "" {
		cfg.Notify.Telegram.MinSeverity = "high"
	}
	if cfg.Notify.Webhook.MinSeverity == "" {
		cfg.Notify.Webhook.MinSeverity = "high"
	}

	for i := range cfg.Camera {
		if cfg.Camera[i].Sensitivity == "" {
			cfg.Camera[i].Sensitivity = SensitivityMedium
		}
	}
}

// fillNotifyRetryDefaults fills unset retry policy fields.
// Params: mutable retry section.
// Returns: retry mutated in place.
func fillNotifyRetryDefaults(retry *NotifyRetry) {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.Backoff == "" {
		retry.Backoff = "exponential"
	}
	if retry.InitialMS <= 0 {
		retry.InitialMS = 200
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = 5000
	}
}

// validateConfig validates one config snapshot after defaults.
// Params: config snapshot.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	switch cfg.State.Backend {
	case StateBackendMemory, StateBackendNATS:
	case StateBackendPostgres:
		if strings.TrimSpace(cfg.State.Postgres.DSN) == "" {
			return errors.New("state.postgres.dsn is required for postgres backend")
		}
	default:
		return fmt.Errorf("unsupported state.backend %q", cfg.State.Backend)
	}

	if cfg.Detection.ConfidenceGate < 0 || cfg.Detection.ConfidenceGate > 1 {
		return errors.New("detection.confidence_gate must be within [0,1]")
	}

	if cfg.Thumbnails.Enabled {
		if strings.TrimSpace(cfg.Thumbnails.Endpoint) == "" {
			return errors.New("thumbnails.endpoint is required when thumbnails are enabled")
		}
		if strings.TrimSpace(cfg.Thumbnails.Bucket) == "" {
			return errors.New("thumbnails.bucket is required when thumbnails are enabled")
		}
	}

	if cfg.Notify.Telegram.Enabled {
		if strings.TrimSpace(cfg.Notify.Telegram.BotToken) == "" {
			return errors.New("notify.telegram.bot_token is required when telegram is enabled")
		}
		if strings.TrimSpace(cfg.Notify.Telegram.ChatID) == "" {
			return errors.New("notify.telegram.chat_id is required when telegram is enabled")
		}
	}
	if cfg.Notify.Webhook.Enabled && strings.TrimSpace(cfg.Notify.Webhook.URL) == "" {
		return errors.New("notify.webhook.url is required when webhook is enabled")
	}

	seen := make(map[string]struct{}, len(cfg.Camera))
	for index, camera := range cfg.Camera {
		if strings.TrimSpace(camera.ID) == "" {
			return fmt.Errorf("camera[%d]: id is required", index)
		}
		if strings.TrimSpace(camera.FacilityID) == "" {
			return fmt.Errorf("camera[%d]: facility_id is required", index)
		}
		if _, dup := seen[camera.ID]; dup {
			return fmt.Errorf("camera[%d]: duplicate id %q", index, camera.ID)
		}
		seen[camera.ID] = struct{}{}
		switch strings.ToLower(camera.Sensitivity) {
		case SensitivityLow, SensitivityMedium, SensitivityHigh:
		default:
			return fmt.Errorf("camera[%d]: unsupported sensitivity %q", index, camera.Sensitivity)
		}
	}

	return nil
}
