package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) ConfigSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poolguard.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	source, err := FromCLI(path, "")
	if err != nil {
		t.Fatalf("config source: %v", err)
	}
	return source
}

func TestLoadSnapshotDefaults(t *testing.T) {
	t.Parallel()

	source := writeConfig(t, `
[[camera]]
id = "cam-1"
facility_id = "fac-1"
name = "Main Pool"
`)
	cfg, err := LoadSnapshot(source)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service.Listen != ":8080" || cfg.Service.MetricsPath != "/metrics" {
		t.Fatalf("unexpected service defaults: %+v", cfg.Service)
	}
	if cfg.State.Backend != StateBackendMemory {
		t.Fatalf("expected memory backend default, got %q", cfg.State.Backend)
	}
	if cfg.Detection.Cooldown() != 15*time.Second {
		t.Fatalf("expected 15s cooldown default, got %s", cfg.Detection.Cooldown())
	}
	if !cfg.Detection.IncidentsEnabled() {
		t.Fatalf("expected incidents enabled by default")
	}
	if cfg.Classifier.MaxImageBytes != 4<<20 {
		t.Fatalf("expected 4MB payload ceiling, got %d", cfg.Classifier.MaxImageBytes)
	}
	if cfg.Camera[0].Sensitivity != SensitivityMedium {
		t.Fatalf("expected medium sensitivity default, got %q", cfg.Camera[0].Sensitivity)
	}
	if got := cfg.Camera[0].UnderwaterThreshold(cfg.Detection); got != 10*time.Second {
		t.Fatalf("expected default underwater threshold 10s, got %s", got)
	}
}

func TestLoadSnapshotValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"missing camera id", "[[camera]]\nfacility_id = \"fac-1\"\n"},
		{"missing facility", "[[camera]]\nid = \"cam-1\"\n"},
		{"duplicate camera id", "[[camera]]\nid = \"cam-1\"\nfacility_id = \"fac-1\"\n[[camera]]\nid = \"cam-1\"\nfacility_id = \"fac-1\"\n"},
		{"bad sensitivity", "[[camera]]\nid = \"cam-1\"\nfacility_id = \"fac-1\"\nsensitivity = \"turbo\"\n"},
		{"bad backend", "[state]\nbackend = \"etcd\"\n"},
		{"postgres without dsn", "[state]\nbackend = \"postgres\"\n"},
		{"telegram without token", "[notify.telegram]\nenabled = true\nchat_id = \"42\"\n"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := LoadSnapshot(writeConfig(t, tc.body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadDirMergesFragmentsInNameOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "10-base.toml"), []byte("[service]\nlisten = \":9090\"\n[state]\nbackend = \"nats\"\n"), 0o644); err != nil {
		t.Fatalf("write fragment: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "20-override.toml"), []byte("[service]\nlisten = \":9191\"\n"), 0o644); err != nil {
		t.Fatalf("write fragment: %v", err)
	}

	source, err := FromCLI("", dir)
	if err != nil {
		t.Fatalf("config source: %v", err)
	}
	cfg, err := LoadSnapshot(source)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service.Listen != ":9191" {
		t.Fatalf("expected later fragment to win, got %q", cfg.Service.Listen)
	}
	if cfg.State.Backend != StateBackendNATS {
		t.Fatalf("expected nats backend from base fragment, got %q", cfg.State.Backend)
	}
}

func TestFromCLIRequiresExactlyOneSource(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("", ""); err == nil {
		t.Fatalf("expected error when neither source is set")
	}
	if _, err := FromCLI("a.toml", "dir"); err == nil {
		t.Fatalf("expected error when both sources are set")
	}
}

func TestSamplingInterval(t *testing.T) {
	t.Parallel()

	if SamplingInterval("low") != 2*time.Second {
		t.Fatalf("low tier mismatch")
	}
	if SamplingInterval("medium") != time.Second {
		t.Fatalf("medium tier mismatch")
	}
	if SamplingInterval("high") != 500*time.Millisecond {
		t.Fatalf("high tier mismatch")
	}
	if SamplingInterval("unknown") != time.Second {
		t.Fatalf("unknown tier must fall back to medium")
	}
}

func TestClassifierKeyFromEnv(t *testing.T) {
	t.Setenv("POOLGUARD_TEST_API_KEY", "secret-key")

	source := writeConfig(t, "[classifier]\nendpoint = \"https://api.example.com/v1\"\napi_key_env = \"POOLGUARD_TEST_API_KEY\"\n")
	cfg, err := LoadSnapshot(source)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Classifier.APIKey != "secret-key" {
		t.Fatalf("expected api key resolved from env, got %q", cfg.Classifier.APIKey)
	}
}
