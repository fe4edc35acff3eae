package castd

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"castd/pkg/mime"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "castd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	config := GetConfigWithDefaults()
	if err := config.validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if config.Journal.URL != "" {
		t.Errorf("journal should be disabled by default, got %q", config.Journal.URL)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if config.API.Port != GetConfigWithDefaults().API.Port {
		t.Errorf("expected defaults, got %+v", config.API)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 9090
discovery:
  interval: 30s
  query_timeout: 3s
session:
  buffer_size: 2048
  data_timeout: 1500ms
sink:
  latency: 200ms
  stream_id: castd
journal:
  url: sqlite:///var/lib/castd/journal.db
logging:
  level: debug
  format: json
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if config.API.Port != 9090 {
		t.Errorf("api.port = %d", config.API.Port)
	}
	if config.Discovery.Interval != 30*time.Second || config.Discovery.QueryTimeout != 3*time.Second {
		t.Errorf("discovery = %+v", config.Discovery)
	}
	// 지정하지 않은 값은 기본값 유지
	if config.Discovery.Port != 4003 || config.Discovery.BroadcastAddr != "255.255.255.255" {
		t.Errorf("discovery defaults lost: %+v", config.Discovery)
	}

	sc := config.ToSessionConfig()
	if sc.BufferSize != 2048 || sc.DataTimeout != 1500*time.Millisecond {
		t.Errorf("session config = %+v", sc)
	}
	if sc.FlushTimeout != GetConfigWithDefaults().Session.FlushTimeout {
		t.Errorf("flush timeout default lost: %v", sc.FlushTimeout)
	}

	srt := config.ToSRTConfig()
	if srt.Latency != 200*time.Millisecond || srt.StreamID != "castd" || srt.FailureThreshold <= 0 {
		t.Errorf("srt config = %+v", srt)
	}

	if config.GetSlogLevel() != slog.LevelDebug {
		t.Errorf("level = %v", config.GetSlogLevel())
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"api port", "api:\n  port: 70000\n", "invalid api port"},
		{"discovery port", "discovery:\n  port: 0\n", "invalid discovery port"},
		{"query timeout exceeds interval", "discovery:\n  interval: 1s\n  query_timeout: 2s\n", "query_timeout"},
		{"buffer size", "session:\n  buffer_size: 0\n", "buffer_size"},
		{"negative idle", "session:\n  idle_timeout: -1s\n", "idle_timeout"},
		{"latency", "sink:\n  latency: 10s\n", "sink latency"},
		{"threshold", "sink:\n  failure_threshold: 0\n", "failure_threshold"},
		{"flush category", "session:\n  category_flush_timeout:\n    hologram: 5s\n", "category_flush_timeout category"},
		{"flush category timeout", "session:\n  category_flush_timeout:\n    video: 0s\n", "category_flush_timeout for video"},
		{"log level", "logging:\n  level: verbose\n", "invalid log level"},
		{"log format", "logging:\n  format: xml\n", "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestCategoryFlushTimeoutConfig(t *testing.T) {
	path := writeConfig(t, `
session:
  flush_timeout: 10s
  category_flush_timeout:
    video: 45s
    Audio: 2s
`)
	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	sc := config.ToSessionConfig()
	want := map[mime.Category]time.Duration{mime.Video: 45 * time.Second, mime.Audio: 2 * time.Second}
	if len(sc.CategoryFlushTimeout) != len(want) {
		t.Fatalf("CategoryFlushTimeout = %v", sc.CategoryFlushTimeout)
	}
	for category, d := range want {
		if sc.CategoryFlushTimeout[category] != d {
			t.Errorf("%s flush timeout = %v, want %v", category, sc.CategoryFlushTimeout[category], d)
		}
	}
	if sc.FlushTimeout != 10*time.Second {
		t.Errorf("default flush timeout = %v", sc.FlushTimeout)
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "api: [port"))
	if err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("error = %v", err)
	}
}

func TestNewLoggerFormat(t *testing.T) {
	config := GetConfigWithDefaults()
	config.Logging.Format = "json"
	config.Logging.Level = "warn"

	var buf bytes.Buffer
	logger := NewLogger(config, &buf)
	logger.Info("dropped")
	logger.Warn("kept", "sessionId", "h1")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info line should be filtered: %s", out)
	}
	if !strings.HasPrefix(out, "{") || !strings.Contains(out, `"sessionId":"h1"`) {
		t.Errorf("expected json output, got %s", out)
	}
}

func TestAppLifecycle(t *testing.T) {
	config := GetConfigWithDefaults()
	config.API.Port = 18089
	config.Discovery.BroadcastAddr = "127.0.0.1"
	config.Discovery.Port = 18090
	config.Discovery.QueryTimeout = 50 * time.Millisecond
	config.Journal.URL = "sqlite://:memory:"

	app, err := NewApp(config)
	if err != nil {
		t.Fatalf("NewApp() error: %v", err)
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if app.Registry().Len() != 0 || app.Coordinator().Len() != 0 {
		t.Errorf("fresh app should be empty")
	}
	app.Stop()

	// 두 번째 Stop은 no-op
	app.Stop()
}
