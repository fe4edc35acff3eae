package castd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"castd/pkg/discovery"
	"castd/pkg/mime"
	"castd/pkg/session"
	"castd/pkg/sink"
)

// DefaultConfigPath is used when no -config flag is given
var DefaultConfigPath = filepath.Join("configs", "castd.yaml")

type Config struct {
	API       APIConfig       `yaml:"api"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Session   SessionConfig   `yaml:"session"`
	Sink      SinkConfig      `yaml:"sink"`
	Journal   JournalConfig   `yaml:"journal"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type APIConfig struct {
	Port int `yaml:"port"`
}

type DiscoveryConfig struct {
	Interval      time.Duration `yaml:"interval"`
	QueryTimeout  time.Duration `yaml:"query_timeout"`
	Port          int           `yaml:"port"`
	BroadcastAddr string        `yaml:"broadcast_addr"`
}

type SessionConfig struct {
	BufferSize   int           `yaml:"buffer_size"`
	DataTimeout  time.Duration `yaml:"data_timeout"`
	FlushTimeout time.Duration `yaml:"flush_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	ReapInterval time.Duration `yaml:"reap_interval"`

	// 카테고리별 flush 제한 (audio, video, image, application, unclassified)
	CategoryFlushTimeout map[string]time.Duration `yaml:"category_flush_timeout"`
}

type SinkConfig struct {
	Latency          time.Duration `yaml:"latency"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	StreamID         string        `yaml:"stream_id"`
}

type JournalConfig struct {
	URL string `yaml:"url"` // sqlite://path, postgres://..., 비어 있으면 비활성
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// GetConfigWithDefaults returns default configuration values
func GetConfigWithDefaults() *Config {
	sessionDefaults := session.DefaultConfig()
	sinkDefaults := sink.DefaultSRTConfig()

	return &Config{
		API: APIConfig{
			Port: 8080,
		},
		Discovery: DiscoveryConfig{
			Interval:      10 * time.Second,
			QueryTimeout:  2 * time.Second,
			Port:          4003,
			BroadcastAddr: "255.255.255.255",
		},
		Session: SessionConfig{
			BufferSize:   sessionDefaults.BufferSize,
			DataTimeout:  sessionDefaults.DataTimeout,
			FlushTimeout: sessionDefaults.FlushTimeout,
			IdleTimeout:  sessionDefaults.IdleTimeout,
			ReapInterval: sessionDefaults.ReapInterval,
		},
		Sink: SinkConfig{
			Latency:          sinkDefaults.Latency,
			ConnectTimeout:   sinkDefaults.ConnectTimeout,
			FailureThreshold: sinkDefaults.FailureThreshold,
		},
		Journal: JournalConfig{
			URL: "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a yaml file over the defaults.
// A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	// 기본 설정값으로 초기화
	config := GetConfigWithDefaults()

	if configPath == "" {
		configPath = DefaultConfigPath
	}

	// 파일 존재 확인 - 없으면 기본값 사용
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		slog.Info("Config file not found, using default values", "path", configPath)
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// YAML 파싱 - 기존 기본값 위에 덮어쓰기
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	// API 포트 검증
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d (must be between 1-65535)", c.API.Port)
	}

	// Discovery 검증
	if c.Discovery.Port <= 0 || c.Discovery.Port > 65535 {
		return fmt.Errorf("invalid discovery port: %d (must be between 1-65535)", c.Discovery.Port)
	}
	if c.Discovery.Interval <= 0 {
		return fmt.Errorf("invalid discovery interval: %v (must be positive)", c.Discovery.Interval)
	}
	if c.Discovery.QueryTimeout <= 0 || c.Discovery.QueryTimeout > c.Discovery.Interval {
		return fmt.Errorf("invalid discovery query_timeout: %v (must be positive and not exceed interval)", c.Discovery.QueryTimeout)
	}
	if c.Discovery.BroadcastAddr == "" {
		return fmt.Errorf("discovery broadcast_addr is required")
	}

	// Session 검증
	if c.Session.BufferSize <= 0 {
		return fmt.Errorf("invalid session buffer_size: %d (must be positive)", c.Session.BufferSize)
	}
	if c.Session.DataTimeout <= 0 || c.Session.FlushTimeout <= 0 {
		return fmt.Errorf("session data_timeout and flush_timeout must be positive")
	}
	if c.Session.IdleTimeout < 0 || c.Session.ReapInterval < 0 {
		return fmt.Errorf("session idle_timeout and reap_interval must not be negative")
	}
	for name, d := range c.Session.CategoryFlushTimeout {
		if _, ok := mime.ParseCategory(name); !ok {
			return fmt.Errorf("invalid session category_flush_timeout category: %s", name)
		}
		if d <= 0 {
			return fmt.Errorf("invalid session category_flush_timeout for %s: %v (must be positive)", name, d)
		}
	}

	// Sink 검증
	if c.Sink.Latency < 20*time.Millisecond || c.Sink.Latency > 8*time.Second {
		return fmt.Errorf("invalid sink latency: %v (must be between 20ms-8s)", c.Sink.Latency)
	}
	if c.Sink.ConnectTimeout <= 0 {
		return fmt.Errorf("invalid sink connect_timeout: %v (must be positive)", c.Sink.ConnectTimeout)
	}
	if c.Sink.FailureThreshold <= 0 {
		return fmt.Errorf("invalid sink failure_threshold: %d (must be positive)", c.Sink.FailureThreshold)
	}

	// 로그 설정 검증
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("invalid log level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}
	validFormats := []string{"text", "json"}
	if !contains(validFormats, strings.ToLower(c.Logging.Format)) {
		return fmt.Errorf("invalid log format: %s (must be one of: %v)", c.Logging.Format, validFormats)
	}

	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// ToSessionConfig converts Config.Session to session.Config
func (c *Config) ToSessionConfig() session.Config {
	sc := session.Config{
		BufferSize:   c.Session.BufferSize,
		DataTimeout:  c.Session.DataTimeout,
		FlushTimeout: c.Session.FlushTimeout,
		IdleTimeout:  c.Session.IdleTimeout,
		ReapInterval: c.Session.ReapInterval,
	}
	if len(c.Session.CategoryFlushTimeout) > 0 {
		sc.CategoryFlushTimeout = make(map[mime.Category]time.Duration, len(c.Session.CategoryFlushTimeout))
		for name, d := range c.Session.CategoryFlushTimeout {
			// validate()에서 이미 검사됨
			category, _ := mime.ParseCategory(name)
			sc.CategoryFlushTimeout[category] = d
		}
	}
	return sc
}

// ToSRTConfig converts Config.Sink to sink.SRTConfig
func (c *Config) ToSRTConfig() sink.SRTConfig {
	return sink.SRTConfig{
		Latency:          c.Sink.Latency,
		ConnectTimeout:   c.Sink.ConnectTimeout,
		StreamID:         c.Sink.StreamID,
		FailureThreshold: c.Sink.FailureThreshold,
	}
}

// ToDiscoveryConfig converts Config.Discovery to discovery.Config
func (c *Config) ToDiscoveryConfig() discovery.Config {
	return discovery.Config{
		Interval:     c.Discovery.Interval,
		QueryTimeout: c.Discovery.QueryTimeout,
	}
}

// GetSlogLevel returns slog.Level from config
func (c *Config) GetSlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo // 기본값
	}
}
