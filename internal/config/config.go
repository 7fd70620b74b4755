package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	InstanceID       string        `yaml:"instance_id"`
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"` // graceful shutdown timeout in seconds (default: 5)
	Camera           CameraConfig  `yaml:"camera"`
	Acquire          AcquireConfig `yaml:"acquire"`
	Capture          CaptureConfig `yaml:"capture"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
	Preview          PreviewConfig `yaml:"preview"`
	Health           HealthConfig  `yaml:"health"`
	Upload           *UploadConfig `yaml:"upload,omitempty"`
}

// CameraConfig selects and prepares the device.
type CameraConfig struct {
	ConnectionID string `yaml:"connection_id"` // empty: first discovered device
	AutoConnect  bool   `yaml:"auto_connect"`  // connect at startup
	Simulate     bool   `yaml:"simulate"`      // run against the in-process simulator
}

// AcquireConfig tunes the acquisition session.
type AcquireConfig struct {
	DisplayFPS      float64 `yaml:"display_fps"`       // per-channel display emission rate (default: 15)
	StatsIntervalMs int     `yaml:"stats_interval_ms"` // statistics publish period (default: 500)
	StopTimeoutS    int     `yaml:"stop_timeout_s"`    // bound on session stop (default: 5)
	AutoStart       bool    `yaml:"auto_start"`        // start a session right after connect
}

// CaptureConfig controls snapshot saving and indexing.
type CaptureConfig struct {
	SaveDir      string `yaml:"save_dir"`      // capture output root (default: ~/.swcap/captures)
	HistoryDB    string `yaml:"history_db"`    // sqlite index path (default: <save_dir>/captures.db)
	SettingsFile string `yaml:"settings_file"` // operator settings path (default: ~/.swcap/settings.yaml)
}

// MQTTConfig contains broker settings.
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates.
type MQTTTopics struct {
	Events          string `yaml:"events"`
	Stats           string `yaml:"stats"`
	Captures        string `yaml:"captures"`
	Control         string `yaml:"control"`
	ControlResponse string `yaml:"control_response"`
}

// PreviewConfig controls the WebSocket frame preview.
type PreviewConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`         // listen address (default: :8089)
	JPEGQuality int    `yaml:"jpeg_quality"` // 1..100 (default: 80)
}

// HealthConfig controls the HTTP health endpoints.
type HealthConfig struct {
	Port string `yaml:"port"` // default: 8080
}

// UploadConfig mirrors captures to an SFTP target when present.
type UploadConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"` // default: 22
	User       string `yaml:"user"`
	Password   string `yaml:"password,omitempty"`
	KeyFile    string `yaml:"key_file,omitempty"`
	RemoteDir  string `yaml:"remote_dir"`
	TimeoutS   int    `yaml:"timeout_s"` // default: 30
	HostKey    string `yaml:"host_key,omitempty"`
	SkipVerify bool   `yaml:"skip_verify"` // accept any host key; lab use only
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
