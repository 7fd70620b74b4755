package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults in place.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if cfg.Acquire.DisplayFPS < 0 {
		return fmt.Errorf("acquire.display_fps must be >= 0")
	}
	if cfg.Acquire.DisplayFPS == 0 {
		cfg.Acquire.DisplayFPS = 15
	}
	if cfg.Acquire.StatsIntervalMs <= 0 {
		cfg.Acquire.StatsIntervalMs = 500
	}
	if cfg.Acquire.StopTimeoutS <= 0 {
		cfg.Acquire.StopTimeoutS = 5
	}

	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	// Default topics under the instance's namespace.
	if cfg.MQTT.Topics.Events == "" {
		cfg.MQTT.Topics.Events = fmt.Sprintf("swcap/%s/events", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Stats == "" {
		cfg.MQTT.Topics.Stats = fmt.Sprintf("swcap/%s/stats", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Captures == "" {
		cfg.MQTT.Topics.Captures = fmt.Sprintf("swcap/%s/captures", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("swcap/%s/control", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.ControlResponse == "" {
		cfg.MQTT.Topics.ControlResponse = fmt.Sprintf("swcap/%s/control/response", cfg.InstanceID)
	}

	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"events":   1,
			"stats":    0,
			"captures": 1,
			"control":  1,
		}
	}

	// Capture paths default under the invoking user's home.
	if cfg.Capture.SaveDir == "" {
		cfg.Capture.SaveDir = filepath.Join(homeDir(), ".swcap", "captures")
	}
	if cfg.Capture.HistoryDB == "" {
		cfg.Capture.HistoryDB = filepath.Join(cfg.Capture.SaveDir, "captures.db")
	}
	if cfg.Capture.SettingsFile == "" {
		cfg.Capture.SettingsFile = filepath.Join(homeDir(), ".swcap", "settings.yaml")
	}

	if cfg.Preview.Addr == "" {
		cfg.Preview.Addr = ":8089"
	}
	if cfg.Preview.JPEGQuality == 0 {
		cfg.Preview.JPEGQuality = 80
	}
	if cfg.Preview.JPEGQuality < 1 || cfg.Preview.JPEGQuality > 100 {
		return fmt.Errorf("preview.jpeg_quality must be in 1..100")
	}

	if cfg.Health.Port == "" {
		cfg.Health.Port = "8080"
	}

	if cfg.Upload != nil {
		if cfg.Upload.Host == "" {
			return fmt.Errorf("upload.host is required when upload is configured")
		}
		if cfg.Upload.User == "" {
			return fmt.Errorf("upload.user is required when upload is configured")
		}
		if cfg.Upload.RemoteDir == "" {
			return fmt.Errorf("upload.remote_dir is required when upload is configured")
		}
		if cfg.Upload.Port <= 0 {
			cfg.Upload.Port = 22
		}
		if cfg.Upload.TimeoutS <= 0 {
			cfg.Upload.TimeoutS = 30
		}
		if cfg.Upload.Password == "" && cfg.Upload.KeyFile == "" {
			return fmt.Errorf("upload needs a password or a key_file")
		}
	}

	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
