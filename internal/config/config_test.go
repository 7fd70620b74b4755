package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "swcapd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimal = `
instance_id: bench-01
mqtt:
  broker: tcp://localhost:1883
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Acquire.DisplayFPS != 15 {
		t.Errorf("display_fps default = %v, want 15", cfg.Acquire.DisplayFPS)
	}
	if cfg.Acquire.StatsIntervalMs != 500 {
		t.Errorf("stats_interval_ms default = %d, want 500", cfg.Acquire.StatsIntervalMs)
	}
	if cfg.Acquire.StopTimeoutS != 5 {
		t.Errorf("stop_timeout_s default = %d, want 5", cfg.Acquire.StopTimeoutS)
	}
	if cfg.ShutdownTimeoutS != 5 {
		t.Errorf("shutdown_timeout_s default = %d, want 5", cfg.ShutdownTimeoutS)
	}
	if got := cfg.MQTT.Topics.Events; got != "swcap/bench-01/events" {
		t.Errorf("events topic = %q", got)
	}
	if got := cfg.MQTT.Topics.ControlResponse; got != "swcap/bench-01/control/response" {
		t.Errorf("control response topic = %q", got)
	}
	if cfg.MQTT.QoS["events"] != 1 || cfg.MQTT.QoS["stats"] != 0 {
		t.Errorf("qos defaults = %v", cfg.MQTT.QoS)
	}
	if cfg.Preview.Addr != ":8089" || cfg.Preview.JPEGQuality != 80 {
		t.Errorf("preview defaults = %+v", cfg.Preview)
	}
	if cfg.Health.Port != "8080" {
		t.Errorf("health port default = %q, want 8080", cfg.Health.Port)
	}
	if cfg.Capture.SaveDir == "" || !strings.HasSuffix(cfg.Capture.SaveDir, filepath.Join(".swcap", "captures")) {
		t.Errorf("save_dir default = %q", cfg.Capture.SaveDir)
	}
	if cfg.Capture.HistoryDB != filepath.Join(cfg.Capture.SaveDir, "captures.db") {
		t.Errorf("history_db default = %q", cfg.Capture.HistoryDB)
	}
	if !strings.HasSuffix(cfg.Capture.SettingsFile, filepath.Join(".swcap", "settings.yaml")) {
		t.Errorf("settings_file default = %q", cfg.Capture.SettingsFile)
	}
	if cfg.Upload != nil {
		t.Error("upload configured without a block")
	}
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing instance",
			body: "mqtt:\n  broker: tcp://localhost:1883\n",
			want: "instance_id is required",
		},
		{
			name: "bad instance chars",
			body: "instance_id: Bench_01\nmqtt:\n  broker: tcp://localhost:1883\n",
			want: "instance_id must match",
		},
		{
			name: "missing broker",
			body: "instance_id: bench-01\n",
			want: "mqtt.broker is required",
		},
		{
			name: "bad jpeg quality",
			body: minimal + "preview:\n  jpeg_quality: 250\n",
			want: "jpeg_quality",
		},
		{
			name: "upload without credentials",
			body: minimal + "upload:\n  host: files.lab\n  user: swcap\n  remote_dir: /srv/captures\n",
			want: "password or a key_file",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatal("Load accepted invalid config")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want contains %q", err, tc.want)
			}
		})
	}
}

func TestLoadUploadDefaults(t *testing.T) {
	body := minimal + `
upload:
  host: files.lab
  user: swcap
  password: hunter2
  remote_dir: /srv/captures
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upload.Port != 22 {
		t.Errorf("upload port default = %d, want 22", cfg.Upload.Port)
	}
	if cfg.Upload.TimeoutS != 30 {
		t.Errorf("upload timeout default = %d, want 30", cfg.Upload.TimeoutS)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load accepted a missing file")
	}
}
