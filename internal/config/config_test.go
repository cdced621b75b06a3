package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wujilabs/go-wuji/pkg/bridge"
	"github.com/wujilabs/go-wuji/pkg/hand"
)

func writeMapping(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileAppliesMapping(t *testing.T) {
	path := writeMapping(t, `
open_pose: lower
closed_pose: upper
max_curl: 0.70
finger_weights:
  index: [0.5, 0.9, 0.7, 0.0]
  thumb: [1.0, 0.8, 0.5, 0.0]
`)

	cfg := bridge.DefaultConfig()
	if err := LoadFile(path, &cfg); err != nil {
		t.Fatal(err)
	}

	if cfg.OpenPoseMode != bridge.PoseModeLower {
		t.Errorf("open pose = %q, want lower", cfg.OpenPoseMode)
	}
	if cfg.ClosedPoseMode != bridge.PoseModeUpper {
		t.Errorf("closed pose = %q, want upper", cfg.ClosedPoseMode)
	}
	if cfg.MaxCurl != 0.70 {
		t.Errorf("max curl = %v, want 0.70", cfg.MaxCurl)
	}
	if got := cfg.Weights[hand.Index]; got != [hand.Joints]float64{0.5, 0.9, 0.7, 0.0} {
		t.Errorf("index weights = %v", got)
	}
	if got := cfg.Weights[hand.Thumb]; got != [hand.Joints]float64{1.0, 0.8, 0.5, 0.0} {
		t.Errorf("thumb weights = %v", got)
	}
	// Fingers absent from the file keep their defaults.
	if got := cfg.Weights[hand.Middle]; got != [hand.Joints]float64{0.70, 1.00, 0.80, 0.00} {
		t.Errorf("middle weights = %v, want defaults", got)
	}
}

func TestLoadFileIgnoresInvalidEntries(t *testing.T) {
	path := writeMapping(t, `
open_pose: sideways
max_curl: 7.5
finger_weights:
  index: [0.5, 0.9]
  tentacle: [1, 1, 1, 1]
`)

	cfg := bridge.DefaultConfig()
	want := bridge.DefaultConfig()
	if err := LoadFile(path, &cfg); err != nil {
		t.Fatal(err)
	}

	if cfg.OpenPoseMode != want.OpenPoseMode {
		t.Errorf("invalid pose mode applied: %q", cfg.OpenPoseMode)
	}
	if cfg.MaxCurl != 1.0 {
		t.Errorf("max curl = %v, want clamped to 1.0", cfg.MaxCurl)
	}
	if cfg.Weights != want.Weights {
		t.Errorf("malformed weights applied: %v", cfg.Weights)
	}
}

func TestLoadFileErrors(t *testing.T) {
	cfg := bridge.DefaultConfig()
	if err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), &cfg); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeMapping(t, "{not yaml: [")
	if err := LoadFile(path, &cfg); err == nil {
		t.Error("expected error for unparseable file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("WUJI_HOST", "0.0.0.0")
	t.Setenv("WUJI_PORT", "9000")
	t.Setenv("WUJI_LOG_LEVEL", "debug")
	t.Setenv("WUJI_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("WUJI_MQTT_TOPIC", "lab/hand")

	cfg := bridge.DefaultConfig()
	ApplyEnv(&cfg)

	if cfg.Host != "0.0.0.0" || cfg.Port != 9000 {
		t.Errorf("listen address = %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.MQTTBroker != "tcp://broker:1883" || cfg.MQTTTopic != "lab/hand" {
		t.Errorf("mqtt = %q %q", cfg.MQTTBroker, cfg.MQTTTopic)
	}
}

func TestApplyEnvIgnoresGarbagePort(t *testing.T) {
	t.Setenv("WUJI_PORT", "not-a-port")

	cfg := bridge.DefaultConfig()
	ApplyEnv(&cfg)
	if cfg.Port != bridge.DefaultConfig().Port {
		t.Errorf("port = %d, want default", cfg.Port)
	}
}
