// Package config provides configuration helpers for the wuji-bridge daemon:
// an optional YAML mapping file and environment overrides layered onto the
// flag-derived bridge configuration.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/wujilabs/go-wuji/pkg/bridge"
	"github.com/wujilabs/go-wuji/pkg/hand"
)

// File is the on-disk mapping config. Every field is optional; invalid
// entries are ignored and the built-in defaults kept, so a stale file can
// never take the bridge down.
type File struct {
	// "lower" | "upper" | "auto"
	OpenPose   string `yaml:"open_pose"`
	ClosedPose string `yaml:"closed_pose"`

	// 0 (open) .. 1 (full fist)
	MaxCurl *float64 `yaml:"max_curl"`

	// Four joint weights per finger name (thumb, index, middle, ring, pinky)
	FingerWeights map[string][]float64 `yaml:"finger_weights"`
}

// LoadFile reads and applies a YAML mapping file onto cfg.
func LoadFile(path string, cfg *bridge.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read mapping file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse mapping file %s: %w", path, err)
	}

	f.apply(cfg)
	return nil
}

func validPoseMode(m string) bool {
	switch m {
	case bridge.PoseModeLower, bridge.PoseModeUpper, bridge.PoseModeAuto:
		return true
	}
	return false
}

func (f File) apply(cfg *bridge.Config) {
	if validPoseMode(f.OpenPose) {
		cfg.OpenPoseMode = f.OpenPose
	}
	if validPoseMode(f.ClosedPose) {
		cfg.ClosedPoseMode = f.ClosedPose
	}

	if f.MaxCurl != nil {
		mc := *f.MaxCurl
		if mc < 0 {
			mc = 0
		}
		if mc > 1 {
			mc = 1
		}
		cfg.MaxCurl = mc
	}

	for name, weights := range f.FingerWeights {
		fi, ok := hand.FingerNames[name]
		if !ok || len(weights) != hand.Joints {
			continue
		}
		copy(cfg.Weights[fi][:], weights)
	}
}

// ApplyEnv layers environment overrides onto cfg. Only the deployment knobs
// are exposed this way; safety limits stay on flags and the mapping file.
func ApplyEnv(cfg *bridge.Config) {
	if host := os.Getenv("WUJI_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("WUJI_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if level := os.Getenv("WUJI_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if broker := os.Getenv("WUJI_MQTT_BROKER"); broker != "" {
		cfg.MQTTBroker = broker
	}
	if topic := os.Getenv("WUJI_MQTT_TOPIC"); topic != "" {
		cfg.MQTTTopic = topic
	}
}
