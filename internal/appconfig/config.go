package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/vtview/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	Server        ServerConfig    `mapstructure:"server" yaml:"server"`
	Session       SessionConfig   `mapstructure:"session" yaml:"session"`
	Reconnect     ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	View          ViewConfig      `mapstructure:"view" yaml:"view"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ServerConfig locates the vtr web server.
type ServerConfig struct {
	// URL is an explicit ws:// or wss:// endpoint and wins over Origin.
	URL    string `mapstructure:"url" yaml:"url"`
	Origin string `mapstructure:"origin" yaml:"origin"`
}

// SessionConfig names the session to attach to.
type SessionConfig struct {
	ID               string `mapstructure:"id" yaml:"id"`
	Coordinator      string `mapstructure:"coordinator" yaml:"coordinator"`
	IncludeRawOutput bool   `mapstructure:"include_raw_output" yaml:"include_raw_output"`
}

// Ref returns the configured session reference.
func (c SessionConfig) Ref() schema.SessionRef {
	return schema.SessionRef{
		ID:          schema.SessionID(c.ID),
		Coordinator: schema.CoordinatorName(c.Coordinator),
	}
}

// ReconnectConfig controls the reconnect backoff.
type ReconnectConfig struct {
	BaseMS int `mapstructure:"base_ms" yaml:"base_ms"`
	StepMS int `mapstructure:"step_ms" yaml:"step_ms"`
	MaxMS  int `mapstructure:"max_ms" yaml:"max_ms"`
}

// Base returns the base delay.
func (c ReconnectConfig) Base() time.Duration { return time.Duration(c.BaseMS) * time.Millisecond }

// Step returns the per-attempt step.
func (c ReconnectConfig) Step() time.Duration { return time.Duration(c.StepMS) * time.Millisecond }

// Max returns the delay cap.
func (c ReconnectConfig) Max() time.Duration { return time.Duration(c.MaxMS) * time.Millisecond }

// ViewConfig controls the local painter.
type ViewConfig struct {
	Theme           string `mapstructure:"theme" yaml:"theme"`
	FrameIntervalMS int    `mapstructure:"frame_interval_ms" yaml:"frame_interval_ms"`
	DetachKey       string `mapstructure:"detach_key" yaml:"detach_key"`
}

// FrameInterval returns the paint cadence.
func (c ViewConfig) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMS) * time.Millisecond
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Server: ServerConfig{
			URL:    "",
			Origin: "http://127.0.0.1:4620",
		},
		Session: SessionConfig{
			ID:               "",
			Coordinator:      "",
			IncludeRawOutput: false,
		},
		Reconnect: ReconnectConfig{
			BaseMS: 500,
			StepMS: 200,
			MaxMS:  5000,
		},
		View: ViewConfig{
			Theme:           string(schema.DefaultTheme),
			FrameIntervalMS: 16,
			DetachKey:       "ctrl+]",
		},
	}
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".vtview", "config.yaml"), nil
}
