package appconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/vtview/internal/transport"
	"pkt.systems/vtview/schema"
)

// EnvPrefix prefixes environment overrides, e.g. VTVIEW_SESSION_ID.
const EnvPrefix = "VTVIEW"

// Load reads configuration from the provided path. If path is empty, uses
// DefaultConfigPath. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("server.url", cfg.Server.URL)
	v.SetDefault("server.origin", cfg.Server.Origin)
	v.SetDefault("session.id", cfg.Session.ID)
	v.SetDefault("session.coordinator", cfg.Session.Coordinator)
	v.SetDefault("session.include_raw_output", cfg.Session.IncludeRawOutput)
	v.SetDefault("reconnect.base_ms", cfg.Reconnect.BaseMS)
	v.SetDefault("reconnect.step_ms", cfg.Reconnect.StepMS)
	v.SetDefault("reconnect.max_ms", cfg.Reconnect.MaxMS)
	v.SetDefault("view.theme", cfg.View.Theme)
	v.SetDefault("view.frame_interval_ms", cfg.View.FrameIntervalMS)
	v.SetDefault("view.detach_key", cfg.View.DetachKey)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks a config after defaults and overrides are applied.
func Validate(cfg Config) error {
	if err := validateServerConfig(cfg.Server); err != nil {
		return err
	}
	if err := validateReconnectConfig(cfg.Reconnect); err != nil {
		return err
	}
	if err := validateViewConfig(cfg.View); err != nil {
		return err
	}
	return nil
}

func validateServerConfig(cfg ServerConfig) error {
	if _, err := transport.ResolveURL(cfg.URL, cfg.Origin); err != nil {
		if strings.TrimSpace(cfg.URL) != "" {
			return fmt.Errorf("server.url: %w", err)
		}
		return fmt.Errorf("server.origin: %w", err)
	}
	return nil
}

func validateReconnectConfig(cfg ReconnectConfig) error {
	if cfg.BaseMS < 0 || cfg.StepMS < 0 || cfg.MaxMS < 0 {
		return fmt.Errorf("reconnect delays must not be negative")
	}
	if cfg.BaseMS+cfg.StepMS == 0 {
		return fmt.Errorf("reconnect.base_ms and reconnect.step_ms must not both be zero")
	}
	if cfg.MaxMS > 0 && cfg.MaxMS < cfg.BaseMS+cfg.StepMS {
		return fmt.Errorf("reconnect.max_ms must be at least base_ms + step_ms")
	}
	return nil
}

func validateViewConfig(cfg ViewConfig) error {
	if _, ok := schema.NormalizeThemeName(cfg.Theme); !ok {
		return fmt.Errorf("%w: view.theme %q", schema.ErrInvalidTheme, cfg.Theme)
	}
	if cfg.FrameIntervalMS < 0 {
		return fmt.Errorf("view.frame_interval_ms must not be negative")
	}
	if _, err := ParseDetachKey(cfg.DetachKey); err != nil {
		return fmt.Errorf("view.detach_key: %w", err)
	}
	return nil
}

// ParseDetachKey maps "ctrl+<key>" to its control byte.
func ParseDetachKey(value string) (byte, error) {
	key := strings.ToLower(strings.TrimSpace(value))
	rest, ok := strings.CutPrefix(key, "ctrl+")
	if !ok || len(rest) != 1 {
		return 0, fmt.Errorf("unsupported key %q; expected ctrl+<key>", value)
	}
	c := rest[0]
	switch {
	case c >= 'a' && c <= 'z':
		return c - 'a' + 1, nil
	case c >= '[' && c <= '_':
		return c - '@', nil
	case c == '@' || c == ' ':
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported key %q; expected ctrl+<key>", value)
	}
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Server.URL = expandEnv(cfg.Server.URL)
	cfg.Server.Origin = expandEnv(cfg.Server.Origin)
	cfg.Session.ID = expandEnv(cfg.Session.ID)
	cfg.Session.Coordinator = expandEnv(cfg.Session.Coordinator)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	data, err := Marshal(DefaultConfig())
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
