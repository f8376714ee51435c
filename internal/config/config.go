package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	TransportAuto      = "auto"
	TransportWebSocket = "websocket"
	TransportSQLite    = "sqlite"
	TransportMemory    = "memory"
)

type MainConfig struct {
	ChannelName string `yaml:"channel_name" validate:"required"`
	PeerTitle   string `yaml:"peer_title"`
	UserAgent   string `yaml:"user_agent"`

	Transport            string        `yaml:"transport" validate:"oneof=auto websocket sqlite memory"`
	HubURL               string        `yaml:"hub_url" validate:"required_if=Transport websocket,omitempty,url"`
	HubListen            string        `yaml:"hub_listen"`
	FallbackPath         string        `yaml:"fallback_path" validate:"required_if=Transport sqlite"`
	FallbackPollInterval time.Duration `yaml:"fallback_poll_interval" validate:"gt=0"`
	FallbackRecordTTL    time.Duration `yaml:"fallback_record_ttl" validate:"gt=0"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"gt=0"`
	PeerTimeout       time.Duration `yaml:"peer_timeout" validate:"gtfield=HeartbeatInterval"`

	// Unknown strategy names are accepted and resolve as remote-wins.
	ConflictStrategy string        `yaml:"conflict_strategy"`
	ConflictTTL      time.Duration `yaml:"conflict_ttl" validate:"gt=0"`
	TimestampWindow  time.Duration `yaml:"timestamp_window" validate:"gt=0"`

	MaxMessageAge time.Duration `yaml:"max_message_age" validate:"gt=0"`
	MaxClockSkew  time.Duration `yaml:"max_clock_skew" validate:"gt=0"`
	SharedSecret  string        `yaml:"shared_secret" validate:"omitempty,min=16"`

	SettingsPath string `yaml:"settings_path"`
	LogPath      string `yaml:"log_path"`
	LogLevel     string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() MainConfig {
	heartbeat := 5 * time.Second
	return MainConfig{
		ChannelName:          "settings-sync",
		Transport:            TransportAuto,
		HubURL:               "ws://127.0.0.1:25580/channel",
		HubListen:            ":25580",
		FallbackPath:         filepath.Join(os.TempDir(), "settings-sync.db"),
		FallbackPollInterval: 250 * time.Millisecond,
		FallbackRecordTTL:    10 * time.Second,
		HeartbeatInterval:    heartbeat,
		PeerTimeout:          3 * heartbeat,
		ConflictStrategy:     "leader-wins",
		ConflictTTL:          time.Minute,
		TimestampWindow:      2 * time.Second,
		MaxMessageAge:        time.Minute,
		MaxClockSkew:         2 * time.Minute,
		LogLevel:             "info",
	}
}

// LoadMainConfig reads <basePath>/config/settingsync.yml on top of the
// defaults. A missing file is not an error.
func LoadMainConfig(basePath string) (*MainConfig, error) {
	if basePath == "" {
		exePath, err := os.Executable()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Dir(exePath)
	}
	return LoadFile(filepath.Join(basePath, "config", "settingsync.yml"))
}

// LoadFile reads the given YAML file on top of the defaults.
func LoadFile(configPath string) (*MainConfig, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	cfg.applyDerivedDefaults(data)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDerivedDefaults keeps peer_timeout at three heartbeats when the file
// sets only the heartbeat interval.
func (c *MainConfig) applyDerivedDefaults(raw []byte) {
	var keys map[string]any
	if err := yaml.Unmarshal(raw, &keys); err != nil {
		return
	}
	_, hasHeartbeat := keys["heartbeat_interval"]
	_, hasTimeout := keys["peer_timeout"]
	if hasHeartbeat && !hasTimeout {
		c.PeerTimeout = 3 * c.HeartbeatInterval
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *MainConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config field %s: failed %q check (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
