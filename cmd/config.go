package cmd

import (
	"fmt"
	"strings"

	"settings_sync/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SETTINGSYNC"

// loadConfig reads the YAML config and layers flags and SETTINGSYNC_*
// environment variables on top of it.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.MainConfig, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	var (
		cfg *config.MainConfig
		err error
	)
	if path := v.GetString("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.LoadMainConfig(v.GetString("prefix"))
	}
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"channel":           &cfg.ChannelName,
		"title":             &cfg.PeerTitle,
		"user-agent":        &cfg.UserAgent,
		"transport":         &cfg.Transport,
		"hub-url":           &cfg.HubURL,
		"hub-listen":        &cfg.HubListen,
		"fallback-path":     &cfg.FallbackPath,
		"conflict-strategy": &cfg.ConflictStrategy,
		"shared-secret":     &cfg.SharedSecret,
		"settings-path":     &cfg.SettingsPath,
		"log-path":          &cfg.LogPath,
		"log-level":         &cfg.LogLevel,
	}
	for key, dst := range overrides {
		if v.IsSet(key) && v.GetString(key) != "" {
			*dst = v.GetString(key)
		}
	}

	heartbeatSet := v.IsSet("heartbeat-interval") && v.GetDuration("heartbeat-interval") > 0
	if heartbeatSet {
		cfg.HeartbeatInterval = v.GetDuration("heartbeat-interval")
	}
	if v.IsSet("peer-timeout") && v.GetDuration("peer-timeout") > 0 {
		cfg.PeerTimeout = v.GetDuration("peer-timeout")
	} else if heartbeatSet && cfg.PeerTimeout <= cfg.HeartbeatInterval {
		cfg.PeerTimeout = 3 * cfg.HeartbeatInterval
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
