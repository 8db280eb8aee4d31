package mcp

import (
	"github.com/spf13/viper"

	"github.com/G3UKB/SDRLibE/pkg/sockpath"
)

// Config holds all configuration for the MCP server.
type Config struct {
	NATS   NATSConfig   `mapstructure:"nats"`
	Daemon DaemonConfig `mapstructure:"daemon"`
}

// NATSConfig holds NATS connection settings. An empty URL disables the
// next_packet tool.
type NATSConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// DaemonConfig holds settings for connecting to the sdrd daemon API.
type DaemonConfig struct {
	Socket string `mapstructure:"socket"`
}

// LoadConfig reads the MCP server configuration from file, env vars, and defaults.
func LoadConfig(cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("nats.url", "")
	v.SetDefault("daemon.socket", sockpath.DefaultSocketPath())

	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("sdr-mcp")
		v.AddConfigPath("/etc/sdr")
		v.AddConfigPath("$HOME/.config/sdr")
		v.AddConfigPath(".")
	}

	v.BindEnv("nats.url", "SDR_NATS_URL")
	v.BindEnv("nats.token", "SDR_NATS_TOKEN")
	v.BindEnv("daemon.socket", "SDR_DAEMON_SOCKET")

	_ = v.ReadInConfig() // config file is optional

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
