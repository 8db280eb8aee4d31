package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/G3UKB/SDRLibE/internal/logging"
	"github.com/G3UKB/SDRLibE/internal/secrets"
	"github.com/G3UKB/SDRLibE/internal/stream"
	"github.com/G3UKB/SDRLibE/internal/transport"
	"github.com/G3UKB/SDRLibE/internal/workflow"
	"github.com/G3UKB/SDRLibE/pkg/sockpath"
)

// Config is the top-level daemon configuration.
type Config struct {
	Device   DeviceConfig   `mapstructure:"device"`
	Control  ControlConfig  `mapstructure:"control"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	NATS     NATSConfig     `mapstructure:"nats"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Scripts  ScriptsConfig  `mapstructure:"scripts"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      logging.Config `mapstructure:"log"`
}

// DeviceConfig is the connector's control endpoint.
type DeviceConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ControlConfig holds control channel settings.
type ControlConfig struct {
	LocalPort   int           `mapstructure:"local_port"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxDatagram int           `mapstructure:"max_datagram"`
}

// StreamConfig holds stream receiver settings.
type StreamConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	MaxDatagram   int           `mapstructure:"max_datagram"`
	Backoff       time.Duration `mapstructure:"backoff"`
	PollWait      time.Duration `mapstructure:"poll_wait"`
	QueueSize     int           `mapstructure:"queue_size"`
	DecodeDisplay bool          `mapstructure:"decode_display"`
}

// WorkflowConfig holds the configuration workflow parameters.
type WorkflowConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	OutputIndex   int    `mapstructure:"output_index"`
	Direction     int    `mapstructure:"direction"`
	Location      string `mapstructure:"location"`
	Receiver      int    `mapstructure:"receiver"`
	ChannelMode   string `mapstructure:"channel_mode"`
	RadioSelector int    `mapstructure:"radio_selector"`
	Display       []bool `mapstructure:"display"`
	FailOnNak     bool   `mapstructure:"fail_on_nak"`
}

// NATSConfig holds embedded or external NATS settings.
type NATSConfig struct {
	Embedded bool   `mapstructure:"embedded"`
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Token    string `mapstructure:"token"`
}

// MQTTConfig holds the optional MQTT bridge settings. An empty broker disables it.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"` // #nosec G117 -- config deserialization, not hardcoded
	QoS      int    `mapstructure:"qos"`
}

// ScriptsConfig holds Lua packet hook settings.
type ScriptsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Dir             string        `mapstructure:"dir"`
	HotReload       bool          `mapstructure:"hot_reload"`
	HandlerTimeout  time.Duration `mapstructure:"handler_timeout"`
	VerifyIntegrity bool          `mapstructure:"verify_integrity"`
	AllowCommands   bool          `mapstructure:"allow_commands"`
}

// ServerConfig holds the control API socket.
type ServerConfig struct {
	Socket string `mapstructure:"socket"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()
	wf := workflow.DefaultParams()

	v.SetDefault("device.host", "127.0.0.1")
	v.SetDefault("device.port", 10010)

	v.SetDefault("control.local_port", 0)
	v.SetDefault("control.timeout", 5*time.Second)
	v.SetDefault("control.max_datagram", 4096)

	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.host", "")
	v.SetDefault("stream.port", 10011)
	v.SetDefault("stream.max_datagram", stream.DefaultMaxDatagram)
	v.SetDefault("stream.backoff", stream.DefaultBackoff)
	v.SetDefault("stream.poll_wait", stream.DefaultPollWait)
	v.SetDefault("stream.queue_size", 256)
	v.SetDefault("stream.decode_display", true)

	v.SetDefault("workflow.enabled", true)
	v.SetDefault("workflow.output_index", wf.OutputIndex)
	v.SetDefault("workflow.direction", wf.Direction)
	v.SetDefault("workflow.location", wf.Location)
	v.SetDefault("workflow.receiver", wf.Receiver)
	v.SetDefault("workflow.channel_mode", wf.ChannelMode)
	v.SetDefault("workflow.radio_selector", wf.RadioSelector)
	v.SetDefault("workflow.display", wf.Display[:])
	v.SetDefault("workflow.fail_on_nak", wf.FailOnNak)

	v.SetDefault("nats.embedded", true)

	v.SetDefault("mqtt.topic", "sdr/stream")

	v.SetDefault("scripts.enabled", true)
	v.SetDefault("scripts.dir", filepath.Join(homeDir, ".config", "sdr", "scripts"))
	v.SetDefault("scripts.hot_reload", true)
	v.SetDefault("scripts.handler_timeout", 2*time.Second)
	v.SetDefault("scripts.verify_integrity", false)
	v.SetDefault("scripts.allow_commands", false)

	v.SetDefault("server.socket", sockpath.DefaultSocketPath())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
}

// LoadConfig reads configuration from file, env and defaults, decrypting
// any ENC[...] values. A missing sdr.toml in the search path is not an
// error; an explicit cfgFile must exist.
func LoadConfig(cfgFile string) (Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigType("toml")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("sdr")
		v.AddConfigPath("/etc/sdr")
		v.AddConfigPath("$HOME/.config/sdr")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SDR")
	v.AutomaticEnv()

	v.BindEnv("device.host", "SDR_DEVICE_HOST")
	v.BindEnv("nats.token", "SDR_NATS_TOKEN")
	v.BindEnv("mqtt.username", "SDR_MQTT_USERNAME")
	v.BindEnv("mqtt.password", "SDR_MQTT_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := secrets.Apply(v); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.Scripts.Dir = secrets.ExpandHome(cfg.Scripts.Dir)
	return cfg, cfg.Validate()
}

// Validate checks ports, sizes and timeouts.
func (c Config) Validate() error {
	var errs []error
	checkPort := func(name string, port int, allowZero bool) {
		if port < 0 || port > 65535 || (port == 0 && !allowZero) {
			errs = append(errs, fmt.Errorf("%s: invalid port %d", name, port))
		}
	}

	if c.Device.Host == "" {
		errs = append(errs, errors.New("device.host: must not be empty"))
	}
	checkPort("device.port", c.Device.Port, false)
	checkPort("control.local_port", c.Control.LocalPort, true)
	if c.Control.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("control.timeout: must be positive, got %s", c.Control.Timeout))
	}
	if c.Control.MaxDatagram <= 0 || c.Control.MaxDatagram > transport.MaxUDPPayload {
		errs = append(errs, fmt.Errorf("control.max_datagram: %d out of range", c.Control.MaxDatagram))
	}

	if c.Stream.Enabled {
		checkPort("stream.port", c.Stream.Port, true)
		if c.Stream.MaxDatagram <= 0 || c.Stream.MaxDatagram > transport.MaxUDPPayload {
			errs = append(errs, fmt.Errorf("stream.max_datagram: %d out of range", c.Stream.MaxDatagram))
		}
		if c.Stream.Backoff <= 0 {
			errs = append(errs, fmt.Errorf("stream.backoff: must be positive"))
		}
		if c.Stream.PollWait <= 0 {
			errs = append(errs, fmt.Errorf("stream.poll_wait: must be positive"))
		}
		if c.Stream.QueueSize <= 0 {
			errs = append(errs, fmt.Errorf("stream.queue_size: must be positive"))
		}
	}

	if c.Workflow.Enabled {
		if c.Workflow.OutputIndex < 0 {
			errs = append(errs, fmt.Errorf("workflow.output_index: negative index %d", c.Workflow.OutputIndex))
		}
		if len(c.Workflow.Display) != 3 {
			errs = append(errs, fmt.Errorf("workflow.display: need 3 flags, got %d", len(c.Workflow.Display)))
		}
	}

	if !c.NATS.Embedded && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url: required when nats.embedded is false"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos: %d not in 0..2", c.MQTT.QoS))
	}
	if c.Server.Socket == "" {
		errs = append(errs, errors.New("server.socket: must not be empty"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// WorkflowParams converts the workflow section to workflow.Params.
func (c Config) WorkflowParams() workflow.Params {
	p := workflow.Params{
		OutputIndex:   c.Workflow.OutputIndex,
		Direction:     c.Workflow.Direction,
		Location:      c.Workflow.Location,
		Receiver:      c.Workflow.Receiver,
		ChannelMode:   c.Workflow.ChannelMode,
		RadioSelector: c.Workflow.RadioSelector,
		FailOnNak:     c.Workflow.FailOnNak,
	}
	copy(p.Display[:], c.Workflow.Display)
	return p
}

// DeviceEndpoint returns the control endpoint of the device.
func (c Config) DeviceEndpoint() transport.Endpoint {
	return transport.Endpoint{Host: c.Device.Host, Port: c.Device.Port}
}
