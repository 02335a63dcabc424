package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Victron bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains settings for the operator HTTP API.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains optional telemetry history settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// WorkerConfig contains settings for the external decoder process.
type WorkerConfig struct {
	// Binary is the path to the worker executable
	// (typically a victron-ble wrapper script or interpreter entry point).
	Binary string `yaml:"binary"`

	// Args are extra command-line arguments passed to the binary.
	Args []string `yaml:"args"`

	// Adapter selects the Bluetooth controller the worker should scan with
	// (e.g., "hci0"). Passed through in the startup handshake.
	Adapter string `yaml:"adapter"`

	// Cooldown is the fixed delay before every automatic respawn.
	// Default: 5s
	Cooldown time.Duration `yaml:"cooldown"`

	// GracefulTimeout is how long to wait for the worker to exit after
	// SIGTERM before sending SIGKILL.
	// Default: 10s
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`

	// Devices are the credential entries forwarded to the worker.
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig is one per-device credential entry. The bridge treats these
// as opaque pass-through; only the worker interprets the advertisement key.
type DeviceConfig struct {
	ID               string `yaml:"id" json:"id"`
	MAC              string `yaml:"mac" json:"mac"`
	Key              string `yaml:"key" json:"key"`
	SecondaryBattery string `yaml:"secondary_battery,omitempty" json:"secondary_battery,omitempty"`
}

// Load reads, parses, and validates the configuration file.
//
// Environment variables override file values using the pattern
// VICTRONBRIDGE_SECTION_KEY (e.g., VICTRONBRIDGE_MQTT_HOST).
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "victron-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8099,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Worker: WorkerConfig{
			Binary:          "/usr/local/bin/victron-ble-worker",
			Adapter:         "hci0",
			Cooldown:        5 * time.Second,
			GracefulTimeout: 10 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VICTRONBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("VICTRONBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VICTRONBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("VICTRONBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VICTRONBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Worker
	if v := os.Getenv("VICTRONBRIDGE_WORKER_BINARY"); v != "" {
		cfg.Worker.Binary = v
	}
	if v := os.Getenv("VICTRONBRIDGE_WORKER_ADAPTER"); v != "" {
		cfg.Worker.Adapter = v
	}

	// InfluxDB
	if v := os.Getenv("VICTRONBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// macPattern matches colon-separated MAC addresses (e.g., "c0:3e:11:22:33:44").
var macPattern = regexp.MustCompile(`^[0-9a-fA-F]{2}(:[0-9a-fA-F]{2}){5}$`)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled")
		}
	}

	if c.Worker.Binary == "" {
		errs = append(errs, "worker.binary is required")
	}
	if c.Worker.Adapter == "" {
		errs = append(errs, "worker.adapter is required")
	}
	if c.Worker.Cooldown < 0 {
		errs = append(errs, "worker.cooldown must not be negative")
	}
	if len(c.Worker.Devices) == 0 {
		errs = append(errs, "worker.devices must contain at least one entry")
	}
	for i, d := range c.Worker.Devices {
		if d.ID == "" {
			errs = append(errs, fmt.Sprintf("worker.devices[%d].id is required", i))
		}
		if !macPattern.MatchString(d.MAC) {
			errs = append(errs, fmt.Sprintf("worker.devices[%d].mac %q is not a valid MAC address", i, d.MAC))
		}
		if d.Key == "" {
			errs = append(errs, fmt.Sprintf("worker.devices[%d].key is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a duration.
func (c APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a duration.
func (c APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a duration.
func (c APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
