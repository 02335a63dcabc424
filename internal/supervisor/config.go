package supervisor

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config holds configuration for the supervisor.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the worker executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Cooldown is the fixed delay before every automatic respawn.
	// It is applied after any exit, including immediate spawn failure,
	// so a broken binary cannot produce a tight restart loop.
	// Default: 5s
	Cooldown time.Duration

	// GracefulTimeout is how long to wait for the worker to exit after
	// SIGTERM before sending SIGKILL.
	// Default: 10s
	GracefulTimeout time.Duration

	// DeltaTopic is the bus topic for forwarded telemetry lines.
	DeltaTopic string

	// StatusTopic is the bus topic for the liveness signal.
	StatusTopic string

	// QoS is the bus QoS level for telemetry publishes.
	QoS byte
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(binary string, args []string) Config {
	return Config{
		Name:            "victron-worker",
		Binary:          binary,
		Args:            args,
		Cooldown:        5 * time.Second,
		GracefulTimeout: 10 * time.Second,
		DeltaTopic:      "victron/delta",
		StatusTopic:     "victron/status",
		QoS:             1,
	}
}

// applyDefaults fills zero values with defaults.
func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "victron-worker"
	}
	if c.Cooldown == 0 {
		c.Cooldown = 5 * time.Second
	}
	if c.GracefulTimeout == 0 {
		c.GracefulTimeout = 10 * time.Second
	}
	if c.DeltaTopic == "" {
		c.DeltaTopic = "victron/delta"
	}
	if c.StatusTopic == "" {
		c.StatusTopic = "victron/status"
	}
}

// Device is one per-device credential entry in the startup handshake.
// The supervisor passes these through to the worker verbatim.
type Device struct {
	ID               string `json:"id"`
	MAC              string `json:"mac"`
	Key              string `json:"key"`
	SecondaryBattery string `json:"secondary_battery,omitempty"`
}

// StartupConfig is the one-shot configuration object written to the worker's
// stdin after every spawn. It is captured once per start cycle and re-sent
// identically on every respawn within that cycle.
type StartupConfig struct {
	Adapter string   `json:"adapter"`
	Devices []Device `json:"devices"`
}

// MarshalLine encodes the startup configuration as a single
// newline-terminated JSON object, the framing the worker expects on stdin.
func (c *StartupConfig) MarshalLine() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding startup config: %w", err)
	}
	return append(data, '\n'), nil
}
