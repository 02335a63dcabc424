package supervisor

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/usr/local/bin/victron-worker", []string{"--verbose"})

	if cfg.Binary != "/usr/local/bin/victron-worker" {
		t.Errorf("Binary = %q, want %q", cfg.Binary, "/usr/local/bin/victron-worker")
	}
	if len(cfg.Args) != 1 || cfg.Args[0] != "--verbose" {
		t.Errorf("Args = %v, want [--verbose]", cfg.Args)
	}
	if cfg.Cooldown != 5*time.Second {
		t.Errorf("Cooldown = %v, want %v", cfg.Cooldown, 5*time.Second)
	}
	if cfg.GracefulTimeout != 10*time.Second {
		t.Errorf("GracefulTimeout = %v, want %v", cfg.GracefulTimeout, 10*time.Second)
	}
	if cfg.DeltaTopic != "victron/delta" {
		t.Errorf("DeltaTopic = %q, want %q", cfg.DeltaTopic, "victron/delta")
	}
	if cfg.StatusTopic != "victron/status" {
		t.Errorf("StatusTopic = %q, want %q", cfg.StatusTopic, "victron/status")
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{Binary: "/bin/worker"}
	cfg.applyDefaults()

	if cfg.Name == "" {
		t.Error("Name not defaulted")
	}
	if cfg.Cooldown != 5*time.Second {
		t.Errorf("Cooldown = %v, want %v", cfg.Cooldown, 5*time.Second)
	}
	if cfg.DeltaTopic == "" || cfg.StatusTopic == "" {
		t.Error("topics not defaulted")
	}
}

func TestConfig_ApplyDefaults_PreservesCustom(t *testing.T) {
	cfg := Config{
		Name:     "custom",
		Binary:   "/bin/worker",
		Cooldown: 30 * time.Second,
	}
	cfg.applyDefaults()

	if cfg.Name != "custom" {
		t.Errorf("Name = %q, want %q", cfg.Name, "custom")
	}
	if cfg.Cooldown != 30*time.Second {
		t.Errorf("Cooldown = %v, want %v", cfg.Cooldown, 30*time.Second)
	}
}

func TestStartupConfig_MarshalLine(t *testing.T) {
	startup := StartupConfig{
		Adapter: "hci0",
		Devices: []Device{
			{ID: "shunt", MAC: "C0:3B:98:12:34:56", Key: "0102030405"},
			{ID: "solar", MAC: "C0:3B:98:65:43:21", Key: "0a0b0c0d0e", SecondaryBattery: "starter"},
		},
	}

	data, err := startup.MarshalLine()
	if err != nil {
		t.Fatalf("MarshalLine() error = %v", err)
	}

	if !strings.HasSuffix(string(data), "\n") {
		t.Error("marshalled line missing trailing newline")
	}
	if strings.Count(string(data), "\n") != 1 {
		t.Error("marshalled line contains embedded newlines")
	}

	var decoded StartupConfig
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round-trip unmarshal failed: %v", err)
	}
	if decoded.Adapter != "hci0" {
		t.Errorf("adapter = %q, want %q", decoded.Adapter, "hci0")
	}
	if len(decoded.Devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(decoded.Devices))
	}
	if decoded.Devices[1].SecondaryBattery != "starter" {
		t.Errorf("secondary_battery = %q, want %q", decoded.Devices[1].SecondaryBattery, "starter")
	}
}

func TestStartupConfig_MarshalLine_OmitsEmptySecondaryBattery(t *testing.T) {
	startup := StartupConfig{
		Adapter: "hci0",
		Devices: []Device{{ID: "shunt", MAC: "C0:3B:98:12:34:56", Key: "ff"}},
	}

	data, err := startup.MarshalLine()
	if err != nil {
		t.Fatalf("MarshalLine() error = %v", err)
	}
	if strings.Contains(string(data), "secondary_battery") {
		t.Errorf("empty secondary_battery not omitted: %s", data)
	}
}
