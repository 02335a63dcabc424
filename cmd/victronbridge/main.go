// Victron Bridge - BLE telemetry relay
//
// This is the main entry point for the bridge. It supervises an external
// worker process that decodes instant-readout BLE advertisements from
// Victron devices, and relays the decoded telemetry to an MQTT broker.
// Optionally it records telemetry history to InfluxDB and serves a small
// operator HTTP API for diagnostics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/victron-bridge/internal/api"
	"github.com/nerrad567/victron-bridge/internal/infrastructure/config"
	"github.com/nerrad567/victron-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/victron-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/victron-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/victron-bridge/internal/supervisor"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Victron Bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Create the worker supervisor
	topics := mqtt.Topics{}
	sup := supervisor.New(supervisor.Config{
		Name:            "victron-ble",
		Binary:          cfg.Worker.Binary,
		Args:            cfg.Worker.Args,
		Cooldown:        cfg.Worker.Cooldown,
		GracefulTimeout: cfg.Worker.GracefulTimeout,
		DeltaTopic:      topics.Delta(),
		StatusTopic:     topics.Status(),
		QoS:             byte(cfg.MQTT.QoS),
	}, mqttClient)
	sup.SetLogger(log.With("component", "supervisor"))
	if influxClient != nil {
		sup.SetRecorder(influxClient)
	}

	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sup.Run(ctx)
	}()

	// Submit the device configuration and spawn the worker
	startup := supervisor.StartupConfig{
		Adapter: cfg.Worker.Adapter,
		Devices: make([]supervisor.Device, 0, len(cfg.Worker.Devices)),
	}
	for _, d := range cfg.Worker.Devices {
		startup.Devices = append(startup.Devices, supervisor.Device{
			ID:               d.ID,
			MAC:              d.MAC,
			Key:              d.Key,
			SecondaryBattery: d.SecondaryBattery,
		})
	}
	if err := sup.Start(startup); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	log.Info("worker supervisor started",
		"binary", cfg.Worker.Binary,
		"adapter", cfg.Worker.Adapter,
		"devices", len(startup.Devices),
	)

	// Start the operator API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log.With("component", "api"),
			Supervisor: sup,
			MQTT:       mqttClient,
			History:    influxHealth(influxClient),
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("operator API disabled")
	}

	// Verify connections are healthy
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("health check failed: influxdb: %w", err)
		}
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// The supervisor loop tears the worker down on context cancellation;
	// wait for that before the deferred Close() calls run.
	<-supDone

	log.Info("Victron Bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses VICTRONBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("VICTRONBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// influxHealth wraps the optional InfluxDB client as a HealthChecker,
// keeping the nil check out of typed-interface land.
func influxHealth(c *influxdb.Client) api.HealthChecker {
	if c == nil {
		return nil
	}
	return c
}
