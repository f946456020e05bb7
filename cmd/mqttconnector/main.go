// mqttconnector is the example entry point for the MQTT connector.
//
// It loads configuration, connects to the broker, subscribes to the example
// topic, publishes an online status message and runs until interrupted.
// Connector events go to the structured log and, when enabled, to the
// SQLite event journal and InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/logging"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting mqtt-connector",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log, err = logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer log.Close() //nolint:errcheck // nothing useful to do on shutdown
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	app, cleanup, err := initApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := app.Run(ctx); err != nil {
		return err
	}

	log.Info("mqtt-connector stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MQTTCONN_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MQTTCONN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
