package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/mqtt-connector/internal/api"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/mqtt"
)

// shutdownTimeout bounds Disconnect once the run context is cancelled.
const shutdownTimeout = 5 * time.Second

// App runs the example flow against one connector.
type App struct {
	cfg       *config.Config
	log       *logging.Logger
	connector *mqtt.Connector
	influx    *influxdb.Client
	api       *api.Server
}

func newApp(cfg *config.Config, log *logging.Logger, connector *mqtt.Connector, influx *influxdb.Client, srv *api.Server) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		connector: connector,
		influx:    influx,
		api:       srv,
	}
}

// Run connects, subscribes to the example topic, announces the client as
// online and then waits for ctx to end before disconnecting.
func (a *App) Run(ctx context.Context) error {
	// A cancelled Connect leaves the attempt running in the background, so
	// Disconnect is deferred before it.
	defer a.disconnect()

	if err := a.connector.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	a.log.Info("MQTT connected",
		"broker", a.connector.BrokerURL(),
		"client_id", a.connector.ClientID(),
	)

	if err := a.connector.Subscribe(ctx, a.cfg.Example.SubscribeTopic, byte(a.cfg.MQTT.QoS), a.handleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", a.cfg.Example.SubscribeTopic, err)
	}

	status := map[string]any{
		"status":    "online",
		"client_id": a.connector.ClientID(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := a.connector.Publish(ctx, a.cfg.Example.PublishTopic, status, mqtt.WithQoS(1)); err != nil {
		// The connector keeps running; the status is re-sent on the next start.
		a.log.Warn("publishing online status failed", "topic", a.cfg.Example.PublishTopic, "error", err)
	}

	if a.influx != nil {
		go a.reportStats(ctx, a.cfg.InfluxDB.StatsInterval)
	}

	if a.api != nil {
		a.log.Info("status API available", "address", a.api.Addr())
	}

	a.log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	a.log.Info("shutdown signal received, cleaning up")
	return nil
}

func (a *App) handleMessage(topic string, payload []byte) error {
	a.log.Info("message received", "topic", topic, "bytes", len(payload), "payload", string(payload))
	return nil
}

func (a *App) disconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.connector.Disconnect(ctx); err != nil {
		a.log.Error("error disconnecting from MQTT", "error", err)
		return
	}
	a.log.Info("MQTT disconnected")
}

// reportStats samples connector counters into InfluxDB until ctx ends.
func (a *App) reportStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.influx.WriteConnectorStats(a.connector.ClientID(), sampleStats(a.connector.Stats()), now)
		}
	}
}

func sampleStats(s mqtt.Stats) influxdb.ConnectorStats {
	return influxdb.ConnectorStats{
		State:           s.State.String(),
		Subscriptions:   s.Subscriptions,
		Published:       s.Published,
		PublishFailures: s.PublishFailures,
		Received:        s.Received,
		HandlerErrors:   s.HandlerErrors,
		ConnectAttempts: s.ConnectAttempts,
		Connects:        s.Connects,
		Reconnects:      s.Reconnects,
	}
}
