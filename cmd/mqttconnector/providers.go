package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/mqtt-connector/internal/api"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/database"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-connector/internal/journal"
	"github.com/nerrad567/mqtt-connector/migrations"
)

// Journal writer tuning.
const (
	journalQueueDepth   = 1024
	journalDrainTimeout = 5 * time.Second
)

// provideDatabase opens and migrates the journal database. It returns a
// nil DB when the journal is disabled.
func provideDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, func(), error) {
	if !cfg.Journal.Enabled {
		log.Info("event journal disabled")
		return nil, func() {}, nil
	}

	db, err := database.Open(ctx, cfg.Journal)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	cleanup := func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := db.RequireColumns(ctx, journal.Table, journal.Columns...); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("checking journal schema: %w", err)
	}
	version, err := db.SchemaVersion(ctx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	log.Info("database connected", "path", db.Path(), "schema_version", version)
	return db, cleanup, nil
}

// provideJournal starts the asynchronous journal writer over db.
func provideJournal(db *database.DB, log *logging.Logger) (*journal.Writer, func()) {
	if db == nil {
		return nil, func() {}
	}

	w := journal.NewWriter(journal.NewSQLiteRepository(db.DB), journalQueueDepth, func(err error) {
		log.Warn("journal write failed", "error", err)
	})
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalDrainTimeout)
		defer cancel()
		if err := w.Close(ctx); err != nil {
			log.Error("error draining journal", "error", err)
		}
		if dropped := w.Dropped(); dropped > 0 {
			log.Warn("journal entries dropped", "count", dropped)
		}
	}
	return w, cleanup
}

// provideInflux connects the metrics sink. It returns a nil client when
// InfluxDB is disabled.
func provideInflux(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, func(), error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, func() {}, nil
	}

	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)

	cleanup := func() {
		log.Info("closing InfluxDB connection")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing InfluxDB", "error", closeErr)
		}
		if failed := client.Failed(); failed > 0 {
			log.Warn("InfluxDB batches failed", "count", failed)
		}
	}
	return client, cleanup, nil
}

// provideConnector builds the connector and attaches the observer.
// The connector is not connected yet; App.Run does that. The cleanup
// detaches the observer so that events emitted by a dispatcher still
// draining after Disconnect never reach the closed journal or hub.
func provideConnector(cfg *config.Config, obs *observer) (*mqtt.Connector, func(), error) {
	c, err := mqtt.New(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("creating MQTT connector: %w", err)
	}
	obs.attach(c)
	return c, func() { c.SetLogCallback(nil) }, nil
}

// provideHub creates the live event hub. It returns nil when the API is
// disabled, so the observer skips broadcasting.
func provideHub(cfg *config.Config, log *logging.Logger) *api.Hub {
	if !cfg.API.Enabled {
		return nil
	}
	return api.NewHub(cfg.WebSocket, log)
}

// provideAPI starts the status server. It returns a nil server when the
// API is disabled.
func provideAPI(
	ctx context.Context,
	cfg *config.Config,
	log *logging.Logger,
	connector *mqtt.Connector,
	db *database.DB,
	hub *api.Hub,
) (*api.Server, func(), error) {
	if !cfg.API.Enabled {
		log.Info("status API disabled")
		return nil, func() {}, nil
	}

	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Connector: connector,
		Hub:       hub,
		Version:   version,
	}
	// Nil pointers stay out of the interfaces.
	if db != nil {
		deps.DB = db
		deps.Journal = journal.NewSQLiteRepository(db.DB)
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("starting API server: %w", err)
	}

	cleanup := func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}
	return srv, cleanup, nil
}
