package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-mqttroute/internal/actions"
	"github.com/nerrad567/gray-logic-mqttroute/internal/api"
	"github.com/nerrad567/gray-logic-mqttroute/internal/clients"
	"github.com/nerrad567/gray-logic-mqttroute/internal/convert"
	"github.com/nerrad567/gray-logic-mqttroute/internal/dispatch"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mqttroute/internal/journal"
	"github.com/nerrad567/gray-logic-mqttroute/internal/placeholder"
	"github.com/nerrad567/gray-logic-mqttroute/internal/telemetry"
	"github.com/nerrad567/gray-logic-mqttroute/migrations"
)

// purgeInterval is how often journal entries past retention are removed.
const purgeInterval = time.Hour

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the broker and dispatch messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

// newTable builds the dispatch table for cfg: the payload codec, property
// expansion and the declared routes. publisher may be nil when no route
// republishes.
func newTable(cfg *config.Config, publisher actions.Publisher, log *logging.Logger) (*dispatch.Table, error) {
	codec, err := convert.Codec(cfg.Payload.Codec)
	if err != nil {
		return nil, err
	}
	var registry *convert.Registry
	if codec != nil {
		registry = convert.NewRegistry(codec)
	} else {
		registry = convert.NewRegistry()
	}
	registry.SetLogger(log.Component("convert"))

	expander, err := newExpander(cfg)
	if err != nil {
		return nil, err
	}

	table := dispatch.NewTable(registry)
	table.SetLogger(log.Component("dispatch"))
	table.SetResolver(expander)

	if err := actions.Register(table, cfg.Routes, actions.Deps{
		Publisher: publisher,
		Logger:    log.Component("actions").Logger,
	}); err != nil {
		return nil, fmt.Errorf("registering routes: %w", err)
	}
	return table, nil
}

// newExpander chains the property sources: configured properties first,
// then the environment, then the optional .env file.
func newExpander(cfg *config.Config) (*placeholder.Expander, error) {
	sources := []placeholder.Source{
		placeholder.Map(cfg.Properties),
		placeholder.Env{},
	}
	if cfg.EnvFile != "" {
		dotenv, err := placeholder.DotEnv(cfg.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
		sources = append(sources, dotenv)
	}
	return placeholder.New(sources...), nil
}

// run is the service lifecycle, separated from the command for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting mqttroute",
		"version", version,
		"commit", commit,
		"build_date", date,
		"site", cfg.Site.ID,
	)

	var clientCfgs []config.ClientConfig
	if !cfg.MQTT.Disable {
		var err error
		if clientCfgs, err = cfg.MQTT.ClientConfigs(); err != nil {
			return fmt.Errorf("resolving mqtt clients: %w", err)
		}
	}

	// The manager needs the table and the republish action needs the
	// manager, so the table is built first and routes reference the
	// manager through a late-bound publisher.
	publisher := &lateBoundPublisher{}
	table, err := newTable(cfg, publisher, log)
	if err != nil {
		return err
	}
	log.Info("routes registered", "routes", table.Len())

	manager, err := clients.NewManager(table, clientCfgs, clients.Options{
		Disabled:      cfg.MQTT.Disable,
		DefaultClient: cfg.MQTT.DefaultClient,
		Logger:        log.Component("clients"),
	})
	if err != nil {
		return fmt.Errorf("creating client manager: %w", err)
	}
	publisher.target = manager

	// Open database and journal (optional)
	var db *database.DB
	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		db, err = database.Open(database.FromConfig(cfg.Database, migrations.FS))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", cfg.Database.Path)

		jrnl = journal.New(db, journal.Options{
			QueueSize:       cfg.Journal.QueueSize,
			RecordUnmatched: cfg.Journal.RecordUnmatched,
			MaxPayload:      cfg.Journal.MaxPayload,
			Logger:          log.Component("journal"),
		})
		defer func() {
			log.Info("closing journal")
			if closeErr := jrnl.Close(); closeErr != nil {
				log.Error("error closing journal", "error", closeErr)
			}
		}()
		table.AddObserver(jrnl)

		if cfg.Journal.RetentionHours > 0 {
			go purgeLoop(ctx, jrnl, time.Duration(cfg.Journal.RetentionHours)*time.Hour, log)
		}
	} else {
		log.Info("journal disabled")
	}

	// Connect to InfluxDB (optional)
	var writer telemetry.PointWriter
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		var connErr error
		influxClient, connErr = influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		writer = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	recorder := telemetry.NewRecorder(writer)
	table.AddObserver(recorder)

	// Connect MQTT clients and subscribe
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting mqtt clients: %w", err)
	}
	defer func() {
		log.Info("disconnecting mqtt clients")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing mqtt clients", "error", closeErr)
		}
	}()

	// Start admin API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:    cfg.API,
			Logger:    log,
			Table:     table,
			Clients:   manager,
			Telemetry: recorder,
			DB:        db,
			Version:   version,
		}
		if jrnl != nil {
			deps.Journal = jrnl
		}
		if influxClient != nil {
			deps.InfluxDB = influxClient
		}
		srv, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	// Deferred Close() calls run in reverse order: API, MQTT clients,
	// InfluxDB, journal, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// purgeLoop removes journal entries older than retention, once at start
// and then every purgeInterval.
func purgeLoop(ctx context.Context, j *journal.Journal, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		n, err := j.Purge(ctx, time.Now().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("journal purge failed", "error", err)
		case n > 0:
			log.Info("journal purged", "entries", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// lateBoundPublisher forwards to the client manager once it exists.
type lateBoundPublisher struct {
	target actions.Publisher
}

func (p *lateBoundPublisher) Publish(ctx context.Context, clientID, topicName string, payload any, opts ...clients.PublishOption) error {
	if p.target == nil {
		return clients.ErrNotStarted
	}
	return p.target.Publish(ctx, clientID, topicName, payload, opts...)
}
