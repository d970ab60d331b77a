// HNode2 Data Sink Daemon
//
// This is the main entry point for the data sink device. The daemon loads
// (or on first run creates) its device configuration, registers the data
// sink endpoint set and serves it over HTTP until interrupted.
//
// Usage:
//
//	datasinkd [--config <path>] [--instance <name>] [--debug]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/nerrad567/hnode2-datasink/internal/api"
	"github.com/nerrad567/hnode2-datasink/internal/audit"
	"github.com/nerrad567/hnode2-datasink/internal/datasink"
	"github.com/nerrad567/hnode2-datasink/internal/devconfig"
	"github.com/nerrad567/hnode2-datasink/internal/endpoint"
	"github.com/nerrad567/hnode2-datasink/internal/hnode"
	"github.com/nerrad567/hnode2-datasink/internal/infrastructure/config"
	"github.com/nerrad567/hnode2-datasink/internal/infrastructure/database"
	"github.com/nerrad567/hnode2-datasink/internal/infrastructure/influxdb"
	"github.com/nerrad567/hnode2-datasink/internal/infrastructure/logging"
	"github.com/nerrad567/hnode2-datasink/internal/infrastructure/mqtt"
	"github.com/nerrad567/hnode2-datasink/internal/lifecycle"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const description = "HNode2 Data Sink Daemon."

// CLI is the command line of the daemon.
type CLI struct {
	Config   string           `short:"c" help:"Bootstrap configuration file path (defaults only when empty)" env:"HNODE2_DATASINK_CONFIG"`
	Instance string           `help:"Instance name of this device" default:"${default_instance}"`
	Debug    bool             `short:"d" help:"Enable debug logging"`
	Version  kong.VersionFlag `name:"version" help:"Show version and exit"`
}

func kongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("datasinkd"),
		kong.Description(description),
		kong.UsageOnError(),
		kong.Vars{
			"version":          fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
			"default_instance": hnode.DefaultInstance,
		},
	}
}

// parseCLI parses args without exiting the process on error.
func parseCLI(args []string) (CLI, error) {
	var cli CLI
	parser, err := kong.New(&cli, kongOptions()...)
	if err != nil {
		return CLI{}, fmt.Errorf("building command line parser: %w", err)
	}
	if _, err := parser.Parse(args); err != nil {
		return CLI{}, err
	}
	return cli, nil
}

func main() {
	var cli CLI
	kong.Parse(&cli, kongOptions()...)

	// Cancel on interrupt signals for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, cli)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Startup order matters: the device configuration must be loaded before
// anything is served, so a configuration failure exits without ever
// opening the HTTP port.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, cli CLI) error {
	// Use default logger until config is loaded
	log := logging.Default()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cli.Debug {
		cfg.Logging.Level = "debug"
	}

	log = logging.New(cfg.Logging, version)
	log.Info("starting data sink daemon",
		"version", version,
		"commit", commit,
		"build_date", date,
		"instance", cli.Instance,
		"config", cli.Config,
	)

	healthChecks := make(map[string]api.HealthChecker)

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()
	// The SQLite backend also keeps the configuration change journal
	var journal audit.Repository
	if db, ok := store.(interface{ DB() *database.DB }); ok {
		healthChecks["database"] = db.DB()
		journal = audit.NewSQLiteRepository(db.DB().DB)
	}

	id := hnode.NewIdentity(datasink.DeviceType, cli.Instance)
	dev := hnode.NewDevice(id, version)

	lc := lifecycle.New(store, id.DeviceType, id.Instance, dev)
	lc.SetLogger(log.With("component", "lifecycle"))

	// Config change events go out over MQTT once it is connected
	var presence *mqtt.Client
	lc.OnChange(func(_ context.Context, c *devconfig.Config) {
		if presence == nil {
			return
		}
		info, _ := dev.Info()
		if err := presence.PublishConfigUpdated(info.HNodeID, c.SectionIDs()); err != nil {
			log.Warn("publishing config change", "error", err)
		}
	})

	if err := lc.Ensure(ctx); err != nil {
		return fmt.Errorf("loading device configuration: %w", err)
	}
	info, _ := dev.Info()
	log.Info("device configuration loaded",
		"device", id.String(),
		"hnode_id", info.HNodeID,
		"name", info.Name,
	)

	if err := dev.AddEndpoint(datasink.DispatchID, endpoint.DataSink(),
		datasink.NewDispatcher(datasink.Unbacked{}, log.With("component", "datasink"))); err != nil {
		return fmt.Errorf("registering data sink endpoints: %w", err)
	}

	// Connect to MQTT broker (optional)
	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT, mqtt.Topics{DeviceType: id.DeviceType, Instance: id.Instance})
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		client.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		client.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		presence = client
		healthChecks["mqtt"] = client
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"status_topic", client.Topics().DeviceStatus(),
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var telemetry api.OperationRecorder
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		telemetry = influxClient
		healthChecks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	srv, err := api.New(api.Deps{
		Config:       cfg.API,
		Security:     cfg.Security,
		Logger:       log,
		Device:       dev,
		Lifecycle:    lc,
		Telemetry:    telemetry,
		HealthChecks: healthChecks,
		Audit:        journal,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, InfluxDB, MQTT, store
	return nil
}

// sqliteStore keeps the database handle next to the store so it can be
// health checked and closed.
type sqliteStore struct {
	*devconfig.SQLiteStore
	db *database.DB
}

func (s sqliteStore) DB() *database.DB { return s.db }

// openStore opens the configured device configuration store.
// The returned close function is never nil.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (devconfig.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendSQLite:
		db, err := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		store, err := devconfig.NewSQLiteStore(ctx, db)
		if err != nil {
			db.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, nil, fmt.Errorf("preparing sqlite store: %w", err)
		}
		log.Info("device configuration store ready", "backend", cfg.Store.Backend, "path", db.Path())
		return sqliteStore{SQLiteStore: store, db: db}, func() {
			log.Info("closing database")
			if err := db.Close(); err != nil {
				log.Error("error closing database", "error", err)
			}
		}, nil

	default:
		store := devconfig.NewFileStore(cfg.Device.ConfigDir)
		log.Info("device configuration store ready", "backend", cfg.Store.Backend, "dir", cfg.Device.ConfigDir)
		return store, func() {}, nil
	}
}
