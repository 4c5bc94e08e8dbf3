package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/mqtt-connector/internal/api"
	"github.com/nerrad567/mqtt-connector/internal/audit"
	"github.com/nerrad567/mqtt-connector/internal/device"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/database"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-connector/internal/ingest"
	"github.com/nerrad567/mqtt-connector/internal/queue"
	"github.com/nerrad567/mqtt-connector/migrations"
)

// statsInterval is how often bridge and ingest totals are written to InfluxDB.
const statsInterval = 30 * time.Second

// run is the serve command, separated from cobra wiring for testability.
// It returns nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting MQTT connector",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	path := config.ResolvePath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", path)

	log = logging.New(cfg.Logging, version)
	mqtt.SetLibraryLogger(logging.NewLibrary(cfg.Logging, version).Logger)
	defer mqtt.SetLibraryLogger(nil)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"mqtt_level", cfg.Logging.MQTTLevel,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.With("component", "device"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.DeviceCount())

	q, err := openQueue(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening queue: %w", err)
	}
	// Close is idempotent; shutdown closes the queue early to stop the processor.
	defer q.Close() //nolint:errcheck // closed and checked during shutdown
	log.Info("queue ready", "backend", cfg.Queue.Backend, "capacity", cfg.Queue.Capacity)

	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
		influxClient = nil
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	bridge, err := mqtt.New(bridgeConfig(cfg), q, log.With("component", "mqtt"))
	if err != nil {
		return fmt.Errorf("creating MQTT bridge: %w", err)
	}

	// The hub relays handled messages to WebSocket clients of the API.
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.API.WebSocket, log.With("component", "websocket"))
	}

	opts := ingest.Options{
		Source:         q,
		EventFilter:    cfg.MQTT.EventTopic,
		ResponseFilter: cfg.MQTT.ResponseTopic,
		ModuleID:       cfg.Module.ID,
		Devices:        registry,
		Logger:         log.With("component", "ingest"),
	}
	// Only assign live values: a nil pointer in an interface does not
	// compare equal to nil.
	if influxClient != nil {
		opts.Metrics = influxClient
	}
	if hub != nil {
		opts.Listener = hub
	}
	processor, err := ingest.New(opts)
	if err != nil {
		return fmt.Errorf("creating ingest processor: %w", err)
	}

	var server *api.Server
	if cfg.API.Enabled {
		server, err = api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log.With("component", "api"),
			Registry: registry,
			Bridge:   bridge,
			Ingest:   processor,
			Audit:    audit.NewSQLiteRepository(db.DB),
			Hub:      hub,
			DB:       db.DB,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("connecting to MQTT broker",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.ClientID(),
		"event_topic", cfg.MQTT.EventTopic,
		"response_topic", cfg.MQTT.ResponseTopic,
	)

	// The bridge stops first so nothing is enqueued after the queue
	// closes; the processor then drains what is left and returns.
	bridgeCtx, stopBridge := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBridge()

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() error {
		return bridge.Run(bridgeCtx)
	})
	g.Go(func() error {
		return processor.Run(gctx)
	})
	if influxClient != nil {
		g.Go(func() error {
			reportStats(bridgeCtx, cfg.Module.ID, bridge, processor, influxClient)
			return nil
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case <-gctx.Done():
		log.Error("component stopped unexpectedly")
	}

	stopBridge()
	if closeErr := q.Close(); closeErr != nil {
		log.Error("error closing queue", "error", closeErr)
	}
	err = g.Wait()

	st := bridge.Stats()
	log.Info("MQTT connector stopped",
		"received", st.Received,
		"dropped", st.Dropped,
		"published", st.Published,
	)
	return err
}

// bridgeConfig returns the MQTT settings with the client id resolved.
func bridgeConfig(cfg *config.Config) config.MQTTConfig {
	m := cfg.MQTT
	m.Broker.ClientID = cfg.ClientID()
	return m
}

// openQueue creates the queue backend named by queue.backend.
func openQueue(ctx context.Context, cfg *config.Config) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendRedis:
		return queue.NewRedis(ctx, queue.RedisConfig{
			Addr:      cfg.Queue.Redis.Addr,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Key:       cfg.Queue.Redis.Key,
			Capacity:  cfg.Queue.Capacity,
			OpTimeout: time.Duration(cfg.Queue.Redis.TimeoutMS) * time.Millisecond,
		})
	case config.QueueBackendMemory, "":
		return queue.NewChannel(cfg.Queue.Capacity), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// bridgeStats and ingestStats are implemented by *mqtt.Bridge and
// *ingest.Processor.
type bridgeStats interface {
	Stats() mqtt.Stats
}

type ingestStats interface {
	Stats() ingest.Stats
}

// pointWriter is implemented by *influxdb.Client.
type pointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// reportStats writes running totals every statsInterval until ctx is done.
func reportStats(ctx context.Context, moduleID string, b bridgeStats, p ingestStats, w pointWriter) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeStats(moduleID, b, p, w)
		}
	}
}

func writeStats(moduleID string, b bridgeStats, p ingestStats, w pointWriter) {
	bs := b.Stats()
	is := p.Stats()
	w.WritePoint(influxdb.MeasurementBridge,
		map[string]string{"module_id": moduleID},
		map[string]interface{}{
			"received":       bs.Received,
			"dropped":        bs.Dropped,
			"published":      bs.Published,
			"publish_errors": bs.PublishErrors,
			"connects":       bs.Connects,
			"events":         is.Events,
			"responses":      is.Responses,
			"failures":       is.Failures,
		},
	)
}
