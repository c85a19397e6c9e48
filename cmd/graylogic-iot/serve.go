package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-iot/internal/api"
	"github.com/nerrad567/gray-logic-iot/internal/audit"
	"github.com/nerrad567/gray-logic-iot/internal/automation"
	"github.com/nerrad567/gray-logic-iot/internal/command"
	"github.com/nerrad567/gray-logic-iot/internal/device"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
	natsinfra "github.com/nerrad567/gray-logic-iot/internal/infrastructure/nats"
	"github.com/nerrad567/gray-logic-iot/internal/metrics"
	"github.com/nerrad567/gray-logic-iot/internal/statestore"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the command core daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
}

// transport is the broker side of the daemon: how commands leave and how
// device messages arrive.
type transport struct {
	publisher command.Publisher
	subscribe func(filter string, handler func(subject string, payload []byte) error) error
	health    func(ctx context.Context) error
}

// run is the daemon, separated from the command for testability. It
// returns when ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error { //nolint:gocognit,gocyclo // linear start-up sequence
	log := logging.New(cfg.Logging, version)
	log.Info("starting Gray Logic IoT",
		"version", version,
		"commit", commit,
		"build_date", date,
		"transport", cfg.Broker.Transport,
		"state_store", cfg.StateStore.Backend,
	)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	deviceRepo := device.NewSQLiteRepository(db.DB)
	catalog := device.NewRegistry(deviceRepo)
	catalog.SetLogger(log.Component("catalog"))
	commandRepo := command.NewSQLiteRepository(db.DB)

	// NATS is dialled when it carries device traffic or holds the state
	// bucket. Lifecycle events are mirrored onto it whenever it is up.
	var natsClient *natsinfra.Client
	if cfg.Broker.Transport == config.TransportNATS || cfg.StateStore.Backend == config.StateBackendNATS {
		natsClient, err = natsinfra.Connect(cfg.NATS.URL, cfg.MQTT.Broker.ClientID)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		natsClient.SetLogger(log.Component("nats"))
		defer func() {
			log.Info("disconnecting from NATS")
			if closeErr := natsClient.Close(); closeErr != nil {
				log.Error("error closing NATS", "error", closeErr)
			}
		}()
		log.Info("NATS connected", "url", cfg.NATS.URL)
	}

	var tr transport
	switch cfg.Broker.Transport {
	case config.TransportNATS:
		publisher := natsinfra.NewPublisher(natsClient, cfg.MQTT.Broker.ClientID)
		defer publisher.Close() //nolint:errcheck // extra endpoints only
		tr = transport{
			publisher: publisher,
			subscribe: func(filter string, handler func(string, []byte) error) error {
				return natsClient.Subscribe(filter, handler)
			},
			health: natsClient.HealthCheck,
		}
	default:
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
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

		publisher := mqtt.NewPublisher(mqttClient)
		defer publisher.Close() //nolint:errcheck // extra endpoints only
		qos := byte(cfg.MQTT.QoS)
		tr = transport{
			publisher: publisher,
			subscribe: func(filter string, handler func(string, []byte) error) error {
				return mqttClient.Subscribe(filter, qos, handler)
			},
			health: mqttClient.HealthCheck,
		}
	}

	states, closeStates, err := openStateStore(ctx, cfg, db, natsClient)
	if err != nil {
		return err
	}
	defer closeStates()

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Event sinks. Command lifecycle events reach the log, the WebSocket
	// hub, Prometheus, the audit trail and NATS; inbound device events also
	// reach the telemetry writer and the automation engine.
	hub := api.NewHub(log.Component("ws"))
	metricsSink := metrics.NewSink()
	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditSink := audit.NewSink(auditRepo, log.Component("audit"))
	lifecycle := command.FanOut{command.LogSink{Logger: log.Component("events")}, hub, metricsSink, auditSink}
	if natsClient != nil && cfg.NATS.EventsSubjectPrefix != "" {
		lifecycle = append(lifecycle, natsinfra.NewEventSink(natsClient, cfg.NATS.EventsSubjectPrefix))
	}

	dispatcher := command.NewDispatcher(commandRepo, tr.publisher, lifecycle, command.DispatcherConfig{
		BaseTopic:           cfg.Broker.BaseTopic,
		InjectMetaCommandID: cfg.Commands.InjectMetaCommandID,
		PublishTimeout:      cfg.PublishTimeout(),
	}, log.Component("dispatcher"))

	ruleRepo := automation.NewSQLiteRepository(db.DB)
	rules := automation.NewRegistry(ruleRepo)
	rules.SetLogger(log.Component("automation"))
	if err := rules.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading automation rules: %w", err)
	}
	engine := automation.NewEngine(rules, deviceRepo, dispatcher, hub, ruleRepo, log.Component("automation"))

	inbound := append(command.FanOut{}, lifecycle...)
	if influxClient != nil {
		inbound = append(inbound, influxdb.NewTelemetrySink(influxClient))
	}
	inbound = append(inbound, engine)

	topics := command.NewTopicRegistry(catalog, cfg.Broker.BaseTopic)
	topics.SetLogger(log.Component("topics"))
	reconciler := command.NewReconciler(commandRepo, topics, states, inbound, log.Component("reconciler"))

	handler := func(subject string, payload []byte) error {
		_, err := reconciler.Reconcile(ctx, subject, payload)
		return err
	}
	for _, filter := range cfg.Broker.Subscriptions {
		if err := tr.subscribe(filter, handler); err != nil {
			return fmt.Errorf("subscribing to %q: %w", filter, err)
		}
		log.Info("subscribed", "filter", filter)
	}

	expirer := command.NewExpirer(commandRepo, lifecycle, cfg.CommandTimeout(), log.Component("expirer"))

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		Logger:     log.Component("api"),
		Devices:    deviceRepo,
		Commands:   commandRepo,
		Dispatcher: dispatcher,
		States:     states,
		Expirer:    expirer,
		Metrics:    metricsSink,
		Rules:      rules,
		Executions: ruleRepo,
		Executor:   engine,
		AuditLog:   auditRepo,
		Auditor:    auditSink,
		Hub:        hub,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if cfg.API.JWTSecret == "" {
		log.Warn("api.jwt_secret is not set, the API is open")
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, tr, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	workers := make(chan struct{}, 3)
	go func() {
		auditSink.Run(ctx)
		workers <- struct{}{}
	}()
	go func() {
		expirer.Run(ctx, cfg.SweepInterval())
		workers <- struct{}{}
	}()
	go func() {
		engine.Run(ctx)
		workers <- struct{}{}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"command_timeout", cfg.CommandTimeout(),
		"rules", rules.RuleCount(),
	)
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	for range cap(workers) {
		<-workers
	}
	log.Info("Gray Logic IoT stopped")
	return nil
}

// openStateStore builds the configured latest-state backend. The returned
// close function is always safe to call.
func openStateStore(ctx context.Context, cfg *config.Config, db *database.DB, natsClient *natsinfra.Client) (statestore.Store, func(), error) {
	switch cfg.StateStore.Backend {
	case config.StateBackendRedis:
		store, err := statestore.NewRedis(statestore.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       time.Duration(cfg.Redis.TTL) * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		return store, func() { store.Close() }, nil //nolint:errcheck // shutdown
	case config.StateBackendSQLite:
		return statestore.NewSQLite(db.DB, cfg.StateStore.HistoryLimit), func() {}, nil
	default:
		store, err := statestore.NewNATSKV(ctx, natsClient.Conn(), cfg.NATS.StateBucket,
			time.Duration(cfg.NATS.StateTTL)*time.Second)
		if err != nil {
			return nil, nil, fmt.Errorf("opening NATS state bucket: %w", err)
		}
		return store, func() {}, nil
	}
}

func healthCheck(ctx context.Context, db *database.DB, tr transport, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := tr.health(ctx); err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
