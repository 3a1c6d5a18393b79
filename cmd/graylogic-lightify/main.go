// Gray Logic Lightify Bridge
//
// This is the main entry point for the bridge daemon that connects an Osram
// Lightify gateway to Gray Logic Core. It:
//   - Keeps a session open to the gateway on TCP port 4000
//   - Relays commands and state over MQTT
//   - Records light and group snapshots in SQLite
//   - Optionally writes light state points to InfluxDB
//   - Serves a local HTTP API
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gray-logic-lightify/migrations"

	"github.com/nerrad567/gray-logic-lightify/internal/api"
	"github.com/nerrad567/gray-logic-lightify/internal/audit"
	"github.com/nerrad567/gray-logic-lightify/internal/bridges/lightify"
	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-lightify/internal/inventory"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/lightify.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting Gray Logic Lightify bridge",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // flushes file output on exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	db, err := database.Open(database.Config{
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	repo := inventory.NewRepository(db.DB)
	commandLog := audit.NewSQLiteRepository(db.DB)

	bridgeID := cfg.Lightify.Bridge.ID
	if bridgeID == "" {
		bridgeID = lightify.Protocol
	}
	will, err := bridgeWill(bridgeID)
	if err != nil {
		return err
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT, will)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

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

	var bridge *lightify.Bridge
	if cfg.Lightify.Enabled {
		var metrics lightify.MetricsWriter
		if influxClient != nil {
			metrics = influxClient
		}
		bridge, err = startLightifyBridge(ctx, cfg, bridgeID, mqttClient, repo, commandLog, metrics, log)
		if err != nil {
			return fmt.Errorf("starting Lightify bridge: %w", err)
		}
		defer func() {
			log.Info("stopping Lightify bridge")
			bridge.Stop()
		}()

		// Retained health is replaced by the LWT on an unclean disconnect,
		// so republish it whenever the broker connection returns.
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
			if pubErr := bridge.PublishHealth(); pubErr != nil {
				log.Warn("failed to republish bridge health", "error", pubErr)
			}
		})
	} else {
		log.Info("Lightify bridge disabled")
	}

	if cfg.API.Enabled && bridge != nil {
		server, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log,
			Bridge:     bridge,
			Inventory:  repo,
			CommandLog: commandLog,
			MQTT:       mqttClient,
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, bridge); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge, InfluxDB, MQTT,
	// database, log output.
	log.Info("Gray Logic Lightify bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// bridgeWill builds the MQTT last will: a retained offline health message on
// the bridge's health topic.
func bridgeWill(bridgeID string) (mqtt.Will, error) {
	payload, err := json.Marshal(lightify.NewLWTMessage(bridgeID))
	if err != nil {
		return mqtt.Will{}, fmt.Errorf("encoding last will: %w", err)
	}
	return mqtt.Will{Topic: lightify.HealthTopic(), Payload: payload}, nil
}

// transportConfig converts gateway settings from the config file.
func transportConfig(gw config.LightifyGatewayConfig) lightify.TransportConfig {
	connect, read, write := gw.Timeouts()
	return lightify.TransportConfig{
		ConnectTimeout: connect,
		ReadTimeout:    read,
		WriteTimeout:   write,
	}
}

// connectGateway opens the single gateway session the bridge uses for its
// whole lifetime. The bridge does not reconnect; a lost session leaves
// health degraded until the daemon is restarted.
func connectGateway(ctx context.Context, gw config.LightifyGatewayConfig, log *logging.Logger) (lightify.GatewayClient, error) {
	conn, err := lightify.Connect(ctx, gw.Address(), transportConfig(gw), lightify.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// startLightifyBridge connects to the gateway and starts the MQTT bridge.
//
// Parameters:
//   - ctx: Context for connection/cancellation
//   - cfg: Application configuration
//   - bridgeID: Identifier used in health messages
//   - mqttClient: MQTT client for publishing/subscribing
//   - snapshots: Inventory the bridge records refreshes into
//   - commands: Command log the bridge records outcomes into
//   - metrics: Optional time-series writer (nil when InfluxDB is disabled)
//   - log: Logger instance
//
// Returns:
//   - *lightify.Bridge: Running bridge
//   - error: If the gateway is unreachable or the bridge fails to start
func startLightifyBridge(
	ctx context.Context,
	cfg *config.Config,
	bridgeID string,
	mqttClient *mqtt.Client,
	snapshots lightify.SnapshotRecorder,
	commands lightify.CommandAuditor,
	metrics lightify.MetricsWriter,
	log *logging.Logger,
) (*lightify.Bridge, error) {
	gateway, err := connectGateway(ctx, cfg.Lightify.Gateway, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to gateway: %w", err)
	}
	log.Info("connected to Lightify gateway", "address", cfg.Lightify.Gateway.Address())

	bridge, err := lightify.NewBridge(lightify.BridgeOptions{
		Config: lightify.BridgeConfig{
			ID:             bridgeID,
			HealthInterval: cfg.Lightify.Bridge.GetHealthInterval(),
			PollInterval:   cfg.Lightify.Bridge.GetPollInterval(),
			CommandRate:    cfg.Lightify.Bridge.CommandRate,
		},
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Gateway:    gateway,
		Version:    version,
		Logger:     log,
		Snapshots:  snapshots,
		Audit:      commands,
		Metrics:    metrics,
	})
	if err != nil {
		_ = gateway.Close()
		return nil, fmt.Errorf("creating Lightify bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return nil, fmt.Errorf("starting Lightify bridge: %w", err)
	}
	log.Info("Lightify bridge started",
		"lights", len(bridge.LightSnapshots()),
		"groups", len(bridge.GroupSnapshots()),
	)

	return bridge, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - bridge: Lightify bridge to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, bridge *lightify.Bridge) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if bridge != nil && !bridge.Gateway().IsConnected() {
		return fmt.Errorf("lightify: %w", lightify.ErrClosed)
	}

	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - Lightify bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements lightify.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements lightify.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements lightify.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
