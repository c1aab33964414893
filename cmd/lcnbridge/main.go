// LCN Bridge - LCN bus to MQTT gateway
//
// This is the main entry point for the LCN bridge. The bridge maintains
// one session with an LCN-PCHK gateway and exposes the bus over MQTT:
// commands in on lcn/command/{address}, status out on lcn/state topics,
// with optional InfluxDB recording and a persistent module inventory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/lcn-core/migrations"

	"github.com/nerrad567/lcn-core/internal/audit"
	"github.com/nerrad567/lcn-core/internal/bridge"
	"github.com/nerrad567/lcn-core/internal/infrastructure/config"
	"github.com/nerrad567/lcn-core/internal/infrastructure/database"
	"github.com/nerrad567/lcn-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/lcn-core/internal/infrastructure/logging"
	"github.com/nerrad567/lcn-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lcn-core/internal/inventory"
	"github.com/nerrad567/lcn-core/internal/lcn"
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
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
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
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting LCN bridge",
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

	// Open database
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Module inventory and command log
	inventoryRepo := inventory.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

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
	mqttClient.SetLogger(log)
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

	// The PCHK connection; the bridge owns its lifecycle.
	bus := lcn.NewConnection(busConfig(cfg))
	bus.SetLogger(log)

	// Start the bridge
	b, err := bridge.New(bridge.Options{
		Config:    cfg,
		MQTT:      mqttClient,
		Bus:       bus,
		Influx:    influxClient,
		Inventory: inventoryRepo,
		Audit:     auditRepo,
		Version:   version,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := b.Start(); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		b.Stop()
	}()
	log.Info("bridge started",
		"gateway", fmt.Sprintf("%s:%d", cfg.LCN.Host, cfg.LCN.Port),
	)

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Bridge (bus session)
	// 2. InfluxDB (if enabled)
	// 3. MQTT
	// 4. Database

	log.Info("LCN bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LCNBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LCNBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// busConfig converts the application configuration into the protocol
// layer's connection settings.
func busConfig(cfg *config.Config) lcn.ConnectionConfig {
	dimMode := lcn.DimSteps50
	if cfg.LCN.DimMode == "steps200" {
		dimMode = lcn.DimSteps200
	}
	statusMode := lcn.StatusPercent
	if cfg.LCN.StatusMode == "native" {
		statusMode = lcn.StatusNative
	}

	return lcn.ConnectionConfig{
		Host:                cfg.LCN.Host,
		Port:                cfg.LCN.Port,
		Username:            cfg.LCN.Username,
		Password:            cfg.LCN.Password,
		DimMode:             dimMode,
		StatusMode:          statusMode,
		NumTries:            cfg.LCN.NumTries,
		ScanTries:           cfg.LCN.ScanTries,
		RequestTimeout:      cfg.GetRequestTimeout(),
		PingInterval:        cfg.GetPingInterval(),
		MaxInFlightRequests: cfg.LCN.MaxInFlightRequests,
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
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

	// The PCHK session is established in the background with retries;
	// its state is reported on lcn/bridge/health rather than gating
	// startup.
	return nil
}
