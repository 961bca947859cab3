package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/aseanmotorclub/roadwatch/internal/announce"
	"github.com/aseanmotorclub/roadwatch/internal/cache"
	"github.com/aseanmotorclub/roadwatch/internal/config"
	"github.com/aseanmotorclub/roadwatch/internal/database"
	"github.com/aseanmotorclub/roadwatch/internal/dispatcher"
	"github.com/aseanmotorclub/roadwatch/internal/enforce"
	"github.com/aseanmotorclub/roadwatch/internal/events"
	"github.com/aseanmotorclub/roadwatch/internal/gameapi"
	"github.com/aseanmotorclub/roadwatch/internal/geo"
	"github.com/aseanmotorclub/roadwatch/internal/influx"
	"github.com/aseanmotorclub/roadwatch/internal/ingest"
	"github.com/aseanmotorclub/roadwatch/internal/logging"
	"github.com/aseanmotorclub/roadwatch/internal/model"
	"github.com/aseanmotorclub/roadwatch/internal/motion"
	intOtel "github.com/aseanmotorclub/roadwatch/internal/otel"
	"github.com/aseanmotorclub/roadwatch/internal/poller"
	"github.com/aseanmotorclub/roadwatch/internal/policy"
	"github.com/aseanmotorclub/roadwatch/internal/queue"
	"github.com/aseanmotorclub/roadwatch/internal/reconcile"
	"github.com/aseanmotorclub/roadwatch/internal/server"
)

var (
	ServiceName string = "roadwatch"
	Version     string = "0.0.1"
	BuildDate   string = "unknown"
)

const (
	// actionsQueueBound caps the unflushed action backlog when Influx is
	// down; the oldest records are discarded first.
	actionsQueueBound = 10000

	actionsFlushInterval = 10 * time.Second
	racePurgeInterval    = time.Minute
	announceTickInterval = 5 * time.Second
	shutdownGrace        = 10 * time.Second
)

func main() {
	slogManager := logging.NewManager()
	slogManager.Setup(nil, "info", nil)
	logger := slogManager.Logger()

	if err := config.Load("."); err != nil {
		logger.Warn("Failed to load config, using defaults", "error", err)
	} else {
		logger.Info("Loaded config")
	}

	// logs dir + session log file
	logsDir := config.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		_ = os.Mkdir(logsDir, 0o755)
	}
	logFilePath := filepath.Join(logsDir,
		fmt.Sprintf("%s.%s.log", ServiceName, time.Now().Format("20060102_150405")))
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		logger.Error("Failed to create log file", "error", err, "path", logFilePath)
	}

	// OTel provider, then re-setup logging with the file and bridge
	var otelProvider *intOtel.Provider
	if config.GetBool("otel.enabled") {
		otelProvider, err = intOtel.New(intOtel.Config{
			Enabled:     true,
			ServiceName: ServiceName,
			LogWriter:   logFile,
			Endpoint:    config.GetString("otel.endpoint"),
			Insecure:    config.GetBool("otel.insecure"),
		})
		if err != nil {
			logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			logger.Info("OTel provider initialized", "file", logFilePath)
		}
	}
	var otelLogProvider *sdklog.LoggerProvider
	if otelProvider != nil {
		otelLogProvider = otelProvider.LoggerProvider()
	}
	slogManager.Setup(logFile, config.GetString("logLevel"), otelLogProvider)
	logger = slogManager.Logger()
	logger.Info("Starting up", "version", Version, "build", BuildDate)

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// state database
	db := database.NewManager(config.GetString("db.path"), zlog)
	if err := db.Connect(); err != nil {
		logger.Error("Failed to open state database", "error", err)
		os.Exit(1)
	}
	if err := db.Setup(); err != nil {
		logger.Error("Failed to migrate state database", "error", err)
		os.Exit(1)
	}

	// telemetry export, best-effort
	influxManager := influx.NewManager(zlog)
	if config.GetBool("influx.enabled") {
		if err := influxManager.Connect(); err != nil {
			logger.Warn("InfluxDB setup failed, telemetry export disabled", "error", err)
		}
	}

	client := gameapi.New(config.GetString("game.serverUrl"), config.GetString("game.password"))

	// policy roles, reloaded periodically
	roles := policy.NewRoleStore(config.GetString("policy.rolesFile"))
	if err := roles.Reload(); err != nil {
		logger.Warn("Failed to load roles file, all players default", "error", err)
	}

	zoneCfgs, err := config.Zones()
	if err != nil {
		logger.Error("Invalid zone configuration", "error", err)
		os.Exit(1)
	}
	zones, err := geo.ZonesFromConfig(zoneCfgs)
	if err != nil {
		logger.Error("Invalid zone geometry", "error", err)
		os.Exit(1)
	}
	logger.Info("Enforcement zones loaded", "count", len(zones))

	// shared state
	playersSnap := cache.NewSnapshot[[]model.PlayerStatus]()
	garagesSnap := cache.NewSnapshot[[]model.Garage]()
	vehiclesSnap := cache.NewSnapshot[[]model.PlayerStatus]()
	actions := queue.NewBounded[model.ActionRecord](actionsQueueBound)
	tracker := motion.NewTracker()
	hub := server.NewHub(logger)

	dispLogger := logging.NewDispatcherLogger(logger)
	async, err := dispatcher.NewAsync(4, 256, dispLogger)
	if err != nil {
		logger.Error("Failed to create command executor", "error", err)
		os.Exit(1)
	}

	var engine *enforce.Engine
	if config.GetBool("enforce.enabled") {
		engine = enforce.New(client, async, zones, ingest.GarageLookup(garagesSnap),
			roles.Role, actions, int64(config.GetInt("enforce.policeFine")), logger)
	} else {
		logger.Warn("Enforcement disabled by config")
	}

	ingestSvc := ingest.New(client, tracker, engine, roles,
		playersSnap, garagesSnap, vehiclesSnap, hub, influxManager, logger)

	// webhook routing
	disp, err := dispatcher.New(dispLogger)
	if err != nil {
		logger.Error("Failed to create dispatcher", "error", err)
		os.Exit(1)
	}
	raceTracker := events.NewTracker(client, async, actions, logger)
	if config.GetBool("events.enabled") {
		raceTracker.RegisterHandlers(disp)
	}

	// declarative world-state reconcilers
	store := reconcile.NewStore(db.DB)
	assetRec := reconcile.New("assets", config.GetString("reconcile.mapAssetsFile"),
		store, reconcile.ParseAssets, client.SpawnAssets, client.DespawnAssets, logger)
	dealerRec := reconcile.New("dealers", config.GetString("reconcile.dealerVehiclesFile"),
		store, reconcile.ParseDealerVehicles, client.SpawnDealerVehicles, client.DespawnAssets, logger)

	announcer := announce.NewService(config.GetString("announce.file"), client, logger)

	// periodic loops
	loops := []*poller.Loop{
		poller.NewLoop("players", config.GetDuration("poll.playersInterval"),
			ingestSvc.PlayerCycle, logger),
		poller.NewLoop("garages", config.GetDuration("poll.garagesInterval"),
			ingestSvc.GarageCycle, logger),
		poller.NewLoop("roles", config.GetDuration("policy.reloadInterval"),
			roles.Reload, logger),
		poller.NewLoop("announce", announceTickInterval, func() error {
			return announcer.Tick(context.Background(), time.Now())
		}, logger),
		poller.NewLoop("reconcile-assets", config.GetDuration("reconcile.interval"), func() error {
			return assetRec.Tick(context.Background(), time.Now())
		}, logger),
		poller.NewLoop("reconcile-dealers", config.GetDuration("reconcile.interval"), func() error {
			return dealerRec.Tick(context.Background(), time.Now())
		}, logger),
		poller.NewLoop("actions-flush", actionsFlushInterval, func() error {
			return influxManager.FlushActions(actions)
		}, logger),
		poller.NewLoop("race-purge", racePurgeInterval, func() error {
			raceTracker.Purge(time.Now())
			return nil
		}, logger),
	}
	if config.GetBool("poll.vehiclesEnabled") {
		loops = append(loops, poller.NewLoop("vehicles",
			config.GetDuration("poll.vehiclesInterval"), ingestSvc.VehicleCycle, logger))
	}
	for _, l := range loops {
		l.Start()
	}

	srv := server.New(config.GetString("server.listenAddr"),
		playersSnap, garagesSnap, disp, hub, client.Healthcheck, logger)
	srv.Start()

	// run until signalled or the scheduled shutdown time
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	if after := config.GetDuration("shutdownAfter"); after > 0 {
		logger.Info("Scheduled shutdown armed", "after", after)
		time.AfterFunc(after, func() {
			logger.Info("Scheduled shutdown time reached")
			stop <- syscall.SIGTERM
		})
	}

	sig := <-stop
	logger.Info("Shutting down", "signal", sig.String())

	for _, l := range loops {
		l.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	async.Close()
	_ = influxManager.FlushActions(actions)
	influxManager.Close()
	if err := db.Close(); err != nil {
		logger.Error("Closing state database", "error", err)
	}

	if err := slogManager.Flush(ctx); err != nil {
		logger.Warn("Failed to flush logs", "error", err)
	}
	if otelProvider != nil {
		if err := otelProvider.Shutdown(ctx); err != nil {
			logger.Warn("OTel shutdown failed", "error", err)
		}
	}

	logger.Info("Shutdown complete")
}
