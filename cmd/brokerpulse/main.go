package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tradervane/brokerpulse/internal/config"
	"github.com/tradervane/brokerpulse/internal/event"
	"github.com/tradervane/brokerpulse/internal/monitor"
	"github.com/tradervane/brokerpulse/internal/probe"
	"github.com/tradervane/brokerpulse/internal/server"
	"github.com/tradervane/brokerpulse/internal/store"
	"github.com/tradervane/brokerpulse/internal/vault"
	"github.com/tradervane/brokerpulse/internal/verify"
	"github.com/tradervane/brokerpulse/internal/version"
	"github.com/tradervane/brokerpulse/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("BrokerPulse starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open database and refuse to run against a newer schema.
	dbPath := viperCfg.GetString("database.path")
	if dbPath == "" {
		dbPath = "brokerpulse.db"
	}
	db, err := store.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		logger.Fatal("schema version check failed", zap.Error(err))
	}
	logger.Info("database initialized",
		zap.String("component", "database"),
		zap.String("path", dbPath),
	)

	bus := event.NewBus(logger.Named("event"))

	// Credential vault. Without a passphrase the vault stays locked and
	// credential operations return ErrLocked until one is supplied.
	vlt, err := vault.New(ctx, db, logger.Named("vault"))
	if err != nil {
		logger.Fatal("failed to initialize vault", zap.Error(err))
	}
	if passphrase := viperCfg.GetString("vault.passphrase"); passphrase != "" {
		if err := vlt.Unlock(ctx, passphrase); err != nil {
			logger.Fatal("failed to unlock vault", zap.Error(err))
		}
		logger.Info("vault unlocked", zap.String("component", "vault"))
	} else {
		logger.Warn("vault.passphrase not set, vault stays locked",
			zap.String("component", "vault"),
		)
	}

	// Probing and validation.
	prober := probe.NewDialProber(
		viperCfg.GetBool("probe.ping_preflight"),
		logger.Named("probe"),
	)
	validator := verify.NewValidator(prober, logger.Named("verify"))

	// Health monitoring.
	monitorStore, err := monitor.Setup(ctx, db)
	if err != nil {
		logger.Fatal("failed to initialize monitor store", zap.Error(err))
	}
	alerts := monitor.NewAlertEvaluator(monitorStore, bus, logger.Named("monitor"))
	mon := monitor.New(vlt, validator, monitorStore, alerts, bus, logger.Named("monitor"))
	logger.Info("monitor initialized", zap.String("component", "monitor"))

	// HTTP surface.
	wsHandler := ws.NewHandler(bus, logger.Named("ws"))
	registrars := []server.RouteRegistrar{
		vault.NewHandler(vlt, logger.Named("vault")),
		verify.NewHandler(validator, vlt, logger.Named("verify")),
		monitor.NewHandler(mon, monitorStore, logger.Named("monitor")),
		wsHandler,
	}

	addr := viperCfg.GetString("server.host") + ":" + strconv.Itoa(viperCfg.GetInt("server.port"))
	readyCheck := server.ReadinessChecker(func(ctx context.Context) error {
		return db.DB().PingContext(ctx)
	})
	srv := server.New(addr, logger.Named("server"), readyCheck, registrars...)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("BrokerPulse ready", zap.String("addr", addr))

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	mon.StopAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	vlt.Lock()

	logger.Info("BrokerPulse stopped")
}
