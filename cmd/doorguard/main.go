package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-redis/redis/v8"

	"doorguard/internal/alerts"
	"doorguard/internal/api"
	"doorguard/internal/config"
	"doorguard/internal/engine"
	"doorguard/internal/ingest"
	"doorguard/internal/logging"
	"doorguard/internal/metrics"
	"doorguard/internal/model"
	"doorguard/internal/notify"
	"doorguard/internal/reconcile"
	"doorguard/internal/settings"
	"doorguard/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	writeDefault := flag.String("write-default-config", "", "write the default config to this path and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *writeDefault != "" {
		if err := config.Save(*writeDefault, config.DefaultConfig()); err != nil {
			fmt.Fprintf(os.Stderr, "write config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg := config.DefaultConfig()
	var manager *config.Manager
	if *configPath != "" {
		m, err := config.NewManager(config.ResolvePath(*configPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		manager = m
		cfg = m.Get()
	}

	level := logging.NewLevelVar(cfg.LogLevel)
	logger, logCloser, err := logging.NewLoggerWithLevel(level, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, manager, level, logger); err != nil {
		logger.Error("doorguard stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, manager *config.Manager, level *slog.LevelVar, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	var rdb *redis.Client
	if strings.EqualFold(cfg.Alerts.ThrottleBackend, "redis") || strings.EqualFold(cfg.Settings.Backend, "redis") {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", "addr", cfg.Redis.Addr, "err", err)
		}
	}

	settingsStore := settings.NewStore(settingsKV(cfg, store, rdb), cfg.Settings.Key, logger)
	sec := settingsStore.Load(ctx)
	logger.Info("security settings loaded",
		"night_mode_start", sec.NightModeStart,
		"night_mode_end", sec.NightModeEnd,
		"max_open_duration_seconds", sec.MaxOpenDurationSeconds)

	var throttle alerts.Throttle = alerts.NewMemoryThrottle()
	if rdb != nil && strings.EqualFold(cfg.Alerts.ThrottleBackend, "redis") {
		throttle = alerts.NewRedisThrottle(rdb, cfg.Alerts.ThrottleKeyPrefix, 2*cfg.Alerts.Cooldown)
	}
	var notifier notify.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.Notify.Enabled {
		notifier = notify.NewWebhook(cfg.Notify.URL, cfg.Notify.Token, cfg.Notify.Timeout)
	}
	alertStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	dispatcher := alerts.NewDispatcher(notifier, throttle, alertStore, alerts.DispatcherOptions{
		Cooldown: cfg.Alerts.Cooldown,
		Timeout:  cfg.Notify.Timeout,
	}, logger)

	snapshots := metrics.NewStore()
	orch := engine.NewOrchestrator(store, settingsStore, dispatcher, snapshots, engine.Options{
		Window:             cfg.Window.Duration,
		PageSize:           cfg.Window.PageSize,
		MaxRows:            cfg.Window.MaxRows,
		FetchTimeout:       cfg.Window.FetchTimeout,
		PollInterval:       cfg.Refresh.PollInterval,
		AlertOnOpenTooLong: cfg.Alerts.AlertOnOpenTooLong,
		Location:           loc,
	}, logger)

	push := make(chan model.Reading, cfg.Ingest.ChannelBuffer)
	pub := ingest.NewPublisher(push, store, loc, logger)
	ingest.StartREST(ctx, cfg.Ingest.REST, pub, logger)
	ingest.StartKafka(ctx, cfg.Ingest.Kafka, pub, logger)
	ingest.StartTCPStream(ctx, cfg.Ingest.TCPStream, pub, logger)
	if _, err := ingest.StartMQTT(ctx, cfg.Ingest.MQTT, pub, logger); err != nil {
		logger.Error("mqtt ingest unavailable", "err", err)
	}

	var reconciler api.Reconciler
	if cfg.Reconcile.Enabled {
		sched := reconcile.NewScheduler(
			reconcile.NewHTTPSyncer(cfg.Reconcile.URL, cfg.Reconcile.Token, cfg.Reconcile.Timeout),
			orch.Refresh,
			reconcile.Options{MinInterval: cfg.Reconcile.MinInterval, Timeout: cfg.Reconcile.Timeout},
			logger,
		)
		sched.Start(ctx)
		reconciler = sched
	}

	server := api.NewServer(api.Deps{
		Config:     cfg,
		Door:       orch,
		Settings:   settingsStore,
		Metrics:    snapshots,
		Alerts:     alertStore,
		Reconciler: reconciler,
		Cooldowns:  dispatcher,
		Version:    version,
	}, logger)
	api.Start(ctx, cfg.API, server, logger)

	orch.Start(ctx, push)
	if manager != nil {
		go manager.Watch(ctx, cfg.Refresh.ConfigReload, func(next *config.Config) {
			applyReload(next, level, dispatcher, orch, logger)
		}, func(err error) {
			logger.Warn("config reload failed, keeping current config", "path", manager.Path(), "err", err)
		})
	}
	logger.Info("doorguard running", "version", version, "timezone", loc.String())

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func settingsKV(cfg *config.Config, store storage.Store, rdb *redis.Client) settings.KV {
	switch strings.ToLower(cfg.Settings.Backend) {
	case "redis":
		if rdb != nil {
			return settings.NewRedisKV(rdb)
		}
	case "memory":
		return settings.NewMemoryKV()
	}
	return settings.StorageKV{Store: store}
}

// applyReload pushes the settings that can change without a restart.
// Storage, ingest, API and timezone changes need a restart.
func applyReload(cfg *config.Config, level *slog.LevelVar, dispatcher *alerts.Dispatcher, orch *engine.Orchestrator, logger *slog.Logger) {
	if level != nil {
		level.Set(logging.ParseLevel(cfg.LogLevel))
	}
	dispatcher.SetCooldown(cfg.Alerts.Cooldown)
	orch.SetAlertOnOpenTooLong(cfg.Alerts.AlertOnOpenTooLong)
	if logger != nil {
		logger.Info("config reloaded",
			"log_level", cfg.LogLevel,
			"alert_cooldown", cfg.Alerts.Cooldown.String(),
			"alert_on_open_too_long", cfg.Alerts.AlertOnOpenTooLong,
			"reload_checked_every", cfg.Refresh.ConfigReload.String())
	}
}
