package main

import (
	"log/slog"
	"testing"
	"time"

	"doorguard/internal/alerts"
	"doorguard/internal/config"
	"doorguard/internal/engine"
	"doorguard/internal/logging"
	"doorguard/internal/metrics"
	"doorguard/internal/notify"
	"doorguard/internal/settings"
)

func TestApplyReloadUpdatesRuntimeSettings(t *testing.T) {
	level := logging.NewLevelVar("info")
	dispatcher := alerts.NewDispatcher(notify.LogNotifier{}, nil, nil, alerts.DispatcherOptions{}, nil)
	orch := engine.NewOrchestrator(nil, settings.NewStore(settings.NewMemoryKV(), "", nil), dispatcher, metrics.NewStore(),
		engine.Options{AlertOnOpenTooLong: true}, nil)

	cfg := config.DefaultConfig()
	cfg.LogLevel = "debug"
	cfg.Alerts.Cooldown = 90 * time.Second
	cfg.Alerts.AlertOnOpenTooLong = false
	applyReload(cfg, level, dispatcher, orch, nil)

	if level.Level() != slog.LevelDebug {
		t.Fatalf("log level not applied: %v", level.Level())
	}
	if dispatcher.Cooldown() != 90*time.Second {
		t.Fatalf("cooldown not applied: %v", dispatcher.Cooldown())
	}
	if orch.AlertOnOpenTooLong() {
		t.Fatalf("open-too-long toggle not applied")
	}
}
