// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/camshot/internal/config"
	"github.com/ManuGH/camshot/internal/daemon"
	"github.com/ManuGH/camshot/internal/health"
	"github.com/ManuGH/camshot/internal/intake"
	xglog "github.com/ManuGH/camshot/internal/log"
	"github.com/ManuGH/camshot/internal/reclaimer"
	"github.com/ManuGH/camshot/internal/telemetry"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

const serviceName = "camshot"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthcheckCLI(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until config is loaded.
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: serviceName,
		Version: version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = config.ParseString("CAMSHOT_CONFIG", "")
	}

	loader := config.NewLoader(path, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.Log.Level,
		Service: serviceName,
		Version: cfg.Version,
	})

	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str("event", "config.loaded").
		Str("source", source).
		Str("path", path).
		Int("cameras", len(cfg.Cameras)).
		Msg("configuration loaded")

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Fatal().Err(err).Str("event", "startup.check_failed").Msg("startup checks failed")
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("failed to initialise tracing")
	}

	c, err := buildComponents(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "components.init_failed").Msg("failed to build capture components")
	}

	hm := health.NewManager(cfg.Version)
	registerCheckers(hm, cfg, c)

	handler := buildAPI(cfg, c, hm)

	mgr, err := daemon.NewManager(daemon.ServerConfig{
		ListenAddr:      cfg.HTTP.Listen,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, daemon.Deps{
		Logger:     xglog.WithComponent("server"),
		APIHandler: handler,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.init_failed").Msg("failed to create server manager")
	}

	// Hooks run in reverse order: drain jobs first, then the browser, then storage.
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	if c.history != nil {
		mgr.RegisterShutdownHook("history", func(context.Context) error { return c.history.Close() })
	}
	mgr.RegisterShutdownHook("pool", func(context.Context) error { return c.pool.Close() })
	mgr.RegisterShutdownHook("scheduler", c.scheduler.Shutdown)

	if cfg.Prewarm {
		go func() {
			if err := c.shots.Prewarm(ctx); err != nil {
				logger.Warn().Err(err).Str("event", "prewarm.ignored").Msg("prewarm incomplete")
			}
		}()
	}

	holder := config.NewConfigHolder(cfg, loader)
	app := daemon.NewApp(xglog.WithComponent("app"), mgr, holder, c.shots)

	rec := reclaimer.New(reclaimer.Config{
		Interval:          cfg.Reclaim.Interval,
		ResourceIdle:      cfg.Reclaim.ResourceIdle,
		SessionIdle:       cfg.Reclaim.SessionIdle,
		ArtifactRetention: cfg.Reclaim.ArtifactRetention,
	}, c.pool, c.artifacts, c.historyPruner())
	app.AddRunner("reclaimer", rec)

	if cfg.Stdin.Enabled {
		app.AddRunner("stdin", intake.New(os.Stdin, c.shots))
	}

	logger.Info().
		Str("event", "daemon.starting").
		Str("version", version).
		Str("commit", commit).
		Str("listen", cfg.HTTP.Listen).
		Str("save_dir", cfg.SaveDir).
		Bool("relay", cfg.Relay.URL != "").
		Msg("starting camshot")

	if err := app.Run(ctx); err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
	}
	logger.Info().Str("event", "daemon.stopped").Msg("shutdown complete")
}
