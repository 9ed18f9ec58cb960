// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ManuGH/camshot/internal/api"
	"github.com/ManuGH/camshot/internal/artifact"
	"github.com/ManuGH/camshot/internal/capture"
	"github.com/ManuGH/camshot/internal/config"
	"github.com/ManuGH/camshot/internal/health"
	"github.com/ManuGH/camshot/internal/history"
	"github.com/ManuGH/camshot/internal/pool"
	"github.com/ManuGH/camshot/internal/reclaimer"
	"github.com/ManuGH/camshot/internal/relay"
	"github.com/ManuGH/camshot/internal/render"
	"github.com/ManuGH/camshot/internal/render/chromium"
	"github.com/ManuGH/camshot/internal/scheduler"
	"github.com/ManuGH/camshot/internal/shot"
)

const launchTimeout = 30 * time.Second

// components holds everything main wires together.
type components struct {
	pool      *pool.Pool
	scheduler *scheduler.Scheduler
	artifacts *artifact.Store
	relay     *relay.Client
	history   *history.Store
	shots     *shot.Service
}

// historyPruner returns nil when history is disabled so the reclaimer skips it.
func (c *components) historyPruner() reclaimer.History {
	if c.history == nil {
		return nil
	}
	return c.history
}

func buildComponents(cfg config.AppConfig) (*components, error) {
	c := &components{}

	c.pool = pool.New(chromium.New(), pool.Config{
		MaxResources:      cfg.Pool.MaxResources,
		ResourceTTL:       cfg.Pool.ResourceTTL,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		LoadSettle:        cfg.Browser.LoadSettle,
		LaunchTimeout:     launchTimeout,
		Launch: render.LaunchOptions{
			ExecPath:       cfg.Browser.ExecPath,
			Headless:       cfg.Browser.Headless,
			NoSandbox:      cfg.Browser.NoSandbox,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			ExtraFlags:     cfg.Browser.ExtraFlags,
		},
	})

	c.scheduler = scheduler.New(scheduler.Config{
		MaxConcurrent:  cfg.Scheduler.MaxConcurrent,
		MaxQueuePerKey: cfg.Scheduler.MaxQueuePerCamera,
		WaitTimeout:    cfg.Scheduler.WaitTimeout,
	})

	var err error
	c.artifacts, err = artifact.New(artifact.Config{
		Dir:           cfg.SaveDir,
		PublicBaseURL: cfg.HTTP.PublicBaseURL,
		PublicPrefix:  cfg.HTTP.PublicPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	c.relay, err = relay.New(relay.Config{
		URL:              cfg.Relay.URL,
		Mode:             cfg.Relay.Mode,
		Timeout:          cfg.Relay.Timeout,
		Persist:          cfg.Relay.Persist,
		RatePerSecond:    cfg.Relay.RatePerSecond,
		Burst:            cfg.Relay.Burst,
		BreakerThreshold: cfg.Relay.BreakerThreshold,
		BreakerCooldown:  cfg.Relay.BreakerCooldown,
	})
	if err != nil {
		return nil, fmt.Errorf("relay client: %w", err)
	}

	var recorder shot.Recorder
	if cfg.History.Path != "" {
		c.history, err = history.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		recorder = c.history
	}

	c.shots = shot.New(shot.Config{
		Cameras:       cfg.Cameras,
		DefaultCamera: cfg.Capture.DefaultCamera,
		FrameSelector: cfg.Capture.FrameSelector,
		JobTimeout:    jobTimeout(cfg),
	}, shot.Deps{
		Scheduler: c.scheduler,
		Pool:      c.pool,
		Pipeline: capture.Default(capture.Options{
			Settle:     cfg.Capture.Settle,
			Quality:    cfg.Capture.Quality,
			Retries:    cfg.Capture.Retries,
			RetryDelay: cfg.Capture.RetryDelay,
		}),
		Artifacts: c.artifacts,
		Relay:     c.relay,
		History:   recorder,
	})
	return c, nil
}

// jobTimeout bounds one started capture: a cold launch, navigation, every
// capture attempt and the relay round trip.
func jobTimeout(cfg config.AppConfig) time.Duration {
	attempts := time.Duration(max(cfg.Capture.Retries, 0) + 1)
	d := launchTimeout +
		cfg.Browser.NavigationTimeout +
		cfg.Browser.LoadSettle +
		attempts*(cfg.Capture.Settle+cfg.Capture.RetryDelay)
	if cfg.Relay.URL != "" {
		d += cfg.Relay.Timeout
	}
	return d
}

func registerCheckers(hm *health.Manager, cfg config.AppConfig, c *components) {
	hm.RegisterChecker(health.NewDirChecker("save_dir", cfg.SaveDir))
	if c.history != nil {
		hm.RegisterChecker(health.NewPingChecker("history", c.history.Check))
	} else {
		hm.RegisterChecker(health.NewPingChecker("history", nil))
	}
	if c.relay.Enabled() {
		hm.RegisterChecker(health.NewBreakerChecker("relay", c.relay.BreakerState))
	}
	hm.RegisterChecker(health.NewSessionChecker(func() health.SessionStatus {
		st := c.pool.Snapshot()
		return health.SessionStatus{Connected: st.Connected, Resources: len(st.Resources)}
	}))
}

func buildAPI(cfg config.AppConfig, c *components, hm *health.Manager) http.Handler {
	apiCfg := api.Config{PublicPrefix: cfg.HTTP.PublicPrefix}
	if cfg.HTTP.RateLimit.Enabled {
		apiCfg.CaptureRatePerMinute = cfg.HTTP.RateLimit.RequestsPerMinute
	}
	if cfg.Telemetry.Enabled {
		apiCfg.TracingService = serviceName
	}

	deps := api.Deps{
		Shots:     c.shots,
		Pool:      c.pool,
		Queue:     c.scheduler,
		Artifacts: c.artifacts,
		Health:    hm,
	}
	if c.history != nil {
		deps.History = c.history
	}
	return api.New(apiCfg, deps).Handler()
}
