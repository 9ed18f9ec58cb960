// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/camshot/internal/config"
	"github.com/ManuGH/camshot/internal/log"
)

// CameraUpdater receives the camera map after a config reload.
type CameraUpdater interface {
	UpdateCameras(cameras map[string]config.CameraConfig, defaultCamera string)
}

// Runner is a background subsystem that stops when ctx ends.
type Runner interface {
	Run(ctx context.Context) error
}

type namedRunner struct {
	name string
	r    Runner
}

// App owns the long-lived runtime: config reloads, background runners and the
// server lifecycle delegated to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.ConfigHolder
	cameras      CameraUpdater
	runners      []namedRunner
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. cfgHolder and cameras may be nil.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.ConfigHolder, cameras CameraUpdater) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		cameras:      cameras,
		reloadSignal: syscall.SIGHUP,
	}
}

// AddRunner registers a background subsystem. Runner failures are logged and
// do not stop the daemon.
func (a *App) AddRunner(name string, r Runner) {
	a.runners = append(a.runners, namedRunner{name: name, r: r})
}

// Run blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfgHolder != nil {
		// The watcher is best-effort: a missing inotify slot must not stop startup.
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		defer a.cfgHolder.Stop()

		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.apply(cfg)
				}
			}
		})

		if a.reloadSignal != nil {
			g.Go(func() error {
				hup := make(chan os.Signal, 1)
				signal.Notify(hup, a.reloadSignal)
				defer signal.Stop(hup)
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-hup:
						a.logger.Info().
							Str("event", "config.reload_signal").
							Str("signal", a.reloadSignal.String()).
							Msg("received reload signal, reloading config")
						if err := a.cfgHolder.Reload(ctx); err != nil {
							a.logger.Warn().Err(err).Str("event", "config.reload_failed").Msg("config reload failed")
						}
					}
				}
			})
		}
	}

	for _, nr := range a.runners {
		g.Go(func() error {
			if err := nr.r.Run(ctx); err != nil {
				a.logger.Error().Err(err).
					Str("event", "runner.failed").
					Str("runner", nr.name).
					Msg("background runner stopped")
			}
			return nil
		})
	}

	g.Go(func() error {
		return a.manager.Start(ctx)
	})

	return g.Wait()
}

// apply pushes the hot-swappable sections of a reloaded config.
func (a *App) apply(cfg config.AppConfig) {
	if a.cameras != nil {
		a.cameras.UpdateCameras(cfg.Cameras, cfg.Capture.DefaultCamera)
	}
	if cfg.Log.Level != "" {
		if err := log.SetLevel(cfg.Log.Level); err != nil {
			a.logger.Warn().Err(err).Str("event", "config.log_level_ignored").Msg("ignoring invalid log level")
		}
	}
	a.logger.Info().
		Str("event", "config.applied").
		Int("cameras", len(cfg.Cameras)).
		Msg("applied reloaded configuration")
}
