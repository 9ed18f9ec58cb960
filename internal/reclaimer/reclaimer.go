// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package reclaimer periodically frees idle browser surfaces, the idle session,
// expired artifacts and expired history rows.
package reclaimer

import (
	"context"
	"time"

	"github.com/ManuGH/camshot/internal/log"
	"github.com/ManuGH/camshot/internal/metrics"
)

// Pool is the part of the resource pool the reclaimer drives.
type Pool interface {
	SweepIdle(idle time.Duration) int
	SweepSession(idle time.Duration) bool
}

// Artifacts removes expired files.
type Artifacts interface {
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}

// History prunes expired rows.
type History interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config sets the sweep cadence and thresholds. A zero threshold disables that sweep.
type Config struct {
	Interval          time.Duration
	ResourceIdle      time.Duration
	SessionIdle       time.Duration
	ArtifactRetention time.Duration
	Now               func() time.Time
}

// Report summarizes one pass.
type Report struct {
	Resources   int
	Session     bool
	Artifacts   int
	HistoryRows int64
}

// Reclaimer runs sweeps. Artifacts and History may be nil.
type Reclaimer struct {
	cfg       Config
	pool      Pool
	artifacts Artifacts
	history   History
}

// New returns a Reclaimer.
func New(cfg Config, pool Pool, artifacts Artifacts, history History) *Reclaimer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reclaimer{cfg: cfg, pool: pool, artifacts: artifacts, history: history}
}

// Run sweeps on a ticker until ctx ends.
func (r *Reclaimer) Run(ctx context.Context) error {
	if r.cfg.Interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	logger := log.WithComponent("reclaimer")
	logger.Info().
		Str("event", "reclaimer.started").
		Dur("interval", r.cfg.Interval).
		Msg("idle reclaimer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs one pass. Failures are logged and do not stop later sweeps.
func (r *Reclaimer) SweepOnce(ctx context.Context) Report {
	logger := log.WithComponentFromContext(ctx, "reclaimer")
	var rep Report

	if r.cfg.ResourceIdle > 0 {
		rep.Resources = r.pool.SweepIdle(r.cfg.ResourceIdle)
	}
	// After resources so a fully idle pool can release the session in the same pass.
	if r.cfg.SessionIdle > 0 {
		rep.Session = r.pool.SweepSession(r.cfg.SessionIdle)
	}

	if r.cfg.ArtifactRetention > 0 && r.artifacts != nil {
		n, err := r.artifacts.Sweep(ctx, r.cfg.ArtifactRetention)
		if err != nil {
			logger.Warn().Err(err).Str("event", "reclaimer.artifact_sweep_ignored").Msg("artifact sweep failed")
		}
		rep.Artifacts = n
		metrics.RecordArtifactsRemoved(n)
	}
	if r.cfg.ArtifactRetention > 0 && r.history != nil {
		n, err := r.history.Prune(ctx, r.cfg.Now().Add(-r.cfg.ArtifactRetention))
		if err != nil {
			logger.Warn().Err(err).Str("event", "reclaimer.history_prune_ignored").Msg("history prune failed")
		}
		rep.HistoryRows = n
	}

	if rep != (Report{}) {
		logger.Info().
			Str("event", "reclaimer.swept").
			Int("resources", rep.Resources).
			Bool("session", rep.Session).
			Int("artifacts", rep.Artifacts).
			Int64("history_rows", rep.HistoryRows).
			Msg("reclaimed idle state")
	}
	return rep
}
