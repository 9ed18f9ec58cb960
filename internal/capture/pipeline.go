// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package capture extracts a still frame from a rendered camera page.
//
// Strategies run in order and the first one returning bytes wins. When a strategy
// fails with a render error (as opposed to finding nothing) the whole chain is
// retried a bounded number of times, unless the surface itself is gone.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/camshot/internal/log"
	"github.com/ManuGH/camshot/internal/metrics"
)

// ErrNoFrame is returned when every strategy was exhausted without bytes.
var ErrNoFrame = errors.New("no frame captured")

// Options configures the default strategy chain and the retry policy.
type Options struct {
	Settle     time.Duration
	Quality    int
	Retries    int
	RetryDelay time.Duration
}

// Result is a captured frame.
type Result struct {
	Bytes    []byte
	Strategy string
	Attempts int
}

// Pipeline runs strategies with an outer retry.
type Pipeline struct {
	strategies []Strategy
	retries    int
	retryDelay time.Duration
}

// NewPipeline builds a pipeline over an explicit strategy list.
func NewPipeline(retries int, retryDelay time.Duration, strategies ...Strategy) *Pipeline {
	if retries < 0 {
		retries = 0
	}
	return &Pipeline{strategies: strategies, retries: retries, retryDelay: retryDelay}
}

// Default builds the media → frame → surface chain.
func Default(opts Options) *Pipeline {
	return NewPipeline(opts.Retries, opts.RetryDelay,
		MediaStrategy{Settle: opts.Settle, Quality: opts.Quality},
		FrameStrategy{Settle: opts.Settle, Quality: opts.Quality},
		SurfaceStrategy{Quality: opts.Quality},
	)
}

// Strategies returns the strategy names in order.
func (p *Pipeline) Strategies() []string {
	names := make([]string, len(p.strategies))
	for i, s := range p.strategies {
		names[i] = s.Name()
	}
	return names
}

// Extract runs the chain against src.
func (p *Pipeline) Extract(ctx context.Context, src Source) (Result, error) {
	logger := log.WithComponentFromContext(ctx, "capture")

	var lastErr error
	for attempt := 1; ; attempt++ {
		res, err := p.runChain(ctx, src)
		if len(res.Bytes) > 0 {
			res.Attempts = attempt
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		if err != nil {
			lastErr = err
		}
		if err == nil || src.Surface.Closed() || attempt > p.retries {
			break
		}

		metrics.RecordCaptureRetry()
		logger.Warn().Err(err).
			Str("event", "capture.retry").
			Int(log.FieldAttempt, attempt).
			Dur("delay", p.retryDelay).
			Msg("strategy chain hit a render error, retrying")
		if err := sleepCtx(ctx, p.retryDelay); err != nil {
			return Result{}, err
		}
	}

	if lastErr != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrNoFrame, lastErr)
	}
	return Result{}, ErrNoFrame
}

// runChain returns the first hit, or the last render error seen.
func (p *Pipeline) runChain(ctx context.Context, src Source) (Result, error) {
	logger := log.WithComponentFromContext(ctx, "capture")

	var lastErr error
	for _, s := range p.strategies {
		buf, err := s.Attempt(ctx, src)
		switch {
		case err != nil:
			metrics.RecordStrategy(s.Name(), "error")
			lastErr = fmt.Errorf("%s: %w", s.Name(), err)
			logger.Warn().Err(err).
				Str("event", "capture.strategy_failed").
				Str(log.FieldStrategy, s.Name()).
				Msg("strategy failed, falling back")
			if ctx.Err() != nil {
				return Result{}, lastErr
			}
		case len(buf) == 0:
			metrics.RecordStrategy(s.Name(), "miss")
			logger.Debug().
				Str("event", "capture.strategy_miss").
				Str(log.FieldStrategy, s.Name()).
				Msg("strategy found nothing")
		default:
			metrics.RecordStrategy(s.Name(), "hit")
			logger.Debug().
				Str("event", "capture.strategy_hit").
				Str(log.FieldStrategy, s.Name()).
				Int("bytes", len(buf)).
				Msg("frame captured")
			return Result{Bytes: buf, Strategy: s.Name()}, nil
		}
	}
	return Result{}, lastErr
}
