// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/camshot/internal/log"
	"github.com/ManuGH/camshot/internal/render"
)

// Source is what a strategy extracts a frame from.
type Source struct {
	Camera        string
	Surface       render.Surface
	FrameSelector string
}

// Strategy is one way of extracting a frame. Attempt returns (nil, nil) when the
// strategy does not apply to the page and an error when the render engine failed.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, src Source) ([]byte, error)
}

// Strategy names.
const (
	StrategyMedia   = "media"
	StrategyFrame   = "frame"
	StrategySurface = "surface"
)

// mediaSelectors are tried per frame, in order.
var mediaSelectors = []string{"video", "canvas"}

// MediaStrategy captures the first video or canvas element found in any frame.
// Video elements are started muted before the settle delay.
type MediaStrategy struct {
	Settle  time.Duration
	Quality int
}

func (MediaStrategy) Name() string { return StrategyMedia }

func (m MediaStrategy) Attempt(ctx context.Context, src Source) ([]byte, error) {
	logger := log.WithComponentFromContext(ctx, "capture")

	frames, err := src.Surface.Frames(ctx)
	if err != nil {
		if len(frames) == 0 {
			return nil, err
		}
		logger.Debug().Err(err).
			Str("event", "capture.frame_walk_ignored").
			Int("frames", len(frames)).
			Msg("frame walk incomplete, searching frames found so far")
	}

	el := findMedia(ctx, logger, frames)
	if el == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if el.Tag() == "video" {
		if err := el.Play(ctx); err != nil {
			logger.Debug().Err(err).
				Str("event", "capture.play_ignored").
				Msg("video play() failed, capturing current frame")
		}
	}
	if err := sleepCtx(ctx, m.Settle); err != nil {
		return nil, err
	}

	buf, err := el.Screenshot(ctx, m.Quality)
	if errors.Is(err, render.ErrNotVisible) {
		return nil, nil
	}
	return buf, err
}

// findMedia returns the first media element across frames. Frames that cannot be
// queried are skipped.
func findMedia(ctx context.Context, logger zerolog.Logger, frames []render.Frame) render.Element {
	for i, f := range frames {
		for _, sel := range mediaSelectors {
			el, err := f.Query(ctx, sel)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				event := "capture.frame_query_ignored"
				if errors.Is(err, render.ErrCrossOrigin) {
					event = "capture.cross_origin_ignored"
				}
				logger.Debug().Err(err).
					Str("event", event).
					Int("frame", i).
					Msg("skipping frame")
				break
			}
			if el != nil {
				return el
			}
		}
	}
	return nil
}

// FrameStrategy captures the embedded player frame matched by the selector hint.
type FrameStrategy struct {
	Settle  time.Duration
	Quality int
}

func (FrameStrategy) Name() string { return StrategyFrame }

func (f FrameStrategy) Attempt(ctx context.Context, src Source) ([]byte, error) {
	if src.FrameSelector == "" {
		return nil, nil
	}
	el, err := src.Surface.Query(ctx, src.FrameSelector)
	if err != nil || el == nil {
		return nil, err
	}
	if err := sleepCtx(ctx, f.Settle); err != nil {
		return nil, err
	}
	buf, err := el.Screenshot(ctx, f.Quality)
	if errors.Is(err, render.ErrNotVisible) {
		return nil, nil
	}
	return buf, err
}

// SurfaceStrategy captures the whole viewport. It is the terminal fallback.
type SurfaceStrategy struct {
	Quality int
}

func (SurfaceStrategy) Name() string { return StrategySurface }

func (s SurfaceStrategy) Attempt(ctx context.Context, src Source) ([]byte, error) {
	return src.Surface.Screenshot(ctx, s.Quality)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
