// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package chromium implements render.Engine on top of a local Chrome/Chromium
// process driven over the DevTools protocol.
package chromium

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/camshot/internal/log"
	"github.com/ManuGH/camshot/internal/render"
)

// Engine launches Chrome processes with chromedp.
type Engine struct {
	logger zerolog.Logger
}

// New returns a chromedp backed engine.
func New() *Engine {
	return &Engine{logger: log.WithComponent("chromium")}
}

// allocatorOptions builds the exec allocator flags. The defaults already disable
// site-per-process, which keeps cross-origin player iframes queryable from the top
// document, and /dev/shm usage.
func allocatorOptions(opts render.LaunchOptions) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !opts.Headless {
		out = append(out, chromedp.Flag("headless", false))
	}
	if opts.NoSandbox {
		out = append(out, chromedp.NoSandbox)
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	out = append(out,
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("mute-audio", true),
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
	)
	for _, f := range opts.ExtraFlags {
		name, value, hasValue := cutFlag(f)
		if name == "" {
			continue
		}
		if hasValue {
			out = append(out, chromedp.Flag(name, value))
		} else {
			out = append(out, chromedp.Flag(name, true))
		}
	}
	return out
}

// cutFlag splits "--name=value" into its parts.
func cutFlag(f string) (name, value string, hasValue bool) {
	return strings.Cut(strings.TrimLeft(strings.TrimSpace(f), "-"), "=")
}

// Launch starts a browser process. The process outlives ctx; ctx only bounds startup.
func (e *Engine) Launch(ctx context.Context, opts render.LaunchOptions) (render.Browser, error) {
	base := context.WithoutCancel(ctx)
	allocCtx, allocCancel := chromedp.NewExecAllocator(base, allocatorOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			e.logger.Debug().Str("event", "chromium.cdp_error").Msgf(format, args...)
		}),
	)

	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stopped := stop()
	if err != nil || !stopped {
		browserCancel()
		allocCancel()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("start browser: %w", err)
	}

	b := &browser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		width:       int64(opts.ViewportWidth),
		height:      int64(opts.ViewportHeight),
		logger:      e.logger,
	}
	e.logger.Info().
		Str("event", "chromium.launched").
		Bool("headless", opts.Headless).
		Int("viewport_width", opts.ViewportWidth).
		Int("viewport_height", opts.ViewportHeight).
		Msg("browser started")
	return b, nil
}

type browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	width       int64
	height      int64
	logger      zerolog.Logger
	closeOnce   sync.Once
}

func (b *browser) Connected() bool {
	return b.ctx.Err() == nil
}

// Disconnected relies on chromedp cancelling the browser context when the
// DevTools connection drops or the process exits.
func (b *browser) Disconnected() <-chan struct{} {
	return b.ctx.Done()
}

func (b *browser) NewSurface(ctx context.Context) (render.Surface, error) {
	if !b.Connected() {
		return nil, render.ErrClosed
	}
	tabCtx, tabCancel := chromedp.NewContext(b.ctx)

	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx, chromedp.EmulateViewport(b.width, b.height))
	stopped := stop()
	if err != nil || !stopped {
		tabCancel()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return newSurface(tabCtx, tabCancel, b.logger), nil
}

// Close kills the browser process. Cancelling the allocator removes the
// temporary profile directory.
func (b *browser) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		b.allocCancel()
		b.logger.Info().Str("event", "chromium.closed").Msg("browser closed")
	})
	return nil
}
