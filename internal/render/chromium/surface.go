// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chromium

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/camshot/internal/render"
)

// maxFrameDepth bounds the iframe walk; players rarely nest more than two levels.
const maxFrameDepth = 4

type surface struct {
	ctx     context.Context
	cancel  context.CancelFunc
	crashed atomic.Bool
	logger  zerolog.Logger
}

func newSurface(ctx context.Context, cancel context.CancelFunc, logger zerolog.Logger) *surface {
	s := &surface{ctx: ctx, cancel: cancel, logger: logger}
	chromedp.ListenTarget(ctx, func(ev any) {
		switch ev.(type) {
		case *inspector.EventTargetCrashed, *inspector.EventDetached:
			s.crashed.Store(true)
		}
	})
	return s
}

// run executes actions on the tab bounded by the caller's ctx. Cancelling a child of
// the tab context aborts the command without closing the tab.
func (s *surface) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.Closed() {
		return render.ErrClosed
	}
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && s.Closed() {
		return fmt.Errorf("%w: %w", render.ErrClosed, err)
	}
	return err
}

func (s *surface) Closed() bool {
	return s.ctx.Err() != nil || s.crashed.Load()
}

func (s *surface) Close() error {
	s.cancel()
	return nil
}

func (s *surface) Navigate(ctx context.Context, url string) error {
	if s.Closed() {
		return render.ErrClosed
	}
	loaded := make(chan struct{}, 1)
	lctx, lcancel := context.WithCancel(s.ctx)
	defer lcancel()
	chromedp.ListenTarget(lctx, func(ev any) {
		if _, ok := ev.(*page.EventDomContentEventFired); ok {
			select {
			case loaded <- struct{}{}:
			default:
			}
		}
	})

	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errText != "" {
			return fmt.Errorf("navigate %s: %s", url, errText)
		}
		return nil
	}))
	if err != nil {
		return err
	}

	select {
	case <-loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return render.ErrClosed
	}
}

func (s *surface) Screenshot(ctx context.Context, quality int) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(int64(quality)).
			WithFromSurface(true).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("capture viewport: %w", err)
	}
	return buf, nil
}

func (s *surface) Query(ctx context.Context, selector string) (render.Element, error) {
	return s.query(ctx, nil, selector)
}

func (s *surface) query(ctx context.Context, from *cdp.Node, selector string) (render.Element, error) {
	nodes, err := s.queryAll(ctx, from, selector)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return &element{s: s, node: nodes[0]}, nil
}

func (s *surface) queryAll(ctx context.Context, from *cdp.Node, selector string) ([]*cdp.Node, error) {
	opts := []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
	if from != nil {
		if from.ContentDocument == nil {
			return nil, render.ErrCrossOrigin
		}
		opts = append(opts, chromedp.FromNode(from))
	}
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	return nodes, nil
}

// Frames walks iframe and frame elements depth-first from the top document.
func (s *surface) Frames(ctx context.Context) ([]render.Frame, error) {
	out := []render.Frame{&frame{s: s}}
	var walk func(from *cdp.Node, depth int) error
	walk = func(from *cdp.Node, depth int) error {
		if depth >= maxFrameDepth {
			return nil
		}
		if from != nil && from.ContentDocument == nil {
			return nil
		}
		children, err := s.queryAll(ctx, from, "iframe, frame")
		if err != nil {
			return err
		}
		for _, child := range children {
			out = append(out, &frame{s: s, node: child})
			if err := walk(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(nil, 0); err != nil {
		return out, err
	}
	return out, nil
}

// frame is the top document (node == nil) or the content document of an iframe node.
type frame struct {
	s    *surface
	node *cdp.Node
}

func (f *frame) Query(ctx context.Context, selector string) (render.Element, error) {
	return f.s.query(ctx, f.node, selector)
}

type element struct {
	s    *surface
	node *cdp.Node
}

func (e *element) Tag() string {
	if e.node.LocalName != "" {
		return e.node.LocalName
	}
	return strings.ToLower(e.node.NodeName)
}

const playJS = `function() {
	if (!this || typeof this.play !== "function") { return false; }
	this.muted = true;
	const p = this.play();
	if (p && typeof p.catch === "function") { p.catch(() => {}); }
	return true;
}`

func (e *element) Play(ctx context.Context) error {
	if e.Tag() != "video" {
		return nil
	}
	return e.s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolve video: %w", err)
		}
		var started bool
		return chromedp.CallFunctionOn(playJS, &started,
			func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
				return p.WithObjectID(obj.ObjectID)
			},
		).Do(ctx)
	}))
}

func (e *element) Screenshot(ctx context.Context, quality int) ([]byte, error) {
	var buf []byte
	err := e.s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := dom.ScrollIntoViewIfNeeded().WithNodeID(e.node.NodeID).Do(ctx); err != nil {
			e.s.logger.Debug().Err(err).
				Str("event", "chromium.scroll_ignored").
				Msg("scroll into view failed, capturing current position")
		}

		box, err := dom.GetBoxModel().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("box model: %w", err)
		}
		clip, ok := quadBounds(box.Border)
		if !ok {
			return render.ErrNotVisible
		}
		_, _, _, css, _, _, err := page.GetLayoutMetrics().Do(ctx)
		if err != nil {
			return fmt.Errorf("layout metrics: %w", err)
		}
		if css != nil {
			clip.X += float64(css.PageX)
			clip.Y += float64(css.PageY)
		}
		clip.Scale = 1

		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(int64(quality)).
			WithClip(clip).
			WithCaptureBeyondViewport(true).
			WithFromSurface(true).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("capture %s element: %w", e.Tag(), err)
	}
	return buf, nil
}

// quadBounds returns the rounded bounding rectangle of a quad (x1,y1..x4,y4).
func quadBounds(q dom.Quad) (*page.Viewport, bool) {
	if len(q) < 8 {
		return nil, false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i+1 < len(q); i += 2 {
		minX, maxX = math.Min(minX, q[i]), math.Max(maxX, q[i])
		minY, maxY = math.Min(minY, q[i+1]), math.Max(maxY, q[i+1])
	}
	x, y := math.Round(minX), math.Round(minY)
	w, h := math.Round(maxX-x), math.Round(maxY-y)
	if w < 1 || h < 1 {
		return nil, false
	}
	return &page.Viewport{X: x, Y: y, Width: w, Height: h}, true
}
