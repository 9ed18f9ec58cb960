// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package rendertest provides an in-memory render.Engine for tests.
//
// Pages are registered per URL. A page without a registration has no media, no
// frames and a viewport screenshot of "surface:<url>".
package rendertest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/camshot/internal/render"
)

// Element is a fake DOM element.
type Element struct {
	TagName string
	Bytes   []byte
	Err     error
	PlayErr error
	// Stall, when set, makes Screenshot wait until it is closed or ctx ends,
	// like a driver call that never answers.
	Stall chan struct{}

	plays atomic.Int32
	shots atomic.Int32
}

// Plays returns how many times Play was called.
func (e *Element) Plays() int { return int(e.plays.Load()) }

// Shots returns how many times Screenshot was called.
func (e *Element) Shots() int { return int(e.shots.Load()) }

func (e *Element) Tag() string { return e.TagName }

func (e *Element) Play(ctx context.Context) error {
	e.plays.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.PlayErr
}

func (e *Element) Screenshot(ctx context.Context, _ int) ([]byte, error) {
	e.shots.Add(1)
	if e.Stall != nil {
		select {
		case <-e.Stall:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}
	return e.Bytes, nil
}

// Frame describes one document. Elements maps a selector to the element it matches.
type Frame struct {
	CrossOrigin bool
	QueryErr    error
	Elements    map[string]*Element
}

func (f *Frame) Query(ctx context.Context, selector string) (render.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.CrossOrigin {
		return nil, render.ErrCrossOrigin
	}
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	if el, ok := f.Elements[selector]; ok {
		return el, nil
	}
	return nil, nil
}

// Page describes what a surface shows after navigating to a URL.
type Page struct {
	// Frames[0] is the main document.
	Frames        []*Frame
	FramesErr     error
	NavigateErr   error
	NavigateDelay time.Duration
	Viewport      []byte
	ViewportErr   error
	// CloseOnScreenshot closes the surface when the viewport is captured, simulating a crash.
	CloseOnScreenshot bool
	// CloseGate, when set, makes Close block until it is closed, like a tab that
	// takes a while to exit.
	CloseGate chan struct{}
}

// Engine is a fake render.Engine.
type Engine struct {
	mu          sync.Mutex
	pages       map[string]*Page
	launchErr   error
	launchDelay time.Duration
	launches    int
	browsers    []*Browser
}

// NewEngine returns an engine with no registered pages.
func NewEngine() *Engine {
	return &Engine{pages: make(map[string]*Page)}
}

// SetPage registers the page served for url.
func (e *Engine) SetPage(url string, p *Page) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pages[url] = p
}

// SetLaunchError makes subsequent launches fail with err (nil clears it).
func (e *Engine) SetLaunchError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.launchErr = err
}

// SetLaunchDelay delays subsequent launches.
func (e *Engine) SetLaunchDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.launchDelay = d
}

// Launches returns the number of launch attempts.
func (e *Engine) Launches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.launches
}

// Browser returns the most recently launched browser, or nil.
func (e *Engine) Browser() *Browser {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.browsers) == 0 {
		return nil
	}
	return e.browsers[len(e.browsers)-1]
}

func (e *Engine) page(url string) *Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.pages[url]; ok {
		return p
	}
	return &Page{Viewport: []byte("surface:" + url)}
}

func (e *Engine) Launch(ctx context.Context, _ render.LaunchOptions) (render.Browser, error) {
	e.mu.Lock()
	e.launches++
	err, delay := e.launchErr, e.launchDelay
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	b := &Browser{engine: e, disc: make(chan struct{})}
	e.mu.Lock()
	e.browsers = append(e.browsers, b)
	e.mu.Unlock()
	return b, nil
}

// Browser is a fake render.Browser.
type Browser struct {
	engine *Engine

	mu       sync.Mutex
	surfaces []*Surface
	disc     chan struct{}
	once     sync.Once
}

func (b *Browser) NewSurface(ctx context.Context) (render.Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !b.Connected() {
		return nil, render.ErrClosed
	}
	s := &Surface{browser: b}
	b.mu.Lock()
	b.surfaces = append(b.surfaces, s)
	b.mu.Unlock()
	return s, nil
}

func (b *Browser) Connected() bool {
	select {
	case <-b.disc:
		return false
	default:
		return true
	}
}

func (b *Browser) Disconnected() <-chan struct{} { return b.disc }

// Disconnect simulates a crash: the browser and every surface close.
func (b *Browser) Disconnect() {
	b.once.Do(func() { close(b.disc) })
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.surfaces {
		s.closed.Store(true)
	}
}

func (b *Browser) Close() error {
	b.Disconnect()
	return nil
}

// Surfaces returns every surface opened on this browser.
func (b *Browser) Surfaces() []*Surface {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Surface(nil), b.surfaces...)
}

// OpenSurfaces counts surfaces that are not closed.
func (b *Browser) OpenSurfaces() int {
	n := 0
	for _, s := range b.Surfaces() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// Surface is a fake render.Surface.
type Surface struct {
	browser *Browser

	mu          sync.Mutex
	url         string
	navigations int
	closed      atomic.Bool
}

// URL returns the last navigated URL.
func (s *Surface) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Navigations returns the number of Navigate calls.
func (s *Surface) Navigations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigations
}

// Kill closes the surface without going through Close, simulating a crashed tab.
func (s *Surface) Kill() { s.closed.Store(true) }

func (s *Surface) current() *Page {
	return s.browser.engine.page(s.URL())
}

func (s *Surface) Navigate(ctx context.Context, url string) error {
	if s.Closed() {
		return render.ErrClosed
	}
	s.mu.Lock()
	s.url = url
	s.navigations++
	s.mu.Unlock()

	p := s.current()
	if p.NavigateDelay > 0 {
		select {
		case <-time.After(p.NavigateDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.NavigateErr
}

func (s *Surface) Frames(ctx context.Context) ([]render.Frame, error) {
	if s.Closed() {
		return nil, render.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := s.current()
	if p.FramesErr != nil {
		return nil, p.FramesErr
	}
	if len(p.Frames) == 0 {
		return []render.Frame{&Frame{}}, nil
	}
	out := make([]render.Frame, len(p.Frames))
	for i, f := range p.Frames {
		out[i] = f
	}
	return out, nil
}

func (s *Surface) Query(ctx context.Context, selector string) (render.Element, error) {
	frames, err := s.Frames(ctx)
	if err != nil {
		return nil, err
	}
	return frames[0].Query(ctx, selector)
}

func (s *Surface) Screenshot(ctx context.Context, _ int) ([]byte, error) {
	if s.Closed() {
		return nil, render.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := s.current()
	if p.CloseOnScreenshot {
		s.closed.Store(true)
	}
	if p.ViewportErr != nil {
		return nil, p.ViewportErr
	}
	return p.Viewport, nil
}

func (s *Surface) Closed() bool { return s.closed.Load() }

func (s *Surface) Close() error {
	if gate := s.current().CloseGate; gate != nil {
		<-gate
	}
	s.closed.Store(true)
	return nil
}

var (
	_ render.Engine  = (*Engine)(nil)
	_ render.Browser = (*Browser)(nil)
	_ render.Surface = (*Surface)(nil)
	_ render.Frame   = (*Frame)(nil)
	_ render.Element = (*Element)(nil)
)
