// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pool manages the shared rendering session and the bounded set of
// per-camera resources (one tab per camera) living inside it.
//
// All bookkeeping happens under a single mutex. Browser I/O (launch, opening and
// closing tabs, navigation) always happens with the mutex released; a reserved
// placeholder entry holds the slot while a resource is being created.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/camshot/internal/log"
	"github.com/ManuGH/camshot/internal/metrics"
	platformnet "github.com/ManuGH/camshot/internal/platform/net"
	"github.com/ManuGH/camshot/internal/render"
)

// Config bounds and tunes the pool.
type Config struct {
	MaxResources      int
	ResourceTTL       time.Duration
	NavigationTimeout time.Duration
	LoadSettle        time.Duration
	LaunchTimeout     time.Duration
	Launch            render.LaunchOptions

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Target identifies the camera page a resource must show.
type Target struct {
	Key           string
	URL           string
	FrameSelector string
}

type resource struct {
	key       string
	url       string
	selector  string
	surface   render.Surface
	createdAt time.Time
	lastUsed  time.Time
	busy      bool
	creating  bool
}

// Pool owns the rendering session and its camera resources.
type Pool struct {
	cfg    Config
	engine render.Engine
	logger zerolog.Logger
	now    func() time.Time

	launches singleflight.Group

	mu           sync.Mutex
	resources    map[string]*resource
	browser      render.Browser
	generation   uint64
	lastActivity time.Time
	released     chan struct{}
	closed       bool

	done     chan struct{}
	watchers sync.WaitGroup
}

// New creates a pool. The rendering session is launched lazily on first Acquire.
func New(engine render.Engine, cfg Config) *Pool {
	if cfg.MaxResources <= 0 {
		cfg.MaxResources = 1
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = 30 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pool{
		cfg:       cfg,
		engine:    engine,
		logger:    log.WithComponent("pool"),
		now:       now,
		resources: make(map[string]*resource),
		released:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Lease grants exclusive use of one camera resource until Release.
type Lease struct {
	pool *Pool
	res  *resource
	once sync.Once
}

// Key returns the resource key.
func (l *Lease) Key() string { return l.res.key }

// URL returns the player URL the surface was loaded with.
func (l *Lease) URL() string { return l.res.url }

// FrameSelector returns the embedded-frame selector hint.
func (l *Lease) FrameSelector() string { return l.res.selector }

// Surface returns the rendering surface. It must not be used after Release.
func (l *Lease) Surface() render.Surface { return l.res.surface }

// Release marks the resource idle again. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() { l.pool.release(l.res) })
}

// Acquire returns an exclusive lease on the resource for t.Key, creating or
// re-creating it as needed. When the pool is full and every resource is busy,
// Acquire blocks until a resource is released or ctx ends.
func (p *Pool) Acquire(ctx context.Context, t Target) (*Lease, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}

		var toClose []*resource
		if res, ok := p.resources[t.Key]; ok {
			if res.busy {
				if err := p.waitLocked(ctx, nil); err != nil {
					return nil, err
				}
				continue
			}
			reason := p.staleLocked(res, t)
			if reason == "" {
				res.busy = true
				res.selector = t.FrameSelector
				p.lastActivity = p.now()
				p.updateGaugesLocked()
				p.mu.Unlock()
				return &Lease{pool: p, res: res}, nil
			}
			delete(p.resources, t.Key)
			toClose = append(toClose, res)
			metrics.RecordEviction(reason)
			p.logger.Info().
				Str("event", "pool.resource_stale").
				Str(log.FieldResourceKey, t.Key).
				Str("reason", reason).
				Msg("recreating camera resource")
		}

		if len(p.resources) >= p.cfg.MaxResources {
			victim := p.lruIdleLocked()
			if victim == nil {
				metrics.RecordAcquireWait()
				if err := p.waitLocked(ctx, toClose); err != nil {
					return nil, err
				}
				continue
			}
			delete(p.resources, victim.key)
			toClose = append(toClose, victim)
			metrics.RecordEviction("lru")
			p.logger.Info().
				Str("event", "pool.resource_evicted").
				Str(log.FieldResourceKey, victim.key).
				Str("reason", "lru").
				Msg("evicted least recently used camera resource")
		}

		placeholder := &resource{key: t.Key, url: t.URL, selector: t.FrameSelector, busy: true, creating: true}
		p.resources[t.Key] = placeholder
		p.lastActivity = p.now()
		p.updateGaugesLocked()
		p.mu.Unlock()

		p.closeAll(toClose)
		return p.fill(ctx, placeholder, t)
	}
}

// waitLocked releases the mutex, closes the already detached stale resources
// and blocks until the next release broadcast.
func (p *Pool) waitLocked(ctx context.Context, stale []*resource) error {
	ch := p.released
	p.mu.Unlock()
	p.closeAll(stale)
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// broadcastLocked wakes every goroutine blocked in waitLocked.
func (p *Pool) broadcastLocked() {
	close(p.released)
	p.released = make(chan struct{})
}

// fill creates the surface for a reserved placeholder.
func (p *Pool) fill(ctx context.Context, placeholder *resource, t Target) (*Lease, error) {
	surface, err := p.create(ctx, t)

	p.mu.Lock()
	current, stillReserved := p.resources[t.Key]
	stillReserved = stillReserved && current == placeholder
	if err != nil || p.closed || !stillReserved {
		if stillReserved {
			delete(p.resources, t.Key)
		}
		closed := p.closed
		p.updateGaugesLocked()
		p.broadcastLocked()
		p.mu.Unlock()

		if surface != nil {
			p.closeSurface(t.Key, surface)
		}
		switch {
		case err != nil:
			return nil, err
		case closed:
			return nil, ErrClosed
		default:
			return nil, fmt.Errorf("%w: session lost while creating %s", ErrResource, t.Key)
		}
	}

	now := p.now()
	placeholder.surface = surface
	placeholder.creating = false
	placeholder.createdAt = now
	placeholder.lastUsed = now
	p.lastActivity = now
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.logger.Info().
		Str("event", "pool.resource_created").
		Str(log.FieldResourceKey, t.Key).
		Str(log.FieldPlayerURL, platformnet.SanitizeURL(t.URL)).
		Msg("camera resource ready")
	return &Lease{pool: p, res: placeholder}, nil
}

// create opens a tab on the shared session and loads the player page.
func (p *Pool) create(ctx context.Context, t Target) (render.Surface, error) {
	browser, err := p.session(ctx)
	if err != nil {
		return nil, err
	}

	surface, err := browser.NewSurface(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: open surface: %w", ErrResource, err)
	}

	navCtx, cancel := context.WithTimeout(ctx, p.cfg.NavigationTimeout)
	navErr := surface.Navigate(navCtx, t.URL)
	cancel()
	if navErr != nil {
		if ctx.Err() != nil {
			return surface, ctx.Err()
		}
		if surface.Closed() {
			return surface, fmt.Errorf("%w: surface closed during navigation: %w", ErrResource, navErr)
		}
		p.logger.Warn().
			Err(fmt.Errorf("%w: %w", ErrNavigation, navErr)).
			Str("event", "pool.navigation_ignored").
			Str(log.FieldResourceKey, t.Key).
			Str(log.FieldPlayerURL, platformnet.SanitizeURL(t.URL)).
			Msg("navigation failed, continuing with partially loaded page")
	}

	if err := sleepCtx(ctx, p.cfg.LoadSettle); err != nil {
		return surface, err
	}
	return surface, nil
}

// session returns the connected browser, launching it when needed. Concurrent
// launches collapse into one; each caller still honors its own ctx.
func (p *Pool) session(ctx context.Context) (render.Browser, error) {
	p.mu.Lock()
	if b := p.browser; b != nil && b.Connected() {
		p.mu.Unlock()
		return b, nil
	}
	p.mu.Unlock()

	ch := p.launches.DoChan("session", func() (any, error) {
		return p.launch()
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(render.Browser), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) launch() (render.Browser, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if b := p.browser; b != nil && b.Connected() {
		p.mu.Unlock()
		return b, nil
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.LaunchTimeout)
	defer cancel()

	start := time.Now()
	b, err := p.engine.Launch(ctx, p.cfg.Launch)
	if err != nil {
		metrics.RecordSessionLaunch("error")
		p.logger.Error().
			Err(err).
			Str("event", "pool.session_launch_failed").
			Msg("failed to launch rendering session")
		return nil, fmt.Errorf("%w: launch session: %w", ErrResource, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = b.Close()
		return nil, ErrClosed
	}
	old := p.browser
	p.browser = b
	p.generation++
	gen := p.generation
	p.lastActivity = p.now()
	p.watchers.Add(1)
	p.mu.Unlock()

	go p.watch(b, gen)
	if old != nil {
		if err := old.Close(); err != nil {
			p.logger.Warn().Err(err).Str("event", "pool.session_close_ignored").Msg("failed to release previous session")
		}
	}

	metrics.RecordSessionLaunch("ok")
	metrics.SetSessionConnected(true)
	p.logger.Info().
		Str("event", "pool.session_launched").
		Dur("duration", time.Since(start)).
		Uint64("generation", gen).
		Msg("rendering session launched")
	return b, nil
}

// watch invalidates every resource when the session disconnects.
func (p *Pool) watch(b render.Browser, gen uint64) {
	defer p.watchers.Done()
	select {
	case <-b.Disconnected():
	case <-p.done:
		return
	}

	p.mu.Lock()
	if p.generation != gen || p.browser != b {
		p.mu.Unlock()
		return
	}
	p.browser = nil
	total := len(p.resources)
	idle := p.detachAllLocked()
	p.mu.Unlock()

	metrics.SetSessionConnected(false)
	p.logger.Warn().
		Str("event", "pool.session_lost").
		Int("resources", total).
		Msg("rendering session disconnected, invalidating all camera resources")
	for range total {
		metrics.RecordEviction("disconnect")
	}
	p.closeAll(idle)
	if err := b.Close(); err != nil {
		p.logger.Warn().Err(err).Str("event", "pool.session_close_ignored").Msg("failed to release lost session")
	}
}

// detachAllLocked removes every resource from the map and returns the idle ones.
// Busy resources are closed by their lease's Release.
func (p *Pool) detachAllLocked() []*resource {
	idle := make([]*resource, 0, len(p.resources))
	for key, res := range p.resources {
		if !res.busy {
			idle = append(idle, res)
		}
		delete(p.resources, key)
	}
	p.updateGaugesLocked()
	p.broadcastLocked()
	return idle
}

func (p *Pool) release(res *resource) {
	p.mu.Lock()
	res.busy = false
	now := p.now()
	res.lastUsed = now
	p.lastActivity = now

	var toClose []*resource
	current, ok := p.resources[res.key]
	switch {
	case !ok || current != res:
		toClose = append(toClose, res)
	case res.surface == nil || res.surface.Closed():
		delete(p.resources, res.key)
		toClose = append(toClose, res)
		metrics.RecordEviction("closed")
	}
	p.updateGaugesLocked()
	p.broadcastLocked()
	p.mu.Unlock()

	p.closeAll(toClose)
}

// staleLocked returns a non-empty reason when res cannot serve t.
func (p *Pool) staleLocked(res *resource, t Target) string {
	switch {
	case res.surface == nil || res.surface.Closed():
		return "closed"
	case p.browser == nil || !p.browser.Connected():
		return "disconnect"
	case res.url != t.URL:
		return "url_changed"
	case p.cfg.ResourceTTL > 0 && p.now().Sub(res.createdAt) >= p.cfg.ResourceTTL:
		return "ttl"
	}
	return ""
}

func (p *Pool) lruIdleLocked() *resource {
	var victim *resource
	for _, res := range p.resources {
		if res.busy {
			continue
		}
		if victim == nil || res.lastUsed.Before(victim.lastUsed) {
			victim = res
		}
	}
	return victim
}

func (p *Pool) updateGaugesLocked() {
	busy := 0
	for _, res := range p.resources {
		if res.busy {
			busy++
		}
	}
	metrics.SetPoolResources(busy, len(p.resources)-busy)
}

func (p *Pool) closeAll(list []*resource) {
	for _, res := range list {
		if res.surface != nil {
			p.closeSurface(res.key, res.surface)
		}
	}
}

func (p *Pool) closeSurface(key string, s render.Surface) {
	if err := s.Close(); err != nil {
		p.logger.Warn().
			Err(err).
			Str("event", "pool.close_ignored").
			Str(log.FieldResourceKey, key).
			Msg("failed to close surface")
	}
}

// SweepIdle closes every idle resource unused for at least idle and returns the
// number closed. Busy resources are never touched.
func (p *Pool) SweepIdle(idle time.Duration) int {
	p.mu.Lock()
	now := p.now()
	var toClose []*resource
	for key, res := range p.resources {
		if res.busy {
			continue
		}
		if now.Sub(res.lastUsed) >= idle || res.surface == nil || res.surface.Closed() {
			delete(p.resources, key)
			toClose = append(toClose, res)
		}
	}
	if len(toClose) > 0 {
		p.updateGaugesLocked()
		p.broadcastLocked()
	}
	p.mu.Unlock()

	for _, res := range toClose {
		metrics.RecordEviction("idle")
		p.logger.Info().
			Str("event", "pool.resource_reclaimed").
			Str(log.FieldResourceKey, res.key).
			Dur("idle", now.Sub(res.lastUsed)).
			Msg("closed idle camera resource")
	}
	p.closeAll(toClose)
	return len(toClose)
}

// SweepSession closes the rendering session when it owns no resources and has
// seen no activity for at least idle. It reports whether the session was closed.
func (p *Pool) SweepSession(idle time.Duration) bool {
	p.mu.Lock()
	b := p.browser
	if b == nil || len(p.resources) > 0 || p.now().Sub(p.lastActivity) < idle {
		p.mu.Unlock()
		return false
	}
	p.browser = nil
	p.generation++
	p.mu.Unlock()

	metrics.SetSessionConnected(false)
	p.logger.Info().
		Str("event", "pool.session_reclaimed").
		Msg("closed idle rendering session")
	if err := b.Close(); err != nil {
		p.logger.Warn().Err(err).Str("event", "pool.session_close_ignored").Msg("failed to close rendering session")
	}
	return true
}

// ResourceInfo is a point-in-time view of one resource.
type ResourceInfo struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Busy      bool      `json:"busy"`
	Creating  bool      `json:"creating,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

// Status is a point-in-time view of the pool.
type Status struct {
	Connected bool           `json:"connected"`
	Max       int            `json:"max"`
	Resources []ResourceInfo `json:"resources"`
}

// Snapshot returns the current pool state sorted by key.
func (p *Pool) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		Connected: p.browser != nil && p.browser.Connected(),
		Max:       p.cfg.MaxResources,
		Resources: make([]ResourceInfo, 0, len(p.resources)),
	}
	for _, res := range p.resources {
		st.Resources = append(st.Resources, ResourceInfo{
			Key:       res.key,
			URL:       res.url,
			Busy:      res.busy,
			Creating:  res.creating,
			CreatedAt: res.createdAt,
			LastUsed:  res.lastUsed,
		})
	}
	sort.Slice(st.Resources, func(i, j int) bool { return st.Resources[i].Key < st.Resources[j].Key })
	return st
}

// Prewarm creates resources for the given targets and releases them immediately.
func (p *Pool) Prewarm(ctx context.Context, targets []Target) error {
	var errs []error
	for _, t := range targets {
		lease, err := p.Acquire(ctx, t)
		if err != nil {
			errs = append(errs, fmt.Errorf("prewarm %s: %w", t.Key, err))
			continue
		}
		lease.Release()
	}
	return errors.Join(errs...)
}

// Close tears down every resource and the session. Leases still held are closed
// on Release.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	b := p.browser
	p.browser = nil
	idle := p.detachAllLocked()
	close(p.done)
	p.mu.Unlock()

	for range idle {
		metrics.RecordEviction("shutdown")
	}
	p.closeAll(idle)
	var err error
	if b != nil {
		err = b.Close()
	}
	p.watchers.Wait()
	metrics.SetSessionConnected(false)
	p.logger.Info().Str("event", "pool.closed").Msg("pool closed")
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
