// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package reclaimer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/camshot/internal/pool"
	"github.com/ManuGH/camshot/internal/render/rendertest"
)

type fakePool struct {
	mu       sync.Mutex
	calls    []string
	idle     int
	session  bool
	idleArgs []time.Duration
}

func (f *fakePool) SweepIdle(d time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "idle")
	f.idleArgs = append(f.idleArgs, d)
	return f.idle
}

func (f *fakePool) SweepSession(time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "session")
	return f.session
}

func (f *fakePool) sweeps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.idleArgs)
}

type fakeArtifacts struct {
	n   int
	err error
}

func (f fakeArtifacts) Sweep(context.Context, time.Duration) (int, error) { return f.n, f.err }

type fakeHistory struct {
	cutoff time.Time
}

func (f *fakeHistory) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

func TestSweepOnce(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &fakePool{idle: 2, session: true}
	h := &fakeHistory{}
	r := New(Config{
		ResourceIdle:      5 * time.Minute,
		SessionIdle:       10 * time.Minute,
		ArtifactRetention: 24 * time.Hour,
		Now:               func() time.Time { return now },
	}, p, fakeArtifacts{n: 4}, h)

	rep := r.SweepOnce(context.Background())
	assert.Equal(t, Report{Resources: 2, Session: true, Artifacts: 4, HistoryRows: 3}, rep)
	assert.Equal(t, []string{"idle", "session"}, p.calls)
	assert.Equal(t, []time.Duration{5 * time.Minute}, p.idleArgs)
	assert.Equal(t, now.Add(-24*time.Hour), h.cutoff)
}

func TestSweepFailuresDoNotStopPass(t *testing.T) {
	h := &fakeHistory{}
	r := New(Config{ArtifactRetention: time.Hour}, &fakePool{}, fakeArtifacts{n: 1, err: errors.New("permission denied")}, h)
	rep := r.SweepOnce(context.Background())
	assert.Equal(t, 1, rep.Artifacts)
	assert.Equal(t, int64(3), rep.HistoryRows)
}

func TestZeroThresholdsDisableSweeps(t *testing.T) {
	p := &fakePool{idle: 1, session: true}
	rep := New(Config{}, p, nil, nil).SweepOnce(context.Background())
	assert.Equal(t, Report{}, rep)
	assert.Empty(t, p.calls)
}

func TestRunTicksUntilCanceled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := &fakePool{}
	r := New(Config{Interval: 5 * time.Millisecond, ResourceIdle: time.Minute}, p, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return p.sweeps() >= 2 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRunDisabledReturnsImmediately(t *testing.T) {
	require.NoError(t, New(Config{}, &fakePool{}, nil, nil).Run(context.Background()))
}

// An idle surface and then the idle session are released against a real pool.
func TestReclaimsRealPool(t *testing.T) {
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	advance := func(d time.Duration) {
		mu.Lock()
		clock = clock.Add(d)
		mu.Unlock()
	}

	engine := rendertest.NewEngine()
	p := pool.New(engine, pool.Config{MaxResources: 2, ResourceTTL: time.Hour, NavigationTimeout: time.Second, Now: now})
	defer func() { _ = p.Close() }()

	lease, err := p.Acquire(context.Background(), pool.Target{Key: "door", URL: "http://cam.local/door"})
	require.NoError(t, err)

	r := New(Config{ResourceIdle: 5 * time.Minute, SessionIdle: 10 * time.Minute, Now: now}, p, nil, nil)

	advance(time.Hour)
	assert.Equal(t, Report{}, r.SweepOnce(context.Background()), "busy resources are never reclaimed")

	lease.Release()
	advance(6 * time.Minute)
	assert.Equal(t, Report{Resources: 1}, r.SweepOnce(context.Background()))
	assert.True(t, p.Snapshot().Connected)

	advance(5 * time.Minute)
	assert.Equal(t, Report{Session: true}, r.SweepOnce(context.Background()))
	assert.False(t, p.Snapshot().Connected)
	assert.Zero(t, engine.Browser().OpenSurfaces())
}
