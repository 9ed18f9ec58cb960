// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/camshot/internal/config"
	"github.com/ManuGH/camshot/internal/log"
)

type fakeManager struct {
	started  chan struct{}
	startErr error
	once     sync.Once
}

func newFakeManager() *fakeManager { return &fakeManager{started: make(chan struct{})} }

func (f *fakeManager) Start(ctx context.Context) error {
	f.once.Do(func() { close(f.started) })
	if f.startErr != nil {
		return f.startErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeManager) Shutdown(context.Context) error { return nil }
func (f *fakeManager) RegisterShutdownHook(string, ShutdownHook) {}
func (f *fakeManager) Addr() string { return "" }

type fakeCameras struct {
	mu      sync.Mutex
	cameras map[string]config.CameraConfig
	def     string
}

func (f *fakeCameras) UpdateCameras(c map[string]config.CameraConfig, def string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cameras, f.def = c, def
}

func (f *fakeCameras) get() (map[string]config.CameraConfig, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cameras, f.def
}

type funcRunner func(ctx context.Context) error

func (f funcRunner) Run(ctx context.Context) error { return f(ctx) }

func TestApp_RequiresManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil, nil, nil)
	assert.ErrorIs(t, app.Run(context.Background()), ErrMissingManager)
}

func TestApp_ReloadUpdatesCameras(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camshot.yaml")
	write := func(body string) {
		require.NoError(t, os.WriteFile(path, []byte("save_dir: "+dir+"\n"+body), 0o600))
	}
	write("cameras:\n  porch:\n    url: http://cam.local/a\n")

	loader := config.NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := config.NewConfigHolder(initial, loader)

	mgr := newFakeManager()
	cams := &fakeCameras{}
	app := NewApp(log.WithComponent("test"), mgr, holder, cams)
	app.reloadSignal = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	<-mgr.started

	write("cameras:\n  porch:\n    url: http://cam.local/b\n  yard:\n    url: http://cam.local/c\ncapture:\n  default_camera: yard\n")
	require.NoError(t, holder.Reload(context.Background()))

	require.Eventually(t, func() bool {
		c, def := cams.get()
		return len(c) == 2 && def == "yard"
	}, 5*time.Second, 10*time.Millisecond)
	c, _ := cams.get()
	assert.Equal(t, "http://cam.local/b", c["porch"].URL)

	cancel()
	assert.NoError(t, <-done)
}

func TestApp_RunnersDoNotStopDaemon(t *testing.T) {
	mgr := newFakeManager()
	app := NewApp(log.WithComponent("test"), mgr, nil, nil)

	var ran atomic.Int32
	app.AddRunner("intake", funcRunner(func(context.Context) error {
		ran.Add(1)
		return errors.New("stdin gone")
	}))
	app.AddRunner("reclaimer", funcRunner(func(ctx context.Context) error {
		ran.Add(1)
		<-ctx.Done()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return ran.Load() == 2 }, time.Second, 5*time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestApp_ManagerFailureStopsRunners(t *testing.T) {
	mgr := newFakeManager()
	mgr.startErr = errors.New("listen tcp: address already in use")
	app := NewApp(log.WithComponent("test"), mgr, nil, nil)

	stopped := make(chan struct{})
	app.AddRunner("reclaimer", funcRunner(func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	}))

	err := app.Run(context.Background())
	assert.EqualError(t, err, "listen tcp: address already in use")
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("runner was not stopped")
	}
}
