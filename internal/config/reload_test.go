// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigHolderReloadNotifiesListeners(t *testing.T) {
	saveDir := t.TempDir()
	path := writeConfig(t, "save_dir: "+saveDir+"\ncameras:\n  porch:\n    url: http://cam.local/a\n")

	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewConfigHolder(initial, loader)
	ch := make(chan AppConfig, 1)
	holder.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("save_dir: "+saveDir+"\ncameras:\n  porch:\n    url: http://cam.local/b\n"), 0o600))
	require.NoError(t, holder.Reload(context.Background()))

	select {
	case got := <-ch:
		assert.Equal(t, "http://cam.local/b", got.Cameras["porch"].URL)
	default:
		t.Fatal("listener was not notified")
	}
	assert.Equal(t, "http://cam.local/b", holder.Get().Cameras["porch"].URL)
}

func TestConfigHolderReloadKeepsOldOnError(t *testing.T) {
	saveDir := t.TempDir()
	path := writeConfig(t, "save_dir: "+saveDir+"\n")

	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewConfigHolder(initial, loader)

	require.NoError(t, os.WriteFile(path, []byte("save_dir: "+saveDir+"\ncapture:\n  quality: 500\n"), 0o600))
	require.Error(t, holder.Reload(context.Background()))
	assert.Equal(t, DefaultQuality, holder.Get().Capture.Quality)
}

func TestConfigHolderWatcherReloadsOnWrite(t *testing.T) {
	saveDir := t.TempDir()
	path := writeConfig(t, "save_dir: "+saveDir+"\n")

	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewConfigHolder(initial, loader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, holder.StartWatcher(ctx))

	require.NoError(t, os.WriteFile(path, []byte("save_dir: "+saveDir+"\ncapture:\n  quality: 42\n"), 0o600))

	require.Eventually(t, func() bool {
		return holder.Get().Capture.Quality == 42
	}, 5*time.Second, 50*time.Millisecond)
}

func TestConfigHolderWatcherDisabledWithoutFile(t *testing.T) {
	holder := NewConfigHolder(Defaults(), NewLoader("", ""))
	assert.NoError(t, holder.StartWatcher(context.Background()))
	holder.Stop()
}
