// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camshot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CAMSHOT_SAVE_DIR", t.TempDir())

	cfg, err := NewLoader("", "v-test").Load()
	require.NoError(t, err)

	assert.Equal(t, "v-test", cfg.Version)
	assert.Equal(t, DefaultListen, cfg.HTTP.Listen)
	assert.Equal(t, 1200*time.Millisecond, cfg.Capture.Settle)
	assert.Equal(t, 800*time.Millisecond, cfg.Browser.LoadSettle)
	assert.Equal(t, 85, cfg.Capture.Quality)
	assert.Equal(t, 1, cfg.Capture.Retries)
	assert.Equal(t, 500*time.Millisecond, cfg.Capture.RetryDelay)
	assert.Equal(t, "iframe", cfg.Capture.FrameSelector)
	assert.Equal(t, 1280, cfg.Browser.ViewportWidth)
	assert.Equal(t, 720, cfg.Browser.ViewportHeight)
	assert.Equal(t, RelayModeUpload, cfg.Relay.Mode)
	assert.Equal(t, "/shots", cfg.HTTP.PublicPrefix)
	assert.NotNil(t, cfg.Cameras)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	saveDir := t.TempDir()
	path := writeConfig(t, `
save_dir: `+saveDir+`
cameras:
  porch:
    url: http://cam.local/porch
    label: Porch
  garage:
    url: https://cam.local/garage
    frame_selector: "iframe#player"
capture:
  quality: 70
scheduler:
  wait_timeout: 10s
relay:
  url: http://dt.local:3000/api/recognize/upload
  mode: URL
http:
  public_prefix: media/
  public_base_url: http://camshot.local:8099/
`)

	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)

	require.Len(t, cfg.Cameras, 2)
	assert.Equal(t, CameraConfig{URL: "http://cam.local/porch", Label: "Porch"}, cfg.Cameras["porch"])
	assert.Equal(t, "iframe#player", cfg.Cameras["garage"].FrameSelector)
	assert.Equal(t, 70, cfg.Capture.Quality)
	assert.Equal(t, 1200*time.Millisecond, cfg.Capture.Settle, "unset keys keep defaults")
	assert.Equal(t, 10*time.Second, cfg.Scheduler.WaitTimeout)
	assert.Equal(t, RelayModeURL, cfg.Relay.Mode, "mode is normalized")
	assert.Equal(t, "/media", cfg.HTTP.PublicPrefix)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
save_dir: `+t.TempDir()+`
capture:
  quality: 70
cameras:
  porch:
    url: http://cam.local/porch
    label: Porch
`)
	t.Setenv("CAMSHOT_QUALITY", "60")
	t.Setenv("CAMSHOT_WAIT_TIMEOUT", "3s")
	t.Setenv("CAMSHOT_CAMERAS", "porch=http://cam.local/new, yard=http://cam.local/yard")

	l := NewLoader(path, "")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Capture.Quality)
	assert.Equal(t, 3*time.Second, cfg.Scheduler.WaitTimeout)
	assert.Equal(t, "http://cam.local/new", cfg.Cameras["porch"].URL)
	assert.Equal(t, "Porch", cfg.Cameras["porch"].Label, "env keeps file label")
	assert.Equal(t, "http://cam.local/yard", cfg.Cameras["yard"].URL)
	assert.Contains(t, l.ConsumedEnvKeys, "QUALITY")
}

func TestLoadInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("CAMSHOT_SAVE_DIR", t.TempDir())
	t.Setenv("CAMSHOT_RETRIES", "many")

	cfg, err := NewLoader("", "").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultRetries, cfg.Capture.Retries)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, `
capture:
  qualty: 70
`)
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownConfigField), err)
}

func TestLoadRejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "prewarm: true\n---\nprewarm: false\n")
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple documents")
}

func TestLoadEmptyFile(t *testing.T) {
	t.Setenv("CAMSHOT_SAVE_DIR", t.TempDir())
	path := writeConfig(t, "")
	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultQuality, cfg.Capture.Quality)
}
