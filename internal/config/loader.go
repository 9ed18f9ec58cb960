// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path (may be empty).
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(EnvPrefix+key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(EnvPrefix+key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(EnvPrefix+key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(EnvPrefix+key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(EnvPrefix+key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults, then validates.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	normalize(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file on top of cfg with STRICT parsing.
// Keys absent from the file keep their current (default) value.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnv applies CAMSHOT_* overrides.
func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.SaveDir = l.envString("SAVE_DIR", cfg.SaveDir)
	cfg.Prewarm = l.envBool("PREWARM", cfg.Prewarm)

	cfg.HTTP.Listen = l.envString("LISTEN", cfg.HTTP.Listen)
	cfg.HTTP.PublicBaseURL = l.envString("PUBLIC_BASE_URL", cfg.HTTP.PublicBaseURL)
	cfg.HTTP.PublicPrefix = l.envString("PUBLIC_PREFIX", cfg.HTTP.PublicPrefix)
	cfg.HTTP.ShutdownTimeout = l.envDuration("SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout)
	cfg.HTTP.RateLimit.Enabled = l.envBool("RATE_LIMIT_ENABLED", cfg.HTTP.RateLimit.Enabled)
	cfg.HTTP.RateLimit.RequestsPerMinute = l.envInt("RATE_LIMIT_RPM", cfg.HTTP.RateLimit.RequestsPerMinute)

	cfg.Relay.URL = l.envString("RELAY_URL", cfg.Relay.URL)
	cfg.Relay.Mode = l.envString("RELAY_MODE", cfg.Relay.Mode)
	cfg.Relay.Timeout = l.envDuration("RELAY_TIMEOUT", cfg.Relay.Timeout)
	cfg.Relay.Persist = l.envBool("RELAY_PERSIST", cfg.Relay.Persist)
	cfg.Relay.RatePerSecond = l.envFloat("RELAY_RATE", cfg.Relay.RatePerSecond)
	cfg.Relay.Burst = l.envInt("RELAY_BURST", cfg.Relay.Burst)
	cfg.Relay.BreakerThreshold = l.envInt("RELAY_BREAKER_THRESHOLD", cfg.Relay.BreakerThreshold)
	cfg.Relay.BreakerCooldown = l.envDuration("RELAY_BREAKER_COOLDOWN", cfg.Relay.BreakerCooldown)

	cfg.Browser.ExecPath = l.envString("BROWSER_PATH", cfg.Browser.ExecPath)
	cfg.Browser.Headless = l.envBool("BROWSER_HEADLESS", cfg.Browser.Headless)
	cfg.Browser.NoSandbox = l.envBool("BROWSER_NO_SANDBOX", cfg.Browser.NoSandbox)
	cfg.Browser.ViewportWidth = l.envInt("VIEWPORT_WIDTH", cfg.Browser.ViewportWidth)
	cfg.Browser.ViewportHeight = l.envInt("VIEWPORT_HEIGHT", cfg.Browser.ViewportHeight)
	cfg.Browser.NavigationTimeout = l.envDuration("NAVIGATION_TIMEOUT", cfg.Browser.NavigationTimeout)
	cfg.Browser.LoadSettle = l.envDuration("LOAD_SETTLE", cfg.Browser.LoadSettle)
	l.ConsumedEnvKeys["BROWSER_FLAGS"] = struct{}{}
	cfg.Browser.ExtraFlags = ParseList(EnvPrefix+"BROWSER_FLAGS", cfg.Browser.ExtraFlags)

	cfg.Capture.Settle = l.envDuration("SETTLE", cfg.Capture.Settle)
	cfg.Capture.Quality = l.envInt("QUALITY", cfg.Capture.Quality)
	cfg.Capture.Retries = l.envInt("RETRIES", cfg.Capture.Retries)
	cfg.Capture.RetryDelay = l.envDuration("RETRY_DELAY", cfg.Capture.RetryDelay)
	cfg.Capture.FrameSelector = l.envString("FRAME_SELECTOR", cfg.Capture.FrameSelector)
	cfg.Capture.DefaultCamera = l.envString("DEFAULT_CAMERA", cfg.Capture.DefaultCamera)

	cfg.Pool.MaxResources = l.envInt("MAX_RESOURCES", cfg.Pool.MaxResources)
	cfg.Pool.ResourceTTL = l.envDuration("RESOURCE_TTL", cfg.Pool.ResourceTTL)

	cfg.Scheduler.MaxConcurrent = l.envInt("MAX_CONCURRENT", cfg.Scheduler.MaxConcurrent)
	cfg.Scheduler.MaxQueuePerCamera = l.envInt("MAX_QUEUE_PER_CAMERA", cfg.Scheduler.MaxQueuePerCamera)
	cfg.Scheduler.WaitTimeout = l.envDuration("WAIT_TIMEOUT", cfg.Scheduler.WaitTimeout)

	cfg.Reclaim.Interval = l.envDuration("RECLAIM_INTERVAL", cfg.Reclaim.Interval)
	cfg.Reclaim.ResourceIdle = l.envDuration("RESOURCE_IDLE", cfg.Reclaim.ResourceIdle)
	cfg.Reclaim.SessionIdle = l.envDuration("SESSION_IDLE", cfg.Reclaim.SessionIdle)
	cfg.Reclaim.ArtifactRetention = l.envDuration("ARTIFACT_RETENTION", cfg.Reclaim.ArtifactRetention)

	cfg.History.Path = l.envString("HISTORY_PATH", cfg.History.Path)

	cfg.Telemetry.Enabled = l.envBool("TRACING_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("TRACING_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("TRACING_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("TRACING_SAMPLING_RATE", cfg.Telemetry.SamplingRate)

	cfg.Stdin.Enabled = l.envBool("STDIN", cfg.Stdin.Enabled)
	cfg.Log.Level = l.envString("LOG_LEVEL", cfg.Log.Level)

	l.mergeEnvCameras(cfg)
}

// mergeEnvCameras parses CAMSHOT_CAMERAS="name=url,name2=url2". Entries override
// file cameras of the same name and keep their selector and label.
func (l *Loader) mergeEnvCameras(cfg *AppConfig) {
	l.ConsumedEnvKeys["CAMERAS"] = struct{}{}
	for _, item := range ParseList(EnvPrefix+"CAMERAS", nil) {
		name, url, ok := strings.Cut(item, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			logger := envLogger()
			logger.Warn().
				Str("event", "config.env_camera_invalid").
				Str("entry", item).
				Msg("ignoring malformed camera entry, expected name=url")
			continue
		}
		if cfg.Cameras == nil {
			cfg.Cameras = map[string]CameraConfig{}
		}
		cam := cfg.Cameras[name]
		cam.URL = url
		cfg.Cameras[name] = cam
	}
}

// normalize fills derived values that depend on more than one key.
func normalize(cfg *AppConfig) {
	if cfg.Cameras == nil {
		cfg.Cameras = map[string]CameraConfig{}
	}
	cfg.Relay.Mode = strings.ToLower(strings.TrimSpace(cfg.Relay.Mode))
	if cfg.Relay.Mode == "" {
		cfg.Relay.Mode = RelayModeUpload
	}
	cfg.HTTP.PublicPrefix = "/" + strings.Trim(cfg.HTTP.PublicPrefix, "/")
	cfg.HTTP.PublicBaseURL = strings.TrimRight(cfg.HTTP.PublicBaseURL, "/")
	if cfg.SaveDir != "" {
		if abs, err := filepath.Abs(cfg.SaveDir); err == nil {
			cfg.SaveDir = abs
		}
	}
}
