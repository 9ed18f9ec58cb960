// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the fully resolved runtime configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	Cameras map[string]CameraConfig `yaml:"cameras"`
	SaveDir string                  `yaml:"save_dir"`
	Prewarm bool                    `yaml:"prewarm"`

	HTTP      HTTPConfig      `yaml:"http"`
	Relay     RelayConfig     `yaml:"relay"`
	Browser   BrowserConfig   `yaml:"browser"`
	Capture   CaptureConfig   `yaml:"capture"`
	Pool      PoolConfig      `yaml:"pool"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Reclaim   ReclaimConfig   `yaml:"reclaim"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Stdin     StdinConfig     `yaml:"stdin"`
	Log       LogConfig       `yaml:"log"`
}

// CameraConfig describes one named camera.
type CameraConfig struct {
	URL           string `yaml:"url"`
	FrameSelector string `yaml:"frame_selector,omitempty"`
	Label         string `yaml:"label,omitempty"`
}

// HTTPConfig configures the inbound HTTP surface.
type HTTPConfig struct {
	Listen          string          `yaml:"listen"`
	PublicBaseURL   string          `yaml:"public_base_url"`
	PublicPrefix    string          `yaml:"public_prefix"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds /capture requests per client IP.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// Relay transport modes.
const (
	RelayModeUpload = "upload"
	RelayModeURL    = "url"
)

// RelayConfig configures the recognition service client. An empty URL disables relaying.
type RelayConfig struct {
	URL              string        `yaml:"url"`
	Mode             string        `yaml:"mode"`
	Timeout          time.Duration `yaml:"timeout"`
	Persist          bool          `yaml:"persist"`
	RatePerSecond    float64       `yaml:"rate_per_second"`
	Burst            int           `yaml:"burst"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// BrowserConfig configures the shared rendering session.
type BrowserConfig struct {
	ExecPath          string        `yaml:"exec_path"`
	Headless          bool          `yaml:"headless"`
	NoSandbox         bool          `yaml:"no_sandbox"`
	ViewportWidth     int           `yaml:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	LoadSettle        time.Duration `yaml:"load_settle"`
	ExtraFlags        []string      `yaml:"extra_flags"`
}

// CaptureConfig configures the frame extraction pipeline.
type CaptureConfig struct {
	Settle        time.Duration `yaml:"settle"`
	Quality       int           `yaml:"quality"`
	Retries       int           `yaml:"retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	FrameSelector string        `yaml:"frame_selector"`
	DefaultCamera string        `yaml:"default_camera"`
}

// PoolConfig bounds the set of live camera resources.
type PoolConfig struct {
	MaxResources int           `yaml:"max_resources"`
	ResourceTTL  time.Duration `yaml:"resource_ttl"`
}

// SchedulerConfig configures job admission.
type SchedulerConfig struct {
	MaxConcurrent     int           `yaml:"max_concurrent"`
	MaxQueuePerCamera int           `yaml:"max_queue_per_camera"`
	WaitTimeout       time.Duration `yaml:"wait_timeout"`
}

// ReclaimConfig configures the background idle reclaimer.
type ReclaimConfig struct {
	Interval          time.Duration `yaml:"interval"`
	ResourceIdle      time.Duration `yaml:"resource_idle"`
	SessionIdle       time.Duration `yaml:"session_idle"`
	ArtifactRetention time.Duration `yaml:"artifact_retention"`
}

// HistoryConfig configures the capture history store. An empty path disables it.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// StdinConfig enables newline-delimited JSON capture requests on standard input.
type StdinConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Camera returns the named camera and whether it exists.
func (c AppConfig) Camera(name string) (CameraConfig, bool) {
	cam, ok := c.Cameras[name]
	return cam, ok
}

// CameraNames returns the configured camera names (unsorted).
func (c AppConfig) CameraNames() []string {
	names := make([]string, 0, len(c.Cameras))
	for n := range c.Cameras {
		names = append(names, n)
	}
	return names
}
