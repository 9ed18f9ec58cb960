// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Default values. Capture timings and image settings match what worked against the
// common IP-camera web players.
const (
	DefaultListen         = "0.0.0.0:8099"
	DefaultSaveDir        = "/share/camshot"
	DefaultPublicPrefix   = "/shots"
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultQuality        = 85
	DefaultFrameSelector  = "iframe"
	DefaultRetries        = 1
)

// Defaults returns a configuration populated with default values only.
func Defaults() AppConfig {
	return AppConfig{
		Cameras: map[string]CameraConfig{},
		SaveDir: DefaultSaveDir,
		HTTP: HTTPConfig{
			Listen:          DefaultListen,
			PublicPrefix:    DefaultPublicPrefix,
			ShutdownTimeout: 15 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 120,
			},
		},
		Relay: RelayConfig{
			Mode:             RelayModeUpload,
			Timeout:          15 * time.Second,
			Persist:          true,
			RatePerSecond:    5,
			Burst:            5,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:          true,
			NoSandbox:         true,
			ViewportWidth:     DefaultViewportWidth,
			ViewportHeight:    DefaultViewportHeight,
			NavigationTimeout: 60 * time.Second,
			LoadSettle:        800 * time.Millisecond,
		},
		Capture: CaptureConfig{
			Settle:        1200 * time.Millisecond,
			Quality:       DefaultQuality,
			Retries:       DefaultRetries,
			RetryDelay:    500 * time.Millisecond,
			FrameSelector: DefaultFrameSelector,
		},
		Pool: PoolConfig{
			MaxResources: 4,
			ResourceTTL:  30 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent:     2,
			MaxQueuePerCamera: 8,
			WaitTimeout:       30 * time.Second,
		},
		Reclaim: ReclaimConfig{
			Interval:          30 * time.Second,
			ResourceIdle:      5 * time.Minute,
			SessionIdle:       10 * time.Minute,
			ArtifactRetention: 7 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Log: LogConfig{Level: "info"},
	}
}
