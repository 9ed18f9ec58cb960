// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/ManuGH/camshot/internal/validate"
)

// Validate checks a resolved configuration and reports every problem at once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	names := cfg.CameraNames()
	sort.Strings(names)
	for _, name := range names {
		field := "cameras." + name
		v.Identifier(field, name)
		v.PlayerURL(field+".url", cfg.Cameras[name].URL)
	}
	if cfg.Capture.DefaultCamera != "" {
		if _, ok := cfg.Cameras[cfg.Capture.DefaultCamera]; !ok {
			v.AddError("capture.default_camera", "not a configured camera", cfg.Capture.DefaultCamera)
		}
	}

	v.Directory("save_dir", cfg.SaveDir, false)

	validateListen(v, cfg.HTTP.Listen)
	v.OptionalURL("http.public_base_url", cfg.HTTP.PublicBaseURL, []string{"http", "https"})
	if cfg.HTTP.PublicPrefix == "/" {
		v.AddError("http.public_prefix", "prefix cannot be the root path", cfg.HTTP.PublicPrefix)
	}
	v.PositiveDuration("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	if cfg.HTTP.RateLimit.Enabled {
		v.Positive("http.rate_limit.requests_per_minute", cfg.HTTP.RateLimit.RequestsPerMinute)
	}

	v.OptionalURL("relay.url", cfg.Relay.URL, []string{"http", "https"})
	v.OneOf("relay.mode", cfg.Relay.Mode, []string{RelayModeUpload, RelayModeURL})
	v.PositiveDuration("relay.timeout", cfg.Relay.Timeout)
	if cfg.Relay.RatePerSecond < 0 {
		v.AddError("relay.rate_per_second", "cannot be negative", cfg.Relay.RatePerSecond)
	}
	v.NonNegative("relay.burst", cfg.Relay.Burst)
	v.NonNegative("relay.breaker_threshold", cfg.Relay.BreakerThreshold)
	if cfg.Relay.URL != "" && cfg.Relay.Mode == RelayModeURL && cfg.HTTP.PublicBaseURL == "" {
		v.AddError("http.public_base_url", "required when relay.mode is url", "")
	}

	v.Range("browser.viewport_width", cfg.Browser.ViewportWidth, 320, 7680)
	v.Range("browser.viewport_height", cfg.Browser.ViewportHeight, 240, 4320)
	v.PositiveDuration("browser.navigation_timeout", cfg.Browser.NavigationTimeout)
	v.DurationRange("browser.load_settle", cfg.Browser.LoadSettle, 0, time.Minute)

	v.DurationRange("capture.settle", cfg.Capture.Settle, 0, time.Minute)
	v.Range("capture.quality", cfg.Capture.Quality, 1, 100)
	v.Range("capture.retries", cfg.Capture.Retries, 0, 10)
	v.DurationRange("capture.retry_delay", cfg.Capture.RetryDelay, 0, time.Minute)
	v.NotEmpty("capture.frame_selector", cfg.Capture.FrameSelector)

	v.Range("pool.max_resources", cfg.Pool.MaxResources, 1, 64)
	v.PositiveDuration("pool.resource_ttl", cfg.Pool.ResourceTTL)

	v.Range("scheduler.max_concurrent", cfg.Scheduler.MaxConcurrent, 1, 64)
	v.Positive("scheduler.max_queue_per_camera", cfg.Scheduler.MaxQueuePerCamera)
	v.PositiveDuration("scheduler.wait_timeout", cfg.Scheduler.WaitTimeout)
	if cfg.Scheduler.MaxConcurrent > cfg.Pool.MaxResources {
		v.AddError("scheduler.max_concurrent",
			fmt.Sprintf("cannot exceed pool.max_resources (%d)", cfg.Pool.MaxResources),
			cfg.Scheduler.MaxConcurrent)
	}

	v.PositiveDuration("reclaim.interval", cfg.Reclaim.Interval)
	v.PositiveDuration("reclaim.resource_idle", cfg.Reclaim.ResourceIdle)
	v.PositiveDuration("reclaim.session_idle", cfg.Reclaim.SessionIdle)
	if cfg.Reclaim.ArtifactRetention < 0 {
		v.AddError("reclaim.artifact_retention", "cannot be negative", cfg.Reclaim.ArtifactRetention)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.AddError("telemetry.sampling_rate", "must be between 0 and 1", cfg.Telemetry.SamplingRate)
		}
	}

	v.OneOf("log.level", cfg.Log.Level, []string{"trace", "debug", "info", "warn", "error"})

	return v.Err()
}

func validateListen(v *validate.Validator, listen string) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		v.AddError("http.listen", fmt.Sprintf("invalid listen address: %v", err), listen)
		return
	}
	if host != "" && net.ParseIP(host) == nil && host != "localhost" {
		v.AddError("http.listen", "host must be an IP address or localhost", listen)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		v.AddError("http.listen", "port is not a number", listen)
		return
	}
	v.Port("http.listen", p)
}
