// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across spans.
const (
	CameraKey    = "camera.name"
	PlayerURLKey = "camera.player_url"

	CaptureStrategyKey = "capture.strategy"
	CaptureAttemptsKey = "capture.attempts"
	CaptureBytesKey    = "capture.bytes"

	JobIDKey   = "job.id"
	JobKindKey = "job.error_kind"

	RelayModeKey   = "relay.mode"
	RelayStatusKey = "relay.status_code"
)

// CameraAttributes describes the capture target.
func CameraAttributes(camera, playerURL string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CameraKey, camera),
		attribute.String(PlayerURLKey, playerURL),
	}
}

// CaptureAttributes describes a successful extraction.
func CaptureAttributes(strategy string, attempts, bytes int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CaptureStrategyKey, strategy),
		attribute.Int(CaptureAttemptsKey, attempts),
		attribute.Int(CaptureBytesKey, bytes),
	}
}

// RelayAttributes describes the relay call.
func RelayAttributes(mode string, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RelayModeKey, mode),
		attribute.Int(RelayStatusKey, status),
	}
}
