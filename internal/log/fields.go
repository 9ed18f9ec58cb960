// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldCamera    = "camera"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStrategy  = "strategy"
	FieldAttempt   = "attempt"

	// Resource fields
	FieldResourceKey = "resource_key"
	FieldPlayerURL   = "player_url"

	// Path / URL fields
	FieldPath     = "path"
	FieldFile     = "file"
	FieldRelayURL = "relay_url"
)
