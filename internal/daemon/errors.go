// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

// Construction and lifecycle errors.
var (
	ErrMissingLogger     = errors.New("daemon: logger is required")
	ErrMissingAPIHandler = errors.New("daemon: api handler is required")
	ErrMissingManager    = errors.New("daemon: server manager is required")
	// ErrManagerNotStarted is returned by Shutdown before Start has bound the listener.
	ErrManagerNotStarted = errors.New("daemon: server not started")
)
